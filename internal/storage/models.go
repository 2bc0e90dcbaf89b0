package storage

import "time"

// GuildConfig holds the per-guild moderation settings. The well-known
// settings are typed columns; Extra carries unstructured extension data
// (cached external ids and the like) that has no schema of its own.
type GuildConfig struct {
	GuildID              string            `gorm:"primaryKey" json:"guild_id"`
	SpamLimit            int               `json:"spam_limit"`
	AutomodDuplicate     bool              `json:"automod_duplicate"`
	URLFilter            bool              `json:"url_filter"`
	InviteFilter         bool              `json:"invite_filter"`
	ToxicityThreshold    int               `json:"toxicity_threshold"`
	HateSpeechThreshold  int               `json:"hate_speech_threshold"`
	WordBlacklist        []string          `gorm:"serializer:json" json:"word_blacklist"`
	LogChannel           string            `json:"log_channel"`
	AutomodLogChannel    string            `json:"automod_log_channel"`
	MessageLogChannel    string            `json:"message_log_channel"`
	TrafficLogChannel    string            `json:"traffic_log_channel"`
	MuteRoleID           string            `json:"mute_role_id"`
	VerifiedRoleID       string            `json:"verified_role_id"`
	TrustedRoles         []string          `gorm:"serializer:json" json:"trusted_roles"`
	RoleLevels           map[string]int    `gorm:"serializer:json" json:"role_levels"`
	BlockUntrustedImages bool              `json:"block_untrusted_images"`
	Extra                map[string]string `gorm:"serializer:json" json:"extra"`
	UpdatedAt            time.Time         `json:"-"`
}

// Status record types.
const (
	StatusWarning  = "warning"
	StatusMute     = "mute"
	StatusBan      = "ban"
	StatusReminder = "reminder"
)

// StatusRecord is one outstanding enforcement action or reminder. The
// id is {guild_id}/{user_id}/{type}/{suffix}. A nil EndsAt means
// indefinite (warnings, permanent mutes). Rows are removed either by an
// explicit moderator action or by the expiry sweep.
type StatusRecord struct {
	ID          string `gorm:"primaryKey"`
	GuildID     string `gorm:"index:idx_status_scope"`
	UserID      string `gorm:"index:idx_status_scope"`
	Type        string `gorm:"index:idx_status_scope"`
	Reason      string
	IssuerID    string
	Description string
	ChannelID   string
	EndsAt      *time.Time `gorm:"index"`
	CreatedAt   time.Time
}

// PermissionCache is the persisted write-through cache of resolved
// permission levels, invalidated on bulk role updates.
type PermissionCache struct {
	GuildID   string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey"`
	Level     int
	UpdatedAt time.Time
}

// SharedCacheEntry backs the cross-process expiring cache.
type SharedCacheEntry struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	ExpiresAt time.Time `gorm:"index"`
}

// ModerationEvent is the persisted audit trail of filter verdicts,
// sweep actions and moderator commands.
type ModerationEvent struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	GuildID   string `gorm:"index"`
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

// XPProfile tracks leveling progress per guild member.
type XPProfile struct {
	GuildID   string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey"`
	XP        int64
	Level     int
	UpdatedAt time.Time
}
