package storage

import (
	"context"
	"errors"
	"time"

	"serverguard/internal/cache"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

type Store struct {
	db       *gorm.DB
	cfgCache *cache.Cache[GuildConfig]
}

// New opens the SQLite store. Guild config reads are served through a
// short-TTL cache invalidated on every write.
func New(dbPath string, configTTL time.Duration) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// The pool would otherwise hand out connections with their own
		// empty in-memory databases.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if configTTL <= 0 {
		configTTL = 30 * time.Second
	}
	return &Store{
		db:       db,
		cfgCache: cache.NewWithInterval[GuildConfig](configTTL, time.Second),
	}, nil
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&GuildConfig{},
		&StatusRecord{},
		&PermissionCache{},
		&SharedCacheEntry{},
		&ModerationEvent{},
		&XPProfile{},
	)
}

func (s *Store) Close() {
	s.cfgCache.Close()
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// GuildConfig returns the stored config for guildID, or defaults when
// no row exists. A missing row is not an error. Callers get their own
// copy of the slice and map fields: handlers run concurrently and must
// never share backing arrays with the cached entry.
func (s *Store) GuildConfig(ctx context.Context, guildID string, defaults GuildConfig) (GuildConfig, error) {
	if cached, ok := s.cfgCache.Get(guildID); ok {
		return cloneGuildConfig(cached), nil
	}

	var cfg GuildConfig
	err := s.db.WithContext(ctx).First(&cfg, "guild_id = ?", guildID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			defaults.GuildID = guildID
			return cloneGuildConfig(defaults), nil
		}
		return GuildConfig{}, err
	}
	s.cfgCache.Set(guildID, cfg)
	return cloneGuildConfig(cfg), nil
}

func cloneGuildConfig(cfg GuildConfig) GuildConfig {
	out := cfg
	if cfg.WordBlacklist != nil {
		out.WordBlacklist = append([]string(nil), cfg.WordBlacklist...)
	}
	if cfg.TrustedRoles != nil {
		out.TrustedRoles = append([]string(nil), cfg.TrustedRoles...)
	}
	if cfg.RoleLevels != nil {
		out.RoleLevels = make(map[string]int, len(cfg.RoleLevels))
		for k, v := range cfg.RoleLevels {
			out.RoleLevels[k] = v
		}
	}
	if cfg.Extra != nil {
		out.Extra = make(map[string]string, len(cfg.Extra))
		for k, v := range cfg.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func (s *Store) SaveGuildConfig(ctx context.Context, cfg GuildConfig) error {
	if err := s.db.WithContext(ctx).Save(&cfg).Error; err != nil {
		return err
	}
	s.cfgCache.Remove(cfg.GuildID)
	return nil
}

func (s *Store) InvalidateGuildConfig(guildID string) {
	s.cfgCache.Remove(guildID)
}

func (s *Store) PermissionLevel(ctx context.Context, guildID, userID string) (int, bool, error) {
	var row PermissionCache
	err := s.db.WithContext(ctx).First(&row, "guild_id = ? AND user_id = ?", guildID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return row.Level, true, nil
}

func (s *Store) SavePermissionLevel(ctx context.Context, guildID, userID string, level int) error {
	row := PermissionCache{GuildID: guildID, UserID: userID, Level: level, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) DropPermissionLevel(ctx context.Context, guildID, userID string) error {
	return s.db.WithContext(ctx).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Delete(&PermissionCache{}).Error
}

func (s *Store) AddModerationEvent(ctx context.Context, event ModerationEvent) error {
	return s.db.WithContext(ctx).Create(&event).Error
}

func (s *Store) ListModerationEvents(ctx context.Context, guildID string, since time.Time) ([]ModerationEvent, error) {
	var events []ModerationEvent
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND created_at >= ?", guildID, since).
		Order("created_at DESC").
		Find(&events).Error
	return events, err
}

func (s *Store) XPProfile(ctx context.Context, guildID, userID string) (XPProfile, error) {
	var profile XPProfile
	err := s.db.WithContext(ctx).First(&profile, "guild_id = ? AND user_id = ?", guildID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return XPProfile{GuildID: guildID, UserID: userID}, nil
		}
		return XPProfile{}, err
	}
	return profile, nil
}

func (s *Store) SaveXPProfile(ctx context.Context, profile XPProfile) error {
	profile.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(&profile).Error
}

// Shared cache backend (cache.SharedBackend).

func (s *Store) PutShared(ctx context.Context, key, value string, expiresAt time.Time) error {
	row := SharedCacheEntry{Key: key, Value: value, ExpiresAt: expiresAt}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) FetchShared(ctx context.Context, key string) (string, bool, error) {
	var row SharedCacheEntry
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return row.Value, true, nil
}

func (s *Store) DeleteShared(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&SharedCacheEntry{}).Error
}

func (s *Store) DeleteSharedExpired(ctx context.Context, now time.Time) error {
	return s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&SharedCacheEntry{}).Error
}
