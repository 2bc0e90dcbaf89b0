package bot

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"serverguard/internal/audit"
	"serverguard/internal/config"
	"serverguard/internal/filter"
	"serverguard/internal/perms"
	"serverguard/internal/raid"
	"serverguard/internal/status"
	"serverguard/internal/storage"
	"serverguard/internal/xp"
)

// raidBatchSize is the number of joins scored together; a partial
// batch is flushed after raidBatchWindow.
const (
	raidBatchSize   = 10
	raidBatchWindow = time.Minute
)

// chatActions is the slice of the session the event handlers drive:
// message and thread removal, channel posts and DMs. Handlers never
// touch the session for these directly.
type chatActions interface {
	DeleteMessage(channelID, messageID string) error
	DeleteChannel(channelID string) error
	SendMessage(channelID, content string) error
	DirectMessage(userID, content string) error
}

type sessionChat struct {
	session *discordgo.Session
}

func (c sessionChat) DeleteMessage(channelID, messageID string) error {
	return c.session.ChannelMessageDelete(channelID, messageID)
}

func (c sessionChat) DeleteChannel(channelID string) error {
	_, err := c.session.ChannelDelete(channelID)
	return err
}

func (c sessionChat) SendMessage(channelID, content string) error {
	_, err := c.session.ChannelMessageSend(channelID, content)
	return err
}

func (c sessionChat) DirectMessage(userID, content string) error {
	channel, err := c.session.UserChannelCreate(userID)
	if err != nil {
		return err
	}
	_, err = c.session.ChannelMessageSend(channel.ID, content)
	return err
}

type Bot struct {
	cfg      config.Config
	defaults storage.GuildConfig
	logger   *zap.Logger
	session  *discordgo.Session
	chat     chatActions

	store    *storage.Store
	pipeline *filter.Pipeline
	spam     *filter.Tracker
	statuses *status.Service
	perms    *perms.Resolver
	xp       *xp.Service
	audit    *audit.Trail

	joinMu      sync.Mutex
	joinBatches map[string][]raid.User
	joinTimers  map[string]*time.Timer
}

func New(
	cfg config.Config,
	defaults storage.GuildConfig,
	logger *zap.Logger,
	store *storage.Store,
	pipeline *filter.Pipeline,
	spam *filter.Tracker,
	xpService *xp.Service,
	auditTrail *audit.Trail,
) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsMessageContent

	b := &Bot{
		cfg:         cfg,
		defaults:    defaults,
		logger:      logger,
		session:     session,
		chat:        sessionChat{session: session},
		store:       store,
		pipeline:    pipeline,
		spam:        spam,
		xp:          xpService,
		audit:       auditTrail,
		joinBatches: make(map[string][]raid.User),
		joinTimers:  make(map[string]*time.Timer),
	}
	b.statuses = status.NewService(store, b, b, cfg.SweepPageSize, logger)
	b.perms = perms.NewResolver(store, b, logger)
	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onThreadCreate)
	b.session.AddHandler(b.onThreadUpdate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}
	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	b.joinMu.Lock()
	for _, timer := range b.joinTimers {
		timer.Stop()
	}
	b.joinMu.Unlock()
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
}

// guildConfig fetches per-guild settings, falling back to the process
// defaults on error; a config hiccup must not disable moderation.
func (b *Bot) guildConfig(ctx context.Context, guildID string) storage.GuildConfig {
	cfg, err := b.store.GuildConfig(ctx, guildID, b.defaults)
	if err != nil {
		b.logger.Warn("guild config read failed, using defaults",
			zap.String("guild", guildID), zap.Error(err))
		cfg = b.defaults
		cfg.GuildID = guildID
	}
	return cfg
}

// GuildConfig implements status.ConfigSource.
func (b *Bot) GuildConfig(ctx context.Context, guildID string) (storage.GuildConfig, error) {
	return b.store.GuildConfig(ctx, guildID, b.defaults)
}

// Platform actions for the ledger sweep.

func (b *Bot) Unban(guildID, userID string) error {
	return b.session.GuildBanDelete(guildID, userID)
}

func (b *Bot) RemoveRole(guildID, userID, roleID string) error {
	return b.session.GuildMemberRoleRemove(guildID, userID, roleID)
}

func (b *Bot) SendChannelMessage(channelID, content string) error {
	return b.chat.SendMessage(channelID, content)
}

// Notify implements audit.Notifier.
func (b *Bot) Notify(guildID, channelID, content string) error {
	_ = guildID
	return b.SendChannelMessage(channelID, content)
}

// Member implements perms.GuildDirectory over the live session state.
func (b *Bot) Member(ctx context.Context, guildID, userID string) (perms.Member, error) {
	_ = ctx
	member, err := b.session.State.Member(guildID, userID)
	if err != nil {
		member, err = b.session.GuildMember(guildID, userID)
		if err != nil {
			return perms.Member{}, err
		}
	}

	guild, err := b.session.State.Guild(guildID)
	if err != nil {
		guild, err = b.session.Guild(guildID)
		if err != nil {
			return perms.Member{}, err
		}
	}

	out := perms.Member{
		UserID:  userID,
		RoleIDs: member.Roles,
		IsOwner: guild.OwnerID == userID,
	}
	rolePerms := make(map[string]int64, len(guild.Roles))
	for _, role := range guild.Roles {
		rolePerms[role.ID] = role.Permissions
	}
	for _, roleID := range member.Roles {
		if p := rolePerms[roleID]; p&(discordgo.PermissionManageServer|discordgo.PermissionAdministrator) != 0 {
			out.CanManage = true
			break
		}
	}
	return out, nil
}
