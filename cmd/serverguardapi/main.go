package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"serverguard/internal/api"
	"serverguard/internal/auth"
	"serverguard/internal/cache"
	"serverguard/internal/config"
	"serverguard/internal/status"
	"serverguard/internal/storage"
	"serverguard/internal/verify"
)

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabasePath, time.Duration(cfg.ConfigCacheSecs)*time.Second)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	defaults := guildDefaults(cfg)

	// A REST-only session: the sweep reverses bans and roles without
	// joining the gateway. With no token configured, platform calls
	// fail and are swallowed per the sweep's failure policy.
	platform, err := newRESTPlatform(cfg.DiscordToken)
	if err != nil {
		logger.Fatal("platform client init failed", zap.Error(err))
	}

	statuses := status.NewService(store, platform,
		&configSource{store: store, defaults: defaults}, cfg.SweepPageSize, logger)

	shared := cache.NewShared(store, time.Duration(cfg.SharedCacheSecs)*time.Second)
	verifier := verify.NewService(shared, logger)
	issuer := auth.NewIssuer(cfg.API.JWTSecret,
		time.Duration(cfg.API.AccessTTLMin)*time.Minute,
		time.Duration(cfg.API.RefreshTTLHr)*time.Hour)
	login := api.NewLoginFlow(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret,
		cfg.OAuth.RedirectURL, shared, logger)

	server := api.NewServer(store, statuses, verifier, issuer, login,
		defaults, cfg.API.SharedSecret, logger)
	server.SetRoleGranter(platform)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Expired shared-cache rows (verification codes, login states) are
	// cleared on a short interval.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := shared.SweepExpired(ctx); err != nil {
					logger.Warn("shared cache sweep failed", zap.Error(err))
				}
			}
		}
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown requested")
		cancel()
	}()

	if err := server.Run(ctx, cfg.API.Addr); err != nil {
		logger.Fatal("api server failed", zap.Error(err))
	}
}

type configSource struct {
	store    *storage.Store
	defaults storage.GuildConfig
}

func (c *configSource) GuildConfig(ctx context.Context, guildID string) (storage.GuildConfig, error) {
	return c.store.GuildConfig(ctx, guildID, c.defaults)
}

type restPlatform struct {
	session *discordgo.Session
}

func newRESTPlatform(token string) (*restPlatform, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &restPlatform{session: session}, nil
}

func (p *restPlatform) Unban(guildID, userID string) error {
	return p.session.GuildBanDelete(guildID, userID)
}

func (p *restPlatform) RemoveRole(guildID, userID, roleID string) error {
	return p.session.GuildMemberRoleRemove(guildID, userID, roleID)
}

func (p *restPlatform) SendChannelMessage(channelID, content string) error {
	_, err := p.session.ChannelMessageSend(channelID, content)
	return err
}

func (p *restPlatform) AddRole(guildID, userID, roleID string) error {
	return p.session.GuildMemberRoleAdd(guildID, userID, roleID)
}

func guildDefaults(cfg config.Config) storage.GuildConfig {
	return storage.GuildConfig{
		SpamLimit:           cfg.GuildDefaults.SpamLimit,
		AutomodDuplicate:    cfg.GuildDefaults.AutomodDuplicate,
		URLFilter:           cfg.GuildDefaults.URLFilter,
		InviteFilter:        cfg.GuildDefaults.InviteFilter,
		ToxicityThreshold:   cfg.GuildDefaults.ToxicityThreshold,
		HateSpeechThreshold: cfg.GuildDefaults.HateSpeechThreshold,
	}
}
