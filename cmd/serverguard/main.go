package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"serverguard/internal/audit"
	"serverguard/internal/blocklist"
	"serverguard/internal/bot"
	"serverguard/internal/cache"
	"serverguard/internal/classifier"
	"serverguard/internal/config"
	"serverguard/internal/filter"
	"serverguard/internal/storage"
	"serverguard/internal/xp"
)

func main() {
	cfg, err := config.LoadBot()
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

	// Missing models are fatal: the pipeline cannot run without them.
	toxicity, err := classifier.LoadModel("toxicity", cfg.Models.ToxicityPath, logger)
	if err != nil {
		logger.Fatal("toxicity model load failed", zap.Error(err))
	}
	hateSpeech, err := classifier.LoadModel("hate_speech", cfg.Models.HateSpeechPath, logger)
	if err != nil {
		logger.Fatal("hate speech model load failed", zap.Error(err))
	}

	table := blocklist.New(cfg.Blocklist.FeedURL,
		time.Duration(cfg.Blocklist.FetchTimeoutSecs)*time.Second, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go table.Start(ctx, time.Duration(cfg.Blocklist.RefreshMinutes)*time.Minute)

	filters := cache.New[*classifier.WordFilter](time.Duration(cfg.FilterCacheSecs) * time.Second)
	defer filters.Close()
	pipeline := filter.NewPipeline(table, toxicity, hateSpeech, filters,
		filter.NewImageInspector(10*time.Second, logger), logger)

	spam := filter.NewTracker(10 * time.Second)
	defer spam.Close()

	xpService := xp.NewService(store, cfg.XP.PerMessage,
		time.Duration(cfg.XP.CooldownSecs)*time.Second, logger)
	defer xpService.Close()

	trail := audit.NewTrail(store, nil, logger)

	defaults := guildDefaults(cfg)
	botSvc, err := bot.New(cfg, defaults, logger, store, pipeline, spam, xpService, trail)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}
	trail.SetNotifier(botSvc)

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	botSvc.Close(shutdownCtx)
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
