package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken    string          `yaml:"discord_token"`
	DatabasePath    string          `yaml:"database_path"`
	LogLevel        string          `yaml:"log_level"`
	API             APIConfig       `yaml:"api"`
	Models          ModelConfig     `yaml:"models"`
	Blocklist       BlocklistConfig `yaml:"blocklist"`
	OAuth           OAuthConfig     `yaml:"oauth"`
	XP              XPConfig        `yaml:"xp"`
	GuildDefaults   GuildDefaults   `yaml:"guild_defaults"`
	ConfigCacheSecs int             `yaml:"config_cache_seconds"`
	FilterCacheSecs int             `yaml:"filter_cache_seconds"`
	SharedCacheSecs int             `yaml:"shared_cache_seconds"`
	SweepPageSize   int             `yaml:"sweep_page_size"`
}

type APIConfig struct {
	Addr         string `yaml:"addr"`
	SharedSecret string `yaml:"shared_secret"`
	JWTSecret    string `yaml:"jwt_secret"`
	AccessTTLMin int    `yaml:"access_ttl_minutes"`
	RefreshTTLHr int    `yaml:"refresh_ttl_hours"`
}

type ModelConfig struct {
	ToxicityPath   string `yaml:"toxicity_path"`
	HateSpeechPath string `yaml:"hate_speech_path"`
}

type BlocklistConfig struct {
	FeedURL          string `yaml:"feed_url"`
	RefreshMinutes   int    `yaml:"refresh_minutes"`
	FetchTimeoutSecs int    `yaml:"fetch_timeout_seconds"`
}

type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

type XPConfig struct {
	PerMessage   int `yaml:"per_message"`
	CooldownSecs int `yaml:"cooldown_seconds"`
}

// GuildDefaults seed the settings served for guilds that never wrote a
// config row.
type GuildDefaults struct {
	SpamLimit           int  `yaml:"spam_limit"`
	AutomodDuplicate    bool `yaml:"automod_duplicate"`
	URLFilter           bool `yaml:"url_filter"`
	InviteFilter        bool `yaml:"invite_filter"`
	ToxicityThreshold   int  `yaml:"toxicity_threshold"`
	HateSpeechThreshold int  `yaml:"hate_speech_threshold"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:    "/data/serverguard.db",
		LogLevel:        "info",
		ConfigCacheSecs: 30,
		FilterCacheSecs: 600,
		SharedCacheSecs: 300,
		SweepPageSize:   100,
		API: APIConfig{
			Addr:         ":8080",
			AccessTTLMin: 15,
			RefreshTTLHr: 24 * 14,
		},
		Models: ModelConfig{
			ToxicityPath:   "/models/toxicity.json",
			HateSpeechPath: "/models/hate_speech.json",
		},
		Blocklist: BlocklistConfig{
			FeedURL:          "https://urlhaus.abuse.ch/downloads/csv_recent/",
			RefreshMinutes:   10,
			FetchTimeoutSecs: 20,
		},
		XP: XPConfig{PerMessage: 15, CooldownSecs: 60},
		GuildDefaults: GuildDefaults{
			URLFilter:    true,
			InviteFilter: true,
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// LoadBot validates the fields the bot process cannot run without.
func LoadBot() (Config, error) {
	cfg, err := Load()
	if err != nil {
		return Config{}, err
	}
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	return cfg, nil
}

// LoadAPI validates the secrets the web process must refuse to start
// without: an empty shared secret or JWT secret would let any client
// execute privileged operations.
func LoadAPI() (Config, error) {
	cfg, err := Load()
	if err != nil {
		return Config{}, err
	}
	if cfg.API.SharedSecret == "" {
		return Config{}, errors.New("API_SHARED_SECRET is required")
	}
	if cfg.API.JWTSecret == "" {
		return Config{}, errors.New("API_JWT_SECRET is required")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.API.Addr = envString("API_ADDR", cfg.API.Addr)
	cfg.API.SharedSecret = envString("API_SHARED_SECRET", cfg.API.SharedSecret)
	cfg.API.JWTSecret = envString("API_JWT_SECRET", cfg.API.JWTSecret)
	cfg.API.AccessTTLMin = envInt("API_ACCESS_TTL_MINUTES", cfg.API.AccessTTLMin)
	cfg.API.RefreshTTLHr = envInt("API_REFRESH_TTL_HOURS", cfg.API.RefreshTTLHr)
	cfg.Models.ToxicityPath = envString("TOXICITY_MODEL_PATH", cfg.Models.ToxicityPath)
	cfg.Models.HateSpeechPath = envString("HATE_SPEECH_MODEL_PATH", cfg.Models.HateSpeechPath)
	cfg.Blocklist.FeedURL = envString("BLOCKLIST_FEED_URL", cfg.Blocklist.FeedURL)
	cfg.Blocklist.RefreshMinutes = envInt("BLOCKLIST_REFRESH_MINUTES", cfg.Blocklist.RefreshMinutes)
	cfg.OAuth.ClientID = envString("OAUTH_CLIENT_ID", cfg.OAuth.ClientID)
	cfg.OAuth.ClientSecret = envString("OAUTH_CLIENT_SECRET", cfg.OAuth.ClientSecret)
	cfg.OAuth.RedirectURL = envString("OAUTH_REDIRECT_URL", cfg.OAuth.RedirectURL)
	cfg.XP.PerMessage = envInt("XP_PER_MESSAGE", cfg.XP.PerMessage)
	cfg.XP.CooldownSecs = envInt("XP_COOLDOWN_SECONDS", cfg.XP.CooldownSecs)
	cfg.SweepPageSize = envInt("SWEEP_PAGE_SIZE", cfg.SweepPageSize)
	cfg.GuildDefaults.SpamLimit = envInt("DEFAULT_SPAM_LIMIT", cfg.GuildDefaults.SpamLimit)
	cfg.GuildDefaults.AutomodDuplicate = envBool("DEFAULT_AUTOMOD_DUPLICATE", cfg.GuildDefaults.AutomodDuplicate)
	cfg.GuildDefaults.URLFilter = envBool("DEFAULT_URL_FILTER", cfg.GuildDefaults.URLFilter)
	cfg.GuildDefaults.InviteFilter = envBool("DEFAULT_INVITE_FILTER", cfg.GuildDefaults.InviteFilter)
	cfg.GuildDefaults.ToxicityThreshold = envInt("DEFAULT_TOXICITY_THRESHOLD", cfg.GuildDefaults.ToxicityThreshold)
	cfg.GuildDefaults.HateSpeechThreshold = envInt("DEFAULT_HATE_SPEECH_THRESHOLD", cfg.GuildDefaults.HateSpeechThreshold)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
