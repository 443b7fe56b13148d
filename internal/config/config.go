package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for pillpald
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Channels ChannelsConfig `mapstructure:"channels"`
	Security SecurityConfig `mapstructure:"security"`

	mu      sync.Mutex
	watcher *viper.Viper
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// UpstreamConfig holds settings for the external dose store API
type UpstreamConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Timeout      int    `mapstructure:"timeout"`
	MaxFailures  int    `mapstructure:"max_failures"`
}

// EngineConfig holds evaluation thresholds. These are the knobs a deployment
// tunes most often, so they are hot-reloadable via Watch.
type EngineConfig struct {
	GraceMinutes     int `mapstructure:"grace_minutes"`
	EvalIntervalSecs int `mapstructure:"eval_interval_secs"`
	AckRatePerSec    int `mapstructure:"ack_rate_per_sec"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
}

// NotifyConfig holds local notification settings
type NotifyConfig struct {
	Permission string `mapstructure:"permission"`
	Chime      bool   `mapstructure:"chime"`
}

// ChannelsConfig holds caregiver escalation settings
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
}

// TelegramConfig holds Telegram escalation settings
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// DiscordConfig holds Discord escalation settings
type DiscordConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	JWTSecret    string   `mapstructure:"jwt_secret"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	configPath = expandPath(configPath)
	dataDir = expandPath(dataDir)
	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.Set("storage.sqlite_path", filepath.Join(dataDir, "pillpal.db"))
	v.Set("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "pillpal.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (PILLPAL_SERVER_PORT, PILLPAL_UPSTREAM_BASE_URL, etc.)
	v.SetEnvPrefix("PILLPAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	cfg.watcher = v
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	// Upstream defaults
	v.SetDefault("upstream.timeout", 10)
	v.SetDefault("upstream.max_failures", 5)

	// Engine defaults
	v.SetDefault("engine.grace_minutes", 10)
	v.SetDefault("engine.eval_interval_secs", 60)
	v.SetDefault("engine.ack_rate_per_sec", 5)

	// Notify defaults
	v.SetDefault("notify.permission", "default")
	v.SetDefault("notify.chime", true)

	// Security defaults
	v.SetDefault("security.allow_origins", []string{"*"})
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pillpal")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "pillpal")
}

// loadEnvOverrides loads specific env vars that Viper doesn't handle well
// before the struct exists
func loadEnvOverrides(cfg *Config) {
	// Upstream settings
	cfg.Upstream.BaseURL = GetEnvDefault("PILLPAL_UPSTREAM_BASE_URL", cfg.Upstream.BaseURL)
	cfg.Upstream.ClientID = GetEnvDefault("PILLPAL_UPSTREAM_CLIENT_ID", cfg.Upstream.ClientID)
	if sec := ResolveEnvWithAliases("PILLPAL_UPSTREAM_CLIENT_SECRET"); sec != "" {
		cfg.Upstream.ClientSecret = sec
	}

	// Server settings
	cfg.Server.Address = GetEnvDefault("PILLPAL_SERVER_ADDRESS", cfg.Server.Address)
	if port := os.Getenv("PILLPAL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	// Storage settings
	cfg.Storage.DataDir = GetEnvDefault("PILLPAL_STORAGE_DATA_DIR", cfg.Storage.DataDir)

	// Channel tokens
	if tok := ResolveEnvWithAliases("PILLPAL_CHANNELS_TELEGRAM_BOT_TOKEN"); tok != "" {
		cfg.Channels.Telegram.BotToken = tok
	}
	if tok := ResolveEnvWithAliases("PILLPAL_CHANNELS_DISCORD_TOKEN"); tok != "" {
		cfg.Channels.Discord.Token = tok
	}

	// Security settings
	if sec := ResolveEnvWithAliases("PILLPAL_SECURITY_JWT_SECRET"); sec != "" {
		cfg.Security.JWTSecret = sec
	}
}

func validate(cfg *Config) error {
	if cfg.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}

	if cfg.Engine.GraceMinutes < 0 {
		return fmt.Errorf("engine.grace_minutes must not be negative")
	}
	if cfg.Engine.EvalIntervalSecs <= 0 {
		return fmt.Errorf("engine.eval_interval_secs must be positive")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("channels.telegram.bot_token is required when telegram is enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		return fmt.Errorf("channels.discord.token is required when discord is enabled")
	}

	// Generate JWT secret if not provided
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = generateRandomString(32)
	}

	return nil
}

func generateRandomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random secret: %v", err))
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b)
}

// Watch re-reads engine thresholds when the config file changes on disk and
// invokes onChange with the fresh values. Only the engine section is applied
// live; everything else still requires a restart.
func (c *Config) Watch(onChange func(EngineConfig)) {
	if c.watcher == nil || c.watcher.ConfigFileUsed() == "" {
		return
	}

	c.watcher.OnConfigChange(func(_ fsnotify.Event) {
		c.mu.Lock()
		defer c.mu.Unlock()

		var next Config
		if err := c.watcher.Unmarshal(&next); err != nil {
			return
		}
		if err := validate(&next); err != nil {
			return
		}

		c.Engine = next.Engine
		if onChange != nil {
			onChange(next.Engine)
		}
	})
	c.watcher.WatchConfig()
}

// EngineSnapshot returns a copy of the engine section safe to read while
// Watch may be applying an update.
func (c *Config) EngineSnapshot() EngineConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Engine
}
