package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // timezone names resolve in minimal images

	"github.com/spf13/viper"
)

// DateLayout is the layout used for tracking window dates.
const DateLayout = "2006-01-02"

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Airtable  AirtableConfig  `mapstructure:"airtable"`
	Hackatime HackatimeConfig `mapstructure:"hackatime"`
	Fields    FieldsConfig    `mapstructure:"fields"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig defines listen addresses for the admin and metrics endpoints
type ServerConfig struct {
	BindAddress   string        `mapstructure:"bind_address"`
	AdminPort     int           `mapstructure:"admin_port"`
	MetricsPort   int           `mapstructure:"metrics_port"`
	TriggerLimit  int           `mapstructure:"trigger_limit"` // manual triggers per window per IP
	TriggerWindow time.Duration `mapstructure:"trigger_window"`
}

// AirtableConfig defines the datastore connection
type AirtableConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseID     string        `mapstructure:"base_id"`
	BaseURL    string        `mapstructure:"base_url"`
	GamesTable string        `mapstructure:"games_table"`
	PostsTable string        `mapstructure:"posts_table"`
	UsersTable string        `mapstructure:"users_table"`
	PageSize   int           `mapstructure:"page_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// HackatimeConfig defines the activity API connection and tracking window
type HackatimeConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	StartDate    string        `mapstructure:"start_date"`
	EndDate      string        `mapstructure:"end_date"` // empty means tomorrow
	BypassToken  string        `mapstructure:"bypass_token"`
	ProjectDelay time.Duration `mapstructure:"project_delay"`
	UserDelay    time.Duration `mapstructure:"user_delay"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Timezone     string        `mapstructure:"timezone"` // used to bucket days-active dates
}

// FieldsConfig maps logical record fields to Airtable column names
type FieldsConfig struct {
	GameSlackID        string   `mapstructure:"game_slack_id"`
	GameProjects       string   `mapstructure:"game_projects"`
	GameTrackedSeconds string   `mapstructure:"game_tracked_seconds"`
	GameName           string   `mapstructure:"game_name"`
	PostGame           string   `mapstructure:"post_game"`
	PostCreatedAt      string   `mapstructure:"post_created_at"`
	PostHoursSpent     string   `mapstructure:"post_hours_spent"`
	PostAttributed     []string `mapstructure:"post_attributed"` // any populated field marks a post as done
	UserSlackID        string   `mapstructure:"user_slack_id"`
	UserDaysActive     string   `mapstructure:"user_days_active"`
}

// SyncConfig defines scheduler and retry behaviour
type SyncConfig struct {
	StartupDelay      time.Duration `mapstructure:"startup_delay"`
	SuccessCooldown   time.Duration `mapstructure:"success_cooldown"`
	FailureCooldown   time.Duration `mapstructure:"failure_cooldown"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
	ActivityCacheSize int           `mapstructure:"activity_cache_size"`
}

// StorageConfig defines where pass history is kept
type StorageConfig struct {
	Type        string      `mapstructure:"type"` // "memory" or "redis"
	HistorySize int         `mapstructure:"history_size"`
	Redis       RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// legacyEnv maps config keys to the environment names used by the original
// deployment, so existing .env files keep working.
var legacyEnv = map[string]string{
	"airtable.api_key":       "AIRTABLE_API_KEY",
	"airtable.base_id":       "AIRTABLE_BASE_ID",
	"airtable.games_table":   "AIRTABLE_GAMES_TABLE",
	"airtable.posts_table":   "AIRTABLE_POSTS_TABLE",
	"airtable.users_table":   "AIRTABLE_USERS_TABLE",
	"hackatime.start_date":   "HACKATIME_START_DATE",
	"hackatime.end_date":     "HACKATIME_END_DATE",
	"hackatime.bypass_token": "RACK_ATTACK_BYPASS",
	"server.admin_port":      "PORT",
}

// Load loads configuration from file and environment variables.
// A missing config file is not an error; defaults and environment apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetEnvPrefix("SHIBASYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "SHIBASYNC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	// Read config file
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns a configuration populated with default values only.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.admin_port", 3001)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.trigger_limit", 6)
	v.SetDefault("server.trigger_window", "1m")

	// Airtable defaults
	v.SetDefault("airtable.api_key", "")
	v.SetDefault("airtable.base_id", "")
	v.SetDefault("airtable.base_url", "https://api.airtable.com/v0")
	v.SetDefault("airtable.games_table", "Games")
	v.SetDefault("airtable.posts_table", "Posts")
	v.SetDefault("airtable.users_table", "Users")
	v.SetDefault("airtable.page_size", 100)
	v.SetDefault("airtable.timeout", "30s")

	// Hackatime defaults
	v.SetDefault("hackatime.base_url", "https://hackatime.hackclub.com/api/v1")
	v.SetDefault("hackatime.start_date", "2025-08-18")
	v.SetDefault("hackatime.end_date", "")
	v.SetDefault("hackatime.bypass_token", "")
	v.SetDefault("hackatime.project_delay", "100ms")
	v.SetDefault("hackatime.user_delay", "200ms")
	v.SetDefault("hackatime.timeout", "30s")
	v.SetDefault("hackatime.timezone", "Local")

	// Field name defaults
	v.SetDefault("fields.game_slack_id", "slack id")
	v.SetDefault("fields.game_projects", "Hackatime Projects")
	v.SetDefault("fields.game_tracked_seconds", "HackatimeSeconds")
	v.SetDefault("fields.game_name", "Name")
	v.SetDefault("fields.post_game", "Game")
	v.SetDefault("fields.post_created_at", "Created At")
	v.SetDefault("fields.post_hours_spent", "HoursSpent")
	v.SetDefault("fields.post_attributed", []string{"HoursSpent", "TimeSpentOnAsset"})
	v.SetDefault("fields.user_slack_id", "slack id")
	v.SetDefault("fields.user_days_active", "daysActive")

	// Sync defaults
	v.SetDefault("sync.startup_delay", "10s")
	v.SetDefault("sync.success_cooldown", "1s")
	v.SetDefault("sync.failure_cooldown", "5s")
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.retry_base_delay", "1s")
	v.SetDefault("sync.activity_cache_size", 4096)

	// Storage defaults
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.history_size", 50)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.AdminPort <= 0 || cfg.Server.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", cfg.Server.AdminPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Airtable.PageSize <= 0 || cfg.Airtable.PageSize > 100 {
		return fmt.Errorf("airtable page_size must be between 1 and 100, got %d", cfg.Airtable.PageSize)
	}

	if _, err := time.Parse(DateLayout, cfg.Hackatime.StartDate); err != nil {
		return fmt.Errorf("invalid hackatime start_date %q: %w", cfg.Hackatime.StartDate, err)
	}
	if cfg.Hackatime.EndDate != "" {
		if _, err := time.Parse(DateLayout, cfg.Hackatime.EndDate); err != nil {
			return fmt.Errorf("invalid hackatime end_date %q: %w", cfg.Hackatime.EndDate, err)
		}
	}
	if _, err := time.LoadLocation(cfg.Hackatime.Timezone); err != nil {
		return fmt.Errorf("invalid hackatime timezone %q: %w", cfg.Hackatime.Timezone, err)
	}

	durations := map[string]time.Duration{
		"hackatime.project_delay": cfg.Hackatime.ProjectDelay,
		"hackatime.user_delay":    cfg.Hackatime.UserDelay,
		"sync.startup_delay":      cfg.Sync.StartupDelay,
		"sync.success_cooldown":   cfg.Sync.SuccessCooldown,
		"sync.failure_cooldown":   cfg.Sync.FailureCooldown,
		"sync.retry_base_delay":   cfg.Sync.RetryBaseDelay,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}

	if cfg.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}

	switch cfg.Storage.Type {
	case "", "memory":
		cfg.Storage.Type = "memory"
	case "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s (expected memory or redis)", cfg.Storage.Type)
	}

	if cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	return nil
}

// StartTime returns the tracking start date as a UTC instant.
func (c HackatimeConfig) StartTime() time.Time {
	t, _ := time.Parse(DateLayout, c.StartDate)
	return t
}

// Location returns the timezone used for days-active buckets.
func (c HackatimeConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
