package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Journal  JournalConfig  `yaml:"journal"`
	Auth     AuthConfig     `yaml:"auth"`
	Vision   VisionConfig   `yaml:"vision"`
	Legacy   LegacyConfig   `yaml:"legacy"`
	Engine   EngineConfig   `yaml:"engine"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// JournalConfig holds configuration for the EventStoreDB domain event journal.
type JournalConfig struct {
	// Enabled controls whether domain events are journaled at all
	Enabled bool `yaml:"enabled"`
	// Host is the EventStoreDB server hostname
	Host string `yaml:"host"`
	// Port is the gRPC port (default 2113)
	Port int `yaml:"port"`
	// Insecure disables TLS (for development)
	Insecure bool `yaml:"insecure"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// VisionConfig holds configuration for the vision model provider.
type VisionConfig struct {
	Enabled bool `yaml:"enabled"`
	// APIKey for the Anthropic API
	APIKey string `yaml:"api_key"`
	// Model overrides the default vision model
	Model string `yaml:"model"`
	// TimeoutSeconds is the hard per-call timeout
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// Retries after the first failed attempt
	Retries int `yaml:"retries"`
	// MaxImageBytes caps accepted upload size
	MaxImageBytes int `yaml:"max_image_bytes"`
	// RequestsPerMinute limits outbound provider calls
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// LegacyConfig holds configuration for the legacy clinic knowledge import
// (SQL Server source, read once at startup when enabled).
type LegacyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`

	// Source table names, overridable per deployment
	DiseaseTable   string `yaml:"disease_table"`
	TreatmentTable string `yaml:"treatment_table"`
}

// EngineConfig holds the diagnostic engine tuning options. All are read at
// startup; none are hot-reloadable.
type EngineConfig struct {
	EffectivenessWindowDays      int `yaml:"effectiveness_window_days"`
	MinConfidenceSamples         int `yaml:"min_confidence_samples"`
	TrendingLimitMax             int `yaml:"trending_limit_max"`
	ReplayQueueSize              int `yaml:"replay_queue_size"`
	ReplayTTLHours               int `yaml:"replay_ttl_hours"`
	InboxCapacity                int `yaml:"inbox_capacity"`
	SubscriberSendTimeoutSeconds int `yaml:"subscriber_send_timeout_seconds"`
	WorkerPoolSize               int `yaml:"worker_pool_size"`
}

// Load builds the configuration from defaults, an optional YAML file
// (CONFIG_PATH or ./config.yaml), and environment variable overrides,
// in that order.
func Load() (*Config, error) {
	cfg := defaults()

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
		log.Printf("config loaded from %s", configPath)
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Env:  "development",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "triveda",
			Password: "triveda",
			Database: "triveda",
			SSLMode:  "disable",
		},
		Journal: JournalConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     2113,
			Insecure: true,
		},
		Auth: AuthConfig{
			JWTSecret: "dev-secret-change-in-prod",
		},
		Vision: VisionConfig{
			Enabled:           true,
			Model:             "",
			TimeoutSeconds:    30,
			Retries:           1,
			MaxImageBytes:     8 << 20,
			RequestsPerMinute: 30,
		},
		Legacy: LegacyConfig{
			Enabled:        false,
			Port:           1433,
			SSLMode:        "disable",
			DiseaseTable:   "dbo.Diseases",
			TreatmentTable: "dbo.Treatments",
		},
		Engine: EngineConfig{
			EffectivenessWindowDays:      90,
			MinConfidenceSamples:         5,
			TrendingLimitMax:             50,
			ReplayQueueSize:              100,
			ReplayTTLHours:               24,
			InboxCapacity:                64,
			SubscriberSendTimeoutSeconds: 5,
			WorkerPoolSize:               4,
		},
	}
}

func applyEnv(cfg *Config) {
	envInt(&cfg.Server.Port, "SERVER_PORT")
	envStr(&cfg.Server.Env, "ENV")

	envStr(&cfg.Database.Host, "DB_HOST")
	envInt(&cfg.Database.Port, "DB_PORT")
	envStr(&cfg.Database.User, "DB_USER")
	envStr(&cfg.Database.Password, "DB_PASSWORD")
	envStr(&cfg.Database.Database, "DB_NAME")
	envStr(&cfg.Database.SSLMode, "DB_SSLMODE")

	envBool(&cfg.Journal.Enabled, "JOURNAL_ENABLED")
	envStr(&cfg.Journal.Host, "JOURNAL_HOST")
	envInt(&cfg.Journal.Port, "JOURNAL_PORT")
	envBool(&cfg.Journal.Insecure, "JOURNAL_INSECURE")
	envStr(&cfg.Journal.Username, "JOURNAL_USERNAME")
	envStr(&cfg.Journal.Password, "JOURNAL_PASSWORD")

	envStr(&cfg.Auth.JWTSecret, "JWT_SECRET")

	envBool(&cfg.Vision.Enabled, "VISION_ENABLED")
	envStr(&cfg.Vision.APIKey, "ANTHROPIC_API_KEY")
	envStr(&cfg.Vision.Model, "VISION_MODEL")
	envInt(&cfg.Vision.TimeoutSeconds, "VISION_TIMEOUT_S")
	envInt(&cfg.Vision.Retries, "VISION_RETRIES")
	envInt(&cfg.Vision.MaxImageBytes, "VISION_MAX_IMAGE_BYTES")
	envInt(&cfg.Vision.RequestsPerMinute, "VISION_REQUESTS_PER_MINUTE")

	envBool(&cfg.Legacy.Enabled, "LEGACY_IMPORT_ENABLED")
	envStr(&cfg.Legacy.Host, "LEGACY_DB_HOST")
	envInt(&cfg.Legacy.Port, "LEGACY_DB_PORT")
	envStr(&cfg.Legacy.User, "LEGACY_DB_USER")
	envStr(&cfg.Legacy.Password, "LEGACY_DB_PASSWORD")
	envStr(&cfg.Legacy.Database, "LEGACY_DB_NAME")
	envStr(&cfg.Legacy.SSLMode, "LEGACY_DB_SSLMODE")
	envStr(&cfg.Legacy.DiseaseTable, "LEGACY_DISEASE_TABLE")
	envStr(&cfg.Legacy.TreatmentTable, "LEGACY_TREATMENT_TABLE")

	envInt(&cfg.Engine.EffectivenessWindowDays, "EFFECTIVENESS_WINDOW_DAYS")
	envInt(&cfg.Engine.MinConfidenceSamples, "MIN_CONFIDENCE_SAMPLES")
	envInt(&cfg.Engine.TrendingLimitMax, "TRENDING_LIMIT_MAX")
	envInt(&cfg.Engine.ReplayQueueSize, "REPLAY_QUEUE_SIZE")
	envInt(&cfg.Engine.ReplayTTLHours, "REPLAY_TTL_HOURS")
	envInt(&cfg.Engine.InboxCapacity, "INBOX_CAPACITY")
	envInt(&cfg.Engine.SubscriberSendTimeoutSeconds, "SUBSCRIBER_SEND_TIMEOUT_S")
	envInt(&cfg.Engine.WorkerPoolSize, "WORKER_POOL_SIZE")
}

func envStr(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

func envInt(target *int, key string) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			*target = i
		}
	}
}

func envBool(target *bool, key string) {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			*target = b
		}
	}
}
