package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the reconciliation engine.
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Reconciliation policy (thresholds and tolerances are deployment
	// decisions, never hard-coded)
	Reconcile ReconcileConfig `mapstructure:"reconcile"`

	// Import pipeline configuration
	Importer ImporterConfig `mapstructure:"importer"`

	// External collaborator endpoints
	Collaborators CollaboratorConfig `mapstructure:"collaborators"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// ReconcileConfig holds the evaluator's decision policy.
type ReconcileConfig struct {
	// AutoApplyThreshold: confidence at or above this auto-applies when no
	// conflict or material divergence is present.
	AutoApplyThreshold float64 `mapstructure:"auto_apply_threshold"`
	// ReviewFloor: confidence below this is always held, regardless of
	// divergence from current state.
	ReviewFloor float64 `mapstructure:"review_floor"`
	// EDDToleranceDays: a discharge date moving by more than this many days
	// counts as a material change.
	EDDToleranceDays int `mapstructure:"edd_tolerance_days"`
}

// ImporterConfig holds the filesystem import queue configuration.
type ImporterConfig struct {
	InboxPath           string   `mapstructure:"inbox_path"`
	ArchivePath         string   `mapstructure:"archive_path"`
	PollIntervalSeconds int      `mapstructure:"poll_interval_seconds"`
	CardConcurrency     int      `mapstructure:"card_concurrency"`
	CardExtensions      []string `mapstructure:"card_extensions"`
	AutoProcessEnabled  bool     `mapstructure:"auto_process_enabled"`
}

// CollaboratorConfig holds external model service endpoints.
type CollaboratorConfig struct {
	VisionBaseURL       string `mapstructure:"vision_base_url"`
	ReasoningBaseURL    string `mapstructure:"reasoning_base_url"`
	ConversationBaseURL string `mapstructure:"conversation_base_url"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
}

// Load loads configuration from config files and environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/rounds-engine")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 120)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "rounds")
	viper.SetDefault("database.user", "rounds")
	viper.SetDefault("database.ssl_mode", "require")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)

	// Reconciliation policy defaults
	viper.SetDefault("reconcile.auto_apply_threshold", 0.85)
	viper.SetDefault("reconcile.review_floor", 0.5)
	viper.SetDefault("reconcile.edd_tolerance_days", 2)

	// Importer defaults
	viper.SetDefault("importer.inbox_path", "./data/inbox")
	viper.SetDefault("importer.archive_path", "./data/archive")
	viper.SetDefault("importer.poll_interval_seconds", 10)
	viper.SetDefault("importer.card_concurrency", 4)
	viper.SetDefault("importer.card_extensions", []string{".jpg", ".jpeg", ".png", ".heic", ".pdf"})
	viper.SetDefault("importer.auto_process_enabled", true)

	// Collaborator defaults
	viper.SetDefault("collaborators.vision_base_url", "http://localhost:8001")
	viper.SetDefault("collaborators.reasoning_base_url", "http://localhost:8002")
	viper.SetDefault("collaborators.conversation_base_url", "http://localhost:8003")
	viper.SetDefault("collaborators.timeout_seconds", 60)

	// Logging defaults
	viper.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with well-known environment variables.
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if dbPassword := os.Getenv("DATABASE_PASSWORD"); dbPassword != "" {
		config.Database.Password = dbPassword
	}

	if inbox := os.Getenv("IMPORT_INBOX_PATH"); inbox != "" {
		config.Importer.InboxPath = inbox
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration.
func validate(config *Config) error {
	if config.Reconcile.AutoApplyThreshold < 0 || config.Reconcile.AutoApplyThreshold > 1 {
		return fmt.Errorf("auto apply threshold must be within [0,1]: %f", config.Reconcile.AutoApplyThreshold)
	}

	if config.Reconcile.ReviewFloor < 0 || config.Reconcile.ReviewFloor > config.Reconcile.AutoApplyThreshold {
		return fmt.Errorf("review floor must be within [0, auto_apply_threshold]: %f", config.Reconcile.ReviewFloor)
	}

	if config.Reconcile.EDDToleranceDays < 0 {
		return fmt.Errorf("EDD tolerance days must not be negative: %d", config.Reconcile.EDDToleranceDays)
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Importer.CardConcurrency <= 0 {
		return fmt.Errorf("card concurrency must be positive: %d", config.Importer.CardConcurrency)
	}

	return nil
}

// EnsureDirectories creates the import queue directories if missing.
func EnsureDirectories(config *Config) error {
	for _, path := range []string{config.Importer.InboxPath, config.Importer.ArchivePath} {
		if err := os.MkdirAll(filepath.Clean(path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}
