package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// StorageConfig holds attachment sink settings.
type StorageConfig struct {
	AttachmentDir string `mapstructure:"attachment_dir" yaml:"attachment_dir"`
}

// SyncConfig controls window selection, batching, and timeouts of the
// sync pipeline and the scheduler that drives it.
type SyncConfig struct {
	Folder         string        `mapstructure:"folder" yaml:"folder"`
	Lookback       time.Duration `mapstructure:"lookback" yaml:"lookback"`
	SafetyMargin   time.Duration `mapstructure:"safety_margin" yaml:"safety_margin"`
	BatchSize      int           `mapstructure:"batch_size" yaml:"batch_size"`
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	SessionTimeout time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
	RunRetries     int           `mapstructure:"run_retries" yaml:"run_retries"`
	MaxBodyChars   int           `mapstructure:"max_body_chars" yaml:"max_body_chars"`
	MaxConcurrent  int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

// ClassifierConfig selects and tunes the classification transport.
type ClassifierConfig struct {
	// Kind is "http" for a classification service or "llm" for the
	// Anthropic Messages API.
	Kind          string        `mapstructure:"kind" yaml:"kind"`
	URL           string        `mapstructure:"url" yaml:"url"`
	APIKeyRef     string        `mapstructure:"api_key_ref" yaml:"api_key_ref"`
	Model         string        `mapstructure:"model" yaml:"model"`
	MaxTokens     int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	RatePerMinute int           `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
}

// CredentialConfig selects the credential backend.
type CredentialConfig struct {
	// Backend is "keyring" or "sealed".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// KeyEnv names the environment variable holding the base64 key used
	// to open sealed credential records.
	KeyEnv  string `mapstructure:"key_env" yaml:"key_env"`
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`
}

// RedisConfig enables cross-process account locks when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

// AMQPConfig enables ingestion events when URL is set.
type AMQPConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Exchange string `mapstructure:"exchange" yaml:"exchange"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
	// File redirects log output away from stderr. The watch view needs
	// it since anything written to the terminal corrupts its screen.
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AccountSeed describes an account to upsert at startup.
type AccountSeed struct {
	ID            string   `mapstructure:"id" yaml:"id"`
	UserID        string   `mapstructure:"user_id" yaml:"user_id"`
	Address       string   `mapstructure:"address" yaml:"address"`
	Domain        string   `mapstructure:"domain" yaml:"domain"`
	Host          string   `mapstructure:"host" yaml:"host"`
	Port          int      `mapstructure:"port" yaml:"port"`
	TLS           string   `mapstructure:"tls" yaml:"tls"`
	CredentialRef string   `mapstructure:"credential_ref" yaml:"credential_ref"`
	ProviderIDs   bool     `mapstructure:"provider_ids" yaml:"provider_ids"`
	Job           string   `mapstructure:"job" yaml:"job"`
	Usage         string   `mapstructure:"usage" yaml:"usage"`
	Interests     []string `mapstructure:"interests" yaml:"interests"`
}

// Account converts the seed into an Account ready for upsert.
func (s AccountSeed) Account() Account {
	return Account{
		ID:            s.ID,
		UserID:        s.UserID,
		Address:       s.Address,
		Domain:        s.Domain,
		Host:          s.Host,
		Port:          s.Port,
		TLS:           TLSMode(s.TLS),
		CredentialRef: s.CredentialRef,
		Valid:         true,
		ProviderIDs:   s.ProviderIDs,
		Job:           s.Job,
		Usage:         s.Usage,
		Interests:     s.Interests,
	}
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database    DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Storage     StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Sync        SyncConfig       `mapstructure:"sync" yaml:"sync"`
	Classifier  ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Credentials CredentialConfig `mapstructure:"credentials" yaml:"credentials"`
	Redis       RedisConfig      `mapstructure:"redis" yaml:"redis"`
	AMQP        AMQPConfig       `mapstructure:"amqp" yaml:"amqp"`
	Log         LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics     MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Accounts    []AccountSeed    `mapstructure:"accounts" yaml:"accounts"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailer/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailer", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "mailer.db",
		},
		Storage: StorageConfig{
			AttachmentDir: "EmailAttachments",
		},
		Sync: SyncConfig{
			Folder:         "INBOX",
			Lookback:       30 * 24 * time.Hour,
			SafetyMargin:   24 * time.Hour,
			BatchSize:      50,
			Interval:       5 * time.Minute,
			ConnectTimeout: 15 * time.Second,
			CommandTimeout: 30 * time.Second,
			SessionTimeout: 5 * time.Minute,
			RunRetries:     2,
			MaxBodyChars:   4000,
			MaxConcurrent:  4,
		},
		Classifier: ClassifierConfig{
			Kind:          "http",
			Model:         "claude-sonnet-4-5-20250929",
			MaxTokens:     1024,
			Timeout:       60 * time.Second,
			MaxRetries:    3,
			RetryDelay:    2 * time.Second,
			RatePerMinute: 80,
		},
		Credentials: CredentialConfig{
			Backend: "keyring",
			KeyEnv:  "MAILER_CREDENTIAL_KEY",
		},
		Redis: RedisConfig{
			LockTTL: 10 * time.Minute,
		},
		AMQP: AMQPConfig{
			Exchange: "mailer.events",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// setDefaults mirrors defaultAppConfig into viper so that partially
// specified sections still resolve every key.
func setDefaults(v *viper.Viper, cfg *AppConfig) {
	v.SetDefault("database.driver", cfg.Database.Driver)
	v.SetDefault("database.dsn", cfg.Database.DSN)
	v.SetDefault("storage.attachment_dir", cfg.Storage.AttachmentDir)
	v.SetDefault("sync.folder", cfg.Sync.Folder)
	v.SetDefault("sync.lookback", cfg.Sync.Lookback)
	v.SetDefault("sync.safety_margin", cfg.Sync.SafetyMargin)
	v.SetDefault("sync.batch_size", cfg.Sync.BatchSize)
	v.SetDefault("sync.interval", cfg.Sync.Interval)
	v.SetDefault("sync.connect_timeout", cfg.Sync.ConnectTimeout)
	v.SetDefault("sync.command_timeout", cfg.Sync.CommandTimeout)
	v.SetDefault("sync.session_timeout", cfg.Sync.SessionTimeout)
	v.SetDefault("sync.run_retries", cfg.Sync.RunRetries)
	v.SetDefault("sync.max_body_chars", cfg.Sync.MaxBodyChars)
	v.SetDefault("sync.max_concurrent", cfg.Sync.MaxConcurrent)
	v.SetDefault("classifier.kind", cfg.Classifier.Kind)
	v.SetDefault("classifier.model", cfg.Classifier.Model)
	v.SetDefault("classifier.max_tokens", cfg.Classifier.MaxTokens)
	v.SetDefault("classifier.timeout", cfg.Classifier.Timeout)
	v.SetDefault("classifier.max_retries", cfg.Classifier.MaxRetries)
	v.SetDefault("classifier.retry_delay", cfg.Classifier.RetryDelay)
	v.SetDefault("classifier.rate_per_minute", cfg.Classifier.RatePerMinute)
	v.SetDefault("credentials.backend", cfg.Credentials.Backend)
	v.SetDefault("credentials.key_env", cfg.Credentials.KeyEnv)
	v.SetDefault("redis.lock_ttl", cfg.Redis.LockTTL)
	v.SetDefault("amqp.exchange", cfg.AMQP.Exchange)
	v.SetDefault("log.level", cfg.Log.Level)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
// Environment variables prefixed with MAILER_ override file values
// (e.g., MAILER_DATABASE_DSN).
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("mailer")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, defaultAppConfig())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Classifier.Kind {
	case "http", "llm":
	default:
		return fmt.Errorf("unsupported classifier kind %q", c.Classifier.Kind)
	}
	switch c.Credentials.Backend {
	case "keyring", "sealed":
	default:
		return fmt.Errorf("unsupported credential backend %q", c.Credentials.Backend)
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("storage", cfg.Storage)
	v.Set("sync", cfg.Sync)
	v.Set("classifier", cfg.Classifier)
	v.Set("credentials", cfg.Credentials)
	v.Set("redis", cfg.Redis)
	v.Set("amqp", cfg.AMQP)
	v.Set("log", cfg.Log)
	v.Set("metrics", cfg.Metrics)
	v.Set("accounts", cfg.Accounts)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
