package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "RISALO"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "risalo.db"
	defaultLogLevel       = "info"
	defaultQueuePath      = "pending-interactions.json"
	defaultFlushInterval  = 5000
	defaultFlushTimeout   = 10000
	defaultBatchLimit     = 100
	defaultMaxAttempts    = 5
	defaultTokenTTLMins   = 60
	maxConfigurableBatch  = 1000
	minConfigurableBatch  = 1
	minConfigurableRetry  = 1
	minFlushIntervalMilli = 100
)

// AppConfig captures runtime configuration for the sync service and the
// embedded client queue.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenTTL      time.Duration
	QueuePath     string
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	BatchLimit    int
	MaxAttempts   int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMins)
	configViper.SetDefault("queue.path", defaultQueuePath)
	configViper.SetDefault("flush.interval_ms", defaultFlushInterval)
	configViper.SetDefault("flush.timeout_ms", defaultFlushTimeout)
	configViper.SetDefault("flush.batch_limit", defaultBatchLimit)
	configViper.SetDefault("flush.max_attempts", defaultMaxAttempts)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		QueuePath:     configViper.GetString("queue.path"),
		FlushInterval: time.Duration(configViper.GetInt("flush.interval_ms")) * time.Millisecond,
		FlushTimeout:  time.Duration(configViper.GetInt("flush.timeout_ms")) * time.Millisecond,
		BatchLimit:    configViper.GetInt("flush.batch_limit"),
		MaxAttempts:   configViper.GetInt("flush.max_attempts"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.BatchLimit < minConfigurableBatch || c.BatchLimit > maxConfigurableBatch {
		return fmt.Errorf("flush.batch_limit must be between %d and %d", minConfigurableBatch, maxConfigurableBatch)
	}
	if c.MaxAttempts < minConfigurableRetry {
		return fmt.Errorf("flush.max_attempts must be at least %d", minConfigurableRetry)
	}
	if c.FlushInterval < minFlushIntervalMilli*time.Millisecond {
		return fmt.Errorf("flush.interval_ms must be at least %dms", minFlushIntervalMilli)
	}
	if c.FlushTimeout <= 0 {
		return fmt.Errorf("flush.timeout_ms must be positive")
	}
	return nil
}
