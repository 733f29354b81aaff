package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xaenox/soullink/internal/models"
)

type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Companion CompanionConfig `mapstructure:"companion"`
	Proactive ProactiveConfig `mapstructure:"proactive"`
	GroupSync GroupSyncConfig `mapstructure:"groupsync"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Path     string         `mapstructure:"path"`
	Postgres DatabaseConfig `mapstructure:"postgres"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type LLMConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Temperature       float64       `mapstructure:"temperature"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
}

// String returns a safe representation with the API key masked.
func (c LLMConfig) String() string {
	return fmt.Sprintf("LLMConfig{APIKey:%s, BaseURL:%s, Model:%s, MaxTokens:%d, Temperature:%.2f, Timeout:%s, RequestsPerMinute:%d, MaxRetries:%d}",
		models.MaskSecret(c.APIKey), c.BaseURL, c.Model, c.MaxTokens, c.Temperature, c.Timeout, c.RequestsPerMinute, c.MaxRetries)
}

type AdminConfig struct {
	ForceAPI          bool   `mapstructure:"force_api"`
	ForcedAPIKey      string `mapstructure:"forced_api_key"`
	ForcedAPIEndpoint string `mapstructure:"forced_api_endpoint"`
	ForcedModel       string `mapstructure:"forced_model"`
}

type CompanionConfig struct {
	Language              string        `mapstructure:"language"`
	Personality           string        `mapstructure:"personality"`
	ReplyDelay            time.Duration `mapstructure:"reply_delay"`
	HistorySize           int           `mapstructure:"history_size"`
	SummaryEvery          int           `mapstructure:"summary_every"`
	PersonalityConfidence float64       `mapstructure:"personality_confidence"`
}

type ProactiveConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	Threshold   time.Duration `mapstructure:"threshold"`
	ContextSize int           `mapstructure:"context_size"`
}

type GroupSyncConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q", u.Port())
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	// keys without a default are invisible to AutomaticEnv on Unmarshal
	v.SetDefault("telegram.token", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("admin.force_api", false)
	v.SetDefault("admin.forced_api_key", "")
	v.SetDefault("admin.forced_api_endpoint", "")
	v.SetDefault("admin.forced_model", "")
	v.SetDefault("companion.personality", "")
	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "postgres")
	v.SetDefault("storage.postgres.dbname", "soullink")
	v.SetDefault("storage.postgres.sslmode", "disable")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.temperature", 0.8)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.requests_per_minute", 20)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_backoff", time.Second)

	v.SetDefault("companion.language", "zh")
	v.SetDefault("companion.reply_delay", time.Second)
	v.SetDefault("companion.history_size", 20)
	v.SetDefault("companion.summary_every", 5)
	v.SetDefault("companion.personality_confidence", 0.7)

	v.SetDefault("proactive.enabled", true)
	v.SetDefault("proactive.interval", 60*time.Second)
	v.SetDefault("proactive.threshold", 5*time.Minute)
	v.SetDefault("proactive.context_size", 15)

	v.SetDefault("groupsync.interval", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadConfig reads path (optional; an empty path or a missing file leaves the
// defaults) and applies SOULLINK_* environment overrides plus the well-known
// TELEGRAM_TOKEN, OPENAI_API_KEY and DATABASE_URL.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// SOULLINK_LLM_API_KEY overrides llm.api_key
	v.SetEnvPrefix("soullink")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Storage.Postgres = dbConfig
		config.Storage.Backend = BackendPostgres
	}
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.LLM.APIKey == "" {
		config.LLM.APIKey = apiKey
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate reports the first invalid setting, naming its key.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Storage.Postgres.Host == "" {
			return errors.New("storage.postgres.host is required for the postgres backend")
		}
		if c.Storage.Postgres.DBName == "" {
			return errors.New("storage.postgres.dbname is required for the postgres backend")
		}
		if c.Storage.Postgres.Port <= 0 || c.Storage.Postgres.Port > 65535 {
			return fmt.Errorf("storage.postgres.port %d is out of range", c.Storage.Postgres.Port)
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, sqlite, postgres (got %q)", c.Storage.Backend)
	}

	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("llm.base_url %q is not an absolute URL", c.LLM.BaseURL)
		}
	}
	if c.LLM.Model == "" {
		return errors.New("llm.model is required")
	}
	if c.LLM.MaxTokens <= 0 {
		return errors.New("llm.max_tokens must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature %.2f must be within [0, 2]", c.LLM.Temperature)
	}
	if c.LLM.Timeout <= 0 {
		return errors.New("llm.timeout must be positive")
	}
	if c.LLM.RequestsPerMinute < 0 {
		return errors.New("llm.requests_per_minute must not be negative")
	}
	if c.LLM.MaxRetries < 0 {
		return errors.New("llm.max_retries must not be negative")
	}

	if c.Companion.Language != "zh" && c.Companion.Language != "en" {
		return fmt.Errorf("companion.language must be zh or en (got %q)", c.Companion.Language)
	}
	if c.Companion.ReplyDelay < 0 {
		return errors.New("companion.reply_delay must not be negative")
	}
	if c.Companion.HistorySize <= 0 {
		return errors.New("companion.history_size must be positive")
	}
	if c.Companion.SummaryEvery <= 0 {
		return errors.New("companion.summary_every must be positive")
	}
	if c.Companion.PersonalityConfidence < 0 || c.Companion.PersonalityConfidence > 1 {
		return errors.New("companion.personality_confidence must be within [0, 1]")
	}

	if c.Proactive.Interval <= 0 {
		return errors.New("proactive.interval must be positive")
	}
	if c.Proactive.Threshold <= 0 {
		return errors.New("proactive.threshold must be positive")
	}
	if c.Proactive.ContextSize <= 0 {
		return errors.New("proactive.context_size must be positive")
	}
	if c.GroupSync.Interval <= 0 {
		return errors.New("groupsync.interval must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error (got %q)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console (got %q)", c.Logging.Format)
	}
	return nil
}
