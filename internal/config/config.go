package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"CitySense/internal/retry"
	"CitySense/internal/scoring"
)

const (
	defaultTimezone = "Asia/Kolkata"

	configPathEnv      = "CITYSENSE_CONFIG"
	logLevelEnv        = "LOG_LEVEL"
	databaseDriverEnv  = "DATABASE_DRIVER"
	databaseDSNEnv     = "DATABASE_DSN"
	objectEndpointEnv  = "OBJECT_STORE_ENDPOINT"
	objectAccessKeyEnv = "OBJECT_STORE_ACCESS_KEY"
	objectSecretKeyEnv = "OBJECT_STORE_SECRET_KEY"
	mlEndpointEnv      = "ML_ENDPOINT"
	mlAPIKeyEnv        = "ML_API_KEY"
	llmAPIKeyEnv       = "LLM_API_KEY"
	llmModelEnv        = "LLM_MODEL"
	httpAddrEnv        = "HTTP_ADDR"
	workersEnv         = "DISPATCHER_WORKERS"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	ObjectStore   ObjectStoreConfig  `yaml:"objectStore"`
	ML            MLConfig           `yaml:"ml"`
	LLM           LLMConfig          `yaml:"llm"`
	Retry         retry.Policy       `yaml:"retry"`
	Scoring       scoring.Policy     `yaml:"scoring"`
	Dispatcher    DispatcherConfig   `yaml:"dispatcher"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	HTTP          HTTPConfig         `yaml:"http"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// LoggingConfig sets the slog level and output format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ObjectStoreConfig describes the MinIO/S3 bucket holding report images.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
}

// MLConfig describes the classification service.
type MLConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`
	// AuthenticityScale is the upper bound of the authenticity score the service reports.
	AuthenticityScale float64 `yaml:"authenticityScale"`
}

// LLMConfig defines how to contact the OpenAI-compatible extraction and generation API.
type LLMConfig struct {
	Endpoint           string `yaml:"endpoint"`
	Model              string `yaml:"model"`
	APIKey             string `yaml:"apiKey"`
	ExtractionPrompt   string `yaml:"extractionPrompt"`
	EscalationPrompt   string `yaml:"escalationPrompt"`
	MaxEscalationChars int    `yaml:"maxEscalationChars"`
}

// DispatcherConfig sizes the task worker pool.
type DispatcherConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queueSize"`
}

// SchedulerConfig defines when the daily aggregation runs and which timezone defines a day.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	if loc, err := time.LoadLocation(s.Timezone); err == nil && s.Timezone != "" {
		return loc
	}
	return time.UTC
}

// HTTPConfig configures the event intake listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// NotificationConfig encapsulates operator alert channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Load reads .env and YAML configuration (if present) and applies environment overrides.
func Load() Config {
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if merged, err := Parse(raw, cfg); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
		} else {
			cfg = merged
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

// Parse decodes YAML over base; keys absent from raw keep their base values.
func Parse(raw []byte, base Config) (Config, error) {
	cfg := base
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return base, err
	}
	cfg.bindTimezone()
	return cfg, nil
}

// Validate reports settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if err := c.Scoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring: %w", err))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.maxAttempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.ML.AuthenticityScale <= 0 {
		errs = append(errs, fmt.Errorf("ml.authenticityScale must be positive, got %v", c.ML.AuthenticityScale))
	}
	if c.Dispatcher.Workers < 1 || c.Dispatcher.QueueSize < 1 {
		errs = append(errs, errors.New("dispatcher.workers and dispatcher.queueSize must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{logLevelEnv, &c.Logging.Level},
		{databaseDriverEnv, &c.Database.Driver},
		{databaseDSNEnv, &c.Database.DSN},
		{objectEndpointEnv, &c.ObjectStore.Endpoint},
		{objectAccessKeyEnv, &c.ObjectStore.AccessKey},
		{objectSecretKeyEnv, &c.ObjectStore.SecretKey},
		{mlEndpointEnv, &c.ML.Endpoint},
		{mlAPIKeyEnv, &c.ML.APIKey},
		{llmAPIKeyEnv, &c.LLM.APIKey},
		{llmModelEnv, &c.LLM.Model},
		{httpAddrEnv, &c.HTTP.Addr},
		{telegramTokenEnv, &c.Notifications.Telegram.BotToken},
		{telegramChatIDEnv, &c.Notifications.Telegram.ChatID},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}

	if v := os.Getenv(workersEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatcher.Workers = n
		} else {
			log.Printf("config: ignoring %s=%q: %v", workersEnv, v, err)
		}
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to UTC", tz)
		loc = time.UTC
	}
	c.Scheduler.location = loc
}

// Default returns a configuration suitable for local development against SQLite and MinIO.
func Default() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Driver: DriverSQLite, DSN: "citysense.db"},
		ObjectStore: ObjectStoreConfig{
			Endpoint: "localhost:9000",
			Bucket:   "citysense",
			Region:   "us-east-1",
		},
		ML: MLConfig{
			Endpoint:          "http://localhost:8000",
			AuthenticityScale: 1,
		},
		LLM: LLMConfig{
			Endpoint:           "https://api.openai.com/v1/chat/completions",
			Model:              "gpt-4o-mini",
			MaxEscalationChars: 280,
		},
		Retry:      retry.DefaultPolicy(),
		Scoring:    scoring.DefaultPolicy(),
		Dispatcher: DispatcherConfig{Workers: 4, QueueSize: 128},
		Scheduler:  SchedulerConfig{CronExpression: "15 0 * * *", Timezone: defaultTimezone},
		HTTP:       HTTPConfig{Addr: ":8080"},
	}
}
