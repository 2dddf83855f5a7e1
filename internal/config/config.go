package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dandantas/nyxmon/internal/notify"
	"github.com/dandantas/nyxmon/pkg/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "NYXMON"

// Config holds all agent configuration
type Config struct {
	Storage         StorageConfig   `mapstructure:"storage"`
	Collector       CollectorConfig `mapstructure:"collector"`
	Cleaner         CleanerConfig   `mapstructure:"cleaner"`
	Log             LogConfig       `mapstructure:"log"`
	HTTP            HTTPConfig      `mapstructure:"http"`
	Notify          NotifyConfig    `mapstructure:"notify"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects SQLite (DB) or MongoDB (MongoURI)
type StorageConfig struct {
	DB            string        `mapstructure:"db"`
	MongoURI      string        `mapstructure:"mongo_uri"`
	MongoDatabase string        `mapstructure:"mongo_database"`
	MongoTimeout  time.Duration `mapstructure:"mongo_timeout"`
}

// CollectorConfig configures the polling loop. Interval is in seconds.
type CollectorConfig struct {
	Interval int `mapstructure:"interval"`
}

// CleanerConfig configures result retention. Durations are in seconds.
type CleanerConfig struct {
	Disabled        bool `mapstructure:"disabled"`
	Interval        int  `mapstructure:"interval"`
	RetentionPeriod int  `mapstructure:"retention_period"`
	BatchSize       int  `mapstructure:"batch_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// HTTPConfig configures the admin API. An empty Addr disables it.
type HTTPConfig struct {
	Addr         string                `mapstructure:"addr"`
	ReadTimeout  time.Duration         `mapstructure:"read_timeout"`
	WriteTimeout time.Duration         `mapstructure:"write_timeout"`
	CORS         middleware.CORSConfig `mapstructure:"cors"`
}

// NotifyConfig configures alert delivery beyond the log
type NotifyConfig struct {
	Webhook notify.WebhookConfig `mapstructure:"webhook"`
	Kafka   KafkaConfig          `mapstructure:"kafka"`
	Workers int                  `mapstructure:"workers"`
	Queue   int                  `mapstructure:"queue"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// flagKeys maps command-line flags onto configuration keys
var flagKeys = map[string]string{
	"config":           "",
	"db":               "storage.db",
	"mongo-uri":        "storage.mongo_uri",
	"mongo-database":   "storage.mongo_database",
	"interval":         "collector.interval",
	"cleanup-interval": "cleaner.interval",
	"retention-period": "cleaner.retention_period",
	"batch-size":       "cleaner.batch_size",
	"disable-cleaner":  "cleaner.disabled",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"log-file":         "log.file",
	"http-addr":        "http.addr",
	"webhook-url":      "notify.webhook.urls",
	"kafka-brokers":    "notify.kafka.brokers",
	"kafka-topic":      "notify.kafka.topic",
	"shutdown-timeout": "shutdown_timeout",
}

// RegisterFlags adds the start command's flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "optional YAML configuration file")
	fs.String("db", "", "path to an existing SQLite database")
	fs.String("mongo-uri", "", "MongoDB connection URI (replica set required)")
	fs.String("mongo-database", "nyxmon", "MongoDB database name")
	fs.Int("interval", 5, "collector polling interval in seconds")
	fs.Int("cleanup-interval", 3600, "result cleanup interval in seconds")
	fs.Int("retention-period", 86400, "result retention period in seconds")
	fs.Int("batch-size", 1000, "maximum results deleted per cleanup run")
	fs.Bool("disable-cleaner", false, "do not delete old results")
	fs.String("log-level", "INFO", "log level: DEBUG, INFO, WARNING or ERROR")
	fs.String("log-format", "text", "log format: text or json")
	fs.String("log-file", "", "write logs to a rotated file instead of stdout")
	fs.String("http-addr", ":8080", "admin API listen address, empty disables it")
	fs.StringSlice("webhook-url", nil, "webhook URL notified about failures (repeatable)")
	fs.StringSlice("kafka-brokers", nil, "Kafka brokers for failure events")
	fs.String("kafka-topic", "nyxmon-events", "Kafka topic for failure events")
	fs.Duration("shutdown-timeout", 30*time.Second, "how long to wait for running loops on shutdown")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.db", "")
	v.SetDefault("storage.mongo_uri", "")
	v.SetDefault("storage.mongo_database", "nyxmon")
	v.SetDefault("storage.mongo_timeout", 10*time.Second)

	v.SetDefault("collector.interval", 5)

	v.SetDefault("cleaner.disabled", false)
	v.SetDefault("cleaner.interval", 3600)
	v.SetDefault("cleaner.retention_period", 86400)
	v.SetDefault("cleaner.batch_size", 1000)

	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	cors := middleware.DefaultCORSConfig()
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.cors.allowed_origins", cors.AllowedOrigins)
	v.SetDefault("http.cors.allowed_methods", cors.AllowedMethods)
	v.SetDefault("http.cors.allowed_headers", cors.AllowedHeaders)
	v.SetDefault("http.cors.allow_credentials", cors.AllowCredentials)
	v.SetDefault("http.cors.max_age", cors.MaxAge)

	v.SetDefault("notify.webhook.urls", []string{})
	v.SetDefault("notify.webhook.timeout", 10*time.Second)
	v.SetDefault("notify.webhook.retry.max_attempts", 3)
	v.SetDefault("notify.webhook.retry.initial_delay_ms", 1000)
	v.SetDefault("notify.webhook.retry.max_delay_ms", 30000)
	v.SetDefault("notify.webhook.retry.multiplier", 2.0)
	v.SetDefault("notify.webhook.breaker.failure_threshold", 5)
	v.SetDefault("notify.webhook.breaker.success_threshold", 2)
	v.SetDefault("notify.webhook.breaker.open_timeout", 60*time.Second)
	v.SetDefault("notify.kafka.brokers", []string{})
	v.SetDefault("notify.kafka.topic", "nyxmon-events")
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue", 256)

	v.SetDefault("shutdown_timeout", 30*time.Second)
}

// Load reads configuration from defaults, an optional YAML file, a .env file,
// NYXMON_* environment variables and flags, in increasing precedence.
// flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		slog.Debug("No .env file loaded", "error", err.Error())
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || key == "" {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}

		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the agent cannot start with
func (c *Config) Validate() error {
	var errs []error

	switch {
	case c.Storage.DB == "" && c.Storage.MongoURI == "":
		errs = append(errs, errors.New("a storage backend is required: set --db or --mongo-uri"))
	case c.Storage.DB != "" && c.Storage.MongoURI != "":
		errs = append(errs, errors.New("--db and --mongo-uri are mutually exclusive"))
	case c.Storage.MongoURI != "" && c.Storage.MongoDatabase == "":
		errs = append(errs, errors.New("--mongo-database is required with --mongo-uri"))
	}

	if c.Collector.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %d", c.Collector.Interval))
	}
	if !c.Cleaner.Disabled {
		if c.Cleaner.Interval <= 0 {
			errs = append(errs, fmt.Errorf("cleanup interval must be positive, got %d", c.Cleaner.Interval))
		}
		if c.Cleaner.RetentionPeriod <= 0 {
			errs = append(errs, fmt.Errorf("retention period must be positive, got %d", c.Cleaner.RetentionPeriod))
		}
		if c.Cleaner.BatchSize <= 0 {
			errs = append(errs, fmt.Errorf("batch size must be positive, got %d", c.Cleaner.BatchSize))
		}
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout))
	}
	if len(c.Notify.Kafka.Brokers) > 0 && c.Notify.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka topic is required with kafka brokers"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// CollectorInterval returns the collector interval as a duration
func (c *Config) CollectorInterval() time.Duration {
	return time.Duration(c.Collector.Interval) * time.Second
}

// CleanupInterval returns the cleaner interval as a duration
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleaner.Interval) * time.Second
}

// RetentionPeriod returns how long results are kept
func (c *Config) RetentionPeriod() time.Duration {
	return time.Duration(c.Cleaner.RetentionPeriod) * time.Second
}
