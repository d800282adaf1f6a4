// Package config loads and validates poller configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/feedpoller/internal/poller"
)

// EnvPrefix namespaces environment overrides, e.g. FEEDPOLLER_POLLER_CONCURRENCY.
const EnvPrefix = "FEEDPOLLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Poller  PollerConfig  `mapstructure:"poller"`
	Source  SourceConfig  `mapstructure:"source"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	History HistoryConfig `mapstructure:"history"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PollerConfig tunes the fetch engine.
type PollerConfig struct {
	UserAgent       string        `mapstructure:"user_agent"`
	Concurrency     int           `mapstructure:"concurrency"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout"`
	MaxRedirects    int           `mapstructure:"max_redirects"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	Codes           CodesConfig   `mapstructure:"codes"`
	// PerHostRPS paces requests to one host; 0 disables pacing.
	PerHostRPS   float64 `mapstructure:"per_host_rps"`
	PerHostBurst int     `mapstructure:"per_host_burst"`
}

// CodesConfig overrides the synthetic status codes.
type CodesConfig struct {
	ConnectionFailure int `mapstructure:"connection_failure"`
	DownloadFailure   int `mapstructure:"download_failure"`
	SizeExceeded      int `mapstructure:"size_exceeded"`
}

// SourceConfig selects where the feed list comes from.
type SourceConfig struct {
	Provider string               `mapstructure:"provider"`
	File     FileSourceConfig     `mapstructure:"file"`
	SQLite   SQLiteSourceConfig   `mapstructure:"sqlite"`
	Postgres PostgresSourceConfig `mapstructure:"postgres"`
}

// FileSourceConfig points at a YAML feed list.
type FileSourceConfig struct {
	Path string `mapstructure:"path"`
}

// SQLiteSourceConfig points at a SQLite queue database.
type SQLiteSourceConfig struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

// PostgresSourceConfig points at a Postgres feed catalog.
type PostgresSourceConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// StorageConfig selects the artifact store and key layout.
type StorageConfig struct {
	Provider    string             `mapstructure:"provider"`
	Prefix      string             `mapstructure:"prefix"`
	ContentType string             `mapstructure:"content_type"`
	Local       LocalStorageConfig `mapstructure:"local"`
	GCS         GCSStorageConfig   `mapstructure:"gcs"`
	Redis       RedisStorageConfig `mapstructure:"redis"`
}

// LocalStorageConfig configures the filesystem store.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSStorageConfig configures the Cloud Storage store.
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// RedisStorageConfig configures the Redis store.
type RedisStorageConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// PubSubConfig enables artifact notifications when Topic is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// HistoryConfig enables Postgres run history when DSN is set.
type HistoryConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// MetricsConfig enables the metrics listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from an optional file plus the environment. With an
// empty path, config.yaml is looked up in the working directory,
// /etc/feedpoller and $HOME/.feedpoller; a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/feedpoller/")
		v.AddConfigPath("$HOME/.feedpoller")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := poller.DefaultConfig()
	v.SetDefault("poller.user_agent", d.UserAgent)
	v.SetDefault("poller.concurrency", d.Concurrency)
	v.SetDefault("poller.connect_timeout", d.ConnectTimeout)
	v.SetDefault("poller.request_timeout", d.RequestTimeout)
	v.SetDefault("poller.idle_conn_timeout", d.IdleConnTimeout)
	v.SetDefault("poller.max_redirects", d.MaxRedirects)
	v.SetDefault("poller.max_body_bytes", d.MaxBodyBytes)
	v.SetDefault("poller.codes.connection_failure", d.Codes.ConnectionFailure)
	v.SetDefault("poller.codes.download_failure", d.Codes.DownloadFailure)
	v.SetDefault("poller.codes.size_exceeded", d.Codes.SizeExceeded)
	v.SetDefault("poller.per_host_rps", 0.0)
	v.SetDefault("poller.per_host_burst", 1)

	v.SetDefault("source.provider", "sqlite")
	v.SetDefault("source.file.path", "feeds.yaml")
	v.SetDefault("source.sqlite.path", "feed_poller_queue.db")
	v.SetDefault("source.sqlite.table", "podcasts")
	v.SetDefault("source.postgres.dsn", "")
	v.SetDefault("source.postgres.table", "feeds")
	v.SetDefault("source.postgres.max_conns", 4)
	v.SetDefault("source.postgres.max_conn_lifetime", time.Hour)

	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.content_type", "text/plain; charset=utf-8")
	v.SetDefault("storage.local.base_dir", ".")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.redis.addr", "")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "feedpoller:")
	v.SetDefault("storage.redis.ttl", 0)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.table", "poll_runs")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.PollerSettings().Validate(); err != nil {
		return fmt.Errorf("poller: %w", err)
	}
	if c.Poller.PerHostRPS < 0 {
		return fmt.Errorf("poller.per_host_rps must be >= 0")
	}
	if c.Poller.PerHostBurst < 0 {
		return fmt.Errorf("poller.per_host_burst must be >= 0")
	}

	switch c.Source.Provider {
	case "file":
		if c.Source.File.Path == "" {
			return fmt.Errorf("source.file.path is required for the file source")
		}
	case "sqlite":
		if c.Source.SQLite.Path == "" {
			return fmt.Errorf("source.sqlite.path is required for the sqlite source")
		}
	case "postgres":
		if c.Source.Postgres.DSN == "" {
			return fmt.Errorf("source.postgres.dsn is required for the postgres source")
		}
	default:
		return fmt.Errorf("source.provider %q must be one of file, sqlite, postgres", c.Source.Provider)
	}

	switch c.Storage.Provider {
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for local storage")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for gcs storage")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for redis storage")
		}
		if c.Storage.Redis.TTL < 0 {
			return fmt.Errorf("storage.redis.ttl must be >= 0")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.provider %q must be one of local, gcs, redis, memory", c.Storage.Provider)
	}

	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// PollerSettings converts the poller section into engine configuration.
func (c Config) PollerSettings() poller.Config {
	return poller.Config{
		UserAgent:       c.Poller.UserAgent,
		Concurrency:     c.Poller.Concurrency,
		ConnectTimeout:  c.Poller.ConnectTimeout,
		RequestTimeout:  c.Poller.RequestTimeout,
		IdleConnTimeout: c.Poller.IdleConnTimeout,
		MaxRedirects:    c.Poller.MaxRedirects,
		MaxBodyBytes:    c.Poller.MaxBodyBytes,
		Codes: poller.SyntheticCodes{
			ConnectionFailure: c.Poller.Codes.ConnectionFailure,
			DownloadFailure:   c.Poller.Codes.DownloadFailure,
			SizeExceeded:      c.Poller.Codes.SizeExceeded,
		},
	}
}
