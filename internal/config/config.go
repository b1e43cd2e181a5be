// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. LENSCRAWL_SERVER_ADDR.
const EnvPrefix = "LENSCRAWL"

// Storage and sink drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
	DriverLocal    = "local"
	DriverGCS      = "gcs"
	DriverMemory   = "memory"
	DriverPubSub   = "pubsub"
)

// SearchPaths are checked for lenscrawl.{yaml,toml,json} when no config file
// is named.
var SearchPaths = []string{".", "$HOME/.lenscrawl", "/etc/lenscrawl"}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Index     IndexConfig     `mapstructure:"index"`
	Lenses    LensesConfig    `mapstructure:"lenses"`
	Plugins   PluginsConfig   `mapstructure:"plugins"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the RPC server.
type ServerConfig struct {
	Addr                   string `mapstructure:"addr"`
	RequestTimeoutSeconds  int    `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the dispatcher, workers and politeness.
type CrawlerConfig struct {
	Workers          int      `mapstructure:"workers"`
	BatchSize        int      `mapstructure:"batch_size"`
	PollIntervalMS   int      `mapstructure:"poll_interval_ms"`
	UserAgent        string   `mapstructure:"user_agent"`
	FollowLinks      bool     `mapstructure:"follow_links"`
	UpgradeHTTPS     bool     `mapstructure:"upgrade_https"`
	BlockedDomains   []string `mapstructure:"blocked_domains"`
	DomainRPS        float64  `mapstructure:"domain_rps"`
	DomainBurst      int      `mapstructure:"domain_burst"`
	MaxRetries       int      `mapstructure:"max_retries"`
	RetryBaseSeconds int      `mapstructure:"retry_base_seconds"`
	RetryMaxSeconds  int      `mapstructure:"retry_max_seconds"`
	MaxBodyBytes     int      `mapstructure:"max_body_bytes"`
	FileExtensions   []string `mapstructure:"file_extensions"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// StorageConfig picks the task/document repository backend.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DBConfig controls access to Postgres when storage.driver is postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// IndexConfig configures the full-text index and the link graph filter.
type IndexConfig struct {
	Path                  string   `mapstructure:"path"`
	BatchSize             int      `mapstructure:"batch_size"`
	CommitIntervalSeconds int      `mapstructure:"commit_interval_seconds"`
	StopWords             []string `mapstructure:"stop_words"`
	EdgeCapacity          uint     `mapstructure:"edge_capacity"`
	EdgeFPRate            float64  `mapstructure:"edge_false_positive_rate"`
}

// LensesConfig points at the lens definition directory.
type LensesConfig struct {
	Dir string `mapstructure:"dir"`
}

// PluginsConfig controls the WASM plugin host.
type PluginsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// ArchiveConfig selects where raw fetched pages are kept.
type ArchiveConfig struct {
	Driver string `mapstructure:"driver"`
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PublisherConfig selects where index events go.
type PublisherConfig struct {
	Driver        string `mapstructure:"driver"`
	ProjectID     string `mapstructure:"project_id"`
	Topic         string `mapstructure:"topic"`
	ProgressTopic string `mapstructure:"progress_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional file, .env files and the environment.
// Environment variables win over the file, which wins over defaults.
func Load(path string, envFiles ...string) (Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return Config{}, err
	}

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
		v.SetConfigName("lenscrawl")
		for _, dir := range SearchPaths {
			v.AddConfigPath(dir)
		}
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
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

// loadEnvFiles applies .env files without overriding variables already set.
// Missing files are ignored.
func loadEnvFiles(files []string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:4664")
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.batch_size", 32)
	v.SetDefault("crawler.poll_interval_ms", 1000)
	v.SetDefault("crawler.user_agent", "lenscrawl/0.1")
	v.SetDefault("crawler.follow_links", true)
	v.SetDefault("crawler.upgrade_https", true)
	v.SetDefault("crawler.blocked_domains", []string{})
	v.SetDefault("crawler.domain_rps", 2.0)
	v.SetDefault("crawler.domain_burst", 1)
	v.SetDefault("crawler.max_retries", 5)
	v.SetDefault("crawler.retry_base_seconds", 30)
	v.SetDefault("crawler.retry_max_seconds", 6*60*60)
	v.SetDefault("crawler.max_body_bytes", 10*1024*1024)
	v.SetDefault("crawler.file_extensions", []string{"docx", "html", "md", "txt", "ods", "xls", "xlsx"})
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "data/lenscrawl.db")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("index.path", "data/index")
	v.SetDefault("index.batch_size", 2000)
	v.SetDefault("index.commit_interval_seconds", 30)
	v.SetDefault("index.edge_capacity", 1_000_000)
	v.SetDefault("index.edge_false_positive_rate", 0.001)
	v.SetDefault("lenses.dir", "lenses")
	v.SetDefault("plugins.enabled", false)
	v.SetDefault("plugins.dir", "plugins")
	v.SetDefault("archive.driver", DriverNone)
	v.SetDefault("archive.dir", "data/raw")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("publisher.driver", DriverNone)
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.topic", "lenscrawl-index-events")
	v.SetDefault("publisher.progress_topic", "lenscrawl-progress")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr must be set")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.Crawler.DomainRPS < 0 {
		return fmt.Errorf("crawler.domain_rps must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of sqlite, postgres", c.Storage.Driver)
	}
	switch c.Archive.Driver {
	case DriverNone, "":
	case DriverLocal:
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set for the local driver")
		}
	case DriverGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("archive.driver %q is not one of none, local, gcs", c.Archive.Driver)
	}
	switch c.Publisher.Driver {
	case DriverNone, "", DriverMemory:
	case DriverPubSub:
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set for the pubsub driver")
		}
	default:
		return fmt.Errorf("publisher.driver %q is not one of none, memory, pubsub", c.Publisher.Driver)
	}
	if c.Plugins.Enabled && c.Plugins.Dir == "" {
		return fmt.Errorf("plugins.dir must be set when plugins are enabled")
	}
	return nil
}

// FetchTimeout is the per-request fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// PollInterval is how long the dispatcher sleeps after an empty claim.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Crawler.PollIntervalMS) * time.Millisecond
}

// CommitInterval is how often a long-running server flushes staged index
// writes. Zero disables the timer.
func (c Config) CommitInterval() time.Duration {
	return time.Duration(c.Index.CommitIntervalSeconds) * time.Second
}

// RetryBounds returns the retry count and backoff window for transient
// failures.
func (c Config) RetryBounds() (int, time.Duration, time.Duration) {
	return c.Crawler.MaxRetries,
		time.Duration(c.Crawler.RetryBaseSeconds) * time.Second,
		time.Duration(c.Crawler.RetryMaxSeconds) * time.Second
}
