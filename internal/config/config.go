// Package config assembles the ingestion and API settings from defaults, an
// optional YAML file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/internal/fetch"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/storage"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/util"

	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrInvalidBaseURL      = errors.New("source.base_url must be an absolute http(s) URL")
	ErrInvalidLookback     = errors.New("source.lookback_days must be at least 1")
	ErrInvalidTimeout      = errors.New("source timeouts must be positive")
	ErrMissingWorkDir      = errors.New("source.work_dir is required")
	ErrInvalidCacheDriver  = errors.New("cache.driver must be one of: fs, s3")
	ErrMissingCacheDir     = errors.New("cache.dir is required for the fs driver")
	ErrMissingBucket       = errors.New("AWS_BUCKET is required for the s3 cache driver")
	ErrInvalidStoreDriver  = errors.New("store.driver must be one of: postgres, sqlite")
	ErrMissingDatabaseURL  = errors.New("DATABASE_URL is required for the postgres store")
	ErrMissingSQLitePath   = errors.New("store.sqlite_path is required for the sqlite store")
	ErrInvalidMode         = errors.New("worker.mode must be one of: once, queue")
	ErrInvalidLogFormat    = errors.New("logging.format must be one of: text, json, logfmt")
	ErrMissingMasterAPIKey = errors.New("MASTER_API_KEY is required")
)

const (
	CacheFS = "fs"
	CacheS3 = "s3"

	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	ModeOnce  = "once"
	ModeQueue = "queue"
)

type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Cache   CacheConfig   `yaml:"cache"`
	Store   StoreConfig   `yaml:"store"`
	Worker  WorkerConfig  `yaml:"worker"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Queue   QueueConfig   `yaml:"-"`
}

type SourceConfig struct {
	BaseURL         string        `yaml:"base_url"`
	LookbackDays    int           `yaml:"lookback_days"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	WorkDir         string        `yaml:"work_dir"`
}

type CacheConfig struct {
	Driver   string `yaml:"driver"`
	Dir      string `yaml:"dir"`
	S3Prefix string `yaml:"s3_prefix"`
	// Credentials only come from the environment.
	S3 storage.S3Config `yaml:"-"`
}

type StoreConfig struct {
	Driver         string `yaml:"driver"`
	SQLitePath     string `yaml:"sqlite_path"`
	MigrationsPath string `yaml:"migrations_path"`
	DatabaseURL    string `yaml:"-"`
}

type WorkerConfig struct {
	Mode        string `yaml:"mode"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type ServerConfig struct {
	Port         string `yaml:"port"`
	MasterAPIKey string `yaml:"-"`
}

type LoggingConfig struct {
	Debug  bool   `yaml:"debug"`
	Format string `yaml:"format"`
}

type QueueConfig struct {
	User     string
	Password string
	Host     string
	Port     string
}

// URL renders the AMQP connection URL.
func (q QueueConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(q.User, q.Password),
		Host:   q.Host + ":" + q.Port,
		Path:   "/",
	}
	return u.String()
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			BaseURL:         fetch.DefaultBaseURL,
			LookbackDays:    fetch.DefaultLookbackDays,
			ProbeTimeout:    fetch.DefaultProbeTimeout,
			DownloadTimeout: fetch.DefaultDownloadTimeout,
			WorkDir:         "./work",
		},
		Cache: CacheConfig{
			Driver:   CacheFS,
			Dir:      "./cache",
			S3Prefix: "cache/",
		},
		Store: StoreConfig{
			Driver:         StoreSQLite,
			SQLitePath:     "education.db",
			MigrationsPath: "file://migrations",
		},
		Worker: WorkerConfig{
			Mode:        ModeOnce,
			MetricsAddr: ":9090",
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Logging: LoggingConfig{
			Format: "text",
		},
		Queue: QueueConfig{
			Host: "localhost",
			Port: "5672",
		},
	}
}

// Load builds the configuration. INGEST_CONFIG names an optional YAML file
// whose values sit between the defaults and the environment.
func Load() (*Config, error) {
	cfg := Default()
	if path := util.GetEnv("INGEST_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Source.BaseURL = util.GetEnvString("INGEST_BASE_URL", c.Source.BaseURL)
	c.Source.LookbackDays = util.GetEnvInt("INGEST_LOOKBACK_DAYS", c.Source.LookbackDays)
	c.Source.ProbeTimeout = util.GetEnvDuration("INGEST_PROBE_TIMEOUT", c.Source.ProbeTimeout)
	c.Source.DownloadTimeout = util.GetEnvDuration("INGEST_DOWNLOAD_TIMEOUT", c.Source.DownloadTimeout)
	c.Source.WorkDir = util.GetEnvString("INGEST_WORK_DIR", c.Source.WorkDir)

	c.Cache.Driver = strings.ToLower(util.GetEnvString("CACHE_DRIVER", c.Cache.Driver))
	c.Cache.Dir = util.GetEnvString("CACHE_DIR", c.Cache.Dir)
	c.Cache.S3Prefix = util.GetEnvString("CACHE_S3_PREFIX", c.Cache.S3Prefix)
	c.Cache.S3 = storage.S3Config{
		Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
		Endpoint:  util.GetEnv("AWS_ENDPOINT"),
		AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
		SecretKey: util.GetEnv("AWS_SECRET_KEY"),
		Bucket:    util.GetEnv("AWS_BUCKET"),
	}

	c.Store.Driver = strings.ToLower(util.GetEnvString("STORE_DRIVER", c.Store.Driver))
	c.Store.DatabaseURL = util.GetEnvString("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.SQLitePath = util.GetEnvString("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.MigrationsPath = util.GetEnvString("MIGRATIONS_PATH", c.Store.MigrationsPath)

	c.Worker.Mode = strings.ToLower(util.GetEnvString("INGEST_MODE", c.Worker.Mode))
	c.Worker.MetricsAddr = util.GetEnvString("METRICS_ADDR", c.Worker.MetricsAddr)

	c.Server.Port = util.GetEnvString("PORT", c.Server.Port)
	c.Server.MasterAPIKey = util.GetEnvString("MASTER_API_KEY", c.Server.MasterAPIKey)

	c.Logging.Debug = util.GetEnvBool("DEBUG", c.Logging.Debug)
	c.Logging.Format = strings.ToLower(util.GetEnvString("LOG_FORMAT", c.Logging.Format))

	c.Queue = QueueConfig{
		User:     util.GetEnv("RABBITMQ_USER"),
		Password: util.GetEnv("RABBITMQ_PASSWORD"),
		Host:     util.GetEnvString("RABBITMQ_HOST", c.Queue.Host),
		Port:     util.GetEnvString("RABBITMQ_PORT", c.Queue.Port),
	}
}

// Validate checks the settings the worker needs.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Source.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidBaseURL
	}
	if c.Source.LookbackDays < 1 {
		return ErrInvalidLookback
	}
	if c.Source.ProbeTimeout <= 0 || c.Source.DownloadTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Source.WorkDir == "" {
		return ErrMissingWorkDir
	}

	switch c.Cache.Driver {
	case CacheFS:
		if c.Cache.Dir == "" {
			return ErrMissingCacheDir
		}
	case CacheS3:
		if c.Cache.S3.Bucket == "" {
			return ErrMissingBucket
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCacheDriver, c.Cache.Driver)
	}

	if err := c.ValidateStore(); err != nil {
		return err
	}

	if c.Worker.Mode != ModeOnce && c.Worker.Mode != ModeQueue {
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Worker.Mode)
	}
	switch c.Logging.Format {
	case "", "text", "json", "logfmt":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}
	return nil
}

// ValidateStore checks only the store section; the API server needs nothing
// else from the ingestion settings.
func (c *Config) ValidateStore() error {
	switch c.Store.Driver {
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return ErrMissingSQLitePath
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStoreDriver, c.Store.Driver)
	}
	return nil
}

// ValidateServer checks the store and API settings.
func (c *Config) ValidateServer() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.Server.MasterAPIKey == "" {
		return ErrMissingMasterAPIKey
	}
	return nil
}
