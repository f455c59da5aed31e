package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	StatusStore StatusStoreConfig `yaml:"status_store"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Time        TimeConfig        `yaml:"time"`
	Push        PushConfig        `yaml:"push"`
	WorkerPool  WorkerPoolConfig  `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the offline alert worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// StatusStoreConfig selects where bin documents are mirrored.
type StatusStoreConfig struct {
	Backend       string `yaml:"backend"` // database or redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// LivenessConfig holds the device liveness tunables, in milliseconds.
type LivenessConfig struct {
	OfflineThresholdMs   int  `yaml:"offline_threshold_ms"`
	MonitoringIntervalMs int  `yaml:"monitoring_interval_ms"`
	CleanupIntervalMs    int  `yaml:"cleanup_interval_ms"`
	RequestTimeoutMs     int  `yaml:"request_timeout_ms"`
	StrictKinds          bool `yaml:"strict_kinds"`

	OfflineThreshold   time.Duration `yaml:"-"`
	MonitoringInterval time.Duration `yaml:"-"`
	CleanupInterval    time.Duration `yaml:"-"`
	RequestTimeout     time.Duration `yaml:"-"`
}

// TimeConfig controls how lastUpdated timestamps are rendered.
type TimeConfig struct {
	Timezone string `yaml:"timezone"`
	Layout   string `yaml:"layout"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every unset field and derives the duration fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 50
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.StatusStore.Backend == "" {
		cfg.StatusStore.Backend = "database"
	}
	if cfg.StatusStore.KeyPrefix == "" {
		cfg.StatusStore.KeyPrefix = "bins:"
	}

	l := &cfg.Liveness
	if l.OfflineThresholdMs <= 0 {
		l.OfflineThresholdMs = 20000
	}
	if l.MonitoringIntervalMs <= 0 {
		l.MonitoringIntervalMs = 5000
	}
	if l.CleanupIntervalMs <= 0 {
		l.CleanupIntervalMs = 3600000
	}
	if l.RequestTimeoutMs <= 0 {
		l.RequestTimeoutMs = 30000
	}
	l.OfflineThreshold = time.Duration(l.OfflineThresholdMs) * time.Millisecond
	l.MonitoringInterval = time.Duration(l.MonitoringIntervalMs) * time.Millisecond
	l.CleanupInterval = time.Duration(l.CleanupIntervalMs) * time.Millisecond
	l.RequestTimeout = time.Duration(l.RequestTimeoutMs) * time.Millisecond

	if l.OfflineThreshold <= l.MonitoringInterval {
		log.Printf("liveness.offline_threshold_ms (%d) is not above monitoring_interval_ms (%d); devices may flap offline", l.OfflineThresholdMs, l.MonitoringIntervalMs)
	}

	if cfg.Time.Timezone == "" {
		cfg.Time.Timezone = "UTC"
	}
	if cfg.Time.Layout == "" {
		cfg.Time.Layout = "2006-01-02 15:04:05"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}
}
