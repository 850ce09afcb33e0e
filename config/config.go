package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Push          PushConfig         `yaml:"push"`
	WorkerPool    WorkerPoolConfig   `yaml:"worker_pool"`
	Reminders     ReminderConfig     `yaml:"reminders"`
	Monitor       MonitorConfig      `yaml:"monitor"`
	Events        EventsConfig       `yaml:"events"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// WorkerPoolConfig holds the configuration for the push delivery worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key" env:"CRYOQUEUE_VAPID_PUBLIC_KEY,overwrite"`
	PrivateKey string `yaml:"vapid_private_key" env:"CRYOQUEUE_VAPID_PRIVATE_KEY,overwrite"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port" env:"CRYOQUEUE_PORT,overwrite"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn" env:"CRYOQUEUE_DB_DSN,overwrite"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogQueries             bool   `yaml:"log_queries"`
}

// ReminderConfig controls the periodic checkout / check-in reminder scanner.
type ReminderConfig struct {
	Enabled             bool          `yaml:"enabled"`
	IntervalSeconds     int           `yaml:"interval_seconds"`
	Interval            time.Duration `yaml:"-"`
	Timezone            string        `yaml:"timezone"`
	QuietStartHour      int           `yaml:"quiet_start_hour"`
	QuietEndHour        int           `yaml:"quiet_end_hour"`
	RepeatHours         int           `yaml:"repeat_hours"`
	CheckoutSnoozeHours int           `yaml:"checkout_snooze_hours"`
	CheckinSnoozeHours  int           `yaml:"checkin_snooze_hours"`
}

// MonitorConfig controls the cryostat temperature poller.
type MonitorConfig struct {
	Enabled           bool          `yaml:"enabled"`
	IntervalSeconds   int           `yaml:"interval_seconds"`
	Interval          time.Duration `yaml:"-"`
	TimeoutSeconds    int           `yaml:"timeout_seconds"`
	StaleAfterSeconds int           `yaml:"stale_after_seconds"`
}

// EventsConfig configures the queue-update event bus.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url" env:"CRYOQUEUE_NATS_URL,overwrite"`
	Subject string `yaml:"subject"`
}

// NotificationConfig lists the recipients of administrative notices.
type NotificationConfig struct {
	AdminUserIDs []int64 `yaml:"admin_user_ids"`
}

// Load reads the configuration from the given path and applies environment overrides.
func Load(ctx context.Context, path string) (*Config, error) {
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

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Warn().Msg("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 256
	}

	r := &cfg.Reminders
	if r.IntervalSeconds <= 0 {
		r.IntervalSeconds = 300
	}
	r.Interval = time.Duration(r.IntervalSeconds) * time.Second
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	if r.QuietStartHour == 0 && r.QuietEndHour == 0 {
		r.QuietEndHour = 6
	}
	if r.RepeatHours <= 0 {
		r.RepeatHours = 12
	}
	if r.CheckoutSnoozeHours <= 0 {
		r.CheckoutSnoozeHours = 48
	}
	if r.CheckinSnoozeHours <= 0 {
		r.CheckinSnoozeHours = 48
	}

	m := &cfg.Monitor
	if m.IntervalSeconds <= 0 {
		m.IntervalSeconds = 30
	}
	m.Interval = time.Duration(m.IntervalSeconds) * time.Second
	if m.TimeoutSeconds <= 0 {
		m.TimeoutSeconds = 2
	}
	if m.StaleAfterSeconds <= 0 {
		m.StaleAfterSeconds = 60
	}

	if cfg.Events.Subject == "" {
		cfg.Events.Subject = "cryoqueue.queue.updates"
	}
}
