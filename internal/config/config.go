package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	LockPolicyFailClosed    = "fail_closed"
	LockPolicyFallbackLocal = "fallback_local"
)

type Config struct {
	App struct {
		Name     string `yaml:"name"`
		Timezone string `yaml:"timezone"`
	} `yaml:"app"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Lock struct {
		LeaseSeconds   int    `yaml:"lease_seconds"`
		Policy         string `yaml:"policy"`
		RecheckSeconds int    `yaml:"recheck_seconds"`
	} `yaml:"lock"`

	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"rabbitmq"`

	Telegram struct {
		BotToken     string  `yaml:"bot_token"`
		AlertChatIDs []int64 `yaml:"alert_chat_ids"`
	} `yaml:"telegram"`

	HTTP struct {
		Port                 int    `yaml:"port"`
		APIKey               string `yaml:"api_key"`
		BookingRatePerMinute int    `yaml:"booking_rate_per_minute"`
		BookingBurst         int    `yaml:"booking_burst"`
	} `yaml:"http"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Schedule struct {
		Open             string `yaml:"open"`
		Close            string `yaml:"close"`
		SlotMinutes      int    `yaml:"slot_minutes"`
		MinDirectMinutes int    `yaml:"min_direct_minutes"`
		MaxDirectHours   int    `yaml:"max_direct_hours"`
	} `yaml:"schedule"`

	Lifecycle struct {
		PendingSweepSeconds    int `yaml:"pending_sweep_seconds"`
		AutoCancelSeconds      int `yaml:"auto_cancel_seconds"`
		AutoCancelGraceMinutes int `yaml:"auto_cancel_grace_minutes"`
		ReconcileSeconds       int `yaml:"reconcile_seconds"`
		ReconcileGraceMinutes  int `yaml:"reconcile_grace_minutes"`
		DayBoundaryHour        int `yaml:"day_boundary_hour"`
		ConvertTimeoutSeconds  int `yaml:"convert_timeout_seconds"`
	} `yaml:"lifecycle"`

	Rooms struct {
		Path         string `yaml:"path"`
		WatchSeconds int    `yaml:"watch_seconds"`
	} `yaml:"rooms"`
}

// Load reads the YAML config, expanding ${ENV} placeholders. A .env file next to the
// working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	// Missing .env is fine.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/roomsched.db"
	}
	if cfg.Rooms.Path == "" {
		cfg.Rooms.Path = "configs/rooms.yaml"
	}
	if cfg.Lock.Policy == "" {
		cfg.Lock.Policy = LockPolicyFailClosed
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if c.Lock.Policy != LockPolicyFailClosed && c.Lock.Policy != LockPolicyFallbackLocal {
		return fmt.Errorf("lock.policy: unknown policy %q", c.Lock.Policy)
	}
	if _, err := time.LoadLocation(c.TimezoneName()); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}
	if c.Lifecycle.DayBoundaryHour < 0 || c.Lifecycle.DayBoundaryHour > 23 {
		return fmt.Errorf("lifecycle.day_boundary_hour must be 0-23, got %d", c.Lifecycle.DayBoundaryHour)
	}
	if c.DirectMinDuration() > c.DirectMaxDuration() {
		return fmt.Errorf("schedule: min_direct_minutes exceeds max_direct_hours")
	}
	return nil
}

func (c *Config) TimezoneName() string {
	if c.App.Timezone == "" {
		return "Asia/Ho_Chi_Minh"
	}
	return c.App.Timezone
}

// Location returns the civil timezone used for dates and slots.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimezoneName())
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) LockLease() time.Duration {
	if c.Lock.LeaseSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Lock.LeaseSeconds) * time.Second
}

func (c *Config) LockRecheck() time.Duration {
	if c.Lock.RecheckSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Lock.RecheckSeconds) * time.Second
}

func (c *Config) RabbitExchange() string {
	if c.RabbitMQ.Exchange == "" {
		return "room.events"
	}
	return c.RabbitMQ.Exchange
}

func (c *Config) HTTPPort() int {
	if c.HTTP.Port <= 0 {
		return 8080
	}
	return c.HTTP.Port
}

func (c *Config) BookingRatePerMinute() int {
	if c.HTTP.BookingRatePerMinute <= 0 {
		return 30
	}
	return c.HTTP.BookingRatePerMinute
}

func (c *Config) BookingBurst() int {
	if c.HTTP.BookingBurst <= 0 {
		return 5
	}
	return c.HTTP.BookingBurst
}

func (c *Config) OpenTime() string {
	if c.Schedule.Open == "" {
		return "10:00"
	}
	return c.Schedule.Open
}

func (c *Config) CloseTime() string {
	if c.Schedule.Close == "" {
		return "24:00"
	}
	return c.Schedule.Close
}

func (c *Config) SlotDuration() time.Duration {
	if c.Schedule.SlotMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(c.Schedule.SlotMinutes) * time.Minute
}

func (c *Config) DirectMinDuration() time.Duration {
	if c.Schedule.MinDirectMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Schedule.MinDirectMinutes) * time.Minute
}

func (c *Config) DirectMaxDuration() time.Duration {
	if c.Schedule.MaxDirectHours <= 0 {
		return 8 * time.Hour
	}
	return time.Duration(c.Schedule.MaxDirectHours) * time.Hour
}

func (c *Config) PendingSweepInterval() time.Duration {
	if c.Lifecycle.PendingSweepSeconds <= 0 {
		return 3 * time.Minute
	}
	return time.Duration(c.Lifecycle.PendingSweepSeconds) * time.Second
}

func (c *Config) AutoCancelInterval() time.Duration {
	if c.Lifecycle.AutoCancelSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Lifecycle.AutoCancelSeconds) * time.Second
}

func (c *Config) AutoCancelGrace() time.Duration {
	if c.Lifecycle.AutoCancelGraceMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Lifecycle.AutoCancelGraceMinutes) * time.Minute
}

func (c *Config) ReconcileInterval() time.Duration {
	if c.Lifecycle.ReconcileSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Lifecycle.ReconcileSeconds) * time.Second
}

// ReconcileGrace is never shorter than the lock lease, so an in-flight conversion is not
// mistaken for an orphan.
func (c *Config) ReconcileGrace() time.Duration {
	grace := 5 * time.Minute
	if c.Lifecycle.ReconcileGraceMinutes > 0 {
		grace = time.Duration(c.Lifecycle.ReconcileGraceMinutes) * time.Minute
	}
	if lease := c.LockLease(); grace <= lease {
		grace = 2 * lease
	}
	return grace
}

func (c *Config) ConvertTimeout() time.Duration {
	if c.Lifecycle.ConvertTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Lifecycle.ConvertTimeoutSeconds) * time.Second
}

func (c *Config) RoomsWatchInterval() time.Duration {
	if c.Rooms.WatchSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Rooms.WatchSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}
