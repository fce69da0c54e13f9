// internal/config/config.go - YAML configuration for the monitoring daemon
package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Notifications NotificationConfig `yaml:"notifications"`
	Drivers       DriversConfig      `yaml:"drivers"`
	Prometheus    PrometheusConfig   `yaml:"prometheus"`
	Logging       LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Port         string        `yaml:"port" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
}

type DatabaseConfig struct {
	Path             string        `yaml:"path" validate:"required"`
	HistoryRetention time.Duration `yaml:"history_retention" validate:"gte=0"`
	PurgeSchedule    string        `yaml:"purge_schedule"`
}

type MonitoringConfig struct {
	HealthInterval    time.Duration `yaml:"health_interval" validate:"gt=0"`
	HealthGrace       time.Duration `yaml:"health_grace" validate:"gte=0"`
	HealthTimeout     time.Duration `yaml:"health_timeout" validate:"gt=0"`
	HealthConcurrency int           `yaml:"health_concurrency" validate:"gte=1"`
	ActionTimeout     time.Duration `yaml:"action_timeout" validate:"gt=0"`
	SummaryGrace      time.Duration `yaml:"summary_grace" validate:"gte=0"`
	DefaultRetryDelay time.Duration `yaml:"default_retry_delay" validate:"gt=0"`
	RawOutputLimit    int           `yaml:"raw_output_limit" validate:"gte=256"`
	Timezone          string        `yaml:"timezone" validate:"required"`
}

type DriversConfig struct {
	MikroTik MikroTikConfig `yaml:"mikrotik"`
	OpenWrt  OpenWrtConfig  `yaml:"openwrt"`
}

type MikroTikConfig struct {
	Scheme             string        `yaml:"scheme" validate:"oneof=http https"`
	Timeout            time.Duration `yaml:"timeout" validate:"gt=0"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	USSDPort           string        `yaml:"ussd_port"`
	TopupCode          string        `yaml:"topup_code"`
	BalanceCode        string        `yaml:"balance_code"`
}

type OpenWrtConfig struct {
	DefaultUser    string        `yaml:"default_user"`
	PrivateKeyPath string        `yaml:"private_key_path"`
	KnownHostsPath string        `yaml:"known_hosts_path"`
	DialTimeout    time.Duration `yaml:"dial_timeout" validate:"gt=0"`
	PingTimeout    time.Duration `yaml:"ping_timeout" validate:"gt=0"`
	LogLines       int           `yaml:"log_lines" validate:"gte=1"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format" validate:"oneof=text json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

var validate = validator.New()

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML, applying environment overrides and defaults.
func Parse(data []byte) (*Config, error) {
	config := newConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyEnv(config)
	setDefaults(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := newConfig()
	applyEnv(cfg)
	setDefaults(cfg)
	return cfg
}

// newConfig seeds the fields whose zero value is a valid setting, so an
// explicit zero in the file survives and only a missing key gets the default.
func newConfig() *Config {
	cfg := &Config{}
	cfg.Notifications.Cooldown = DefaultCooldown
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MONITE_TELEGRAM_TOKEN"); v != "" {
		cfg.Notifications.Telegram.Token = v
	}
	if v := os.Getenv("MONITE_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv("MONITE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
}

func setDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	// Database defaults
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/monite.db"
	}
	if cfg.Database.HistoryRetention == 0 {
		cfg.Database.HistoryRetention = 30 * 24 * time.Hour
	}
	if cfg.Database.PurgeSchedule == "" {
		cfg.Database.PurgeSchedule = "30 3 * * *"
	}

	// Monitoring defaults
	if cfg.Monitoring.HealthInterval == 0 {
		cfg.Monitoring.HealthInterval = 5 * time.Minute
	}
	if cfg.Monitoring.HealthGrace == 0 {
		cfg.Monitoring.HealthGrace = time.Minute
	}
	if cfg.Monitoring.HealthTimeout == 0 {
		cfg.Monitoring.HealthTimeout = 10 * time.Second
	}
	if cfg.Monitoring.HealthConcurrency == 0 {
		cfg.Monitoring.HealthConcurrency = 8
	}
	if cfg.Monitoring.ActionTimeout == 0 {
		cfg.Monitoring.ActionTimeout = 60 * time.Second
	}
	if cfg.Monitoring.SummaryGrace == 0 {
		cfg.Monitoring.SummaryGrace = 10 * time.Minute
	}
	if cfg.Monitoring.DefaultRetryDelay == 0 {
		cfg.Monitoring.DefaultRetryDelay = 10 * time.Minute
	}
	if cfg.Monitoring.RawOutputLimit == 0 {
		cfg.Monitoring.RawOutputLimit = 8192
	}
	if cfg.Monitoring.Timezone == "" {
		cfg.Monitoring.Timezone = "UTC"
	}

	setNotificationDefaults(&cfg.Notifications)

	// Driver defaults
	if cfg.Drivers.MikroTik.Scheme == "" {
		cfg.Drivers.MikroTik.Scheme = "http"
	}
	if cfg.Drivers.MikroTik.Timeout == 0 {
		cfg.Drivers.MikroTik.Timeout = 30 * time.Second
	}
	if cfg.Drivers.MikroTik.USSDPort == "" {
		cfg.Drivers.MikroTik.USSDPort = "lte1"
	}
	if cfg.Drivers.MikroTik.TopupCode == "" {
		cfg.Drivers.MikroTik.TopupCode = "*133*1*4*4*1#"
	}
	if cfg.Drivers.MikroTik.BalanceCode == "" {
		cfg.Drivers.MikroTik.BalanceCode = "*222*328#"
	}
	if cfg.Drivers.OpenWrt.DefaultUser == "" {
		cfg.Drivers.OpenWrt.DefaultUser = "root"
	}
	if cfg.Drivers.OpenWrt.DialTimeout == 0 {
		cfg.Drivers.OpenWrt.DialTimeout = 5 * time.Second
	}
	if cfg.Drivers.OpenWrt.PingTimeout == 0 {
		cfg.Drivers.OpenWrt.PingTimeout = time.Second
	}
	if cfg.Drivers.OpenWrt.LogLines == 0 {
		cfg.Drivers.OpenWrt.LogLines = 20
	}

	// Prometheus defaults
	if cfg.Prometheus.MetricsPath == "" {
		cfg.Prometheus.MetricsPath = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 50
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 28
	}
}

// Validate checks struct tags first, then the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if _, err := time.LoadLocation(c.Monitoring.Timezone); err != nil {
		return fmt.Errorf("monitoring.timezone %q is not a valid IANA zone: %w", c.Monitoring.Timezone, err)
	}
	if c.Monitoring.HealthTimeout > c.Monitoring.HealthInterval {
		return fmt.Errorf("monitoring.health_timeout must not exceed monitoring.health_interval")
	}

	return c.Notifications.Validate()
}
