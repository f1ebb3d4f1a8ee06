package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP struct {
		Address             string `yaml:"address"`
		ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	} `yaml:"http"`

	Database struct {
		Path          string `yaml:"path"`
		BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret          string `yaml:"jwt_secret"`
		VerificationSecret string `yaml:"verification_secret"`
		TokenTTLMinutes    int    `yaml:"token_ttl_minutes"`
		VerificationGrace  int    `yaml:"verification_grace_minutes"`
	} `yaml:"auth"`

	Booking struct {
		MinAdvanceHours  int `yaml:"min_advance_hours"`
		MaxHorizonDays   int `yaml:"max_horizon_days"`
		MaxDurationHours int `yaml:"max_duration_hours"`
	} `yaml:"booking"`

	RateLimit struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Telegram struct {
		BotToken        string  `yaml:"bot_token"`
		OperatorChatIDs []int64 `yaml:"operator_chat_ids"`
		DigestHour      int     `yaml:"digest_hour"` // UTC hour of the daily pending digest
		MonthlyReport   bool    `yaml:"monthly_report"`
	} `yaml:"telegram"`

	Stations struct {
		Path                 string `yaml:"path"`
		WatchIntervalSeconds int    `yaml:"watch_interval_seconds"`
	} `yaml:"stations"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // "console" or "json"
	} `yaml:"log"`
}

// BackupConfig configures periodic database snapshots.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads the YAML config at path. A .env file next to the working
// directory is loaded first so ${VAR} placeholders can refer to it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	// Missing .env is fine; real environment wins over it.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/evslots.db"
	}
	if c.Stations.Path == "" {
		c.Stations.Path = "configs/stations.yaml"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) BookingMinAdvance() time.Duration {
	if c.Booking.MinAdvanceHours <= 0 {
		return 12 * time.Hour
	}
	return time.Duration(c.Booking.MinAdvanceHours) * time.Hour
}

func (c *Config) BookingMaxHorizon() time.Duration {
	if c.Booking.MaxHorizonDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.Booking.MaxHorizonDays) * 24 * time.Hour
}

func (c *Config) BookingMaxDuration() time.Duration {
	if c.Booking.MaxDurationHours <= 0 {
		return 8 * time.Hour
	}
	return time.Duration(c.Booking.MaxDurationHours) * time.Hour
}

func (c *Config) BusyTimeout() time.Duration {
	if c.Database.BusyTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Database.BusyTimeoutMS) * time.Millisecond
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	if c.Auth.TokenTTLMinutes <= 0 {
		return 12 * time.Hour
	}
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

func (c *Config) VerificationGrace() time.Duration {
	if c.Auth.VerificationGrace <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(c.Auth.VerificationGrace) * time.Minute
}

func (c *Config) StationsWatchInterval() time.Duration {
	if c.Stations.WatchIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Stations.WatchIntervalSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}
