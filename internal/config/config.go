// Package config loads the fitsync configuration file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/fitsync/backend/internal/connectivity"
	backup "github.com/kimhsiao/fitsync/backend/internal/export/scheduler"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/remote"
	"github.com/kimhsiao/fitsync/backend/internal/sync/scheduler"
	"github.com/kimhsiao/fitsync/backend/internal/telemetry"
)

// Remote backends.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
)

// Config holds all application configuration
type Config struct {
	DataDir  string `yaml:"data_dir"`
	Timezone string `yaml:"timezone"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Remote struct {
		Backend   string                 `yaml:"backend"` // "memory" or "firestore"
		Firestore remote.FirestoreConfig `yaml:"firestore"`
	} `yaml:"remote"`

	Queue struct {
		MaxSize int `yaml:"max_size"`
	} `yaml:"queue"`

	Cache struct {
		DailyTTL  time.Duration `yaml:"daily_ttl"`
		WeeklyTTL time.Duration `yaml:"weekly_ttl"`
	} `yaml:"cache"`

	Scheduler scheduler.SchedulerConfig `yaml:"scheduler"`
	Prober    connectivity.ProberConfig `yaml:"prober"`
	Telemetry telemetry.Config          `yaml:"telemetry"`
	Undo      models.UndoConfig         `yaml:"undo"`
	Backup    backup.SchedulerConfig    `yaml:"backup"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		DataDir:  defaultDataDir(),
		Timezone: "Local",
	}
	cfg.Logging.Level = "INFO"
	cfg.Logging.Format = "JSON"
	cfg.Server.Addr = "127.0.0.1:8787"
	cfg.Remote.Backend = BackendMemory
	cfg.Queue.MaxSize = 1000
	cfg.Cache.DailyTTL = 24 * time.Hour
	cfg.Cache.WeeklyTTL = 7 * 24 * time.Hour
	cfg.Scheduler = *scheduler.DefaultSchedulerConfig()
	cfg.Prober = connectivity.ProberConfig{Interval: 30 * time.Second, Timeout: 5 * time.Second}
	cfg.Undo = models.DefaultUndoConfig()
	cfg.Backup = *backup.DefaultSchedulerConfig()
	return cfg
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "fitsync")
	}
	return "data"
}

// LoadConfig loads configuration from a YAML file. Fields the file leaves
// out keep their defaults.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load finds the configuration file and loads it. A missing file is not an
// error: the defaults are used.
func Load() (*Config, error) {
	path := GetConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.applyEnv()
		return cfg, cfg.Validate()
	}
	return LoadConfig(path)
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv("FITSYNC_CONFIG"); path != "" {
		return path
	}

	// Then try config directory
	if _, err := os.Stat("config"); err == nil {
		return filepath.Join("config", "config.yaml")
	}

	// Finally, try current directory
	return "config.yaml"
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("FITSYNC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LOGGING_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOGGING_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("FIRESTORE_PROJECT_ID"); v != "" {
		c.Remote.Firestore.ProjectID = v
	}
	if v := os.Getenv("FIRESTORE_EMULATOR_HOST"); v != "" {
		c.Remote.Firestore.EmulatorHost = v
	}
	if v := os.Getenv("FITSYNC_BACKUP_PASSWORD"); v != "" {
		c.Backup.Password = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		c.Telemetry.DSN = v
	}
}

// Validate checks the configuration for values the app cannot start with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is not set")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch strings.ToLower(c.Remote.Backend) {
	case BackendMemory:
	case BackendFirestore:
		if c.Remote.Firestore.ProjectID == "" {
			return fmt.Errorf("remote.firestore.project_id is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown remote backend %q", c.Remote.Backend)
	}

	if c.Queue.MaxSize < 0 {
		return fmt.Errorf("queue.max_size must not be negative")
	}
	if c.Cache.DailyTTL <= 0 || c.Cache.WeeklyTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Scheduler.SyncInterval <= 0 || c.Scheduler.QueueInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}
	if c.Prober.URL != "" {
		u, err := url.Parse(c.Prober.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("prober.url %q is not an absolute URL", c.Prober.URL)
		}
	}
	if !c.Backup.Interval.Valid() {
		return fmt.Errorf("unknown backup interval %q", c.Backup.Interval)
	}
	if c.Undo.TimeoutMs <= 0 || c.Undo.MaxHistory <= 0 {
		return fmt.Errorf("undo timeout and max_history must be positive")
	}
	return nil
}

// Location returns the time zone used to bucket meals into days.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
