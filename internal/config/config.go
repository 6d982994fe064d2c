package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen          = "127.0.0.1:8080"
	defaultTimezone        = "Local"
	defaultWeekStart       = "monday"
	defaultRefreshCron     = "*/15 * * * *"
	defaultReminderCron    = "*/30 * * * *"
	defaultFetchTimeoutSec = 15
	defaultHorizonDays     = 90
	defaultBackfillDays    = 30
	defaultCacheDir        = "./var/ics-cache"
	defaultDBPath          = "./var/taskcal.db"
	defaultLogLevel        = "info"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration. User-editable
// settings (calendar URL, user name) live in the store, not here.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for week/month buckets and recurrence
	// expansion. "Local" uses the process zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron schedules background feed syncs.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// ReminderCron schedules reminder checks over pending tasks.
	ReminderCron string `yaml:"reminder_cron" json:"reminder_cron"`

	// FeedURL is used when the stored settings carry no calendar URL.
	FeedURL string `yaml:"feed_url" json:"feed_url"`

	// RelayPrefix, if set, is prepended to the feed URL. Only needed when
	// the origin must be reached through a cross-origin relay.
	RelayPrefix string `yaml:"relay_prefix" json:"relay_prefix"`

	FetchTimeoutSec int `yaml:"fetch_timeout_sec" json:"fetch_timeout_sec"`

	// StableEventIDs switches feed event ids from index+fetch-time to a
	// content hash, so repeated syncs yield the same ids.
	StableEventIDs bool `yaml:"stable_event_ids" json:"stable_event_ids"`

	// HorizonDays / BackfillDays bound recurrence expansion around now.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	DBPath   string `yaml:"db_path" json:"db_path"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          defaultListen,
		Timezone:        defaultTimezone,
		WeekStart:       defaultWeekStart,
		RefreshCron:     defaultRefreshCron,
		ReminderCron:    defaultReminderCron,
		FetchTimeoutSec: defaultFetchTimeoutSec,
		HorizonDays:     defaultHorizonDays,
		BackfillDays:    defaultBackfillDays,
		CacheDir:        defaultCacheDir,
		DBPath:          defaultDBPath,
		LogLevel:        defaultLogLevel,
	}
}

// Normalize fills in missing/zero values so partially-filled files behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = defaultWeekStart
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.ReminderCron == "" {
		c.ReminderCron = defaultReminderCron
	}
	if c.FetchTimeoutSec <= 0 {
		c.FetchTimeoutSec = defaultFetchTimeoutSec
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
}

// Validate reports values Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("config: invalid refresh schedule %q: %w", c.RefreshCron, err)
	}
	if _, err := cron.ParseStandard(c.ReminderCron); err != nil {
		return fmt.Errorf("config: invalid reminder_cron %q: %w", c.ReminderCron, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// WeekStartDay maps WeekStart to a time.Weekday.
func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// Load loads configuration from the given YAML path.
//
// A missing file is treated as first run: the defaults are written to
// path with 0600 permissions and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename, 0600).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".taskcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
