package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	yamlv3 "gopkg.in/yaml.v3"

	appLog "calsync/internal/log"
)

// Config is the top-level application configuration. Every field can be
// set from the environment using its upper-cased key (CALENDAR_LINK,
// EVENTS_PER_PAGE, ...).
type Config struct {
	// CalendarLink is the iCalendar feed URL. Required.
	CalendarLink string `koanf:"calendar_link" yaml:"calendar_link"`

	// EventsPerPage is the page size for published upcoming events.
	EventsPerPage int `koanf:"events_per_page" yaml:"events_per_page"`

	// TZ is the IANA timezone used for all-day dates and "tomorrow".
	TZ string `koanf:"tz" yaml:"tz"`

	// StoreDir is the root of the filesystem snapshot store.
	StoreDir string `koanf:"store_dir" yaml:"store_dir"`

	// CacheDir holds conditional-request metadata for the feed fetch.
	CacheDir string `koanf:"cache_dir" yaml:"cache_dir"`

	FetchTimeout time.Duration `koanf:"fetch_timeout" yaml:"fetch_timeout"`

	// NearTermMonths and HorizonMonths size the two materialization windows.
	NearTermMonths int `koanf:"near_term_months" yaml:"near_term_months"`
	HorizonMonths  int `koanf:"horizon_months" yaml:"horizon_months"`

	// SyncSchedule and DailySchedule are standard 5-field cron specs
	// evaluated in TZ.
	SyncSchedule  string `koanf:"sync_schedule" yaml:"sync_schedule"`
	DailySchedule string `koanf:"daily_schedule" yaml:"daily_schedule"`

	// Listen is the HTTP listen address for the distribution server.
	Listen string `koanf:"listen" yaml:"listen"`

	// DiscordWebhookURL enables the chat notifier when non-empty.
	DiscordWebhookURL string `koanf:"discord_webhook_url" yaml:"discord_webhook_url"`

	// CORSAllowedDomains is a comma separated origin allow-list.
	CORSAllowedDomains string `koanf:"cors_allowed_domains" yaml:"cors_allowed_domains"`

	LogLevel  string `koanf:"log_level" yaml:"log_level"`
	LogFormat string `koanf:"log_format" yaml:"log_format"`
}

// Error reports an invalid or missing configuration value. It is fatal:
// callers abort before any side effect.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		EventsPerPage:  10,
		TZ:             "Europe/Oslo",
		StoreDir:       "./var/dist",
		CacheDir:       "./var/ics-cache",
		FetchTimeout:   10 * time.Second,
		NearTermMonths: 3,
		HorizonMonths:  6,
		SyncSchedule:   "*/15 * * * *",
		DailySchedule:  "0 18 * * *",
		Listen:         "127.0.0.1:8080",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load builds the configuration from defaults, then the optional YAML file
// at path, then the process environment. The result is validated.
func Load(path string) (*Config, error) {
	return load(path, os.Environ)
}

func load(path string, environ func() []string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(*DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				appLog.Info("config file not found, using defaults and environment", "path", path)
			} else {
				return nil, fmt.Errorf("config: load %s: %w", path, err)
			}
		} else {
			appLog.Info("loaded configuration from file", "path", path)
		}
	}

	known := make(map[string]struct{})
	for _, key := range k.Keys() {
		known[key] = struct{}{}
	}

	err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(key)
			// Only keys that exist in Config are taken from the environment;
			// returning "" makes koanf skip the variable.
			if _, ok := known[key]; !ok {
				return "", nil
			}
			return key, value
		},
		EnvironFunc: environ,
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, &Error{Key: "environment", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every value the jobs depend on. The first problem found
// is returned as *Error.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CalendarLink) == "" {
		return &Error{Key: "calendar_link", Reason: "is required"}
	}
	if c.EventsPerPage <= 0 {
		return &Error{Key: "events_per_page", Reason: "must be a positive integer"}
	}
	if _, err := time.LoadLocation(c.TZ); err != nil {
		return &Error{Key: "tz", Reason: err.Error()}
	}
	if strings.TrimSpace(c.StoreDir) == "" {
		return &Error{Key: "store_dir", Reason: "is required"}
	}
	if c.FetchTimeout <= 0 {
		return &Error{Key: "fetch_timeout", Reason: "must be positive"}
	}
	if c.NearTermMonths <= 0 {
		return &Error{Key: "near_term_months", Reason: "must be positive"}
	}
	if c.HorizonMonths <= 0 {
		return &Error{Key: "horizon_months", Reason: "must be positive"}
	}
	if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
		return &Error{Key: "sync_schedule", Reason: err.Error()}
	}
	if _, err := cron.ParseStandard(c.DailySchedule); err != nil {
		return &Error{Key: "daily_schedule", Reason: err.Error()}
	}
	return nil
}

// Location returns the configured timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CORSOrigins splits CORSAllowedDomains into a trimmed list.
func (c *Config) CORSOrigins() []string {
	var out []string
	for _, part := range strings.Split(c.CORSAllowedDomains, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calsync-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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
