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

	"daygrid/internal/chrono"
	appLog "daygrid/internal/log"
	"daygrid/internal/timetable"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// ItemConfig is a fixed item declared directly in the config file. From and
// To are RFC3339 timestamps.
type ItemConfig struct {
	Label string `yaml:"label" json:"label"`
	From  string `yaml:"from" json:"from"`
	To    string `yaml:"to" json:"to"`
}

// Interval parses From and To.
func (i ItemConfig) Interval() (time.Time, time.Time, error) {
	from, err := time.Parse(time.RFC3339, i.From)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: item %q from: %w", i.Label, err)
	}
	to, err := time.Parse(time.RFC3339, i.To)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: item %q to: %w", i.Label, err)
	}
	return from, to, nil
}

// LayoutConfig holds the default grid geometry.
type LayoutConfig struct {
	// Step is the quantization unit, e.g. "15min" or "1h".
	Step string `yaml:"step" json:"step"`
	// Orientation is "horizontal" (day strip) or "vertical" (day column).
	Orientation string `yaml:"orientation" json:"orientation"`
	// TimeSize is the size of one step in output units (pixels).
	TimeSize float64 `yaml:"time_size" json:"time_size"`
	// CrossSize is the size of one lane.
	CrossSize float64 `yaml:"cross_size" json:"cross_size"`
	// CrossExtent, when positive, is shared evenly by all lanes instead.
	CrossExtent float64 `yaml:"cross_extent" json:"cross_extent"`
	// IncludeAllDay keeps all-day occurrences on the grid. They are
	// dropped by default since they occupy the full window.
	IncludeAllDay bool `yaml:"include_all_day" json:"include_all_day"`
}

// StepDelta parses Step.
func (l LayoutConfig) StepDelta() (chrono.TimeDelta, error) {
	return chrono.ParseStep(l.Step)
}

// Scale returns the timetable scale described by l.
func (l LayoutConfig) Scale() (timetable.Scale, error) {
	o, err := timetable.ParseOrientation(l.Orientation)
	if err != nil {
		return timetable.Scale{}, err
	}
	return timetable.Scale{
		Orientation: o,
		TimeSize:    l.TimeSize,
		CrossSize:   l.CrossSize,
		CrossExtent: l.CrossExtent,
	}, nil
}

// LogConfig selects the log level and encoder.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// CaptureConfig controls PNG snapshots of the day view after each refresh.
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Output  string `yaml:"output" json:"output"`
	Width   int    `yaml:"width" json:"width"`
	Height  int    `yaml:"height" json:"height"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as canonical display zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a standard five-field cron spec (e.g. "*/15 * * * *")
	// used for periodic ICS refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is the number of future days to keep expanded.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// CacheDir holds the per-feed ICS cache (body + ETag metadata).
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Log     LogConfig     `yaml:"log" json:"log"`
	Layout  LayoutConfig  `yaml:"layout" json:"layout"`
	Capture CaptureConfig `yaml:"capture" json:"capture"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// Items are static entries merged with the ICS occurrences.
	Items []ItemConfig `yaml:"items" json:"items"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "UTC"
	defaultRefreshCron = "*/15 * * * *"
	defaultHorizonDays = 7
	defaultCacheDir    = "./cache/ics-cache"
	defaultStep        = "15min"
	defaultTimeSize    = 4
	defaultCrossSize   = 120
	defaultCaptureOut  = "./cache/preview.png"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		RefreshCron: defaultRefreshCron,
		HorizonDays: defaultHorizonDays,
		CacheDir:    defaultCacheDir,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Layout: LayoutConfig{
			Step:        defaultStep,
			Orientation: string(timetable.Vertical),
			TimeSize:    defaultTimeSize,
			CrossSize:   defaultCrossSize,
		},
		Capture: CaptureConfig{
			Output: defaultCaptureOut,
		},
		ICS:   []ICSConfig{},
		Items: []ItemConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly. Invalid values that
// have a safe default are replaced and logged.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	} else if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		appLog.Error("config: invalid refresh cron; using default", err, "refresh", c.RefreshCron)
		c.RefreshCron = defaultRefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Layout.Step == "" {
		c.Layout.Step = defaultStep
	}
	if c.Layout.Orientation == "" {
		c.Layout.Orientation = string(timetable.Vertical)
	}
	if c.Layout.TimeSize <= 0 {
		c.Layout.TimeSize = defaultTimeSize
	}
	if c.Layout.CrossSize <= 0 {
		c.Layout.CrossSize = defaultCrossSize
	}
	if c.Layout.CrossExtent < 0 {
		c.Layout.CrossExtent = 0
	}

	if c.Capture.Output == "" {
		c.Capture.Output = defaultCaptureOut
	}

	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Items == nil {
		c.Items = []ItemConfig{}
	}
}

// Validate reports values Normalize cannot repair: an unparsable layout
// step or orientation, an unknown timezone or a malformed static item.
func (c *Config) Validate() error {
	if _, err := c.Layout.StepDelta(); err != nil {
		return fmt.Errorf("config: layout.step: %w", err)
	}
	if _, err := c.Layout.Scale(); err != nil {
		return fmt.Errorf("config: layout.orientation: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	for _, it := range c.Items {
		from, to, err := it.Interval()
		if err != nil {
			return err
		}
		if to.Before(from) {
			return fmt.Errorf("config: item %q ends before it starts", it.Label)
		}
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", c.Timezone)
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
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

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".daygrid-config-*.tmp")
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

	// Flush and close before chmod/rename.
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
