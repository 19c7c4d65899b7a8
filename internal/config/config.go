// Package config loads and persists the daemon configuration from a
// YAML file, creating a default file on first run.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FeedConfig describes one remote-calendar ICS feed.
type FeedConfig struct {
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`
	URL        string `yaml:"url" json:"url"`
}

// PracticeConfig describes the practice-management API endpoint.
type PracticeConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
}

// ClassifierConfig holds the tunable classification indicators.
type ClassifierConfig struct {
	PracticeIdentifier string   `yaml:"practice_identifier" json:"practice_identifier"`
	PracticeCalendarID string   `yaml:"practice_calendar_id" json:"practice_calendar_id"`
	ClinicalKeywords   []string `yaml:"clinical_keywords" json:"clinical_keywords"`
	ScoreThreshold     int      `yaml:"score_threshold" json:"score_threshold"`
}

// MergeConfig holds reconciliation policy knobs.
type MergeConfig struct {
	// CollisionPriority names the source that wins cross-source
	// duplicate suppression. Default: practice-management.
	CollisionPriority string `yaml:"collision_priority" json:"collision_priority"`
}

// Config is the top-level daemon configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// StateDSN selects the cache backend: a bare path or file:// for
	// JSON-file state, postgres:// for the database backend,
	// memory:// for ephemeral state.
	StateDSN string `yaml:"state_dsn" json:"state_dsn"`

	// SyncCron is the schedule for periodic background syncs.
	SyncCron string `yaml:"sync_cron" json:"sync_cron"`

	// SyncHorizonDays is the width of the scheduled sync window,
	// centered on today (7 days back, the rest forward).
	SyncHorizonDays int `yaml:"sync_horizon_days" json:"sync_horizon_days"`

	// WriteToken, when set, is required as a bearer token on mutating
	// endpoints. Reads are always open.
	WriteToken string `yaml:"write_token" json:"write_token"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Feeds      []FeedConfig     `yaml:"feeds" json:"feeds"`
	Practice   PracticeConfig   `yaml:"practice" json:"practice"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Merge      MergeConfig      `yaml:"merge" json:"merge"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:8080",
		StateDSN:        "./var/calsync-state.json",
		SyncCron:        "*/15 * * * *",
		SyncHorizonDays: 14,
		LogLevel:        "info",
		Feeds:           []FeedConfig{},
		Practice:        PracticeConfig{},
		Merge:           MergeConfig{CollisionPriority: "practice-management"},
	}
}

// Normalize fills missing values so partially filled configs from older
// versions keep working.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.StateDSN == "" {
		c.StateDSN = "./var/calsync-state.json"
	}
	if c.SyncCron == "" {
		c.SyncCron = "*/15 * * * *"
	}
	if c.SyncHorizonDays <= 0 {
		c.SyncHorizonDays = 14
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.Merge.CollisionPriority == "" {
		c.Merge.CollisionPriority = "practice-management"
	}
}

// Load reads the YAML config at path, writing a default file (0600) on
// first run.
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
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes the config atomically (temp file + rename, 0600).
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
	tmp, err := os.CreateTemp(dir, ".calsync-config-*.tmp")
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
