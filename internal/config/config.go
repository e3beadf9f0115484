// Package config loads and persists devtrackd's user settings and
// repository list. Values wrapped as ${NAME} are unresolved secrets: the
// core never sends them to an external service unresolved, and never
// writes a resolved value back to disk.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/re-cinq/devtrackd/internal/errs"
	"github.com/re-cinq/devtrackd/internal/fileutil"
	"gopkg.in/yaml.v3"
)

// Repository is a watched Git working copy.
type Repository struct {
	Name           string   `yaml:"name"`
	Path           string   `yaml:"path"`
	Enabled        bool     `yaml:"enabled"`
	Project        string   `yaml:"project,omitempty"`
	IgnorePatterns []string `yaml:"ignore_patterns,omitempty"`
}

// Settings holds the scheduler and notification defaults.
type Settings struct {
	PromptIntervalMinutes int    `yaml:"prompt_interval_minutes"`
	WorkHoursEnabled      bool   `yaml:"work_hours_enabled"`
	WorkStartHour         int    `yaml:"work_start_hour"`
	WorkEndHour           int    `yaml:"work_end_hour"`
	NotificationType      string `yaml:"notification_type"`
}

// Config is the top-level devtrackd configuration document.
type Config struct {
	Version      int                          `yaml:"version"`
	Repositories []Repository                 `yaml:"repositories"`
	Settings     Settings                     `yaml:"settings"`
	Integrations map[string]map[string]string `yaml:"integrations,omitempty"`
}

const currentVersion = 1

// Default returns the synthesized default configuration used when no
// config.yaml exists yet (spec §4.1).
func Default() *Config {
	return &Config{
		Version:      currentVersion,
		Repositories: nil,
		Settings: Settings{
			PromptIntervalMinutes: 180,
			WorkHoursEnabled:      false,
			WorkStartHour:         9,
			WorkEndHour:           18,
			NotificationType:      "email",
		},
		Integrations: map[string]map[string]string{},
	}
}

// Load reads config.yaml from profileDir, synthesizing and persisting the
// default configuration on first run.
func Load(profileDir string) (*Config, error) {
	path := fileutil.ConfigPath(profileDir)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		if saveErr := Save(profileDir, cfg); saveErr != nil {
			return nil, fmt.Errorf("writing default config: %w", saveErr)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading config: %v", errs.ErrConfigInvalid, err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing YAML: %v", errs.ErrConfigInvalid, err)
	}
	if cfg.Settings.PromptIntervalMinutes <= 0 {
		cfg.Settings.PromptIntervalMinutes = 180
	}
	if cfg.Settings.WorkEndHour == 0 && cfg.Settings.WorkStartHour == 0 {
		cfg.Settings.WorkStartHour, cfg.Settings.WorkEndHour = 9, 18
	}
	if cfg.Settings.NotificationType == "" {
		cfg.Settings.NotificationType = "email"
	}
	if cfg.Version == 0 {
		cfg.Version = currentVersion
	}
	if cfg.Integrations == nil {
		cfg.Integrations = map[string]map[string]string{}
	}
	return &cfg, nil
}

// Save atomically serializes cfg to config.yaml (temp sibling + rename).
func Save(profileDir string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return fileutil.WriteFileAtomic(fileutil.ConfigPath(profileDir), data, 0644)
}

// AddRepository appends a repository to cfg, failing if path is not a Git
// working copy (no .git directory), and persists the updated config.
func AddRepository(profileDir string, cfg *Config, name, path, project string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if _, statErr := os.Stat(filepath.Join(abs, ".git")); statErr != nil {
		return fmt.Errorf("%w: %s has no .git directory", errs.ErrInvalidRepo, abs)
	}
	cfg.Repositories = append(cfg.Repositories, Repository{
		Name:    name,
		Path:    abs,
		Enabled: true,
		Project: project,
	})
	return Save(profileDir, cfg)
}

// RemoveRepository removes the repository with the given path and persists
// the updated config.
func RemoveRepository(profileDir string, cfg *Config, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	kept := cfg.Repositories[:0]
	for _, r := range cfg.Repositories {
		if r.Path != abs {
			kept = append(kept, r)
		}
	}
	cfg.Repositories = kept
	return Save(profileDir, cfg)
}

// EnabledRepositories returns the repositories with Enabled == true.
func (cfg *Config) EnabledRepositories() []Repository {
	var out []Repository
	for _, r := range cfg.Repositories {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// PromptInterval returns Settings.PromptIntervalMinutes as a time.Duration.
func (cfg *Config) PromptInterval() time.Duration {
	return time.Duration(cfg.Settings.PromptIntervalMinutes) * time.Minute
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolveSecret resolves a ${NAME}-style placeholder from the environment.
// It never mutates cfg or writes a resolved value back to disk; callers use
// it only at the point of constructing an outbound payload. Returns the
// input unchanged if it carries no placeholder, and ("", false) if the
// referenced environment variable is unset.
func ResolveSecret(value string) (string, bool) {
	m := placeholderPattern.FindStringSubmatch(value)
	if m == nil {
		return value, true
	}
	resolved, ok := os.LookupEnv(m[1])
	if !ok {
		return "", false
	}
	return placeholderPattern.ReplaceAllLiteralString(value, resolved), true
}

// IsPlaceholder reports whether value contains an unresolved ${NAME} token.
func IsPlaceholder(value string) bool {
	return placeholderPattern.MatchString(value)
}
