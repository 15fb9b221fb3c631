package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration. It is loaded once at startup and
// treated as an immutable snapshot: components receive it explicitly and
// never read ambient settings.
type Config struct {
	Version   int             `toml:"version"`
	Replier   ReplierConfig   `toml:"replier"`
	API       APIConfig       `toml:"api"`
	Limits    LimitsConfig    `toml:"limits"`
	Selection SelectionConfig `toml:"selection"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
}

type ReplierConfig struct {
	Enabled          bool   `toml:"enabled"`
	SystemPrompt     string `toml:"system_prompt"`
	AgentEmailPrefix string `toml:"agent_email_prefix"`
	SystemUserID     int64  `toml:"system_user_id"`
}

type APIConfig struct {
	Key                string `toml:"key"`
	URL                string `toml:"url"`
	Model              string `toml:"model"`
	RequestTimeoutSecs int    `toml:"request_timeout_secs"`
	MaxRetries         int    `toml:"max_retries"`
}

type LimitsConfig struct {
	RateLimitPerHour int `toml:"rate_limit_per_hour"`
	CooldownHours    int `toml:"cooldown_hours"`
	MinTopicAgeHours int `toml:"min_topic_age_hours"`
}

type SelectionConfig struct {
	BatchSize          int `toml:"batch_size"`
	QuietTopicMaxPosts int `toml:"quiet_topic_max_posts"`
	OldTopicDays       int `toml:"old_topic_days"`
	OldTopicMinViews   int `toml:"old_topic_min_views"`
}

type DispatchConfig struct {
	CycleIntervalMinutes int `toml:"cycle_interval_minutes"`
	MaxConcurrentReplies int `toml:"max_concurrent_replies"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Replier: ReplierConfig{
			Enabled: false,
			SystemPrompt: "You are a friendly and knowledgeable forum member. " +
				"Write a helpful, on-topic reply to the post you are given. " +
				"Keep it conversational and under 200 words.",
			AgentEmailPrefix: "fungps",
			SystemUserID:     -1,
		},
		API: APIConfig{
			RequestTimeoutSecs: 30,
			MaxRetries:         3,
		},
		Limits: LimitsConfig{
			RateLimitPerHour: 30,
			CooldownHours:    24,
			MinTopicAgeHours: 2,
		},
		Selection: SelectionConfig{
			BatchSize:          10,
			QuietTopicMaxPosts: 5,
			OldTopicDays:       3,
			OldTopicMinViews:   50,
		},
		Dispatch: DispatchConfig{
			CycleIntervalMinutes: 3,
			MaxConcurrentReplies: 5,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

// APIConfigured reports whether every field required to call the generation
// API is present.
func (c *Config) APIConfigured() bool {
	return c.API.Key != "" && c.API.URL != "" && c.API.Model != ""
}

// RequestTimeout returns the per-request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.RequestTimeoutSecs) * time.Second
}

// Cooldown returns the per-topic cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Limits.CooldownHours) * time.Hour
}

// MinTopicAge returns the minimum topic age as a duration; zero disables
// the age filter.
func (c *Config) MinTopicAge() time.Duration {
	return time.Duration(c.Limits.MinTopicAgeHours) * time.Hour
}

// Validate checks the configuration for values the daemon cannot run with.
// It returns all problems at once so operators can fix them in one pass.
func (c *Config) Validate() error {
	var problems []string

	if c.Limits.RateLimitPerHour <= 0 {
		problems = append(problems, "limits.rate_limit_per_hour must be positive")
	}
	if c.Limits.CooldownHours <= 0 {
		problems = append(problems, "limits.cooldown_hours must be positive")
	}
	if c.Limits.MinTopicAgeHours < 0 {
		problems = append(problems, "limits.min_topic_age_hours must not be negative")
	}
	if c.Selection.BatchSize <= 0 {
		problems = append(problems, "selection.batch_size must be positive")
	}
	if c.Selection.QuietTopicMaxPosts < 0 {
		problems = append(problems, "selection.quiet_topic_max_posts must not be negative")
	}
	if c.Selection.OldTopicDays <= 0 {
		problems = append(problems, "selection.old_topic_days must be positive")
	}
	if c.API.RequestTimeoutSecs <= 0 {
		problems = append(problems, "api.request_timeout_secs must be positive")
	}
	if c.API.MaxRetries <= 0 {
		problems = append(problems, "api.max_retries must be positive")
	}
	if c.Dispatch.CycleIntervalMinutes <= 0 {
		problems = append(problems, "dispatch.cycle_interval_minutes must be positive")
	}
	if c.Dispatch.MaxConcurrentReplies <= 0 {
		problems = append(problems, "dispatch.max_concurrent_replies must be positive")
	}
	if c.Replier.AgentEmailPrefix == "" {
		problems = append(problems, "replier.agent_email_prefix must not be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "ai-replier"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultDatabasePath returns the default SQLite database location, used
// when database.path is not set.
func DefaultDatabasePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "forum.db"), nil
}

// Load reads config from the given path; an empty path means the default
// location.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = ConfigPath()
		if err != nil {
			return nil, err
		}
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes config to disk at the default location
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
