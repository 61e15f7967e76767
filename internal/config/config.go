// Package config loads murmur.yml layered with environment overrides.
package config

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/dyluth/murmur/internal/filter"
	"github.com/dyluth/murmur/internal/jobs"
	"github.com/dyluth/murmur/internal/orchestrator"
	"github.com/dyluth/murmur/internal/pagination"
	"github.com/dyluth/murmur/internal/synth"
	"github.com/dyluth/murmur/pkg/forum"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = "murmur.yml"

// EnvPrefix prefixes every environment override, e.g. MURMUR_FORUM_API_KEY.
const EnvPrefix = "MURMUR"

// Config is the full murmur configuration.
type Config struct {
	Forum      ForumConfig          `mapstructure:"forum" yaml:"forum"`
	Backoff    forum.BackoffPolicy  `mapstructure:"backoff" yaml:"backoff"`
	Pagination PaginationConfig     `mapstructure:"pagination" yaml:"pagination"`
	Cadence    orchestrator.Cadence `mapstructure:"cadence" yaml:"cadence"`
	Filter     FilterConfig         `mapstructure:"filter" yaml:"filter"`
	Jobs       jobs.Settings        `mapstructure:"jobs" yaml:"jobs"`
	Registry   RegistryConfig       `mapstructure:"registry" yaml:"registry"`
	Banks      BanksConfig          `mapstructure:"banks" yaml:"banks"`
	Redis      RedisConfig          `mapstructure:"redis" yaml:"redis"`
	Log        LogConfig            `mapstructure:"log" yaml:"log"`

	// Seed makes a run reproducible. Zero draws a fresh seed per run.
	Seed uint64 `mapstructure:"seed" yaml:"seed"`
}

// ForumConfig locates and authenticates against the forum API.
type ForumConfig struct {
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey          string        `mapstructure:"api_key" yaml:"api_key"`
	DefaultIdentity string        `mapstructure:"default_identity" yaml:"default_identity"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PaginationConfig tunes listing walks.
type PaginationConfig struct {
	PageSize int           `mapstructure:"page_size" yaml:"page_size"`
	Pause    time.Duration `mapstructure:"pause" yaml:"pause"`
	MaxPages int           `mapstructure:"max_pages" yaml:"max_pages"`

	// DetailPause is slept between topic detail fetches.
	DetailPause time.Duration `mapstructure:"detail_pause" yaml:"detail_pause"`
}

// FilterConfig narrows which topics jobs consider.
type FilterConfig struct {
	TitlePrefix string `mapstructure:"title_prefix" yaml:"title_prefix"`
	Category    string `mapstructure:"category" yaml:"category"`
}

// RegistryConfig locates the identity registry file.
type RegistryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`

	// ProvisionDelay is slept between account creations.
	ProvisionDelay time.Duration `mapstructure:"provision_delay" yaml:"provision_delay"`
}

// BanksConfig points at a template bank file. Empty uses the built-in banks.
type BanksConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// RedisConfig enables run-event publishing. Empty URL disables it.
type RedisConfig struct {
	URL       string `mapstructure:"url" yaml:"url"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// Load reads configuration from path, or from murmur.yml in the working
// directory when path is empty. A missing default file is not an error.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, ".yml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy variable names.
	_ = v.BindEnv("forum.api_key", EnvPrefix+"_FORUM_API_KEY", "DISCOURSE_API_KEY")
	_ = v.BindEnv("forum.base_url", EnvPrefix+"_FORUM_BASE_URL", "DISCOURSE_URL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	return &Config{
		Forum: ForumConfig{
			DefaultIdentity: forum.DefaultIdentity,
			Timeout:         30 * time.Second,
		},
		Backoff: forum.DefaultBackoffPolicy(),
		Pagination: PaginationConfig{
			PageSize:    pagination.DefaultOptions().PageSize,
			Pause:       pagination.DefaultOptions().Pause,
			DetailPause: jobs.DefaultDetailPause,
		},
		Cadence:  orchestrator.DefaultCadence(),
		Filter:   FilterConfig{TitlePrefix: synth.TitlePrefix},
		Jobs:     jobs.DefaultSettings(),
		Registry: RegistryConfig{Path: "identities.json", ProvisionDelay: time.Second},
		Redis:    RedisConfig{Namespace: "default"},
		Log:      LogConfig{Level: "info"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("forum.base_url", d.Forum.BaseURL)
	v.SetDefault("forum.api_key", d.Forum.APIKey)
	v.SetDefault("forum.default_identity", d.Forum.DefaultIdentity)
	v.SetDefault("forum.timeout", d.Forum.Timeout)

	v.SetDefault("backoff.base_delay", d.Backoff.BaseDelay)
	v.SetDefault("backoff.max_attempts", d.Backoff.MaxAttempts)
	v.SetDefault("backoff.transient_delay", d.Backoff.TransientDelay)
	v.SetDefault("backoff.jitter", d.Backoff.Jitter)

	v.SetDefault("pagination.page_size", d.Pagination.PageSize)
	v.SetDefault("pagination.pause", d.Pagination.Pause)
	v.SetDefault("pagination.max_pages", d.Pagination.MaxPages)
	v.SetDefault("pagination.detail_pause", d.Pagination.DetailPause)

	v.SetDefault("cadence.item_delay", d.Cadence.ItemDelay)
	v.SetDefault("cadence.every", d.Cadence.Every)
	v.SetDefault("cadence.pause", d.Cadence.Pause)

	v.SetDefault("filter.title_prefix", d.Filter.TitlePrefix)
	v.SetDefault("filter.category", d.Filter.Category)

	v.SetDefault("jobs.image_fraction", d.Jobs.ImageFraction)
	v.SetDefault("jobs.reply_fraction", d.Jobs.ReplyFraction)
	v.SetDefault("jobs.per_category", d.Jobs.PerCategory)
	v.SetDefault("jobs.min_replies", d.Jobs.MinReplies)
	v.SetDefault("jobs.max_replies", d.Jobs.MaxReplies)
	v.SetDefault("jobs.window", d.Jobs.Window)
	v.SetDefault("jobs.edit_reason", d.Jobs.EditReason)
	v.SetDefault("jobs.reply_pause", d.Jobs.ReplyPause)

	v.SetDefault("registry.path", d.Registry.Path)
	v.SetDefault("registry.provision_delay", d.Registry.ProvisionDelay)
	v.SetDefault("banks.path", d.Banks.Path)
	v.SetDefault("redis.url", d.Redis.URL)
	v.SetDefault("redis.namespace", d.Redis.Namespace)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("seed", d.Seed)
}

// Validate checks values that do not depend on which command runs.
func (c *Config) Validate() error {
	if c.Forum.BaseURL != "" {
		u, err := url.Parse(c.Forum.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("forum.base_url must be an absolute URL, got %q", c.Forum.BaseURL)
		}
	}
	if c.Forum.Timeout < 0 {
		return fmt.Errorf("forum.timeout must not be negative")
	}
	if c.Backoff.MaxAttempts < 1 {
		return fmt.Errorf("backoff.max_attempts must be >= 1, got %d", c.Backoff.MaxAttempts)
	}
	if c.Backoff.BaseDelay < 0 || c.Backoff.TransientDelay < 0 {
		return fmt.Errorf("backoff delays must not be negative")
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter > 1 {
		return fmt.Errorf("backoff.jitter must be within [0,1], got %v", c.Backoff.Jitter)
	}
	if c.Pagination.PageSize < 1 {
		return fmt.Errorf("pagination.page_size must be >= 1, got %d", c.Pagination.PageSize)
	}
	if c.Pagination.Pause < 0 || c.Pagination.DetailPause < 0 {
		return fmt.Errorf("pagination pauses must not be negative")
	}
	if c.Pagination.MaxPages < 0 {
		return fmt.Errorf("pagination.max_pages must not be negative")
	}
	if err := c.Cadence.Validate(); err != nil {
		return fmt.Errorf("cadence: %w", err)
	}
	if err := c.Jobs.Validate(); err != nil {
		return fmt.Errorf("jobs: %w", err)
	}
	if c.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}
	if c.Registry.ProvisionDelay < 0 {
		return fmt.Errorf("registry.provision_delay must not be negative")
	}
	if c.Redis.URL != "" && c.Redis.Namespace == "" {
		return fmt.Errorf("redis.namespace is required when redis.url is set")
	}
	return nil
}

// RequireForum checks that the forum can be reached and authenticated.
func (c *Config) RequireForum() error {
	if c.Forum.BaseURL == "" {
		return fmt.Errorf("forum.base_url is required (set it in %s or %s_FORUM_BASE_URL)", DefaultFileName, EnvPrefix)
	}
	if c.Forum.APIKey == "" {
		return fmt.Errorf("forum.api_key is required (set it in %s or %s_FORUM_API_KEY)", DefaultFileName, EnvPrefix)
	}
	return nil
}

// ClientOptions converts the forum and backoff sections into client options.
func (c *Config) ClientOptions(logger *zap.Logger, rng *rand.Rand) forum.Options {
	return forum.Options{
		BaseURL:  c.Forum.BaseURL,
		APIKey:   c.Forum.APIKey,
		Identity: c.Forum.DefaultIdentity,
		Timeout:  c.Forum.Timeout,
		Policy:   c.Backoff,
		Logger:   logger,
		Rand:     rng,
	}
}

// PaginationOptions converts the pagination section.
func (c *Config) PaginationOptions(logger *zap.Logger) pagination.Options {
	return pagination.Options{
		PageSize: c.Pagination.PageSize,
		Pause:    c.Pagination.Pause,
		MaxPages: c.Pagination.MaxPages,
		Logger:   logger,
	}
}

// FilterCriteria converts the filter section.
func (c *Config) FilterCriteria() filter.Criteria {
	return filter.Criteria{
		TitlePrefix:  c.Filter.TitlePrefix,
		CategoryGlob: c.Filter.Category,
	}
}

// LoadBanks loads the configured template banks over the built-in ones.
func (c *Config) LoadBanks() (*synth.Banks, error) {
	return synth.LoadBanks(c.Banks.Path)
}

// Rand returns the random source for a run. A zero Seed draws a fresh one;
// the seed actually used is returned so it can be logged and replayed.
func (c *Config) Rand() (*rand.Rand, uint64) {
	seed := c.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), seed
}
