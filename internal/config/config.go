// Package config provides configuration management for resolvarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	// DefaultLargeMediaThresholdMB is the soft threshold above which a video
	// is downloaded to cache instead of being forwarded as a direct URL.
	DefaultLargeMediaThresholdMB = 40.0

	// MaxLargeMediaThresholdMB caps the soft threshold. Values above this
	// saturate silently on read.
	MaxLargeMediaThresholdMB = 100.0

	defaultMaxMediaSizeMB         = 0.0 // 0 = unlimited
	defaultCacheDir               = "./cache"
	defaultMaxConcurrentDownloads = 3
	defaultParserConcurrency      = 10
)

// Timeouts for outbound media operations.
const (
	DefaultSizeCheckTimeout     = 10 * time.Second
	DefaultImageDownloadTimeout = 10 * time.Second
	DefaultVideoDownloadTimeout = 300 * time.Second
	DefaultFFmpegTimeout        = 30 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Trigger      TriggerConfig      `mapstructure:"trigger"`
	MediaSize    MediaSizeConfig    `mapstructure:"media_size"`
	Download     DownloadConfig     `mapstructure:"download"`
	Parsers      ParserConfig       `mapstructure:"parsers"`
	TwitterProxy TwitterProxyConfig `mapstructure:"twitter_proxy"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	AutoPack     bool               `mapstructure:"auto_pack"`
}

// TriggerConfig controls when arbitrary text is scanned for links.
type TriggerConfig struct {
	AutoParse bool     `mapstructure:"auto_parse"`
	Keywords  []string `mapstructure:"keywords"`
}

// MediaSizeConfig holds the size gating policy.
type MediaSizeConfig struct {
	// MaxMediaSizeMB is the hard ceiling. Videos strictly larger are dropped
	// and the post is reported as size-exceeded. 0 means no ceiling.
	MaxMediaSizeMB float64 `mapstructure:"max_media_size_mb"`

	// LargeMediaThresholdMB is the soft threshold. Videos above it are
	// downloaded to cache instead of forwarded as direct URLs. 0 disables
	// forced downloads. Clamped to MaxLargeMediaThresholdMB on read.
	LargeMediaThresholdMB float64 `mapstructure:"large_media_threshold_mb"`
}

// LargeThreshold returns the effective soft threshold, clamped into
// [0, MaxLargeMediaThresholdMB].
func (c MediaSizeConfig) LargeThreshold() float64 {
	t := c.LargeMediaThresholdMB
	if t <= 0 {
		return 0
	}
	if t > MaxLargeMediaThresholdMB {
		return MaxLargeMediaThresholdMB
	}
	return t
}

// DownloadConfig holds cache and concurrency settings for media downloads.
type DownloadConfig struct {
	CacheDir               string `mapstructure:"cache_dir"`
	PreDownloadAllMedia    bool   `mapstructure:"pre_download_all_media"`
	MaxConcurrentDownloads int    `mapstructure:"max_concurrent_downloads"`
}

// ParserConfig selects which platform parsers are instantiated.
type ParserConfig struct {
	// Enable maps parser name to an enable flag. Parsers absent from the
	// map are enabled by default.
	Enable map[string]bool `mapstructure:"enable"`

	// Concurrency is the per-parser parse concurrency ceiling.
	Concurrency int `mapstructure:"concurrency"`
}

// IsEnabled reports whether the named parser should be instantiated.
func (c ParserConfig) IsEnabled(name string) bool {
	if enabled, ok := c.Enable[name]; ok {
		return enabled
	}
	return true
}

// TwitterProxyConfig routes twitter media fetches through a proxy.
type TwitterProxyConfig struct {
	UseImageProxy bool   `mapstructure:"use_image_proxy"`
	UseVideoProxy bool   `mapstructure:"use_video_proxy"`
	ProxyURL      string `mapstructure:"proxy_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with RESOLVARR_, using underscores for nesting.
// Example: RESOLVARR_DOWNLOAD_CACHE_DIR=/var/cache/resolvarr.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/resolvarr")
		v.AddConfigPath("$HOME/.resolvarr")
	}

	v.SetEnvPrefix("RESOLVARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Trigger defaults
	v.SetDefault("trigger.auto_parse", true)
	v.SetDefault("trigger.keywords", []string{})

	// Media size defaults
	v.SetDefault("media_size.max_media_size_mb", defaultMaxMediaSizeMB)
	v.SetDefault("media_size.large_media_threshold_mb", DefaultLargeMediaThresholdMB)

	// Download defaults
	v.SetDefault("download.cache_dir", defaultCacheDir)
	v.SetDefault("download.pre_download_all_media", false)
	v.SetDefault("download.max_concurrent_downloads", defaultMaxConcurrentDownloads)

	// Parser defaults
	v.SetDefault("parsers.concurrency", defaultParserConcurrency)

	// Twitter proxy defaults
	v.SetDefault("twitter_proxy.use_image_proxy", false)
	v.SetDefault("twitter_proxy.use_video_proxy", false)
	v.SetDefault("twitter_proxy.proxy_url", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("auto_pack", true)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.MediaSize.MaxMediaSizeMB < 0 {
		return fmt.Errorf("media_size.max_media_size_mb must be >= 0, got %v", c.MediaSize.MaxMediaSizeMB)
	}
	if c.MediaSize.LargeMediaThresholdMB < 0 {
		return fmt.Errorf("media_size.large_media_threshold_mb must be >= 0, got %v", c.MediaSize.LargeMediaThresholdMB)
	}

	if c.Download.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("download.max_concurrent_downloads must be at least 1, got %d", c.Download.MaxConcurrentDownloads)
	}

	if c.Parsers.Concurrency < 1 {
		return fmt.Errorf("parsers.concurrency must be at least 1, got %d", c.Parsers.Concurrency)
	}

	if err := c.TwitterProxy.validate(); err != nil {
		return err
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func (c TwitterProxyConfig) validate() error {
	if (c.UseImageProxy || c.UseVideoProxy) && c.ProxyURL == "" {
		return fmt.Errorf("twitter_proxy.proxy_url is required when a twitter proxy flag is enabled")
	}
	if c.ProxyURL != "" &&
		!strings.HasPrefix(c.ProxyURL, "http://") &&
		!strings.HasPrefix(c.ProxyURL, "https://") &&
		!strings.HasPrefix(c.ProxyURL, "socks5://") {
		return fmt.Errorf("twitter_proxy.proxy_url must start with http://, https:// or socks5://, got %q", c.ProxyURL)
	}
	return nil
}
