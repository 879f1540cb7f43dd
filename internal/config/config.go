// Package config loads and validates grabber configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Output    OutputConfig    `mapstructure:"output"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Render    RenderConfig    `mapstructure:"render"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Sites     SitesConfig     `mapstructure:"sites"`
	Filters   FiltersConfig   `mapstructure:"filters"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// OutputConfig sets where downloaded media lands on disk.
type OutputConfig struct {
	// RootDir is the user-configured output root; per-domain directories
	// are created beneath it. Required.
	RootDir string `mapstructure:"root_dir"`
	// UnhandledLog is the path of the unhandled-links log, relative to
	// RootDir unless absolute.
	UnhandledLog string `mapstructure:"unhandled_log"`
}

// LimitsConfig governs scheduler concurrency.
type LimitsConfig struct {
	// MaxSimultaneous caps total parallel downloads and sizes the worker pool.
	MaxSimultaneous int `mapstructure:"max_simultaneous"`
	// PerDomain maps a base domain to its concurrent-download cap.
	PerDomain map[string]int `mapstructure:"per_domain"`
	// PerDomainDefault applies to domains absent from PerDomain.
	PerDomainDefault int `mapstructure:"per_domain_default"`
	// UnlimitedImageDomain is the one grandfathered domain whose image jobs
	// bypass the per-domain cap entirely.
	UnlimitedImageDomain string `mapstructure:"unlimited_image_domain"`
}

// HTTPConfig configures the shared HTTP client behavior.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	// ChunkSizeBytes is the range-parallel chunk size; files smaller than
	// roughly twice this fall back to a single stream.
	ChunkSizeBytes int64 `mapstructure:"chunk_size_bytes"`
	// Connections is the range-parallel connection count.
	Connections int `mapstructure:"connections"`
}

// RenderConfig configures the headless rendering fetcher.
type RenderConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MaxParallel int  `mapstructure:"max_parallel"`
	// PollIntervalMs is the delay between DOM marker polls.
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// PollAttempts bounds how many times a marker is polled before giving up.
	PollAttempts int     `mapstructure:"poll_attempts"`
	DomainQPS    float64 `mapstructure:"domain_qps"`
}

// ExtractorConfig locates and tunes the external media extractor binary.
type ExtractorConfig struct {
	Binary string `mapstructure:"binary"`
	// FragmentConcurrency is passed through to the tool's fragment downloader.
	FragmentConcurrency int  `mapstructure:"fragment_concurrency"`
	SelfUpdate          bool `mapstructure:"self_update"`
}

// SitesConfig holds the per-domain routing tables consumed by resolvers and
// the dispatcher.
type SitesConfig struct {
	// Supported lists domains accepted as direct-site sources.
	Supported []string `mapstructure:"supported"`
	// HybridExtract lists domains whose media URL is resolved by the
	// extractor in URL-only mode and then fetched range-parallel.
	HybridExtract []string `mapstructure:"hybrid_extract"`
	// ForceExternal lists domains always downloaded by the external
	// process, because their media URLs need the tool's request shaping.
	ForceExternal []string `mapstructure:"force_external"`
	// Galleries lists domains treated as multi-image galleries.
	Galleries []string `mapstructure:"galleries"`
}

// FiltersConfig enables media types and bounds resolution volume.
type FiltersConfig struct {
	Images    bool `mapstructure:"images"`
	Videos    bool `mapstructure:"videos"`
	GIFs      bool `mapstructure:"gifs"`
	MaxLinks  int  `mapstructure:"max_links"`
	PageStart int  `mapstructure:"page_start"`
	PageEnd   int  `mapstructure:"page_end"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEDIAGRAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.unhandled_log", "unhandled_links.log")
	v.SetDefault("limits.max_simultaneous", 4)
	v.SetDefault("limits.per_domain_default", 2)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("http.chunk_size_bytes", 8*1024*1024)
	v.SetDefault("http.connections", 8)
	v.SetDefault("render.enabled", true)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.poll_interval_ms", 100)
	v.SetDefault("render.poll_attempts", 25)
	v.SetDefault("extractor.binary", "yt-dlp")
	v.SetDefault("extractor.fragment_concurrency", 4)
	v.SetDefault("extractor.self_update", false)
	v.SetDefault("filters.images", true)
	v.SetDefault("filters.videos", true)
	v.SetDefault("filters.gifs", true)
	v.SetDefault("server.port", 8090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. Violations are
// fatal for the run before any work starts.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Output.RootDir) == "" {
		return fmt.Errorf("output.root_dir must be set")
	}
	if c.Limits.MaxSimultaneous <= 0 {
		return fmt.Errorf("limits.max_simultaneous must be > 0")
	}
	if c.Limits.PerDomainDefault <= 0 {
		return fmt.Errorf("limits.per_domain_default must be > 0")
	}
	for domain, limit := range c.Limits.PerDomain {
		if limit <= 0 {
			return fmt.Errorf("limits.per_domain[%s] must be > 0", domain)
		}
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.Connections <= 0 {
		return fmt.Errorf("http.connections must be > 0")
	}
	if c.Render.Enabled && c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0 when rendering is enabled")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout config into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RegisteredDomains returns the base domains of the per-domain cap table,
// used for effective-domain normalization.
func (c Config) RegisteredDomains() []string {
	domains := make([]string, 0, len(c.Limits.PerDomain))
	for d := range c.Limits.PerDomain {
		domains = append(domains, d)
	}
	return domains
}

// DomainCap returns the concurrency cap for an effective domain.
func (c Config) DomainCap(domain string) int {
	if limit, ok := c.Limits.PerDomain[strings.ToLower(domain)]; ok {
		return limit
	}
	return c.Limits.PerDomainDefault
}
