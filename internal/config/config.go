// Package config loads bookmeta settings from a YAML file and the environment.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lepinkainen/bookmeta/internal/backoff"
	"github.com/lepinkainen/bookmeta/internal/book"
	"github.com/lepinkainen/bookmeta/internal/cache"
	"github.com/lepinkainen/bookmeta/internal/ratelimit"
)

// Cache snapshot backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// EnvPrefix prefixes every environment override, e.g. BOOKMETA_SERVER_ADDR.
const EnvPrefix = "BOOKMETA"

// ProviderNames lists the providers the config knows about.
var ProviderNames = []string{string(book.TagOpenLibrary), string(book.TagGoogleBooks), string(book.TagISBNdb)}

// ProviderConfig holds quota, retry and cache settings for one provider.
type ProviderConfig struct {
	Enabled            bool    `mapstructure:"enabled" yaml:"enabled"`
	BaseURL            string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey             string  `mapstructure:"api_key" yaml:"-"`
	RequestsPerMinute  int     `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	RequestsPerDay     int     `mapstructure:"requests_per_day" yaml:"requests_per_day"`
	BurstLimit         int     `mapstructure:"burst_limit" yaml:"burst_limit"`
	RequestsPerSecond  float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	RetryAttempts      int     `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	BaseDelayMs        int     `mapstructure:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMs         int     `mapstructure:"max_delay_ms" yaml:"max_delay_ms"`
	Jitter             bool    `mapstructure:"jitter" yaml:"jitter"`
	TimeoutMs          int     `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	CacheTTLSeconds    int     `mapstructure:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
	NegativeTTLSeconds int     `mapstructure:"negative_ttl_seconds" yaml:"negative_ttl_seconds"`
}

// Quota converts the limits for the rate limiter.
func (p ProviderConfig) Quota() ratelimit.Quota {
	return ratelimit.Quota{
		RequestsPerMinute: p.RequestsPerMinute,
		RequestsPerDay:    p.RequestsPerDay,
		BurstLimit:        p.BurstLimit,
	}
}

// Backoff converts the retry settings.
func (p ProviderConfig) Backoff() backoff.Config {
	return backoff.Config{
		Attempts:  p.RetryAttempts,
		BaseDelay: millis(p.BaseDelayMs),
		MaxDelay:  millis(p.MaxDelayMs),
		Jitter:    p.Jitter,
	}
}

// Timeout is the per-attempt HTTP timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return millis(p.TimeoutMs)
}

// CacheTTL returns the positive and negative cache lifetimes.
func (p ProviderConfig) CacheTTL() (positive, negative time.Duration) {
	return seconds(p.CacheTTLSeconds), seconds(p.NegativeTTLSeconds)
}

// CacheConfig holds cache and persistence settings shared by every provider cache.
type CacheConfig struct {
	CleanupIntervalMs int      `mapstructure:"cleanup_interval_ms" yaml:"cleanup_interval_ms"`
	TTLSecondsDefault int      `mapstructure:"ttl_seconds_default" yaml:"ttl_seconds_default"`
	PersistToFile     bool     `mapstructure:"persist_to_file" yaml:"persist_to_file"`
	FilePath          string   `mapstructure:"file_path" yaml:"file_path"`
	Backend           string   `mapstructure:"backend" yaml:"backend"`
	FlushEvery        int      `mapstructure:"flush_every" yaml:"flush_every"`
	FlushIntervalMs   int      `mapstructure:"flush_interval_ms" yaml:"flush_interval_ms"`
	PreWarmOnStart    bool     `mapstructure:"pre_warm_on_start" yaml:"pre_warm_on_start"`
	PreWarmQueries    []string `mapstructure:"pre_warm_queries" yaml:"pre_warm_queries"`
	HotKeys           int      `mapstructure:"hot_keys" yaml:"hot_keys"`
}

// SnapshotPath returns the snapshot file of one provider cache: the
// configured path with the provider name inserted before the extension.
func (c CacheConfig) SnapshotPath(name string) string {
	ext := filepath.Ext(c.FilePath)
	return strings.TrimSuffix(c.FilePath, ext) + "-" + name + ext
}

// Options converts the settings for cache.New. The snapshotter is left to the caller.
func (c CacheConfig) Options(name string, logger *slog.Logger) cache.Options {
	return cache.Options{
		Name:            name,
		DefaultTTL:      seconds(c.TTLSecondsDefault),
		CleanupInterval: millis(c.CleanupIntervalMs),
		FlushEvery:      c.FlushEvery,
		FlushInterval:   millis(c.FlushIntervalMs),
		Logger:          logger,
	}
}

// MergeConfig is the provider precedence used when merging.
type MergeConfig struct {
	Precedence      []string            `mapstructure:"precedence" yaml:"precedence"`
	FieldPrecedence map[string][]string `mapstructure:"field_precedence" yaml:"field_precedence"`
}

// Policy converts the precedence lists into a merge policy.
func (m MergeConfig) Policy() book.Policy {
	p := book.Policy{FieldPrecedence: make(map[book.Field][]book.Tag)}
	for _, name := range m.Precedence {
		p.Precedence = append(p.Precedence, book.Tag(strings.ToLower(name)))
	}
	for field, names := range m.FieldPrecedence {
		tags := make([]book.Tag, 0, len(names))
		for _, name := range names {
			tags = append(tags, book.Tag(strings.ToLower(name)))
		}
		p.FieldPrecedence[book.Field(strings.ToLower(field))] = tags
	}
	return p
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Config is the complete application configuration.
type Config struct {
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Cache     CacheConfig               `mapstructure:"cache" yaml:"cache"`
	Merge     MergeConfig               `mapstructure:"merge" yaml:"merge"`
	Server    ServerConfig              `mapstructure:"server" yaml:"server"`
	Log       LogConfig                 `mapstructure:"log" yaml:"log"`
}

// Provider returns the settings of name.
func (c *Config) Provider(name string) ProviderConfig {
	return c.Providers[name]
}

type providerDefaults struct {
	rpm, rpd, burst int
	rps             float64
}

var defaultQuotas = map[string]providerDefaults{
	// OpenLibrary asks clients to stay around one request per second.
	"openlibrary": {rpm: 60, burst: 10, rps: 1},
	"googlebooks": {rpm: 100, rpd: 1000, burst: 20},
	"isbndb":      {rpm: 60, rpd: 5000, burst: 10, rps: 1},
}

var defaultBaseURLs = map[string]string{
	"openlibrary": "https://openlibrary.org",
	"googlebooks": "https://www.googleapis.com/books/v1",
	"isbndb":      "https://api2.isbndb.com",
}

// SetDefaults registers every recognized key with its default value.
func SetDefaults(v *viper.Viper) {
	for _, name := range ProviderNames {
		prefix := "providers." + name + "."
		q := defaultQuotas[name]
		v.SetDefault(prefix+"enabled", true)
		v.SetDefault(prefix+"base_url", defaultBaseURLs[name])
		v.SetDefault(prefix+"api_key", "")
		v.SetDefault(prefix+"requests_per_minute", q.rpm)
		v.SetDefault(prefix+"requests_per_day", q.rpd)
		v.SetDefault(prefix+"burst_limit", q.burst)
		v.SetDefault(prefix+"requests_per_second", q.rps)
		v.SetDefault(prefix+"retry_attempts", 3)
		v.SetDefault(prefix+"base_delay_ms", 500)
		v.SetDefault(prefix+"max_delay_ms", 10000)
		v.SetDefault(prefix+"jitter", true)
		v.SetDefault(prefix+"timeout_ms", 10000)
		v.SetDefault(prefix+"cache_ttl_seconds", 86400)
		v.SetDefault(prefix+"negative_ttl_seconds", 3600)
	}

	v.SetDefault("cache.cleanup_interval_ms", 60000)
	v.SetDefault("cache.ttl_seconds_default", 86400)
	v.SetDefault("cache.persist_to_file", false)
	v.SetDefault("cache.file_path", "./cache/bookmeta-cache.json")
	v.SetDefault("cache.backend", BackendJSON)
	v.SetDefault("cache.flush_every", 10)
	v.SetDefault("cache.flush_interval_ms", 30000)
	v.SetDefault("cache.pre_warm_on_start", false)
	v.SetDefault("cache.pre_warm_queries", []string{})
	v.SetDefault("cache.hot_keys", 10)

	v.SetDefault("merge.precedence", []string{"isbndb", "openlibrary", "googlebooks"})
	v.SetDefault("merge.field_precedence", map[string][]string{
		"cover": {"googlebooks", "openlibrary", "isbndb"},
	})

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
}

// BindEnv enables BOOKMETA_* overrides and the conventional API key variables.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("providers.isbndb.api_key", "ISBNDB_API_KEY", EnvPrefix+"_PROVIDERS_ISBNDB_API_KEY"); err != nil {
		return fmt.Errorf("binding ISBNDB_API_KEY: %w", err)
	}
	if err := v.BindEnv("providers.googlebooks.api_key", "GOOGLE_BOOKS_API_KEY", EnvPrefix+"_PROVIDERS_GOOGLEBOOKS_API_KEY"); err != nil {
		return fmt.Errorf("binding GOOGLE_BOOKS_API_KEY: %w", err)
	}
	return nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings for values the components cannot use.
func (c *Config) Validate() error {
	for name, p := range c.Providers {
		if !slices.Contains(ProviderNames, name) {
			return fmt.Errorf("providers.%s: unknown provider", name)
		}
		if p.RequestsPerMinute < 0 || p.RequestsPerDay < 0 || p.BurstLimit < 0 || p.RequestsPerSecond < 0 {
			return fmt.Errorf("providers.%s: quotas must not be negative", name)
		}
		if p.BurstLimit > 0 && p.RequestsPerMinute > 0 && p.BurstLimit > p.RequestsPerMinute {
			return fmt.Errorf("providers.%s: burst_limit %d exceeds requests_per_minute %d", name, p.BurstLimit, p.RequestsPerMinute)
		}
		if p.RetryAttempts < 0 || p.BaseDelayMs < 0 || p.MaxDelayMs < 0 || p.TimeoutMs < 0 {
			return fmt.Errorf("providers.%s: retry and timeout settings must not be negative", name)
		}
		if p.CacheTTLSeconds < 0 || p.NegativeTTLSeconds < 0 {
			return fmt.Errorf("providers.%s: cache ttls must not be negative", name)
		}
	}

	switch c.Cache.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	if c.Cache.PersistToFile && strings.TrimSpace(c.Cache.FilePath) == "" {
		return fmt.Errorf("cache.file_path is required when persist_to_file is set")
	}
	if c.Cache.TTLSecondsDefault < 0 || c.Cache.FlushEvery < 0 || c.Cache.HotKeys < 0 {
		return fmt.Errorf("cache: ttl_seconds_default, flush_every and hot_keys must not be negative")
	}

	for _, name := range c.Merge.Precedence {
		if !slices.Contains(ProviderNames, strings.ToLower(name)) {
			return fmt.Errorf("merge.precedence: unknown provider %q", name)
		}
	}
	for field, names := range c.Merge.FieldPrecedence {
		if !knownField(book.Field(strings.ToLower(field))) {
			return fmt.Errorf("merge.field_precedence: unknown field %q", field)
		}
		for _, name := range names {
			if !slices.Contains(ProviderNames, strings.ToLower(name)) {
				return fmt.Errorf("merge.field_precedence.%s: unknown provider %q", field, name)
			}
		}
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name onto slog.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level: unknown level %q", level)
}

func knownField(f book.Field) bool {
	switch f {
	case book.FieldTitle, book.FieldSubtitle, book.FieldAuthors, book.FieldPublisher,
		book.FieldPublishDate, book.FieldDescription, book.FieldPageCount,
		book.FieldCover, book.FieldLanguage, book.FieldBinding:
		return true
	}
	return false
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
