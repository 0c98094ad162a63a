// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Store    StoreConfig    `mapstructure:"store"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig guards the admin routes with an API key when enabled.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScrapeConfig describes the source page and how to pull fields out of it.
type ScrapeConfig struct {
	URL            string        `mapstructure:"url"`
	Origin         string        `mapstructure:"origin"`
	UserAgent      string        `mapstructure:"user_agent"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	Fields         FieldMappings `mapstructure:"fields"`
}

// FieldMappings binds each record field to a CSS selector evaluated inside
// a row. Swapping selector sets per site revision replaces forking code.
type FieldMappings struct {
	Row      string `mapstructure:"row"`
	Name     string `mapstructure:"name"`
	Category string `mapstructure:"category"`
	Grade    string `mapstructure:"grade"`
	Desc     string `mapstructure:"desc"`
	Img      string `mapstructure:"img"`
}

// HeadlessConfig configures the rendered fetch strategy.
type HeadlessConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	NavTimeoutSec    int      `mapstructure:"nav_timeout_seconds"`
	MarkerWaitSec    int      `mapstructure:"marker_wait_seconds"`
	SettleDelayMs    int      `mapstructure:"settle_delay_ms"`
	MarkerSelector   string   `mapstructure:"marker_selector"`
	ChallengeMarkers []string `mapstructure:"challenge_markers"`
}

// StoreConfig sets the cache mirror path and the remote authoritative feed.
type StoreConfig struct {
	CacheFile     string `mapstructure:"cache_file"`
	RemoteJSONURL string `mapstructure:"remote_json_url"`
}

// RefreshConfig controls the timer-driven refresh loop.
type RefreshConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// GeminiConfig configures the generative-text proxy. An empty APIKey
// disables the /ask route.
type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// NotifyConfig controls the status-widget poller and webhook fan-out.
// Polling is disabled when no webhook URLs are configured.
type NotifyConfig struct {
	StatusURL       string   `mapstructure:"status_url"`
	StatusSelector  string   `mapstructure:"status_selector"`
	IntervalMinutes int      `mapstructure:"interval_minutes"`
	WebhookURLs     []string `mapstructure:"webhook_urls"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RUNEDEX")
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
	v.SetDefault("server.port", 10000)
	v.SetDefault("scrape.url", "https://mabimobi.life/runes?t=search")
	v.SetDefault("scrape.origin", "https://mabimobi.life")
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("scrape.accept_language", "ko-KR,ko;q=0.9,en;q=0.5")
	v.SetDefault("scrape.timeout_seconds", 20)
	v.SetDefault("scrape.fields.row", "tr[data-slot='table-row']")
	v.SetDefault("scrape.fields.name", "td:nth-child(3) span:last-child")
	v.SetDefault("scrape.fields.category", "td:nth-child(2)")
	v.SetDefault("scrape.fields.grade", "td:nth-child(4)")
	v.SetDefault("scrape.fields.desc", "td:nth-child(5) span")
	v.SetDefault("scrape.fields.img", "img")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.marker_wait_seconds", 45)
	v.SetDefault("headless.settle_delay_ms", 8000)
	v.SetDefault("headless.marker_selector", "tr[data-slot='table-row']")
	v.SetDefault("headless.challenge_markers", []string{
		"Just a moment",
		"challenge-platform",
		"잠시만 기다리",
	})
	v.SetDefault("store.cache_file", "runes.json")
	v.SetDefault("store.remote_json_url", "")
	v.SetDefault("refresh.interval_minutes", 0)
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.timeout_seconds", 30)
	v.SetDefault("notify.interval_minutes", 5)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scrape.URL == "" {
		return fmt.Errorf("scrape.url must be set")
	}
	if c.Scrape.Origin == "" {
		return fmt.Errorf("scrape.origin must be set")
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	if c.Scrape.Fields.Row == "" {
		return fmt.Errorf("scrape.fields.row must be set")
	}
	if c.Scrape.Fields.Name == "" {
		return fmt.Errorf("scrape.fields.name must be set")
	}
	if c.Headless.Enabled && c.Headless.NavTimeoutSec <= 0 {
		return fmt.Errorf("headless.nav_timeout_seconds must be > 0 when headless is enabled")
	}
	if c.Store.CacheFile == "" {
		return fmt.Errorf("store.cache_file must be set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if len(c.Notify.WebhookURLs) > 0 && c.Notify.StatusURL == "" {
		return fmt.Errorf("notify.status_url must be set when webhook_urls are configured")
	}
	return nil
}

// ScrapeTimeout converts the configured fetch timeout into a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}

// RefreshInterval returns the timer refresh period; zero disables the loop.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalMinutes) * time.Minute
}

// NotifyInterval returns the status poll period.
func (c Config) NotifyInterval() time.Duration {
	return time.Duration(c.Notify.IntervalMinutes) * time.Minute
}
