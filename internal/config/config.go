package config

import (
	"cmp"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/infoscape/internal/privacy"
	"github.com/ppiankov/infoscape/internal/source"
)

const (
	DefaultConfigFile    = "config.yaml"
	DefaultTitle         = "infoscape"
	DefaultStoragePath   = ".infoscape/infoscape.db"
	DefaultWorkers       = 1
	DefaultTimezone      = "Europe/Moscow"
	DefaultRenderLimit   = 10
	DefaultSecretEnv     = "AUTH_SECRET"
	DefaultLifetime      = 12 * time.Hour
	DefaultBotTokenEnv   = "TG_TOKEN"
	DefaultHookSecretEnv = "TG_WEBHOOK_SECRET"
	DefaultBotAPIURL     = "https://api.telegram.org"
	DefaultBotMode       = BotModePolling
	DefaultPollInterval  = 2 * time.Second
	DefaultServerAddr    = ":8000"
)

const (
	BotModePolling = "polling"
	BotModeWebhook = "webhook"
)

// webhookSecretPattern is the character set the Bot API accepts for secret_token.
var webhookSecretPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// ErrInvalidConfig is wrapped by every error Load returns.
var ErrInvalidConfig = errors.New("invalid config")

// Duration wraps time.Duration for YAML unmarshaling from strings like "10m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Title   string        `yaml:"title"`
	Sources []Source      `yaml:"sources"`
	Pages   []PageConfig  `yaml:"pages"`
	Storage StorageConfig `yaml:"storage"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Render  RenderConfig  `yaml:"render"`
	Auth    AuthConfig    `yaml:"auth"`
	Bot     BotConfig     `yaml:"bot"`
	Server  ServerConfig  `yaml:"server"`
	Privacy PrivacyConfig `yaml:"privacy"`

	location *time.Location
}

// Source is one channel. Hidden sources are shown only to authenticated
// visitors.
type Source struct {
	ID     string   `yaml:"id"`
	Title  string   `yaml:"title"`
	Link   string   `yaml:"link"`
	Parser string   `yaml:"parser"`
	Hidden bool     `yaml:"hidden"`
	Pages  []string `yaml:"pages"`
}

type PageConfig struct {
	Slug  string `yaml:"slug"`
	Title string `yaml:"title"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
	// RetainDays prunes older posts after each fetch cycle; 0 keeps everything.
	RetainDays int `yaml:"retain_days"`
}

type FetchConfig struct {
	Daemonize    Duration `yaml:"daemonize"`
	Timeout      Duration `yaml:"timeout"`
	Workers      int      `yaml:"workers"`
	HostInterval Duration `yaml:"host_interval"`
	UserAgent    string   `yaml:"user_agent"`
}

type RenderConfig struct {
	Timezone string   `yaml:"timezone"`
	Limit    int      `yaml:"limit"`
	Keywords []string `yaml:"keywords"`
}

type AuthConfig struct {
	SecretEnv string   `yaml:"secret_env"`
	Lifetime  Duration `yaml:"lifetime"`

	// Resolved from env var at load time.
	Secret string `yaml:"-"`
}

type BotConfig struct {
	TokenEnv     string   `yaml:"token_env"`
	APIURL       string   `yaml:"api_url"`
	SiteHost     string   `yaml:"site_host"`
	Mode         string   `yaml:"mode"`
	PollInterval Duration `yaml:"poll_interval"`

	// WebhookSecretEnv names the env var holding the secret_token the Bot API
	// echoes in the X-Telegram-Bot-Api-Secret-Token header.
	WebhookSecretEnv string `yaml:"webhook_secret_env"`

	// Resolved from env vars at load time.
	Token         string `yaml:"-"`
	WebhookSecret string `yaml:"-"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

// Page is a named group of sources, ready for display.
type Page struct {
	Slug    string
	Title   string
	Sources []Source
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: config dir is required", ErrInvalidConfig)
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w: %w", ErrInvalidConfig, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w: %w", ErrInvalidConfig, err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w: %w", ErrInvalidConfig, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].Parser == "" {
			cfg.Sources[i].Parser = source.ParserTelegram
		}
		if cfg.Sources[i].Title == "" {
			cfg.Sources[i].Title = cfg.Sources[i].ID
		}
	}
	for i := range cfg.Pages {
		if cfg.Pages[i].Title == "" {
			cfg.Pages[i].Title = cfg.Pages[i].Slug
		}
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Fetch.Timeout.Duration == 0 {
		cfg.Fetch.Timeout.Duration = source.DefaultFetchTimeout
	}
	if cfg.Fetch.Workers == 0 {
		cfg.Fetch.Workers = DefaultWorkers
	}
	if cfg.Fetch.HostInterval.Duration == 0 {
		cfg.Fetch.HostInterval.Duration = source.DefaultHostInterval
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = source.DefaultUserAgent
	}
	if cfg.Render.Timezone == "" {
		cfg.Render.Timezone = DefaultTimezone
	}
	if cfg.Render.Limit == 0 {
		cfg.Render.Limit = DefaultRenderLimit
	}
	if cfg.Auth.SecretEnv == "" {
		cfg.Auth.SecretEnv = DefaultSecretEnv
	}
	if cfg.Auth.Lifetime.Duration == 0 {
		cfg.Auth.Lifetime.Duration = DefaultLifetime
	}
	if cfg.Bot.TokenEnv == "" {
		cfg.Bot.TokenEnv = DefaultBotTokenEnv
	}
	if cfg.Bot.WebhookSecretEnv == "" {
		cfg.Bot.WebhookSecretEnv = DefaultHookSecretEnv
	}
	if cfg.Bot.APIURL == "" {
		cfg.Bot.APIURL = DefaultBotAPIURL
	}
	if cfg.Bot.Mode == "" {
		cfg.Bot.Mode = DefaultBotMode
	}
	if cfg.Bot.PollInterval.Duration == 0 {
		cfg.Bot.PollInterval.Duration = DefaultPollInterval
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
}

func resolveEnv(cfg *Config) {
	if cfg.Auth.SecretEnv != "" {
		cfg.Auth.Secret = os.Getenv(cfg.Auth.SecretEnv)
	}
	if cfg.Bot.TokenEnv != "" {
		cfg.Bot.Token = os.Getenv(cfg.Bot.TokenEnv)
	}
	if cfg.Bot.WebhookSecretEnv != "" {
		cfg.Bot.WebhookSecret = os.Getenv(cfg.Bot.WebhookSecretEnv)
	}
}

func validate(cfg *Config) error {
	if len(cfg.Sources) == 0 {
		return errors.New("sources: at least one source must be configured")
	}

	slugs := make(map[string]bool, len(cfg.Pages))
	for i, p := range cfg.Pages {
		if strings.TrimSpace(p.Slug) == "" {
			return fmt.Errorf("pages[%d]: slug is required", i)
		}
		if slugs[p.Slug] {
			return fmt.Errorf("pages[%d]: duplicate slug %q", i, p.Slug)
		}
		slugs[p.Slug] = true
	}

	ids := make(map[string]bool, len(cfg.Sources))
	for i, s := range cfg.Sources {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if ids[s.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, s.ID)
		}
		ids[s.ID] = true

		if !source.SupportedParser(s.Parser) {
			return fmt.Errorf("sources[%d]: unknown parser %q (want %s)", i, s.Parser, source.ParserTelegram)
		}
		if err := validateLink(s.Link); err != nil {
			return fmt.Errorf("sources[%d].link: %w", i, err)
		}
		for _, slug := range s.Pages {
			if !slugs[slug] {
				return fmt.Errorf("sources[%d]: unknown page %q", i, slug)
			}
		}
	}

	loc, err := time.LoadLocation(cfg.Render.Timezone)
	if err != nil {
		return fmt.Errorf("render.timezone: %w", err)
	}
	cfg.location = loc

	if cfg.Render.Limit < 0 {
		return errors.New("render.limit: must not be negative")
	}
	if cfg.Storage.RetainDays < 0 {
		return errors.New("storage.retain_days: must not be negative")
	}
	if cfg.Fetch.Workers < 0 {
		return errors.New("fetch.workers: must not be negative")
	}

	durations := []struct {
		name string
		d    Duration
	}{
		{"fetch.daemonize", cfg.Fetch.Daemonize},
		{"fetch.timeout", cfg.Fetch.Timeout},
		{"fetch.host_interval", cfg.Fetch.HostInterval},
		{"auth.lifetime", cfg.Auth.Lifetime},
		{"bot.poll_interval", cfg.Bot.PollInterval},
	}
	for _, d := range durations {
		if d.d.Duration < 0 {
			return fmt.Errorf("%s: must not be negative", d.name)
		}
	}

	switch cfg.Bot.Mode {
	case BotModePolling, BotModeWebhook:
		// valid
	default:
		return fmt.Errorf("bot.mode: unknown mode %q (want polling or webhook)", cfg.Bot.Mode)
	}
	if cfg.Bot.WebhookSecret != "" && !webhookSecretPattern.MatchString(cfg.Bot.WebhookSecret) {
		return fmt.Errorf("bot: %s must be 1-256 characters of A-Z, a-z, 0-9, _ and -", cfg.Bot.WebhookSecretEnv)
	}

	if cfg.Privacy.Redact.Enabled {
		if _, err := privacy.New(cfg.Privacy.Redact.Patterns); err != nil {
			return fmt.Errorf("privacy.redact: %w", err)
		}
	}

	return nil
}

func validateLink(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) url", link)
	}
	return nil
}

// Location returns the reference timezone for rendering.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		loc, err := time.LoadLocation(c.Render.Timezone)
		if err != nil {
			return time.UTC
		}
		c.location = loc
	}
	return c.location
}

// SortedSources returns all sources ordered by title, then id.
func (c *Config) SortedSources() []Source {
	out := slices.Clone(c.Sources)
	slices.SortStableFunc(out, func(a, b Source) int {
		return cmp.Or(cmp.Compare(a.Title, b.Title), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// DerivePages groups sources into pages in declaration order. Member sources
// are ordered by title; hidden sources are included.
func (c *Config) DerivePages() []Page {
	sorted := c.SortedSources()
	pages := make([]Page, 0, len(c.Pages))
	for _, pc := range c.Pages {
		page := Page{Slug: pc.Slug, Title: pc.Title}
		for _, s := range sorted {
			if slices.Contains(s.Pages, pc.Slug) {
				page.Sources = append(page.Sources, s)
			}
		}
		pages = append(pages, page)
	}
	return pages
}

// Page returns the derived page with the given slug.
func (c *Config) Page(slug string) (Page, bool) {
	for _, p := range c.DerivePages() {
		if p.Slug == slug {
			return p, true
		}
	}
	return Page{}, false
}

// Redactor builds the configured redactor; nil when redaction is disabled.
func (c *Config) Redactor() (*privacy.Redactor, error) {
	if !c.Privacy.Redact.Enabled {
		return nil, nil
	}
	return privacy.New(c.Privacy.Redact.Patterns)
}
