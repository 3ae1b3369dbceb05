// Package config loads relay configuration from defaults, an optional YAML
// file, environment variables, and command-line flags, in that order of
// precedence.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	defaultAddr             = ":8080"
	defaultWebhookPath      = "/webhook"
	defaultLocale           = "zh_cn"
	defaultDeliveryAttempts = 1
	defaultDeliveryTimeout  = 10 * time.Second
	defaultRateLimit        = 100
	defaultMaxConns         = 1000
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultLECacheDir       = "./.letsencrypt"
)

// Environment variable and Secret Manager names for the relay's secrets.
const (
	EnvFeishuWebhookURL    = "FEISHU_WEBHOOK_URL"
	EnvFeishuSigningSecret = "FEISHU_SIGNING_SECRET"
	EnvGitHubWebhookSecret = "GITHUB_WEBHOOK_SECRET"
)

var supportedLocales = map[string]bool{"zh_cn": true, "en_us": true, "ja_jp": true}

// Config is the complete relay configuration.
type Config struct {
	LetsEncrypt         LetsEncrypt   `yaml:"letsencrypt"`
	Addr                string        `yaml:"addr"`
	WebhookPath         string        `yaml:"webhook_path"`
	FeishuWebhookURL    string        `yaml:"feishu_webhook_url"`
	FeishuSigningSecret string        `yaml:"feishu_signing_secret"`
	FeishuLocale        string        `yaml:"feishu_locale"`
	GitHubWebhookSecret string        `yaml:"github_webhook_secret"`
	LogLevel            string        `yaml:"log_level"`
	LogFormat           string        `yaml:"log_format"`
	GCPProject          string        `yaml:"gcp_project"`
	AllowedEvents       []string      `yaml:"allowed_events"`
	ExtraSourceCIDRs    []string      `yaml:"extra_source_cidrs"`
	DeliveryTimeout     time.Duration `yaml:"delivery_timeout"`
	DeliveryAttempts    uint          `yaml:"delivery_attempts"`
	RateLimit           int           `yaml:"rate_limit"`
	MaxConns            int           `yaml:"max_conns"`
	GitHubIPsOnly       bool          `yaml:"github_ips_only"`
}

// LetsEncrypt configures automatic TLS certificates.
type LetsEncrypt struct {
	CacheDir string   `yaml:"cache_dir"`
	Email    string   `yaml:"email"`
	Domains  []string `yaml:"domains"`
	Enabled  bool     `yaml:"enabled"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:             defaultAddr,
		WebhookPath:      defaultWebhookPath,
		FeishuLocale:     defaultLocale,
		DeliveryAttempts: defaultDeliveryAttempts,
		DeliveryTimeout:  defaultDeliveryTimeout,
		RateLimit:        defaultRateLimit,
		MaxConns:         defaultMaxConns,
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
		LetsEncrypt:      LetsEncrypt{CacheDir: defaultLECacheDir},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), and the environment as seen through getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("ADDR", &c.Addr)
	str("WEBHOOK_PATH", &c.WebhookPath)
	str(EnvFeishuWebhookURL, &c.FeishuWebhookURL)
	str(EnvFeishuSigningSecret, &c.FeishuSigningSecret)
	str("FEISHU_LOCALE", &c.FeishuLocale)
	str(EnvGitHubWebhookSecret, &c.GitHubWebhookSecret)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("GCP_PROJECT", &c.GCPProject)

	if v := getenv("ALLOWED_EVENTS"); v != "" {
		c.AllowedEvents = splitList(v)
	}
	if v := getenv("EXTRA_SOURCE_CIDRS"); v != "" {
		c.ExtraSourceCIDRs = splitList(v)
	}
	if v := getenv("DELIVERY_ATTEMPTS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid DELIVERY_ATTEMPTS %q: %w", v, err)
		}
		c.DeliveryAttempts = uint(n)
	}
	if v := getenv("DELIVERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid DELIVERY_TIMEOUT %q: %w", v, err)
		}
		c.DeliveryTimeout = d
	}
	for key, dst := range map[string]*int{"RATE_LIMIT": &c.RateLimit, "MAX_CONNS": &c.MaxConns} {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = n
		}
	}
	if v := getenv("GITHUB_IPS_ONLY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid GITHUB_IPS_ONLY %q: %w", v, err)
		}
		c.GitHubIPsOnly = b
	}
	return nil
}

// AddFlags registers the command-line flags understood by ApplyFlags.
// Secrets are deliberately not exposed as flags.
func AddFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to YAML config file")
	fs.String("addr", d.Addr, "HTTP service address")
	fs.String("webhook-path", d.WebhookPath, "path GitHub delivers webhooks to")
	fs.String("feishu-webhook-url", "", "Feishu bot webhook URL (or FEISHU_WEBHOOK_URL)")
	fs.String("feishu-locale", d.FeishuLocale, "locale key of the rich-text post (zh_cn, en_us, ja_jp)")
	fs.StringSlice("allowed-events", nil, "comma-separated GitHub event types to relay; others get 400 (default: all)")
	fs.Uint("delivery-attempts", d.DeliveryAttempts, "attempts per Feishu delivery (1 disables retry)")
	fs.Duration("delivery-timeout", d.DeliveryTimeout, "timeout for each Feishu request")
	fs.Int("rate-limit", d.RateLimit, "maximum requests per minute per IP")
	fs.Int("max-conns", d.MaxConns, "maximum concurrent inbound connections")
	fs.Bool("github-ips-only", false, "only accept webhooks from GitHub hook IP ranges")
	fs.StringSlice("extra-source-cidrs", nil, "comma-separated CIDRs accepted in addition to GitHub's with --github-ips-only")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.String("log-format", d.LogFormat, "log format (text, json)")
	fs.String("gcp-project", "", "GCP project for Secret Manager lookups")
	fs.Bool("letsencrypt", false, "use Let's Encrypt for automatic TLS certificates")
	fs.StringSlice("le-domains", nil, "comma-separated domains for Let's Encrypt certificates")
	fs.String("le-cache-dir", d.LetsEncrypt.CacheDir, "cache directory for Let's Encrypt certificates")
	fs.String("le-email", "", "contact email for Let's Encrypt notifications")
}

// ApplyFlags overrides c with every flag explicitly set on fs.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func()) {
		if err == nil && fs.Changed(name) {
			apply()
		}
	}
	str := func(name string, dst *string) {
		set(name, func() { *dst, err = fs.GetString(name) })
	}
	slice := func(name string, dst *[]string) {
		set(name, func() { *dst, err = fs.GetStringSlice(name) })
	}
	integer := func(name string, dst *int) {
		set(name, func() { *dst, err = fs.GetInt(name) })
	}
	boolean := func(name string, dst *bool) {
		set(name, func() { *dst, err = fs.GetBool(name) })
	}

	str("addr", &c.Addr)
	str("webhook-path", &c.WebhookPath)
	str("feishu-webhook-url", &c.FeishuWebhookURL)
	str("feishu-locale", &c.FeishuLocale)
	slice("allowed-events", &c.AllowedEvents)
	set("delivery-attempts", func() { c.DeliveryAttempts, err = fs.GetUint("delivery-attempts") })
	set("delivery-timeout", func() { c.DeliveryTimeout, err = fs.GetDuration("delivery-timeout") })
	integer("rate-limit", &c.RateLimit)
	integer("max-conns", &c.MaxConns)
	boolean("github-ips-only", &c.GitHubIPsOnly)
	slice("extra-source-cidrs", &c.ExtraSourceCIDRs)
	str("log-level", &c.LogLevel)
	str("log-format", &c.LogFormat)
	str("gcp-project", &c.GCPProject)
	boolean("letsencrypt", &c.LetsEncrypt.Enabled)
	slice("le-domains", &c.LetsEncrypt.Domains)
	str("le-cache-dir", &c.LetsEncrypt.CacheDir)
	str("le-email", &c.LetsEncrypt.Email)

	if err != nil {
		return fmt.Errorf("failed to read flags: %w", err)
	}
	return nil
}

// SecretSource fetches a named secret value.
type SecretSource interface {
	Secret(ctx context.Context, name string) (string, error)
}

// ResolveSecrets fills empty secret fields from src. The Feishu webhook URL
// is required; a failed lookup of an optional secret leaves it empty and is
// reported through warn.
func (c *Config) ResolveSecrets(ctx context.Context, src SecretSource, warn func(name string, err error)) error {
	if c.FeishuWebhookURL == "" {
		v, err := src.Secret(ctx, EnvFeishuWebhookURL)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", EnvFeishuWebhookURL, err)
		}
		c.FeishuWebhookURL = v
	}
	optional := map[string]*string{
		EnvGitHubWebhookSecret: &c.GitHubWebhookSecret,
		EnvFeishuSigningSecret: &c.FeishuSigningSecret,
	}
	for name, dst := range optional {
		if *dst != "" {
			continue
		}
		v, err := src.Secret(ctx, name)
		if err != nil {
			if warn != nil {
				warn(name, err)
			}
			continue
		}
		*dst = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.FeishuWebhookURL == "" {
		return fmt.Errorf("%s is required", EnvFeishuWebhookURL)
	}
	u, err := url.Parse(c.FeishuWebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL", EnvFeishuWebhookURL)
	}
	if !strings.HasPrefix(c.WebhookPath, "/") {
		return fmt.Errorf("webhook path %q must start with /", c.WebhookPath)
	}
	if !supportedLocales[c.FeishuLocale] {
		return fmt.Errorf("unsupported feishu locale %q", c.FeishuLocale)
	}
	if c.DeliveryAttempts < 1 {
		return errors.New("delivery attempts must be at least 1")
	}
	if c.DeliveryTimeout <= 0 {
		return errors.New("delivery timeout must be positive")
	}
	if c.RateLimit <= 0 {
		return errors.New("rate limit must be positive")
	}
	if c.MaxConns <= 0 {
		return errors.New("max conns must be positive")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}
	if c.LetsEncrypt.Enabled && len(c.LetsEncrypt.Domains) == 0 {
		return errors.New("let's encrypt requires at least one domain")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
