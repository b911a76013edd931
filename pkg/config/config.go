// Package config provides YAML-based configuration loading for the case desk.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig                 `yaml:"app"`
	Gateways   map[string]GatewayConfig  `yaml:"gateways"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Datastore  DatastoreConfig           `yaml:"datastore"`
	Memory     MemoryConfig              `yaml:"memory"`
	Notify     NotifyConfig              `yaml:"notify"`
	Digest     DigestConfig              `yaml:"digest"`
	Limits     LimitsConfig              `yaml:"limits"`
	Metrics    MetricsConfig             `yaml:"metrics"`
	PromptsDir string                    `yaml:"prompts_dir"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	LogsDir string `yaml:"logs_dir"`
}

type GatewayConfig struct {
	Token   string `yaml:"token"`
	Enabled bool   `yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

// DatastoreConfig selects the run_sql endpoint. Driver "rest" needs URL and
// Key; driver "sqlite" needs Path.
type DatastoreConfig struct {
	Driver  string        `yaml:"driver"`
	URL     string        `yaml:"url"`
	Key     string        `yaml:"key"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

type MemoryConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"` // 0 keeps everything
}

type NotifyConfig struct {
	SMTP    SMTPConfig    `yaml:"smtp"`
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
}

type SMTPConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type ChannelConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

type DigestConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // 5-field cron
}

type LimitsConfig struct {
	LLMRPS              float64       `yaml:"llm_rps"` // 0 disables limiting
	StatusChangeTimeout time.Duration `yaml:"status_change_timeout"`
	ExistenceCacheTTL   time.Duration `yaml:"existence_cache_ttl"` // 0 disables the cache
	ExistenceCacheSize  int           `yaml:"existence_cache_size"`
	IdleWorkerTimeout   time.Duration `yaml:"idle_worker_timeout"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. ${VAR} references
// are expanded from the environment before parsing.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "casedesk"
	}
	if c.App.LogsDir == "" {
		c.App.LogsDir = "logs"
	}
	if c.Datastore.Driver == "" {
		c.Datastore.Driver = "rest"
	}
	if c.Datastore.Timeout == 0 {
		c.Datastore.Timeout = 30 * time.Second
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "casedesk.db"
	}
	if c.Notify.SMTP.Port == 0 {
		c.Notify.SMTP.Port = 587
	}
	if c.Digest.Schedule == "" {
		c.Digest.Schedule = "0 8 * * *"
	}
	if c.Limits.StatusChangeTimeout == 0 {
		c.Limits.StatusChangeTimeout = 2 * time.Minute
	}
	if c.Limits.ExistenceCacheSize == 0 {
		c.Limits.ExistenceCacheSize = 1024
	}
	if c.Limits.IdleWorkerTimeout == 0 {
		c.Limits.IdleWorkerTimeout = 5 * time.Minute
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Datastore.Driver {
	case "rest":
		if c.Datastore.URL == "" {
			errs = append(errs, "datastore.url is required for the rest driver")
		}
		if c.Datastore.Key == "" {
			errs = append(errs, "datastore.key is required for the rest driver")
		}
	case "sqlite":
		if c.Datastore.Path == "" {
			errs = append(errs, "datastore.path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("datastore.driver %q is not one of rest, sqlite", c.Datastore.Driver))
	}

	if name, _ := c.GetDefaultProvider(); name == "" {
		errs = append(errs, "at least one enabled provider is required")
	}
	for _, name := range c.providerNames() {
		p := c.Providers[name]
		if p.Enabled && p.Model == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.model is required", name))
		}
	}

	if tg, ok := c.GetTelegramConfig(); ok && tg.Token == "" {
		errs = append(errs, "gateways.telegram.token is required when enabled")
	}

	if s := c.Notify.SMTP; s.Enabled {
		if s.Host == "" {
			errs = append(errs, "notify.smtp.host is required")
		}
		if s.From == "" {
			errs = append(errs, "notify.smtp.from is required")
		}
		if len(s.To) == 0 {
			errs = append(errs, "notify.smtp.to needs at least one recipient")
		}
	}
	for name, ch := range map[string]ChannelConfig{"slack": c.Notify.Slack, "discord": c.Notify.Discord} {
		if ch.Enabled && (ch.Token == "" || ch.Channel == "") {
			errs = append(errs, fmt.Sprintf("notify.%s needs token and channel", name))
		}
	}

	if c.Digest.Enabled {
		if _, err := cron.ParseStandard(c.Digest.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("digest.schedule: %v", err))
		}
	}
	if c.Limits.LLMRPS < 0 {
		errs = append(errs, "limits.llm_rps must not be negative")
	}
	if c.Limits.StatusChangeTimeout < 0 {
		errs = append(errs, "limits.status_change_timeout must not be negative")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) providerNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetDefaultProvider returns the first enabled provider by name.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	for _, name := range c.providerNames() {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled {
		return tg, true
	}
	return GatewayConfig{}, false
}

// NotifyEnabled reports whether any escalation channel is configured.
func (c *Config) NotifyEnabled() bool {
	n := c.Notify
	return n.SMTP.Enabled || n.Slack.Enabled || n.Discord.Enabled
}
