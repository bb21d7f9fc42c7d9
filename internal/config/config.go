package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override (SYNOBRIDGE_GATEWAY_TOKEN, ...).
const EnvPrefix = "SYNOBRIDGE_"

// Config is the root configuration. It is loaded once at startup and never
// mutated afterwards.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway" envPrefix:"GATEWAY_"`
	Synology SynologyConfig `json:"synology" yaml:"synology" envPrefix:"SYNOLOGY_"`
	Webhook  WebhookConfig  `json:"webhook" yaml:"webhook" envPrefix:"WEBHOOK_"`
	Bot      BotConfig      `json:"bot" yaml:"bot" envPrefix:"BOT_"`
	Relay    RelayConfig    `json:"relay" yaml:"relay" envPrefix:"RELAY_"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging" envPrefix:"LOG_"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics" envPrefix:"METRICS_"`
}

// GatewayConfig points at the agent gateway's OpenResponses endpoint.
type GatewayConfig struct {
	URL            string `json:"url" yaml:"url" env:"URL"`
	Token          string `json:"token" yaml:"token" env:"TOKEN"`
	Model          string `json:"model" yaml:"model" env:"MODEL"`
	AgentID        string `json:"agentId" yaml:"agentId" env:"AGENT_ID"`
	AgentHeader    string `json:"agentHeader" yaml:"agentHeader" env:"AGENT_HEADER"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds" env:"TIMEOUT_SECONDS"`
}

// Timeout bounds a single gateway round-trip.
func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// SynologyConfig is the chat platform's incoming webhook (bridge -> chat).
type SynologyConfig struct {
	WebhookURL         string `json:"webhookUrl" yaml:"webhookUrl" env:"WEBHOOK_URL"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify" yaml:"insecureSkipVerify" env:"INSECURE_SKIP_VERIFY"`
	TimeoutSeconds     int    `json:"timeoutSeconds" yaml:"timeoutSeconds" env:"TIMEOUT_SECONDS"`
	MaxMessageChars    int    `json:"maxMessageChars,omitempty" yaml:"maxMessageChars,omitempty" env:"MAX_MESSAGE_CHARS"` // 0 = never split
}

func (s SynologyConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// WebhookConfig is the listener for the platform's outgoing webhook (chat -> bridge).
type WebhookConfig struct {
	Host               string `json:"host" yaml:"host" env:"HOST"`
	Port               int    `json:"port" yaml:"port" env:"PORT"`
	Path               string `json:"path" yaml:"path" env:"PATH"`
	MaxBodyBytes       int64  `json:"maxBodyBytes" yaml:"maxBodyBytes" env:"MAX_BODY_BYTES"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute,omitempty" yaml:"rateLimitPerMinute,omitempty" env:"RATE_LIMIT_PER_MINUTE"` // 0 = disabled
	RateLimitBurst     int    `json:"rateLimitBurst,omitempty" yaml:"rateLimitBurst,omitempty" env:"RATE_LIMIT_BURST"`
}

// Addr is the host:port the listener binds to.
func (w WebhookConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// BotConfig is the agent's own identity in the chat, used by the loop guard.
type BotConfig struct {
	Name string `json:"name" yaml:"name" env:"NAME"`
	ID   string `json:"id" yaml:"id" env:"ID"`
}

type RelayConfig struct {
	SerializePerUser bool `json:"serializePerUser" yaml:"serializePerUser" env:"SERIALIZE_PER_USER"`
}

type LoggingConfig struct {
	Verbose bool   `json:"verbose" yaml:"verbose" env:"VERBOSE"`
	Level   string `json:"level" yaml:"level" env:"LEVEL"`   // debug | info | warn | error
	Format  string `json:"format" yaml:"format" env:"FORMAT"` // text | json
	File    string `json:"file,omitempty" yaml:"file,omitempty" env:"FILE"`
}

// MetricsConfig exposes Prometheus text metrics on the webhook listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Path    string `json:"path" yaml:"path" env:"PATH"`
}

// DefaultConfigDir returns the default config directory (~/.synobridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".synobridge"
	}
	return filepath.Join(home, ".synobridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the config file at path (YAML or JSON, by extension), overlays
// SYNOBRIDGE_* environment variables and validates the result. A missing file
// is not an error: the environment alone may carry a complete configuration.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	cfg := Defaults()

	if err := readFile(path, cfg, true); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("cannot apply environment overrides: %w", err)
	}

	cfg.Logging.File = ExpandPath(cfg.Logging.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFile reads the config file at path over the defaults exactly as
// written: ${VAR} references stay unexpanded, the environment is not
// consulted and nothing is validated. Use it when the result is saved back.
// A missing file yields an error wrapping os.ErrNotExist.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if err := readFile(ExpandPath(path), cfg, false); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config, expand bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err != nil {
		return fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	if expand {
		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))
	}
	if err := unmarshal(path, data, cfg); err != nil {
		return fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset VAR
// without a default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, ok := os.LookupEnv(groups[1])
		if !ok || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg to path, as YAML or JSON depending on the extension.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file holds the gateway token.
	return os.WriteFile(path, data, 0o600)
}

// placeholderWebhookURL is what `init` writes until the operator edits it.
const placeholderWebhookURL = "YOUR_SYNOLOGY_INCOMING_WEBHOOK_URL"

// Validate checks that the config has usable values and reports every
// problem at once.
func Validate(cfg *Config) error {
	var errs []string

	if msg := checkURL("gateway.url", cfg.Gateway.URL); msg != "" {
		errs = append(errs, msg)
	}
	if cfg.Gateway.Model == "" {
		errs = append(errs, "gateway.model is required")
	}
	if cfg.Gateway.AgentHeader != "" && cfg.Gateway.AgentID == "" {
		errs = append(errs, "gateway.agentId is required when gateway.agentHeader is set")
	}
	if cfg.Gateway.TimeoutSeconds < 1 {
		errs = append(errs, "gateway.timeoutSeconds must be >= 1")
	}

	if cfg.Synology.WebhookURL == placeholderWebhookURL {
		errs = append(errs, "synology.webhookUrl still holds the placeholder; set the Synology incoming webhook URL")
	} else if msg := checkURL("synology.webhookUrl", cfg.Synology.WebhookURL); msg != "" {
		errs = append(errs, msg)
	}
	if cfg.Synology.TimeoutSeconds < 1 {
		errs = append(errs, "synology.timeoutSeconds must be >= 1")
	}
	if cfg.Synology.MaxMessageChars < 0 {
		errs = append(errs, "synology.maxMessageChars must be >= 0")
	}

	if cfg.Webhook.Port < 1 || cfg.Webhook.Port > 65535 {
		errs = append(errs, "webhook.port must be between 1 and 65535")
	}
	switch {
	case !strings.HasPrefix(cfg.Webhook.Path, "/"):
		errs = append(errs, "webhook.path must start with /")
	case cfg.Webhook.Path == "/health" || cfg.Webhook.Path == "/status":
		errs = append(errs, "webhook.path must not shadow /health or /status")
	}
	if cfg.Webhook.MaxBodyBytes < 1 {
		errs = append(errs, "webhook.maxBodyBytes must be >= 1")
	}
	if cfg.Webhook.RateLimitPerMinute < 0 {
		errs = append(errs, "webhook.rateLimitPerMinute must be >= 0")
	}
	if cfg.Webhook.RateLimitPerMinute > 0 && cfg.Webhook.RateLimitBurst < 1 {
		errs = append(errs, "webhook.rateLimitBurst must be >= 1 when rate limiting is enabled")
	}

	if cfg.Bot.Name == "" && cfg.Bot.ID == "" {
		errs = append(errs, "bot.name or bot.id must be set, otherwise the bridge answers its own replies")
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, "logging.format must be one of: text, json")
	}

	if cfg.Metrics.Enabled {
		switch {
		case !strings.HasPrefix(cfg.Metrics.Path, "/"):
			errs = append(errs, "metrics.path must start with /")
		case cfg.Metrics.Path == cfg.Webhook.Path:
			errs = append(errs, "metrics.path must differ from webhook.path")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkURL(field, raw string) string {
	if raw == "" {
		return field + " is required"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("%s is not a valid URL: %v", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return field + " must use http or https"
	}
	if u.Host == "" {
		return field + " must include a host"
	}
	return ""
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
