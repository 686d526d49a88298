// Package config provides configuration management for the application.
//
// Configuration is read from a YAML file. Before parsing, ${VAR} and
// ${VAR:-default} references anywhere in the file are expanded from the
// environment, which is first seeded from an optional .env file. Selected
// settings can then be overridden by plain environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/IncredibleDevHQ/agent-panel/internal/core"
)

// Config holds the application configuration
type Config struct {
	// Model is the default model ID ("provider:name" or a bare name).
	// Empty selects the first configured model.
	Model       string           `yaml:"model"`
	Temperature *float64         `yaml:"temperature"`
	TopP        *float64         `yaml:"top_p"`
	Log         LogConfig        `yaml:"log"`
	HTTP        HTTPConfig       `yaml:"http"`
	Cache       CacheConfig      `yaml:"cache"`
	ModelData   ModelDataConfig  `yaml:"model_data"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Clients     []ProviderConfig `yaml:"clients"`
}

// LogConfig controls the slog handler
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
	// Format is auto (colored text on a terminal, JSON otherwise), text or json
	Format string `yaml:"format"`
}

// HTTPConfig holds upstream HTTP client timeouts, in seconds
type HTTPConfig struct {
	// Timeout is the overall request timeout; 0 disables it so streams are not cut
	Timeout int `yaml:"timeout"`
	// ResponseHeaderTimeout bounds the wait for response headers
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// CacheConfig configures the discovered-model catalogue cache
type CacheConfig struct {
	// Type is "local", "redis" or "none"
	Type string `yaml:"type"`
	// CacheDir holds the local cache file
	CacheDir string `yaml:"cache_dir"`
	// RefreshInterval is how often discovery re-runs, in seconds; 0 disables
	RefreshInterval int         `yaml:"refresh_interval"`
	Redis           RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis cache settings
type RedisConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
	// TTL in seconds
	TTL int `yaml:"ttl"`
}

// ModelDataConfig points at a models.json metadata registry used to fill in
// limits of discovered models
type ModelDataConfig struct {
	// URL is an http(s) URL or a local file path; empty disables enrichment
	URL string `yaml:"url"`
}

// MetricsConfig controls the Prometheus listener
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Endpoint string `yaml:"endpoint"`
}

// ProviderConfig configures one client. Clients are kept in file order,
// which is also the order models are listed in.
type ProviderConfig struct {
	// Type selects the adapter: openai, openai-compatible, azure-openai, claude, qianwen, ollama
	Type string `yaml:"type"`
	// Name identifies the client in model IDs; defaults to the type. An
	// openai-compatible client without api_base takes its base URL from the
	// platform table entry for this name.
	Name           string `yaml:"name"`
	APIKey         string `yaml:"api_key"`
	APIBase        string `yaml:"api_base"`
	OrganizationID string `yaml:"organization_id"`
	APIVersion     string `yaml:"api_version"`
	ChatEndpoint   string `yaml:"chat_endpoint"`
	// Discover enables live model listing from the vendor
	Discover bool          `yaml:"discover"`
	Models   []ModelConfig `yaml:"models"`
	Extra    *ExtraConfig  `yaml:"extra"`
}

// ModelConfig declares a model for clients without a built-in catalogue
type ModelConfig struct {
	Name            string         `yaml:"name"`
	Capabilities    string         `yaml:"capabilities"`
	MaxInputTokens  int            `yaml:"max_input_tokens"`
	MaxOutputTokens int            `yaml:"max_output_tokens"`
	ExtraFields     map[string]any `yaml:"extra_fields"`
}

// ExtraConfig holds per-client transport settings
type ExtraConfig struct {
	// Proxy: unset falls back to HTTPS_PROXY/ALL_PROXY; "", "-" and "false" disable
	Proxy *string `yaml:"proxy"`
	// ConnectTimeout in seconds; default 10
	ConnectTimeout int `yaml:"connect_timeout"`
}

// ProxySetting normalizes Proxy into the httpclient convention where ""
// means "use the environment".
func (e *ExtraConfig) ProxySetting() string {
	if e == nil || e.Proxy == nil {
		return ""
	}
	if strings.TrimSpace(*e.Proxy) == "" {
		return "-"
	}
	return *e.Proxy
}

// ConnectTimeoutSeconds returns the connect timeout or 0 when unset.
func (e *ExtraConfig) ConnectTimeoutSeconds() int {
	if e == nil {
		return 0
	}
	return e.ConnectTimeout
}

// ModelList converts the declared models into core models for provider.
func (p ProviderConfig) ModelList(provider string) ([]core.Model, error) {
	models := make([]core.Model, 0, len(p.Models))
	for _, m := range p.Models {
		if m.Name == "" {
			return nil, fmt.Errorf("client %q: model without a name", provider)
		}
		caps, err := core.ParseCapabilities(m.Capabilities)
		if err != nil {
			return nil, fmt.Errorf("client %q model %q: %w", provider, m.Name, err)
		}
		models = append(models, core.Model{
			Provider:        provider,
			Name:            m.Name,
			Capabilities:    caps,
			MaxInputTokens:  m.MaxInputTokens,
			MaxOutputTokens: m.MaxOutputTokens,
			ExtraFields:     m.ExtraFields,
		})
	}
	return models, nil
}

// buildDefaultConfig returns the configuration used when nothing overrides it.
func buildDefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		HTTP: HTTPConfig{
			Timeout:               0,
			ResponseHeaderTimeout: 600,
		},
		Cache: CacheConfig{
			Type:            "local",
			CacheDir:        ".cache",
			RefreshInterval: 3600,
			Redis: RedisConfig{
				Key: "agentpanel:models",
				TTL: 86400,
			},
		},
		Metrics: MetricsConfig{
			Address:  ":9090",
			Endpoint: "/metrics",
		},
	}
}

// Load reads the optional .env file, then the YAML file at path, then
// environment overrides. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := buildDefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := parse(raw, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyProviderEnvFallbacks(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML content on top of the defaults and applies credential
// fallbacks. Unlike Load it neither reads .env nor applies plain overrides.
func Parse(content []byte) (*Config, error) {
	cfg := buildDefaultConfig()
	if err := parse(content, cfg); err != nil {
		return nil, err
	}
	applyProviderEnvFallbacks(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(raw []byte, cfg *Config) error {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if root.Kind == 0 {
		return nil
	}
	if clients := lookupKey(&root, "clients"); clients != nil && clients.Kind != yaml.SequenceNode && clients.Tag != "!!null" {
		return fmt.Errorf("clients: invalid value: expected a list (line %d)", clients.Line)
	}
	expandNode(&root)
	if err := root.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func lookupKey(doc *yaml.Node, key string) *yaml.Node {
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == key {
			return doc.Content[i+1]
		}
	}
	return nil
}

// expandNode expands environment references in every scalar value. Keys
// are left alone.
func expandNode(n *yaml.Node) {
	switch n.Kind {
	case yaml.ScalarNode:
		if expanded := expandString(n.Value); expanded != n.Value {
			n.Value = expanded
			// Re-resolve so expanded numbers and booleans decode into typed fields.
			if n.Tag == "!!str" {
				n.Tag = ""
				n.Style = 0
			}
		}
	case yaml.MappingNode:
		for i := 1; i < len(n.Content); i += 2 {
			expandNode(n.Content[i])
		}
	default:
		for _, c := range n.Content {
			expandNode(c)
		}
	}
}

// Validate checks structural rules that do not depend on registered adapters.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Clients))
	for i, client := range c.Clients {
		if client.Type == "" {
			return fmt.Errorf("clients[%d]: type is required", i)
		}
		name := client.ResolvedName()
		if _, dup := seen[name]; dup {
			return fmt.Errorf("clients[%d]: duplicate client name %q", i, name)
		}
		seen[name] = struct{}{}
		if _, err := client.ModelList(name); err != nil {
			return err
		}
	}
	switch c.Cache.Type {
	case "", "none", "local", "redis":
	default:
		return fmt.Errorf("cache.type: unsupported value %q", c.Cache.Type)
	}
	if c.Cache.Type == "redis" && c.Cache.Redis.URL == "" {
		return fmt.Errorf("cache.redis.url is required when cache.type is redis")
	}
	return nil
}

// ResolvedName returns the client's name, defaulting to its type.
func (p ProviderConfig) ResolvedName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Type
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. An unset or empty
// variable takes the default when one is given; otherwise the reference is
// left untouched.
func expandString(s string) string {
	if s == "" || !strings.Contains(s, "${") {
		return s
	}
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// applyEnvOverrides applies plain environment variables on top of the file.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("AGENTPANEL_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if err := envInt("HTTP_TIMEOUT", &cfg.HTTP.Timeout); err != nil {
		return err
	}
	if err := envInt("HTTP_RESPONSE_HEADER_TIMEOUT", &cfg.HTTP.ResponseHeaderTimeout); err != nil {
		return err
	}
	if v := os.Getenv("CACHE_TYPE"); v != "" {
		cfg.Cache.Type = v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		cfg.Cache.CacheDir = v
	}
	if err := envInt("CACHE_REFRESH_INTERVAL", &cfg.Cache.RefreshInterval); err != nil {
		return err
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Redis.URL = v
	}
	if v := os.Getenv("REDIS_KEY"); v != "" {
		cfg.Cache.Redis.Key = v
	}
	if err := envInt("REDIS_TTL", &cfg.Cache.Redis.TTL); err != nil {
		return err
	}
	if v := os.Getenv("MODEL_LIST_URL"); v != "" {
		cfg.ModelData.URL = v
	}
	if err := envBool("METRICS_ENABLED", &cfg.Metrics.Enabled); err != nil {
		return err
	}
	if v := os.Getenv("METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
	if v := os.Getenv("METRICS_ENDPOINT"); v != "" {
		cfg.Metrics.Endpoint = v
	}
	return nil
}

// applyProviderEnvFallbacks fills missing credentials from <NAME>_API_KEY,
// <NAME>_API_BASE and <NAME>_ORGANIZATION_ID, where NAME is the upper-cased
// client name with dashes turned into underscores.
func applyProviderEnvFallbacks(cfg *Config) {
	for i := range cfg.Clients {
		c := &cfg.Clients[i]
		prefix := EnvPrefix(c.ResolvedName())
		fill := func(field *string, suffix string) {
			if *field == "" || strings.Contains(*field, "${") {
				if v := os.Getenv(prefix + "_" + suffix); v != "" {
					*field = v
				}
			}
		}
		fill(&c.APIKey, "API_KEY")
		fill(&c.APIBase, "API_BASE")
		fill(&c.OrganizationID, "ORGANIZATION_ID")
	}
}

// EnvPrefix returns the environment variable prefix for a client name.
func EnvPrefix(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s value: %q", key, v)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s value: %q", key, v)
	}
	*dst = b
	return nil
}
