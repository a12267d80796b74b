// Package config handles Reverie configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nugget/reverie/internal/prompts"
)

// Supported backend providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Defaults applied to zero-valued fields.
const (
	DefaultProvider       = ProviderOllama
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultModel          = "llama3.1:8b"
	DefaultTimeoutSec     = 300
	DefaultRetries        = 2
	DefaultMaxHistory     = 10
	DefaultMaxTokens      = 16384
	DefaultMemoryLimit    = 100
	DefaultRecentMemories = 5
	DefaultLogFormat      = "text"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/reverie/config.yaml, /etc/reverie/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "reverie", "config.yaml"))
	}

	paths = append(paths, "/etc/reverie/config.yaml")
	return paths
}

// ErrNotFound is returned by FindConfig when no search path exists.
var ErrNotFound = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error wrapping [ErrNotFound].
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNotFound, DefaultSearchPaths())
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" when
// none are named) into the process environment. Variables already set
// are not overridden and missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// Config holds all Reverie configuration.
type Config struct {
	Backend   BackendConfig `yaml:"backend"`
	Node      NodeConfig    `yaml:"node"`
	Agent     AgentConfig   `yaml:"agent"`
	LogLevel  string        `yaml:"log_level" jsonschema:"enum=trace,enum=debug,enum=info,enum=warn,enum=warning,enum=error"`
	LogFormat string        `yaml:"log_format" jsonschema:"enum=text,enum=json"`
}

// BackendConfig selects and addresses the model server.
type BackendConfig struct {
	Provider   string `yaml:"provider" jsonschema:"enum=ollama,enum=openai,default=ollama"`
	URL        string `yaml:"url" jsonschema:"description=Backend base URL. Empty uses the provider default."`
	Model      string `yaml:"model" jsonschema:"default=llama3.1:8b"`
	APIKey     string `yaml:"api_key" jsonschema:"description=Required for the openai provider."`
	TimeoutSec int    `yaml:"timeout_sec" jsonschema:"minimum=0,default=300"`
	// Retries is the number of extra attempts on refused connections.
	// Zero selects the default.
	Retries int `yaml:"retries" jsonschema:"minimum=0,default=2"`
}

// Timeout returns TimeoutSec as a duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSec) * time.Second
}

// NodeConfig shapes the conversation node.
type NodeConfig struct {
	Name string `yaml:"name"`
	// Persona is placed in the system segment of every prompt.
	Persona    string `yaml:"persona"`
	MaxHistory int    `yaml:"max_history" jsonschema:"minimum=0,default=10"`
	MaxTokens  int    `yaml:"max_tokens" jsonschema:"minimum=0,default=16384"`
}

// AgentConfig shapes the contemplation loop.
type AgentConfig struct {
	Topics         []string `yaml:"topics"`
	MemoryLimit    int      `yaml:"memory_limit" jsonschema:"minimum=0,default=100"`
	RecentMemories int      `yaml:"recent_memories" jsonschema:"minimum=0,default=5"`
	// Seed fixes the random source for topic selection. Zero draws
	// from system entropy.
	Seed uint64 `yaml:"seed"`
}

// Load reads configuration from a YAML file, expanding ${VAR}
// references against the environment and filling defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Backend.Provider == "" {
		c.Backend.Provider = DefaultProvider
	}
	c.Backend.Provider = strings.ToLower(strings.TrimSpace(c.Backend.Provider))
	if c.Backend.URL == "" && c.Backend.Provider == ProviderOllama {
		c.Backend.URL = DefaultOllamaURL
	}
	if c.Backend.Model == "" {
		c.Backend.Model = DefaultModel
	}
	if c.Backend.TimeoutSec == 0 {
		c.Backend.TimeoutSec = DefaultTimeoutSec
	}
	if c.Backend.Retries == 0 {
		c.Backend.Retries = DefaultRetries
	}
	if c.Node.Name == "" {
		c.Node.Name = prompts.DefaultNodeName
	}
	if c.Node.MaxHistory == 0 {
		c.Node.MaxHistory = DefaultMaxHistory
	}
	if c.Node.MaxTokens == 0 {
		c.Node.MaxTokens = DefaultMaxTokens
	}
	if len(c.Agent.Topics) == 0 {
		c.Agent.Topics = prompts.Topics()
	}
	if c.Agent.MemoryLimit == 0 {
		c.Agent.MemoryLimit = DefaultMemoryLimit
	}
	if c.Agent.RecentMemories == 0 {
		c.Agent.RecentMemories = DefaultRecentMemories
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch c.Backend.Provider {
	case ProviderOllama:
	case ProviderOpenAI:
		if c.Backend.APIKey == "" {
			return fmt.Errorf("backend.api_key is required for provider %q", ProviderOpenAI)
		}
	default:
		return fmt.Errorf("unknown backend.provider %q (valid: %s, %s)", c.Backend.Provider, ProviderOllama, ProviderOpenAI)
	}

	for name, v := range map[string]int{
		"backend.timeout_sec":   c.Backend.TimeoutSec,
		"backend.retries":       c.Backend.Retries,
		"node.max_history":      c.Node.MaxHistory,
		"node.max_tokens":       c.Node.MaxTokens,
		"agent.memory_limit":    c.Agent.MemoryLimit,
		"agent.recent_memories": c.Agent.RecentMemories,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative (got %d)", name, v)
		}
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	return nil
}
