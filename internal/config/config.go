package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigDir   = ".aidetect"
	DefaultConfigFile  = "config.yaml"
	DefaultLogFile     = "audit.jsonl"
	DefaultHistoryFile = "history.db"

	// HomeEnv relocates the config directory, mainly for tests and containers.
	HomeEnv = "AIDETECT_HOME"
)

type Config struct {
	ConfigDir  string `yaml:"-"`
	ConfigFile string `yaml:"-"`

	Model      ModelConfig      `yaml:"model"`
	Capability CapabilityConfig `yaml:"capability"`
	History    HistoryConfig    `yaml:"history"`
	Audit      AuditConfig      `yaml:"audit"`
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`

	// Sanitize strips invisible and look-alike characters before detection.
	Sanitize bool `yaml:"sanitize"`
}

// ModelConfig points the model tier at an Open Inference Protocol server.
// An empty Endpoint leaves the model tier without a runtime.
type ModelConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Name      string        `yaml:"name"`
	Tokenizer string        `yaml:"tokenizer"`
	MaxLength int           `yaml:"max_length"`
	Timeout   time.Duration `yaml:"timeout"`
}

// CapabilityConfig selects the generative provider for the prompt tier.
// An empty Provider disables the tier.
type CapabilityConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// Default returns the configuration used when no file or env overrides exist.
func Default(configDir string) *Config {
	return &Config{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, DefaultConfigFile),
		Model: ModelConfig{
			Name:      "roberta-base-openai-detector",
			MaxLength: 512,
			Timeout:   30 * time.Second,
		},
		Capability: CapabilityConfig{
			Timeout: 20 * time.Second,
		},
		History:  HistoryConfig{Enabled: true, Path: filepath.Join(configDir, DefaultHistoryFile)},
		Audit:    AuditConfig{Enabled: true, Path: filepath.Join(configDir, DefaultLogFile)},
		Log:      LogConfig{Level: "warn", Format: "text"},
		Server:   ServerConfig{Addr: "127.0.0.1:8787", MaxBodyBytes: 1 << 20},
		Sanitize: true,
	}
}

// Load builds the configuration: defaults, then the YAML file, then
// environment overrides. configPath may be empty to use
// ~/.aidetect/config.yaml; an explicit path must exist.
func Load(configPath string) (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}
	if err := ensureDir(configDir); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := Default(configDir)
	explicit := configPath != ""
	if explicit {
		cfg.ConfigFile = configPath
	}

	data, err := os.ReadFile(cfg.ConfigFile)
	switch {
	case err == nil:
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", cfg.ConfigFile, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No file: defaults apply.
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	applyEnv(cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dir returns the config directory without creating it.
func Dir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, DefaultConfigDir), nil
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("AIDETECT_MODEL_ENDPOINT", &cfg.Model.Endpoint)
	set("AIDETECT_MODEL_NAME", &cfg.Model.Name)
	set("AIDETECT_PROVIDER", &cfg.Capability.Provider)
	set("AIDETECT_PROVIDER_MODEL", &cfg.Capability.Model)
	set("AIDETECT_PROVIDER_URL", &cfg.Capability.BaseURL)
	set("AIDETECT_HISTORY_PATH", &cfg.History.Path)
	set("AIDETECT_AUDIT_PATH", &cfg.Audit.Path)
	set("AIDETECT_LOG_LEVEL", &cfg.Log.Level)
	set("AIDETECT_SERVER_ADDR", &cfg.Server.Addr)

	// Provider keys apply only when the file did not set one.
	if cfg.Capability.APIKey == "" {
		switch cfg.Capability.Provider {
		case "gemini":
			set("GEMINI_API_KEY", &cfg.Capability.APIKey)
		case "openai":
			set("OPENAI_API_KEY", &cfg.Capability.APIKey)
		}
	}
}

// Validate rejects settings that would fail later in a less obvious way.
func (c *Config) Validate() error {
	var errs []error
	if c.Model.MaxLength <= 0 {
		errs = append(errs, fmt.Errorf("model.max_length must be positive, got %d", c.Model.MaxLength))
	}
	if c.Model.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("model.timeout must be positive, got %s", c.Model.Timeout))
	}
	if c.Capability.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("capability.timeout must be positive, got %s", c.Capability.Timeout))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes))
	}
	return errors.Join(errs...)
}

// CapabilitySettings returns the provider settings in the form the generator
// registry expects.
func (c *Config) CapabilitySettings() map[string]any {
	settings := map[string]any{}
	if c.Capability.APIKey != "" {
		settings["api_key"] = c.Capability.APIKey
	}
	if c.Capability.Model != "" {
		settings["model"] = c.Capability.Model
	}
	if c.Capability.BaseURL != "" {
		settings["base_url"] = c.Capability.BaseURL
	}
	if c.Capability.Timeout > 0 {
		settings["timeout"] = c.Capability.Timeout
	}
	return settings
}

// Sample renders the default configuration as commented YAML.
func Sample(configDir string) ([]byte, error) {
	out, err := yaml.Marshal(Default(configDir))
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	header := "# aidetect configuration\n# model.endpoint: Open Inference Protocol server, e.g. http://localhost:8000\n# capability.provider: gemini, ollama, openai or stub\n"
	return append([]byte(header), out...), nil
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0700)
	}
	return nil
}
