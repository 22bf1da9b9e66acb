package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/recognizer/internal/common"
	"github.com/jo-hoe/recognizer/internal/params"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Recognition RecognitionConfig `yaml:"recognition"`
	LLM         LLMConfig         `yaml:"llm"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr           string        `yaml:"address"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	MaxUploadSize  ByteSize      `yaml:"maxUploadSize"`
	APIKey         string        `yaml:"apiKey"`         // optional static API key header (X-API-Key)
	ShutdownGrace  time.Duration `yaml:"shutdownGrace"`  // time to wait for in-flight requests
	LogLevel       string        `yaml:"logLevel"`       // debug|info|warn|error
	AllowedOrigins []string      `yaml:"allowedOrigins"` // enables CORS when non-empty
}

// RecognitionConfig holds host-side defaults for recognition calls.
type RecognitionConfig struct {
	Language    string `yaml:"language"`    // CLI default output language
	Concurrency int    `yaml:"concurrency"` // CLI batch concurrency
	// Parameters are merged under every call's parameters; request values win.
	Parameters params.Bag `yaml:"parameters"`
}

// LLMConfig selects the recognizer implementation.
type LLMConfig struct {
	Provider string       `yaml:"provider"` // "aiproxy" or "mock"
	Mock     MockSettings `yaml:"mock"`
}

// MockSettings config for the mock recognizer.
type MockSettings struct {
	Delay  time.Duration `yaml:"delay"`
	Prefix string        `yaml:"prefix"`
}

const (
	ProviderAIProxy = "aiproxy"
	ProviderMock    = "mock"
)

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParseByteSize(value.Value)
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

// ParseByteSize parses binary (Ki, KiB, Mi, MiB, ...) and decimal (KB, MB, ...) sizes and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return v, nil
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var RECOGNIZER_CONFIG, then default to "config.yaml".
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	loadDotEnv()
	if path == "" {
		if env := os.Getenv("RECOGNIZER_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// Expand environment variables in file content.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no file involved.
// OPENAI_API_KEY, if set, becomes the default apikey parameter.
func Default() *Config {
	loadDotEnv()
	var cfg Config
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Recognition.Parameters = params.Bag{params.KeyAPIKey: key}
	}
	applyDefaults(&cfg)
	return &cfg
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("load .env", "err", err)
	}
}

// SlogLevel maps Server.LogLevel to a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Server.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(20 * 1024 * 1024) // 20 MiB default
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	// Recognition defaults
	if strings.TrimSpace(cfg.Recognition.Language) == "" {
		cfg.Recognition.Language = common.DefaultLanguage
	}
	if cfg.Recognition.Concurrency <= 0 {
		cfg.Recognition.Concurrency = common.DefaultWorkerCount
	}
	if cfg.Recognition.Parameters == nil {
		cfg.Recognition.Parameters = params.Bag{}
	}
	// An unset ${VAR} expands to ""; drop it so it cannot shadow resolver defaults.
	for k, v := range cfg.Recognition.Parameters {
		if v == "" {
			delete(cfg.Recognition.Parameters, k)
		}
	}

	// LLM defaults
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderAIProxy
	}
	if cfg.LLM.Mock.Prefix == "" {
		cfg.LLM.Mock.Prefix = "Recognized by Mock"
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.LLM.Provider) {
	case ProviderAIProxy, ProviderMock:
	default:
		return fmt.Errorf("unsupported llm.provider %q", cfg.LLM.Provider)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		return fmt.Errorf("invalid server.logLevel %q", cfg.Server.LogLevel)
	}
	for _, o := range cfg.Server.AllowedOrigins {
		if strings.TrimSpace(o) == "" {
			return errors.New("server.allowedOrigins must not contain empty entries")
		}
	}
	return nil
}
