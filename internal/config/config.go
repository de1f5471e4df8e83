// Package config loads newsdesk configuration from built-in defaults, an
// optional YAML file, and NEWSDESK_* environment variables, in that order.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/apresai/newsdesk/internal/llm"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NEWSDESK_"

const maxConfigFileSize = 1024 * 1024

const defaults = `
llm:
  provider: anthropic
  model: sonnet
  region: us-east-1
  timeout: 5m
pipeline:
  editor: true
  stage_timeout: 0s
server:
  port: 8000
  max_runs: 3
  shutdown_timeout: 30s
store:
  backend: memory
  table: newsdesk-episodes
  cdn_base_url: https://news.apresai.dev
aws:
  region: us-east-1
observability:
  log_level: info
  service_name: newsdesk
  environment: development
`

type Config struct {
	LLM           LLMConfig           `koanf:"llm"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Server        ServerConfig        `koanf:"server"`
	Store         StoreConfig         `koanf:"store"`
	AWS           AWSConfig           `koanf:"aws"`
	Observability ObservabilityConfig `koanf:"observability"`
}

type LLMConfig struct {
	Provider string        `koanf:"provider" validate:"oneof=anthropic bedrock openai gemini"`
	Model    string        `koanf:"model"`
	APIKey   string        `koanf:"api_key"`
	BaseURL  string        `koanf:"base_url" validate:"omitempty,url"`
	Region   string        `koanf:"region"`
	Timeout  time.Duration `koanf:"timeout" validate:"gte=0"`
}

type PipelineConfig struct {
	Editor       bool          `koanf:"editor"`
	StageTimeout time.Duration `koanf:"stage_timeout" validate:"gte=0"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	MaxRuns         int           `koanf:"max_runs" validate:"min=1"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
}

type StoreConfig struct {
	Backend    string `koanf:"backend" validate:"oneof=memory dynamodb"`
	Table      string `koanf:"table" validate:"required_if=Backend dynamodb"`
	Bucket     string `koanf:"bucket"`
	CDNBaseURL string `koanf:"cdn_base_url" validate:"omitempty,url"`
}

type AWSConfig struct {
	Region string `koanf:"region"`
	// SecretPrefix enables loading API keys from Secrets Manager, e.g. "/newsdesk/".
	SecretPrefix string `koanf:"secret_prefix"`
}

type ObservabilityConfig struct {
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn warning error"`
	Tracing     bool   `koanf:"tracing"`
	ServiceName string `koanf:"service_name"`
	Environment string `koanf:"environment"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaults)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// NEWSDESK_LLM_PROVIDER -> llm.provider, NEWSDESK_SERVER_MAX_RUNS -> server.max_runs
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s is %d bytes, limit is %d", path, info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LLMSettings converts the llm section for llm.New.
func (c *Config) LLMSettings() llm.Settings {
	region := c.LLM.Region
	if region == "" {
		region = c.AWS.Region
	}
	return llm.Settings{
		Provider: c.LLM.Provider,
		Model:    c.LLM.Model,
		APIKey:   c.LLM.APIKey,
		BaseURL:  c.LLM.BaseURL,
		Region:   region,
		Timeout:  c.LLM.Timeout,
	}
}
