package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the triage engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Tickets  TicketsConfig  `yaml:"tickets"`
	Store    StoreConfig    `yaml:"store"`
	Cache    CacheConfig    `yaml:"cache"`
	Bulk     BulkConfig     `yaml:"bulk"`
	Rules    RulesConfig    `yaml:"rules"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	MaxRecvMsgBytes int           `yaml:"maxRecvMsgBytes"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// LLMConfig selects and configures the text generation provider.
type LLMConfig struct {
	Provider        string  `yaml:"provider"`
	Model           string  `yaml:"model"`
	BaseURL         string  `yaml:"baseURL"`
	AnthropicAPIKey string  `yaml:"anthropicAPIKey"`
	OpenAIAPIKey    string  `yaml:"openaiAPIKey"`
	MaxTokens       int     `yaml:"maxTokens"`
	Temperature     float64 `yaml:"temperature"`
}

// PipelineConfig bounds each gateway call of the analysis pipelines.
type PipelineConfig struct {
	ClassifyTimeout time.Duration `yaml:"classifyTimeout"`
	GenerateTimeout time.Duration `yaml:"generateTimeout"`
	ValidateTimeout time.Duration `yaml:"validateTimeout"`
	PriorityTimeout time.Duration `yaml:"priorityTimeout"`
}

// TicketsConfig configures access to the ticket source API.
type TicketsConfig struct {
	BaseURL      string            `yaml:"baseURL"`
	Email        string            `yaml:"email"`
	Token        string            `yaml:"token"`
	Timeout      time.Duration     `yaml:"timeout"`
	MaxAttempts  int               `yaml:"maxAttempts"`
	BaseBackoff  time.Duration     `yaml:"baseBackoff"`
	FieldMapping map[string]string `yaml:"fieldMapping"`
}

// StoreConfig configures result persistence.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls caching of fetched ticket records.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Backend      string        `yaml:"backend"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	RecordTTL    time.Duration `yaml:"recordTTL"`
}

// BulkConfig controls the bulk job orchestrator.
type BulkConfig struct {
	ItemDelay         time.Duration `yaml:"itemDelay"`
	MaxConcurrentJobs int           `yaml:"maxConcurrentJobs"`
	Retention         time.Duration `yaml:"retention"`
	RetentionSchedule string        `yaml:"retentionSchedule"`
}

// RulesConfig points at an optional classifier phrase table.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_TRIAGE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Validate checks that the settings needed to talk to the model provider are present.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("llm.anthropicAPIKey is required when llm.provider=anthropic")
		}
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("llm.openaiAPIKey is required when llm.provider=openai")
		}
	default:
		return fmt.Errorf("llm.provider must be 'anthropic' or 'openai', got %q", c.LLM.Provider)
	}
	if c.Bulk.MaxConcurrentJobs < 0 {
		return fmt.Errorf("bulk.maxConcurrentJobs must be >= 0, got %d", c.Bulk.MaxConcurrentJobs)
	}
	switch c.Cache.Backend {
	case "memory", "valkey":
	default:
		return fmt.Errorf("cache.backend must be 'memory' or 'valkey', got %q", c.Cache.Backend)
	}
	return nil
}

// APIKey returns the key for the configured provider.
func (c LLMConfig) APIKey() string {
	if c.Provider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
			MaxRecvMsgBytes: 8 << 20,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		LLM: LLMConfig{
			Provider:    "anthropic",
			MaxTokens:   4096,
			Temperature: 0.2,
		},
		Pipeline: PipelineConfig{
			ClassifyTimeout: 60 * time.Second,
			GenerateTimeout: 90 * time.Second,
			ValidateTimeout: 60 * time.Second,
			PriorityTimeout: 60 * time.Second,
		},
		Tickets: TicketsConfig{
			Timeout:      30 * time.Second,
			MaxAttempts:  3,
			BaseBackoff:  time.Second,
			FieldMapping: DefaultFieldMapping(),
		},
		Store: StoreConfig{Path: "./triage.db"},
		Cache: CacheConfig{
			Enabled:      false,
			Backend:      "memory",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			RecordTTL:    10 * time.Minute,
		},
		Bulk: BulkConfig{
			ItemDelay:         500 * time.Millisecond,
			Retention:         24 * time.Hour,
			RetentionSchedule: "@every 10m",
		},
		Rules: RulesConfig{Path: "configs/rules/phrases.yaml"},
	}
}

// DefaultFieldMapping maps ticket custom-field ids to the display names used as priority context.
func DefaultFieldMapping() map[string]string {
	return map[string]string{
		"40860554056601": "Platform",
		"49138745436441": "Customer Name",
		"9774746026137":  "Monthly Plan Tier",
		"50198956158617": "Deal Value (in ARR)",
		"53579979659417": "Impact to Hevo - Retention value",
		"53579969564697": "Impact to Hevo - Upsell potential",
		"47366530736921": "Fivetran parity",
		"49138927053465": "Urgency",
		"47498314998041": "Workaround available",
		"49139242724633": "Request Category",
		"47601744118553": "New Destination",
		"47601699917081": "New Source",
		"49277175956377": "Feature Request Title",
		"49276047881369": "Relevant Details",
	}
}

func applyEnvOverrides(cfg *Config) {
	envString(&cfg.Server.Address, "MIRADOR_TRIAGE_SERVER_ADDRESS")
	envString(&cfg.Server.MetricsAddress, "MIRADOR_TRIAGE_METRICS_ADDRESS")
	envString(&cfg.Logging.Level, "MIRADOR_TRIAGE_LOG_LEVEL")
	if v := os.Getenv("MIRADOR_TRIAGE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}

	envString(&cfg.LLM.Provider, "MIRADOR_TRIAGE_LLM_PROVIDER")
	envString(&cfg.LLM.Model, "MIRADOR_TRIAGE_LLM_MODEL")
	envString(&cfg.LLM.BaseURL, "MIRADOR_TRIAGE_LLM_BASE_URL")
	envString(&cfg.LLM.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envString(&cfg.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	envInt(&cfg.LLM.MaxTokens, "MIRADOR_TRIAGE_LLM_MAX_TOKENS")
	if v := os.Getenv("MIRADOR_TRIAGE_LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = f
		}
	}

	envDuration(&cfg.Pipeline.ClassifyTimeout, "MIRADOR_TRIAGE_CLASSIFY_TIMEOUT")
	envDuration(&cfg.Pipeline.GenerateTimeout, "MIRADOR_TRIAGE_GENERATE_TIMEOUT")
	envDuration(&cfg.Pipeline.ValidateTimeout, "MIRADOR_TRIAGE_VALIDATE_TIMEOUT")
	envDuration(&cfg.Pipeline.PriorityTimeout, "MIRADOR_TRIAGE_PRIORITY_TIMEOUT")

	envString(&cfg.Tickets.BaseURL, "MIRADOR_TRIAGE_TICKETS_URL")
	envString(&cfg.Tickets.Email, "MIRADOR_TRIAGE_TICKETS_EMAIL")
	envString(&cfg.Tickets.Token, "MIRADOR_TRIAGE_TICKETS_TOKEN")
	envDuration(&cfg.Tickets.Timeout, "MIRADOR_TRIAGE_TICKETS_TIMEOUT")
	envInt(&cfg.Tickets.MaxAttempts, "MIRADOR_TRIAGE_TICKETS_MAX_ATTEMPTS")

	envString(&cfg.Store.Path, "MIRADOR_TRIAGE_STORE_PATH")

	if v := os.Getenv("MIRADOR_TRIAGE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	envString(&cfg.Cache.Backend, "MIRADOR_TRIAGE_CACHE_BACKEND")
	envString(&cfg.Cache.Addr, "MIRADOR_TRIAGE_CACHE_ADDR")
	envString(&cfg.Cache.Username, "MIRADOR_TRIAGE_CACHE_USERNAME")
	envString(&cfg.Cache.Password, "MIRADOR_TRIAGE_CACHE_PASSWORD")
	envInt(&cfg.Cache.DB, "MIRADOR_TRIAGE_CACHE_DB")
	if v := os.Getenv("MIRADOR_TRIAGE_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	envDuration(&cfg.Cache.RecordTTL, "MIRADOR_TRIAGE_CACHE_RECORD_TTL")

	envDuration(&cfg.Bulk.ItemDelay, "MIRADOR_TRIAGE_BULK_ITEM_DELAY")
	envInt(&cfg.Bulk.MaxConcurrentJobs, "MIRADOR_TRIAGE_BULK_MAX_JOBS")
	envDuration(&cfg.Bulk.Retention, "MIRADOR_TRIAGE_BULK_RETENTION")
	envString(&cfg.Bulk.RetentionSchedule, "MIRADOR_TRIAGE_BULK_RETENTION_SCHEDULE")

	envString(&cfg.Rules.Path, "MIRADOR_TRIAGE_RULES_PATH")
}

func envString(field *string, key string) {
	if v := os.Getenv(key); v != "" {
		*field = v
	}
}

func envInt(field *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*field = n
		}
	}
}

func envDuration(field *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*field = d
		}
	}
}
