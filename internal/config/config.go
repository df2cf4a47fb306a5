package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Memory      MemoryConfig      `yaml:"memory"`
	LLM         LLMConfig         `yaml:"llm"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	MySQL MySQLConfig `yaml:"mysql"`
	Redis RedisConfig `yaml:"redis"`
}

type MySQLConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type VectorStoreConfig struct {
	// Backend is "qdrant" or "chromem".
	Backend      string        `yaml:"backend"`
	VectorSize   int           `yaml:"vector_size"`
	VerifyWrites bool          `yaml:"verify_writes"`
	Qdrant       QdrantConfig  `yaml:"qdrant"`
	Chromem      ChromemConfig `yaml:"chromem"`
}

type QdrantConfig struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	APIKey     string        `yaml:"api_key"`
	UseTLS     bool          `yaml:"use_tls"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type ChromemConfig struct {
	// Path enables persistence; empty keeps the store in memory.
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

type EmbeddingConfig struct {
	// Provider is one of "openai", "azure", "tei", "gemini", "fastembed", "hash".
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	APIVersion string        `yaml:"api_version"`
	Dimension  int           `yaml:"dimension"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	CacheSize  int           `yaml:"cache_size"`
	CacheDir   string        `yaml:"cache_dir"`
}

type MemoryConfig struct {
	Collection         string  `yaml:"collection"`
	FeedbackCollection string  `yaml:"feedback_collection"`
	SearchLimit        int     `yaml:"search_limit"`
	ScoreThreshold     float32 `yaml:"score_threshold"`
}

type LLMConfig struct {
	DefaultModel   string        `yaml:"default_model"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`
	// PromptDir holds JSON template overrides loaded at startup.
	PromptDir      string        `yaml:"prompt_dir"`

	// Temperature is nil when unset; an explicit 0 is kept.
	Temperature *float64               `yaml:"temperature"`
	MaxTokens   int                    `yaml:"max_tokens"`
	Providers   []ProviderConfig       `yaml:"providers"`
	Models      []ModelConfig          `yaml:"models"`
	Fallbacks   map[string][]string    `yaml:"fallbacks"`
	Routes      map[string]RouteConfig `yaml:"routes"`
}

// RouteConfig overrides the defaults of one request type.
type RouteConfig struct {
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

type ProviderConfig struct {
	Name         string `yaml:"name"`
	BaseURL      string `yaml:"base_url"`
	RateLimitRPM int    `yaml:"rate_limit_rpm"`
	Referer      string `yaml:"referer"`
	Title        string `yaml:"title"`
}

type ModelConfig struct {
	Provider           string  `yaml:"provider"`
	ModelID            string  `yaml:"model_id"`
	CredentialRef      string  `yaml:"credential_ref"`
	APIBase            string  `yaml:"api_base"`
	APIVersion         string  `yaml:"api_version"`
	DeploymentID       string  `yaml:"deployment_id"`
	ContextWindow      int     `yaml:"context_window"`
	MaxOutputTokens    int     `yaml:"max_output_tokens"`
	InputCostPerToken  float64 `yaml:"input_cost_per_token"`
	OutputCostPerToken float64 `yaml:"output_cost_per_token"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file. Values from .env.local and .env
// are exported into the process environment first, so overrides and
// provider credentials resolve the same way in development and production.
func Load(path string) (*Config, error) {
	loadDotEnv(".env.local", ".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML without touching the environment.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func loadDotEnv(files ...string) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// godotenv.Load never overrides variables that are already set.
		_ = godotenv.Load(f)
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.VectorStore.Qdrant.APIKey = v
	}
	if v := os.Getenv("QDRANT_HOST"); v != "" {
		cfg.VectorStore.Qdrant.Host = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Database.Redis.Password = v
	}
	if v := os.Getenv("MYSQL_PASSWORD"); v != "" {
		cfg.Database.MySQL.Password = v
	}
	if v := os.Getenv("ORION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// DefaultTemperature applies when llm.temperature is not set.
const DefaultTemperature = 0.7

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5002
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 180 * time.Second
	}

	if c.VectorStore.Backend == "" {
		c.VectorStore.Backend = "qdrant"
	}
	if c.VectorStore.Qdrant.Host == "" {
		c.VectorStore.Qdrant.Host = "localhost"
	}
	if c.VectorStore.Qdrant.Port == 0 {
		c.VectorStore.Qdrant.Port = 6334
	}
	if c.VectorStore.Qdrant.MaxRetries == 0 {
		c.VectorStore.Qdrant.MaxRetries = 3
	}
	if c.VectorStore.Qdrant.RetryDelay == 0 {
		c.VectorStore.Qdrant.RetryDelay = 200 * time.Millisecond
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "fastembed"
	}
	if c.Embedding.Model == "" && c.Embedding.Provider == "fastembed" {
		c.Embedding.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = 384
	}
	if c.VectorStore.VectorSize == 0 {
		c.VectorStore.VectorSize = c.Embedding.Dimension
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 64
	}
	if c.Embedding.RetryDelay == 0 {
		c.Embedding.RetryDelay = time.Second
	}
	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = 30 * time.Second
	}
	if c.Embedding.CacheTTL == 0 {
		c.Embedding.CacheTTL = 24 * time.Hour
	}
	if c.Embedding.CacheSize == 0 {
		c.Embedding.CacheSize = 10000
	}

	if c.Memory.Collection == "" {
		c.Memory.Collection = "orion_memory"
	}
	if c.Memory.FeedbackCollection == "" {
		c.Memory.FeedbackCollection = "feedback_memory"
	}
	if c.Memory.SearchLimit == 0 {
		c.Memory.SearchLimit = 5
	}
	if c.Memory.ScoreThreshold == 0 {
		c.Memory.ScoreThreshold = 0.5
	}

	if c.LLM.AttemptTimeout == 0 {
		c.LLM.AttemptTimeout = 60 * time.Second
	}
	if c.LLM.ProbeTimeout == 0 {
		c.LLM.ProbeTimeout = 20 * time.Second
	}
	if c.LLM.Temperature == nil {
		t := DefaultTemperature
		c.LLM.Temperature = &t
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate checks structural consistency. Credential presence is checked by
// the provider registry, which knows which models are actually referenced.
func (c *Config) Validate() error {
	var errs []error

	switch c.VectorStore.Backend {
	case "qdrant", "chromem":
	default:
		errs = append(errs, fmt.Errorf("vector_store.backend: unsupported backend %q", c.VectorStore.Backend))
	}
	if c.VectorStore.VectorSize != c.Embedding.Dimension {
		errs = append(errs, fmt.Errorf("vector_store.vector_size (%d) does not match embedding.dimension (%d)",
			c.VectorStore.VectorSize, c.Embedding.Dimension))
	}
	if c.Memory.ScoreThreshold < -1 || c.Memory.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("memory.score_threshold must be within [-1,1], got %v", c.Memory.ScoreThreshold))
	}

	seen := make(map[string]bool, len(c.LLM.Models))
	for i, m := range c.LLM.Models {
		if m.Provider == "" || m.ModelID == "" {
			errs = append(errs, fmt.Errorf("llm.models[%d]: provider and model_id are required", i))
			continue
		}
		id := m.ID()
		if seen[id] {
			errs = append(errs, fmt.Errorf("llm.models[%d]: duplicate model %s", i, id))
		}
		seen[id] = true
	}
	if c.LLM.DefaultModel != "" && len(c.LLM.Models) > 0 && !seen[c.LLM.DefaultModel] {
		errs = append(errs, fmt.Errorf("llm.default_model %q is not listed in llm.models", c.LLM.DefaultModel))
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("llm.temperature must be within [0,2], got %v", *t))
	}
	for name, r := range c.LLM.Routes {
		if t := r.Temperature; t != nil && (*t < 0 || *t > 2) {
			errs = append(errs, fmt.Errorf("llm.routes.%s.temperature must be within [0,2], got %v", name, *t))
		}
		if r.MaxTokens < 0 {
			errs = append(errs, fmt.Errorf("llm.routes.%s.max_tokens must not be negative", name))
		}
	}

	return errors.Join(errs...)
}

// ID returns the canonical "provider/model" identifier.
func (m ModelConfig) ID() string {
	return m.Provider + "/" + m.ModelID
}

// Provider returns the provider settings by name.
func (c LLMConfig) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
