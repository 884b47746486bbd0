package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research assistant
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Events    EventsConfig    `mapstructure:"events"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json or console
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	StreamEnabled  bool          `mapstructure:"stream_enabled"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, anthropic, gemini
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig names the model key used by each pipeline role.
type LLMRoutingConfig struct {
	Orchestrator string `mapstructure:"orchestrator"`
	Researcher   string `mapstructure:"researcher"`
	Critic       string `mapstructure:"critic"`
	Synthesizer  string `mapstructure:"synthesizer"`
	Fallback     string `mapstructure:"fallback"`
	Embedding    string `mapstructure:"embedding"` // optional; enables vector retrieval
}

// Validate ensures every routed model is declared by some provider.
func (l LLMConfig) Validate() error {
	if len(l.Providers) == 0 {
		return errors.New("llm.providers must declare at least one provider")
	}
	for name, p := range l.Providers {
		switch strings.ToLower(strings.TrimSpace(p.Type)) {
		case "openai", "anthropic", "gemini":
		default:
			return fmt.Errorf("llm.providers.%s.type %q is not supported", name, p.Type)
		}
	}
	routes := map[string]string{
		"orchestrator": l.Routing.Orchestrator,
		"researcher":   l.Routing.Researcher,
		"critic":       l.Routing.Critic,
		"synthesizer":  l.Routing.Synthesizer,
		"fallback":     l.Routing.Fallback,
	}
	for role, model := range routes {
		if model == "" {
			continue
		}
		if _, _, ok := l.Lookup(model); !ok {
			return fmt.Errorf("llm.routing.%s references unknown model %q", role, model)
		}
	}
	if l.Routing.Fallback == "" {
		for role, model := range routes {
			if model == "" && role != "fallback" {
				return fmt.Errorf("llm.routing.%s is empty and no fallback model is set", role)
			}
		}
	}
	return nil
}

// Lookup finds the provider that declares the given model key.
func (l LLMConfig) Lookup(model string) (string, LLMProvider, bool) {
	for name, p := range l.Providers {
		if _, ok := p.Models[model]; ok {
			return name, p, true
		}
	}
	return "", LLMProvider{}, false
}

// PipelineConfig tunes the research pipeline.
type PipelineConfig struct {
	FastMode         bool          `mapstructure:"fast_mode"`
	ToolTimeout      time.Duration `mapstructure:"tool_timeout"`
	StageTimeout     time.Duration `mapstructure:"stage_timeout"`
	TopK             int           `mapstructure:"top_k"`
	ResultsPerTool   int           `mapstructure:"results_per_tool"`
	ScrapeLimit      int           `mapstructure:"scrape_limit"`
	MaxToolWorkers   int           `mapstructure:"max_tool_workers"`
	DraftWithLLM     bool          `mapstructure:"draft_with_llm"`
	StreamStages     []string      `mapstructure:"stream_stages"`
	QualityThreshold float64       `mapstructure:"quality_threshold"`
	MaxIterations    int           `mapstructure:"max_iterations"`
	EventBuffer      int           `mapstructure:"event_buffer"`
}

// Normalize applies defaults for unset pipeline values.
func (p PipelineConfig) Normalize() PipelineConfig {
	if p.ToolTimeout <= 0 {
		p.ToolTimeout = 30 * time.Second
	}
	if p.TopK <= 0 {
		p.TopK = 5
	}
	if p.ResultsPerTool <= 0 {
		p.ResultsPerTool = 3
	}
	if p.ScrapeLimit <= 0 {
		p.ScrapeLimit = 2
	}
	if p.MaxToolWorkers <= 0 {
		p.MaxToolWorkers = 4
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = 1
	}
	if p.QualityThreshold <= 0 {
		p.QualityThreshold = 0.7
	}
	if p.EventBuffer <= 0 {
		p.EventBuffer = 64
	}
	return p
}

// Validate checks the pipeline configuration.
func (p PipelineConfig) Validate() error {
	if p.QualityThreshold < 0 || p.QualityThreshold > 1 {
		return fmt.Errorf("pipeline.quality_threshold must be between 0 and 1")
	}
	if p.StageTimeout < 0 {
		return fmt.Errorf("pipeline.stage_timeout cannot be negative")
	}
	for _, s := range p.StreamStages {
		switch s {
		case "orchestrator", "researcher", "critic", "synthesizer":
		default:
			return fmt.Errorf("pipeline.stream_stages: unknown stage %q", s)
		}
	}
	return nil
}

// Streams reports whether the named stage should request token streaming.
func (p PipelineConfig) Streams(stage string) bool {
	for _, s := range p.StreamStages {
		if s == stage {
			return true
		}
	}
	return false
}

// ToolsConfig contains evidence tool settings
type ToolsConfig struct {
	WebSearch WebSearchConfig    `mapstructure:"web_search"`
	Firecrawl FirecrawlConfig    `mapstructure:"firecrawl"`
	Fetcher   string             `mapstructure:"fetcher"` // firecrawl, chromedp or none
	Domains   DomainPolicyConfig `mapstructure:"domains"`
}

// WebSearchConfig contains web search settings
type WebSearchConfig struct {
	Provider     string        `mapstructure:"provider"` // serper, brave, serpapi, duckduckgo
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	SerpAPIKey   string        `mapstructure:"serpapi_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// Validate ensures the selected provider has a key when it needs one.
func (w WebSearchConfig) Validate() error {
	switch w.Provider {
	case "", "duckduckgo":
		return nil
	case "serper":
		if w.SerperAPIKey == "" {
			return fmt.Errorf("tools.web_search.serper_api_key required for serper")
		}
	case "brave":
		if w.BraveAPIKey == "" {
			return fmt.Errorf("tools.web_search.brave_api_key required for brave")
		}
	case "serpapi":
		if w.SerpAPIKey == "" {
			return fmt.Errorf("tools.web_search.serpapi_api_key required for serpapi")
		}
	default:
		return fmt.Errorf("tools.web_search.provider %q is not supported", w.Provider)
	}
	return nil
}

// FirecrawlConfig configures the hosted scrape API.
type FirecrawlConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// KnowledgeConfig controls the local knowledge base used by the retriever tool.
type KnowledgeConfig struct {
	Backend      string `mapstructure:"backend"` // memory or redis
	KeyPrefix    string `mapstructure:"key_prefix"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	TopK         int    `mapstructure:"retriever_top_k"`
	EmbedBatch   int    `mapstructure:"embed_batch"`
	SourcesDir   string `mapstructure:"sources_dir"`
	SampleDir    string `mapstructure:"sample_dir"`
	RefreshCron  string `mapstructure:"refresh_cron"`
}

// Normalize applies defaults for unset knowledge values.
func (k KnowledgeConfig) Normalize() KnowledgeConfig {
	if k.Backend == "" {
		k.Backend = "memory"
	}
	if k.KeyPrefix == "" {
		k.KeyPrefix = "kb"
	}
	if k.ChunkSize <= 0 {
		k.ChunkSize = 800
	}
	if k.ChunkOverlap < 0 {
		k.ChunkOverlap = 0
	}
	if k.TopK <= 0 {
		k.TopK = 5
	}
	if k.EmbedBatch <= 0 {
		k.EmbedBatch = 32
	}
	if k.SampleDir == "" {
		k.SampleDir = "data/sample_docs"
	}
	return k
}

// Validate checks the knowledge configuration.
func (k KnowledgeConfig) Validate() error {
	switch k.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("knowledge.backend %q is not supported", k.Backend)
	}
	if k.ChunkOverlap >= k.ChunkSize {
		return fmt.Errorf("knowledge.chunk_overlap must be smaller than knowledge.chunk_size")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether result persistence is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

// DSN builds a connection string from the explicit URL or the discrete fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

// EventsConfig controls publishing of pipeline events to Redis Streams.
type EventsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream"`
	MaxLen  int64  `mapstructure:"max_len"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_format", "console")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.stream_enabled", true)
	v.SetDefault("server.request_timeout", "5m")
	v.SetDefault("pipeline.fast_mode", false)
	v.SetDefault("pipeline.tool_timeout", "30s")
	v.SetDefault("pipeline.top_k", 5)
	v.SetDefault("pipeline.results_per_tool", 3)
	v.SetDefault("pipeline.scrape_limit", 2)
	v.SetDefault("pipeline.max_tool_workers", 4)
	v.SetDefault("pipeline.draft_with_llm", true)
	v.SetDefault("pipeline.stream_stages", []string{"synthesizer"})
	v.SetDefault("pipeline.quality_threshold", 0.7)
	v.SetDefault("pipeline.max_iterations", 1)
	v.SetDefault("pipeline.event_buffer", 64)
	v.SetDefault("tools.web_search.provider", "duckduckgo")
	v.SetDefault("tools.web_search.max_results", 5)
	v.SetDefault("tools.web_search.timeout", "15s")
	v.SetDefault("tools.web_search.max_retries", 2)
	v.SetDefault("tools.firecrawl.base_url", "https://api.firecrawl.dev")
	v.SetDefault("tools.firecrawl.max_chars", 20000)
	v.SetDefault("tools.fetcher", "none")
	v.SetDefault("knowledge.backend", "memory")
	v.SetDefault("knowledge.key_prefix", "kb")
	v.SetDefault("knowledge.chunk_size", 800)
	v.SetDefault("knowledge.chunk_overlap", 120)
	v.SetDefault("knowledge.retriever_top_k", 5)
	v.SetDefault("knowledge.sample_dir", "data/sample_docs")
	v.SetDefault("telemetry.service_name", "research-assistant")
	v.SetDefault("events.stream", "research.events")
	v.SetDefault("events.max_len", 10000)
}

// LoadConfig reads configuration from path, or searches the usual locations
// when path is empty. Environment variables prefixed with RESEARCH_ override
// file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills defaults for every section that has them.
func (c *Config) Normalize() {
	c.Pipeline = c.Pipeline.Normalize()
	c.Knowledge = c.Knowledge.Normalize()
	c.Tools.Domains = c.Tools.Domains.Normalize()
}

// Validate checks every section. Storage sections are only validated when enabled.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.Tools.WebSearch.Validate(); err != nil {
		return err
	}
	if err := c.Tools.Domains.Validate(); err != nil {
		return err
	}
	if err := c.Knowledge.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	if c.Knowledge.Backend == "redis" || c.Events.Enabled {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	if c.Storage.Postgres.Enabled() {
		if err := c.Storage.Postgres.Validate(); err != nil {
			return err
		}
	}
	return nil
}
