package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrUnknownProvider is returned when a configured search or LLM provider
// name has no registered implementation. It is a startup-time fatal error.
var ErrUnknownProvider = errors.New("unknown provider")

// Config holds all configuration for the research system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Research  ResearchConfig  `mapstructure:"research"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	MaxRunTime     time.Duration `mapstructure:"max_run_time"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig contains LLM provider configuration
type LLMConfig struct {
	Provider    string              `mapstructure:"provider"` // openai, anthropic, gemini
	APIKey      string              `mapstructure:"api_key"`
	BaseURL     string              `mapstructure:"base_url"`
	Models      map[string]LLMModel `mapstructure:"models"`
	Routing     LLMRoutingConfig    `mapstructure:"routing"`
	MaxAttempts int                 `mapstructure:"max_attempts"`
	Timeout     time.Duration       `mapstructure:"timeout"`
}

// LLMModel describes one model and its per-1K-token pricing
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model handles each pipeline stage
type LLMRoutingConfig struct {
	Planning  string `mapstructure:"planning"`  // sub-query planning, section outlines
	Curation  string `mapstructure:"curation"`  // source ranking and filtering
	Writing   string `mapstructure:"writing"`   // report drafting and revision
	Review    string `mapstructure:"review"`    // guideline review
	Embedding string `mapstructure:"embedding"` // context similarity
	Fallback  string `mapstructure:"fallback"`
}

// SearchConfig contains web search settings
type SearchConfig struct {
	Providers    []string      `mapstructure:"providers"` // serper, brave, tavily, duckduckgo
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	TavilyAPIKey string        `mapstructure:"tavily_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
	AllowedHosts []string      `mapstructure:"allowed_hosts"`
	RecencyDays  int           `mapstructure:"recency_days"`
	TavilyDepth  string        `mapstructure:"tavily_depth"`
}

// ScrapeConfig contains page fetch and extraction settings
type ScrapeConfig struct {
	Fetcher   string        `mapstructure:"fetcher"` // chromedp
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxChars  int           `mapstructure:"max_chars"`
	UserAgent string        `mapstructure:"user_agent"`
}

// ResearchConfig contains pipeline tuning knobs
type ResearchConfig struct {
	MaxSubQueries       int     `mapstructure:"max_sub_queries"`
	MaxSources          int     `mapstructure:"max_sources"`
	MaxImages           int     `mapstructure:"max_images"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	ContextTokenBudget  int     `mapstructure:"context_token_budget"`
	MaxReviewRounds     int     `mapstructure:"max_review_rounds"`
	TotalWords          int     `mapstructure:"total_words"`
	CurateSources       bool    `mapstructure:"curate_sources"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	LogFile      string `mapstructure:"log_file"`
	CostTracking bool   `mapstructure:"cost_tracking"`
}

// StorageConfig contains persistence settings. Both backends are optional;
// the pipeline runs fully in-memory when neither is configured.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("researcher_config")
		viper.SetConfigType("json")
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("RESEARCHER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Config file is optional when no explicit path is given - defaults
	// plus environment cover the common case
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// General defaults
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.max_run_time", "15m")
	viper.SetDefault("general.default_timeout", "30s")

	// LLM defaults
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.max_attempts", 10)
	viper.SetDefault("llm.timeout", "90s")
	viper.SetDefault("llm.routing.planning", "gpt-4o")
	viper.SetDefault("llm.routing.curation", "gpt-4o-mini")
	viper.SetDefault("llm.routing.writing", "gpt-4o")
	viper.SetDefault("llm.routing.review", "gpt-4o-mini")
	viper.SetDefault("llm.routing.embedding", "text-embedding-3-small")
	viper.SetDefault("llm.routing.fallback", "gpt-4o-mini")

	// Search defaults
	viper.SetDefault("search.providers", []string{"duckduckgo"})
	viper.SetDefault("search.max_results", 8)
	viper.SetDefault("search.timeout", "30s")
	viper.SetDefault("search.recency_days", 0)
	viper.SetDefault("search.tavily_depth", "basic")

	// Scrape defaults
	viper.SetDefault("scrape.fetcher", "chromedp")
	viper.SetDefault("scrape.timeout", "15s")
	viper.SetDefault("scrape.max_chars", 20000)

	// Research defaults
	viper.SetDefault("research.max_sub_queries", 5)
	viper.SetDefault("research.max_sources", 10)
	viper.SetDefault("research.max_images", 4)
	viper.SetDefault("research.similarity_threshold", 0.5)
	viper.SetDefault("research.context_token_budget", 8000)
	viper.SetDefault("research.max_review_rounds", 3)
	viper.SetDefault("research.total_words", 1200)
	viper.SetDefault("research.curate_sources", true)

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.metrics_port", 9090)
	viper.SetDefault("telemetry.cost_tracking", true)

	// Storage defaults
	viper.SetDefault("storage.redis.host", "")
	viper.SetDefault("storage.redis.port", 6379)
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.ttl", "24h")
	viper.SetDefault("storage.redis.timeout", "5s")
	viper.SetDefault("storage.postgres.host", "")
	viper.SetDefault("storage.postgres.port", 5432)
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.postgres.timeout", "5s")

	// Server defaults
	viper.SetDefault("server.addr", ":8080")
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv() {
	// LLM API keys
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		viper.Set("llm.api_key", apiKey)
	}

	// Search API keys
	if apiKey := os.Getenv("SERPER_API_KEY"); apiKey != "" {
		viper.Set("search.serper_api_key", apiKey)
	}
	if apiKey := os.Getenv("BRAVE_SEARCH_KEY"); apiKey != "" {
		viper.Set("search.brave_api_key", apiKey)
	}
	if apiKey := os.Getenv("TAVILY_API_KEY"); apiKey != "" {
		viper.Set("search.tavily_api_key", apiKey)
	}

	// Redis configuration
	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("storage.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		viper.Set("storage.redis.password", password)
	}

	// Postgres configuration
	if url := os.Getenv("DATABASE_URL"); url != "" {
		viper.Set("storage.postgres.url", url)
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		viper.Set("storage.postgres.host", host)
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.postgres.port", p)
		}
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		viper.Set("storage.postgres.user", user)
	}
	if pass := os.Getenv("POSTGRES_PASSWORD"); pass != "" {
		viper.Set("storage.postgres.password", pass)
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		viper.Set("storage.postgres.dbname", db)
	}
}

var knownSearchProviders = map[string]bool{
	"serper":     true,
	"brave":      true,
	"tavily":     true,
	"duckduckgo": true,
}

var knownLLMProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"gemini":    true,
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if !knownLLMProviders[config.LLM.Provider] {
		return fmt.Errorf("llm provider %q: %w", config.LLM.Provider, ErrUnknownProvider)
	}

	if len(config.Search.Providers) == 0 {
		return fmt.Errorf("at least one search provider must be configured")
	}
	for _, name := range config.Search.Providers {
		if !knownSearchProviders[name] {
			return fmt.Errorf("search provider %q: %w", name, ErrUnknownProvider)
		}
	}

	// Validate that routing models exist when a model table is present
	if len(config.LLM.Models) > 0 {
		routingModels := []string{
			config.LLM.Routing.Planning,
			config.LLM.Routing.Curation,
			config.LLM.Routing.Writing,
			config.LLM.Routing.Review,
			config.LLM.Routing.Fallback,
		}
		for _, model := range routingModels {
			if model == "" {
				continue
			}
			found := false
			for _, m := range config.LLM.Models {
				if m.Name == model {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("routing model '%s' not found in model table", model)
			}
		}
	}

	if t := config.Research.SimilarityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("research.similarity_threshold must be in [0,1], got %v", t)
	}
	if config.Research.MaxImages <= 0 {
		return fmt.Errorf("research.max_images must be positive")
	}
	if config.Research.MaxSubQueries <= 0 {
		return fmt.Errorf("research.max_sub_queries must be positive")
	}
	if config.Research.MaxReviewRounds <= 0 {
		return fmt.Errorf("research.max_review_rounds must be positive")
	}
	if config.LLM.MaxAttempts <= 0 {
		return fmt.Errorf("llm.max_attempts must be positive")
	}

	return nil
}
