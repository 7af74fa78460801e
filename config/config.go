package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the answering service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Weather   WeatherConfig   `mapstructure:"weather"`
	Index     IndexConfig     `mapstructure:"index"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	TurnTimeout    time.Duration `mapstructure:"turn_timeout"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig contains text-completion provider settings.
type LLMConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// PlannerConfig selects and tunes the task planning strategy.
type PlannerConfig struct {
	Strategy string `mapstructure:"strategy"` // llm or heuristic
	MaxTasks int    `mapstructure:"max_tasks"`
}

// RetrievalConfig tunes the multi-query retrieval pipeline.
type RetrievalConfig struct {
	TopKPerQuery       int     `mapstructure:"top_k_per_query"`
	FusionK            float64 `mapstructure:"fusion_k"`
	FusionTopK         int     `mapstructure:"fusion_top_k"`
	RelevanceThreshold float64 `mapstructure:"relevance_threshold"`
	ExpansionCount     int     `mapstructure:"expansion_count"`
	OriginalWeight     float64 `mapstructure:"original_weight"`
}

// ScoringConfig points at the cross-encoder relevance scorer service.
type ScoringConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// WeatherConfig configures the weather capability.
type WeatherConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	GeocodeEndpoint string        `mapstructure:"geocode_endpoint"`
	DefaultLocation string        `mapstructure:"default_location"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// IndexConfig selects the knowledge index backend.
type IndexConfig struct {
	Backend  string         `mapstructure:"backend"` // bleve or pinecone
	Bleve    BleveConfig    `mapstructure:"bleve"`
	Pinecone PineconeConfig `mapstructure:"pinecone"`
}

// BleveConfig contains local index settings.
type BleveConfig struct {
	Path string `mapstructure:"path"`
}

// PineconeConfig contains remote vector index settings.
type PineconeConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	IndexHost string        `mapstructure:"index_host"`
	Namespace string        `mapstructure:"namespace"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StorageConfig contains conversation log storage settings.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"` // postgres, redis or memory
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	History  HistoryConfig  `mapstructure:"history"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// HistoryConfig bounds how much conversation history is replayed per turn.
type HistoryConfig struct {
	MaxMessages int `mapstructure:"max_messages"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ragforge")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RAGFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults plus env cover the common case.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.turn_timeout", "2m")
	v.SetDefault("general.default_timeout", "30s")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.completion_model", "gpt-4o-mini")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 2)

	v.SetDefault("planner.strategy", "llm")
	v.SetDefault("planner.max_tasks", 3)

	v.SetDefault("retrieval.top_k_per_query", 5)
	v.SetDefault("retrieval.fusion_k", 60.0)
	v.SetDefault("retrieval.fusion_top_k", 10)
	v.SetDefault("retrieval.relevance_threshold", 0.5)
	v.SetDefault("retrieval.expansion_count", 3)
	v.SetDefault("retrieval.original_weight", 2.0)

	v.SetDefault("scoring.timeout", "15s")

	v.SetDefault("weather.endpoint", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("weather.geocode_endpoint", "https://geocoding-api.open-meteo.com/v1/search")
	v.SetDefault("weather.default_location", "Hanoi")
	v.SetDefault("weather.timeout", "15s")

	v.SetDefault("index.backend", "bleve")
	v.SetDefault("index.bleve.path", "./data/knowledge.bleve")
	v.SetDefault("index.pinecone.timeout", "15s")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "5s")
	v.SetDefault("storage.redis.ttl", "24h")
	v.SetDefault("storage.history.max_messages", 20)

	v.SetDefault("server.listen", ":10010")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.periodic_logs", false)
}

// overrideFromEnv maps well-known environment variables onto config keys so
// secrets never need to live in the config file.
func overrideFromEnv(v *viper.Viper) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		v.Set("llm.api_key", apiKey)
	}
	if apiKey := os.Getenv("PINECONE_API_KEY"); apiKey != "" {
		v.Set("index.pinecone.api_key", apiKey)
	}
	if host := os.Getenv("PINECONE_INDEX_HOST"); host != "" {
		v.Set("index.pinecone.index_host", host)
	}
	if ep := os.Getenv("RERANKER_ENDPOINT"); ep != "" {
		v.Set("scoring.endpoint", ep)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		v.Set("storage.postgres.url", url)
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		v.Set("storage.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("storage.redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		v.Set("storage.redis.password", password)
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Planner.Strategy {
	case "llm", "heuristic":
	default:
		return fmt.Errorf("unknown planner strategy: %s", cfg.Planner.Strategy)
	}
	if cfg.Planner.MaxTasks < 1 {
		return fmt.Errorf("planner.max_tasks must be at least 1")
	}

	switch cfg.Index.Backend {
	case "bleve":
		if cfg.Index.Bleve.Path == "" {
			return fmt.Errorf("index.bleve.path is required for the bleve backend")
		}
	case "pinecone":
		if cfg.Index.Pinecone.IndexHost == "" {
			return fmt.Errorf("index.pinecone.index_host is required for the pinecone backend")
		}
	default:
		return fmt.Errorf("unknown index backend: %s", cfg.Index.Backend)
	}

	switch cfg.Storage.Backend {
	case "postgres":
		if cfg.Storage.Postgres.URL == "" && (cfg.Storage.Postgres.Host == "" || cfg.Storage.Postgres.DBName == "") {
			return fmt.Errorf("postgres not configured (storage.postgres.url or host/dbname)")
		}
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}

	if cfg.Retrieval.TopKPerQuery < 1 {
		return fmt.Errorf("retrieval.top_k_per_query must be at least 1")
	}
	if cfg.Retrieval.FusionK <= 0 {
		return fmt.Errorf("retrieval.fusion_k must be positive")
	}

	return nil
}

// DSN builds a connection string from the postgres settings.
func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}
