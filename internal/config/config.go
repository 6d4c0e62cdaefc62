package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server        ServerConfig
	DB            DBConfig
	Redis         RedisConfig
	NATS          NATSConfig
	Log           LogConfig
	Store         StoreConfig
	Index         IndexConfig
	Embedding     EmbeddingConfig
	LLM           LLMConfig
	Retrieval     RetrievalConfig
	Context       ContextConfig
	Conversation  ConversationConfig
	ResponseCache ResponseCacheConfig
	Templates     TemplatesConfig
	CORS          CORSConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	WriteTimeout time.Duration
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig is optional; an empty URL disables event publishing and
// template intake over NATS.
type NATSConfig struct {
	URL string
}

type LogConfig struct {
	Level  string
	Format string
}

// StoreConfig selects the key-value backend used by every cache and by
// conversation memory.
type StoreConfig struct {
	Backend          string // redis | memory
	FallbackToMemory bool
	SweepSchedule    string
}

// IndexConfig selects the vector index holding the template corpus.
type IndexConfig struct {
	Backend    string // chromem | pgvector
	Collection string
	Path       string // chromem persistence directory; empty keeps the index in memory
	Migrations string
}

type EmbeddingConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	BatchSize  int
	CacheTTL   time.Duration
}

type LLMConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	MaxRetries      int
	BaseDelay       time.Duration
	Temperature     float64
	MaxTokens       int
	TopP            float64
	InputPricePerM  float64
	OutputPricePerM float64
}

type RetrievalConfig struct {
	TopK           int
	ScoreThreshold float64
	CacheTTL       time.Duration
	CacheMaxResult int
	Normalization  string // fixed | minmax
}

type ContextConfig struct {
	MinScore            float64
	SimilarityThreshold float64
	DiversityWeight     float64
	MaxTokens           int
	SystemPrompt        string
}

type ConversationConfig struct {
	MaxTurns  int
	MaxTokens int
	TTL       time.Duration
	// TenantLimits is a JSON object of per-user overrides, e.g.
	// {"acme": {"max_turns": 50, "ttl_sec": 7200}}.
	TenantLimits string
}

type ResponseCacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type TemplatesConfig struct {
	Dir string
}

type CORSConfig struct {
	AllowedOrigins []string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
		Store: StoreConfig{
			Backend:          k.String("store.backend"),
			FallbackToMemory: !k.Exists("store.fallback") || k.Bool("store.fallback"),
			SweepSchedule:    k.String("store.sweep.schedule"),
		},
		Index: IndexConfig{
			Backend:    k.String("index.backend"),
			Collection: k.String("index.collection"),
			Path:       k.String("index.path"),
			Migrations: k.String("index.migrations"),
		},
		Embedding: EmbeddingConfig{
			BaseURL:    k.String("embedding.base.url"),
			APIKey:     k.String("embedding.api.key"),
			Model:      k.String("embedding.model"),
			Dimensions: k.Int("embedding.dimensions"),
			BatchSize:  k.Int("embedding.batch.size"),
		},
		LLM: LLMConfig{
			BaseURL:         k.String("llm.base.url"),
			APIKey:          k.String("llm.api.key"),
			Model:           k.String("llm.model"),
			MaxRetries:      k.Int("llm.max.retries"),
			Temperature:     k.Float64("llm.temperature"),
			MaxTokens:       k.Int("llm.max.tokens"),
			TopP:            k.Float64("llm.top.p"),
			InputPricePerM:  k.Float64("llm.price.input"),
			OutputPricePerM: k.Float64("llm.price.output"),
		},
		Retrieval: RetrievalConfig{
			TopK:           k.Int("retrieval.top.k"),
			ScoreThreshold: k.Float64("retrieval.score.threshold"),
			CacheMaxResult: k.Int("retrieval.cache.max"),
			Normalization:  k.String("retrieval.normalization"),
		},
		Context: ContextConfig{
			MinScore:            k.Float64("context.min.score"),
			SimilarityThreshold: k.Float64("context.similarity.threshold"),
			DiversityWeight:     k.Float64("context.diversity.weight"),
			MaxTokens:           k.Int("context.max.tokens"),
			SystemPrompt:        k.String("context.system.prompt"),
		},
		Conversation: ConversationConfig{
			MaxTurns:     k.Int("conversation.max.turns"),
			MaxTokens:    k.Int("conversation.max.tokens"),
			TenantLimits: k.String("conversation.tenant.limits"),
		},
		ResponseCache: ResponseCacheConfig{
			Enabled: !k.Exists("response.cache.enabled") || k.Bool("response.cache.enabled"),
		},
		Templates: TemplatesConfig{
			Dir: k.String("templates.dir"),
		},
	}

	if origins := k.String("cors.allowed.origins"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
			}
		}
	}

	applyDefaults(cfg)

	// Parse durations
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"server.write.timeout", "120s", &cfg.Server.WriteTimeout},
		{"embedding.cache.ttl", "168h", &cfg.Embedding.CacheTTL},
		{"llm.base.delay", "1s", &cfg.LLM.BaseDelay},
		{"retrieval.cache.ttl", "1h", &cfg.Retrieval.CacheTTL},
		{"conversation.ttl", "1h", &cfg.Conversation.TTL},
		{"response.cache.ttl", "24h", &cfg.ResponseCache.TTL},
	}
	for _, d := range durations {
		raw := k.String(d.key)
		if raw == "" {
			raw = d.def
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.key, err)
		}
		*d.dest = v
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "notigen"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "notigen"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "redis"
	}
	if cfg.Store.SweepSchedule == "" {
		cfg.Store.SweepSchedule = "0 * * * * *"
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "chromem"
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "notification_templates"
	}
	if cfg.Index.Migrations == "" {
		cfg.Index.Migrations = "migrations"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 100
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1000
	}
	if cfg.LLM.TopP == 0 {
		cfg.LLM.TopP = 1
	}
	if cfg.LLM.InputPricePerM == 0 {
		cfg.LLM.InputPricePerM = 0.15
	}
	if cfg.LLM.OutputPricePerM == 0 {
		cfg.LLM.OutputPricePerM = 0.60
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.ScoreThreshold == 0 {
		cfg.Retrieval.ScoreThreshold = 0.7
	}
	if cfg.Retrieval.CacheMaxResult == 0 {
		cfg.Retrieval.CacheMaxResult = 50
	}
	if cfg.Retrieval.Normalization == "" {
		cfg.Retrieval.Normalization = "fixed"
	}
	if cfg.Context.MinScore == 0 {
		cfg.Context.MinScore = 0.5
	}
	if cfg.Context.SimilarityThreshold == 0 {
		cfg.Context.SimilarityThreshold = 0.95
	}
	if cfg.Context.DiversityWeight == 0 {
		cfg.Context.DiversityWeight = 0.3
	}
	if cfg.Context.MaxTokens == 0 {
		cfg.Context.MaxTokens = 8000
	}
	if cfg.Conversation.MaxTurns == 0 {
		cfg.Conversation.MaxTurns = 20
	}
	if cfg.Conversation.MaxTokens == 0 {
		cfg.Conversation.MaxTokens = 8000
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
}
