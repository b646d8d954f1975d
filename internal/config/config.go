// Package config loads and validates service configuration from the
// environment, with an optional YAML file overlay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Chunking   ChunkingConfig   `json:"chunking" yaml:"chunking"`
	Wiki       WikiConfig       `json:"wiki" yaml:"wiki"`
	Graph      GraphConfig      `json:"graph" yaml:"graph"`
	Analytics  AnalyticsConfig  `json:"analytics" yaml:"analytics"`
	AI         AIConfig         `json:"ai" yaml:"ai"`
	Embeddings EmbeddingsConfig `json:"embeddings" yaml:"embeddings"`
	Chat       ChatConfig       `json:"chat" yaml:"chat"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Quality    QualityConfig    `json:"quality" yaml:"quality"`
	Lifecycle  LifecycleConfig  `json:"lifecycle" yaml:"lifecycle"`
	Escalation EscalationConfig `json:"escalation" yaml:"escalation"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	Ops        OpsConfig        `json:"ops" yaml:"ops"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// ChunkingConfig controls how page markdown splits into chunks.
type ChunkingConfig struct {
	MaxChunkSize int `json:"max_chunk_size" yaml:"max_chunk_size"`
	MinChunkSize int `json:"min_chunk_size" yaml:"min_chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`
}

// WikiConfig represents the wiki source connection.
type WikiConfig struct {
	BaseURL        string   `json:"base_url" yaml:"base_url"`
	Username       string   `json:"username" yaml:"username"`
	APIToken       string   `json:"-" yaml:"-"` // Never serialize credentials
	Spaces         []string `json:"spaces" yaml:"spaces"`
	ReqsPerSec     float64  `json:"reqs_per_sec" yaml:"reqs_per_sec"`
	TimeoutSeconds int      `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int      `json:"max_retries" yaml:"max_retries"`
	RateLimiter    string   `json:"rate_limiter" yaml:"rate_limiter"` // local or redis
	RedisAddr      string   `json:"redis_addr" yaml:"redis_addr"`
}

// GraphConfig selects and configures the chunk store backend.
type GraphConfig struct {
	Provider       string       `json:"provider" yaml:"provider"`
	TimeoutSeconds int          `json:"timeout_seconds" yaml:"timeout_seconds"`
	Neo4j          Neo4jConfig  `json:"neo4j" yaml:"neo4j"`
	Qdrant         QdrantConfig `json:"qdrant" yaml:"qdrant"`
}

// Neo4jConfig represents the Neo4j graph backend.
type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"-" yaml:"-"` // Never serialize credentials
	Database string `json:"database" yaml:"database"`
}

// QdrantConfig represents the Qdrant vector backend.
type QdrantConfig struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	APIKey     string `json:"-" yaml:"-"` // Never serialize credentials
	UseTLS     bool   `json:"use_tls" yaml:"use_tls"`
	Collection string `json:"collection" yaml:"collection"`
}

// AnalyticsConfig represents the relational analytics store.
type AnalyticsConfig struct {
	Driver string `json:"driver" yaml:"driver"` // postgres or sqlite3
	DSN    string `json:"-" yaml:"-"`           // Never serialize credentials
}

// AIConfig selects and configures the answer-generation model.
type AIConfig struct {
	Provider       string          `json:"provider" yaml:"provider"`
	TimeoutSeconds int             `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxTokens      int             `json:"max_tokens" yaml:"max_tokens"`
	Temperature    float64         `json:"temperature" yaml:"temperature"`
	OpenAI         OpenAIConfig    `json:"openai" yaml:"openai"`
	Anthropic      AnthropicConfig `json:"anthropic" yaml:"anthropic"`
}

// OpenAIConfig represents the OpenAI-compatible chat endpoint.
type OpenAIConfig struct {
	APIKey  string `json:"-" yaml:"-"` // Never serialize credentials
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// AnthropicConfig represents the Anthropic messages endpoint.
type AnthropicConfig struct {
	APIKey string `json:"-" yaml:"-"` // Never serialize credentials
	Model  string `json:"model" yaml:"model"`
}

// EmbeddingsConfig represents the embedding provider.
type EmbeddingsConfig struct {
	Model          string `json:"model" yaml:"model"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	CacheSize      int    `json:"cache_size" yaml:"cache_size"`
}

// ChatConfig represents the chat workspace connection.
type ChatConfig struct {
	BotToken       string `json:"-" yaml:"-"` // Never serialize credentials
	AppToken       string `json:"-" yaml:"-"` // Never serialize credentials
	AdminChannel   string `json:"admin_channel" yaml:"admin_channel"`
	CommandPrefix  string `json:"command_prefix" yaml:"command_prefix"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// IngestConfig controls the indexing pipeline.
type IngestConfig struct {
	BatchSize              int `json:"batch_size" yaml:"batch_size"`
	Concurrency            int `json:"concurrency" yaml:"concurrency"`
	BreakerThreshold       int `json:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldownSeconds int `json:"breaker_cooldown_seconds" yaml:"breaker_cooldown_seconds"`
}

// QualityConfig controls quality-aware ranking.
type QualityConfig struct {
	BoostWeight float64 `json:"boost_weight" yaml:"boost_weight"`
}

// LifecycleConfig controls archival tiers and conflict detection.
type LifecycleConfig struct {
	DeprecatedThreshold  float64 `json:"deprecated_threshold" yaml:"deprecated_threshold"`
	ArchiveThreshold     float64 `json:"archive_threshold" yaml:"archive_threshold"`
	RestoreThreshold     float64 `json:"restore_threshold" yaml:"restore_threshold"`
	ColdArchiveDays      int     `json:"cold_archive_days" yaml:"cold_archive_days"`
	ConflictSimilarity   float64 `json:"conflict_similarity" yaml:"conflict_similarity"`
	ConflictConfidence   float64 `json:"conflict_confidence" yaml:"conflict_confidence"`
	ArchiveDir           string  `json:"archive_dir" yaml:"archive_dir"`
	ConflictScanPageSize int     `json:"conflict_scan_page_size" yaml:"conflict_scan_page_size"`
}

// EscalationConfig controls owner notification.
type EscalationConfig struct {
	AutoEscalateThreshold int `json:"auto_escalate_threshold" yaml:"auto_escalate_threshold"`
	WindowHours           int `json:"window_hours" yaml:"window_hours"`
}

// SchedulerConfig controls the background jobs.
type SchedulerConfig struct {
	Enabled                bool `json:"enabled" yaml:"enabled"`
	SyncIntervalMinutes    int  `json:"sync_interval_minutes" yaml:"sync_interval_minutes"`
	QualityIntervalHours   int  `json:"quality_interval_hours" yaml:"quality_interval_hours"`
	LifecycleIntervalHours int  `json:"lifecycle_interval_hours" yaml:"lifecycle_interval_hours"`
}

// OpsConfig represents the operational HTTP endpoint.
type OpsConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			MaxChunkSize: 1000,
			MinChunkSize: 100,
			ChunkOverlap: 100,
		},
		Wiki: WikiConfig{
			ReqsPerSec:     5,
			TimeoutSeconds: 30,
			MaxRetries:     5,
			RateLimiter:    "local",
		},
		Graph: GraphConfig{
			Provider:       "neo4j",
			TimeoutSeconds: 30,
			Neo4j: Neo4jConfig{
				URI:      "bolt://localhost:7687",
				Username: "neo4j",
				Database: "neo4j",
			},
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "lorehub_chunks",
			},
		},
		Analytics: AnalyticsConfig{
			Driver: "sqlite3",
			DSN:    "file:lorehub.db?_journal_mode=WAL&_busy_timeout=5000",
		},
		AI: AIConfig{
			Provider:       "openai",
			TimeoutSeconds: 120,
			MaxTokens:      1024,
			Temperature:    0.2,
			OpenAI: OpenAIConfig{
				Model: "gpt-4o-mini",
			},
			Anthropic: AnthropicConfig{
				Model: "claude-sonnet-4-20250514",
			},
		},
		Embeddings: EmbeddingsConfig{
			Model:          "text-embedding-3-small",
			TimeoutSeconds: 60,
			CacheSize:      2048,
		},
		Chat: ChatConfig{
			CommandPrefix:  "/",
			TimeoutSeconds: 30,
		},
		Ingest: IngestConfig{
			BatchSize:              64,
			Concurrency:            8,
			BreakerThreshold:       5,
			BreakerCooldownSeconds: 60,
		},
		Quality: QualityConfig{
			BoostWeight: 0.2,
		},
		Lifecycle: LifecycleConfig{
			DeprecatedThreshold:  40,
			ArchiveThreshold:     10,
			RestoreThreshold:     70,
			ColdArchiveDays:      30,
			ConflictSimilarity:   0.85,
			ConflictConfidence:   0.7,
			ArchiveDir:           "./data/archive",
			ConflictScanPageSize: 200,
		},
		Escalation: EscalationConfig{
			AutoEscalateThreshold: 3,
			WindowHours:           24,
		},
		Scheduler: SchedulerConfig{
			Enabled:                true,
			SyncIntervalMinutes:    60,
			QualityIntervalHours:   24,
			LifecycleIntervalHours: 24,
		},
		Ops: OpsConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from defaults, an optional YAML file, and
// environment variables, in that order. Environment always wins.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := DefaultConfig()

	if path := os.Getenv("LOREHUB_CONFIG"); path != "" {
		if err := applyYAMLFile(config, path); err != nil {
			return nil, err
		}
	}

	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyYAMLFile overlays settings from a YAML file onto the config.
func applyYAMLFile(config *Config, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-provided path
	if err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(config *Config) {
	loadChunkingConfig(config)
	loadWikiConfig(config)
	loadGraphConfig(config)
	loadAnalyticsConfig(config)
	loadAIConfig(config)
	loadEmbeddingsConfig(config)
	loadChatConfig(config)
	loadIngestConfig(config)
	loadQualityAndLifecycleConfig(config)
	loadEscalationConfig(config)
	loadSchedulerConfig(config)
	loadOpsConfig(config)
	loadLoggingConfig(config)
}

func loadChunkingConfig(config *Config) {
	setEnvInt(&config.Chunking.MaxChunkSize, "MAX_CHUNK_SIZE")
	setEnvInt(&config.Chunking.MinChunkSize, "MIN_CHUNK_SIZE")
	setEnvInt(&config.Chunking.ChunkOverlap, "CHUNK_OVERLAP")
}

func loadWikiConfig(config *Config) {
	setEnvStr(&config.Wiki.BaseURL, "WIKI_BASE_URL")
	setEnvStr(&config.Wiki.Username, "WIKI_USERNAME")
	setEnvStr(&config.Wiki.APIToken, "WIKI_API_TOKEN")
	setEnvFloat(&config.Wiki.ReqsPerSec, "WIKI_REQS_PER_SEC")
	setEnvInt(&config.Wiki.TimeoutSeconds, "WIKI_TIMEOUT_SECONDS")
	setEnvInt(&config.Wiki.MaxRetries, "WIKI_MAX_RETRIES")
	setEnvStr(&config.Wiki.RateLimiter, "WIKI_RATE_LIMITER")
	setEnvStr(&config.Wiki.RedisAddr, "REDIS_ADDR")

	if spaces := os.Getenv("WIKI_SPACES"); spaces != "" {
		var keys []string
		for _, s := range strings.Split(spaces, ",") {
			if s = strings.TrimSpace(s); s != "" {
				keys = append(keys, s)
			}
		}
		config.Wiki.Spaces = keys
	}
}

func loadGraphConfig(config *Config) {
	setEnvStr(&config.Graph.Provider, "GRAPH_PROVIDER")
	setEnvInt(&config.Graph.TimeoutSeconds, "GRAPH_TIMEOUT_SECONDS")

	setEnvStr(&config.Graph.Neo4j.URI, "NEO4J_URI")
	setEnvStr(&config.Graph.Neo4j.Username, "NEO4J_USERNAME")
	setEnvStr(&config.Graph.Neo4j.Password, "NEO4J_PASSWORD")
	setEnvStr(&config.Graph.Neo4j.Database, "NEO4J_DATABASE")

	setEnvStr(&config.Graph.Qdrant.Host, "QDRANT_HOST")
	setEnvInt(&config.Graph.Qdrant.Port, "QDRANT_PORT")
	setEnvStr(&config.Graph.Qdrant.APIKey, "QDRANT_API_KEY")
	setEnvBool(&config.Graph.Qdrant.UseTLS, "QDRANT_USE_TLS")
	setEnvStr(&config.Graph.Qdrant.Collection, "QDRANT_COLLECTION")
}

func loadAnalyticsConfig(config *Config) {
	setEnvStr(&config.Analytics.Driver, "ANALYTICS_DRIVER")
	setEnvStr(&config.Analytics.DSN, "ANALYTICS_DSN")
}

func loadAIConfig(config *Config) {
	setEnvStr(&config.AI.Provider, "AI_PROVIDER")
	setEnvInt(&config.AI.TimeoutSeconds, "AI_TIMEOUT_SECONDS")
	setEnvInt(&config.AI.MaxTokens, "AI_MAX_TOKENS")
	setEnvFloat(&config.AI.Temperature, "AI_TEMPERATURE")

	setEnvStr(&config.AI.OpenAI.APIKey, "OPENAI_API_KEY")
	setEnvStr(&config.AI.OpenAI.Model, "OPENAI_MODEL")
	setEnvStr(&config.AI.OpenAI.BaseURL, "OPENAI_BASE_URL")

	setEnvStr(&config.AI.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setEnvStr(&config.AI.Anthropic.Model, "ANTHROPIC_MODEL")
}

func loadEmbeddingsConfig(config *Config) {
	setEnvStr(&config.Embeddings.Model, "EMBEDDING_MODEL")
	setEnvInt(&config.Embeddings.TimeoutSeconds, "EMBEDDING_TIMEOUT_SECONDS")
	setEnvInt(&config.Embeddings.CacheSize, "EMBEDDING_CACHE_SIZE")
}

func loadChatConfig(config *Config) {
	setEnvStr(&config.Chat.BotToken, "SLACK_BOT_TOKEN")
	setEnvStr(&config.Chat.AppToken, "SLACK_APP_TOKEN")
	setEnvStr(&config.Chat.AdminChannel, "ADMIN_CHANNEL")
	setEnvStr(&config.Chat.CommandPrefix, "COMMAND_PREFIX")
	setEnvInt(&config.Chat.TimeoutSeconds, "CHAT_TIMEOUT_SECONDS")
}

func loadIngestConfig(config *Config) {
	setEnvInt(&config.Ingest.BatchSize, "INDEX_BATCH_SIZE")
	setEnvInt(&config.Ingest.Concurrency, "GRAPHITI_CONCURRENCY")
	setEnvInt(&config.Ingest.BreakerThreshold, "BREAKER_THRESHOLD")
	setEnvInt(&config.Ingest.BreakerCooldownSeconds, "BREAKER_COOLDOWN_SECONDS")
}

func loadQualityAndLifecycleConfig(config *Config) {
	setEnvFloat(&config.Quality.BoostWeight, "QUALITY_BOOST_WEIGHT")

	setEnvFloat(&config.Lifecycle.DeprecatedThreshold, "SCORE_THRESHOLD_DEPRECATED")
	setEnvFloat(&config.Lifecycle.ArchiveThreshold, "SCORE_THRESHOLD_ARCHIVE")
	setEnvFloat(&config.Lifecycle.RestoreThreshold, "SCORE_THRESHOLD_RESTORE")
	setEnvInt(&config.Lifecycle.ColdArchiveDays, "COLD_ARCHIVE_DAYS")
	setEnvFloat(&config.Lifecycle.ConflictSimilarity, "CONFLICT_SIMILARITY_THRESHOLD")
	setEnvFloat(&config.Lifecycle.ConflictConfidence, "CONFLICT_CONFIDENCE_THRESHOLD")
	setEnvStr(&config.Lifecycle.ArchiveDir, "ARCHIVE_DIR")
	setEnvInt(&config.Lifecycle.ConflictScanPageSize, "CONFLICT_SCAN_PAGE_SIZE")
}

func loadEscalationConfig(config *Config) {
	setEnvInt(&config.Escalation.AutoEscalateThreshold, "AUTO_ESCALATE_THRESHOLD")
	setEnvInt(&config.Escalation.WindowHours, "ESCALATE_WINDOW_HOURS")
}

func loadSchedulerConfig(config *Config) {
	setEnvBool(&config.Scheduler.Enabled, "SCHEDULER_ENABLED")
	setEnvInt(&config.Scheduler.SyncIntervalMinutes, "SYNC_INTERVAL_MINUTES")
	setEnvInt(&config.Scheduler.QualityIntervalHours, "QUALITY_INTERVAL_HOURS")
	setEnvInt(&config.Scheduler.LifecycleIntervalHours, "LIFECYCLE_INTERVAL_HOURS")
}

func loadOpsConfig(config *Config) {
	setEnvStr(&config.Ops.Host, "OPS_HOST")
	setEnvInt(&config.Ops.Port, "OPS_PORT")
}

func loadLoggingConfig(config *Config) {
	setEnvStr(&config.Logging.Level, "LOG_LEVEL")
	setEnvStr(&config.Logging.Format, "LOG_FORMAT")
}

func setEnvStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setEnvInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setEnvFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setEnvBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate validates the configuration. Provider-specific credential checks
// happen in the adapter constructors; this enforces structural invariants.
func (c *Config) Validate() error {
	if c.Chunking.MinChunkSize <= 0 {
		return fmt.Errorf("min chunk size must be positive")
	}
	if c.Chunking.MaxChunkSize <= c.Chunking.MinChunkSize {
		return fmt.Errorf("max chunk size must be greater than min chunk size")
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.MaxChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, max chunk size)")
	}

	if c.Wiki.ReqsPerSec <= 0 {
		return fmt.Errorf("wiki requests per second must be positive")
	}
	switch c.Wiki.RateLimiter {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown wiki rate limiter: %s", c.Wiki.RateLimiter)
	}
	if c.Wiki.RateLimiter == "redis" && c.Wiki.RedisAddr == "" {
		return fmt.Errorf("redis rate limiter requires REDIS_ADDR")
	}

	switch c.Graph.Provider {
	case "neo4j", "qdrant":
	default:
		return fmt.Errorf("unknown graph provider: %s", c.Graph.Provider)
	}

	switch c.Analytics.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("unknown analytics driver: %s", c.Analytics.Driver)
	}
	if c.Analytics.DSN == "" {
		return fmt.Errorf("analytics DSN cannot be empty")
	}

	switch c.AI.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown AI provider: %s", c.AI.Provider)
	}

	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("index batch size must be positive")
	}
	if c.Ingest.Concurrency <= 0 {
		return fmt.Errorf("ingest concurrency must be positive")
	}
	if c.Ingest.BreakerThreshold <= 0 {
		return fmt.Errorf("breaker threshold must be positive")
	}

	if c.Quality.BoostWeight < 0 || c.Quality.BoostWeight > 1 {
		return fmt.Errorf("quality boost weight must be between 0 and 1")
	}

	if c.Lifecycle.ArchiveThreshold >= c.Lifecycle.DeprecatedThreshold {
		return fmt.Errorf("archive threshold must be below deprecated threshold")
	}
	if c.Lifecycle.DeprecatedThreshold >= c.Lifecycle.RestoreThreshold {
		return fmt.Errorf("deprecated threshold must be below restore threshold")
	}
	if c.Lifecycle.ColdArchiveDays <= 0 {
		return fmt.Errorf("cold archive days must be positive")
	}
	if c.Lifecycle.ConflictSimilarity < 0 || c.Lifecycle.ConflictSimilarity > 1 {
		return fmt.Errorf("conflict similarity threshold must be between 0 and 1")
	}
	if c.Lifecycle.ConflictConfidence < 0 || c.Lifecycle.ConflictConfidence > 1 {
		return fmt.Errorf("conflict confidence threshold must be between 0 and 1")
	}

	if c.Escalation.AutoEscalateThreshold <= 0 {
		return fmt.Errorf("auto escalate threshold must be positive")
	}
	if c.Escalation.WindowHours <= 0 {
		return fmt.Errorf("escalation window hours must be positive")
	}

	if c.Ops.Port < 1 || c.Ops.Port > 65535 {
		return fmt.Errorf("invalid ops port: %d", c.Ops.Port)
	}

	return nil
}

// GetArchiveDir returns the hard-archive directory, creating it if needed.
func (c *Config) GetArchiveDir() (string, error) {
	dir := c.Lifecycle.ArchiveDir
	if dir == "" {
		dir = "./data/archive"
	}

	absPath, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve archive directory: %w", err)
	}

	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	return absPath, nil
}
