package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Chunking defaults
	assert.Equal(t, 1000, cfg.Chunking.MaxChunkSize)
	assert.Equal(t, 100, cfg.Chunking.MinChunkSize)
	assert.Equal(t, 100, cfg.Chunking.ChunkOverlap)

	// Wiki defaults
	assert.InDelta(t, 5.0, cfg.Wiki.ReqsPerSec, 0.0001)
	assert.Equal(t, 30, cfg.Wiki.TimeoutSeconds)
	assert.Equal(t, 5, cfg.Wiki.MaxRetries)
	assert.Equal(t, "local", cfg.Wiki.RateLimiter)

	// Graph defaults
	assert.Equal(t, "neo4j", cfg.Graph.Provider)
	assert.Equal(t, 30, cfg.Graph.TimeoutSeconds)
	assert.Equal(t, "bolt://localhost:7687", cfg.Graph.Neo4j.URI)
	assert.Equal(t, 6334, cfg.Graph.Qdrant.Port)
	assert.Equal(t, "lorehub_chunks", cfg.Graph.Qdrant.Collection)

	// Ingest defaults
	assert.Equal(t, 64, cfg.Ingest.BatchSize)
	assert.Equal(t, 8, cfg.Ingest.Concurrency)
	assert.Equal(t, 5, cfg.Ingest.BreakerThreshold)
	assert.Equal(t, 60, cfg.Ingest.BreakerCooldownSeconds)

	// Quality and lifecycle defaults
	assert.InDelta(t, 0.2, cfg.Quality.BoostWeight, 0.0001)
	assert.InDelta(t, 40.0, cfg.Lifecycle.DeprecatedThreshold, 0.0001)
	assert.InDelta(t, 10.0, cfg.Lifecycle.ArchiveThreshold, 0.0001)
	assert.InDelta(t, 70.0, cfg.Lifecycle.RestoreThreshold, 0.0001)
	assert.Equal(t, 30, cfg.Lifecycle.ColdArchiveDays)
	assert.InDelta(t, 0.85, cfg.Lifecycle.ConflictSimilarity, 0.0001)
	assert.InDelta(t, 0.7, cfg.Lifecycle.ConflictConfidence, 0.0001)

	// Escalation defaults
	assert.Equal(t, 3, cfg.Escalation.AutoEscalateThreshold)
	assert.Equal(t, 24, cfg.Escalation.WindowHours)

	// Timeouts per collaborator
	assert.Equal(t, 120, cfg.AI.TimeoutSeconds)
	assert.Equal(t, 60, cfg.Embeddings.TimeoutSeconds)
	assert.Equal(t, 30, cfg.Chat.TimeoutSeconds)

	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAX_CHUNK_SIZE", "800")
	t.Setenv("MIN_CHUNK_SIZE", "50")
	t.Setenv("CHUNK_OVERLAP", "75")
	t.Setenv("WIKI_REQS_PER_SEC", "2.5")
	t.Setenv("GRAPH_PROVIDER", "qdrant")
	t.Setenv("GRAPHITI_CONCURRENCY", "4")
	t.Setenv("QUALITY_BOOST_WEIGHT", "0.3")
	t.Setenv("ADMIN_CHANNEL", "C0ADMIN")
	t.Setenv("WIKI_SPACES", "ENG, OPS ,")

	cfg := DefaultConfig()
	loadFromEnv(cfg)

	assert.Equal(t, 800, cfg.Chunking.MaxChunkSize)
	assert.Equal(t, 50, cfg.Chunking.MinChunkSize)
	assert.Equal(t, 75, cfg.Chunking.ChunkOverlap)
	assert.InDelta(t, 2.5, cfg.Wiki.ReqsPerSec, 0.0001)
	assert.Equal(t, "qdrant", cfg.Graph.Provider)
	assert.Equal(t, 4, cfg.Ingest.Concurrency)
	assert.InDelta(t, 0.3, cfg.Quality.BoostWeight, 0.0001)
	assert.Equal(t, "C0ADMIN", cfg.Chat.AdminChannel)
	assert.Equal(t, []string{"ENG", "OPS"}, cfg.Wiki.Spaces)
}

func TestEnvOverridesIgnoreUnparseable(t *testing.T) {
	t.Setenv("MAX_CHUNK_SIZE", "not-a-number")

	cfg := DefaultConfig()
	loadFromEnv(cfg)

	assert.Equal(t, 1000, cfg.Chunking.MaxChunkSize)
}

func TestValidateRejectsBadThresholdOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lifecycle.ArchiveThreshold = 50 // above deprecated threshold

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive threshold")
}

func TestValidateRejectsUnknownProviders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Graph.Provider = "dgraph"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.AI.Provider = "palm"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Analytics.Driver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Wiki.RateLimiter = "redis" // without an address
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadChunkSizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Chunking.MinChunkSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Chunking.MaxChunkSize = cfg.Chunking.MinChunkSize
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Chunking.ChunkOverlap = cfg.Chunking.MaxChunkSize
	assert.Error(t, cfg.Validate())
}

func TestYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lorehub.yaml")
	data := []byte(`
chunking:
  max_chunk_size: 640
graph:
  provider: qdrant
chat:
  admin_channel: C0YAML
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg := DefaultConfig()
	require.NoError(t, applyYAMLFile(cfg, path))

	assert.Equal(t, 640, cfg.Chunking.MaxChunkSize)
	assert.Equal(t, "qdrant", cfg.Graph.Provider)
	assert.Equal(t, "C0YAML", cfg.Chat.AdminChannel)
	// Untouched values keep their defaults.
	assert.Equal(t, 100, cfg.Chunking.MinChunkSize)
}

func TestYAMLOverlayMissingFile(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, applyYAMLFile(cfg, filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestGetArchiveDirCreates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lifecycle.ArchiveDir = filepath.Join(t.TempDir(), "archive")

	dir, err := cfg.GetArchiveDir()
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
