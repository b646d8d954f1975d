package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"lorehub/internal/config"
	"lorehub/internal/embeddings"
	"lorehub/internal/logging"
	"lorehub/pkg/types"
)

const defaultQdrantCollection = "lorehub_chunks"

// QdrantStore is the degraded, vector-only backend: hybrid search runs on
// the vector leg alone and RelatedByEntity returns nothing because there
// are no graph edges.
type QdrantStore struct {
	cfg            *config.GraphConfig
	embedder       embeddings.Embedder
	client         *qdrant.Client
	collectionName string
	timeout        time.Duration
	logger         logging.Logger
}

// NewQdrantStore validates the settings eagerly; the client connects in
// Initialize.
func NewQdrantStore(cfg *config.GraphConfig, embedder embeddings.Embedder) (*QdrantStore, error) {
	if cfg.Qdrant.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	collectionName := cfg.Qdrant.Collection
	if collectionName == "" {
		collectionName = defaultQdrantCollection
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &QdrantStore{
		cfg:            cfg,
		embedder:       embedder,
		collectionName: collectionName,
		timeout:        timeout,
		logger:         logging.WithComponent("qdrant"),
	}, nil
}

// Initialize connects and creates the collection if it doesn't exist.
func (qs *QdrantStore) Initialize(ctx context.Context) error {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   qs.cfg.Qdrant.Host,
		Port:   qs.cfg.Qdrant.Port,
		APIKey: qs.cfg.Qdrant.APIKey,
		UseTLS: qs.cfg.Qdrant.UseTLS,
	})
	if err != nil {
		return fmt.Errorf("create qdrant client: %w", err)
	}
	qs.client = client

	collections, err := qs.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	exists := false
	for _, name := range collections {
		if name == qs.collectionName {
			exists = true
			break
		}
	}
	if !exists {
		err = qs.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: qs.collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(qs.embedder.Dimension()),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %s: %w", qs.collectionName, err)
		}
		qs.logger.Info("created qdrant collection", "collection", qs.collectionName)
	}

	qs.logger.Info("qdrant store initialized",
		"collection", qs.collectionName, "dimension", qs.embedder.Dimension())
	return nil
}

func (qs *QdrantStore) UpsertChunks(ctx context.Context, chunks []types.Chunk) (*BatchResult, error) {
	result := &BatchResult{}
	if len(chunks) == 0 {
		return result, nil
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	vectors, err := qs.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}

	for i := range chunks {
		// Preserve quality fields on re-ingest: if the point already
		// exists, keep its counters instead of the caller's defaults.
		if existing, err := qs.GetByID(ctx, chunks[i].ChunkID); err == nil {
			chunks[i].QualityScore = existing.QualityScore
			chunks[i].AccessCount = existing.AccessCount
			chunks[i].FeedbackCount = existing.FeedbackCount
		}

		point, err := qs.chunkToPoint(&chunks[i], vectors[i])
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", chunks[i].ChunkID, err))
			continue
		}
		opCtx, cancel := context.WithTimeout(ctx, qs.timeout)
		_, err = qs.client.Upsert(opCtx, &qdrant.UpsertPoints{
			CollectionName: qs.collectionName,
			Points:         []*qdrant.PointStruct{point},
		})
		cancel()
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", chunks[i].ChunkID, err))
			continue
		}
		result.Stored++
	}
	return result, nil
}

// SearchHybrid degrades to pure vector search: there is no lexical index
// and no graph leg in this backend.
func (qs *QdrantStore) SearchHybrid(ctx context.Context, query string, k int, filters *types.SearchFilters) ([]types.ScoredChunk, error) {
	if k <= 0 {
		k = 10
	}
	embedding, err := qs.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, qs.timeout)
	defer cancel()

	points, err := qs.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qs.collectionName,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(k)),
		Filter:         buildQdrantFilter(filters),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	results := make([]types.ScoredChunk, 0, len(points))
	for _, point := range points {
		chunk, err := payloadToChunk(point.GetPayload())
		if err != nil {
			qs.logger.Warn("skipping undecodable point", "error", err.Error())
			continue
		}
		if chunk.DeletedAt != nil {
			continue
		}
		results = append(results, types.ScoredChunk{
			Chunk: *chunk,
			Score: float64(point.GetScore()),
		})
	}
	return results, nil
}

func (qs *QdrantStore) GetByID(ctx context.Context, chunkID string) (*types.Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, qs.timeout)
	defer cancel()

	points, err := qs.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: qs.collectionName,
		Ids:            []*qdrant.PointId{chunkPointID(chunkID)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", chunkID, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("get chunk %s: %w", chunkID, ErrNotFound)
	}
	return payloadToChunk(points[0].GetPayload())
}

func (qs *QdrantStore) GetMetadata(ctx context.Context, chunkID string) (*types.Chunk, error) {
	return qs.GetByID(ctx, chunkID)
}

// UpdateMetadata reads, patches and rewrites the payload. Qdrant has a
// payload-set API but merging through the typed chunk keeps values honest.
func (qs *QdrantStore) UpdateMetadata(ctx context.Context, chunkID string, fields map[string]any) error {
	chunk, err := qs.GetByID(ctx, chunkID)
	if err != nil {
		return err
	}
	props, err := types.ChunkToMetadata(chunk)
	if err != nil {
		return fmt.Errorf("update chunk %s: %w", chunkID, err)
	}
	for key, value := range normalizeFieldValues(fields) {
		props[key] = value
	}
	updated, err := types.ChunkFromMetadata(props)
	if err != nil {
		return fmt.Errorf("update chunk %s: %w", chunkID, err)
	}
	return qs.rewritePayload(ctx, updated)
}

func (qs *QdrantStore) IncrementAccess(ctx context.Context, chunkID string) error {
	chunk, err := qs.GetByID(ctx, chunkID)
	if err != nil {
		return err
	}
	return qs.UpdateMetadata(ctx, chunkID, map[string]any{
		"access_count": chunk.AccessCount + 1,
	})
}

// ApplyFeedbackDelta is read-modify-write here: Qdrant has no server-side
// payload arithmetic, so this backend cannot give the atomicity the
// Neo4j backend does.
func (qs *QdrantStore) ApplyFeedbackDelta(ctx context.Context, chunkID string, delta float64) error {
	chunk, err := qs.GetMetadata(ctx, chunkID)
	if err != nil {
		return err
	}
	score := chunk.QualityScore + delta
	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}
	return qs.UpdateMetadata(ctx, chunkID, map[string]any{
		"quality_score":  score,
		"feedback_count": chunk.FeedbackCount + 1,
	})
}

func (qs *QdrantStore) SoftDelete(ctx context.Context, chunkID string, at time.Time) error {
	return qs.UpdateMetadata(ctx, chunkID, map[string]any{
		"deleted_at": at.UTC().Format(time.RFC3339),
	})
}

func (qs *QdrantStore) SoftDeletePage(ctx context.Context, pageID string, at time.Time) error {
	chunks, err := qs.listByPage(ctx, pageID)
	if err != nil {
		return err
	}
	for i := range chunks {
		if err := qs.SoftDelete(ctx, chunks[i].ChunkID, at); err != nil {
			return err
		}
	}
	return nil
}

func (qs *QdrantStore) HardDelete(ctx context.Context, chunkID string) error {
	ctx, cancel := context.WithTimeout(ctx, qs.timeout)
	defer cancel()

	_, err := qs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qs.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{chunkPointID(chunkID)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("hard delete %s: %w", chunkID, err)
	}
	return nil
}

// BulkList scrolls the collection; the cursor is the next point offset
// encoded as base64.
func (qs *QdrantStore) BulkList(ctx context.Context, cursor string, limit int) ([]types.Chunk, string, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(ctx, qs.timeout)
	defer cancel()

	scroll := &qdrant.ScrollPoints{
		CollectionName: qs.collectionName,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if cursor != "" {
		offset, err := decodeScrollCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		scroll.Offset = offset
	}

	points, err := qs.client.Scroll(ctx, scroll)
	if err != nil {
		return nil, "", fmt.Errorf("bulk list: %w", err)
	}

	chunks := make([]types.Chunk, 0, len(points))
	for _, point := range points {
		chunk, err := payloadToChunk(point.GetPayload())
		if err != nil {
			qs.logger.Warn("skipping undecodable point", "error", err.Error())
			continue
		}
		chunks = append(chunks, *chunk)
	}

	next := ""
	if len(points) == limit {
		next = encodeScrollCursor(points[len(points)-1].GetId())
	}
	return chunks, next, nil
}

// RelatedByEntity returns nothing: the vector-only backend carries no
// entity edges.
func (qs *QdrantStore) RelatedByEntity(ctx context.Context, chunkIDs []string, limit int) ([]types.ScoredChunk, error) {
	return nil, nil
}

func (qs *QdrantStore) HealthCheck(ctx context.Context) error {
	if qs.client == nil {
		return fmt.Errorf("qdrant store not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, qs.timeout)
	defer cancel()
	if _, err := qs.client.GetCollectionInfo(ctx, qs.collectionName); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

func (qs *QdrantStore) GetStats(ctx context.Context) (*StoreStats, error) {
	ctx, cancel := context.WithTimeout(ctx, qs.timeout)
	defer cancel()

	info, err := qs.client.GetCollectionInfo(ctx, qs.collectionName)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	stats := &StoreStats{}
	if info != nil {
		stats.TotalChunks = int64(info.GetPointsCount())
	}
	return stats, nil
}

func (qs *QdrantStore) Close() error {
	if qs.client == nil {
		return nil
	}
	return qs.client.Close()
}

func (qs *QdrantStore) rewritePayload(ctx context.Context, chunk *types.Chunk) error {
	ctx, cancel := context.WithTimeout(ctx, qs.timeout)
	defer cancel()

	// Keep the stored vector; only the payload changes.
	points, err := qs.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: qs.collectionName,
		Ids:            []*qdrant.PointId{chunkPointID(chunk.ChunkID)},
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return fmt.Errorf("read vector for %s: %w", chunk.ChunkID, err)
	}
	if len(points) == 0 {
		return fmt.Errorf("rewrite %s: %w", chunk.ChunkID, ErrNotFound)
	}
	var vector []float32
	if vectors := points[0].GetVectors(); vectors != nil {
		if v := vectors.GetVector(); v != nil {
			vector = v.GetData()
		}
	}

	point, err := qs.chunkToPoint(chunk, vector)
	if err != nil {
		return err
	}
	_, err = qs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qs.collectionName,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("rewrite payload %s: %w", chunk.ChunkID, err)
	}
	return nil
}

func (qs *QdrantStore) listByPage(ctx context.Context, pageID string) ([]types.Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, qs.timeout)
	defer cancel()

	points, err := qs.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: qs.collectionName,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("page_id", pageID),
			},
		},
		Limit:       qdrant.PtrOf(uint32(1000)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("list page %s: %w", pageID, err)
	}

	chunks := make([]types.Chunk, 0, len(points))
	for _, point := range points {
		chunk, err := payloadToChunk(point.GetPayload())
		if err != nil {
			continue
		}
		chunks = append(chunks, *chunk)
	}
	return chunks, nil
}

func (qs *QdrantStore) chunkToPoint(chunk *types.Chunk, vector []float32) (*qdrant.PointStruct, error) {
	props, err := types.ChunkToMetadata(chunk)
	if err != nil {
		return nil, fmt.Errorf("encode chunk %s: %w", chunk.ChunkID, err)
	}
	payload, err := qdrant.TryValueMap(props)
	if err != nil {
		return nil, fmt.Errorf("encode payload %s: %w", chunk.ChunkID, err)
	}
	return &qdrant.PointStruct{
		Id:      chunkPointID(chunk.ChunkID),
		Vectors: qdrant.NewVectors(vector...),
		Payload: payload,
	}, nil
}

// chunkPointID derives a stable UUID from the chunk ID. Qdrant point IDs
// must be UUIDs or integers; chunk IDs are neither.
func chunkPointID(chunkID string) *qdrant.PointId {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID))
	return qdrant.NewIDUUID(id.String())
}

func payloadToChunk(payload map[string]*qdrant.Value) (*types.Chunk, error) {
	props := make(map[string]any, len(payload))
	for key, value := range payload {
		props[key] = valueToAny(value)
	}
	return types.ChunkFromMetadata(props)
}

func valueToAny(value *qdrant.Value) any {
	switch kind := value.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, valueToAny(item))
		}
		return out
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for name, field := range fields {
			out[name] = valueToAny(field)
		}
		return out
	default:
		return nil
	}
}

func buildQdrantFilter(filters *types.SearchFilters) *qdrant.Filter {
	if filters.Empty() {
		return nil
	}
	var must []*qdrant.Condition
	if len(filters.SpaceKeys) > 0 {
		must = append(must, qdrant.NewMatchKeywords("space_key", filters.SpaceKeys...))
	}
	if len(filters.DocTypes) > 0 {
		must = append(must, qdrant.NewMatchKeywords("doc_type", filters.DocTypes...))
	}
	if len(filters.Classifications) > 0 {
		must = append(must, qdrant.NewMatchKeywords("classification", filters.Classifications...))
	}
	if len(filters.ChunkTypes) > 0 {
		must = append(must, qdrant.NewMatchKeywords("chunk_type", filters.ChunkTypes...))
	}
	if filters.MinQualityScore > 0 {
		must = append(must, qdrant.NewRange("quality_score", &qdrant.Range{
			Gte: qdrant.PtrOf(filters.MinQualityScore),
		}))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func encodeScrollCursor(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return base64.StdEncoding.EncodeToString([]byte("u:" + u))
	}
	return base64.StdEncoding.EncodeToString([]byte("n:" + strconv.FormatUint(id.GetNum(), 10)))
}

func decodeScrollCursor(cursor string) (*qdrant.PointId, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil || len(raw) < 2 {
		return nil, fmt.Errorf("invalid bulk list cursor")
	}
	kind, value := raw[0], string(raw[2:])
	switch kind {
	case 'u':
		return qdrant.NewIDUUID(value), nil
	case 'n':
		num, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bulk list cursor")
		}
		return qdrant.NewIDNum(num), nil
	default:
		return nil, fmt.Errorf("invalid bulk list cursor")
	}
}
