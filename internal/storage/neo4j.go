package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"lorehub/internal/config"
	"lorehub/internal/embeddings"
	"lorehub/internal/logging"
	"lorehub/pkg/types"
)

const (
	chunkVectorIndex   = "chunk_embedding"
	chunkFulltextIndex = "chunk_fulltext"

	// rrfK is the reciprocal rank fusion constant. 60 is the value from
	// the original RRF paper and works well without tuning.
	rrfK = 60
)

// Neo4jStore keeps chunks as nodes with a vector index, a fulltext index
// and MENTIONS edges to shared Entity nodes. It is the default backend.
type Neo4jStore struct {
	cfg      *config.GraphConfig
	embedder embeddings.Embedder
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
	logger   logging.Logger
}

// NewNeo4jStore validates the connection settings eagerly. The driver is
// created in Initialize.
func NewNeo4jStore(cfg *config.GraphConfig, embedder embeddings.Embedder) (*Neo4jStore, error) {
	if cfg.Neo4j.URI == "" {
		return nil, fmt.Errorf("neo4j URI is required")
	}
	if cfg.Neo4j.Username == "" || cfg.Neo4j.Password == "" {
		return nil, fmt.Errorf("neo4j credentials are required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	database := cfg.Neo4j.Database
	if database == "" {
		database = "neo4j"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Neo4jStore{
		cfg:      cfg,
		embedder: embedder,
		database: database,
		timeout:  timeout,
		logger:   logging.WithComponent("neo4j"),
	}, nil
}

// Initialize connects and creates the constraint and both search indexes.
func (s *Neo4jStore) Initialize(ctx context.Context) error {
	driver, err := neo4j.NewDriverWithContext(s.cfg.Neo4j.URI,
		neo4j.BasicAuth(s.cfg.Neo4j.Username, s.cfg.Neo4j.Password, ""))
	if err != nil {
		return fmt.Errorf("create neo4j driver: %w", err)
	}
	s.driver = driver

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	statements := []string{
		`CREATE CONSTRAINT chunk_id_unique IF NOT EXISTS FOR (c:Chunk) REQUIRE c.chunk_id IS UNIQUE`,
		`CREATE CONSTRAINT entity_name_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE`,
		fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS FOR (c:Chunk) ON (c.embedding)
			OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`,
			chunkVectorIndex, s.embedder.Dimension()),
		fmt.Sprintf(`CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (c:Chunk) ON EACH [c.content, c.page_title]`,
			chunkFulltextIndex),
	}
	for _, stmt := range statements {
		if _, err := s.run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	s.logger.Info("neo4j store initialized",
		"database", s.database, "dimension", s.embedder.Dimension())
	return nil
}

// UpsertChunks embeds the batch and merges each chunk node plus its entity
// edges. Quality fields are only written on create so re-ingesting a page
// does not wipe accumulated feedback.
func (s *Neo4jStore) UpsertChunks(ctx context.Context, chunks []types.Chunk) (*BatchResult, error) {
	result := &BatchResult{}
	if len(chunks) == 0 {
		return result, nil
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}

	const upsertQuery = `
		MERGE (c:Chunk {chunk_id: $chunk_id})
		ON CREATE SET c.quality_score = $quality_score,
		              c.access_count = $access_count,
		              c.feedback_count = $feedback_count
		SET c += $props, c.embedding = $embedding
		WITH c
		OPTIONAL MATCH (c)-[old:MENTIONS]->(:Entity)
		DELETE old
		WITH DISTINCT c
		UNWIND $entities AS name
		MERGE (e:Entity {name: name})
		MERGE (c)-[:MENTIONS]->(e)`

	for i := range chunks {
		props, err := types.ChunkToMetadata(&chunks[i])
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", chunks[i].ChunkID, err))
			continue
		}
		// Quality fields are handled by ON CREATE above.
		delete(props, "quality_score")
		delete(props, "access_count")
		delete(props, "feedback_count")

		params := map[string]any{
			"chunk_id":       chunks[i].ChunkID,
			"props":          props,
			"embedding":      vectors[i],
			"quality_score":  chunks[i].QualityScore,
			"access_count":   chunks[i].AccessCount,
			"feedback_count": chunks[i].FeedbackCount,
			"entities":       entityNames(&chunks[i]),
		}
		if _, err := s.run(ctx, upsertQuery, params); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", chunks[i].ChunkID, err))
			continue
		}
		result.Stored++
	}
	return result, nil
}

// SearchHybrid runs the vector and fulltext legs and fuses them with
// reciprocal rank fusion, normalized to [0,1].
func (s *Neo4jStore) SearchHybrid(ctx context.Context, query string, k int, filters *types.SearchFilters) ([]types.ScoredChunk, error) {
	if k <= 0 {
		k = 10
	}
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Over-fetch each leg so fusion has candidates to work with.
	legLimit := k * 2

	filterClause, filterParams := buildFilterClause("node", filters)

	vectorQuery := fmt.Sprintf(`
		CALL db.index.vector.queryNodes($index, $limit, $embedding)
		YIELD node, score
		WHERE node.deleted_at IS NULL%s
		RETURN properties(node) AS props
		ORDER BY score DESC`, filterClause)
	vectorParams := map[string]any{
		"index":     chunkVectorIndex,
		"limit":     legLimit,
		"embedding": embedding,
	}
	for key, value := range filterParams {
		vectorParams[key] = value
	}
	vectorRecords, err := s.run(ctx, vectorQuery, vectorParams)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	var lexicalRecords []*neo4j.Record
	if lucene := sanitizeFulltextQuery(query); lucene != "" {
		lexicalQuery := fmt.Sprintf(`
			CALL db.index.fulltext.queryNodes($index, $query)
			YIELD node, score
			WHERE node.deleted_at IS NULL%s
			RETURN properties(node) AS props
			ORDER BY score DESC
			LIMIT $limit`, filterClause)
		lexicalParams := map[string]any{
			"index": chunkFulltextIndex,
			"query": lucene,
			"limit": legLimit,
		}
		for key, value := range filterParams {
			lexicalParams[key] = value
		}
		lexicalRecords, err = s.run(ctx, lexicalQuery, lexicalParams)
		if err != nil {
			// The lexical leg is best-effort; vector results still serve.
			s.logger.Warn("fulltext leg failed, using vector results only", "error", err.Error())
			lexicalRecords = nil
		}
	}

	vectorIDs, chunksByID, err := recordsToRanking(vectorRecords)
	if err != nil {
		return nil, err
	}
	lexicalIDs, lexicalChunks, err := recordsToRanking(lexicalRecords)
	if err != nil {
		return nil, err
	}
	for id, chunk := range lexicalChunks {
		if _, ok := chunksByID[id]; !ok {
			chunksByID[id] = chunk
		}
	}

	fused := fuseRankings(vectorIDs, lexicalIDs)
	if len(fused) > k {
		fused = fused[:k]
	}

	results := make([]types.ScoredChunk, 0, len(fused))
	for _, entry := range fused {
		chunk, ok := chunksByID[entry.id]
		if !ok {
			continue
		}
		results = append(results, types.ScoredChunk{Chunk: *chunk, Score: entry.score})
	}
	return results, nil
}

func (s *Neo4jStore) GetByID(ctx context.Context, chunkID string) (*types.Chunk, error) {
	records, err := s.run(ctx,
		`MATCH (c:Chunk {chunk_id: $id}) RETURN properties(c) AS props`,
		map[string]any{"id": chunkID})
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", chunkID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("get chunk %s: %w", chunkID, ErrNotFound)
	}
	return recordToChunk(records[0])
}

// GetMetadata is GetByID without needing the content; the node properties
// already carry both so the implementation is shared.
func (s *Neo4jStore) GetMetadata(ctx context.Context, chunkID string) (*types.Chunk, error) {
	return s.GetByID(ctx, chunkID)
}

func (s *Neo4jStore) UpdateMetadata(ctx context.Context, chunkID string, fields map[string]any) error {
	records, err := s.run(ctx,
		`MATCH (c:Chunk {chunk_id: $id}) SET c += $fields RETURN c.chunk_id AS id`,
		map[string]any{"id": chunkID, "fields": normalizeFieldValues(fields)})
	if err != nil {
		return fmt.Errorf("update chunk %s: %w", chunkID, err)
	}
	if len(records) == 0 {
		return fmt.Errorf("update chunk %s: %w", chunkID, ErrNotFound)
	}
	return nil
}

func (s *Neo4jStore) IncrementAccess(ctx context.Context, chunkID string) error {
	_, err := s.run(ctx,
		`MATCH (c:Chunk {chunk_id: $id}) SET c.access_count = coalesce(c.access_count, 0) + 1`,
		map[string]any{"id": chunkID})
	if err != nil {
		return fmt.Errorf("increment access %s: %w", chunkID, err)
	}
	return nil
}

func (s *Neo4jStore) ApplyFeedbackDelta(ctx context.Context, chunkID string, delta float64) error {
	records, err := s.run(ctx,
		`MATCH (c:Chunk {chunk_id: $id})
		 SET c.quality_score = CASE
		       WHEN coalesce(c.quality_score, 100) + $delta < 0 THEN 0
		       WHEN coalesce(c.quality_score, 100) + $delta > 100 THEN 100
		       ELSE coalesce(c.quality_score, 100) + $delta
		     END,
		     c.feedback_count = coalesce(c.feedback_count, 0) + 1
		 RETURN c.chunk_id AS id`,
		map[string]any{"id": chunkID, "delta": delta})
	if err != nil {
		return fmt.Errorf("apply feedback delta %s: %w", chunkID, err)
	}
	if len(records) == 0 {
		return fmt.Errorf("apply feedback delta %s: %w", chunkID, ErrNotFound)
	}
	return nil
}

func (s *Neo4jStore) SoftDelete(ctx context.Context, chunkID string, at time.Time) error {
	records, err := s.run(ctx,
		`MATCH (c:Chunk {chunk_id: $id}) SET c.deleted_at = $at RETURN c.chunk_id AS id`,
		map[string]any{"id": chunkID, "at": at.UTC().Format(time.RFC3339)})
	if err != nil {
		return fmt.Errorf("soft delete %s: %w", chunkID, err)
	}
	if len(records) == 0 {
		return fmt.Errorf("soft delete %s: %w", chunkID, ErrNotFound)
	}
	return nil
}

func (s *Neo4jStore) SoftDeletePage(ctx context.Context, pageID string, at time.Time) error {
	_, err := s.run(ctx,
		`MATCH (c:Chunk {page_id: $page_id}) SET c.deleted_at = $at`,
		map[string]any{"page_id": pageID, "at": at.UTC().Format(time.RFC3339)})
	if err != nil {
		return fmt.Errorf("soft delete page %s: %w", pageID, err)
	}
	return nil
}

func (s *Neo4jStore) HardDelete(ctx context.Context, chunkID string) error {
	_, err := s.run(ctx,
		`MATCH (c:Chunk {chunk_id: $id}) DETACH DELETE c`,
		map[string]any{"id": chunkID})
	if err != nil {
		return fmt.Errorf("hard delete %s: %w", chunkID, err)
	}
	return nil
}

// BulkList pages in chunk_id order; the cursor is the last ID seen.
func (s *Neo4jStore) BulkList(ctx context.Context, cursor string, limit int) ([]types.Chunk, string, error) {
	if limit <= 0 {
		limit = 100
	}
	records, err := s.run(ctx, `
		MATCH (c:Chunk)
		WHERE c.chunk_id > $cursor
		RETURN properties(c) AS props
		ORDER BY c.chunk_id
		LIMIT $limit`,
		map[string]any{"cursor": cursor, "limit": limit})
	if err != nil {
		return nil, "", fmt.Errorf("bulk list: %w", err)
	}

	chunks := make([]types.Chunk, 0, len(records))
	for _, record := range records {
		chunk, err := recordToChunk(record)
		if err != nil {
			return nil, "", err
		}
		chunks = append(chunks, *chunk)
	}

	next := ""
	if len(chunks) == limit {
		next = chunks[len(chunks)-1].ChunkID
	}
	return chunks, next, nil
}

// RelatedByEntity walks MENTIONS edges to chunks sharing entities with the
// inputs, scored by the share of entities in common.
func (s *Neo4jStore) RelatedByEntity(ctx context.Context, chunkIDs []string, limit int) ([]types.ScoredChunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	records, err := s.run(ctx, `
		MATCH (c:Chunk)-[:MENTIONS]->(e:Entity)<-[:MENTIONS]-(other:Chunk)
		WHERE c.chunk_id IN $ids AND NOT other.chunk_id IN $ids
		  AND other.deleted_at IS NULL
		WITH other, count(DISTINCT e) AS shared
		ORDER BY shared DESC
		LIMIT $limit
		RETURN properties(other) AS props, shared`,
		map[string]any{"ids": chunkIDs, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("related by entity: %w", err)
	}

	var maxShared int64
	type related struct {
		chunk  *types.Chunk
		shared int64
	}
	entries := make([]related, 0, len(records))
	for _, record := range records {
		chunk, err := recordToChunk(record)
		if err != nil {
			return nil, err
		}
		shared, _ := record.Get("shared")
		count, _ := shared.(int64)
		if count > maxShared {
			maxShared = count
		}
		entries = append(entries, related{chunk: chunk, shared: count})
	}

	results := make([]types.ScoredChunk, 0, len(entries))
	for _, entry := range entries {
		score := normalizeShared(entry.shared, maxShared)
		results = append(results, types.ScoredChunk{Chunk: *entry.chunk, Score: score})
	}
	return results, nil
}

func (s *Neo4jStore) HealthCheck(ctx context.Context) error {
	if s.driver == nil {
		return fmt.Errorf("neo4j store not initialized")
	}
	if _, err := s.run(ctx, `RETURN 1`, nil); err != nil {
		return fmt.Errorf("neo4j health check: %w", err)
	}
	return nil
}

func (s *Neo4jStore) GetStats(ctx context.Context) (*StoreStats, error) {
	records, err := s.run(ctx, `
		MATCH (c:Chunk)
		RETURN count(c) AS total,
		       collect(DISTINCT c.chunk_type) AS types,
		       collect(DISTINCT c.space_key) AS spaces`,
		nil)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	stats := &StoreStats{
		ChunksByType:  map[string]int64{},
		ChunksBySpace: map[string]int64{},
	}
	if len(records) > 0 {
		if total, ok := records[0].Get("total"); ok {
			stats.TotalChunks, _ = total.(int64)
		}
	}

	grouped, err := s.run(ctx, `
		MATCH (c:Chunk)
		RETURN c.chunk_type AS ctype, c.space_key AS space, count(c) AS n`,
		nil)
	if err != nil {
		return nil, fmt.Errorf("get stats breakdown: %w", err)
	}
	for _, record := range grouped {
		n, _ := record.Get("n")
		count, _ := n.(int64)
		if v, ok := record.Get("ctype"); ok {
			if name, ok := v.(string); ok && name != "" {
				stats.ChunksByType[name] += count
			}
		}
		if v, ok := record.Get("space"); ok {
			if name, ok := v.(string); ok && name != "" {
				stats.ChunksBySpace[name] += count
			}
		}
	}
	return stats, nil
}

func (s *Neo4jStore) Close() error {
	if s.driver == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.driver.Close(ctx)
}

// run executes one query with the per-operation timeout and returns the
// eager records.
func (s *Neo4jStore) run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	if s.driver == nil {
		return nil, fmt.Errorf("neo4j store not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		return nil, err
	}
	return result.Records, nil
}

// rankedEntry is one fused search hit.
type rankedEntry struct {
	id    string
	score float64
}

// fuseRankings merges the two ranked ID lists with reciprocal rank fusion
// and normalizes so a chunk ranked first in both legs scores 1.0.
func fuseRankings(vectorIDs, lexicalIDs []string) []rankedEntry {
	scores := map[string]float64{}
	for rank, id := range vectorIDs {
		scores[id] += 1.0 / float64(rrfK+rank+1)
	}
	for rank, id := range lexicalIDs {
		scores[id] += 1.0 / float64(rrfK+rank+1)
	}

	maxScore := 2.0 / float64(rrfK+1)
	entries := make([]rankedEntry, 0, len(scores))
	for id, score := range scores {
		entries = append(entries, rankedEntry{id: id, score: score / maxScore})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].id < entries[j].id
	})
	return entries
}

// recordsToRanking extracts the ordered chunk IDs and the decoded chunks
// from a leg's result records.
func recordsToRanking(records []*neo4j.Record) ([]string, map[string]*types.Chunk, error) {
	ids := make([]string, 0, len(records))
	chunks := make(map[string]*types.Chunk, len(records))
	for _, record := range records {
		chunk, err := recordToChunk(record)
		if err != nil {
			return nil, nil, err
		}
		ids = append(ids, chunk.ChunkID)
		chunks[chunk.ChunkID] = chunk
	}
	return ids, chunks, nil
}

func recordToChunk(record *neo4j.Record) (*types.Chunk, error) {
	raw, ok := record.Get("props")
	if !ok {
		return nil, fmt.Errorf("record missing props")
	}
	props, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected props type %T", raw)
	}
	delete(props, "embedding")
	return types.ChunkFromMetadata(props)
}

// entityNames extracts the graph entities a chunk mentions: its heading
// path, topics and page title, lowercased and deduplicated.
func entityNames(c *types.Chunk) []string {
	seen := map[string]bool{}
	var names []string
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if len(name) < 3 || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	for _, header := range c.ParentHeaders {
		add(header)
	}
	for _, topic := range c.Topics {
		add(topic)
	}
	add(c.PageTitle)
	return names
}

// buildFilterClause renders the conjunctive search filters as extra WHERE
// conditions on the given node variable.
func buildFilterClause(nodeVar string, filters *types.SearchFilters) (string, map[string]any) {
	if filters.Empty() {
		return "", nil
	}
	var clauses []string
	params := map[string]any{}
	if len(filters.SpaceKeys) > 0 {
		clauses = append(clauses, fmt.Sprintf("%s.space_key IN $filter_spaces", nodeVar))
		params["filter_spaces"] = filters.SpaceKeys
	}
	if len(filters.DocTypes) > 0 {
		clauses = append(clauses, fmt.Sprintf("%s.doc_type IN $filter_doc_types", nodeVar))
		params["filter_doc_types"] = filters.DocTypes
	}
	if len(filters.Classifications) > 0 {
		clauses = append(clauses, fmt.Sprintf("%s.classification IN $filter_classifications", nodeVar))
		params["filter_classifications"] = filters.Classifications
	}
	if len(filters.ChunkTypes) > 0 {
		clauses = append(clauses, fmt.Sprintf("%s.chunk_type IN $filter_chunk_types", nodeVar))
		params["filter_chunk_types"] = filters.ChunkTypes
	}
	if filters.MinQualityScore > 0 {
		clauses = append(clauses, fmt.Sprintf("%s.quality_score >= $filter_min_quality", nodeVar))
		params["filter_min_quality"] = filters.MinQualityScore
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), params
}

// sanitizeFulltextQuery strips Lucene operators so user text cannot break
// the fulltext leg. Returns empty when nothing searchable remains.
func sanitizeFulltextQuery(query string) string {
	replacer := strings.NewReplacer(
		"+", " ", "-", " ", "&&", " ", "||", " ", "!", " ", "(", " ", ")", " ",
		"{", " ", "}", " ", "[", " ", "]", " ", "^", " ", "\"", " ", "~", " ",
		"*", " ", "?", " ", ":", " ", "\\", " ", "/", " ")
	var terms []string
	for _, field := range strings.Fields(replacer.Replace(query)) {
		// Bare boolean operators confuse the Lucene parser.
		if field == "AND" || field == "OR" || field == "NOT" {
			continue
		}
		terms = append(terms, field)
	}
	return strings.Join(terms, " ")
}

// normalizeShared scales a shared-entity count against the batch maximum.
func normalizeShared(shared, maxShared int64) float64 {
	if maxShared <= 0 {
		return 0
	}
	return float64(shared) / float64(maxShared)
}
