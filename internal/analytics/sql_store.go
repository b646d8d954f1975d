package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite driver

	"lorehub/internal/config"
	"lorehub/internal/logging"
	"lorehub/pkg/types"
)

// SQLStore implements Store over database/sql. Postgres serves production,
// SQLite serves single-node deployments and tests. Timestamps are stored
// as RFC3339 text so both drivers order and compare them identically.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger logging.Logger
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore opens the configured database and verifies connectivity.
func NewSQLStore(cfg *config.AnalyticsConfig) (*SQLStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	if driver != "postgres" && driver != "sqlite3" {
		return nil, fmt.Errorf("unsupported analytics driver %q", driver)
	}
	dsn := cfg.DSN
	if dsn == "" && driver == "sqlite3" {
		dsn = "file:lorehub.db?_foreign_keys=on"
	}
	if dsn == "" {
		return nil, fmt.Errorf("analytics DSN is required for driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open analytics database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping analytics database: %w", err)
	}

	return &SQLStore{
		db:     db,
		driver: driver,
		logger: logging.WithComponent("analytics"),
	}, nil
}

// Migrate creates the schema. Statements are idempotent so running it on
// every start is safe.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	s.logger.Info("analytics schema ready", "driver", s.driver)
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS pages (
		page_id        TEXT PRIMARY KEY,
		space_key      TEXT NOT NULL,
		title          TEXT NOT NULL DEFAULT '',
		file_path      TEXT NOT NULL DEFAULT '',
		version_number INTEGER NOT NULL DEFAULT 0,
		status         TEXT NOT NULL DEFAULT 'active',
		updated_at     TEXT NOT NULL DEFAULT '',
		downloaded_at  TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS feedback (
		id                   TEXT PRIMARY KEY,
		chunk_id             TEXT NOT NULL,
		user_id              TEXT NOT NULL,
		feedback_type        TEXT NOT NULL,
		comment              TEXT NOT NULL DEFAULT '',
		suggested_correction TEXT NOT NULL DEFAULT '',
		evidence             TEXT NOT NULL DEFAULT '',
		query_context        TEXT NOT NULL DEFAULT '',
		thread_ref           TEXT NOT NULL DEFAULT '',
		message_ts           TEXT NOT NULL DEFAULT '',
		created_at           TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_chunk ON feedback (chunk_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id           TEXT PRIMARY KEY,
		response_ref TEXT NOT NULL,
		thread_ref   TEXT NOT NULL DEFAULT '',
		chunk_ids    TEXT NOT NULL DEFAULT '[]',
		user_id      TEXT NOT NULL,
		signal_type  TEXT NOT NULL,
		signal_value REAL NOT NULL DEFAULT 0,
		raw_text     TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bot_responses (
		response_ts   TEXT PRIMARY KEY,
		thread_ts     TEXT NOT NULL DEFAULT '',
		channel_id    TEXT NOT NULL,
		user_id       TEXT NOT NULL DEFAULT '',
		query         TEXT NOT NULL DEFAULT '',
		response_text TEXT NOT NULL DEFAULT '',
		chunk_ids     TEXT NOT NULL DEFAULT '[]',
		has_follow_up INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS access_log (
		id          TEXT PRIMARY KEY,
		chunk_id    TEXT NOT NULL,
		accessed_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_access_chunk ON access_log (chunk_id, accessed_at)`,
	`CREATE TABLE IF NOT EXISTS conflicts (
		id               TEXT PRIMARY KEY,
		chunk_a_id       TEXT NOT NULL,
		chunk_b_id       TEXT NOT NULL,
		pair_key         TEXT NOT NULL,
		conflict_type    TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'open',
		resolution       TEXT NOT NULL DEFAULT '',
		similarity_score REAL NOT NULL DEFAULT 0,
		confidence_score REAL NOT NULL DEFAULT 0,
		ai_explanation   TEXT NOT NULL DEFAULT '',
		detected_at      TEXT NOT NULL,
		resolved_at      TEXT,
		resolved_by      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conflicts_pair ON conflicts (pair_key, status)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		chunk_id    TEXT NOT NULL,
		session_id  TEXT NOT NULL,
		status      TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error       TEXT NOT NULL DEFAULT '',
		updated_at  TEXT NOT NULL,
		PRIMARY KEY (chunk_id, session_id)
	)`,
	`CREATE TABLE IF NOT EXISTS archived_chunks (
		chunk_id    TEXT PRIMARY KEY,
		payload     TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		archived_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS escalations (
		chunk_id     TEXT NOT NULL,
		escalated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_escalations_chunk ON escalations (chunk_id, escalated_at)`,
}

// rebind converts ? placeholders to the $N form Postgres expects. SQLite
// takes the query as written.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := decodeTime(s.String)
	return &t
}

func encodeStringSlice(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func decodeStringSlice(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

// messageTSFromThreadRef extracts the message timestamp from a
// "channel:ts" reference. A bare timestamp passes through unchanged.
func messageTSFromThreadRef(threadRef string) string {
	if idx := strings.LastIndex(threadRef, ":"); idx >= 0 {
		return threadRef[idx+1:]
	}
	return threadRef
}

// --- Pages ---

func (s *SQLStore) UpsertPage(ctx context.Context, page *types.Page) error {
	if err := page.Validate(); err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	query := s.rebind(`
		INSERT INTO pages (page_id, space_key, title, file_path, version_number, status, updated_at, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (page_id) DO UPDATE SET
			space_key = excluded.space_key,
			title = excluded.title,
			file_path = excluded.file_path,
			version_number = excluded.version_number,
			status = excluded.status,
			updated_at = excluded.updated_at,
			downloaded_at = excluded.downloaded_at`)
	_, err := s.db.ExecContext(ctx, query,
		page.PageID, page.SpaceKey, page.Title, page.FilePath,
		page.VersionNumber, string(page.Status), encodeTime(page.UpdatedAt),
		encodeTimePtr(page.DownloadedAt))
	if err != nil {
		return fmt.Errorf("upsert page %s: %w", page.PageID, err)
	}
	return nil
}

func (s *SQLStore) GetPage(ctx context.Context, pageID string) (*types.Page, error) {
	query := s.rebind(`
		SELECT page_id, space_key, title, file_path, version_number, status, updated_at, downloaded_at
		FROM pages WHERE page_id = ?`)
	row := s.db.QueryRowContext(ctx, query, pageID)
	return scanPage(row)
}

func (s *SQLStore) ListPages(ctx context.Context, spaceKey string) ([]types.Page, error) {
	query := s.rebind(`
		SELECT page_id, space_key, title, file_path, version_number, status, updated_at, downloaded_at
		FROM pages WHERE space_key = ? ORDER BY page_id`)
	rows, err := s.db.QueryContext(ctx, query, spaceKey)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pages []types.Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, *page)
	}
	return pages, rows.Err()
}

func (s *SQLStore) MarkPageDeleted(ctx context.Context, pageID string, at time.Time) error {
	query := s.rebind(`UPDATE pages SET status = ?, updated_at = ? WHERE page_id = ?`)
	result, err := s.db.ExecContext(ctx, query,
		string(types.PageStatusDeleted), encodeTime(at), pageID)
	if err != nil {
		return fmt.Errorf("mark page deleted %s: %w", pageID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("mark page deleted %s: %w", pageID, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (*types.Page, error) {
	var page types.Page
	var status, updatedAt string
	var downloadedAt sql.NullString
	err := row.Scan(&page.PageID, &page.SpaceKey, &page.Title, &page.FilePath,
		&page.VersionNumber, &status, &updatedAt, &downloadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan page: %w", err)
	}
	page.Status = types.PageStatus(status)
	page.UpdatedAt = decodeTime(updatedAt)
	page.DownloadedAt = decodeTimePtr(downloadedAt)
	return &page, nil
}

// --- Feedback ---

func (s *SQLStore) InsertFeedback(ctx context.Context, rec *types.FeedbackRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	query := s.rebind(`
		INSERT INTO feedback (id, chunk_id, user_id, feedback_type, comment, suggested_correction,
			evidence, query_context, thread_ref, message_ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ChunkID, rec.UserID, string(rec.FeedbackType), rec.Comment,
		rec.SuggestedCorrection, rec.Evidence, rec.QueryContext, rec.ThreadRef,
		messageTSFromThreadRef(rec.ThreadRef), encodeTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func (s *SQLStore) CountRecentNegativeFeedback(ctx context.Context, chunkID string, window time.Duration) (int, error) {
	since := encodeTime(time.Now().Add(-window))
	query := s.rebind(`
		SELECT COUNT(*) FROM feedback
		WHERE chunk_id = ? AND created_at >= ?
		  AND feedback_type IN ('outdated', 'incorrect', 'confusing')`)
	var count int
	if err := s.db.QueryRowContext(ctx, query, chunkID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count negative feedback: %w", err)
	}
	return count, nil
}

func (s *SQLStore) ListFeedbackForChunk(ctx context.Context, chunkID string, since time.Time) ([]types.FeedbackRecord, error) {
	query := s.rebind(`
		SELECT id, chunk_id, user_id, feedback_type, comment, suggested_correction,
		       evidence, query_context, thread_ref, created_at
		FROM feedback WHERE chunk_id = ? AND created_at >= ?
		ORDER BY created_at`)
	rows, err := s.db.QueryContext(ctx, query, chunkID, encodeTime(since))
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.FeedbackRecord
	for rows.Next() {
		var rec types.FeedbackRecord
		var ftype, createdAt string
		err := rows.Scan(&rec.ID, &rec.ChunkID, &rec.UserID, &ftype, &rec.Comment,
			&rec.SuggestedCorrection, &rec.Evidence, &rec.QueryContext,
			&rec.ThreadRef, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		rec.FeedbackType = types.FeedbackType(ftype)
		rec.CreatedAt = decodeTime(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLStore) HasFeedback(ctx context.Context, chunkID, userID string, ft types.FeedbackType, messageTS string) (bool, error) {
	query := s.rebind(`
		SELECT COUNT(*) FROM feedback
		WHERE chunk_id = ? AND user_id = ? AND feedback_type = ? AND message_ts = ?`)
	var count int
	if err := s.db.QueryRowContext(ctx, query, chunkID, userID, string(ft), messageTS).Scan(&count); err != nil {
		return false, fmt.Errorf("has feedback: %w", err)
	}
	return count > 0, nil
}

// --- Signals ---

func (s *SQLStore) InsertSignal(ctx context.Context, sig *types.BehavioralSignal) error {
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	query := s.rebind(`
		INSERT INTO signals (id, response_ref, thread_ref, chunk_ids, user_id, signal_type, signal_value, raw_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		sig.ID, sig.ResponseRef, sig.ThreadRef, encodeStringSlice(sig.ChunkIDs),
		sig.UserID, string(sig.SignalType), sig.SignalValue, sig.RawText,
		encodeTime(sig.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func (s *SQLStore) ListSignalsForChunk(ctx context.Context, chunkID string, since time.Time) ([]types.BehavioralSignal, error) {
	// chunk_ids is a JSON array; the quoted-ID containment match works in
	// both SQLite and Postgres without JSON operators.
	pattern := `%"` + chunkID + `"%`
	query := s.rebind(`
		SELECT id, response_ref, thread_ref, chunk_ids, user_id, signal_type, signal_value, raw_text, created_at
		FROM signals WHERE chunk_ids LIKE ? AND created_at >= ?
		ORDER BY created_at`)
	rows, err := s.db.QueryContext(ctx, query, pattern, encodeTime(since))
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var signals []types.BehavioralSignal
	for rows.Next() {
		var sig types.BehavioralSignal
		var chunkIDs, stype, createdAt string
		err := rows.Scan(&sig.ID, &sig.ResponseRef, &sig.ThreadRef, &chunkIDs,
			&sig.UserID, &stype, &sig.SignalValue, &sig.RawText, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		sig.ChunkIDs = decodeStringSlice(chunkIDs)
		sig.SignalType = types.SignalType(stype)
		sig.CreatedAt = decodeTime(createdAt)
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// --- Bot responses ---

func (s *SQLStore) SaveBotResponse(ctx context.Context, resp *types.BotResponse) error {
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("save bot response: %w", err)
	}
	query := s.rebind(`
		INSERT INTO bot_responses (response_ts, thread_ts, channel_id, user_id, query, response_text, chunk_ids, has_follow_up, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (response_ts) DO UPDATE SET
			response_text = excluded.response_text,
			chunk_ids = excluded.chunk_ids,
			has_follow_up = excluded.has_follow_up`)
	_, err := s.db.ExecContext(ctx, query,
		resp.ResponseTS, resp.ThreadTS, resp.ChannelID, resp.UserID, resp.Query,
		resp.ResponseText, encodeStringSlice(resp.ChunkIDs),
		boolToInt(resp.HasFollowUp), encodeTime(resp.CreatedAt))
	if err != nil {
		return fmt.Errorf("save bot response: %w", err)
	}
	return nil
}

func (s *SQLStore) GetBotResponse(ctx context.Context, responseTS string) (*types.BotResponse, error) {
	query := s.rebind(`
		SELECT response_ts, thread_ts, channel_id, user_id, query, response_text, chunk_ids, has_follow_up, created_at
		FROM bot_responses WHERE response_ts = ?`)
	var resp types.BotResponse
	var chunkIDs, createdAt string
	var hasFollowUp int
	err := s.db.QueryRowContext(ctx, query, responseTS).Scan(
		&resp.ResponseTS, &resp.ThreadTS, &resp.ChannelID, &resp.UserID,
		&resp.Query, &resp.ResponseText, &chunkIDs, &hasFollowUp, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bot response: %w", err)
	}
	resp.ChunkIDs = decodeStringSlice(chunkIDs)
	resp.HasFollowUp = hasFollowUp != 0
	resp.CreatedAt = decodeTime(createdAt)
	return &resp, nil
}

func (s *SQLStore) MarkFollowUp(ctx context.Context, responseTS string) error {
	query := s.rebind(`UPDATE bot_responses SET has_follow_up = 1 WHERE response_ts = ?`)
	result, err := s.db.ExecContext(ctx, query, responseTS)
	if err != nil {
		return fmt.Errorf("mark follow up: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("mark follow up %s: %w", responseTS, ErrNotFound)
	}
	return nil
}

// --- Access tracking ---

func (s *SQLStore) RecordAccess(ctx context.Context, chunkID string, at time.Time) error {
	query := s.rebind(`INSERT INTO access_log (id, chunk_id, accessed_at) VALUES (?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, uuid.New().String(), chunkID, encodeTime(at))
	if err != nil {
		return fmt.Errorf("record access: %w", err)
	}
	return nil
}

func (s *SQLStore) CountAccesses(ctx context.Context, chunkID string, since time.Time) (int, error) {
	query := s.rebind(`SELECT COUNT(*) FROM access_log WHERE chunk_id = ? AND accessed_at >= ?`)
	var count int
	if err := s.db.QueryRowContext(ctx, query, chunkID, encodeTime(since)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count accesses: %w", err)
	}
	return count, nil
}

// --- Conflicts ---

func (s *SQLStore) InsertConflict(ctx context.Context, conflict *types.ContentConflict) (bool, error) {
	if err := conflict.Validate(); err != nil {
		return false, fmt.Errorf("insert conflict: %w", err)
	}
	pairKey := types.ConflictPairKey(conflict.ChunkAID, conflict.ChunkBID)

	checkQuery := s.rebind(`SELECT COUNT(*) FROM conflicts WHERE pair_key = ? AND status = 'open'`)
	var existing int
	if err := s.db.QueryRowContext(ctx, checkQuery, pairKey).Scan(&existing); err != nil {
		return false, fmt.Errorf("check conflict pair: %w", err)
	}
	if existing > 0 {
		return false, nil
	}

	if conflict.ID == "" {
		conflict.ID = uuid.New().String()
	}
	insertQuery := s.rebind(`
		INSERT INTO conflicts (id, chunk_a_id, chunk_b_id, pair_key, conflict_type, status,
			resolution, similarity_score, confidence_score, ai_explanation, detected_at, resolved_at, resolved_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, insertQuery,
		conflict.ID, conflict.ChunkAID, conflict.ChunkBID, pairKey,
		string(conflict.ConflictType), string(conflict.Status), string(conflict.Resolution),
		conflict.SimilarityScore, conflict.ConfidenceScore, conflict.AIExplanation,
		encodeTime(conflict.DetectedAt), encodeTimePtr(conflict.ResolvedAt), conflict.ResolvedBy)
	if err != nil {
		return false, fmt.Errorf("insert conflict: %w", err)
	}
	return true, nil
}

const conflictColumns = `id, chunk_a_id, chunk_b_id, conflict_type, status, resolution,
	similarity_score, confidence_score, ai_explanation, detected_at, resolved_at, resolved_by`

func (s *SQLStore) ListOpenConflicts(ctx context.Context) ([]types.ContentConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE status = 'open' ORDER BY detected_at`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open conflicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conflicts []types.ContentConflict
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, *conflict)
	}
	return conflicts, rows.Err()
}

func (s *SQLStore) GetConflict(ctx context.Context, id string) (*types.ContentConflict, error) {
	query := s.rebind(`SELECT ` + conflictColumns + ` FROM conflicts WHERE id = ?`)
	return scanConflict(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLStore) ResolveConflict(ctx context.Context, id string, res types.Resolution, by string) error {
	if !res.Valid() {
		return fmt.Errorf("invalid resolution %q", res)
	}
	query := s.rebind(`
		UPDATE conflicts SET status = 'resolved', resolution = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ? AND status = 'open'`)
	result, err := s.db.ExecContext(ctx, query, string(res), encodeTime(time.Now()), by, id)
	if err != nil {
		return fmt.Errorf("resolve conflict %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("resolve conflict %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) DismissConflict(ctx context.Context, id string, by string) error {
	query := s.rebind(`
		UPDATE conflicts SET status = 'dismissed', resolved_at = ?, resolved_by = ?
		WHERE id = ? AND status = 'open'`)
	result, err := s.db.ExecContext(ctx, query, encodeTime(time.Now()), by, id)
	if err != nil {
		return fmt.Errorf("dismiss conflict %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("dismiss conflict %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanConflict(row rowScanner) (*types.ContentConflict, error) {
	var conflict types.ContentConflict
	var ctype, status, resolution, detectedAt string
	var resolvedAt sql.NullString
	err := row.Scan(&conflict.ID, &conflict.ChunkAID, &conflict.ChunkBID,
		&ctype, &status, &resolution, &conflict.SimilarityScore,
		&conflict.ConfidenceScore, &conflict.AIExplanation, &detectedAt,
		&resolvedAt, &conflict.ResolvedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conflict: %w", err)
	}
	conflict.ConflictType = types.ConflictType(ctype)
	conflict.Status = types.ConflictStatus(status)
	conflict.Resolution = types.Resolution(resolution)
	conflict.DetectedAt = decodeTime(detectedAt)
	conflict.ResolvedAt = decodeTimePtr(resolvedAt)
	return &conflict, nil
}

// --- Checkpoints ---

func (s *SQLStore) UpsertCheckpoint(ctx context.Context, cp *types.IndexingCheckpoint) error {
	query := s.rebind(`
		INSERT INTO checkpoints (chunk_id, session_id, status, retry_count, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (chunk_id, session_id) DO UPDATE SET
			status = excluded.status,
			retry_count = excluded.retry_count,
			error = excluded.error,
			updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, query,
		cp.ChunkID, cp.SessionID, string(cp.Status), cp.RetryCount, cp.Error,
		encodeTime(cp.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert checkpoint %s: %w", cp.ChunkID, err)
	}
	return nil
}

func (s *SQLStore) ListCheckpoints(ctx context.Context, sessionID string) (map[string]types.IndexingCheckpoint, error) {
	query := s.rebind(`
		SELECT chunk_id, session_id, status, retry_count, error, updated_at
		FROM checkpoints WHERE session_id = ?`)
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	checkpoints := make(map[string]types.IndexingCheckpoint)
	for rows.Next() {
		var cp types.IndexingCheckpoint
		var status, updatedAt string
		err := rows.Scan(&cp.ChunkID, &cp.SessionID, &status, &cp.RetryCount, &cp.Error, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.Status = types.CheckpointStatus(status)
		cp.UpdatedAt = decodeTime(updatedAt)
		checkpoints[cp.ChunkID] = cp
	}
	return checkpoints, rows.Err()
}

// --- Cold archive ---

func (s *SQLStore) InsertArchivedChunk(ctx context.Context, archived *types.ArchivedChunk) error {
	payload, err := json.Marshal(archived)
	if err != nil {
		return fmt.Errorf("encode archived chunk: %w", err)
	}
	query := s.rebind(`
		INSERT INTO archived_chunks (chunk_id, payload, reason, archived_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (chunk_id) DO UPDATE SET
			payload = excluded.payload,
			reason = excluded.reason,
			archived_at = excluded.archived_at`)
	_, err = s.db.ExecContext(ctx, query,
		archived.ChunkID, string(payload), archived.Reason, encodeTime(archived.ArchivedAt))
	if err != nil {
		return fmt.Errorf("insert archived chunk %s: %w", archived.ChunkID, err)
	}
	return nil
}

func (s *SQLStore) ListColdArchivedBefore(ctx context.Context, cutoff time.Time) ([]types.ArchivedChunk, error) {
	query := s.rebind(`SELECT payload FROM archived_chunks WHERE archived_at < ? ORDER BY archived_at`)
	rows, err := s.db.QueryContext(ctx, query, encodeTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list cold archived: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var archived []types.ArchivedChunk
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan archived chunk: %w", err)
		}
		var record types.ArchivedChunk
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, fmt.Errorf("decode archived chunk: %w", err)
		}
		archived = append(archived, record)
	}
	return archived, rows.Err()
}

func (s *SQLStore) DeleteArchivedChunk(ctx context.Context, chunkID string) error {
	query := s.rebind(`DELETE FROM archived_chunks WHERE chunk_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, chunkID); err != nil {
		return fmt.Errorf("delete archived chunk %s: %w", chunkID, err)
	}
	return nil
}

// --- Escalations ---

func (s *SQLStore) WasEscalated(ctx context.Context, chunkID string, window time.Duration) (bool, error) {
	query := s.rebind(`SELECT COUNT(*) FROM escalations WHERE chunk_id = ? AND escalated_at >= ?`)
	var count int
	since := encodeTime(time.Now().Add(-window))
	if err := s.db.QueryRowContext(ctx, query, chunkID, since).Scan(&count); err != nil {
		return false, fmt.Errorf("was escalated: %w", err)
	}
	return count > 0, nil
}

func (s *SQLStore) MarkEscalated(ctx context.Context, chunkID string, at time.Time) error {
	query := s.rebind(`INSERT INTO escalations (chunk_id, escalated_at) VALUES (?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, chunkID, encodeTime(at)); err != nil {
		return fmt.Errorf("mark escalated %s: %w", chunkID, err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
