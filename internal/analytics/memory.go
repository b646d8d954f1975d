package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"lorehub/pkg/types"
)

// MemoryStore is an in-memory Store for tests and local experimentation.
// It applies the same semantics as SQLStore, including symmetric conflict
// deduplication and message-timestamp feedback idempotency.
type MemoryStore struct {
	mu          sync.Mutex
	pages       map[string]types.Page
	feedback    []types.FeedbackRecord
	signals     []types.BehavioralSignal
	responses   map[string]types.BotResponse
	accesses    map[string][]time.Time
	conflicts   map[string]types.ContentConflict
	checkpoints map[string]map[string]types.IndexingCheckpoint // session -> chunk -> cp
	archived    map[string]types.ArchivedChunk
	escalations map[string][]time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pages:       make(map[string]types.Page),
		responses:   make(map[string]types.BotResponse),
		accesses:    make(map[string][]time.Time),
		conflicts:   make(map[string]types.ContentConflict),
		checkpoints: make(map[string]map[string]types.IndexingCheckpoint),
		archived:    make(map[string]types.ArchivedChunk),
		escalations: make(map[string][]time.Time),
	}
}

func (m *MemoryStore) UpsertPage(_ context.Context, page *types.Page) error {
	if err := page.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[page.PageID] = *page
	return nil
}

func (m *MemoryStore) GetPage(_ context.Context, pageID string) (*types.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, ok := m.pages[pageID]
	if !ok {
		return nil, ErrNotFound
	}
	return &page, nil
}

func (m *MemoryStore) ListPages(_ context.Context, spaceKey string) ([]types.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pages []types.Page
	for _, page := range m.pages {
		if page.SpaceKey == spaceKey {
			pages = append(pages, page)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageID < pages[j].PageID })
	return pages, nil
}

func (m *MemoryStore) MarkPageDeleted(_ context.Context, pageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, ok := m.pages[pageID]
	if !ok {
		return ErrNotFound
	}
	page.Status = types.PageStatusDeleted
	page.UpdatedAt = at
	m.pages[pageID] = page
	return nil
}

func (m *MemoryStore) InsertFeedback(_ context.Context, rec *types.FeedbackRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, *rec)
	return nil
}

func (m *MemoryStore) CountRecentNegativeFeedback(_ context.Context, chunkID string, window time.Duration) (int, error) {
	cutoff := time.Now().Add(-window)
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, rec := range m.feedback {
		if rec.ChunkID == chunkID && rec.FeedbackType.IsNegative() && !rec.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListFeedbackForChunk(_ context.Context, chunkID string, since time.Time) ([]types.FeedbackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []types.FeedbackRecord
	for _, rec := range m.feedback {
		if rec.ChunkID == chunkID && !rec.CreatedAt.Before(since) {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

func (m *MemoryStore) HasFeedback(_ context.Context, chunkID, userID string, ft types.FeedbackType, messageTS string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.feedback {
		if rec.ChunkID == chunkID && rec.UserID == userID && rec.FeedbackType == ft &&
			messageTSFromThreadRef(rec.ThreadRef) == messageTS {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) InsertSignal(_ context.Context, sig *types.BehavioralSignal) error {
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if err := sig.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, *sig)
	return nil
}

func (m *MemoryStore) ListSignalsForChunk(_ context.Context, chunkID string, since time.Time) ([]types.BehavioralSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var signals []types.BehavioralSignal
	for _, sig := range m.signals {
		if sig.CreatedAt.Before(since) {
			continue
		}
		for _, id := range sig.ChunkIDs {
			if id == chunkID {
				signals = append(signals, sig)
				break
			}
		}
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i].CreatedAt.Before(signals[j].CreatedAt) })
	return signals, nil
}

func (m *MemoryStore) SaveBotResponse(_ context.Context, resp *types.BotResponse) error {
	if err := resp.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[resp.ResponseTS] = *resp
	return nil
}

func (m *MemoryStore) GetBotResponse(_ context.Context, responseTS string) (*types.BotResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.responses[responseTS]
	if !ok {
		return nil, ErrNotFound
	}
	return &resp, nil
}

func (m *MemoryStore) MarkFollowUp(_ context.Context, responseTS string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.responses[responseTS]
	if !ok {
		return ErrNotFound
	}
	resp.HasFollowUp = true
	m.responses[responseTS] = resp
	return nil
}

func (m *MemoryStore) RecordAccess(_ context.Context, chunkID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses[chunkID] = append(m.accesses[chunkID], at)
	return nil
}

func (m *MemoryStore) CountAccesses(_ context.Context, chunkID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, at := range m.accesses[chunkID] {
		if !at.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) InsertConflict(_ context.Context, conflict *types.ContentConflict) (bool, error) {
	if err := conflict.Validate(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pairKey := conflict.PairKey()
	for _, existing := range m.conflicts {
		if existing.Status == types.ConflictOpen && existing.PairKey() == pairKey {
			return false, nil
		}
	}
	if conflict.ID == "" {
		conflict.ID = uuid.New().String()
	}
	m.conflicts[conflict.ID] = *conflict
	return true, nil
}

func (m *MemoryStore) ListOpenConflicts(_ context.Context) ([]types.ContentConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []types.ContentConflict
	for _, conflict := range m.conflicts {
		if conflict.Status == types.ConflictOpen {
			open = append(open, conflict)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].DetectedAt.Before(open[j].DetectedAt) })
	return open, nil
}

func (m *MemoryStore) GetConflict(_ context.Context, id string) (*types.ContentConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conflict, ok := m.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &conflict, nil
}

func (m *MemoryStore) ResolveConflict(_ context.Context, id string, res types.Resolution, by string) error {
	if !res.Valid() {
		return fmt.Errorf("invalid resolution %q", res)
	}
	return m.closeConflict(id, types.ConflictResolved, res, by)
}

func (m *MemoryStore) DismissConflict(_ context.Context, id string, by string) error {
	return m.closeConflict(id, types.ConflictDismissed, "", by)
}

func (m *MemoryStore) closeConflict(id string, status types.ConflictStatus, res types.Resolution, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conflict, ok := m.conflicts[id]
	if !ok || conflict.Status != types.ConflictOpen {
		return ErrNotFound
	}
	now := time.Now().UTC()
	conflict.Status = status
	conflict.Resolution = res
	conflict.ResolvedAt = &now
	conflict.ResolvedBy = by
	m.conflicts[id] = conflict
	return nil
}

func (m *MemoryStore) UpsertCheckpoint(_ context.Context, cp *types.IndexingCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.checkpoints[cp.SessionID]
	if session == nil {
		session = make(map[string]types.IndexingCheckpoint)
		m.checkpoints[cp.SessionID] = session
	}
	session[cp.ChunkID] = *cp
	return nil
}

func (m *MemoryStore) ListCheckpoints(_ context.Context, sessionID string) (map[string]types.IndexingCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]types.IndexingCheckpoint, len(m.checkpoints[sessionID]))
	for id, cp := range m.checkpoints[sessionID] {
		out[id] = cp
	}
	return out, nil
}

func (m *MemoryStore) InsertArchivedChunk(_ context.Context, archived *types.ArchivedChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived[archived.ChunkID] = *archived
	return nil
}

func (m *MemoryStore) ListColdArchivedBefore(_ context.Context, cutoff time.Time) ([]types.ArchivedChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ArchivedChunk
	for _, rec := range m.archived {
		if rec.ArchivedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArchivedAt.Before(out[j].ArchivedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteArchivedChunk(_ context.Context, chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.archived, chunkID)
	return nil
}

func (m *MemoryStore) WasEscalated(_ context.Context, chunkID string, window time.Duration) (bool, error) {
	cutoff := time.Now().Add(-window)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, at := range m.escalations[chunkID] {
		if !at.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) MarkEscalated(_ context.Context, chunkID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalations[chunkID] = append(m.escalations[chunkID], at)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
