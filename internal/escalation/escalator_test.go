package escalation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lorehub/internal/analytics"
	"lorehub/internal/chat"
	"lorehub/internal/config"
	"lorehub/internal/monitoring"
	"lorehub/internal/storage"
	"lorehub/pkg/types"
)

type recordedPost struct {
	ChannelID string
	Msg       *chat.Message
}

type fakeSurface struct {
	mu        sync.Mutex
	posts     []recordedPost
	dmErr     error
	lookupErr error
	dmOpen    []string
	lookups   []string
}

func (s *fakeSurface) PostMessage(_ context.Context, channelID, _ string, msg *chat.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, recordedPost{ChannelID: channelID, Msg: msg})
	return "1.1", nil
}

func (s *fakeSurface) PostEphemeral(context.Context, string, string, *chat.Message) error {
	return nil
}

func (s *fakeSurface) UpdateMessage(context.Context, string, string, *chat.Message) error {
	return nil
}

func (s *fakeSurface) OpenModal(context.Context, string, *chat.Modal) error { return nil }

func (s *fakeSurface) OpenDM(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dmErr != nil {
		return "", s.dmErr
	}
	s.dmOpen = append(s.dmOpen, userID)
	return "D" + userID, nil
}

// LookupUserByEmail maps "name@corp.example" to "U-name".
func (s *fakeSurface) LookupUserByEmail(_ context.Context, email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return "", s.lookupErr
	}
	s.lookups = append(s.lookups, email)
	local, _, _ := strings.Cut(email, "@")
	return "U-" + local, nil
}

func (s *fakeSurface) Run(context.Context, chat.Handler) error { return nil }

func (s *fakeSurface) postsTo(channelID string) []recordedPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedPost
	for _, p := range s.posts {
		if p.ChannelID == channelID {
			out = append(out, p)
		}
	}
	return out
}

func newTestEscalator(t *testing.T) (*Escalator, *fakeSurface, *storage.MemoryStore, *analytics.MemoryStore) {
	t.Helper()
	surface := &fakeSurface{}
	graph := storage.NewMemoryStore()
	store := analytics.NewMemoryStore()
	esc := New(surface, graph, store,
		config.ChatConfig{AdminChannel: "C-ADMIN"},
		config.EscalationConfig{AutoEscalateThreshold: 3, WindowHours: 24})
	return esc, surface, graph, store
}

func seedChunk(t *testing.T, graph *storage.MemoryStore, pageID, owner string) *types.Chunk {
	t.Helper()
	chunk, err := types.NewChunk(pageID, 0, "The deploy pipeline promotes builds from staging to production automatically.", types.ChunkTypeText)
	require.NoError(t, err)
	chunk.PageTitle = strings.ToUpper(pageID[:1]) + pageID[1:] + " Guide"
	chunk.Owner = owner
	_, err = graph.UpsertChunks(context.Background(), []types.Chunk{*chunk})
	require.NoError(t, err)
	return chunk
}

func negativeRecord(t *testing.T, chunkID string) *types.FeedbackRecord {
	t.Helper()
	rec, err := types.NewFeedbackRecord(chunkID, "U-reporter", types.FeedbackIncorrect)
	require.NoError(t, err)
	rec.Comment = "step 3 is wrong"
	rec.SuggestedCorrection = "use the new cluster"
	rec.QueryContext = "how do we deploy?"
	rec.ThreadRef = "C1:100.1"
	return rec
}

func TestEscalateFeedbackDMsOwner(t *testing.T) {
	esc, surface, graph, _ := newTestEscalator(t)
	chunk := seedChunk(t, graph, "deploy", "owner@corp.example")

	rec := negativeRecord(t, chunk.ChunkID)
	require.NoError(t, esc.EscalateFeedback(context.Background(), rec, []string{chunk.ChunkID}))

	require.Equal(t, []string{"owner@corp.example"}, surface.lookups)
	require.Equal(t, []string{"U-owner"}, surface.dmOpen)
	posts := surface.postsTo("DU-owner")
	require.Len(t, posts, 1)

	body := posts[0].Msg.Blocks[0].Text
	assert.Contains(t, body, "Incorrect")
	assert.Contains(t, body, "step 3 is wrong")
	assert.Contains(t, body, "use the new cluster")
	assert.Contains(t, body, "how do we deploy?")
	assert.Contains(t, body, "Deploy Guide")

	var buttons []chat.Button
	for _, b := range posts[0].Msg.Blocks {
		if b.Type == chat.BlockActions {
			buttons = b.Buttons
		}
	}
	require.Len(t, buttons, 2)
	assert.Equal(t, "escalation_view_thread", buttons[0].ActionID)
	assert.Equal(t, "escalation_acknowledge", buttons[1].ActionID)

	assert.Empty(t, surface.postsTo("C-ADMIN"))
}

func TestEscalateFeedbackFallsBackWithoutOwner(t *testing.T) {
	esc, surface, graph, _ := newTestEscalator(t)
	chunk := seedChunk(t, graph, "orphan", "")

	rec := negativeRecord(t, chunk.ChunkID)
	require.NoError(t, esc.EscalateFeedback(context.Background(), rec, []string{chunk.ChunkID}))

	assert.Empty(t, surface.dmOpen)
	posts := surface.postsTo("C-ADMIN")
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0].Msg.Blocks[0].Text, "no owner assigned")

	var buttons []chat.Button
	for _, b := range posts[0].Msg.Blocks {
		if b.Type == chat.BlockActions {
			buttons = b.Buttons
		}
	}
	require.Len(t, buttons, 2)
	assert.Equal(t, "escalation_resolve", buttons[1].ActionID)
}

func TestEscalateFeedbackOwnerDMFailure(t *testing.T) {
	esc, surface, graph, _ := newTestEscalator(t)
	chunk := seedChunk(t, graph, "deploy", "gone@corp.example")
	surface.dmErr = context.DeadlineExceeded

	rec := negativeRecord(t, chunk.ChunkID)
	require.NoError(t, esc.EscalateFeedback(context.Background(), rec, []string{chunk.ChunkID}))

	posts := surface.postsTo("C-ADMIN")
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0].Msg.Blocks[0].Text, "owner not found")
}

func TestEscalateFeedbackOwnerEmailUnresolvable(t *testing.T) {
	esc, surface, graph, _ := newTestEscalator(t)
	chunk := seedChunk(t, graph, "deploy", "left-the-company@corp.example")
	surface.lookupErr = errors.New("users_not_found")

	rec := negativeRecord(t, chunk.ChunkID)
	require.NoError(t, esc.EscalateFeedback(context.Background(), rec, []string{chunk.ChunkID}))

	assert.Empty(t, surface.dmOpen)
	posts := surface.postsTo("C-ADMIN")
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0].Msg.Blocks[0].Text, "owner not found")
}

func TestEscalateFeedbackIgnoresPositive(t *testing.T) {
	esc, surface, graph, _ := newTestEscalator(t)
	chunk := seedChunk(t, graph, "deploy", "owner@corp.example")

	rec, err := types.NewFeedbackRecord(chunk.ChunkID, "U1", types.FeedbackHelpful)
	require.NoError(t, err)
	require.NoError(t, esc.EscalateFeedback(context.Background(), rec, []string{chunk.ChunkID}))

	assert.Empty(t, surface.posts)
}

func TestAutoEscalationFiresOncePerWindow(t *testing.T) {
	esc, surface, graph, store := newTestEscalator(t)
	chunk := seedChunk(t, graph, "flaky", "owner@corp.example")
	ctx := context.Background()

	// Third negative in the window crosses the threshold.
	for i := 0; i < 3; i++ {
		rec := negativeRecord(t, chunk.ChunkID)
		require.NoError(t, store.InsertFeedback(ctx, rec))
		require.NoError(t, esc.EscalateFeedback(ctx, rec, []string{chunk.ChunkID}))
	}

	adminPosts := surface.postsTo("C-ADMIN")
	require.Len(t, adminPosts, 1)
	assert.Contains(t, adminPosts[0].Msg.Text, "negative feedback")

	// A fourth negative inside the same window stays quiet.
	rec := negativeRecord(t, chunk.ChunkID)
	require.NoError(t, store.InsertFeedback(ctx, rec))
	require.NoError(t, esc.EscalateFeedback(ctx, rec, []string{chunk.ChunkID}))
	assert.Len(t, surface.postsTo("C-ADMIN"), 1)

	escalated, err := store.WasEscalated(ctx, chunk.ChunkID, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, escalated)
}

func TestNotifyConflictDMsOwner(t *testing.T) {
	esc, surface, graph, _ := newTestEscalator(t)
	a := seedChunk(t, graph, "alpha", "owner@corp.example")
	b := seedChunk(t, graph, "beta", "")

	conflict, err := types.NewContentConflict(a.ChunkID, b.ChunkID, types.ConflictContradiction, 0.9, 0.85, "Alpha says weekly, beta says daily.")
	require.NoError(t, err)

	require.NoError(t, esc.NotifyConflict(context.Background(), conflict, a, b))

	posts := surface.postsTo("DU-owner")
	require.Len(t, posts, 1)
	body := posts[0].Msg.Blocks[0].Text
	assert.Contains(t, body, "Alpha Guide")
	assert.Contains(t, body, "Beta Guide")
	assert.Contains(t, body, "85%")
	assert.Contains(t, body, "weekly")
}

func TestNotifyConflictFallsBackToAdmin(t *testing.T) {
	esc, surface, graph, _ := newTestEscalator(t)
	a := seedChunk(t, graph, "alpha", "")
	b := seedChunk(t, graph, "beta", "")

	conflict, err := types.NewContentConflict(a.ChunkID, b.ChunkID, types.ConflictContradiction, 0.9, 0.8, "They disagree.")
	require.NoError(t, err)

	require.NoError(t, esc.NotifyConflict(context.Background(), conflict, a, b))

	require.Len(t, surface.postsTo("C-ADMIN"), 1)
}

func TestEscalationRoutesAreCounted(t *testing.T) {
	esc, _, graph, _ := newTestEscalator(t)
	m := monitoring.NewMetrics()
	esc.SetMetrics(m)

	owned := seedChunk(t, graph, "deploy", "owner@corp.example")
	rec := negativeRecord(t, owned.ChunkID)
	require.NoError(t, esc.EscalateFeedback(context.Background(), rec, []string{owned.ChunkID}))

	orphan := seedChunk(t, graph, "orphan", "")
	rec = negativeRecord(t, orphan.ChunkID)
	require.NoError(t, esc.EscalateFeedback(context.Background(), rec, []string{orphan.ChunkID}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Escalations.WithLabelValues("owner")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Escalations.WithLabelValues("admin")))
}
