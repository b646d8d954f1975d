// Package analytics owns the relational side of the system: page sync
// state, feedback, behavioral signals, bot responses, conflicts, indexing
// checkpoints, cold archive rows and escalation bookkeeping.
package analytics

import (
	"context"
	"errors"
	"time"

	"lorehub/pkg/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("analytics: not found")

// Store is the relational persistence boundary.
type Store interface {
	// Pages.
	UpsertPage(ctx context.Context, page *types.Page) error
	GetPage(ctx context.Context, pageID string) (*types.Page, error)
	ListPages(ctx context.Context, spaceKey string) ([]types.Page, error)
	MarkPageDeleted(ctx context.Context, pageID string, at time.Time) error

	// Feedback, append-only.
	InsertFeedback(ctx context.Context, rec *types.FeedbackRecord) error
	CountRecentNegativeFeedback(ctx context.Context, chunkID string, window time.Duration) (int, error)
	ListFeedbackForChunk(ctx context.Context, chunkID string, since time.Time) ([]types.FeedbackRecord, error)
	HasFeedback(ctx context.Context, chunkID, userID string, ft types.FeedbackType, messageTS string) (bool, error)

	// Behavioral signals.
	InsertSignal(ctx context.Context, sig *types.BehavioralSignal) error
	ListSignalsForChunk(ctx context.Context, chunkID string, since time.Time) ([]types.BehavioralSignal, error)

	// Bot responses.
	SaveBotResponse(ctx context.Context, resp *types.BotResponse) error
	GetBotResponse(ctx context.Context, responseTS string) (*types.BotResponse, error)
	MarkFollowUp(ctx context.Context, responseTS string) error

	// Access tracking.
	RecordAccess(ctx context.Context, chunkID string, at time.Time) error
	CountAccesses(ctx context.Context, chunkID string, since time.Time) (int, error)

	// Conflicts. InsertConflict reports false when an open conflict
	// already exists for the pair in either order.
	InsertConflict(ctx context.Context, conflict *types.ContentConflict) (bool, error)
	ListOpenConflicts(ctx context.Context) ([]types.ContentConflict, error)
	GetConflict(ctx context.Context, id string) (*types.ContentConflict, error)
	ResolveConflict(ctx context.Context, id string, res types.Resolution, by string) error
	DismissConflict(ctx context.Context, id string, by string) error

	// Indexing checkpoints.
	UpsertCheckpoint(ctx context.Context, cp *types.IndexingCheckpoint) error
	ListCheckpoints(ctx context.Context, sessionID string) (map[string]types.IndexingCheckpoint, error)

	// Cold archive.
	InsertArchivedChunk(ctx context.Context, archived *types.ArchivedChunk) error
	ListColdArchivedBefore(ctx context.Context, cutoff time.Time) ([]types.ArchivedChunk, error)
	DeleteArchivedChunk(ctx context.Context, chunkID string) error

	// Escalation bookkeeping.
	WasEscalated(ctx context.Context, chunkID string, window time.Duration) (bool, error)
	MarkEscalated(ctx context.Context, chunkID string, at time.Time) error

	Ping(ctx context.Context) error
	Close() error
}
