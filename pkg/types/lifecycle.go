package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConflictType classifies how two chunks disagree.
type ConflictType string

const (
	ConflictContradiction     ConflictType = "contradiction"
	ConflictOutdatedDuplicate ConflictType = "outdated_duplicate"
	ConflictAmbiguous         ConflictType = "ambiguous"
)

// Valid checks if the conflict type is valid
func (ct ConflictType) Valid() bool {
	switch ct {
	case ConflictContradiction, ConflictOutdatedDuplicate, ConflictAmbiguous:
		return true
	}
	return false
}

// ConflictStatus is the review state of a detected conflict.
type ConflictStatus string

const (
	ConflictOpen      ConflictStatus = "open"
	ConflictResolved  ConflictStatus = "resolved"
	ConflictDismissed ConflictStatus = "dismissed"
)

// Valid checks if the conflict status is valid
func (cs ConflictStatus) Valid() bool {
	switch cs {
	case ConflictOpen, ConflictResolved, ConflictDismissed:
		return true
	}
	return false
}

// Resolution is the action a reviewer chose for a conflict.
type Resolution string

const (
	ResolutionKeepA       Resolution = "keep_a"
	ResolutionKeepB       Resolution = "keep_b"
	ResolutionMerge       Resolution = "merge"
	ResolutionArchiveBoth Resolution = "archive_both"
)

// Valid checks if the resolution is valid
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionKeepA, ResolutionKeepB, ResolutionMerge, ResolutionArchiveBoth:
		return true
	}
	return false
}

// ContentConflict records a detected disagreement between two chunks from
// different pages. Detection is symmetric: at most one open conflict exists
// per unordered chunk pair.
type ContentConflict struct {
	ID              string         `json:"id"`
	ChunkAID        string         `json:"chunk_a_id"`
	ChunkBID        string         `json:"chunk_b_id"`
	ConflictType    ConflictType   `json:"conflict_type"`
	Status          ConflictStatus `json:"status"`
	Resolution      Resolution     `json:"resolution,omitempty"`
	SimilarityScore float64        `json:"similarity_score"`
	ConfidenceScore float64        `json:"confidence_score"`
	AIExplanation   string         `json:"ai_explanation,omitempty"`
	DetectedAt      time.Time      `json:"detected_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy      string         `json:"resolved_by,omitempty"`
}

// NewContentConflict creates an open conflict between two chunks.
func NewContentConflict(chunkA, chunkB string, ct ConflictType, similarity, confidence float64, explanation string) (*ContentConflict, error) {
	c := &ContentConflict{
		ID:              uuid.New().String(),
		ChunkAID:        chunkA,
		ChunkBID:        chunkB,
		ConflictType:    ct,
		Status:          ConflictOpen,
		SimilarityScore: similarity,
		ConfidenceScore: confidence,
		AIExplanation:   explanation,
		DetectedAt:      time.Now().UTC(),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that the conflict is well-formed
func (c *ContentConflict) Validate() error {
	if c.ChunkAID == "" || c.ChunkBID == "" {
		return errors.New("conflict requires two chunk IDs")
	}
	if c.ChunkAID == c.ChunkBID {
		return errors.New("conflict cannot pair a chunk with itself")
	}
	if !c.ConflictType.Valid() {
		return fmt.Errorf("invalid conflict type: %s", c.ConflictType)
	}
	if !c.Status.Valid() {
		return fmt.Errorf("invalid conflict status: %s", c.Status)
	}
	return nil
}

// PairKey returns an orientation-independent key for the chunk pair, used
// to deduplicate (a,b) against (b,a).
func (c *ContentConflict) PairKey() string {
	return ConflictPairKey(c.ChunkAID, c.ChunkBID)
}

// ConflictPairKey builds the canonical unordered pair key.
func ConflictPairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// CheckpointStatus is the indexing state of one chunk within a session.
type CheckpointStatus string

const (
	CheckpointPending CheckpointStatus = "pending"
	CheckpointIndexed CheckpointStatus = "indexed"
	CheckpointFailed  CheckpointStatus = "failed"
)

// Valid checks if the checkpoint status is valid
func (cs CheckpointStatus) Valid() bool {
	switch cs {
	case CheckpointPending, CheckpointIndexed, CheckpointFailed:
		return true
	}
	return false
}

// IndexingCheckpoint tracks one chunk through one ingestion session so an
// interrupted run can resume without re-indexing finished work.
type IndexingCheckpoint struct {
	ChunkID    string           `json:"chunk_id"`
	SessionID  string           `json:"session_id"`
	Status     CheckpointStatus `json:"status"`
	RetryCount int              `json:"retry_count"`
	Error      string           `json:"error,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// ArchivedChunk is a cold-storage snapshot held in the analytics store
// until the hard-archive job exports it to a file.
type ArchivedChunk struct {
	ChunkID         string           `json:"chunk_id"`
	Chunk           Chunk            `json:"chunk"`
	FeedbackHistory []FeedbackRecord `json:"feedback_history,omitempty"`
	Reason          string           `json:"reason"`
	ArchivedAt      time.Time        `json:"archived_at"`
}

// HardArchiveRecord is the terminal JSON document written per chunk under
// ARCHIVE_DIR/YYYY/MM/<chunk_id>.json. It must round-trip losslessly.
type HardArchiveRecord struct {
	ChunkID         string           `json:"chunk_id"`
	Chunk           Chunk            `json:"chunk"`
	FeedbackHistory []FeedbackRecord `json:"feedback_history,omitempty"`
	Reason          string           `json:"reason"`
	ColdArchivedAt  time.Time        `json:"cold_archived_at"`
	HardArchivedAt  time.Time        `json:"hard_archived_at"`
}
