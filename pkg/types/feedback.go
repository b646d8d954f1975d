package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FeedbackType is the explicit judgment a user attaches to an answer's
// source chunk via the feedback buttons.
type FeedbackType string

const (
	FeedbackHelpful   FeedbackType = "helpful"
	FeedbackOutdated  FeedbackType = "outdated"
	FeedbackIncorrect FeedbackType = "incorrect"
	FeedbackConfusing FeedbackType = "confusing"
)

// Valid checks if the feedback type is valid
func (ft FeedbackType) Valid() bool {
	switch ft {
	case FeedbackHelpful, FeedbackOutdated, FeedbackIncorrect, FeedbackConfusing:
		return true
	}
	return false
}

// IsNegative reports whether this feedback counts against the chunk.
func (ft FeedbackType) IsNegative() bool {
	return ft == FeedbackOutdated || ft == FeedbackIncorrect || ft == FeedbackConfusing
}

// MarshalJSON implements JSON marshaling with validation
func (ft FeedbackType) MarshalJSON() ([]byte, error) {
	if !ft.Valid() {
		return nil, fmt.Errorf("invalid feedback type: %s", string(ft))
	}
	return []byte(`"` + string(ft) + `"`), nil
}

// UnmarshalJSON implements JSON unmarshaling with validation
func (ft *FeedbackType) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	t := FeedbackType(s)
	if !t.Valid() {
		return fmt.Errorf("invalid feedback type: %s", s)
	}
	*ft = t
	return nil
}

// FeedbackRecord is one explicit user judgment. Records are append-only:
// corrections produce new records, nothing is ever updated or removed.
type FeedbackRecord struct {
	ID                  string       `json:"id"`
	ChunkID             string       `json:"chunk_id"`
	UserID              string       `json:"user_id"`
	FeedbackType        FeedbackType `json:"feedback_type"`
	Comment             string       `json:"comment,omitempty"`
	SuggestedCorrection string       `json:"suggested_correction,omitempty"`
	Evidence            string       `json:"evidence,omitempty"`
	QueryContext        string       `json:"query_context,omitempty"`
	ThreadRef           string       `json:"thread_ref,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
}

// NewFeedbackRecord creates a validated feedback record.
func NewFeedbackRecord(chunkID, userID string, ft FeedbackType) (*FeedbackRecord, error) {
	rec := &FeedbackRecord{
		ID:           uuid.New().String(),
		ChunkID:      chunkID,
		UserID:       userID,
		FeedbackType: ft,
		CreatedAt:    time.Now().UTC(),
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Validate checks that the record is well-formed
func (r *FeedbackRecord) Validate() error {
	if r.ID == "" {
		return errors.New("feedback ID cannot be empty")
	}
	if r.ChunkID == "" {
		return errors.New("chunk ID cannot be empty")
	}
	if r.UserID == "" {
		return errors.New("user ID cannot be empty")
	}
	if !r.FeedbackType.Valid() {
		return fmt.Errorf("invalid feedback type: %s", r.FeedbackType)
	}
	return nil
}

// SignalType classifies an implicit behavioral signal observed in chat.
type SignalType string

const (
	SignalFollowUp         SignalType = "follow_up"
	SignalThanks           SignalType = "thanks"
	SignalFrustration      SignalType = "frustration"
	SignalPositiveReaction SignalType = "positive_reaction"
	SignalNegativeReaction SignalType = "negative_reaction"
	SignalSatisfiedSilence SignalType = "satisfied_silence"
	SignalRephrasing       SignalType = "rephrasing"
)

// Valid checks if the signal type is valid
func (st SignalType) Valid() bool {
	switch st {
	case SignalFollowUp, SignalThanks, SignalFrustration, SignalPositiveReaction,
		SignalNegativeReaction, SignalSatisfiedSilence, SignalRephrasing:
		return true
	}
	return false
}

// BehavioralSignal is an implicit quality signal inferred from how users
// behave after receiving an answer. Signals only influence quality at the
// nightly recompute, never immediately.
type BehavioralSignal struct {
	ID          string     `json:"id"`
	ResponseRef string     `json:"response_ref"`
	ThreadRef   string     `json:"thread_ref,omitempty"`
	ChunkIDs    []string   `json:"chunk_ids"`
	UserID      string     `json:"user_id"`
	SignalType  SignalType `json:"signal_type"`
	SignalValue float64    `json:"signal_value"`
	RawText     string     `json:"raw_text,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewBehavioralSignal creates a validated signal bound to a bot response.
func NewBehavioralSignal(responseRef, userID string, st SignalType, value float64, chunkIDs []string) (*BehavioralSignal, error) {
	sig := &BehavioralSignal{
		ID:          uuid.New().String(),
		ResponseRef: responseRef,
		ChunkIDs:    chunkIDs,
		UserID:      userID,
		SignalType:  st,
		SignalValue: value,
		CreatedAt:   time.Now().UTC(),
	}
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	return sig, nil
}

// Validate checks that the signal is well-formed
func (s *BehavioralSignal) Validate() error {
	if s.ID == "" {
		return errors.New("signal ID cannot be empty")
	}
	if s.ResponseRef == "" {
		return errors.New("response ref cannot be empty")
	}
	if !s.SignalType.Valid() {
		return fmt.Errorf("invalid signal type: %s", s.SignalType)
	}
	if s.SignalValue < -1 || s.SignalValue > 1 {
		return fmt.Errorf("signal value out of range: %f", s.SignalValue)
	}
	return nil
}

// BotResponse records one answer the bot posted, keyed by the message
// timestamp of the posted answer. Feedback and signals join back through
// this record to the chunks that produced the answer.
type BotResponse struct {
	ResponseTS   string    `json:"response_ts"`
	ThreadTS     string    `json:"thread_ts,omitempty"`
	ChannelID    string    `json:"channel_id"`
	UserID       string    `json:"user_id"`
	Query        string    `json:"query"`
	ResponseText string    `json:"response_text"`
	ChunkIDs     []string  `json:"chunk_ids"`
	HasFollowUp  bool      `json:"has_follow_up"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks that the response record is well-formed
func (b *BotResponse) Validate() error {
	if b.ResponseTS == "" {
		return errors.New("response timestamp cannot be empty")
	}
	if b.ChannelID == "" {
		return errors.New("channel ID cannot be empty")
	}
	return nil
}
