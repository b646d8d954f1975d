// Package types provides the core data structures for the LoreHub
// knowledge retrieval service.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChunkType classifies the structural origin of a chunk.
type ChunkType string

const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeCode  ChunkType = "code"
	ChunkTypeTable ChunkType = "table"
	ChunkTypeList  ChunkType = "list"
)

// Valid checks if the chunk type is valid
func (ct ChunkType) Valid() bool {
	switch ct {
	case ChunkTypeText, ChunkTypeCode, ChunkTypeTable, ChunkTypeList:
		return true
	}
	return false
}

// MarshalJSON implements JSON marshaling with validation
func (ct ChunkType) MarshalJSON() ([]byte, error) {
	if !ct.Valid() {
		return nil, fmt.Errorf("invalid chunk type: %s", string(ct))
	}
	return []byte(`"` + string(ct) + `"`), nil
}

// UnmarshalJSON implements JSON unmarshaling with validation
func (ct *ChunkType) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	t := ChunkType(s)
	if !t.Valid() {
		return fmt.Errorf("invalid chunk type: %s", s)
	}
	*ct = t
	return nil
}

// Classification is the access sensitivity of a chunk. Content without an
// explicit classification label is treated as internal.
type Classification string

const (
	ClassificationPublic       Classification = "public"
	ClassificationInternal     Classification = "internal"
	ClassificationConfidential Classification = "confidential"
)

// Valid checks if the classification is valid
func (c Classification) Valid() bool {
	switch c {
	case ClassificationPublic, ClassificationInternal, ClassificationConfidential:
		return true
	}
	return false
}

// ChunkStatus tracks a chunk through the content lifecycle.
type ChunkStatus string

const (
	ChunkStatusActive       ChunkStatus = "active"
	ChunkStatusDeprecated   ChunkStatus = "deprecated"
	ChunkStatusColdStorage  ChunkStatus = "cold_storage"
	ChunkStatusHardArchived ChunkStatus = "hard_archived"
)

// Valid checks if the chunk status is valid
func (s ChunkStatus) Valid() bool {
	switch s {
	case ChunkStatusActive, ChunkStatusDeprecated, ChunkStatusColdStorage, ChunkStatusHardArchived:
		return true
	}
	return false
}

// Chunk is the atomic unit of retrievable knowledge. A wiki page is split
// into an ordered sequence of chunks; the chunk ID is derived from the page
// ID and the ordinal so re-ingesting a page overwrites in place.
type Chunk struct {
	// Identity
	ChunkID    string `json:"chunk_id"`
	PageID     string `json:"page_id"`
	ChunkIndex int    `json:"chunk_index"`
	PageTitle  string `json:"page_title"`

	// Content
	Content       string    `json:"content"`
	ChunkType     ChunkType `json:"chunk_type"`
	ParentHeaders []string  `json:"parent_headers,omitempty"`
	CharCount     int       `json:"char_count"`

	// Source
	SpaceKey   string    `json:"space_key"`
	URL        string    `json:"url,omitempty"`
	Author     string    `json:"author,omitempty"`
	AuthorName string    `json:"author_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Governance
	Owner          string         `json:"owner,omitempty"`
	ReviewedBy     string         `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time     `json:"reviewed_at,omitempty"`
	Classification Classification `json:"classification"`
	DocType        string         `json:"doc_type,omitempty"`

	// Semantic enrichment
	Topics     []string `json:"topics,omitempty"`
	Audience   string   `json:"audience,omitempty"`
	Complexity string   `json:"complexity,omitempty"`
	Summary    string   `json:"summary,omitempty"`

	// Quality
	QualityScore  float64 `json:"quality_score"`
	AccessCount   int     `json:"access_count"`
	FeedbackCount int     `json:"feedback_count"`

	// Lifecycle
	Status         ChunkStatus `json:"status"`
	DeprecatedAt   *time.Time  `json:"deprecated_at,omitempty"`
	ColdArchivedAt *time.Time  `json:"cold_archived_at,omitempty"`

	// Bi-temporal tracking: EventTime is when the knowledge became true on
	// the source side, IngestedAt is when we indexed it.
	EventTime  time.Time  `json:"event_time"`
	IngestedAt time.Time  `json:"ingested_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// MaxSummaryLength caps the enrichment summary stored per chunk.
const MaxSummaryLength = 500

// ChunkID builds the canonical chunk identifier for a page ordinal.
func ChunkID(pageID string, index int) string {
	return fmt.Sprintf("%s_%d", pageID, index)
}

// NewChunk creates a chunk with identity and defaults filled in. Quality
// starts at the maximum; feedback moves it from there.
func NewChunk(pageID string, index int, content string, chunkType ChunkType) (*Chunk, error) {
	now := time.Now().UTC()
	chunk := &Chunk{
		ChunkID:        ChunkID(pageID, index),
		PageID:         pageID,
		ChunkIndex:     index,
		Content:        content,
		ChunkType:      chunkType,
		CharCount:      len(content),
		Classification: ClassificationInternal,
		QualityScore:   100,
		Status:         ChunkStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
		EventTime:      now,
		IngestedAt:     now,
	}
	if err := chunk.Validate(); err != nil {
		return nil, err
	}
	return chunk, nil
}

// Validate checks that the chunk is well-formed
func (c *Chunk) Validate() error {
	if c.ChunkID == "" {
		return errors.New("chunk ID cannot be empty")
	}
	if c.PageID == "" {
		return errors.New("page ID cannot be empty")
	}
	if c.ChunkIndex < 0 {
		return fmt.Errorf("chunk index cannot be negative: %d", c.ChunkIndex)
	}
	if strings.TrimSpace(c.Content) == "" {
		return errors.New("content cannot be empty")
	}
	if !c.ChunkType.Valid() {
		return fmt.Errorf("invalid chunk type: %s", c.ChunkType)
	}
	if !c.Classification.Valid() {
		return fmt.Errorf("invalid classification: %s", c.Classification)
	}
	if !c.Status.Valid() {
		return fmt.Errorf("invalid status: %s", c.Status)
	}
	if c.QualityScore < 0 || c.QualityScore > 100 {
		return fmt.Errorf("quality score out of range: %f", c.QualityScore)
	}
	if len(c.Summary) > MaxSummaryLength {
		return fmt.Errorf("summary exceeds %d characters", MaxSummaryLength)
	}
	return nil
}

// IsDeleted reports whether the chunk is soft-deleted.
func (c *Chunk) IsDeleted() bool {
	return c.DeletedAt != nil
}

// HeaderPath renders the parent heading context as a breadcrumb.
func (c *Chunk) HeaderPath() string {
	return strings.Join(c.ParentHeaders, " > ")
}

// PageStatus is the sync state of a tracked wiki page.
type PageStatus string

const (
	PageStatusActive  PageStatus = "active"
	PageStatusDraft   PageStatus = "draft"
	PageStatusDeleted PageStatus = "deleted"
)

// Valid checks if the page status is valid
func (s PageStatus) Valid() bool {
	switch s {
	case PageStatusActive, PageStatusDraft, PageStatusDeleted:
		return true
	}
	return false
}

// Page tracks one wiki page through sync.
type Page struct {
	PageID        string     `json:"page_id"`
	SpaceKey      string     `json:"space_key"`
	Title         string     `json:"title"`
	FilePath      string     `json:"file_path,omitempty"`
	VersionNumber int        `json:"version_number"`
	Status        PageStatus `json:"status"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DownloadedAt  *time.Time `json:"downloaded_at,omitempty"`
}

// Validate checks that the page row is well-formed
func (p *Page) Validate() error {
	if p.PageID == "" {
		return errors.New("page ID cannot be empty")
	}
	if p.SpaceKey == "" {
		return errors.New("space key cannot be empty")
	}
	if !p.Status.Valid() {
		return fmt.Errorf("invalid page status: %s", p.Status)
	}
	return nil
}

// SearchFilters narrows retrieval. All populated fields are conjunctive;
// an empty slice places no constraint.
type SearchFilters struct {
	SpaceKeys       []string `json:"space_keys,omitempty"`
	DocTypes        []string `json:"doc_types,omitempty"`
	Classifications []string `json:"classifications,omitempty"`
	ChunkTypes      []string `json:"chunk_types,omitempty"`
	// MinQualityScore drops chunks scoring below the floor. Zero means
	// no floor.
	MinQualityScore float64 `json:"min_quality_score,omitempty"`
}

// Empty reports whether no filter is set.
func (f *SearchFilters) Empty() bool {
	if f == nil {
		return true
	}
	return len(f.SpaceKeys) == 0 && len(f.DocTypes) == 0 &&
		len(f.Classifications) == 0 && len(f.ChunkTypes) == 0 &&
		f.MinQualityScore == 0
}

// Matches applies the filters to a chunk. The retriever re-checks filters
// on every result even when the store already filtered server-side.
func (f *SearchFilters) Matches(c *Chunk) bool {
	if f == nil {
		return true
	}
	if len(f.SpaceKeys) > 0 && !containsString(f.SpaceKeys, c.SpaceKey) {
		return false
	}
	if len(f.DocTypes) > 0 && !containsString(f.DocTypes, c.DocType) {
		return false
	}
	if len(f.Classifications) > 0 && !containsString(f.Classifications, string(c.Classification)) {
		return false
	}
	if len(f.ChunkTypes) > 0 && !containsString(f.ChunkTypes, string(c.ChunkType)) {
		return false
	}
	if f.MinQualityScore > 0 && c.QualityScore < f.MinQualityScore {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// ScoredChunk pairs a chunk with its retrieval score in [0,1].
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// SearchResults is the retriever's answer to one query.
type SearchResults struct {
	Results   []ScoredChunk `json:"results"`
	Total     int           `json:"total"`
	QueryTime time.Duration `json:"query_time"`
}

// ChunkIDs extracts the chunk IDs in result order.
func (r *SearchResults) ChunkIDs() []string {
	ids := make([]string, 0, len(r.Results))
	for i := range r.Results {
		ids = append(ids, r.Results[i].Chunk.ChunkID)
	}
	return ids
}
