package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunk(t *testing.T) {
	chunk, err := NewChunk("12345", 2, "Restart the ingest worker with systemctl.", ChunkTypeText)
	require.NoError(t, err)

	assert.Equal(t, "12345_2", chunk.ChunkID)
	assert.Equal(t, "12345", chunk.PageID)
	assert.Equal(t, 2, chunk.ChunkIndex)
	assert.Equal(t, ClassificationInternal, chunk.Classification)
	assert.Equal(t, ChunkStatusActive, chunk.Status)
	assert.InDelta(t, 100.0, chunk.QualityScore, 0.0001)
	assert.Equal(t, 0, chunk.AccessCount)
	assert.Equal(t, 0, chunk.FeedbackCount)
	assert.Equal(t, len(chunk.Content), chunk.CharCount)
	assert.False(t, chunk.IngestedAt.IsZero())
	assert.Nil(t, chunk.DeletedAt)
}

func TestNewChunkValidation(t *testing.T) {
	tests := []struct {
		name      string
		pageID    string
		index     int
		content   string
		chunkType ChunkType
		wantErr   bool
	}{
		{"valid", "p1", 0, "some content", ChunkTypeText, false},
		{"empty page ID", "", 0, "some content", ChunkTypeText, true},
		{"negative index", "p1", -1, "some content", ChunkTypeText, true},
		{"empty content", "p1", 0, "   ", ChunkTypeText, true},
		{"invalid type", "p1", 0, "some content", ChunkType("prose"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunk(tt.pageID, tt.index, tt.content, tt.chunkType)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChunkTypeValid(t *testing.T) {
	valid := []ChunkType{ChunkTypeText, ChunkTypeCode, ChunkTypeTable, ChunkTypeList}
	for _, ct := range valid {
		assert.True(t, ct.Valid(), "expected %s to be valid", ct)
	}
	assert.False(t, ChunkType("paragraph").Valid())
	assert.False(t, ChunkType("").Valid())
}

func TestChunkTypeJSON(t *testing.T) {
	data, err := json.Marshal(ChunkTypeCode)
	require.NoError(t, err)
	assert.Equal(t, `"code"`, string(data))

	var ct ChunkType
	require.NoError(t, json.Unmarshal([]byte(`"table"`), &ct))
	assert.Equal(t, ChunkTypeTable, ct)

	assert.Error(t, json.Unmarshal([]byte(`"bogus"`), &ct))

	_, err = json.Marshal(ChunkType("bogus"))
	assert.Error(t, err)
}

func TestChunkJSONRoundTrip(t *testing.T) {
	reviewed := time.Date(2025, 11, 3, 9, 30, 0, 0, time.UTC)
	chunk := Chunk{
		ChunkID:        "98_0",
		PageID:         "98",
		ChunkIndex:     0,
		PageTitle:      "Deploy Runbook",
		Content:        "## Rollback\nRun the rollback job from the release page.",
		ChunkType:      ChunkTypeText,
		ParentHeaders:  []string{"Deploy Runbook", "Rollback"},
		CharCount:      55,
		SpaceKey:       "OPS",
		URL:            "https://wiki.example.com/pages/98",
		Owner:          "U0301",
		ReviewedBy:     "U0302",
		ReviewedAt:     &reviewed,
		Classification: ClassificationInternal,
		DocType:        "runbook",
		QualityScore:   87.5,
		AccessCount:    14,
		FeedbackCount:  3,
		Status:         ChunkStatusActive,
		CreatedAt:      time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		EventTime:      time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		IngestedAt:     time.Date(2025, 12, 2, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(&chunk)
	require.NoError(t, err)

	var decoded Chunk
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, chunk, decoded)
}

func TestFeedbackTypeIsNegative(t *testing.T) {
	assert.False(t, FeedbackHelpful.IsNegative())
	assert.True(t, FeedbackOutdated.IsNegative())
	assert.True(t, FeedbackIncorrect.IsNegative())
	assert.True(t, FeedbackConfusing.IsNegative())
}

func TestNewFeedbackRecord(t *testing.T) {
	rec, err := NewFeedbackRecord("98_0", "U100", FeedbackOutdated)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "98_0", rec.ChunkID)
	assert.Equal(t, FeedbackOutdated, rec.FeedbackType)
	assert.False(t, rec.CreatedAt.IsZero())

	_, err = NewFeedbackRecord("", "U100", FeedbackHelpful)
	assert.Error(t, err)

	_, err = NewFeedbackRecord("98_0", "U100", FeedbackType("meh"))
	assert.Error(t, err)
}

func TestNewBehavioralSignal(t *testing.T) {
	sig, err := NewBehavioralSignal("1700000000.000100", "U200", SignalThanks, 0.4, []string{"98_0"})
	require.NoError(t, err)
	assert.Equal(t, SignalThanks, sig.SignalType)
	assert.InDelta(t, 0.4, sig.SignalValue, 0.0001)

	_, err = NewBehavioralSignal("1700000000.000100", "U200", SignalThanks, 1.5, nil)
	assert.Error(t, err, "values outside [-1,1] must be rejected")
}

func TestConflictPairKeySymmetry(t *testing.T) {
	assert.Equal(t, ConflictPairKey("a_1", "b_2"), ConflictPairKey("b_2", "a_1"))
	assert.NotEqual(t, ConflictPairKey("a_1", "b_2"), ConflictPairKey("a_1", "c_3"))
}

func TestNewContentConflict(t *testing.T) {
	c, err := NewContentConflict("12_0", "44_1", ConflictContradiction, 0.92, 0.8, "one says port 8080, the other 9090")
	require.NoError(t, err)
	assert.Equal(t, ConflictOpen, c.Status)
	assert.Empty(t, c.Resolution)

	_, err = NewContentConflict("12_0", "12_0", ConflictContradiction, 0.99, 0.9, "")
	assert.Error(t, err, "self-conflicts must be rejected")
}

func TestSearchFiltersMatches(t *testing.T) {
	chunk := &Chunk{
		ChunkID:        "7_0",
		PageID:         "7",
		SpaceKey:       "ENG",
		DocType:        "guide",
		Classification: ClassificationInternal,
		ChunkType:      ChunkTypeText,
		QualityScore:   60,
	}

	var nilFilters *SearchFilters
	assert.True(t, nilFilters.Matches(chunk))
	assert.True(t, (&SearchFilters{}).Matches(chunk))
	assert.True(t, (&SearchFilters{SpaceKeys: []string{"ENG", "OPS"}}).Matches(chunk))
	assert.False(t, (&SearchFilters{SpaceKeys: []string{"OPS"}}).Matches(chunk))
	assert.False(t, (&SearchFilters{DocTypes: []string{"runbook"}}).Matches(chunk))
	assert.True(t, (&SearchFilters{MinQualityScore: 50}).Matches(chunk))
	assert.False(t, (&SearchFilters{MinQualityScore: 75}).Matches(chunk))
	assert.True(t, (&SearchFilters{
		SpaceKeys:       []string{"ENG"},
		Classifications: []string{"internal"},
		ChunkTypes:      []string{"text"},
	}).Matches(chunk))
}

func TestChunkMetadataRoundTrip(t *testing.T) {
	chunk, err := NewChunk("55", 1, "The staging cluster uses the eu-west-1 region.", ChunkTypeText)
	require.NoError(t, err)
	chunk.PageTitle = "Environments"
	chunk.SpaceKey = "INFRA"
	chunk.ParentHeaders = []string{"Environments", "Staging"}
	chunk.Topics = []string{"staging", "aws"}
	chunk.QualityScore = 73.25
	chunk.AccessCount = 9

	m, err := ChunkToMetadata(chunk)
	require.NoError(t, err)
	assert.Equal(t, "55_1", m["chunk_id"])

	decoded, err := ChunkFromMetadata(m)
	require.NoError(t, err)
	assert.Equal(t, chunk.ChunkID, decoded.ChunkID)
	assert.Equal(t, chunk.Content, decoded.Content)
	assert.Equal(t, chunk.ParentHeaders, decoded.ParentHeaders)
	assert.Equal(t, chunk.Topics, decoded.Topics)
	assert.InDelta(t, chunk.QualityScore, decoded.QualityScore, 0.0001)
	assert.Equal(t, chunk.AccessCount, decoded.AccessCount)
	assert.True(t, chunk.IngestedAt.Equal(decoded.IngestedAt))
}

func TestChunkFromMetadataMissingID(t *testing.T) {
	_, err := ChunkFromMetadata(map[string]any{"content": "orphan"})
	assert.Error(t, err)
}
