package ingest

import (
	"strings"
	"time"

	"lorehub/pkg/types"
)

// Governance is the ownership and sensitivity metadata a page declares
// through wiki labels.
type Governance struct {
	Owner          string
	ReviewedBy     string
	ReviewedAt     *time.Time
	Classification types.Classification
	DocType        string
}

// ParseGovernanceLabels extracts governance metadata from wiki labels.
// Recognized prefixes are owner:, reviewed_by:, reviewed_at:,
// classification: and doc_type:. Pages without a classification label are
// internal. Malformed values are ignored rather than failing the page.
func ParseGovernanceLabels(labels []string) Governance {
	gov := Governance{Classification: types.ClassificationInternal}
	for _, label := range labels {
		key, value, ok := strings.Cut(label, ":")
		if !ok || value == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "owner":
			gov.Owner = strings.TrimSpace(value)
		case "reviewed_by":
			gov.ReviewedBy = strings.TrimSpace(value)
		case "reviewed_at":
			if t, err := time.Parse("2006-01-02", strings.TrimSpace(value)); err == nil {
				t = t.UTC()
				gov.ReviewedAt = &t
			}
		case "classification":
			c := types.Classification(strings.ToLower(strings.TrimSpace(value)))
			if c.Valid() {
				gov.Classification = c
			}
		case "doc_type":
			gov.DocType = strings.TrimSpace(value)
		}
	}
	return gov
}

// Apply stamps the governance metadata onto a chunk.
func (g Governance) Apply(chunk *types.Chunk) {
	chunk.Owner = g.Owner
	chunk.ReviewedBy = g.ReviewedBy
	chunk.ReviewedAt = g.ReviewedAt
	chunk.Classification = g.Classification
	chunk.DocType = g.DocType
}
