package chunking

import (
	"fmt"
	"strings"
	"testing"

	"lorehub/internal/config"
	"lorehub/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.ChunkingConfig {
	return config.ChunkingConfig{MaxChunkSize: 1000, MinChunkSize: 100, ChunkOverlap: 100}
}

func TestChunkPageEmptyInput(t *testing.T) {
	c := New(testConfig())
	assert.Empty(t, c.ChunkPage(PageDocument{PageID: "p1", Markdown: ""}))
	assert.Empty(t, c.ChunkPage(PageDocument{PageID: "p1", Markdown: "   \n\t  "}))
}

func TestChunkPageMixedDocument(t *testing.T) {
	md := `# Runbook

` + strings.Repeat("The service restarts cleanly under systemd supervision. ", 4) + `

` + "```bash\nsystemctl restart ingestd\n```" + `

- check the logs
- verify the health endpoint
`
	c := New(testConfig())
	chunks := c.ChunkPage(PageDocument{PageID: "42", PageTitle: "Runbook", Markdown: md})

	require.Len(t, chunks, 3)
	assert.Equal(t, types.ChunkTypeText, chunks[0].ChunkType)
	assert.Equal(t, types.ChunkTypeCode, chunks[1].ChunkType)
	assert.Equal(t, types.ChunkTypeList, chunks[2].ChunkType)

	for i, chunk := range chunks {
		assert.Equal(t, fmt.Sprintf("42_%d", i), chunk.ChunkID)
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Equal(t, "Runbook", chunk.PageTitle)
		assert.Equal(t, []string{"Runbook"}, chunk.ParentHeaders)
		assert.Equal(t, len(chunk.Content), chunk.CharCount)
	}
}

func TestHeadingStackTruncation(t *testing.T) {
	md := `# Top

## Section A

` + strings.Repeat("Text under section A that is long enough to survive the minimum. ", 3) + `

### Deep

` + strings.Repeat("Text under the deep subsection, also long enough to be kept here. ", 3) + `

## Section B

` + strings.Repeat("Text under section B after the stack truncated back to level one. ", 3)

	c := New(testConfig())
	chunks := c.ChunkPage(PageDocument{PageID: "p", Markdown: md})

	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"Top", "Section A"}, chunks[0].ParentHeaders)
	assert.Equal(t, []string{"Top", "Section A", "Deep"}, chunks[1].ParentHeaders)
	assert.Equal(t, []string{"Top", "Section B"}, chunks[2].ParentHeaders)
}

func TestShortTextDroppedButCodeKept(t *testing.T) {
	md := "Tiny.\n\n```\nx=1\n```\n"
	c := New(testConfig())
	chunks := c.ChunkPage(PageDocument{PageID: "p", Markdown: md})

	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkTypeCode, chunks[0].ChunkType)
	// Dropped text does not consume an ordinal
	assert.Equal(t, 0, chunks[0].ChunkIndex)
}

func TestCodeBlockNeverSplit(t *testing.T) {
	code := strings.Repeat("line_of_code := compute(input) // reasonably long line\n", 50)
	md := "```go\n" + code + "```\n"
	c := New(testConfig())
	chunks := c.ChunkPage(PageDocument{PageID: "p", Markdown: md})

	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkTypeCode, chunks[0].ChunkType)
	assert.True(t, strings.HasPrefix(chunks[0].Content, "```go\n"))
	assert.True(t, strings.HasSuffix(chunks[0].Content, "\n```"))
	assert.Greater(t, chunks[0].CharCount, 1000)
}

func TestLongTextSplitsAtSentences(t *testing.T) {
	sentence := "Each of these sentences is about sixty characters in length. "
	md := strings.Repeat(sentence, 40)
	c := New(testConfig())
	chunks := c.ChunkPage(PageDocument{PageID: "p", Markdown: md})

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.CharCount, 1000)
		assert.GreaterOrEqual(t, chunk.CharCount, 100)
		assert.True(t, strings.HasSuffix(strings.TrimSpace(chunk.Content), "."),
			"chunk should end at a sentence boundary: %q", chunk.Content[len(chunk.Content)-20:])
	}

	// Overlap: the second piece starts with the tail of the first
	tail := overlapTail(chunks[0].Content, 100)
	assert.True(t, strings.HasPrefix(chunks[1].Content, tail))
}

func TestTableSplitRepeatsHeader(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("| Service | Endpoint | Oncall |\n| --- | --- | --- |\n")
	for i := 0; i < 40; i++ {
		sb.WriteString("| billing-service-production | https://billing.internal.example.com/api/v2/health | payments-team |\n")
	}

	c := New(testConfig())
	chunks := c.ChunkPage(PageDocument{PageID: "p", Markdown: sb.String()})

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.Equal(t, types.ChunkTypeTable, chunk.ChunkType)
		assert.True(t, strings.HasPrefix(chunk.Content, "| Service | Endpoint | Oncall |"),
			"every part repeats the header row")
	}
}

func TestOrderedAndNestedLists(t *testing.T) {
	md := "1. first step\n2. second step\n   - nested detail\n3. third step\n"
	c := New(testConfig())
	chunks := c.ChunkPage(PageDocument{PageID: "p", Markdown: md})

	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkTypeList, chunks[0].ChunkType)
	assert.Contains(t, chunks[0].Content, "1. first step")
	assert.Contains(t, chunks[0].Content, "2. second step")
	assert.Contains(t, chunks[0].Content, "  - nested detail")
	assert.Contains(t, chunks[0].Content, "3. third step")
}

func TestChunkPageDeterministic(t *testing.T) {
	md := "# T\n\n" + strings.Repeat("Stable output matters for idempotent re-ingestion of pages. ", 10)
	c := New(testConfig())

	first := c.ChunkPage(PageDocument{PageID: "p", Markdown: md})
	second := c.ChunkPage(PageDocument{PageID: "p", Markdown: md})

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
		assert.Equal(t, first[i].Content, second[i].Content)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First one. Second one! Third?")
	assert.Equal(t, []string{"First one.", "Second one!", "Third?"}, got)
}

func TestPreCleanStripsZeroWidth(t *testing.T) {
	assert.Equal(t, "ab", preClean("a\u200bb"))
	assert.Equal(t, "ab", preClean("a\u200c\u200db"))
	assert.Equal(t, "ab", preClean("\ufeffab"))
	assert.Equal(t, "a\nb", preClean("a\nb"))
}
