// Package chunking splits page markdown into typed, retrieval-sized chunks.
// The splitter walks the markdown AST in reading order, tracking the heading
// ancestry so every chunk knows which sections it lives under. Code blocks,
// tables, and lists are emitted as structural chunks regardless of size;
// running text accumulates and splits at sentence boundaries.
package chunking

import (
	"fmt"
	"strings"
	"unicode"

	"lorehub/internal/config"
	"lorehub/internal/logging"
	"lorehub/pkg/types"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// PageDocument is a page's converted markdown plus identity for chunking.
type PageDocument struct {
	PageID    string
	PageTitle string
	Markdown  string
}

// Chunker turns page documents into ordered chunk sequences. It is pure and
// deterministic: the same document always yields the same chunks.
type Chunker struct {
	cfg    config.ChunkingConfig
	parser goldmark.Markdown
	logger logging.Logger
}

// New creates a chunker. Zero or negative sizes fall back to the defaults
// (max 1000, min 100, overlap 100).
func New(cfg config.ChunkingConfig) *Chunker {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = 1000
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = 100
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.MaxChunkSize {
		cfg.ChunkOverlap = 100
	}
	return &Chunker{
		cfg:    cfg,
		parser: goldmark.New(goldmark.WithExtensions(extension.Table)),
		logger: logging.WithComponent("chunker"),
	}
}

// ChunkPage splits one page into chunks. Empty or whitespace-only input
// yields an empty slice, never an error.
func (c *Chunker) ChunkPage(doc PageDocument) []types.Chunk {
	source := []byte(preClean(doc.Markdown))
	if len(strings.TrimSpace(string(source))) == 0 {
		return nil
	}

	root := c.parser.Parser().Parse(text.NewReader(source))

	b := &builder{
		chunker: c,
		doc:     doc,
		source:  source,
	}

	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		b.visit(node)
	}
	b.flushText()

	return b.chunks
}

// builder accumulates emission state for one page.
type builder struct {
	chunker      *Chunker
	doc          PageDocument
	source       []byte
	headingStack []string
	textBuf      strings.Builder
	chunks       []types.Chunk
}

func (b *builder) visit(node ast.Node) {
	switch n := node.(type) {
	case *ast.Heading:
		b.flushText()
		b.pushHeading(n)

	case *ast.FencedCodeBlock:
		b.flushText()
		lang := string(n.Language(b.source))
		b.emitCode(blockLines(n, b.source), lang)

	case *ast.CodeBlock:
		b.flushText()
		b.emitCode(blockLines(n, b.source), "")

	case *ast.List:
		b.flushText()
		b.emitList(n)

	case *east.Table:
		b.flushText()
		b.emitTable(n)

	case *ast.ThematicBreak:
		b.flushText()

	case *ast.Paragraph, *ast.TextBlock, *ast.Blockquote:
		b.appendText(inlineText(node, b.source))

	default:
		// Anything unrecognized contributes its text content best-effort.
		if t := inlineText(node, b.source); t != "" {
			b.appendText(t)
		}
	}
}

// pushHeading truncates the ancestor stack to level-1 and pushes the
// heading's own text. A level skip (h1 -> h3) leaves the stack short, which
// mirrors the document's actual structure.
func (b *builder) pushHeading(h *ast.Heading) {
	depth := h.Level - 1
	if depth > len(b.headingStack) {
		depth = len(b.headingStack)
	}
	b.headingStack = append(b.headingStack[:depth], inlineText(h, b.source))
}

func (b *builder) appendText(t string) {
	t = strings.TrimSpace(t)
	if t == "" {
		return
	}
	if b.textBuf.Len() > 0 {
		b.textBuf.WriteString("\n\n")
	}
	b.textBuf.WriteString(t)
}

// flushText splits the accumulated text buffer into sentence-bounded pieces
// and emits each one that clears the minimum size.
func (b *builder) flushText() {
	if b.textBuf.Len() == 0 {
		return
	}
	buffered := b.textBuf.String()
	b.textBuf.Reset()

	for _, piece := range splitText(buffered, b.chunker.cfg.MaxChunkSize, b.chunker.cfg.ChunkOverlap) {
		if len(piece) < b.chunker.cfg.MinChunkSize {
			continue
		}
		b.emit(piece, types.ChunkTypeText)
	}
}

func (b *builder) emitCode(code, lang string) {
	code = strings.TrimRight(code, "\n")
	if strings.TrimSpace(code) == "" {
		return
	}
	fenced := "```" + lang + "\n" + code + "\n```"
	b.emit(fenced, types.ChunkTypeCode)
}

// emitList renders list items with stable prefixes and splits oversized
// lists at item boundaries. List chunks are never size-dropped.
func (b *builder) emitList(list *ast.List) {
	items := renderListItems(list, b.source, 0)
	if len(items) == 0 {
		return
	}

	limit := b.chunker.cfg.MaxChunkSize
	var part []string
	partLen := 0
	flushPart := func() {
		if len(part) == 0 {
			return
		}
		b.emit(strings.Join(part, "\n"), types.ChunkTypeList)
		part = part[:0]
		partLen = 0
	}

	for _, item := range items {
		if partLen > 0 && partLen+len(item)+1 > limit {
			flushPart()
		}
		part = append(part, item)
		partLen += len(item) + 1
	}
	flushPart()
}

// emitTable renders a pipe table, splitting by rows with the header row
// repeated on every part. Table chunks are never size-dropped.
func (b *builder) emitTable(table *east.Table) {
	var header string
	var rows []string

	for section := table.FirstChild(); section != nil; section = section.NextSibling() {
		switch s := section.(type) {
		case *east.TableHeader:
			header = renderTableRow(s, b.source)
		case *east.TableRow:
			rows = append(rows, renderTableRow(s, b.source))
		}
	}
	if header == "" && len(rows) == 0 {
		return
	}

	prefix := header
	if sep := tableSeparator(header); sep != "" {
		prefix = header + "\n" + sep
	}

	limit := b.chunker.cfg.MaxChunkSize
	var part []string
	partLen := len(prefix)
	flushPart := func() {
		var lines []string
		if prefix != "" {
			lines = strings.Split(prefix, "\n")
		}
		lines = append(lines, part...)
		if len(lines) == 0 {
			return
		}
		b.emit(strings.Join(lines, "\n"), types.ChunkTypeTable)
		part = part[:0]
		partLen = len(prefix)
	}

	if len(rows) == 0 {
		flushPart()
		return
	}
	for _, row := range rows {
		if len(part) > 0 && partLen+len(row)+1 > limit {
			flushPart()
		}
		part = append(part, row)
		partLen += len(row) + 1
	}
	flushPart()
}

// emit creates the chunk with the next ordinal and the current heading path.
func (b *builder) emit(content string, ctype types.ChunkType) {
	chunk, err := types.NewChunk(b.doc.PageID, len(b.chunks), content, ctype)
	if err != nil {
		b.chunker.logger.Warn("Skipping malformed chunk",
			"page_id", b.doc.PageID, "error", err.Error())
		return
	}
	chunk.PageTitle = b.doc.PageTitle
	chunk.ParentHeaders = append([]string(nil), b.headingStack...)
	b.chunks = append(b.chunks, *chunk)
}

// splitText cuts text into pieces of at most max characters at sentence
// boundaries, carrying a trailing overlap into the next piece.
func splitText(s string, maxSize, overlap int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if len(s) <= maxSize {
		return []string{s}
	}

	sentences := splitSentences(s)
	var pieces []string
	var current strings.Builder

	for _, sentence := range sentences {
		// A single sentence longer than max is hard-split.
		for len(sentence) > maxSize {
			if current.Len() > 0 {
				pieces = append(pieces, strings.TrimSpace(current.String()))
				current.Reset()
			}
			pieces = append(pieces, strings.TrimSpace(sentence[:maxSize]))
			sentence = sentence[maxSize:]
		}
		if current.Len() > 0 && current.Len()+len(sentence)+1 > maxSize {
			piece := strings.TrimSpace(current.String())
			pieces = append(pieces, piece)
			current.Reset()
			if tail := overlapTail(piece, overlap); tail != "" {
				current.WriteString(tail)
				current.WriteString(" ")
			}
		}
		current.WriteString(sentence)
		current.WriteString(" ")
	}
	if last := strings.TrimSpace(current.String()); last != "" {
		pieces = append(pieces, last)
	}
	return pieces
}

// overlapTail returns the last sentences of piece fitting within n chars,
// falling back to a plain character tail when no boundary fits.
func overlapTail(piece string, n int) string {
	if n <= 0 || piece == "" {
		return ""
	}
	if len(piece) <= n {
		return piece
	}
	window := piece[len(piece)-n:]
	for i := 0; i < len(window)-1; i++ {
		if isSentenceEnd(window[i]) && window[i+1] == ' ' {
			return strings.TrimSpace(window[i+1:])
		}
	}
	return strings.TrimSpace(window)
}

// splitSentences breaks text after terminal punctuation followed by a
// space. Newlines also terminate so list-ish prose stays aligned.
func splitSentences(s string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || (isSentenceEnd(s[i]) && i+1 < len(s) && s[i+1] == ' ') {
			sentence := strings.TrimSpace(s[start : i+1])
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// preClean strips zero-width and control characters that survive the HTML
// conversion. Newlines and tabs stay.
func preClean(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\t':
			return r
		case '\u200b', '\u200c', '\u200d', '\ufeff':
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// renderListItems flattens a list into prefixed lines, recursing into
// nested lists with two spaces of indent per level.
func renderListItems(list *ast.List, source []byte, depth int) []string {
	indent := strings.Repeat("  ", depth)
	var lines []string
	counter := 0

	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		counter++
		prefix := "- "
		if list.IsOrdered() {
			prefix = fmt.Sprintf("%d. ", counter)
		}

		var itemText strings.Builder
		for child := item.FirstChild(); child != nil; child = child.NextSibling() {
			if nested, ok := child.(*ast.List); ok {
				if itemText.Len() > 0 {
					lines = append(lines, indent+prefix+strings.TrimSpace(itemText.String()))
					itemText.Reset()
					prefix = ""
				}
				lines = append(lines, renderListItems(nested, source, depth+1)...)
				continue
			}
			if itemText.Len() > 0 {
				itemText.WriteString(" ")
			}
			itemText.WriteString(inlineText(child, source))
		}
		if t := strings.TrimSpace(itemText.String()); t != "" {
			lines = append(lines, indent+prefix+t)
		}
	}
	return lines
}

func renderTableRow(row ast.Node, source []byte) string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		cells = append(cells, strings.TrimSpace(inlineText(cell, source)))
	}
	return "| " + strings.Join(cells, " | ") + " |"
}

func tableSeparator(header string) string {
	if header == "" {
		return ""
	}
	cols := strings.Count(header, "|") - 1
	if cols < 1 {
		return ""
	}
	seps := make([]string, cols)
	for i := range seps {
		seps[i] = "---"
	}
	return "| " + strings.Join(seps, " | ") + " |"
}

// inlineText extracts the plain text of a node's inline content.
func inlineText(node ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteString(" ")
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.AutoLink:
			sb.Write(t.URL(source))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

// blockLines joins the raw source lines of a code block.
func blockLines(node ast.Node, source []byte) string {
	var sb strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(source))
	}
	return sb.String()
}
