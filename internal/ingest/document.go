package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"lorehub/internal/chunking"
	"lorehub/internal/markdown"
	"lorehub/pkg/types"
)

// ErrUnsupportedContent marks URLs whose content type the pipeline cannot
// turn into markdown (PDFs, images, arbitrary binaries).
var ErrUnsupportedContent = errors.New("could not ingest document: unsupported content type")

const (
	externalSpaceKey = "EXTERNAL"
	externalDocType  = "external_doc"
	quickFactDocType = "quick_fact"

	// Fetched documents are capped so a runaway page cannot exhaust memory.
	maxDocumentBytes = 10 << 20
)

var googleDocsPath = regexp.MustCompile(`^/document/d/([^/]+)`)

// IngestURL fetches a single external document, converts it and indexes it
// under the EXTERNAL space. Supported sources are HTML pages (including
// public Notion pages) and public Google Docs, which are re-fetched through
// their HTML export endpoint.
func (p *Pipeline) IngestURL(ctx context.Context, rawURL, requestedBy string) (*SyncReport, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid document URL %q", rawURL)
	}
	if export, ok := googleDocsExportURL(parsed); ok {
		rawURL = export
	}

	body, contentType, err := p.fetchDocument(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !isHTMLContent(contentType) {
		return nil, fmt.Errorf("%w (%s)", ErrUnsupportedContent, contentType)
	}

	pageID := "url_" + hashURL(rawURL)
	title := documentTitle(body, parsed)
	md := markdown.Convert(body)

	chunks := p.chunker.ChunkPage(chunking.PageDocument{
		PageID:    pageID,
		PageTitle: title,
		Markdown:  md,
	})
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document %q produced no indexable content", rawURL)
	}

	now := time.Now().UTC()
	for i := range chunks {
		chunks[i].PageTitle = title
		chunks[i].SpaceKey = externalSpaceKey
		chunks[i].URL = rawURL
		chunks[i].DocType = externalDocType
		chunks[i].Owner = requestedBy
		chunks[i].UpdatedAt = now
		chunks[i].EventTime = now
	}

	report := &SyncReport{SessionID: NewSessionID()}
	stored, failed := p.indexChunks(ctx, report.SessionID, chunks, nil)
	if failed > 0 {
		return report, fmt.Errorf("document %q: %d of %d chunks failed to index", rawURL, failed, len(chunks))
	}
	report.New = 1

	page := &types.Page{
		PageID:       pageID,
		SpaceKey:     externalSpaceKey,
		Title:        title,
		Status:       types.PageStatusActive,
		UpdatedAt:    now,
		DownloadedAt: &now,
	}
	if err := p.store.UpsertPage(ctx, page); err != nil {
		return report, fmt.Errorf("record document %q: %w", rawURL, err)
	}

	p.logger.Info("document ingested", "page_id", pageID, "url", rawURL, "chunks", stored, "requested_by", requestedBy)
	return report, nil
}

// IngestQuickFact stores a single user-authored fact as one chunk owned by
// its author.
func (p *Pipeline) IngestQuickFact(ctx context.Context, text, authorID, authorName string) (*types.Chunk, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("quick fact text cannot be empty")
	}

	pageID := "qf_" + uuid.New().String()[:8]
	chunk, err := types.NewChunk(pageID, 0, text, types.ChunkTypeText)
	if err != nil {
		return nil, fmt.Errorf("build quick fact: %w", err)
	}
	chunk.PageTitle = quickFactTitle(text)
	chunk.SpaceKey = externalSpaceKey
	chunk.DocType = quickFactDocType
	chunk.Owner = authorID
	chunk.Author = authorID
	chunk.AuthorName = authorName

	result, err := p.graph.UpsertChunks(ctx, []types.Chunk{*chunk})
	if err != nil {
		return nil, fmt.Errorf("store quick fact: %w", err)
	}
	if result.Failed > 0 {
		return nil, fmt.Errorf("store quick fact: %s", strings.Join(result.Errors, "; "))
	}

	p.logger.Info("quick fact stored", "chunk_id", chunk.ChunkID, "author", authorID)
	return chunk, nil
}

func (p *Pipeline) fetchDocument(ctx context.Context, rawURL string) (body, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("build document request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch document: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return "", "", fmt.Errorf("read document body: %w", err)
	}
	return string(raw), resp.Header.Get("Content-Type"), nil
}

// googleDocsExportURL maps a Google Docs link to its public HTML export.
func googleDocsExportURL(u *url.URL) (string, bool) {
	if u.Host != "docs.google.com" {
		return "", false
	}
	m := googleDocsPath.FindStringSubmatch(u.Path)
	if m == nil {
		return "", false
	}
	return fmt.Sprintf("https://docs.google.com/document/d/%s/export?format=html", m[1]), true
}

func isHTMLContent(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.ToLower(contentType))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func hashURL(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:12]
}

var titleTag = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func documentTitle(body string, u *url.URL) string {
	if m := titleTag.FindStringSubmatch(body); m != nil {
		if title := strings.TrimSpace(m[1]); title != "" {
			return title
		}
	}
	return u.Host + u.Path
}

// quickFactTitle derives a short title from the fact's first line.
func quickFactTitle(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if len(line) > 80 {
		line = line[:80]
	}
	return line
}
