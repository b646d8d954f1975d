// Package wiki provides the knowledge-source port and a Confluence-style
// REST adapter for pulling page content into the ingestion pipeline.
package wiki

import (
	"context"
	"errors"
	"time"
)

// Source lists and fetches wiki pages for ingestion.
type Source interface {
	// ListPages returns all pages in a space, paginating internally.
	ListPages(ctx context.Context, spaceKey string) ([]PageSummary, error)
	// GetPage fetches a full page: storage-format body, labels, version
	// and authorship.
	GetPage(ctx context.Context, pageID string) (*PageDetail, error)
	// GetAttachments lists a page's attachments without downloading them.
	GetAttachments(ctx context.Context, pageID string) ([]Attachment, error)
	HealthCheck(ctx context.Context) error
}

// PageSummary is the listing view of a page, enough to decide whether a
// sync needs to fetch the full body.
type PageSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	SpaceKey  string    `json:"space_key"`
	Status    string    `json:"status"` // current or trashed
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PageDetail is the full page needed to (re)index it.
type PageDetail struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	SpaceKey   string    `json:"space_key"`
	Status     string    `json:"status"`
	BodyHTML   string    `json:"body_html"` // storage-format HTML
	Labels     []string  `json:"labels"`
	Version    int       `json:"version"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	URL        string    `json:"url"`
}

// Attachment describes a file attached to a page.
type Attachment struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	MediaType   string `json:"media_type"`
	FileSize    int64  `json:"file_size"`
	DownloadURL string `json:"download_url"`
}

// Permanent source errors. Pages hitting these are logged, skipped and
// counted, never retried.
var (
	ErrUnauthorized = errors.New("wiki: unauthorized")
	ErrForbidden    = errors.New("wiki: forbidden")
	ErrNotFound     = errors.New("wiki: not found")
)
