package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lorehub/internal/config"
	"lorehub/internal/logging"
	"lorehub/internal/ratelimit"
	"lorehub/internal/retry"
)

const defaultPageLimit = 50

// ConfluenceSource talks to a Confluence-style REST API using basic auth
// (username + API token). Every request passes the shared rate limiter
// first; transient failures retry with the wiki backoff schedule.
type ConfluenceSource struct {
	baseURL    string
	username   string
	apiToken   string
	httpClient *http.Client
	limiter    ratelimit.Limiter
	retrier    *retry.Retrier
	logger     logging.Logger
}

// NewConfluenceSource validates the connection settings eagerly.
func NewConfluenceSource(cfg *config.WikiConfig, limiter ratelimit.Limiter) (*ConfluenceSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("wiki base URL is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid wiki base URL %q", cfg.BaseURL)
	}
	if cfg.Username == "" || cfg.APIToken == "" {
		return nil, fmt.Errorf("wiki username and API token are required")
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	return &ConfluenceSource{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		apiToken:   cfg.APIToken,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		retrier:    retry.New(retry.WikiBackoff(maxRetries)),
		logger:     logging.WithComponent("wiki"),
	}, nil
}

// ListPages walks the space's content listing, following start/limit
// pagination until the API returns a short page.
func (s *ConfluenceSource) ListPages(ctx context.Context, spaceKey string) ([]PageSummary, error) {
	var pages []PageSummary
	start := 0
	for {
		query := url.Values{}
		query.Set("type", "page")
		query.Set("spaceKey", spaceKey)
		query.Set("status", "current,trashed")
		query.Set("expand", "version,space")
		query.Set("start", strconv.Itoa(start))
		query.Set("limit", strconv.Itoa(defaultPageLimit))

		var resp contentListResponse
		if err := s.doGet(ctx, "/rest/api/content", query, &resp); err != nil {
			return nil, fmt.Errorf("list pages in space %s: %w", spaceKey, err)
		}

		for i := range resp.Results {
			pages = append(pages, resp.Results[i].toSummary(spaceKey))
		}
		if len(resp.Results) < defaultPageLimit {
			return pages, nil
		}
		start += len(resp.Results)
	}
}

// GetPage fetches the storage-format body, labels, version and authorship
// for one page.
func (s *ConfluenceSource) GetPage(ctx context.Context, pageID string) (*PageDetail, error) {
	query := url.Values{}
	query.Set("expand", "body.storage,metadata.labels,version,history,space")

	var item contentItem
	if err := s.doGet(ctx, "/rest/api/content/"+pageID, query, &item); err != nil {
		return nil, fmt.Errorf("get page %s: %w", pageID, err)
	}
	return item.toDetail(s.baseURL), nil
}

// GetAttachments lists the page's attachments. Bodies are not downloaded;
// the pipeline decides per media type whether it can ingest them.
func (s *ConfluenceSource) GetAttachments(ctx context.Context, pageID string) ([]Attachment, error) {
	var attachments []Attachment
	start := 0
	for {
		query := url.Values{}
		query.Set("start", strconv.Itoa(start))
		query.Set("limit", strconv.Itoa(defaultPageLimit))

		var resp attachmentListResponse
		if err := s.doGet(ctx, "/rest/api/content/"+pageID+"/child/attachment", query, &resp); err != nil {
			return nil, fmt.Errorf("get attachments for page %s: %w", pageID, err)
		}

		for _, item := range resp.Results {
			attachments = append(attachments, Attachment{
				ID:          item.ID,
				Title:       item.Title,
				MediaType:   item.Extensions.MediaType,
				FileSize:    item.Extensions.FileSize,
				DownloadURL: s.baseURL + item.Links.Download,
			})
		}
		if len(resp.Results) < defaultPageLimit {
			return attachments, nil
		}
		start += len(resp.Results)
	}
}

// HealthCheck verifies auth and connectivity with a minimal space listing.
func (s *ConfluenceSource) HealthCheck(ctx context.Context) error {
	query := url.Values{}
	query.Set("limit", "1")
	var resp json.RawMessage
	if err := s.doGet(ctx, "/rest/api/space", query, &resp); err != nil {
		return fmt.Errorf("wiki health check: %w", err)
	}
	return nil
}

// doGet issues one GET under the rate limiter and retry policy, decoding a
// 200 response into out.
func (s *ConfluenceSource) doGet(ctx context.Context, path string, query url.Values, out any) error {
	result := s.retrier.Do(ctx, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return &retry.PermanentError{Err: err}
		}
		return s.request(ctx, path, query, out)
	})
	return result.Err
}

func (s *ConfluenceSource) request(ctx context.Context, path string, query url.Values, out any) error {
	reqURL := s.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &retry.PermanentError{Err: err}
	}
	req.SetBasicAuth(s.username, s.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &retry.TemporaryError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &retry.PermanentError{Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &retry.RetryAfterError{
			Err:   fmt.Errorf("rate limited by wiki: %s", path),
			After: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode == http.StatusUnauthorized:
		return &retry.PermanentError{Err: fmt.Errorf("%w: %s", ErrUnauthorized, path)}
	case resp.StatusCode == http.StatusForbidden:
		return &retry.PermanentError{Err: fmt.Errorf("%w: %s", ErrForbidden, path)}
	case resp.StatusCode == http.StatusNotFound:
		return &retry.PermanentError{Err: fmt.Errorf("%w: %s", ErrNotFound, path)}
	case resp.StatusCode >= 500:
		return &retry.TemporaryError{Err: fmt.Errorf("wiki server error %d: %s", resp.StatusCode, path)}
	default:
		return &retry.PermanentError{Err: fmt.Errorf("unexpected wiki status %d: %s", resp.StatusCode, path)}
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms. Zero
// means no server-directed wait; the backoff schedule applies.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// Wire payloads. Only the fields the adapter reads are declared.

type contentListResponse struct {
	Results []contentItem `json:"results"`
	Start   int           `json:"start"`
	Limit   int           `json:"limit"`
	Size    int           `json:"size"`
}

type contentItem struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Title  string `json:"title"`
	Space  struct {
		Key string `json:"key"`
	} `json:"space"`
	Version struct {
		Number int       `json:"number"`
		When   time.Time `json:"when"`
		By     struct {
			AccountID   string `json:"accountId"`
			DisplayName string `json:"displayName"`
		} `json:"by"`
	} `json:"version"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Metadata struct {
		Labels struct {
			Results []struct {
				Name string `json:"name"`
			} `json:"results"`
		} `json:"labels"`
	} `json:"metadata"`
	History struct {
		CreatedDate time.Time `json:"createdDate"`
		CreatedBy   struct {
			AccountID   string `json:"accountId"`
			DisplayName string `json:"displayName"`
		} `json:"createdBy"`
	} `json:"history"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
}

func (c *contentItem) toSummary(spaceKey string) PageSummary {
	if c.Space.Key != "" {
		spaceKey = c.Space.Key
	}
	return PageSummary{
		ID:        c.ID,
		Title:     c.Title,
		SpaceKey:  spaceKey,
		Status:    c.Status,
		Version:   c.Version.Number,
		UpdatedAt: c.Version.When,
	}
}

func (c *contentItem) toDetail(baseURL string) *PageDetail {
	labels := make([]string, 0, len(c.Metadata.Labels.Results))
	for _, l := range c.Metadata.Labels.Results {
		labels = append(labels, l.Name)
	}
	authorID := c.History.CreatedBy.AccountID
	authorName := c.History.CreatedBy.DisplayName
	if c.Version.By.AccountID != "" {
		authorID = c.Version.By.AccountID
		authorName = c.Version.By.DisplayName
	}
	return &PageDetail{
		ID:         c.ID,
		Title:      c.Title,
		SpaceKey:   c.Space.Key,
		Status:     c.Status,
		BodyHTML:   c.Body.Storage.Value,
		Labels:     labels,
		Version:    c.Version.Number,
		AuthorID:   authorID,
		AuthorName: authorName,
		CreatedAt:  c.History.CreatedDate,
		UpdatedAt:  c.Version.When,
		URL:        baseURL + c.Links.WebUI,
	}
}

type attachmentListResponse struct {
	Results []struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		Extensions struct {
			MediaType string `json:"mediaType"`
			FileSize  int64  `json:"fileSize"`
		} `json:"extensions"`
		Links struct {
			Download string `json:"download"`
		} `json:"_links"`
	} `json:"results"`
}
