package wiki

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lorehub/internal/config"
	"lorehub/internal/ratelimit"
	"lorehub/internal/retry"
)

func newTestSource(t *testing.T, server *httptest.Server) *ConfluenceSource {
	t.Helper()
	src, err := NewConfluenceSource(&config.WikiConfig{
		BaseURL:        server.URL,
		Username:       "bot@example.com",
		APIToken:       "token",
		TimeoutSeconds: 5,
		MaxRetries:     3,
	}, ratelimit.NewLocalLimiter(1000))
	require.NoError(t, err)
	// Collapse the backoff schedule so retry tests finish quickly.
	src.retrier = retry.New(&retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	})
	return src
}

func TestNewConfluenceSourceValidatesConfig(t *testing.T) {
	limiter := ratelimit.NewLocalLimiter(5)

	_, err := NewConfluenceSource(&config.WikiConfig{}, limiter)
	require.Error(t, err)

	_, err = NewConfluenceSource(&config.WikiConfig{BaseURL: "not a url"}, limiter)
	require.Error(t, err)

	_, err = NewConfluenceSource(&config.WikiConfig{
		BaseURL:  "https://wiki.example.com",
		Username: "bot@example.com",
	}, limiter)
	require.Error(t, err, "missing API token must fail eagerly")
}

func TestListPagesFollowsPagination(t *testing.T) {
	const total = 75 // more than one page of 50

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/content", r.URL.Path)
		assert.Equal(t, "ENG", r.URL.Query().Get("spaceKey"))
		assert.Equal(t, "current,trashed", r.URL.Query().Get("status"))

		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[`)
		count := 0
		for i := start; i < total && i < start+limit; i++ {
			if count > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"id":"%d","title":"Page %d","status":"current","version":{"number":1,"when":"2026-01-02T03:04:05Z"}}`, i, i)
			count++
		}
		fmt.Fprintf(w, `],"start":%d,"limit":%d,"size":%d}`, start, limit, count)
	}))
	defer server.Close()

	src := newTestSource(t, server)
	pages, err := src.ListPages(context.Background(), "ENG")
	require.NoError(t, err)
	require.Len(t, pages, total)
	assert.Equal(t, "0", pages[0].ID)
	assert.Equal(t, "ENG", pages[0].SpaceKey)
	assert.Equal(t, "74", pages[total-1].ID)
}

func TestGetPageParsesBodyLabelsAndAuthorship(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/content/12345", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "bot@example.com", user)
		assert.Equal(t, "token", pass)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id":"12345","type":"page","status":"current","title":"Deploy Guide",
			"space":{"key":"ENG"},
			"version":{"number":7,"when":"2026-03-01T10:00:00Z","by":{"accountId":"u1","displayName":"Sam Editor"}},
			"body":{"storage":{"value":"<h1>Deploying</h1><p>Run the release job.</p>"}},
			"metadata":{"labels":{"results":[{"name":"owner:sam"},{"name":"doc_type:runbook"}]}},
			"history":{"createdDate":"2025-01-15T08:00:00Z","createdBy":{"accountId":"u0","displayName":"Alex Author"}},
			"_links":{"webui":"/spaces/ENG/pages/12345"}
		}`)
	}))
	defer server.Close()

	src := newTestSource(t, server)
	page, err := src.GetPage(context.Background(), "12345")
	require.NoError(t, err)

	assert.Equal(t, "12345", page.ID)
	assert.Equal(t, "Deploy Guide", page.Title)
	assert.Equal(t, "ENG", page.SpaceKey)
	assert.Contains(t, page.BodyHTML, "<h1>Deploying</h1>")
	assert.Equal(t, []string{"owner:sam", "doc_type:runbook"}, page.Labels)
	assert.Equal(t, 7, page.Version)
	assert.Equal(t, "u1", page.AuthorID)
	assert.Equal(t, "Sam Editor", page.AuthorName)
	assert.Equal(t, server.URL+"/spaces/ENG/pages/12345", page.URL)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), page.UpdatedAt)
}

func TestGetPageRetriesOn429WithRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","title":"P","status":"current","version":{"number":1}}`)
	}))
	defer server.Close()

	src := newTestSource(t, server)
	page, err := src.GetPage(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "1", page.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetPageRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","title":"P","status":"current","version":{"number":1}}`)
	}))
	defer server.Close()

	src := newTestSource(t, server)
	_, err := src.GetPage(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetPageDoesNotRetryPermanentErrors(t *testing.T) {
	statuses := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
	}

	for _, tc := range statuses {
		t.Run(strconv.Itoa(tc.code), func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.code)
			}))
			defer server.Close()

			src := newTestSource(t, server)
			_, err := src.GetPage(context.Background(), "1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "expected %v in chain, got %v", tc.want, err)
			assert.Equal(t, int32(1), calls.Load(), "permanent errors must not retry")
		})
	}
}

func TestGetAttachmentsParsesExtensions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/content/9/child/attachment", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[
			{"id":"att1","title":"diagram.png","extensions":{"mediaType":"image/png","fileSize":2048},"_links":{"download":"/download/att1"}},
			{"id":"att2","title":"spec.pdf","extensions":{"mediaType":"application/pdf","fileSize":99000},"_links":{"download":"/download/att2"}}
		]}`)
	}))
	defer server.Close()

	src := newTestSource(t, server)
	atts, err := src.GetAttachments(context.Background(), "9")
	require.NoError(t, err)
	require.Len(t, atts, 2)
	assert.Equal(t, "image/png", atts[0].MediaType)
	assert.Equal(t, int64(2048), atts[0].FileSize)
	assert.Equal(t, server.URL+"/download/att2", atts[1].DownloadURL)
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/space", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer server.Close()

	src := newTestSource(t, server)
	require.NoError(t, src.HealthCheck(context.Background()))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))

	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, 5*time.Second)
	assert.LessOrEqual(t, d, 10*time.Second)
}
