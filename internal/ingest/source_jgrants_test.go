package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-importer/internal/config"
)

type fakeRegistry struct {
	mu       sync.Mutex
	hits     int
	queries  []url.Values
	paths    []string
	handler  func(w http.ResponseWriter, r *http.Request, hit int)
	lastHdrs http.Header
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits++
	hit := f.hits
	f.queries = append(f.queries, r.URL.Query())
	f.paths = append(f.paths, r.URL.Path)
	f.lastHdrs = r.Header.Clone()
	f.mu.Unlock()
	f.handler(w, r, hit)
}

func (f *fakeRegistry) Hits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits
}

func writeResult(w http.ResponseWriter, records ...map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"metadata": map[string]any{"resultset": map[string]any{"count": len(records)}}, "result": records})
}

func newTestClient(t *testing.T, reg *fakeRegistry, logs *bytes.Buffer) (*JGrantsClient, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(reg)
	t.Cleanup(srv.Close)

	var waits []time.Duration
	var mu sync.Mutex
	opts := []ClientOption{
		WithHTTPClient(srv.Client()),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			waits = append(waits, d)
			mu.Unlock()
			return ctx.Err()
		}),
	}
	if logs != nil {
		opts = append(opts, WithLogger(slog.New(slog.NewTextHandler(logs, nil))))
	}

	c := NewJGrantsClient(config.Source{
		BaseURL:        srv.URL,
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		SearchCacheTTL: time.Hour,
		DetailCacheTTL: time.Hour,
	}, opts...)
	return c, &waits
}

func TestSearch_RetriesTransientStatus(t *testing.T) {
	reg := &fakeRegistry{handler: func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}}
	c, waits := newTestClient(t, reg, nil)

	_, err := c.Search(context.Background(), SearchParams{Keyword: "補助金", PerPage: 5})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 3, reg.Hits())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestSearch_RecoversAfterRetry(t *testing.T) {
	reg := &fakeRegistry{handler: func(w http.ResponseWriter, _ *http.Request, hit int) {
		if hit == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeResult(w, map[string]any{"id": "a1", "title": "t"})
	}}
	c, waits := newTestClient(t, reg, nil)

	records, err := c.Search(context.Background(), SearchParams{Keyword: "補助金", PerPage: 5})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, reg.Hits())
	assert.Equal(t, []time.Duration{2 * time.Second}, *waits, "rate limited answers wait twice as long")
}

func TestSearch_TerminalStatusNotRetried(t *testing.T) {
	reg := &fakeRegistry{handler: func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"keyword is invalid"}`))
	}}
	c, waits := newTestClient(t, reg, nil)

	_, err := c.Search(context.Background(), SearchParams{Keyword: "補助金", PerPage: 5})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "keyword is invalid", apiErr.Message)
	assert.Equal(t, 1, reg.Hits())
	assert.Empty(t, *waits)
}

func TestSearch_ShortKeywordSubstituted(t *testing.T) {
	var logs bytes.Buffer
	reg := &fakeRegistry{handler: func(w http.ResponseWriter, _ *http.Request, _ int) {
		writeResult(w)
	}}
	c, _ := newTestClient(t, reg, &logs)

	_, err := c.Search(context.Background(), SearchParams{Keyword: "a", PerPage: 5})
	require.NoError(t, err)

	require.Len(t, reg.queries, 1)
	assert.Equal(t, config.DefaultKeyword, reg.queries[0].Get("keyword"))
	assert.Contains(t, logs.String(), "keyword too short, substituting default")
	assert.Contains(t, logs.String(), "original=a")
	assert.Contains(t, logs.String(), "substituted="+config.DefaultKeyword)
}

func TestSearch_QueryParameters(t *testing.T) {
	reg := &fakeRegistry{handler: func(w http.ResponseWriter, _ *http.Request, _ int) {
		writeResult(w)
	}}
	c, _ := newTestClient(t, reg, nil)

	_, err := c.Search(context.Background(), SearchParams{
		Keyword:        "ものづくり",
		PerPage:        10,
		AcceptanceOnly: true,
		AmountFrom:     1_000_000,
		AmountTo:       50_000_000,
		TargetAreas:    []string{"東京都", " ", "全国"},
		UsePurpose:     "設備整備・IT導入をしたい",
	})
	require.NoError(t, err)

	q := reg.queries[0]
	assert.Equal(t, "/subsidies", reg.paths[0])
	assert.Equal(t, "ものづくり", q.Get("keyword"))
	assert.Equal(t, "created_date", q.Get("sort"))
	assert.Equal(t, "DESC", q.Get("order"))
	assert.Equal(t, "10", q.Get("per_page"))
	assert.Equal(t, "1", q.Get("acceptance"))
	assert.Equal(t, "1000000", q.Get("subsidy_max_limit_from"))
	assert.Equal(t, "50000000", q.Get("subsidy_max_limit_to"))
	assert.Equal(t, "東京都,全国", q.Get("target_area_search"))
	assert.Equal(t, "設備整備・IT導入をしたい", q.Get("use_purpose"))
	assert.Equal(t, "application/json", reg.lastHdrs.Get("Accept"))
	assert.NotEmpty(t, reg.lastHdrs.Get("User-Agent"))
}

func TestSearch_PerPageClamped(t *testing.T) {
	reg := &fakeRegistry{handler: func(w http.ResponseWriter, _ *http.Request, _ int) {
		writeResult(w)
	}}
	c, _ := newTestClient(t, reg, nil)

	for _, tt := range []struct {
		in   int
		want string
	}{
		{500, "100"},
		{0, "1"},
		{7, "7"},
	} {
		_, err := c.Search(context.Background(), SearchParams{Keyword: "補助金", PerPage: tt.in})
		require.NoError(t, err)
		assert.Equal(t, tt.want, reg.queries[len(reg.queries)-1].Get("per_page"), "per_page %d", tt.in)
	}
	assert.Equal(t, 3, reg.Hits(), "distinct page sizes are cached separately")
}

func TestSearch_RetriesClientTimeout(t *testing.T) {
	reg := &fakeRegistry{handler: func(w http.ResponseWriter, r *http.Request, hit int) {
		if hit == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		writeResult(w, map[string]any{"id": "a1"})
	}}
	c, waits := newTestClient(t, reg, nil)
	c.httpClient.Timeout = 100 * time.Millisecond

	records, err := c.Search(context.Background(), SearchParams{Keyword: "補助金", PerPage: 5})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, reg.Hits())
	assert.Equal(t, []time.Duration{time.Second}, *waits)
}

func TestSearch_CallerDeadlineNotRetried(t *testing.T) {
	reg := &fakeRegistry{handler: func(w http.ResponseWriter, r *http.Request, _ int) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}}
	c, waits := newTestClient(t, reg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Search(ctx, SearchParams{Keyword: "補助金", PerPage: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, reg.Hits())
	assert.Empty(t, *waits)
}

func TestSearch_TruncatesToPerPage(t *testing.T) {
	reg := &fakeRegistry{handler: func(w http.ResponseWriter, _ *http.Request, _ int) {
		records := make([]map[string]any, 50)
		for i := range records {
			records[i] = map[string]any{"id": fmt.Sprintf("id-%02d", i)}
		}
		writeResult(w, records...)
	}}
	c, _ := newTestClient(t, reg, nil)

	records, err := c.Search(context.Background(), SearchParams{Keyword: "補助金", PerPage: 7})
	require.NoError(t, err)
	require.Len(t, records, 7)
	assert.Equal(t, "id-00", records[0].String("id"))
	assert.Equal(t, "id-06", records[6].String("id"))
}

func TestSearch_UsesCache(t *testing.T) {
	reg := &fakeRegistry{handler: func(w http.ResponseWriter, _ *http.Request, _ int) {
		writeResult(w, map[string]any{"id": "a1"})
	}}
	c, _ := newTestClient(t, reg, nil)
	ctx := context.Background()
	params := SearchParams{Keyword: "補助金", PerPage: 5}

	_, err := c.Search(ctx, params)
	require.NoError(t, err)
	_, err = c.Search(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Hits())

	require.NoError(t, c.ClearCache(ctx))
	_, err = c.Search(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Hits())
}

func TestDetail(t *testing.T) {
	reg := &fakeRegistry{handler: func(w http.ResponseWriter, r *http.Request, _ int) {
		if r.URL.Path == "/subsidies/id/a0W5h00000" {
			writeResult(w, map[string]any{"id": "a0W5h00000", "detail": "<p>本文</p>"})
			return
		}
		writeResult(w)
	}}
	c, _ := newTestClient(t, reg, nil)
	ctx := context.Background()

	rec, err := c.Detail(ctx, "a0W5h00000")
	require.NoError(t, err)
	assert.Equal(t, "<p>本文</p>", rec.String("detail"))

	_, err = c.Detail(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Detail(ctx, " ")
	assert.ErrorIs(t, err, ErrMissingExternalID)
}

func TestPing_BypassesCache(t *testing.T) {
	reg := &fakeRegistry{handler: func(w http.ResponseWriter, _ *http.Request, _ int) {
		writeResult(w)
	}}
	c, _ := newTestClient(t, reg, nil)

	require.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, 2, reg.Hits())
	assert.Equal(t, "テスト", reg.queries[0].Get("keyword"))
	assert.Equal(t, "1", reg.queries[0].Get("per_page"))
}

func TestIsPrivateIP(t *testing.T) {
	for _, tc := range []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"192.168.0.10", true},
		{"169.254.169.254", true},
		{"::1", true},
		{"203.0.113.7", false},
	} {
		assert.Equal(t, tc.private, isPrivateIP(net.ParseIP(tc.ip)), tc.ip)
	}
}
