package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/david/grant-importer/internal/config"
)

const (
	minKeywordRunes = 2
	maxPerPage      = 100
)

var ErrNotFound = errors.New("jgrants: record not found")

// JGrantsClient talks to the jGrants public subsidy API.
type JGrantsClient struct {
	baseURL        string
	userAgent      string
	defaultKeyword string
	maxAttempts    int
	baseDelay      time.Duration
	searchTTL      time.Duration
	detailTTL      time.Duration

	httpClient *http.Client
	cache      Cache
	limiter    *rate.Limiter
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

type ClientOption func(*JGrantsClient)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(j *JGrantsClient) { j.httpClient = c }
}

func WithCache(c Cache) ClientOption {
	return func(j *JGrantsClient) { j.cache = c }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(j *JGrantsClient) { j.logger = l }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(j *JGrantsClient) { j.sleep = fn }
}

func NewJGrantsClient(cfg config.Source, opts ...ClientOption) *JGrantsClient {
	c := &JGrantsClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:      cfg.UserAgent,
		defaultKeyword: cfg.DefaultKeyword,
		maxAttempts:    cfg.MaxAttempts,
		baseDelay:      cfg.BaseDelay,
		searchTTL:      cfg.SearchCacheTTL,
		detailTTL:      cfg.DetailCacheTTL,
		sleep:          sleepContext,
	}
	if c.userAgent == "" {
		c.userAgent = "grant-importer/1.0"
	}
	if c.defaultKeyword == "" {
		c.defaultKeyword = config.DefaultKeyword
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 3
	}
	if c.baseDelay <= 0 {
		c.baseDelay = time.Second
	}
	if cfg.RateLimitRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newRegistryHTTPClient(cfg.Timeout)
	}
	if c.cache == nil {
		c.cache = NewMemoryCache()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

type listResponse struct {
	Result []RawRecord `json:"result"`
}

// Search lists subsidies matching params, newest first.
func (c *JGrantsClient) Search(ctx context.Context, params SearchParams) ([]RawRecord, error) {
	keyword := strings.TrimSpace(params.Keyword)
	if utf8.RuneCountInString(keyword) < minKeywordRunes {
		c.logger.Warn("keyword too short, substituting default",
			"original", keyword, "substituted", c.defaultKeyword)
		keyword = c.defaultKeyword
	}
	perPage := clampPerPage(params.PerPage)

	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("sort", "created_date")
	q.Set("order", "DESC")
	q.Set("per_page", strconv.Itoa(perPage))
	if params.AcceptanceOnly {
		q.Set("acceptance", "1")
	} else {
		q.Set("acceptance", "0")
	}
	if params.AmountFrom > 0 {
		q.Set("subsidy_max_limit_from", strconv.FormatInt(params.AmountFrom, 10))
	}
	if params.AmountTo > 0 {
		q.Set("subsidy_max_limit_to", strconv.FormatInt(params.AmountTo, 10))
	}
	if areas := joinNonEmpty(params.TargetAreas); areas != "" {
		q.Set("target_area_search", areas)
	}
	if p := strings.TrimSpace(params.UsePurpose); p != "" {
		q.Set("use_purpose", p)
	}

	c.logger.Info("jgrants search", "keyword", keyword, "per_page", perPage)

	body, err := c.getJSON(ctx, "/subsidies", q, c.searchTTL)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	records := resp.Result
	if len(records) > perPage {
		records = records[:perPage]
	}
	return records, nil
}

// Detail fetches the full record for one subsidy id.
func (c *JGrantsClient) Detail(ctx context.Context, externalID string) (RawRecord, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, ErrMissingExternalID
	}

	body, err := c.getJSON(ctx, "/subsidies/id/"+url.PathEscape(externalID), nil, c.detailTTL)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode detail response: %w", err)
	}
	if len(resp.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, externalID)
	}
	return resp.Result[0], nil
}

// Ping runs a minimal uncached search to check connectivity.
func (c *JGrantsClient) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("keyword", "テスト")
	q.Set("sort", "created_date")
	q.Set("order", "DESC")
	q.Set("acceptance", "0")
	q.Set("per_page", "1")
	_, err := c.getJSON(ctx, "/subsidies", q, 0)
	return err
}

// ClearCache drops every cached registry response.
func (c *JGrantsClient) ClearCache(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

func (c *JGrantsClient) getJSON(ctx context.Context, endpoint string, q url.Values, ttl time.Duration) ([]byte, error) {
	rawURL := c.baseURL + endpoint
	if len(q) > 0 {
		// Encode sorts keys, so equal queries share a cache entry.
		rawURL += "?" + q.Encode()
	}

	if ttl > 0 {
		if cached, ok, err := c.cache.Get(ctx, rawURL); err != nil {
			c.logger.Warn("cache read failed", "url", rawURL, "error", err)
		} else if ok {
			return cached, nil
		}
	}

	var lastErr error
	lastStatus := 0
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(c.baseDelay, attempt-1, lastStatus)
			c.logger.Warn("retrying registry request",
				"url", rawURL, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		body, status, err := c.do(ctx, rawURL)
		lastStatus = status
		if err != nil {
			// The caller gave up; a client timeout alone is retried.
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			if shouldRetry(err, 0) {
				continue
			}
			return nil, err
		}

		if status == http.StatusOK {
			if ttl > 0 {
				if err := c.cache.Set(ctx, rawURL, body, ttl); err != nil {
					c.logger.Warn("cache write failed", "url", rawURL, "error", err)
				}
			}
			return body, nil
		}

		apiErr := apiErrorFromBody(status, body)
		if !apiErr.Retryable() {
			return nil, apiErr
		}
		lastErr = apiErr
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *JGrantsClient) do(ctx context.Context, rawURL string) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "ja,en;q=0.9")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func clampPerPage(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxPerPage {
		return maxPerPage
	}
	return n
}

func joinNonEmpty(items []string) string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, ",")
}
