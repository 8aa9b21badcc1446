package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

const maxErrorBody = 512

type HTTPFeedConfig struct {
	BaseURL string
	Token   string
	// RateLimit is the sustained request rate in requests per second.
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

// HTTPFeed pages through a CRM export that serves canonical records as
// JSON:
//
//	GET {base}/records?cursor=&limit=&ref=  -> {"records": [...], "next_cursor": "..."}
//	GET {base}/records/count?ref=           -> {"total": 123}
type HTTPFeed struct {
	client  *http.Client
	limiter *rate.Limiter
	base    string
	token   string
	ref     string
}

type feedPage struct {
	Records    []domain.CanonicalRecord `json:"records"`
	NextCursor *string                  `json:"next_cursor"`
}

type feedCount struct {
	Total int64 `json:"total"`
}

// NewHTTPFeedFactory returns a Factory whose adapters share one client and
// one rate limiter, so concurrent jobs against the same CRM stay within its
// quota together.
func NewHTTPFeedFactory(client *http.Client, cfg HTTPFeedConfig) Factory {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout > 0 && client.Timeout == 0 {
		client.Timeout = cfg.Timeout
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)
	base := strings.TrimRight(cfg.BaseURL, "/")

	return func(_ context.Context, job domain.Job) (domain.SourceAdapter, error) {
		if base == "" {
			return nil, domain.Terminal(errors.Newf("no feed url configured for source %s", job.Source))
		}
		return &HTTPFeed{
			client:  client,
			limiter: limiter,
			base:    base,
			token:   cfg.Token,
			ref:     job.Options.SourceRef,
		}, nil
	}
}

func (f *HTTPFeed) FetchPage(ctx context.Context, cursor string, limit int) (domain.Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if f.ref != "" {
		q.Set("ref", f.ref)
	}

	var page feedPage
	if err := f.get(ctx, "/records", q, &page); err != nil {
		return domain.Page{}, err
	}
	if page.NextCursor != nil && *page.NextCursor == "" {
		page.NextCursor = nil
	}
	return domain.Page{Records: page.Records, NextCursor: page.NextCursor}, nil
}

func (f *HTTPFeed) EstimateTotal(ctx context.Context) (int64, error) {
	q := url.Values{}
	if f.ref != "" {
		q.Set("ref", f.ref)
	}
	var count feedCount
	if err := f.get(ctx, "/records/count", q, &count); err != nil {
		return 0, err
	}
	return count.Total, nil
}

func (f *HTTPFeed) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "wait for rate limiter")
	}

	endpoint := f.base + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return domain.Terminal(errors.Wrap(err, "build feed request"))
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.Transient(errors.Wrapf(err, "GET %s", path))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classifyStatus(resp.StatusCode, errors.Newf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Terminal(errors.Wrapf(err, "decode %s response", path))
	}
	return nil
}

// classifyStatus marks rate limiting, timeouts and server errors as
// transient and every other failure as terminal.
func classifyStatus(code int, err error) error {
	switch {
	case code == http.StatusTooManyRequests,
		code == http.StatusRequestTimeout,
		code >= http.StatusInternalServerError:
		return domain.Transient(err)
	default:
		return domain.Terminal(err)
	}
}
