package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"

	"github.com/st-keller/quakefeed-client/earthquake"
	"github.com/st-keller/quakefeed-client/standard"
)

// DefaultMaxBodyBytes caps the response body read into memory.
const DefaultMaxBodyBytes = 8 << 20

// Fetcher performs a single GET per call and returns the body as text.
// It never retries.
type Fetcher struct {
	client    *http.Client
	tracker   *standard.ConnectivityTracker
	logs      *standard.RecentLogs
	limiter   *rate.Limiter
	maxBody   int64
	userAgent string
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithTracker records every call in t.
func WithTracker(t *standard.ConnectivityTracker) FetcherOption {
	return func(f *Fetcher) {
		f.tracker = t
	}
}

// WithLogs sets the log sink.
func WithLogs(l *standard.RecentLogs) FetcherOption {
	return func(f *Fetcher) {
		f.logs = l
	}
}

// WithRateLimit makes Fetch wait for l before sending. Nil disables limiting.
func WithRateLimit(l *rate.Limiter) FetcherOption {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// NewFetcher wraps client. Use BuildHTTPClient to get the feed timeouts.
func NewFetcher(client *http.Client, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:    client,
		maxBody:   DefaultMaxBodyBytes,
		userAgent: "quakefeed-client",
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logs == nil {
		f.logs = standard.NewRecentLogsTo(100, nil)
	}
	return f
}

// Fetch GETs rawURL and returns the UTF-8 body of a 200 response.
//
// Errors: earthquake.ErrInvalidRequest for a malformed URL, *StatusError for any
// other status, *NetworkError for dial, TLS, timeout and read failures.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: %q", earthquake.ErrInvalidRequest, rawURL)
	}
	endpoint := u.Scheme + "://" + u.Host + u.Path

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", newNetworkError(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", earthquake.ErrInvalidRequest, err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")
	req.Header.Set("User-Agent", f.userAgent)

	startTime := time.Now()
	body, err := f.do(req)
	latency := time.Since(startTime)

	if err != nil {
		if f.tracker != nil {
			f.tracker.TrackFailure(endpoint, latency, err.Error())
		}
		f.logs.ErrorNoTrigger("Feed request failed", map[string]interface{}{
			"endpoint":   endpoint,
			"error":      err.Error(),
			"latency_ms": latency.Milliseconds(),
		})
		return "", err
	}

	if f.tracker != nil {
		f.tracker.TrackSuccess(endpoint, latency)
	}
	f.logs.Debug("Feed request succeeded", map[string]interface{}{
		"endpoint":   endpoint,
		"bytes":      len(body),
		"latency_ms": latency.Milliseconds(),
	})
	return body, nil
}

func (f *Fetcher) do(req *http.Request) (string, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return "", newNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return "", newNetworkError(err)
	}
	if int64(len(raw)) > f.maxBody {
		return "", newNetworkError(fmt.Errorf("response body exceeds %d bytes", f.maxBody))
	}

	// Strips a leading BOM and replaces invalid UTF-8 with U+FFFD.
	data, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
	if err != nil {
		return "", fmt.Errorf("%w: decode body: %v", earthquake.ErrParse, err)
	}

	return string(data), nil
}
