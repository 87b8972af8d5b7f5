package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds one fetch.
	DefaultTimeout = 10 * time.Second

	// DefaultUserAgent is a desktop browser string; many sites refuse
	// unknown clients.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	maxBodyBytes = 10 << 20
)

// Fetched is the outcome of one GET. Truncated is set when the body
// exceeded the size cap and was cut to it.
type Fetched struct {
	StatusCode  int
	ContentType string
	Body        string
	Truncated   bool
}

// Fetcher retrieves documents over HTTP. A non-2xx response is not an
// error; the status is returned for the caller to record.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	logger    *slog.Logger
}

// NewFetcher creates a fetcher. Zero values select the defaults.
func NewFetcher(timeout time.Duration, userAgent string, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		maxBytes:  maxBodyBytes,
		logger:    logger,
	}
}

// Fetch GETs url. Transport failures (DNS, refused, timeout) are errors.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// One byte past the cap tells a body that fits exactly from one that does not.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading body of %s: %w", url, err)
	}
	truncated := int64(len(body)) > f.maxBytes
	if truncated {
		body = body[:f.maxBytes]
		f.logger.Warn("source body exceeds size cap; truncated", "url", url, "max_bytes", f.maxBytes)
	}

	f.logger.Debug("fetched source", "url", url, "status", resp.StatusCode, "bytes", len(body))
	return &Fetched{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        string(body),
		Truncated:   truncated,
	}, nil
}
