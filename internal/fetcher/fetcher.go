package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jontes-page/avatar-service/internal/config"
	pkglog "github.com/jontes-page/avatar-service/pkg/log"
)

// ErrEmptyBody reports that the origin answered but sent no bytes.
var ErrEmptyBody = fmt.Errorf("origin returned an empty body")

// Fetcher downloads the source image from its origin URL.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string) ([]byte, error)
}

// HTTPFetcher fetches origin images over HTTP with a bounded timeout and a
// descriptive user agent so origin operators can identify the traffic.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// New creates an HTTPFetcher from fetcher config.
func New(cfg config.FetcherConfig) *HTTPFetcher {
	return &HTTPFetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
	}
}

// Fetch downloads sourceURL and returns the raw bytes. There are no retries;
// a failed fetch is terminal for the request that triggered it.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	l := pkglog.Ctx(ctx)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("origin request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read origin body: %w", err)
	}

	l.Debug().
		Str(pkglog.FieldSourceURL, sourceURL).
		Int(pkglog.FieldStatus, resp.StatusCode).
		Float64(pkglog.FieldLatency, float64(time.Since(start).Milliseconds())).
		Msg("origin fetch")

	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	return body, nil
}
