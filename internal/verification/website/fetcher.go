package website

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultFetchTimeout = 10 * time.Second
	defaultMaxBodyBytes = 1 << 20
	maxRedirects        = 5
	userAgent           = "civic-verifier/1.0 (+https://civic.example/verify)"
)

var errInsecureRedirect = errors.New("redirect left https")

// HTTPFetcher retrieves pages over HTTPS with a bounded timeout. Redirects
// must stay on https. Bodies beyond the size cap are truncated, which is
// enough since only the head is read.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

type FetcherOption func(*fetcherConfig)

type fetcherConfig struct {
	transport http.RoundTripper
	maxBytes  int64
}

// WithTransport sets the base transport. It is still wrapped for tracing.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(c *fetcherConfig) {
		c.transport = rt
	}
}

func WithMaxBodyBytes(n int64) FetcherOption {
	return func(c *fetcherConfig) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

func NewHTTPFetcher(timeout time.Duration, opts ...FetcherOption) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	cfg := fetcherConfig{transport: http.DefaultTransport, maxBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(cfg.transport),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				if req.URL.Scheme != "https" {
					return errInsecureRedirect
				}
				return nil
			},
		},
		maxBytes: cfg.maxBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return nil, fmt.Errorf("refusing to fetch non-https url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", u.Host, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u.Host, err)
	}
	return body, nil
}
