package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// WebBackend reads model output over plain HTTP(S). It is also the
// fallback transport for bucket sources when the caller forces HTTP.
type WebBackend struct {
	client *http.Client
	base   string // scheme://host/, trailing slash
}

// NewWeb builds a web backend from a full URL. Only the scheme and host
// are kept; keys are resolved against the server root, matching the key
// patterns in the product registry.
func NewWeb(source string) (*WebBackend, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse source url %s: %w", source, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("source url %s has no host", source)
	}
	return &WebBackend{
		client: http.DefaultClient,
		base:   u.Scheme + "://" + u.Host + "/",
	}, nil
}

// Download fetches base+key, sending a Range header when br is set.
func (b *WebBackend) Download(ctx context.Context, key string, br *ByteRange) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.base+key, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", key, err)
	}
	if br != nil {
		req.Header.Set("Range", br.Header())
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", b.base+key, err)
	}
	defer resp.Body.Close()

	if err := classifyHTTP(resp.StatusCode, b.base+key); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", b.base+key, err)
	}
	return data, nil
}

// Size issues a HEAD request and reads Content-Length.
func (b *WebBackend) Size(ctx context.Context, key string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.base+key, nil)
	if err != nil {
		return 0, fmt.Errorf("build request for %s: %w", key, err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("head %s: %w", b.base+key, err)
	}
	defer resp.Body.Close()

	if err := classifyHTTP(resp.StatusCode, b.base+key); err != nil {
		return 0, err
	}

	size, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("no content length for %s: %w", b.base+key, err)
	}
	return size, nil
}

// ListMatches is not supported over plain HTTP; directory listings are
// not uniform enough across servers to rely on.
func (b *WebBackend) ListMatches(ctx context.Context, prefix, pattern string) ([]string, error) {
	return nil, fmt.Errorf("listing not supported by the web backend")
}

// CanSubset is true: every server in the registry honors Range requests.
func (b *WebBackend) CanSubset() bool { return true }

// BaseURL returns the server root.
func (b *WebBackend) BaseURL() string { return b.base }

// Close is a no-op for the shared HTTP client.
func (b *WebBackend) Close() error { return nil }

// classifyHTTP maps a 404 to ErrNotFound and any other non-success
// status to a fatal error.
func classifyHTTP(status int, url string) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("url %s: %w", url, ErrNotFound)
	case status >= 200 && status < 300:
		return nil
	default:
		return fmt.Errorf("url %s: unexpected status %d %s", url, status,
			strings.TrimSpace(http.StatusText(status)))
	}
}
