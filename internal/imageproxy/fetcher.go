package imageproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultUserAgent identifies the proxy to origins; some of them reject
	// empty or library-default agents.
	DefaultUserAgent = "SamhwalinImageProxy/1.0 (+https://samhwalin.org)"

	// DefaultContentType is used when the origin does not send one.
	DefaultContentType = "image/jpeg"

	// DefaultMaxBytes caps how much of an origin body is read.
	DefaultMaxBytes int64 = 20 << 20

	maxRedirects = 10
	acceptHeader = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"
)

// ErrTooLarge is returned when an origin body exceeds the configured cap.
var ErrTooLarge = errors.New("image exceeds size limit")

// UpstreamError reports a non-2xx origin response.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded %d", e.Status)
}

// Image is a fetched origin response.
type Image struct {
	ContentType string
	Data        []byte
}

// Fetcher retrieves image bytes from an origin.
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL) (*Image, error)
}

// HTTPFetcher fetches over HTTP with a fixed User-Agent and a body cap.
// It does not retry.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewHTTPFetcher returns a fetcher using client. Zero values fall back to
// DefaultUserAgent and DefaultMaxBytes.
func NewHTTPFetcher(client *http.Client, userAgent string, maxBytes int64) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &HTTPFetcher{client: client, userAgent: userAgent, maxBytes: maxBytes}
}

// NewHTTPClient builds the origin client. Redirects issued by an origin are
// only followed while they stay on the allow-list.
func NewHTTPClient(timeout time.Duration, rules Rules) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if !rules.Allowed(req.URL.Hostname()) {
				return fmt.Errorf("redirect to %q blocked", req.URL.Hostname())
			}
			return nil
		},
	}
}

// Fetch issues a GET for u. The query is sent exactly as u.RawQuery holds it.
func (f *HTTPFetcher) Fetch(ctx context.Context, u *url.URL) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch origin: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read origin body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, ErrTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = DefaultContentType
	}
	return &Image{ContentType: contentType, Data: data}, nil
}
