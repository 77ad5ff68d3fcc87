package proxiedimage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/samhwalin/service/internal/imageproxy"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError reports a non-2xx response from the proxy endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("image proxy responded %d", e.Code)
}

// Loader fetches long image URLs through the proxy's POST path and keeps
// the resulting bytes in an ObjectStore.
type Loader struct {
	client   Doer
	endpoint string
	store    *ObjectStore
	maxBytes int64
}

// NewLoader returns a Loader posting to endpoint, the absolute URL of the
// proxy endpoint.
func NewLoader(client Doer, endpoint string, store *ObjectStore) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client, endpoint: endpoint, store: store, maxBytes: imageproxy.DefaultMaxBytes}
}

// Store returns the ObjectStore handles are created in.
func (l *Loader) Store() *ObjectStore {
	return l.store
}

// Fetch posts original to the proxy and returns the image bytes. A body
// over the proxy's size cap is imageproxy.ErrTooLarge.
func (l *Loader) Fetch(ctx context.Context, original string) ([]byte, string, error) {
	body, err := json.Marshal(struct {
		URL string `json:"url"`
	}{URL: original})
	if err != nil {
		return nil, "", fmt.Errorf("encode proxy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("build proxy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("post to image proxy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &StatusError{Code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read proxied image: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, "", imageproxy.ErrTooLarge
	}
	return data, resp.Header.Get("Content-Type"), nil
}
