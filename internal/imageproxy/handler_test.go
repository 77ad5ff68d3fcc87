package imageproxy

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samhwalin/service/internal/imageurl"
)

// originStub stands in for the network: it records every outgoing request
// exactly as the HTTP client would put it on the wire.
type originStub struct {
	mu          sync.Mutex
	requests    []*http.Request
	status      int
	contentType string
	body        []byte
	err         error
}

func (o *originStub) RoundTrip(req *http.Request) (*http.Response, error) {
	o.mu.Lock()
	o.requests = append(o.requests, req)
	o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	header := http.Header{}
	if o.contentType != "" {
		header.Set("Content-Type", o.contentType)
	}
	return &http.Response{
		StatusCode: o.status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(o.body)),
		Request:    req,
	}, nil
}

func newTestRouter(origin *originStub) http.Handler {
	rules := DefaultRules()
	client := NewHTTPClient(5*time.Second, rules)
	client.Transport = origin
	svc := NewService(rules, NewHTTPFetcher(client, "", 0), nil, 0)

	r := chi.NewRouter()
	NewHandler(svc).Routes(r)
	return r
}

func okOrigin() *originStub {
	return &originStub{status: http.StatusOK, contentType: "image/jpeg", body: []byte{0xff, 0xd8, 0xff, 0xe0}}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, imageurl.ProxyPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetProxiesAllowListedImage(t *testing.T) {
	origin := okOrigin()
	rec := get(t, newTestRouter(origin), "/api/image?url=https%3A%2F%2Fimages.unsplash.com%2Fphoto-1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, CacheControl, rec.Header().Get("Cache-Control"))
	assert.Equal(t, CDNCacheControl, rec.Header().Get("CDN-Cache-Control"))
	assert.Equal(t, CDNCacheControl, rec.Header().Get("Vercel-CDN-Cache-Control"))
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
	assert.Equal(t, origin.body, rec.Body.Bytes())

	require.Len(t, origin.requests, 1)
	assert.Equal(t, "https://images.unsplash.com/photo-1", origin.requests[0].URL.String())
	assert.Equal(t, DefaultUserAgent, origin.requests[0].Header.Get("User-Agent"))
}

func TestGetPassesOriginContentType(t *testing.T) {
	origin := okOrigin()
	origin.contentType = "image/webp"
	rec := get(t, newTestRouter(origin), "/api/image?url="+url.QueryEscape("https://images.unsplash.com/photo-2"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
}

func TestGetDefaultsContentType(t *testing.T) {
	origin := okOrigin()
	origin.contentType = ""
	rec := get(t, newTestRouter(origin), "/api/image?url="+url.QueryEscape("https://images.unsplash.com/photo-2"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
}

func TestGetWithoutURL(t *testing.T) {
	origin := okOrigin()
	rec := get(t, newTestRouter(origin), "/api/image")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"URL is required"}`, rec.Body.String())
	assert.Empty(t, origin.requests)
}

func TestGetKeepsMalformedEscapes(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		body   string
		origin string
	}{
		{
			name:   "stray percent",
			query:  "url=https://images.unsplash.com/100%-cover.png",
			body:   `{"url":"https://images.unsplash.com/100%-cover.png"}`,
			origin: "https://images.unsplash.com/100%25-cover.png",
		},
		{
			name:   "bad escape after good ones",
			query:  "url=https%3A%2F%2Fimages.unsplash.com%2Fphoto%ZZ",
			body:   `{"url":"https://images.unsplash.com/photo%ZZ"}`,
			origin: "https://images.unsplash.com/photo%25ZZ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viaGet := okOrigin()
			rec := get(t, newTestRouter(viaGet), imageurl.ProxyPath+"?"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Len(t, viaGet.requests, 1)
			assert.Equal(t, tt.origin, viaGet.requests[0].URL.String())

			viaPost := okOrigin()
			rec = post(t, newTestRouter(viaPost), tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Len(t, viaPost.requests, 1)
			assert.Equal(t, tt.origin, viaPost.requests[0].URL.String())
		})
	}
}

func TestPostInvalidURL(t *testing.T) {
	origin := okOrigin()
	rec := post(t, newTestRouter(origin), `{"url":"not a url"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid URL"}`, rec.Body.String())
	assert.Empty(t, origin.requests)
}

func TestPostBodyErrors(t *testing.T) {
	h := newTestRouter(okOrigin())

	rec := post(t, h, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"URL is required"}`, rec.Body.String())

	rec = post(t, h, `{"url":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"URL is required"}`, rec.Body.String())

	rec = post(t, h, `{"url":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid request body"}`, rec.Body.String())
}

func TestGetPreservesSignedQuery(t *testing.T) {
	origin := okOrigin()
	rec := get(t, newTestRouter(origin), "/api/image?url="+url.QueryEscape(signedS3))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, origin.requests, 1)
	sent := origin.requests[0].URL.RawQuery
	assert.Contains(t, sent, "X-Amz-Security-Token=IQo%2Bab%2Fcd==")
	assert.Contains(t, sent, "X-Amz-Credential=AKIA%2F20240101%2Fus-west-2%2Fs3%2Faws4_request")
	assert.Equal(t, "/ws/a.png", origin.requests[0].URL.Path)
}

func TestPostLongSignedURL(t *testing.T) {
	origin := okOrigin()
	long := signedS3 + "&X-Amz-Pad=" + strings.Repeat("A%2BB", 400)
	require.True(t, imageurl.IsLong(long))

	rec := post(t, newTestRouter(origin), `{"url":"`+long+`"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, origin.requests, 1)
	assert.Contains(t, origin.requests[0].URL.RawQuery, "X-Amz-Pad=A%2BBA%2BB")
}

func TestRedirectNeverFetches(t *testing.T) {
	origin := okOrigin()
	h := newTestRouter(origin)

	rec := get(t, h, "/api/image?url="+url.QueryEscape("https://example.com/a.png"))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/a.png", rec.Header().Get("Location"))

	rec = post(t, h, `{"url":"https%3A%2F%2Fexample.com%2Fb.png"}`)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/b.png", rec.Header().Get("Location"))

	assert.Empty(t, origin.requests)
}

func TestUpstreamStatusPassthrough(t *testing.T) {
	origin := &originStub{status: http.StatusNotFound}
	rec := get(t, newTestRouter(origin), "/api/image?url="+url.QueryEscape("https://images.unsplash.com/gone"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch image","status":404}`, rec.Body.String())
}

func TestNetworkFailureIs500(t *testing.T) {
	origin := &originStub{err: errors.New("connection reset")}
	rec := get(t, newTestRouter(origin), "/api/image?url="+url.QueryEscape("https://images.unsplash.com/photo-1"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to proxy image"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestRepeatedGetIsIdempotent(t *testing.T) {
	origin := okOrigin()
	h := newTestRouter(origin)
	target := "/api/image?url=" + url.QueryEscape("https://images.unsplash.com/photo-1")

	first := get(t, h, target)
	second := get(t, h, target)

	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.Equal(t, first.Header(), second.Header())
}
