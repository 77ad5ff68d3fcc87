package imageproxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samhwalin/service/internal/imageurl"
)

func loopbackRules() Rules {
	return Rules{Proxy: []imageurl.HostMatcher{imageurl.HostSuffix("127.0.0.1")}}
}

func TestHTTPFetcherSendsQueryVerbatim(t *testing.T) {
	var gotQuery, gotAgent, gotAccept string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAgent = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer origin.Close()

	u, err := url.Parse(origin.URL + "/a.png?X-Amz-Credential=AKIA%2F2024%2Fs3&X-Amz-Signature=ab%2Bcd%2Fe")
	require.NoError(t, err)

	f := NewHTTPFetcher(NewHTTPClient(5*time.Second, loopbackRules()), "", 0)
	img, err := f.Fetch(context.Background(), u)
	require.NoError(t, err)

	assert.Equal(t, "X-Amz-Credential=AKIA%2F2024%2Fs3&X-Amz-Signature=ab%2Bcd%2Fe", gotQuery)
	assert.Equal(t, DefaultUserAgent, gotAgent)
	assert.Equal(t, acceptHeader, gotAccept)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, []byte("png-bytes"), img.Data)
}

func TestHTTPFetcherDefaultsContentType(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	defer origin.Close()

	u, _ := url.Parse(origin.URL + "/photo")
	img, err := NewHTTPFetcher(origin.Client(), "custom-agent", 0).Fetch(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, DefaultContentType, img.ContentType)
}

func TestHTTPFetcherUpstreamStatus(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusForbidden)
	}))
	defer origin.Close()

	u, _ := url.Parse(origin.URL + "/a.png")
	_, err := NewHTTPFetcher(origin.Client(), "", 0).Fetch(context.Background(), u)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusForbidden, upErr.Status)
}

func TestHTTPFetcherSizeCap(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 10)))
	}))
	defer origin.Close()

	u, _ := url.Parse(origin.URL + "/big.jpg")
	_, err := NewHTTPFetcher(origin.Client(), "", 4).Fetch(context.Background(), u)
	assert.ErrorIs(t, err, ErrTooLarge)

	img, err := NewHTTPFetcher(origin.Client(), "", 10).Fetch(context.Background(), u)
	require.NoError(t, err)
	assert.Len(t, img.Data, 10)
}

func TestHTTPClientBlocksRedirectOffAllowList(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://localhost:1/elsewhere.png", http.StatusFound)
	}))
	defer origin.Close()

	u, _ := url.Parse(origin.URL + "/a.png")
	_, err := NewHTTPFetcher(NewHTTPClient(5*time.Second, loopbackRules()), "", 0).Fetch(context.Background(), u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}
