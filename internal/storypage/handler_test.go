package storypage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samhwalin/service/internal/imageurl"
	"github.com/samhwalin/service/internal/proxiedimage"
	"github.com/samhwalin/service/internal/story"
)

type fakeStories map[string]*story.View

func (f fakeStories) Get(_ context.Context, id string) (*story.View, error) {
	v, ok := f[id]
	if !ok {
		return nil, story.ErrNotFound
	}
	return v, nil
}

func (f fakeStories) IsNotFound(err error) bool { return err == story.ErrNotFound }

type site struct {
	srv     *httptest.Server
	objects *proxiedimage.ObjectStore
	posts   atomic.Int32
}

// newSite serves the page routes, the object handles and a proxy endpoint
// from one router, the way cmd/api wires them.
func newSite(t *testing.T, stories fakeStories, pageTTL time.Duration) *site {
	t.Helper()
	s := &site{objects: proxiedimage.NewObjectStore("")}

	r := chi.NewRouter()
	r.Post(imageurl.ProxyPath, func(w http.ResponseWriter, r *http.Request) {
		s.posts.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("cover-bytes"))
	})
	r.Handle(proxiedimage.DefaultObjectPrefix+"*", s.objects)

	s.srv = httptest.NewServer(r)
	t.Cleanup(s.srv.Close)

	loader := proxiedimage.NewLoader(s.srv.Client(), s.srv.URL+imageurl.ProxyPath, s.objects)
	NewHandler(stories, loader, pageTTL).Routes(r)
	return s
}

func (s *site) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := s.srv.Client().Get(s.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

var imgSrc = regexp.MustCompile(`<img class="proxied-image" src="([^"]+)"`)

func longCover() string {
	return "https://prod-files-secure.s3.us-west-2.amazonaws.com/cover.png?X-Amz-Signature=" +
		strings.Repeat("ab%2Bcd", imageurl.LongURLThreshold/6+1)
}

func view(id, raw string) *story.View {
	return &story.View{
		ID:            id,
		Title:         "A warm winter",
		Summary:       "Your postcards reached 40 children.",
		ImageSrc:      imageurl.Wrap(raw),
		ImageDelivery: imageurl.Delivery(raw),
	}
}

func TestLongCoverHandleIsServed(t *testing.T) {
	s := newSite(t, fakeStories{"long": view("long", longCover())}, time.Minute)

	status, body := s.get(t, "/stories/long")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "A warm winter")

	m := imgSrc.FindStringSubmatch(body)
	require.Len(t, m, 2, body)
	handle := m[1]
	assert.True(t, strings.HasPrefix(handle, proxiedimage.DefaultObjectPrefix), handle)
	assert.Equal(t, int32(1), s.posts.Load())

	status, data := s.get(t, handle)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cover-bytes", data)
}

func TestCoverHandleReleasedWhenPageExpires(t *testing.T) {
	s := newSite(t, fakeStories{"long": view("long", longCover())}, 50*time.Millisecond)

	status, body := s.get(t, "/stories/long")
	require.Equal(t, http.StatusOK, status)
	m := imgSrc.FindStringSubmatch(body)
	require.Len(t, m, 2, body)

	require.Eventually(t, func() bool { return s.objects.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	status, _ = s.get(t, m[1])
	assert.Equal(t, http.StatusNotFound, status)
}

func TestShortCoverRendersProxySrc(t *testing.T) {
	raw := "https://images.unsplash.com/photo-1"
	s := newSite(t, fakeStories{"short": view("short", raw)}, time.Minute)

	status, body := s.get(t, "/stories/short")
	require.Equal(t, http.StatusOK, status)

	m := imgSrc.FindStringSubmatch(body)
	require.Len(t, m, 2, body)
	assert.True(t, strings.HasPrefix(m[1], imageurl.ProxyPath+"?url="), m[1])
	assert.Zero(t, s.posts.Load())
	assert.Zero(t, s.objects.Len())
}

func TestStoryWithoutCover(t *testing.T) {
	s := newSite(t, fakeStories{"bare": {ID: "bare", Title: "No cover"}}, time.Minute)

	status, body := s.get(t, "/stories/bare")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "No cover")
	assert.NotContains(t, body, "<figure")
}

func TestStoryPageNotFound(t *testing.T) {
	s := newSite(t, fakeStories{}, time.Minute)

	status, _ := s.get(t, "/stories/missing")
	assert.Equal(t, http.StatusNotFound, status)
}
