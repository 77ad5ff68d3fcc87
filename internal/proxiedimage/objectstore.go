package proxiedimage

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultObjectPrefix is where ObjectStore handles are served from.
const DefaultObjectPrefix = "/api/blob/"

type object struct {
	data        []byte
	contentType string
}

// ObjectStore holds fetched image bytes behind short-lived handle URLs.
// Every handle is owned by the component that created it and must be
// revoked by that component.
type ObjectStore struct {
	prefix string

	mu      sync.RWMutex
	objects map[string]object
}

// NewObjectStore returns an empty store whose handles start with prefix.
func NewObjectStore(prefix string) *ObjectStore {
	if prefix == "" {
		prefix = DefaultObjectPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ObjectStore{prefix: prefix, objects: make(map[string]object)}
}

// Prefix returns the path prefix shared by all handles.
func (s *ObjectStore) Prefix() string {
	return s.prefix
}

// Create stores data and returns its handle URL.
func (s *ObjectStore) Create(data []byte, contentType string) string {
	handle := s.prefix + uuid.NewString()
	s.mu.Lock()
	s.objects[handle] = object{data: data, contentType: contentType}
	s.mu.Unlock()
	return handle
}

// Revoke releases handle. Revoking an unknown or already revoked handle
// does nothing.
func (s *ObjectStore) Revoke(handle string) {
	s.mu.Lock()
	delete(s.objects, handle)
	s.mu.Unlock()
}

// Lookup returns the bytes and content type behind handle.
func (s *ObjectStore) Lookup(handle string) ([]byte, string, bool) {
	s.mu.RLock()
	obj, ok := s.objects[handle]
	s.mu.RUnlock()
	return obj.data, obj.contentType, ok
}

// Len returns the number of live handles.
func (s *ObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// ServeHTTP serves a live handle by its request path.
func (s *ObjectStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, contentType, ok := s.Lookup(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}
