// Package proxiedimage renders images whose source may be a raw external URL
// or a proxy-wrapped one. Wrapped URLs at or over imageurl.LongURLThreshold
// are fetched with a POST to the proxy and shown from a local object handle;
// everything else is rendered straight from its src.
package proxiedimage

import (
	"bytes"
	"context"
	"html/template"
	"sync"

	"github.com/samhwalin/service/internal/imageurl"
)

// State is where an Image is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateDirect
	StateLoading
	StateLoaded
	StateErrored
	StateUnmounted
)

var stateNames = [...]string{"idle", "direct", "loading", "loaded", "errored", "unmounted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

var markup = template.Must(template.New("image").Parse(`
{{- define "img" -}}
<img class="proxied-image" src="{{.Src}}" alt="{{.Alt}}" loading="lazy" decoding="async">
{{- end -}}
{{- define "loading" -}}
<div class="proxied-image proxied-image--loading" role="img" aria-label="{{.Alt}}" aria-busy="true"></div>
{{- end -}}
{{- define "fallback" -}}
<div class="proxied-image proxied-image--fallback" role="img" aria-label="{{.Alt}}">
<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 24 24" width="24" height="24" aria-hidden="true"><path fill="currentColor" d="M21 19V5a2 2 0 0 0-2-2H5a2 2 0 0 0-2 2v14a2 2 0 0 0 2 2h14a2 2 0 0 0 2-2zM8.5 13.5l2.5 3 3.5-4.5 4.5 6H5l3.5-4.5z"/></svg>
</div>
{{- end -}}`))

// Image is one rendered image. Its zero value is not usable; call New.
type Image struct {
	loader *Loader
	alt    string

	mu      sync.Mutex
	src     string
	state   State
	handle  string
	gen     uint64
	cancel  context.CancelFunc
	settled chan struct{}
}

// New returns an Idle image for src.
func New(loader *Loader, src, alt string) *Image {
	return &Image{loader: loader, src: src, alt: alt, settled: closedChan()}
}

// Mount starts the image. Only the first call on an Idle image has effect.
func (img *Image) Mount(ctx context.Context) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.state != StateIdle {
		return
	}
	img.start(ctx)
}

// SetSrc switches to src, releasing the current handle and abandoning any
// in-flight load for the previous src.
func (img *Image) SetSrc(ctx context.Context, src string) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.state == StateUnmounted || src == img.src {
		return
	}
	img.teardown()
	img.src = src
	img.state = StateIdle
	img.start(ctx)
}

// Unmount releases everything the image owns. Safe to call repeatedly.
func (img *Image) Unmount() {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.state == StateUnmounted {
		return
	}
	img.teardown()
	img.state = StateUnmounted
}

// State returns the current state.
func (img *Image) State() State {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.state
}

// Handle returns the live object handle, if any.
func (img *Image) Handle() string {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.handle
}

// Settled is closed once the current load has finished or been abandoned.
func (img *Image) Settled() <-chan struct{} {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.settled
}

// Render returns the markup for the current state.
func (img *Image) Render() template.HTML {
	img.mu.Lock()
	defer img.mu.Unlock()

	var name, src string
	switch img.state {
	case StateDirect:
		name, src = "img", img.src
	case StateLoaded:
		name, src = "img", img.handle
	case StateErrored:
		name = "fallback"
	case StateUnmounted:
		return ""
	default:
		name = "loading"
	}

	var buf bytes.Buffer
	data := struct{ Src, Alt string }{Src: src, Alt: img.alt}
	if err := markup.ExecuteTemplate(&buf, name, data); err != nil {
		return ""
	}
	return template.HTML(buf.String())
}

// start must be called with mu held and the image Idle.
func (img *Image) start(ctx context.Context) {
	img.gen++
	original, proxied := imageurl.Unwrap(img.src)
	if !proxied || !imageurl.IsLong(original) {
		img.state = StateDirect
		img.settled = closedChan()
		return
	}

	loadCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	img.state = StateLoading
	img.cancel = cancel
	img.settled = done
	go img.load(loadCtx, img.gen, original, done)
}

func (img *Image) load(ctx context.Context, gen uint64, original string, done chan struct{}) {
	defer close(done)
	data, contentType, err := img.loader.Fetch(ctx, original)

	img.mu.Lock()
	defer img.mu.Unlock()
	// A newer generation means this load was cancelled by SetSrc or Unmount.
	if gen != img.gen {
		return
	}
	img.cancel()
	img.cancel = nil
	if err != nil {
		img.state = StateErrored
		return
	}
	img.handle = img.loader.Store().Create(data, contentType)
	img.state = StateLoaded
}

// teardown must be called with mu held.
func (img *Image) teardown() {
	img.gen++
	if img.cancel != nil {
		img.cancel()
		img.cancel = nil
	}
	if img.handle != "" {
		img.loader.Store().Revoke(img.handle)
		img.handle = ""
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
