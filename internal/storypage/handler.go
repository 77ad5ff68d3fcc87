// Package storypage serves server-rendered story pages. Covers go through
// proxiedimage, so long proxied URLs are fetched by POST and shown from an
// object handle that lives as long as the page.
package storypage

import (
	"bytes"
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/samhwalin/service/internal/proxiedimage"
	"github.com/samhwalin/service/internal/story"
)

// DefaultPageTTL is how long a rendered page keeps its cover handle alive.
const DefaultPageTTL = 10 * time.Minute

// Stories is the read side of the story service.
type Stories interface {
	Get(ctx context.Context, id string) (*story.View, error)
	IsNotFound(err error) bool
}

var page = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="ko"><head><meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}} | Samhwalin</title>
</head><body>
<article class="story">
{{- if .Cover}}
<figure class="story__cover">{{.Cover}}</figure>
{{- end}}
<h1>{{.Title}}</h1>
<p>{{.Summary}}</p>
</article>
</body></html>
`))

type pageData struct {
	Title   string
	Summary string
	Cover   template.HTML
}

// Handler renders story pages.
type Handler struct {
	stories Stories
	loader  *proxiedimage.Loader
	pageTTL time.Duration
}

// NewHandler creates a new story page Handler.
func NewHandler(stories Stories, loader *proxiedimage.Loader, pageTTL time.Duration) *Handler {
	if pageTTL <= 0 {
		pageTTL = DefaultPageTTL
	}
	return &Handler{stories: stories, loader: loader, pageTTL: pageTTL}
}

// Routes mounts the page routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/stories/{id}", h.Story)
}

// Story renders one story with its cover.
func (h *Handler) Story(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	v, err := h.stories.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if h.stories.IsNotFound(err) {
			http.NotFound(w, r)
			return
		}
		logger.Error().Err(err).Msg("load story page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	data := pageData{Title: v.Title, Summary: v.Summary}
	if v.ImageSrc != "" {
		cover, ok := h.cover(r.Context(), v)
		if !ok {
			return
		}
		data.Cover = cover
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		logger.Error().Err(err).Msg("render story page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

// cover mounts the story image and waits for it to settle. A loaded handle
// is released when the page expires; anything else is released at once.
// It reports false when the client went away first.
func (h *Handler) cover(ctx context.Context, v *story.View) (template.HTML, bool) {
	img := proxiedimage.New(h.loader, v.ImageSrc, v.Title)
	img.Mount(ctx)

	select {
	case <-img.Settled():
	case <-ctx.Done():
		img.Unmount()
		return "", false
	}

	html := img.Render()
	if img.State() == proxiedimage.StateLoaded {
		time.AfterFunc(h.pageTTL, img.Unmount)
	} else {
		img.Unmount()
	}
	return html, true
}
