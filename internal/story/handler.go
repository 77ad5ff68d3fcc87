package story

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/samhwalin/service/internal/response"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxUploadBytes  = 10 << 20
)

// Handler holds HTTP handlers for story endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new story Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the public read endpoints and, behind admin, the write ones.
func (h *Handler) Routes(r chi.Router, admin func(http.Handler) http.Handler) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Group(func(r chi.Router) {
		r.Use(admin)
		r.Post("/", h.Create)
		r.Post("/{id}/image", h.UploadImage)
	})
}

type createRequest struct {
	Title     string `json:"title"     example:"A warm winter for Mina"`
	Summary   string `json:"summary"   example:"Your postcards reached 40 children this month."`
	ImageURL  string `json:"imageUrl"  example:"https://images.unsplash.com/photo-1"`
	Published bool   `json:"published" example:"true"`
}

// List godoc
//
//	@Summary		List stories
//	@Description	Published stories, newest first. imageSrc is already routed through the image proxy.
//	@Tags			stories
//	@Produce		json
//	@Param			limit	query		int	false	"Page size (max 100)"
//	@Param			offset	query		int	false	"Offset"
//	@Success		200		{object}	response.Envelope{data=[]View}
//	@Failure		500		{object}	response.Envelope
//	@Router			/v1/stories [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	views, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("list stories")
		response.InternalError(w)
		return
	}
	response.OK(w, views)
}

// Get godoc
//
//	@Summary		Get story
//	@Tags			stories
//	@Produce		json
//	@Param			id	path		string	true	"Story ID"
//	@Success		200	{object}	response.Envelope{data=View}
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/v1/stories/{id} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if h.svc.IsNotFound(err) {
			response.NotFound(w, "story not found")
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("get story")
		response.InternalError(w)
		return
	}
	response.OK(w, v)
}

// Create godoc
//
//	@Summary		Create story
//	@Tags			stories
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		createRequest	true	"Story"
//	@Success		201		{object}	response.Envelope{data=View}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/v1/stories [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		response.BadRequest(w, "title is required")
		return
	}
	if req.ImageURL != "" && !strings.HasPrefix(req.ImageURL, "https://") && !strings.HasPrefix(req.ImageURL, "http://") {
		response.BadRequest(w, "imageUrl must be an absolute http(s) URL")
		return
	}

	v, err := h.svc.Create(r.Context(), req.Title, req.Summary, req.ImageURL, req.Published)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("create story")
		response.InternalError(w)
		return
	}
	response.Created(w, v)
}

// UploadImage godoc
//
//	@Summary		Upload story cover
//	@Description	Stores the image in object storage. The story is then served with a presigned, proxied cover URL.
//	@Tags			stories
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path		string	true	"Story ID"
//	@Param			image	formData	file	true	"Cover image"
//	@Success		200		{object}	response.Envelope{data=View}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/v1/stories/{id}/image [post]
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		response.BadRequest(w, "image must be a multipart upload under 10MB")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		response.BadRequest(w, "image field is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		response.BadRequest(w, "file must be an image")
		return
	}

	v, err := h.svc.AttachImage(r.Context(), chi.URLParam(r, "id"), file, header.Size, contentType, header.Filename)
	if err != nil {
		if h.svc.IsNotFound(err) {
			response.NotFound(w, "story not found")
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("upload story image")
		response.InternalError(w)
		return
	}
	response.OK(w, v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
