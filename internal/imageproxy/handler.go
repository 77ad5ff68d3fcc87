package imageproxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/samhwalin/service/internal/imageurl"
	"github.com/samhwalin/service/internal/response"
)

const (
	// CacheControl keeps images for a week in browsers and a month at the CDN.
	CacheControl    = "public, max-age=604800, s-maxage=2592000"
	CDNCacheControl = "public, max-age=2592000"

	maxBodyBytes = 64 << 10
)

const (
	msgURLRequired = "URL is required"
	msgInvalidURL  = "Invalid URL"
	msgInvalidBody = "Invalid request body"
	msgFetchFailed = "Failed to fetch image"
	msgProxyFailed = "Failed to proxy image"
)

// Handler exposes the proxy over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a new image proxy Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts GET and POST on imageurl.ProxyPath.
func (h *Handler) Routes(r chi.Router) {
	r.Get(imageurl.ProxyPath, h.HandleGet)
	r.Post(imageurl.ProxyPath, h.HandlePost)
}

type proxyRequest struct {
	URL string `json:"url" example:"https://images.unsplash.com/photo-1"`
}

// HandleGet godoc
//
//	@Summary		Proxy an image
//	@Description	Fetches an allow-listed image and re-serves it with long-lived cache headers. Other hosts are redirected to.
//	@Tags			images
//	@Produce		image/jpeg,json
//	@Param			url	query		string	true	"Percent-encoded image URL"
//	@Success		200	{file}		binary
//	@Success		302
//	@Failure		400	{object}	response.ErrorBody
//	@Failure		500	{object}	response.ErrorBody
//	@Router			/image [get]
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	raw, _ := imageurl.QueryValue(r.URL.RawQuery, "url")
	h.serve(w, r, raw)
}

// HandlePost godoc
//
//	@Summary		Proxy an image (long URL)
//	@Description	Same contract as GET, with the URL in the body so it is not limited by query string length.
//	@Tags			images
//	@Accept			json
//	@Produce		image/jpeg,json
//	@Param			request	body		proxyRequest	true	"Image URL"
//	@Success		200		{file}		binary
//	@Success		302
//	@Failure		400		{object}	response.ErrorBody
//	@Failure		500		{object}	response.ErrorBody
//	@Router			/image [post]
func (h *Handler) HandlePost(w http.ResponseWriter, r *http.Request) {
	var req proxyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			response.Problem(w, http.StatusBadRequest, msgURLRequired)
			return
		}
		response.Problem(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	h.serve(w, r, req.URL)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, raw string) {
	logger := zerolog.Ctx(r.Context())

	if strings.TrimSpace(raw) == "" {
		response.Problem(w, http.StatusBadRequest, msgURLRequired)
		return
	}

	decision, err := h.svc.Resolve(raw)
	if err != nil {
		response.Problem(w, http.StatusBadRequest, msgInvalidURL)
		return
	}

	if decision.Action == ActionRedirect {
		http.Redirect(w, r, decision.URL.String(), http.StatusFound)
		return
	}

	img, err := h.svc.Fetch(r.Context(), decision.URL)
	if err != nil {
		var upErr *UpstreamError
		if errors.As(err, &upErr) {
			logger.Warn().Str("host", decision.URL.Host).Int("status", upErr.Status).Msg("origin refused image")
			response.UpstreamProblem(w, upErr.Status, msgFetchFailed)
			return
		}
		logger.Error().Err(err).Str("host", decision.URL.Host).Msg("image proxy failed")
		response.Problem(w, http.StatusInternalServerError, msgProxyFailed)
		return
	}

	header := w.Header()
	header.Set("Content-Type", img.ContentType)
	header.Set("Content-Length", strconv.Itoa(len(img.Data)))
	header.Set("Cache-Control", CacheControl)
	header.Set("CDN-Cache-Control", CDNCacheControl)
	header.Set("Vercel-CDN-Cache-Control", CDNCacheControl)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Data); err != nil {
		logger.Debug().Err(err).Msg("client went away while writing image")
	}
}
