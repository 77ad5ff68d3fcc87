package story

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/samhwalin/service/internal/imageurl"
	"github.com/samhwalin/service/internal/storage"
)

// Store is the persistence the service needs. *Repository implements it.
type Store interface {
	ListPublished(ctx context.Context, limit, offset int) ([]*Story, error)
	GetByID(ctx context.Context, id string) (*Story, error)
	Create(ctx context.Context, title, summary string, imageURL *string, published bool) (*Story, error)
	SetImageKey(ctx context.Context, id, key string) (*Story, error)
}

// View is a story as served to page renderers. ImageSrc is already wrapped
// for the image proxy; ImageDelivery tells the renderer whether that src
// must be fetched with POST.
type View struct {
	ID            string                  `json:"id"`
	Title         string                  `json:"title"`
	Summary       string                  `json:"summary"`
	ImageSrc      string                  `json:"imageSrc,omitempty"`
	ImageDelivery imageurl.DeliveryMethod `json:"imageDelivery,omitempty"`
	Published     bool                    `json:"published"`
	CreatedAt     time.Time               `json:"createdAt"`
	UpdatedAt     time.Time               `json:"updatedAt"`
}

// Service contains the business logic for stories.
type Service struct {
	store      Store
	objects    storage.Storage
	presignTTL time.Duration
}

// NewService creates a new story Service.
func NewService(store Store, objects storage.Storage, presignTTL time.Duration) *Service {
	return &Service{store: store, objects: objects, presignTTL: presignTTL}
}

// List returns a page of published stories.
func (s *Service) List(ctx context.Context, limit, offset int) ([]View, error) {
	stories, err := s.store.ListPublished(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(stories))
	for _, st := range stories {
		views = append(views, s.view(ctx, st))
	}
	return views, nil
}

// Get returns one story by id.
func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	st, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	v := s.view(ctx, st)
	return &v, nil
}

// Create adds a story. imageURL may be empty.
func (s *Service) Create(ctx context.Context, title, summary, imageURL string, published bool) (*View, error) {
	var img *string
	if imageURL != "" {
		img = &imageURL
	}
	st, err := s.store.Create(ctx, title, summary, img, published)
	if err != nil {
		return nil, err
	}
	v := s.view(ctx, st)
	return &v, nil
}

// AttachImage uploads a cover for the story and points the story at it.
// The previous uploaded cover, if any, is deleted afterwards.
func (s *Service) AttachImage(ctx context.Context, id string, r io.Reader, size int64, contentType, filename string) (*View, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	key := path.Join("stories", id, uuid.NewString()+path.Ext(filename))
	if err := s.objects.Upload(ctx, key, r, size, contentType); err != nil {
		return nil, fmt.Errorf("upload story image: %w", err)
	}

	updated, err := s.store.SetImageKey(ctx, id, key)
	if err != nil {
		return nil, err
	}

	if current.ImageKey != nil && *current.ImageKey != key {
		if err := s.objects.Delete(ctx, *current.ImageKey); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", *current.ImageKey).Msg("failed to delete replaced story image")
		}
	}

	v := s.view(ctx, updated)
	return &v, nil
}

// IsNotFound returns true when the error indicates a story was not found.
func (s *Service) IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func (s *Service) view(ctx context.Context, st *Story) View {
	v := View{
		ID:        st.ID,
		Title:     st.Title,
		Summary:   st.Summary,
		Published: st.Published,
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
	}

	original := s.coverURL(ctx, st)
	if original != "" {
		v.ImageSrc = imageurl.Wrap(original)
		v.ImageDelivery = imageurl.Delivery(original)
	}
	return v
}

// coverURL returns the raw cover URL, presigning uploaded objects. A story
// whose object cannot be presigned is served without a cover.
func (s *Service) coverURL(ctx context.Context, st *Story) string {
	if st.ImageKey != nil && *st.ImageKey != "" {
		u, err := s.objects.PresignedURL(ctx, *st.ImageKey, s.presignTTL)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("story", st.ID).Msg("failed to presign story image")
			return ""
		}
		return u
	}
	if st.ImageURL != nil {
		return *st.ImageURL
	}
	return ""
}
