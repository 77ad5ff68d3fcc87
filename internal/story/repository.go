// Package story manages donation stories and their cover images.
package story

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Story is a donation story as stored in the database. A cover comes from
// either an uploaded object (ImageKey) or an external URL (ImageURL); the
// uploaded object wins when both are set.
type Story struct {
	ID        string
	Title     string
	Summary   string
	ImageURL  *string
	ImageKey  *string
	Published bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrNotFound is returned when a story does not exist.
var ErrNotFound = errors.New("story not found")

// Repository handles all story database operations.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const storyColumns = `id, title, summary, image_url, image_key, published, created_at, updated_at`

func scanStory(row pgx.Row) (*Story, error) {
	s := &Story{}
	err := row.Scan(&s.ID, &s.Title, &s.Summary, &s.ImageURL, &s.ImageKey, &s.Published, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// ListPublished returns published stories, newest first.
func (r *Repository) ListPublished(ctx context.Context, limit, offset int) ([]*Story, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+storyColumns+`
		 FROM stories
		 WHERE published
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	var out []*Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	return out, nil
}

// GetByID fetches a story by its UUID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Story, error) {
	s, err := scanStory(r.db.QueryRow(ctx,
		`SELECT `+storyColumns+` FROM stories WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get story by id: %w", err)
	}
	return s, nil
}

// Create inserts a new story and returns the created record.
func (r *Repository) Create(ctx context.Context, title, summary string, imageURL *string, published bool) (*Story, error) {
	s, err := scanStory(r.db.QueryRow(ctx,
		`INSERT INTO stories (title, summary, image_url, published)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+storyColumns,
		title, summary, imageURL, published,
	))
	if err != nil {
		return nil, fmt.Errorf("create story: %w", err)
	}
	return s, nil
}

// SetImageKey points the story's cover at an uploaded object and returns
// the updated record.
func (r *Repository) SetImageKey(ctx context.Context, id, key string) (*Story, error) {
	s, err := scanStory(r.db.QueryRow(ctx,
		`UPDATE stories SET image_key = $2, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+storyColumns,
		id, key,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set story image: %w", err)
	}
	return s, nil
}
