// Package history records completed generations so operators can audit what
// the automation produced and why attempts failed. Image bytes are not
// persisted, only their source URL and size.
package history

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("generation not found")

// Record is one finished generation attempt, successful or not.
type Record struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Outcome   string    `json:"outcome"`
	MimeType  string    `json:"mime_type,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	SizeBytes int       `json:"size_bytes,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	Save(ctx context.Context, record Record) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
