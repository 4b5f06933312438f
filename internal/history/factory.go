package history

import (
	"context"
	"strings"
)

// NewStore selects the backend from the database URL; empty means in-process.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
