package archive

import (
	"context"
	"fmt"
	"strings"
)

// NewStore picks a backend from the archive url: empty keeps turns in
// memory, postgres:// uses PostgreSQL, sqlite:// or file: uses a local file.
func NewStore(ctx context.Context, rawURL string) (Store, error) {
	rawURL = strings.TrimSpace(rawURL)
	switch {
	case rawURL == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return NewPostgresStore(ctx, rawURL)
	case strings.HasPrefix(rawURL, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(rawURL, "sqlite://"))
	case strings.HasPrefix(rawURL, "file:"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(rawURL, "file:"))
	default:
		return nil, fmt.Errorf("unsupported archive url %q", rawURL)
	}
}
