package history

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when a database URL is
// configured, otherwise an in-memory one (history lost on restart).
func NewStore(ctx context.Context, databaseURL, defaultSystemPrompt string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(defaultSystemPrompt), nil
	}
	return NewPostgresStore(ctx, databaseURL, defaultSystemPrompt)
}
