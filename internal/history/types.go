package history

import (
	"context"
	"errors"
	"time"

	"github.com/steelph0enix/unllamabot/internal/llama"
)

// Role tags who authored a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUnknownParameter = errors.New("unknown generation parameter")
)

// User holds one chat user's system prompt and sampling preferences.
type User struct {
	ID           int64
	SystemPrompt string
	Params       llama.GenerationParams
}

// Message is one stored conversation turn. Position orders messages within a
// user's history; the sequence of positions is gapless and starts at zero.
type Message struct {
	ID        int64
	UserID    int64
	Position  int
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Store persists users and their ordered conversation histories.
type Store interface {
	GetOrCreateUser(ctx context.Context, userID int64) (User, error)
	DeleteUser(ctx context.Context, userID int64) error
	SetSystemPrompt(ctx context.Context, userID int64, prompt string) error
	// SetParameter parses and stores one generation parameter, returning the
	// previous and new values as human-readable strings.
	SetParameter(ctx context.Context, userID int64, name, raw string) (oldValue, newValue string, err error)

	HasMessages(ctx context.Context, userID int64) (bool, error)
	AddMessage(ctx context.Context, userID int64, role Role, content string) (Message, error)
	Messages(ctx context.Context, userID int64) ([]Message, error)
	ClearMessages(ctx context.Context, userID int64) error

	Close() error
}
