package history

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps conversations in process memory. Used for tests and
// for running the bot without a database (history is lost on restart).
type InMemoryStore struct {
	mu                  sync.RWMutex
	defaultSystemPrompt string
	users               map[int64]*memoryUser
	nextMessageID       int64
}

type memoryUser struct {
	user     User
	messages []Message
}

func NewInMemoryStore(defaultSystemPrompt string) *InMemoryStore {
	return &InMemoryStore{
		defaultSystemPrompt: defaultSystemPrompt,
		users:               make(map[int64]*memoryUser),
	}
}

func (s *InMemoryStore) GetOrCreateUser(_ context.Context, userID int64) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(userID).user, nil
}

func (s *InMemoryStore) getOrCreateLocked(userID int64) *memoryUser {
	if u, ok := s.users[userID]; ok {
		return u
	}
	u := &memoryUser{user: User{ID: userID, SystemPrompt: s.defaultSystemPrompt}}
	s.users[userID] = u
	return u
}

func (s *InMemoryStore) DeleteUser(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrUserNotFound
	}
	delete(s.users, userID)
	return nil
}

func (s *InMemoryStore) SetSystemPrompt(_ context.Context, userID int64, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.getOrCreateLocked(userID)
	u.user.SystemPrompt = prompt
	// Keep an already-started conversation consistent with the new prompt.
	for i := range u.messages {
		if u.messages[i].Role == RoleSystem {
			u.messages[i].Content = prompt
		}
	}
	return nil
}

func (s *InMemoryStore) SetParameter(_ context.Context, userID int64, name, raw string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.getOrCreateLocked(userID)
	return applyParameter(&u.user.Params, name, raw)
}

func (s *InMemoryStore) HasMessages(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	return ok && len(u.messages) > 0, nil
}

func (s *InMemoryStore) AddMessage(_ context.Context, userID int64, role Role, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.getOrCreateLocked(userID)
	s.nextMessageID++
	msg := Message{
		ID:        s.nextMessageID,
		UserID:    userID,
		Position:  len(u.messages),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	u.messages = append(u.messages, msg)
	return msg, nil
}

func (s *InMemoryStore) Messages(_ context.Context, userID int64) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	out := make([]Message, len(u.messages))
	copy(out, u.messages)
	return out, nil
}

func (s *InMemoryStore) ClearMessages(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.messages = nil
	}
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
