package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists users and conversations in PostgreSQL.
type PostgresStore struct {
	pool                *pgxpool.Pool
	defaultSystemPrompt string
}

func NewPostgresStore(ctx context.Context, databaseURL, defaultSystemPrompt string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, defaultSystemPrompt: defaultSystemPrompt}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			system_prompt TEXT NOT NULL,
			temperature DOUBLE PRECISION,
			dynatemp_range DOUBLE PRECISION,
			dynatemp_exponent DOUBLE PRECISION,
			top_k INTEGER,
			top_p DOUBLE PRECISION,
			min_p DOUBLE PRECISION,
			n_predict INTEGER,
			n_keep INTEGER,
			typical_p DOUBLE PRECISION,
			repeat_penalty DOUBLE PRECISION,
			repeat_last_n INTEGER,
			presence_penalty DOUBLE PRECISION,
			frequency_penalty DOUBLE PRECISION,
			mirostat INTEGER,
			mirostat_tau DOUBLE PRECISION,
			mirostat_eta DOUBLE PRECISION,
			seed BIGINT
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, position)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_position ON messages (user_id, position);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const userColumns = `system_prompt, temperature, dynatemp_range, dynatemp_exponent, top_k, top_p,
	min_p, n_predict, n_keep, typical_p, repeat_penalty, repeat_last_n, presence_penalty,
	frequency_penalty, mirostat, mirostat_tau, mirostat_eta, seed`

func (s *PostgresStore) GetOrCreateUser(ctx context.Context, userID int64) (User, error) {
	u, err := s.getUser(ctx, userID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (id, system_prompt) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		userID, s.defaultSystemPrompt,
	)
	if err != nil {
		return User{}, fmt.Errorf("create user %d: %w", userID, err)
	}
	return s.getUser(ctx, userID)
}

func (s *PostgresStore) getUser(ctx context.Context, userID int64) (User, error) {
	u := User{ID: userID}
	p := &u.Params
	err := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID,
	).Scan(
		&u.SystemPrompt, &p.Temperature, &p.DynatempRange, &p.DynatempExponent, &p.TopK, &p.TopP,
		&p.MinP, &p.NPredict, &p.NKeep, &p.TypicalP, &p.RepeatPenalty, &p.RepeatLastN, &p.PresencePenalty,
		&p.FrequencyPenalty, &p.Mirostat, &p.MirostatTau, &p.MirostatEta, &p.Seed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %d: %w", userID, err)
	}
	return u, nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) SetSystemPrompt(ctx context.Context, userID int64, prompt string) error {
	if _, err := s.GetOrCreateUser(ctx, userID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `UPDATE users SET system_prompt = $1 WHERE id = $2`, prompt, userID)
	if err != nil {
		return fmt.Errorf("set system prompt for %d: %w", userID, err)
	}
	// Keep an already-started conversation consistent with the new prompt.
	_, err = s.pool.Exec(ctx,
		`UPDATE messages SET content = $1 WHERE user_id = $2 AND role = $3`,
		prompt, userID, string(RoleSystem),
	)
	if err != nil {
		return fmt.Errorf("update system messages for %d: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) SetParameter(ctx context.Context, userID int64, name, raw string) (string, string, error) {
	u, err := s.GetOrCreateUser(ctx, userID)
	if err != nil {
		return "", "", err
	}
	oldValue, newValue, err := applyParameter(&u.Params, name, raw)
	if err != nil {
		return "", "", err
	}

	p := u.Params
	_, err = s.pool.Exec(ctx,
		`UPDATE users SET temperature = $1, dynatemp_range = $2, dynatemp_exponent = $3, top_k = $4,
			top_p = $5, min_p = $6, n_predict = $7, n_keep = $8, typical_p = $9, repeat_penalty = $10,
			repeat_last_n = $11, presence_penalty = $12, frequency_penalty = $13, mirostat = $14,
			mirostat_tau = $15, mirostat_eta = $16, seed = $17
		 WHERE id = $18`,
		p.Temperature, p.DynatempRange, p.DynatempExponent, p.TopK, p.TopP, p.MinP, p.NPredict,
		p.NKeep, p.TypicalP, p.RepeatPenalty, p.RepeatLastN, p.PresencePenalty, p.FrequencyPenalty,
		p.Mirostat, p.MirostatTau, p.MirostatEta, p.Seed, userID,
	)
	if err != nil {
		return "", "", fmt.Errorf("store parameter %s for %d: %w", name, userID, err)
	}
	return oldValue, newValue, nil
}

func (s *PostgresStore) HasMessages(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE user_id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check messages for %d: %w", userID, err)
	}
	return exists, nil
}

func (s *PostgresStore) AddMessage(ctx context.Context, userID int64, role Role, content string) (Message, error) {
	if _, err := s.GetOrCreateUser(ctx, userID); err != nil {
		return Message{}, err
	}
	msg := Message{UserID: userID, Role: role, Content: content}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (user_id, position, role, content)
		 VALUES ($1, (SELECT COALESCE(MAX(position) + 1, 0) FROM messages WHERE user_id = $1), $2, $3)
		 RETURNING id, position, created_at`,
		userID, string(role), content,
	).Scan(&msg.ID, &msg.Position, &msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("add message for %d: %w", userID, err)
	}
	return msg, nil
}

func (s *PostgresStore) Messages(ctx context.Context, userID int64) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, position, role, content, created_at
		 FROM messages WHERE user_id = $1 ORDER BY position ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages for %d: %w", userID, err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m := Message{UserID: userID}
		var role string
		if err := rows.Scan(&m.ID, &m.Position, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = Role(role)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) ClearMessages(ctx context.Context, userID int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear messages for %d: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
