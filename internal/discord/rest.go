package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultAPIBase = "https://discord.com/api/v10"

// Rest is a minimal Discord REST client covering the message operations the
// bot needs. The base URL is overridable for tests.
type Rest struct {
	token   string
	baseURL string
	client  *http.Client
}

func NewRest(token string) *Rest {
	return &Rest{
		token:   token,
		baseURL: defaultAPIBase,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURL points the client at a different API root.
func (r *Rest) WithBaseURL(base string) *Rest {
	r.baseURL = base
	return r
}

type createMessagePayload struct {
	Content          string            `json:"content"`
	MessageReference *messageReference `json:"message_reference,omitempty"`
}

type messageReference struct {
	MessageID string `json:"message_id"`
}

// CreateMessage posts content to a channel. A non-empty replyTo makes the
// new message a reply to that message.
func (r *Rest) CreateMessage(ctx context.Context, channelID, content, replyTo string) (Message, error) {
	payload := createMessagePayload{Content: content}
	if replyTo != "" {
		payload.MessageReference = &messageReference{MessageID: replyTo}
	}
	var msg Message
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	if err := r.do(ctx, http.MethodPost, path, payload, &msg); err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// EditMessage replaces the content of an existing message.
func (r *Rest) EditMessage(ctx context.Context, channelID, messageID, content string) (Message, error) {
	var msg Message
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	payload := map[string]string{"content": content}
	if err := r.do(ctx, http.MethodPatch, path, payload, &msg); err != nil {
		return Message{}, fmt.Errorf("edit message: %w", err)
	}
	return msg, nil
}

// DeleteMessage removes a message the bot can delete.
func (r *Rest) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	if err := r.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// TriggerTyping shows the typing indicator in a channel for a few seconds.
func (r *Rest) TriggerTyping(ctx context.Context, channelID string) error {
	path := fmt.Sprintf("/channels/%s/typing", channelID)
	if err := r.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("trigger typing: %w", err)
	}
	return nil
}

func (r *Rest) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+r.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
