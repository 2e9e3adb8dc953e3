package llama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/steelph0enix/unllamabot/internal/chat"
)

const (
	scannerBufferSize  = 64 * 1024
	maxScannerLineSize = 4 * 1024 * 1024
)

// ErrStreamTruncated reports a completion stream that ended before the
// server sent a stop-marked chunk. The bot treats this as a transport
// failure, never as an implicit end of response.
var ErrStreamTruncated = errors.New("completion stream ended without a stop chunk")

// ChunkHandler receives streamed completion fragments. Returning an error
// aborts the stream and propagates the error to the Complete caller.
type ChunkHandler func(chunk chat.Chunk) error

// Client talks to a llama.cpp server over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	// streamClient has no Timeout: http.Client.Timeout also bounds body
	// reads, which would cap every streamed completion at the request
	// timeout. Streams are bounded by the caller's context instead.
	streamClient *http.Client
}

// NewClient builds a client for the llama.cpp server at baseURL. The
// timeout guards non-streaming calls; streaming completions are bounded by
// the caller's context instead.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		streamClient: &http.Client{},
	}
}

// Health reports whether the server is up and has a model loaded.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("llama health: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("llama health status %d", res.StatusCode)
	}
	return nil
}

// Props fetches the served model's properties.
func (c *Client) Props(ctx context.Context) (Props, error) {
	var props Props
	if err := c.getJSON(ctx, "/props", &props); err != nil {
		return Props{}, err
	}
	return props, nil
}

// Tokenize returns the token IDs the served model assigns to text.
func (c *Client) Tokenize(ctx context.Context, text string) ([]int, error) {
	var out struct {
		Tokens []int `json:"tokens"`
	}
	if err := c.postJSON(ctx, "/tokenize", map[string]string{"content": text}, &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

// ApplyTemplate renders role-tagged messages into a model-ready prompt using
// the server-side chat template.
func (c *Client) ApplyTemplate(ctx context.Context, messages []TemplateMessage) (string, error) {
	var out struct {
		Prompt string `json:"prompt"`
	}
	payload := map[string]any{"messages": messages}
	if err := c.postJSON(ctx, "/apply-template", payload, &out); err != nil {
		return "", err
	}
	return out.Prompt, nil
}

// Complete streams a completion for req, invoking onChunk for every text
// increment in arrival order. It returns nil only after the server marked a
// chunk as final; a stream that ends early surfaces ErrStreamTruncated, and
// context cancellation tears the connection down without further chunks.
func (c *Client) Complete(ctx context.Context, req CompletionRequest, onChunk ChunkHandler) error {
	req.Stream = true
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	res, err := c.streamClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send completion request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("llama completion status %d: %s", res.StatusCode, string(body))
	}

	return consumeStream(res.Body, onChunk)
}

func consumeStream(body io.Reader, onChunk ChunkHandler) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerBufferSize), maxScannerLineSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "" || line == "[DONE]" {
			continue
		}

		var payload completionChunk
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			return fmt.Errorf("decode completion chunk: %w", err)
		}
		if err := onChunk(chat.Chunk{Content: payload.Content, Stop: payload.Stop}); err != nil {
			return err
		}
		if payload.Stop {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("completion stream read: %w", err)
	}
	return ErrStreamTruncated
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	return c.doJSON(req, path, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, path, out)
}

func (c *Client) doJSON(req *http.Request, path string, out any) error {
	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("llama %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("llama %s status %d: %s", path, res.StatusCode, string(body))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
