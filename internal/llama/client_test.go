package llama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/steelph0enix/unllamabot/internal/chat"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
			flusher.Flush()
		}
	}))
}

func TestCompleteStreamsChunksInOrder(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"content":"Hello ","stop":false}`,
		`data: {"content":"world","stop":false}`,
		`data: {"content":"!","stop":true}`,
	})
	defer srv.Close()

	var got []chat.Chunk
	client := NewClient(srv.URL, time.Second)
	err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"}, func(c chat.Chunk) error {
		got = append(got, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	want := []chat.Chunk{{Content: "Hello "}, {Content: "world"}, {Content: "!", Stop: true}}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestCompleteOutlivesRequestTimeout(t *testing.T) {
	// Generations routinely run longer than the request timeout that guards
	// the quick non-streaming calls; the stream must not be cut off by it.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"content\":\"part \",\"stop\":false}\n\n")
		flusher.Flush()
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, "data: {\"content\":\"two\",\"stop\":true}\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	var got []chat.Chunk
	client := NewClient(srv.URL, 100*time.Millisecond)
	err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"}, func(c chat.Chunk) error {
		got = append(got, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Complete() error = %v, want the stream to outlive the request timeout", err)
	}
	if len(got) != 2 || got[0].Content != "part " || !got[1].Stop {
		t.Fatalf("chunks = %+v, want both chunks delivered", got)
	}
}

func TestCompleteTruncatedStreamIsAnError(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"content":"partial ","stop":false}`,
	})
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"}, func(chat.Chunk) error {
		return nil
	})
	if !errors.Is(err, ErrStreamTruncated) {
		t.Fatalf("Complete() error = %v, want ErrStreamTruncated", err)
	}
}

func TestCompleteHandlerErrorAbortsStream(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"content":"a","stop":false}`,
		`data: {"content":"b","stop":false}`,
		`data: {"content":"c","stop":true}`,
	})
	defer srv.Close()

	boom := errors.New("consumer gave up")
	calls := 0
	client := NewClient(srv.URL, time.Second)
	err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"}, func(chat.Chunk) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Complete() error = %v, want handler error", err)
	}
	if calls != 1 {
		t.Fatalf("handler called %d times after aborting, want 1", calls)
	}
}

func TestCompleteIgnoresKeepaliveAndDoneLines(t *testing.T) {
	srv := sseServer(t, []string{
		`: keepalive`,
		``,
		`data: {"content":"ok","stop":true}`,
		`data: [DONE]`,
	})
	defer srv.Close()

	var got []chat.Chunk
	client := NewClient(srv.URL, time.Second)
	err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"}, func(c chat.Chunk) error {
		got = append(got, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if len(got) != 1 || got[0].Content != "ok" || !got[0].Stop {
		t.Fatalf("chunks = %+v, want single stop chunk", got)
	}
}

func TestCompleteNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"}, func(chat.Chunk) error {
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Fatalf("Complete() error = %v, want status error", err)
	}
}

func TestPropsAndTokenizeAndTemplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/props":
			fmt.Fprint(w, `{"model_path":"/models/llama-3.2-3b.gguf","default_generation_settings":{"n_ctx":8192}}`)
		case "/tokenize":
			fmt.Fprint(w, `{"tokens":[1,2,3]}`)
		case "/apply-template":
			fmt.Fprint(w, `{"prompt":"<rendered>"}`)
		case "/health":
			fmt.Fprint(w, `{"status":"ok"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	ctx := context.Background()

	if err := client.Health(ctx); err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	props, err := client.Props(ctx)
	if err != nil {
		t.Fatalf("Props() error = %v", err)
	}
	if props.ModelName() != "llama-3.2-3b.gguf" {
		t.Fatalf("ModelName() = %q", props.ModelName())
	}
	if props.DefaultGenerationSettings.NCtx != 8192 {
		t.Fatalf("NCtx = %d, want 8192", props.DefaultGenerationSettings.NCtx)
	}

	tokens, err := client.Tokenize(ctx, "hello")
	if err != nil {
		t.Fatalf("Tokenize() error = %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("tokens = %v, want 3 entries", tokens)
	}

	prompt, err := client.ApplyTemplate(ctx, []TemplateMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("ApplyTemplate() error = %v", err)
	}
	if prompt != "<rendered>" {
		t.Fatalf("prompt = %q", prompt)
	}
}
