package prompt

import (
	"context"
	"errors"
	"testing"

	"github.com/steelph0enix/unllamabot/internal/history"
	"github.com/steelph0enix/unllamabot/internal/llama"
)

type fakeTemplater struct {
	prompt string
	err    error
	calls  int
}

func (f *fakeTemplater) ApplyTemplate(_ context.Context, _ []llama.TemplateMessage) (string, error) {
	f.calls++
	return f.prompt, f.err
}

func conversation() []history.Message {
	return []history.Message{
		{Role: history.RoleSystem, Content: "be brief"},
		{Role: history.RoleUser, Content: "hello"},
	}
}

func TestRenderPrefersServerTemplate(t *testing.T) {
	templater := &fakeTemplater{prompt: "<rendered by server>"}
	got, err := NewBuilder(templater).Render(context.Background(), conversation())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got != "<rendered by server>" {
		t.Fatalf("Render() = %q, want server template output", got)
	}
	if templater.calls != 1 {
		t.Fatalf("templater called %d times, want 1", templater.calls)
	}
}

func TestRenderFallsBackToChatML(t *testing.T) {
	templater := &fakeTemplater{err: errors.New("no template endpoint")}
	got, err := NewBuilder(templater).Render(context.Background(), conversation())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := "<|im_start|>system\nbe brief<|im_end|>\n<|im_start|>user\nhello<|im_end|>\n<|im_start|>assistant\n"
	if got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}

func TestRenderSkipsGenerationPromptAfterAssistantTurn(t *testing.T) {
	messages := append(conversation(), history.Message{Role: history.RoleAssistant, Content: "hi!"})
	got, err := NewBuilder(nil).Render(context.Background(), messages)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(got) == 0 || got[len(got)-1] != '\n' {
		t.Fatalf("Render() = %q, want ChatML output", got)
	}
	if want := "hi!<|im_end|>\n"; got[len(got)-len(want):] != want {
		t.Fatalf("Render() tail = %q, want no trailing generation prompt", got[len(got)-len(want):])
	}
}
