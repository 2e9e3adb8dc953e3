// Package prompt turns ordered conversation history into a single
// model-ready prompt string.
package prompt

import (
	"context"
	"strings"

	"github.com/steelph0enix/unllamabot/internal/history"
	"github.com/steelph0enix/unllamabot/internal/llama"
)

// Templater renders role-tagged messages with the served model's own chat
// template. The llama client implements it via /apply-template.
type Templater interface {
	ApplyTemplate(ctx context.Context, messages []llama.TemplateMessage) (string, error)
}

// Builder prefers server-side template rendering and falls back to a local
// ChatML layout when the server cannot render (older builds, no template).
type Builder struct {
	templater Templater
}

func NewBuilder(templater Templater) *Builder {
	return &Builder{templater: templater}
}

// Render formats messages into the prompt for the next completion. A
// generation prompt is appended when the conversation ends on a user turn.
func (b *Builder) Render(ctx context.Context, messages []history.Message) (string, error) {
	tagged := make([]llama.TemplateMessage, len(messages))
	for i, m := range messages {
		tagged[i] = llama.TemplateMessage{Role: string(m.Role), Content: m.Content}
	}

	if b.templater != nil {
		if prompt, err := b.templater.ApplyTemplate(ctx, tagged); err == nil && prompt != "" {
			return prompt, nil
		}
	}
	return renderChatML(tagged), nil
}

func renderChatML(messages []llama.TemplateMessage) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString("<|im_start|>")
		sb.WriteString(m.Role)
		sb.WriteString("\n")
		sb.WriteString(m.Content)
		sb.WriteString("<|im_end|>\n")
	}
	if len(messages) > 0 && messages[len(messages)-1].Role == string(history.RoleUser) {
		sb.WriteString("<|im_start|>assistant\n")
	}
	return sb.String()
}
