package bot

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/steelph0enix/unllamabot/internal/chat"
	"github.com/steelph0enix/unllamabot/internal/discord"
	"github.com/steelph0enix/unllamabot/internal/observability"
)

// Messenger is the slice of the Discord REST API the responder needs.
type Messenger interface {
	CreateMessage(ctx context.Context, channelID, content, replyTo string) (discord.Message, error)
	EditMessage(ctx context.Context, channelID, messageID, content string) (discord.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	TriggerTyping(ctx context.Context, channelID string) error
}

// responder renders one streamed response into Discord messages. It creates
// the reply on the first visible event, edits it as the open segment grows
// (throttled by the edit cooldown) and rolls over to a fresh message when
// the coordinator finalizes a segment.
type responder struct {
	rest      Messenger
	metrics   *observability.Metrics
	channelID string
	replyTo   string

	limiter   *rate.Limiter
	currentID string
	lastSent  string
}

func newResponder(rest Messenger, metrics *observability.Metrics, channelID, replyTo string, cooldown rate.Limit) *responder {
	return &responder{
		rest:      rest,
		metrics:   metrics,
		channelID: channelID,
		replyTo:   replyTo,
		limiter:   rate.NewLimiter(cooldown, 1),
	}
}

// handle renders one coordinator event. Finalizing events always flush;
// intermediate growth is flushed at most once per cooldown interval.
func (r *responder) handle(ctx context.Context, ev chat.Event) error {
	if ev.NewMessage {
		r.currentID = ""
		r.lastSent = ""
		r.metrics.MessageSplits.Inc()
	}

	mustFlush := ev.EndOfMessage || ev.EndOfResponse
	if ev.Message == "" {
		// Nothing visible yet. Discord rejects empty message bodies, so an
		// empty final segment is simply never materialized.
		return nil
	}
	if ev.Message == r.lastSent && r.currentID != "" {
		return nil
	}
	if !mustFlush && !r.limiter.Allow() {
		return nil
	}
	return r.flush(ctx, ev.Message)
}

func (r *responder) flush(ctx context.Context, content string) error {
	if r.currentID == "" {
		msg, err := r.rest.CreateMessage(ctx, r.channelID, content, r.replyTo)
		if err != nil {
			return fmt.Errorf("create response message: %w", err)
		}
		r.currentID = msg.ID
		r.lastSent = content
		r.metrics.MessagesSent.Inc()
		return nil
	}
	if _, err := r.rest.EditMessage(ctx, r.channelID, r.currentID, content); err != nil {
		return fmt.Errorf("edit response message: %w", err)
	}
	r.lastSent = content
	r.metrics.MessageEdits.Inc()
	return nil
}

// fail replaces the open segment with a failure notice. Segments already
// finalized in earlier messages are left untouched.
func (r *responder) fail(ctx context.Context, notice string) error {
	return r.flush(ctx, notice)
}
