// Package bot routes Discord commands to the conversation store and the
// llama.cpp backend and renders streamed responses back into messages.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/steelph0enix/unllamabot/internal/chat"
	"github.com/steelph0enix/unllamabot/internal/config"
	"github.com/steelph0enix/unllamabot/internal/discord"
	"github.com/steelph0enix/unllamabot/internal/history"
	"github.com/steelph0enix/unllamabot/internal/llama"
	"github.com/steelph0enix/unllamabot/internal/observability"
)

// Backend is the slice of the llama.cpp client the bot needs.
type Backend interface {
	Complete(ctx context.Context, req llama.CompletionRequest, onChunk llama.ChunkHandler) error
	Tokenize(ctx context.Context, text string) ([]int, error)
	Props(ctx context.Context) (llama.Props, error)
}

// PromptRenderer formats ordered history into a model-ready prompt string.
type PromptRenderer interface {
	Render(ctx context.Context, messages []history.Message) (string, error)
}

const generationFailedNotice = "*Something went wrong while generating the response. Try again later.*"

// Bot handles gateway events: prefix commands on MESSAGE_CREATE and
// reaction-based message removal on MESSAGE_REACTION_ADD.
type Bot struct {
	ctx     context.Context
	cfg     config.Config
	rest    Messenger
	store   history.Store
	llm     Backend
	prompts PromptRenderer
	metrics *observability.Metrics

	helpText string

	mu        sync.Mutex
	botUserID string
	props     llama.Props
	inflight  map[int64]struct{}
}

// New builds the bot. props are the model properties fetched at startup;
// the refresh command re-fetches them at runtime.
func New(ctx context.Context, cfg config.Config, rest Messenger, store history.Store, llm Backend, prompts PromptRenderer, metrics *observability.Metrics, props llama.Props) *Bot {
	b := &Bot{
		ctx:      ctx,
		cfg:      cfg,
		rest:     rest,
		store:    store,
		llm:      llm,
		prompts:  prompts,
		metrics:  metrics,
		props:    props,
		inflight: make(map[int64]struct{}),
	}
	b.helpText = b.buildHelpText()
	return b
}

// HelpText returns the command overview computed at startup.
func (b *Bot) HelpText() string {
	return b.helpText
}

func (b *Bot) buildHelpText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "This is unllamabot, a bridge between Discord and a locally ran LLM (currently `%s`).\n", b.props.ModelName())
	sb.WriteString("# Available commands:\n")

	names := make([]string, 0, len(b.cfg.Commands))
	for name := range b.cfg.Commands {
		names = append(names, name)
	}
	sort.Strings(names)

	descriptions := map[string]string{
		"inference":          "Give a prompt to the LLM and stream its response. Conversation history is retained per user.",
		"help":               "Shows this message.",
		"reset-conversation": "Reset your conversation history and start a fresh session.",
		"stats":              "Show your conversation statistics (messages, characters, tokens, context usage).",
		"set-param":          "Set a generation parameter, e.g. `temperature 0.8`, or `system-prompt <text>`.",
		"refresh":            "Re-read model properties from the llama.cpp server.",
	}
	for _, name := range names {
		cmd := b.cfg.Commands[name]
		desc := descriptions[name]
		if desc == "" {
			desc = name
		}
		admin := ""
		if cmd.RequiresAdmin {
			admin = " (admin only)"
		}
		fmt.Fprintf(&sb, "* `%s%s`%s - %s\n", b.cfg.Bot.Prefix, cmd.Cmd, admin, desc)
	}

	fmt.Fprintf(&sb, "\nDefault system prompt: %s", b.cfg.Bot.DefaultSystemPrompt)
	return sb.String()
}

// OnReady records the bot's own user ID so reaction removal can tell its
// messages apart from everyone else's.
func (b *Bot) OnReady(ready discord.Ready) {
	b.mu.Lock()
	b.botUserID = ready.User.ID
	b.mu.Unlock()
	b.metrics.GatewayEvents.WithLabelValues("ready").Inc()
	log.Printf("bot: ready as %s (%s)", ready.User.Username, ready.User.ID)
}

// OnMessageCreate dispatches prefix commands. Processing happens on its own
// goroutine so a long generation never stalls the gateway read loop.
func (b *Bot) OnMessageCreate(msg discord.Message) {
	b.metrics.GatewayEvents.WithLabelValues("message_create").Inc()
	if msg.Author.Bot {
		return
	}
	if !strings.HasPrefix(msg.Content, b.cfg.Bot.Prefix) {
		return
	}

	trigger, args, _ := strings.Cut(strings.TrimPrefix(msg.Content, b.cfg.Bot.Prefix), " ")
	name, cmd, ok := b.lookupCommand(trigger)
	if !ok {
		return
	}

	go func() {
		outcome := "ok"
		if err := b.runCommand(name, cmd, msg, strings.TrimSpace(args)); err != nil {
			outcome = "error"
			log.Printf("bot: command %s from user %s failed: %v", name, msg.Author.ID, err)
		}
		b.metrics.Commands.WithLabelValues(name, outcome).Inc()
	}()
}

// OnReactionAdd deletes a bot-authored message when the configured removal
// reaction lands on it.
func (b *Bot) OnReactionAdd(evt discord.ReactionAdd) {
	b.metrics.GatewayEvents.WithLabelValues("message_reaction_add").Inc()
	if evt.Emoji.Name != b.cfg.Messages.RemoveReaction {
		return
	}
	b.mu.Lock()
	own := b.botUserID != "" && evt.MessageAuthorID == b.botUserID
	b.mu.Unlock()
	if !own {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(b.ctx, 15*time.Second)
		defer cancel()
		if err := b.rest.DeleteMessage(ctx, evt.ChannelID, evt.MessageID); err != nil {
			log.Printf("bot: remove message %s: %v", evt.MessageID, err)
		}
	}()
}

func (b *Bot) lookupCommand(trigger string) (string, config.CommandConfig, bool) {
	for name, cmd := range b.cfg.Commands {
		if cmd.Cmd == trigger {
			return name, cmd, true
		}
	}
	return "", config.CommandConfig{}, false
}

func (b *Bot) isAdmin(userID int64) bool {
	for _, id := range b.cfg.Bot.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *Bot) runCommand(name string, cmd config.CommandConfig, msg discord.Message, args string) error {
	userID, err := strconv.ParseInt(msg.Author.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse author id %q: %w", msg.Author.ID, err)
	}
	if cmd.RequiresAdmin && !b.isAdmin(userID) {
		return b.reply(msg, "This command can only be used by bot administrators.")
	}

	switch name {
	case "inference":
		return b.runInference(msg, userID, args)
	case "help":
		return b.reply(msg, b.helpText)
	case "reset-conversation":
		return b.runReset(msg, userID)
	case "stats":
		return b.runStats(msg, userID)
	case "set-param":
		return b.runSetParam(msg, userID, args)
	case "refresh":
		return b.runRefresh(msg)
	default:
		return fmt.Errorf("command %q has no handler", name)
	}
}

func (b *Bot) reply(msg discord.Message, content string) error {
	ctx, cancel := context.WithTimeout(b.ctx, 15*time.Second)
	defer cancel()
	if _, err := b.rest.CreateMessage(ctx, msg.ChannelID, content, msg.ID); err != nil {
		return err
	}
	b.metrics.MessagesSent.Inc()
	return nil
}

// acquireGeneration reserves the single generation slot a user gets.
func (b *Bot) acquireGeneration(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := b.inflight[userID]; busy {
		return false
	}
	b.inflight[userID] = struct{}{}
	return true
}

func (b *Bot) releaseGeneration(userID int64) {
	b.mu.Lock()
	delete(b.inflight, userID)
	b.mu.Unlock()
}

func (b *Bot) runInference(msg discord.Message, userID int64, promptText string) error {
	if promptText == "" {
		return b.reply(msg, "Give me a prompt, for example: `"+b.cfg.Bot.Prefix+b.cfg.Commands["inference"].Cmd+" why is the sky blue?`")
	}
	if !b.acquireGeneration(userID) {
		return b.reply(msg, "I'm still working on your previous prompt. One at a time, please.")
	}
	defer b.releaseGeneration(userID)

	turnID := uuid.NewString()
	started := time.Now()
	log.Printf("bot: turn %s: user %d prompt length %d", turnID, userID, len(promptText))

	user, err := b.store.GetOrCreateUser(b.ctx, userID)
	if err != nil {
		return fmt.Errorf("turn %s: load user: %w", turnID, err)
	}
	hasMessages, err := b.store.HasMessages(b.ctx, userID)
	if err != nil {
		return fmt.Errorf("turn %s: check history: %w", turnID, err)
	}
	if !hasMessages {
		if _, err := b.store.AddMessage(b.ctx, userID, history.RoleSystem, user.SystemPrompt); err != nil {
			return fmt.Errorf("turn %s: store system prompt: %w", turnID, err)
		}
	}
	if _, err := b.store.AddMessage(b.ctx, userID, history.RoleUser, promptText); err != nil {
		return fmt.Errorf("turn %s: store user prompt: %w", turnID, err)
	}

	messages, err := b.store.Messages(b.ctx, userID)
	if err != nil {
		return fmt.Errorf("turn %s: load history: %w", turnID, err)
	}
	llmPrompt, err := b.prompts.Render(b.ctx, messages)
	if err != nil {
		return fmt.Errorf("turn %s: render prompt: %w", turnID, err)
	}

	if err := b.rest.TriggerTyping(b.ctx, msg.ChannelID); err != nil {
		log.Printf("bot: turn %s: trigger typing: %v", turnID, err)
	}

	buffer := chat.NewBuffer(b.cfg.Messages.SegmentLimit())
	out := newResponder(b.rest, b.metrics, msg.ChannelID, msg.ID, rate.Every(b.cfg.Messages.EditCooldown()))

	b.metrics.ActiveGenerations.Inc()
	defer b.metrics.ActiveGenerations.Dec()

	req := llama.CompletionRequest{Prompt: llmPrompt, GenerationParams: user.Params}
	err = b.llm.Complete(b.ctx, req, func(chunk chat.Chunk) error {
		b.metrics.StreamChunks.Inc()
		for _, ev := range buffer.Push(chunk) {
			if err := out.handle(b.ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		reason := "backend"
		if errors.Is(err, llama.ErrStreamTruncated) {
			reason = "truncated_stream"
		}
		b.metrics.GenerationErrors.WithLabelValues(reason).Inc()
		if failErr := out.fail(b.ctx, generationFailedNotice); failErr != nil {
			log.Printf("bot: turn %s: post failure notice: %v", turnID, failErr)
		}
		return fmt.Errorf("turn %s: completion: %w", turnID, err)
	}

	if _, err := b.store.AddMessage(b.ctx, userID, history.RoleAssistant, buffer.Response()); err != nil {
		return fmt.Errorf("turn %s: store response: %w", turnID, err)
	}

	b.metrics.ObserveGeneration(time.Since(started))
	log.Printf("bot: turn %s: done in %s, response length %d", turnID, time.Since(started).Round(time.Millisecond), len(buffer.Response()))
	return nil
}

func (b *Bot) runReset(msg discord.Message, userID int64) error {
	if err := b.store.ClearMessages(b.ctx, userID); err != nil {
		if errors.Is(err, history.ErrUserNotFound) {
			return b.reply(msg, "You don't have a conversation yet, nothing to reset.")
		}
		return fmt.Errorf("clear history: %w", err)
	}
	return b.reply(msg, "Conversation history cleared. Next prompt starts a fresh session.")
}

func (b *Bot) runStats(msg discord.Message, userID int64) error {
	messages, err := b.store.Messages(b.ctx, userID)
	if err != nil && !errors.Is(err, history.ErrUserNotFound) {
		return fmt.Errorf("load history: %w", err)
	}
	if len(messages) == 0 {
		return b.reply(msg, "You don't have a conversation yet. Talk to me first!")
	}

	llmPrompt, err := b.prompts.Render(b.ctx, messages)
	if err != nil {
		return fmt.Errorf("render prompt: %w", err)
	}
	tokens, err := b.llm.Tokenize(b.ctx, llmPrompt)
	if err != nil {
		return fmt.Errorf("tokenize history: %w", err)
	}

	b.mu.Lock()
	contextLength := b.props.DefaultGenerationSettings.NCtx
	b.mu.Unlock()

	percentUsed := 0.0
	if contextLength > 0 {
		percentUsed = float64(len(tokens)) / float64(contextLength) * 100
	}
	return b.reply(msg, fmt.Sprintf(
		"Your conversation stats:\n* Messages in history: %d\n* Chat length: %d characters, %d tokens\n* Context used: %.1f%% of %d tokens",
		len(messages), len(llmPrompt), len(tokens), percentUsed, contextLength))
}

func (b *Bot) runSetParam(msg discord.Message, userID int64, args string) error {
	name, value, _ := strings.Cut(args, " ")
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if name == "" || value == "" {
		return b.reply(msg, "Usage: `"+b.cfg.Bot.Prefix+b.cfg.Commands["set-param"].Cmd+" <parameter> <value>`. Known parameters: system-prompt, "+strings.Join(history.ParameterNames(), ", "))
	}

	if name == "system-prompt" {
		if err := b.store.SetSystemPrompt(b.ctx, userID, value); err != nil {
			return fmt.Errorf("set system prompt: %w", err)
		}
		return b.reply(msg, "System prompt updated. It applies to your stored conversation immediately.")
	}

	oldValue, newValue, err := b.store.SetParameter(b.ctx, userID, name, value)
	if err != nil {
		if errors.Is(err, history.ErrUnknownParameter) {
			return b.reply(msg, fmt.Sprintf("Unknown parameter `%s`. Known parameters: system-prompt, %s", name, strings.Join(history.ParameterNames(), ", ")))
		}
		return b.reply(msg, fmt.Sprintf("Could not set `%s`: %v", name, err))
	}
	return b.reply(msg, fmt.Sprintf("Parameter `%s` changed: %s -> %s", name, oldValue, newValue))
}

func (b *Bot) runRefresh(msg discord.Message) error {
	props, err := b.llm.Props(b.ctx)
	if err != nil {
		return fmt.Errorf("refresh model props: %w", err)
	}
	b.mu.Lock()
	b.props = props
	b.mu.Unlock()
	return b.reply(msg, fmt.Sprintf("Model properties refreshed. Serving `%s` with a context of %d tokens.", props.ModelName(), props.DefaultGenerationSettings.NCtx))
}
