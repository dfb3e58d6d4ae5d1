// Package coordinator implements the Chat Coordinator (C4): the
// per-request orchestration layer between Transport and the Agent
// Runtime. Its single logical operation, ProcessChat, validates
// ownership, persists the user turn, runs the resolved agent, and
// relays its events back to the caller.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/chatcore/internal/agent"
	"github.com/hrygo/chatcore/internal/apierrors"
	"github.com/hrygo/chatcore/internal/model"
	"github.com/hrygo/chatcore/internal/observability"
	"github.com/hrygo/chatcore/internal/registry"
	"github.com/hrygo/chatcore/internal/store"
)

// partialUpsertEvery bounds how often an in-flight assistant message is
// opportunistically persisted: every K events or every T duration,
// whichever comes first.
const (
	partialUpsertEveryEvents = 8
	partialUpsertEveryTime   = 500 * time.Millisecond
)

// InputMessage is one entry of the caller-supplied message list.
type InputMessage struct {
	ID       string
	Role     string
	Content  string
	Metadata model.Metadata
}

// Request is the validated input to ProcessChat.
type Request struct {
	ThreadID          string
	UserID            string
	AgentType         string
	Messages          []InputMessage
	ConversationStyle string
	MaxTokens         int
	Temperature       float32
	SystemPrompt      string
	Model             string
}

// Coordinator binds requests to agents, mediates persistence through a
// store.Repository, and tracks in-flight streams through a
// registry.Registry.
type Coordinator struct {
	Repo     store.Repository
	Registry registry.Registry
	Agents   map[string]agent.Agent
	Logger   *slog.Logger

	// DefaultModel names the model passed to an agent when Request.Model
	// is unset.
	DefaultModel string

	// Titler, if set, is invoked as a non-blocking side effect after the
	// first user turn in a thread whose title is still empty.
	Titler Titler
}

// Titler generates a short title from the first exchange of a thread,
// without blocking the stream.
type Titler interface {
	Title(ctx context.Context, userMessage string) (string, error)
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// ProcessChat validates ownership and persists the user turn
// synchronously, then returns a channel of agent events the caller
// (Transport) forwards to the client. Forbidden and Invalid errors are
// returned directly, before any channel is created: abort the whole
// request before any streaming begins.
func (c *Coordinator) ProcessChat(ctx context.Context, req Request) (<-chan agent.Event, error) {
	if req.UserID == "" {
		return nil, apierrors.New(apierrors.Invalid, "", "userId is required")
	}
	if len(req.Messages) == 0 {
		return nil, apierrors.New(apierrors.Invalid, "", "messages must not be empty")
	}

	thread, err := c.resolveThread(ctx, req)
	if err != nil {
		return nil, err
	}

	userMsg, err := c.persistUserTurn(ctx, thread, req)
	if err != nil {
		return nil, err
	}

	traceID := uuid.NewString()
	streamID := uuid.NewString()
	ctx, logger := observability.WithRequest(ctx, c.logger(), observability.RequestFields{
		TraceID:  traceID,
		UserID:   req.UserID,
		ThreadID: thread.ID,
		StreamID: streamID,
	})

	handle := c.Registry.Register(thread.ID)
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-handle.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	a, known := agent.Resolve(c.Agents, req.AgentType)
	if !known {
		logger.Warn("unknown agent type, falling back to normal", "requested", req.AgentType)
	}

	history := prepareHistory(toHistory(req.Messages))
	rc := agent.RunContext{
		TraceID:      traceID,
		UserID:       req.UserID,
		SessionID:    thread.ID,
		StreamID:     streamID,
		History:      history,
		SystemPrompt: req.SystemPrompt,
		Model:        firstNonEmpty(req.Model, c.DefaultModel),
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	}

	c.maybeTitle(ctx, thread, userMsg)

	events := a.Run(runCtx, rc)

	out := make(chan agent.Event, agent.EventBufferSize)
	go func() {
		defer close(out)
		defer cancel()
		defer c.Registry.Unregister(thread.ID)

		c.streamLoop(ctx, runCtx, thread, streamID, events, out)
	}()

	return out, nil
}

func (c *Coordinator) resolveThread(ctx context.Context, req Request) (*model.Thread, error) {
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}

	thread, err := c.Repo.Get(ctx, req.UserID, req.ThreadID)
	if err != nil {
		return nil, err
	}
	if thread != nil {
		return thread, nil
	}

	// Only fall back to the truncated-content placeholder when no Titler
	// is configured: otherwise leave the title empty so maybeTitle's
	// guard (thread.Title != "") lets the LLM-generated title land.
	title := ""
	if c.Titler == nil {
		for _, m := range req.Messages {
			if m.Role == "user" {
				title = inferTitle(m.Content)
				break
			}
		}
	}

	newThread := &model.Thread{
		ID:     req.ThreadID,
		UserID: req.UserID,
		Title:  title,
	}
	if _, err := c.Repo.Create(ctx, newThread); err != nil {
		return nil, err
	}
	return newThread, nil
}

// persistUserTurn upserts the most recent user message before any agent
// execution begins.
func (c *Coordinator) persistUserTurn(ctx context.Context, thread *model.Thread, req Request) (*model.Message, error) {
	var last *InputMessage
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = &req.Messages[i]
			break
		}
	}
	if last == nil {
		return nil, apierrors.New(apierrors.Invalid, "", "at least one user message is required")
	}

	id := last.ID
	if id == "" {
		id = uuid.NewString()
	}

	msg := &model.Message{
		ID:       id,
		ThreadID: thread.ID,
		UserID:   thread.UserID,
		Role:     model.RoleUser,
		Content:  last.Content,
		Metadata: last.Metadata,
	}
	saved, _, err := c.Repo.Upsert(ctx, msg, "")
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (c *Coordinator) maybeTitle(ctx context.Context, thread *model.Thread, userMsg *model.Message) {
	if c.Titler == nil || thread.Title != "" || userMsg == nil {
		return
	}
	go func() {
		// Detached from the stream's cancellation: titling must not be
		// aborted by a `stop` aimed at the chat stream itself.
		bg := context.Background()
		title, err := c.Titler.Title(bg, userMsg.Content)
		if err != nil || title == "" {
			return
		}
		_, _, _ = c.Repo.Update(bg, thread.UserID, thread.ID, store.Mutation[*model.Thread]{
			RetryOnce: true,
			Apply: func(t *model.Thread) *model.Thread {
				t.Title = title
				return t
			},
		})
	}()
}

func toHistory(messages []InputMessage) []agent.HistoryMessage {
	out := make([]agent.HistoryMessage, len(messages))
	for i, m := range messages {
		out[i] = agent.HistoryMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
