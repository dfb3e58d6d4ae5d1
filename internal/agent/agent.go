package agent

import (
	"context"

	"github.com/hrygo/chatcore/internal/llmprovider"
)

// EventBufferSize bounds the channel an agent streams events on: the
// LLM is not pre-buffered beyond a small bounded channel.
const EventBufferSize = 64

// HistoryMessage is one entry of the message history an agent is given.
// It is the agent-side view of a persisted model.Message, stripped down
// to what a run actually needs.
type HistoryMessage struct {
	Role    string
	Content string
}

func (m HistoryMessage) toLLM() llmprovider.Message {
	return llmprovider.Message{Role: m.Role, Content: m.Content}
}

func toLLMMessages(history []HistoryMessage) []llmprovider.Message {
	out := make([]llmprovider.Message, len(history))
	for i, m := range history {
		out[i] = m.toLLM()
	}
	return out
}

// RunContext is the run-scoped input an Agent is given: trace id, user
// id, session id (the thread id), and the prepared message history
// (already truncated by the coordinator).
type RunContext struct {
	TraceID   string
	UserID    string
	SessionID string
	StreamID  string
	History   []HistoryMessage

	SystemPrompt string
	Model        string
	Temperature  float32
	MaxTokens    int
}

// Agent produces a lazy sequence of typed events over a RunContext. The
// sequence always starts with exactly one metadata event and ends with
// exactly one done or error event. Run must honour ctx cancellation and
// reach a suspension point within 500ms.
type Agent interface {
	Name() string
	Run(ctx context.Context, rc RunContext) <-chan Event
}

// Resolve selects the agent registered under agentType, falling back to
// "normal" for an unknown type. ok reports whether agentType was
// recognised.
func Resolve(agents map[string]Agent, agentType string) (a Agent, ok bool) {
	if agentType == "" {
		agentType = "normal"
	}
	if a, found := agents[agentType]; found {
		return a, true
	}
	return agents["normal"], false
}
