package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/chatcore/internal/agent"
	"github.com/hrygo/chatcore/internal/llmprovider"
	"github.com/hrygo/chatcore/internal/registry"
	"github.com/hrygo/chatcore/internal/store"
	"github.com/hrygo/chatcore/internal/store/memory"
)

// fakeLLM is a deterministic llmprovider.Provider stand-in: it streams a
// fixed sequence of deltas and never calls out to a real backend.
type fakeLLM struct {
	deltas []string
	delay  time.Duration
}

func (f *fakeLLM) StreamComplete(ctx context.Context, model string, messages []llmprovider.Message, params llmprovider.Params) (<-chan llmprovider.Delta, <-chan llmprovider.Stats, <-chan error) {
	deltas := make(chan llmprovider.Delta, len(f.deltas))
	stats := make(chan llmprovider.Stats, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(stats)
		defer close(errs)
		for _, d := range f.deltas {
			if f.delay > 0 {
				select {
				case <-time.After(f.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case deltas <- llmprovider.Delta{Content: d}:
			case <-ctx.Done():
				return
			}
		}
		stats <- llmprovider.Stats{TotalTokens: len(f.deltas)}
	}()
	return deltas, stats, errs
}

func (f *fakeLLM) Complete(ctx context.Context, model string, messages []llmprovider.Message, params llmprovider.Params) (string, llmprovider.Stats, error) {
	var out string
	for _, d := range f.deltas {
		out += d
	}
	return out, llmprovider.Stats{}, nil
}

func newTestCoordinator(llm llmprovider.Provider) (*Coordinator, *memory.Store) {
	repo := memory.New()
	c := &Coordinator{
		Repo:         repo,
		Registry:     registry.NewLocal(),
		Agents:       map[string]agent.Agent{"normal": &agent.Normal{LLM: llm}},
		DefaultModel: "test-model",
	}
	return c, repo
}

func drainAll(t *testing.T, events <-chan agent.Event, timeout time.Duration) []agent.Event {
	t.Helper()
	var out []agent.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out draining events")
		}
	}
}

func TestProcessChatHappyPathOrdering(t *testing.T) {
	c, repo := newTestCoordinator(&fakeLLM{deltas: []string{"hel", "lo"}})

	events, err := c.ProcessChat(context.Background(), Request{
		ThreadID: "t1",
		UserID:   "u1",
		Messages: []InputMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	seq := drainAll(t, events, 2*time.Second)
	require.GreaterOrEqual(t, len(seq), 4)
	assert.Equal(t, agent.EventMetadata, seq[0].Type)
	assert.Equal(t, agent.EventAgentUpdated, seq[1].Type)
	assert.Equal(t, agent.EventDone, seq[len(seq)-1].Type)

	var content string
	for _, ev := range seq {
		if ev.Type == agent.EventData {
			content += ev.Data.Answer
		}
	}
	assert.Equal(t, "hello", content)

	page, err := repo.List(context.Background(), "u1", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	msgs, err := repo.ListMessages(context.Background(), "u1", "t1", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, msgs.Items, 2)
	assert.Equal(t, "hi", msgs.Items[0].Content)
	assert.Equal(t, "hello", msgs.Items[1].Content)
}

func TestProcessChatRejectsEmptyMessages(t *testing.T) {
	c, _ := newTestCoordinator(&fakeLLM{})
	_, err := c.ProcessChat(context.Background(), Request{UserID: "u1"})
	require.Error(t, err)
}

func TestProcessChatRejectsMissingUserID(t *testing.T) {
	c, _ := newTestCoordinator(&fakeLLM{})
	_, err := c.ProcessChat(context.Background(), Request{Messages: []InputMessage{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
}

func TestProcessChatStopSignalsAbortedTermination(t *testing.T) {
	c, _ := newTestCoordinator(&fakeLLM{deltas: []string{"a", "b", "c", "d", "e"}, delay: 100 * time.Millisecond})

	events, err := c.ProcessChat(context.Background(), Request{
		ThreadID: "t1",
		UserID:   "u1",
		Messages: []InputMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	time.AfterFunc(150*time.Millisecond, func() { c.Registry.Signal("t1") })

	seq := drainAll(t, events, 2*time.Second)
	last := seq[len(seq)-1]
	assert.Contains(t, []agent.EventType{agent.EventDone, agent.EventError}, last.Type)
	if last.Type == agent.EventDone {
		assert.True(t, last.Done.Aborted)
	}
}
