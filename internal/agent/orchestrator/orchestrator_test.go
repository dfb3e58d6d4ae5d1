package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentpkg "github.com/hrygo/chatcore/internal/agent"
	"github.com/hrygo/chatcore/internal/llmprovider"
	"github.com/hrygo/chatcore/internal/retrieval"
)

// scriptedLLM returns one canned response per call, in order, so a test
// can give the planner and writer stages different answers.
type scriptedLLM struct {
	responses [][]string
	call      int
}

func (s *scriptedLLM) StreamComplete(ctx context.Context, model string, messages []llmprovider.Message, params llmprovider.Params) (<-chan llmprovider.Delta, <-chan llmprovider.Stats, <-chan error) {
	var deltas []string
	if s.call < len(s.responses) {
		deltas = s.responses[s.call]
	}
	s.call++

	deltaCh := make(chan llmprovider.Delta, len(deltas))
	statsCh := make(chan llmprovider.Stats, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(deltaCh)
		defer close(statsCh)
		defer close(errCh)
		for _, d := range deltas {
			deltaCh <- llmprovider.Delta{Content: d}
		}
		statsCh <- llmprovider.Stats{}
	}()
	return deltaCh, statsCh, errCh
}

func (s *scriptedLLM) Complete(ctx context.Context, model string, messages []llmprovider.Message, params llmprovider.Params) (string, llmprovider.Stats, error) {
	return "", llmprovider.Stats{}, nil
}

type erroringLLM struct{ err error }

func (e *erroringLLM) StreamComplete(ctx context.Context, model string, messages []llmprovider.Message, params llmprovider.Params) (<-chan llmprovider.Delta, <-chan llmprovider.Stats, <-chan error) {
	deltaCh := make(chan llmprovider.Delta)
	statsCh := make(chan llmprovider.Stats)
	errCh := make(chan error, 1)
	close(deltaCh)
	close(statsCh)
	errCh <- e.err
	close(errCh)
	return deltaCh, statsCh, errCh
}

func (e *erroringLLM) Complete(ctx context.Context, model string, messages []llmprovider.Message, params llmprovider.Params) (string, llmprovider.Stats, error) {
	return "", llmprovider.Stats{}, e.err
}

type stubEmbed struct {
	vec []float32
	err error
}

func (s *stubEmbed) Embed(ctx context.Context, text string) ([]float32, error) { return s.vec, s.err }
func (s *stubEmbed) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, s.err
}
func (s *stubEmbed) Dimensions() int { return len(s.vec) }

type stubRetrieval struct {
	docs []retrieval.Document
	err  error
}

func (s *stubRetrieval) Search(ctx context.Context, queryVector []float32, k int, opts retrieval.SearchOptions) ([]retrieval.Document, error) {
	return s.docs, s.err
}

func collect(t *testing.T, events <-chan agentpkg.Event) []agentpkg.Event {
	t.Helper()
	var out []agentpkg.Event
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out collecting events")
		}
	}
}

func TestOrchestratorSkipsResearchWhenPlanDoesNotNeedIt(t *testing.T) {
	o := &Orchestrator{
		LLM: &scriptedLLM{responses: [][]string{
			{"This is a simple question, I can answer directly."},
			{"final ", "answer"},
		}},
	}
	events := collect(t, o.Run(context.Background(), agentpkg.RunContext{
		History: []agentpkg.HistoryMessage{{Role: "user", Content: "what's 2+2"}},
	}))

	require.NotEmpty(t, events)
	assert.Equal(t, agentpkg.EventMetadata, events[0].Type)

	var agentNames []string
	for _, ev := range events {
		if ev.Type == agentpkg.EventAgentUpdated {
			agentNames = append(agentNames, ev.AgentUpdated.AgentName)
		}
	}
	assert.Equal(t, []string{namePlanner, nameWriter}, agentNames)
	assert.Equal(t, agentpkg.EventDone, events[len(events)-1].Type)
}

func TestOrchestratorRunsResearchWhenPlanNeedsIt(t *testing.T) {
	o := &Orchestrator{
		LLM: &scriptedLLM{responses: [][]string{
			{"I need to look up some additional information first."},
			{"final ", "answer"},
		}},
		Embed:     &stubEmbed{vec: []float32{0.1, 0.2}},
		Retrieval: &stubRetrieval{docs: []retrieval.Document{{ID: "d1", Content: "a fact"}}},
	}
	events := collect(t, o.Run(context.Background(), agentpkg.RunContext{
		History: []agentpkg.HistoryMessage{{Role: "user", Content: "research this for me"}},
	}))

	var agentNames []string
	for _, ev := range events {
		if ev.Type == agentpkg.EventAgentUpdated {
			agentNames = append(agentNames, ev.AgentUpdated.AgentName)
		}
	}
	assert.Equal(t, []string{namePlanner, nameResearcher, nameWriter}, agentNames)
	assert.Equal(t, agentpkg.EventDone, events[len(events)-1].Type)
}

func TestOrchestratorWriterReportsAgentErrorOnEmptyPlan(t *testing.T) {
	o := &Orchestrator{LLM: &scriptedLLM{responses: [][]string{{}}}}
	events := collect(t, o.Run(context.Background(), agentpkg.RunContext{
		History: []agentpkg.HistoryMessage{{Role: "user", Content: "hi"}},
	}))

	last := events[len(events)-1]
	require.Equal(t, agentpkg.EventError, last.Type)
	assert.Equal(t, "AGENT_ERROR", last.Error.Code)
}

func TestOrchestratorResearchFailureReportsAgentError(t *testing.T) {
	o := &Orchestrator{
		LLM: &scriptedLLM{responses: [][]string{
			{"I need to research this further."},
		}},
		Embed:     &stubEmbed{err: errors.New("embed down")},
		Retrieval: &stubRetrieval{},
	}
	events := collect(t, o.Run(context.Background(), agentpkg.RunContext{
		History: []agentpkg.HistoryMessage{{Role: "user", Content: "research this"}},
	}))

	last := events[len(events)-1]
	require.Equal(t, agentpkg.EventError, last.Type)
	assert.Equal(t, "AGENT_ERROR", last.Error.Code)
}

func TestOrchestratorPlannerUpstreamErrorStopsBeforeWriter(t *testing.T) {
	o := &Orchestrator{LLM: &erroringLLM{err: errors.New("upstream unavailable")}}
	events := collect(t, o.Run(context.Background(), agentpkg.RunContext{
		History: []agentpkg.HistoryMessage{{Role: "user", Content: "hi"}},
	}))

	for _, ev := range events {
		if ev.Type == agentpkg.EventAgentUpdated {
			assert.NotEqual(t, nameWriter, ev.AgentUpdated.AgentName)
		}
	}
	last := events[len(events)-1]
	assert.Equal(t, agentpkg.EventError, last.Type)
}

var _ agentpkg.Agent = (*Orchestrator)(nil)
