package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/chatcore/internal/embedprovider"
	"github.com/hrygo/chatcore/internal/llmprovider"
	"github.com/hrygo/chatcore/internal/model"
	"github.com/hrygo/chatcore/internal/retrieval"
)

type stubLLM struct {
	deltas []string
	err    error
}

func (s *stubLLM) StreamComplete(ctx context.Context, model string, messages []llmprovider.Message, params llmprovider.Params) (<-chan llmprovider.Delta, <-chan llmprovider.Stats, <-chan error) {
	deltas := make(chan llmprovider.Delta, len(s.deltas))
	stats := make(chan llmprovider.Stats, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(deltas)
		defer close(stats)
		defer close(errs)
		if s.err != nil {
			errs <- s.err
			return
		}
		for _, d := range s.deltas {
			deltas <- llmprovider.Delta{Content: d}
		}
		stats <- llmprovider.Stats{}
	}()
	return deltas, stats, errs
}

func (s *stubLLM) Complete(ctx context.Context, model string, messages []llmprovider.Message, params llmprovider.Params) (string, llmprovider.Stats, error) {
	return "", llmprovider.Stats{}, s.err
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(time.Second):
			t.Fatal("timed out collecting events")
		}
	}
}

func TestNormalEmitsEventsInContractOrder(t *testing.T) {
	n := &Normal{LLM: &stubLLM{deltas: []string{"a", "b", "c"}}}
	events := collect(t, n.Run(context.Background(), RunContext{History: []HistoryMessage{{Role: "user", Content: "hi"}}}))

	require.Len(t, events, 6)
	assert.Equal(t, EventMetadata, events[0].Type)
	assert.Equal(t, EventAgentUpdated, events[1].Type)
	for _, ev := range events[2:5] {
		assert.Equal(t, EventData, ev.Type)
	}
	assert.Equal(t, EventDone, events[5].Type)

	var content string
	for _, ev := range events {
		if ev.Type == EventData {
			content += ev.Data.Answer
		}
	}
	assert.Equal(t, "abc", content)
}

func TestNormalSurfacesUpstreamErrorAsTerminalErrorEvent(t *testing.T) {
	n := &Normal{LLM: &stubLLM{err: errors.New("connection refused")}}
	events := collect(t, n.Run(context.Background(), RunContext{History: []HistoryMessage{{Role: "user", Content: "hi"}}}))

	require.Len(t, events, 3)
	assert.Equal(t, EventError, events[2].Type)
	assert.NotEmpty(t, events[2].Error.Code)
}

func TestResolveFallsBackToNormalForUnknownAgentType(t *testing.T) {
	normal := &Normal{}
	agents := map[string]Agent{"normal": normal}

	a, ok := Resolve(agents, "something-unregistered")
	assert.False(t, ok)
	assert.Same(t, Agent(normal), a)
}

func TestResolveDefaultsEmptyAgentTypeToNormal(t *testing.T) {
	normal := &Normal{}
	agents := map[string]Agent{"normal": normal}

	a, ok := Resolve(agents, "")
	assert.True(t, ok)
	assert.Same(t, Agent(normal), a)
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

func TestRAGEmitsCitationsOnMetadataEvent(t *testing.T) {
	r := &RAG{
		LLM:   &stubLLM{deltas: []string{"answer"}},
		Embed: &stubEmbed{vec: []float32{0.1, 0.2}},
		Retrieval: &stubRetrieval{docs: []retrieval.Document{
			{ID: "d1", Content: "some fact", Score: 0.9, Metadata: model.Metadata{"title": "Doc One"}},
		}},
	}
	events := collect(t, r.Run(context.Background(), RunContext{History: []HistoryMessage{{Role: "user", Content: "what is it"}}}))

	require.NotEmpty(t, events)
	require.Equal(t, EventMetadata, events[0].Type)
	require.Len(t, events[0].Metadata.Citations, 1)
	assert.Equal(t, "Doc One", events[0].Metadata.Citations[0].Title)
}

func TestRAGDegradesGracefullyWhenEmbedFails(t *testing.T) {
	r := &RAG{
		LLM:       &stubLLM{deltas: []string{"answer"}},
		Embed:     &stubEmbed{err: errors.New("embed unavailable")},
		Retrieval: &stubRetrieval{},
	}
	events := collect(t, r.Run(context.Background(), RunContext{History: []HistoryMessage{{Role: "user", Content: "what is it"}}}))

	require.NotEmpty(t, events)
	assert.Empty(t, events[0].Metadata.Citations)
	assert.Equal(t, EventDone, events[len(events)-1].Type)
}

func TestRAGWithoutDependenciesBehavesLikeNormal(t *testing.T) {
	r := &RAG{LLM: &stubLLM{deltas: []string{"x"}}}
	events := collect(t, r.Run(context.Background(), RunContext{History: []HistoryMessage{{Role: "user", Content: "hi"}}}))
	assert.Equal(t, EventDone, events[len(events)-1].Type)
}

var _ embedprovider.Provider = (*stubEmbed)(nil)
var _ retrieval.Provider = (*stubRetrieval)(nil)
