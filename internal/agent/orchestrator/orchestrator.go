// Package orchestrator implements the multi-agent built-in agent: a
// deterministic, non-looping planner -> (optional researcher) -> writer
// sequence.
//
// A dynamic decompose/execute/aggregate orchestrator would drive stages
// via an LLM decomposer and support expert handoff when a sub-agent
// reports inability. This package pins the sequence instead: three
// fixed stages, no loop, no dynamic expert selection. It keeps the
// three-stage shape (decompose/execute/aggregate becomes
// plan/research/write) and the "report inability rather than silently
// handing off" idiom, surfaced here as the writer's AGENT_ERROR, while
// dropping the ExpertRegistry/CapabilityMap/HandoffHandler machinery
// the pinned order makes unnecessary.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	agentpkg "github.com/hrygo/chatcore/internal/agent"
	"github.com/hrygo/chatcore/internal/embedprovider"
	"github.com/hrygo/chatcore/internal/llmprovider"
	"github.com/hrygo/chatcore/internal/retrieval"
)

const (
	namePlanner    = "planner"
	nameResearcher = "researcher"
	nameWriter     = "writer"
)

// Orchestrator is the multi-agent built-in agent.
type Orchestrator struct {
	LLM       llmprovider.Provider
	Embed     embedprovider.Provider // optional; enables the researcher stage
	Retrieval retrieval.Provider     // optional; enables the researcher stage
	Model     string
}

func (o *Orchestrator) Name() string { return "orchestrator" }

func (o *Orchestrator) Run(ctx context.Context, rc agentpkg.RunContext) <-chan agentpkg.Event {
	out := make(chan agentpkg.Event, agentpkg.EventBufferSize)

	go func() {
		defer close(out)

		streamID := rc.StreamID
		if streamID == "" {
			streamID = uuid.NewString()
		}

		if !o.emit(ctx, out, agentpkg.Event{
			Type: agentpkg.EventMetadata,
			Metadata: &agentpkg.MetadataPayload{
				TraceID:  rc.TraceID,
				StreamID: streamID,
			},
		}) {
			return
		}

		query := lastUserContent(rc.History)

		plan, ok := o.plan(ctx, out, rc, query)
		if !ok {
			return
		}

		var findings string
		if plan.requiresResearch && o.Embed != nil && o.Retrieval != nil {
			var ok2 bool
			findings, ok2 = o.research(ctx, out, rc, query)
			if !ok2 {
				return
			}
		}

		o.write(ctx, out, rc, streamID, plan.summary, findings)
	}()

	return out
}

type planResult struct {
	summary          string
	requiresResearch bool
}

// plan runs the planner stage: streamed "thoughts" content, returning a
// plan summary once the planner's stream completes.
func (o *Orchestrator) plan(ctx context.Context, out chan<- agentpkg.Event, rc agentpkg.RunContext, query string) (planResult, bool) {
	if !o.emit(ctx, out, agentpkg.Event{
		Type: agentpkg.EventAgentUpdated,
		AgentUpdated: &agentpkg.AgentUpdatedPayload{
			AgentName:      namePlanner,
			ContentType:    agentpkg.ContentThoughts,
			JobDescription: "decomposing the request into a short plan",
		},
	}) {
		return planResult{}, false
	}

	prompt := []llmprovider.Message{
		{Role: "system", Content: "You are a planning assistant. In 2-3 sentences, state the plan for answering the user's question. If answering well requires looking up facts beyond the conversation so far, say so explicitly."},
		{Role: "user", Content: query},
	}

	summary, ok := o.streamToAnswer(ctx, out, rc.Model, prompt, rc)
	if !ok {
		return planResult{}, false
	}

	requiresResearch := containsAny(strings.ToLower(summary), "look up", "research", "search", "find out", "additional information")
	return planResult{summary: summary, requiresResearch: requiresResearch}, true
}

// research runs the researcher stage when the planner flagged a need
// for it, embedding the query and retrieving supporting passages.
func (o *Orchestrator) research(ctx context.Context, out chan<- agentpkg.Event, rc agentpkg.RunContext, query string) (string, bool) {
	if !o.emit(ctx, out, agentpkg.Event{
		Type: agentpkg.EventAgentUpdated,
		AgentUpdated: &agentpkg.AgentUpdatedPayload{
			AgentName:      nameResearcher,
			ContentType:    agentpkg.ContentThoughts,
			JobDescription: "retrieving supporting information",
		},
	}) {
		return "", false
	}

	vector, err := o.Embed.Embed(ctx, query)
	if err != nil {
		return o.fail(ctx, out, err)
	}
	docs, err := o.Retrieval.Search(ctx, vector, retrieval.DefaultK, retrieval.SearchOptions{UserID: rc.UserID})
	if err != nil {
		return o.fail(ctx, out, err)
	}

	var sb strings.Builder
	if len(docs) == 0 {
		sb.WriteString("No supporting documents were found.")
	} else {
		fmt.Fprintf(&sb, "Found %d supporting document(s):\n", len(docs))
		for _, d := range docs {
			fmt.Fprintf(&sb, "- %s\n", d.Content)
		}
	}
	findings := sb.String()
	if !o.emit(ctx, out, agentpkg.Event{Type: agentpkg.EventData, Data: &agentpkg.DataPayload{Answer: findings}}) {
		return "", false
	}
	return findings, true
}

// write runs the writer stage: streams the final answer using the plan
// and any findings as context. If the writer cannot proceed, it reports
// AGENT_ERROR rather than silently handing off — the pinned sequential
// order has no fallback agent to hand off to.
func (o *Orchestrator) write(ctx context.Context, out chan<- agentpkg.Event, rc agentpkg.RunContext, streamID, planSummary, findings string) {
	if !o.emit(ctx, out, agentpkg.Event{
		Type: agentpkg.EventAgentUpdated,
		AgentUpdated: &agentpkg.AgentUpdatedPayload{
			AgentName:   nameWriter,
			ContentType: agentpkg.ContentFinalAnswer,
		},
	}) {
		return
	}

	if planSummary == "" {
		o.emit(ctx, out, agentpkg.Event{
			Type:  agentpkg.EventError,
			Error: &agentpkg.ErrorPayload{Error: "writer received no usable plan", Code: "AGENT_ERROR"},
		})
		return
	}

	var context strings.Builder
	fmt.Fprintf(&context, "Plan: %s\n", planSummary)
	if findings != "" {
		fmt.Fprintf(&context, "Findings: %s\n", findings)
	}

	messages := []llmprovider.Message{
		{Role: "system", Content: context.String()},
	}
	for _, h := range rc.History {
		messages = append(messages, llmprovider.Message{Role: h.Role, Content: h.Content})
	}

	deltas, stats, errs := o.LLM.StreamComplete(ctx, rc.Model, messages, llmprovider.Params{
		Temperature:    rc.Temperature,
		MaxOutputToken: rc.MaxTokens,
	})
	streamToEvents(ctx, out, deltas, stats, errs, streamID)
}

func (o *Orchestrator) fail(ctx context.Context, out chan<- agentpkg.Event, err error) (string, bool) {
	o.emit(ctx, out, agentpkg.Event{
		Type:  agentpkg.EventError,
		Error: &agentpkg.ErrorPayload{Error: err.Error(), Code: "AGENT_ERROR"},
	})
	return "", false
}

// streamToAnswer drains a non-terminal planning/thinking stream as data
// events and returns the concatenated answer without emitting a done
// event (the orchestrator's overall done is emitted once, by the
// writer stage).
func (o *Orchestrator) streamToAnswer(ctx context.Context, out chan<- agentpkg.Event, model string, messages []llmprovider.Message, rc agentpkg.RunContext) (string, bool) {
	deltas, stats, errs := o.LLM.StreamComplete(ctx, rc.Model, messages, llmprovider.Params{
		Temperature:    rc.Temperature,
		MaxOutputToken: 512,
	})

	var sb strings.Builder
	// drain flushes whatever is already sitting in deltas' buffer before
	// the loop below considers a stats/done signal — the provider
	// enqueues Stats right after EOF while earlier deltas may still be
	// buffered, and select would otherwise pick either uniformly at
	// random.
	drain := func() (closed, ok bool) {
		for {
			select {
			case d, open := <-deltas:
				if !open {
					return true, true
				}
				sb.WriteString(d.Content)
				if !o.emit(ctx, out, agentpkg.Event{Type: agentpkg.EventData, Data: &agentpkg.DataPayload{Answer: d.Content}}) {
					return false, false
				}
			default:
				return false, true
			}
		}
	}

	for {
		if deltas != nil {
			closed, ok := drain()
			if !ok {
				return "", false
			}
			if closed {
				deltas = nil
			}
		}

		select {
		case d, ok := <-deltas:
			if !ok {
				deltas = nil
				continue
			}
			sb.WriteString(d.Content)
			if !o.emit(ctx, out, agentpkg.Event{Type: agentpkg.EventData, Data: &agentpkg.DataPayload{Answer: d.Content}}) {
				return "", false
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				o.fail(ctx, out, err)
				return "", false
			}
		case _, ok := <-stats:
			if !ok {
				stats = nil
				continue
			}
			return sb.String(), true
		case <-ctx.Done():
			return sb.String(), false
		}
		if deltas == nil && errs == nil && stats == nil {
			return sb.String(), true
		}
	}
}

// streamToEvents drains the writer's terminal stream, emitting data
// events and a single terminal done/error event.
func streamToEvents(ctx context.Context, out chan<- agentpkg.Event, deltas <-chan llmprovider.Delta, stats <-chan llmprovider.Stats, errs <-chan error, streamID string) {
	// drain flushes whatever is already sitting in deltas' buffer before
	// the loop below considers a stats/done signal — the provider
	// enqueues Stats right after EOF while earlier deltas may still be
	// buffered, and select would otherwise pick either uniformly at
	// random.
	drain := func() (closed, ok bool) {
		for {
			select {
			case d, open := <-deltas:
				if !open {
					return true, true
				}
				select {
				case out <- agentpkg.Event{Type: agentpkg.EventData, Data: &agentpkg.DataPayload{Answer: d.Content}}:
				case <-ctx.Done():
					return false, false
				}
			default:
				return false, true
			}
		}
	}

	for {
		if deltas != nil {
			closed, ok := drain()
			if !ok {
				return
			}
			if closed {
				deltas = nil
			}
		}

		select {
		case d, ok := <-deltas:
			if !ok {
				deltas = nil
				continue
			}
			select {
			case out <- agentpkg.Event{Type: agentpkg.EventData, Data: &agentpkg.DataPayload{Answer: d.Content}}:
			case <-ctx.Done():
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				select {
				case out <- agentpkg.Event{Type: agentpkg.EventError, Error: &agentpkg.ErrorPayload{Error: err.Error(), Code: "AGENT_ERROR"}}:
				case <-ctx.Done():
				}
				return
			}
		case _, ok := <-stats:
			if !ok {
				stats = nil
				if deltas == nil && errs == nil {
					select {
					case out <- agentpkg.Event{Type: agentpkg.EventDone, Done: &agentpkg.DonePayload{StreamID: streamID}}:
					case <-ctx.Done():
					}
					return
				}
				continue
			}
			select {
			case out <- agentpkg.Event{Type: agentpkg.EventDone, Done: &agentpkg.DonePayload{StreamID: streamID}}:
			case <-ctx.Done():
			}
			return
		case <-ctx.Done():
			select {
			case out <- agentpkg.Event{Type: agentpkg.EventDone, Done: &agentpkg.DonePayload{StreamID: streamID, Aborted: true}}:
			default:
			}
			return
		}
	}
}

func (o *Orchestrator) emit(ctx context.Context, out chan<- agentpkg.Event, ev agentpkg.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func lastUserContent(history []agentpkg.HistoryMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return history[i].Content
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var _ agentpkg.Agent = (*Orchestrator)(nil)
