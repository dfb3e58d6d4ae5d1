package agent

import (
	"context"

	"github.com/google/uuid"

	"github.com/hrygo/chatcore/internal/apierrors"
	"github.com/hrygo/chatcore/internal/llmprovider"
)

// Normal is the direct-LLM built-in agent: one metadata, one
// agent_updated (final_answer), many data, one done.
type Normal struct {
	LLM llmprovider.Provider
}

func (n *Normal) Name() string { return "normal" }

func (n *Normal) Run(ctx context.Context, rc RunContext) <-chan Event {
	out := make(chan Event, EventBufferSize)

	go func() {
		defer close(out)

		streamID := rc.StreamID
		if streamID == "" {
			streamID = uuid.NewString()
		}

		if !emit(ctx, out, metadataEvent(MetadataPayload{TraceID: rc.TraceID, StreamID: streamID})) {
			return
		}
		if !emit(ctx, out, agentUpdatedEvent(AgentUpdatedPayload{
			AgentName:   n.Name(),
			ContentType: ContentFinalAnswer,
		})) {
			return
		}

		messages := buildMessages(rc)
		deltas, stats, errs := n.LLM.StreamComplete(ctx, rc.Model, messages, llmprovider.Params{
			Temperature:    rc.Temperature,
			MaxOutputToken: rc.MaxTokens,
		})

		streamDeltasToDone(ctx, out, deltas, stats, errs, streamID)
	}()

	return out
}

// buildMessages prepends the optional system prompt to the already
// truncated history.
func buildMessages(rc RunContext) []llmprovider.Message {
	var out []llmprovider.Message
	if rc.SystemPrompt != "" {
		out = append(out, llmprovider.Message{Role: "system", Content: rc.SystemPrompt})
	}
	out = append(out, toLLMMessages(rc.History)...)
	return out
}

// emit sends ev on out, returning false if ctx was cancelled first (the
// caller must stop producing further events in that case — the
// coordinator observes the cancellation independently at its own
// suspension point).
func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// drainBufferedDeltas flushes every Delta already sitting in deltas'
// buffer without blocking. The provider enqueues Stats right after EOF
// while earlier deltas may still be buffered, and a plain select chooses
// uniformly among ready cases rather than preferring the older data, so
// callers must drain deltas to empty before honoring a stats/done
// signal. Returns ok=false if ctx was cancelled mid-drain; the deltas
// channel itself is reported closed via the second return value.
func drainBufferedDeltas(ctx context.Context, out chan<- Event, deltas <-chan llmprovider.Delta) (closed, ok bool) {
	for {
		select {
		case d, open := <-deltas:
			if !open {
				return true, true
			}
			if !emit(ctx, out, dataEvent(d.Content)) {
				return false, false
			}
		default:
			return false, true
		}
	}
}

// streamDeltasToDone drains an llmprovider stream onto out as data
// events, then emits a single terminal done or error event. It is
// shared by Normal and the orchestrator's writer stage.
func streamDeltasToDone(ctx context.Context, out chan<- Event, deltas <-chan llmprovider.Delta, stats <-chan llmprovider.Stats, errs <-chan error, streamID string) {
	for {
		if deltas != nil {
			closed, ok := drainBufferedDeltas(ctx, out, deltas)
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
			if !emit(ctx, out, dataEvent(d.Content)) {
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				emit(ctx, out, errorEvent(ErrorPayload{
					Error: err.Error(),
					Code:  errorCode(err),
				}))
				return
			}
		case _, ok := <-stats:
			if !ok {
				// The stats channel closes with no value on the error
				// path too (all three channels close together), so a
				// closed-without-value stats is not itself a completion
				// signal: keep waiting on errs/deltas to close in turn.
				stats = nil
				continue
			}
			emit(ctx, out, doneEvent(DonePayload{StreamID: streamID}))
			return
		case <-ctx.Done():
			emit(ctx, out, doneEvent(DonePayload{StreamID: streamID, Aborted: true}))
			return
		}
		if deltas == nil && errs == nil && stats == nil {
			// All three channels closed without a stats value or an
			// error ever arriving; treat as a clean completion rather
			// than hanging forever.
			emit(ctx, out, doneEvent(DonePayload{StreamID: streamID}))
			return
		}
	}
}

func errorCode(err error) string {
	switch apierrors.KindOf(err) {
	case apierrors.Transient:
		return "UPSTREAM_THROTTLED"
	case apierrors.UpstreamFatal:
		return "UPSTREAM_UNAVAILABLE"
	case apierrors.Cancelled:
		return "CANCELLED"
	default:
		return "AGENT_ERROR"
	}
}
