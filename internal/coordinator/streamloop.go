package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/chatcore/internal/agent"
	"github.com/hrygo/chatcore/internal/model"
	"github.com/hrygo/chatcore/internal/observability"
)

// streamLoop iterates the agent's event sequence, forwarding each
// event to out while persisting the in-progress assistant message
// opportunistically. The stream handle is always unregistered on exit
// (handled by the caller's defer).
func (c *Coordinator) streamLoop(ctx, runCtx context.Context, thread *model.Thread, streamID string, events <-chan agent.Event, out chan<- agent.Event) {
	logger := observability.FromContext(ctx)

	var (
		assistantID string
		content     strings.Builder
		eventsSinceUpsert int
		lastUpsert        = time.Now()
	)

	ensureAssistantID := func() {
		if assistantID == "" {
			assistantID = uuid.NewString()
		}
	}

	upsertPartial := func() {
		ensureAssistantID()
		msg := &model.Message{
			ID:       assistantID,
			ThreadID: thread.ID,
			UserID:   thread.UserID,
			Role:     model.RoleAssistant,
			Content:  content.String(),
			Metadata: model.Metadata{"streamId": streamID},
		}
		if _, _, err := c.Repo.Upsert(ctx, msg, ""); err != nil {
			logger.Warn("partial assistant upsert failed", "error", err)
		}
		eventsSinceUpsert = 0
		lastUpsert = time.Now()
	}

	finalize := func(errPayload *agent.ErrorPayload, aborted bool) {
		ensureAssistantID()
		meta := model.Metadata{"streamId": streamID}
		if errPayload != nil {
			meta["error"] = errPayload.Error
			meta["errorCode"] = errPayload.Code
		}
		msg := &model.Message{
			ID:       assistantID,
			ThreadID: thread.ID,
			UserID:   thread.UserID,
			Role:     model.RoleAssistant,
			Content:  content.String(),
			Metadata: meta,
		}
		if _, _, err := c.Repo.Upsert(ctx, msg, ""); err != nil {
			logger.Warn("final assistant upsert failed", "error", err)
		}

		switch {
		case errPayload != nil:
			sendOrDrop(out, agent.Event{Type: agent.EventError, Error: errPayload})
		default:
			sendOrDrop(out, agent.Event{Type: agent.EventDone, Done: &agent.DonePayload{
				MessageID: assistantID,
				StreamID:  streamID,
				Aborted:   aborted,
			}})
		}
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// The agent closed its channel without an explicit done
				// or error — treat as a clean completion so the stream
				// still terminates.
				finalize(nil, false)
				return
			}

			switch ev.Type {
			case agent.EventMetadata:
				if ev.Metadata != nil {
					ev.Metadata.StreamID = streamID
				}
				sendOrDrop(out, ev)

			case agent.EventAgentUpdated:
				ensureAssistantID()
				sendOrDrop(out, ev)

			case agent.EventData:
				sendOrDrop(out, ev)
				if ev.Data != nil {
					content.WriteString(ev.Data.Answer)
				}
				eventsSinceUpsert++
				if eventsSinceUpsert >= partialUpsertEveryEvents || time.Since(lastUpsert) >= partialUpsertEveryTime {
					upsertPartial()
				}

			case agent.EventError:
				finalize(ev.Error, false)
				return

			case agent.EventDone:
				finalize(nil, false)
				return
			}

		case <-runCtx.Done():
			finalize(nil, true)
			return
		}
	}
}

// sendOrDrop forwards ev to out, tolerating a reader that has already
// gone away (e.g. client disconnect observed by Transport after the
// agent goroutine already queued an event).
func sendOrDrop(out chan<- agent.Event, ev agent.Event) {
	select {
	case out <- ev:
	default:
		select {
		case out <- ev:
		case <-time.After(partialUpsertEveryTime):
		}
	}
}
