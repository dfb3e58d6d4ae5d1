package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hrygo/chatcore/internal/agent"
)

// heartbeatInterval is the idle cadence for the keep-alive comment line.
const heartbeatInterval = 5 * time.Second

// sseWriter serialises agent.Event values to the standard SSE wire
// format: "event: <type>\ndata: <json>\n\n", with every interior
// newline of a multi-line JSON payload rewritten with a "data: " prefix.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) writeEvent(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var body strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		body.WriteString("data: ")
		body.WriteString(scanner.Text())
		body.WriteString("\n")
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\n%s\n", eventType, body.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) writeComment(comment string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", comment); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// heartbeatTicker resets on every real event and fires c after
// heartbeatInterval of inactivity, backing the keep-alive comment line.
type heartbeatTicker struct {
	t *time.Timer
	c <-chan time.Time
}

func newHeartbeatTicker() *heartbeatTicker {
	t := time.NewTimer(heartbeatInterval)
	return &heartbeatTicker{t: t, c: t.C}
}

func (h *heartbeatTicker) reset() {
	if !h.t.Stop() {
		select {
		case <-h.t.C:
		default:
		}
	}
	h.t.Reset(heartbeatInterval)
}

func (h *heartbeatTicker) stop() {
	h.t.Stop()
}

// payloadFor extracts the JSON-facing payload for ev, or nil for an event
// type whose payload field wasn't populated.
func payloadFor(ev agent.Event) any {
	switch ev.Type {
	case agent.EventMetadata:
		return ev.Metadata
	case agent.EventAgentUpdated:
		return ev.AgentUpdated
	case agent.EventData:
		return ev.Data
	case agent.EventDone:
		return ev.Done
	case agent.EventError:
		return ev.Error
	default:
		return nil
	}
}
