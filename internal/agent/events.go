// Package agent implements the Agent Runtime (C3): the agent contract
// — a pull-based producer of a closed, five-event tagged union — and
// the three built-in agents (normal, RAG, orchestrator).
//
// Agents are modelled as channel producers rather than callback
// emitters: the pull-based model lets a slow Transport (backpressure
// via synchronous flush) propagate naturally back to a suspended agent
// goroutine, instead of requiring the callback to buffer or drop.
package agent

import "github.com/hrygo/chatcore/internal/model"

// EventType is the tag of the closed five-event union.
type EventType string

const (
	EventMetadata     EventType = "metadata"
	EventAgentUpdated EventType = "agent_updated"
	EventData         EventType = "data"
	EventDone         EventType = "done"
	EventError        EventType = "error"
)

// ContentType classifies what an agent_updated event is about to
// produce.
type ContentType string

const (
	ContentThoughts    ContentType = "thoughts"
	ContentFinalAnswer ContentType = "final_answer"
)

// MetadataPayload is carried by the mandatory first event.
type MetadataPayload struct {
	TraceID   string           `json:"trace_id"`
	Citations []model.Citation `json:"citations,omitempty"`
	StreamID  string           `json:"stream_id"`
}

// AgentUpdatedPayload marks a change of active sub-agent or phase.
type AgentUpdatedPayload struct {
	AgentName      string      `json:"agent_name"`
	ContentType    ContentType `json:"content_type"`
	JobDescription string      `json:"job_description,omitempty"`
}

// DataPayload carries an incremental content fragment.
type DataPayload struct {
	Answer string `json:"answer"`
}

// DonePayload is carried by the terminal success event.
type DonePayload struct {
	MessageID string `json:"message_id,omitempty"`
	StreamID  string `json:"stream_id,omitempty"`
	// Aborted is set when the terminal event was produced because
	// cancellation was observed rather than natural completion.
	Aborted bool `json:"aborted,omitempty"`
}

// ErrorPayload is carried by the at-most-once terminal failure event.
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Event is one member of the closed tagged union. Exactly one payload
// field is populated, matching Type. Payloads are immutable once sent:
// callers must not mutate a received Event.
type Event struct {
	Type         EventType
	Metadata     *MetadataPayload
	AgentUpdated *AgentUpdatedPayload
	Data         *DataPayload
	Done         *DonePayload
	Error        *ErrorPayload
}

func metadataEvent(p MetadataPayload) Event     { return Event{Type: EventMetadata, Metadata: &p} }
func agentUpdatedEvent(p AgentUpdatedPayload) Event {
	return Event{Type: EventAgentUpdated, AgentUpdated: &p}
}
func dataEvent(answer string) Event { return Event{Type: EventData, Data: &DataPayload{Answer: answer}} }
func doneEvent(p DonePayload) Event { return Event{Type: EventDone, Done: &p} }
func errorEvent(p ErrorPayload) Event { return Event{Type: EventError, Error: &p} }
