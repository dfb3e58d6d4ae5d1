package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hrygo/chatcore/internal/embedprovider"
	"github.com/hrygo/chatcore/internal/llmprovider"
	"github.com/hrygo/chatcore/internal/model"
	"github.com/hrygo/chatcore/internal/retrieval"
)

// RAG is the retrieval-augmented built-in agent: embeds the latest user
// query, retrieves top-K passages scoped by user, emits them as
// metadata citations, prepends them as system context, then streams
// like Normal.
type RAG struct {
	LLM       llmprovider.Provider
	Embed     embedprovider.Provider
	Retrieval retrieval.Provider
	K         int
}

func (r *RAG) Name() string { return "rag" }

func (r *RAG) Run(ctx context.Context, rc RunContext) <-chan Event {
	out := make(chan Event, EventBufferSize)

	go func() {
		defer close(out)

		streamID := rc.StreamID
		if streamID == "" {
			streamID = uuid.NewString()
		}

		query := lastUserContent(rc.History)
		citations, retrievedContext := r.retrieve(ctx, rc.UserID, query)

		if !emit(ctx, out, metadataEvent(MetadataPayload{
			TraceID:   rc.TraceID,
			Citations: citations,
			StreamID:  streamID,
		})) {
			return
		}
		if !emit(ctx, out, agentUpdatedEvent(AgentUpdatedPayload{
			AgentName:   r.Name(),
			ContentType: ContentFinalAnswer,
		})) {
			return
		}

		messages := buildMessages(rc)
		if retrievedContext != "" {
			// Prepend retrieved passages as system context, after the
			// caller's own system prompt so the caller's instructions
			// still take precedence.
			ctxMsg := llmprovider.Message{Role: "system", Content: retrievedContext}
			if rc.SystemPrompt != "" {
				messages = append(messages[:1], append([]llmprovider.Message{ctxMsg}, messages[1:]...)...)
			} else {
				messages = append([]llmprovider.Message{ctxMsg}, messages...)
			}
		}

		deltas, stats, errs := r.LLM.StreamComplete(ctx, rc.Model, messages, llmprovider.Params{
			Temperature:    rc.Temperature,
			MaxOutputToken: rc.MaxTokens,
		})
		streamDeltasToDone(ctx, out, deltas, stats, errs, streamID)
	}()

	return out
}

func (r *RAG) retrieve(ctx context.Context, userID, query string) ([]model.Citation, string) {
	if r.Embed == nil || r.Retrieval == nil || query == "" {
		return nil, ""
	}

	vector, err := r.Embed.Embed(ctx, query)
	if err != nil {
		// Retrieval is best-effort augmentation, not a hard dependency
		// of Normal-equivalent behaviour: a failure here degrades to an
		// unaugmented answer rather than aborting the stream.
		return nil, ""
	}

	k := r.K
	if k <= 0 {
		k = retrieval.DefaultK
	}
	docs, err := r.Retrieval.Search(ctx, vector, k, retrieval.SearchOptions{UserID: userID})
	if err != nil || len(docs) == 0 {
		return nil, ""
	}

	citations := make([]model.Citation, 0, len(docs))
	var sb strings.Builder
	sb.WriteString("Relevant context retrieved for this question:\n")
	for _, d := range docs {
		title, _ := d.Metadata["title"].(string)
		source, _ := d.Metadata["source"].(string)
		if title == "" {
			title = d.ID
		}
		citations = append(citations, model.Citation{
			Title:   title,
			Source:  source,
			Snippet: snippet(d.Content, 200),
			Score:   d.Score,
		})
		fmt.Fprintf(&sb, "- [%s] %s\n", title, d.Content)
	}
	return citations, sb.String()
}

func lastUserContent(history []HistoryMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return history[i].Content
		}
	}
	return ""
}

func snippet(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
