package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hrygo/chatcore/internal/apierrors"
	"github.com/hrygo/chatcore/internal/llmprovider"
)

const (
	titleTimeout      = 15 * time.Second
	titleMaxRuneCount = 50
	titleMaxInputLen  = 500
)

const titleSystemPrompt = `You generate short, literal titles for chat threads from the user's first message. Respond with a single JSON object: {"title": "..."}. The title must be 3-8 words, in the same language as the message, with no trailing punctuation.`

// LLMTitler generates a thread title from the first user message via a
// short, non-streamed LLM call.
type LLMTitler struct {
	LLM   llmprovider.Provider
	Model string
}

func (t *LLMTitler) Title(ctx context.Context, userMessage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	content, _, err := t.LLM.Complete(ctx, t.Model, []llmprovider.Message{
		{Role: "system", Content: titleSystemPrompt},
		{Role: "user", Content: truncateRunes(userMessage, titleMaxInputLen)},
	}, llmprovider.Params{Temperature: 0.1, MaxOutputToken: 32})
	if err != nil {
		return "", err
	}

	var parsed struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || parsed.Title == "" {
		return "", apierrors.New(apierrors.UpstreamFatal, "", "title generation returned no usable title")
	}

	return truncateRunes(parsed.Title, titleMaxRuneCount), nil
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
