package transport

import "github.com/hrygo/chatcore/internal/model"

// chatStreamRequest is the JSON body of POST /chat/stream.
type chatStreamRequest struct {
	ThreadID          string            `json:"threadId"`
	Messages          []inputMessageDTO `json:"messages"`
	AgentType         string            `json:"agentType"`
	ConversationStyle string            `json:"conversationStyle"`
	MaxTokens         int               `json:"maxTokens"`
	Temperature       float32           `json:"temperature"`
	SystemPrompt      string            `json:"systemPrompt"`
	Model             string            `json:"model"`
}

type inputMessageDTO struct {
	ID       string          `json:"id"`
	Role     string          `json:"role"`
	Content  string          `json:"content"`
	Metadata model.Metadata  `json:"metadata,omitempty"`
}

type stopRequest struct {
	ThreadID string `json:"threadId"`
}

type stopResponse struct {
	Success bool `json:"success"`
}

type agentDescriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type agentsResponse struct {
	Agents []agentDescriptor `json:"agents"`
}

type threadPatchRequest struct {
	Title        *string        `json:"title,omitempty"`
	IsBookmarked *bool          `json:"isBookmarked,omitempty"`
	Metadata     model.Metadata `json:"metadata,omitempty"`
}

type mutationResponse struct {
	Success bool          `json:"success"`
	Entity  *model.Thread `json:"entity,omitempty"`
	NewETag string        `json:"newEtag,omitempty"`
}

type bookmarkResponse struct {
	Success      bool `json:"success"`
	IsBookmarked bool `json:"isBookmarked"`
}

type pageResponse[T any] struct {
	Items             []T    `json:"items"`
	ContinuationToken string `json:"continuationToken,omitempty"`
	HasMore           bool   `json:"hasMore"`
}

func pageFrom[T any](p model.Page[T]) pageResponse[T] {
	return pageResponse[T]{
		Items:             p.Items,
		ContinuationToken: p.ContinuationToken,
		HasMore:           p.HasMore,
	}
}
