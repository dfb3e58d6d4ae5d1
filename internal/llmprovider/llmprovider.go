// Package llmprovider implements the LLM streaming provider dependency:
// a streaming chat-completion client. It is backed by
// sashabaranov/go-openai against any OpenAI-compatible endpoint, one
// client supporting many backends (OpenAI, DeepSeek, SiliconFlow,
// Z.AI, Ollama) without a provider-specific client per backend.
package llmprovider

import (
	"context"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hrygo/chatcore/internal/apierrors"
)

// Message is one entry of the ordered input to a completion call.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Params bounds a single completion call.
type Params struct {
	Temperature    float32 // [0,1]
	MaxOutputToken int     // [1, 8192]
}

// Delta is one incremental fragment of a streaming completion.
type Delta struct {
	Content string
}

// Stats summarises token usage and latency for a completed call. The
// built-in agents treat its arrival as the completion signal only; the
// values are not forwarded on the `done` event or persisted.
type Stats struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	TotalDuration    time.Duration
}

// Provider is the LLM streaming dependency the Agent Runtime consumes.
type Provider interface {
	// StreamComplete streams a completion for messages under params.
	// The returned channels are closed exactly once streaming ends;
	// deltas may continue to arrive after ctx is done only until the
	// provider observes cancellation (bounded by its own internal
	// timeout). At most one of a final Stats value or an error is sent
	// on their respective channels before the channels close; when ctx
	// is done while a delta is waiting to be sent, neither is sent.
	StreamComplete(ctx context.Context, model string, messages []Message, params Params) (<-chan Delta, <-chan Stats, <-chan error)

	// Complete performs a synchronous (non-streamed) completion, used
	// by the coordinator's auto-titling side effect where a short
	// blocking call is simpler than consuming a stream.
	Complete(ctx context.Context, model string, messages []Message, params Params) (string, Stats, error)
}

// Config configures an OpenAI-compatible Provider.
type Config struct {
	APIKey  string
	BaseURL string
	// Timeout bounds a single completion call; defaults to 120s.
	Timeout time.Duration
	// RateLimitPerSecond throttles outbound requests to this provider;
	// zero disables limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

type provider struct {
	client  *openai.Client
	timeout time.Duration
	limiter *rate.Limiter
}

// New constructs a Provider from cfg.
func New(cfg Config) Provider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = newHTTPClient()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}

	return &provider{client: openai.NewClientWithConfig(clientCfg), timeout: timeout, limiter: limiter}
}

func (p *provider) await(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return apierrors.Wrap(apierrors.Transient, "", err, "rate limit wait failed")
	}
	return nil
}

func (p *provider) StreamComplete(ctx context.Context, model string, messages []Message, params Params) (<-chan Delta, <-chan Stats, <-chan error) {
	deltas := make(chan Delta, 64)
	stats := make(chan Stats, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(stats)
		defer close(errs)

		if err := p.await(ctx); err != nil {
			errs <- err
			return
		}

		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		req := openai.ChatCompletionRequest{
			Model:       model,
			MaxTokens:   clampMaxTokens(params.MaxOutputToken),
			Temperature: params.Temperature,
			Messages:    convert(messages),
			StreamOptions: &openai.StreamOptions{
				IncludeUsage: true,
			},
		}

		start := time.Now()
		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			errs <- classify(err)
			return
		}
		defer func() { _ = stream.Close() }()

		var usage Stats
		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					usage.TotalDuration = time.Since(start)
					stats <- usage
					return
				}
				errs <- classify(err)
				return
			}

			if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
				usage.PromptTokens = resp.Usage.PromptTokens
				usage.CompletionTokens = resp.Usage.CompletionTokens
				usage.TotalTokens = resp.Usage.TotalTokens
			}

			if len(resp.Choices) == 0 {
				continue
			}
			if content := resp.Choices[0].Delta.Content; content != "" {
				select {
				case deltas <- Delta{Content: content}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return deltas, stats, errs
}

func (p *provider) Complete(ctx context.Context, model string, messages []Message, params Params) (string, Stats, error) {
	if err := p.await(ctx); err != nil {
		return "", Stats{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	req := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   clampMaxTokens(params.MaxOutputToken),
		Temperature: params.Temperature,
		Messages:    convert(messages),
	}
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", Stats{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", Stats{}, apierrors.New(apierrors.UpstreamFatal, "", "empty response from LLM")
	}
	return resp.Choices[0].Message.Content, Stats{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		TotalDuration:    time.Since(start),
	}, nil
}

func clampMaxTokens(n int) int {
	if n <= 0 {
		return 2048
	}
	if n > 8192 {
		return 8192
	}
	return n
}

func convert(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}

// classify maps a go-openai transport error onto the core's abstract
// taxonomy: rate limiting, 5xx responses and network failures are
// Transient; anything else from the upstream is UpstreamFatal. The
// provider does not retry a failed call itself.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429:
			return apierrors.Wrap(apierrors.Transient, "", err, "rate limited by upstream")
		case 500, 502, 503, 504:
			return apierrors.Wrap(apierrors.Transient, "", err, "upstream server error")
		default:
			return apierrors.Wrap(apierrors.UpstreamFatal, "", err, "upstream rejected request")
		}
	}
	if apierrors.KindOf(err) == apierrors.Transient {
		return apierrors.Wrap(apierrors.Transient, "", err, "transport error")
	}
	return apierrors.Wrap(apierrors.UpstreamFatal, "", err, "llm request failed")
}
