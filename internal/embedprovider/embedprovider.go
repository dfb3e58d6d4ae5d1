// Package embedprovider implements the embeddings provider dependency:
// embed(text|text[]) -> fixed-dimension vectors. Backed by the same
// sashabaranov/go-openai client family as llmprovider, since an
// OpenAI-compatible embeddings service is just go-openai's
// CreateEmbeddings against a configurable base URL.
package embedprovider

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hrygo/chatcore/internal/apierrors"
)

// Provider is the embeddings dependency the RAG and orchestrator agents
// use for retrieval.
type Provider interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the fixed dimension D of returned vectors.
	Dimensions() int
}

// Config configures an OpenAI-compatible embeddings Provider.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int // commonly 3072
	Timeout    time.Duration
}

type provider struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration
}

// New constructs a Provider from cfg.
func New(cfg Config) Provider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &provider{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		timeout:    timeout,
	}
}

func (p *provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, apierrors.New(apierrors.UpstreamFatal, "", "empty embedding result")
	}
	return vectors[0], nil
}

func (p *provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, apierrors.New(apierrors.Invalid, "", "no texts provided for embedding")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimensions,
	}
	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Transient, "", err, "create embeddings failed")
	}
	if len(resp.Data) == 0 {
		return nil, apierrors.New(apierrors.UpstreamFatal, "", "empty embedding response")
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (p *provider) Dimensions() int { return p.dimensions }
