package embeddings

import (
	"context"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"coursecast/internal/domain/usage"
	"coursecast/internal/services/cost_tracker"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// Meter records the cost of embedding calls
type Meter interface {
	TrackOpenAIEmbedding(ctx context.Context, call cost_tracker.Call, resp *openai.CreateEmbeddingResponse) *usage.Event
	TrackEmbeddingUsage(ctx context.Context, call cost_tracker.Call, model string, tokens int64) *usage.Event
}

// OpenAIOption configures an OpenAIProvider
type OpenAIOption func(*OpenAIProvider)

// WithMeter meters every API call, failed ones included
func WithMeter(m Meter) OpenAIOption {
	return func(p *OpenAIProvider) { p.meter = m }
}

// WithRequestOptions passes options to the underlying SDK client
func WithRequestOptions(opts ...option.RequestOption) OpenAIOption {
	return func(p *OpenAIProvider) { p.requestOpts = append(p.requestOpts, opts...) }
}

// WithLogger overrides the global logger
func WithLogger(log *logger.Logger) OpenAIOption {
	return func(p *OpenAIProvider) { p.log = log }
}

// OpenAIProvider implements embedding generation using official OpenAI Go SDK
type OpenAIProvider struct {
	client      openai.Client // NewClient returns Client (not *Client)
	model       openai.EmbeddingModel
	dimensions  int
	timeout     time.Duration
	meter       Meter
	requestOpts []option.RequestOption
	log         *logger.Logger
}

// NewOpenAIProvider creates a new OpenAI embedding provider
func NewOpenAIProvider(apiKey string, model string, timeout time.Duration, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "openai API key is required")
	}

	if model == "" {
		model = openai.EmbeddingModelTextEmbedding3Small
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	p := &OpenAIProvider{
		model:      openai.EmbeddingModel(model),
		dimensions: getDimensions(model),
		timeout:    timeout,
		log:        logger.Get(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "openai_embeddings", "model", model)

	p.client = openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, p.requestOpts...)...)
	return p, nil
}

// GenerateEmbedding creates a vector embedding for the given text
func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "text cannot be empty")
	}

	vectors, err := p.embed(ctx, openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)}, 1)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateBatchEmbeddings creates embeddings for multiple texts in one API call
func (p *OpenAIProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "texts cannot be empty")
	}
	return p.embed(ctx, openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts}, len(texts))
}

func (p *OpenAIProvider) embed(ctx context.Context, input openai.EmbeddingNewParamsInputUnion, want int) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	response, err := p.client.Embeddings.New(callCtx, openai.EmbeddingNewParams{
		Input: input,
		Model: p.model,
	})
	p.record(ctx, time.Since(start), response, err)
	if err != nil {
		return nil, errors.Wrap(err, "openai API call failed")
	}

	if len(response.Data) != want {
		return nil, errors.Wrapf(errors.ErrInternal, "expected %d embeddings, got %d", want, len(response.Data))
	}

	// Data is ordered by Index; place by index anyway
	embeddings := make([][]float32, want)
	for i, data := range response.Data {
		idx := int(data.Index)
		if idx < 0 || idx >= want || embeddings[idx] != nil {
			idx = i
		}
		result := make([]float32, len(data.Embedding))
		for j, val := range data.Embedding {
			result[j] = float32(val)
		}
		embeddings[idx] = result
	}

	p.log.Debugw("Generated embeddings",
		"batch_size", want,
		"embedding_dims", len(embeddings[0]),
		"tokens_used", response.Usage.TotalTokens)

	return embeddings, nil
}

// record meters the call on behalf of the caller found in ctx
func (p *OpenAIProvider) record(ctx context.Context, latency time.Duration, resp *openai.CreateEmbeddingResponse, err error) {
	if p.meter == nil {
		return
	}

	call := CallFromContext(ctx)
	call.Latency = latency
	if call.Endpoint == "" {
		call.Endpoint = "embeddings"
	}

	if err != nil {
		call.Err = err
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			call.StatusCode = apiErr.StatusCode
		}
		p.meter.TrackEmbeddingUsage(ctx, call, string(p.model), 0)
		return
	}
	p.meter.TrackOpenAIEmbedding(ctx, call, resp)
}

// Dimensions returns the dimensionality of embeddings
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

// Name returns the model name (e.g., "text-embedding-3-small")
func (p *OpenAIProvider) Name() string {
	return string(p.model)
}

// getDimensions returns embedding dimensions for known OpenAI models
func getDimensions(model string) int {
	switch model {
	case openai.EmbeddingModelTextEmbedding3Large:
		return 3072
	default:
		return 1536 // text-embedding-3-small, text-embedding-ada-002
	}
}
