package vectorizer

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/melodex/metric"
	"github.com/hupe1980/melodex/model"
)

// OpenAIOptions configures the hosted embedding backend.
type OpenAIOptions struct {
	// APIKey defaults to the OPENAI_API_KEY environment variable.
	APIKey string

	// Model defaults to text-embedding-3-small, requested at 384
	// dimensions to stay wire-compatible with the local model.
	Model string
}

// OpenAI embeds through a hosted API. It exists for deployments without a
// local ONNX model; there is no device policy, the compute runs remotely.
type OpenAI struct {
	client openai.Client
	model  string
	sem    *semaphore.Weighted
}

var _ Vectorizer = (*OpenAI)(nil)

// NewOpenAI creates the hosted backend.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	m := opts.Model
	if m == "" {
		m = string(openai.EmbeddingModelTextEmbedding3Small)
	}

	return &OpenAI{
		client: openai.NewClient(clientOpts...),
		model:  m,
		sem:    semaphore.NewWeighted(1),
	}
}

// Generate embeds a batch of tracks, sub-batched at batchSize, one vector
// per item in input order.
func (o *OpenAI) Generate(ctx context.Context, items []model.EmbeddingItem, batchSize int) ([][]float32, error) {
	if len(items) == 0 {
		return nil, nil
	}

	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	texts := composeBatch(items)

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.sem.Release(1)

	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))

		batch, err := o.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}

		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// EmbedQuery embeds one free-text query.
func (o *OpenAI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.sem.Release(1)

	vectors, err := o.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vectors[0], nil
}

func (o *OpenAI) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      o.model,
		Dimensions: openai.Int(Dimension),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("api returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}

		if len(v) != Dimension {
			return nil, fmt.Errorf("api dimension mismatch: expected %d, got %d", Dimension, len(v))
		}

		// Dimension-reduced API vectors are not unit norm; renormalize so
		// the inner-product convention holds.
		metric.NormalizeL2InPlace(v)

		vectors[i] = v
	}

	return vectors, nil
}

// Dimension returns the embedding dimension.
func (o *OpenAI) Dimension() int {
	return Dimension
}

// ModelVersion returns the hosted model identifier.
func (o *OpenAI) ModelVersion() string {
	return o.model
}

// Device reports remote compute.
func (o *OpenAI) Device() Device {
	return DeviceRemote
}

// Close is a no-op; the client is stateless.
func (o *OpenAI) Close() error {
	return nil
}
