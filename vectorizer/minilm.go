package vectorizer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	backends "github.com/knights-analytics/hugot/pipelineBackends"
	"github.com/knights-analytics/hugot/pipelines"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/melodex/model"
)

// MiniLMModelID pins the embedding model. Changing the model changes the
// vector space and therefore the model version tag on every stored row.
const MiniLMModelID = "sentence-transformers/all-MiniLM-L6-v2"

// MiniLMOptions configures the local ONNX vectorizer.
type MiniLMOptions struct {
	// ModelPath is the directory holding the exported ONNX model and
	// tokenizer files.
	ModelPath string

	// OnnxLibraryPath points at the onnxruntime shared library. Required
	// for CUDA and MPS; ignored for pure-Go CPU inference.
	OnnxLibraryPath string

	// Device overrides automatic device selection. Zero value means
	// detect once at construction (CUDA > MPS > CPU).
	Device Device

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// MiniLM runs all-MiniLM-L6-v2 locally through an ONNX runtime session.
//
// The model input caps at 256 tokens; lyrics are truncated upstream by
// ComposeText so title and artist always survive tokenization.
type MiniLM struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	device   Device
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

var _ Vectorizer = (*MiniLM)(nil)

// NewMiniLM loads the model onto the best available device and verifies its
// output dimension. A dimension mismatch or load failure is fatal: the
// constructor errors instead of producing wrong-sized vectors.
func NewMiniLM(opts MiniLMOptions) (*MiniLM, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	device := opts.Device
	if device == "" {
		device = DetectDevice()
	}

	logger.Info("loading embedding model", "model", MiniLMModelID, "device", string(device))

	session, err := newSession(device, opts.OnnxLibraryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create inference session on %s: %w", device, err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: opts.ModelPath,
		Name:      "melodex-embedder",
		Options: []backends.PipelineOption[*pipelines.FeatureExtractionPipeline]{
			pipelines.WithNormalization(),
		},
	}

	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("failed to load embedding model: %w", err)
	}

	m := &MiniLM{
		session:  session,
		pipeline: pipeline,
		device:   device,
		sem:      semaphore.NewWeighted(1),
		logger:   logger,
	}

	// Warm-up inference pulls the weights onto the device and doubles as
	// the dimension check.
	probe, err := m.encode(context.Background(), []string{"warm-up"})
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("failed to warm up embedding model: %w", err)
	}

	if actual := len(probe[0]); actual != Dimension {
		_ = session.Destroy()
		return nil, fmt.Errorf("model dimension mismatch: expected %d, got %d", Dimension, actual)
	}

	logger.Info("embedding model ready", "model", MiniLMModelID, "device", string(device))

	return m, nil
}

func newSession(device Device, onnxLibraryPath string) (*hugot.Session, error) {
	switch device {
	case DeviceCUDA:
		return hugot.NewORTSession(
			options.WithOnnxLibraryPath(onnxLibraryPath),
			options.WithCuda(map[string]string{"device_id": "0"}),
		)
	case DeviceMPS:
		// The CoreML execution provider covers the Apple accelerator.
		return hugot.NewORTSession(
			options.WithOnnxLibraryPath(onnxLibraryPath),
			options.WithCoreML(map[string]string{}),
		)
	default:
		return hugot.NewGoSession()
	}
}

// Generate embeds a batch of tracks, sub-batched at batchSize, one vector
// per item in input order.
func (m *MiniLM) Generate(ctx context.Context, items []model.EmbeddingItem, batchSize int) ([][]float32, error) {
	if len(items) == 0 {
		return nil, nil
	}

	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	texts := composeBatch(items)

	// One encode at a time per process: the critical section bounds peak
	// accelerator memory at the cost of serializing throughput.
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.sem.Release(1)

	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))

		batch, err := m.runPipeline(texts[start:end])
		if err != nil {
			return nil, err
		}

		vectors = append(vectors, batch...)
	}

	if len(vectors) != len(items) {
		return nil, fmt.Errorf("model returned %d vectors for %d items", len(vectors), len(items))
	}

	return vectors, nil
}

// EmbedQuery embeds one free-text search query.
func (m *MiniLM) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vectors[0], nil
}

func (m *MiniLM) encode(ctx context.Context, texts []string) ([][]float32, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.sem.Release(1)

	return m.runPipeline(texts)
}

func (m *MiniLM) runPipeline(texts []string) ([][]float32, error) {
	out, err := m.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("embedding inference failed: %w", err)
	}

	return out.Embeddings, nil
}

// Dimension returns the embedding dimension.
func (m *MiniLM) Dimension() int {
	return Dimension
}

// ModelVersion returns the pinned model identifier.
func (m *MiniLM) ModelVersion() string {
	return MiniLMModelID
}

// Device reports the compute device chosen at construction.
func (m *MiniLM) Device() Device {
	return m.device
}

// Close releases the inference session.
func (m *MiniLM) Close() error {
	return m.session.Destroy()
}
