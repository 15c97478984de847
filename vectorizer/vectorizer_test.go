package vectorizer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/melodex/metric"
	"github.com/hupe1980/melodex/model"
)

func TestComposeText(t *testing.T) {
	tests := []struct {
		name     string
		item     model.EmbeddingItem
		expected string
	}{
		{
			"Full",
			model.EmbeddingItem{Title: "Test Song", Artist: "Test Artist", Lyrics: "happy song"},
			"Title: Test Song | Artist: Test Artist | Lyrics: happy song",
		},
		{
			"MissingFieldsDefaultToUnknown",
			model.EmbeddingItem{},
			"Title: unknown | Artist: unknown | Lyrics: ",
		},
		{
			"NewlinesCollapsed",
			model.EmbeddingItem{Title: "A", Artist: "B", Lyrics: "line one\nline two\r\nline three"},
			"Title: A | Artist: B | Lyrics: line one line two  line three",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComposeText(tt.item))
		})
	}
}

func TestComposeTextTruncatesLyrics(t *testing.T) {
	item := model.EmbeddingItem{
		Title:  "A",
		Artist: "B",
		Lyrics: strings.Repeat("x", 5000),
	}

	got := ComposeText(item)

	// 1000 chars of lyrics plus the labeled preamble.
	assert.Equal(t, len("Title: A | Artist: B | Lyrics: ")+1000, len(got))
}

// Scenario: two tracks, batch size 2, output shape (2, 384), unit norms.
func TestHashingGenerateShapeAndNorm(t *testing.T) {
	ctx := context.Background()
	v := NewHashing()

	items := []model.EmbeddingItem{
		{Title: "Test Song", Artist: "Test Artist", Lyrics: "This is happy song about coding"},
		{Title: "Sad Song", Artist: "Blue Artist", Lyrics: "This is sad song about debugging"},
	}

	vectors, err := v.Generate(ctx, items, 2)
	require.NoError(t, err)

	require.Len(t, vectors, 2)
	for _, vec := range vectors {
		require.Len(t, vec, 384)
		assert.InDelta(t, 1.0, metric.Magnitude(vec), 1e-5)
	}
}

func TestHashingDeterminism(t *testing.T) {
	ctx := context.Background()
	v := NewHashing()

	a, err := v.EmbedQuery(ctx, "a song about heartbreak and late nights")
	require.NoError(t, err)

	b, err := v.EmbedQuery(ctx, "a song about heartbreak and late nights")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHashingSimilarTextScoresHigher(t *testing.T) {
	ctx := context.Background()
	v := NewHashing()

	q, err := v.EmbedQuery(ctx, "happy song about coding")
	require.NoError(t, err)

	near, err := v.EmbedQuery(ctx, "this happy song is about coding")
	require.NoError(t, err)

	far, err := v.EmbedQuery(ctx, "completely unrelated words entirely different")
	require.NoError(t, err)

	simNear, err := metric.Dot(q, near)
	require.NoError(t, err)

	simFar, err := metric.Dot(q, far)
	require.NoError(t, err)

	assert.Greater(t, simNear, simFar)
}

func TestHashingContract(t *testing.T) {
	v := NewHashing()

	assert.Equal(t, 384, v.Dimension())
	assert.Equal(t, HashingModelVersion, v.ModelVersion())
	assert.Equal(t, DeviceCPU, v.Device())
	assert.NoError(t, v.Close())
}

func TestDetectDeviceReturnsValidDevice(t *testing.T) {
	d := DetectDevice()
	assert.Contains(t, []Device{DeviceCUDA, DeviceMPS, DeviceCPU}, d)
}
