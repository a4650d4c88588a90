package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbeddings struct {
	dim int
	err error
}

func (f fakeEmbeddings) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = float32(i)
	}
	return out, nil
}

func (f fakeEmbeddings) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func TestEmbedderEmbed(t *testing.T) {
	e := NewEmbedderFrom(fakeEmbeddings{dim: 4}, "fake", 4, nil, nil)

	vectors, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(2), vectors[2][0])

	empty, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEmbedderDimensionMismatch(t *testing.T) {
	e := NewEmbedderFrom(fakeEmbeddings{dim: 3}, "fake", 4, nil, nil)

	_, err := e.EmbedQuery(context.Background(), "a")
	assert.ErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestEmbedderAnyDimension(t *testing.T) {
	e := NewEmbedderFrom(fakeEmbeddings{dim: 7}, "fake", 0, nil, nil)

	v, err := e.EmbedQuery(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, v, 7)
}

func TestEmbedderProviderError(t *testing.T) {
	e := NewEmbedderFrom(fakeEmbeddings{err: errors.New("insufficient quota")}, "fake", 4, nil, nil)

	_, err := e.Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, ErrFatalAPI)
}
