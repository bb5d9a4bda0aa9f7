package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func TestCachedEmbedder_HitsCache(t *testing.T) {
	inner := new(MockEmbedder)
	ctx := context.Background()
	vec := []float32{0.1, 0.2}
	inner.On("GenerateEmbedding", ctx, "penalty clause").Return(vec, nil).Once()

	c := NewCachedEmbedder(inner, 4, time.Minute)

	first, err := c.GenerateEmbedding(ctx, "penalty clause")
	require.NoError(t, err)
	second, err := c.GenerateEmbedding(ctx, "penalty clause")
	require.NoError(t, err)

	assert.Equal(t, vec, first)
	assert.Equal(t, vec, second)
	assert.Equal(t, 1, c.Len())
	inner.AssertExpectations(t)
}

func TestCachedEmbedder_BoundedSize(t *testing.T) {
	c := NewCachedEmbedder(NewHashEmbedder(), 2, time.Minute)
	ctx := context.Background()

	for _, q := range []string{"one", "two", "three"} {
		_, err := c.GenerateEmbedding(ctx, q)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, c.Len())
}

func TestCachedEmbedder_ErrorsNotCached(t *testing.T) {
	inner := new(MockEmbedder)
	ctx := context.Background()
	inner.On("GenerateEmbedding", ctx, "q").Return(nil, errors.New("boom")).Twice()

	c := NewCachedEmbedder(inner, 4, time.Minute)

	_, err := c.GenerateEmbedding(ctx, "q")
	assert.Error(t, err)
	_, err = c.GenerateEmbedding(ctx, "q")
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())
	inner.AssertExpectations(t)
}
