package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/eino/components/embedding"
)

// stubEmbedder 记录每批大小，按需返回固定向量或错误
type stubEmbedder struct {
	batches [][]string
	fail    bool
	vec     func(text string) []float64
}

func (s *stubEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	s.batches = append(s.batches, texts)
	if s.fail {
		return nil, errors.New("provider unavailable")
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if s.vec != nil {
			out[i] = s.vec(t)
		} else {
			out[i] = []float64{1, 0, 0}
		}
	}
	return out, nil
}

func TestEmbedTextsBatching(t *testing.T) {
	stub := &stubEmbedder{}
	svc := NewEmbeddingService(stub, "test", 3, 100)

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}

	vecs, err := svc.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, 250)

	// 250 条按 100 上限切成 3 批
	require.Len(t, stub.batches, 3)
	assert.Len(t, stub.batches[0], 100)
	assert.Len(t, stub.batches[1], 100)
	assert.Len(t, stub.batches[2], 50)
}

func TestEmbedTextsBatchFailureAbortsAll(t *testing.T) {
	stub := &stubEmbedder{fail: true}
	svc := NewEmbeddingService(stub, "test", 3, 100)

	vecs, err := svc.EmbedTexts(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Nil(t, vecs)
}

func TestEmbedTextsEmptyInput(t *testing.T) {
	stub := &stubEmbedder{}
	svc := NewEmbeddingService(stub, "test", 3, 100)

	vecs, err := svc.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Empty(t, stub.batches)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)

	// 零向量相似度为 0
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 0}))
	// 维度不一致为 0
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1}, []float64{1, 0}))
}

func TestFindMostSimilar(t *testing.T) {
	stub := &stubEmbedder{
		vec: func(text string) []float64 {
			switch text {
			case "query", "close":
				return []float64{1, 0}
			case "near":
				return []float64{1, 1}
			default:
				return []float64{0, 1}
			}
		},
	}
	svc := NewEmbeddingService(stub, "test", 2, 100)

	results, err := svc.FindMostSimilar(context.Background(), "query",
		[]string{"far", "near", "close"}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "close", results[0].Text)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "near", results[1].Text)
	assert.Equal(t, 1, results[1].Index)
}
