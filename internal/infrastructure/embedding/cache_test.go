package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	einoembedding "github.com/cloudwego/eino/components/embedding"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bottle-agent-api/internal/infrastructure/persistence/redis"
)

// countingEmbedder 记录底层调用，按文本长度返回向量
type countingEmbedder struct {
	calls   int
	batches [][]string
}

func (e *countingEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...einoembedding.Option) ([][]float64, error) {
	e.calls++
	e.batches = append(e.batches, texts)
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = []float64{float64(len(t)), 1}
	}
	return out, nil
}

func newTestCache(t *testing.T) (*redis.Cache, *countingEmbedder, *CachedEmbedder) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClientFromRedis(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	cache := redis.NewCache(client)

	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, cache, "test-model", time.Hour)
	return cache, inner, cached
}

func TestCachedEmbedderWritesBack(t *testing.T) {
	_, inner, cached := newTestCache(t)
	ctx := context.Background()

	first, err := cached.EmbedStrings(ctx, []string{"hello", "world!"})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, 1, inner.calls)

	// 第二次全部命中缓存，底层不再被调用
	second, err := cached.EmbedStrings(ctx, []string{"hello", "world!"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedEmbedderMixedHitMiss(t *testing.T) {
	_, inner, cached := newTestCache(t)
	ctx := context.Background()

	_, err := cached.EmbedStrings(ctx, []string{"cached"})
	require.NoError(t, err)

	out, err := cached.EmbedStrings(ctx, []string{"fresh-one", "cached", "fresh-two"})
	require.NoError(t, err)
	require.Len(t, out, 3)

	// 只有未命中的文本传给底层，结果顺序与输入一致
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, []string{"fresh-one", "fresh-two"}, inner.batches[1])
	assert.Equal(t, []float64{float64(len("fresh-one")), 1}, out[0])
	assert.Equal(t, []float64{float64(len("cached")), 1}, out[1])
	assert.Equal(t, []float64{float64(len("fresh-two")), 1}, out[2])
}

func TestCachedEmbedderKeyIncludesModel(t *testing.T) {
	cache, _, _ := newTestCache(t)

	innerA := &countingEmbedder{}
	innerB := &countingEmbedder{}
	cachedA := NewCachedEmbedder(innerA, cache, "model-a", time.Hour)
	cachedB := NewCachedEmbedder(innerB, cache, "model-b", time.Hour)
	ctx := context.Background()

	_, err := cachedA.EmbedStrings(ctx, []string{"same text"})
	require.NoError(t, err)

	// 不同模型不共享缓存条目
	_, err = cachedB.EmbedStrings(ctx, []string{"same text"})
	require.NoError(t, err)
	assert.Equal(t, 1, innerA.calls)
	assert.Equal(t, 1, innerB.calls)
}
