package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	einoembedding "github.com/cloudwego/eino/components/embedding"

	"bottle-agent-api/internal/infrastructure/persistence/redis"
	"bottle-agent-api/pkg/logger"
	"bottle-agent-api/pkg/metrics"
)

// CachedEmbedder Redis Read-Through 缓存装饰器
// 命中的文本直接取缓存向量，未命中的批量调用底层 Embedder 后回写
type CachedEmbedder struct {
	inner einoembedding.Embedder
	cache *redis.Cache
	model string
	ttl   time.Duration
}

// NewCachedEmbedder 包装底层 Embedder
func NewCachedEmbedder(inner einoembedding.Embedder, cache *redis.Cache, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		inner: inner,
		cache: cache,
		model: model,
		ttl:   ttl,
	}
}

// cacheKey 按模型与文本内容生成稳定键
func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.model + "|" + text))
	return "embedding:" + hex.EncodeToString(sum[:])
}

// EmbedStrings 向量化一批文本，结果顺序与输入一致
func (c *CachedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...einoembedding.Option) ([][]float64, error) {
	result := make([][]float64, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		data, err := c.cache.Get(ctx, c.cacheKey(text))
		if err != nil {
			if !redis.IsNil(err) {
				// 缓存故障降级为直接调用
				logger.Warn(ctx, "embedding cache lookup failed", "reason", err.Error())
			}
			metrics.EmbeddingCacheHits.WithLabelValues("miss").Inc()
			missTexts = append(missTexts, text)
			missIdx = append(missIdx, i)
			continue
		}

		var vec []float64
		if err := json.Unmarshal(data, &vec); err != nil {
			metrics.EmbeddingCacheHits.WithLabelValues("miss").Inc()
			missTexts = append(missTexts, text)
			missIdx = append(missIdx, i)
			continue
		}
		metrics.EmbeddingCacheHits.WithLabelValues("hit").Inc()
		result[i] = vec
	}

	if len(missTexts) == 0 {
		return result, nil
	}

	vecs, err := c.inner.EmbedStrings(ctx, missTexts, opts...)
	if err != nil {
		return nil, err
	}

	for j, vec := range vecs {
		result[missIdx[j]] = vec
		// 回写失败不影响结果
		if err := c.cache.Set(ctx, c.cacheKey(missTexts[j]), vec, c.ttl); err != nil {
			logger.Warn(ctx, "embedding cache write failed", "reason", err.Error())
		}
	}
	return result, nil
}
