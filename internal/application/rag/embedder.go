package rag

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/prometheus/client_golang/prometheus"

	"bottle-agent-api/pkg/errors"
	"bottle-agent-api/pkg/logger"
	"bottle-agent-api/pkg/metrics"
)

// batchPacing 相邻批次之间的固定间隔，避免触发提供方限流
const batchPacing = 100 * time.Millisecond

// EmbeddingService 封装批量向量化与相似度计算
type EmbeddingService struct {
	embedder  embedding.Embedder
	provider  string
	dimension int
	batchSize int
}

// SimilarityResult 相似度排序结果
type SimilarityResult struct {
	Index int     `json:"index"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// NewEmbeddingService 创建向量化服务
func NewEmbeddingService(embedder embedding.Embedder, provider string, dimension, batchSize int) *EmbeddingService {
	if batchSize <= 0 || batchSize > 100 {
		batchSize = 100
	}
	return &EmbeddingService{
		embedder:  embedder,
		provider:  provider,
		dimension: dimension,
		batchSize: batchSize,
	}
}

// Dimension 返回向量维度
func (s *EmbeddingService) Dimension() int {
	return s.dimension
}

// EmbedText 向量化单条文本
func (s *EmbeddingService) EmbedText(ctx context.Context, text string) ([]float64, error) {
	vecs, err := s.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts 批量向量化，按批次上限切分并在批次间固定间隔
// 任一批次失败则整体失败，不返回部分结果
func (s *EmbeddingService) EmbedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		if start > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), errors.CodeEmbeddingFailed, "embedding cancelled")
			case <-time.After(batchPacing):
			}
		}

		timer := prometheus.NewTimer(metrics.EmbeddingDuration.WithLabelValues(s.provider))
		vecs, err := s.embedder.EmbedStrings(ctx, texts[start:end])
		timer.ObserveDuration()
		if err != nil {
			logger.Error(ctx, "embedding batch failed", err, "batch_start", start, "batch_size", end-start)
			return nil, errors.Wrap(err, errors.CodeEmbeddingFailed, "embedding batch failed")
		}
		if len(vecs) != end-start {
			return nil, errors.New(errors.CodeEmbeddingFailed, "embedding provider returned wrong vector count")
		}
		result = append(result, vecs...)
	}
	return result, nil
}

// CosineSimilarity 计算两个向量的余弦相似度，任一向量为零向量时返回 0
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// FindMostSimilar 在候选文本中找出与查询最相似的 topK 条，按分数降序
func (s *EmbeddingService) FindMostSimilar(ctx context.Context, query string, candidates []string, topK int) ([]SimilarityResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	all := make([]string, 0, len(candidates)+1)
	all = append(all, query)
	all = append(all, candidates...)

	vecs, err := s.EmbedTexts(ctx, all)
	if err != nil {
		return nil, err
	}

	queryVec := vecs[0]
	results := make([]SimilarityResult, 0, len(candidates))
	for i, vec := range vecs[1:] {
		results = append(results, SimilarityResult{
			Index: i,
			Text:  candidates[i],
			Score: CosineSimilarity(queryVec, vec),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}
