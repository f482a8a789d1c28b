package milvus

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bottle-agent-api/internal/application/rag"
)

// Store Milvus 向量索引后端，实现 rag.VectorStore
// 向量写入前做 L2 归一化，用内积度量等价于余弦相似度
type Store struct {
	client    *Client
	dimension int
}

// NewStore 创建 Milvus 向量索引后端并确保集合就绪
func NewStore(ctx context.Context, client *Client, dimension int) (*Store, error) {
	s := &Store{client: client, dimension: dimension}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureCollection 创建集合、索引并加载到内存，幂等
func (s *Store) ensureCollection(ctx context.Context) error {
	collName := s.client.CollectionName(CollectionChunks)

	has, err := s.client.milvus.HasCollection(ctx, collName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		schema := ChunksSchema(s.dimension)
		schema.CollectionName = collName
		if err := s.client.milvus.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexHNSW(entity.IP, 16, 200)
		if err != nil {
			return fmt.Errorf("failed to build index definition: %w", err)
		}
		if err := s.client.milvus.CreateIndex(ctx, collName, "vector", idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := s.client.milvus.LoadCollection(ctx, collName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

// BuildIndex 重建知识库的向量数据：先删除旧行再批量插入
func (s *Store) BuildIndex(ctx context.Context, kbName string, items []rag.VectorItem) error {
	ctx, span := tracer.Start(ctx, "milvus.BuildIndex",
		trace.WithAttributes(
			attribute.String("kb_name", kbName),
			attribute.Int("count", len(items)),
		))
	defer span.End()

	collName := s.client.CollectionName(CollectionChunks)

	if err := s.client.milvus.Delete(ctx, collName, "", kbFilter(kbName)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to clear previous chunks: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	ids := make([]string, len(items))
	vectors := make([][]float32, len(items))
	kbNames := make([]string, len(items))
	fileNames := make([]string, len(items))
	contents := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
		vectors[i] = normalize32(item.Embedding)
		kbNames[i] = kbName
		fileNames[i] = item.Metadata["file_name"]
		contents[i] = item.Content
	}

	_, err := s.client.milvus.Insert(ctx, collName, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector("vector", s.dimension, vectors),
		entity.NewColumnVarChar("kb_name", kbNames),
		entity.NewColumnVarChar("file_name", fileNames),
		entity.NewColumnVarChar("content", contents),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := s.client.milvus.Flush(ctx, collName, false); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	return nil
}

// Search 按知识库过滤的向量检索
func (s *Store) Search(ctx context.Context, kbName string, queryVec []float64, topK int) ([]rag.VectorMatch, error) {
	ctx, span := tracer.Start(ctx, "milvus.Search",
		trace.WithAttributes(
			attribute.String("kb_name", kbName),
			attribute.Int("top_k", topK),
		))
	defer span.End()

	collName := s.client.CollectionName(CollectionChunks)

	sp, err := entity.NewIndexHNSWSearchParam(128)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := s.client.milvus.Search(ctx,
		collName,
		nil,
		kbFilter(kbName),
		[]string{"id", "file_name", "content"},
		[]entity.Vector{entity.FloatVector(normalize32(queryVec))},
		"vector",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var matches []rag.VectorMatch
	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			m := rag.VectorMatch{
				Score:    float64(result.Scores[i]),
				Metadata: map[string]string{},
			}
			if col, ok := result.Fields.GetColumn("id").(*entity.ColumnVarChar); ok {
				m.ID = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn("file_name").(*entity.ColumnVarChar); ok {
				m.Metadata["file_name"] = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn("content").(*entity.ColumnVarChar); ok {
				m.Content = col.Data()[i]
			}
			matches = append(matches, m)
		}
	}

	span.SetAttributes(attribute.Int("result_count", len(matches)))
	return matches, nil
}

// DropIndex 删除知识库的全部向量行
func (s *Store) DropIndex(ctx context.Context, kbName string) error {
	ctx, span := tracer.Start(ctx, "milvus.DropIndex",
		trace.WithAttributes(attribute.String("kb_name", kbName)))
	defer span.End()

	collName := s.client.CollectionName(CollectionChunks)
	if err := s.client.milvus.Delete(ctx, collName, "", kbFilter(kbName)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// kbFilter 构建知识库过滤表达式，转义名称中的引号
func kbFilter(kbName string) string {
	escaped := strings.ReplaceAll(kbName, `"`, `\"`)
	return fmt.Sprintf(`kb_name == "%s"`, escaped)
}

// normalize32 L2 归一化并转为 float32
func normalize32(vec []float64) []float32 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, len(vec))
	if norm == 0 {
		for i, v := range vec {
			out[i] = float32(v)
		}
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
