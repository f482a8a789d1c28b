package flatindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bottle-agent-api/internal/application/rag"
)

func testItems() []rag.VectorItem {
	return []rag.VectorItem{
		{ID: "a", Content: "alpha", Embedding: []float64{1, 0, 0}},
		{ID: "b", Content: "beta", Embedding: []float64{0.9, 0.1, 0}},
		{ID: "c", Content: "gamma", Embedding: []float64{0, 1, 0}},
	}
}

func TestSearchOrdering(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.BuildIndex(ctx, "kb", testItems()))

	matches, err := s.Search(ctx, "kb", []float64{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "b", matches[1].ID)
	assert.Equal(t, "c", matches[2].ID)

	// 归一化后内积等于余弦相似度
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.InDelta(t, 0.0, matches[2].Score, 1e-9)

	// 产物只存向量，内容由上层补全
	assert.Empty(t, matches[0].Content)
}

func TestSearchTopKTruncation(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.BuildIndex(ctx, "kb", testItems()))

	matches, err := s.Search(ctx, "kb", []float64{1, 0, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestSearchUnnormalizedVectors(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	// 向量长度不影响相似度
	require.NoError(t, s.BuildIndex(ctx, "kb", []rag.VectorItem{
		{ID: "x", Content: "x", Embedding: []float64{10, 0}},
	}))

	matches, err := s.Search(ctx, "kb", []float64{0.5, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestIndexPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1 := NewStore(dir)
	require.NoError(t, s1.BuildIndex(ctx, "kb", testItems()))

	// 新实例从产物文件加载
	s2 := NewStore(dir)
	matches, err := s2.Search(ctx, "kb", []float64{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "c", matches[0].ID)
}

func TestBuildIndexOverwrites(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.BuildIndex(ctx, "kb", testItems()))
	require.NoError(t, s.BuildIndex(ctx, "kb", []rag.VectorItem{
		{ID: "only", Content: "only", Embedding: []float64{1, 0, 0}},
	}))

	matches, err := s.Search(ctx, "kb", []float64{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "only", matches[0].ID)
}

func TestSearchMissingArtifactIsError(t *testing.T) {
	s := NewStore(t.TempDir())

	// 产物缺失是数据不完整，不能当成空结果
	matches, err := s.Search(context.Background(), "ghost", []float64{1, 0}, 5)
	require.Error(t, err)
	assert.Empty(t, matches)
}

func TestDropIndex(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	ctx := context.Background()

	require.NoError(t, s.BuildIndex(ctx, "kb", testItems()))
	require.NoError(t, s.DropIndex(ctx, "kb"))

	// 删除后再检索报告产物缺失
	_, err := s.Search(ctx, "kb", []float64{1, 0, 0}, 5)
	require.Error(t, err)

	// 幂等
	require.NoError(t, s.DropIndex(ctx, "kb"))
}

func TestNormalizeZeroVector(t *testing.T) {
	out := normalize([]float64{0, 0, 0})
	assert.Equal(t, []float64{0, 0, 0}, out)
}
