package kbfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bottle-agent-api/internal/domain/entity"
)

func TestSafeName(t *testing.T) {
	assert.Equal(t, "my-kb", SafeName("my-kb"))
	assert.Equal(t, "a_b_c", SafeName("a/b\\c"))
	assert.Equal(t, "x_y_z_", SafeName(`x:y*z?`))
	assert.Equal(t, "trimmed", SafeName("  trimmed  "))
}

func newInfo(name string) entity.KnowledgeBaseInfo {
	now := time.Now()
	return entity.KnowledgeBaseInfo{
		Name:          name,
		FolderPath:    "/docs/" + name,
		DocumentCount: 2,
		ChunkCount:    5,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, newInfo("kb1")))
	require.NoError(t, s.Register(ctx, newInfo("kb2")))

	infos, err := s.ListInfos(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "kb1", infos[0].Name)
	assert.Equal(t, "kb2", infos[1].Name)

	got, err := s.GetInfo(ctx, "kb1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 5, got.ChunkCount)

	// 注册表落盘后对新实例可见
	s2, err := NewStore(dir)
	require.NoError(t, err)
	got, err = s2.GetInfo(ctx, "kb2")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestGetInfoMissingReturnsNil(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	got, err := s.GetInfo(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnregister(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, newInfo("kb")))
	require.NoError(t, s.Unregister(ctx, "kb"))

	got, err := s.GetInfo(ctx, "kb")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChunksRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	chunks := []entity.DocumentChunk{
		{ID: "d_chunk_0", Content: "第一段", Metadata: map[string]string{"chunk_index": "0"}},
		{ID: "d_chunk_1", Content: "第二段", Metadata: map[string]string{"chunk_index": "1"}},
	}
	require.NoError(t, s.SaveChunks(ctx, "kb", chunks))

	loaded, err := s.LoadChunks(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, chunks, loaded)
}

func TestLoadChunksMissing(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	loaded, err := s.LoadChunks(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRemoveArtifacts(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, "kb", []entity.DocumentChunk{{ID: "c", Content: "x"}}))

	kbDir := filepath.Join(dir, "kb")
	_, statErr := os.Stat(kbDir)
	require.NoError(t, statErr)

	require.NoError(t, s.RemoveArtifacts(ctx, "kb"))
	_, statErr = os.Stat(kbDir)
	assert.True(t, os.IsNotExist(statErr))

	// 幂等
	require.NoError(t, s.RemoveArtifacts(ctx, "kb"))
}

func TestUnsafeNameUsesSanitizedDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, "my/kb:v1", []entity.DocumentChunk{{ID: "c", Content: "x"}}))

	_, statErr := os.Stat(filepath.Join(dir, "my_kb_v1"))
	require.NoError(t, statErr)
}
