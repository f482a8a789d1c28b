package rag_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/eino/components/embedding"

	"bottle-agent-api/internal/application/rag"
	"bottle-agent-api/internal/domain/entity"
	"bottle-agent-api/internal/infrastructure/persistence/flatindex"
	"bottle-agent-api/internal/infrastructure/persistence/kbfs"
)

// keywordEmbedder 按关键词返回正交向量，包含 poison 的文本直接失败
type keywordEmbedder struct{}

func (keywordEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "poison") {
			return nil, errors.New("embedding provider rejected input")
		}
		if strings.Contains(t, "golang") {
			out[i] = []float64{1, 0, 0}
		} else {
			out[i] = []float64{0, 1, 0}
		}
	}
	return out, nil
}

// recordingGenerator 记录调用次数并返回固定回答
type recordingGenerator struct {
	calls     int
	lastReq   rag.GenerateRequest
	streamErr error
}

func (g *recordingGenerator) Generate(ctx context.Context, req rag.GenerateRequest) (string, error) {
	g.calls++
	g.lastReq = req
	return "生成的回答", nil
}

func (g *recordingGenerator) Stream(ctx context.Context, req rag.GenerateRequest) (<-chan rag.StreamChunk, error) {
	g.calls++
	g.lastReq = req
	out := make(chan rag.StreamChunk, 3)
	out <- rag.StreamChunk{Content: "生成的"}
	if g.streamErr != nil {
		out <- rag.StreamChunk{Err: g.streamErr}
	} else {
		out <- rag.StreamChunk{Content: "回答"}
	}
	close(out)
	return out, nil
}

type fixedAgentResolver struct{}

func (fixedAgentResolver) Resolve(ctx context.Context, name string) (*entity.AgentProfile, error) {
	return &entity.AgentProfile{
		Name:         entity.DefaultAgentName,
		SystemPrompt: "你是知识库问答助手",
		Temperature:  0.7,
		MaxTokens:    1000,
	}, nil
}

type storeFixture struct {
	store      *rag.Store
	generator  *recordingGenerator
	repo       *kbfs.Store
	docsDir    string
	storageDir string
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()

	storageDir := t.TempDir()
	docsDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(docsDir, "intro.txt"),
		[]byte("golang is a programming language"), 0o644))

	repo, err := kbfs.NewStore(storageDir)
	require.NoError(t, err)

	generator := &recordingGenerator{}
	embedderSvc := rag.NewEmbeddingService(keywordEmbedder{}, "test", 3, 100)
	processor := rag.NewDocumentProcessor(1000, 200, []string{".txt", ".md"})

	store := rag.NewStore(
		processor,
		embedderSvc,
		flatindex.NewStore(storageDir),
		repo,
		fixedAgentResolver{},
		generator,
		rag.StoreOptions{TopK: 5, SimilarityThreshold: 0.3, HistoryLimit: 6},
	)

	return &storeFixture{
		store:      store,
		generator:  generator,
		repo:       repo,
		docsDir:    docsDir,
		storageDir: storageDir,
	}
}

// reopen 用同一存储目录重建服务，模拟进程重启后内存缓存为空
func (f *storeFixture) reopen(t *testing.T) {
	t.Helper()

	f.store = rag.NewStore(
		rag.NewDocumentProcessor(1000, 200, []string{".txt", ".md"}),
		rag.NewEmbeddingService(keywordEmbedder{}, "test", 3, 100),
		flatindex.NewStore(f.storageDir),
		f.repo,
		fixedAgentResolver{},
		f.generator,
		rag.StoreOptions{TopK: 5, SimilarityThreshold: 0.3, HistoryLimit: 6},
	)
}

func TestCreateAndInfo(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	info, err := f.store.Create(ctx, "golang-notes", f.docsDir, "Go 学习笔记")
	require.NoError(t, err)
	assert.Equal(t, 1, info.DocumentCount)
	assert.Equal(t, 1, info.ChunkCount)

	got, err := f.store.Info(ctx, "golang-notes")
	require.NoError(t, err)
	assert.Equal(t, "Go 学习笔记", got.Description)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestCreateDuplicateLeavesArtifactsUntouched(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	first, err := f.store.Create(ctx, "kb", f.docsDir, "")
	require.NoError(t, err)

	_, err = f.store.Create(ctx, "kb", f.docsDir, "overwrite attempt")
	require.Error(t, err)

	// 原有注册信息不变
	got, err := f.store.Info(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt.Unix(), got.CreatedAt.Unix())
	assert.Empty(t, got.Description)
}

func TestCreateEmptyFolder(t *testing.T) {
	f := newStoreFixture(t)

	_, err := f.store.Create(context.Background(), "kb", t.TempDir(), "")
	require.Error(t, err)

	// 失败的创建不应注册
	infos, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestQueryHappyPath(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, "kb", f.docsDir, "")
	require.NoError(t, err)

	answer := f.store.Query(ctx, rag.QueryRequest{
		KBName:   "kb",
		Question: "tell me about golang",
	})

	assert.Contains(t, answer, "生成的回答")
	assert.Contains(t, answer, "📚 参考来源：")
	assert.Contains(t, answer, "intro.txt")
	assert.Equal(t, 1, f.generator.calls)
}

func TestQueryUnknownKnowledgeBase(t *testing.T) {
	f := newStoreFixture(t)

	answer := f.store.Query(context.Background(), rag.QueryRequest{
		KBName:   "missing",
		Question: "anything",
	})

	assert.Contains(t, answer, "❌")
	assert.Contains(t, answer, "missing")
	assert.Zero(t, f.generator.calls)
}

func TestQueryBelowThresholdSkipsGeneration(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, "kb", f.docsDir, "")
	require.NoError(t, err)

	// 查询向量与所有片段正交，相似度 0 低于阈值
	answer := f.store.Query(ctx, rag.QueryRequest{
		KBName:   "kb",
		Question: "completely unrelated topic",
	})

	assert.Contains(t, answer, "没有找到相关内容")
	assert.Zero(t, f.generator.calls)
}

func TestQueryMissingIndexArtifactReportsFailure(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, "kb", f.docsDir, "")
	require.NoError(t, err)

	// 索引产物丢失必须报检索失败，而不是"没有找到相关内容"
	require.NoError(t, os.Remove(
		filepath.Join(f.storageDir, kbfs.SafeName("kb"), "vector_index.gob")))
	f.reopen(t)

	answer := f.store.Query(ctx, rag.QueryRequest{
		KBName:   "kb",
		Question: "tell me about golang",
	})

	assert.Contains(t, answer, "❌ 检索失败")
	assert.NotContains(t, answer, "没有找到相关内容")
	assert.Zero(t, f.generator.calls)
}

func TestQueryMissingChunkArtifactReportsIncompleteData(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, "kb", f.docsDir, "")
	require.NoError(t, err)

	// 索引还在但片段产物丢失，命中结果无法补全文本
	require.NoError(t, os.Remove(
		filepath.Join(f.storageDir, kbfs.SafeName("kb"), "chunks.json")))

	answer := f.store.Query(ctx, rag.QueryRequest{
		KBName:   "kb",
		Question: "tell me about golang",
	})

	assert.Contains(t, answer, "数据不完整")
	assert.Zero(t, f.generator.calls)
}

func TestQueryTrimsHistory(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, "kb", f.docsDir, "")
	require.NoError(t, err)

	history := make([]entity.ChatMessage, 10)
	for i := range history {
		history[i] = entity.ChatMessage{Role: entity.RoleUser, Content: "golang question"}
	}

	f.store.Query(ctx, rag.QueryRequest{
		KBName:   "kb",
		Question: "tell me about golang",
		History:  history,
	})

	// 6 条历史 + 1 条当前问题
	require.Len(t, f.generator.lastReq.Messages, 7)
	assert.Contains(t, f.generator.lastReq.Messages[6].Content, "tell me about golang")
}

func TestQueryStream(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, "kb", f.docsDir, "")
	require.NoError(t, err)

	var parts []string
	for chunk := range f.store.QueryStream(ctx, rag.QueryRequest{
		KBName:   "kb",
		Question: "tell me about golang",
	}) {
		parts = append(parts, chunk)
	}

	full := strings.Join(parts, "")
	assert.Contains(t, full, "生成的回答")
	assert.Contains(t, full, "📚 参考来源：")
}

func TestQueryStreamFailureEmitsMarker(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, "kb", f.docsDir, "")
	require.NoError(t, err)

	f.generator.streamErr = errors.New("connection reset")

	var parts []string
	for chunk := range f.store.QueryStream(ctx, rag.QueryRequest{
		KBName:   "kb",
		Question: "tell me about golang",
	}) {
		parts = append(parts, chunk)
	}

	full := strings.Join(parts, "")
	assert.Contains(t, full, "❌")
}

func TestDelete(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, "kb", f.docsDir, "")
	require.NoError(t, err)

	require.NoError(t, f.store.Delete(ctx, "kb"))

	_, err = f.store.Info(ctx, "kb")
	require.Error(t, err)

	// 片段产物一并删除
	chunks, err := f.repo.LoadChunks(ctx, "kb")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestDeleteUnknown(t *testing.T) {
	f := newStoreFixture(t)
	require.Error(t, f.store.Delete(context.Background(), "missing"))
}

func TestUpdateFailureKeepsOldDataQueryable(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	created, err := f.store.Create(ctx, "kb", f.docsDir, "")
	require.NoError(t, err)

	// 新内容触发向量化失败，更新必须在破坏旧索引前失败
	require.NoError(t, os.WriteFile(
		filepath.Join(f.docsDir, "intro.txt"),
		[]byte("poison content"), 0o644))

	_, err = f.store.Update(ctx, "kb")
	require.Error(t, err)

	// 注册表保持旧状态
	got, infoErr := f.store.Info(ctx, "kb")
	require.NoError(t, infoErr)
	assert.Equal(t, created.UpdatedAt.Unix(), got.UpdatedAt.Unix())

	// 旧索引仍可查询
	answer := f.store.Query(ctx, rag.QueryRequest{
		KBName:   "kb",
		Question: "tell me about golang",
	})
	assert.Contains(t, answer, "生成的回答")
}

func TestUpdateRebuildsIndex(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, "kb", f.docsDir, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(
		filepath.Join(f.docsDir, "extra.txt"),
		[]byte("more golang material"), 0o644))

	info, err := f.store.Update(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, 2, info.DocumentCount)
	assert.Equal(t, 2, info.ChunkCount)
}
