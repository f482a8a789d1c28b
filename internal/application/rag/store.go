package rag

import (
	"context"
	"fmt"
	"time"

	"bottle-agent-api/internal/domain/entity"
	"bottle-agent-api/pkg/errors"
	"bottle-agent-api/pkg/logger"
	"bottle-agent-api/pkg/metrics"
)

// Store 知识库核心服务，负责入库、检索与问答编排
type Store struct {
	processor *DocumentProcessor
	embedder  *EmbeddingService
	vectors   VectorStore
	repo      Repository
	agents    AgentResolver
	generator AnswerGenerator

	topK         int
	threshold    float64
	historyLimit int
}

// StoreOptions 检索问答相关参数
type StoreOptions struct {
	TopK                int
	SimilarityThreshold float64
	HistoryLimit        int
}

// QueryRequest 一次问答请求
type QueryRequest struct {
	KBName    string
	Question  string
	AgentName string
	History   []entity.ChatMessage
}

// NewStore 创建知识库服务
func NewStore(
	processor *DocumentProcessor,
	embedder *EmbeddingService,
	vectors VectorStore,
	repo Repository,
	agents AgentResolver,
	generator AnswerGenerator,
	opts StoreOptions,
) *Store {
	return &Store{
		processor:    processor,
		embedder:     embedder,
		vectors:      vectors,
		repo:         repo,
		agents:       agents,
		generator:    generator,
		topK:         opts.TopK,
		threshold:    opts.SimilarityThreshold,
		historyLimit: opts.HistoryLimit,
	}
}

// Create 从文件夹构建新知识库
// 名称已存在时直接失败，不触碰已有产物
func (s *Store) Create(ctx context.Context, name, folder, description string) (*entity.KnowledgeBaseInfo, error) {
	existing, err := s.repo.GetInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.ErrKnowledgeBaseExists.WithDetail(name)
	}

	start := time.Now()
	docs, chunks, items, err := s.ingest(ctx, name, folder)
	if err != nil {
		return nil, err
	}

	if err := s.vectors.BuildIndex(ctx, name, items); err != nil {
		return nil, errors.Wrap(err, errors.CodeVectorStoreError, "failed to build vector index")
	}
	if err := s.repo.SaveChunks(ctx, name, chunks); err != nil {
		return nil, err
	}

	now := time.Now()
	info := entity.KnowledgeBaseInfo{
		Name:          name,
		Description:   description,
		FolderPath:    folder,
		DocumentCount: len(docs),
		ChunkCount:    len(chunks),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// 注册表最后写入，保证列表中的知识库都是可查询的
	if err := s.repo.Register(ctx, info); err != nil {
		return nil, err
	}

	metrics.IngestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	logger.Info(ctx, "knowledge base created",
		"kb_name", name, "documents", len(docs), "chunks", len(chunks),
		"elapsed", time.Since(start).String())
	return &info, nil
}

// ingest 完成文档处理、分块与向量化，所有可失败步骤都在此集中
func (s *Store) ingest(ctx context.Context, name, folder string) ([]entity.Document, []entity.DocumentChunk, []VectorItem, error) {
	docs, err := s.processor.ProcessFolder(ctx, folder)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(docs) == 0 {
		return nil, nil, nil, errors.ErrNoDocuments.WithDetail(folder)
	}

	chunks := s.processor.ChunkDocuments(docs)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vecs, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, nil, nil, err
	}

	items := make([]VectorItem, len(chunks))
	for i, c := range chunks {
		items[i] = VectorItem{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  c.Metadata,
			Embedding: vecs[i],
		}
	}

	for _, d := range docs {
		metrics.DocumentsIngested.WithLabelValues(name, d.Metadata["file_type"]).Inc()
	}
	metrics.ChunksEmbedded.WithLabelValues(name).Add(float64(len(chunks)))
	return docs, chunks, items, nil
}

// Update 用原始文件夹重建知识库
// 所有可失败的工作（处理、分块、向量化）完成后才替换旧索引，
// 替换完成后才更新注册表，失败时旧数据保持可查询
func (s *Store) Update(ctx context.Context, name string) (*entity.KnowledgeBaseInfo, error) {
	info, err := s.repo.GetInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errors.ErrKnowledgeBaseNotFound.WithDetail(name)
	}

	start := time.Now()
	docs, chunks, items, err := s.ingest(ctx, name, info.FolderPath)
	if err != nil {
		return nil, err
	}

	if err := s.vectors.BuildIndex(ctx, name, items); err != nil {
		return nil, errors.Wrap(err, errors.CodeVectorStoreError, "failed to rebuild vector index")
	}
	if err := s.repo.SaveChunks(ctx, name, chunks); err != nil {
		return nil, err
	}

	updated := *info
	updated.DocumentCount = len(docs)
	updated.ChunkCount = len(chunks)
	updated.UpdatedAt = time.Now()
	if err := s.repo.Register(ctx, updated); err != nil {
		return nil, err
	}

	metrics.IngestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	logger.Info(ctx, "knowledge base updated",
		"kb_name", name, "documents", len(docs), "chunks", len(chunks))
	return &updated, nil
}

// Delete 删除知识库及其全部产物
func (s *Store) Delete(ctx context.Context, name string) error {
	info, err := s.repo.GetInfo(ctx, name)
	if err != nil {
		return err
	}
	if info == nil {
		return errors.ErrKnowledgeBaseNotFound.WithDetail(name)
	}

	if err := s.vectors.DropIndex(ctx, name); err != nil {
		return errors.Wrap(err, errors.CodeVectorStoreError, "failed to drop vector index")
	}
	if err := s.repo.RemoveArtifacts(ctx, name); err != nil {
		return err
	}
	if err := s.repo.Unregister(ctx, name); err != nil {
		return err
	}

	logger.Info(ctx, "knowledge base deleted", "kb_name", name)
	return nil
}

// List 返回全部知识库信息
func (s *Store) List(ctx context.Context) ([]entity.KnowledgeBaseInfo, error) {
	return s.repo.ListInfos(ctx)
}

// Info 返回指定知识库信息
func (s *Store) Info(ctx context.Context, name string) (*entity.KnowledgeBaseInfo, error) {
	info, err := s.repo.GetInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errors.ErrKnowledgeBaseNotFound.WithDetail(name)
	}
	return info, nil
}

// Query 检索并生成回答
// 所有失败都折叠为带 ❌ 标记的回答文本，不向调用方抛错
func (s *Store) Query(ctx context.Context, req QueryRequest) string {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues(req.KBName).Observe(time.Since(start).Seconds())
	}()

	matches, failure := s.retrieve(ctx, req)
	if failure != "" {
		return failure
	}
	if len(matches) == 0 {
		metrics.QueriesTotal.WithLabelValues(req.KBName, "no_match").Inc()
		return noRelevantContentMessage
	}

	genReq, err := s.buildGenerateRequest(ctx, req, matches)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(req.KBName, "error").Inc()
		return fmt.Sprintf("❌ 生成回答失败: %v", err)
	}

	answer, err := s.generator.Generate(ctx, *genReq)
	if err != nil {
		logger.Error(ctx, "answer generation failed", err, "kb_name", req.KBName)
		metrics.QueriesTotal.WithLabelValues(req.KBName, "error").Inc()
		return fmt.Sprintf("❌ 生成回答失败: %v", err)
	}

	metrics.QueriesTotal.WithLabelValues(req.KBName, "ok").Inc()
	return answer + BuildReferences(matches)
}

// QueryStream 流式检索问答，返回增量内容通道
// 检索失败时通道只包含一条 ❌ 消息
func (s *Store) QueryStream(ctx context.Context, req QueryRequest) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		start := time.Now()
		defer func() {
			metrics.QueryDuration.WithLabelValues(req.KBName).Observe(time.Since(start).Seconds())
		}()

		matches, failure := s.retrieve(ctx, req)
		if failure != "" {
			emit(ctx, out, failure)
			return
		}
		if len(matches) == 0 {
			metrics.QueriesTotal.WithLabelValues(req.KBName, "no_match").Inc()
			emit(ctx, out, noRelevantContentMessage)
			return
		}

		genReq, err := s.buildGenerateRequest(ctx, req, matches)
		if err != nil {
			metrics.QueriesTotal.WithLabelValues(req.KBName, "error").Inc()
			emit(ctx, out, fmt.Sprintf("❌ 生成回答失败: %v", err))
			return
		}

		stream, err := s.generator.Stream(ctx, *genReq)
		if err != nil {
			logger.Error(ctx, "answer stream failed to start", err, "kb_name", req.KBName)
			metrics.QueriesTotal.WithLabelValues(req.KBName, "error").Inc()
			emit(ctx, out, fmt.Sprintf("❌ 生成回答失败: %v", err))
			return
		}

		for chunk := range stream {
			if chunk.Err != nil {
				logger.Error(ctx, "answer stream interrupted", chunk.Err, "kb_name", req.KBName)
				metrics.QueriesTotal.WithLabelValues(req.KBName, "error").Inc()
				emit(ctx, out, fmt.Sprintf("\n❌ 生成中断: %v", chunk.Err))
				return
			}
			if !emit(ctx, out, chunk.Content) {
				return
			}
		}

		metrics.QueriesTotal.WithLabelValues(req.KBName, "ok").Inc()
		emit(ctx, out, BuildReferences(matches))
	}()
	return out
}

const noRelevantContentMessage = "没有找到相关内容。请尝试换个问法，或确认知识库中包含相关信息。"

// retrieve 向量检索并按阈值过滤，失败时返回面向用户的错误文本
func (s *Store) retrieve(ctx context.Context, req QueryRequest) ([]VectorMatch, string) {
	info, err := s.repo.GetInfo(ctx, req.KBName)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(req.KBName, "error").Inc()
		return nil, fmt.Sprintf("❌ 检索失败: %v", err)
	}
	if info == nil {
		metrics.QueriesTotal.WithLabelValues(req.KBName, "error").Inc()
		return nil, fmt.Sprintf("❌ 知识库 '%s' 不存在", req.KBName)
	}

	queryVec, err := s.embedder.EmbedText(ctx, req.Question)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(req.KBName, "error").Inc()
		return nil, fmt.Sprintf("❌ 检索失败: %v", err)
	}

	matches, err := s.vectors.Search(ctx, req.KBName, queryVec, s.topK)
	if err != nil {
		logger.Error(ctx, "vector search failed", err, "kb_name", req.KBName)
		metrics.QueriesTotal.WithLabelValues(req.KBName, "error").Inc()
		return nil, fmt.Sprintf("❌ 检索失败: %v", err)
	}

	filtered := matches[:0]
	for _, m := range matches {
		if m.Score >= s.threshold {
			filtered = append(filtered, m)
		}
	}

	filtered, err = s.hydrate(ctx, req.KBName, filtered)
	if err != nil {
		logger.Error(ctx, "failed to load chunk artifacts", err, "kb_name", req.KBName)
		metrics.QueriesTotal.WithLabelValues(req.KBName, "error").Inc()
		return nil, fmt.Sprintf("❌ 知识库 '%s' 数据不完整: %v", req.KBName, err)
	}

	metrics.RetrievedChunks.WithLabelValues(req.KBName).Observe(float64(len(filtered)))
	return filtered, ""
}

// hydrate 用持久化片段补全只带 ID 的命中结果
// 本地索引产物只存向量，片段文本保存在 chunks 产物中
func (s *Store) hydrate(ctx context.Context, kbName string, matches []VectorMatch) ([]VectorMatch, error) {
	need := false
	for _, m := range matches {
		if m.Content == "" {
			need = true
			break
		}
	}
	if !need {
		return matches, nil
	}

	chunks, err := s.repo.LoadChunks(ctx, kbName)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, errors.New(errors.CodeRetrievalFailed, "chunk artifact missing").WithDetail(kbName)
	}

	byID := make(map[string]entity.DocumentChunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	out := matches[:0]
	for _, m := range matches {
		if m.Content != "" {
			out = append(out, m)
			continue
		}
		c, ok := byID[m.ID]
		if !ok {
			// 索引与片段产物不一致时丢弃孤立命中
			continue
		}
		m.Content = c.Content
		m.Metadata = c.Metadata
		out = append(out, m)
	}
	return out, nil
}

// buildGenerateRequest 解析 Agent、裁剪历史并组装提示词
func (s *Store) buildGenerateRequest(ctx context.Context, req QueryRequest, matches []VectorMatch) (*GenerateRequest, error) {
	profile, err := s.agents.Resolve(ctx, req.AgentName)
	if err != nil {
		return nil, err
	}

	history := req.History
	if s.historyLimit > 0 && len(history) > s.historyLimit {
		history = history[len(history)-s.historyLimit:]
	}

	messages := make([]entity.ChatMessage, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, entity.ChatMessage{
		Role:    entity.RoleUser,
		Content: BuildPrompt(req.Question, matches),
	})

	return &GenerateRequest{
		SystemPrompt: profile.SystemPrompt,
		Messages:     messages,
		Provider:     profile.Provider,
		Temperature:  profile.Temperature,
		MaxTokens:    profile.MaxTokens,
	}, nil
}

// emit 在尊重取消的前提下向通道写入一段内容
func emit(ctx context.Context, out chan<- string, content string) bool {
	if content == "" {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case out <- content:
		return true
	}
}
