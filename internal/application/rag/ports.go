package rag

import (
	"context"

	"bottle-agent-api/internal/domain/entity"
)

// Repository 知识库注册表与产物的持久化抽象
type Repository interface {
	// ListInfos 返回注册表中的全部知识库，按名称排序
	ListInfos(ctx context.Context) ([]entity.KnowledgeBaseInfo, error)
	// GetInfo 返回指定知识库信息，不存在时返回 nil
	GetInfo(ctx context.Context, name string) (*entity.KnowledgeBaseInfo, error)
	// Register 写入或覆盖注册表条目
	Register(ctx context.Context, info entity.KnowledgeBaseInfo) error
	// Unregister 移除注册表条目
	Unregister(ctx context.Context, name string) error
	// SaveChunks 持久化片段（不含向量）
	SaveChunks(ctx context.Context, name string, chunks []entity.DocumentChunk) error
	// LoadChunks 读取持久化片段
	LoadChunks(ctx context.Context, name string) ([]entity.DocumentChunk, error)
	// RemoveArtifacts 删除知识库目录下的所有产物
	RemoveArtifacts(ctx context.Context, name string) error
}

// AgentResolver 按名称解析 Agent 配置
type AgentResolver interface {
	Resolve(ctx context.Context, name string) (*entity.AgentProfile, error)
}

// GenerateRequest 一次生成调用的全部参数
type GenerateRequest struct {
	SystemPrompt string
	Messages     []entity.ChatMessage
	Provider     string
	Temperature  float64
	MaxTokens    int
}

// StreamChunk 流式生成的一个增量片段
type StreamChunk struct {
	Content string
	Err     error
}

// AnswerGenerator LLM 回答生成抽象
type AnswerGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// Stream 返回增量内容通道，生成结束或出错后通道关闭
	Stream(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error)
}
