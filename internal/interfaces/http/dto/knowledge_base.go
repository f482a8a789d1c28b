package dto

import (
	"time"

	"bottle-agent-api/internal/domain/entity"
)

// CreateKnowledgeBaseRequest 创建知识库请求
type CreateKnowledgeBaseRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=100"`
	FolderPath  string `json:"folder_path" binding:"required"`
	Description string `json:"description" binding:"max=500"`
}

// KnowledgeBaseResponse 知识库信息响应
type KnowledgeBaseResponse struct {
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	FolderPath    string    `json:"folder_path"`
	DocumentCount int       `json:"document_count"`
	ChunkCount    int       `json:"chunk_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewKnowledgeBaseResponse 从领域实体构建响应
func NewKnowledgeBaseResponse(info *entity.KnowledgeBaseInfo) KnowledgeBaseResponse {
	return KnowledgeBaseResponse{
		Name:          info.Name,
		Description:   info.Description,
		FolderPath:    info.FolderPath,
		DocumentCount: info.DocumentCount,
		ChunkCount:    info.ChunkCount,
		CreatedAt:     info.CreatedAt,
		UpdatedAt:     info.UpdatedAt,
	}
}

// ChatMessage 对话历史消息
type ChatMessage struct {
	Role    string `json:"role" binding:"required,oneof=user assistant"`
	Content string `json:"content" binding:"required"`
}

// QueryRequest 知识库问答请求
type QueryRequest struct {
	Question string        `json:"question" binding:"required,min=1"`
	Agent    string        `json:"agent"`
	History  []ChatMessage `json:"history"`
}

// QueryResponse 知识库问答响应
type QueryResponse struct {
	Answer string `json:"answer"`
}
