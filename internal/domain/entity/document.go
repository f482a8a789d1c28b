// Package entity 定义核心领域实体
package entity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// Document 从单个文件提取的完整文本
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// DocumentChunk 文档切分后的片段，嵌入向量与片段分离存储
type DocumentChunk struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// NewDocumentID 根据文件路径和内容前缀生成稳定的文档 ID
// 同一路径同样开头的文件重复处理时 ID 不变
func NewDocumentID(path, content string) string {
	prefix := content
	if len(prefix) > 1000 {
		prefix = prefix[:1000]
	}
	sum := md5.Sum([]byte(path + prefix))
	return hex.EncodeToString(sum[:])
}

// ChunkID 生成片段 ID，形如 {docID}_chunk_{index}
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, index)
}

// KnowledgeBaseInfo 知识库注册表条目
type KnowledgeBaseInfo struct {
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	FolderPath    string    `json:"folder_path"`
	DocumentCount int       `json:"document_count"`
	ChunkCount    int       `json:"chunk_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
