package rag

import "context"

// VectorItem 写入向量索引的条目
type VectorItem struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float64
}

// VectorMatch 检索命中结果
type VectorMatch struct {
	ID       string
	Content  string
	Metadata map[string]string
	Score    float64
}

// VectorStore 向量索引后端抽象
// 本地文件索引与 Milvus 均实现此接口
type VectorStore interface {
	// BuildIndex 为指定知识库重建索引，覆盖旧内容
	BuildIndex(ctx context.Context, kbName string, items []VectorItem) error
	// Search 返回按相似度降序的前 topK 条命中
	Search(ctx context.Context, kbName string, queryVec []float64, topK int) ([]VectorMatch, error)
	// DropIndex 删除知识库的索引数据
	DropIndex(ctx context.Context, kbName string) error
}
