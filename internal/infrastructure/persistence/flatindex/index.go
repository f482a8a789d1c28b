// Package flatindex 实现基于本地文件的暴力检索向量索引
//
// 向量在构建时做 L2 归一化，检索用内积即等价于余弦相似度。
// 每个知识库一个 gob 产物文件，只存片段 ID 与向量，
// 片段文本由上层从持久化产物按 ID 读取。加载后常驻内存。
package flatindex

import (
	"context"
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"bottle-agent-api/internal/application/rag"
	"bottle-agent-api/internal/infrastructure/persistence/kbfs"
	"bottle-agent-api/pkg/errors"
)

const indexFile = "vector_index.gob"

// indexEntry gob 产物中的单条记录
type indexEntry struct {
	ID        string
	Embedding []float64
}

// Store 本地向量索引，实现 rag.VectorStore
type Store struct {
	mu     sync.RWMutex
	base   string
	loaded map[string][]indexEntry
}

// NewStore 创建本地向量索引
func NewStore(base string) *Store {
	return &Store{
		base:   base,
		loaded: make(map[string][]indexEntry),
	}
}

func (s *Store) indexPath(kbName string) string {
	return filepath.Join(s.base, kbfs.SafeName(kbName), indexFile)
}

// BuildIndex 归一化向量并写入 gob 产物，覆盖旧索引
func (s *Store) BuildIndex(ctx context.Context, kbName string, items []rag.VectorItem) error {
	entries := make([]indexEntry, len(items))
	for i, item := range items {
		entries[i] = indexEntry{
			ID:        item.ID,
			Embedding: normalize(item.Embedding),
		}
	}

	path := s.indexPath(kbName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeVectorStoreError, "failed to create index directory")
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, errors.CodeVectorStoreError, "failed to create index file")
	}
	if err := gob.NewEncoder(f).Encode(entries); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, errors.CodeVectorStoreError, "failed to encode index")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, errors.CodeVectorStoreError, "failed to flush index")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, errors.CodeVectorStoreError, "failed to replace index")
	}

	s.mu.Lock()
	s.loaded[kbName] = entries
	s.mu.Unlock()
	return nil
}

// Search 暴力内积检索，返回按分数降序的前 topK 条
// 命中结果只带片段 ID 与分数，内容由上层补全
func (s *Store) Search(ctx context.Context, kbName string, queryVec []float64, topK int) ([]rag.VectorMatch, error) {
	entries, err := s.load(kbName)
	if err != nil {
		return nil, err
	}

	query := normalize(queryVec)
	matches := make([]rag.VectorMatch, 0, len(entries))
	for _, e := range entries {
		matches = append(matches, rag.VectorMatch{
			ID:    e.ID,
			Score: dot(query, e.Embedding),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	if topK > 0 && topK < len(matches) {
		matches = matches[:topK]
	}
	return matches, nil
}

// DropIndex 删除索引产物并清除内存缓存
func (s *Store) DropIndex(ctx context.Context, kbName string) error {
	s.mu.Lock()
	delete(s.loaded, kbName)
	s.mu.Unlock()

	err := os.Remove(s.indexPath(kbName))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.CodeVectorStoreError, "failed to remove index file")
	}
	return nil
}

// load 返回内存中的索引，未加载时从产物文件读入
func (s *Store) load(kbName string) ([]indexEntry, error) {
	s.mu.RLock()
	entries, ok := s.loaded[kbName]
	s.mu.RUnlock()
	if ok {
		return entries, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entries, ok := s.loaded[kbName]; ok {
		return entries, nil
	}

	f, err := os.Open(s.indexPath(kbName))
	if os.IsNotExist(err) {
		// 已注册的知识库缺少索引产物是数据不完整，必须向上报告
		return nil, errors.New(errors.CodeVectorStoreError, "vector index artifact missing").WithDetail(kbName)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeVectorStoreError, "failed to open index file")
	}
	defer f.Close()

	var loaded []indexEntry
	if err := gob.NewDecoder(f).Decode(&loaded); err != nil {
		return nil, errors.Wrap(err, errors.CodeVectorStoreError, "index file is corrupted")
	}
	s.loaded[kbName] = loaded
	return loaded, nil
}

// normalize L2 归一化，零向量原样返回
func normalize(vec []float64) []float64 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		out := make([]float64, len(vec))
		copy(out, vec)
		return out
	}
	norm = math.Sqrt(norm)
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

func dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
