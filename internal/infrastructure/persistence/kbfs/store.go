// Package kbfs 实现知识库注册表与产物的文件系统持久化
package kbfs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"bottle-agent-api/internal/domain/entity"
	"bottle-agent-api/pkg/errors"
)

const (
	registryFile = "knowledge_bases.json"
	chunksFile   = "chunks.json"
)

// unsafeChars 知识库名中不能直接用作目录名的字符
var unsafeChars = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_",
	"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
)

// SafeName 将知识库名转换为安全的目录名
func SafeName(name string) string {
	return unsafeChars.Replace(strings.TrimSpace(name))
}

// Store 文件系统存储，目录布局：
//
//	{base}/knowledge_bases.json      注册表
//	{base}/{kb}/chunks.json          片段（不含向量）
//	{base}/{kb}/vector_index.gob     本地向量索引产物
type Store struct {
	mu   sync.RWMutex
	base string
}

// NewStore 创建存储并保证根目录存在
func NewStore(base string) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "failed to create storage root")
	}
	return &Store{base: base}, nil
}

// KBDir 返回知识库产物目录
func (s *Store) KBDir(name string) string {
	return filepath.Join(s.base, SafeName(name))
}

func (s *Store) registryPath() string {
	return filepath.Join(s.base, registryFile)
}

// loadRegistry 读取注册表，文件不存在时返回空表
func (s *Store) loadRegistry() (map[string]entity.KnowledgeBaseInfo, error) {
	data, err := os.ReadFile(s.registryPath())
	if os.IsNotExist(err) {
		return map[string]entity.KnowledgeBaseInfo{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "failed to read knowledge base registry")
	}

	registry := map[string]entity.KnowledgeBaseInfo{}
	if err := json.Unmarshal(data, &registry); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "knowledge base registry is corrupted")
	}
	return registry, nil
}

// saveRegistry 先写临时文件再原子替换
func (s *Store) saveRegistry(registry map[string]entity.KnowledgeBaseInfo) error {
	data, err := json.MarshalIndent(registry, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to encode registry")
	}
	tmp := s.registryPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to write registry")
	}
	if err := os.Rename(tmp, s.registryPath()); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to replace registry")
	}
	return nil
}

// ListInfos 返回全部知识库，按名称排序
func (s *Store) ListInfos(ctx context.Context) ([]entity.KnowledgeBaseInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	registry, err := s.loadRegistry()
	if err != nil {
		return nil, err
	}

	out := make([]entity.KnowledgeBaseInfo, 0, len(registry))
	for _, info := range registry {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetInfo 返回指定知识库信息，不存在时返回 nil
func (s *Store) GetInfo(ctx context.Context, name string) (*entity.KnowledgeBaseInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	registry, err := s.loadRegistry()
	if err != nil {
		return nil, err
	}
	info, ok := registry[name]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

// Register 写入或覆盖注册表条目
func (s *Store) Register(ctx context.Context, info entity.KnowledgeBaseInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	registry, err := s.loadRegistry()
	if err != nil {
		return err
	}
	registry[info.Name] = info
	return s.saveRegistry(registry)
}

// Unregister 移除注册表条目
func (s *Store) Unregister(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	registry, err := s.loadRegistry()
	if err != nil {
		return err
	}
	delete(registry, name)
	return s.saveRegistry(registry)
}

// SaveChunks 持久化片段，向量不落盘
func (s *Store) SaveChunks(ctx context.Context, name string, chunks []entity.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.KBDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to create knowledge base directory")
	}

	data, err := json.Marshal(chunks)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to encode chunks")
	}
	tmp := filepath.Join(dir, chunksFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to write chunks")
	}
	if err := os.Rename(tmp, filepath.Join(dir, chunksFile)); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to replace chunks")
	}
	return nil
}

// LoadChunks 读取持久化片段
func (s *Store) LoadChunks(ctx context.Context, name string) ([]entity.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.KBDir(name), chunksFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "failed to read chunks")
	}

	var chunks []entity.DocumentChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "chunks file is corrupted")
	}
	return chunks, nil
}

// RemoveArtifacts 删除知识库目录下的全部产物
func (s *Store) RemoveArtifacts(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.KBDir(name)); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to remove knowledge base artifacts")
	}
	return nil
}
