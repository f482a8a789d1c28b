// Package agent 管理问答 Agent 配置
package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"bottle-agent-api/internal/application/rag"
	"bottle-agent-api/internal/domain/entity"
	"bottle-agent-api/pkg/errors"
	"bottle-agent-api/pkg/logger"
)

const registryFile = "agents.json"

// Registry Agent 配置注册表，JSON 文件持久化
type Registry struct {
	mu       sync.RWMutex
	path     string
	profiles map[string]entity.AgentProfile
}

// NewRegistry 创建注册表并保证默认 Agent 存在
// 默认 Agent 在此显式初始化，不依赖首次访问时的惰性创建
func NewRegistry(storagePath string) (*Registry, error) {
	r := &Registry{
		path:     filepath.Join(storagePath, registryFile),
		profiles: make(map[string]entity.AgentProfile),
	}
	if err := r.load(); err != nil {
		return nil, err
	}

	if _, ok := r.profiles[entity.DefaultAgentName]; !ok {
		now := time.Now()
		r.profiles[entity.DefaultAgentName] = entity.AgentProfile{
			Name:         entity.DefaultAgentName,
			Description:  "通用知识库问答助手",
			SystemPrompt: rag.DefaultSystemPrompt,
			Temperature:  0.7,
			MaxTokens:    2000,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := r.persist(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to read agent registry")
	}
	if err := json.Unmarshal(data, &r.profiles); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "agent registry is corrupted")
	}
	return nil
}

// persist 先写临时文件再原子替换
func (r *Registry) persist() error {
	data, err := json.MarshalIndent(r.profiles, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to encode agent registry")
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to create storage directory")
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to write agent registry")
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to replace agent registry")
	}
	return nil
}

// Create 注册新 Agent，名称冲突（含保留名）时失败
func (r *Registry) Create(ctx context.Context, profile entity.AgentProfile) (*entity.AgentProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[profile.Name]; ok {
		if profile.Name == entity.DefaultAgentName {
			return nil, errors.ErrAgentReserved
		}
		return nil, errors.ErrAgentExists.WithDetail(profile.Name)
	}

	now := time.Now()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	r.profiles[profile.Name] = profile
	if err := r.persist(); err != nil {
		delete(r.profiles, profile.Name)
		return nil, err
	}

	logger.Info(ctx, "agent created", "agent_name", profile.Name)
	return &profile, nil
}

// Get 按名称返回 Agent 配置
func (r *Registry) Get(ctx context.Context, name string) (*entity.AgentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[name]
	if !ok {
		return nil, errors.ErrAgentNotFound.WithDetail(name)
	}
	return &profile, nil
}

// Resolve 为问答解析 Agent，未知名称回落到默认 Agent
func (r *Registry) Resolve(ctx context.Context, name string) (*entity.AgentProfile, error) {
	if name == "" {
		name = entity.DefaultAgentName
	}

	r.mu.RLock()
	profile, ok := r.profiles[name]
	if !ok {
		profile, ok = r.profiles[entity.DefaultAgentName]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, errors.ErrAgentNotFound.WithDetail(entity.DefaultAgentName)
	}
	if profile.Name != name {
		logger.Warn(ctx, "unknown agent, falling back to default", "agent_name", name)
	}
	return &profile, nil
}

// List 返回全部 Agent，按名称排序
func (r *Registry) List(ctx context.Context) ([]entity.AgentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]entity.AgentProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Update 更新已有 Agent，保留原始创建时间
func (r *Registry) Update(ctx context.Context, profile entity.AgentProfile) (*entity.AgentProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.profiles[profile.Name]
	if !ok {
		return nil, errors.ErrAgentNotFound.WithDetail(profile.Name)
	}

	profile.CreatedAt = existing.CreatedAt
	profile.UpdatedAt = time.Now()
	r.profiles[profile.Name] = profile
	if err := r.persist(); err != nil {
		r.profiles[profile.Name] = existing
		return nil, err
	}

	logger.Info(ctx, "agent updated", "agent_name", profile.Name)
	return &profile, nil
}

// Delete 删除 Agent，默认 Agent 为保留项不可删除
func (r *Registry) Delete(ctx context.Context, name string) error {
	if name == entity.DefaultAgentName {
		return errors.ErrAgentReserved
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.profiles[name]
	if !ok {
		return errors.ErrAgentNotFound.WithDetail(name)
	}

	delete(r.profiles, name)
	if err := r.persist(); err != nil {
		r.profiles[name] = existing
		return err
	}

	logger.Info(ctx, "agent deleted", "agent_name", name)
	return nil
}

// LoadPresets 从预设文件导入 Agent，只导入尚不存在的名称
func (r *Registry) LoadPresets(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to read agent presets")
	}

	var presets []entity.AgentProfile
	if err := json.Unmarshal(data, &presets); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "invalid agent presets file")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	imported := 0
	now := time.Now()
	for _, p := range presets {
		if p.Name == "" {
			continue
		}
		if _, ok := r.profiles[p.Name]; ok {
			continue
		}
		p.CreatedAt = now
		p.UpdatedAt = now
		r.profiles[p.Name] = p
		imported++
	}
	if imported == 0 {
		return nil
	}
	if err := r.persist(); err != nil {
		return err
	}

	logger.Info(ctx, "agent presets imported", "count", imported)
	return nil
}
