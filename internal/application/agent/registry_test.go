package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bottle-agent-api/internal/domain/entity"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(t.TempDir())
	require.NoError(t, err)
	return r
}

func TestDefaultAgentCreatedAtStartup(t *testing.T) {
	r := newTestRegistry(t)

	profile, err := r.Get(context.Background(), entity.DefaultAgentName)
	require.NoError(t, err)
	assert.NotEmpty(t, profile.SystemPrompt)
	assert.False(t, profile.CreatedAt.IsZero())
}

func TestDefaultAgentSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	r1, err := NewRegistry(dir)
	require.NoError(t, err)

	original, err := r1.Get(context.Background(), entity.DefaultAgentName)
	require.NoError(t, err)

	// 重新加载不重建默认 Agent
	r2, err := NewRegistry(dir)
	require.NoError(t, err)
	reloaded, err := r2.Get(context.Background(), entity.DefaultAgentName)
	require.NoError(t, err)
	assert.Equal(t, original.CreatedAt.Unix(), reloaded.CreatedAt.Unix())
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	created, err := r.Create(ctx, entity.AgentProfile{
		Name:         "coder",
		SystemPrompt: "你是编程助手",
		Temperature:  0.5,
	})
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := r.Get(ctx, "coder")
	require.NoError(t, err)
	assert.Equal(t, "你是编程助手", got.SystemPrompt)
}

func TestCreateDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Create(ctx, entity.AgentProfile{Name: "coder", SystemPrompt: "x"})
	require.NoError(t, err)

	_, err = r.Create(ctx, entity.AgentProfile{Name: "coder", SystemPrompt: "y"})
	require.Error(t, err)
}

func TestCreateReservedName(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Create(context.Background(), entity.AgentProfile{
		Name:         entity.DefaultAgentName,
		SystemPrompt: "takeover",
	})
	require.Error(t, err)
}

func TestDeleteReservedName(t *testing.T) {
	r := newTestRegistry(t)
	require.Error(t, r.Delete(context.Background(), entity.DefaultAgentName))
}

func TestDeleteUnknown(t *testing.T) {
	r := newTestRegistry(t)
	require.Error(t, r.Delete(context.Background(), "ghost"))
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	created, err := r.Create(ctx, entity.AgentProfile{Name: "coder", SystemPrompt: "v1"})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	updated, err := r.Update(ctx, entity.AgentProfile{Name: "coder", SystemPrompt: "v2"})
	require.NoError(t, err)

	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, "v2", updated.SystemPrompt)
}

func TestResolveFallsBackToDefault(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	profile, err := r.Resolve(ctx, "nonexistent")
	require.NoError(t, err)
	assert.Equal(t, entity.DefaultAgentName, profile.Name)

	// 空名称也返回默认
	profile, err = r.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, entity.DefaultAgentName, profile.Name)
}

func TestListSorted(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Create(ctx, entity.AgentProfile{Name: "zeta", SystemPrompt: "z"})
	require.NoError(t, err)
	_, err = r.Create(ctx, entity.AgentProfile{Name: "alpha", SystemPrompt: "a"})
	require.NoError(t, err)

	profiles, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "alpha", profiles[0].Name)
	assert.Equal(t, "default", profiles[1].Name)
	assert.Equal(t, "zeta", profiles[2].Name)
}

func TestLoadPresetsSkipsExisting(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Create(ctx, entity.AgentProfile{Name: "researcher", SystemPrompt: "mine"})
	require.NoError(t, err)

	presets := []entity.AgentProfile{
		{Name: "researcher", SystemPrompt: "preset"},
		{Name: "summarizer", SystemPrompt: "preset"},
	}
	data, err := json.Marshal(presets)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "presets.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	require.NoError(t, r.LoadPresets(ctx, path))

	// 已存在的不被覆盖
	got, err := r.Get(ctx, "researcher")
	require.NoError(t, err)
	assert.Equal(t, "mine", got.SystemPrompt)

	// 缺失的被导入
	got, err = r.Get(ctx, "summarizer")
	require.NoError(t, err)
	assert.Equal(t, "preset", got.SystemPrompt)
}

func TestLoadPresetsMissingFile(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.LoadPresets(context.Background(), "/nonexistent/presets.json"))
}
