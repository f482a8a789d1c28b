package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const minimalConfig = `
llm:
  default_provider: deepseek
  providers:
    deepseek:
      api_key: test-key
      model: deepseek-chat
embedding:
  provider: openai
  api_key: embed-key
`

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", minimalConfig)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTP.Port)
	assert.Equal(t, "flat", cfg.Vector.Backend)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.InDelta(t, 0.3, cfg.RAG.SimilarityThreshold, 1e-9)
	assert.Equal(t, 6, cfg.RAG.HistoryLimit)
	assert.Equal(t, []string{".pdf", ".txt", ".md", ".docx"}, cfg.KnowledgeBase.SupportedFormats)
	assert.Equal(t, 100, cfg.Embedding.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Server.HTTP.ReadTimeout)
}

func TestLoadEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", `
llm:
  default_provider: deepseek
  providers:
    deepseek:
      api_key: ${TEST_LLM_KEY:fallback-key}
      model: deepseek-chat
embedding:
  provider: openai
  api_key: ${TEST_EMBED_KEY:embed-fallback}
knowledge_base:
  storage_path: ${TEST_KB_PATH:./kb_data}
`)

	t.Setenv("TEST_LLM_KEY", "real-key")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "real-key", cfg.LLM.Providers["deepseek"].APIKey)
	// 未设置的变量回落到默认值
	assert.Equal(t, "embed-fallback", cfg.Embedding.APIKey)
	assert.Equal(t, "./kb_data", cfg.KnowledgeBase.StoragePath)
}

func TestLoadEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", minimalConfig)
	writeConfig(t, dir, "config.production.yaml", `
server:
  http:
    port: 9090
`)

	t.Setenv("APP_ENV", "production")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.HTTP.Port)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "overlap >= chunk size",
			mutate:  func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize },
			wantErr: "chunk_overlap",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.RAG.SimilarityThreshold = 1.5 },
			wantErr: "similarity_threshold",
		},
		{
			name:    "unknown vector backend",
			mutate:  func(c *Config) { c.Vector.Backend = "faiss" },
			wantErr: "vector backend",
		},
		{
			name:    "default provider missing",
			mutate:  func(c *Config) { c.LLM.DefaultProvider = "missing" },
			wantErr: "default_provider",
		},
		{
			name: "embedding cache without redis",
			mutate: func(c *Config) {
				c.Embedding.Cache.Enabled = true
				c.Cache.Redis.Enabled = false
			},
			wantErr: "redis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, "config.yaml", minimalConfig)
			cfg, err := Load(dir)
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}
