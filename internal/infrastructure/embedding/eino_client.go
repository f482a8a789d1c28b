package embedding

import (
	"context"
	"fmt"

	"bottle-agent-api/internal/config"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
)

// NewEinoEmbedder 创建基于 Eino OpenAI 适配器的 Embedder
func NewEinoEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding api key is required")
	}

	conf := &openai.EmbeddingConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
	}
	if cfg.Endpoint != "" {
		conf.BaseURL = cfg.Endpoint
	}
	if cfg.Dimension > 0 {
		dims := cfg.Dimension
		conf.Dimensions = &dims
	}

	embedder, err := openai.NewEmbedder(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create eino embedder: %w", err)
	}
	return embedder, nil
}

// New 按配置的提供方创建 Embedder
func New(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewEinoEmbedder(ctx, cfg)
	case "local":
		return NewLocalEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
