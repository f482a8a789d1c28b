// Package main 知识库问答服务入口
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	agentapp "bottle-agent-api/internal/application/agent"
	"bottle-agent-api/internal/application/rag"
	"bottle-agent-api/internal/config"
	embeddinginfra "bottle-agent-api/internal/infrastructure/embedding"
	"bottle-agent-api/internal/infrastructure/llm"
	"bottle-agent-api/internal/infrastructure/persistence/flatindex"
	"bottle-agent-api/internal/infrastructure/persistence/kbfs"
	"bottle-agent-api/internal/infrastructure/persistence/milvus"
	redisinfra "bottle-agent-api/internal/infrastructure/persistence/redis"
	"bottle-agent-api/internal/interfaces/http/handler"
	"bottle-agent-api/internal/interfaces/http/middleware"
	"bottle-agent-api/internal/interfaces/http/router"
	"bottle-agent-api/pkg/logger"
	"bottle-agent-api/pkg/tracer"
)

// Version 版本信息，构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "./configs", "config directory")
	flag.Parse()

	// 加载 .env 文件（如果存在）
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(
		cfg.Observability.Logging.Level,
		cfg.Observability.Logging.Format,
	)

	ctx := context.Background()
	log := logger.FromContext(ctx)
	log.Info("starting kb-svc",
		"version", Version,
		"build_time", BuildTime,
		"env", cfg.App.Env,
	)

	shutdownTracer, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() {
		if err := shutdownTracer(ctx); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// Redis（可选）
	var redisClient *redisinfra.Client
	if cfg.Cache.Redis.Enabled {
		redisClient, err = redisinfra.NewClient(&cfg.Cache.Redis)
		if err != nil {
			logger.Fatal(ctx, "failed to connect redis", err)
		}
		defer redisClient.Close()
	}

	// Embedding 提供方，可选 Redis 缓存装饰
	embedder, err := embeddinginfra.New(ctx, &cfg.Embedding)
	if err != nil {
		logger.Fatal(ctx, "failed to create embedder", err)
	}
	if cfg.Embedding.Cache.Enabled && redisClient != nil {
		embedder = embeddinginfra.NewCachedEmbedder(
			embedder,
			redisinfra.NewCache(redisClient),
			cfg.Embedding.Model,
			cfg.Embedding.Cache.TTL,
		)
	}
	embeddingSvc := rag.NewEmbeddingService(
		embedder,
		cfg.Embedding.Provider,
		cfg.Embedding.Dimension,
		cfg.Embedding.BatchSize,
	)

	// 向量索引后端
	var (
		vectors      rag.VectorStore
		milvusClient *milvus.Client
	)
	switch cfg.Vector.Backend {
	case "milvus":
		milvusClient, err = milvus.NewClient(ctx, &cfg.Vector.Milvus)
		if err != nil {
			logger.Fatal(ctx, "failed to connect milvus", err)
		}
		defer milvusClient.Close()
		vectors, err = milvus.NewStore(ctx, milvusClient, cfg.Embedding.Dimension)
		if err != nil {
			logger.Fatal(ctx, "failed to init milvus vector store", err)
		}
	default:
		vectors = flatindex.NewStore(cfg.KnowledgeBase.StoragePath)
	}

	// 知识库持久化
	repo, err := kbfs.NewStore(cfg.KnowledgeBase.StoragePath)
	if err != nil {
		logger.Fatal(ctx, "failed to init knowledge base storage", err)
	}

	// Agent 注册表
	registry, err := agentapp.NewRegistry(cfg.KnowledgeBase.StoragePath)
	if err != nil {
		logger.Fatal(ctx, "failed to init agent registry", err)
	}
	if cfg.Agents.PresetsFile != "" {
		if err := registry.LoadPresets(ctx, cfg.Agents.PresetsFile); err != nil {
			log.Warn("failed to load agent presets", "error", err)
		}
	}

	// LLM 生成器
	generator := llm.NewGenerator(llm.NewFactory(&cfg.LLM))

	// 文档处理与核心服务
	processor := rag.NewDocumentProcessor(
		cfg.RAG.ChunkSize,
		cfg.RAG.ChunkOverlap,
		cfg.KnowledgeBase.SupportedFormats,
	)
	store := rag.NewStore(processor, embeddingSvc, vectors, repo, registry, generator, rag.StoreOptions{
		TopK:                cfg.RAG.TopK,
		SimilarityThreshold: cfg.RAG.SimilarityThreshold,
		HistoryLimit:        cfg.RAG.HistoryLimit,
	})

	// 限流器（需要 Redis）
	var limiter middleware.RateLimiter
	if cfg.Security.RateLimit.Enabled && redisClient != nil {
		limiter = redisinfra.NewRateLimiter(redisClient)
	}

	r := router.New(cfg, router.Handlers{
		Health:        handler.NewHealthHandler(cfg.App.Version, redisClient, milvusClient),
		KnowledgeBase: handler.NewKnowledgeBaseHandler(store),
		Query:         handler.NewQueryHandler(store),
		Agent:         handler.NewAgentHandler(registry),
	}, limiter)

	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTP.Host, cfg.Server.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("http server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server exited")
}
