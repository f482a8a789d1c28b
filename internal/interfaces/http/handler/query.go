package handler

import (
	"io"

	"github.com/gin-gonic/gin"

	"bottle-agent-api/internal/application/rag"
	"bottle-agent-api/internal/domain/entity"
	"bottle-agent-api/internal/interfaces/http/dto"
	"bottle-agent-api/pkg/logger"
)

// QueryHandler 知识库问答处理器
type QueryHandler struct {
	store *rag.Store
}

// NewQueryHandler 创建问答处理器
func NewQueryHandler(store *rag.Store) *QueryHandler {
	return &QueryHandler{store: store}
}

func buildQueryRequest(c *gin.Context) (*rag.QueryRequest, bool) {
	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request: "+err.Error())
		return nil, false
	}

	history := make([]entity.ChatMessage, len(req.History))
	for i, m := range req.History {
		history[i] = entity.ChatMessage{Role: m.Role, Content: m.Content}
	}

	return &rag.QueryRequest{
		KBName:    c.Param("name"),
		Question:  req.Question,
		AgentName: req.Agent,
		History:   history,
	}, true
}

// Query 知识库问答
// POST /v1/knowledge-bases/:name/query
func (h *QueryHandler) Query(c *gin.Context) {
	req, ok := buildQueryRequest(c)
	if !ok {
		return
	}

	ctx := logger.WithContext(c.Request.Context(), logger.KBNameKey, req.KBName)
	if req.AgentName != "" {
		ctx = logger.WithContext(ctx, logger.AgentNameKey, req.AgentName)
	}

	answer := h.store.Query(ctx, *req)
	dto.Success(c, dto.QueryResponse{Answer: answer})
}

// QueryStream 流式知识库问答，SSE 输出
// POST /v1/knowledge-bases/:name/query/stream
func (h *QueryHandler) QueryStream(c *gin.Context) {
	req, ok := buildQueryRequest(c)
	if !ok {
		return
	}

	ctx := logger.WithContext(c.Request.Context(), logger.KBNameKey, req.KBName)
	if req.AgentName != "" {
		ctx = logger.WithContext(ctx, logger.AgentNameKey, req.AgentName)
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	stream := h.store.QueryStream(ctx, *req)
	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-stream
		if !ok {
			c.SSEvent("done", gin.H{})
			return false
		}
		c.SSEvent("content", gin.H{"delta": chunk})
		return true
	})
}
