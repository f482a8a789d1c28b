package handler

import (
	"github.com/gin-gonic/gin"

	"bottle-agent-api/internal/application/rag"
	"bottle-agent-api/internal/interfaces/http/dto"
	"bottle-agent-api/pkg/logger"
)

// KnowledgeBaseHandler 知识库管理处理器
type KnowledgeBaseHandler struct {
	store *rag.Store
}

// NewKnowledgeBaseHandler 创建知识库处理器
func NewKnowledgeBaseHandler(store *rag.Store) *KnowledgeBaseHandler {
	return &KnowledgeBaseHandler{store: store}
}

// Create 创建知识库
// POST /v1/knowledge-bases
func (h *KnowledgeBaseHandler) Create(c *gin.Context) {
	var req dto.CreateKnowledgeBaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	ctx := logger.WithContext(c.Request.Context(), logger.KBNameKey, req.Name)
	info, err := h.store.Create(ctx, req.Name, req.FolderPath, req.Description)
	if err != nil {
		dto.FromAppError(c, err)
		return
	}
	dto.Created(c, dto.NewKnowledgeBaseResponse(info))
}

// List 列出全部知识库
// GET /v1/knowledge-bases
func (h *KnowledgeBaseHandler) List(c *gin.Context) {
	infos, err := h.store.List(c.Request.Context())
	if err != nil {
		dto.FromAppError(c, err)
		return
	}

	out := make([]dto.KnowledgeBaseResponse, len(infos))
	for i := range infos {
		out[i] = dto.NewKnowledgeBaseResponse(&infos[i])
	}
	dto.Success(c, out)
}

// Info 查看知识库详情
// GET /v1/knowledge-bases/:name
func (h *KnowledgeBaseHandler) Info(c *gin.Context) {
	info, err := h.store.Info(c.Request.Context(), c.Param("name"))
	if err != nil {
		dto.FromAppError(c, err)
		return
	}
	dto.Success(c, dto.NewKnowledgeBaseResponse(info))
}

// Update 用原始文件夹重建知识库
// PUT /v1/knowledge-bases/:name
func (h *KnowledgeBaseHandler) Update(c *gin.Context) {
	name := c.Param("name")
	ctx := logger.WithContext(c.Request.Context(), logger.KBNameKey, name)

	info, err := h.store.Update(ctx, name)
	if err != nil {
		dto.FromAppError(c, err)
		return
	}
	dto.Success(c, dto.NewKnowledgeBaseResponse(info))
}

// Delete 删除知识库
// DELETE /v1/knowledge-bases/:name
func (h *KnowledgeBaseHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	ctx := logger.WithContext(c.Request.Context(), logger.KBNameKey, name)

	if err := h.store.Delete(ctx, name); err != nil {
		dto.FromAppError(c, err)
		return
	}
	dto.NoContent(c)
}
