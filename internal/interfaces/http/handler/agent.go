package handler

import (
	"github.com/gin-gonic/gin"

	"bottle-agent-api/internal/application/agent"
	"bottle-agent-api/internal/domain/entity"
	"bottle-agent-api/internal/interfaces/http/dto"
)

// AgentHandler Agent 管理处理器
type AgentHandler struct {
	registry *agent.Registry
}

// NewAgentHandler 创建 Agent 处理器
func NewAgentHandler(registry *agent.Registry) *AgentHandler {
	return &AgentHandler{registry: registry}
}

// Create 创建 Agent
// POST /v1/agents
func (h *AgentHandler) Create(c *gin.Context) {
	var req dto.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	profile, err := h.registry.Create(c.Request.Context(), entity.AgentProfile{
		Name:         req.Name,
		Description:  req.Description,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		Provider:     req.Provider,
	})
	if err != nil {
		dto.FromAppError(c, err)
		return
	}
	dto.Created(c, dto.NewAgentResponse(profile))
}

// List 列出全部 Agent
// GET /v1/agents
func (h *AgentHandler) List(c *gin.Context) {
	profiles, err := h.registry.List(c.Request.Context())
	if err != nil {
		dto.FromAppError(c, err)
		return
	}

	out := make([]dto.AgentResponse, len(profiles))
	for i := range profiles {
		out[i] = dto.NewAgentResponse(&profiles[i])
	}
	dto.Success(c, out)
}

// Get 查看 Agent 详情
// GET /v1/agents/:name
func (h *AgentHandler) Get(c *gin.Context) {
	profile, err := h.registry.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		dto.FromAppError(c, err)
		return
	}
	dto.Success(c, dto.NewAgentResponse(profile))
}

// Update 更新 Agent
// PUT /v1/agents/:name
func (h *AgentHandler) Update(c *gin.Context) {
	var req dto.UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	profile, err := h.registry.Update(c.Request.Context(), entity.AgentProfile{
		Name:         c.Param("name"),
		Description:  req.Description,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		Provider:     req.Provider,
	})
	if err != nil {
		dto.FromAppError(c, err)
		return
	}
	dto.Success(c, dto.NewAgentResponse(profile))
}

// Delete 删除 Agent
// DELETE /v1/agents/:name
func (h *AgentHandler) Delete(c *gin.Context) {
	if err := h.registry.Delete(c.Request.Context(), c.Param("name")); err != nil {
		dto.FromAppError(c, err)
		return
	}
	dto.NoContent(c)
}
