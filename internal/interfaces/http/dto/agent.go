package dto

import (
	"time"

	"bottle-agent-api/internal/domain/entity"
)

// CreateAgentRequest 创建 Agent 请求
type CreateAgentRequest struct {
	Name         string  `json:"name" binding:"required,min=1,max=100"`
	Description  string  `json:"description" binding:"max=500"`
	SystemPrompt string  `json:"system_prompt" binding:"required"`
	Temperature  float64 `json:"temperature" binding:"gte=0,lte=2"`
	MaxTokens    int     `json:"max_tokens" binding:"gte=0"`
	Provider     string  `json:"provider"`
}

// UpdateAgentRequest 更新 Agent 请求
type UpdateAgentRequest struct {
	Description  string  `json:"description" binding:"max=500"`
	SystemPrompt string  `json:"system_prompt" binding:"required"`
	Temperature  float64 `json:"temperature" binding:"gte=0,lte=2"`
	MaxTokens    int     `json:"max_tokens" binding:"gte=0"`
	Provider     string  `json:"provider"`
}

// AgentResponse Agent 信息响应
type AgentResponse struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	SystemPrompt string    `json:"system_prompt"`
	Temperature  float64   `json:"temperature"`
	MaxTokens    int       `json:"max_tokens"`
	Provider     string    `json:"provider,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewAgentResponse 从领域实体构建响应
func NewAgentResponse(p *entity.AgentProfile) AgentResponse {
	return AgentResponse{
		Name:         p.Name,
		Description:  p.Description,
		SystemPrompt: p.SystemPrompt,
		Temperature:  p.Temperature,
		MaxTokens:    p.MaxTokens,
		Provider:     p.Provider,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}
