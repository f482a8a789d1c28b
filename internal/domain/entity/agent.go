package entity

import "time"

// DefaultAgentName 保留的默认 Agent 名称，不允许删除或覆盖
const DefaultAgentName = "default"

// AgentProfile 问答 Agent 配置
type AgentProfile struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	SystemPrompt string    `json:"system_prompt"`
	Temperature  float64   `json:"temperature"`
	MaxTokens    int       `json:"max_tokens"`
	Provider     string    `json:"provider,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ChatMessage 多轮对话中的一条历史消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// 对话角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)
