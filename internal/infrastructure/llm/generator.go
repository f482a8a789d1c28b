package llm

import (
	"context"
	"io"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"bottle-agent-api/internal/application/rag"
	"bottle-agent-api/internal/domain/entity"
	"bottle-agent-api/pkg/errors"
)

// Generator 基于 Eino ChatModel 的回答生成器，实现 rag.AnswerGenerator
type Generator struct {
	factory *Factory
}

// NewGenerator 创建回答生成器
func NewGenerator(factory *Factory) *Generator {
	return &Generator{factory: factory}
}

// buildMessages 将系统提示词与对话历史转换为 Eino 消息
func buildMessages(req rag.GenerateRequest) []*schema.Message {
	messages := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, schema.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case entity.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(m.Content, nil))
		default:
			messages = append(messages, schema.UserMessage(m.Content))
		}
	}
	return messages
}

// buildOptions 将 Agent 的生成参数转换为调用选项
func buildOptions(req rag.GenerateRequest) []model.Option {
	var opts []model.Option
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	return opts
}

// Generate 一次性生成完整回答
func (g *Generator) Generate(ctx context.Context, req rag.GenerateRequest) (string, error) {
	chatModel, err := g.factory.Get(ctx, req.Provider)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeLLMProviderError, "failed to get chat model")
	}

	resp, err := chatModel.Generate(ctx, buildMessages(req), buildOptions(req)...)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeLLMCallFailed, "chat completion failed")
	}
	return resp.Content, nil
}

// Stream 流式生成，通道在生成结束或出错后关闭
func (g *Generator) Stream(ctx context.Context, req rag.GenerateRequest) (<-chan rag.StreamChunk, error) {
	chatModel, err := g.factory.Get(ctx, req.Provider)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeLLMProviderError, "failed to get chat model")
	}

	reader, err := chatModel.Stream(ctx, buildMessages(req), buildOptions(req)...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeLLMCallFailed, "chat stream failed")
	}

	out := make(chan rag.StreamChunk)
	go func() {
		defer close(out)
		defer reader.Close()

		for {
			msg, err := reader.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case <-ctx.Done():
				case out <- rag.StreamChunk{Err: err}:
				}
				return
			}
			if msg.Content == "" {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- rag.StreamChunk{Content: msg.Content}:
			}
		}
	}()
	return out, nil
}
