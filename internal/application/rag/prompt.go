package rag

import (
	"fmt"
	"strings"
)

// DefaultSystemPrompt 默认 Agent 的系统提示词
const DefaultSystemPrompt = "你是一个专业的知识库问答助手。请基于提供的参考内容回答用户问题。" +
	"如果参考内容不足以回答问题，请如实说明，不要编造信息。回答时保持简洁准确。"

// BuildPrompt 将检索片段与问题组装为用户提示词
func BuildPrompt(question string, matches []VectorMatch) string {
	var sb strings.Builder
	sb.WriteString("基于以下文档内容回答用户问题。请确保回答准确、详细，并引用相关的文档片段。\n\n相关文档内容：\n")
	for i, m := range matches {
		source := m.Metadata["file_name"]
		if source == "" {
			source = "未知来源"
		}
		sb.WriteString(fmt.Sprintf("[文档片段 %d]（来源：%s）\n%s\n\n", i+1, source, m.Content))
	}
	sb.WriteString("问题：")
	sb.WriteString(question)
	sb.WriteString("\n\n请仅基于上述文档内容回答问题，并在回答末尾列出参考的文档片段编号。")
	return sb.String()
}

// BuildReferences 生成附在回答末尾的参考来源列表
// 同一来源（文件加页码）只出现一次，保留该来源的最高相似度分数
func BuildReferences(matches []VectorMatch) string {
	if len(matches) == 0 {
		return ""
	}

	type ref struct {
		name  string
		page  string
		score float64
	}
	var refs []ref
	seen := make(map[string]int)
	for _, m := range matches {
		name := m.Metadata["file_name"]
		if name == "" {
			name = "未知来源"
		}
		page := m.Metadata["page"]
		key := name + "#" + page
		if idx, ok := seen[key]; ok {
			if m.Score > refs[idx].score {
				refs[idx].score = m.Score
			}
			continue
		}
		seen[key] = len(refs)
		refs = append(refs, ref{name: name, page: page, score: m.Score})
	}

	var sb strings.Builder
	sb.WriteString("\n\n📚 参考来源：\n")
	for _, r := range refs {
		if r.page != "" {
			sb.WriteString(fmt.Sprintf("- %s（第%s页，相似度 %.3f）\n", r.name, r.page, r.score))
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s（相似度 %.3f）\n", r.name, r.score))
	}
	return strings.TrimRight(sb.String(), "\n")
}
