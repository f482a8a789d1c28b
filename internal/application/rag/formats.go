package rag

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// extractPDF 按页提取 PDF 文本，每页前插入页码标记，返回总页数
func extractPDF(path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// 单页解析失败跳过，其余页继续
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("[第%d页]\n", i))
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), total, nil
}

// extractText 读取纯文本/Markdown 文件
// 按 UTF-8、GBK、Latin-1 顺序尝试解码
func extractText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	if utf8.Valid(raw) {
		return strings.TrimSpace(string(raw)), nil
	}

	if decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw); err == nil {
		return strings.TrimSpace(string(decoded)), nil
	}

	// Latin-1 对任意字节序列都能解码
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("failed to decode file: %w", err)
	}
	return strings.TrimSpace(string(decoded)), nil
}

// extractDocx 提取 docx 段落与表格文本
func extractDocx(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat docx: %w", err)
	}

	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return "", fmt.Errorf("failed to parse docx: %w", err)
	}

	var parts []string
	for _, item := range doc.Document.Body.Items {
		switch v := item.(type) {
		case *docx.Paragraph:
			if text := strings.TrimSpace(v.String()); text != "" {
				parts = append(parts, text)
			}
		case *docx.Table:
			if text := strings.TrimSpace(v.String()); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
