// Package rag 实现知识库的文档处理、向量化与检索问答
package rag

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"bottle-agent-api/internal/domain/entity"
	"bottle-agent-api/pkg/errors"
	"bottle-agent-api/pkg/logger"
)

// pageMarker PDF 提取时插入的页码标记
var pageMarker = regexp.MustCompile(`\[第(\d+)页\]`)

// DocumentProcessor 负责文件文本提取与分块
type DocumentProcessor struct {
	chunkSize    int
	chunkOverlap int
	formats      map[string]struct{}
}

// NewDocumentProcessor 创建文档处理器
func NewDocumentProcessor(chunkSize, chunkOverlap int, supportedFormats []string) *DocumentProcessor {
	formats := make(map[string]struct{}, len(supportedFormats))
	for _, f := range supportedFormats {
		formats[strings.ToLower(f)] = struct{}{}
	}
	return &DocumentProcessor{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		formats:      formats,
	}
}

// Supported 判断文件扩展名是否受支持
func (p *DocumentProcessor) Supported(path string) bool {
	_, ok := p.formats[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ProcessFile 提取单个文件的文本，返回文档实体
func (p *DocumentProcessor) ProcessFile(ctx context.Context, path string) (*entity.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := p.formats[ext]; !ok {
		return nil, errors.New(errors.CodeInvalidParam, "unsupported file format").WithDetail(ext)
	}

	var (
		content    string
		totalPages int
		err        error
	)
	switch ext {
	case ".pdf":
		content, totalPages, err = extractPDF(path)
	case ".docx":
		content, err = extractDocx(path)
	default:
		// .txt / .md 以及其他纯文本格式
		content, err = extractText(path)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIngestionFailed, "failed to extract document text")
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.New(errors.CodeIngestionFailed, "document contains no extractable text")
	}

	base := filepath.Base(path)
	metadata := map[string]string{
		"file_name": base,
		"file_path": path,
		"file_type": ext,
	}
	if info, err := os.Stat(path); err == nil {
		metadata["file_size"] = strconv.FormatInt(info.Size(), 10)
	}
	if totalPages > 0 {
		metadata["total_pages"] = strconv.Itoa(totalPages)
	}

	return &entity.Document{
		ID:       entity.NewDocumentID(path, content),
		Title:    strings.TrimSuffix(base, ext),
		Content:  content,
		Metadata: metadata,
	}, nil
}

// ProcessFolder 递归处理文件夹下所有受支持的文件
// 单个文件失败只记录日志并跳过，不中断整个入库流程
func (p *DocumentProcessor) ProcessFolder(ctx context.Context, folder string) ([]entity.Document, error) {
	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		return nil, errors.ErrFolderNotFound.WithDetail(folder)
	}

	var docs []entity.Document
	walkErr := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !p.Supported(path) {
			return nil
		}
		doc, err := p.ProcessFile(ctx, path)
		if err != nil {
			logger.Warn(ctx, "skipping unprocessable file", "path", path, "reason", err.Error())
			return nil
		}
		docs = append(docs, *doc)
		return nil
	})
	if walkErr != nil {
		return nil, errors.Wrap(walkErr, errors.CodeIngestionFailed, "failed to walk document folder")
	}
	return docs, nil
}

// ChunkDocuments 将文档切分为带重叠的片段
// 按空行划分段落贪心累积，超长段落不再细分，整段作为超大片段保留
func (p *DocumentProcessor) ChunkDocuments(docs []entity.Document) []entity.DocumentChunk {
	var chunks []entity.DocumentChunk
	for _, doc := range docs {
		chunks = append(chunks, p.chunkDocument(doc)...)
	}
	return chunks
}

func (p *DocumentProcessor) chunkDocument(doc entity.Document) []entity.DocumentChunk {
	paragraphs := splitParagraphs(doc.Content)

	var pieces []string
	var current []rune
	for _, para := range paragraphs {
		runes := []rune(para)
		if len(current) == 0 {
			current = runes
			continue
		}
		// +2 计入段落间的空行分隔符
		if len(current)+len(runes)+2 > p.chunkSize {
			pieces = append(pieces, string(current))
			current = append(p.overlapTail(current), []rune("\n\n"+para)...)
			continue
		}
		current = append(current, []rune("\n\n"+para)...)
	}
	if len(current) > 0 {
		pieces = append(pieces, string(current))
	}

	chunks := make([]entity.DocumentChunk, 0, len(pieces))
	for i, piece := range pieces {
		meta := make(map[string]string, len(doc.Metadata)+5)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta["doc_id"] = doc.ID
		meta["doc_title"] = doc.Title
		meta["chunk_index"] = strconv.Itoa(i)
		meta["chunk_size"] = strconv.Itoa(len([]rune(piece)))
		if m := pageMarker.FindStringSubmatch(piece); m != nil {
			meta["page"] = m[1]
		}
		chunks = append(chunks, entity.DocumentChunk{
			ID:       entity.ChunkID(doc.ID, i),
			Content:  piece,
			Metadata: meta,
		})
	}
	return chunks
}

// overlapTail 取上一片段尾部作为下一片段的重叠前缀
func (p *DocumentProcessor) overlapTail(runes []rune) []rune {
	if p.chunkOverlap <= 0 || len(runes) <= p.chunkOverlap {
		tail := make([]rune, len(runes))
		copy(tail, runes)
		if p.chunkOverlap <= 0 {
			return nil
		}
		return tail
	}
	tail := make([]rune, p.chunkOverlap)
	copy(tail, runes[len(runes)-p.chunkOverlap:])
	return tail
}

// splitParagraphs 按空行切分并去除空白段落
func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
