// Package pipeline 定义了文档入库的核心流程：下载 → 抽取 → 切分 → 暂存 → 向量化 → 索引。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/embedding"
	"docchat-go/pkg/log"
	"docchat-go/pkg/metrics"
	"docchat-go/pkg/tasks"
)

const (
	chunkSize    = 1000
	chunkOverlap = 100
)

// ObjectReader 读取文档原件，由 *storage.Bucket 实现。
type ObjectReader interface {
	Get(ctx context.Context, objectName string) (io.ReadCloser, error)
}

// TextExtractor 从原件中抽取纯文本，由 *tika.Client 实现。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName, contentType string) (string, error)
}

// ChunkIndexer 写入与移除索引分块，由 *es.Index 实现。
type ChunkIndexer interface {
	IndexChunk(ctx context.Context, doc model.IndexDoc) error
	DeleteByTerm(ctx context.Context, field, value string) (int64, error)
}

// Processor 封装了文档入库的所有依赖和逻辑。
type Processor struct {
	objects        ObjectReader
	extractor      TextExtractor
	embedder       embedding.Client
	index          ChunkIndexer
	docs           repository.DocumentRepository
	chunks         repository.ChunkRepository
	embeddingModel string
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	objects ObjectReader,
	extractor TextExtractor,
	embedder embedding.Client,
	index ChunkIndexer,
	docs repository.DocumentRepository,
	chunks repository.ChunkRepository,
	embeddingModel string,
) *Processor {
	return &Processor{
		objects:        objects,
		extractor:      extractor,
		embedder:       embedder,
		index:          index,
		docs:           docs,
		chunks:         chunks,
		embeddingModel: embeddingModel,
	}
}

// Process 处理一个入库任务。返回错误时由消费者重试，整个流程可重入。
func (p *Processor) Process(ctx context.Context, task tasks.IngestionTask) (err error) {
	defer func() {
		outcome := "indexed"
		if err != nil {
			outcome = "failed"
		}
		metrics.IngestionTasks.WithLabelValues(outcome).Inc()
	}()
	log.Infof("[Processor] 开始处理文档, document: %s, thread: %s, file: %s", task.DocumentID, task.ThreadID, task.FileName)

	doc, err := p.docs.Get(ctx, task.DocumentID)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		log.Warnf("[Processor] 文档 %s 已不存在, 跳过", task.DocumentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取文档记录失败: %w", err)
	}
	if doc.Deleted {
		log.Infof("[Processor] 文档 %s 已删除, 跳过", task.DocumentID)
		return nil
	}

	// 1. 从对象存储下载
	object, err := p.objects.Get(ctx, task.ObjectName)
	if err != nil {
		return fmt.Errorf("下载文档失败: %w", err)
	}
	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	object.Close()
	if err != nil {
		return fmt.Errorf("读取文档内容失败: %w", err)
	}
	if size == 0 {
		log.Warnf("[Processor] 文档 '%s' 内容为空, 处理中止", task.FileName)
		return errors.New("文件内容为空")
	}

	// 2. 抽取文本
	text, err := p.extractor.ExtractText(ctx, bytes.NewReader(buf.Bytes()), task.FileName, task.ContentType)
	if err != nil {
		return fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	log.Infof("[Processor] 文本提取成功, document: %s, 内容长度: %d 字符", task.DocumentID, utf8.RuneCountInString(text))

	// 3. 切分
	parts := splitText(text, chunkSize, chunkOverlap)
	if len(parts) == 0 {
		log.Warnf("[Processor] 未生成任何文本分块, 处理中止, file: %s", task.FileName)
		return errors.New("未生成任何文本分块")
	}

	// 阶段一：分块暂存到数据库，重复处理时整体替换
	staged := make([]*model.DocumentChunk, 0, len(parts))
	for i, part := range parts {
		staged = append(staged, &model.DocumentChunk{
			DocumentID:   task.DocumentID,
			ThreadID:     task.ThreadID,
			ChunkIndex:   i,
			Content:      part,
			ModelVersion: p.embeddingModel,
		})
	}
	if err := p.chunks.ReplaceForDocument(ctx, task.DocumentID, staged); err != nil {
		return fmt.Errorf("保存文本分块失败: %w", err)
	}

	// 阶段二：向量化并写入索引
	for _, c := range staged {
		vector, err := p.embedder.CreateEmbedding(ctx, c.Content)
		if err != nil {
			return fmt.Errorf("块 %d 向量化失败: %w", c.ChunkIndex, err)
		}
		err = p.index.IndexChunk(ctx, model.IndexDoc{
			ChunkID:    c.ChunkID(),
			Content:    c.Content,
			FileName:   task.FileName,
			DocumentID: task.DocumentID,
			ThreadID:   task.ThreadID,
			UserID:     task.UserID,
			ChunkIndex: c.ChunkIndex,
			Vector:     vector,
		})
		if err != nil {
			return fmt.Errorf("索引块 %d 失败: %w", c.ChunkIndex, err)
		}
	}

	// 索引期间文档可能已被删除，此时撤回刚写入的分块
	doc, err = p.docs.Get(ctx, task.DocumentID)
	if errors.Is(err, repository.ErrDocumentNotFound) || (err == nil && doc.Deleted) {
		log.Infof("[Processor] 文档 %s 在索引期间被删除, 撤回分块", task.DocumentID)
		if _, err := p.index.DeleteByTerm(ctx, "document_id", task.DocumentID); err != nil {
			return fmt.Errorf("撤回分块失败: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取文档记录失败: %w", err)
	}
	if err := p.docs.MarkAvailable(ctx, task.DocumentID, model.ChunkKey(task.DocumentID, 0)); err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}
	log.Infof("[Processor] 文档处理成功完成, document: %s, 分块数: %d", task.DocumentID, len(staged))
	return nil
}

// splitText 将长文本按指定大小和重叠进行切分。
func splitText(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
