package repository

import (
	"context"

	"gorm.io/gorm"

	"docchat-go/internal/model"
)

// ChunkRepository 定义了对 document_chunks 表的数据操作接口。
type ChunkRepository interface {
	// ReplaceForDocument 删除文档已有分块后写入新分块，保证重复处理不会累积。
	ReplaceForDocument(ctx context.Context, documentID string, chunks []*model.DocumentChunk) error
	ListByDocument(ctx context.Context, documentID string) ([]model.DocumentChunk, error)
	DeleteByDocument(ctx context.Context, documentID string) error
	DeleteByThread(ctx context.Context, threadID string) error
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

func (r *chunkRepository) ReplaceForDocument(ctx context.Context, documentID string, chunks []*model.DocumentChunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 100).Error // 每100条记录一批
	})
}

func (r *chunkRepository) ListByDocument(ctx context.Context, documentID string) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Order("chunk_index ASC").Find(&chunks).Error
	return chunks, err
}

func (r *chunkRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	return r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.DocumentChunk{}).Error
}

func (r *chunkRepository) DeleteByThread(ctx context.Context, threadID string) error {
	return r.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&model.DocumentChunk{}).Error
}
