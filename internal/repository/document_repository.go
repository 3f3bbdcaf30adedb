package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"docchat-go/internal/model"
)

// ErrDocumentNotFound 表示文档记录不存在。
var ErrDocumentNotFound = errors.New("document not found")

// DocumentRepository 定义了 docs_per_thread 表的数据操作接口。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.DocsPerThread) error
	Get(ctx context.Context, id string) (*model.DocsPerThread, error)
	ListByThread(ctx context.Context, threadID string, includeDeleted bool) ([]model.DocsPerThread, error)
	MarkDeleted(ctx context.Context, id string) error
	// MarkDeletedByThread 软删除会话下的全部文档，返回本次新标记的数量。
	MarkDeletedByThread(ctx context.Context, threadID string) (int64, error)
	// MarkAvailable 在索引确认分块存在后翻转 ExtractAvailable 与 AvailableInSearchIndex。
	MarkAvailable(ctx context.Context, id, chunkID string) error
	HardDelete(ctx context.Context, id string) error
	HardDeleteByThread(ctx context.Context, threadID string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(ctx context.Context, doc *model.DocsPerThread) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *documentRepository) Get(ctx context.Context, id string) (*model.DocsPerThread, error) {
	var doc model.DocsPerThread
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) ListByThread(ctx context.Context, threadID string, includeDeleted bool) ([]model.DocsPerThread, error) {
	var docs []model.DocsPerThread
	q := r.db.WithContext(ctx).Where("thread_id = ?", threadID)
	if !includeDeleted {
		q = q.Where("deleted = ?", false)
	}
	err := q.Order("upload_date ASC").Find(&docs).Error
	return docs, err
}

func (r *documentRepository) MarkDeleted(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.DocsPerThread{}).
		Where("id = ?", id).
		Update("deleted", true).Error
}

func (r *documentRepository) MarkDeletedByThread(ctx context.Context, threadID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.DocsPerThread{}).
		Where("thread_id = ? AND deleted = ?", threadID, false).
		Update("deleted", true)
	return res.RowsAffected, res.Error
}

func (r *documentRepository) MarkAvailable(ctx context.Context, id, chunkID string) error {
	return r.db.WithContext(ctx).Model(&model.DocsPerThread{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"extract_available":         true,
			"available_in_search_index": true,
			"chunk_id":                  chunkID,
		}).Error
}

func (r *documentRepository) HardDelete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.DocsPerThread{}).Error
}

func (r *documentRepository) HardDeleteByThread(ctx context.Context, threadID string) error {
	return r.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&model.DocsPerThread{}).Error
}
