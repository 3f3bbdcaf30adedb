package service

import (
	"context"
	"io"
	"time"

	"docchat-go/pkg/es"
	"docchat-go/pkg/tasks"
)

// SearchIndex 是分块索引上的操作，由 *es.Index 实现。
type SearchIndex interface {
	Search(ctx context.Context, query map[string]interface{}) ([]es.Hit, error)
	DeleteByTerm(ctx context.Context, field, value string) (int64, error)
	CountByTerm(ctx context.Context, field, value string) (int64, error)
	Ping(ctx context.Context) error
}

// BlobStore 是文档原件的对象存储，由 *storage.Bucket 实现。
type BlobStore interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, objectName string) error
	RemovePrefix(ctx context.Context, prefix string) (int, error)
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// ThreadChangePublisher 发布会话变更事件，由 *kafka.Publisher 实现。
type ThreadChangePublisher interface {
	PublishThreadChanged(ctx context.Context, event tasks.ThreadChangedEvent) error
}

// IngestionPublisher 投递入库任务，由 *kafka.Publisher 实现。
type IngestionPublisher interface {
	PublishIngestion(ctx context.Context, task tasks.IngestionTask) error
}
