// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"docchat-go/internal/model"
)

// ErrThreadNotFound 表示会话不存在，或在追加消息时已被软删除。
var ErrThreadNotFound = errors.New("thread not found")

// ThreadRepository 接口定义了会话与消息的持久化操作。
type ThreadRepository interface {
	Create(ctx context.Context, thread *model.Thread) error
	// Get 返回会话（包括已软删除的），不存在时返回 ErrThreadNotFound。
	Get(ctx context.Context, id string) (*model.Thread, error)
	ListByUser(ctx context.Context, userID string) ([]model.Thread, error)
	Rename(ctx context.Context, id, name string) (*model.Thread, error)
	// MarkDeleted 将会话置为 SoftDeleted，重复调用不会改变首次删除时间。
	MarkDeleted(ctx context.Context, id string, at time.Time) (*model.Thread, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]model.Thread, error)
	// ListSoftDeleted 按 id 升序分页返回已软删除的会话，afterID 为上一页最后一个 id。
	ListSoftDeleted(ctx context.Context, afterID string, limit int) ([]model.Thread, error)

	// AppendMessage 只允许向存在且未删除的会话追加消息。
	AppendMessage(ctx context.Context, msg *model.ThreadMessage) error
	// ListMessages 按时间正序返回消息；limit > 0 时只返回最近的 limit 条。
	ListMessages(ctx context.Context, threadID string, limit int) ([]model.ThreadMessage, error)

	// HardDelete 在一个事务中物理删除会话及其全部消息，会话不存在时也返回 nil。
	HardDelete(ctx context.Context, threadID string) error
}

type threadRepository struct {
	db *gorm.DB
}

// NewThreadRepository 创建一个新的 ThreadRepository 实例。
func NewThreadRepository(db *gorm.DB) ThreadRepository {
	return &threadRepository{db: db}
}

func (r *threadRepository) Create(ctx context.Context, thread *model.Thread) error {
	return r.db.WithContext(ctx).Create(thread).Error
}

func (r *threadRepository) Get(ctx context.Context, id string) (*model.Thread, error) {
	var thread model.Thread
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

func (r *threadRepository) ListByUser(ctx context.Context, userID string) ([]model.Thread, error) {
	var threads []model.Thread
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND deleted = ?", userID, false).
		Order("updated_at DESC").
		Find(&threads).Error
	return threads, err
}

func (r *threadRepository) Rename(ctx context.Context, id, name string) (*model.Thread, error) {
	res := r.db.WithContext(ctx).Model(&model.Thread{}).
		Where("id = ? AND deleted = ?", id, false).
		Updates(map[string]interface{}{"name": name, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, res.Error
	}
	thread, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if thread.Deleted {
		return nil, ErrThreadNotFound
	}
	return thread, nil
}

func (r *threadRepository) MarkDeleted(ctx context.Context, id string, at time.Time) (*model.Thread, error) {
	err := r.db.WithContext(ctx).Model(&model.Thread{}).
		Where("id = ? AND deleted = ?", id, false).
		Updates(map[string]interface{}{"deleted": true, "deleted_at": at, "updated_at": at}).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// ListExpired 返回最后活跃时间早于 before 的活跃会话。
func (r *threadRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]model.Thread, error) {
	var threads []model.Thread
	q := r.db.WithContext(ctx).
		Where("deleted = ? AND updated_at < ?", false, before).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&threads).Error
	return threads, err
}

func (r *threadRepository) ListSoftDeleted(ctx context.Context, afterID string, limit int) ([]model.Thread, error) {
	var threads []model.Thread
	q := r.db.WithContext(ctx).Where("deleted = ? AND id > ?", true, afterID).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&threads).Error
	return threads, err
}

func (r *threadRepository) AppendMessage(ctx context.Context, msg *model.ThreadMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先更新会话的活跃时间，MySQL 下这一步同时锁住会话行，与并发的软删除串行化
		if err := tx.Model(&model.Thread{}).
			Where("id = ? AND deleted = ?", msg.ThreadID, false).
			Update("updated_at", time.Now()).Error; err != nil {
			return err
		}
		var thread model.Thread
		err := tx.Select("id").Where("id = ? AND deleted = ?", msg.ThreadID, false).First(&thread).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrThreadNotFound
		}
		if err != nil {
			return err
		}
		return tx.Create(msg).Error
	})
}

func (r *threadRepository) ListMessages(ctx context.Context, threadID string, limit int) ([]model.ThreadMessage, error) {
	var msgs []model.ThreadMessage
	if limit <= 0 {
		err := r.db.WithContext(ctx).
			Where("thread_id = ?", threadID).
			Order("created_at ASC, id ASC").
			Find(&msgs).Error
		return msgs, err
	}
	err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *threadRepository) HardDelete(ctx context.Context, threadID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id = ?", threadID).Delete(&model.ThreadMessage{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", threadID).Delete(&model.Thread{}).Error
	})
}
