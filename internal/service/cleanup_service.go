package service

import (
	"context"
	"errors"
	"time"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/log"
	"docchat-go/pkg/metrics"
	"docchat-go/pkg/tasks"
)

// SweepReport 汇总一次定时清理的结果。
type SweepReport struct {
	Expired int `json:"expired"`
	Purged  int `json:"purged"`
	Failed  int `json:"failed"`
}

// CleanupService 负责会话的 SoftDeleted → Purged 阶段。
type CleanupService interface {
	// HandleThreadChanged 处理变更事件，已软删除的会话会被立即清理。
	HandleThreadChanged(ctx context.Context, event tasks.ThreadChangedEvent) error
	// SweepExpired 将超过保留期的会话软删除，然后重试所有仍处于 SoftDeleted 的会话。
	SweepExpired(ctx context.Context) (SweepReport, error)
	// Purge 物理删除一个已软删除的会话及其文档。每一步都可重入，中途失败后重试是安全的。
	Purge(ctx context.Context, threadID string) error
}

type cleanupService struct {
	threads   repository.ThreadRepository
	docs      repository.DocumentRepository
	chunks    repository.ChunkRepository
	index     SearchIndex
	blobs     BlobStore
	publisher ThreadChangePublisher
	cfg       config.CleanupConfig
	now       func() time.Time
}

// NewCleanupService 创建一个新的 CleanupService 实例。
func NewCleanupService(
	threads repository.ThreadRepository,
	docs repository.DocumentRepository,
	chunks repository.ChunkRepository,
	index SearchIndex,
	blobs BlobStore,
	publisher ThreadChangePublisher,
	cfg config.CleanupConfig,
) CleanupService {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &cleanupService{
		threads:   threads,
		docs:      docs,
		chunks:    chunks,
		index:     index,
		blobs:     blobs,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *cleanupService) HandleThreadChanged(ctx context.Context, event tasks.ThreadChangedEvent) error {
	if !event.Deleted {
		return nil
	}
	err := s.Purge(ctx, event.ThreadID)
	if errors.Is(err, ErrThreadActive) {
		// 过期事件：会话不会从 SoftDeleted 回到 Active
		log.Warnf("[CleanupService] 收到删除事件但会话仍处于活跃状态, thread: %s", event.ThreadID)
		return nil
	}
	return err
}

func (s *cleanupService) SweepExpired(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)

	expired, err := s.threads.ListExpired(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return report, newServiceError(KindThreadRepository, "list expired threads", err)
	}
	for _, t := range expired {
		thread, err := s.threads.MarkDeleted(ctx, t.ID, s.now())
		if err != nil {
			log.Errorf("[CleanupService] 软删除过期会话失败, thread: %s, error: %v", t.ID, err)
			report.Failed++
			continue
		}
		report.Expired++
		if s.publisher != nil {
			event := tasks.ThreadChangedEvent{ThreadID: thread.ID, UserID: thread.UserID, Deleted: true, UpdatedAt: thread.UpdatedAt}
			if err := s.publisher.PublishThreadChanged(ctx, event); err != nil {
				log.Warnf("[CleanupService] 发布会话变更事件失败, thread: %s, error: %v", thread.ID, err)
			}
		}
	}

	// 按 id 翻页，清理失败的会话不会挡住后面的会话
	afterID := ""
	for {
		pending, err := s.threads.ListSoftDeleted(ctx, afterID, s.cfg.BatchSize)
		if err != nil {
			return report, newServiceError(KindThreadRepository, "list soft-deleted threads", err)
		}
		for _, t := range pending {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			if err := s.Purge(ctx, t.ID); err != nil {
				report.Failed++
				continue
			}
			report.Purged++
		}
		if len(pending) < s.cfg.BatchSize {
			break
		}
		afterID = pending[len(pending)-1].ID
	}
	log.Infow("[CleanupService] 定时清理完成", "cutoff", cutoff, "expired", report.Expired, "purged", report.Purged, "failed", report.Failed)
	return report, nil
}

func (s *cleanupService) Purge(ctx context.Context, threadID string) (err error) {
	defer func() {
		outcome := "purged"
		if err != nil {
			outcome = "failed"
			log.Errorf("[CleanupService] 清理会话失败, thread: %s, error: %v", threadID, err)
		}
		metrics.CleanupPurges.WithLabelValues(outcome).Inc()
	}()

	thread, err := s.threads.Get(ctx, threadID)
	if errors.Is(err, repository.ErrThreadNotFound) {
		// 已被清理过
		return nil
	}
	if err != nil {
		return newServiceError(KindThreadRepository, "get thread", err)
	}
	if thread.State() != model.ThreadStateSoftDeleted {
		return ErrThreadActive
	}
	owner := thread.UserID

	docs, err := s.docs.ListByThread(ctx, threadID, true)
	if err != nil {
		return newServiceError(KindDocumentRegistry, "list thread documents", err)
	}
	// 文档软删除必须先于索引分块的移除完成；失败时停止，会话保持 SoftDeleted 以便重试
	if _, err := s.docs.MarkDeletedByThread(ctx, threadID); err != nil {
		return newServiceError(KindDocumentRegistry, "remove documents from thread", err)
	}
	if _, err := s.index.DeleteByTerm(ctx, "thread_id", threadID); err != nil {
		return newServiceError(KindSearchService, "remove thread chunks", err)
	}
	removed, err := s.blobs.RemovePrefix(ctx, model.ThreadFolder(threadID))
	if err != nil {
		return newServiceError(KindDocumentStore, "remove thread blobs", err)
	}
	if err := s.chunks.DeleteByThread(ctx, threadID); err != nil {
		return newServiceError(KindDocumentRegistry, "remove staged chunks", err)
	}
	if err := s.docs.HardDeleteByThread(ctx, threadID); err != nil {
		return newServiceError(KindDocumentRegistry, "hard delete documents", err)
	}
	if err := s.threads.HardDelete(ctx, threadID); err != nil {
		return newServiceError(KindThreadRepository, "hard delete thread", err)
	}
	log.Infow("[CleanupService] 会话已清理",
		"thread", threadID, "owner", owner, "documents", len(docs), "blobs", removed, "state", model.ThreadStatePurged)
	return nil
}
