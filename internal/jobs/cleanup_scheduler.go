// Package jobs 运行进程内的定时任务。
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"docchat-go/internal/config"
	"docchat-go/internal/service"
	"docchat-go/pkg/log"
)

const defaultCleanupCron = "0 * * * *"

// Sweeper 执行一次过期会话清理，由 service.CleanupService 实现。
type Sweeper interface {
	SweepExpired(ctx context.Context) (service.SweepReport, error)
}

// CleanupScheduler 按 cron 表达式周期性地执行清理，同一时刻最多一个任务在跑。
type CleanupScheduler struct {
	sweeper Sweeper
	cron    string
	now     func() time.Time

	mu      sync.Mutex
	running bool
}

// NewCleanupScheduler 校验 cron 表达式并创建调度器。
func NewCleanupScheduler(cfg config.CleanupConfig, sweeper Sweeper) (*CleanupScheduler, error) {
	expr := cfg.Cron
	if expr == "" {
		expr = defaultCleanupCron
	}
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid cleanup.cron %q: not a valid cron expression", expr)
	}
	return &CleanupScheduler{sweeper: sweeper, cron: expr, now: time.Now}, nil
}

// Start 在后台启动调度循环，ctx 取消后退出。
func (s *CleanupScheduler) Start(ctx context.Context) {
	log.Infow("[CleanupScheduler] 定时清理已启用", "cron", s.cron)
	go s.loop(ctx)
}

func (s *CleanupScheduler) loop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(s.cron, s.now(), false)
		if err != nil {
			log.Errorw("[CleanupScheduler] 计算下次执行时间失败", "cron", s.cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := next.Sub(s.now())
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			s.RunOnce(ctx)
		case <-ctx.Done():
			log.Info("[CleanupScheduler] 调度循环已退出")
			return
		}
	}
}

// RunOnce 立即执行一次清理；已有任务在执行时直接返回 false。
func (s *CleanupScheduler) RunOnce(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Warnf("[CleanupScheduler] 上一次清理仍在执行, 跳过本次")
		return false
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := s.now()
	report, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		log.Errorw("[CleanupScheduler] 清理失败", "error", err, "expired", report.Expired, "purged", report.Purged)
		return true
	}
	log.Infow("[CleanupScheduler] 清理完成",
		"expired", report.Expired, "purged", report.Purged, "failed", report.Failed, "elapsed", time.Since(start))
	return true
}
