// Package ratelimit 根据下游 API 响应头中的配额窗口（limit/remaining/reset）对后续请求做被动限流。
//
// 限流器有两种状态：尚未观察到任何响应头时为 unthrottled，从不阻塞；
// 观察到响应头后进入 tracking，当剩余配额占比低于等于 floor 时，Wait 会阻塞到窗口重置时刻。
// 窗口以不可变快照保存，通过一次 CAS 整体替换，读路径无锁。
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"docchat-go/pkg/metrics"
)

// OpenAI 兼容服务返回的配额响应头。
const (
	HeaderLimit     = "x-ratelimit-limit-requests"
	HeaderRemaining = "x-ratelimit-remaining-requests"
	HeaderReset     = "x-ratelimit-reset-requests"
)

// DefaultFloorPercent 是默认的剩余配额下限（百分比）。
const DefaultFloorPercent = 10

// Window 是一次观察到的配额窗口快照。
type Window struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter 是基于配额窗口的限流器，零值不可用，请使用 New。
type Limiter struct {
	name         string
	floorPercent int
	window       atomic.Pointer[Window]
	now          func() time.Time
}

// New 创建限流器。floorPercent 为 0 时限流器完全关闭。
func New(name string, floorPercent int) *Limiter {
	if floorPercent < 0 {
		floorPercent = 0
	}
	return &Limiter{name: name, floorPercent: floorPercent, now: time.Now}
}

// Snapshot 返回当前窗口；ok 为 false 表示仍处于 unthrottled 状态。
func (l *Limiter) Snapshot() (Window, bool) {
	w := l.window.Load()
	if w == nil {
		return Window{}, false
	}
	return *w, true
}

// Update 以新的计数整体替换当前窗口。
func (l *Limiter) Update(limit, remaining int, resetIn time.Duration) {
	next := &Window{Limit: limit, Remaining: remaining, ResetAt: l.now().Add(resetIn)}
	for {
		prev := l.window.Load()
		if l.window.CompareAndSwap(prev, next) {
			return
		}
	}
}

// Observe 从响应头中读取配额信息，三个头缺一不可；返回是否更新了窗口。
func (l *Limiter) Observe(h http.Header) bool {
	if l == nil || h == nil {
		return false
	}
	limit, err := strconv.Atoi(strings.TrimSpace(h.Get(HeaderLimit)))
	if err != nil {
		return false
	}
	remaining, err := strconv.Atoi(strings.TrimSpace(h.Get(HeaderRemaining)))
	if err != nil {
		return false
	}
	resetIn, ok := parseReset(h.Get(HeaderReset))
	if !ok {
		return false
	}
	l.Update(limit, remaining, resetIn)
	return true
}

// Delay 返回下一次请求前需要等待的时长。
func (l *Limiter) Delay() time.Duration {
	if l == nil || l.floorPercent == 0 {
		return 0
	}
	w := l.window.Load()
	if w == nil || w.Limit <= 0 {
		return 0
	}
	if w.Remaining*100 > l.floorPercent*w.Limit {
		return 0
	}
	d := w.ResetAt.Sub(l.now())
	if d < 0 {
		return 0
	}
	return d
}

// Wait 在剩余配额不足时阻塞到窗口重置，ctx 取消时返回 ctx.Err()。
func (l *Limiter) Wait(ctx context.Context) error {
	d := l.Delay()
	if d <= 0 {
		return nil
	}
	metrics.RateLimitWaits.WithLabelValues(l.name).Inc()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseReset 兼容 "6s"、"1m30s"、"250ms" 这类 Go 时长写法以及纯秒数。
func parseReset(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}
