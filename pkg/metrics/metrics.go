// Package metrics 定义进程内的 Prometheus 指标，并通过 /metrics 暴露。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChatTurns 按结果统计对话轮次：answered / completion_failed / search_failed / persist_failed。
	ChatTurns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docchat",
		Name:      "chat_turns_total",
		Help:      "Chat turns processed by the thread orchestrator, by outcome.",
	}, []string{"outcome"})

	// CleanupPurges 按结果统计会话清理。
	CleanupPurges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docchat",
		Name:      "cleanup_purges_total",
		Help:      "Thread purge attempts, by outcome.",
	}, []string{"outcome"})

	// IngestionTasks 按结果统计文档入库任务。
	IngestionTasks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docchat",
		Name:      "ingestion_tasks_total",
		Help:      "Document ingestion tasks, by outcome.",
	}, []string{"outcome"})

	// RateLimitWaits 统计因下游配额不足而等待的次数，label 为下游名称。
	RateLimitWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docchat",
		Name:      "rate_limit_waits_total",
		Help:      "Outgoing calls delayed by the quota-window rate limiter.",
	}, []string{"upstream"})
)

func init() {
	prometheus.MustRegister(ChatTurns, CleanupPurges, IngestionTasks, RateLimitWaits)
}

// Handler 返回 Prometheus 抓取端点。
func Handler() http.Handler {
	return promhttp.Handler()
}
