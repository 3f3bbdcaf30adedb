package model

// 健康状态
const (
	HealthHealthy   = "Healthy"
	HealthUnhealthy = "Unhealthy"
)

// ComponentHealth 是单个依赖的检查结果。
type ComponentHealth struct {
	Component   string `json:"component"`
	Status      string `json:"status"`
	Description string `json:"description"`
	Error       string `json:"error"`
}

// HealthReport 是 /health 的响应体。
type HealthReport struct {
	Status     string            `json:"status"`
	Components []ComponentHealth `json:"components"`
}
