package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"docchat-go/internal/model"
)

// HealthCheck 是一个依赖检查。
type HealthCheck struct {
	Name        string
	Description string
	Check       func(ctx context.Context) error
}

// HealthService 并发执行所有依赖检查。
type HealthService interface {
	Check(ctx context.Context) model.HealthReport
}

type healthService struct {
	checks  []HealthCheck
	timeout time.Duration
}

// NewHealthService 创建健康检查服务，每个检查最多运行 timeout。
func NewHealthService(timeout time.Duration, checks ...HealthCheck) HealthService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &healthService{checks: checks, timeout: timeout}
}

func (s *healthService) Check(ctx context.Context) model.HealthReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	components := make([]model.ComponentHealth, len(s.checks))
	var g errgroup.Group
	for i, hc := range s.checks {
		i, hc := i, hc
		g.Go(func() error {
			c := model.ComponentHealth{Component: hc.Name, Description: hc.Description, Status: model.HealthHealthy}
			if err := hc.Check(ctx); err != nil {
				c.Status = model.HealthUnhealthy
				c.Error = err.Error()
			}
			components[i] = c
			return nil
		})
	}
	_ = g.Wait()

	report := model.HealthReport{Status: model.HealthHealthy, Components: components}
	for _, c := range components {
		if c.Status != model.HealthHealthy {
			report.Status = model.HealthUnhealthy
			break
		}
	}
	return report
}
