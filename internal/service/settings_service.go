package service

import (
	"context"
	"sync"
	"sync/atomic"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/log"
)

// SettingsService 持有进程级的运行时设置。
// 读取无锁：当前设置是一个不可变快照，更新时整体替换指针。
type SettingsService interface {
	// Get 返回当前设置的深拷贝。
	Get() model.Settings
	// Update 持久化并整体替换当前设置，返回生效后的副本。
	Update(ctx context.Context, settings model.Settings) (model.Settings, error)
}

type settingsService struct {
	current atomic.Pointer[model.Settings]
	writeMu sync.Mutex
	repo    repository.SettingsRepository
}

// DefaultSettings 将配置文件中的初始值转换为设置快照。
func DefaultSettings(cfg config.SettingsConfig) model.Settings {
	s := model.Settings{
		AllowFollowUpPrompts:      cfg.AllowFollowUpPrompts,
		AllowInitialPromptRewrite: cfg.AllowInitialPromptRewrite,
		UseSemanticRanker:         cfg.UseSemanticRanker,
		Temperature:               cfg.Temperature,
		PredefinedPrompts:         []model.PredefinedPrompt{},
		Tools:                     []model.Tool{},
	}
	if cfg.Seed != 0 {
		seed := cfg.Seed
		s.Seed = &seed
	}
	for _, p := range cfg.PredefinedPrompts {
		s.PredefinedPrompts = append(s.PredefinedPrompts, model.PredefinedPrompt{ID: p.ID, Name: p.Name, Prompt: p.Prompt})
	}
	return s
}

// NewSettingsService 优先加载已保存的设置，读取失败或从未保存时使用 defaults。
func NewSettingsService(ctx context.Context, repo repository.SettingsRepository, defaults model.Settings) SettingsService {
	s := &settingsService{repo: repo}
	initial := defaults.Clone()
	if repo != nil {
		stored, err := repo.Load(ctx)
		switch {
		case err != nil:
			log.Warnf("[SettingsService] 读取已保存的设置失败，使用配置默认值: %v", err)
		case stored != nil:
			initial = stored.Clone()
		}
	}
	s.current.Store(&initial)
	return s
}

func (s *settingsService) Get() model.Settings {
	return s.current.Load().Clone()
}

func (s *settingsService) Update(ctx context.Context, settings model.Settings) (model.Settings, error) {
	if settings.Temperature < 0 || settings.Temperature > 2 {
		return model.Settings{}, invalidInput("temperature must be within [0, 2], got %v", settings.Temperature)
	}
	next := settings.Clone()
	if next.PredefinedPrompts == nil {
		next.PredefinedPrompts = []model.PredefinedPrompt{}
	}
	if next.Tools == nil {
		next.Tools = []model.Tool{}
	}

	// 写入方串行，保证持久化顺序与内存中的替换顺序一致
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.repo != nil {
		if err := s.repo.Save(ctx, next); err != nil {
			return model.Settings{}, err
		}
	}
	s.current.Store(&next)
	log.Infow("[SettingsService] 设置已更新",
		"allowFollowUpPrompts", next.AllowFollowUpPrompts,
		"allowInitialPromptRewrite", next.AllowInitialPromptRewrite,
		"useSemanticRanker", next.UseSemanticRanker,
		"temperature", next.Temperature,
	)
	return next.Clone(), nil
}
