package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-redis/redis/v8"

	"docchat-go/internal/model"
)

const settingsKey = "settings:current"

// SettingsRepository 持久化运行时设置快照。
type SettingsRepository interface {
	// Load 返回已保存的设置；从未保存过时返回 (nil, nil)。
	Load(ctx context.Context) (*model.Settings, error)
	Save(ctx context.Context, settings model.Settings) error
}

type redisSettingsRepository struct {
	rdb *redis.Client
}

// NewSettingsRepository 创建一个基于 Redis 的 SettingsRepository。
func NewSettingsRepository(rdb *redis.Client) SettingsRepository {
	return &redisSettingsRepository{rdb: rdb}
}

func (r *redisSettingsRepository) Load(ctx context.Context) (*model.Settings, error) {
	raw, err := r.rdb.Get(ctx, settingsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s model.Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *redisSettingsRepository) Save(ctx context.Context, settings model.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, settingsKey, raw, 0).Err()
}
