package database

import (
	"context"

	"github.com/go-redis/redis/v8"

	"docchat-go/pkg/log"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接。Redis 承载运行时设置快照与 Kafka 重试计数。
func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := RDB.Ping(context.Background()).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}
	log.Info("Redis client connected successfully")
}
