// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"docchat-go/internal/config"
	"docchat-go/internal/handler"
	"docchat-go/internal/jobs"
	"docchat-go/internal/model"
	"docchat-go/internal/pipeline"
	"docchat-go/internal/repository"
	"docchat-go/internal/service"
	"docchat-go/pkg/database"
	"docchat-go/pkg/embedding"
	"docchat-go/pkg/es"
	"docchat-go/pkg/kafka"
	"docchat-go/pkg/llm"
	"docchat-go/pkg/log"
	"docchat-go/pkg/ratelimit"
	"docchat-go/pkg/storage"
	"docchat-go/pkg/tika"
	"docchat-go/pkg/token"
)

func main() {
	// 0. 本地开发时从 .env 读取环境变量，文件不存在时忽略
	_ = godotenv.Load()

	// 1. 初始化配置
	configPath := os.Getenv("DOCCHAT_CONFIG")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化基础设施
	database.InitMySQL(cfg.Database.MySQL.DSN,
		&model.Thread{}, &model.ThreadMessage{}, &model.DocsPerThread{}, &model.DocumentChunk{})
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Fatalf("es 初始化失败: %v", err)
	}
	publisher := kafka.NewPublisher(cfg.Kafka)
	defer publisher.Close()

	index := es.NewIndex(es.ESClient, cfg.Elasticsearch.IndexName)
	bucket := storage.NewBucket(storage.MinioClient, cfg.MinIO.BucketName)

	// 4. 初始化 Repository
	threadRepo := repository.NewThreadRepository(database.DB)
	docRepo := repository.NewDocumentRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)
	settingsRepo := repository.NewSettingsRepository(database.RDB)

	// 5. 下游客户端，LLM 与 Embedding 各自维护配额窗口
	llmClient := llm.NewClient(cfg.LLM, ratelimit.New("llm", cfg.LLM.RateLimitFloorPercent))
	embeddingClient := embedding.NewClient(cfg.Embedding, ratelimit.New("embedding", cfg.Embedding.RateLimitFloorPercent))
	tikaClient := tika.NewClient(cfg.Tika)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpireHours)

	// 6. 初始化 Service (依赖注入)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settingsService := service.NewSettingsService(ctx, settingsRepo, service.DefaultSettings(cfg.Settings))
	aiService := service.NewAIService(llmClient, cfg.LLM.Prompt, cfg.Chat.FollowUpCount)
	searchService := service.NewSearchService(embeddingClient, index)
	threadService := service.NewThreadService(threadRepo, aiService, searchService, settingsService, publisher, cfg.Chat)
	maxUpload := cfg.Server.MaxUploadMB << 20
	documentService := service.NewDocumentService(threadRepo, docRepo, chunkRepo, index, bucket, publisher, maxUpload)
	cleanupService := service.NewCleanupService(threadRepo, docRepo, chunkRepo, index, bucket, publisher, cfg.Cleanup)
	healthService := service.NewHealthService(5*time.Second,
		service.HealthCheck{Name: "database", Description: "MySQL", Check: func(ctx context.Context) error {
			return database.Ping(ctx, database.DB)
		}},
		service.HealthCheck{Name: "redis", Description: "Settings store and retry counters", Check: func(ctx context.Context) error {
			return database.RDB.Ping(ctx).Err()
		}},
		service.HealthCheck{Name: "search", Description: "Elasticsearch index " + index.Name(), Check: index.Ping},
		service.HealthCheck{Name: "ai", Description: "Chat completion endpoint", Check: aiService.Ping},
	)

	// 7. 启动后台任务：入库消费者、会话变更消费者、定时清理
	processor := pipeline.NewProcessor(bucket, tikaClient, embeddingClient, index, docRepo, chunkRepo, cfg.Embedding.Model)
	attempts := kafka.NewRedisAttemptCounter(database.RDB)
	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		kafka.StartIngestionConsumer(ctx, cfg.Kafka, processor, attempts)
	}()
	go func() {
		defer background.Done()
		kafka.StartThreadChangeConsumer(ctx, cfg.Kafka, cleanupService, attempts)
	}()
	if cfg.Cleanup.Enabled {
		scheduler, err := jobs.NewCleanupScheduler(cfg.Cleanup, cleanupService)
		if err != nil {
			log.Fatalf("清理任务配置无效: %v", err)
		}
		scheduler.Start(ctx)
	} else {
		log.Info("定时清理已禁用")
	}

	// 8. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(jwtManager, handler.Handlers{
		Threads:   handler.NewThreadHandler(threadService),
		Documents: handler.NewDocumentHandler(documentService, maxUpload),
		Search:    handler.NewSearchHandler(threadService, searchService, settingsService),
		Chat:      handler.NewChatHandler(threadService),
		Settings:  handler.NewSettingsHandler(settingsService),
		Health:    handler.NewHealthHandler(healthService),
	}, 32<<20)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 通知消费者与调度器退出，并等待消费者提交完当前消息
	cancel()
	background.Wait()
	log.Info("服务已优雅关闭")
}
