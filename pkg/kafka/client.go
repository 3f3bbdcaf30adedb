// Package kafka 提供了与 Kafka 消息队列交互的功能：文档入库任务与会话变更事件。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"docchat-go/internal/config"
	"docchat-go/pkg/log"
	"docchat-go/pkg/tasks"
)

// TaskProcessor defines the interface for any service that can process an ingestion task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestionTask) error
}

// ThreadChangeHandler 消费会话变更事件（变更订阅触发的清理）。
type ThreadChangeHandler interface {
	HandleThreadChanged(ctx context.Context, event tasks.ThreadChangedEvent) error
}

// Publisher 向两个主题发送消息，消息 key 为会话 ID，保证同一会话内有序。
type Publisher struct {
	ingestion *kafka.Writer
	changes   *kafka.Writer
}

// NewPublisher 初始化 Kafka 生产者。
func NewPublisher(cfg config.KafkaConfig) *Publisher {
	brokers := strings.Split(cfg.Brokers, ",")
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		}
	}
	log.Info("Kafka 生产者初始化成功")
	return &Publisher{
		ingestion: newWriter(cfg.IngestionTopic),
		changes:   newWriter(cfg.ThreadChangesTopic),
	}
}

// PublishIngestion 发送一个文档入库任务。
func (p *Publisher) PublishIngestion(ctx context.Context, task tasks.IngestionTask) error {
	return publish(ctx, p.ingestion, task.ThreadID, task)
}

// PublishThreadChanged 发送一条会话变更事件。
func (p *Publisher) PublishThreadChanged(ctx context.Context, event tasks.ThreadChangedEvent) error {
	return publish(ctx, p.changes, event.ThreadID, event)
}

// Close 关闭全部生产者。
func (p *Publisher) Close() error {
	return errors.Join(p.ingestion.Close(), p.changes.Close())
}

func publish(ctx context.Context, w *kafka.Writer, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b}); err != nil {
		return fmt.Errorf("写入 Kafka 主题 %s 失败: %w", w.Topic, err)
	}
	return nil
}

// AttemptCounter 记录消息的失败次数，跨进程重启保留。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string)
}

type redisAttemptCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisAttemptCounter 使用 Redis 计数失败次数，计数 24 小时后过期。
func NewRedisAttemptCounter(rdb *redis.Client) AttemptCounter {
	return &redisAttemptCounter{rdb: rdb, ttl: 24 * time.Hour}
}

func (c *redisAttemptCounter) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = c.rdb.Expire(ctx, key, c.ttl).Err()
	return n, nil
}

func (c *redisAttemptCounter) Reset(ctx context.Context, key string) {
	_ = c.rdb.Del(ctx, key).Err()
}

// errMalformed 表示消息无法解析，重试没有意义。
var errMalformed = errors.New("malformed message")

// handleFunc 处理一条消息的原始内容，返回用于失败计数的 key。
type handleFunc func(ctx context.Context, value []byte) (key string, err error)

// consumer 是两个主题共用的至少一次消费循环。
type consumer struct {
	name        string
	handle      handleFunc
	attempts    AttemptCounter
	maxAttempts int64
	retryDelay  time.Duration
}

// process 处理一条消息直至成功、达到最大尝试次数或 ctx 取消。返回是否应提交 offset。
func (c *consumer) process(ctx context.Context, m kafka.Message) bool {
	var local int64
	for {
		key, err := c.handle(ctx, m.Value)
		if err == nil {
			if key != "" {
				c.attempts.Reset(ctx, c.attemptKey(key))
			}
			return true
		}
		if errors.Is(err, errMalformed) {
			log.Errorf("[%s] 无法解析 Kafka 消息: %v, value: %s", c.name, err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		local++
		attempts, incErr := c.attempts.Incr(ctx, c.attemptKey(key))
		if incErr != nil {
			// Redis 异常时退回进程内计数
			attempts = local
		}
		log.Errorf("[%s] 处理消息失败 (key=%s, attempt=%d/%d): %v", c.name, key, attempts, c.maxAttempts, err)
		if attempts >= c.maxAttempts {
			log.Errorf("[%s] 消息多次失败，提交 offset 终止重试: key=%s", c.name, key)
			c.attempts.Reset(ctx, c.attemptKey(key))
			return true
		}

		timer := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (c *consumer) attemptKey(key string) string {
	return fmt.Sprintf("kafka:attempts:%s:%s", c.name, key)
}

func (c *consumer) run(ctx context.Context, r *kafka.Reader) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", r.Config().Topic)
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Infof("[%s] Kafka 消费者退出", c.name)
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		if !c.process(ctx, m) {
			return
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("[%s] 提交 Kafka 消息 offset 失败: %v", c.name, err)
		}
	}
}

func newReader(cfg config.KafkaConfig, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    topic,
		GroupID:  cfg.GroupID + "-" + topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

func maxAttempts(cfg config.KafkaConfig) int64 {
	if cfg.MaxAttempts <= 0 {
		return 3
	}
	return cfg.MaxAttempts
}

func ingestionConsumer(processor TaskProcessor, attempts AttemptCounter, max int64) *consumer {
	return &consumer{
		name:        "ingestion",
		attempts:    attempts,
		maxAttempts: max,
		retryDelay:  2 * time.Second,
		handle: func(ctx context.Context, value []byte) (string, error) {
			var task tasks.IngestionTask
			if err := json.Unmarshal(value, &task); err != nil || task.DocumentID == "" {
				return "", fmt.Errorf("%w: %v", errMalformed, err)
			}
			log.Infof("开始处理入库任务: DocumentID=%s, FileName=%s", task.DocumentID, task.FileName)
			return task.DocumentID, processor.Process(ctx, task)
		},
	}
}

func threadChangeConsumer(handler ThreadChangeHandler, attempts AttemptCounter, max int64) *consumer {
	return &consumer{
		name:        "thread-changes",
		attempts:    attempts,
		maxAttempts: max,
		retryDelay:  5 * time.Second,
		handle: func(ctx context.Context, value []byte) (string, error) {
			var event tasks.ThreadChangedEvent
			if err := json.Unmarshal(value, &event); err != nil || event.ThreadID == "" {
				return "", fmt.Errorf("%w: %v", errMalformed, err)
			}
			return event.ThreadID, handler.HandleThreadChanged(ctx, event)
		},
	}
}

// StartIngestionConsumer 启动入库任务消费者，阻塞直到 ctx 取消。
func StartIngestionConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) {
	ingestionConsumer(processor, attempts, maxAttempts(cfg)).run(ctx, newReader(cfg, cfg.IngestionTopic))
}

// StartThreadChangeConsumer 启动会话变更消费者，阻塞直到 ctx 取消。
func StartThreadChangeConsumer(ctx context.Context, cfg config.KafkaConfig, handler ThreadChangeHandler, attempts AttemptCounter) {
	threadChangeConsumer(handler, attempts, maxAttempts(cfg)).run(ctx, newReader(cfg, cfg.ThreadChangesTopic))
}
