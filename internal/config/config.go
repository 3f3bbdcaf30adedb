// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Settings      SettingsConfig      `mapstructure:"settings"`
	Cleanup       CleanupConfig       `mapstructure:"cleanup"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port        string `mapstructure:"port"`
	Mode        string `mapstructure:"mode"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储身份提供方签发的 bearer token 的校验配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	Issuer                 string `mapstructure:"issuer"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
// IngestionTopic 承载文档入库任务，ThreadChangesTopic 承载会话变更事件（变更订阅）。
type KafkaConfig struct {
	Brokers            string `mapstructure:"brokers"`
	IngestionTopic     string `mapstructure:"ingestion_topic"`
	ThreadChangesTopic string `mapstructure:"thread_changes_topic"`
	GroupID            string `mapstructure:"group_id"`
	MaxAttempts        int64  `mapstructure:"max_attempts"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey                string `mapstructure:"api_key"`
	BaseURL               string `mapstructure:"base_url"`
	Model                 string `mapstructure:"model"`
	Dimensions            int    `mapstructure:"dimensions"`
	RateLimitFloorPercent int    `mapstructure:"rate_limit_floor_percent"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey                string              `mapstructure:"api_key"`
	BaseURL               string              `mapstructure:"base_url"`
	Model                 string              `mapstructure:"model"`
	TimeoutSeconds        int                 `mapstructure:"timeout_seconds"`
	RateLimitFloorPercent int                 `mapstructure:"rate_limit_floor_percent"`
	Generation            LLMGenerationConfig `mapstructure:"generation"`
	Prompt                LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	TopP      float64 `mapstructure:"top_p"`
	MaxTokens int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式。
type LLMPromptConfig struct {
	Rules         string `mapstructure:"rules"`
	RefStart      string `mapstructure:"ref_start"`
	RefEnd        string `mapstructure:"ref_end"`
	NoResultText  string `mapstructure:"no_result_text"`
	RewriteRules  string `mapstructure:"rewrite_rules"`
	FollowUpRules string `mapstructure:"follow_up_rules"`
}

// ChatConfig 控制单轮对话的检索与历史窗口。
type ChatConfig struct {
	TopK               int `mapstructure:"top_k"`
	HistoryMaxMessages int `mapstructure:"history_max_messages"`
	FollowUpCount      int `mapstructure:"follow_up_count"`
}

// SettingsConfig 是运行时设置在 Redis 中没有存档时使用的初始值。
type SettingsConfig struct {
	AllowFollowUpPrompts      bool                     `mapstructure:"allow_follow_up_prompts"`
	AllowInitialPromptRewrite bool                     `mapstructure:"allow_initial_prompt_rewrite"`
	UseSemanticRanker         bool                     `mapstructure:"use_semantic_ranker"`
	Temperature               float64                  `mapstructure:"temperature"`
	Seed                      int                      `mapstructure:"seed"`
	PredefinedPrompts         []PredefinedPromptConfig `mapstructure:"predefined_prompts"`
}

// PredefinedPromptConfig 是前端可选的预置提问。
type PredefinedPromptConfig struct {
	ID     string `mapstructure:"id"`
	Name   string `mapstructure:"name"`
	Prompt string `mapstructure:"prompt"`
}

// CleanupConfig 控制过期会话的清理任务。
type CleanupConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Cron          string `mapstructure:"cron"`
	RetentionDays int    `mapstructure:"retention_days"`
	BatchSize     int    `mapstructure:"batch_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_upload_mb", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jwt.access_token_expire_hours", 1)
	v.SetDefault("kafka.ingestion_topic", "document-ingestion")
	v.SetDefault("kafka.thread_changes_topic", "thread-changes")
	v.SetDefault("kafka.group_id", "docchat-go-consumer")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("elasticsearch.index_name", "thread_documents")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.rate_limit_floor_percent", 10)
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.rate_limit_floor_percent", 10)
	v.SetDefault("llm.prompt.ref_start", "<<REF>>")
	v.SetDefault("llm.prompt.ref_end", "<<END>>")
	v.SetDefault("llm.prompt.no_result_text", "(no sources found for this question)")
	v.SetDefault("chat.top_k", 5)
	v.SetDefault("chat.history_max_messages", 20)
	v.SetDefault("chat.follow_up_count", 3)
	v.SetDefault("settings.allow_follow_up_prompts", true)
	v.SetDefault("settings.temperature", 0.7)
	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.cron", "0 * * * *")
	v.SetDefault("cleanup.retention_days", 30)
	v.SetDefault("cleanup.batch_size", 500)
}

// Load 从指定路径读取 YAML 配置，环境变量 DOCCHAT_* 可覆盖任意键（如 DOCCHAT_LLM_API_KEY）。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DOCCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}

// Init 初始化配置加载，并将结果写入全局 Conf。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}
