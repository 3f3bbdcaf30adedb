// Package storage 提供了与对象存储服务（MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"docchat-go/internal/config"
	"docchat-go/pkg/log"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}
	log.Info("MinIO 客户端初始化成功")

	ctx := context.Background()
	exists, err := MinioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := MinioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
}

// Bucket 是单个存储桶上的文档读写操作。
type Bucket struct {
	client *minio.Client
	name   string
}

// NewBucket 绑定客户端与存储桶。
func NewBucket(client *minio.Client, name string) *Bucket {
	return &Bucket{client: client, name: name}
}

// Put 上传一个对象。size 未知时传 -1。
func (b *Bucket) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := b.client.PutObject(ctx, b.name, objectName, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("上传对象 %s 失败: %w", objectName, err)
	}
	return nil
}

// Get 打开一个对象用于读取，调用方负责关闭。
func (b *Bucket) Get(ctx context.Context, objectName string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.name, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("下载对象 %s 失败: %w", objectName, err)
	}
	// GetObject 是惰性的，先 Stat 一次以便尽早暴露 NoSuchKey
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("下载对象 %s 失败: %w", objectName, err)
	}
	return obj, nil
}

// Remove 删除单个对象，对象不存在视为成功。
func (b *Bucket) Remove(ctx context.Context, objectName string) error {
	err := b.client.RemoveObject(ctx, b.name, objectName, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("删除对象 %s 失败: %w", objectName, err)
	}
	return nil
}

// RemovePrefix 删除前缀下的全部对象，返回删除数量。前缀下没有对象时返回 0。
func (b *Bucket) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	var objects []minio.ObjectInfo
	for obj := range b.client.ListObjects(ctx, b.name, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return 0, fmt.Errorf("列出前缀 %s 失败: %w", prefix, obj.Err)
		}
		objects = append(objects, obj)
	}
	if len(objects) == 0 {
		return 0, nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(objects))
	for _, obj := range objects {
		objectsCh <- obj
	}
	close(objectsCh)

	var firstErr error
	for rErr := range b.client.RemoveObjects(ctx, b.name, objectsCh, minio.RemoveObjectsOptions{}) {
		if rErr.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("删除对象 %s 失败: %w", rErr.ObjectName, rErr.Err)
		}
	}
	if firstErr != nil {
		return 0, firstErr
	}
	return len(objects), nil
}

// PresignedURL generates a presigned download URL for a given object.
func (b *Bucket) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, b.name, objectName, expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return u.String(), nil
}
