package model

import (
	"fmt"
	"time"
)

// DocsPerThread 记录上传到某个会话中的文档及其入库进度。
// AvailableInSearchIndex 与 ExtractAvailable 在索引确认分块存在后由 false 翻转为 true。
type DocsPerThread struct {
	ID                     string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ThreadID               string    `gorm:"type:varchar(36);index;not null" json:"threadId"`
	UserID                 string    `gorm:"type:varchar(128);index;not null" json:"userId"`
	DocumentName           string    `gorm:"type:varchar(255);not null" json:"documentName"`
	ContentType            string    `gorm:"type:varchar(128)" json:"contentType"`
	FileSize               int64     `gorm:"not null" json:"fileSize"`
	UploadDate             time.Time `gorm:"not null" json:"uploadDate"`
	Deleted                bool      `gorm:"not null;default:false;index" json:"deleted"`
	AvailableInSearchIndex bool      `gorm:"not null;default:false" json:"availableInSearchIndex"`
	ExtractAvailable       bool      `gorm:"not null;default:false" json:"extractAvailable"`
	ChunkID                string    `gorm:"type:varchar(128)" json:"chunkId"`
	Folder                 string    `gorm:"type:varchar(255);not null" json:"folder"`
}

func (DocsPerThread) TableName() string {
	return "docs_per_thread"
}

// ObjectName 返回文档在对象存储中的完整键。
func (d *DocsPerThread) ObjectName() string {
	return d.Folder + "/" + d.DocumentName
}

// ThreadFolder 返回会话在对象存储中的前缀，会话内所有文档都在其下。
func ThreadFolder(threadID string) string {
	return fmt.Sprintf("threads/%s/", threadID)
}

// DocumentFolder 返回单个文档的前缀。
func DocumentFolder(threadID, documentID string) string {
	return ThreadFolder(threadID) + documentID
}

// DocumentChunk 暂存从文档中抽取并切分后的文本，向量化之前落库，便于失败重试。
type DocumentChunk struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	DocumentID   string `gorm:"type:varchar(36);not null;index"`
	ThreadID     string `gorm:"type:varchar(36);not null;index"`
	ChunkIndex   int    `gorm:"not null"`
	Content      string `gorm:"type:text"`
	ModelVersion string `gorm:"type:varchar(64)"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// ChunkID 是分块在搜索索引中的文档 ID。
func (c *DocumentChunk) ChunkID() string {
	return ChunkKey(c.DocumentID, c.ChunkIndex)
}

// ChunkKey 由文档 ID 与分块序号组成索引文档 ID。
func ChunkKey(documentID string, index int) string {
	return fmt.Sprintf("%s_%d", documentID, index)
}
