// Package model 定义了与数据库表及索引文档对应的 Go 结构体。
package model

import (
	"time"

	"gorm.io/datatypes"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ThreadState 是会话的生命周期状态：Active → SoftDeleted → Purged。
// Purged 表示记录已物理删除，因此只会出现在清理结果里，不会出现在数据库中。
type ThreadState string

const (
	ThreadStateActive      ThreadState = "Active"
	ThreadStateSoftDeleted ThreadState = "SoftDeleted"
	ThreadStatePurged      ThreadState = "Purged"
)

// Thread 是一个用户与助手之间的会话。
type Thread struct {
	ID        string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string     `gorm:"type:varchar(128);index;not null" json:"userId"`
	Type      string     `gorm:"type:varchar(32);not null;default:'default'" json:"type"`
	Name      string     `gorm:"type:varchar(255);not null" json:"name"`
	Deleted   bool       `gorm:"not null;default:false;index" json:"deleted"`
	DeletedAt *time.Time `gorm:"default:null" json:"deletedAt,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Thread) TableName() string {
	return "threads"
}

// State 根据 Deleted 标志推导生命周期状态。
func (t *Thread) State() ThreadState {
	if t.Deleted {
		return ThreadStateSoftDeleted
	}
	return ThreadStateActive
}

// Citation 是支撑一条回答的检索片段。
type Citation struct {
	DocumentID string  `json:"documentId"`
	FileName   string  `json:"fileName"`
	ChunkID    string  `json:"chunkId"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// MessageContext 是助手消息附带的上下文：追问建议、引用、推理说明与检索数据点。
type MessageContext struct {
	FollowUpQuestions []string   `json:"followUpQuestions"`
	Citations         []Citation `json:"citations"`
	Thoughts          string     `json:"thoughts,omitempty"`
	DataPoints        []string   `json:"dataPoints,omitempty"`
}

// ThreadMessage 持久化后不可变，只会随所属 Thread 一起被清理。
type ThreadMessage struct {
	ID        string                             `gorm:"type:varchar(36);primaryKey" json:"id"`
	ThreadID  string                             `gorm:"type:varchar(36);index;not null" json:"threadId"`
	UserID    string                             `gorm:"type:varchar(128);not null" json:"userId"`
	Role      string                             `gorm:"type:varchar(16);not null" json:"role"`
	Content   string                             `gorm:"type:text;not null" json:"content"`
	Context   datatypes.JSONType[MessageContext] `json:"context"`
	CreatedAt time.Time                          `gorm:"index" json:"createdAt"`
}

func (ThreadMessage) TableName() string {
	return "thread_messages"
}
