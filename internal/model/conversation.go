// Package model 包含了应用的数据模型定义。
package model

import "time"

// DefaultLabel 是新建会话的占位标题，自动命名只会替换这个值。
const DefaultLabel = "New Chat"

// Conversation 代表一个用户的会话（侧边栏中的一条聊天）。
// 每个用户在任意时刻最多只有一条 is_active = true 的记录。
type Conversation struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(255);index;not null" json:"user_id"`
	Label     string    `gorm:"type:varchar(255);not null;default:'New Chat'" json:"label"`
	IsActive  bool      `gorm:"not null;default:false;index" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ConversationSummary 是会话列表（侧边栏 / 管理端）的投影，
// 附带消息数量与最近一条消息的 80 字符预览。
type ConversationSummary struct {
	ID           uint      `json:"id"`
	UserID       string    `json:"user_id"`
	Label        string    `json:"label"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int64     `json:"message_count"`
	LastMessage  *string   `json:"last_message"`
}
