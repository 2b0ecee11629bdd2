// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色。system 角色只在请求 AI 时临时拼装，从不落库。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 代表 chat_history 表中的一条消息。
// 消息创建后不可修改，只能随会话被批量删除。
// id 单调递增，是喂给 AI 的权威时间顺序（created_at 可能相同）。
type ChatMessage struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string    `gorm:"type:varchar(255);index;not null" json:"user_id"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	ConversationID *uint     `gorm:"index" json:"conversation_id"` // 旧数据允许为空
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ChatMessage) TableName() string {
	return "chat_history"
}
