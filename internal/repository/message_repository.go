// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"zbot-go/internal/model"

	"gorm.io/gorm"
)

// MessageFilter 是管理端消息列表的可选过滤条件。
type MessageFilter struct {
	UserID         string
	Role           string
	ConversationID *uint
}

// MessageRepository 定义了 chat_history 表的操作接口。
// 消息是只追加的：没有更新操作，删除只按会话批量进行（或管理端按 id 单删）。
type MessageRepository interface {
	Append(ctx context.Context, userID, role, content string, conversationID *uint) (uint, error)
	// HistoryForContext 取最近 limit 条消息并按时间顺序返回，供 AI 上下文使用。
	// 排序依据是单调递增的 id，而不是可能相同的 created_at。
	HistoryForContext(ctx context.Context, userID string, conversationID uint, limit int) ([]model.ChatMessage, error)
	ListByConversation(ctx context.Context, conversationID uint, limit int) ([]model.ChatMessage, error)
	DeleteByConversation(ctx context.Context, conversationID uint) (int64, error)
	DeleteByID(ctx context.Context, id uint) (bool, error)
	ListAll(ctx context.Context, filter MessageFilter, page, limit int) ([]model.ChatMessage, int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Append 插入一条消息并返回数据库分配的 id。
func (r *messageRepository) Append(ctx context.Context, userID, role, content string, conversationID *uint) (uint, error) {
	msg := model.ChatMessage{
		UserID:         userID,
		Role:           role,
		Content:        content,
		ConversationID: conversationID,
	}
	if err := r.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return 0, err
	}
	return msg.ID, nil
}

// HistoryForContext 按 id 倒序取最近 limit 条，再反转为时间顺序。
func (r *messageRepository) HistoryForContext(ctx context.Context, userID string, conversationID uint, limit int) ([]model.ChatMessage, error) {
	var msgs []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListByConversation 按 id 升序返回会话内的消息（侧边栏点击加载）。
func (r *messageRepository) ListByConversation(ctx context.Context, conversationID uint, limit int) ([]model.ChatMessage, error) {
	var msgs []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

// DeleteByConversation 删除会话的全部消息，返回删除条数。
func (r *messageRepository) DeleteByConversation(ctx context.Context, conversationID uint) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&model.ChatMessage{})
	return res.RowsAffected, res.Error
}

// DeleteByID 删除单条消息（管理端工具）。
func (r *messageRepository) DeleteByID(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&model.ChatMessage{}, id)
	return res.RowsAffected > 0, res.Error
}

// ListAll 管理端消息列表，支持 user_id / role / conversation_id 过滤与分页。
func (r *messageRepository) ListAll(ctx context.Context, filter MessageFilter, page, limit int) ([]model.ChatMessage, int64, error) {
	db := r.db.WithContext(ctx).Model(&model.ChatMessage{})
	if filter.UserID != "" {
		db = db.Where("user_id = ?", filter.UserID)
	}
	if filter.Role != "" {
		db = db.Where("role = ?", filter.Role)
	}
	if filter.ConversationID != nil {
		db = db.Where("conversation_id = ?", *filter.ConversationID)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	var msgs []model.ChatMessage
	err := db.Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}
