// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"zbot-go/internal/model"
	"zbot-go/internal/repository"

	"gorm.io/gorm"
)

// ChatPage 定义了管理端会话列表 API 的响应结构。
type ChatPage struct {
	Chats      []model.ConversationSummary `json:"chats"`
	Total      int64                       `json:"total"`
	Page       int                         `json:"page"`
	Limit      int                         `json:"limit"`
	TotalPages int                         `json:"total_pages"`
}

// ConversationView 是管理端会话详情里的会话投影。
type ConversationView struct {
	ID        uint            `json:"id"`
	UserID    string          `json:"user_id"`
	Label     string          `json:"label"`
	IsActive  bool            `json:"is_active"`
	CreatedAt model.LocalTime `json:"created_at"`
	UpdatedAt model.LocalTime `json:"updated_at"`
}

// ChatDetail 是管理端单个会话的完整视图：会话信息 + 全部消息。
type ChatDetail struct {
	Conversation ConversationView    `json:"conversation"`
	Messages     []model.ChatMessage `json:"messages"`
}

// AdminService 接口定义了管理端对会话和消息的全量操作。
type AdminService interface {
	ListChats(ctx context.Context, filter repository.ConversationFilter, page, limit int) (*ChatPage, error)
	SearchChats(ctx context.Context, keyword string, page, limit int) (*ChatPage, error)
	ChatDetail(ctx context.Context, conversationID uint) (*ChatDetail, error)
	// PurgeMessages 清空会话的全部消息，保留会话本身。
	PurgeMessages(ctx context.Context, conversationID uint) (int64, error)
	ArchiveChat(ctx context.Context, conversationID uint) error
	// DeleteChat 硬删除会话：先删消息，再删会话行。
	DeleteChat(ctx context.Context, conversationID uint) error
	ListMessages(ctx context.Context, filter repository.MessageFilter, page, limit int) ([]model.ChatMessage, int64, error)
}

type adminService struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(convRepo repository.ConversationRepository, msgRepo repository.MessageRepository) AdminService {
	return &adminService{convRepo: convRepo, msgRepo: msgRepo}
}

// ListChats 返回跨用户的会话分页列表。
func (s *adminService) ListChats(ctx context.Context, filter repository.ConversationFilter, page, limit int) (*ChatPage, error) {
	chats, total, err := s.convRepo.ListAll(ctx, filter, page, limit)
	if err != nil {
		return nil, err
	}
	return newChatPage(chats, total, page, limit), nil
}

// SearchChats 按标题关键字检索会话。关键字校验在 handler 层完成。
func (s *adminService) SearchChats(ctx context.Context, keyword string, page, limit int) (*ChatPage, error) {
	chats, total, err := s.convRepo.SearchByLabel(ctx, keyword, page, limit)
	if err != nil {
		return nil, err
	}
	return newChatPage(chats, total, page, limit), nil
}

// ChatDetail 返回会话与其全部消息。会话不存在时返回 ErrNotFound。
func (s *adminService) ChatDetail(ctx context.Context, conversationID uint) (*ChatDetail, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	msgs, err := s.msgRepo.ListByConversation(ctx, conversationID, 0x7fffffff)
	if err != nil {
		return nil, err
	}

	return &ChatDetail{
		Conversation: ConversationView{
			ID:        conv.ID,
			UserID:    conv.UserID,
			Label:     conv.Label,
			IsActive:  conv.IsActive,
			CreatedAt: model.LocalTime(conv.CreatedAt),
			UpdatedAt: model.LocalTime(conv.UpdatedAt),
		},
		Messages: msgs,
	}, nil
}

// PurgeMessages 批量删除会话消息，返回删除条数。
func (s *adminService) PurgeMessages(ctx context.Context, conversationID uint) (int64, error) {
	if err := s.mustExist(ctx, conversationID); err != nil {
		return 0, err
	}
	return s.msgRepo.DeleteByConversation(ctx, conversationID)
}

// ArchiveChat 把会话置为非活跃。
func (s *adminService) ArchiveChat(ctx context.Context, conversationID uint) error {
	if err := s.mustExist(ctx, conversationID); err != nil {
		return err
	}
	if _, err := s.convRepo.Archive(ctx, conversationID); err != nil {
		return err
	}
	return nil
}

// DeleteChat 硬删除：消息先删，会话后删，避免留下孤儿消息。
func (s *adminService) DeleteChat(ctx context.Context, conversationID uint) error {
	if err := s.mustExist(ctx, conversationID); err != nil {
		return err
	}
	if _, err := s.msgRepo.DeleteByConversation(ctx, conversationID); err != nil {
		return err
	}
	ok, err := s.convRepo.Delete(ctx, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// ListMessages 返回带过滤条件的消息分页列表。
func (s *adminService) ListMessages(ctx context.Context, filter repository.MessageFilter, page, limit int) ([]model.ChatMessage, int64, error) {
	return s.msgRepo.ListAll(ctx, filter, page, limit)
}

func (s *adminService) mustExist(ctx context.Context, conversationID uint) error {
	_, err := s.convRepo.GetByID(ctx, conversationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func newChatPage(chats []model.ConversationSummary, total int64, page, limit int) *ChatPage {
	totalPages := 0
	if total > 0 && limit > 0 {
		totalPages = (int(total) + limit - 1) / limit
	}
	if chats == nil {
		chats = []model.ConversationSummary{}
	}
	return &ChatPage{
		Chats:      chats,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}
}
