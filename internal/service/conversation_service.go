// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"zbot-go/internal/model"
	"zbot-go/internal/repository"

	"gorm.io/gorm"
)

// 业务层哨兵错误。repository 层的 "零行命中" 在这里被翻译成
// 404 / 403 语义，数据库不可达则原样向上传播（由 handler 映射为 503/500）。
var (
	// ErrNotFound 表示引用的会话不存在。
	ErrNotFound = errors.New("conversation not found")
	// ErrForbidden 表示会话不属于发起请求的用户。
	ErrForbidden = errors.New("access denied")
	// ErrStoreUnavailable 表示活跃会话解析失败（数据库不可达），
	// handler 层将其映射为 503。
	ErrStoreUnavailable = errors.New("conversation store unavailable")
)

// ConversationService 定义了会话管理的业务接口。
type ConversationService interface {
	// EnsureActive 返回用户的活跃会话；没有则自动创建一条（自愈）。
	// 聊天与上传的每个请求都会先经过这里。数据库不可达时返回错误，
	// 调用方应将其视为服务不可用而不是静默重试。
	EnsureActive(ctx context.Context, userID string) (*model.Conversation, error)
	List(ctx context.Context, userID string, limit int) ([]model.ConversationSummary, error)
	Create(ctx context.Context, userID, label string) (*model.Conversation, error)
	Messages(ctx context.Context, conversationID uint, limit int) ([]model.ChatMessage, error)
	Rename(ctx context.Context, conversationID uint, label string) error
	RenameIfDefault(ctx context.Context, conversationID uint, label string) (bool, error)
	Switch(ctx context.Context, userID string, conversationID uint) error
	Archive(ctx context.Context, conversationID uint) error
	Delete(ctx context.Context, conversationID uint) error
}

type conversationService struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(convRepo repository.ConversationRepository, msgRepo repository.MessageRepository) ConversationService {
	return &conversationService{convRepo: convRepo, msgRepo: msgRepo}
}

// EnsureActive 查找活跃会话，不存在时创建。归档或崩溃可能让用户暂时
// 没有活跃会话，这不是错误，下次使用时在这里自动补一条。
func (s *conversationService) EnsureActive(ctx context.Context, userID string) (*model.Conversation, error) {
	conv, err := s.convRepo.GetActive(ctx, userID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return s.convRepo.Create(ctx, userID, model.DefaultLabel)
}

// List 返回侧边栏会话列表。
func (s *conversationService) List(ctx context.Context, userID string, limit int) ([]model.ConversationSummary, error) {
	return s.convRepo.ListByUser(ctx, userID, limit)
}

// Create 新建会话并使其成为活跃会话。
func (s *conversationService) Create(ctx context.Context, userID, label string) (*model.Conversation, error) {
	return s.convRepo.Create(ctx, userID, label)
}

// Messages 返回会话内的消息（时间升序）。会话不存在时返回 ErrNotFound。
func (s *conversationService) Messages(ctx context.Context, conversationID uint, limit int) ([]model.ChatMessage, error) {
	if err := s.mustExist(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.msgRepo.ListByConversation(ctx, conversationID, limit)
}

// Rename 修改会话标题。
func (s *conversationService) Rename(ctx context.Context, conversationID uint, label string) error {
	if err := s.mustExist(ctx, conversationID); err != nil {
		return err
	}
	ok, err := s.convRepo.Rename(ctx, conversationID, label)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// RenameIfDefault 只在标题仍为默认占位符时改名，供自动命名使用。
func (s *conversationService) RenameIfDefault(ctx context.Context, conversationID uint, label string) (bool, error) {
	return s.convRepo.RenameIfDefault(ctx, conversationID, label)
}

// Switch 切换活跃会话。先校验存在性与归属，repository 层在 UPDATE
// 条件中再次校验归属，防止跨用户劫持。
func (s *conversationService) Switch(ctx context.Context, userID string, conversationID uint) error {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if conv.UserID != userID {
		return ErrForbidden
	}

	ok, err := s.convRepo.Switch(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// Archive 关闭会话（is_active = false）。允许用户之后没有任何活跃会话。
func (s *conversationService) Archive(ctx context.Context, conversationID uint) error {
	if err := s.mustExist(ctx, conversationID); err != nil {
		return err
	}
	if _, err := s.convRepo.Archive(ctx, conversationID); err != nil {
		return err
	}
	return nil
}

// Delete 永久删除会话。先删消息，再删会话行：进程在两步之间中断时
// 只会留下一条空会话，可以重新删除，不会产生孤儿消息。
func (s *conversationService) Delete(ctx context.Context, conversationID uint) error {
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

func (s *conversationService) mustExist(ctx context.Context, conversationID uint) error {
	_, err := s.convRepo.GetByID(ctx, conversationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
