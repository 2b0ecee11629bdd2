// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"strings"
	"zbot-go/internal/model"

	"gorm.io/gorm"
)

// ConversationFilter 是管理端会话列表的可选过滤条件。
type ConversationFilter struct {
	UserID   string
	IsActive *bool
}

// ConversationRepository 定义了 conversations 表的操作接口。
// 它是 "每个用户最多一个活跃会话" 这一约束的唯一执行者，
// 其他组件不允许直接改写会话行。
type ConversationRepository interface {
	GetActive(ctx context.Context, userID string) (*model.Conversation, error)
	GetByID(ctx context.Context, id uint) (*model.Conversation, error)
	// Create 在一个事务内先取消该用户所有活跃会话，再插入一条新的活跃会话。
	Create(ctx context.Context, userID, label string) (*model.Conversation, error)
	// Switch 切换活跃会话；会话不属于该用户时返回 false 且不产生任何变更。
	Switch(ctx context.Context, userID string, id uint) (bool, error)
	Rename(ctx context.Context, id uint, label string) (bool, error)
	// RenameIfDefault 仅当标题仍为默认占位符时改名（单条条件 UPDATE，
	// 避免与用户手动改名产生读写竞争）。
	RenameIfDefault(ctx context.Context, id uint, label string) (bool, error)
	Archive(ctx context.Context, id uint) (bool, error)
	Delete(ctx context.Context, id uint) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]model.ConversationSummary, error)
	ListAll(ctx context.Context, filter ConversationFilter, page, limit int) ([]model.ConversationSummary, int64, error)
	SearchByLabel(ctx context.Context, keyword string, page, limit int) ([]model.ConversationSummary, int64, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// GetActive 返回该用户最近创建的活跃会话；没有时返回 gorm.ErrRecordNotFound。
func (r *conversationRepository) GetActive(ctx context.Context, userID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC, id DESC").
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetByID 根据主键查找会话。
func (r *conversationRepository) GetByID(ctx context.Context, id uint) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// Create 新建一条活跃会话。取消旧活跃会话与插入新会话放在同一个事务里，
// 保证不会出现两条活跃会话；中途崩溃最多留下零条，由上层 EnsureActive 自愈。
func (r *conversationRepository) Create(ctx context.Context, userID, label string) (*model.Conversation, error) {
	if label == "" {
		label = model.DefaultLabel
	}
	conv := model.Conversation{UserID: userID, Label: label, IsActive: true}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Conversation{}).
			Where("user_id = ? AND is_active = ?", userID, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(&conv).Error
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

var errNotOwned = errors.New("conversation not owned by user")

// Switch 把指定会话设为该用户的活跃会话。归属校验直接写进 UPDATE 条件，
// 命中 0 行时整个事务回滚，双方的活跃标志都保持原样。
func (r *conversationRepository) Switch(ctx context.Context, userID string, id uint) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Conversation{}).
			Where("user_id = ?", userID).
			Update("is_active", false).Error; err != nil {
			return err
		}
		res := tx.Model(&model.Conversation{}).
			Where("id = ? AND user_id = ?", id, userID).
			Update("is_active", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errNotOwned
		}
		return nil
	})
	if errors.Is(err, errNotOwned) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Rename 更新会话标题。
func (r *conversationRepository) Rename(ctx context.Context, id uint, label string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("label", label)
	return res.RowsAffected > 0, res.Error
}

// RenameIfDefault 自动命名专用：compare-and-set 式条件更新。
func (r *conversationRepository) RenameIfDefault(ctx context.Context, id uint, label string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND label = ?", id, model.DefaultLabel).
		Update("label", label)
	return res.RowsAffected > 0, res.Error
}

// Archive 无条件地把会话置为非活跃。允许用户暂时没有活跃会话。
func (r *conversationRepository) Archive(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("is_active", false)
	return res.RowsAffected > 0, res.Error
}

// Delete 删除会话行。消息必须先于会话删除，顺序由 service 层保证。
func (r *conversationRepository) Delete(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&model.Conversation{}, id)
	return res.RowsAffected > 0, res.Error
}

// summarySelect 带消息计数和最近消息预览（80 字符）的会话投影。
// SUBSTR 在 MySQL 与 SQLite 上行为一致。
const summarySelect = `SELECT c.id, c.user_id, c.label, c.is_active, c.created_at, c.updated_at,
 (SELECT COUNT(*) FROM chat_history m WHERE m.conversation_id = c.id) AS message_count,
 (SELECT SUBSTR(m2.content, 1, 80) FROM chat_history m2 WHERE m2.conversation_id = c.id ORDER BY m2.id DESC LIMIT 1) AS last_message
 FROM conversations c`

// ListByUser 返回用户的会话列表（侧边栏），按最近更新排序。
func (r *conversationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.ConversationSummary, error) {
	var out []model.ConversationSummary
	err := r.db.WithContext(ctx).
		Raw(summarySelect+" WHERE c.user_id = ? ORDER BY c.updated_at DESC, c.id DESC LIMIT ?", userID, limit).
		Scan(&out).Error
	return out, err
}

// ListAll 管理端全量会话列表，支持 user_id / is_active 过滤与分页。
// 返回当前页数据与总数，供前端计算页数。
func (r *conversationRepository) ListAll(ctx context.Context, filter ConversationFilter, page, limit int) ([]model.ConversationSummary, int64, error) {
	var conds []string
	var args []interface{}
	if filter.UserID != "" {
		conds = append(conds, "c.user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.IsActive != nil {
		conds = append(conds, "c.is_active = ?")
		args = append(args, *filter.IsActive)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return r.pageSummaries(ctx, where, args, page, limit)
}

// SearchByLabel 按标题关键字模糊检索会话。
func (r *conversationRepository) SearchByLabel(ctx context.Context, keyword string, page, limit int) ([]model.ConversationSummary, int64, error) {
	where := " WHERE c.label LIKE ?"
	args := []interface{}{"%" + keyword + "%"}
	return r.pageSummaries(ctx, where, args, page, limit)
}

func (r *conversationRepository) pageSummaries(ctx context.Context, where string, args []interface{}, page, limit int) ([]model.ConversationSummary, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM conversations c"+where, args...).
		Scan(&total).Error; err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit
	var out []model.ConversationSummary
	pageArgs := append(append([]interface{}{}, args...), limit, offset)
	err := r.db.WithContext(ctx).
		Raw(summarySelect+where+" ORDER BY c.updated_at DESC, c.id DESC LIMIT ? OFFSET ?", pageArgs...).
		Scan(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
