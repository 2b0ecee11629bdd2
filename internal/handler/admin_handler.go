package handler

import (
	"net/http"
	"strconv"
	"strings"
	"zbot-go/internal/repository"
	"zbot-go/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责管理端接口。认证由 AdminAuthMiddleware 处理。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// ListChats 处理 GET /admin/chats，支持 user_id / is_active 过滤与分页。
func (h *AdminHandler) ListChats(c *gin.Context) {
	filter := repository.ConversationFilter{UserID: c.Query("user_id")}
	if raw := c.Query("is_active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "is_active 必须是布尔值")
			return
		}
		filter.IsActive = &active
	}

	page, limit := pagination(c)
	result, err := h.adminService.ListChats(c.Request.Context(), filter, page, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, result)
}

// SearchChats 处理 GET /admin/chats/search，按标题关键字模糊检索。
func (h *AdminHandler) SearchChats(c *gin.Context) {
	keyword := strings.TrimSpace(c.Query("keyword"))
	if keyword == "" {
		respondError(c, http.StatusBadRequest, "keyword 不能为空")
		return
	}

	page, limit := pagination(c)
	result, err := h.adminService.SearchChats(c.Request.Context(), keyword, page, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, result)
}

// UserChats 处理 GET /admin/chats/user/:id，按用户列出会话。
func (h *AdminHandler) UserChats(c *gin.Context) {
	userID := c.Param("id")
	if userID == "" {
		respondError(c, http.StatusBadRequest, "user_id 不能为空")
		return
	}

	page, limit := pagination(c)
	result, err := h.adminService.ListChats(c.Request.Context(), repository.ConversationFilter{UserID: userID}, page, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, result)
}

// ChatDetail 处理 GET /admin/chats/:id，返回会话与全部消息。
func (h *AdminHandler) ChatDetail(c *gin.Context) {
	id, ok := h.chatID(c)
	if !ok {
		return
	}
	detail, err := h.adminService.ChatDetail(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, detail)
}

// PurgeMessages 处理 DELETE /admin/chats/:id/messages，清空会话消息。
func (h *AdminHandler) PurgeMessages(c *gin.Context) {
	id, ok := h.chatID(c)
	if !ok {
		return
	}
	deleted, err := h.adminService.PurgeMessages(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"deleted": deleted})
}

// ArchiveChat 处理 POST /admin/chats/:id/archive。
func (h *AdminHandler) ArchiveChat(c *gin.Context) {
	id, ok := h.chatID(c)
	if !ok {
		return
	}
	if err := h.adminService.ArchiveChat(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}

// DeleteChat 处理 DELETE /admin/chats/:id，硬删除会话及其消息。
func (h *AdminHandler) DeleteChat(c *gin.Context) {
	id, ok := h.chatID(c)
	if !ok {
		return
	}
	if err := h.adminService.DeleteChat(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}

// ListMessages 处理 GET /admin/messages，支持 user_id / role / conversation_id 过滤。
func (h *AdminHandler) ListMessages(c *gin.Context) {
	filter := repository.MessageFilter{
		UserID: c.Query("user_id"),
		Role:   c.Query("role"),
	}
	if raw := c.Query("conversation_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			respondError(c, http.StatusBadRequest, "无效的会话 ID")
			return
		}
		cid := uint(id)
		filter.ConversationID = &cid
	}

	page, limit := pagination(c)
	msgs, total, err := h.adminService.ListMessages(c.Request.Context(), filter, page, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{
		"messages": msgs,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

func (h *AdminHandler) chatID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的会话 ID")
		return 0, false
	}
	return uint(id), true
}

// pagination 解析 page / limit 查询参数，越界值回退到默认。
func pagination(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
