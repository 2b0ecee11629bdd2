package handler

import (
	"net/http"
	"strconv"
	"zbot-go/internal/middleware"
	"zbot-go/internal/model"
	"zbot-go/internal/service"

	"github.com/gin-gonic/gin"
)

// sidebarLimit 是侧边栏一次返回的会话数上限。
const sidebarLimit = 50

// messagesLimit 是单个会话一次返回的消息数上限。
const messagesLimit = 500

// ConversationHandler 负责会话管理相关的接口。
type ConversationHandler struct {
	convService service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(convService service.ConversationService) *ConversationHandler {
	return &ConversationHandler{convService: convService}
}

// List 处理 GET /api/conversations，返回当前用户的侧边栏会话列表。
func (h *ConversationHandler) List(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(sidebarLimit)))
	if err != nil || limit < 1 || limit > 200 {
		limit = sidebarLimit
	}

	userID := c.GetString(middleware.UserIDKey)
	chats, err := h.convService.List(c.Request.Context(), userID, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"conversations": chats})
}

// CreateRequest 是新建会话的请求体，标题可选。
type CreateRequest struct {
	Label string `json:"label"`
}

// Create 处理 POST /api/conversations，新建会话并激活。
func (h *ConversationHandler) Create(c *gin.Context) {
	var req CreateRequest
	// 空请求体等价于不指定标题
	_ = c.ShouldBindJSON(&req)
	if req.Label == "" {
		req.Label = model.DefaultLabel
	}

	userID := c.GetString(middleware.UserIDKey)
	conv, err := h.convService.Create(c.Request.Context(), userID, req.Label)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{
		"conversation_id": conv.ID,
		"label":           conv.Label,
	})
}

// Messages 处理 GET /api/conversations/:id/messages。
func (h *ConversationHandler) Messages(c *gin.Context) {
	id, ok := h.conversationID(c)
	if !ok {
		return
	}
	msgs, err := h.convService.Messages(c.Request.Context(), id, messagesLimit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"messages": msgs})
}

// RenameRequest 是会话改名的请求体。
type RenameRequest struct {
	Label string `json:"label" binding:"required"`
}

// Rename 处理 PUT /api/conversations/:id/label。
func (h *ConversationHandler) Rename(c *gin.Context) {
	id, ok := h.conversationID(c)
	if !ok {
		return
	}
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "label 不能为空")
		return
	}
	if err := h.convService.Rename(c.Request.Context(), id, req.Label); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}

// Switch 处理 PUT /api/conversations/:id/switch，把目标会话设为活跃。
// 跨用户切换返回 403，且不会改动任何一方的活跃状态。
func (h *ConversationHandler) Switch(c *gin.Context) {
	id, ok := h.conversationID(c)
	if !ok {
		return
	}
	userID := c.GetString(middleware.UserIDKey)
	if err := h.convService.Switch(c.Request.Context(), userID, id); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"active_conversation_id": id})
}

// Archive 处理 PUT /api/conversations/:id/archive。
func (h *ConversationHandler) Archive(c *gin.Context) {
	id, ok := h.conversationID(c)
	if !ok {
		return
	}
	if err := h.convService.Archive(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}

// Delete 处理 DELETE /api/conversations/:id，硬删除会话及其消息。
func (h *ConversationHandler) Delete(c *gin.Context) {
	id, ok := h.conversationID(c)
	if !ok {
		return
	}
	if err := h.convService.Delete(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}

// conversationID 解析路径参数 :id，非法时直接写 400 响应。
func (h *ConversationHandler) conversationID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的会话 ID")
		return 0, false
	}
	return uint(id), true
}
