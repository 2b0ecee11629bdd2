package handler

import (
	"net/http"
	"zbot-go/internal/middleware"
	"zbot-go/internal/service"
	"zbot-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatHandler 负责处理聊天请求。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// ChatRequest 是一轮对话的请求体。conversation_id 仅为旧客户端兼容保留：
// 消息总是路由到服务端仲裁出的活跃会话。
type ChatRequest struct {
	Message        string `json:"message" binding:"required"`
	ConversationID uint   `json:"conversation_id"`
}

// Chat 处理 POST /api/chat。客户端不指定会话，服务端总是把消息路由到
// 用户当前的活跃会话。只有会话解析失败（数据库不可达）才返回错误，
// AI 侧的失败已经在回复文本里体现。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "message 不能为空")
		return
	}

	userID := c.GetString(middleware.UserIDKey)
	reply, conversationID, err := h.chatService.Chat(c.Request.Context(), userID, req.Message)
	if err != nil {
		log.Errorf("会话解析失败: user=%s, error=%v", userID, err)
		respondError(c, http.StatusServiceUnavailable, "聊天服务暂时不可用，请稍后再试")
		return
	}

	respondOK(c, gin.H{
		"reply":           reply,
		"conversation_id": conversationID,
	})
}
