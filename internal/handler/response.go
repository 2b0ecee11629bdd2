// Package handler 包含了所有 Gin 的 HTTP 处理器。
package handler

import (
	"errors"
	"net/http"
	"zbot-go/internal/service"
	"zbot-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// respondOK 按统一信封返回成功结果。
func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    data,
	})
}

// respondError 按统一信封返回错误。
func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    nil,
	})
}

// respondServiceError 把业务层错误映射为 HTTP 状态码。
// 未识别的错误按内部错误处理，细节只进日志不出接口。
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		respondError(c, http.StatusNotFound, "会话不存在")
	case errors.Is(err, service.ErrForbidden):
		respondError(c, http.StatusForbidden, "无权访问该会话")
	default:
		log.Errorf("请求处理失败: path=%s, error=%v", c.Request.URL.Path, err)
		respondError(c, http.StatusInternalServerError, "服务器内部错误")
	}
}
