package handler

import (
	"errors"
	"net/http"
	"zbot-go/internal/middleware"
	"zbot-go/internal/service"
	"zbot-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UploadHandler 负责处理文件上传请求。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// Upload 处理 POST /api/upload，表单字段名为 file。
func (h *UploadHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "请求中缺少 file 字段")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "无法读取上传文件")
		return
	}
	defer file.Close()

	userID := c.GetString(middleware.UserIDKey)
	result, err := h.uploadService.Ingest(c.Request.Context(), userID, file, fileHeader)
	if errors.Is(err, service.ErrStoreUnavailable) {
		log.Errorf("会话解析失败: user=%s, error=%v", userID, err)
		respondError(c, http.StatusServiceUnavailable, "上传服务暂时不可用，请稍后再试")
		return
	}
	if err != nil {
		log.Errorf("文件上传失败: user=%s, file=%s, error=%v", userID, fileHeader.Filename, err)
		respondError(c, http.StatusInternalServerError, "文件上传失败")
		return
	}

	respondOK(c, result)
}
