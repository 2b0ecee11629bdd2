// Package service 包含了应用的业务逻辑层。
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"
	"zbot-go/internal/model"
	"zbot-go/internal/repository"
	"zbot-go/pkg/log"
	"zbot-go/pkg/storage"
	"zbot-go/pkg/tika"

	"zbot-go/internal/config"

	"github.com/google/uuid"
)

// attachmentKind 是上传文件类型的封闭枚举，按扩展名分类后穷举分发，
// 不在业务代码里到处做字符串判断。
type attachmentKind int

const (
	attachmentNone attachmentKind = iota
	attachmentPDF
	attachmentWord
	attachmentImage
	attachmentPlain
)

// classifyAttachment 把文件扩展名映射到附件类型。
func classifyAttachment(ext string) attachmentKind {
	switch strings.ToLower(ext) {
	case ".pdf":
		return attachmentPDF
	case ".doc", ".docx":
		return attachmentWord
	case ".jpg", ".jpeg", ".png":
		return attachmentImage
	case ".json", ".txt", ".csv", ".py":
		return attachmentPlain
	default:
		return attachmentNone
	}
}

// UploadResult 是上传接口的返回内容。
type UploadResult struct {
	FileURL        string `json:"file_url"`
	ConversationID uint   `json:"conversation_id"`
	Message        string `json:"message"`
}

// UploadService 定义了文件上传与内容注入的业务接口。
type UploadService interface {
	// Ingest 把上传文件存入对象存储，并将提取到的内容作为上下文消息
	// 写进用户的活跃会话。
	Ingest(ctx context.Context, userID string, file multipart.File, header *multipart.FileHeader) (*UploadResult, error)
}

type uploadService struct {
	convService ConversationService
	msgRepo     repository.MessageRepository
	tikaClient  *tika.Client
	minioCfg    config.MinIOConfig
	uploadCfg   config.UploadConfig
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(convService ConversationService, msgRepo repository.MessageRepository, tikaClient *tika.Client, minioCfg config.MinIOConfig, uploadCfg config.UploadConfig) UploadService {
	return &uploadService{
		convService: convService,
		msgRepo:     msgRepo,
		tikaClient:  tikaClient,
		minioCfg:    minioCfg,
		uploadCfg:   uploadCfg,
	}
}

// Ingest 实现上传流程：解析活跃会话 → 存入 MinIO → 按类型提取文本 →
// 写入上下文消息与可见的上传提示消息。上下文消息是尽力而为的，
// 提取失败不会让上传整体失败。
func (s *uploadService) Ingest(ctx context.Context, userID string, file multipart.File, header *multipart.FileHeader) (*UploadResult, error) {
	conv, err := s.convService.EnsureActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取上传文件失败: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	// 对象名使用 uuid，"uploads/" 前缀同时充当历史消息中的图片附件标记
	objectName := "uploads/" + uuid.New().String() + ext

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := storage.PutObject(ctx, s.minioCfg.BucketName, objectName, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, fmt.Errorf("保存文件到对象存储失败: %w", err)
	}

	fileURL, err := storage.GetPresignedURL(s.minioCfg.BucketName, objectName, s.urlExpiry())
	if err != nil {
		return nil, fmt.Errorf("生成文件访问链接失败: %w", err)
	}

	if ctxMsg := s.buildContextMessage(header.Filename, objectName, ext, data); ctxMsg != "" {
		s.appendContext(ctx, userID, conv.ID, ctxMsg)
	}

	// 聊天窗口里可见的上传记录
	s.appendContext(ctx, userID, conv.ID, fmt.Sprintf("[File Uploaded: %s]", header.Filename))

	return &UploadResult{
		FileURL:        fileURL,
		ConversationID: conv.ID,
		Message: fmt.Sprintf("I've received %s. Note: If I can't see the image content yet, "+
			"please describe what you need me to analyze in it!", header.Filename),
	}, nil
}

// buildContextMessage 按附件类型生成注入会话的上下文消息；
// 无法提取内容时返回空串。
func (s *uploadService) buildContextMessage(fileName, objectName, ext string, data []byte) string {
	maxChars := s.uploadCfg.ContextMaxChars
	if maxChars <= 0 {
		maxChars = 2000
	}

	switch classifyAttachment(ext) {
	case attachmentPDF:
		text, err := s.tikaClient.ExtractText(bytes.NewReader(data), fileName)
		if err != nil || strings.TrimSpace(text) == "" {
			log.Warnf("PDF 文本提取失败: file=%s, error=%v", fileName, err)
			return ""
		}
		return fmt.Sprintf("BACKGROUND_DATA: The user has uploaded a file named %s. "+
			"Content summary: %s. Use this info ONLY if asked.", fileName, clip(text, maxChars))
	case attachmentWord:
		text, err := s.tikaClient.ExtractText(bytes.NewReader(data), fileName)
		if err != nil || strings.TrimSpace(text) == "" {
			log.Warnf("Word 文本提取失败: file=%s, error=%v", fileName, err)
			return ""
		}
		return fmt.Sprintf("SYSTEM: User uploaded a Word doc: %s. Content: %s", fileName, clip(text, maxChars))
	case attachmentImage:
		// objectName 会被 AI 适配器识别为图片标记并切换到视觉模式
		return fmt.Sprintf("SYSTEM: User uploaded an image: %s. (The image is accessible at %s)", fileName, objectName)
	case attachmentPlain:
		return fmt.Sprintf("BACKGROUND_DATA: Content of %s:\n%s", fileName, clip(string(data), maxChars))
	case attachmentNone:
		return ""
	}
	return ""
}

// appendContext 写入一条消息；失败只记录日志，上传流程继续。
func (s *uploadService) appendContext(ctx context.Context, userID string, conversationID uint, content string) {
	if _, err := s.msgRepo.Append(ctx, userID, model.RoleUser, content, &conversationID); err != nil {
		log.Warnf("上下文消息落库失败: conversation=%d, error=%v", conversationID, err)
	}
}

func (s *uploadService) urlExpiry() time.Duration {
	hours := s.minioCfg.URLExpireHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// clip 按字符截断，避免把多字节字符切成无效 UTF-8。
func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
