// Package main 是应用程序的入口点。
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"zbot-go/internal/config"
	"zbot-go/internal/handler"
	"zbot-go/internal/middleware"
	"zbot-go/internal/model"
	"zbot-go/internal/repository"
	"zbot-go/internal/service"
	"zbot-go/pkg/ai"
	"zbot-go/pkg/database"
	"zbot-go/pkg/kafka"
	"zbot-go/pkg/log"
	"zbot-go/pkg/storage"
	"zbot-go/pkg/tasks"
	"zbot-go/pkg/tika"

	"github.com/gin-gonic/gin"
)

// kafkaLabeler 把自动命名任务投递到 Kafka，实现 service.Labeler 接口。
type kafkaLabeler struct{}

func (kafkaLabeler) Submit(task tasks.LabelTask) error {
	return kafka.ProduceLabelTask(task)
}

func main() {
	// 1. 初始化配置
	config.Init("configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("配置与日志初始化成功")

	// 3. 初始化基础设施
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	kafka.InitProducer(cfg.Kafka)

	// 表结构迁移
	if err := database.DB.AutoMigrate(&model.Conversation{}, &model.ChatMessage{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	// 4. 依赖注入
	convRepo := repository.NewConversationRepository(database.DB)
	msgRepo := repository.NewMessageRepository(database.DB)

	imageFetcher := storage.NewImageFetcher(cfg.MinIO.BucketName)
	aiClient := ai.NewClient(cfg.AI, imageFetcher)
	tikaClient := tika.NewClient(cfg.Tika)

	convService := service.NewConversationService(convRepo, msgRepo)
	chatService := service.NewChatService(convService, msgRepo, aiClient, kafkaLabeler{})
	uploadService := service.NewUploadService(convService, msgRepo, tikaClient, cfg.MinIO, cfg.Upload)
	adminService := service.NewAdminService(convRepo, msgRepo)

	chatHandler := handler.NewChatHandler(chatService)
	uploadHandler := handler.NewUploadHandler(uploadService)
	convHandler := handler.NewConversationHandler(convService)
	adminHandler := handler.NewAdminHandler(adminService)

	// 5. 启动 Kafka 消费者处理自动命名任务
	go kafka.StartConsumer(cfg.Kafka, chatService)

	// 6. 设置 Gin 路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware())
	api.Use(middleware.RateLimiter(database.RDB, cfg.RateLimit))
	{
		api.POST("/chat", chatHandler.Chat)
		api.POST("/upload", uploadHandler.Upload)

		api.GET("/conversations", convHandler.List)
		api.POST("/conversations/create", convHandler.Create)
		api.GET("/conversations/:id/messages", convHandler.Messages)
		api.PUT("/conversations/:id/label", convHandler.Rename)
		api.PUT("/conversations/:id/switch", convHandler.Switch)
		api.PUT("/conversations/:id/archive", convHandler.Archive)
		api.DELETE("/conversations/:id", convHandler.Delete)
	}

	admin := r.Group("/admin")
	admin.Use(middleware.AdminAuthMiddleware(cfg.Admin.APIKey))
	{
		admin.GET("/chats", adminHandler.ListChats)
		admin.GET("/chats/search", adminHandler.SearchChats)
		admin.GET("/chats/user/:id", adminHandler.UserChats)
		admin.GET("/chats/:id", adminHandler.ChatDetail)
		admin.DELETE("/chats/:id/messages", adminHandler.PurgeMessages)
		admin.PUT("/chats/:id/archive", adminHandler.ArchiveChat)
		admin.DELETE("/chats/:id", adminHandler.DeleteChat)
		admin.GET("/messages", adminHandler.ListMessages)
	}

	// 7. 启动 HTTP 服务并实现优雅关机
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		log.Infof("服务器启动于端口 %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务器强制关闭: %v", err)
	}

	log.Info("服务器已退出")
}
