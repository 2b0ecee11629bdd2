// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"zbot-go/internal/model"
	"zbot-go/internal/repository"
	"zbot-go/pkg/ai"
	"zbot-go/pkg/log"
	"zbot-go/pkg/tasks"
)

// historyLimit 是喂给 AI 的上下文窗口（最近 N 条消息）。
const historyLimit = 15

// Labeler 把自动命名任务交给后台处理（Kafka）。投递失败不影响聊天轮次。
type Labeler interface {
	Submit(task tasks.LabelTask) error
}

// ChatService 定义了一轮聊天的编排接口。
type ChatService interface {
	// Chat 处理一轮对话：解析活跃会话 → 落库用户消息 → 组装上下文 →
	// 调用 AI → 落库回复 → 必要时触发自动命名。
	Chat(ctx context.Context, userID, message string) (string, uint, error)
	// Process 执行一个自动命名任务（Kafka 消费者入口）。
	Process(ctx context.Context, task tasks.LabelTask) error
}

type chatService struct {
	convService ConversationService
	msgRepo     repository.MessageRepository
	aiClient    ai.Client
	labeler     Labeler
}

// NewChatService 创建一个新的 ChatService 实例。labeler 可以为 nil，
// 此时自动命名在本进程内异步执行。
func NewChatService(convService ConversationService, msgRepo repository.MessageRepository, aiClient ai.Client, labeler Labeler) ChatService {
	return &chatService{
		convService: convService,
		msgRepo:     msgRepo,
		aiClient:    aiClient,
		labeler:     labeler,
	}
}

// Chat 实现一轮对话的状态机。只有会话解析失败（数据库不可达）才算
// 致命错误；消息落库是尽力而为的——回复已经展示给用户，不应因
// 存档失败而让整轮请求失败。
func (s *chatService) Chat(ctx context.Context, userID, message string) (string, uint, error) {
	conv, err := s.convService.EnsureActive(ctx, userID)
	if err != nil {
		return "", 0, err
	}
	// 在解析时刻判断是否需要自动命名，避免与并发改名互相干扰
	wasDefault := conv.Label == model.DefaultLabel

	// 用户消息先于 AI 调用落库：即使 AI 失败也保留用户的提问记录
	if _, err := s.msgRepo.Append(ctx, userID, model.RoleUser, message, &conv.ID); err != nil {
		log.Warnf("用户消息落库失败，继续本轮对话: conversation=%d, error=%v", conv.ID, err)
	}

	history, err := s.msgRepo.HistoryForContext(ctx, userID, conv.ID, historyLimit)
	if err != nil {
		log.Warnf("加载历史失败，使用空上下文: conversation=%d, error=%v", conv.ID, err)
		history = nil
	}
	// 刚落库的用户消息已包含在历史里，AI 适配器会单独追加当前输入
	if n := len(history); n > 0 && history[n-1].Role == model.RoleUser && history[n-1].Content == message {
		history = history[:n-1]
	}
	aiHistory := make([]ai.Message, 0, len(history))
	for _, m := range history {
		aiHistory = append(aiHistory, ai.Message{Role: m.Role, Content: m.Content})
	}

	// Respond 从不返回错误：AI 侧的失败会变成一条文本错误回复
	reply := s.aiClient.Respond(ctx, message, aiHistory)

	if _, err := s.msgRepo.Append(ctx, userID, model.RoleAssistant, reply, &conv.ID); err != nil {
		log.Warnf("助手回复落库失败: conversation=%d, error=%v", conv.ID, err)
	}

	if wasDefault {
		s.submitLabelTask(tasks.LabelTask{
			ConversationID: conv.ID,
			UserMessage:    message,
			Reply:          reply,
		})
	}

	return reply, conv.ID, nil
}

// submitLabelTask 优先投递到 Kafka；投递失败或未配置时退化为进程内异步执行。
func (s *chatService) submitLabelTask(task tasks.LabelTask) {
	if s.labeler != nil {
		if err := s.labeler.Submit(task); err == nil {
			return
		} else {
			log.Warnf("自动命名任务投递失败，改为本地执行: conversation=%d, error=%v", task.ConversationID, err)
		}
	}
	go func() {
		if err := s.Process(context.Background(), task); err != nil {
			log.Warnf("自动命名失败: conversation=%d, error=%v", task.ConversationID, err)
		}
	}()
}

// Process 生成短标题并以条件改名写回。模型失败时退回用户消息前 40 字符。
// 条件改名保证不会覆盖用户此刻手动改好的标题，重复执行也是安全的。
func (s *chatService) Process(ctx context.Context, task tasks.LabelTask) error {
	label, err := s.aiClient.GenerateLabel(ctx, task.UserMessage, task.Reply)
	if err != nil {
		log.Warnf("标题生成失败，使用消息前缀: conversation=%d, error=%v", task.ConversationID, err)
		label = runePrefix(task.UserMessage, 40)
	}
	_, err = s.convService.RenameIfDefault(ctx, task.ConversationID, label)
	return err
}

// runePrefix 按字符截断，不在多字节字符中间切开。
func runePrefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
