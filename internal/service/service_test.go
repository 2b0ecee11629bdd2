package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"unicode/utf8"
	"zbot-go/internal/model"
	"zbot-go/internal/repository"
	"zbot-go/pkg/ai"
	"zbot-go/pkg/log"
	"zbot-go/pkg/tasks"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	log.Init("error", "json", "")
	os.Exit(m.Run())
}

// fakeAI 是 ai.Client 的测试替身，记录最近一次收到的历史。
type fakeAI struct {
	reply       string
	label       string
	labelErr    error
	lastHistory []ai.Message
	lastMessage string
}

func (f *fakeAI) Respond(_ context.Context, userMessage string, history []ai.Message) string {
	f.lastMessage = userMessage
	f.lastHistory = history
	return f.reply
}

func (f *fakeAI) GenerateLabel(_ context.Context, _, _ string) (string, error) {
	return f.label, f.labelErr
}

// recordLabeler 记录投递的自动命名任务，测试自行决定何时执行。
type recordLabeler struct {
	submitted []tasks.LabelTask
}

func (l *recordLabeler) Submit(task tasks.LabelTask) error {
	l.submitted = append(l.submitted, task)
	return nil
}

type fixture struct {
	db          *gorm.DB
	convRepo    repository.ConversationRepository
	msgRepo     repository.MessageRepository
	convService ConversationService
	ai          *fakeAI
	labeler     *recordLabeler
	chatService ChatService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&model.Conversation{}, &model.ChatMessage{}); err != nil {
		t.Fatalf("迁移测试数据库失败: %v", err)
	}

	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	convService := NewConversationService(convRepo, msgRepo)
	fake := &fakeAI{reply: "test reply", label: "Auto Title"}
	labeler := &recordLabeler{}
	return &fixture{
		db:          db,
		convRepo:    convRepo,
		msgRepo:     msgRepo,
		convService: convService,
		ai:          fake,
		labeler:     labeler,
		chatService: NewChatService(convService, msgRepo, fake, labeler),
	}
}

func TestEnsureActiveSelfHealing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.convService.EnsureActive(ctx, "alice")
	if err != nil {
		t.Fatalf("首次解析活跃会话失败: %v", err)
	}
	if conv.Label != model.DefaultLabel {
		t.Fatalf("自动创建的会话应使用默认标题，实际 %q", conv.Label)
	}

	again, err := f.convService.EnsureActive(ctx, "alice")
	if err != nil {
		t.Fatalf("二次解析失败: %v", err)
	}
	if again.ID != conv.ID {
		t.Fatalf("已有活跃会话时不应新建: %d != %d", again.ID, conv.ID)
	}

	// 归档后用户没有活跃会话，下次使用时自动补一条
	if err := f.convService.Archive(ctx, conv.ID); err != nil {
		t.Fatalf("归档失败: %v", err)
	}
	healed, err := f.convService.EnsureActive(ctx, "alice")
	if err != nil {
		t.Fatalf("归档后解析失败: %v", err)
	}
	if healed.ID == conv.ID {
		t.Fatal("归档后应新建会话而不是复用旧会话")
	}
}

func TestChatTurnPersistsAndLabels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply, convID, err := f.chatService.Chat(ctx, "alice", "hello there")
	if err != nil {
		t.Fatalf("聊天失败: %v", err)
	}
	if reply != "test reply" {
		t.Fatalf("回复错误: %q", reply)
	}

	msgs, err := f.msgRepo.ListByConversation(ctx, convID, 100)
	if err != nil {
		t.Fatalf("读取消息失败: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("应落库 2 条消息，实际 %d", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Content != "hello there" {
		t.Fatalf("用户消息错误: %+v", msgs[0])
	}
	if msgs[1].Role != model.RoleAssistant || msgs[1].Content != "test reply" {
		t.Fatalf("助手消息错误: %+v", msgs[1])
	}

	// 首轮对话应触发自动命名任务
	if len(f.labeler.submitted) != 1 {
		t.Fatalf("应投递 1 个命名任务，实际 %d", len(f.labeler.submitted))
	}
	task := f.labeler.submitted[0]
	if task.ConversationID != convID || task.UserMessage != "hello there" || task.Reply != "test reply" {
		t.Fatalf("命名任务内容错误: %+v", task)
	}

	// 当前输入不应重复出现在传给 AI 的历史里
	if len(f.ai.lastHistory) != 0 {
		t.Fatalf("首轮历史应为空，实际 %d 条", len(f.ai.lastHistory))
	}
}

func TestChatSecondTurnCarriesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, _ = f.chatService.Chat(ctx, "alice", "first question")
	_, _, err := f.chatService.Chat(ctx, "alice", "second question")
	if err != nil {
		t.Fatalf("聊天失败: %v", err)
	}

	// 历史应包含第一轮的问答，但不含本轮输入
	if len(f.ai.lastHistory) != 2 {
		t.Fatalf("第二轮历史应为 2 条，实际 %d", len(f.ai.lastHistory))
	}
	if f.ai.lastHistory[0].Content != "first question" || f.ai.lastHistory[1].Content != "test reply" {
		t.Fatalf("历史内容错误: %+v", f.ai.lastHistory)
	}

	// 非首轮不再触发自动命名（标题已在解析时刻不是默认值的场景另测）
	if len(f.labeler.submitted) != 2 {
		// 第二轮时标题仍是默认值（Process 未执行），因此会再投一次
		t.Fatalf("默认标题未被替换前每轮都应投递任务: %d", len(f.labeler.submitted))
	}
}

func TestChatSkipsLabelTaskAfterRename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, _ := f.convService.EnsureActive(ctx, "alice")
	if err := f.convService.Rename(ctx, conv.ID, "Manual Title"); err != nil {
		t.Fatalf("改名失败: %v", err)
	}

	_, _, err := f.chatService.Chat(ctx, "alice", "hello")
	if err != nil {
		t.Fatalf("聊天失败: %v", err)
	}
	if len(f.labeler.submitted) != 0 {
		t.Fatalf("非默认标题不应触发命名任务: %d", len(f.labeler.submitted))
	}
}

func TestProcessRenamesOnlyDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, _ := f.convService.EnsureActive(ctx, "alice")
	task := tasks.LabelTask{ConversationID: conv.ID, UserMessage: "plan a trip", Reply: "sure"}

	if err := f.chatService.Process(ctx, task); err != nil {
		t.Fatalf("命名任务失败: %v", err)
	}
	got, _ := f.convRepo.GetByID(ctx, conv.ID)
	if got.Label != "Auto Title" {
		t.Fatalf("标题应为 'Auto Title'，实际 %q", got.Label)
	}

	// 重复消费同一任务不覆盖已有标题
	f.ai.label = "Different Title"
	if err := f.chatService.Process(ctx, task); err != nil {
		t.Fatalf("重复命名任务失败: %v", err)
	}
	got, _ = f.convRepo.GetByID(ctx, conv.ID)
	if got.Label != "Auto Title" {
		t.Fatalf("重复消费不应覆盖标题，实际 %q", got.Label)
	}
}

func TestProcessFallsBackToMessagePrefix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, _ := f.convService.EnsureActive(ctx, "alice")
	f.ai.labelErr = errors.New("model unavailable")

	long := strings.Repeat("q", 60)
	task := tasks.LabelTask{ConversationID: conv.ID, UserMessage: long, Reply: "r"}
	if err := f.chatService.Process(ctx, task); err != nil {
		t.Fatalf("命名任务失败: %v", err)
	}

	got, _ := f.convRepo.GetByID(ctx, conv.ID)
	if got.Label != long[:40] {
		t.Fatalf("模型失败时应回退为消息前 40 字符，实际 %q", got.Label)
	}
}

func TestProcessFallbackMultibytePrefix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, _ := f.convService.EnsureActive(ctx, "alice")
	f.ai.labelErr = errors.New("model unavailable")

	message := strings.Repeat("请帮我规划一次为期两周的日本旅行", 4)
	task := tasks.LabelTask{ConversationID: conv.ID, UserMessage: message, Reply: "好的"}
	if err := f.chatService.Process(ctx, task); err != nil {
		t.Fatalf("命名任务失败: %v", err)
	}

	got, _ := f.convRepo.GetByID(ctx, conv.ID)
	if !utf8.ValidString(got.Label) {
		t.Fatalf("回退标题不应是无效 UTF-8: %q", got.Label)
	}
	want := string([]rune(message)[:40])
	if got.Label != want {
		t.Fatalf("回退标题应为前 40 个字符 %q，实际 %q", want, got.Label)
	}
}

func TestChatStorageDown(t *testing.T) {
	f := newFixture(t)

	sqlDB, err := f.db.DB()
	if err != nil {
		t.Fatalf("获取底层连接失败: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("关闭数据库失败: %v", err)
	}

	_, _, err = f.chatService.Chat(context.Background(), "alice", "hello")
	if err == nil {
		t.Fatal("数据库不可达时聊天应失败")
	}
}

func TestSwitchOwnershipErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bobConv, _ := f.convService.Create(ctx, "bob", "bob chat")

	if err := f.convService.Switch(ctx, "alice", 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("不存在的会话应返回 ErrNotFound，实际 %v", err)
	}
	if err := f.convService.Switch(ctx, "alice", bobConv.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("他人会话应返回 ErrForbidden，实际 %v", err)
	}
	if err := f.convService.Switch(ctx, "bob", bobConv.ID); err != nil {
		t.Fatalf("本人切换应成功: %v", err)
	}
}

func TestDeleteRemovesMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, _ := f.convService.EnsureActive(ctx, "alice")
	_, _ = f.msgRepo.Append(ctx, "alice", model.RoleUser, "q", &conv.ID)
	_, _ = f.msgRepo.Append(ctx, "alice", model.RoleAssistant, "a", &conv.ID)

	if err := f.convService.Delete(ctx, conv.ID); err != nil {
		t.Fatalf("删除会话失败: %v", err)
	}

	if _, err := f.convService.Messages(ctx, conv.ID, 100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("已删除会话应返回 ErrNotFound，实际 %v", err)
	}
	var n int64
	f.db.Model(&model.ChatMessage{}).Where("conversation_id = ?", conv.ID).Count(&n)
	if n != 0 {
		t.Fatalf("会话消息应一并删除，剩余 %d", n)
	}
}

func TestMessagesNotFound(t *testing.T) {
	f := newFixture(t)

	if _, err := f.convService.Messages(context.Background(), 42, 100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("期望 ErrNotFound，实际 %v", err)
	}
}
