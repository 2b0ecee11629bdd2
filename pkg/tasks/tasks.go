// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// LabelTask 是自动命名任务。聊天请求在首轮回复后投递该任务，
// 后台消费者生成标题并以 compare-and-set 方式写回会话。
type LabelTask struct {
	ConversationID uint   `json:"conversation_id"`
	UserMessage    string `json:"user_message"`
	Reply          string `json:"reply"`
}
