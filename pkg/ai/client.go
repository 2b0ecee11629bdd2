// Package ai provides a client for the hosted chat-completion API (text and vision).
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"zbot-go/internal/config"
	"zbot-go/pkg/log"
)

// Message 表示一条角色消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client defines the interface for the AI adapter.
type Client interface {
	// Respond 根据历史与新输入生成回复。它从不向调用方抛错：
	// 任何失败都会转换成一条文本形式的错误回复，保证聊天轮次不中断。
	Respond(ctx context.Context, userMessage string, history []Message) string
	// GenerateLabel 为首轮对话生成一个 3-5 词的短标题。
	GenerateLabel(ctx context.Context, question, answer string) (string, error)
}

// ImageFetcher 按对象名读取此前上传的图片内容。
type ImageFetcher interface {
	Fetch(ctx context.Context, objectName string) ([]byte, string, error)
}

type openaiClient struct {
	cfg    config.AIConfig
	images ImageFetcher
	client *http.Client
}

// NewClient creates a new AI client for an OpenAI-compatible endpoint.
func NewClient(cfg config.AIConfig, images ImageFetcher) Client {
	return &openaiClient{
		cfg:    cfg,
		images: images,
		client: &http.Client{},
	}
}

const defaultSystemPrompt = "You are Z-Bot, a custom assistant for Technowire Data Science Ltd. " +
	"You have vision capabilities. If an image is provided, analyze it accurately. " +
	"You also process PDF text provided in the history. " +
	"Never mention OpenAI, Groq, Meta, or Llama. Be professional and concise."

const defaultLabelPrompt = "Generate a very short title (3-5 words max) for this conversation. " +
	"Return ONLY the title, nothing else. No quotes, no punctuation."

const demotionNote = "\n\n(Note: Image processed via text fallback as vision models are currently unavailable.)"

// imageMarkerRe 匹配历史消息里的图片附件标记（上传时写入的对象名）。
var imageMarkerRe = regexp.MustCompile(`(?i)uploads/[0-9a-f-]+\.(?:png|jpg|jpeg)`)

// contentPart 是视觉模型要求的多段内容格式中的一段。
type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// apiMessage 的 Content 要么是纯字符串，要么是 []contentPart（视觉模式）。
type apiMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Respond 实现 §"一轮对话" 的完整分支：
// 扫描历史中的图片标记 → 视觉模式（全消息多段格式 + 模型优先级链）→
// 全部失败则降级为纯文本模型，并在回复末尾附加降级说明。
func (c *openaiClient) Respond(ctx context.Context, userMessage string, history []Message) string {
	hasImage := false
	processed := make([]apiMessage, 0, len(history)+1)

	for _, m := range history {
		if obj := imageMarkerRe.FindString(m.Content); obj != "" && c.images != nil {
			data, contentType, err := c.images.Fetch(ctx, obj)
			if err == nil {
				hasImage = true
				caption := fmt.Sprintf("[User uploaded image: %s]", obj)
				processed = append(processed, apiMessage{
					Role: "user",
					Content: []contentPart{
						{Type: "text", Text: caption},
						{Type: "image_url", ImageURL: &imageURL{URL: dataURI(data, contentType)}},
					},
				})
				continue
			}
			// 对象已被删除等情况：按普通文本消息处理
			log.Warnf("读取图片附件失败，按文本处理: object=%s, error=%v", obj, err)
		}
		processed = append(processed, apiMessage{Role: m.Role, Content: m.Content})
	}
	processed = append(processed, apiMessage{Role: "user", Content: userMessage})

	// 视觉模式：所有消息（含 system）都必须是统一的多段格式，
	// 否则视觉模型会拒绝混合数组。按优先级逐个尝试视觉模型。
	visionTried := false
	if hasImage {
		visionMsgs := make([]apiMessage, 0, len(processed)+1)
		visionMsgs = append(visionMsgs, toMultipart(apiMessage{Role: "system", Content: c.systemPrompt()}))
		for _, m := range processed {
			visionMsgs = append(visionMsgs, toMultipart(m))
		}
		for _, model := range c.cfg.VisionModels {
			visionTried = true
			reply, err := c.complete(ctx, model, visionMsgs, nil)
			if err == nil {
				return reply
			}
			log.Warnf("视觉模型 %s 调用失败: %v", model, err)
		}
	}

	// 纯文本路径：丢弃图片负载，保留标题文本
	textMsgs := make([]apiMessage, 0, len(processed)+1)
	textMsgs = append(textMsgs, apiMessage{Role: "system", Content: c.systemPrompt()})
	for _, m := range processed {
		textMsgs = append(textMsgs, apiMessage{Role: m.Role, Content: flattenContent(m.Content)})
	}

	reply, err := c.complete(ctx, c.cfg.TextModel, textMsgs, nil)
	if err != nil {
		log.Errorf("CRITICAL AI ERROR: %v", err)
		return fmt.Sprintf("AI Error: %s", err)
	}
	if visionTried {
		// 走到这里说明视觉链路整体失败，向用户披露降级；
		// 未配置视觉模型时不存在降级，不加说明
		reply += demotionNote
	}
	return reply
}

// GenerateLabel 调用命名模型生成短标题；空结果视为失败，由调用方回退。
func (c *openaiClient) GenerateLabel(ctx context.Context, question, answer string) (string, error) {
	prompt := c.cfg.Prompt.Label
	if prompt == "" {
		prompt = defaultLabelPrompt
	}
	model := c.cfg.LabelModel
	if model == "" {
		model = c.cfg.TextModel
	}

	msgs := []apiMessage{
		{Role: "system", Content: prompt},
		{Role: "user", Content: fmt.Sprintf("User said: %s\nAssistant replied: %s",
			truncate(question, 200), truncate(answer, 200))},
	}
	temp := 0.3
	maxTokens := 20
	reply, err := c.complete(ctx, model, msgs, &chatRequest{Temperature: &temp, MaxTokens: &maxTokens})
	if err != nil {
		return "", err
	}
	label := strings.TrimSpace(reply)
	if label == "" {
		return "", fmt.Errorf("label model returned empty title")
	}
	return truncate(label, 50), nil
}

// complete 发起一次非流式 chat/completions 调用并返回首个选项的文本。
func (c *openaiClient) complete(ctx context.Context, model string, messages []apiMessage, override *chatRequest) (string, error) {
	reqBody := chatRequest{
		Model:    model,
		Messages: messages,
	}
	if override != nil {
		reqBody.Temperature = override.Temperature
		reqBody.TopP = override.TopP
		reqBody.MaxTokens = override.MaxTokens
	} else {
		// 从全局配置注入（若非零值）
		if c.cfg.Generation.Temperature != 0 {
			t := c.cfg.Generation.Temperature
			reqBody.Temperature = &t
		}
		if c.cfg.Generation.TopP != 0 {
			p := c.cfg.Generation.TopP
			reqBody.TopP = &p
		}
		if c.cfg.Generation.MaxTokens != 0 {
			m := c.cfg.Generation.MaxTokens
			reqBody.MaxTokens = &m
		}
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat api returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *openaiClient) systemPrompt() string {
	if c.cfg.Prompt.System != "" {
		return c.cfg.Prompt.System
	}
	return defaultSystemPrompt
}

// toMultipart 把纯字符串内容包装为单段 text 块；已是多段的原样返回。
func toMultipart(m apiMessage) apiMessage {
	if s, ok := m.Content.(string); ok {
		return apiMessage{Role: m.Role, Content: []contentPart{{Type: "text", Text: s}}}
	}
	return m
}

// flattenContent 从多段内容中抽出文本段，丢弃图片负载。
func flattenContent(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case []contentPart:
		for _, part := range v {
			if part.Type == "text" {
				return part.Text
			}
		}
	}
	return ""
}

func dataURI(data []byte, contentType string) string {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
}

// truncate 按字符截断，避免把多字节字符切成无效 UTF-8。
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
