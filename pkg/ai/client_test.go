package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"unicode/utf8"
	"zbot-go/internal/config"
	"zbot-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "json", "")
	os.Exit(m.Run())
}

// fakeFetcher 返回固定的图片内容。
type fakeFetcher struct {
	err error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("fake-image-bytes"), "image/png", nil
}

// upstreamRequest 只解出测试需要检查的字段。
type upstreamRequest struct {
	Model     string `json:"model"`
	MaxTokens *int   `json:"max_tokens"`
	Messages  []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

// newUpstream 启动一个按模型名分发的假 chat/completions 服务。
// respond 返回 (回复文本, 是否成功)。
func newUpstream(t *testing.T, respond func(req upstreamRequest) (string, bool)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("意外的请求路径: %s", r.URL.Path)
		}
		var req upstreamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("解析上游请求失败: %v", err)
		}
		reply, ok := respond(req)
		if !ok {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, reply)
	}))
}

func testConfig(baseURL string) config.AIConfig {
	return config.AIConfig{
		APIKey:       "test-key",
		BaseURL:      baseURL,
		TextModel:    "text-model",
		VisionModels: []string{"vision-a", "vision-b"},
		LabelModel:   "label-model",
	}
}

func TestRespondText(t *testing.T) {
	srv := newUpstream(t, func(req upstreamRequest) (string, bool) {
		if req.Model != "text-model" {
			t.Errorf("纯文本对话应使用文本模型，实际 %s", req.Model)
		}
		return "hello from model", true
	})
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	reply := c.Respond(context.Background(), "hi", nil)
	if reply != "hello from model" {
		t.Fatalf("回复错误: %q", reply)
	}
}

func TestRespondFailureBecomesText(t *testing.T) {
	srv := newUpstream(t, func(upstreamRequest) (string, bool) {
		return "", false
	})
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	reply := c.Respond(context.Background(), "hi", nil)
	if !strings.HasPrefix(reply, "AI Error:") {
		t.Fatalf("上游失败应转换为文本错误回复，实际 %q", reply)
	}
}

func TestRespondVisionChain(t *testing.T) {
	var tried []string
	srv := newUpstream(t, func(req upstreamRequest) (string, bool) {
		tried = append(tried, req.Model)
		if req.Model == "vision-b" {
			return "vision reply", true
		}
		return "", false
	})
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), &fakeFetcher{})
	history := []Message{
		{Role: "user", Content: "SYSTEM: User uploaded an image: cat.png. (The image is accessible at uploads/1a2b3c4d-5e6f.png)"},
	}
	reply := c.Respond(context.Background(), "what is in the image?", history)
	if reply != "vision reply" {
		t.Fatalf("回复错误: %q", reply)
	}
	if len(tried) != 2 || tried[0] != "vision-a" || tried[1] != "vision-b" {
		t.Fatalf("视觉模型应按优先级尝试: %v", tried)
	}
}

func TestRespondVisionDemotion(t *testing.T) {
	srv := newUpstream(t, func(req upstreamRequest) (string, bool) {
		if req.Model == "text-model" {
			// 文本降级路径：内容必须已被拍平成字符串
			for _, m := range req.Messages {
				var s string
				if err := json.Unmarshal(m.Content, &s); err != nil {
					t.Errorf("降级请求的消息内容应为纯字符串: %s", m.Content)
				}
			}
			return "text fallback", true
		}
		return "", false
	})
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), &fakeFetcher{})
	history := []Message{
		{Role: "user", Content: "(The image is accessible at uploads/1a2b3c4d-5e6f.jpg)"},
	}
	reply := c.Respond(context.Background(), "describe it", history)
	if reply != "text fallback"+demotionNote {
		t.Fatalf("视觉链路整体失败时应附加降级说明，实际 %q", reply)
	}
}

func TestRespondNoVisionModelsNoNote(t *testing.T) {
	srv := newUpstream(t, func(req upstreamRequest) (string, bool) {
		if req.Model != "text-model" {
			t.Errorf("未配置视觉模型时只应调用文本模型: %s", req.Model)
		}
		return "text only", true
	})
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.VisionModels = nil
	c := NewClient(cfg, &fakeFetcher{})
	history := []Message{
		{Role: "user", Content: "(The image is accessible at uploads/1a2b3c4d.png)"},
	}
	reply := c.Respond(context.Background(), "hi", history)
	// 从未尝试视觉模型就谈不上降级，不应附加降级说明
	if reply != "text only" {
		t.Fatalf("回复不应附加降级说明: %q", reply)
	}
}

func TestRespondFetcherFailureStaysText(t *testing.T) {
	srv := newUpstream(t, func(req upstreamRequest) (string, bool) {
		if req.Model != "text-model" {
			t.Errorf("图片不可读时不应尝试视觉模型: %s", req.Model)
		}
		return "plain", true
	})
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), &fakeFetcher{err: fmt.Errorf("object removed")})
	history := []Message{
		{Role: "user", Content: "(The image is accessible at uploads/1a2b3c4d.png)"},
	}
	reply := c.Respond(context.Background(), "hi", history)
	if reply != "plain" {
		t.Fatalf("回复错误: %q", reply)
	}
}

func TestGenerateLabel(t *testing.T) {
	srv := newUpstream(t, func(req upstreamRequest) (string, bool) {
		if req.Model != "label-model" {
			t.Errorf("命名应使用 label 模型，实际 %s", req.Model)
		}
		if req.MaxTokens == nil || *req.MaxTokens != 20 {
			t.Errorf("命名请求应限制 max_tokens=20: %v", req.MaxTokens)
		}
		return "  Trip Planning  ", true
	})
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	label, err := c.GenerateLabel(context.Background(), "plan a trip", "sure")
	if err != nil {
		t.Fatalf("命名失败: %v", err)
	}
	if label != "Trip Planning" {
		t.Fatalf("标题应去除首尾空白，实际 %q", label)
	}
}

func TestGenerateLabelTruncates(t *testing.T) {
	long := strings.Repeat("t", 60)
	srv := newUpstream(t, func(upstreamRequest) (string, bool) {
		return long, true
	})
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	label, err := c.GenerateLabel(context.Background(), "q", "a")
	if err != nil {
		t.Fatalf("命名失败: %v", err)
	}
	if len(label) != 50 {
		t.Fatalf("标题应截断到 50 字符，实际 %d", len(label))
	}
}

func TestGenerateLabelTruncatesMultibyte(t *testing.T) {
	long := strings.Repeat("题", 60)
	srv := newUpstream(t, func(upstreamRequest) (string, bool) {
		return long, true
	})
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	label, err := c.GenerateLabel(context.Background(), "q", "a")
	if err != nil {
		t.Fatalf("命名失败: %v", err)
	}
	if !utf8.ValidString(label) {
		t.Fatalf("截断不应产生无效 UTF-8: %q", label)
	}
	if utf8.RuneCountInString(label) != 50 {
		t.Fatalf("标题应截断到 50 个字符，实际 %d", utf8.RuneCountInString(label))
	}
}

func TestGenerateLabelEmptyIsError(t *testing.T) {
	srv := newUpstream(t, func(upstreamRequest) (string, bool) {
		return "   ", true
	})
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	if _, err := c.GenerateLabel(context.Background(), "q", "a"); err == nil {
		t.Fatal("空标题应视为失败")
	}
}

func TestImageMarkerRegex(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"(The image is accessible at uploads/1a2b3c4d-5e6f.png)", true},
		{"uploads/ABCDEF01-2345.JPEG", true},
		{"uploads/note.txt", false},
		{"no marker here", false},
	}
	for _, tc := range cases {
		if got := imageMarkerRe.MatchString(tc.in); got != tc.want {
			t.Errorf("MatchString(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
