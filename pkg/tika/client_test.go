package tika

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"zbot-go/internal/config"
)

func TestExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/tika" {
			t.Errorf("意外的请求: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "text/plain" {
			t.Errorf("Accept 头错误: %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/pdf" {
			t.Errorf("Content-Type 头错误: %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "raw pdf bytes" {
			t.Errorf("请求体错误: %q", body)
		}
		io.WriteString(w, "extracted text")
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL})
	text, err := c.ExtractText(strings.NewReader("raw pdf bytes"), "report.pdf")
	if err != nil {
		t.Fatalf("提取失败: %v", err)
	}
	if text != "extracted text" {
		t.Fatalf("提取结果错误: %q", text)
	}
}

func TestExtractTextServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unprocessable", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL})
	if _, err := c.ExtractText(strings.NewReader("x"), "broken.docx"); err == nil {
		t.Fatal("服务端错误应返回 error")
	}
}

func TestDetectMimeType(t *testing.T) {
	cases := map[string]string{
		"a.pdf":  "application/pdf",
		"b":      "application/octet-stream",
		"c.zzz9": "application/octet-stream",
	}
	for name, want := range cases {
		if got := detectMimeType(name); got != want {
			t.Errorf("detectMimeType(%q) = %q, want %q", name, got, want)
		}
	}
}
