package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSMSSenderSuccess(t *testing.T) {
	var got smsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Fatalf("路径应为 /messages, 实际 %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Fatalf("Authorization 头不正确: %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := NewSMSSender(SMSOptions{
		BaseURL: srv.URL,
		Token:   "secret",
		From:    "PulseWatch",
		Timeout: time.Second,
	}, testLogger())

	if err := sender.Send(context.Background(), "+15550001111", testAlert()); err != nil {
		t.Fatalf("SMS Send 应成功: %v", err)
	}
	if got.To != "+15550001111" {
		t.Fatalf("to 不正确: %#v", got)
	}
	if len([]rune(got.Body)) > smsMaxBodyRunes {
		t.Fatalf("正文应被截断到 %d 字符, 实际 %d", smsMaxBodyRunes, len([]rune(got.Body)))
	}
}

func TestSMSSenderGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	sender := NewSMSSender(SMSOptions{BaseURL: srv.URL, Timeout: time.Second}, testLogger())

	err := sender.Send(context.Background(), "+15550001111", testAlert())
	if err == nil {
		t.Fatal("HTTP 429 应报错")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("错误应包含状态码: %v", err)
	}
}
