package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFetchSinceMissingBaseURL(t *testing.T) {
	c := NewClient(ClientOptions{}, noopLogger())
	if _, err := c.FetchSince(context.Background(), time.Now()); err == nil {
		t.Fatal("缺少 base url 时应返回错误")
	}
}

func TestFetchSinceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "rate limited"})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.FetchSince(context.Background(), time.Now()); err == nil {
		t.Fatal("HTTP 429 应返回错误")
	}
}

func TestFetchSinceSuccess(t *testing.T) {
	since := time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != postsPath {
			t.Fatalf("意外的请求路径: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("since"); got != since.Format(time.RFC3339) {
			t.Fatalf("since 参数不正确: %s", got)
		}
		if got := r.URL.Query().Get("platform"); got != "twitter" {
			t.Fatalf("platform 参数不正确: %s", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("Authorization 头不正确: %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"posts": []map[string]string{
				{
					"id":        "p-1",
					"platform":  "twitter",
					"author":    "trader_a",
					"text":      "AAPL breaking out",
					"url":       "https://example.com/p-1",
					"posted_at": "2025-06-02T11:30:00Z",
				},
				{
					"id":        "p-2",
					"platform":  "twitter",
					"author":    "trader_b",
					"text":      "bad timestamp",
					"posted_at": "not-a-time",
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{
		BaseURL:  srv.URL,
		APIKey:   "secret",
		Platform: "twitter",
		Timeout:  time.Second,
	}, noopLogger())

	posts, err := c.FetchSince(context.Background(), since)
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("无法解析时间戳的帖子应被跳过, 实际 %d 条", len(posts))
	}
	p := posts[0]
	if p.SourceID != "p-1" || p.Author != "trader_a" || p.Platform != "twitter" {
		t.Fatalf("帖子字段不正确: %+v", p)
	}
	if !p.PostedAt.Equal(time.Date(2025, 6, 2, 11, 30, 0, 0, time.UTC)) {
		t.Fatalf("posted_at 解析不正确: %v", p.PostedAt)
	}
}
