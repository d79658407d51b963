package scoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pulse-alerts/internal/storage"
)

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Fatalf("意外的请求路径: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1_700_000_000,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": content,
					},
				},
			},
		})
	}))
}

func testPost() storage.Post {
	return storage.Post{
		ID:       42,
		Platform: "twitter",
		SourceID: "p-42",
		Author:   "trader_a",
		Body:     "AAPL is going to rip after earnings",
		PostedAt: time.Date(2025, 6, 2, 11, 30, 0, 0, time.UTC),
	}
}

func TestScoreMissingAPIKey(t *testing.T) {
	s := NewOpenAIScorer(OpenAIOptions{}, zerolog.Nop())
	if _, err := s.Score(context.Background(), testPost()); err == nil {
		t.Fatal("缺少 api key 时应返回错误")
	}
}

func TestScoreRelevantPrediction(t *testing.T) {
	srv := completionServer(t, `{"relevant": true, "confidence": 0.82,
		"assets": ["AAPL"], "sentiment_impact": {"AAPL": "Bullish"},
		"thesis": "Earnings beat expected."}`)
	defer srv.Close()

	s := NewOpenAIScorer(OpenAIOptions{APIKey: "test", BaseURL: srv.URL}, zerolog.Nop())

	pred, err := s.Score(context.Background(), testPost())
	if err != nil {
		t.Fatalf("打分不应报错: %v", err)
	}
	if pred == nil {
		t.Fatal("相关帖子应返回预测")
	}
	if pred.PostID != 42 {
		t.Fatalf("post id 不正确: %d", pred.PostID)
	}
	if !pred.Confidence.Equal(decimal.NewFromFloat(0.82)) {
		t.Fatalf("置信度不正确: %s", pred.Confidence)
	}
	if len(pred.Assets) != 1 || pred.Assets[0] != "AAPL" {
		t.Fatalf("资产列表不正确: %v", pred.Assets)
	}
	if pred.Sentiment != "bullish" {
		t.Fatalf("sentiment 应取 sentiment_impact 首个值并小写: %s", pred.Sentiment)
	}
}

func TestScoreIrrelevantPost(t *testing.T) {
	srv := completionServer(t, `{"relevant": false}`)
	defer srv.Close()

	s := NewOpenAIScorer(OpenAIOptions{APIKey: "test", BaseURL: srv.URL}, zerolog.Nop())

	pred, err := s.Score(context.Background(), testPost())
	if err != nil {
		t.Fatalf("无关帖子不应报错: %v", err)
	}
	if pred != nil {
		t.Fatalf("无关帖子应返回 nil 预测: %+v", pred)
	}
}

func TestScoreFencedJSON(t *testing.T) {
	srv := completionServer(t, "```json\n{\"relevant\": true, \"confidence\": 0.5, \"assets\": [\"TSLA\"], \"thesis\": \"t\"}\n```")
	defer srv.Close()

	s := NewOpenAIScorer(OpenAIOptions{APIKey: "test", BaseURL: srv.URL}, zerolog.Nop())

	pred, err := s.Score(context.Background(), testPost())
	if err != nil {
		t.Fatalf("markdown 包裹的 JSON 应被容忍: %v", err)
	}
	if pred == nil || pred.Sentiment != "neutral" {
		t.Fatalf("缺少 sentiment_impact 时应回退为 neutral: %+v", pred)
	}
}

func TestScoreConfidenceOutOfRange(t *testing.T) {
	srv := completionServer(t, `{"relevant": true, "confidence": 1.4}`)
	defer srv.Close()

	s := NewOpenAIScorer(OpenAIOptions{APIKey: "test", BaseURL: srv.URL}, zerolog.Nop())

	if _, err := s.Score(context.Background(), testPost()); err == nil {
		t.Fatal("置信度超出范围应返回错误")
	}
}

func TestTruncatePreview(t *testing.T) {
	long := strings.Repeat("市", previewMaxRunes+10)
	got := truncatePreview(long)
	if len([]rune(got)) != previewMaxRunes {
		t.Fatalf("预览应按 rune 截断到 %d, 实际 %d", previewMaxRunes, len([]rune(got)))
	}
	short := "short body"
	if truncatePreview(short) != short {
		t.Fatal("短文本不应被截断")
	}
}
