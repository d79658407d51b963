package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pulse-alerts/internal/filter"
	"pulse-alerts/internal/storage"
)

const previewMaxRunes = 280

const systemPrompt = `You are a financial analyst. Given a social media post, decide whether it
contains an actionable market prediction. Respond with strict JSON only, no prose:
{"relevant": bool, "confidence": number 0..1, "assets": ["TICKER", ...],
"sentiment_impact": {"<asset>": "bullish"|"bearish"|"neutral"}, "thesis": "one sentence"}.
If the post is not a market prediction, respond {"relevant": false}.`

// Scorer 将帖子转为市场预测; 帖子与市场无关时返回 (nil, nil).
type Scorer interface {
	Score(ctx context.Context, post storage.Post) (*storage.Prediction, error)
}

// OpenAIOptions parameterise the LLM scorer.
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
}

// OpenAIScorer scores posts with a chat-completion model.
type OpenAIScorer struct {
	opts   OpenAIOptions
	logger zerolog.Logger
	client openai.Client
}

// NewOpenAIScorer constructs an LLM-backed scorer.
func NewOpenAIScorer(opts OpenAIOptions, logger zerolog.Logger) *OpenAIScorer {
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.1
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 400
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")))
	}

	return &OpenAIScorer{
		opts:   opts,
		logger: logger.With().Str("component", "scorer").Logger(),
		client: openai.NewClient(clientOpts...),
	}
}

type verdict struct {
	Relevant        bool            `json:"relevant"`
	Confidence      float64         `json:"confidence"`
	Assets          []string        `json:"assets"`
	SentimentImpact json.RawMessage `json:"sentiment_impact"`
	Thesis          string          `json:"thesis"`
}

// Score asks the model for a verdict on a single post.
func (s *OpenAIScorer) Score(ctx context.Context, post storage.Post) (*storage.Prediction, error) {
	if s.opts.APIKey == "" {
		return nil, errors.New("llm api key not configured")
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Platform: %s\nAuthor: %s\nPosted: %s\n\n%s",
		post.Platform, post.Author, post.PostedAt.Format(time.RFC3339), post.Body)

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.opts.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(s.opts.Temperature),
		MaxTokens:   openai.Int(s.opts.MaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)

	var v verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("parse verdict: %w", err)
	}

	if !v.Relevant {
		s.logger.Debug().Str("source_id", post.SourceID).Msg("帖子与市场无关, 跳过")
		return nil, nil
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, fmt.Errorf("confidence out of range: %v", v.Confidence)
	}

	return &storage.Prediction{
		PostID:     post.ID,
		Preview:    truncatePreview(post.Body),
		Confidence: decimal.NewFromFloat(v.Confidence),
		Assets:     v.Assets,
		Sentiment:  filter.DeriveSentiment(v.SentimentImpact),
		Thesis:     v.Thesis,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func truncatePreview(body string) string {
	runes := []rune(body)
	if len(runes) <= previewMaxRunes {
		return body
	}
	return string(runes[:previewMaxRunes])
}

// stripCodeFence tolerates models that wrap JSON in a markdown fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var _ Scorer = (*OpenAIScorer)(nil)
