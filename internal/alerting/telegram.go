package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TelegramSender 通过 Telegram Bot API 推送消息。
// A token-bucket pacer keeps the bot under the Bot API global send limit;
// this is transport pacing, separate from the per-channel dispatch limiter.
type TelegramSender struct {
	botToken string
	baseURL  string
	client   *http.Client
	pace     *rate.Limiter
	logger   zerolog.Logger
}

// TelegramOptions parameterise the Telegram sender.
type TelegramOptions struct {
	BotToken          string
	APIBase           string
	Timeout           time.Duration
	MessagesPerSecond float64
}

// NewTelegramSender constructs a Telegram sender.
func NewTelegramSender(opts TelegramOptions, logger zerolog.Logger) *TelegramSender {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := opts.APIBase
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	var pace *rate.Limiter
	if opts.MessagesPerSecond > 0 {
		pace = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), 1)
	}

	return &TelegramSender{
		botToken: opts.BotToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		pace:     pace,
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Send 调用 sendMessage API 将告警推送到指定 chat。
func (s *TelegramSender) Send(ctx context.Context, target string, alert Alert) error {
	if s.pace != nil {
		if err := s.pace.Wait(ctx); err != nil {
			return err
		}
	}

	payload := map[string]string{
		"chat_id": target,
		"text":    renderText(alert),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	s.logger.Debug().
		Str("chat_id", target).
		Int64("prediction_id", alert.PredictionID).
		Msg("告警已发送 (Telegram)")
	return nil
}

var _ Sender = (*TelegramSender)(nil)
