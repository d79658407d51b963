package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const smsMaxBodyRunes = 320

// SMSOptions parameterise the SMS gateway sender.
type SMSOptions struct {
	BaseURL string
	Token   string
	From    string
	Timeout time.Duration
}

// SMSSender delivers alerts through a JSON SMS gateway.
type SMSSender struct {
	opts    SMSOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewSMSSender constructs an SMS gateway sender.
func NewSMSSender(opts SMSOptions, logger zerolog.Logger) *SMSSender {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMSSender{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  logger.With().Str("component", "alert_sms").Logger(),
	}
}

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

// Send posts a truncated alert text to the gateway.
func (s *SMSSender) Send(ctx context.Context, target string, alert Alert) error {
	if s.baseURL == "" {
		return fmt.Errorf("sms gateway base_url not configured")
	}

	text := renderText(alert)
	if runes := []rune(text); len(runes) > smsMaxBodyRunes {
		text = string(runes[:smsMaxBodyRunes])
	}

	body, err := json.Marshal(smsRequest{To: target, From: s.opts.From, Body: text})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if len(payload) > 0 {
			return fmt.Errorf("sms gateway error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		}
		return fmt.Errorf("sms gateway error (%d)", resp.StatusCode)
	}

	s.logger.Debug().
		Str("to", target).
		Int64("prediction_id", alert.PredictionID).
		Msg("告警已发送 (SMS)")
	return nil
}

var _ Sender = (*SMSSender)(nil)
