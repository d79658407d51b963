package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pulse-alerts/internal/dispatch"
	"pulse-alerts/internal/storage"
)

// SimulateOptions describe the synthetic alert to deliver.
type SimulateOptions struct {
	Channel    string
	Target     string
	Confidence float64
	Assets     []string
	Sentiment  string
	Thesis     string
}

// SimulateAlert 构造一条合成预测并走完整的派发管线, 用于验证通道配置。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	pipelines := a.newPipelines()
	if len(pipelines) == 0 {
		return errors.New("未配置任何告警通道")
	}
	if _, ok := pipelines[opts.Channel]; !ok {
		return fmt.Errorf("通道 %q 未启用", opts.Channel)
	}

	now := time.Now().UTC()
	preds := &staticPredictionSource{predictions: []storage.Prediction{{
		ID:         1,
		PostID:     1,
		Preview:    "simulated prediction",
		Confidence: decimal.NewFromFloat(opts.Confidence),
		Assets:     opts.Assets,
		Sentiment:  opts.Sentiment,
		Thesis:     opts.Thesis,
		CreatedAt:  now,
	}}}
	subs := &staticSubscriberSource{subscribers: []storage.Subscriber{{
		ID:          1,
		ChannelID:   opts.Target,
		ChannelType: opts.Channel,
		IsActive:    true,
	}}}

	coordinator := dispatch.NewCoordinator(preds, subs, noopRecorder{}, &memoryCursor{}, nil,
		pipelines,
		dispatch.Options{
			BootstrapWindow: a.Config.Dispatch.BootstrapWindow,
			SendTimeout:     a.Config.Dispatch.SendTimeout,
		}, a.Logger)

	stats, err := coordinator.RunCycle(ctx)
	if err != nil {
		return err
	}
	if stats.Sent == 0 {
		return fmt.Errorf("模拟告警未送达 (failed=%d, filtered=%d)", stats.Failed, stats.Filtered)
	}
	return nil
}

type staticPredictionSource struct {
	predictions []storage.Prediction
}

func (s *staticPredictionSource) ListPredictionsSince(context.Context, time.Time) ([]storage.Prediction, error) {
	return s.predictions, nil
}

type staticSubscriberSource struct {
	subscribers []storage.Subscriber
}

func (s *staticSubscriberSource) ListActiveSubscribers(context.Context) ([]storage.Subscriber, error) {
	return s.subscribers, nil
}

type noopRecorder struct{}

func (noopRecorder) RecordSendSuccess(context.Context, int64, time.Time) error { return nil }

func (noopRecorder) RecordSendFailure(context.Context, int64, string) error { return nil }

type memoryCursor struct {
	last *time.Time
}

func (c *memoryCursor) GetLastCheck(context.Context) (*time.Time, error) { return c.last, nil }

func (c *memoryCursor) SetLastCheck(_ context.Context, t time.Time) error {
	c.last = &t
	return nil
}
