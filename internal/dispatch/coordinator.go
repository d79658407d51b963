// Package dispatch turns newly scored predictions into per-subscriber
// notifications, applying the resilience primitives around every channel
// send.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pulse-alerts/internal/alerting"
	"pulse-alerts/internal/filter"
	"pulse-alerts/internal/resilience"
	"pulse-alerts/internal/storage"
)

// Collaborator contracts. *storage.Store satisfies all of them; tests use
// in-memory fakes.
type (
	// PredictionSource provides predictions created at or after a point in
	// time, oldest first.
	PredictionSource interface {
		ListPredictionsSince(ctx context.Context, since time.Time) ([]storage.Prediction, error)
	}

	// SubscriberSource lists the subscribers eligible for dispatch.
	SubscriberSource interface {
		ListActiveSubscribers(ctx context.Context) ([]storage.Subscriber, error)
	}

	// OutcomeRecorder persists per-subscriber send outcomes.
	OutcomeRecorder interface {
		RecordSendSuccess(ctx context.Context, subscriberID int64, at time.Time) error
		RecordSendFailure(ctx context.Context, subscriberID int64, reason string) error
	}

	// CursorStore persists the polling cursor bounding each cycle's fetch.
	CursorStore interface {
		GetLastCheck(ctx context.Context) (*time.Time, error)
		SetLastCheck(ctx context.Context, t time.Time) error
	}

	// AlertAuditor records delivered alerts. Optional; nil disables auditing.
	AlertAuditor interface {
		InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error)
	}
)

// ChannelPipeline bundles one channel's sender with the shared resilience
// instances guarding it. One pipeline per channel type, shared by every
// subscriber on that channel.
type ChannelPipeline struct {
	Sender  alerting.Sender
	Limiter *resilience.RateLimiter
	Breaker *resilience.CircuitBreaker
	Retry   *resilience.RetryPolicy
}

// Options tune coordinator behaviour.
type Options struct {
	// BootstrapWindow bounds the first fetch when no cursor exists, so a
	// fresh deployment does not replay the whole backlog.
	BootstrapWindow time.Duration
	// SendTimeout caps one wrapped send so a slow subscriber cannot stall
	// the cycle indefinitely.
	SendTimeout time.Duration
}

// CycleStats aggregates one cycle's counters for operators.
type CycleStats struct {
	PredictionsFound int
	Sent             int
	Failed           int
	// Filtered counts quiet-hours subscriber skips and rate-limit
	// deferrals. Predictions that merely fail a preference match are not
	// sent and not counted.
	Filtered int
}

// Coordinator drives one dispatch cycle: fetch new predictions since the
// cursor, filter per subscriber, send through the channel pipelines, record
// outcomes, then advance the cursor.
type Coordinator struct {
	preds    PredictionSource
	subs     SubscriberSource
	recorder OutcomeRecorder
	cursor   CursorStore
	audit    AlertAuditor
	channels map[string]*ChannelPipeline
	opts     Options
	now      func() time.Time
	logger   zerolog.Logger
}

// NewCoordinator constructs a coordinator. audit may be nil.
func NewCoordinator(
	preds PredictionSource,
	subs SubscriberSource,
	recorder OutcomeRecorder,
	cursor CursorStore,
	audit AlertAuditor,
	channels map[string]*ChannelPipeline,
	opts Options,
	logger zerolog.Logger,
) *Coordinator {
	if opts.BootstrapWindow <= 0 {
		opts.BootstrapWindow = 5 * time.Minute
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	return &Coordinator{
		preds:    preds,
		subs:     subs,
		recorder: recorder,
		cursor:   cursor,
		audit:    audit,
		channels: channels,
		opts:     opts,
		now:      time.Now,
		logger:   logger.With().Str("component", "dispatch").Logger(),
	}
}

// RunCycle executes one dispatch cycle. Cycle-fatal errors (cursor or
// prediction fetch unavailable) abort with the cursor unadvanced, preserving
// at-least-once semantics for the next attempt; per-subscriber send failures
// never do.
func (c *Coordinator) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	cycleNow := c.now()

	last, err := c.cursor.GetLastCheck(ctx)
	if err != nil {
		return stats, fmt.Errorf("read cursor: %w", err)
	}
	windowStart := cycleNow.Add(-c.opts.BootstrapWindow)
	if last != nil {
		windowStart = *last
	}

	predictions, err := c.preds.ListPredictionsSince(ctx, windowStart)
	if err != nil {
		return stats, fmt.Errorf("list predictions: %w", err)
	}
	stats.PredictionsFound = len(predictions)

	subscribers, err := c.subs.ListActiveSubscribers(ctx)
	if err != nil {
		return stats, fmt.Errorf("list subscribers: %w", err)
	}

	for _, sub := range subscribers {
		c.processSubscriber(ctx, sub, predictions, cycleNow, &stats)
	}

	if err := c.cursor.SetLastCheck(ctx, cycleNow); err != nil {
		return stats, fmt.Errorf("advance cursor: %w", err)
	}

	c.logger.Info().
		Time("window_start", windowStart).
		Int("predictions_found", stats.PredictionsFound).
		Int("sent", stats.Sent).
		Int("failed", stats.Failed).
		Int("filtered", stats.Filtered).
		Msg("dispatch cycle complete")
	return stats, nil
}

func (c *Coordinator) processSubscriber(ctx context.Context, sub storage.Subscriber, predictions []storage.Prediction, cycleNow time.Time, stats *CycleStats) {
	if filter.InQuietHours(sub.Preferences, cycleNow) {
		stats.Filtered++
		c.logger.Debug().Int64("subscriber", sub.ID).Msg("subscriber in quiet hours; skipped")
		return
	}

	pipe := c.channels[sub.ChannelType]
	if pipe == nil {
		stats.Failed++
		reason := fmt.Sprintf("no sender configured for channel %q", sub.ChannelType)
		c.logger.Warn().Int64("subscriber", sub.ID).Str("channel", sub.ChannelType).Msg("subscriber on unconfigured channel")
		if err := c.recorder.RecordSendFailure(ctx, sub.ID, reason); err != nil {
			c.logger.Error().Err(err).Int64("subscriber", sub.ID).Msg("failed to record send failure")
		}
		return
	}

	// Predictions go out in fetch order; the coordinator never re-sorts.
	for _, p := range predictions {
		if !filter.Matches(p, sub.Preferences) {
			continue
		}
		c.sendOne(ctx, pipe, sub, p, cycleNow, stats)
	}
}

func (c *Coordinator) sendOne(ctx context.Context, pipe *ChannelPipeline, sub storage.Subscriber, p storage.Prediction, cycleNow time.Time, stats *CycleStats) {
	// Saturation is not an error: the pair is dropped for this cycle and
	// re-evaluated next cycle while the prediction stays in the fetch
	// window. It must not reach the breaker or consume a retry.
	if pipe.Limiter != nil && !pipe.Limiter.TryAcquire() {
		stats.Filtered++
		c.logger.Debug().
			Int64("subscriber", sub.ID).
			Int64("prediction", p.ID).
			Msg("channel rate limit reached; deferred to next cycle")
		return
	}

	alert := alerting.Alert{
		PredictionID: p.ID,
		Preview:      p.Preview,
		Confidence:   p.Confidence,
		Assets:       p.Assets,
		Sentiment:    p.Sentiment,
		Thesis:       p.Thesis,
		CreatedAt:    p.CreatedAt,
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()

	// Breaker outside retry: an open circuit fails fast without consuming
	// any retry attempt; exhausted retries count as one breaker failure.
	err := pipe.Breaker.Call(sendCtx, func(ctx context.Context) error {
		return pipe.Retry.Execute(ctx, func(ctx context.Context) error {
			return pipe.Sender.Send(ctx, sub.ChannelID, alert)
		})
	})

	if err != nil {
		stats.Failed++
		c.logger.Warn().
			Err(err).
			Bool("breaker_open", errors.Is(err, resilience.ErrOpen)).
			Int64("subscriber", sub.ID).
			Int64("prediction", p.ID).
			Msg("alert send failed")
		if recErr := c.recorder.RecordSendFailure(ctx, sub.ID, err.Error()); recErr != nil {
			c.logger.Error().Err(recErr).Int64("subscriber", sub.ID).Msg("failed to record send failure")
		}
		return
	}

	stats.Sent++
	if recErr := c.recorder.RecordSendSuccess(ctx, sub.ID, cycleNow); recErr != nil {
		c.logger.Error().Err(recErr).Int64("subscriber", sub.ID).Msg("failed to record send success")
	}
	if c.audit != nil {
		record := storage.AlertRecord{
			PredictionID: p.ID,
			SubscriberID: sub.ID,
			Channel:      sub.ChannelType,
		}
		if _, auditErr := c.audit.InsertAlert(ctx, record); auditErr != nil {
			c.logger.Error().Err(auditErr).Int64("prediction", p.ID).Msg("failed to persist alert record")
		}
	}
}
