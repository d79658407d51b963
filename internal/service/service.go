package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pulse-alerts/internal/config"
	"pulse-alerts/internal/dispatch"
	"pulse-alerts/internal/feed"
	"pulse-alerts/internal/resilience"
	"pulse-alerts/internal/scheduler"
	"pulse-alerts/internal/scoring"
	"pulse-alerts/internal/storage"
)

// Service orchestrates ingestion, scoring, and alert dispatch.
type Service struct {
	scheduler  *scheduler.Scheduler
	feed       feed.Source
	scorer     scoring.Scorer
	posts      storage.PostStore
	preds      storage.PredictionStore
	alerts     storage.AlertStore
	dispatcher *dispatch.Coordinator
	logger     zerolog.Logger

	feedBreaker *resilience.CircuitBreaker
	feedRetry   *resilience.RetryPolicy
	llmLimiter  *resilience.RateLimiter
	llmBreaker  *resilience.CircuitBreaker
	llmRetry    *resilience.RetryPolicy

	bootstrap time.Duration
	retention time.Duration
	lastFetch time.Time
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the monitoring service. alerts may be nil to disable
// retention pruning.
func New(cfg *config.Config, sched *scheduler.Scheduler, src feed.Source, scorer scoring.Scorer, posts storage.PostStore, preds storage.PredictionStore, alerts storage.AlertStore, dispatcher *dispatch.Coordinator, logger zerolog.Logger) *Service {
	bootstrap := cfg.Feed.BootstrapWindow
	if bootstrap <= 0 {
		bootstrap = 5 * time.Minute
	}

	var locker storage.AdvisoryLocker
	if l, ok := posts.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		feed:       src,
		scorer:     scorer,
		posts:      posts,
		preds:      preds,
		alerts:     alerts,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "service").Logger(),
		feedBreaker: resilience.NewCircuitBreaker(resilience.BreakerOptions{
			Name:             "feed",
			FailureThreshold: cfg.Feed.Breaker.FailureThreshold,
			RecoveryTimeout:  cfg.Feed.Breaker.RecoveryTimeout,
		}, logger),
		feedRetry: resilience.NewRetryPolicy(resilience.RetryOptions{
			MaxRetries:        cfg.Feed.Retry.MaxRetries,
			InitialDelay:      cfg.Feed.Retry.InitialDelay,
			BackoffMultiplier: cfg.Feed.Retry.BackoffMultiplier,
		}, logger),
		llmLimiter: resilience.NewRateLimiter(cfg.LLM.RateLimit.MaxCalls, cfg.LLM.RateLimit.Window),
		llmBreaker: resilience.NewCircuitBreaker(resilience.BreakerOptions{
			Name:             "llm",
			FailureThreshold: cfg.LLM.Breaker.FailureThreshold,
			RecoveryTimeout:  cfg.LLM.Breaker.RecoveryTimeout,
		}, logger),
		llmRetry: resilience.NewRetryPolicy(resilience.RetryOptions{
			MaxRetries:        cfg.LLM.Retry.MaxRetries,
			InitialDelay:      cfg.LLM.Retry.InitialDelay,
			BackoffMultiplier: cfg.LLM.Retry.BackoffMultiplier,
		}, logger),
		bootstrap: bootstrap,
		retention: cfg.Dispatch.AlertRetention,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the periodic cycle loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle 执行单个周期: 抓取帖子, LLM 打分, 派发告警。
func (s *Service) ProcessCycle(ctx context.Context, cycleStart time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle_start", cycleStart).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	// Ingestion failures must not prevent dispatch of already-scored
	// predictions.
	if err := s.ingest(ctx); err != nil {
		s.logger.Error().Err(err).Time("cycle_start", cycleStart).Msg("ingestion failed")
	}

	stats, err := s.dispatcher.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("dispatch cycle: %w", err)
	}

	s.pruneAlerts(ctx)

	s.logger.Info().Time("cycle_start", cycleStart).
		Int("predictions_found", stats.PredictionsFound).
		Int("sent", stats.Sent).
		Int("failed", stats.Failed).
		Int("filtered", stats.Filtered).
		Msg("cycle complete")

	return nil
}

func (s *Service) pruneAlerts(ctx context.Context) {
	if s.alerts == nil || s.retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-s.retention)
	if err := s.alerts.DeleteAlertsBefore(ctx, cutoff); err != nil {
		s.logger.Warn().Err(err).Msg("alert retention prune failed")
	}
}

func (s *Service) ingest(ctx context.Context) error {
	since := s.lastFetch
	if since.IsZero() {
		since = time.Now().UTC().Add(-s.bootstrap)
	}
	fetchedAt := time.Now().UTC()

	var posts []storage.Post
	err := s.feedBreaker.Call(ctx, func(ctx context.Context) error {
		return s.feedRetry.Execute(ctx, func(ctx context.Context) error {
			var ferr error
			posts, ferr = s.feed.FetchSince(ctx, since)
			return ferr
		})
	})
	if err != nil {
		return fmt.Errorf("fetch posts: %w", err)
	}
	s.lastFetch = fetchedAt

	for _, post := range posts {
		id, inserted, err := s.posts.InsertPost(ctx, post)
		if err != nil {
			s.logger.Warn().Err(err).Str("source_id", post.SourceID).Msg("failed to persist post")
			continue
		}
		if !inserted {
			continue
		}
		post.ID = id
		s.scorePost(ctx, post)
	}

	return nil
}

func (s *Service) scorePost(ctx context.Context, post storage.Post) {
	if s.scorer == nil {
		return
	}

	if err := s.llmLimiter.Acquire(ctx); err != nil {
		s.logger.Warn().Err(err).Str("source_id", post.SourceID).Msg("llm rate limit wait aborted")
		return
	}

	var pred *storage.Prediction
	err := s.llmBreaker.Call(ctx, func(ctx context.Context) error {
		return s.llmRetry.Execute(ctx, func(ctx context.Context) error {
			var serr error
			pred, serr = s.scorer.Score(ctx, post)
			return serr
		})
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("source_id", post.SourceID).Msg("scoring failed")
		return
	}
	if pred == nil {
		return
	}

	if _, err := s.preds.InsertPrediction(ctx, *pred); err != nil {
		s.logger.Error().Err(err).Str("source_id", post.SourceID).Msg("failed to persist prediction")
		return
	}

	s.logger.Info().Str("source_id", post.SourceID).
		Str("confidence", pred.Confidence.String()).
		Strs("assets", pred.Assets).
		Str("sentiment", pred.Sentiment).
		Msg("prediction recorded")
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
