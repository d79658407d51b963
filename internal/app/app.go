package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pulse-alerts/internal/alerting"
	"pulse-alerts/internal/config"
	"pulse-alerts/internal/dispatch"
	"pulse-alerts/internal/feed"
	"pulse-alerts/internal/resilience"
	"pulse-alerts/internal/scheduler"
	"pulse-alerts/internal/scoring"
	"pulse-alerts/internal/service"
	"pulse-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFeed() feed.Source {
	return feed.NewClient(feed.ClientOptions{
		BaseURL:   a.Config.Feed.BaseURL,
		APIKey:    a.Config.Feed.APIKey,
		Platform:  a.Config.Feed.Platform,
		PageLimit: a.Config.Feed.PageLimit,
		Timeout:   a.Config.Feed.RequestTimeout,
		UserAgent: a.Config.Feed.UserAgent,
	}, a.Logger)
}

func (a *App) newScorer() scoring.Scorer {
	return scoring.NewOpenAIScorer(scoring.OpenAIOptions{
		APIKey:      a.Config.LLM.APIKey,
		BaseURL:     a.Config.LLM.BaseURL,
		Model:       a.Config.LLM.Model,
		Temperature: a.Config.LLM.Temperature,
		MaxTokens:   a.Config.LLM.MaxTokens,
		Timeout:     a.Config.LLM.RequestTimeout,
	}, a.Logger)
}

// newPipelines builds one delivery pipeline per enabled channel. Each channel
// carries its own limiter and breaker so a broken transport cannot starve the
// others.
func (a *App) newPipelines() map[string]*dispatch.ChannelPipeline {
	pipelines := make(map[string]*dispatch.ChannelPipeline)

	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		sender := alerting.NewTelegramSender(alerting.TelegramOptions{
			BotToken:          cfg.BotToken,
			APIBase:           cfg.APIBase,
			Timeout:           cfg.RequestTimeout,
			MessagesPerSecond: cfg.MessagesPerSecond,
		}, a.Logger)
		pipelines["telegram"] = a.newPipeline("telegram", sender)
	}

	if a.Config.Alerting.Email.Enabled {
		cfg := a.Config.Alerting.Email
		sender := alerting.NewEmailSender(alerting.EmailOptions{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
		}, a.Logger)
		pipelines["email"] = a.newPipeline("email", sender)
	}

	if a.Config.Alerting.SMS.Enabled {
		cfg := a.Config.Alerting.SMS
		sender := alerting.NewSMSSender(alerting.SMSOptions{
			BaseURL: cfg.BaseURL,
			Token:   cfg.APIKey,
			From:    cfg.FromNumber,
			Timeout: cfg.RequestTimeout,
		}, a.Logger)
		pipelines["sms"] = a.newPipeline("sms", sender)
	}

	return pipelines
}

func (a *App) newPipeline(name string, sender alerting.Sender) *dispatch.ChannelPipeline {
	cfg := a.Config.Alerting
	return &dispatch.ChannelPipeline{
		Sender:  sender,
		Limiter: resilience.NewRateLimiter(cfg.RateLimit.MaxCalls, cfg.RateLimit.Window),
		Breaker: resilience.NewCircuitBreaker(resilience.BreakerOptions{
			Name:             name,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		}, a.Logger),
		Retry: resilience.NewRetryPolicy(resilience.RetryOptions{
			MaxRetries:        cfg.Retry.MaxRetries,
			InitialDelay:      cfg.Retry.InitialDelay,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		}, a.Logger),
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.Config.Dispatch.DeactivateAfter)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newDispatcher(store *storage.Store) *dispatch.Coordinator {
	return dispatch.NewCoordinator(store, store, store, store, store,
		a.newPipelines(),
		dispatch.Options{
			BootstrapWindow: a.Config.Dispatch.BootstrapWindow,
			SendTimeout:     a.Config.Dispatch.SendTimeout,
		}, a.Logger)
}

// Run executes the long-running watcher service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the watcher requires persistence")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToStart,
		RunImmediately: a.Config.Scheduler.RunImmediately,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	dispatcher := a.newDispatcher(store)
	svc := service.New(a.Config, sched, a.newFeed(), a.newScorer(), store, store, store, dispatcher, a.Logger)

	a.Logger.Info().Msg("starting watcher service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("watcher service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical predictions.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// RescoreOptions configure the rescore job.
type RescoreOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}
