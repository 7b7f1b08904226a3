package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"buybox-watcher/internal/alerting"
	"buybox-watcher/internal/config"
	"buybox-watcher/internal/queue"
	"buybox-watcher/internal/reconcile"
	"buybox-watcher/internal/reports"
	"buybox-watcher/internal/resolver"
	"buybox-watcher/internal/router"
	"buybox-watcher/internal/service"
	"buybox-watcher/internal/storage"
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

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newRouter(store *storage.Store) *router.Router {
	lookup := resolver.NewPricingLookup(resolver.PricingLookupOptions{
		BaseURL:        a.Config.Resolver.BaseURL,
		Timeout:        a.Config.Resolver.RequestTimeout,
		UserAgent:      a.Config.Resolver.UserAgent,
		RequestsPerSec: a.Config.Resolver.RequestsPerSec,
	}, store, a.Logger)

	downloader := reports.NewHTTPDownloader(reports.HTTPDownloaderOptions{
		BaseURL:   a.Config.Reports.BaseURL,
		Timeout:   a.Config.Reports.RequestTimeout,
		UserAgent: a.Config.Resolver.UserAgent,
	}, a.Logger)
	downloader.Register(reports.TypeSellerFeedback, a.sellerFeedbackResult(store))

	reconciler := reconcile.New(store, store, a.Logger)

	return router.New(
		router.Options{MarketplaceID: a.Config.Marketplace.ID},
		router.Stores{
			Sellers:       store,
			Subscriptions: store,
			Listings:      store,
			Notifications: store,
			Reports:       store,
		},
		reconciler,
		lookup,
		downloader,
		a.newNotifier(),
		a.Logger,
	)
}

// sellerFeedbackResult applies a downloaded seller feedback report to the
// seller row it belongs to.
func (a *App) sellerFeedbackResult(store *storage.Store) reports.ResultFunc {
	return func(ctx context.Context, report storage.Report, body []byte) error {
		var doc struct {
			FeedbackRating *string `json:"feedbackRating"`
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			return fmt.Errorf("decode feedback report: %w", err)
		}
		if doc.FeedbackRating == nil {
			a.Logger.Warn().Str("report_id", report.ExternalReportID).Msg("feedback report carries no rating")
			return nil
		}
		rating, err := decimal.NewFromString(*doc.FeedbackRating)
		if err != nil {
			return fmt.Errorf("parse feedback rating: %w", err)
		}
		return store.UpdateSellerFeedbackRating(ctx, report.SellerID, rating)
	}
}

// Run executes the long-running notification processing service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the service cannot run")
	}
	defer closeStore()

	gateway, err := queue.NewSQS(ctx, queue.SQSOptions{
		QueueURL: a.Config.Queue.URL,
		Region:   a.Config.Queue.Region,
		Endpoint: a.Config.Queue.Endpoint,
	}, a.Logger)
	if err != nil {
		return err
	}

	rtr := a.newRouter(store)
	svc := service.New(service.Options{
		MaxMessages: a.Config.Queue.MaxMessages,
		WaitTime:    a.Config.Queue.WaitTime,
		Workers:     a.Config.Queue.Workers,
		IdleBackoff: a.Config.Queue.IdleBackoff,
	}, gateway, rtr, a.Logger)

	a.Logger.Info().Str("queue", a.Config.Queue.URL).Msg("starting notification service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("notification service stopped")
	return nil
}

// Purge empties the notification queue. Destructive; intended for test
// environments only.
func (a *App) Purge(ctx context.Context) error {
	gateway, err := queue.NewSQS(ctx, queue.SQSOptions{
		QueueURL: a.Config.Queue.URL,
		Region:   a.Config.Queue.Region,
		Endpoint: a.Config.Queue.Endpoint,
	}, a.Logger)
	if err != nil {
		return err
	}
	if err := gateway.Purge(ctx); err != nil {
		return err
	}
	a.Logger.Info().Str("queue", a.Config.Queue.URL).Msg("queue purged")
	return nil
}

// ExportOptions hold parameters for exporting buybox activity history.
type ExportOptions struct {
	ASIN      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	Unviewed bool
}

// SimulateOptions configure one-shot payload processing.
type SimulateOptions struct {
	PayloadPath string
}
