// Package router classifies inbound notifications and dispatches them to the
// appropriate handler with a uniform outcome contract.
package router

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rs/zerolog"

	"buybox-watcher/internal/alerting"
	"buybox-watcher/internal/notification"
	"buybox-watcher/internal/reconcile"
	"buybox-watcher/internal/reports"
	"buybox-watcher/internal/resolver"
	"buybox-watcher/internal/storage"
	"buybox-watcher/internal/summary"
)

// Outcome is the closed set of dispatch results.
type Outcome int

const (
	// OutcomeProcessed finalises the record and acknowledges the message.
	OutcomeProcessed Outcome = iota
	// OutcomeDropped acknowledges the message (retrying can never help) but
	// records the drop reason for audit.
	OutcomeDropped
	// OutcomeDeferred leaves the record and the message untouched so the
	// queue redelivers once the blocking dependency recovers.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeDropped:
		return "dropped"
	case OutcomeDeferred:
		return "deferred"
	}
	return "unknown"
}

// Result pairs an outcome with its reason.
type Result struct {
	Outcome Outcome
	Reason  string
}

// Processed reports successful handling.
func Processed() Result { return Result{Outcome: OutcomeProcessed} }

// Dropped reports a permanent failure.
func Dropped(reason string) Result { return Result{Outcome: OutcomeDropped, Reason: reason} }

// Deferred reports a transient failure.
func Deferred(reason string) Result { return Result{Outcome: OutcomeDeferred, Reason: reason} }

// Stores bundles the persistence surface the router needs.
type Stores struct {
	Sellers       storage.SellerStore
	Subscriptions storage.SubscriptionStore
	Listings      storage.ListingStore
	Notifications storage.NotificationStore
	Reports       storage.ReportStore
}

// Options tune router behaviour.
type Options struct {
	// MarketplaceID is the single designated marketplace; offer events for
	// any other marketplace are dropped without mutation.
	MarketplaceID string
}

// Router drives the per-message state machine: record the notification,
// dispatch by type, persist the terminal status. Acknowledgement is the
// caller's job and must follow the terminal status, never precede it.
type Router struct {
	opts       Options
	stores     Stores
	reconciler *reconcile.Reconciler
	resolver   resolver.ListingResolver
	downloader reports.Downloader
	notifier   alerting.Notifier
	logger     zerolog.Logger
}

// New constructs a Router. notifier may be nil.
func New(opts Options, stores Stores, rec *reconcile.Reconciler, res resolver.ListingResolver, dl reports.Downloader, notifier alerting.Notifier, logger zerolog.Logger) *Router {
	return &Router{
		opts:       opts,
		stores:     stores,
		reconciler: rec,
		resolver:   res,
		downloader: dl,
		notifier:   notifier,
		logger:     logger.With().Str("component", "router").Logger(),
	}
}

var supportedTypes = map[string]bool{
	notification.TypeOfferChanged:     true,
	notification.TypePricingHealth:    true,
	notification.TypeReportFinished:   true,
	notification.TypeListingLifecycle: true,
}

// Handle processes one raw message body end to end.
func (r *Router) Handle(ctx context.Context, body []byte) Result {
	env, err := notification.Parse(body)
	if err != nil {
		r.logger.Warn().Err(err).Msg("dropping unparseable message")
		return Dropped("malformed payload")
	}

	sub, err := r.stores.Subscriptions.GetSubscriptionByType(ctx, env.Type)
	if err != nil {
		r.logger.Error().Err(err).Str("type", env.Type).Msg("subscription lookup failed")
		return Deferred("subscription lookup failed")
	}

	rec := &storage.Notification{
		EventID: env.EventID,
		EventAt: env.EventAt,
		Payload: env.Raw,
		Status:  storage.NotificationProcessing,
	}
	if sub != nil {
		rec.SubscriptionID = sub.ID
	}
	if err := r.stores.Notifications.CreateNotification(ctx, rec); err != nil {
		r.logger.Error().Err(err).Str("type", env.Type).Msg("failed to record notification")
		return Deferred("notification record failed")
	}

	var result Result
	switch {
	case !supportedTypes[env.Type]:
		r.logger.Warn().Str("type", env.Type).Msg("unsupported notification type")
		result = Dropped("unsupported type")
	case sub == nil:
		result = Dropped("no subscription for type")
	default:
		result = r.dispatch(ctx, env, rec.ID)
	}

	return r.finalize(ctx, rec, env.Type, result)
}

func (r *Router) dispatch(ctx context.Context, env *notification.Envelope, recID uuid.UUID) Result {
	switch env.Type {
	case notification.TypeOfferChanged:
		return r.handleOfferChanged(ctx, env, recID)
	case notification.TypePricingHealth:
		return r.handlePricingHealth(ctx, env, recID)
	case notification.TypeListingLifecycle:
		return r.handleListingLifecycle(ctx, env)
	case notification.TypeReportFinished:
		return r.handleReportFinished(ctx, env)
	default:
		return Dropped("unsupported type")
	}
}

// finalize persists the terminal status for Processed/Dropped outcomes. A
// Deferred outcome leaves the record at PROCESSING so redelivery can retry.
func (r *Router) finalize(ctx context.Context, rec *storage.Notification, typ string, result Result) Result {
	event := r.logger.Info()
	switch result.Outcome {
	case OutcomeProcessed:
		if err := r.stores.Notifications.MarkNotification(ctx, rec.ID, storage.NotificationProcessed, nil); err != nil {
			r.logger.Error().Err(err).Str("type", typ).Msg("failed to finalize notification")
			return Deferred("finalize failed")
		}
	case OutcomeDropped:
		status := storage.NotificationDropped
		if result.Reason == "unsupported type" {
			status = storage.NotificationUnsupported
		}
		reason := result.Reason
		if err := r.stores.Notifications.MarkNotification(ctx, rec.ID, status, &reason); err != nil {
			r.logger.Error().Err(err).Str("type", typ).Msg("failed to finalize notification")
			return Deferred("finalize failed")
		}
		event = r.logger.Warn().Str("reason", result.Reason)
	case OutcomeDeferred:
		event = r.logger.Debug().Str("reason", result.Reason)
	}

	event.Str("type", typ).Str("event_id", rec.EventID).Int("outcome", int(result.Outcome)).Msg("notification handled")
	return result
}

func (r *Router) handleOfferChanged(ctx context.Context, env *notification.Envelope, recID uuid.UUID) Result {
	payload, err := env.OfferChanged()
	if err != nil {
		return Dropped("malformed offer-changed payload")
	}

	seller, result := r.resolveSeller(ctx, payload.SellerID)
	if seller == nil {
		return result
	}

	if payload.Trigger.MarketplaceID != r.opts.MarketplaceID {
		return Dropped("marketplace not tracked")
	}

	listing, result := r.resolveListing(ctx, seller, payload.Trigger.ASIN)
	if listing == nil {
		return result
	}

	stats := summary.Normalize(payload.Summary, storage.Channels)
	passResult, err := r.reconciler.Reconcile(ctx, listing, seller, reconcile.PassInput{
		NotificationID: recID,
		Entries:        payload.Offers,
		Stats:          stats,
		EventAt:        env.EventAt,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("asin", listing.ASIN).Msg("reconciliation failed")
		return Deferred("reconciliation failed")
	}

	if r.notifier != nil {
		for _, activity := range passResult.Activities {
			note := alerting.Notification{
				ASIN:     listing.ASIN,
				Channel:  string(activity.Channel),
				Event:    activity.Event,
				OldPrice: activity.OldLandedPrice,
				NewPrice: activity.NewLandedPrice,
				EventAt:  activity.EventAt,
			}
			if err := r.notifier.Notify(ctx, note); err != nil {
				r.logger.Error().Err(err).Str("asin", listing.ASIN).Msg("failed to dispatch buybox alert")
			}
		}
	}

	return Processed()
}

func (r *Router) handlePricingHealth(ctx context.Context, env *notification.Envelope, recID uuid.UUID) Result {
	payload, err := env.PricingHealth()
	if err != nil {
		return Dropped("malformed pricing-health payload")
	}

	seller, result := r.resolveSeller(ctx, payload.SellerID)
	if seller == nil {
		return result
	}

	if payload.Trigger.MarketplaceID != r.opts.MarketplaceID {
		return Dropped("marketplace not tracked")
	}

	listing, result := r.resolveListing(ctx, seller, payload.Trigger.ASIN)
	if listing == nil {
		return result
	}

	if err := r.reconciler.ApplyPricePatch(ctx, listing, seller, payload, recID, env.EventAt); err != nil {
		r.logger.Error().Err(err).Str("asin", listing.ASIN).Msg("price patch failed")
		return Deferred("price patch failed")
	}
	return Processed()
}

func (r *Router) handleListingLifecycle(ctx context.Context, env *notification.Envelope) Result {
	payload, err := env.ListingLifecycle()
	if err != nil {
		return Dropped("malformed lifecycle payload")
	}

	seller, result := r.resolveSeller(ctx, payload.SellerID)
	if seller == nil {
		return result
	}

	marketplaceID := payload.MarketplaceID
	if marketplaceID == "" {
		marketplaceID = seller.MarketplaceID
	}

	listing, err := r.stores.Listings.GetListing(ctx, seller.ID, payload.ASIN, marketplaceID)
	if err != nil {
		return Deferred("listing lookup failed")
	}

	switch payload.Status {
	case notification.LifecycleDeleted:
		if listing == nil {
			return Processed()
		}
		if err := r.stores.Listings.DeleteListing(ctx, listing.ID); err != nil {
			return Deferred("listing delete failed")
		}
		r.logger.Info().Str("asin", payload.ASIN).Msg("listing deleted with offers cascaded")
	case notification.LifecycleCreated:
		if listing != nil {
			return Processed()
		}
		created := &storage.Listing{
			SellerID:      seller.ID,
			ASIN:          payload.ASIN,
			MarketplaceID: marketplaceID,
		}
		if err := r.stores.Listings.CreateListing(ctx, created); err != nil {
			return Deferred("listing create failed")
		}
	}

	return Processed()
}

func (r *Router) handleReportFinished(ctx context.Context, env *notification.Envelope) Result {
	payload, err := env.ReportFinished()
	if err != nil {
		return Dropped("malformed report payload")
	}

	report, err := r.stores.Reports.GetReportByExternalID(ctx, payload.ReportID)
	if err != nil {
		return Deferred("report lookup failed")
	}
	if report == nil {
		return Dropped("unknown report")
	}

	if err := r.stores.Reports.UpdateReportStatus(ctx, report.ID, payload.ProcessingStatus); err != nil {
		return Deferred("report status update failed")
	}

	if payload.ProcessingStatus != notification.ReportStatusDone {
		r.logger.Warn().
			Str("report_id", payload.ReportID).
			Str("status", payload.ProcessingStatus).
			Msg("report finished unsuccessfully")
		return Processed()
	}

	if r.downloader != nil {
		report.ProcessingStatus = payload.ProcessingStatus
		r.downloader.Dispatch(*report)
	}
	return Processed()
}

// resolveSeller maps a merchant token to its seller row. A non-nil Result is
// meaningful only when the returned seller is nil.
func (r *Router) resolveSeller(ctx context.Context, merchantToken string) (*storage.Seller, Result) {
	if merchantToken == "" {
		return nil, Dropped("missing seller identifier")
	}
	seller, err := r.stores.Sellers.GetSellerByMerchantToken(ctx, merchantToken)
	if err != nil {
		r.logger.Error().Err(err).Str("seller", merchantToken).Msg("seller lookup failed")
		return nil, Deferred("seller lookup failed")
	}
	if seller == nil {
		return nil, Dropped("unknown seller")
	}
	return seller, Result{}
}

// resolveListing resolves the listing through the rate-limited upstream
// collaborator. This may block for seconds; it runs before any listing lock
// is taken.
func (r *Router) resolveListing(ctx context.Context, seller *storage.Seller, asin string) (*storage.Listing, Result) {
	if asin == "" {
		return nil, Dropped("missing product identifier")
	}
	listing, err := r.resolver.Resolve(ctx, seller, asin)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, Deferred("listing resolution cancelled")
		}
		r.logger.Error().Err(err).Str("asin", asin).Msg("listing resolution failed")
		return nil, Deferred("listing resolution failed")
	}
	if listing == nil {
		return nil, Deferred("listing not resolvable yet")
	}
	return listing, Result{}
}
