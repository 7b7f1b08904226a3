package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	getSellerByTokenSQL = `SELECT
        id, merchant_token, marketplace_id, name, feedback_rating, created_at, updated_at
    FROM sellers
    WHERE merchant_token = $1;`

	updateSellerFeedbackSQL = `UPDATE sellers
    SET feedback_rating = $2, updated_at = now()
    WHERE id = $1;`

	getSubscriptionByTypeSQL = `SELECT
        id, seller_id, notification_type, created_at
    FROM subscriptions
    WHERE notification_type = $1;`

	getListingSQL = `SELECT
        id, seller_id, asin, marketplace_id, created_at, updated_at
    FROM listings
    WHERE seller_id = $1 AND asin = $2 AND marketplace_id = $3;`

	insertListingSQL = `INSERT INTO listings (
        id, seller_id, asin, marketplace_id
    ) VALUES ($1,$2,$3,$4)
    ON CONFLICT (seller_id, asin, marketplace_id) DO NOTHING;`

	deleteListingSQL = `DELETE FROM listings WHERE id = $1;`

	insertNotificationSQL = `INSERT INTO notifications (
        id, subscription_id, event_id, event_at, payload, status
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	markNotificationSQL = `UPDATE notifications
    SET status = $2, status_reason = $3
    WHERE id = $1;`

	listRecentNotificationsSQL = `SELECT
        id, subscription_id, event_id, event_at, status, status_reason, created_at
    FROM notifications
    ORDER BY created_at DESC
    LIMIT $1;`

	getReportByExternalIDSQL = `SELECT
        id, seller_id, external_report_id, report_type, processing_status, created_at, updated_at
    FROM reports
    WHERE external_report_id = $1;`

	updateReportStatusSQL = `UPDATE reports
    SET processing_status = $2, updated_at = now()
    WHERE id = $1;`

	selectOwnOffersSQL = `SELECT
        id, listing_id, notification_id, merchant_token, channel, rank,
        listing_price, shipping_price, is_own_offer, is_fba, is_buybox_winner,
        is_buybox_eligible, condition, sub_condition, ships_from,
        shipping_time_min, shipping_time_max, is_prime, ships_domestically,
        feedback_rating, feedback_count, created_at
    FROM offers
    WHERE listing_id = $1 AND is_own_offer = TRUE;`

	deleteOffersSQL = `DELETE FROM offers WHERE listing_id = $1;`

	insertOfferSQL = `INSERT INTO offers (
        id, listing_id, notification_id, merchant_token, channel, rank,
        listing_price, shipping_price, is_own_offer, is_fba, is_buybox_winner,
        is_buybox_eligible, condition, sub_condition, ships_from,
        shipping_time_min, shipping_time_max, is_prime, ships_domestically,
        feedback_rating, feedback_count
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
    );`

	upsertOwnOfferSQL = `INSERT INTO offers (
        id, listing_id, notification_id, merchant_token, channel, rank,
        listing_price, shipping_price, is_own_offer, condition, sub_condition
    ) VALUES (
        $1, $2, $3, $4, $5,
        (SELECT COALESCE(MAX(rank), 0) + 1 FROM offers WHERE listing_id = $2 AND channel = $5),
        $6, $7, TRUE, $8, $9
    )
    ON CONFLICT (listing_id, merchant_token, channel) DO UPDATE
    SET notification_id = EXCLUDED.notification_id,
        listing_price   = EXCLUDED.listing_price,
        shipping_price  = EXCLUDED.shipping_price,
        condition       = EXCLUDED.condition,
        sub_condition   = EXCLUDED.sub_condition;`

	upsertSummarySQL = `INSERT INTO offer_summaries (
        listing_id, channel, total_offer_count, lowest_landed_price,
        buybox_landed_price, buybox_eligible_count, competitive_price_threshold,
        event_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    ON CONFLICT (listing_id, channel) DO UPDATE
    SET total_offer_count           = COALESCE(EXCLUDED.total_offer_count, offer_summaries.total_offer_count),
        lowest_landed_price         = COALESCE(EXCLUDED.lowest_landed_price, offer_summaries.lowest_landed_price),
        buybox_landed_price         = COALESCE(EXCLUDED.buybox_landed_price, offer_summaries.buybox_landed_price),
        buybox_eligible_count       = COALESCE(EXCLUDED.buybox_eligible_count, offer_summaries.buybox_eligible_count),
        competitive_price_threshold = COALESCE(EXCLUDED.competitive_price_threshold, offer_summaries.competitive_price_threshold),
        event_at                    = EXCLUDED.event_at,
        updated_at                  = now();`

	insertActivitySQL = `INSERT INTO buybox_activities (
        id, listing_id, channel, event, old_landed_price, new_landed_price, event_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7);`

	listActivitiesBetweenSQL = `SELECT
        id, listing_id, channel, event, old_landed_price, new_landed_price,
        event_at, viewed, created_at
    FROM buybox_activities
    WHERE listing_id = $1
      AND event_at >= $2
      AND event_at < $3
    ORDER BY event_at;`

	listRecentActivitiesSQL = `SELECT
        id, listing_id, channel, event, old_landed_price, new_landed_price,
        event_at, viewed, created_at
    FROM buybox_activities
    ORDER BY event_at DESC
    LIMIT $1;`

	claimUnviewedActivitiesSQL = `UPDATE buybox_activities
    SET viewed = TRUE
    WHERE id IN (
        SELECT id FROM buybox_activities
        WHERE viewed = FALSE
        ORDER BY event_at
        LIMIT $1
        FOR UPDATE SKIP LOCKED
    )
    RETURNING id, listing_id, channel, event, old_landed_price, new_landed_price,
        event_at, viewed, created_at;`

	advisoryXactLockSQL = `SELECT pg_advisory_xact_lock($1);`
)

// SellerStore resolves sellers and sinks opportunistic feedback updates.
type SellerStore interface {
	GetSellerByMerchantToken(ctx context.Context, token string) (*Seller, error)
	UpdateSellerFeedbackRating(ctx context.Context, id uuid.UUID, rating decimal.Decimal) error
}

// SubscriptionStore resolves the subscription owning a notification type.
type SubscriptionStore interface {
	GetSubscriptionByType(ctx context.Context, notificationType string) (*Subscription, error)
}

// ListingStore defines listing lifecycle persistence.
type ListingStore interface {
	GetListing(ctx context.Context, sellerID uuid.UUID, asin, marketplaceID string) (*Listing, error)
	CreateListing(ctx context.Context, listing *Listing) error
	DeleteListing(ctx context.Context, id uuid.UUID) error
}

// NotificationStore records inbound messages and their terminal status.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
	MarkNotification(ctx context.Context, id uuid.UUID, status string, reason *string) error
}

// ReportStore defines report bookkeeping for the report-ready path.
type ReportStore interface {
	GetReportByExternalID(ctx context.Context, externalID string) (*Report, error)
	UpdateReportStatus(ctx context.Context, id uuid.UUID, status string) error
}

// ActivityStore exposes the buybox audit log to downstream readers.
type ActivityStore interface {
	ListActivitiesBetween(ctx context.Context, listingID uuid.UUID, from, to time.Time) ([]BuyboxActivity, error)
	ListRecentActivities(ctx context.Context, limit int) ([]BuyboxActivity, error)
	ClaimUnviewedActivities(ctx context.Context, limit int) ([]BuyboxActivity, error)
}

// ListingTx is the mutation surface available inside a listing-scoped
// transaction. Implementations hold the listing advisory lock for the whole
// callback, so a reconciliation pass is never interleaved with another for
// the same listing and readers never observe the delete/recreate window.
type ListingTx interface {
	OwnOffers(ctx context.Context) ([]Offer, error)
	ReplaceOffers(ctx context.Context, offers []Offer) error
	UpsertOwnOffer(ctx context.Context, offer Offer) error
	UpsertSummary(ctx context.Context, summary OfferSummary) error
	InsertActivity(ctx context.Context, activity BuyboxActivity) error
}

// ListingTxRunner runs a callback under the listing's transactional lock.
type ListingTxRunner interface {
	WithListingTx(ctx context.Context, listingID uuid.UUID, fn func(tx ListingTx) error) error
}

// Store aggregates access to all persisted entities.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// GetSellerByMerchantToken resolves a seller by its external merchant token.
// A missing seller is a valid outcome and returns (nil, nil).
func (s *Store) GetSellerByMerchantToken(ctx context.Context, token string) (*Seller, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		seller Seller
		rating sql.NullString
	)
	row := pool.QueryRow(ctx, getSellerByTokenSQL, token)
	if scanErr := row.Scan(
		&seller.ID,
		&seller.MerchantToken,
		&seller.MarketplaceID,
		&seller.Name,
		&rating,
		&seller.CreatedAt,
		&seller.UpdatedAt,
	); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get seller by merchant token: %w", scanErr)
	}

	if rating.Valid {
		parsed, convErr := decimal.NewFromString(rating.String)
		if convErr != nil {
			return nil, fmt.Errorf("parse feedback rating: %w", convErr)
		}
		seller.FeedbackRating = &parsed
	}
	return &seller, nil
}

// UpdateSellerFeedbackRating sets the seller's stored feedback rating.
func (s *Store) UpdateSellerFeedbackRating(ctx context.Context, id uuid.UUID, rating decimal.Decimal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, updateSellerFeedbackSQL, id, rating.String()); execErr != nil {
		return fmt.Errorf("update seller feedback rating: %w", execErr)
	}
	return nil
}

// GetSubscriptionByType resolves the subscription for a notification type.
// Returns (nil, nil) when no subscription exists.
func (s *Store) GetSubscriptionByType(ctx context.Context, notificationType string) (*Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var sub Subscription
	row := pool.QueryRow(ctx, getSubscriptionByTypeSQL, notificationType)
	if scanErr := row.Scan(&sub.ID, &sub.SellerID, &sub.NotificationType, &sub.CreatedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription by type: %w", scanErr)
	}
	return &sub, nil
}

// GetListing fetches a listing by its natural key. Returns (nil, nil) when absent.
func (s *Store) GetListing(ctx context.Context, sellerID uuid.UUID, asin, marketplaceID string) (*Listing, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var listing Listing
	row := pool.QueryRow(ctx, getListingSQL, sellerID, asin, marketplaceID)
	if scanErr := row.Scan(
		&listing.ID,
		&listing.SellerID,
		&listing.ASIN,
		&listing.MarketplaceID,
		&listing.CreatedAt,
		&listing.UpdatedAt,
	); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get listing: %w", scanErr)
	}
	return &listing, nil
}

// CreateListing persists a bare listing record.
func (s *Store) CreateListing(ctx context.Context, listing *Listing) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if listing.ID == uuid.Nil {
		listing.ID = uuid.New()
	}
	if _, execErr := pool.Exec(ctx, insertListingSQL,
		listing.ID, listing.SellerID, listing.ASIN, listing.MarketplaceID,
	); execErr != nil {
		return fmt.Errorf("create listing: %w", execErr)
	}
	return nil
}

// DeleteListing removes a listing; offers and summaries cascade in the schema.
func (s *Store) DeleteListing(ctx context.Context, id uuid.UUID) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteListingSQL, id); execErr != nil {
		return fmt.Errorf("delete listing: %w", execErr)
	}
	return nil
}

// CreateNotification records an inbound message before dispatch.
func (s *Store) CreateNotification(ctx context.Context, n *Notification) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = NotificationProcessing
	}
	// 无订阅匹配时 subscription_id 落 NULL。
	var subArg interface{}
	if n.SubscriptionID != uuid.Nil {
		subArg = n.SubscriptionID
	}
	if _, execErr := pool.Exec(ctx, insertNotificationSQL,
		n.ID, subArg, n.EventID, n.EventAt, []byte(n.Payload), n.Status,
	); execErr != nil {
		return fmt.Errorf("create notification: %w", execErr)
	}
	return nil
}

// MarkNotification records the terminal processing status.
func (s *Store) MarkNotification(ctx context.Context, id uuid.UUID, status string, reason *string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var reasonArg interface{}
	if reason != nil {
		reasonArg = *reason
	}
	cmdTag, execErr := pool.Exec(ctx, markNotificationSQL, id, status, reasonArg)
	if execErr != nil {
		return fmt.Errorf("mark notification: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecentNotifications lists notification records ordered by recency.
func (s *Store) ListRecentNotifications(ctx context.Context, limit int) ([]Notification, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentNotificationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent notifications: %w", queryErr)
	}
	defer rows.Close()

	notifications := make([]Notification, 0, limit)
	for rows.Next() {
		var (
			n      Notification
			subID  *uuid.UUID
			reason sql.NullString
		)
		if err := rows.Scan(&n.ID, &subID, &n.EventID, &n.EventAt, &n.Status, &reason, &n.CreatedAt); err != nil {
			return nil, err
		}
		if subID != nil {
			n.SubscriptionID = *subID
		}
		if reason.Valid {
			msg := reason.String
			n.StatusReason = &msg
		}
		notifications = append(notifications, n)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return notifications, nil
}

// GetReportByExternalID resolves a report record. Returns (nil, nil) when absent.
func (s *Store) GetReportByExternalID(ctx context.Context, externalID string) (*Report, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var report Report
	row := pool.QueryRow(ctx, getReportByExternalIDSQL, externalID)
	if scanErr := row.Scan(
		&report.ID,
		&report.SellerID,
		&report.ExternalReportID,
		&report.ReportType,
		&report.ProcessingStatus,
		&report.CreatedAt,
		&report.UpdatedAt,
	); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get report by external id: %w", scanErr)
	}
	return &report, nil
}

// UpdateReportStatus persists the upstream processing status.
func (s *Store) UpdateReportStatus(ctx context.Context, id uuid.UUID, status string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, updateReportStatusSQL, id, status); execErr != nil {
		return fmt.Errorf("update report status: %w", execErr)
	}
	return nil
}

// ListActivitiesBetween lists a listing's buybox transitions in a time window.
func (s *Store) ListActivitiesBetween(ctx context.Context, listingID uuid.UUID, from, to time.Time) ([]BuyboxActivity, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActivitiesBetweenSQL, listingID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list activities between: %w", queryErr)
	}
	defer rows.Close()
	return scanActivities(rows)
}

// ListRecentActivities lists the most recent transitions across all listings.
func (s *Store) ListRecentActivities(ctx context.Context, limit int) ([]BuyboxActivity, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentActivitiesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent activities: %w", queryErr)
	}
	defer rows.Close()
	return scanActivities(rows)
}

// ClaimUnviewedActivities returns unviewed transitions oldest first and marks
// them viewed in the same statement (read-then-mark cursor).
func (s *Store) ClaimUnviewedActivities(ctx context.Context, limit int) ([]BuyboxActivity, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, claimUnviewedActivitiesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("claim unviewed activities: %w", queryErr)
	}
	defer rows.Close()
	return scanActivities(rows)
}

// WithListingTx runs fn inside a transaction holding the listing's advisory
// lock. The lock is released with the transaction, so every mutation in fn is
// atomic with respect to other passes for the same listing.
func (s *Store) WithListingTx(ctx context.Context, listingID uuid.UUID, fn func(tx ListingTx) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin listing tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, advisoryXactLockSQL, listingLockKey(listingID)); err != nil {
		return fmt.Errorf("acquire listing lock: %w", err)
	}

	if err := fn(&listingTx{tx: tx, listingID: listingID}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit listing tx: %w", err)
	}
	return nil
}

func listingLockKey(listingID uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(listingID[:])
	return int64(h.Sum64())
}

type listingTx struct {
	tx        pgx.Tx
	listingID uuid.UUID
}

func (t *listingTx) OwnOffers(ctx context.Context) ([]Offer, error) {
	rows, err := t.tx.Query(ctx, selectOwnOffersSQL, t.listingID)
	if err != nil {
		return nil, fmt.Errorf("select own offers: %w", err)
	}
	defer rows.Close()

	offers := make([]Offer, 0)
	for rows.Next() {
		offer, scanErr := scanOffer(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		offers = append(offers, offer)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return offers, nil
}

func (t *listingTx) ReplaceOffers(ctx context.Context, offers []Offer) error {
	if _, err := t.tx.Exec(ctx, deleteOffersSQL, t.listingID); err != nil {
		return fmt.Errorf("delete offers: %w", err)
	}

	for _, offer := range offers {
		if offer.ID == uuid.Nil {
			offer.ID = uuid.New()
		}
		if _, err := t.tx.Exec(ctx, insertOfferSQL,
			offer.ID,
			t.listingID,
			offer.NotificationID,
			offer.MerchantToken,
			offer.Channel,
			offer.Rank,
			offer.ListingPrice.String(),
			offer.ShippingPrice.String(),
			offer.IsOwnOffer,
			offer.IsFBA,
			offer.IsBuyboxWinner,
			offer.IsBuyboxEligible,
			offer.Condition,
			offer.SubCondition,
			offer.ShipsFrom,
			nullableInt(offer.ShippingTimeMin),
			nullableInt(offer.ShippingTimeMax),
			offer.IsPrime,
			offer.ShipsDomestically,
			nullableDecimal(offer.FeedbackRating),
			nullableInt(offer.FeedbackCount),
		); err != nil {
			return fmt.Errorf("insert offer: %w", err)
		}
	}
	return nil
}

func (t *listingTx) UpsertOwnOffer(ctx context.Context, offer Offer) error {
	if offer.ID == uuid.Nil {
		offer.ID = uuid.New()
	}
	if _, err := t.tx.Exec(ctx, upsertOwnOfferSQL,
		offer.ID,
		t.listingID,
		offer.NotificationID,
		offer.MerchantToken,
		offer.Channel,
		offer.ListingPrice.String(),
		offer.ShippingPrice.String(),
		offer.Condition,
		offer.SubCondition,
	); err != nil {
		return fmt.Errorf("upsert own offer: %w", err)
	}
	return nil
}

func (t *listingTx) UpsertSummary(ctx context.Context, summary OfferSummary) error {
	if _, err := t.tx.Exec(ctx, upsertSummarySQL,
		t.listingID,
		summary.Channel,
		nullableInt(summary.TotalOfferCount),
		nullableDecimal(summary.LowestLandedPrice),
		nullableDecimal(summary.BuyboxLandedPrice),
		nullableInt(summary.BuyboxEligibleCount),
		nullableDecimal(summary.CompetitivePriceThreshold),
		summary.EventAt,
	); err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

func (t *listingTx) InsertActivity(ctx context.Context, activity BuyboxActivity) error {
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}
	if _, err := t.tx.Exec(ctx, insertActivitySQL,
		activity.ID,
		t.listingID,
		activity.Channel,
		activity.Event,
		nullableDecimal(activity.OldLandedPrice),
		nullableDecimal(activity.NewLandedPrice),
		activity.EventAt,
	); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func scanOffer(rows pgx.Rows) (Offer, error) {
	var (
		offer          Offer
		listingPrice   string
		shippingPrice  string
		shipMin        sql.NullInt64
		shipMax        sql.NullInt64
		feedbackRating sql.NullString
		feedbackCount  sql.NullInt64
	)

	if err := rows.Scan(
		&offer.ID,
		&offer.ListingID,
		&offer.NotificationID,
		&offer.MerchantToken,
		&offer.Channel,
		&offer.Rank,
		&listingPrice,
		&shippingPrice,
		&offer.IsOwnOffer,
		&offer.IsFBA,
		&offer.IsBuyboxWinner,
		&offer.IsBuyboxEligible,
		&offer.Condition,
		&offer.SubCondition,
		&offer.ShipsFrom,
		&shipMin,
		&shipMax,
		&offer.IsPrime,
		&offer.ShipsDomestically,
		&feedbackRating,
		&feedbackCount,
		&offer.CreatedAt,
	); err != nil {
		return Offer{}, err
	}

	var convErr error
	offer.ListingPrice, convErr = decimal.NewFromString(listingPrice)
	if convErr != nil {
		return Offer{}, fmt.Errorf("parse listing price: %w", convErr)
	}
	offer.ShippingPrice, convErr = decimal.NewFromString(shippingPrice)
	if convErr != nil {
		return Offer{}, fmt.Errorf("parse shipping price: %w", convErr)
	}

	if shipMin.Valid {
		v := int(shipMin.Int64)
		offer.ShippingTimeMin = &v
	}
	if shipMax.Valid {
		v := int(shipMax.Int64)
		offer.ShippingTimeMax = &v
	}
	if feedbackRating.Valid {
		rating, err := decimal.NewFromString(feedbackRating.String)
		if err != nil {
			return Offer{}, fmt.Errorf("parse offer feedback rating: %w", err)
		}
		offer.FeedbackRating = &rating
	}
	if feedbackCount.Valid {
		v := int(feedbackCount.Int64)
		offer.FeedbackCount = &v
	}
	return offer, nil
}

func scanActivities(rows pgx.Rows) ([]BuyboxActivity, error) {
	activities := make([]BuyboxActivity, 0)
	for rows.Next() {
		var (
			activity BuyboxActivity
			oldPrice sql.NullString
			newPrice sql.NullString
		)
		if err := rows.Scan(
			&activity.ID,
			&activity.ListingID,
			&activity.Channel,
			&activity.Event,
			&oldPrice,
			&newPrice,
			&activity.EventAt,
			&activity.Viewed,
			&activity.CreatedAt,
		); err != nil {
			return nil, err
		}

		if oldPrice.Valid {
			parsed, err := decimal.NewFromString(oldPrice.String)
			if err != nil {
				return nil, fmt.Errorf("parse old landed price: %w", err)
			}
			activity.OldLandedPrice = &parsed
		}
		if newPrice.Valid {
			parsed, err := decimal.NewFromString(newPrice.String)
			if err != nil {
				return nil, fmt.Errorf("parse new landed price: %w", err)
			}
			activity.NewLandedPrice = &parsed
		}
		activities = append(activities, activity)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return activities, nil
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableDecimal(v *decimal.Decimal) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}
