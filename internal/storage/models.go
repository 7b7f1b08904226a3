package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Channel identifies how an offer is fulfilled.
type Channel string

const (
	ChannelFBA      Channel = "FBA"
	ChannelMerchant Channel = "MERCHANT"
)

// Channels lists every fulfillment channel tracked per listing.
var Channels = []Channel{ChannelFBA, ChannelMerchant}

// Notification statuses. A row stuck at PROCESSING marks a stalled pass; the
// queue redelivers the message.
const (
	NotificationProcessing  = "PROCESSING"
	NotificationProcessed   = "PROCESSED"
	NotificationDropped     = "DROPPED"
	NotificationUnsupported = "UNSUPPORTED"
)

// Buybox activity kinds.
const (
	ActivityWon  = "WON"
	ActivityLost = "LOST"
)

// Seller is a party whose notifications we consume. One row per deployment is
// the tracked seller; its merchant token decides is_own_offer.
type Seller struct {
	ID             uuid.UUID
	MerchantToken  string
	MarketplaceID  string
	Name           string
	FeedbackRating *decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Subscription maps a notification type to its owning seller.
type Subscription struct {
	ID               uuid.UUID
	SellerID         uuid.UUID
	NotificationType string
	CreatedAt        time.Time
}

// Listing is one trackable product for a seller on a marketplace.
type Listing struct {
	ID            uuid.UUID
	SellerID      uuid.UUID
	ASIN          string
	MarketplaceID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Offer is one competing (or own) offer for a listing, valid as of the most
// recent reconciliation pass. The full set per listing is replaced atomically;
// only the pricing-health patch path touches a single row in place.
type Offer struct {
	ID                uuid.UUID
	ListingID         uuid.UUID
	NotificationID    uuid.UUID
	MerchantToken     string
	Channel           Channel
	Rank              int
	ListingPrice      decimal.Decimal
	ShippingPrice     decimal.Decimal
	IsOwnOffer        bool
	IsFBA             bool
	IsBuyboxWinner    bool
	IsBuyboxEligible  bool
	Condition         string
	SubCondition      string
	ShipsFrom         string
	ShippingTimeMin   *int
	ShippingTimeMax   *int
	IsPrime           bool
	ShipsDomestically bool
	FeedbackRating    *decimal.Decimal
	FeedbackCount     *int
	CreatedAt         time.Time
}

// LandedPrice is listing price plus shipping price.
func (o Offer) LandedPrice() decimal.Decimal {
	return o.ListingPrice.Add(o.ShippingPrice)
}

// OfferSummary holds per-channel aggregates for a listing. Nil fields were
// absent from the contributing notification and stay untouched on upsert.
type OfferSummary struct {
	ListingID                 uuid.UUID
	Channel                   Channel
	TotalOfferCount           *int
	LowestLandedPrice         *decimal.Decimal
	BuyboxLandedPrice         *decimal.Decimal
	BuyboxEligibleCount       *int
	CompetitivePriceThreshold *decimal.Decimal
	EventAt                   time.Time
	UpdatedAt                 time.Time
}

// BuyboxActivity is one immutable audit row per own-offer winner transition.
type BuyboxActivity struct {
	ID             uuid.UUID
	ListingID      uuid.UUID
	Channel        Channel
	Event          string
	OldLandedPrice *decimal.Decimal
	NewLandedPrice *decimal.Decimal
	EventAt        time.Time
	Viewed         bool
	CreatedAt      time.Time
}

// Notification records one received queue message. Created before dispatch,
// never deleted.
type Notification struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	EventID        string
	EventAt        time.Time
	Payload        json.RawMessage
	Status         string
	StatusReason   *string
	CreatedAt      time.Time
}

// Report tracks an asynchronous report requested upstream.
type Report struct {
	ID               uuid.UUID
	SellerID         uuid.UUID
	ExternalReportID string
	ReportType       string
	ProcessingStatus string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
