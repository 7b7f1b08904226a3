// Package notification parses raw queue message bodies into typed envelopes.
// Producers emit the same logical paths under two casing conventions
// ("EventTime" vs "eventTime"), so every path segment is resolved literally
// first and with a first-letter-lowercase fallback second.
package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Notification type tags dispatched by the router.
const (
	TypeOfferChanged     = "ANY_OFFER_CHANGED"
	TypePricingHealth    = "PRICING_HEALTH"
	TypeReportFinished   = "REPORT_PROCESSING_FINISHED"
	TypeListingLifecycle = "LISTINGS_ITEM_STATUS_CHANGE"
)

// ErrMalformed marks payloads missing required identifying fields. Such
// messages can never succeed and are dropped, not retried.
var ErrMalformed = errors.New("notification: malformed payload")

// Envelope is one parsed inbound message.
type Envelope struct {
	Type    string
	EventID string
	EventAt time.Time
	Raw     json.RawMessage

	payload map[string]any
}

// Parse decodes a raw message body into an Envelope.
func Parse(body []byte) (*Envelope, error) {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	typ, ok := lookupString(root, "NotificationType")
	if !ok || typ == "" {
		return nil, fmt.Errorf("%w: missing NotificationType", ErrMalformed)
	}

	env := &Envelope{
		Type: typ,
		Raw:  json.RawMessage(body),
	}

	if id, ok := lookupString(root, "NotificationMetadata", "NotificationId"); ok {
		env.EventID = id
	}
	if ts, ok := lookupString(root, "EventTime"); ok {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: bad EventTime %q", ErrMalformed, ts)
		}
		env.EventAt = parsed.UTC()
	} else {
		env.EventAt = time.Now().UTC()
	}

	if payload, ok := lookupMap(root, "Payload"); ok {
		env.payload = payload
	} else {
		env.payload = map[string]any{}
	}

	return env, nil
}

// OfferChangeTrigger identifies the listing a notification refers to.
type OfferChangeTrigger struct {
	ASIN          string
	MarketplaceID string
	ItemCondition string
}

// SummaryVariant is one condition/channel-tagged aggregate statistic record.
// An empty FulfillmentChannel means the variant is unlabeled and applies to
// any channel.
type SummaryVariant struct {
	Condition          string
	FulfillmentChannel string
	OfferCount         *int
	LandedPrice        *decimal.Decimal
}

// Summary holds the notification's aggregate statistics section.
type Summary struct {
	NumberOfOffers               []SummaryVariant
	LowestPrices                 []SummaryVariant
	BuyBoxPrices                 []SummaryVariant
	NumberOfBuyBoxEligibleOffers []SummaryVariant
	CompetitivePriceThreshold    *decimal.Decimal
}

// OfferEntry is one raw offer from the notification's full snapshot.
type OfferEntry struct {
	SellerID             string
	SubCondition         string
	ListingPrice         *decimal.Decimal
	ShippingPrice        *decimal.Decimal
	IsFulfilledByAmazon  bool
	IsBuyBoxWinner       bool
	IsFeaturedMerchant   bool
	SellerFeedbackRating *decimal.Decimal
	FeedbackCount        *int
	ShipsFromCountry     string
	ShippingTimeMinHours *int
	ShippingTimeMaxHours *int
	IsPrime              bool
	ShipsDomestically    bool
}

// OfferChangedPayload is the typed ANY_OFFER_CHANGED payload.
type OfferChangedPayload struct {
	SellerID string
	Trigger  OfferChangeTrigger
	Summary  Summary
	Offers   []OfferEntry
}

// PricingHealthPayload carries the lightweight own-offer price patch.
type PricingHealthPayload struct {
	SellerID                  string
	Trigger                   OfferChangeTrigger
	IsFulfilledByAmazon       bool
	ListingPrice              *decimal.Decimal
	ShippingPrice             *decimal.Decimal
	CompetitivePriceThreshold *decimal.Decimal
}

// ListingLifecyclePayload signals listing creation or deletion.
type ListingLifecyclePayload struct {
	SellerID      string
	ASIN          string
	MarketplaceID string
	Status        string
}

// Lifecycle statuses.
const (
	LifecycleCreated = "CREATED"
	LifecycleDeleted = "DELETED"
)

// ReportFinishedPayload signals an upstream report reached a terminal state.
type ReportFinishedPayload struct {
	SellerID         string
	ReportID         string
	ReportType       string
	ProcessingStatus string
}

// ReportStatusDone is the upstream success sentinel.
const ReportStatusDone = "DONE"

// OfferChanged extracts the typed ANY_OFFER_CHANGED payload.
func (e *Envelope) OfferChanged() (*OfferChangedPayload, error) {
	body, ok := lookupMap(e.payload, "AnyOfferChangedNotification")
	if !ok {
		body = e.payload
	}

	out := &OfferChangedPayload{}
	out.SellerID, _ = lookupString(body, "SellerId")

	trigger, err := extractTrigger(body)
	if err != nil {
		return nil, err
	}
	out.Trigger = trigger

	if summarySection, ok := lookupMap(body, "Summary"); ok {
		out.Summary = extractSummary(summarySection)
	}

	if rawOffers, ok := lookupSlice(body, "Offers"); ok {
		out.Offers = make([]OfferEntry, 0, len(rawOffers))
		for _, raw := range rawOffers {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			out.Offers = append(out.Offers, extractOfferEntry(entry))
		}
	}

	return out, nil
}

// PricingHealth extracts the typed PRICING_HEALTH payload.
func (e *Envelope) PricingHealth() (*PricingHealthPayload, error) {
	body, ok := lookupMap(e.payload, "PricingHealthNotification")
	if !ok {
		body = e.payload
	}

	out := &PricingHealthPayload{}
	out.SellerID, _ = lookupString(body, "SellerId")

	trigger, err := extractTrigger(body)
	if err != nil {
		return nil, err
	}
	out.Trigger = trigger

	if offer, ok := lookupMap(body, "MerchantOffer"); ok {
		out.ListingPrice = lookupMoney(offer, "ListingPrice")
		out.ShippingPrice = lookupMoney(offer, "Shipping")
		if fulfillment, ok := lookupString(offer, "FulfillmentType"); ok {
			out.IsFulfilledByAmazon = fulfillment == "AFN"
		}
	}
	if out.ListingPrice == nil {
		return nil, fmt.Errorf("%w: pricing health missing merchant offer price", ErrMalformed)
	}

	if ref, ok := lookupMap(body, "Summary", "ReferencePrice"); ok {
		out.CompetitivePriceThreshold = lookupMoney(ref, "CompetitivePriceThreshold")
	}

	return out, nil
}

// ListingLifecycle extracts the typed lifecycle payload.
func (e *Envelope) ListingLifecycle() (*ListingLifecyclePayload, error) {
	body, ok := lookupMap(e.payload, "ListingsItemStatusChangeNotification")
	if !ok {
		body = e.payload
	}

	out := &ListingLifecyclePayload{}
	out.SellerID, _ = lookupString(body, "SellerId")
	out.ASIN, _ = lookupString(body, "Asin")
	if out.ASIN == "" {
		out.ASIN, _ = lookupString(body, "ASIN")
	}
	out.MarketplaceID, _ = lookupString(body, "MarketplaceId")
	out.Status, _ = lookupString(body, "Status")

	if out.ASIN == "" {
		return nil, fmt.Errorf("%w: lifecycle missing product identifier", ErrMalformed)
	}
	return out, nil
}

// ReportFinished extracts the typed report-ready payload.
func (e *Envelope) ReportFinished() (*ReportFinishedPayload, error) {
	body, ok := lookupMap(e.payload, "ReportProcessingFinishedNotification")
	if !ok {
		body = e.payload
	}

	out := &ReportFinishedPayload{}
	out.SellerID, _ = lookupString(body, "SellerId")
	out.ReportID, _ = lookupString(body, "ReportId")
	out.ReportType, _ = lookupString(body, "ReportType")
	out.ProcessingStatus, _ = lookupString(body, "ProcessingStatus")

	if out.ReportID == "" {
		return nil, fmt.Errorf("%w: report notification missing ReportId", ErrMalformed)
	}
	return out, nil
}

func extractTrigger(body map[string]any) (OfferChangeTrigger, error) {
	trigger, ok := lookupMap(body, "OfferChangeTrigger")
	if !ok {
		return OfferChangeTrigger{}, fmt.Errorf("%w: missing OfferChangeTrigger", ErrMalformed)
	}

	out := OfferChangeTrigger{}
	out.ASIN, _ = lookupString(trigger, "ASIN")
	out.MarketplaceID, _ = lookupString(trigger, "MarketplaceId")
	out.ItemCondition, _ = lookupString(trigger, "ItemCondition")

	if out.ASIN == "" || out.MarketplaceID == "" {
		return OfferChangeTrigger{}, fmt.Errorf("%w: trigger missing ASIN or MarketplaceId", ErrMalformed)
	}
	return out, nil
}

func extractSummary(section map[string]any) Summary {
	out := Summary{
		NumberOfOffers:               extractVariants(section, "NumberOfOffers", "OfferCount"),
		LowestPrices:                 extractVariants(section, "LowestPrices", ""),
		BuyBoxPrices:                 extractVariants(section, "BuyBoxPrices", ""),
		NumberOfBuyBoxEligibleOffers: extractVariants(section, "NumberOfBuyBoxEligibleOffers", "OfferCount"),
	}
	if threshold, ok := lookupMap(section, "CompetitivePriceThreshold"); ok {
		out.CompetitivePriceThreshold = moneyAmount(threshold)
	}
	return out
}

func extractVariants(section map[string]any, key, countField string) []SummaryVariant {
	raw, ok := lookupSlice(section, key)
	if !ok {
		return nil
	}

	variants := make([]SummaryVariant, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		variant := SummaryVariant{}
		variant.Condition, _ = lookupString(entry, "Condition")
		variant.FulfillmentChannel, _ = lookupString(entry, "FulfillmentChannel")
		if countField != "" {
			if count, ok := lookupInt(entry, countField); ok {
				variant.OfferCount = &count
			}
		}
		variant.LandedPrice = lookupMoney(entry, "LandedPrice")
		variants = append(variants, variant)
	}
	return variants
}

func extractOfferEntry(entry map[string]any) OfferEntry {
	out := OfferEntry{}
	out.SellerID, _ = lookupString(entry, "SellerId")
	out.SubCondition, _ = lookupString(entry, "SubCondition")
	out.ListingPrice = lookupMoney(entry, "ListingPrice")
	out.ShippingPrice = lookupMoney(entry, "Shipping")
	out.IsFulfilledByAmazon, _ = lookupBool(entry, "IsFulfilledByAmazon")
	out.IsBuyBoxWinner, _ = lookupBool(entry, "IsBuyBoxWinner")
	out.IsFeaturedMerchant, _ = lookupBool(entry, "IsFeaturedMerchant")
	out.ShipsDomestically, _ = lookupBool(entry, "ShipsDomestically")

	if feedback, ok := lookupMap(entry, "SellerFeedbackRating"); ok {
		if rating, ok := lookupDecimal(feedback, "SellerPositiveFeedbackRating"); ok {
			out.SellerFeedbackRating = &rating
		}
		if count, ok := lookupInt(feedback, "FeedbackCount"); ok {
			out.FeedbackCount = &count
		}
	}

	if shipsFrom, ok := lookupMap(entry, "ShipsFrom"); ok {
		out.ShipsFromCountry, _ = lookupString(shipsFrom, "Country")
	}

	if shippingTime, ok := lookupMap(entry, "ShippingTime"); ok {
		if min, ok := lookupInt(shippingTime, "MinimumHours"); ok {
			out.ShippingTimeMinHours = &min
		}
		if max, ok := lookupInt(shippingTime, "MaximumHours"); ok {
			out.ShippingTimeMaxHours = &max
		}
	}

	if prime, ok := lookupMap(entry, "PrimeInformation"); ok {
		out.IsPrime, _ = lookupBool(prime, "IsPrime")
	}

	return out
}

// lookup walks a path, trying the literal segment first and the
// first-letter-lowercase variant second before concluding a field is absent.
func lookup(m map[string]any, path ...string) (any, bool) {
	current := any(m)
	for _, segment := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok := obj[segment]
		if !ok {
			value, ok = obj[lowerFirst(segment)]
			if !ok {
				return nil, false
			}
		}
		current = value
	}
	return current, true
}

func lookupMap(m map[string]any, path ...string) (map[string]any, bool) {
	value, ok := lookup(m, path...)
	if !ok {
		return nil, false
	}
	out, ok := value.(map[string]any)
	return out, ok
}

func lookupSlice(m map[string]any, path ...string) ([]any, bool) {
	value, ok := lookup(m, path...)
	if !ok {
		return nil, false
	}
	out, ok := value.([]any)
	return out, ok
}

func lookupString(m map[string]any, path ...string) (string, bool) {
	value, ok := lookup(m, path...)
	if !ok {
		return "", false
	}
	out, ok := value.(string)
	return out, ok
}

func lookupBool(m map[string]any, path ...string) (bool, bool) {
	value, ok := lookup(m, path...)
	if !ok {
		return false, false
	}
	out, ok := value.(bool)
	return out, ok
}

func lookupInt(m map[string]any, path ...string) (int, bool) {
	value, ok := lookup(m, path...)
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return int(v), true
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return int(parsed), true
		}
	}
	return 0, false
}

func lookupDecimal(m map[string]any, path ...string) (decimal.Decimal, bool) {
	value, ok := lookup(m, path...)
	if !ok {
		return decimal.Decimal{}, false
	}
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case string:
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return parsed, true
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Decimal{}, false
		}
		return parsed, true
	}
	return decimal.Decimal{}, false
}

// lookupMoney resolves a {"Amount": ...} object under path.
func lookupMoney(m map[string]any, path ...string) *decimal.Decimal {
	money, ok := lookupMap(m, path...)
	if !ok {
		return nil
	}
	return moneyAmount(money)
}

func moneyAmount(money map[string]any) *decimal.Decimal {
	amount, ok := lookupDecimal(money, "Amount")
	if !ok {
		return nil
	}
	return &amount
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsLower(r) {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
