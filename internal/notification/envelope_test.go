package notification

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseRejectsMissingType(t *testing.T) {
	if _, err := Parse([]byte(`{"EventTime":"2026-03-01T00:00:00Z"}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("缺少 NotificationType 应判定 malformed: %v", err)
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte(`{not json`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("非法 JSON 应判定 malformed: %v", err)
	}
}

func TestParseReadsMetadataAndTime(t *testing.T) {
	body := []byte(`{
		"NotificationType": "ANY_OFFER_CHANGED",
		"EventTime": "2026-03-01T08:30:00Z",
		"NotificationMetadata": {"NotificationId": "evt-123"},
		"Payload": {}
	}`)

	env, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse 失败: %v", err)
	}
	if env.Type != TypeOfferChanged {
		t.Fatalf("unexpected type %s", env.Type)
	}
	if env.EventID != "evt-123" {
		t.Fatalf("unexpected event id %s", env.EventID)
	}
	want := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	if !env.EventAt.Equal(want) {
		t.Fatalf("unexpected event time %s", env.EventAt)
	}
}

func TestParseLowercaseFallback(t *testing.T) {
	body := []byte(`{
		"notificationType": "PRICING_HEALTH",
		"eventTime": "2026-03-01T08:30:00Z",
		"notificationMetadata": {"notificationId": "evt-456"},
		"payload": {}
	}`)

	env, err := Parse(body)
	if err != nil {
		t.Fatalf("小写字段应可解析: %v", err)
	}
	if env.Type != TypePricingHealth || env.EventID != "evt-456" {
		t.Fatalf("小写回退解析不完整: %#v", env)
	}
}

func TestParseLiteralKeyWinsOverFallback(t *testing.T) {
	body := []byte(`{
		"NotificationType": "ANY_OFFER_CHANGED",
		"notificationType": "PRICING_HEALTH"
	}`)

	env, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse 失败: %v", err)
	}
	if env.Type != TypeOfferChanged {
		t.Fatalf("字面 key 应优先于小写回退: %s", env.Type)
	}
}

func TestOfferChangedExtraction(t *testing.T) {
	body := []byte(`{
		"NotificationType": "ANY_OFFER_CHANGED",
		"EventTime": "2026-03-01T08:30:00Z",
		"Payload": {
			"AnyOfferChangedNotification": {
				"SellerId": "A1SELLER",
				"OfferChangeTrigger": {
					"ASIN": "B000TEST00",
					"MarketplaceId": "ATVPDKIKX0DER",
					"ItemCondition": "New"
				},
				"Summary": {
					"NumberOfOffers": [
						{"Condition": "New", "FulfillmentChannel": "Amazon", "OfferCount": 4}
					],
					"CompetitivePriceThreshold": {"Amount": 21.50}
				},
				"Offers": [
					{
						"SellerId": "A1SELLER",
						"SubCondition": "new",
						"ListingPrice": {"Amount": 19.99},
						"Shipping": {"Amount": 0},
						"IsFulfilledByAmazon": true,
						"IsBuyBoxWinner": true,
						"IsFeaturedMerchant": true,
						"SellerFeedbackRating": {
							"SellerPositiveFeedbackRating": 98.5,
							"FeedbackCount": 1200
						},
						"ShipsFrom": {"Country": "US"},
						"ShippingTime": {"MinimumHours": 0, "MaximumHours": 24},
						"PrimeInformation": {"IsPrime": true}
					}
				]
			}
		}
	}`)

	env, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse 失败: %v", err)
	}
	payload, err := env.OfferChanged()
	if err != nil {
		t.Fatalf("OfferChanged 失败: %v", err)
	}

	if payload.SellerID != "A1SELLER" {
		t.Fatalf("unexpected seller %s", payload.SellerID)
	}
	if payload.Trigger.ASIN != "B000TEST00" || payload.Trigger.MarketplaceID != "ATVPDKIKX0DER" {
		t.Fatalf("trigger 解析不完整: %#v", payload.Trigger)
	}
	if payload.Summary.CompetitivePriceThreshold == nil {
		t.Fatal("阈值应被解析")
	}
	if len(payload.Offers) != 1 {
		t.Fatalf("unexpected offer count %d", len(payload.Offers))
	}

	offer := payload.Offers[0]
	if offer.ListingPrice == nil || !offer.ListingPrice.Equal(decimal.RequireFromString("19.99")) {
		t.Fatalf("listing price 解析错误: %v", offer.ListingPrice)
	}
	if !offer.IsBuyBoxWinner || !offer.IsFulfilledByAmazon || !offer.IsPrime {
		t.Fatalf("布尔字段解析错误: %#v", offer)
	}
	if offer.SellerFeedbackRating == nil || offer.FeedbackCount == nil || *offer.FeedbackCount != 1200 {
		t.Fatalf("反馈评分解析错误: %#v", offer)
	}
	if offer.ShipsFromCountry != "US" {
		t.Fatalf("unexpected ships-from %s", offer.ShipsFromCountry)
	}
	if offer.ShippingTimeMaxHours == nil || *offer.ShippingTimeMaxHours != 24 {
		t.Fatalf("shipping time 解析错误: %#v", offer)
	}
}

func TestOfferChangedMissingTrigger(t *testing.T) {
	body := []byte(`{
		"NotificationType": "ANY_OFFER_CHANGED",
		"Payload": {"AnyOfferChangedNotification": {"SellerId": "A1SELLER"}}
	}`)

	env, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse 失败: %v", err)
	}
	if _, err := env.OfferChanged(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("缺少 trigger 应判定 malformed: %v", err)
	}
}

func TestPricingHealthRequiresMerchantPrice(t *testing.T) {
	body := []byte(`{
		"NotificationType": "PRICING_HEALTH",
		"Payload": {
			"PricingHealthNotification": {
				"SellerId": "A1SELLER",
				"OfferChangeTrigger": {"ASIN": "B000TEST00", "MarketplaceId": "ATVPDKIKX0DER"},
				"MerchantOffer": {"FulfillmentType": "AFN"}
			}
		}
	}`)

	env, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse 失败: %v", err)
	}
	if _, err := env.PricingHealth(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("缺少自家价格应判定 malformed: %v", err)
	}
}

func TestPricingHealthExtraction(t *testing.T) {
	body := []byte(`{
		"notificationType": "PRICING_HEALTH",
		"payload": {
			"pricingHealthNotification": {
				"sellerId": "A1SELLER",
				"offerChangeTrigger": {"asin": "B000TEST00", "marketplaceId": "ATVPDKIKX0DER"},
				"merchantOffer": {
					"listingPrice": {"amount": "24.99"},
					"shipping": {"amount": "1.00"},
					"fulfillmentType": "AFN"
				},
				"summary": {
					"referencePrice": {
						"competitivePriceThreshold": {"amount": 23.00}
					}
				}
			}
		}
	}`)

	env, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse 失败: %v", err)
	}
	payload, err := env.PricingHealth()
	if err != nil {
		t.Fatalf("PricingHealth 失败: %v", err)
	}

	if !payload.IsFulfilledByAmazon {
		t.Fatal("AFN 应映射到 FBA")
	}
	if payload.ListingPrice == nil || !payload.ListingPrice.Equal(decimal.RequireFromString("24.99")) {
		t.Fatalf("listing price 解析错误: %v", payload.ListingPrice)
	}
	if payload.CompetitivePriceThreshold == nil || !payload.CompetitivePriceThreshold.Equal(decimal.RequireFromString("23")) {
		t.Fatalf("阈值解析错误: %v", payload.CompetitivePriceThreshold)
	}
}

func TestListingLifecycleRequiresASIN(t *testing.T) {
	body := []byte(`{
		"NotificationType": "LISTINGS_ITEM_STATUS_CHANGE",
		"Payload": {"ListingsItemStatusChangeNotification": {"SellerId": "A1SELLER", "Status": "DELETED"}}
	}`)

	env, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse 失败: %v", err)
	}
	if _, err := env.ListingLifecycle(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("缺少 ASIN 应判定 malformed: %v", err)
	}
}

func TestReportFinishedExtraction(t *testing.T) {
	body := []byte(`{
		"NotificationType": "REPORT_PROCESSING_FINISHED",
		"Payload": {
			"ReportProcessingFinishedNotification": {
				"SellerId": "A1SELLER",
				"ReportId": "rpt-1",
				"ReportType": "GET_SELLER_FEEDBACK_DATA",
				"ProcessingStatus": "DONE"
			}
		}
	}`)

	env, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse 失败: %v", err)
	}
	payload, err := env.ReportFinished()
	if err != nil {
		t.Fatalf("ReportFinished 失败: %v", err)
	}
	if payload.ReportID != "rpt-1" || payload.ProcessingStatus != ReportStatusDone {
		t.Fatalf("report 解析不完整: %#v", payload)
	}
}
