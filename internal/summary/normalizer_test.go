package summary

import (
	"testing"

	"github.com/shopspring/decimal"

	"buybox-watcher/internal/notification"
	"buybox-watcher/internal/storage"
)

func intp(v int) *int { return &v }

func decp(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestNormalizeAbsentIsNotZero(t *testing.T) {
	stats := Normalize(notification.Summary{}, storage.Channels)

	for _, channel := range storage.Channels {
		s := stats[channel]
		if s.TotalOfferCount != nil || s.LowestLandedPrice != nil || s.BuyboxLandedPrice != nil || s.BuyboxEligibleCount != nil {
			t.Fatalf("空 summary 的统计应全为 nil: %#v", s)
		}
	}
}

func TestNormalizeChannelLabels(t *testing.T) {
	in := notification.Summary{
		NumberOfOffers: []notification.SummaryVariant{
			{Condition: "New", FulfillmentChannel: "Amazon", OfferCount: intp(5)},
			{Condition: "New", FulfillmentChannel: "Merchant", OfferCount: intp(3)},
		},
	}

	stats := Normalize(in, storage.Channels)
	if got := stats[storage.ChannelFBA].TotalOfferCount; got == nil || *got != 5 {
		t.Fatalf("FBA 应取 Amazon 标签的统计: %v", got)
	}
	if got := stats[storage.ChannelMerchant].TotalOfferCount; got == nil || *got != 3 {
		t.Fatalf("MERCHANT 应取 Merchant 标签的统计: %v", got)
	}
}

func TestNormalizeUnlabeledVariantMatchesAnyChannel(t *testing.T) {
	in := notification.Summary{
		LowestPrices: []notification.SummaryVariant{
			{Condition: "new", LandedPrice: decp("12.34")},
		},
	}

	stats := Normalize(in, storage.Channels)
	for _, channel := range storage.Channels {
		price := stats[channel].LowestLandedPrice
		if price == nil || !price.Equal(decimal.RequireFromString("12.34")) {
			t.Fatalf("未标注 channel 的 variant 应匹配 %s: %v", channel, price)
		}
	}
}

func TestNormalizeIgnoresNonNewConditions(t *testing.T) {
	in := notification.Summary{
		BuyBoxPrices: []notification.SummaryVariant{
			{Condition: "Used", LandedPrice: decp("5.00")},
			{Condition: "NEW", LandedPrice: decp("15.00")},
		},
	}

	stats := Normalize(in, storage.Channels)
	price := stats[storage.ChannelFBA].BuyboxLandedPrice
	if price == nil || !price.Equal(decimal.RequireFromString("15.00")) {
		t.Fatalf("condition 匹配应不区分大小写且跳过非 new: %v", price)
	}
}

func TestNormalizeCopiesThresholdToEveryChannel(t *testing.T) {
	in := notification.Summary{CompetitivePriceThreshold: decp("99.90")}

	stats := Normalize(in, storage.Channels)
	for _, channel := range storage.Channels {
		got := stats[channel].CompetitivePriceThreshold
		if got == nil || !got.Equal(decimal.RequireFromString("99.90")) {
			t.Fatalf("阈值应复制到 %s: %v", channel, got)
		}
	}
}
