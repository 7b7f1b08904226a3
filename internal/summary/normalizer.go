// Package summary extracts per-channel aggregate statistics from a
// notification's summary section.
package summary

import (
	"strings"

	"github.com/shopspring/decimal"

	"buybox-watcher/internal/notification"
	"buybox-watcher/internal/storage"
)

// Stats holds the normalized per-channel aggregates. Nil means the statistic
// was absent for the channel, which is distinct from zero.
type Stats struct {
	TotalOfferCount           *int
	LowestLandedPrice         *decimal.Decimal
	BuyboxLandedPrice         *decimal.Decimal
	BuyboxEligibleCount       *int
	CompetitivePriceThreshold *decimal.Decimal
}

// Normalize selects, per channel, the first summary variant with condition
// "new" (case-insensitive) whose channel label matches the channel's expected
// label; an unlabeled variant matches any channel. The competitive price
// threshold is channel-independent and copied to every channel unmodified.
func Normalize(s notification.Summary, channels []storage.Channel) map[storage.Channel]Stats {
	out := make(map[storage.Channel]Stats, len(channels))
	for _, channel := range channels {
		stats := Stats{
			CompetitivePriceThreshold: s.CompetitivePriceThreshold,
		}
		if v := pick(s.NumberOfOffers, channel); v != nil {
			stats.TotalOfferCount = v.OfferCount
		}
		if v := pick(s.LowestPrices, channel); v != nil {
			stats.LowestLandedPrice = v.LandedPrice
		}
		if v := pick(s.BuyBoxPrices, channel); v != nil {
			stats.BuyboxLandedPrice = v.LandedPrice
		}
		if v := pick(s.NumberOfBuyBoxEligibleOffers, channel); v != nil {
			stats.BuyboxEligibleCount = v.OfferCount
		}
		out[channel] = stats
	}
	return out
}

// ChannelLabel returns the label producers use to tag a channel's variants.
func ChannelLabel(channel storage.Channel) string {
	if channel == storage.ChannelFBA {
		return "Amazon"
	}
	return "Merchant"
}

func pick(variants []notification.SummaryVariant, channel storage.Channel) *notification.SummaryVariant {
	label := ChannelLabel(channel)
	for i := range variants {
		v := &variants[i]
		if !strings.EqualFold(v.Condition, "new") {
			continue
		}
		if v.FulfillmentChannel != "" && v.FulfillmentChannel != label {
			continue
		}
		return v
	}
	return nil
}
