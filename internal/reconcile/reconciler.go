// Package reconcile replaces a listing's persisted offer set from a
// notification's full snapshot, assigns stable ranks, and detects own-offer
// buybox transitions.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"buybox-watcher/internal/notification"
	"buybox-watcher/internal/storage"
	"buybox-watcher/internal/summary"
)

// Reconciler applies reconciliation passes under the listing's transactional
// lock. The pass itself (buildPass) is a pure function over the prior own
// offers and the snapshot entries.
type Reconciler struct {
	store   storage.ListingTxRunner
	sellers storage.SellerStore
	logger  zerolog.Logger
}

// New constructs a Reconciler.
func New(store storage.ListingTxRunner, sellers storage.SellerStore, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		sellers: sellers,
		logger:  logger.With().Str("component", "reconciler").Logger(),
	}
}

// PassInput is everything one reconciliation pass consumes.
type PassInput struct {
	ListingID        uuid.UUID
	NotificationID   uuid.UUID
	OwnMerchantToken string
	Entries          []notification.OfferEntry
	Stats            map[storage.Channel]summary.Stats
	EventAt          time.Time
}

// Result reports what a pass persisted.
type Result struct {
	Offers     []storage.Offer
	Summaries  []storage.OfferSummary
	Activities []storage.BuyboxActivity
	Skipped    int
}

// Reconcile replaces the listing's offer set from the snapshot in entries.
// The snapshot is authoritative and complete, so the persisted set is
// discarded and rebuilt rather than patched; every step from reading the
// prior own-offer baseline to writing the audit rows happens inside one
// listing-locked transaction.
func (r *Reconciler) Reconcile(ctx context.Context, listing *storage.Listing, seller *storage.Seller, in PassInput) (*Result, error) {
	in.ListingID = listing.ID
	in.OwnMerchantToken = seller.MerchantToken

	var (
		result   Result
		feedback *decimal.Decimal
	)
	err := r.store.WithListingTx(ctx, listing.ID, func(tx storage.ListingTx) error {
		prior, err := tx.OwnOffers(ctx)
		if err != nil {
			return err
		}

		pass := buildPass(prior, in)
		if err := verifyRanks(pass.Offers); err != nil {
			return err
		}

		if err := tx.ReplaceOffers(ctx, pass.Offers); err != nil {
			return err
		}
		for _, s := range pass.Summaries {
			if err := tx.UpsertSummary(ctx, s); err != nil {
				return err
			}
		}
		for _, activity := range pass.Activities {
			if err := tx.InsertActivity(ctx, activity); err != nil {
				return err
			}
		}

		result = Result{
			Offers:     pass.Offers,
			Summaries:  pass.Summaries,
			Activities: pass.Activities,
			Skipped:    pass.Skipped,
		}
		feedback = pass.OwnFeedbackRating
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile listing %s: %w", listing.ASIN, err)
	}

	if result.Skipped > 0 {
		r.logger.Warn().
			Str("asin", listing.ASIN).
			Int("skipped", result.Skipped).
			Msg("skipped malformed offer entries")
	}

	// Feedback rating is independent seller state; a failure here must not
	// undo an already-committed pass.
	if feedback != nil && r.sellers != nil {
		if err := r.sellers.UpdateSellerFeedbackRating(ctx, seller.ID, *feedback); err != nil {
			r.logger.Error().Err(err).Str("seller", seller.MerchantToken).Msg("failed to update seller feedback rating")
		}
	}

	return &result, nil
}

// ApplyPricePatch upserts the single own offer and the summary threshold from
// a pricing-health notification. It never touches competitor offers and never
// emits buybox activity: the payload carries no information about them.
func (r *Reconciler) ApplyPricePatch(ctx context.Context, listing *storage.Listing, seller *storage.Seller, patch *notification.PricingHealthPayload, notificationID uuid.UUID, eventAt time.Time) error {
	channel := storage.ChannelMerchant
	if patch.IsFulfilledByAmazon {
		channel = storage.ChannelFBA
	}

	shipping := decimal.Zero
	if patch.ShippingPrice != nil {
		shipping = *patch.ShippingPrice
	}

	offer := storage.Offer{
		ListingID:      listing.ID,
		NotificationID: notificationID,
		MerchantToken:  seller.MerchantToken,
		Channel:        channel,
		ListingPrice:   *patch.ListingPrice,
		ShippingPrice:  shipping,
		IsOwnOffer:     true,
		Condition:      patch.Trigger.ItemCondition,
	}

	err := r.store.WithListingTx(ctx, listing.ID, func(tx storage.ListingTx) error {
		if err := tx.UpsertOwnOffer(ctx, offer); err != nil {
			return err
		}
		if patch.CompetitivePriceThreshold == nil {
			return nil
		}
		return tx.UpsertSummary(ctx, storage.OfferSummary{
			ListingID:                 listing.ID,
			Channel:                   channel,
			CompetitivePriceThreshold: patch.CompetitivePriceThreshold,
			EventAt:                   eventAt,
		})
	})
	if err != nil {
		return fmt.Errorf("price patch listing %s: %w", listing.ASIN, err)
	}
	return nil
}

type passResult struct {
	Offers            []storage.Offer
	Summaries         []storage.OfferSummary
	Activities        []storage.BuyboxActivity
	OwnFeedbackRating *decimal.Decimal
	Skipped           int
}

type offerKey struct {
	merchant string
	channel  storage.Channel
}

// buildPass materialises the new offer set from the snapshot. Entry order
// encodes the source's competitive ranking, so ranks follow first occurrence
// per channel; a duplicate (merchant, channel) entry may only take over the
// materialised offer's mutable fields when it is strictly cheaper and the
// offer is not currently the buybox winner, and it never moves the rank.
func buildPass(priorOwn []storage.Offer, in PassInput) passResult {
	out := passResult{}

	oldLanded := map[storage.Channel]*decimal.Decimal{}
	oldFlag := map[storage.Channel]bool{}
	for _, prior := range priorOwn {
		landed := prior.LandedPrice()
		oldLanded[prior.Channel] = &landed
		if prior.IsBuyboxWinner {
			oldFlag[prior.Channel] = true
		}
	}

	counters := map[storage.Channel]int{}
	for _, channel := range storage.Channels {
		counters[channel] = 1
	}

	index := map[offerKey]int{}
	materialized := make([]storage.Offer, 0, len(in.Entries))

	newLanded := map[storage.Channel]*decimal.Decimal{}
	newFlag := map[storage.Channel]bool{}

	for _, entry := range in.Entries {
		if !strings.EqualFold(entry.SubCondition, "new") {
			continue
		}
		if entry.ListingPrice == nil {
			out.Skipped++
			continue
		}

		channel := storage.ChannelMerchant
		if entry.IsFulfilledByAmazon {
			channel = storage.ChannelFBA
		}

		shipping := decimal.Zero
		if entry.ShippingPrice != nil {
			shipping = *entry.ShippingPrice
		}
		landed := entry.ListingPrice.Add(shipping)
		isOwn := entry.SellerID == in.OwnMerchantToken

		if isOwn && entry.SellerFeedbackRating != nil {
			rating := *entry.SellerFeedbackRating
			out.OwnFeedbackRating = &rating
		}

		key := offerKey{merchant: entry.SellerID, channel: channel}
		idx, seen := index[key]
		if !seen {
			offer := storage.Offer{
				ID:                uuid.New(),
				ListingID:         in.ListingID,
				NotificationID:    in.NotificationID,
				MerchantToken:     entry.SellerID,
				Channel:           channel,
				Rank:              counters[channel],
				ListingPrice:      *entry.ListingPrice,
				ShippingPrice:     shipping,
				IsOwnOffer:        isOwn,
				IsFBA:             entry.IsFulfilledByAmazon,
				IsBuyboxWinner:    entry.IsBuyBoxWinner,
				IsBuyboxEligible:  entry.IsFeaturedMerchant,
				Condition:         "New",
				SubCondition:      entry.SubCondition,
				ShipsFrom:         entry.ShipsFromCountry,
				ShippingTimeMin:   entry.ShippingTimeMinHours,
				ShippingTimeMax:   entry.ShippingTimeMaxHours,
				IsPrime:           entry.IsPrime,
				ShipsDomestically: entry.ShipsDomestically,
				FeedbackRating:    entry.SellerFeedbackRating,
				FeedbackCount:     entry.FeedbackCount,
			}
			counters[channel]++
			materialized = append(materialized, offer)
			idx = len(materialized) - 1
			index[key] = idx
		} else {
			existing := &materialized[idx]
			if !existing.IsBuyboxWinner && landed.LessThan(existing.LandedPrice()) {
				existing.ListingPrice = *entry.ListingPrice
				existing.ShippingPrice = shipping
				existing.IsBuyboxWinner = entry.IsBuyBoxWinner
				existing.IsBuyboxEligible = entry.IsFeaturedMerchant
				existing.ShipsFrom = entry.ShipsFromCountry
				existing.ShippingTimeMin = entry.ShippingTimeMinHours
				existing.ShippingTimeMax = entry.ShippingTimeMaxHours
				existing.IsPrime = entry.IsPrime
				existing.ShipsDomestically = entry.ShipsDomestically
			}
		}

		current := materialized[index[key]]
		if current.IsOwnOffer && current.IsBuyboxWinner {
			currentLanded := current.LandedPrice()
			newLanded[channel] = &currentLanded
			newFlag[channel] = true
		}
	}

	for _, channel := range storage.Channels {
		if newFlag[channel] == oldFlag[channel] {
			continue
		}
		event := storage.ActivityLost
		if newFlag[channel] {
			event = storage.ActivityWon
		}
		out.Activities = append(out.Activities, storage.BuyboxActivity{
			ListingID:      in.ListingID,
			Channel:        channel,
			Event:          event,
			OldLandedPrice: oldLanded[channel],
			NewLandedPrice: newLanded[channel],
			EventAt:        in.EventAt,
		})
	}

	for _, channel := range storage.Channels {
		stats, ok := in.Stats[channel]
		if !ok {
			continue
		}
		out.Summaries = append(out.Summaries, storage.OfferSummary{
			ListingID:                 in.ListingID,
			Channel:                   channel,
			TotalOfferCount:           stats.TotalOfferCount,
			LowestLandedPrice:         stats.LowestLandedPrice,
			BuyboxLandedPrice:         stats.BuyboxLandedPrice,
			BuyboxEligibleCount:       stats.BuyboxEligibleCount,
			CompetitivePriceThreshold: stats.CompetitivePriceThreshold,
			EventAt:                   in.EventAt,
		})
	}

	out.Offers = materialized
	return out
}

// verifyRanks checks that ranks per channel form the contiguous sequence
// 1..K. A violation corrupts only the current pass, which stays uncommitted.
func verifyRanks(offers []storage.Offer) error {
	seen := map[storage.Channel]map[int]bool{}
	counts := map[storage.Channel]int{}
	for _, offer := range offers {
		if seen[offer.Channel] == nil {
			seen[offer.Channel] = map[int]bool{}
		}
		if seen[offer.Channel][offer.Rank] {
			return fmt.Errorf("duplicate rank %d in channel %s", offer.Rank, offer.Channel)
		}
		seen[offer.Channel][offer.Rank] = true
		counts[offer.Channel]++
	}
	for channel, count := range counts {
		for rank := 1; rank <= count; rank++ {
			if !seen[channel][rank] {
				return fmt.Errorf("rank gap at %d in channel %s", rank, channel)
			}
		}
	}
	return nil
}
