// Package resolver resolves listings against the upstream pricing lookup.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"buybox-watcher/internal/storage"
)

// ListingResolver resolves (or creates) the listing a notification refers to.
// Absence upstream is a valid, non-exceptional outcome and returns (nil, nil);
// the caller defers the notification for redelivery.
type ListingResolver interface {
	Resolve(ctx context.Context, seller *storage.Seller, asin string) (*storage.Listing, error)
}

// PricingLookupOptions parameterise the upstream pricing lookup.
type PricingLookupOptions struct {
	BaseURL        string
	Timeout        time.Duration
	UserAgent      string
	RequestsPerSec float64
}

// PricingLookup resolves listings via the upstream catalog/pricing API. The
// upstream is rate limited, so Resolve may block for multiple seconds waiting
// for a limiter slot; callers must not hold the listing lock across it.
type PricingLookup struct {
	opts     PricingLookupOptions
	listings storage.ListingStore
	limiter  *rate.Limiter
	client   *http.Client
	baseURL  string
	logger   zerolog.Logger
}

// NewPricingLookup constructs the resolver.
func NewPricingLookup(opts PricingLookupOptions, listings storage.ListingStore, logger zerolog.Logger) *PricingLookup {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := opts.RequestsPerSec
	if rps <= 0 {
		rps = 0.5
	}

	return &PricingLookup{
		opts:     opts,
		listings: listings,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		client:   &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		logger:   logger.With().Str("component", "listing_resolver").Logger(),
	}
}

// Resolve returns the seller's listing for asin, creating it on first sight
// when the upstream knows the item. (nil, nil) means the upstream has no data.
func (p *PricingLookup) Resolve(ctx context.Context, seller *storage.Seller, asin string) (*storage.Listing, error) {
	listing, err := p.listings.GetListing(ctx, seller.ID, asin, seller.MarketplaceID)
	if err != nil {
		return nil, err
	}
	if listing != nil {
		return listing, nil
	}

	known, err := p.lookupItem(ctx, seller, asin)
	if err != nil {
		return nil, err
	}
	if !known {
		p.logger.Debug().Str("asin", asin).Msg("upstream has no pricing data for item")
		return nil, nil
	}

	listing = &storage.Listing{
		SellerID:      seller.ID,
		ASIN:          asin,
		MarketplaceID: seller.MarketplaceID,
	}
	if err := p.listings.CreateListing(ctx, listing); err != nil {
		return nil, err
	}
	// Concurrent passes may have raced the insert; read back the winning row.
	return p.listings.GetListing(ctx, seller.ID, asin, seller.MarketplaceID)
}

func (p *PricingLookup) lookupItem(ctx context.Context, seller *storage.Seller, asin string) (bool, error) {
	if p.baseURL == "" {
		return false, errors.New("resolver base url not configured")
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return false, err
	}

	endpoint := fmt.Sprintf("%s/items/%s/offers?marketplaceId=%s", p.baseURL, asin, seller.MarketplaceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, parseHTTPError(resp.StatusCode, payload)
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("pricing lookup error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Code != "" {
			return fmt.Errorf("pricing lookup error (%d): %s", status, apiErr.Code)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("pricing lookup error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("pricing lookup error (%d)", status)
}

var _ ListingResolver = (*PricingLookup)(nil)
