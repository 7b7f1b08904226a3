package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"buybox-watcher/internal/alerting"
	"buybox-watcher/internal/reconcile"
	"buybox-watcher/internal/storage"
)

const marketplaceID = "ATVPDKIKX0DER"

// fakeStore implements every store interface the router consumes.
type fakeStore struct {
	seller       *storage.Seller
	subscription *storage.Subscription
	listing      *storage.Listing
	report       *storage.Report

	subErr error

	created        []*storage.Notification
	marks          map[uuid.UUID]string
	reasons        map[uuid.UUID]string
	deletedListing *uuid.UUID
	createdListing *storage.Listing
	reportStatus   string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		marks:   map[uuid.UUID]string{},
		reasons: map[uuid.UUID]string{},
	}
}

func (f *fakeStore) GetSellerByMerchantToken(ctx context.Context, token string) (*storage.Seller, error) {
	if f.seller != nil && f.seller.MerchantToken == token {
		return f.seller, nil
	}
	return nil, nil
}

func (f *fakeStore) UpdateSellerFeedbackRating(ctx context.Context, id uuid.UUID, rating decimal.Decimal) error {
	return nil
}

func (f *fakeStore) GetSubscriptionByType(ctx context.Context, notificationType string) (*storage.Subscription, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	if f.subscription != nil && f.subscription.NotificationType == notificationType {
		return f.subscription, nil
	}
	return nil, nil
}

func (f *fakeStore) GetListing(ctx context.Context, sellerID uuid.UUID, asin, marketplace string) (*storage.Listing, error) {
	if f.listing != nil && f.listing.ASIN == asin {
		return f.listing, nil
	}
	return nil, nil
}

func (f *fakeStore) CreateListing(ctx context.Context, listing *storage.Listing) error {
	f.createdListing = listing
	return nil
}

func (f *fakeStore) DeleteListing(ctx context.Context, id uuid.UUID) error {
	f.deletedListing = &id
	return nil
}

func (f *fakeStore) CreateNotification(ctx context.Context, n *storage.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	f.created = append(f.created, n)
	return nil
}

func (f *fakeStore) MarkNotification(ctx context.Context, id uuid.UUID, status string, reason *string) error {
	f.marks[id] = status
	if reason != nil {
		f.reasons[id] = *reason
	}
	return nil
}

func (f *fakeStore) GetReportByExternalID(ctx context.Context, externalID string) (*storage.Report, error) {
	if f.report != nil && f.report.ExternalReportID == externalID {
		return f.report, nil
	}
	return nil, nil
}

func (f *fakeStore) UpdateReportStatus(ctx context.Context, id uuid.UUID, status string) error {
	f.reportStatus = status
	return nil
}

// fakeResolver returns a canned listing.
type fakeResolver struct {
	listing *storage.Listing
	err     error
}

func (f *fakeResolver) Resolve(ctx context.Context, seller *storage.Seller, asin string) (*storage.Listing, error) {
	return f.listing, f.err
}

// recordingRunner fails the test if a transaction starts when none should.
type recordingRunner struct {
	tx      *memTx
	invoked bool
}

func (r *recordingRunner) WithListingTx(ctx context.Context, listingID uuid.UUID, fn func(tx storage.ListingTx) error) error {
	r.invoked = true
	return fn(r.tx)
}

type memTx struct {
	offers     []storage.Offer
	activities []storage.BuyboxActivity
}

func (m *memTx) OwnOffers(ctx context.Context) ([]storage.Offer, error) { return nil, nil }
func (m *memTx) ReplaceOffers(ctx context.Context, offers []storage.Offer) error {
	m.offers = offers
	return nil
}
func (m *memTx) UpsertOwnOffer(ctx context.Context, offer storage.Offer) error {
	m.offers = append(m.offers, offer)
	return nil
}
func (m *memTx) UpsertSummary(ctx context.Context, s storage.OfferSummary) error { return nil }
func (m *memTx) InsertActivity(ctx context.Context, a storage.BuyboxActivity) error {
	m.activities = append(m.activities, a)
	return nil
}

type capturedNote struct {
	notes []alerting.Notification
}

func (c *capturedNote) Notify(ctx context.Context, note alerting.Notification) error {
	c.notes = append(c.notes, note)
	return nil
}

func newTestRouter(store *fakeStore, res *fakeResolver, runner *recordingRunner, notifier alerting.Notifier) *Router {
	rec := reconcile.New(runner, store, zerolog.Nop())
	return New(
		Options{MarketplaceID: marketplaceID},
		Stores{
			Sellers:       store,
			Subscriptions: store,
			Listings:      store,
			Notifications: store,
			Reports:       store,
		},
		rec, res, nil, notifier, zerolog.Nop(),
	)
}

func seededStore(notificationType string) *fakeStore {
	store := newFakeStore()
	store.seller = &storage.Seller{ID: uuid.New(), MerchantToken: "A1SELLER", MarketplaceID: marketplaceID}
	store.subscription = &storage.Subscription{ID: uuid.New(), SellerID: store.seller.ID, NotificationType: notificationType}
	return store
}

func offerChangedBody(marketplace string, winner bool) []byte {
	isWinner := "false"
	if winner {
		isWinner = "true"
	}
	return []byte(`{
		"NotificationType": "ANY_OFFER_CHANGED",
		"EventTime": "2026-03-01T08:30:00Z",
		"NotificationMetadata": {"NotificationId": "evt-1"},
		"Payload": {
			"AnyOfferChangedNotification": {
				"SellerId": "A1SELLER",
				"OfferChangeTrigger": {"ASIN": "B000TEST00", "MarketplaceId": "` + marketplace + `"},
				"Offers": [
					{
						"SellerId": "A1SELLER",
						"SubCondition": "new",
						"ListingPrice": {"Amount": 19.99},
						"IsFulfilledByAmazon": true,
						"IsBuyBoxWinner": ` + isWinner + `,
						"IsFeaturedMerchant": true
					}
				]
			}
		}
	}`)
}

func TestHandleMalformedBodyDropsWithoutRecord(t *testing.T) {
	store := newFakeStore()
	rtr := newTestRouter(store, &fakeResolver{}, &recordingRunner{tx: &memTx{}}, nil)

	result := rtr.Handle(context.Background(), []byte(`{"EventTime": "2026-03-01T08:30:00Z"}`))
	if result.Outcome != OutcomeDropped {
		t.Fatalf("malformed 应 Dropped: %#v", result)
	}
	if len(store.created) != 0 {
		t.Fatal("无法解析的消息不应落库")
	}
}

func TestHandleUnsupportedTypeMarkedUnsupported(t *testing.T) {
	store := newFakeStore()
	rtr := newTestRouter(store, &fakeResolver{}, &recordingRunner{tx: &memTx{}}, nil)

	result := rtr.Handle(context.Background(), []byte(`{"NotificationType": "FEE_PROMOTION", "EventTime": "2026-03-01T08:30:00Z"}`))
	if result.Outcome != OutcomeDropped {
		t.Fatalf("未知类型应 Dropped: %#v", result)
	}
	if len(store.created) != 1 {
		t.Fatalf("未知类型仍应落库: %d", len(store.created))
	}
	if store.marks[store.created[0].ID] != storage.NotificationUnsupported {
		t.Fatalf("状态应为 UNSUPPORTED: %s", store.marks[store.created[0].ID])
	}
}

func TestHandleNoSubscriptionDrops(t *testing.T) {
	store := newFakeStore()
	rtr := newTestRouter(store, &fakeResolver{}, &recordingRunner{tx: &memTx{}}, nil)

	result := rtr.Handle(context.Background(), offerChangedBody(marketplaceID, true))
	if result.Outcome != OutcomeDropped || result.Reason != "no subscription for type" {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestHandleSubscriptionLookupErrorDefers(t *testing.T) {
	store := newFakeStore()
	store.subErr = errors.New("db down")
	rtr := newTestRouter(store, &fakeResolver{}, &recordingRunner{tx: &memTx{}}, nil)

	result := rtr.Handle(context.Background(), offerChangedBody(marketplaceID, true))
	if result.Outcome != OutcomeDeferred {
		t.Fatalf("查询失败应 Deferred: %#v", result)
	}
	if len(store.created) != 0 {
		t.Fatal("Deferred 前不应落库")
	}
}

func TestHandleForeignMarketplaceDropsWithoutMutation(t *testing.T) {
	store := seededStore("ANY_OFFER_CHANGED")
	runner := &recordingRunner{tx: &memTx{}}
	rtr := newTestRouter(store, &fakeResolver{}, runner, nil)

	result := rtr.Handle(context.Background(), offerChangedBody("A1PA6795UKMFR9", true))
	if result.Outcome != OutcomeDropped || result.Reason != "marketplace not tracked" {
		t.Fatalf("unexpected result %#v", result)
	}
	if runner.invoked {
		t.Fatal("外部 marketplace 不应触发任何写入")
	}
	if store.marks[store.created[0].ID] != storage.NotificationDropped {
		t.Fatalf("状态应为 DROPPED: %s", store.marks[store.created[0].ID])
	}
}

func TestHandleUnknownSellerDrops(t *testing.T) {
	store := seededStore("ANY_OFFER_CHANGED")
	store.seller.MerchantToken = "SOMEONE_ELSE"
	rtr := newTestRouter(store, &fakeResolver{}, &recordingRunner{tx: &memTx{}}, nil)

	result := rtr.Handle(context.Background(), offerChangedBody(marketplaceID, true))
	if result.Outcome != OutcomeDropped || result.Reason != "unknown seller" {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestHandleUnresolvableListingDefersLeavingRecordProcessing(t *testing.T) {
	store := seededStore("ANY_OFFER_CHANGED")
	rtr := newTestRouter(store, &fakeResolver{listing: nil}, &recordingRunner{tx: &memTx{}}, nil)

	result := rtr.Handle(context.Background(), offerChangedBody(marketplaceID, true))
	if result.Outcome != OutcomeDeferred {
		t.Fatalf("不可解析的 listing 应 Deferred: %#v", result)
	}
	if len(store.created) != 1 {
		t.Fatalf("记录应已创建: %d", len(store.created))
	}
	if _, marked := store.marks[store.created[0].ID]; marked {
		t.Fatal("Deferred 的记录应停留在 PROCESSING")
	}
}

func TestHandleOfferChangedProcessedAndAlerts(t *testing.T) {
	store := seededStore("ANY_OFFER_CHANGED")
	listing := &storage.Listing{ID: uuid.New(), SellerID: store.seller.ID, ASIN: "B000TEST00", MarketplaceID: marketplaceID}
	runner := &recordingRunner{tx: &memTx{}}
	notifier := &capturedNote{}
	rtr := newTestRouter(store, &fakeResolver{listing: listing}, runner, notifier)

	result := rtr.Handle(context.Background(), offerChangedBody(marketplaceID, true))
	if result.Outcome != OutcomeProcessed {
		t.Fatalf("应 Processed: %#v", result)
	}
	if store.marks[store.created[0].ID] != storage.NotificationProcessed {
		t.Fatalf("状态应为 PROCESSED: %s", store.marks[store.created[0].ID])
	}
	if len(runner.tx.offers) != 1 {
		t.Fatalf("offer 快照未写入: %d", len(runner.tx.offers))
	}
	if len(notifier.notes) != 1 {
		t.Fatalf("WON 应触发一条告警: %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.Event != storage.ActivityWon || note.ASIN != "B000TEST00" {
		t.Fatalf("告警内容不对: %#v", note)
	}
	if !note.EventAt.Equal(time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("告警时间应取通知时间: %s", note.EventAt)
	}
}

func TestHandleLifecycleDeletedRemovesListing(t *testing.T) {
	store := seededStore("LISTINGS_ITEM_STATUS_CHANGE")
	store.listing = &storage.Listing{ID: uuid.New(), SellerID: store.seller.ID, ASIN: "B000TEST00", MarketplaceID: marketplaceID}
	rtr := newTestRouter(store, &fakeResolver{}, &recordingRunner{tx: &memTx{}}, nil)

	body := []byte(`{
		"NotificationType": "LISTINGS_ITEM_STATUS_CHANGE",
		"EventTime": "2026-03-01T08:30:00Z",
		"Payload": {
			"ListingsItemStatusChangeNotification": {
				"SellerId": "A1SELLER",
				"Asin": "B000TEST00",
				"MarketplaceId": "ATVPDKIKX0DER",
				"Status": "DELETED"
			}
		}
	}`)

	result := rtr.Handle(context.Background(), body)
	if result.Outcome != OutcomeProcessed {
		t.Fatalf("应 Processed: %#v", result)
	}
	if store.deletedListing == nil || *store.deletedListing != store.listing.ID {
		t.Fatal("listing 未被删除")
	}
}

func TestHandleLifecycleUnknownSellerDropsAndAcks(t *testing.T) {
	store := newFakeStore()
	store.subscription = &storage.Subscription{ID: uuid.New(), NotificationType: "LISTINGS_ITEM_STATUS_CHANGE"}
	rtr := newTestRouter(store, &fakeResolver{}, &recordingRunner{tx: &memTx{}}, nil)

	body := []byte(`{
		"NotificationType": "LISTINGS_ITEM_STATUS_CHANGE",
		"Payload": {
			"ListingsItemStatusChangeNotification": {
				"SellerId": "STRANGER",
				"Asin": "B000TEST00",
				"Status": "CREATED"
			}
		}
	}`)

	result := rtr.Handle(context.Background(), body)
	if result.Outcome != OutcomeDropped || result.Reason != "unknown seller" {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestHandleReportFinishedUnknownReportDrops(t *testing.T) {
	store := seededStore("REPORT_PROCESSING_FINISHED")
	rtr := newTestRouter(store, &fakeResolver{}, &recordingRunner{tx: &memTx{}}, nil)

	body := []byte(`{
		"NotificationType": "REPORT_PROCESSING_FINISHED",
		"Payload": {
			"ReportProcessingFinishedNotification": {
				"SellerId": "A1SELLER",
				"ReportId": "rpt-unknown",
				"ReportType": "GET_SELLER_FEEDBACK_DATA",
				"ProcessingStatus": "DONE"
			}
		}
	}`)

	result := rtr.Handle(context.Background(), body)
	if result.Outcome != OutcomeDropped || result.Reason != "unknown report" {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestHandleReportFinishedPersistsStatus(t *testing.T) {
	store := seededStore("REPORT_PROCESSING_FINISHED")
	store.report = &storage.Report{ID: uuid.New(), SellerID: store.seller.ID, ExternalReportID: "rpt-1", ReportType: "GET_SELLER_FEEDBACK_DATA"}
	rtr := newTestRouter(store, &fakeResolver{}, &recordingRunner{tx: &memTx{}}, nil)

	body := []byte(`{
		"NotificationType": "REPORT_PROCESSING_FINISHED",
		"Payload": {
			"ReportProcessingFinishedNotification": {
				"SellerId": "A1SELLER",
				"ReportId": "rpt-1",
				"ReportType": "GET_SELLER_FEEDBACK_DATA",
				"ProcessingStatus": "CANCELLED"
			}
		}
	}`)

	result := rtr.Handle(context.Background(), body)
	if result.Outcome != OutcomeProcessed {
		t.Fatalf("非 DONE 报告也应 Processed: %#v", result)
	}
	if store.reportStatus != "CANCELLED" {
		t.Fatalf("报告状态未持久化: %s", store.reportStatus)
	}
}
