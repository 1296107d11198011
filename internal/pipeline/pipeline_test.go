package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"carscout/internal/config"
	"carscout/internal/models"
	"carscout/internal/scraper"
)

type memListings struct {
	m map[string]models.Listing
}

func newMemListings() *memListings { return &memListings{m: map[string]models.Listing{}} }

func (s *memListings) GetListing(_ context.Context, externalID string) (*models.Listing, error) {
	l, ok := s.m[externalID]
	if !ok {
		return nil, nil
	}
	cp := l
	return &cp, nil
}

func (s *memListings) SaveListing(_ context.Context, l models.Listing) error {
	s.m[l.ExternalID] = l
	return nil
}

type memNotes struct {
	m map[string]models.NotificationRecord
}

func newMemNotes() *memNotes { return &memNotes{m: map[string]models.NotificationRecord{}} }

func (s *memNotes) HasNotification(_ context.Context, rec models.NotificationRecord) (bool, error) {
	_, ok := s.m[rec.Key()]
	return ok, nil
}

func (s *memNotes) CreateNotification(_ context.Context, rec models.NotificationRecord) error {
	if _, ok := s.m[rec.Key()]; ok {
		return models.ErrNotificationSent
	}
	s.m[rec.Key()] = rec
	return nil
}

type sentMessage struct {
	ChatID int64
	Kind   models.ChangeKind
	ID     string
}

type fakeChat struct {
	sent []sentMessage
	fail bool
}

func (c *fakeChat) NotifyMatch(_ context.Context, chatID int64, l models.Listing, kind models.ChangeKind) error {
	if c.fail {
		return errors.New("chat api unavailable")
	}
	c.sent = append(c.sent, sentMessage{ChatID: chatID, Kind: kind, ID: l.ExternalID})
	return nil
}

// fakeFetcher serves the same HTML for every page request.
type fakeFetcher struct {
	html  string
	calls int
}

func (f *fakeFetcher) FetchPage(_ context.Context, _ string) ([]byte, error) {
	f.calls++
	return []byte(f.html), nil
}

func resultsPage(items ...string) string {
	page := `<html><body><ul id="srchrslt-adtable">`
	for _, it := range items {
		page += it
	}
	return page + `</ul></body></html>`
}

func adItem(adid, title, price string) string {
	return fmt.Sprintf(`<article class="aditem" data-adid="%s">
<h2 class="text-module-begin"><a href="/s-anzeige/x/%s-216-1">%s</a></h2>
<p class="aditem-main--middle--price-shipping--price">%s</p>
</article>`, adid, adid, title, price)
}

func testFilter() models.Filter {
	min, max := int64(500000), int64(1500000)
	yearMin := 2015
	return models.Filter{
		ID:      "filter-1",
		OwnerID: 42,
		Criteria: models.Criteria{
			Brands:        []string{"audi"},
			PriceMinCents: &min,
			PriceMaxCents: &max,
			YearMin:       &yearMin,
		},
		IsActive: true,
	}
}

type harness struct {
	pipeline *Pipeline
	fetch    *fakeFetcher
	listings *memListings
	notes    *memNotes
	chat     *fakeChat
}

func newHarness(html string) *harness {
	h := &harness{
		fetch:    &fakeFetcher{html: html},
		listings: newMemListings(),
		notes:    newMemNotes(),
		chat:     &fakeChat{},
	}
	cfg := config.PollConfig{MaxPages: 3, RunTimeout: time.Minute}
	h.pipeline = New(h.fetch, scraper.New(scraper.DefaultSelectors()), h.listings, NewDispatcher(h.notes, h.chat), cfg)
	return h
}

func TestRunFilter_NewMatchIsDelivered(t *testing.T) {
	h := newHarness(resultsPage(adItem("1000000001", "Audi A4 Avant, EZ 2018", "9.000 €")))

	stats, err := h.pipeline.RunFilter(context.Background(), testFilter())
	if err != nil {
		t.Fatalf("RunFilter() returned error: %v", err)
	}
	if stats.New != 1 || stats.Matched != 1 || stats.Delivered != 1 {
		t.Errorf("stats = %+v, want 1 new, 1 matched, 1 delivered", stats)
	}
	if len(h.chat.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(h.chat.sent))
	}
	if h.chat.sent[0].ChatID != 42 || h.chat.sent[0].Kind != models.ChangeNew {
		t.Errorf("sent = %+v", h.chat.sent[0])
	}

	stored, _ := h.listings.GetListing(context.Background(), "1000000001")
	if stored == nil {
		t.Fatal("listing was not persisted")
	}
	if stored.FirstSeenAt.IsZero() || len(stored.PriceHistory) != 1 {
		t.Errorf("stored bookkeeping = firstSeen %v, history %d", stored.FirstSeenAt, len(stored.PriceHistory))
	}
}

func TestRunFilter_RepollIsIdempotent(t *testing.T) {
	h := newHarness(resultsPage(adItem("1000000001", "Audi A4 Avant, EZ 2018", "9.000 €")))
	ctx := context.Background()

	if _, err := h.pipeline.RunFilter(ctx, testFilter()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	stats, err := h.pipeline.RunFilter(ctx, testFilter())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if stats.Delivered != 0 {
		t.Errorf("second identical run delivered %d notifications, want 0", stats.Delivered)
	}
	if len(h.chat.sent) != 1 {
		t.Errorf("total sent = %d, want 1", len(h.chat.sent))
	}
	if len(h.notes.m) != 1 {
		t.Errorf("notification records = %d, want 1", len(h.notes.m))
	}
}

func TestRunFilter_PriceDropThenUnchanged(t *testing.T) {
	h := newHarness(resultsPage(adItem("1000000001", "Audi A4 Avant, EZ 2018", "9.000 €")))
	ctx := context.Background()
	f := testFilter()

	if _, err := h.pipeline.RunFilter(ctx, f); err != nil {
		t.Fatalf("run 1: %v", err)
	}

	h.fetch.html = resultsPage(adItem("1000000001", "Audi A4 Avant, EZ 2018", "8.500 €"))
	stats, err := h.pipeline.RunFilter(ctx, f)
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if stats.Changed != 1 || stats.Delivered != 1 {
		t.Errorf("price drop run stats = %+v, want 1 changed, 1 delivered", stats)
	}
	if got := h.chat.sent[len(h.chat.sent)-1].Kind; got != models.ChangePriceDrop {
		t.Errorf("second notification kind = %q, want price_drop", got)
	}

	stats, err = h.pipeline.RunFilter(ctx, f)
	if err != nil {
		t.Fatalf("run 3: %v", err)
	}
	if stats.Changed != 0 || stats.Delivered != 0 {
		t.Errorf("unchanged run stats = %+v, want no changes and no deliveries", stats)
	}

	stored, _ := h.listings.GetListing(ctx, "1000000001")
	if len(stored.PriceHistory) != 2 {
		t.Errorf("price history has %d points, want 2", len(stored.PriceHistory))
	}
	if stored.CurrentPrice().Cents != 850000 {
		t.Errorf("current price = %d, want 850000", stored.CurrentPrice().Cents)
	}
}

func TestRunFilter_NonMatchingListingStillPersisted(t *testing.T) {
	h := newHarness(resultsPage(adItem("1000000002", "BMW 320i, EZ 2016", "9.000 €")))

	stats, err := h.pipeline.RunFilter(context.Background(), testFilter())
	if err != nil {
		t.Fatalf("RunFilter() returned error: %v", err)
	}
	if stats.Matched != 0 || len(h.chat.sent) != 0 {
		t.Errorf("non-matching listing triggered a notification: %+v", stats)
	}
	if stored, _ := h.listings.GetListing(context.Background(), "1000000002"); stored == nil {
		t.Error("non-matching listing must still be persisted")
	}
}

func TestRunFilter_FailedDispatchRetriesNextRun(t *testing.T) {
	h := newHarness(resultsPage(adItem("1000000001", "Audi A4 Avant, EZ 2018", "9.000 €")))
	h.chat.fail = true
	ctx := context.Background()
	f := testFilter()

	stats, err := h.pipeline.RunFilter(ctx, f)
	if err != nil {
		t.Fatalf("run with failing chat: %v", err)
	}
	if stats.FailedSends != 1 || stats.Delivered != 0 {
		t.Errorf("stats = %+v, want 1 failed send", stats)
	}
	if len(h.notes.m) != 0 {
		t.Errorf("failed dispatch must not write a record, got %d", len(h.notes.m))
	}

	h.chat.fail = false
	stats, err = h.pipeline.RunFilter(ctx, f)
	if err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if stats.Delivered != 1 {
		t.Errorf("retry run delivered %d, want 1", stats.Delivered)
	}
	if len(h.chat.sent) != 1 || h.chat.sent[0].Kind != models.ChangeNew {
		t.Errorf("retry sent = %+v", h.chat.sent)
	}
}

func TestRunFilter_SchemaDriftAbortsRun(t *testing.T) {
	h := newHarness(`<html><body><div class="redesigned"></div></body></html>`)

	_, err := h.pipeline.RunFilter(context.Background(), testFilter())
	if !errors.Is(err, scraper.ErrSchemaDrift) {
		t.Fatalf("expected schema drift error, got: %v", err)
	}
}

func TestRunFilter_UnparseableFragmentsAreDroppedNotFatal(t *testing.T) {
	h := newHarness(resultsPage(
		adItem("1000000001", "Audi A4 Avant, EZ 2018", "9.000 €"),
		adItem("1000000003", "Audi A6, EZ 2017", "Zu verschenken"),
	))

	stats, err := h.pipeline.RunFilter(context.Background(), testFilter())
	if err != nil {
		t.Fatalf("RunFilter() returned error: %v", err)
	}
	if stats.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", stats.Dropped)
	}
	if stats.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", stats.Delivered)
	}
}

func TestRunFilter_StopsWithoutNextPageMarker(t *testing.T) {
	h := newHarness(resultsPage(adItem("1000000001", "Audi A4 Avant, EZ 2018", "9.000 €")))

	if _, err := h.pipeline.RunFilter(context.Background(), testFilter()); err != nil {
		t.Fatalf("RunFilter() returned error: %v", err)
	}
	if h.fetch.calls != 1 {
		t.Errorf("fetched %d pages, want 1 when no next page is advertised", h.fetch.calls)
	}
}

func TestDispatcher_ConcurrentDuplicateCollapsesToAlreadySent(t *testing.T) {
	notes := newMemNotes()
	chat := &fakeChat{}
	d := NewDispatcher(notes, chat)
	listing := models.Listing{ExternalID: "ext123", Title: "Audi A4", URL: "https://example.com/1"}

	status, err := d.Dispatch(context.Background(), 42, listing, models.ChangeNew)
	if err != nil || status != Delivered {
		t.Fatalf("first dispatch = %v, %v", status, err)
	}
	status, err = d.Dispatch(context.Background(), 42, listing, models.ChangeNew)
	if err != nil || status != AlreadySent {
		t.Fatalf("second dispatch = %v, %v, want AlreadySent", status, err)
	}
	if len(chat.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(chat.sent))
	}

	// Same listing, different change kind is a fresh notification.
	status, _ = d.Dispatch(context.Background(), 42, listing, models.ChangePriceDrop)
	if status != Delivered {
		t.Errorf("different change kind = %v, want Delivered", status)
	}
}

func TestClassify(t *testing.T) {
	base := models.Listing{
		ExternalID: "ext123",
		Title:      "Audi A4",
		Price:      models.Price{Cents: 900000, Currency: "EUR"},
		Mileage:    89000,
		PriceHistory: []models.PricePoint{
			{Price: models.Price{Cents: 900000, Currency: "EUR"}},
		},
	}

	tests := []struct {
		name     string
		incoming func(models.Listing) models.Listing
		previous *models.Listing
		want     models.ChangeKind
	}{
		{
			name:     "never seen",
			incoming: func(l models.Listing) models.Listing { return l },
			previous: nil,
			want:     models.ChangeNew,
		},
		{
			name: "price drop",
			incoming: func(l models.Listing) models.Listing {
				l.Price.Cents = 850000
				return l
			},
			previous: &base,
			want:     models.ChangePriceDrop,
		},
		{
			name: "price rise",
			incoming: func(l models.Listing) models.Listing {
				l.Price.Cents = 950000
				return l
			},
			previous: &base,
			want:     models.ChangePriceRise,
		},
		{
			name: "mileage updated",
			incoming: func(l models.Listing) models.Listing {
				l.Mileage = 91000
				return l
			},
			previous: &base,
			want:     models.ChangeAttribute,
		},
		{
			name: "price change wins over attribute change",
			incoming: func(l models.Listing) models.Listing {
				l.Price.Cents = 850000
				l.Title = "Audi A4 (reduziert)"
				return l
			},
			previous: &base,
			want:     models.ChangePriceDrop,
		},
		{
			name:     "identical",
			incoming: func(l models.Listing) models.Listing { return l },
			previous: &base,
			want:     models.ChangeUnchanged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.incoming(base), tt.previous); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(10 * time.Minute)
	incoming := models.Listing{
		ExternalID: "ext123",
		Price:      models.Price{Cents: 900000, Currency: "EUR"},
	}

	first := merge(incoming, nil, now)
	if !first.FirstSeenAt.Equal(now) || !first.LastCheckedAt.Equal(now) {
		t.Errorf("first merge timestamps = %v / %v", first.FirstSeenAt, first.LastCheckedAt)
	}
	if len(first.PriceHistory) != 1 {
		t.Fatalf("first merge history = %d points, want 1", len(first.PriceHistory))
	}

	same := merge(incoming, &first, later)
	if len(same.PriceHistory) != 1 {
		t.Errorf("unchanged price must not append history, got %d points", len(same.PriceHistory))
	}
	if !same.FirstSeenAt.Equal(now) {
		t.Errorf("first seen must survive, got %v", same.FirstSeenAt)
	}
	if !same.LastCheckedAt.Equal(later) {
		t.Errorf("last checked must advance, got %v", same.LastCheckedAt)
	}

	dropped := incoming
	dropped.Price.Cents = 850000
	after := merge(dropped, &first, later)
	if len(after.PriceHistory) != 2 {
		t.Fatalf("price change must append history, got %d points", len(after.PriceHistory))
	}
	if after.PriceHistory[1].Price.Cents != 850000 || !after.PriceHistory[1].ObservedAt.Equal(later) {
		t.Errorf("appended point = %+v", after.PriceHistory[1])
	}
}
