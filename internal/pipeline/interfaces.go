package pipeline

import (
	"context"
	"time"

	"carscout/internal/models"
	"carscout/internal/scraper"
)

// ListingStore persists canonical listings keyed by external id.
type ListingStore interface {
	// GetListing returns the stored listing, or nil when the external id has
	// never been seen.
	GetListing(ctx context.Context, externalID string) (*models.Listing, error)
	// SaveListing creates or replaces the stored listing. Implementations
	// must be safe under concurrent saves of the same external id.
	SaveListing(ctx context.Context, listing models.Listing) error
}

// FilterStore reads saved searches and records run bookkeeping.
type FilterStore interface {
	ListActiveFilters(ctx context.Context) ([]models.Filter, error)
	TouchFilterRun(ctx context.Context, filterID string, at time.Time) error
}

// NotificationStore enforces once-per-change delivery bookkeeping.
type NotificationStore interface {
	HasNotification(ctx context.Context, rec models.NotificationRecord) (bool, error)
	// CreateNotification records a dispatched notification. It returns
	// models.ErrNotificationSent when the same (owner, listing, change kind)
	// was already recorded, including by a concurrent run.
	CreateNotification(ctx context.Context, rec models.NotificationRecord) error
}

// ChatNotifier delivers one match to a chat owner.
type ChatNotifier interface {
	NotifyMatch(ctx context.Context, chatID int64, listing models.Listing, kind models.ChangeKind) error
}

// PageFetcher retrieves one search result page of raw HTML.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) ([]byte, error)
}

// PageParser extracts listing fragments from raw HTML.
type PageParser interface {
	Parse(rawHTML []byte) (*scraper.SearchPage, error)
}
