package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"carscout/internal/models"
)

const (
	listingsCollection      = "listings"
	filtersCollection       = "filters"
	notificationsCollection = "notifications"
)

// FirestoreStore persists listings, filters and notification bookkeeping in
// Firestore. Listing documents are keyed by external id, notification
// documents by the (owner, listing, change kind) key, so uniqueness is
// enforced by the database rather than by callers.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestore connects to the project's Firestore database.
func NewFirestore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// GetListing retrieves a listing by external id, or nil when never seen.
func (s *FirestoreStore) GetListing(ctx context.Context, externalID string) (*models.Listing, error) {
	doc, err := s.client.Collection(listingsCollection).Doc(externalID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get listing %s: %w", externalID, err)
	}

	var listing models.Listing
	if err := doc.DataTo(&listing); err != nil {
		return nil, fmt.Errorf("failed to unmarshal listing %s: %w", externalID, err)
	}
	listing.ExternalID = doc.Ref.ID
	return &listing, nil
}

// SaveListing writes the full listing state under its external id.
func (s *FirestoreStore) SaveListing(ctx context.Context, listing models.Listing) error {
	_, err := s.client.Collection(listingsCollection).Doc(listing.ExternalID).Set(ctx, listing)
	if err != nil {
		return fmt.Errorf("failed to save listing %s: %w", listing.ExternalID, err)
	}
	return nil
}

// ListActiveFilters returns every filter flagged active.
func (s *FirestoreStore) ListActiveFilters(ctx context.Context) ([]models.Filter, error) {
	iter := s.client.Collection(filtersCollection).
		Where("isActive", "==", true).
		Documents(ctx)
	defer iter.Stop()

	var filters []models.Filter
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate filters: %w", err)
		}

		var f models.Filter
		if err := doc.DataTo(&f); err != nil {
			slog.Warn("Skipping undecodable filter document", "doc", doc.Ref.ID, "error", err)
			continue
		}
		f.ID = doc.Ref.ID
		filters = append(filters, f)
	}
	return filters, nil
}

// TouchFilterRun records when a filter was last attempted.
func (s *FirestoreStore) TouchFilterRun(ctx context.Context, filterID string, at time.Time) error {
	_, err := s.client.Collection(filtersCollection).Doc(filterID).Update(ctx, []firestore.Update{
		{Path: "lastRunAt", Value: at},
	})
	if err != nil {
		return fmt.Errorf("failed to touch filter %s: %w", filterID, err)
	}
	return nil
}

// HasNotification reports whether the record's key already exists.
func (s *FirestoreStore) HasNotification(ctx context.Context, rec models.NotificationRecord) (bool, error) {
	_, err := s.client.Collection(notificationsCollection).Doc(rec.Key()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to check notification %s: %w", rec.Key(), err)
	}
	return true, nil
}

// CreateNotification records a dispatched notification. Create fails if the
// document already exists, which maps to models.ErrNotificationSent.
func (s *FirestoreStore) CreateNotification(ctx context.Context, rec models.NotificationRecord) error {
	_, err := s.client.Collection(notificationsCollection).Doc(rec.Key()).Create(ctx, rec)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return models.ErrNotificationSent
		}
		return fmt.Errorf("failed to create notification %s: %w", rec.Key(), err)
	}
	return nil
}

// TrimOldListings deletes the least recently checked listings once the
// collection exceeds maxListings. Listings that fall out of search results
// stop being checked, so last-checked ordering removes delisted items first.
func (s *FirestoreStore) TrimOldListings(ctx context.Context, maxListings int) error {
	collectionRef := s.client.Collection(listingsCollection)

	countSnapshot, err := collectionRef.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to count listings for trimming: %w", err)
	}
	countValue, ok := countSnapshot["all"]
	if !ok {
		return fmt.Errorf("count aggregation result was invalid: 'all' key missing")
	}
	pbValue, ok := countValue.(*firestorepb.Value)
	if !ok {
		return fmt.Errorf("count aggregation result has unexpected type %T", countValue)
	}
	current := int(pbValue.GetIntegerValue())

	if current <= maxListings {
		return nil
	}
	numToDelete := current - maxListings
	slog.Info("Trimming stale listings", "current", current, "max", maxListings, "deleting", numToDelete)

	iter := collectionRef.
		OrderBy("lastCheckedAt", firestore.Asc).
		Limit(numToDelete).
		Documents(ctx)
	defer iter.Stop()

	bulkWriter := s.client.BulkWriter(ctx)
	defer bulkWriter.End()

	deleted := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to iterate listings for trimming: %w", err)
		}
		if _, err := bulkWriter.Delete(doc.Ref); err != nil {
			slog.Warn("Failed to queue listing delete", "doc", doc.Ref.ID, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		bulkWriter.Flush()
		slog.Info("Flushed listing deletes", "count", deleted)
	}
	return nil
}
