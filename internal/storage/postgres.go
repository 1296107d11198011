package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"carscout/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS listings (
    external_id     TEXT PRIMARY KEY,
    payload         JSONB NOT NULL,
    first_seen_at   TIMESTAMPTZ NOT NULL,
    last_checked_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS filters (
    id          TEXT PRIMARY KEY,
    owner_id    BIGINT NOT NULL,
    name        TEXT NOT NULL DEFAULT '',
    criteria    JSONB NOT NULL,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    last_run_at TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS notifications (
    key         TEXT PRIMARY KEY,
    owner_id    BIGINT NOT NULL,
    external_id TEXT NOT NULL,
    change_kind TEXT NOT NULL,
    sent_at     TIMESTAMPTZ NOT NULL
);
`

// PostgresStore is the relational counterpart of FirestoreStore. Listings are
// stored as one JSONB payload per external id with the timestamps broken out
// for trimming; notification uniqueness rides on the primary key.
type PostgresStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// NewPostgres opens the database and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetListing retrieves a listing by external id, or nil when never seen.
func (s *PostgresStore) GetListing(ctx context.Context, externalID string) (*models.Listing, error) {
	query := s.builder.
		Select("payload").
		From("listings").
		Where(sq.Eq{"external_id": externalID})

	var payload []byte
	err := query.RunWith(s.db).QueryRowContext(ctx).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing %s: %w", externalID, err)
	}

	var listing models.Listing
	if err := json.Unmarshal(payload, &listing); err != nil {
		return nil, fmt.Errorf("failed to unmarshal listing %s: %w", externalID, err)
	}
	return &listing, nil
}

// SaveListing upserts the full listing state.
func (s *PostgresStore) SaveListing(ctx context.Context, listing models.Listing) error {
	payload, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("failed to marshal listing %s: %w", listing.ExternalID, err)
	}

	query := s.builder.
		Insert("listings").
		Columns("external_id", "payload", "first_seen_at", "last_checked_at").
		Values(listing.ExternalID, payload, listing.FirstSeenAt, listing.LastCheckedAt).
		Suffix(`ON CONFLICT (external_id) DO UPDATE
		        SET payload = EXCLUDED.payload,
		            last_checked_at = EXCLUDED.last_checked_at`)

	if _, err := query.RunWith(s.db).ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to save listing %s: %w", listing.ExternalID, err)
	}
	return nil
}

// ListActiveFilters returns every filter flagged active.
func (s *PostgresStore) ListActiveFilters(ctx context.Context) ([]models.Filter, error) {
	query := s.builder.
		Select("id", "owner_id", "name", "criteria", "is_active", "last_run_at", "created_at").
		From("filters").
		Where(sq.Eq{"is_active": true})

	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query filters: %w", err)
	}
	defer rows.Close()

	var filters []models.Filter
	for rows.Next() {
		var (
			f         models.Filter
			criteria  []byte
			lastRunAt sql.NullTime
		)
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.Name, &criteria, &f.IsActive, &lastRunAt, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan filter: %w", err)
		}
		if err := json.Unmarshal(criteria, &f.Criteria); err != nil {
			slog.Warn("Skipping filter with undecodable criteria", "filter", f.ID, "error", err)
			continue
		}
		if lastRunAt.Valid {
			f.LastRunAt = lastRunAt.Time
		}
		filters = append(filters, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate filters: %w", err)
	}
	return filters, nil
}

// TouchFilterRun records when a filter was last attempted.
func (s *PostgresStore) TouchFilterRun(ctx context.Context, filterID string, at time.Time) error {
	query := s.builder.
		Update("filters").
		Set("last_run_at", at).
		Where(sq.Eq{"id": filterID})

	if _, err := query.RunWith(s.db).ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to touch filter %s: %w", filterID, err)
	}
	return nil
}

// HasNotification reports whether the record's key already exists.
func (s *PostgresStore) HasNotification(ctx context.Context, rec models.NotificationRecord) (bool, error) {
	query := s.builder.
		Select("1").
		From("notifications").
		Where(sq.Eq{"key": rec.Key()})

	var one int
	err := query.RunWith(s.db).QueryRowContext(ctx).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check notification %s: %w", rec.Key(), err)
	}
	return true, nil
}

// CreateNotification records a dispatched notification. A conflicting insert
// affects zero rows, which maps to models.ErrNotificationSent.
func (s *PostgresStore) CreateNotification(ctx context.Context, rec models.NotificationRecord) error {
	query := s.builder.
		Insert("notifications").
		Columns("key", "owner_id", "external_id", "change_kind", "sent_at").
		Values(rec.Key(), rec.OwnerID, rec.ExternalID, string(rec.ChangeKind), rec.SentAt).
		Suffix("ON CONFLICT (key) DO NOTHING")

	res, err := query.RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to create notification %s: %w", rec.Key(), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result for %s: %w", rec.Key(), err)
	}
	if affected == 0 {
		return models.ErrNotificationSent
	}
	return nil
}

// TrimOldListings deletes the least recently checked listings once the table
// exceeds maxListings.
func (s *PostgresStore) TrimOldListings(ctx context.Context, maxListings int) error {
	var current int
	countQuery := s.builder.Select("COUNT(*)").From("listings")
	if err := countQuery.RunWith(s.db).QueryRowContext(ctx).Scan(&current); err != nil {
		return fmt.Errorf("failed to count listings for trimming: %w", err)
	}
	if current <= maxListings {
		return nil
	}

	numToDelete := current - maxListings
	slog.Info("Trimming stale listings", "current", current, "max", maxListings, "deleting", numToDelete)

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM listings
		WHERE external_id IN (
			SELECT external_id FROM listings
			ORDER BY last_checked_at ASC
			LIMIT $1
		)`, numToDelete)
	if err != nil {
		return fmt.Errorf("failed to trim listings: %w", err)
	}
	return nil
}
