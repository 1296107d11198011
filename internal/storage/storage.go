// Package storage provides the Firestore and Postgres state store backends.
// Both satisfy the pipeline's store interfaces; the backend is selected at
// startup from configuration.
package storage

import "carscout/internal/pipeline"

var (
	_ pipeline.ListingStore      = (*FirestoreStore)(nil)
	_ pipeline.FilterStore       = (*FirestoreStore)(nil)
	_ pipeline.NotificationStore = (*FirestoreStore)(nil)

	_ pipeline.ListingStore      = (*PostgresStore)(nil)
	_ pipeline.FilterStore       = (*PostgresStore)(nil)
	_ pipeline.NotificationStore = (*PostgresStore)(nil)
)
