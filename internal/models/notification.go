package models

import (
	"fmt"
	"time"
)

// ChangeKind classifies how a re-observed listing differs from its last
// stored version.
type ChangeKind string

const (
	ChangeNew       ChangeKind = "new"
	ChangePriceDrop ChangeKind = "price_drop"
	ChangePriceRise ChangeKind = "price_rise"
	ChangeAttribute ChangeKind = "attribute_change"
	ChangeUnchanged ChangeKind = "unchanged"
)

// NotificationRecord is proof that a (owner, listing, change kind) tuple was
// dispatched. The triple is unique; stores enforce this on insert.
type NotificationRecord struct {
	OwnerID    int64      `firestore:"ownerID" json:"ownerID" validate:"required"`
	ExternalID string     `firestore:"externalID" json:"externalID" validate:"required"`
	ChangeKind ChangeKind `firestore:"changeKind" json:"changeKind" validate:"required"`
	SentAt     time.Time  `firestore:"sentAt" json:"sentAt"`
}

// Key returns the unique identity of the record, used as the document or row
// key so duplicate inserts collide.
func (r NotificationRecord) Key() string {
	return fmt.Sprintf("%d|%s|%s", r.OwnerID, r.ExternalID, r.ChangeKind)
}
