package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"carscout/internal/models"
)

// DispatchStatus is the outcome of one dispatch attempt.
type DispatchStatus int

const (
	// Delivered means the message went out and the bookkeeping record exists.
	Delivered DispatchStatus = iota
	// AlreadySent means the (owner, listing, change kind) tuple was
	// dispatched before; nothing was emitted.
	AlreadySent
	// DispatchFailed means the delivery attempt errored; no record was
	// written, so the next run retries.
	DispatchFailed
)

func (s DispatchStatus) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case AlreadySent:
		return "already_sent"
	case DispatchFailed:
		return "dispatch_failed"
	}
	return fmt.Sprintf("DispatchStatus(%d)", int(s))
}

// Dispatcher delivers match notifications exactly once per (owner, listing,
// change kind) under normal operation. The record is written after the
// message goes out, so a crash in the gap can cause one duplicate on the next
// run; delivery is at-least-once, never silently dropped.
type Dispatcher struct {
	notes NotificationStore
	chat  ChatNotifier
	now   func() time.Time
}

// NewDispatcher wires delivery to its bookkeeping store.
func NewDispatcher(notes NotificationStore, chat ChatNotifier) *Dispatcher {
	return &Dispatcher{notes: notes, chat: chat, now: time.Now}
}

// Dispatch notifies the owner about one changed listing, unless the same
// change was already dispatched.
func (d *Dispatcher) Dispatch(ctx context.Context, ownerID int64, listing models.Listing, kind models.ChangeKind) (DispatchStatus, error) {
	rec := models.NotificationRecord{
		OwnerID:    ownerID,
		ExternalID: listing.ExternalID,
		ChangeKind: kind,
		SentAt:     d.now(),
	}

	sent, err := d.notes.HasNotification(ctx, rec)
	if err != nil {
		return DispatchFailed, fmt.Errorf("check notification %s: %w", rec.Key(), err)
	}
	if sent {
		return AlreadySent, nil
	}

	if err := d.chat.NotifyMatch(ctx, ownerID, listing, kind); err != nil {
		return DispatchFailed, fmt.Errorf("notify owner %d about %s: %w", ownerID, listing.ExternalID, err)
	}

	if err := d.notes.CreateNotification(ctx, rec); err != nil {
		if errors.Is(err, models.ErrNotificationSent) {
			// A concurrent run won the race after our check. The owner may
			// receive a duplicate this once; prefer that over losing the
			// record and duplicating on every future run.
			return AlreadySent, nil
		}
		slog.Warn("Notification delivered but record write failed; may re-send next run",
			"key", rec.Key(), "error", err)
		return Delivered, nil
	}
	return Delivered, nil
}
