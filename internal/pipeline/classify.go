package pipeline

import (
	"time"

	"carscout/internal/models"
)

// Classify compares a freshly normalized listing against its stored version.
// A nil previous means the external id was never seen. Price movement wins
// over attribute changes when both occur in the same poll.
func Classify(incoming models.Listing, previous *models.Listing) models.ChangeKind {
	if previous == nil {
		return models.ChangeNew
	}

	prevPrice := previous.CurrentPrice()
	switch {
	case incoming.Price.Cents < prevPrice.Cents:
		return models.ChangePriceDrop
	case incoming.Price.Cents > prevPrice.Cents:
		return models.ChangePriceRise
	}

	if attributesChanged(incoming, *previous) {
		return models.ChangeAttribute
	}
	return models.ChangeUnchanged
}

func attributesChanged(incoming, previous models.Listing) bool {
	return incoming.Title != previous.Title ||
		incoming.Year != previous.Year ||
		incoming.Mileage != previous.Mileage ||
		incoming.Fuel != previous.Fuel ||
		incoming.Transmission != previous.Transmission ||
		incoming.Location.Text != previous.Location.Text ||
		incoming.Description != previous.Description
}

// merge folds a fresh observation into the stored listing state. First-seen
// survives forever, last-checked always advances, and the price history gains
// a point only when the observed price differs from the latest recorded one.
func merge(incoming models.Listing, previous *models.Listing, now time.Time) models.Listing {
	if previous == nil {
		incoming.FirstSeenAt = now
		incoming.LastCheckedAt = now
		incoming.PriceHistory = []models.PricePoint{{Price: incoming.Price, ObservedAt: now}}
		return incoming
	}

	merged := incoming
	merged.FirstSeenAt = previous.FirstSeenAt
	merged.LastCheckedAt = now
	merged.PriceHistory = previous.PriceHistory
	if previous.CurrentPrice().Cents != incoming.Price.Cents {
		merged.PriceHistory = append(merged.PriceHistory, models.PricePoint{Price: incoming.Price, ObservedAt: now})
	}
	return merged
}
