package models

import (
	"errors"
	"time"
)

// ErrNotificationSent is returned when attempting to record a notification
// that was already dispatched for the same (owner, listing, change kind).
var ErrNotificationSent = errors.New("notification already sent")

// FuelType is the canonical fuel classification of a listing.
type FuelType string

const (
	FuelUnknown  FuelType = ""
	FuelPetrol   FuelType = "petrol"
	FuelDiesel   FuelType = "diesel"
	FuelElectric FuelType = "electric"
	FuelHybrid   FuelType = "hybrid"
	FuelLPG      FuelType = "lpg"
	FuelCNG      FuelType = "cng"
)

// Transmission is the canonical gearbox classification of a listing.
type Transmission string

const (
	TransmissionUnknown   Transmission = ""
	TransmissionManual    Transmission = "manual"
	TransmissionAutomatic Transmission = "automatic"
)

// Price is a monetary amount in minor currency units.
type Price struct {
	Cents    int64  `firestore:"cents" json:"cents" validate:"gte=0"`
	Currency string `firestore:"currency" json:"currency"`
}

// PricePoint is one observed price at a point in time.
type PricePoint struct {
	Price      Price     `firestore:"price" json:"price"`
	ObservedAt time.Time `firestore:"observedAt" json:"observedAt"`
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `firestore:"lat" json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `firestore:"lon" json:"lon" validate:"gte=-180,lte=180"`
}

// Location is the free-text place of a listing plus optional coordinates.
// Coordinates are nil when the upstream page exposes only a place name.
type Location struct {
	Text   string       `firestore:"text" json:"text"`
	Coords *Coordinates `firestore:"coords,omitempty" json:"coords,omitempty"`
}

// Listing is one normalized marketplace item. ExternalID uniquely identifies
// a listing across all time; price or attribute changes never change identity.
type Listing struct {
	ExternalID    string            `firestore:"-" json:"externalID" validate:"required"`
	Title         string            `firestore:"title" json:"title" validate:"required"`
	Brand         string            `firestore:"brand,omitempty" json:"brand,omitempty"`
	Model         string            `firestore:"model,omitempty" json:"model,omitempty"`
	Year          int               `firestore:"year,omitempty" json:"year,omitempty"` // 0 = unknown
	Price         Price             `firestore:"price" json:"price"`
	Mileage       int               `firestore:"mileage,omitempty" json:"mileage,omitempty"` // km, 0 = unknown
	Fuel          FuelType          `firestore:"fuel,omitempty" json:"fuel,omitempty"`
	Transmission  Transmission      `firestore:"transmission,omitempty" json:"transmission,omitempty"`
	Location      Location          `firestore:"location" json:"location"`
	URL           string            `firestore:"url" json:"url" validate:"required,url"`
	ImageURLs     []string          `firestore:"imageURLs,omitempty" json:"imageURLs,omitempty"`
	Description   string            `firestore:"description,omitempty" json:"description,omitempty"`
	PostedText    string            `firestore:"postedText,omitempty" json:"postedText,omitempty"`
	RawAttributes map[string]string `firestore:"rawAttributes,omitempty" json:"rawAttributes,omitempty"`
	FirstSeenAt   time.Time         `firestore:"firstSeenAt" json:"firstSeenAt"`
	LastCheckedAt time.Time         `firestore:"lastCheckedAt" json:"lastCheckedAt"`
	PriceHistory  []PricePoint      `firestore:"priceHistory" json:"priceHistory"`
}

// CurrentPrice returns the most recent recorded price, falling back to the
// listing price when no history has been written yet.
func (l *Listing) CurrentPrice() Price {
	if n := len(l.PriceHistory); n > 0 {
		return l.PriceHistory[n-1].Price
	}
	return l.Price
}
