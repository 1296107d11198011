package models

import "time"

// RadiusCriterion restricts matches to listings within RadiusKM of Center.
// A listing without coordinates never satisfies a radius criterion.
type RadiusCriterion struct {
	Center   Coordinates `firestore:"center" json:"center"`
	RadiusKM float64     `firestore:"radiusKM" json:"radiusKM" validate:"gt=0"`
}

// Criteria is the set of conditions a listing must satisfy to match a filter.
// Empty sets mean "any"; nil range bounds mean unbounded in that direction.
// All range bounds are inclusive.
type Criteria struct {
	Brands        []string         `firestore:"brands,omitempty" json:"brands,omitempty" yaml:"brands"`
	Models        []string         `firestore:"models,omitempty" json:"models,omitempty" yaml:"models"`
	PriceMinCents *int64           `firestore:"priceMinCents,omitempty" json:"priceMinCents,omitempty" yaml:"priceMinCents"`
	PriceMaxCents *int64           `firestore:"priceMaxCents,omitempty" json:"priceMaxCents,omitempty" yaml:"priceMaxCents"`
	YearMin       *int             `firestore:"yearMin,omitempty" json:"yearMin,omitempty" yaml:"yearMin"`
	YearMax       *int             `firestore:"yearMax,omitempty" json:"yearMax,omitempty" yaml:"yearMax"`
	MileageMin    *int             `firestore:"mileageMin,omitempty" json:"mileageMin,omitempty" yaml:"mileageMin"`
	MileageMax    *int             `firestore:"mileageMax,omitempty" json:"mileageMax,omitempty" yaml:"mileageMax"`
	Fuels         []FuelType       `firestore:"fuels,omitempty" json:"fuels,omitempty" yaml:"fuels"`
	Transmissions []Transmission   `firestore:"transmissions,omitempty" json:"transmissions,omitempty" yaml:"transmissions"`
	LocationText  string           `firestore:"locationText,omitempty" json:"locationText,omitempty" yaml:"locationText"`
	Radius        *RadiusCriterion `firestore:"radius,omitempty" json:"radius,omitempty" yaml:"radius"`
}

// Filter is a user's saved search. The scheduler and matcher consume filters
// read-only; creation and editing belong to the chat front-end.
type Filter struct {
	ID        string    `firestore:"-" json:"id" validate:"required"`
	OwnerID   int64     `firestore:"ownerID" json:"ownerID" validate:"required"`
	Name      string    `firestore:"name,omitempty" json:"name,omitempty"`
	Criteria  Criteria  `firestore:"criteria" json:"criteria"`
	IsActive  bool      `firestore:"isActive" json:"isActive"`
	LastRunAt time.Time `firestore:"lastRunAt,omitempty" json:"lastRunAt,omitempty"`
	CreatedAt time.Time `firestore:"createdAt" json:"createdAt"`
}
