package matcher

import (
	"math"

	"carscout/internal/models"
)

const earthRadiusKM = 6371.0

// Matches evaluates a listing against filter criteria. Pure function, no
// I/O. Range bounds are inclusive; an absent bound is unbounded. Empty set
// criteria mean "any". Checks are ordered cheapest and most selective first
// so large listing batches short-circuit early.
func Matches(c models.Criteria, l models.Listing) bool {
	if !inInt64Range(l.Price.Cents, c.PriceMinCents, c.PriceMaxCents) {
		return false
	}
	if !inIntRange(l.Year, c.YearMin, c.YearMax) {
		return false
	}
	if !inIntRange(l.Mileage, c.MileageMin, c.MileageMax) {
		return false
	}
	if !inStringSet(l.Brand, c.Brands) {
		return false
	}
	if !inStringSet(l.Model, c.Models) {
		return false
	}
	if !inFuelSet(l.Fuel, c.Fuels) {
		return false
	}
	if !inTransmissionSet(l.Transmission, c.Transmissions) {
		return false
	}
	if c.Radius != nil {
		// A listing without coordinates never matches a radius filter:
		// failing closed beats notifying about cars across the country.
		if l.Location.Coords == nil {
			return false
		}
		if distanceKM(c.Radius.Center, *l.Location.Coords) > c.Radius.RadiusKM {
			return false
		}
	}
	return true
}

// inIntRange treats 0 as "value unknown": an unknown value fails any bounded
// range but passes an unconstrained one.
func inIntRange(value int, minBound, maxBound *int) bool {
	if minBound == nil && maxBound == nil {
		return true
	}
	if value == 0 {
		return false
	}
	if minBound != nil && value < *minBound {
		return false
	}
	if maxBound != nil && value > *maxBound {
		return false
	}
	return true
}

func inInt64Range(value int64, minBound, maxBound *int64) bool {
	if minBound != nil && value < *minBound {
		return false
	}
	if maxBound != nil && value > *maxBound {
		return false
	}
	return true
}

func inStringSet(value string, set []string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}

func inFuelSet(value models.FuelType, set []models.FuelType) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}

func inTransmissionSet(value models.Transmission, set []models.Transmission) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}

// distanceKM is the great-circle distance between two points (haversine).
func distanceKM(a, b models.Coordinates) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}
