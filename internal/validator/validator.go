package validator

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"carscout/internal/models"
)

// Validator is a wrapper around the validator library.
type Validator struct {
	validate *validator.Validate
}

// New creates a new Validator instance.
func New() *Validator {
	return &Validator{
		validate: validator.New(),
	}
}

// ValidateStruct validates a struct based on its tags.
func (v *Validator) ValidateStruct(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateFilter checks a filter's tagged fields plus the range invariants
// that struct tags cannot express: every bounded range must have min <= max.
func (v *Validator) ValidateFilter(f models.Filter) error {
	if err := v.ValidateStruct(f); err != nil {
		return err
	}
	c := f.Criteria
	if c.PriceMinCents != nil && c.PriceMaxCents != nil && *c.PriceMinCents > *c.PriceMaxCents {
		return fmt.Errorf("filter %s: price range min %d exceeds max %d", f.ID, *c.PriceMinCents, *c.PriceMaxCents)
	}
	if c.YearMin != nil && c.YearMax != nil && *c.YearMin > *c.YearMax {
		return fmt.Errorf("filter %s: year range min %d exceeds max %d", f.ID, *c.YearMin, *c.YearMax)
	}
	if c.MileageMin != nil && c.MileageMax != nil && *c.MileageMin > *c.MileageMax {
		return fmt.Errorf("filter %s: mileage range min %d exceeds max %d", f.ID, *c.MileageMin, *c.MileageMax)
	}
	return nil
}
