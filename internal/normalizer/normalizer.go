package normalizer

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"carscout/internal/models"
	"carscout/internal/scraper"
)

// ErrMissingRequiredField is returned when a fragment's price or external
// identifier cannot be derived. Such fragments are dropped from the current
// run and re-attempted from fresh data on the next poll.
var ErrMissingRequiredField = errors.New("missing required field")

// brandAliases maps known spellings to canonical brand names.
var brandAliases = map[string]string{
	"audi":       "audi",
	"bmw":        "bmw",
	"mercedes":   "mercedes",
	"benz":       "mercedes",
	"vw":         "volkswagen",
	"volkswagen": "volkswagen",
	"opel":       "opel",
	"ford":       "ford",
	"toyota":     "toyota",
	"renault":    "renault",
	"peugeot":    "peugeot",
	"skoda":      "skoda",
	"škoda":      "skoda",
	"seat":       "seat",
	"mazda":      "mazda",
	"honda":      "honda",
	"nissan":     "nissan",
	"hyundai":    "hyundai",
	"kia":        "kia",
	"volvo":      "volvo",
	"fiat":       "fiat",
	"citroen":    "citroen",
	"citroën":    "citroen",
	"porsche":    "porsche",
	"mini":       "mini",
	"smart":      "smart",
	"dacia":      "dacia",
	"suzuki":     "suzuki",
	"mitsubishi": "mitsubishi",
}

var fuelKeywords = []struct {
	keyword string
	fuel    models.FuelType
}{
	{"elektro", models.FuelElectric},
	{"hybrid", models.FuelHybrid},
	{"diesel", models.FuelDiesel},
	{"benzin", models.FuelPetrol},
	{"autogas", models.FuelLPG},
	{"lpg", models.FuelLPG},
	{"erdgas", models.FuelCNG},
	{"cng", models.FuelCNG},
}

var (
	priceRegex      = regexp.MustCompile(`(\d{1,3}(?:\.\d{3})+|\d+)`)
	mileageRegex    = regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d{3})+|\d{3,6})\s*km`)
	regYearRegex    = regexp.MustCompile(`(?i)\bEZ\s*(\d{4})`)
	bareYearRegex   = regexp.MustCompile(`\b(19[89]\d|20[0-4]\d)\b`)
	externalIDRegex = regexp.MustCompile(`/(\d{6,})(?:-|/|$)`)
)

// Normalize converts a raw fragment into a canonical Listing. The returned
// listing carries no dedup bookkeeping yet; first-seen and price-history
// fields are owned by the change detector.
func Normalize(frag scraper.Fragment, now time.Time) (models.Listing, error) {
	externalID := frag.ExternalID
	if externalID == "" {
		externalID = deriveExternalID(frag.URL)
	}
	if externalID == "" {
		return models.Listing{}, fmt.Errorf("external id for %q: %w", frag.URL, ErrMissingRequiredField)
	}

	priceCents, negotiable, err := parsePrice(frag.PriceText)
	if err != nil {
		return models.Listing{}, fmt.Errorf("price for %s: %w", externalID, err)
	}

	searchText := frag.Title + " " + frag.Description
	brand, model := detectBrandModel(frag.Title)

	listing := models.Listing{
		ExternalID:   externalID,
		Title:        frag.Title,
		Brand:        brand,
		Model:        model,
		Year:         extractYear(searchText, now),
		Price:        models.Price{Cents: priceCents, Currency: "EUR"},
		Mileage:      extractMileage(searchText),
		Fuel:         extractFuel(searchText),
		Transmission: extractTransmission(searchText),
		Location:     models.Location{Text: frag.LocationText},
		URL:          canonicalURL(frag.URL),
		Description:  frag.Description,
		PostedText:   frag.PostedText,
	}
	if frag.ImageURL != "" {
		listing.ImageURLs = []string{frag.ImageURL}
	}
	if negotiable {
		listing.RawAttributes = map[string]string{"negotiable": "true"}
	}
	return listing, nil
}

// deriveExternalID extracts the numeric ad id from a listing URL path, e.g.
// /s-anzeige/audi-a4/2514773024-216-6325 -> 2514773024.
func deriveExternalID(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	m := externalIDRegex.FindStringSubmatch(parsed.Path)
	if m == nil {
		return ""
	}
	return m[1]
}

// parsePrice turns upstream price text ("12.500 €", "8.900 € VB") into euro
// cents. "VB" marks a negotiable asking price.
func parsePrice(text string) (cents int64, negotiable bool, err error) {
	if text == "" {
		return 0, false, ErrMissingRequiredField
	}
	m := priceRegex.FindString(text)
	if m == "" {
		return 0, false, ErrMissingRequiredField
	}
	euros, convErr := strconv.ParseInt(strings.ReplaceAll(m, ".", ""), 10, 64)
	if convErr != nil {
		return 0, false, ErrMissingRequiredField
	}
	return euros * 100, strings.Contains(text, "VB"), nil
}

func detectBrandModel(title string) (brand, model string) {
	tokens := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == 'ö' || r == 'ä' || r == 'ü' || r == 'ß' || r == 'é')
	})
	for i, tok := range tokens {
		canonical, ok := brandAliases[tok]
		if !ok {
			continue
		}
		brand = canonical
		if i+1 < len(tokens) {
			model = tokens[i+1]
		}
		return brand, model
	}
	return "", ""
}

func extractMileage(text string) int {
	m := mileageRegex.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	km, err := strconv.Atoi(strings.ReplaceAll(m[1], ".", ""))
	if err != nil {
		return 0
	}
	return km
}

// extractYear prefers an explicit registration marker ("EZ 2018") over a bare
// four-digit year, and rejects years outside 1980..now+1 as coincidental
// numbers rather than model years.
func extractYear(text string, now time.Time) int {
	maxYear := now.Year() + 1
	if m := regYearRegex.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		if year >= 1980 && year <= maxYear {
			return year
		}
	}
	if m := bareYearRegex.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		if year >= 1980 && year <= maxYear {
			return year
		}
	}
	return 0
}

func extractFuel(text string) models.FuelType {
	lower := strings.ToLower(text)
	for _, fk := range fuelKeywords {
		if strings.Contains(lower, fk.keyword) {
			return fk.fuel
		}
	}
	return models.FuelUnknown
}

func extractTransmission(text string) models.Transmission {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "automatik"), strings.Contains(lower, "automatic"):
		return models.TransmissionAutomatic
	case strings.Contains(lower, "schaltgetriebe"), strings.Contains(lower, "manuell"):
		return models.TransmissionManual
	}
	return models.TransmissionUnknown
}

// canonicalURL strips query and fragment so tracking parameters never leak
// into listing identity or stored state.
func canonicalURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}
