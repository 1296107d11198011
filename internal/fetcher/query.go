package fetcher

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"carscout/internal/models"
)

const (
	baseURL     = "https://www.kleinanzeigen.de"
	carsSection = "/s-autos/c216"
)

// brandCategories maps canonical brand names to their upstream category slugs.
// Brands outside this table fall back to the generic cars section; the matcher
// narrows the results afterwards.
var brandCategories = map[string]string{
	"audi":       "c216l2705",
	"bmw":        "c216l2707",
	"mercedes":   "c216l2715",
	"volkswagen": "c216l2727",
	"opel":       "c216l2720",
	"ford":       "c216l2711",
	"toyota":     "c216l2725",
	"renault":    "c216l2722",
	"peugeot":    "c216l2721",
}

// Query is a prepared upstream search derived from filter criteria.
type Query struct {
	base string
}

// BuildQuery translates filter criteria into an upstream search URL. Only
// criteria the upstream search form supports are encoded; everything else is
// enforced later by the matcher. Results are sorted newest-first so the
// earliest pages carry the listings most likely to be unseen.
func BuildQuery(c models.Criteria) Query {
	path := carsSection
	if len(c.Brands) == 1 {
		brand := strings.ToLower(c.Brands[0])
		if slug, ok := brandCategories[brand]; ok {
			path = "/s-autos/" + brand + "/" + slug
		}
	}

	params := url.Values{}
	if c.PriceMinCents != nil {
		params.Set("priceFrom", strconv.FormatInt(*c.PriceMinCents/100, 10))
	}
	if c.PriceMaxCents != nil {
		params.Set("priceTo", strconv.FormatInt(*c.PriceMaxCents/100, 10))
	}
	if c.LocationText != "" {
		params.Set("locationStr", c.LocationText)
	}
	if c.Radius != nil {
		params.Set("radius", strconv.Itoa(int(c.Radius.RadiusKM)))
	}
	if c.YearMin != nil {
		params.Set("yearFrom", strconv.Itoa(*c.YearMin))
	}
	if c.YearMax != nil {
		params.Set("yearTo", strconv.Itoa(*c.YearMax))
	}
	if c.MileageMax != nil {
		params.Set("mileageTo", strconv.Itoa(*c.MileageMax))
	}
	params.Set("sortingField", "SORTING_DATE")

	return Query{base: baseURL + path + "?" + params.Encode()}
}

// PageURL returns the URL for one result page. Pages start at 1; pagination
// for a single query is strictly sequential.
func (q Query) PageURL(page int) string {
	if page <= 1 {
		return q.base
	}
	return q.base + "&pageNum=" + strconv.Itoa(page)
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return parsed.Hostname()
}

// String implements fmt.Stringer for log output.
func (q Query) String() string { return q.base }

var _ fmt.Stringer = Query{}
