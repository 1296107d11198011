package scraper

import (
	"encoding/json"
	"fmt"
	"os"
)

// SelectorConfig externalizes the upstream page structure so a markup change
// is a config edit, not a code change.
type SelectorConfig struct {
	SearchResults ListSelectors `json:"search_results"`
}

type ListSelectors struct {
	Container ListContainer `json:"container"`
	Elements  ListElements  `json:"elements"`
}

type ListContainer struct {
	// Anchor is the structural element that must exist on every valid
	// search page; its absence signals schema drift.
	Anchor string `json:"anchor"`
	// Item selects one listing fragment.
	Item string `json:"item"`
	// ExternalIDAttr is the item attribute carrying the upstream ad id.
	ExternalIDAttr string `json:"external_id_attr"`
	// EmptyMarker distinguishes a legitimately empty result page from a
	// broken one.
	EmptyMarker string `json:"empty_marker"`
}

type ListElements struct {
	TitleLink   string `json:"title_link"`
	Price       string `json:"price"`
	Location    string `json:"location"`
	PostedDate  string `json:"posted_date"`
	Description string `json:"description"`
	Image       string `json:"image"`
	NextPage    string `json:"next_page"`
}

// LoadSelectors loads the selector configuration from the specified JSON file.
func LoadSelectors(path string) (SelectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to read selector config file: %w", err)
	}
	return LoadSelectorsFromBytes(data)
}

// LoadSelectorsFromBytes parses selector configuration from raw JSON bytes.
func LoadSelectorsFromBytes(data []byte) (SelectorConfig, error) {
	var config SelectorConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to parse selector config JSON: %w", err)
	}
	return config, nil
}

// DefaultSelectors returns the fallback configuration if no JSON file is
// loaded. The embedded selectors.json should be preferred.
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		SearchResults: ListSelectors{
			Container: ListContainer{
				Anchor:         "#srchrslt-adtable",
				Item:           "article.aditem",
				ExternalIDAttr: "data-adid",
				EmptyMarker:    ".outcomemessage",
			},
			Elements: ListElements{
				TitleLink:   "h2.text-module-begin a",
				Price:       "p.aditem-main--middle--price-shipping--price",
				Location:    ".aditem-main--top--left",
				PostedDate:  ".aditem-main--top--right",
				Description: "p.aditem-main--middle--description",
				Image:       ".imagebox img",
				NextPage:    ".pagination-next",
			},
		},
	}
}
