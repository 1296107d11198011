package scraper

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const upstreamBase = "https://www.kleinanzeigen.de"

// ErrSchemaDrift signals that the expected markup anchors are missing from a
// fetched page: the upstream page structure changed and the selector rules
// need review. Distinct from per-fragment anomalies, which only drop the
// affected fragment.
var ErrSchemaDrift = errors.New("upstream page structure changed")

// Fragment is one raw listing extracted from a search results page, before
// normalization. Optional fields are empty strings when absent.
type Fragment struct {
	ExternalID   string
	Title        string
	URL          string
	PriceText    string
	LocationText string
	PostedText   string
	Description  string
	ImageURL     string
}

// SearchPage is the parse result for one fetched search page.
type SearchPage struct {
	Fragments   []Fragment
	HasNextPage bool
	// Dropped counts fragments discarded for missing essential fields
	// (external id or price). Not fatal to the run.
	Dropped int
}

// Parser extracts listing fragments from raw search page HTML. Pure over its
// input; no network or storage access.
type Parser struct {
	sel SelectorConfig
}

// New returns a Parser bound to a selector configuration.
func New(sel SelectorConfig) *Parser {
	return &Parser{sel: sel}
}

// Parse turns one raw HTML page into listing fragments plus pagination
// metadata. A fragment missing a non-essential field is still emitted with
// that field unset; one missing its external id or price is dropped and
// counted. A page without the expected markup anchors yields ErrSchemaDrift.
func (p *Parser) Parse(rawHTML []byte) (*SearchPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	container := p.sel.SearchResults.Container
	elements := p.sel.SearchResults.Elements

	if doc.Find(container.Anchor).Length() == 0 {
		return nil, fmt.Errorf("results anchor %q not found: %w", container.Anchor, ErrSchemaDrift)
	}

	items := doc.Find(container.Item)
	if items.Length() == 0 {
		if doc.Find(container.EmptyMarker).Length() > 0 {
			// Legitimately empty result set.
			return &SearchPage{}, nil
		}
		return nil, fmt.Errorf("anchor present but zero %q fragments extracted: %w", container.Item, ErrSchemaDrift)
	}

	page := &SearchPage{}
	items.Each(func(_ int, s *goquery.Selection) {
		frag := p.parseFragment(s)
		if frag.PriceText == "" || (frag.ExternalID == "" && frag.URL == "") {
			page.Dropped++
			slog.Debug("Dropping fragment missing essential fields", "title", frag.Title, "url", frag.URL)
			return
		}
		page.Fragments = append(page.Fragments, frag)
	})

	page.HasNextPage = doc.Find(elements.NextPage).Length() > 0
	return page, nil
}

func (p *Parser) parseFragment(s *goquery.Selection) Fragment {
	container := p.sel.SearchResults.Container
	elements := p.sel.SearchResults.Elements

	var frag Fragment
	frag.ExternalID, _ = s.Attr(container.ExternalIDAttr)

	titleLink := s.Find(elements.TitleLink).First()
	if titleLink.Length() > 0 {
		frag.Title = strings.TrimSpace(titleLink.Text())
		if href, ok := titleLink.Attr("href"); ok {
			frag.URL = absoluteURL(href)
		}
	}

	frag.PriceText = strings.TrimSpace(s.Find(elements.Price).First().Text())
	frag.LocationText = strings.TrimSpace(s.Find(elements.Location).First().Text())
	frag.PostedText = strings.TrimSpace(s.Find(elements.PostedDate).First().Text())
	frag.Description = strings.TrimSpace(s.Find(elements.Description).First().Text())

	img := s.Find(elements.Image).First()
	if img.Length() > 0 {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			src, _ = img.Attr("data-src")
		}
		if src != "" {
			frag.ImageURL = absoluteURL(src)
		}
	}

	return frag
}

func absoluteURL(href string) string {
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(upstreamBase)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
