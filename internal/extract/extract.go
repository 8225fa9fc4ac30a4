// Package extract parses fetched listing pages into normalized records
// using the per-target CSS selectors from the task registry.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mkalnins/sswatch/internal/fetch"
	"github.com/mkalnins/sswatch/internal/listing"
	"github.com/mkalnins/sswatch/internal/task"
)

// ErrMalformedPayload signals that the expected page structure is absent,
// which usually means the source site changed its layout. It is distinct
// from a well-formed page with zero listings, which is a valid result.
var ErrMalformedPayload = errors.New("malformed payload")

// Extractor turns raw pages into listing records.
type Extractor struct {
	logger *slog.Logger
}

// New creates an Extractor.
func New(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger.With(slog.String("component", "extractor"))}
}

// Extract parses all pages of a fetch result. Records are deduplicated by
// external ID across pages; the first occurrence wins. A page whose items
// all fail to yield the required fields is treated as malformed.
func (e *Extractor) Extract(target task.Target, pages []fetch.Page) ([]listing.Record, error) {
	var records []listing.Record
	seen := make(map[string]struct{})

	for _, page := range pages {
		pageRecords, err := e.extractPage(target, page)
		if err != nil {
			return nil, fmt.Errorf("page %d (%s): %w", page.Number, page.URL, err)
		}
		for _, r := range pageRecords {
			if _, dup := seen[r.ExternalID]; dup {
				continue
			}
			seen[r.ExternalID] = struct{}{}
			records = append(records, r)
		}
	}

	e.logger.Debug("extracted records",
		slog.String("task", target.Name),
		slog.Int("pages", len(pages)),
		slog.Int("records", len(records)),
	)
	return records, nil
}

func (e *Extractor) extractPage(target task.Target, page fetch.Page) ([]listing.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	sel := target.Selectors
	items := doc.Find(sel.Item)
	if items.Length() == 0 {
		// Zero items is a valid empty page only if the page otherwise
		// looks like a listing page: a missing body means layout drift.
		if doc.Find("body").Length() == 0 {
			return nil, fmt.Errorf("%w: no document body", ErrMalformedPayload)
		}
		return nil, nil
	}

	var records []listing.Record
	var skipped int
	items.Each(func(_ int, item *goquery.Selection) {
		rec, ok := e.extractItem(sel, item, page.URL)
		if !ok {
			skipped++
			return
		}
		records = append(records, rec)
	})

	if len(records) == 0 && skipped > 0 {
		// Every matched item was missing its required fields.
		return nil, fmt.Errorf("%w: %d items matched %q but none yielded id and title",
			ErrMalformedPayload, skipped, sel.Item)
	}
	if skipped > 0 {
		e.logger.Warn("skipped incomplete items",
			slog.String("task", target.Name),
			slog.Int("skipped", skipped),
		)
	}
	return records, nil
}

func (e *Extractor) extractItem(sel task.Selectors, item *goquery.Selection, pageURL string) (listing.Record, bool) {
	link := resolveURL(pageURL, attrValue(item, sel.Link, "href"))

	id := strings.TrimSpace(selectValue(item, sel.ID))
	if id == "" {
		id = idFromURL(link)
	}
	title := strings.TrimSpace(selectValue(item, sel.Title))
	if id == "" || title == "" {
		return listing.Record{}, false
	}

	priceCents, currency := NormalizePrice(selectValue(item, sel.Price))

	rec := listing.Record{
		ExternalID: id,
		Title:      title,
		PriceCents: priceCents,
		Currency:   currency,
		Location:   strings.TrimSpace(selectValue(item, sel.Location)),
		PostedAt:   NormalizeDate(selectValue(item, sel.Posted)),
		URL:        link,
	}
	rec.ContentHash = rec.Hash()
	return rec, true
}

// selectValue evaluates a selector spec against an item. A "@attr" suffix
// reads an attribute instead of text; a bare "@attr" reads the attribute
// of the item element itself.
func selectValue(item *goquery.Selection, spec string) string {
	if spec == "" {
		return ""
	}
	selector, attr := splitAttrSpec(spec)
	target := item
	if selector != "" {
		target = item.Find(selector).First()
	}
	if attr != "" {
		v, _ := target.Attr(attr)
		return v
	}
	return target.Text()
}

// attrValue is selectValue with a default attribute when the spec does
// not name one.
func attrValue(item *goquery.Selection, spec, defaultAttr string) string {
	if spec == "" {
		return ""
	}
	if _, attr := splitAttrSpec(spec); attr == "" {
		spec = spec + "@" + defaultAttr
	}
	return selectValue(item, spec)
}

func splitAttrSpec(spec string) (selector, attr string) {
	if i := strings.LastIndex(spec, "@"); i >= 0 {
		return strings.TrimSpace(spec[:i]), strings.TrimSpace(spec[i+1:])
	}
	return strings.TrimSpace(spec), ""
}

func resolveURL(pageURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// idFromURL derives a stable identifier from a listing URL, using the
// last path element without its extension (the source's message slug).
func idFromURL(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
