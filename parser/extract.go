// Package parser turns listing entry markup into records.
package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-ebooks/config"
	"github.com/aluiziolira/go-scrape-ebooks/models"
)

// MalformedEntryError reports an entry that lacks a structurally required
// field or row. The entry is skipped; the rest of the page is unaffected.
type MalformedEntryError struct {
	Field string
	Rows  int
}

func (e *MalformedEntryError) Error() string {
	if strings.HasPrefix(e.Field, "row") {
		return fmt.Sprintf("malformed entry: missing %s (entry has %d rows)", e.Field, e.Rows)
	}
	return fmt.Sprintf("malformed entry: missing %s", e.Field)
}

// Rows is the ordered list of row sections inside an entry. Fields without a
// class of their own live at a fixed slot of this list.
type Rows struct {
	sel *goquery.Selection
}

// NewRows wraps the row selection of one entry.
func NewRows(sel *goquery.Selection) Rows {
	return Rows{sel: sel}
}

// Len returns the number of rows.
func (r Rows) Len() int {
	if r.sel == nil {
		return 0
	}
	return r.sel.Length()
}

// Slot returns the row at index i.
func (r Rows) Slot(i int) (*goquery.Selection, bool) {
	if i < 0 || i >= r.Len() {
		return nil, false
	}
	return r.sel.Eq(i), true
}

// Require fails when slot i is out of range.
func (r Rows) Require(i int) error {
	if _, ok := r.Slot(i); !ok {
		return &MalformedEntryError{Field: fmt.Sprintf("row[%d]", i), Rows: r.Len()}
	}
	return nil
}

// Extract builds a record from one entry node. Missing optional fields
// resolve to their sentinel; a missing title, price, or slot row is a
// *MalformedEntryError.
func Extract(entry *goquery.Selection, sel config.Selectors) (*models.ListingRecord, error) {
	titleNode := entry.Find(sel.Title).First()
	if titleNode.Length() == 0 {
		return nil, &MalformedEntryError{Field: "title"}
	}
	title := Transliterate(titleNode.Text())
	if strings.TrimSpace(title) == "" {
		return nil, &MalformedEntryError{Field: "title"}
	}

	priceNode := entry.Find(sel.Price).First()
	if priceNode.Length() == 0 {
		return nil, &MalformedEntryError{Field: "price"}
	}
	price := StripPricePrefix(priceNode.Text(), sel.PricePrefixLen)
	if strings.TrimSpace(price) == "" {
		return nil, &MalformedEntryError{Field: "price"}
	}

	rows := NewRows(entry.Find(sel.Row))
	if err := rows.Require(sel.Slots.Max()); err != nil {
		return nil, err
	}

	stars, ratings := extractRating(entry, sel)

	return &models.ListingRecord{
		Title:       title,
		Price:       price,
		Ratings:     ratings,
		Stars:       stars,
		PublishDate: extractPublishDate(rows, sel),
		Authors:     Transliterate(extractAuthors(rows, sel)),
	}, nil
}

func extractRating(entry *goquery.Selection, sel config.Selectors) (stars, ratings string) {
	icons := entry.Find(sel.Stars)
	if icons.Length() == 0 {
		return models.NotAvailable, models.NoRatings
	}

	stars = LeadingToken(icons.First().Text())
	ratings = models.NoRatings

	count := entry.Find(sel.RatingContainer).First().Find(sel.RatingCount).First()
	if count.Length() > 0 {
		if text := count.Text(); text != "" {
			ratings = text
		}
	}
	return stars, ratings
}

func extractPublishDate(rows Rows, sel config.Selectors) string {
	row, ok := rows.Slot(sel.Slots.PublishDate)
	if !ok {
		return models.NotAvailable
	}
	date := row.Find(sel.SmallText).First()
	if date.Length() == 0 {
		return models.NotAvailable
	}
	return date.Text()
}

// extractAuthors joins the small-text spans of the authors row. The first
// span is the connector word ("by", "de") and is dropped.
func extractAuthors(rows Rows, sel config.Selectors) string {
	row, ok := rows.Slot(sel.Slots.Authors)
	if !ok {
		return ""
	}
	spans := row.Find(sel.SmallText)
	if spans.Length() < 2 {
		return ""
	}

	var b strings.Builder
	spans.Slice(1, spans.Length()).Each(func(_ int, s *goquery.Selection) {
		b.WriteString(s.Text())
	})
	return b.String()
}
