package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Slots names the positions, inside an entry's ordered list of rows, that
// hold fields without a class of their own. Indexes are 0-based.
type Slots struct {
	PublishDate int `yaml:"publish_date"`
	Authors     int `yaml:"authors"`
}

// Max returns the highest slot index an entry must provide.
func (s Slots) Max() int {
	return max(s.PublishDate, s.Authors)
}

// Selectors maps the listing markup onto record fields. The defaults match the
// search layout the scraper was written against; a layout change only needs a
// new selectors file.
type Selectors struct {
	Entries         string `yaml:"entries"`
	TotalPages      string `yaml:"total_pages"`
	Title           string `yaml:"title"`
	Price           string `yaml:"price"`
	PricePrefixLen  int    `yaml:"price_prefix_len"`
	Stars           string `yaml:"stars"`
	RatingContainer string `yaml:"rating_container"`
	RatingCount     string `yaml:"rating_count"`
	Row             string `yaml:"row"`
	SmallText       string `yaml:"small_text"`
	Slots           Slots  `yaml:"slots"`
}

// DefaultSelectors returns the selectors for the classic search results layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Entries:         "ul.s-result-list > li.s-result-item",
		TotalPages:      "span.pagnDisabled",
		Title:           "h2.s-access-title",
		Price:           "span.s-price",
		PricePrefixLen:  4,
		Stars:           "span.a-icon-alt",
		RatingContainer: "div.a-span5",
		RatingCount:     "a.a-link-normal",
		Row:             "div.a-row",
		SmallText:       "span.a-size-small",
		Slots: Slots{
			PublishDate: 1,
			Authors:     3,
		},
	}
}

// LoadSelectors reads a YAML selectors file. Keys missing from the file keep
// their default value.
func LoadSelectors(path string) (Selectors, error) {
	sel := DefaultSelectors()

	data, err := os.ReadFile(path)
	if err != nil {
		return sel, fmt.Errorf("read selectors file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return sel, fmt.Errorf("parse selectors file: %w", err)
	}
	if err := sel.Validate(); err != nil {
		return sel, fmt.Errorf("selectors file %s: %w", path, err)
	}
	return sel, nil
}

// Validate rejects empty selectors and negative positions.
func (s Selectors) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"entries", s.Entries},
		{"total_pages", s.TotalPages},
		{"title", s.Title},
		{"price", s.Price},
		{"stars", s.Stars},
		{"rating_container", s.RatingContainer},
		{"rating_count", s.RatingCount},
		{"row", s.Row},
		{"small_text", s.SmallText},
	}
	for _, field := range required {
		if field.value == "" {
			return fmt.Errorf("%s selector cannot be empty", field.name)
		}
	}
	if s.PricePrefixLen < 0 {
		return fmt.Errorf("price prefix length cannot be negative")
	}
	if s.Slots.PublishDate < 0 || s.Slots.Authors < 0 {
		return fmt.Errorf("row slots cannot be negative")
	}
	return nil
}
