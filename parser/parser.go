package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-ebooks/models"
	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
)

// ValidateRecord ensures the extractor captured the required fields.
func ValidateRecord(r *models.ListingRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("record missing title")
	}
	if strings.TrimSpace(r.Price) == "" {
		return fmt.Errorf("record missing price for %s", r.Title)
	}
	return nil
}

// StripPricePrefix drops the first n runes of a price text such as "EUR 199",
// which carries a fixed-width currency code and separator.
func StripPricePrefix(price string, n int) string {
	if n <= 0 {
		return price
	}
	for i := range price {
		if n == 0 {
			return price[i:]
		}
		n--
	}
	return ""
}

// LeadingToken returns text up to the first space. Star ratings read like
// "4,5 de un máximo de 5 estrellas".
func LeadingToken(text string) string {
	token, _, _ := strings.Cut(text, " ")
	return token
}

// Transliterate maps accented and other non-ASCII characters to their closest
// ASCII equivalents. Input is composed first so decomposed accents fold the
// same way as precomposed ones. The result is ASCII, so a second pass leaves
// it unchanged.
func Transliterate(s string) string {
	return unidecode.Unidecode(norm.NFC.String(s))
}
