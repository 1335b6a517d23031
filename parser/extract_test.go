package parser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-ebooks/config"
	"github.com/aluiziolira/go-scrape-ebooks/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entryFixture struct {
	title   string
	price   string
	stars   string
	count   string
	date    string
	authors []string
	rows    int
}

func fullEntry() entryFixture {
	return entryFixture{
		title:   "Go in Action",
		price:   "EUR 19,99",
		stars:   "4,5 de un máximo de 5 estrellas",
		count:   "1.234",
		date:    "12 abr 2018",
		authors: []string{"de ", "Jane", "Doe"},
		rows:    4,
	}
}

func (f entryFixture) html() string {
	var b strings.Builder
	b.WriteString(`<li class="s-result-item">`)
	for i := 0; i < f.rows; i++ {
		b.WriteString(`<div class="a-row">`)
		switch i {
		case 0:
			if f.title != "" {
				fmt.Fprintf(&b, `<h2 class="s-access-title">%s</h2>`, f.title)
			}
		case 1:
			if f.date != "" {
				fmt.Fprintf(&b, `<span class="a-size-small">%s</span>`, f.date)
			}
		case 2:
			if f.price != "" {
				fmt.Fprintf(&b, `<span class="s-price">%s</span>`, f.price)
			}
		case 3:
			for _, a := range f.authors {
				fmt.Fprintf(&b, `<span class="a-size-small">%s</span>`, a)
			}
		}
		b.WriteString(`</div>`)
	}
	if f.stars != "" {
		b.WriteString(`<div class="a-span5">`)
		fmt.Fprintf(&b, `<i class="a-icon-star"><span class="a-icon-alt">%s</span></i>`, f.stars)
		if f.count != "" {
			fmt.Fprintf(&b, `<a class="a-link-normal" href="#reviews">%s</a>`, f.count)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</li>`)
	return b.String()
}

func parseEntry(t *testing.T, f entryFixture) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><ul class="s-result-list">` + f.html() + `</ul></body></html>`,
	))
	require.NoError(t, err)
	entry := doc.Find("li.s-result-item").First()
	require.Equal(t, 1, entry.Length())
	return entry
}

func TestExtractFullEntry(t *testing.T) {
	record, err := Extract(parseEntry(t, fullEntry()), config.DefaultSelectors())
	require.NoError(t, err)

	assert.Equal(t, "Go in Action", record.Title)
	assert.Equal(t, "19,99", record.Price)
	assert.Equal(t, "4,5", record.Stars)
	assert.Equal(t, "1.234", record.Ratings)
	assert.Equal(t, "12 abr 2018", record.PublishDate)
	assert.Equal(t, "JaneDoe", record.Authors)
	assert.True(t, record.HasRatings())
}

func TestExtractOptionalFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*entryFixture)
		check  func(t *testing.T, r *models.ListingRecord)
	}{
		{
			name:   "no ratings yet",
			mutate: func(f *entryFixture) { f.stars = ""; f.count = "" },
			check: func(t *testing.T, r *models.ListingRecord) {
				assert.Equal(t, models.NotAvailable, r.Stars)
				assert.Equal(t, models.NoRatings, r.Ratings)
				assert.False(t, r.HasRatings())
			},
		},
		{
			name:   "stars without count link",
			mutate: func(f *entryFixture) { f.count = "" },
			check: func(t *testing.T, r *models.ListingRecord) {
				assert.Equal(t, "4,5", r.Stars)
				assert.Equal(t, models.NoRatings, r.Ratings)
			},
		},
		{
			name:   "no publish date",
			mutate: func(f *entryFixture) { f.date = "" },
			check: func(t *testing.T, r *models.ListingRecord) {
				assert.Equal(t, models.NotAvailable, r.PublishDate)
			},
		},
		{
			name:   "no author spans",
			mutate: func(f *entryFixture) { f.authors = nil },
			check: func(t *testing.T, r *models.ListingRecord) {
				assert.Equal(t, "", r.Authors)
			},
		},
		{
			name:   "connector only",
			mutate: func(f *entryFixture) { f.authors = []string{"by "} },
			check: func(t *testing.T, r *models.ListingRecord) {
				assert.Equal(t, "", r.Authors)
			},
		},
		{
			name:   "transliterated title and authors",
			mutate: func(f *entryFixture) {
				f.title = "Programación concurrente en Go"
				f.authors = []string{"de ", "José ", "Núñez"}
			},
			check: func(t *testing.T, r *models.ListingRecord) {
				assert.Equal(t, "Programacion concurrente en Go", r.Title)
				assert.Equal(t, "Jose Nunez", r.Authors)
			},
		},
		{
			name:   "cyrillic title",
			mutate: func(f *entryFixture) { f.title = "Программирование на Go" },
			check: func(t *testing.T, r *models.ListingRecord) {
				assert.Equal(t, "Programmirovanie na Go", r.Title)
			},
		},
		{
			name:   "title without latin letters",
			mutate: func(f *entryFixture) { f.title = "入門" },
			check: func(t *testing.T, r *models.ListingRecord) {
				assert.NotEmpty(t, strings.TrimSpace(r.Title))
			},
		},
		{
			name:   "rating count text kept verbatim",
			mutate: func(f *entryFixture) { f.count = " 87 " },
			check: func(t *testing.T, r *models.ListingRecord) {
				assert.Equal(t, " 87 ", r.Ratings)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fullEntry()
			tt.mutate(&f)
			record, err := Extract(parseEntry(t, f), config.DefaultSelectors())
			require.NoError(t, err)
			tt.check(t, record)
		})
	}
}

func TestExtractMalformedEntry(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*entryFixture)
		wantField string
	}{
		{name: "missing title", mutate: func(f *entryFixture) { f.title = "" }, wantField: "title"},
		{name: "blank title", mutate: func(f *entryFixture) { f.title = "   " }, wantField: "title"},
		{name: "missing price", mutate: func(f *entryFixture) { f.price = "" }, wantField: "price"},
		{name: "price shorter than prefix", mutate: func(f *entryFixture) { f.price = "EUR" }, wantField: "price"},
		{name: "too few rows", mutate: func(f *entryFixture) { f.rows = 3 }, wantField: "row[3]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fullEntry()
			tt.mutate(&f)
			record, err := Extract(parseEntry(t, f), config.DefaultSelectors())
			require.Error(t, err)
			assert.Nil(t, record)

			var malformed *MalformedEntryError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, tt.wantField, malformed.Field)
		})
	}
}

func TestExtractRowErrorReportsRowCount(t *testing.T) {
	f := fullEntry()
	f.rows = 2
	_, err := Extract(parseEntry(t, f), config.DefaultSelectors())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row[3]")
	assert.Contains(t, err.Error(), "2 rows")
}

func TestExtractHonoursCustomSlots(t *testing.T) {
	sel := config.DefaultSelectors()
	sel.Slots.PublishDate = 3
	sel.Slots.Authors = 1

	f := fullEntry()
	f.date = "1 ene 2020"
	f.authors = []string{"de ", "Ann"}
	record, err := Extract(parseEntry(t, f), sel)
	require.NoError(t, err)

	// Date slot now points at the authors row, whose first span is the connector.
	assert.Equal(t, "de ", record.PublishDate)
	// Authors slot points at the date row, which holds a single span.
	assert.Equal(t, "", record.Authors)
}

func TestRowsSlot(t *testing.T) {
	rows := NewRows(parseEntry(t, fullEntry()).Find("div.a-row"))
	assert.Equal(t, 4, rows.Len())

	_, ok := rows.Slot(3)
	assert.True(t, ok)
	_, ok = rows.Slot(4)
	assert.False(t, ok)
	_, ok = rows.Slot(-1)
	assert.False(t, ok)

	assert.NoError(t, rows.Require(3))
	assert.Error(t, rows.Require(4))
	assert.Equal(t, 0, Rows{}.Len())
}
