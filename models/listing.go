// Package models defines data structures for the scraper.
package models

import "time"

// Sentinels for optional fields that are legitimately absent from an entry.
const (
	NotAvailable = "NA"
	NoRatings    = "0"
)

// ListingRecord represents one harvested search result entry.
type ListingRecord struct {
	Title       string    `csv:"title" json:"title"`
	Price       string    `csv:"price" json:"price"`
	Ratings     string    `csv:"ratings" json:"ratings"`
	Stars       string    `csv:"stars" json:"stars"`
	PublishDate string    `csv:"publish_date" json:"publish_date"`
	Authors     string    `csv:"authors" json:"authors"`
	Page        int       `csv:"-" json:"page"`
	Position    int       `csv:"-" json:"position"`
	ScrapedAt   time.Time `csv:"-" json:"scraped_at"`
}

// HasRatings reports whether the entry carried a rating element.
func (r *ListingRecord) HasRatings() bool {
	return r.Stars != NotAvailable
}

// RunResult holds the overall result of a harvesting run.
type RunResult struct {
	RunID          string
	StartTime      time.Time
	EndTime        time.Time
	TotalPages     int
	PagesHarvested int
	PagesFailed    int
	EntriesSeen    int
	EntriesSkipped int
	RecordCount    int
	RequestCount   int
	FailedURLs     []string
	ErrorsByType   map[string]int
	Interrupted    bool
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}
