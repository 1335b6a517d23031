package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-ebooks/models"
	"github.com/aluiziolira/go-scrape-ebooks/parser"
	"github.com/aluiziolira/go-scrape-ebooks/pipeline"
)

// PageResult holds what one result page yielded.
type PageResult struct {
	Page    int
	URL     string
	Records []*models.ListingRecord
	Entries int
	Skipped int
}

// HarvestPage fetches one result page and extracts a record per entry.
// Malformed entries are logged and skipped. A page without a result list
// yields no records and no error.
func (s *Scraper) HarvestPage(ctx context.Context, page int) (*PageResult, error) {
	doc, pageURL, err := s.load(ctx, page)
	if err != nil {
		return nil, err
	}

	result := &PageResult{Page: page, URL: pageURL}
	entries := doc.Find(s.cfg.Selectors.Entries)
	result.Entries = entries.Length()
	if result.Entries == 0 {
		s.logger.Warn("no result entries on page",
			slog.Int("page", page),
			slog.String("url", pageURL),
			slog.String("selector", s.cfg.Selectors.Entries),
		)
		return result, nil
	}

	scrapedAt := time.Now().UTC()
	entries.Each(func(i int, entry *goquery.Selection) {
		record, err := parser.Extract(entry, s.cfg.Selectors)
		if err != nil {
			result.Skipped++
			s.recordError(err, "")
			s.logger.Warn("skipping entry",
				slog.Int("page", page),
				slog.Int("entry", i+1),
				slog.String("url", pageURL),
				slog.Any("error", err),
			)
			return
		}
		record.Page = page
		record.Position = i + 1
		record.ScrapedAt = scrapedAt
		result.Records = append(result.Records, record)
	})

	s.Metrics.AddRecords(len(result.Records))
	s.Metrics.AddSkipped(result.Skipped)
	return result, nil
}

// DiscoverPages reads the total page count from the pagination widget of the
// first result page.
func (s *Scraper) DiscoverPages(ctx context.Context) (int, error) {
	doc, pageURL, err := s.load(ctx, 1)
	if err != nil {
		derr := &DiscoveryError{URL: pageURL, Reason: "load first page", Err: err}
		s.recordError(derr, pageURL)
		return 0, derr
	}

	indicator := doc.Find(s.cfg.Selectors.TotalPages).First()
	if indicator.Length() == 0 {
		derr := &DiscoveryError{
			URL:    pageURL,
			Reason: fmt.Sprintf("page count element %q not found", s.cfg.Selectors.TotalPages),
		}
		s.recordError(derr, pageURL)
		return 0, derr
	}

	total, err := parsePageCount(indicator.Text())
	if err != nil {
		derr := &DiscoveryError{URL: pageURL, Reason: "unreadable page count", Err: err}
		s.recordError(derr, pageURL)
		return 0, derr
	}

	s.logger.Info("discovered result pages", slog.Int("pages", total))
	return total, nil
}

func parsePageCount(text string) (int, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', ' ', '\u00a0', '\t', '\n', '\r':
			return -1
		}
		return r
	}, text)
	if cleaned == "" {
		return 0, fmt.Errorf("empty page count")
	}

	total, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0, fmt.Errorf("page count %q: %w", strings.TrimSpace(text), err)
	}
	if total < 1 {
		return 0, fmt.Errorf("page count %d is not positive", total)
	}
	return total, nil
}

// Run discovers the page count and harvests every page into p. A discovery
// failure aborts before any page is harvested.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	total, err := s.DiscoverPages(ctx)
	if err != nil {
		return nil, err
	}
	return s.Harvest(ctx, total, p)
}

// Harvest walks pages 1..total in order, pausing cfg.Delay between pages.
// Page failures are logged and skipped; only a failure to write output
// aborts the run. Cancelling ctx stops the loop between pages and returns the
// partial result.
func (s *Scraper) Harvest(ctx context.Context, total int, p *pipeline.Pipeline) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	limit := total
	if s.cfg.MaxPages > 0 && s.cfg.MaxPages < limit {
		limit = s.cfg.MaxPages
	}

	result := &models.RunResult{
		RunID:      s.runID,
		StartTime:  time.Now(),
		TotalPages: total,
	}
	startRecords := p.Processed()

	finish := func() {
		result.EndTime = time.Now()
		result.RecordCount = int(p.Processed() - startRecords)
		result.RequestCount = int(atomic.LoadInt64(&s.requestCount))
		result.FailedURLs = s.snapshotFailedURLs()
		result.ErrorsByType = s.snapshotErrors()
	}

	for page := 1; page <= limit; page++ {
		if ctx.Err() != nil {
			result.Interrupted = true
			break
		}

		s.logger.Info("harvesting page", slog.Int("page", page), slog.Int("of", limit))
		pr, err := s.HarvestPage(ctx, page)
		switch {
		case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
			result.Interrupted = true
		case err != nil:
			result.PagesFailed++
			s.Metrics.IncPage("failed")
			category := s.recordError(err, s.PageURL(page))
			s.logger.Error("page failed",
				slog.Int("page", page),
				slog.Int("of", limit),
				slog.String("category", category),
				slog.Any("error", err),
			)
		default:
			result.PagesHarvested++
			result.EntriesSeen += pr.Entries
			result.EntriesSkipped += pr.Skipped
			s.Metrics.IncPage("harvested")

			if err := p.Process(pr.Records...); err != nil {
				finish()
				return result, fmt.Errorf("write records of page %d: %w", page, err)
			}
			s.logger.Info("page harvested",
				slog.Int("page", page),
				slog.Int("of", limit),
				slog.Int("records", len(pr.Records)),
				slog.Int("skipped", pr.Skipped),
			)
		}
		if result.Interrupted {
			break
		}

		if page < limit {
			if err := s.wait(ctx); err != nil {
				result.Interrupted = true
				break
			}
		}
	}

	finish()
	s.logger.Info("harvest finished",
		slog.Int("pages", result.PagesHarvested),
		slog.Int("failed_pages", result.PagesFailed),
		slog.Int("records", result.RecordCount),
		slog.Int("skipped", result.EntriesSkipped),
		slog.Bool("interrupted", result.Interrupted),
	)
	return result, nil
}

// wait sleeps for the inter-page delay unless ctx is cancelled first.
func (s *Scraper) wait(ctx context.Context) error {
	if s.cfg.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.cfg.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
