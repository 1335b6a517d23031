package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-ebooks/config"
	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
)

// Scraper fetches search result pages one at a time and turns their entries
// into listing records.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	searchURL *url.URL
	logger    *slog.Logger
	runID     string
	Metrics   *Metrics

	requestCount int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int

	handlersOnce sync.Once
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	parsed, err := url.Parse(cfg.SearchURL)
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("search url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	runID := uuid.NewString()
	return &Scraper{
		cfg:          cfg,
		collector:    collector,
		searchURL:    parsed,
		logger:       slog.Default().With(slog.String("run_id", runID)),
		runID:        runID,
		Metrics:      NewMetrics(),
		errorsByType: make(map[string]int),
	}, nil
}

// RunID identifies this scraper's run in logs and stored rows.
func (s *Scraper) RunID() string {
	return s.runID
}

// PageURL returns the search URL with the page parameter set to page.
func (s *Scraper) PageURL(page int) string {
	u := *s.searchURL
	query := u.Query()
	query.Set(s.cfg.PageParam, strconv.Itoa(page))
	u.RawQuery = query.Encode()
	return u.String()
}

func (s *Scraper) configureHandlers() {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			r.Ctx.Put("start", time.Now())
			atomic.AddInt64(&s.requestCount, 1)
			s.Metrics.IncRequest("started")
			s.logger.Debug("requesting page", slog.String("url", r.URL.String()))
		})

		s.collector.OnResponse(func(r *colly.Response) {
			s.Metrics.IncRequest("completed")
			if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
				s.Metrics.ObserveDuration(time.Since(start))
			}
			r.Ctx.Put("response", r)
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			s.Metrics.IncRequest("failed")
			if r == nil || r.Ctx == nil {
				return
			}
			r.Ctx.Put("status", r.StatusCode)
			if r.StatusCode >= http.StatusBadRequest {
				s.logger.Debug("non-2xx response",
					slog.Int("status", r.StatusCode),
					slog.String("url", r.Request.URL.String()),
				)
			}
		})
	})
}

// fetch issues one GET for a result page and waits for the response.
func (s *Scraper) fetch(page int, pageURL string) (*colly.Response, error) {
	s.configureHandlers()

	reqCtx := colly.NewContext()
	if err := s.collector.Request(http.MethodGet, pageURL, nil, reqCtx, nil); err != nil {
		status, _ := reqCtx.GetAny("status").(int)
		return nil, &FetchError{Page: page, URL: pageURL, StatusCode: status, Err: classifyError(err, status)}
	}

	resp, ok := reqCtx.GetAny("response").(*colly.Response)
	if !ok || resp == nil {
		return nil, &FetchError{Page: page, URL: pageURL, Err: errors.New("no response received")}
	}
	return resp, nil
}

// load fetches and parses one result page.
func (s *Scraper) load(ctx context.Context, page int) (*goquery.Document, string, error) {
	pageURL := s.PageURL(page)
	if err := ctx.Err(); err != nil {
		return nil, pageURL, err
	}

	resp, err := s.fetch(page, pageURL)
	if err != nil {
		return nil, pageURL, err
	}
	doc, err := parseDocument(page, pageURL, resp)
	if err != nil {
		return nil, pageURL, err
	}
	return doc, pageURL, nil
}

func parseDocument(page int, pageURL string, resp *colly.Response) (*goquery.Document, error) {
	if resp.Headers != nil {
		if ct := resp.Headers.Get("Content-Type"); ct != "" && !isMarkup(ct) {
			return nil, &ParseError{Page: page, URL: pageURL, Err: fmt.Errorf("unexpected content type %q", ct)}
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, &ParseError{Page: page, URL: pageURL, Err: err}
	}
	return doc, nil
}

func isMarkup(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.Contains(mediaType, "html") || strings.HasSuffix(mediaType, "xml")
}

func (s *Scraper) recordError(err error, failedURL string) string {
	category := errorTypeLabel(err)

	s.mu.Lock()
	s.errorsByType[category]++
	if failedURL != "" {
		s.failedURLs = append(s.failedURLs, failedURL)
	}
	s.mu.Unlock()

	s.Metrics.IncError(category)
	return category
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	if err == nil {
		return fmt.Errorf("http status %d", statusCode)
	}
	return err
}
