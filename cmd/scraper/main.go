package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-ebooks/config"
	"github.com/aluiziolira/go-scrape-ebooks/models"
	"github.com/aluiziolira/go-scrape-ebooks/pipeline"
	"github.com/aluiziolira/go-scrape-ebooks/scraper"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("scrape failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(args []string) error {
	if loaded, err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	} else if loaded {
		fmt.Fprintln(os.Stderr, "loaded settings from .env")
	}

	cfg, err := envDefaults()
	if err != nil {
		return err
	}
	if err := parseFlags(flag.NewFlagSet("scraper", flag.ContinueOnError), args, cfg); err != nil {
		return err
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if cfg.SelectorsFile != "" {
		if cfg.Selectors, err = config.LoadSelectors(cfg.SelectorsFile); err != nil {
			return fmt.Errorf("loading selectors from %s: %w", cfg.SelectorsFile, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}
	slog.Info("starting scrape",
		slog.String("run_id", s.RunID()),
		slog.String("url", cfg.SearchURL),
		slog.Int("max_pages", cfg.MaxPages),
		slog.Duration("delay", cfg.Delay),
		slog.String("format", cfg.OutputFormat),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing current page")
	}()

	metricsServer := startMetricsServer(cfg.MetricsAddr, s.Metrics)
	defer shutdownMetricsServer(metricsServer)

	// Discovery runs before the writer exists so a failed run leaves any
	// previous output untouched.
	total, err := s.DiscoverPages(ctx)
	if err != nil {
		return err
	}

	writer, err := createWriter(cfg, s.RunID())
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}

	p, err := pipeline.NewPipeline(writer, cfg)
	if err != nil {
		return errors.Join(fmt.Errorf("creating pipeline: %w", err), writer.Close())
	}
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	result, runErr := s.Harvest(ctx, total, p)
	if err := p.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if err := writer.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close writer: %w", err))
	}
	if result != nil {
		printSummary(result, cfg, p.GetMetrics())
	}
	if runErr != nil {
		return runErr
	}

	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}
	return nil
}

// parseFlags lets command-line flags override cfg, which already carries the
// environment layer.
func parseFlags(fs *flag.FlagSet, args []string, cfg *config.Config) error {
	fs.StringVar(&cfg.SearchURL, "url", cfg.SearchURL, "Search results URL to harvest")
	fs.StringVar(&cfg.PageParam, "page-param", cfg.PageParam, "Query parameter carrying the page number")
	fs.IntVar(&cfg.MaxPages, "pages", cfg.MaxPages, "Maximum result pages to harvest (0 = all discovered)")
	fs.DurationVar(&cfg.Delay, "delay", cfg.Delay, "Pause between result pages")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	fs.StringVar(&cfg.OutputFile, "output", cfg.OutputFile, "Output file path")
	outputFormat := fs.String("format", cfg.OutputFormat, "Output format: csv, json, dual, or sqlite")
	delimiter := fs.String("delimiter", string(cfg.Delimiter), `CSV field delimiter (single character or \t)`)
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent header sent with every request")
	fs.IntVar(&cfg.DedupeMaxSize, "dedupe", cfg.DedupeMaxSize, "Drop repeated records, remembering up to N keys (0 writes every record)")
	fs.BoolVar(&cfg.RespectRobotsTxt, "respect-robots", cfg.RespectRobotsTxt, "Respect robots.txt directives")
	fs.StringVar(&cfg.SelectorsFile, "selectors", cfg.SelectorsFile, "YAML file overriding the page selectors")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.OutputFormat = strings.ToLower(*outputFormat)
	r, err := config.ParseDelimiter(*delimiter)
	if err != nil {
		return fmt.Errorf("invalid delimiter: %w", err)
	}
	cfg.Delimiter = r
	return nil
}

// envDefaults layers SCRAPER_* environment variables over the built-in
// defaults. Flags override both.
func envDefaults() (*config.Config, error) {
	cfg := config.DefaultConfig()

	if value, ok := config.EnvString("SCRAPER_URL"); ok {
		cfg.SearchURL = value
	}
	if value, ok := config.EnvString("SCRAPER_PAGE_PARAM"); ok {
		cfg.PageParam = value
	}
	if value, ok, err := config.EnvInt("SCRAPER_PAGES"); err != nil {
		return nil, fmt.Errorf("invalid SCRAPER_PAGES: %w", err)
	} else if ok {
		cfg.MaxPages = value
	}
	if value, ok, err := config.EnvDuration("SCRAPER_DELAY"); err != nil {
		return nil, fmt.Errorf("invalid SCRAPER_DELAY: %w", err)
	} else if ok {
		cfg.Delay = value
	}
	if value, ok, err := config.EnvDuration("SCRAPER_TIMEOUT"); err != nil {
		return nil, fmt.Errorf("invalid SCRAPER_TIMEOUT: %w", err)
	} else if ok {
		cfg.Timeout = value
	}
	if value, ok := config.EnvString("SCRAPER_OUTPUT"); ok {
		cfg.OutputFile = value
	}
	if value, ok := config.EnvString("SCRAPER_FORMAT"); ok {
		cfg.OutputFormat = value
	}
	if value, ok := config.EnvString("SCRAPER_DELIMITER"); ok {
		delimiter, err := config.ParseDelimiter(value)
		if err != nil {
			return nil, fmt.Errorf("invalid SCRAPER_DELIMITER: %w", err)
		}
		cfg.Delimiter = delimiter
	}
	if value, ok := config.EnvString("SCRAPER_USER_AGENT"); ok {
		cfg.UserAgent = value
	}
	if value, ok, err := config.EnvInt("SCRAPER_DEDUPE"); err != nil {
		return nil, fmt.Errorf("invalid SCRAPER_DEDUPE: %w", err)
	} else if ok {
		cfg.DedupeMaxSize = value
	}
	if value, ok, err := config.EnvBool("SCRAPER_RESPECT_ROBOTS"); err != nil {
		return nil, fmt.Errorf("invalid SCRAPER_RESPECT_ROBOTS: %w", err)
	} else if ok {
		cfg.RespectRobotsTxt = value
	}
	if value, ok := config.EnvString("SCRAPER_SELECTORS"); ok {
		cfg.SelectorsFile = value
	}
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}
	if value, ok, err := config.EnvBool("SCRAPER_VERBOSE"); err != nil {
		return nil, fmt.Errorf("invalid SCRAPER_VERBOSE: %w", err)
	} else if ok {
		cfg.Verbose = value
	}
	return cfg, nil
}

func createWriter(cfg *config.Config, runID string) (pipeline.OutputWriter, error) {
	switch cfg.OutputFormat {
	case "json":
		return pipeline.NewJSONWriter(cfg.OutputFile)
	case "csv":
		return pipeline.NewCSVWriter(cfg.OutputFile, cfg.Delimiter)
	case "dual":
		return pipeline.NewDualWriter(cfg.OutputFile, cfg.Delimiter)
	case "sqlite":
		return pipeline.NewSQLiteWriter(cfg.OutputFile, runID)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func shutdownMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func printSummary(result *models.RunResult, cfg *config.Config, metrics map[string]interface{}) {
	duration := result.Duration()
	recordsPerSec := 0.0
	if duration.Seconds() > 0 {
		recordsPerSec = float64(result.RecordCount) / duration.Seconds()
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Scrape complete")
	if result.Interrupted {
		t.SetTitle("Scrape interrupted")
	}
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Run ID", result.RunID},
		{"Pages", fmt.Sprintf("%d of %d", result.PagesHarvested, result.TotalPages)},
		{"Failed pages", result.PagesFailed},
		{"Entries seen", result.EntriesSeen},
		{"Entries skipped", result.EntriesSkipped},
		{"Records written", result.RecordCount},
		{"Requests", result.RequestCount},
	})
	if len(result.ErrorsByType) > 0 {
		t.AppendRow(table.Row{"Error types", formatCounts(result.ErrorsByType)})
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		t.AppendRow(table.Row{"Validation", formatCounts(valErrors)})
	}
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Duration", duration.Round(time.Millisecond)},
		{"Records/sec", fmt.Sprintf("%.2f", recordsPerSec)},
		{"Output file", cfg.OutputFile},
	})
	t.SetStyle(table.StyleLight)
	t.Render()

	for _, u := range result.FailedURLs {
		fmt.Printf("  failed: %s\n", u)
	}
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
