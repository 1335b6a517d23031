package config

import (
	"fmt"
	"net/url"
	"time"
	"unicode/utf8"
)

// Config holds scraper configuration.
type Config struct {
	SearchURL        string
	PageParam        string
	MaxPages         int // 0 harvests every discovered page
	Delay            time.Duration
	Timeout          time.Duration
	OutputFile       string
	OutputFormat     string // csv, json, dual, or sqlite
	Delimiter        rune
	UserAgent        string
	DedupeMaxSize    int
	Verbose          bool
	RespectRobotsTxt bool
	MetricsAddr      string
	SelectorsFile    string
	Selectors        Selectors
}

// DefaultSearchURL is the Kindle IT e-books listing the scraper was first pointed at.
const DefaultSearchURL = "https://www.amazon.es/s/ref=lp_1335562031_pg_2?rh=n%3A818936031%2Cn%3A%21818938031%2Cn%3A827231031%2Cn%3A1335562031&page=1&ie=UTF8&qid=1522334970"

// DefaultConfig returns conservative defaults for the listing target.
func DefaultConfig() *Config {
	return &Config{
		SearchURL:        DefaultSearchURL,
		PageParam:        "page",
		MaxPages:         0,
		Delay:            10 * time.Second,
		Timeout:          30 * time.Second,
		OutputFile:       "output/ebooks.csv",
		OutputFormat:     "csv",
		Delimiter:        ';',
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		DedupeMaxSize:    0,
		Verbose:          false,
		RespectRobotsTxt: false,
		Selectors:        DefaultSelectors(),
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.SearchURL == "" {
		return fmt.Errorf("search URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.SearchURL)
	if err != nil {
		return fmt.Errorf("invalid search URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("search URL must include a host")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("search URL scheme must be http or https")
	}

	if c.PageParam == "" {
		return fmt.Errorf("page parameter cannot be empty")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual", "sqlite":
	default:
		return fmt.Errorf("output format must be csv, json, dual, or sqlite")
	}
	if c.Delimiter == 0 || c.Delimiter == '"' || c.Delimiter == '\r' || c.Delimiter == '\n' ||
		c.Delimiter == utf8.RuneError {
		return fmt.Errorf("delimiter %q is not usable", c.Delimiter)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.DedupeMaxSize < 0 {
		return fmt.Errorf("dedupe max size cannot be negative")
	}
	if err := c.Selectors.Validate(); err != nil {
		return fmt.Errorf("selectors: %w", err)
	}

	return nil
}

// ParseDelimiter turns a flag or environment value into a single delimiter rune.
func ParseDelimiter(value string) (rune, error) {
	if value == `\t` {
		return '\t', nil
	}
	if utf8.RuneCountInString(value) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", value)
	}
	r, _ := utf8.DecodeRuneInString(value)
	return r, nil
}
