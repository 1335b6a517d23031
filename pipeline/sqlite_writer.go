package pipeline

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-ebooks/models"

	_ "modernc.org/sqlite"
)

const listingsSchema = `
CREATE TABLE IF NOT EXISTS listings (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT    NOT NULL,
	page         INTEGER NOT NULL,
	position     INTEGER NOT NULL,
	title        TEXT    NOT NULL,
	price        TEXT    NOT NULL,
	ratings      TEXT    NOT NULL,
	stars        TEXT    NOT NULL,
	publish_date TEXT    NOT NULL,
	authors      TEXT    NOT NULL DEFAULT '',
	scraped_at   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_listings_page ON listings(page, position);
`

// SQLiteWriter stores records in a listings table. Rows from earlier runs
// are cleared when the writer opens, matching the overwrite semantics of the
// file writers.
type SQLiteWriter struct {
	db    *sql.DB
	runID string
	mu    sync.Mutex
}

// NewSQLiteWriter opens (or creates) the database at filename.
func NewSQLiteWriter(filename, runID string) (*SQLiteWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(listingsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	if _, err := db.Exec(`DELETE FROM listings`); err != nil {
		db.Close()
		return nil, fmt.Errorf("clear previous listings: %w", err)
	}

	return &SQLiteWriter{db: db, runID: runID}, nil
}

// Write inserts records in a single transaction.
func (sw *SQLiteWriter) Write(records []*models.ListingRecord) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	tx, err := sw.db.Begin()
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO listings (run_id, page, position, title, price, ratings, stars, publish_date, authors, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare sqlite insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(
			sw.runID, r.Page, r.Position,
			r.Title, r.Price, r.Ratings, r.Stars, r.PublishDate, r.Authors,
			r.ScrapedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("insert sqlite record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite tx: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (sw *SQLiteWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.db.Close()
}

// Validate ensures the listings table is readable.
func (sw *SQLiteWriter) Validate() error {
	var count int
	if err := sw.db.QueryRow(`SELECT COUNT(*) FROM listings`).Scan(&count); err != nil {
		return fmt.Errorf("count sqlite listings: %w", err)
	}
	return nil
}
