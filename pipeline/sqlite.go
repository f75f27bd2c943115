package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/aluiziolira/bookharvest/models"
	"github.com/aluiziolira/bookharvest/parser"
)

const booksSchema = `
CREATE TABLE IF NOT EXISTS books (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	title TEXT NOT NULL,
	price TEXT NOT NULL,
	price_value REAL,
	rating TEXT NOT NULL,
	rating_numeric INTEGER NOT NULL,
	availability TEXT NOT NULL,
	description TEXT NOT NULL,
	product_info TEXT NOT NULL,
	scraped_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_books_run ON books(run_id);
`

// SQLiteWriter appends each run's books to a SQLite table. Rows from one
// run share a run_id.
type SQLiteWriter struct {
	ctx     context.Context
	db      *sql.DB
	path    string
	runID   string
	written int
	mu      sync.Mutex
}

// NewSQLiteWriter opens or creates the database at path.
func NewSQLiteWriter(ctx context.Context, path, runID string) (*SQLiteWriter, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, booksSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create books table: %w", err)
	}

	return &SQLiteWriter{ctx: ctx, db: db, path: path, runID: runID}, nil
}

// Write inserts books inside one transaction.
func (sw *SQLiteWriter) Write(books []models.Book) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	tx, err := sw.db.BeginTx(sw.ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(sw.ctx, `
	INSERT INTO books (run_id, title, price, price_value, rating, rating_numeric, availability, description, product_info, scraped_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, book := range books {
		info, err := json.Marshal(withProductInfo(book).ProductInfo)
		if err != nil {
			return fmt.Errorf("encode product info: %w", err)
		}
		var priceValue sql.NullFloat64
		if v, ok := parser.PriceValue(book.Price); ok {
			priceValue = sql.NullFloat64{Float64: v, Valid: true}
		}
		if _, err := stmt.ExecContext(sw.ctx,
			sw.runID,
			book.Title,
			book.Price,
			priceValue,
			book.Rating,
			parser.RatingToNumeric(book.Rating),
			book.Availability,
			book.Description,
			string(info),
			now,
		); err != nil {
			return fmt.Errorf("insert book: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite tx: %w", err)
	}
	sw.written += len(books)
	return nil
}

// Close closes the database handle.
func (sw *SQLiteWriter) Close() error {
	return sw.db.Close()
}

// Validate reopens the database read-only and compares the stored row count
// for this run with what was written.
func (sw *SQLiteWriter) Validate() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	db, err := sql.Open("sqlite", sw.path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("reopen sqlite: %w", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRowContext(sw.ctx, `SELECT COUNT(*) FROM books WHERE run_id = ?`, sw.runID).Scan(&count); err != nil {
		return fmt.Errorf("count books: %w", err)
	}
	if count != sw.written {
		return fmt.Errorf("sqlite has %d rows for run %s, wrote %d", count, sw.runID, sw.written)
	}
	return nil
}
