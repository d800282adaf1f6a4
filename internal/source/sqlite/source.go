// Package sqlite reads the feed list from a SQLite queue database using the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/feedpoller/internal/poller"
)

// DefaultTable is the table the queue database keeps feeds in.
const DefaultTable = "podcasts"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects the database file and table.
type Config struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Table string `mapstructure:"table" yaml:"table"`
}

// Source lists feeds from a SQLite table with columns
// id, url, title, lastmod, etag. NULL title, lastmod and etag read as
// their zero values.
type Source struct {
	db    *sql.DB
	query string
}

// Open opens the database read-only and checks that it is reachable.
func Open(ctx context.Context, cfg Config) (*Source, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	dsn := "file:" + cfg.Path + "?mode=ro"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", cfg.Path, err)
	}
	return &Source{
		db:    db,
		query: fmt.Sprintf("SELECT id, url, title, lastmod, etag FROM %s ORDER BY id ASC", table),
	}, nil
}

// ListFeeds implements poller.FeedSource.
func (s *Source) ListFeeds(ctx context.Context) ([]poller.FeedRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []poller.FeedRecord
	for rows.Next() {
		var (
			id      int64
			feedURL string
			title   sql.NullString
			lastmod sql.NullInt64
			etag    sql.NullString
		)
		if err := rows.Scan(&id, &feedURL, &title, &lastmod, &etag); err != nil {
			return nil, fmt.Errorf("scan feed row: %w", err)
		}
		if id < 0 {
			return nil, fmt.Errorf("feed id %d is negative", id)
		}
		feeds = append(feeds, poller.FeedRecord{
			ID:           uint64(id),
			URL:          feedURL,
			Title:        title.String,
			LastModified: max(lastmod.Int64, 0),
			ETag:         etag.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed rows: %w", err)
	}
	return feeds, nil
}

// Close closes the database.
func (s *Source) Close() error {
	return s.db.Close()
}
