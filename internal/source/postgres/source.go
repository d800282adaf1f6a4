// Package postgres reads the feed list from a Postgres catalog table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/feedpoller/internal/poller"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used to read feeds.
type Config struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	Table           string        `mapstructure:"table" yaml:"table"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

type queryCloser interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Source lists feeds from Postgres.
type Source struct {
	pool  queryCloser
	query string
}

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.DSN == "" {
		return nil, errors.New("source.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	src, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return src, nil
}

// NewWithPool builds a Source over an existing pool (primarily for testing).
func NewWithPool(pool queryCloser, table string) (*Source, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "feeds"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Source{
		pool: pool,
		query: fmt.Sprintf(
			"SELECT id, url, COALESCE(title, ''), COALESCE(lastmod, 0), COALESCE(etag, '') FROM %s ORDER BY id ASC",
			table,
		),
	}, nil
}

// ListFeeds implements poller.FeedSource.
func (s *Source) ListFeeds(ctx context.Context) ([]poller.FeedRecord, error) {
	rows, err := s.pool.Query(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer rows.Close()

	var feeds []poller.FeedRecord
	for rows.Next() {
		var (
			id   int64
			feed poller.FeedRecord
		)
		if err := rows.Scan(&id, &feed.URL, &feed.Title, &feed.LastModified, &feed.ETag); err != nil {
			return nil, fmt.Errorf("scan feed row: %w", err)
		}
		if id < 0 {
			return nil, fmt.Errorf("feed id %d is negative", id)
		}
		feed.ID = uint64(id)
		feed.LastModified = max(feed.LastModified, 0)
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed rows: %w", err)
	}
	return feeds, nil
}

// Close releases the pool.
func (s *Source) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
