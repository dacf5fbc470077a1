package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/streamforge/catalog-crawler/internal/crawler"
)

// CatalogStore upserts fetched catalog items into Postgres, keyed by
// (source, slug).
type CatalogStore struct {
	pool  Pool
	table string
}

// NewCatalogStoreWithPool constructs a store over an existing pool.
func NewCatalogStoreWithPool(pool Pool, table string) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "movies"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CatalogStore{pool: pool, table: table}, nil
}

// ContentHash returns the stored hash for (source, slug), or "" when
// the item has never been ingested.
func (s *CatalogStore) ContentHash(ctx context.Context, source, slug string) (string, error) {
	query := fmt.Sprintf(`SELECT content_hash FROM %s WHERE source = $1 AND slug = $2`, s.table)
	var hash string
	if err := s.pool.QueryRow(ctx, query, source, slug).Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query content hash: %w", err)
	}
	return hash, nil
}

// Upsert inserts or replaces the record for (source, slug).
func (s *CatalogStore) Upsert(ctx context.Context, movie crawler.MovieRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (source, slug, title, poster_url, content_hash, fetched_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (source, slug) DO UPDATE SET
	title = EXCLUDED.title,
	poster_url = EXCLUDED.poster_url,
	content_hash = EXCLUDED.content_hash,
	fetched_at = EXCLUDED.fetched_at`, s.table)
	if _, err := s.pool.Exec(ctx, query,
		movie.Source,
		movie.Slug,
		movie.Title,
		movie.PosterURL,
		movie.ContentHash,
		movie.FetchedAt,
	); err != nil {
		return fmt.Errorf("upsert movie: %w", err)
	}
	return nil
}
