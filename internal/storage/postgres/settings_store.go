// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamforge/catalog-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const uniqueViolationCode = "23505"

// Pool is the subset of pgxpool.Pool the stores depend on. pgxmock
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// SettingsStoreConfig controls the Postgres connection pool used for
// crawler settings rows.
type SettingsStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// SettingsStore persists crawler settings in Postgres. The table
// carries a unique index on name; violations surface as ConflictError.
type SettingsStore struct {
	pool  Pool
	table string
}

// NewSettingsStore creates a Postgres-backed SettingsStore using the
// provided config.
func NewSettingsStore(ctx context.Context, cfg SettingsStoreConfig) (*SettingsStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "crawler_settings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &SettingsStore{pool: pool, table: table}, nil
}

// NewSettingsStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewSettingsStoreWithPool(pool Pool, table string) (*SettingsStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawler_settings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SettingsStore{pool: pool, table: table}, nil
}

// Pool exposes the underlying pool so the catalog store can share it.
func (s *SettingsStore) Pool() Pool {
	return s.pool
}

// Close releases the underlying pool resources.
func (s *SettingsStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const settingsColumns = `id, name, host, img_host, cron_schedule, enabled, force_update,
	max_retries, rate_limit_delay_ms, max_concurrent_requests, max_continuous_skips,
	created_at, updated_at`

// Create inserts a settings row.
func (s *SettingsStore) Create(ctx context.Context, rec crawler.Settings) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		s.table, settingsColumns)
	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.Name,
		rec.Host,
		rec.ImgHost,
		rec.CronSchedule,
		rec.Enabled,
		rec.ForceUpdate,
		rec.MaxRetries,
		rec.RateLimitDelayMs,
		rec.MaxConcurrentRequests,
		rec.MaxContinuousSkips,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return crawler.NewConflictError("crawler settings named %q already exist", rec.Name)
		}
		return fmt.Errorf("insert crawler settings: %w", err)
	}
	return nil
}

// Update replaces the mutable columns of an existing row. The name
// column is intentionally not part of the update list.
func (s *SettingsStore) Update(ctx context.Context, rec crawler.Settings) error {
	query := fmt.Sprintf(`UPDATE %s SET
	host = $2,
	img_host = $3,
	cron_schedule = $4,
	enabled = $5,
	force_update = $6,
	max_retries = $7,
	rate_limit_delay_ms = $8,
	max_concurrent_requests = $9,
	max_continuous_skips = $10,
	updated_at = $11
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.Host,
		rec.ImgHost,
		rec.CronSchedule,
		rec.Enabled,
		rec.ForceUpdate,
		rec.MaxRetries,
		rec.RateLimitDelayMs,
		rec.MaxConcurrentRequests,
		rec.MaxContinuousSkips,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update crawler settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.NewNotFoundError("crawler settings", rec.ID)
	}
	return nil
}

// Get fetches a row by id.
func (s *SettingsStore) Get(ctx context.Context, id string) (crawler.Settings, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, settingsColumns, s.table)
	return s.scanOne(s.pool.QueryRow(ctx, query, id), id)
}

// GetByName fetches a row by its unique name.
func (s *SettingsStore) GetByName(ctx context.Context, name string) (crawler.Settings, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE name = $1`, settingsColumns, s.table)
	return s.scanOne(s.pool.QueryRow(ctx, query, name), name)
}

// List returns one page ordered by updated_at descending plus the
// total match count.
func (s *SettingsStore) List(ctx context.Context, filter crawler.ListFilter) ([]crawler.Settings, int, error) {
	where, args := buildListWhere(filter)

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE 1=1%s`, s.table, where)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count crawler settings: %w", err)
	}

	limitIdx := len(args) + 1
	offsetIdx := len(args) + 2
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE 1=1%s ORDER BY updated_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		settingsColumns, s.table, where, limitIdx, offsetIdx)
	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query crawler settings: %w", err)
	}
	defer rows.Close()

	out := make([]crawler.Settings, 0, filter.Limit)
	for rows.Next() {
		var rec crawler.Settings
		if err := scanSettings(rows, &rec); err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate crawler settings: %w", err)
	}
	return out, total, nil
}

// Delete removes a row by id.
func (s *SettingsStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete crawler settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.NewNotFoundError("crawler settings", id)
	}
	return nil
}

func (s *SettingsStore) scanOne(row pgx.Row, key string) (crawler.Settings, error) {
	var rec crawler.Settings
	if err := scanSettings(row, &rec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Settings{}, crawler.NewNotFoundError("crawler settings", key)
		}
		return crawler.Settings{}, err
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSettings(row scanner, rec *crawler.Settings) error {
	if err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.Host,
		&rec.ImgHost,
		&rec.CronSchedule,
		&rec.Enabled,
		&rec.ForceUpdate,
		&rec.MaxRetries,
		&rec.RateLimitDelayMs,
		&rec.MaxConcurrentRequests,
		&rec.MaxContinuousSkips,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		return fmt.Errorf("scan crawler settings: %w", err)
	}
	return nil
}

func buildListWhere(filter crawler.ListFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		clauses = append(clauses, fmt.Sprintf(" AND enabled = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		clauses = append(clauses, fmt.Sprintf(" AND (name ILIKE $%d OR host ILIKE $%d)", len(args), len(args)))
	}
	return strings.Join(clauses, ""), args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
