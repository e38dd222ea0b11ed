// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gfd-crawler/internal/crawler"
)

// EmbeddingDimensions is the width of the vector columns.
const EmbeddingDimensions = 768

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WebsiteStoreConfig controls the Postgres connection pool used for website rows.
type WebsiteStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// WebsiteStore upserts and searches indexed websites.
type WebsiteStore struct {
	pool  pool
	table string
}

// NewWebsiteStore creates a Postgres-backed WebsiteStore using the provided config.
func NewWebsiteStore(ctx context.Context, cfg WebsiteStoreConfig) (*WebsiteStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &WebsiteStore{pool: p, table: table}, nil
}

// NewWebsiteStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewWebsiteStoreWithPool(p pool, table string) (*WebsiteStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &WebsiteStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "website_records"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *WebsiteStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *WebsiteStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate creates the vector extension and the website table when missing.
func (s *WebsiteStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	page_text TEXT NOT NULL DEFAULT '',
	title_meaning vector(%d),
	description_meaning vector(%d),
	page_meaning vector(%d),
	indexed_at TIMESTAMPTZ NOT NULL
)`, s.table, EmbeddingDimensions, EmbeddingDimensions, EmbeddingDimensions)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Upsert inserts record or replaces the row with the same URL. The row's ID
// is kept on conflict.
func (s *WebsiteStore) Upsert(ctx context.Context, record crawler.WebsiteRecord) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}
	if record.URL == "" {
		return errors.New("record url is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	url,
	title,
	description,
	page_text,
	title_meaning,
	description_meaning,
	page_meaning,
	indexed_at
) VALUES (
	$1,$2,$3,$4,$5,$6::vector,$7::vector,$8::vector,$9
)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	page_text = EXCLUDED.page_text,
	title_meaning = EXCLUDED.title_meaning,
	description_meaning = EXCLUDED.description_meaning,
	page_meaning = EXCLUDED.page_meaning,
	indexed_at = EXCLUDED.indexed_at`, s.table)

	args := []any{
		record.ID,
		record.URL,
		record.Title,
		record.Description,
		record.PageText,
		vectorLiteral(record.TitleMeaning),
		vectorLiteral(record.DescriptionMeaning),
		vectorLiteral(record.PageMeaning),
		record.IndexedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert website: %w", err)
	}
	return nil
}

// Search returns one page of websites whose title, description or URL
// contains the query, ordered by title then URL, plus the total match count.
func (s *WebsiteStore) Search(ctx context.Context, q crawler.SearchQuery) ([]crawler.SearchHit, int, error) {
	pattern := "%" + escapeLike(q.Query) + "%"
	where := `title ILIKE $1 OR description ILIKE $1 OR url ILIKE $1`

	var total int
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s`, s.table, where)
	if err := s.pool.QueryRow(ctx, countQuery, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}
	if total == 0 {
		return []crawler.SearchHit{}, 0, nil
	}

	query := fmt.Sprintf(`
SELECT title, url, description, left(page_text, %d)
FROM %s
WHERE %s
ORDER BY title, url
LIMIT $2 OFFSET $3`, crawler.SnippetLength, s.table, where)
	rows, err := s.pool.Query(ctx, query, pattern, q.PageSize, q.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("search websites: %w", err)
	}
	defer rows.Close()

	hits := make([]crawler.SearchHit, 0, q.PageSize)
	for rows.Next() {
		var title, url, description, text string
		if err := rows.Scan(&title, &url, &description, &text); err != nil {
			return nil, 0, fmt.Errorf("scan search row: %w", err)
		}
		hits = append(hits, crawler.SearchHit{Title: title, URL: url, Snippet: crawler.Snippet(description, text)})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search rows: %w", err)
	}
	return hits, total, nil
}

// vectorLiteral renders v in pgvector text form, or nil for NULL.
func vectorLiteral(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	var b strings.Builder
	b.Grow(len(v) * 8)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
