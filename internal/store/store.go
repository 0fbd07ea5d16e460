package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/researcher/config"
)

// ErrNotFound reports a missing report or run
var ErrNotFound = errors.New("not found")

// ReportRecord is one persisted research run
type ReportRecord struct {
	ID           string    `json:"id"`
	Query        string    `json:"query"`
	Report       string    `json:"report"`
	Sources      []byte    `json:"sources"`
	Images       []byte    `json:"images"`
	Costs        float64   `json:"costs"`
	ReviewRounds int       `json:"review_rounds"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists finished reports in Postgres
type Store struct {
	DB *sql.DB
}

// NewStore opens the database from configuration and ensures the schema.
// The URL wins over the discrete host fields when both are set.
func NewStore(cfg config.PostgresConfig) (*Store, error) {
	dsn := cfg.URL
	if dsn == "" {
		host := cfg.Host
		port := cfg.Port
		ssl := cfg.SSLMode
		if host == "" {
			host = "localhost"
		}
		if port == 0 {
			port = 5432
		}
		if ssl == "" {
			ssl = "disable"
		}
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", cfg.User, cfg.Password, host, port, cfg.DBName, ssl)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.DB.Exec(`
CREATE TABLE IF NOT EXISTS research_reports (
    id TEXT PRIMARY KEY,
    query TEXT NOT NULL,
    report TEXT,
    sources JSONB,
    images JSONB,
    costs DOUBLE PRECISION,
    review_rounds INTEGER,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
`)
	return err
}

// SaveReport upserts a finished run by id
func (s *Store) SaveReport(ctx context.Context, rec ReportRecord) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO research_reports (id, query, report, sources, images, costs, review_rounds, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
ON CONFLICT (id) DO UPDATE SET
  query = EXCLUDED.query,
  report = EXCLUDED.report,
  sources = EXCLUDED.sources,
  images = EXCLUDED.images,
  costs = EXCLUDED.costs,
  review_rounds = EXCLUDED.review_rounds;
`,
		rec.ID, rec.Query, rec.Report, jsonOrNull(rec.Sources), jsonOrNull(rec.Images), rec.Costs, rec.ReviewRounds,
	)
	return err
}

// GetReport fetches one run by id
func (s *Store) GetReport(ctx context.Context, id string) (ReportRecord, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT query, report, sources, images, costs, review_rounds, created_at
        FROM research_reports WHERE id = $1`, id)

	rec := ReportRecord{ID: id}
	var sources, images []byte
	err := row.Scan(&rec.Query, &rec.Report, &sources, &images, &rec.Costs, &rec.ReviewRounds, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ReportRecord{}, ErrNotFound
	}
	if err != nil {
		return ReportRecord{}, err
	}
	rec.Sources = sources
	rec.Images = images
	return rec, nil
}

// ListReports returns the most recent runs, newest first
func (s *Store) ListReports(ctx context.Context, limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, query, costs, review_rounds, created_at
        FROM research_reports ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportRecord
	for rows.Next() {
		var rec ReportRecord
		if err := rows.Scan(&rec.ID, &rec.Query, &rec.Costs, &rec.ReviewRounds, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// MarshalJSONField is a helper for callers that persist structured values
// into the JSONB columns
func MarshalJSONField(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func jsonOrNull(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
