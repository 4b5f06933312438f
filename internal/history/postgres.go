package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists generation history in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS generations (
			id TEXT PRIMARY KEY,
			prompt TEXT NOT NULL,
			outcome TEXT NOT NULL,
			mime_type TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			size_bytes INTEGER NOT NULL DEFAULT 0,
			elapsed_ms BIGINT NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_generations_created ON generations (created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO generations (id, prompt, outcome, mime_type, image_url, size_bytes, elapsed_ms, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			mime_type = EXCLUDED.mime_type,
			image_url = EXCLUDED.image_url,
			size_bytes = EXCLUDED.size_bytes,
			elapsed_ms = EXCLUDED.elapsed_ms,
			reason = EXCLUDED.reason`,
		record.ID,
		record.Prompt,
		record.Outcome,
		record.MimeType,
		record.ImageURL,
		record.SizeBytes,
		record.ElapsedMS,
		record.Reason,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save generation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, prompt, outcome, mime_type, image_url, size_bytes, elapsed_ms, reason, created_at
		 FROM generations WHERE id=$1`, id)

	var r Record
	err := row.Scan(&r.ID, &r.Prompt, &r.Outcome, &r.MimeType, &r.ImageURL, &r.SizeBytes, &r.ElapsedMS, &r.Reason, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get generation: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, prompt, outcome, mime_type, image_url, size_bytes, elapsed_ms, reason, created_at
		 FROM generations ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Prompt, &r.Outcome, &r.MimeType, &r.ImageURL, &r.SizeBytes, &r.ElapsedMS, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generation rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
