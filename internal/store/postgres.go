package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore connects, pings and migrates. maxConns <= 0 keeps the
// pool default.
func NewPostgresStore(ctx context.Context, connURL string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Str("host", cfg.ConnConfig.Host).Int32("max_conns", cfg.MaxConns).Msg("🐘 PostgreSQL record store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sentinel_records (
			id          TEXT PRIMARY KEY,
			source      TEXT NOT NULL,
			kind        TEXT NOT NULL,
			severity    DOUBLE PRECISION NOT NULL DEFAULT 0,
			occurred_at TIMESTAMPTZ NOT NULL,
			fetched_at  TIMESTAMPTZ NOT NULL,
			fingerprint TEXT NOT NULL,
			body        JSONB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sentinel_records_occurred ON sentinel_records (occurred_at DESC);
	`)
	return err
}

// UpsertRecords only rewrites rows whose fingerprint changed; RETURNING
// yields nothing for untouched rows.
func (s *PostgresStore) UpsertRecords(ctx context.Context, records []models.Record) ([]models.Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now()
	var saved []models.Record
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		r = normalize(r, now)
		fp := fingerprint(r)

		var id string
		err := tx.QueryRow(ctx, `
			INSERT INTO sentinel_records (id, source, kind, severity, occurred_at, fetched_at, fingerprint, body)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				source = EXCLUDED.source,
				kind = EXCLUDED.kind,
				severity = EXCLUDED.severity,
				occurred_at = EXCLUDED.occurred_at,
				fetched_at = EXCLUDED.fetched_at,
				fingerprint = EXCLUDED.fingerprint,
				body = EXCLUDED.body
			WHERE sentinel_records.fingerprint <> EXCLUDED.fingerprint
			RETURNING id`,
			r.ID, r.Source, string(r.Kind), r.Severity, r.OccurredAt, r.FetchedAt, fp, r,
		).Scan(&id)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			continue
		case err != nil:
			return nil, fmt.Errorf("postgres upsert %s: %w", r.ID, err)
		}
		saved = append(saved, r)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres commit: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) RecentRecords(ctx context.Context, limit int) ([]models.Record, error) {
	query := `SELECT body FROM sentinel_records ORDER BY occurred_at DESC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres recent: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[models.Record])
	if err != nil {
		return nil, fmt.Errorf("postgres recent: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ExpiredRecords(ctx context.Context, cutoff time.Time, limit int) ([]models.Record, error) {
	query := `SELECT body FROM sentinel_records WHERE occurred_at < $1 ORDER BY occurred_at ASC, id ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres expired: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[models.Record])
	if err != nil {
		return nil, fmt.Errorf("postgres expired: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteRecords(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM sentinel_records WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres delete: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sentinel_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
