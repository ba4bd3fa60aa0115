package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using an embedded SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("record store: open: %w", err)
	}
	// One writer keeps upserts from racing on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("record store: wal: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("path", path).Msg("🗄️ SQLite record store initialized")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id          TEXT PRIMARY KEY,
			source      TEXT NOT NULL,
			kind        TEXT NOT NULL,
			severity    REAL NOT NULL DEFAULT 0,
			occurred_ns INTEGER NOT NULL,
			fetched_at  TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			body        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_records_occurred ON records(occurred_ns DESC);
		CREATE INDEX IF NOT EXISTS idx_records_source ON records(source);
	`)
	if err != nil {
		return fmt.Errorf("record store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertRecords(ctx context.Context, records []models.Record) ([]models.Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("record store: begin: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	var saved []models.Record
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		r = normalize(r, now)
		fp := fingerprint(r)

		var current string
		err := tx.QueryRowContext(ctx, `SELECT fingerprint FROM records WHERE id = ?`, r.ID).Scan(&current)
		switch {
		case err == nil && current == fp:
			continue
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("record store: lookup %s: %w", r.ID, err)
		}

		body, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("record store: encode %s: %w", r.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (id, source, kind, severity, occurred_ns, fetched_at, fingerprint, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				source=excluded.source, kind=excluded.kind, severity=excluded.severity,
				occurred_ns=excluded.occurred_ns, fetched_at=excluded.fetched_at,
				fingerprint=excluded.fingerprint, body=excluded.body
		`, r.ID, r.Source, string(r.Kind), r.Severity, r.OccurredAt.UnixNano(),
			r.FetchedAt.Format(time.RFC3339Nano), fp, string(body))
		if err != nil {
			return nil, fmt.Errorf("record store: upsert %s: %w", r.ID, err)
		}
		saved = append(saved, r)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("record store: commit: %w", err)
	}
	return saved, nil
}

func (s *SQLiteStore) RecentRecords(ctx context.Context, limit int) ([]models.Record, error) {
	query := `SELECT body FROM records ORDER BY occurred_ns DESC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("record store: recent: %w", err)
	}
	return scanRecords(rows)
}

func (s *SQLiteStore) ExpiredRecords(ctx context.Context, cutoff time.Time, limit int) ([]models.Record, error) {
	query := `SELECT body FROM records WHERE occurred_ns < ? ORDER BY occurred_ns ASC, id ASC`
	args := []any{cutoff.UnixNano()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("record store: expired: %w", err)
	}
	return scanRecords(rows)
}

func (s *SQLiteStore) DeleteRecords(ctx context.Context, ids []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("record store: begin: %w", err)
	}
	defer tx.Rollback()

	var n int64
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
		if err != nil {
			return 0, fmt.Errorf("record store: delete %s: %w", id, err)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("record store: commit: %w", err)
	}
	return int(n), nil
}

func scanRecords(rows *sql.Rows) ([]models.Record, error) {
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("record store: scan: %w", err)
		}
		var r models.Record
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("record store: decode: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("record store: count: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }
