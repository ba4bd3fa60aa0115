// Package store persists ingested source records. The memory store is the
// default for local runs and tests; SQLite and PostgreSQL back production.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/config"
	"github.com/adithya-n05/ICHack26-sub001/pkg/contracts"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Store is a RecordStore that can also report reachability.
// All agent code depends on contracts.RecordStore; the extra methods serve
// the health endpoint and startup wiring.
type Store interface {
	contracts.RecordStore

	// Ping checks if the backing database is reachable.
	Ping(ctx context.Context) error

	// Count returns how many records are stored.
	Count(ctx context.Context) (int, error)

	// ExpiredRecords returns up to limit records that occurred before
	// cutoff, oldest first.
	ExpiredRecords(ctx context.Context, cutoff time.Time, limit int) ([]models.Record, error)

	// DeleteRecords removes records by id and returns how many existed.
	DeleteRecords(ctx context.Context, ids []string) (int, error)
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(cfg.SnapshotPath), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresURL, int32(cfg.MaxConnections))
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// fingerprint identifies a record's content. FetchedAt is excluded so that
// re-fetching an unchanged record is not a change.
func fingerprint(r models.Record) string {
	r.FetchedAt = time.Time{}
	data, _ := json.Marshal(r)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// normalize fills the timestamps a record needs to be ordered.
func normalize(r models.Record, now time.Time) models.Record {
	if r.FetchedAt.IsZero() {
		r.FetchedAt = now
	}
	if r.OccurredAt.IsZero() {
		r.OccurredAt = r.FetchedAt
	}
	r.OccurredAt = r.OccurredAt.UTC()
	r.FetchedAt = r.FetchedAt.UTC()
	return r
}

// sortOldest orders records oldest first, by occurrence then id.
func sortOldest(records []models.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].OccurredAt.Equal(records[j].OccurredAt) {
			return records[i].OccurredAt.Before(records[j].OccurredAt)
		}
		return records[i].ID < records[j].ID
	})
}

// sortRecent orders records newest first, by occurrence then id.
func sortRecent(records []models.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].OccurredAt.Equal(records[j].OccurredAt) {
			return records[i].OccurredAt.After(records[j].OccurredAt)
		}
		return records[i].ID < records[j].ID
	})
}
