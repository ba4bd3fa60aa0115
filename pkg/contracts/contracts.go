// Package contracts defines the collaborator interfaces the coordination core
// consumes.
//
// The agents only ever see these interfaces. Sentinel ships concrete
// implementations (internal/sources, internal/store, internal/scoring,
// internal/catalog, internal/llm, internal/realtime); tests and alternative
// deployments swap them in the wiring code (pkg/server).
package contracts

import (
	"context"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

// ── Source Fetchers ─────────────────────────────────────────

// SourceFetcher pulls normalized records from one external feed.
// Implementations: internal/sources (USGS, NWS, GDELT).
type SourceFetcher interface {
	// Name is the stable source identifier used in ingestion status.
	Name() string

	// Fetch returns the feed's current records.
	Fetch(ctx context.Context) ([]models.Record, error)
}

// ── Persistence ─────────────────────────────────────────────

// RecordStore persists ingested records. Upsert is idempotent by record id
// and returns only the records that were new or changed.
// Implementations: internal/store (memory, SQLite, PostgreSQL).
type RecordStore interface {
	UpsertRecords(ctx context.Context, records []models.Record) ([]models.Record, error)
	RecentRecords(ctx context.Context, limit int) ([]models.Record, error)
	Close() error
}

// ── Risk Scoring ────────────────────────────────────────────

// RiskScorer assesses an entity's exposure on a 0–100 scale.
// Implementation: internal/scoring.
type RiskScorer interface {
	Score(ctx context.Context, entityID string, entityType models.EntityType) (*models.RiskScore, error)
}

// ProximityFinder resolves the entities inside an event's impact radius.
// Implementation: internal/catalog.
type ProximityFinder interface {
	Nearby(ctx context.Context, point models.GeoPoint, radiusKm float64) ([]models.AffectedEntity, error)
}

// SupplierFinder ranks alternative suppliers for an entity.
// Implementation: internal/catalog.
type SupplierFinder interface {
	FindAlternatives(ctx context.Context, query models.AlternativeQuery) ([]models.Alternative, error)
}

// ── Language Model ──────────────────────────────────────────

// CompletionRequest is a single-turn completion with sampling controls.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completer produces free text. It is only ever used as optional enrichment;
// callers must behave correctly when it fails or is nil.
// Implementation: internal/llm.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ── Real-time Broadcast ─────────────────────────────────────

// Broadcaster emits a named event to every connected observer. An empty
// channel reaches all observers; otherwise only those subscribed to it.
// Implementations: internal/realtime (WebSocket hub), internal/notify.
type Broadcaster interface {
	Emit(ctx context.Context, event string, channel string, data any) error
}
