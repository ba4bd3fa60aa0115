package models

import "time"

// ── Source Records ──────────────────────────────────────────

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// RecordKind classifies an ingested record.
type RecordKind string

const (
	RecordEarthquake   RecordKind = "natural_disaster"
	RecordWeather      RecordKind = "weather"
	RecordGeopolitical RecordKind = "geopolitical"
	RecordTariff       RecordKind = "tariff"
	RecordWar          RecordKind = "war"
	RecordInfra        RecordKind = "infrastructure"
	RecordNews         RecordKind = "news"
)

// Record is a normalized event or news item from an external feed.
// Severity is on a 0–10 scale.
type Record struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Kind       RecordKind `json:"kind"`
	Title      string     `json:"title"`
	Summary    string     `json:"summary,omitempty"`
	Severity   float64    `json:"severity"`
	Location   *GeoPoint  `json:"location,omitempty"`
	Region     string     `json:"region,omitempty"`
	Sentiment  float64    `json:"sentiment,omitempty"` // -100 (hostile) to 100
	URL        string     `json:"url,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
	FetchedAt  time.Time  `json:"fetched_at"`
}

// SourceStatus tracks one feed's ingestion health.
type SourceStatus struct {
	Name                string    `json:"name"`
	LastFetch           time.Time `json:"last_fetch,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalSaved          int64     `json:"total_saved"`
	LastError           string    `json:"last_error,omitempty"`
}

// ── Entities ────────────────────────────────────────────────

// EntityType is the kind of supply-chain node being monitored.
type EntityType string

const (
	EntitySupplier EntityType = "supplier"
	EntityPort     EntityType = "port"
	EntityFacility EntityType = "facility"
	EntityRoute    EntityType = "route"
)

// Entity is a monitored supply-chain node.
type Entity struct {
	ID             string     `json:"id" yaml:"id"`
	Type           EntityType `json:"type" yaml:"type"`
	Name           string     `json:"name" yaml:"name"`
	Location       GeoPoint   `json:"location" yaml:"location"`
	Region         string     `json:"region" yaml:"region"`
	Product        string     `json:"product" yaml:"product"`
	TariffExposure float64    `json:"tariff_exposure" yaml:"tariff_exposure"`
	HistoricalRate float64    `json:"historical_rate" yaml:"historical_rate"`
}

// AffectedEntity is an entity inside an event's impact radius.
type AffectedEntity struct {
	Entity     Entity  `json:"entity"`
	DistanceKm float64 `json:"distance_km"`
}

// ── Risk Scores ─────────────────────────────────────────────

// RiskLevel buckets a 0–100 score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// LevelForScore maps a 0–100 score to a RiskLevel.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= 70:
		return RiskCritical
	case score >= 50:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskFactor is one weighted contribution to a score.
type RiskFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`
}

// RiskScore is the scoring collaborator's assessment of an entity.
type RiskScore struct {
	EntityID string       `json:"entity_id"`
	Score    float64      `json:"score"`
	Level    RiskLevel    `json:"level"`
	Factors  []RiskFactor `json:"factors"`
}

// ── Mitigation ──────────────────────────────────────────────

// Alternative is a ranked candidate supplier.
type Alternative struct {
	Name      string  `json:"name" yaml:"name"`
	Region    string  `json:"region" yaml:"region"`
	Product   string  `json:"product" yaml:"product"`
	RiskScore float64 `json:"risk_score" yaml:"risk_score"`
	CostDelta float64 `json:"cost_delta" yaml:"cost_delta"`
	LeadTime  int     `json:"lead_time_days" yaml:"lead_time_days"`
	Capacity  float64 `json:"capacity" yaml:"capacity"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
}

// AlternativeQuery constrains an alternative-supplier search.
type AlternativeQuery struct {
	EntityID       string   `json:"entity_id"`
	Product        string   `json:"product,omitempty"`
	ExcludeRegions []string `json:"exclude_regions,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

// MitigationPlan is a tiered set of recommended actions for an entity.
type MitigationPlan struct {
	EntityID        string        `json:"entity_id"`
	Score           float64       `json:"score"`
	Immediate       []string      `json:"immediate"`
	ShortTerm       []string      `json:"short_term"`
	LongTerm        []string      `json:"long_term"`
	Alternatives    []Alternative `json:"alternatives"`
	Recommendations string        `json:"recommendations,omitempty"`
	FromCache       bool          `json:"from_cache,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// ── Alerts ──────────────────────────────────────────────────

// AlertSeverity is the user-facing urgency of an alert.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a normalized, user-facing alert record.
type Alert struct {
	ID             string        `json:"id"`
	Type           string        `json:"type"`
	Severity       AlertSeverity `json:"severity"`
	Title          string        `json:"title"`
	Message        string        `json:"message"`
	EntityID       string        `json:"entity_id,omitempty"`
	Acknowledged   bool          `json:"acknowledged"`
	AcknowledgedBy string        `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}
