// Package scoring assesses how exposed a catalog entity is to disruption.
//
// The model is a weighted sum of five signals, each on a 0–1 scale:
//
//	sentiment   0.25  regional news tone, normalized (100 - s) / 200
//	disasters   0.30  strongest nearby disaster, decayed by distance
//	vessels     0.15  shipping disruption, ports and routes only
//	tariffs     0.20  entity exposure plus recent tariff news
//	historical  0.10  entity's historical disruption rate
//
// The sum is scaled to 0–100.
package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/catalog"
	"github.com/adithya-n05/ICHack26-sub001/pkg/contracts"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

// Factor weights.
const (
	WeightSentiment  = 0.25
	WeightDisasters  = 0.30
	WeightVessels    = 0.15
	WeightTariffs    = 0.20
	WeightHistorical = 0.10
)

const (
	defaultWindow      = 72 * time.Hour
	defaultRecentLimit = 500
	// sentimentRadiusKm bounds how far located news counts toward an
	// entity's regional tone.
	sentimentRadiusKm = 1000
	tariffNewsBump    = 0.1
)

// Factors are the raw model inputs. Sentiment is -100..100; the rest 0..1.
type Factors struct {
	Sentiment  float64
	Disasters  float64
	Vessels    float64
	Tariffs    float64
	Historical float64
}

// Compute applies the weights and returns a score for entityID.
func Compute(entityID string, f Factors) *models.RiskScore {
	sentiment := clamp01((100 - clamp(f.Sentiment, -100, 100)) / 200)
	factors := []models.RiskFactor{
		{Name: "sentiment", Weight: WeightSentiment, Value: sentiment},
		{Name: "disasters", Weight: WeightDisasters, Value: clamp01(f.Disasters)},
		{Name: "vessels", Weight: WeightVessels, Value: clamp01(f.Vessels)},
		{Name: "tariffs", Weight: WeightTariffs, Value: clamp01(f.Tariffs)},
		{Name: "historical", Weight: WeightHistorical, Value: clamp01(f.Historical)},
	}
	var sum float64
	for _, rf := range factors {
		sum += rf.Weight * rf.Value
	}
	score := math.Round(clamp(sum*100, 0, 100)*100) / 100
	return &models.RiskScore{
		EntityID: entityID,
		Score:    score,
		Level:    models.LevelForScore(score),
		Factors:  factors,
	}
}

// EntityLookup resolves catalog entities. *catalog.Catalog implements it.
type EntityLookup interface {
	Entity(id string) (models.Entity, bool)
}

// Options tunes the record window the model reads.
type Options struct {
	// Window drops records that occurred longer ago. Default 72h.
	Window time.Duration
	// RecentLimit caps how many stored records are read per score.
	RecentLimit int
	Now         func() time.Time
}

// Model scores entities from stored records and catalog attributes.
type Model struct {
	entities EntityLookup
	records  contracts.RecordStore
	opts     Options
}

// New builds a Model. records may be nil, in which case only catalog
// attributes contribute.
func New(entities EntityLookup, records contracts.RecordStore, opts Options) *Model {
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = defaultRecentLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Model{entities: entities, records: records, opts: opts}
}

// Score implements contracts.RiskScorer.
func (m *Model) Score(ctx context.Context, entityID string, entityType models.EntityType) (*models.RiskScore, error) {
	e, ok := m.entities.Entity(entityID)
	if !ok {
		return nil, fmt.Errorf("scoring: unknown entity %q", entityID)
	}
	if entityType != "" {
		e.Type = entityType
	}

	var recent []models.Record
	if m.records != nil {
		all, err := m.records.RecentRecords(ctx, m.opts.RecentLimit)
		if err != nil {
			return nil, fmt.Errorf("scoring: load records: %w", err)
		}
		cutoff := m.opts.Now().Add(-m.opts.Window)
		for _, r := range all {
			if !r.OccurredAt.Before(cutoff) {
				recent = append(recent, r)
			}
		}
	}
	return Compute(e.ID, FactorsFor(e, recent)), nil
}

// FactorsFor derives model inputs for one entity from a set of records.
func FactorsFor(e models.Entity, records []models.Record) Factors {
	f := Factors{
		Tariffs:    e.TariffExposure,
		Historical: e.HistoricalRate,
	}
	shipping := e.Type == models.EntityPort || e.Type == models.EntityRoute

	var toneSum float64
	var toneN int
	for _, r := range records {
		switch r.Kind {
		case models.RecordEarthquake, models.RecordWeather, models.RecordInfra, models.RecordWar:
			intensity := impact(e, r)
			f.Disasters = math.Max(f.Disasters, intensity)
			if shipping && (r.Kind == models.RecordWeather || r.Kind == models.RecordInfra) {
				f.Vessels = math.Max(f.Vessels, intensity)
			}
		case models.RecordTariff:
			if sameRegion(e, r) {
				f.Tariffs += tariffNewsBump
			}
		}
		if r.Sentiment != 0 && (sameRegion(e, r) || within(e, r, sentimentRadiusKm)) {
			toneSum += r.Sentiment
			toneN++
		}
	}
	if toneN > 0 {
		f.Sentiment = toneSum / float64(toneN)
	}
	return f
}

// impact is the record's severity (0–1) decayed linearly to half at the
// edge of its impact radius, zero outside it.
func impact(e models.Entity, r models.Record) float64 {
	if r.Location == nil {
		if sameRegion(e, r) {
			return r.Severity / 10 * 0.5
		}
		return 0
	}
	radius := catalog.ImpactRadiusKm(r.Kind, r.Severity)
	d := catalog.DistanceKm(e.Location, *r.Location)
	if d > radius {
		return 0
	}
	return r.Severity / 10 * (1 - 0.5*d/radius)
}

func within(e models.Entity, r models.Record, km float64) bool {
	return r.Location != nil && catalog.DistanceKm(e.Location, *r.Location) <= km
}

func sameRegion(e models.Entity, r models.Record) bool {
	return e.Region != "" && r.Region != "" && strings.EqualFold(e.Region, r.Region)
}

func clamp(v, lo, hi float64) float64 { return math.Min(hi, math.Max(lo, v)) }

func clamp01(v float64) float64 { return clamp(v, 0, 1) }
