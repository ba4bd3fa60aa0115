package scoring_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/catalog"
	"github.com/adithya-n05/ICHack26-sub001/internal/scoring"
	"github.com/adithya-n05/ICHack26-sub001/internal/store"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func near(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 0.01 {
		t.Errorf("%s = %.2f, want %.2f", name, got, want)
	}
}

func TestCompute_Weights(t *testing.T) {
	got := scoring.Compute("e1", scoring.Factors{
		Sentiment:  -100,
		Disasters:  1,
		Vessels:    1,
		Tariffs:    1,
		Historical: 1,
	})
	near(t, "max score", got.Score, 100)
	if got.Level != models.RiskCritical {
		t.Errorf("Level = %s, want critical", got.Level)
	}

	got = scoring.Compute("e1", scoring.Factors{})
	// Neutral sentiment contributes half its weight.
	near(t, "neutral score", got.Score, 12.5)
	if len(got.Factors) != 5 || got.Factors[0].Name != "sentiment" || got.Factors[0].Value != 0.5 {
		t.Errorf("Factors = %+v", got.Factors)
	}
}

func TestCompute_ClampsInputs(t *testing.T) {
	got := scoring.Compute("e1", scoring.Factors{Sentiment: -400, Disasters: 3, Tariffs: -1})
	near(t, "clamped score", got.Score, 55)
}

func newModel(t *testing.T, records ...models.Record) *scoring.Model {
	t.Helper()
	cat, err := catalog.New(catalog.File{Entities: []models.Entity{
		{ID: "fab", Type: models.EntitySupplier, Location: models.GeoPoint{Lat: 24.77, Lng: 121.0}, Region: "Taiwan", TariffExposure: 0.35, HistoricalRate: 0.4},
		{ID: "port", Type: models.EntityPort, Location: models.GeoPoint{Lat: 22.62, Lng: 120.3}, Region: "Taiwan"},
	}})
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	if _, err := s.UpsertRecords(context.Background(), records); err != nil {
		t.Fatalf("UpsertRecords() error = %v", err)
	}
	return scoring.New(cat, s, scoring.Options{Now: func() time.Time { return now }})
}

func TestScore_CatalogOnly(t *testing.T) {
	m := newModel(t)
	got, err := m.Score(context.Background(), "fab", "")
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	// 0.25*0.5 + 0.20*0.35 + 0.10*0.4
	near(t, "score", got.Score, 23.5)
	if got.Level != models.RiskLow {
		t.Errorf("Level = %s, want low", got.Level)
	}
}

func TestScore_NearbyQuakeRaisesDisasters(t *testing.T) {
	m := newModel(t, models.Record{
		ID:         "q1",
		Kind:       models.RecordEarthquake,
		Severity:   9,
		Location:   &models.GeoPoint{Lat: 24.77, Lng: 121.0},
		OccurredAt: now.Add(-time.Hour),
	})
	got, err := m.Score(context.Background(), "fab", models.EntitySupplier)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	// 23.5 + 0.30*0.9*100
	near(t, "score", got.Score, 50.5)
	near(t, "disasters", got.Factors[1].Value, 0.9)
	if got.Factors[2].Value != 0 {
		t.Errorf("vessels = %.2f for a supplier, want 0", got.Factors[2].Value)
	}
}

func TestScore_OldRecordsIgnored(t *testing.T) {
	m := newModel(t, models.Record{
		ID:         "q-old",
		Kind:       models.RecordEarthquake,
		Severity:   9,
		Location:   &models.GeoPoint{Lat: 24.77, Lng: 121.0},
		OccurredAt: now.Add(-30 * 24 * time.Hour),
	})
	got, err := m.Score(context.Background(), "fab", "")
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	near(t, "score", got.Score, 23.5)
}

func TestScore_PortsSeeShippingDisruption(t *testing.T) {
	m := newModel(t,
		models.Record{ID: "typhoon", Kind: models.RecordWeather, Severity: 8, Location: &models.GeoPoint{Lat: 22.62, Lng: 120.3}, OccurredAt: now},
		models.Record{ID: "news", Kind: models.RecordNews, Region: "taiwan", Sentiment: -60, OccurredAt: now},
		models.Record{ID: "tariff", Kind: models.RecordTariff, Region: "Taiwan", OccurredAt: now},
	)
	got, err := m.Score(context.Background(), "port", "")
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	byName := map[string]float64{}
	for _, f := range got.Factors {
		byName[f.Name] = f.Value
	}
	near(t, "sentiment", byName["sentiment"], 0.8)
	near(t, "disasters", byName["disasters"], 0.8)
	near(t, "vessels", byName["vessels"], 0.8)
	near(t, "tariffs", byName["tariffs"], 0.1)
	// 0.25*0.8 + 0.30*0.8 + 0.15*0.8 + 0.20*0.1
	near(t, "score", got.Score, 58)
}

func TestScore_UnknownEntity(t *testing.T) {
	m := newModel(t)
	if _, err := m.Score(context.Background(), "ghost", ""); err == nil {
		t.Fatal("Score(ghost) succeeded, want error")
	}
}
