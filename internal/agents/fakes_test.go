package agents_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/agent"
	"github.com/adithya-n05/ICHack26-sub001/internal/bus"
	"github.com/adithya-n05/ICHack26-sub001/pkg/contracts"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

// ── Collaborator fakes ──────────────────────────────────────

type fakeFetcher struct {
	name string

	mu      sync.Mutex
	records []models.Record
	err     error
	calls   int
}

func (f *fakeFetcher) Name() string { return f.name }

func (f *fakeFetcher) Fetch(ctx context.Context) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) set(records []models.Record, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records, f.err = records, err
}

// memStore is an idempotent upsert-by-id store.
type memStore struct {
	mu   sync.Mutex
	seen map[string]models.Record
}

func newMemStore() *memStore { return &memStore{seen: make(map[string]models.Record)} }

func (s *memStore) UpsertRecords(ctx context.Context, records []models.Record) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var saved []models.Record
	for _, r := range records {
		if _, ok := s.seen[r.ID]; ok {
			continue
		}
		s.seen[r.ID] = r
		saved = append(saved, r)
	}
	return saved, nil
}

func (s *memStore) RecentRecords(ctx context.Context, limit int) ([]models.Record, error) {
	return nil, nil
}

func (s *memStore) Close() error { return nil }

type fixedProximity struct {
	entities []models.Entity
}

func (p fixedProximity) Nearby(ctx context.Context, point models.GeoPoint, radiusKm float64) ([]models.AffectedEntity, error) {
	out := make([]models.AffectedEntity, 0, len(p.entities))
	for _, e := range p.entities {
		out = append(out, models.AffectedEntity{Entity: e, DistanceKm: 10})
	}
	return out, nil
}

// sequenceScorer returns scores in order, repeating the last one.
type sequenceScorer struct {
	mu     sync.Mutex
	scores []float64
	calls  int
}

func (s *sequenceScorer) Score(ctx context.Context, entityID string, entityType models.EntityType) (*models.RiskScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.scores) == 0 {
		return nil, errors.New("no scores configured")
	}
	i := s.calls
	if i >= len(s.scores) {
		i = len(s.scores) - 1
	}
	s.calls++
	return &models.RiskScore{EntityID: entityID, Score: s.scores[i], Level: models.LevelForScore(s.scores[i])}, nil
}

// gatedFinder blocks every search until release is closed. The first
// panics searches panic.
type gatedFinder struct {
	alts    []models.Alternative
	err     error
	release chan struct{}
	panics  int

	mu    sync.Mutex
	calls int
}

func (f *gatedFinder) FindAlternatives(ctx context.Context, q models.AlternativeQuery) ([]models.Alternative, error) {
	f.mu.Lock()
	f.calls++
	boom := f.calls <= f.panics
	f.mu.Unlock()
	if boom {
		panic("supplier index corrupted")
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.alts, f.err
}

func (f *gatedFinder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCompleter struct {
	text string
	err  error
	last contracts.CompletionRequest
}

func (c *fakeCompleter) Complete(ctx context.Context, req contracts.CompletionRequest) (string, error) {
	c.last = req
	return c.text, c.err
}

type emitted struct {
	event string
	data  any
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []emitted
}

func (b *recordingBroadcaster) Emit(ctx context.Context, event, channel string, data any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, emitted{event: event, data: data})
	return nil
}

func (b *recordingBroadcaster) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.event == event {
			n++
		}
	}
	return n
}

// ── Harness ─────────────────────────────────────────────────

func newBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(bus.Options{})
	t.Cleanup(b.Close)
	return b
}

func startAgent(t *testing.T, b *bus.Bus, p agent.Policy) *agent.Runtime {
	t.Helper()
	rt := agent.New(p, b, agent.Options{HeartbeatInterval: time.Hour})
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start(%s) error = %v", p.ID(), err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		rt.Stop(ctx)
	})
	return rt
}

func publish(t *testing.T, b *bus.Bus, msg models.Message) models.Message {
	t.Helper()
	out, err := b.Publish(context.Background(), msg)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func nextOfType(t *testing.T, ch <-chan models.Message, typ models.MessageType) models.Message {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case m := <-ch:
			if m.Type == typ {
				return m
			}
		case <-timeout:
			t.Fatalf("no %s message received", typ)
		}
	}
}

// settle drains ch for a short quiet period and returns what arrived.
func settle(ch <-chan models.Message, quiet time.Duration) []models.Message {
	var out []models.Message
	for {
		select {
		case m := <-ch:
			out = append(out, m)
		case <-time.After(quiet):
			return out
		}
	}
}

func ofType(ms []models.Message, typ models.MessageType) []models.Message {
	var out []models.Message
	for _, m := range ms {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func severeRecord(id string) models.Record {
	return models.Record{
		ID:       id,
		Source:   "usgs",
		Kind:     models.RecordEarthquake,
		Title:    "M6.8 earthquake",
		Severity: 7,
		Location: &models.GeoPoint{Lat: 24.1, Lng: 120.7},
	}
}
