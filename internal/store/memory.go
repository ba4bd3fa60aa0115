package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Records map[string]*memRecord `json:"records"`
}

type memRecord struct {
	Record      models.Record `json:"record"`
	Fingerprint string        `json:"fingerprint"`
}

// MemoryStore keeps records in a map. With a snapshot path set, the map is
// written to a JSON file in the background and reloaded on startup.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memRecord // key: record id
	now     func() time.Time

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{}
	closeOnce    sync.Once
	debounce     time.Duration
}

// NewMemoryStore creates a new in-memory store. snapshotPath may be empty.
func NewMemoryStore(snapshotPath string) *MemoryStore {
	m := &MemoryStore{
		records:      make(map[string]*memRecord),
		now:          time.Now,
		snapshotPath: snapshotPath,
		saveCh:       make(chan struct{}, 1),
		doneCh:       make(chan struct{}),
		debounce:     500 * time.Millisecond,
	}

	if m.snapshotPath != "" {
		if err := os.MkdirAll(filepath.Dir(m.snapshotPath), 0o755); err != nil {
			log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Cannot create snapshot dir, persistence disabled")
			m.snapshotPath = ""
		}
	}
	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("🗃️ Memory record store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests.
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			select {
			case <-time.After(m.debounce):
			case <-m.doneCh:
				return
			}
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	data, err := json.Marshal(snapshot{Records: m.records})
	m.mu.RUnlock()
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal record snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Int("records", len(m.records)).Msg("Snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Records != nil {
		m.records = snap.Records
	}
	log.Info().Int("records", len(m.records)).Str("path", m.snapshotPath).Msg("Snapshot loaded")
}

func (m *MemoryStore) closed() bool {
	select {
	case <-m.doneCh:
		return true
	default:
		return false
	}
}

// UpsertRecords stores records by id and returns those that were new or
// whose content changed.
func (m *MemoryStore) UpsertRecords(_ context.Context, records []models.Record) ([]models.Record, error) {
	if m.closed() {
		return nil, ErrClosed
	}
	now := m.now()

	m.mu.Lock()
	var saved []models.Record
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		r = normalize(r, now)
		fp := fingerprint(r)
		if cur, ok := m.records[r.ID]; ok && cur.Fingerprint == fp {
			continue
		}
		m.records[r.ID] = &memRecord{Record: r, Fingerprint: fp}
		saved = append(saved, r)
	}
	m.mu.Unlock()

	if len(saved) > 0 {
		m.requestSave()
	}
	return saved, nil
}

// RecentRecords returns up to limit records, newest first. A non-positive
// limit returns everything.
func (m *MemoryStore) RecentRecords(_ context.Context, limit int) ([]models.Record, error) {
	if m.closed() {
		return nil, ErrClosed
	}
	m.mu.RLock()
	out := make([]models.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Record)
	}
	m.mu.RUnlock()

	sortRecent(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ExpiredRecords(_ context.Context, cutoff time.Time, limit int) ([]models.Record, error) {
	if m.closed() {
		return nil, ErrClosed
	}
	m.mu.RLock()
	var out []models.Record
	for _, r := range m.records {
		if r.Record.OccurredAt.Before(cutoff) {
			out = append(out, r.Record)
		}
	}
	m.mu.RUnlock()

	sortOldest(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteRecords(_ context.Context, ids []string) (int, error) {
	if m.closed() {
		return 0, ErrClosed
	}
	m.mu.Lock()
	var n int
	for _, id := range ids {
		if _, ok := m.records[id]; ok {
			delete(m.records, id)
			n++
		}
	}
	m.mu.Unlock()

	if n > 0 {
		m.requestSave()
	}
	return n, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	if m.closed() {
		return ErrClosed
	}
	return nil
}

// Close stops the save loop and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
		log.Info().Msg("Memory record store closed")
	})
	return nil
}
