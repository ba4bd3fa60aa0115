package bus

import (
	"sync"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

// HistoryFilter narrows a history query. Zero-value fields match everything.
type HistoryFilter struct {
	From          string
	To            string
	Type          models.MessageType
	Since         time.Time
	CorrelationID string
	// Limit keeps only the most recent N matches (0 = all).
	Limit int
}

func (f HistoryFilter) match(m models.Message) bool {
	if f.From != "" && m.From != f.From {
		return false
	}
	if f.To != "" && m.To != f.To {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && m.Timestamp.Before(f.Since) {
		return false
	}
	if f.CorrelationID != "" && m.CorrelationID != f.CorrelationID {
		return false
	}
	return true
}

// history is a thread-safe ring buffer of published messages that retains
// the last N entries in publish order.
type history struct {
	mu      sync.RWMutex
	entries []models.Message
	max     int
}

func newHistory(max int) *history {
	return &history{
		entries: make([]models.Message, 0, max),
		max:     max,
	}
}

func (h *history) append(msg models.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) >= h.max {
		// Drop oldest entry
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, msg)
}

func (h *history) query(f HistoryFilter) []models.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.Message, 0)
	for _, m := range h.entries {
		if f.match(m) {
			out = append(out, m)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func (h *history) conversation(correlationID string) []models.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []models.Message
	for _, m := range h.entries {
		if m.CorrelationID == correlationID || m.ID == correlationID {
			out = append(out, m)
		}
	}
	return out
}

func (h *history) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
