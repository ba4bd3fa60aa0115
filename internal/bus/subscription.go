package bus

import (
	"context"
	"sync"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

// subscription is one agent's inbox plus the broadcast types it wants.
type subscription struct {
	agentID string

	mu     sync.RWMutex // guards types, closed and sends on ch
	types  map[models.MessageType]struct{}
	ch     chan models.Message
	closed bool
}

func newSubscription(agentID string, size int) *subscription {
	return &subscription{
		agentID: agentID,
		types:   make(map[models.MessageType]struct{}),
		ch:      make(chan models.Message, size),
	}
}

func (s *subscription) add(types []models.MessageType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range types {
		s.types[t] = struct{}{}
	}
}

func (s *subscription) remove(types []models.MessageType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range types {
		delete(s.types, t)
	}
}

func (s *subscription) wants(t models.MessageType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.types[models.AllTypes]; ok {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// deliver sends msg, waiting up to timeout for room in the inbox.
func (s *subscription) deliver(ctx context.Context, msg models.Message, timeout time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}

	select {
	case s.ch <- msg:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.ch <- msg:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
