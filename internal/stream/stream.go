// Package stream fan-outs audit records to live subscribers (SSE clients).
package stream

import (
	"context"
	"sync"

	"opsboard.org/internal/auth"
)

// Stream broadcasts appended audit records to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan auth.AuditRecord
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan auth.AuditRecord)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// records. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan auth.AuditRecord {
	ch := make(chan auth.AuditRecord, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the record to all subscribers.
func (s *Stream) Publish(rec auth.AuditRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- rec:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// SubscriberCount reports active subscribers.
func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
