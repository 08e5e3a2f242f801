// Package audit persists one log entry per module per request and streams
// new entries to live subscribers.
package audit

import (
	"context"
	"sync"

	"github.com/tkingovr/aifirewall/api"
)

// Store defines the interface for log entry persistence and retrieval.
type Store interface {
	// Append writes entries in order. Stores never update or delete entries.
	Append(ctx context.Context, entries ...*api.LogEntry) error

	// Query retrieves entries matching the filter, oldest first.
	Query(ctx context.Context, filter api.QueryFilter) ([]*api.LogEntry, error)

	// Stats returns aggregate statistics.
	Stats(ctx context.Context) (*api.AuditStats, error)

	// Subscribe returns a channel that receives new entries in real time.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context) (<-chan *api.LogEntry, func())

	// Close flushes buffers and releases resources.
	Close() error
}

// subscribers fans new entries out to live listeners. Slow listeners miss
// entries rather than blocking writers.
type subscribers struct {
	mu   sync.RWMutex
	subs map[int]chan *api.LogEntry
	next int
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[int]chan *api.LogEntry)}
}

func (s *subscribers) add() (<-chan *api.LogEntry, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *api.LogEntry, 100)
	id := s.next
	s.next++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (s *subscribers) notify(entries ...*api.LogEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subs {
		for _, e := range entries {
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// NopStore discards entries. It backs the "none" sink.
type NopStore struct {
	subs *subscribers
}

// NewNopStore returns a store that keeps nothing but still streams entries
// to subscribers.
func NewNopStore() *NopStore {
	return &NopStore{subs: newSubscribers()}
}

func (s *NopStore) Append(_ context.Context, entries ...*api.LogEntry) error {
	s.subs.notify(entries...)
	return nil
}

func (s *NopStore) Query(context.Context, api.QueryFilter) ([]*api.LogEntry, error) {
	return nil, nil
}

func (s *NopStore) Stats(context.Context) (*api.AuditStats, error) {
	return api.NewAuditStats(), nil
}

func (s *NopStore) Subscribe(context.Context) (<-chan *api.LogEntry, func()) {
	return s.subs.add()
}

func (s *NopStore) Close() error { return nil }

func paginate(results []*api.LogEntry, f api.QueryFilter) []*api.LogEntry {
	if f.Offset > 0 {
		if f.Offset >= len(results) {
			return nil
		}
		results = results[f.Offset:]
	}
	if f.Limit > 0 && len(results) > f.Limit {
		results = results[:f.Limit]
	}
	return results
}
