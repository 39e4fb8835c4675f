package recordsource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory"
)

// Handler receives record deliveries.
type Handler func(winstory.RecordEvent)

type invalidator interface {
	Invalidate(ctx context.Context, recordID string) error
}

// Source fans record deliveries out to per-record subscribers. Deliveries run
// on the caller's goroutine with no lock held.
type Source struct {
	loader Loader
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
}

func NewSource(loader Loader) *Source {
	return &Source{
		loader: loader,
		logger: slog.Default().With("component", "record-source"),
		subs:   make(map[string]map[int]Handler),
	}
}

// Subscribe registers h for deliveries of recordID.
func (s *Source) Subscribe(recordID string, h func(winstory.RecordEvent)) (func(), error) {
	if recordID == "" {
		return nil, fmt.Errorf("subscribing: empty record id")
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[recordID] == nil {
		s.subs[recordID] = make(map[int]Handler)
	}
	s.subs[recordID][id] = h
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[recordID], id)
			if len(s.subs[recordID]) == 0 {
				delete(s.subs, recordID)
			}
		})
	}, nil
}

// Subscribers returns the number of handlers registered for recordID.
func (s *Source) Subscribers(recordID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[recordID])
}

// Refetch reloads recordID past any cache and delivers it to subscribers. A
// load failure is returned and not delivered.
func (s *Source) Refetch(ctx context.Context, recordID string) error {
	if inv, ok := s.loader.(invalidator); ok {
		if err := inv.Invalidate(ctx, recordID); err != nil {
			s.logger.Warn("cache invalidation failed before refetch", "record_id", recordID, "error", err)
		}
	}
	rec, err := s.loader.Load(ctx, recordID)
	if err != nil {
		return err
	}
	s.deliver(recordID, winstory.RecordEvent{Record: rec})
	return nil
}

// Notify loads recordID and delivers the result, or the load error, to its
// subscribers. Records nobody watches are not loaded.
func (s *Source) Notify(ctx context.Context, recordID string) {
	if s.Subscribers(recordID) == 0 {
		return
	}
	rec, err := s.loader.Load(ctx, recordID)
	if err != nil {
		s.logger.Warn("record load failed", "record_id", recordID, "error", err)
		s.deliver(recordID, winstory.RecordEvent{Err: err})
		return
	}
	s.deliver(recordID, winstory.RecordEvent{Record: rec})
}

func (s *Source) deliver(recordID string, ev winstory.RecordEvent) {
	s.mu.RLock()
	handlers := make([]Handler, 0, len(s.subs[recordID]))
	for _, h := range s.subs[recordID] {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
