package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory/coordinator"
	apperrors "github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/errors"
)

const field = "win_stories_json"

// mapSource serves payloads from a map and delivers synchronously.
type mapSource struct {
	mu        sync.Mutex
	payloads  map[string]string
	fail      error
	stall     bool
	handlers  map[string]func(winstory.RecordEvent)
	refetches atomic.Int32
}

func newMapSource(payloads map[string]string) *mapSource {
	return &mapSource{payloads: payloads, handlers: map[string]func(winstory.RecordEvent){}}
}

func (s *mapSource) Subscribe(id string, h func(winstory.RecordEvent)) (func(), error) {
	s.mu.Lock()
	s.handlers[id] = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}, nil
}

func (s *mapSource) Refetch(ctx context.Context, id string) error {
	s.refetches.Add(1)
	s.mu.Lock()
	payload, ok := s.payloads[id]
	h, fail, stall := s.handlers[id], s.fail, s.stall
	s.mu.Unlock()
	if stall {
		<-ctx.Done()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if fail != nil {
		return fail
	}
	if !ok {
		return apperrors.Newf(apperrors.ErrRecordNotFound, 404, "record %s", id)
	}
	h(winstory.RecordEvent{Record: &winstory.Record{ID: id, Fields: map[string]winstory.RawPayload{field: winstory.Payload(payload)}}})
	return nil
}

func (s *mapSource) subscribed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handlers[id]
	return ok
}

type nopTrigger struct{}

func (nopTrigger) Trigger(context.Context, string) error { return nil }

func TestGetPrimesCoordinator(t *testing.T) {
	src := newMapSource(map[string]string{"006A": `[{"id":"1","customerName":"A","summary":"S"}]`})
	reg := New(coordinator.Deps{Trigger: nopTrigger{}, Source: src, Field: field})
	defer reg.Close()

	c, err := reg.Get(context.Background(), "006A")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v := c.View(); len(v.Stories) != 1 || v.State != "settled" {
		t.Fatalf("coordinator not primed: %+v", v)
	}

	again, err := reg.Get(context.Background(), "006A")
	if err != nil || again != c {
		t.Fatalf("second Get returned a different coordinator")
	}
	if n := src.refetches.Load(); n != 1 {
		t.Fatalf("refetches = %d, want 1", n)
	}
}

func TestGetUnknownRecord(t *testing.T) {
	src := newMapSource(nil)
	reg := New(coordinator.Deps{Trigger: nopTrigger{}, Source: src, Field: field})
	defer reg.Close()

	if _, err := reg.Get(context.Background(), "missing"); !errors.Is(err, apperrors.ErrRecordNotFound) {
		t.Fatalf("err = %v, want ErrRecordNotFound", err)
	}
	if reg.Len() != 0 || src.subscribed("missing") {
		t.Fatal("unknown record left registered")
	}
}

func TestGetKeepsCoordinatorOnFetchFailure(t *testing.T) {
	src := newMapSource(map[string]string{"006A": `[]`})
	src.fail = errors.New("db down")
	reg := New(coordinator.Deps{Trigger: nopTrigger{}, Source: src, Field: field})
	defer reg.Close()

	c, err := reg.Get(context.Background(), "006A")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v := c.View(); v.State != "failed" || !errors.Is(v.Err, apperrors.ErrRecordFetch) {
		t.Fatalf("view = %+v", v)
	}
}

func TestGetIgnoresCallerCancellation(t *testing.T) {
	src := newMapSource(map[string]string{"006A": `[{"id":"1","customerName":"A","summary":"S"}]`})
	reg := New(coordinator.Deps{Trigger: nopTrigger{}, Source: src, Field: field})
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := reg.Get(ctx, "006A"); err != nil {
		t.Fatalf("Get with cancelled ctx: %v", err)
	}

	c, err := reg.Get(context.Background(), "006A")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v := c.View(); v.State != "settled" || len(v.Stories) != 1 || v.Err != nil {
		t.Fatalf("view = %+v, want settled with one story", v)
	}
}

func TestGetDoesNotRegisterTimedOutPrime(t *testing.T) {
	src := newMapSource(map[string]string{"006A": `[{"id":"1","customerName":"A","summary":"S"}]`})
	src.stall = true
	reg := New(coordinator.Deps{Trigger: nopTrigger{}, Source: src, Field: field},
		WithPrimeTimeout(20*time.Millisecond))
	defer reg.Close()

	if _, err := reg.Get(context.Background(), "006A"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if reg.Len() != 0 || src.subscribed("006A") {
		t.Fatal("timed-out record left registered")
	}

	src.mu.Lock()
	src.stall = false
	src.mu.Unlock()
	c, err := reg.Get(context.Background(), "006A")
	if err != nil {
		t.Fatalf("Get after timeout: %v", err)
	}
	if v := c.View(); v.State != "settled" || len(v.Stories) != 1 {
		t.Fatalf("view = %+v, want settled with one story", v)
	}
}

func TestGetConcurrent(t *testing.T) {
	src := newMapSource(map[string]string{"006A": `[]`})
	reg := New(coordinator.Deps{Trigger: nopTrigger{}, Source: src, Field: field})
	defer reg.Close()

	var wg sync.WaitGroup
	coords := make([]*coordinator.Coordinator, 10)
	for i := range coords {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coords[i], _ = reg.Get(context.Background(), "006A")
		}()
	}
	wg.Wait()
	for _, c := range coords {
		if c == nil || c != coords[0] {
			t.Fatal("concurrent Gets returned different coordinators")
		}
	}
}

func TestCloseDetaches(t *testing.T) {
	src := newMapSource(map[string]string{"006A": `[]`})
	reg := New(coordinator.Deps{Trigger: nopTrigger{}, Source: src, Field: field})
	if _, err := reg.Get(context.Background(), "006A"); err != nil {
		t.Fatal(err)
	}
	reg.Close()
	if src.subscribed("006A") {
		t.Fatal("coordinator still subscribed after Close")
	}
	if _, err := reg.Get(context.Background(), "006A"); err == nil {
		t.Fatal("Get after Close should fail")
	}
}

func TestGetEmptyID(t *testing.T) {
	reg := New(coordinator.Deps{Trigger: nopTrigger{}, Source: newMapSource(nil), Field: field})
	if _, err := reg.Get(context.Background(), ""); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}
