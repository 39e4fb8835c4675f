package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/diagnostics"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory"
	apperrors "github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/errors"
)

const (
	testRecord = "006A000001"
	testField  = "win_stories_json"
	freshJSON  = `[{"id":"1","customerName":"Acme","summary":"Won on price"},{"id":"2","customerName":"Globex","summary":"Won on support"}]`
)

type fakeTrigger struct {
	mu      sync.Mutex
	calls   int
	err     error
	entered chan struct{}
	release chan struct{}
}

func (t *fakeTrigger) Trigger(ctx context.Context, recordID string) error {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	if t.entered != nil {
		t.entered <- struct{}{}
	}
	if t.release != nil {
		<-t.release
	}
	return t.err
}

func (t *fakeTrigger) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// fakeSource re-delivers next synchronously on Refetch.
type fakeSource struct {
	mu         sync.Mutex
	handler    func(winstory.RecordEvent)
	next       winstory.RecordEvent
	refetchErr error
	refetches  int
	unsubbed   bool
}

func (s *fakeSource) Subscribe(recordID string, h func(winstory.RecordEvent)) (func(), error) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.handler = nil
		s.unsubbed = true
		s.mu.Unlock()
	}, nil
}

func (s *fakeSource) Refetch(ctx context.Context, recordID string) error {
	s.mu.Lock()
	s.refetches++
	h, next, err := s.handler, s.next, s.refetchErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if h != nil {
		h(next)
	}
	return nil
}

func (s *fakeSource) Refetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refetches
}

func record(payload string) winstory.RecordEvent {
	return winstory.RecordEvent{Record: &winstory.Record{
		ID:     testRecord,
		Fields: map[string]winstory.RawPayload{testField: winstory.Payload(payload)},
	}}
}

func newTestCoordinator(t *testing.T, trig *fakeTrigger, src *fakeSource, obs diagnostics.Observer) *Coordinator {
	t.Helper()
	c := New(testRecord, Deps{Trigger: trig, Source: src, Field: testField, Observer: obs})
	if err := c.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNewCoordinatorIsIdle(t *testing.T) {
	c := New(testRecord, Deps{Trigger: &fakeTrigger{}, Source: &fakeSource{}, Field: testField})
	v := c.View()
	if v.State != "idle" || v.IsRefreshing || v.ErrorMessage != "" {
		t.Fatalf("unexpected initial view: %+v", v)
	}
	if v.Stories == nil || len(v.Stories) != 0 {
		t.Fatalf("expected empty non-nil stories, got %#v", v.Stories)
	}
}

func TestRefreshSettlesWithFreshData(t *testing.T) {
	trig := &fakeTrigger{}
	src := &fakeSource{next: record(freshJSON)}
	c := newTestCoordinator(t, trig, src, nil)

	var refreshing []bool
	c.Subscribe(func(v View) { refreshing = append(refreshing, v.IsRefreshing) })

	if c.View().IsRefreshing {
		t.Fatal("refreshing before Refresh")
	}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	want := []bool{true, true, false}
	if len(refreshing) != len(want) {
		t.Fatalf("transitions = %v, want %v", refreshing, want)
	}
	for i := range want {
		if refreshing[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", refreshing, want)
		}
	}

	v := c.View()
	if v.State != "settled" || v.IsRefreshing {
		t.Fatalf("unexpected final view: %+v", v)
	}
	if len(v.Stories) != 2 || v.Stories[0].ID != "1" || v.Stories[1].CustomerName != "Globex" {
		t.Fatalf("stories not replaced: %+v", v.Stories)
	}
	if trig.Calls() != 1 || src.Refetches() != 1 {
		t.Fatalf("trigger calls = %d, refetches = %d", trig.Calls(), src.Refetches())
	}
}

func TestRefreshIsNotReentrant(t *testing.T) {
	trig := &fakeTrigger{entered: make(chan struct{}), release: make(chan struct{})}
	src := &fakeSource{next: record(freshJSON)}

	var mu sync.Mutex
	var rejected int
	obs := diagnostics.ObserverFunc(func(e diagnostics.Event) {
		if e.Kind == diagnostics.KindRefreshRejected {
			mu.Lock()
			rejected++
			mu.Unlock()
		}
	})
	c := newTestCoordinator(t, trig, src, obs)

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()
	<-trig.entered

	for i := 0; i < 3; i++ {
		if err := c.Refresh(context.Background()); err != nil {
			t.Fatalf("re-entrant Refresh returned %v, want nil", err)
		}
	}
	if !c.View().IsRefreshing {
		t.Fatal("expected refresh in flight")
	}

	close(trig.release)
	if err := <-done; err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if trig.Calls() != 1 {
		t.Fatalf("trigger calls = %d, want 1", trig.Calls())
	}
	mu.Lock()
	defer mu.Unlock()
	if rejected != 3 {
		t.Fatalf("rejected = %d, want 3", rejected)
	}
}

func TestTriggerFailureSkipsRefetch(t *testing.T) {
	cause := errors.New("flow unavailable")
	trig := &fakeTrigger{err: cause}
	src := &fakeSource{next: record(freshJSON)}
	c := newTestCoordinator(t, trig, src, nil)

	err := c.Refresh(context.Background())
	var terr *winstory.TriggerError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TriggerError, got %v", err)
	}
	if !errors.Is(err, apperrors.ErrTriggerFailed) || !errors.Is(err, cause) {
		t.Fatalf("error chain incomplete: %v", err)
	}

	v := c.View()
	if v.State != "failed" || v.IsRefreshing {
		t.Fatalf("unexpected view: %+v", v)
	}
	if v.ErrorMessage == "" {
		t.Fatal("expected error message")
	}
	if src.Refetches() != 0 {
		t.Fatalf("refetches = %d, want 0", src.Refetches())
	}

	// Failure is terminal for the attempt only.
	trig.err = nil
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if got := c.View(); got.State != "settled" || got.ErrorMessage != "" {
		t.Fatalf("not recovered: %+v", got)
	}
}

func TestRecordFetchErrorThenRecovery(t *testing.T) {
	src := &fakeSource{}
	c := newTestCoordinator(t, &fakeTrigger{}, src, nil)

	c.OnRecordEvent(record(freshJSON))
	c.OnRecordEvent(winstory.RecordEvent{Err: errors.New("INSUFFICIENT_ACCESS")})

	v := c.View()
	if v.State != "failed" || len(v.Stories) != 0 {
		t.Fatalf("unexpected view after fetch error: %+v", v)
	}
	if !errors.Is(v.Err, apperrors.ErrRecordFetch) {
		t.Fatalf("err = %v, want record fetch error", v.Err)
	}

	c.OnRecordEvent(record(freshJSON))
	v = c.View()
	if v.ErrorMessage != "" || len(v.Stories) != 2 {
		t.Fatalf("successful delivery did not clear error: %+v", v)
	}
}

func TestRefetchFailureFailsCycle(t *testing.T) {
	src := &fakeSource{refetchErr: errors.New("store down")}
	c := newTestCoordinator(t, &fakeTrigger{}, src, nil)

	err := c.Refresh(context.Background())
	if !errors.Is(err, apperrors.ErrRecordFetch) {
		t.Fatalf("err = %v, want record fetch error", err)
	}
	if v := c.View(); v.IsRefreshing || v.State != "failed" {
		t.Fatalf("unexpected view: %+v", v)
	}
}

func TestMalformedPayloadLeavesStoriesEmpty(t *testing.T) {
	c := newTestCoordinator(t, &fakeTrigger{}, &fakeSource{}, nil)
	c.OnRecordUpdate(winstory.Payload(freshJSON))
	c.OnRecordUpdate(winstory.Payload(`[{`))

	v := c.View()
	if len(v.Stories) != 0 {
		t.Fatalf("stories = %+v, want empty", v.Stories)
	}
	var ierr *winstory.IngestError
	if !errors.As(v.Err, &ierr) || ierr.Kind != winstory.MalformedJSON {
		t.Fatalf("err = %v, want malformed json", v.Err)
	}
}

func TestAbsentFieldSettlesEmpty(t *testing.T) {
	c := newTestCoordinator(t, &fakeTrigger{}, &fakeSource{}, nil)
	c.OnRecordEvent(winstory.RecordEvent{Record: &winstory.Record{ID: testRecord}})

	v := c.View()
	if v.State != "settled" || v.Err != nil || len(v.Stories) != 0 {
		t.Fatalf("unexpected view: %+v", v)
	}
}

func TestFreshDataDuringTriggerSupersedesRefetch(t *testing.T) {
	trig := &fakeTrigger{entered: make(chan struct{}), release: make(chan struct{})}
	src := &fakeSource{next: record(freshJSON)}

	var mu sync.Mutex
	var kinds []diagnostics.Kind
	obs := diagnostics.ObserverFunc(func(e diagnostics.Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})
	c := newTestCoordinator(t, trig, src, obs)

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()
	<-trig.entered

	c.OnRecordUpdate(winstory.Payload(freshJSON))
	if c.View().IsRefreshing {
		t.Fatal("fresh data did not settle the cycle")
	}

	close(trig.release)
	if err := <-done; err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if src.Refetches() != 0 {
		t.Fatalf("refetches = %d, want 0", src.Refetches())
	}
	if v := c.View(); v.State != "settled" || v.IsRefreshing {
		t.Fatalf("cycle re-opened: %+v", v)
	}

	mu.Lock()
	defer mu.Unlock()
	if last := kinds[len(kinds)-1]; last != diagnostics.KindRefreshSuperseded {
		t.Fatalf("last event = %s, want %s", last, diagnostics.KindRefreshSuperseded)
	}
}

func TestInjectRejectedWhileRefreshing(t *testing.T) {
	trig := &fakeTrigger{entered: make(chan struct{}), release: make(chan struct{})}
	c := newTestCoordinator(t, trig, &fakeSource{next: record(freshJSON)}, nil)

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()
	<-trig.entered

	err := c.Inject(winstory.StoryCollection{{ID: "9", CustomerName: "Initech", Summary: "s"}})
	if !errors.Is(err, apperrors.ErrRefreshInFlight) {
		t.Fatalf("Inject err = %v, want ErrRefreshInFlight", err)
	}
	close(trig.release)
	<-done

	if err := c.Inject(winstory.StoryCollection{{ID: "9", CustomerName: "Initech", Summary: "s"}}); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	v := c.View()
	if len(v.Stories) != 1 || v.Stories[0].ID != "9" || v.Err != nil {
		t.Fatalf("unexpected view: %+v", v)
	}
}

func TestSettledEventCarriesCycleID(t *testing.T) {
	var mu sync.Mutex
	events := map[diagnostics.Kind]diagnostics.Event{}
	obs := diagnostics.ObserverFunc(func(e diagnostics.Event) {
		mu.Lock()
		events[e.Kind] = e
		mu.Unlock()
	})
	c := newTestCoordinator(t, &fakeTrigger{}, &fakeSource{next: record(freshJSON)}, obs)

	c.OnRecordUpdate(winstory.Payload(freshJSON))
	mu.Lock()
	if id := events[diagnostics.KindStoriesSettled].CycleID; id != "" {
		t.Fatalf("passive settle carried cycle id %q", id)
	}
	mu.Unlock()

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	started := events[diagnostics.KindRefreshStarted].CycleID
	if started == "" || events[diagnostics.KindStoriesSettled].CycleID != started {
		t.Fatalf("cycle ids differ: started %q settled %q", started, events[diagnostics.KindStoriesSettled].CycleID)
	}
	if events[diagnostics.KindStoriesSettled].Count != 2 {
		t.Fatalf("count = %d, want 2", events[diagnostics.KindStoriesSettled].Count)
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	src := &fakeSource{}
	c := New(testRecord, Deps{Trigger: &fakeTrigger{}, Source: src, Field: testField})
	if err := c.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := c.Attach(); err != nil {
		t.Fatalf("second Attach: %v", err)
	}
	c.Close()
	if !src.unsubbed {
		t.Fatal("Close did not unsubscribe")
	}
}

func TestSubscribeCancel(t *testing.T) {
	c := newTestCoordinator(t, &fakeTrigger{}, &fakeSource{}, nil)
	var n int
	cancel := c.Subscribe(func(View) { n++ })
	c.OnRecordUpdate(winstory.Payload(freshJSON))
	cancel()
	c.OnRecordUpdate(winstory.Payload(freshJSON))
	if n != 1 {
		t.Fatalf("listener calls = %d, want 1", n)
	}
}

func TestListenersNeverSeeStaleViewLast(t *testing.T) {
	c := newTestCoordinator(t, &fakeTrigger{}, &fakeSource{}, nil)
	var views []View
	c.Subscribe(func(v View) { views = append(views, v) })

	// Two transitions captured in order whose emits run in reverse, as
	// happens when a refresh and a change-feed delivery race.
	c.mu.Lock()
	c.settleLocked(StateFailed, winstory.StoryCollection{}, errors.New("stale"))
	older := c.eventLocked(diagnostics.KindRecordFetchFailed, "")
	c.settleLocked(StateSettled, winstory.StoryCollection{{ID: "1", CustomerName: "Acme", Summary: "Won"}}, nil)
	newer := c.eventLocked(diagnostics.KindStoriesSettled, "")
	c.mu.Unlock()

	c.emit(newer)
	c.emit(older)

	if len(views) != 1 {
		t.Fatalf("listener calls = %d, want 1", len(views))
	}
	if views[0].State != "settled" || len(views[0].Stories) != 1 {
		t.Fatalf("last view = %+v, want the settled one", views[0])
	}
}
