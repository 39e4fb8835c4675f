// Package coordinator owns the per-record refresh state machine. It feeds
// delivered record fields through the normalizer, starts the external
// generation process on request, and asks the record source to re-deliver
// the record so the fresh payload settles the cycle.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/diagnostics"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory/normalizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/errors"
)

// RecordSource delivers records push-style and re-delivers on request.
type RecordSource interface {
	Subscribe(recordID string, h func(winstory.RecordEvent)) (unsubscribe func(), err error)
	Refetch(ctx context.Context, recordID string) error
}

// Trigger starts the external story generation process for a record.
type Trigger interface {
	Trigger(ctx context.Context, recordID string) error
}

// Deps are the collaborators of a Coordinator. Source and Trigger are
// required; the rest default.
type Deps struct {
	Trigger  Trigger
	Source   RecordSource
	Field    string
	Observer diagnostics.Observer
	Logger   *slog.Logger
}

// Coordinator runs one record's refresh cycle. All methods are safe for
// concurrent use; the lock is never held across the trigger or refetch calls.
type Coordinator struct {
	recordID string
	trigger  Trigger
	source   RecordSource
	field    string
	observer diagnostics.Observer
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	stories   winstory.StoryCollection
	err       error
	cycle     uint64
	cycleID   string
	updatedAt time.Time

	listeners   map[int]func(View)
	nextID      int
	unsubscribe func()
	seq         uint64

	// emitMu serializes listener delivery; delivered is the seq of the
	// newest View handed to listeners.
	emitMu    sync.Mutex
	delivered uint64
}

// New creates a Coordinator in the idle state.
func New(recordID string, deps Deps) *Coordinator {
	if deps.Observer == nil {
		deps.Observer = diagnostics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Coordinator{
		recordID:  recordID,
		trigger:   deps.Trigger,
		source:    deps.Source,
		field:     deps.Field,
		observer:  deps.Observer,
		logger:    deps.Logger.With("component", "coordinator", "record_id", recordID),
		stories:   winstory.StoryCollection{},
		updatedAt: time.Now().UTC(),
		listeners: make(map[int]func(View)),
	}
}

// RecordID returns the record this coordinator serves.
func (c *Coordinator) RecordID() string {
	return c.recordID
}

// Attach registers OnRecordEvent with the record source. Calling it again
// while attached does nothing.
func (c *Coordinator) Attach() error {
	c.mu.Lock()
	attached := c.unsubscribe != nil
	c.mu.Unlock()
	if attached {
		return nil
	}

	unsubscribe, err := c.source.Subscribe(c.recordID, c.OnRecordEvent)
	if err != nil {
		return fmt.Errorf("subscribing to record %s: %w", c.recordID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe != nil {
		unsubscribe()
		return nil
	}
	c.unsubscribe = unsubscribe
	return nil
}

// Close detaches from the record source and drops all listeners.
func (c *Coordinator) Close() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	clear(c.listeners)
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// OnRecordEvent handles one delivery from the record source.
func (c *Coordinator) OnRecordEvent(ev winstory.RecordEvent) {
	if ev.Err != nil {
		c.fail(&winstory.RecordFetchError{RecordID: c.recordID, Err: ev.Err}, diagnostics.KindRecordFetchFailed)
		return
	}
	c.OnRecordUpdate(ev.Record.Field(c.field))
}

// OnRecordUpdate normalizes a delivered payload and settles the state on the
// result. A refresh in flight is settled by it whatever the outcome.
func (c *Coordinator) OnRecordUpdate(raw winstory.RawPayload) {
	stories, err := normalizer.Normalize(raw)
	if err != nil {
		c.fail(err, diagnostics.KindIngestFailed)
		return
	}

	c.mu.Lock()
	cycleID := c.settleLocked(StateSettled, stories, nil)
	ev := c.eventLocked(diagnostics.KindStoriesSettled, cycleID)
	c.mu.Unlock()

	c.emit(ev)
}

// Refresh starts a refresh cycle: trigger, then request re-delivery. It returns
// nil without side effects while another cycle is in flight. A trigger failure
// is returned as *winstory.TriggerError and no refetch is issued.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.state.InFlight() {
		ev := c.eventLocked(diagnostics.KindRefreshRejected, "")
		c.mu.Unlock()
		c.emit(ev)
		return nil
	}
	c.cycle++
	cycle := c.cycle
	c.cycleID = uuid.NewString()
	c.state = StateTriggering
	c.touchLocked()
	started := c.eventLocked(diagnostics.KindRefreshStarted, c.cycleID)
	c.mu.Unlock()
	c.emit(started)

	start := time.Now()
	err := c.trigger.Trigger(ctx, c.recordID)
	elapsed := time.Since(start)

	if err != nil {
		terr := &winstory.TriggerError{RecordID: c.recordID, Err: err}
		c.mu.Lock()
		if c.cycle != cycle || c.state != StateTriggering {
			ev := c.eventLocked(diagnostics.KindRefreshSuperseded, "")
			c.mu.Unlock()
			c.emit(ev.WithError(terr))
			return terr
		}
		cycleID := c.settleLocked(StateFailed, winstory.StoryCollection{}, terr)
		ev := c.eventLocked(diagnostics.KindTriggerFailed, cycleID)
		c.mu.Unlock()
		ev.Duration = elapsed
		c.emit(ev.WithError(terr))
		return terr
	}

	c.mu.Lock()
	if c.cycle != cycle || c.state != StateTriggering {
		// Fresh data already settled this cycle.
		ev := c.eventLocked(diagnostics.KindRefreshSuperseded, "")
		c.mu.Unlock()
		ev.Duration = elapsed
		c.emit(ev)
		return nil
	}
	c.state = StateAwaitingFreshData
	c.touchLocked()
	ok := c.eventLocked(diagnostics.KindTriggerSucceeded, c.cycleID)
	c.mu.Unlock()
	ok.Duration = elapsed
	c.emit(ok)

	if err := c.source.Refetch(ctx, c.recordID); err != nil {
		ferr := &winstory.RecordFetchError{RecordID: c.recordID, Err: err}
		c.mu.Lock()
		if c.cycle != cycle || c.state != StateAwaitingFreshData {
			c.mu.Unlock()
			c.logger.Warn("refetch failed after cycle settled", "error", err)
			return ferr
		}
		cycleID := c.settleLocked(StateFailed, winstory.StoryCollection{}, ferr)
		ev := c.eventLocked(diagnostics.KindRecordFetchFailed, cycleID)
		c.mu.Unlock()
		c.emit(ev.WithError(ferr))
		return ferr
	}
	return nil
}

// Inject replaces the stories directly, bypassing the record source. It is
// refused with apperrors.ErrRefreshInFlight while a refresh is outstanding.
func (c *Coordinator) Inject(stories winstory.StoryCollection) error {
	if stories == nil {
		stories = winstory.StoryCollection{}
	}
	c.mu.Lock()
	if c.state.InFlight() {
		c.mu.Unlock()
		return apperrors.Newf(apperrors.ErrRefreshInFlight, http.StatusConflict,
			"record %s is refreshing", c.recordID)
	}
	c.settleLocked(StateSettled, stories, nil)
	ev := c.eventLocked(diagnostics.KindStoriesInjected, "")
	c.mu.Unlock()

	c.emit(ev)
	return nil
}

// View returns a snapshot of the current state.
func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Subscribe registers fn to receive a View after transitions. Views arrive in
// transition order; when transitions race, an older View that loses the race
// is dropped rather than delivered after a newer one. fn must not start a
// transition on the same coordinator synchronously. The returned func
// removes it.
func (c *Coordinator) Subscribe(fn func(View)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) fail(err error, kind diagnostics.Kind) {
	c.mu.Lock()
	cycleID := c.settleLocked(StateFailed, winstory.StoryCollection{}, err)
	ev := c.eventLocked(kind, cycleID)
	c.mu.Unlock()

	c.emit(ev.WithError(err))
}

// settleLocked moves to a terminal state and returns the ID of the cycle it
// settled, or "" when none was in flight.
func (c *Coordinator) settleLocked(state State, stories winstory.StoryCollection, err error) string {
	var cycleID string
	if c.state.InFlight() {
		cycleID = c.cycleID
		c.cycleID = ""
	}
	c.state = state
	c.stories = stories
	c.err = err
	c.touchLocked()
	return cycleID
}

func (c *Coordinator) touchLocked() {
	c.updatedAt = time.Now().UTC()
}

func (c *Coordinator) viewLocked() View {
	v := View{
		RecordID:     c.recordID,
		Stories:      c.stories,
		IsRefreshing: c.state.InFlight(),
		State:        c.state.String(),
		UpdatedAt:    c.updatedAt,
		Err:          c.err,
	}
	if c.err != nil {
		v.ErrorMessage = c.err.Error()
	}
	return v
}

// pending pairs an event with the view and listeners captured under the lock.
type pending struct {
	diagnostics.Event
	view      View
	seq       uint64
	listeners []func(View)
}

func (p pending) WithError(err error) pending {
	p.Event = p.Event.WithError(err)
	return p
}

func (c *Coordinator) eventLocked(kind diagnostics.Kind, cycleID string) pending {
	p := pending{
		Event: diagnostics.Event{
			Kind:       kind,
			RecordID:   c.recordID,
			CycleID:    cycleID,
			State:      c.state.String(),
			Count:      len(c.stories),
			Refreshing: c.state.InFlight(),
			At:         time.Now().UTC(),
		},
		view: c.viewLocked(),
	}
	if kind != diagnostics.KindRefreshRejected && kind != diagnostics.KindRefreshSuperseded {
		c.seq++
		p.seq = c.seq
		p.listeners = make([]func(View), 0, len(c.listeners))
		for _, fn := range c.listeners {
			p.listeners = append(p.listeners, fn)
		}
	}
	return p
}

func (c *Coordinator) emit(p pending) {
	c.observer.Observe(p.Event)
	if len(p.listeners) == 0 {
		return
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if p.seq <= c.delivered {
		return
	}
	c.delivered = p.seq
	for _, fn := range p.listeners {
		fn(p.view)
	}
}
