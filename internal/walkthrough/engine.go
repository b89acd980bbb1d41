// Package walkthrough drives multi-step, cross-page product tours. The
// engine owns the only mutable tour state; everything else observes it.
package walkthrough

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"guidepost-server/internal/facts"
	"guidepost-server/internal/registry"
	"guidepost-server/internal/resolve"
)

// State of the tour engine.
type State string

const (
	StateIdle                State = "idle"
	StateAwaitingNavigation  State = "awaiting_navigation"
	StateAwaitingInteraction State = "awaiting_interaction"
	StateCompleted           State = "completed"
)

// Step is one stop on a tour. Steps are immutable once a tour starts.
type Step struct {
	// Query is resolved against the component registry when the step
	// becomes current.
	Query string `json:"query"`
	// Page is the route path the step lives on. Empty means "/".
	Page string `json:"page,omitempty"`
	// DurationMs bounds the highlight; 0 keeps it until the step ends.
	DurationMs int `json:"durationMs,omitempty"`
	// Message is shown to the user alongside the highlight.
	Message string `json:"message,omitempty"`
	// WaitForClick defaults to true: the step advances when its component
	// is clicked. Set to false for timed steps.
	WaitForClick *bool `json:"waitForClick,omitempty"`
}

func (s Step) TargetPage() string {
	if s.Page == "" {
		return "/"
	}
	return s.Page
}

func (s Step) WaitsForClick() bool {
	return s.WaitForClick == nil || *s.WaitForClick
}

// Callbacks observe one tour's lifecycle. They are never persisted, so a
// resumed tour runs without them.
type Callbacks struct {
	OnComplete   func()
	OnStepChange func(index int, step Step)
}

// Walkthrough is an active tour.
type Walkthrough struct {
	ID               string `json:"id"`
	Steps            []Step `json:"steps"`
	CurrentStepIndex int    `json:"currentStepIndex"`

	callbacks Callbacks
}

// persisted is the exact slot shape. Callbacks never round-trip.
type persisted struct {
	ID               string `json:"id"`
	Steps            []Step `json:"steps"`
	CurrentStepIndex int    `json:"currentStepIndex"`
}

// Snapshot is the read-only view handed to observers.
type Snapshot struct {
	State     State  `json:"state"`
	ID        string `json:"id,omitempty"`
	StepIndex int    `json:"stepIndex"`
	StepCount int    `json:"stepCount"`
	Step      *Step  `json:"step,omitempty"`
}

// StorageError marks a persistence failure. Tours keep running through
// them; only resumption is affected.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("walkthrough storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Directory supplies resolver snapshots. Implemented by registry.Registry.
type Directory interface {
	Snapshot() []registry.Descriptor
}

// Highlighter applies and clears step highlights. Implemented by
// highlight.Controller.
type Highlighter interface {
	Apply(selector string, duration time.Duration) error
	ClearAll() error
}

// Pager is the slice of the DOM driver the engine needs. The engine
// never navigates; it only reads location and scrolls.
type Pager interface {
	CurrentPath() (string, error)
	ScrollTo(selector, behavior string) error
}

// Slot persists the active tour. Implemented by store.FileSlot.
type Slot interface {
	Save(v any) error
	Load(out any) (bool, error)
	Delete() error
}

// Tracer records tour traces. Implemented by recorder.Recorder.
type Tracer interface {
	Start(tourID string) error
	Log(eventType, tourID string, data any)
}

// Options tune the engine's delays and optional sinks.
type Options struct {
	// SettleDelay runs between a page match and query resolution, so the
	// destination page's elements have time to mount.
	SettleDelay time.Duration
	// GraceDelay runs before auto-advancing past an unresolvable step.
	GraceDelay time.Duration

	Facts  *facts.Engine
	Tracer Tracer
}

const (
	defaultSettle = 500 * time.Millisecond
	defaultGrace  = 1000 * time.Millisecond
)

// Engine is the tour state machine. Safe for concurrent use; callbacks
// and observer notifications run outside the lock.
type Engine struct {
	dir  Directory
	hl   Highlighter
	page Pager
	slot Slot
	opts Options

	mu         sync.Mutex
	state      State
	wt         *Walkthrough
	resolvedID string
	gen        uint64
	timers     []*time.Timer

	obsMu     sync.Mutex
	observers map[int]func(Snapshot)
	nextObs   int
}

func NewEngine(dir Directory, hl Highlighter, page Pager, slot Slot, opts Options) *Engine {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettle
	}
	if opts.GraceDelay <= 0 {
		opts.GraceDelay = defaultGrace
	}
	return &Engine{
		dir:       dir,
		hl:        hl,
		page:      page,
		slot:      slot,
		opts:      opts,
		state:     StateIdle,
		observers: make(map[int]func(Snapshot)),
	}
}

// Start tears down any active tour and begins a new one at step 0.
// Returns the new tour's id.
func (e *Engine) Start(steps []Step, cb Callbacks) (string, error) {
	if len(steps) == 0 {
		return "", fmt.Errorf("walkthrough needs at least one step")
	}

	e.mu.Lock()
	e.teardownLocked()

	e.wt = &Walkthrough{
		ID:        uuid.NewString(),
		Steps:     steps,
		callbacks: cb,
	}
	id := e.wt.ID
	e.persistLocked()

	e.record(facts.PredWalkthroughStarted, id, len(steps))
	if e.opts.Tracer != nil {
		if err := e.opts.Tracer.Start(id); err != nil {
			log.Printf("walkthrough: trace start failed: %v", err)
		}
	}

	fires := e.enterStepLocked()
	e.mu.Unlock()

	run(fires)
	return id, nil
}

// Stop tears down the active tour and deletes its persisted state.
func (e *Engine) Stop() {
	e.mu.Lock()
	id := ""
	if e.wt != nil {
		id = e.wt.ID
	}
	e.teardownLocked()
	if err := e.slot.Delete(); err != nil {
		log.Printf("walkthrough: %v", &StorageError{Op: "delete", Err: err})
	}
	fires := e.notifyLocked()
	e.mu.Unlock()

	if id != "" {
		e.trace("stopped", id, nil)
	}
	run(fires)
}

// OnNavigated is invoked with the new pathname on every page change,
// both from the driver's navigation events and from the polling watcher.
func (e *Engine) OnNavigated(path string) {
	e.mu.Lock()

	if e.state == StateAwaitingNavigation && e.wt != nil {
		step := e.wt.Steps[e.wt.CurrentStepIndex]
		if step.TargetPage() == path {
			e.cancelTimersLocked()
			if err := e.hl.ClearAll(); err != nil {
				log.Printf("walkthrough: clear highlights: %v", err)
			}
			e.state = StateAwaitingInteraction
			e.record(facts.PredNavigation, path)
			fires := e.notifyLocked()
			if cb := e.wt.callbacks.OnStepChange; cb != nil {
				idx, st := e.wt.CurrentStepIndex, step
				fires = append(fires, func() { cb(idx, st) })
			}
			e.scheduleLocked(e.opts.SettleDelay, e.resolveCurrent)
			e.mu.Unlock()
			run(fires)
			return
		}
		e.mu.Unlock()
		return
	}

	if e.state == StateIdle && e.wt == nil {
		// A persisted tour left for another page may become resumable now.
		fires := e.tryResumeLocked(path)
		e.mu.Unlock()
		run(fires)
		return
	}

	e.mu.Unlock()
}

// OnClick advances the current step when its resolved component is the
// one that was clicked.
func (e *Engine) OnClick(componentID string) {
	e.mu.Lock()
	if e.state != StateAwaitingInteraction || e.wt == nil || e.resolvedID == "" || e.resolvedID != componentID {
		e.mu.Unlock()
		return
	}
	step := e.wt.Steps[e.wt.CurrentStepIndex]
	if !step.WaitsForClick() {
		e.mu.Unlock()
		return
	}
	e.record(facts.PredClick, componentID)
	fires := e.advanceLocked()
	e.mu.Unlock()
	run(fires)
}

// Advance moves to the next step regardless of interaction, e.g. from a
// UI "next" button.
func (e *Engine) Advance() {
	e.mu.Lock()
	if e.wt == nil {
		e.mu.Unlock()
		return
	}
	fires := e.advanceLocked()
	e.mu.Unlock()
	run(fires)
}

// ResumeFromStorage restores a persisted tour once per session bootstrap.
// If the persisted step's page is not the current page the blob is left
// alone; the page watcher re-attempts on later navigations.
func (e *Engine) ResumeFromStorage() error {
	path, err := e.page.CurrentPath()
	if err != nil {
		return fmt.Errorf("current path: %w", err)
	}

	e.mu.Lock()
	if e.state != StateIdle || e.wt != nil {
		e.mu.Unlock()
		return nil
	}
	fires := e.tryResumeLocked(path)
	e.mu.Unlock()
	run(fires)
	return nil
}

// Active returns the current tour snapshot.
func (e *Engine) Active() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Subscribe registers an observer for tour changes. The returned func
// unsubscribes.
func (e *Engine) Subscribe(fn func(Snapshot)) func() {
	e.obsMu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	e.obsMu.Unlock()
	return func() {
		e.obsMu.Lock()
		delete(e.observers, id)
		e.obsMu.Unlock()
	}
}

// --- locked internals ---

// teardownLocked cancels timers, clears highlights, and drops the tour.
// Pending timers from the old tour are fenced off by the generation bump.
func (e *Engine) teardownLocked() {
	e.cancelTimersLocked()
	e.gen++
	if err := e.hl.ClearAll(); err != nil {
		log.Printf("walkthrough: clear highlights: %v", err)
	}
	e.wt = nil
	e.resolvedID = ""
	e.state = StateIdle
}

// enterStepLocked inspects the current step and either waits for a
// navigation or schedules resolution after the settle delay.
func (e *Engine) enterStepLocked() []func() {
	step := e.wt.Steps[e.wt.CurrentStepIndex]
	e.resolvedID = ""

	fires := []func(){}
	if cb := e.wt.callbacks.OnStepChange; cb != nil {
		idx, st := e.wt.CurrentStepIndex, step
		fires = append(fires, func() { cb(idx, st) })
	}

	path, err := e.page.CurrentPath()
	if err != nil {
		log.Printf("walkthrough: current path: %v", err)
		path = ""
	}

	if step.TargetPage() != path {
		e.state = StateAwaitingNavigation
		return append(fires, e.notifyLocked()...)
	}

	e.state = StateAwaitingInteraction
	e.scheduleLocked(e.opts.SettleDelay, e.resolveCurrent)
	return append(fires, e.notifyLocked()...)
}

// resolveCurrent runs after the settle delay: resolve the step query,
// highlight on success, or arm the grace auto-advance so a broken query
// never wedges the tour.
func (e *Engine) resolveCurrent(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.wt == nil || e.state != StateAwaitingInteraction {
		e.mu.Unlock()
		return
	}
	step := e.wt.Steps[e.wt.CurrentStepIndex]

	d, err := resolve.Query(step.Query, e.dir.Snapshot())
	if err != nil {
		log.Printf("walkthrough: step %d query %q did not resolve, advancing after grace: %v",
			e.wt.CurrentStepIndex, step.Query, err)
		e.record(facts.PredResolutionMiss, step.Query, e.wt.CurrentStepIndex)
		e.trace("resolution_miss", e.wt.ID, map[string]any{"query": step.Query, "step": e.wt.CurrentStepIndex})
		e.scheduleLocked(e.opts.GraceDelay, e.timerAdvance)
		e.mu.Unlock()
		return
	}

	e.resolvedID = d.ID
	e.record(facts.PredResolutionHit, step.Query, d.ID)

	dur := time.Duration(step.DurationMs) * time.Millisecond
	if err := e.hl.Apply(d.Selector, dur); err != nil {
		log.Printf("walkthrough: highlight %q: %v", d.Selector, err)
	} else {
		e.record(facts.PredHighlightApplied, d.Selector, step.DurationMs)
	}
	if err := e.page.ScrollTo(d.Selector, "smooth"); err != nil {
		log.Printf("walkthrough: scroll to %q: %v", d.Selector, err)
	}
	e.trace("step_highlighted", e.wt.ID, map[string]any{
		"step": e.wt.CurrentStepIndex, "component": d.ID, "selector": d.Selector,
	})

	if !step.WaitsForClick() {
		delay := dur
		if delay <= 0 {
			delay = e.opts.GraceDelay
		}
		e.scheduleLocked(delay, e.timerAdvance)
	}
	e.mu.Unlock()
}

func (e *Engine) timerAdvance(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.wt == nil || e.state != StateAwaitingInteraction {
		e.mu.Unlock()
		return
	}
	fires := e.advanceLocked()
	e.mu.Unlock()
	run(fires)
}

func (e *Engine) advanceLocked() []func() {
	e.cancelTimersLocked()
	e.gen++
	if err := e.hl.ClearAll(); err != nil {
		log.Printf("walkthrough: clear highlights: %v", err)
	}
	e.resolvedID = ""

	wt := e.wt
	e.record(facts.PredStepAdvanced, wt.ID, wt.CurrentStepIndex)

	if wt.CurrentStepIndex >= len(wt.Steps)-1 {
		// Last step done.
		fires := []func(){}
		if cb := wt.callbacks.OnComplete; cb != nil {
			fires = append(fires, cb)
		}
		if err := e.slot.Delete(); err != nil {
			log.Printf("walkthrough: %v", &StorageError{Op: "delete", Err: err})
		}
		e.record(facts.PredWalkthroughCompleted, wt.ID)
		e.trace("completed", wt.ID, nil)
		e.wt = nil
		e.state = StateIdle
		return append(fires, e.notifyLocked()...)
	}

	wt.CurrentStepIndex++
	e.persistLocked()
	return e.enterStepLocked()
}

// tryResumeLocked adopts a persisted tour when its current step's page
// matches path. Callbacks are gone; the tour runs silently.
func (e *Engine) tryResumeLocked(path string) []func() {
	var p persisted
	found, err := e.slot.Load(&p)
	if err != nil {
		serr := &StorageError{Op: "load", Err: err}
		log.Printf("walkthrough: %v, discarding slot", serr)
		if derr := e.slot.Delete(); derr != nil {
			log.Printf("walkthrough: %v", &StorageError{Op: "delete", Err: derr})
		}
		return nil
	}
	if !found || len(p.Steps) == 0 {
		return nil
	}
	if p.CurrentStepIndex < 0 || p.CurrentStepIndex >= len(p.Steps) {
		log.Printf("walkthrough: persisted step index %d out of range, discarding slot", p.CurrentStepIndex)
		if derr := e.slot.Delete(); derr != nil {
			log.Printf("walkthrough: %v", &StorageError{Op: "delete", Err: derr})
		}
		return nil
	}

	step := p.Steps[p.CurrentStepIndex]
	if step.TargetPage() != path {
		// Leave the blob for a later navigation onto the right page.
		return nil
	}

	e.wt = &Walkthrough{ID: p.ID, Steps: p.Steps, CurrentStepIndex: p.CurrentStepIndex}
	e.resolvedID = ""
	e.state = StateAwaitingInteraction
	e.record(facts.PredWalkthroughStarted, p.ID, len(p.Steps))
	e.trace("resumed", p.ID, map[string]any{"step": p.CurrentStepIndex})
	e.scheduleLocked(e.opts.SettleDelay, e.resolveCurrent)
	return e.notifyLocked()
}

func (e *Engine) persistLocked() {
	p := persisted{ID: e.wt.ID, Steps: e.wt.Steps, CurrentStepIndex: e.wt.CurrentStepIndex}
	if err := e.slot.Save(p); err != nil {
		log.Printf("walkthrough: %v", &StorageError{Op: "save", Err: err})
	}
}

// scheduleLocked arms a timer fenced to the current generation: a
// teardown or advance in between invalidates it. fn re-checks the
// generation under its own lock before acting.
func (e *Engine) scheduleLocked(d time.Duration, fn func(gen uint64)) {
	gen := e.gen
	t := time.AfterFunc(d, func() { fn(gen) })
	e.timers = append(e.timers, t)
}

func (e *Engine) cancelTimersLocked() {
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = e.timers[:0]
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{State: e.state}
	if e.wt != nil {
		snap.ID = e.wt.ID
		snap.StepIndex = e.wt.CurrentStepIndex
		snap.StepCount = len(e.wt.Steps)
		step := e.wt.Steps[e.wt.CurrentStepIndex]
		snap.Step = &step
	}
	return snap
}

func (e *Engine) notifyLocked() []func() {
	snap := e.snapshotLocked()
	e.obsMu.Lock()
	fns := make([]func(), 0, len(e.observers))
	for _, obs := range e.observers {
		obs := obs
		fns = append(fns, func() { obs(snap) })
	}
	e.obsMu.Unlock()
	return fns
}

func (e *Engine) record(predicate string, args ...any) {
	if e.opts.Facts != nil {
		e.opts.Facts.Record(predicate, args...)
	}
}

func (e *Engine) trace(eventType, tourID string, data any) {
	if e.opts.Tracer != nil {
		e.opts.Tracer.Log(eventType, tourID, data)
	}
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
