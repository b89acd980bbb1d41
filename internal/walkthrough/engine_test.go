package walkthrough

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"guidepost-server/internal/registry"
)

// --- fakes ---

type fakeHighlighter struct {
	mu       sync.Mutex
	applied  []string
	cleared  int
	lastDur  time.Duration
	applyErr error
}

func (f *fakeHighlighter) Apply(selector string, duration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, selector)
	f.lastDur = duration
	return nil
}

func (f *fakeHighlighter) ClearAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakeHighlighter) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func (f *fakeHighlighter) lastApplied() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.applied) == 0 {
		return ""
	}
	return f.applied[len(f.applied)-1]
}

type fakePager struct {
	mu       sync.Mutex
	path     string
	scrolled []string
	pathErr  error
}

func (f *fakePager) CurrentPath() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path, f.pathErr
}

func (f *fakePager) ScrollTo(selector, behavior string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrolled = append(f.scrolled, selector)
	return nil
}

func (f *fakePager) setPath(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = p
}

// memSlot keeps the persisted blob in memory as JSON.
type memSlot struct {
	mu      sync.Mutex
	data    []byte
	loadErr error
}

func (m *memSlot) Save(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

func (m *memSlot) Load(out any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return false, m.loadErr
	}
	if m.data == nil {
		return false, nil
	}
	return true, json.Unmarshal(m.data, out)
}

func (m *memSlot) Delete() error {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
	return nil
}

func (m *memSlot) stored(t *testing.T) (persisted, bool) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return persisted{}, false
	}
	var p persisted
	if err := json.Unmarshal(m.data, &p); err != nil {
		t.Fatalf("decode slot: %v", err)
	}
	return p, true
}

// --- harness ---

type harness struct {
	reg  *registry.Registry
	hl   *fakeHighlighter
	page *fakePager
	slot *memSlot
	eng  *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		reg:  registry.New(),
		hl:   &fakeHighlighter{},
		page: &fakePager{path: "/"},
		slot: &memSlot{},
	}
	h.reg.Register(registry.Descriptor{ID: "save-button", Name: "Save Button", Selector: "#save"})
	h.reg.Register(registry.Descriptor{ID: "report-list", Name: "Report List", Selector: "#reports"})
	h.eng = NewEngine(h.reg, h.hl, h.page, h.slot, Options{
		SettleDelay: 5 * time.Millisecond,
		GraceDelay:  15 * time.Millisecond,
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func boolPtr(b bool) *bool { return &b }

// --- tests ---

func TestStartResolvesAfterSettle(t *testing.T) {
	h := newHarness(t)
	id, err := h.eng.Start([]Step{{Query: "save-button"}}, Callbacks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Error("expected tour id")
	}
	if snap := h.eng.Active(); snap.State != StateAwaitingInteraction {
		t.Errorf("state = %s", snap.State)
	}
	waitFor(t, "highlight", func() bool { return h.hl.appliedCount() == 1 })
	if h.hl.lastApplied() != "#save" {
		t.Errorf("applied = %q", h.hl.lastApplied())
	}
	h.page.mu.Lock()
	scrolled := append([]string(nil), h.page.scrolled...)
	h.page.mu.Unlock()
	if len(scrolled) != 1 || scrolled[0] != "#save" {
		t.Errorf("scrolled = %v", scrolled)
	}
}

func TestStartRequiresSteps(t *testing.T) {
	h := newHarness(t)
	if _, err := h.eng.Start(nil, Callbacks{}); err == nil {
		t.Fatal("expected error for empty tour")
	}
}

func TestClickAdvances(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var changes []int
	done := false
	h.eng.Start([]Step{{Query: "save-button"}, {Query: "report-list"}}, Callbacks{
		OnStepChange: func(i int, _ Step) {
			mu.Lock()
			changes = append(changes, i)
			mu.Unlock()
		},
		OnComplete: func() {
			mu.Lock()
			done = true
			mu.Unlock()
		},
	})
	waitFor(t, "first highlight", func() bool { return h.hl.appliedCount() == 1 })

	// Clicks on other components are ignored.
	h.eng.OnClick("report-list")
	if snap := h.eng.Active(); snap.StepIndex != 0 {
		t.Fatalf("wrong click advanced tour to step %d", snap.StepIndex)
	}

	h.eng.OnClick("save-button")
	if snap := h.eng.Active(); snap.StepIndex != 1 {
		t.Fatalf("step = %d after click, want 1", snap.StepIndex)
	}
	waitFor(t, "second highlight", func() bool { return h.hl.appliedCount() == 2 })

	h.eng.OnClick("report-list")
	waitFor(t, "completion", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done
	})
	if snap := h.eng.Active(); snap.State != StateIdle {
		t.Errorf("state after completion = %s", snap.State)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 2 || changes[0] != 0 || changes[1] != 1 {
		t.Errorf("step changes = %v", changes)
	}
}

func TestClickBeforeResolutionIgnored(t *testing.T) {
	h := newHarness(t)
	// A long settle guarantees the click lands before resolution.
	h.eng = NewEngine(h.reg, h.hl, h.page, h.slot, Options{
		SettleDelay: time.Minute,
		GraceDelay:  time.Minute,
	})
	h.eng.Start([]Step{{Query: "save-button"}}, Callbacks{})
	h.eng.OnClick("save-button")
	if snap := h.eng.Active(); snap.State != StateAwaitingInteraction || snap.StepIndex != 0 {
		t.Errorf("click before resolution changed state: %+v", snap)
	}
	h.eng.Stop()
}

func TestTimedStepAutoAdvances(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	done := false
	h.eng.Start([]Step{
		{Query: "save-button", DurationMs: 20, WaitForClick: boolPtr(false)},
	}, Callbacks{
		OnComplete: func() {
			mu.Lock()
			done = true
			mu.Unlock()
		},
	})
	waitFor(t, "auto-advance completion", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done
	})
	// A click after completion must be a no-op.
	h.eng.OnClick("save-button")
	if snap := h.eng.Active(); snap.State != StateIdle {
		t.Errorf("state = %s", snap.State)
	}
}

func TestTimedStepZeroDurationUsesGrace(t *testing.T) {
	h := newHarness(t)
	h.eng.Start([]Step{
		{Query: "save-button", WaitForClick: boolPtr(false)},
		{Query: "report-list"},
	}, Callbacks{})
	waitFor(t, "grace auto-advance", func() bool {
		return h.eng.Active().StepIndex == 1
	})
}

func TestUnresolvedQueryAdvancesAfterGrace(t *testing.T) {
	h := newHarness(t)
	h.eng.Start([]Step{
		{Query: "no such component"},
		{Query: "save-button"},
	}, Callbacks{})
	waitFor(t, "grace advance past broken step", func() bool {
		return h.eng.Active().StepIndex == 1
	})
	waitFor(t, "second step highlight", func() bool { return h.hl.appliedCount() == 1 })
	if h.hl.lastApplied() != "#save" {
		t.Errorf("applied = %q", h.hl.lastApplied())
	}
}

func TestCrossPageStepWaitsForNavigation(t *testing.T) {
	h := newHarness(t)
	h.eng.Start([]Step{{Query: "save-button", Page: "/settings"}}, Callbacks{})
	if snap := h.eng.Active(); snap.State != StateAwaitingNavigation {
		t.Fatalf("state = %s, want awaiting_navigation", snap.State)
	}

	// Navigating somewhere else does nothing.
	h.eng.OnNavigated("/billing")
	if snap := h.eng.Active(); snap.State != StateAwaitingNavigation {
		t.Fatalf("state after wrong page = %s", snap.State)
	}
	if h.hl.appliedCount() != 0 {
		t.Fatal("highlight applied while awaiting navigation")
	}

	h.page.setPath("/settings")
	h.eng.OnNavigated("/settings")
	if snap := h.eng.Active(); snap.State != StateAwaitingInteraction {
		t.Fatalf("state = %s", snap.State)
	}
	waitFor(t, "highlight after navigation", func() bool { return h.hl.appliedCount() == 1 })
}

func TestMidTourPageChange(t *testing.T) {
	h := newHarness(t)
	h.eng.Start([]Step{
		{Query: "save-button"},
		{Query: "report-list", Page: "/reports"},
	}, Callbacks{})
	waitFor(t, "first highlight", func() bool { return h.hl.appliedCount() == 1 })

	h.eng.OnClick("save-button")
	if snap := h.eng.Active(); snap.State != StateAwaitingNavigation || snap.StepIndex != 1 {
		t.Fatalf("after click: %+v", snap)
	}

	h.page.setPath("/reports")
	h.eng.OnNavigated("/reports")
	waitFor(t, "second highlight", func() bool { return h.hl.appliedCount() == 2 })
}

func TestPersistenceAcrossSteps(t *testing.T) {
	h := newHarness(t)
	id, _ := h.eng.Start([]Step{{Query: "save-button"}, {Query: "report-list"}}, Callbacks{})

	p, ok := h.slot.stored(t)
	if !ok {
		t.Fatal("no persisted state after start")
	}
	if p.ID != id || p.CurrentStepIndex != 0 || len(p.Steps) != 2 {
		t.Errorf("persisted = %+v", p)
	}

	waitFor(t, "highlight", func() bool { return h.hl.appliedCount() == 1 })
	h.eng.OnClick("save-button")

	p, ok = h.slot.stored(t)
	if !ok || p.CurrentStepIndex != 1 {
		t.Errorf("persisted after advance = %+v ok=%v", p, ok)
	}

	waitFor(t, "second highlight", func() bool { return h.hl.appliedCount() == 2 })
	h.eng.OnClick("report-list")

	if _, ok := h.slot.stored(t); ok {
		t.Error("slot not deleted after completion")
	}
}

func TestStopDeletesSlot(t *testing.T) {
	h := newHarness(t)
	h.eng.Start([]Step{{Query: "save-button"}}, Callbacks{})
	h.eng.Stop()
	if _, ok := h.slot.stored(t); ok {
		t.Error("slot survived Stop")
	}
	if snap := h.eng.Active(); snap.State != StateIdle {
		t.Errorf("state = %s", snap.State)
	}
	// Stale settle timers must not fire into the stopped engine.
	time.Sleep(20 * time.Millisecond)
	if h.hl.appliedCount() != 0 {
		t.Error("highlight applied after Stop")
	}
}

func TestRestartTearsDownPreviousTour(t *testing.T) {
	h := newHarness(t)
	first, _ := h.eng.Start([]Step{{Query: "save-button"}}, Callbacks{})
	second, _ := h.eng.Start([]Step{{Query: "report-list"}}, Callbacks{})
	if first == second {
		t.Fatal("expected distinct tour ids")
	}
	waitFor(t, "highlight", func() bool { return h.hl.appliedCount() >= 1 })
	if h.hl.lastApplied() != "#reports" {
		t.Errorf("applied = %q, want the second tour's selector", h.hl.lastApplied())
	}
	if snap := h.eng.Active(); snap.ID != second {
		t.Errorf("active id = %s", snap.ID)
	}
}

func TestResumeFromStorage(t *testing.T) {
	h := newHarness(t)
	h.slot.Save(persisted{
		ID:               "tour-1",
		Steps:            []Step{{Query: "save-button"}, {Query: "report-list"}},
		CurrentStepIndex: 1,
	})
	if err := h.eng.ResumeFromStorage(); err != nil {
		t.Fatalf("ResumeFromStorage: %v", err)
	}
	snap := h.eng.Active()
	if snap.State != StateAwaitingInteraction || snap.ID != "tour-1" || snap.StepIndex != 1 {
		t.Fatalf("resumed snapshot = %+v", snap)
	}
	waitFor(t, "resumed highlight", func() bool { return h.hl.appliedCount() == 1 })
	if h.hl.lastApplied() != "#reports" {
		t.Errorf("applied = %q", h.hl.lastApplied())
	}
}

func TestResumeDeferredUntilRightPage(t *testing.T) {
	h := newHarness(t)
	h.slot.Save(persisted{
		ID:               "tour-1",
		Steps:            []Step{{Query: "save-button", Page: "/settings"}},
		CurrentStepIndex: 0,
	})
	if err := h.eng.ResumeFromStorage(); err != nil {
		t.Fatalf("ResumeFromStorage: %v", err)
	}
	if snap := h.eng.Active(); snap.State != StateIdle {
		t.Fatalf("resumed on wrong page: %+v", snap)
	}
	if _, ok := h.slot.stored(t); !ok {
		t.Fatal("slot discarded while waiting for the right page")
	}

	// The watcher reports the matching navigation later.
	h.page.setPath("/settings")
	h.eng.OnNavigated("/settings")
	snap := h.eng.Active()
	if snap.State != StateAwaitingInteraction || snap.ID != "tour-1" {
		t.Fatalf("snapshot after navigation = %+v", snap)
	}
	waitFor(t, "highlight", func() bool { return h.hl.appliedCount() == 1 })
}

func TestResumeCorruptSlotDiscarded(t *testing.T) {
	h := newHarness(t)
	h.slot.loadErr = errors.New("unexpected end of JSON input")
	if err := h.eng.ResumeFromStorage(); err != nil {
		t.Fatalf("ResumeFromStorage: %v", err)
	}
	if snap := h.eng.Active(); snap.State != StateIdle {
		t.Errorf("state = %s", snap.State)
	}
	h.slot.mu.Lock()
	data := h.slot.data
	h.slot.mu.Unlock()
	if data != nil {
		t.Error("corrupt slot not discarded")
	}
}

func TestResumeOutOfRangeIndexDiscarded(t *testing.T) {
	h := newHarness(t)
	h.slot.Save(persisted{ID: "tour-1", Steps: []Step{{Query: "x"}}, CurrentStepIndex: 7})
	if err := h.eng.ResumeFromStorage(); err != nil {
		t.Fatalf("ResumeFromStorage: %v", err)
	}
	if snap := h.eng.Active(); snap.State != StateIdle {
		t.Errorf("state = %s", snap.State)
	}
	if _, ok := h.slot.stored(t); ok {
		t.Error("out-of-range slot not discarded")
	}
}

func TestAdvanceManually(t *testing.T) {
	h := newHarness(t)
	h.eng.Start([]Step{{Query: "save-button"}, {Query: "report-list"}}, Callbacks{})
	h.eng.Advance()
	if snap := h.eng.Active(); snap.StepIndex != 1 {
		t.Errorf("step = %d", snap.StepIndex)
	}
	h.eng.Advance()
	if snap := h.eng.Active(); snap.State != StateIdle {
		t.Errorf("state = %s", snap.State)
	}
	// Advancing an idle engine is a no-op.
	h.eng.Advance()
}

func TestSubscribeObservesTransitions(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var states []State
	unsub := h.eng.Subscribe(func(s Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})
	defer unsub()

	h.eng.Start([]Step{{Query: "save-button"}}, Callbacks{})
	waitFor(t, "highlight", func() bool { return h.hl.appliedCount() == 1 })
	h.eng.OnClick("save-button")

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 {
		t.Fatalf("observed %d transitions, want at least 2", len(states))
	}
	if states[len(states)-1] != StateIdle {
		t.Errorf("final observed state = %s", states[len(states)-1])
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	count := 0
	unsub := h.eng.Subscribe(func(Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsub()
	h.eng.Start([]Step{{Query: "save-button"}}, Callbacks{})
	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("notified %d times after unsubscribe", count)
	}
}

func TestStaleDurationTimerAfterManualAdvance(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var changes []int

	// Step 0 is timed: resolving it arms an auto-advance timer. A manual
	// advance races that timer; the step must move exactly once.
	h.eng.Start([]Step{
		{Query: "save-button", DurationMs: 30, WaitForClick: boolPtr(false)},
		{Query: "report-list"},
	}, Callbacks{OnStepChange: func(idx int, _ Step) {
		mu.Lock()
		changes = append(changes, idx)
		mu.Unlock()
	}})

	// The duration timer is armed in the same critical section as the
	// highlight, so an applied highlight means the timer exists.
	waitFor(t, "step 0 highlight", func() bool { return h.hl.lastApplied() == "#save" })
	h.eng.Advance()

	waitFor(t, "step 1 highlight", func() bool { return h.hl.lastApplied() == "#reports" })
	time.Sleep(60 * time.Millisecond) // stale timer's deadline passes

	snap := h.eng.Active()
	if snap.State != StateAwaitingInteraction || snap.StepIndex != 1 {
		t.Fatalf("state = %s index = %d, stale timer advanced again", snap.State, snap.StepIndex)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 2 || changes[0] != 0 || changes[1] != 1 {
		t.Errorf("step changes = %v, want [0 1]", changes)
	}
}

func TestStaleGraceTimerAfterManualAdvance(t *testing.T) {
	h := newHarness(t)

	// Step 0's query never resolves, arming the grace auto-advance. A
	// manual advance beats the grace timer; when it fires stale it must
	// not advance past step 1.
	h.eng.Start([]Step{
		{Query: "no such component"},
		{Query: "report-list"},
	}, Callbacks{})

	// The settle timer is armed at start; the grace timer joins it after
	// the failed resolution.
	waitFor(t, "grace timer armed", func() bool {
		h.eng.mu.Lock()
		defer h.eng.mu.Unlock()
		return len(h.eng.timers) == 2
	})
	h.eng.Advance()

	waitFor(t, "step 1 highlight", func() bool { return h.hl.lastApplied() == "#reports" })
	time.Sleep(40 * time.Millisecond) // past the grace deadline

	snap := h.eng.Active()
	if snap.State != StateAwaitingInteraction || snap.StepIndex != 1 {
		t.Fatalf("state = %s index = %d, stale grace timer advanced again", snap.State, snap.StepIndex)
	}
}

func TestStepDefaults(t *testing.T) {
	s := Step{}
	if s.TargetPage() != "/" {
		t.Errorf("TargetPage = %q", s.TargetPage())
	}
	if !s.WaitsForClick() {
		t.Error("WaitsForClick default should be true")
	}
	s.WaitForClick = boolPtr(false)
	if s.WaitsForClick() {
		t.Error("explicit false ignored")
	}
}

func TestStorageErrorUnwraps(t *testing.T) {
	inner := errors.New("disk full")
	err := &StorageError{Op: "save", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("Unwrap broken")
	}
}
