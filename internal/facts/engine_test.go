package facts

import (
	"context"
	"testing"
	"time"

	"guidepost-server/internal/config"
)

func newTestEngine(t *testing.T, limit int) *Engine {
	t.Helper()
	e, err := NewEngine(config.FactsConfig{Enable: true, FactBufferLimit: limit})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestRecordAndFactsByPredicate(t *testing.T) {
	e := newTestEngine(t, 100)
	e.Record(PredNavigation, "/reports")
	e.Record(PredNavigation, "/settings")
	e.Record(PredClick, "save-button")

	navs := e.FactsByPredicate(PredNavigation)
	if len(navs) != 2 {
		t.Fatalf("navigation facts = %d, want 2", len(navs))
	}
	if navs[0].Args[0] != "/reports" || navs[1].Args[0] != "/settings" {
		t.Errorf("args = %v, %v", navs[0].Args, navs[1].Args)
	}
	if len(e.FactsByPredicate(PredClick)) != 1 {
		t.Error("click fact missing")
	}
	if len(e.FactsByPredicate(PredHighlightApplied)) != 0 {
		t.Error("unexpected highlight facts")
	}
}

func TestFactsReturnsCopy(t *testing.T) {
	e := newTestEngine(t, 100)
	e.Record(PredClick, "a")
	all := e.Facts()
	if len(all) != 1 {
		t.Fatalf("facts = %d", len(all))
	}
	all[0].Predicate = "mutated"
	if e.Facts()[0].Predicate != PredClick {
		t.Error("Facts exposed internal buffer")
	}
}

func TestDisabledEngineDropsFacts(t *testing.T) {
	e, err := NewEngine(config.FactsConfig{Enable: false})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.Record(PredClick, "a")
	if len(e.Facts()) != 0 {
		t.Error("disabled engine buffered a fact")
	}
	if _, err := e.Query(context.Background(), `click_event(X).`); err == nil {
		t.Error("expected error querying disabled engine")
	}
}

func TestBufferTrimsOldest(t *testing.T) {
	e := newTestEngine(t, 3)
	for _, path := range []string{"/a", "/b", "/c", "/d", "/e"} {
		e.Record(PredNavigation, path)
	}
	navs := e.FactsByPredicate(PredNavigation)
	if len(navs) != 3 {
		t.Fatalf("buffered facts = %d, want 3", len(navs))
	}
	if navs[0].Args[0] != "/c" || navs[2].Args[0] != "/e" {
		t.Errorf("kept %v .. %v, want /c .. /e", navs[0].Args, navs[2].Args)
	}
}

func TestBufferTrimPreservesIndexAcrossPredicates(t *testing.T) {
	e := newTestEngine(t, 4)
	e.Record(PredNavigation, "/a")
	e.Record(PredClick, "btn-1")
	e.Record(PredNavigation, "/b")
	e.Record(PredClick, "btn-2")
	e.Record(PredNavigation, "/c") // trims /a

	if len(e.FactsByPredicate(PredNavigation)) != 2 {
		t.Errorf("navigation = %v", e.FactsByPredicate(PredNavigation))
	}
	clicks := e.FactsByPredicate(PredClick)
	if len(clicks) != 2 || clicks[0].Args[0] != "btn-1" {
		t.Errorf("clicks = %v", clicks)
	}
}

func TestQueryBindsVariables(t *testing.T) {
	e := newTestEngine(t, 100)
	e.Record(PredResolutionHit, "save button", "save-button")
	e.Record(PredResolutionHit, "reports", "report-list")

	results, err := e.Query(context.Background(), `resolution_hit(Query, Component).`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	seen := map[any]bool{}
	for _, r := range results {
		seen[r["Component"]] = true
	}
	if !seen["save-button"] || !seen["report-list"] {
		t.Errorf("bindings = %v", results)
	}
}

func TestQueryConstantFilter(t *testing.T) {
	e := newTestEngine(t, 100)
	e.Record(PredNavigation, "/reports")
	e.Record(PredNavigation, "/settings")

	results, err := e.Query(context.Background(), `navigation_event("/reports").`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %v", results)
	}
}

func TestQueryMalformed(t *testing.T) {
	e := newTestEngine(t, 100)
	if _, err := e.Query(context.Background(), `not a mangle query`); err == nil {
		t.Error("expected parse error")
	}
}

func TestQueryTemporalWindow(t *testing.T) {
	e := newTestEngine(t, 100)
	e.Record(PredStepAdvanced, "tour-1", 0)
	mid := time.Now()
	time.Sleep(5 * time.Millisecond)
	e.Record(PredStepAdvanced, "tour-1", 1)

	early := e.QueryTemporal(PredStepAdvanced, time.Time{}, mid)
	if len(early) != 1 || early[0].Args[1] != 0 {
		t.Errorf("before mid = %v", early)
	}
	late := e.QueryTemporal(PredStepAdvanced, mid, time.Time{})
	if len(late) != 1 || late[0].Args[1] != 1 {
		t.Errorf("after mid = %v", late)
	}
	all := e.QueryTemporal(PredStepAdvanced, time.Time{}, time.Time{})
	if len(all) != 2 {
		t.Errorf("open window = %d facts", len(all))
	}
}

func TestSubscribeDeliversMatchingFacts(t *testing.T) {
	e := newTestEngine(t, 100)
	ch := make(chan WatchEvent, 4)
	e.Subscribe(PredWalkthroughCompleted, ch)
	defer e.Unsubscribe(PredWalkthroughCompleted, ch)

	e.Record(PredNavigation, "/x") // different predicate, no event
	e.Record(PredWalkthroughCompleted, "tour-1")

	select {
	case ev := <-ch:
		if ev.Predicate != PredWalkthroughCompleted || len(ev.Facts) != 1 {
			t.Errorf("event = %+v", ev)
		}
		if ev.Facts[0].Args[0] != "tour-1" {
			t.Errorf("fact args = %v", ev.Facts[0].Args)
		}
	case <-time.After(time.Second):
		t.Fatal("no watch event delivered")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	e := newTestEngine(t, 100)
	ch := make(chan WatchEvent) // unbuffered, never read
	e.Subscribe(PredClick, ch)
	defer e.Unsubscribe(PredClick, ch)

	done := make(chan struct{})
	go func() {
		e.Record(PredClick, "a")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a slow subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := newTestEngine(t, 100)
	ch := make(chan WatchEvent, 1)
	e.Subscribe(PredClick, ch)
	e.Unsubscribe(PredClick, ch)
	e.Record(PredClick, "a")
	select {
	case ev := <-ch:
		t.Fatalf("event after unsubscribe: %+v", ev)
	default:
	}
}

func TestAddRuleAndDerive(t *testing.T) {
	e := newTestEngine(t, 100)
	// The unit defines the base predicate so analysis accepts the rule.
	rule := `
navigation_event("/seed").
visited_page(P) :- navigation_event(P).
`
	if err := e.AddRule(rule); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if err := e.AddFacts(context.Background(), []Fact{
		{Predicate: PredNavigation, Args: []any{"/reports"}, Timestamp: time.Now()},
	}); err != nil {
		t.Fatalf("AddFacts: %v", err)
	}
	results, err := e.Query(context.Background(), `visited_page(P).`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	seen := map[any]bool{}
	for _, r := range results {
		seen[r["P"]] = true
	}
	if !seen["/reports"] {
		t.Errorf("derived = %v, want /reports among them", results)
	}
}

func TestAddRuleMalformed(t *testing.T) {
	e := newTestEngine(t, 100)
	if err := e.AddRule(`this is not mangle`); err == nil {
		t.Error("expected parse error")
	}
}
