package dom

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory Driver for tests and dry runs. Selectors are not
// parsed; marks and bindings are tracked verbatim.
type Fake struct {
	mu sync.Mutex

	Path     string
	Page     PageContext
	Elements []ElementSnapshot

	Marks    map[string]int
	Bindings map[string]string // componentID -> selector
	Scrolled []string
	Clicked  []string
	NavLog   []string

	navFns   []func(path string)
	clickFns []func(ev ClickEvent)
}

func NewFake() *Fake {
	return &Fake{
		Path:     "/",
		Marks:    make(map[string]int),
		Bindings: make(map[string]string),
	}
}

func (f *Fake) CurrentPath() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Path, nil
}

func (f *Fake) Context() (PageContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Page.Pathname == "" {
		return PageContext{Pathname: f.Path}, nil
	}
	return f.Page, nil
}

func (f *Fake) Mark(selector string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Marks[selector]++
	return 1, nil
}

func (f *Fake) Unmark(selector string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Marks, selector)
	return 1, nil
}

func (f *Fake) ClearMarks() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Marks = make(map[string]int)
	return nil
}

func (f *Fake) ScrollTo(selector, behavior string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Scrolled = append(f.Scrolled, selector)
	return nil
}

func (f *Fake) Click(selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Clicked = append(f.Clicked, selector)
	return nil
}

// Navigate records the path and emits a navigation event, mimicking a
// real page transition.
func (f *Fake) Navigate(path string) error {
	f.mu.Lock()
	f.Path = path
	f.NavLog = append(f.NavLog, path)
	fns := append([]func(string){}, f.navFns...)
	f.mu.Unlock()

	for _, fn := range fns {
		fn(path)
	}
	return nil
}

func (f *Fake) Visible(selector string) (bool, error) { return true, nil }

func (f *Fake) VisibleElements(ctx context.Context, limit int) ([]ElementSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > 0 && len(f.Elements) > limit {
		return append([]ElementSnapshot{}, f.Elements[:limit]...), nil
	}
	return append([]ElementSnapshot{}, f.Elements...), nil
}

func (f *Fake) Bind(selector, componentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Bindings[componentID] = selector
	return nil
}

func (f *Fake) Unbind(componentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Bindings, componentID)
	return nil
}

func (f *Fake) OnNavigated(fn func(path string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navFns = append(f.navFns, fn)
}

func (f *Fake) OnComponentClick(fn func(ev ClickEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clickFns = append(f.clickFns, fn)
}

func (f *Fake) Start(ctx context.Context) error { return nil }

// EmitClick simulates a user click on a bound component.
func (f *Fake) EmitClick(componentID string) {
	f.mu.Lock()
	fns := append([]func(ClickEvent){}, f.clickFns...)
	f.mu.Unlock()

	ev := ClickEvent{ComponentID: componentID, Timestamp: time.Now()}
	for _, fn := range fns {
		fn(ev)
	}
}

// SetPath moves the fake page without emitting a navigation event, the
// way a pushState route change looks to the poller.
func (f *Fake) SetPath(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Path = path
}

// MarkCount returns how many times a selector was marked.
func (f *Fake) MarkCount(selector string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Marks[selector]
}

// Marked reports whether a selector currently carries a mark.
func (f *Fake) Marked(selector string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Marks[selector]
	return ok
}
