package walkthrough

import (
	"context"
	"log"
	"time"
)

// Watcher polls the page path so single-page-app navigations that never
// emit a frame event still reach the engine. CDP frame navigations are
// delivered separately through the driver's navigation callback; the
// engine tolerates hearing about the same change twice.
type Watcher struct {
	engine   *Engine
	page     Pager
	interval time.Duration

	lastPath string
}

const defaultWatchInterval = 250 * time.Millisecond

func NewWatcher(engine *Engine, page Pager, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	return &Watcher{engine: engine, page: page, interval: interval}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	if path, err := w.page.CurrentPath(); err == nil {
		w.lastPath = path
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watcher) tick() {
	path, err := w.page.CurrentPath()
	if err != nil {
		log.Printf("watcher: current path: %v", err)
		return
	}
	if path == w.lastPath {
		return
	}
	w.lastPath = path
	w.engine.OnNavigated(path)
}
