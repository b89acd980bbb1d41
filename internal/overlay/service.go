// Package overlay is the programmatic surface of the guide layer: it
// owns the component registry, the highlight controller, the tour
// engine, and the conversation pipeline, and exposes them as one
// service handle.
package overlay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"guidepost-server/internal/action"
	"guidepost-server/internal/agent"
	"guidepost-server/internal/config"
	"guidepost-server/internal/dom"
	"guidepost-server/internal/facts"
	"guidepost-server/internal/highlight"
	"guidepost-server/internal/registry"
	"guidepost-server/internal/resolve"
	"guidepost-server/internal/store"
	"guidepost-server/internal/walkthrough"
)

// Service is the assembled overlay. One instance per driven page.
type Service struct {
	cfg config.Config

	Registry  *registry.Registry
	Highlight *highlight.Controller
	Tours     *walkthrough.Engine
	Driver    dom.Driver
	Facts     *facts.Engine

	client     *agent.Client
	dispatcher *action.Dispatcher
	messages   *store.MessageStore

	optMu     sync.Mutex
	reqConfig agent.RequestConfig

	defaultConversation string
}

// Deps are the constructed parts New assembles. Facts and Messages may
// be nil; the service degrades to no telemetry and no history.
type Deps struct {
	Driver   dom.Driver
	Client   *agent.Client
	Messages *store.MessageStore
	Facts    *facts.Engine
	Slot     walkthrough.Slot
	Tracer   walkthrough.Tracer
}

func New(cfg config.Config, deps Deps) *Service {
	reg := registry.New()
	hl := highlight.New(deps.Driver)

	s := &Service{
		cfg:                 cfg,
		Registry:            reg,
		Highlight:           hl,
		Driver:              deps.Driver,
		Facts:               deps.Facts,
		client:              deps.Client,
		messages:            deps.Messages,
		reqConfig:           agent.ConfigBlock(cfg.Agent),
		defaultConversation: uuid.NewString(),
	}

	s.Tours = walkthrough.NewEngine(reg, hl, deps.Driver, deps.Slot, walkthrough.Options{
		SettleDelay: cfg.Walkthrough.SettleDelay(),
		GraceDelay:  cfg.Walkthrough.GraceDelay(),
		Facts:       deps.Facts,
		Tracer:      deps.Tracer,
	})

	s.dispatcher = action.NewDispatcher(s.resolveSelector, action.Handlers{
		Navigate: func(path string) {
			if err := deps.Driver.Navigate(path); err != nil {
				log.Printf("overlay: navigate %q: %v", path, err)
			}
			s.record(facts.PredAgentAction, "navigate", path)
		},
		Highlight: func(selector string, durationMs int) {
			if err := hl.Apply(selector, time.Duration(durationMs)*time.Millisecond); err != nil {
				log.Printf("overlay: highlight %q: %v", selector, err)
			}
			s.record(facts.PredAgentAction, "highlight", selector)
		},
		ScrollTo: func(selector, behavior string) {
			if err := deps.Driver.ScrollTo(selector, behavior); err != nil {
				log.Printf("overlay: scroll to %q: %v", selector, err)
			}
			s.record(facts.PredAgentAction, "scrollTo", selector)
		},
		Click: func(selector string) {
			if err := deps.Driver.Click(selector); err != nil {
				log.Printf("overlay: click %q: %v", selector, err)
			}
			s.record(facts.PredAgentAction, "click", selector)
		},
		Custom: func(payload map[string]any) {
			s.record(facts.PredAgentAction, "custom", fmt.Sprintf("%v", payload))
		},
	})

	deps.Driver.OnNavigated(func(path string) {
		s.record(facts.PredNavigation, path)
		s.Tours.OnNavigated(path)
	})
	deps.Driver.OnComponentClick(func(ev dom.ClickEvent) {
		if d, ok := reg.Get(ev.ComponentID); ok && d.OnActivate != nil {
			d.OnActivate()
		}
		s.record(facts.PredClick, ev.ComponentID)
		s.Tours.OnClick(ev.ComponentID)
	})

	return s
}

// Start brings up the page bridge, resumes any persisted tour, and runs
// the page-change watcher until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Driver.Start(ctx); err != nil {
		return fmt.Errorf("start driver: %w", err)
	}
	if err := s.Tours.ResumeFromStorage(); err != nil {
		log.Printf("overlay: resume walkthrough: %v", err)
	}

	watcher := walkthrough.NewWatcher(s.Tours, s.Driver, s.cfg.Walkthrough.WatcherInterval())
	go watcher.Run(ctx)
	return nil
}

// Register adds a highlightable component and binds its selector on the
// page so clicks can be attributed. Registering an unchanged descriptor
// is a no-op.
func (s *Service) Register(d registry.Descriptor) error {
	if d.ID == "" || d.Selector == "" {
		return fmt.Errorf("descriptor needs id and selector")
	}
	s.Registry.Register(d)
	if err := s.Driver.Bind(d.Selector, d.ID); err != nil {
		return fmt.Errorf("bind %q: %w", d.ID, err)
	}
	s.record(facts.PredComponentRegistered, d.ID, d.Selector)
	return nil
}

// Unregister removes a component and its page binding. Any highlight it
// carries is cleared with the binding.
func (s *Service) Unregister(id string) {
	if d, ok := s.Registry.Get(id); ok {
		if err := s.Highlight.Remove(d.Selector); err != nil {
			log.Printf("overlay: clear highlight for %q: %v", id, err)
		}
	}
	if err := s.Driver.Unbind(id); err != nil {
		log.Printf("overlay: unbind %q: %v", id, err)
	}
	s.Registry.Unregister(id)
	s.record(facts.PredComponentUnregistered, id)
}

// Resolve maps a fuzzy component query to its descriptor.
func (s *Service) Resolve(query string) (registry.Descriptor, error) {
	d, err := resolve.Query(query, s.Registry.Snapshot())
	if err != nil {
		s.record(facts.PredResolutionMiss, query, -1)
		return registry.Descriptor{}, err
	}
	s.record(facts.PredResolutionHit, query, d.ID)
	return d, nil
}

// ApplyHighlight highlights a component query or literal selector.
// durationMs of 0 keeps the highlight until removed.
func (s *Service) ApplyHighlight(queryOrSelector string, durationMs int) error {
	sel := s.resolveOrLiteral(queryOrSelector)
	if err := s.Highlight.Apply(sel, time.Duration(durationMs)*time.Millisecond); err != nil {
		return err
	}
	s.record(facts.PredHighlightApplied, sel, durationMs)
	return nil
}

func (s *Service) RemoveHighlight(queryOrSelector string) error {
	return s.Highlight.Remove(s.resolveOrLiteral(queryOrSelector))
}

func (s *Service) ClearHighlights() error {
	return s.Highlight.ClearAll()
}

// StartWalkthrough begins a tour, returning its id.
func (s *Service) StartWalkthrough(steps []walkthrough.Step, cb walkthrough.Callbacks) (string, error) {
	return s.Tours.Start(steps, cb)
}

func (s *Service) StopWalkthrough() { s.Tours.Stop() }

// SubscribeWalkthrough registers an observer for tour changes and
// returns an unsubscribe func.
func (s *Service) SubscribeWalkthrough(fn func(walkthrough.Snapshot)) func() {
	return s.Tours.Subscribe(fn)
}

// Configure overrides the per-request agent tuning at runtime.
func (s *Service) Configure(rc agent.RequestConfig) {
	s.optMu.Lock()
	defer s.optMu.Unlock()
	if rc.Model != "" {
		s.reqConfig.Model = rc.Model
	}
	if rc.Temperature != 0 {
		s.reqConfig.Temperature = rc.Temperature
	}
	if rc.MaxTokens != 0 {
		s.reqConfig.MaxTokens = rc.MaxTokens
	}
	if rc.Instructions != "" {
		s.reqConfig.Instructions = rc.Instructions
	}
	if rc.Framework != "" {
		s.reqConfig.Framework = rc.Framework
	}
}

func (s *Service) requestConfig() agent.RequestConfig {
	s.optMu.Lock()
	defer s.optMu.Unlock()
	return s.reqConfig
}

// resolveSelector is the dispatcher's resolver hook.
func (s *Service) resolveSelector(query string) (string, error) {
	d, err := resolve.Query(query, s.Registry.Snapshot())
	if err != nil {
		return "", err
	}
	return d.Selector, nil
}

// resolveOrLiteral mirrors the dispatcher's highlight rule: component
// queries resolve through the registry, CSS-looking strings and misses
// pass through literally.
func (s *Service) resolveOrLiteral(q string) string {
	if looksLikeCSS(q) {
		return q
	}
	if sel, err := s.resolveSelector(q); err == nil {
		return sel
	}
	return q
}

func looksLikeCSS(s string) bool {
	if len(s) == 0 {
		return false
	}
	if s[0] == '#' || s[0] == '.' {
		return true
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '[' {
			return true
		}
	}
	return false
}

func (s *Service) record(predicate string, args ...any) {
	if s.Facts != nil {
		s.Facts.Record(predicate, args...)
	}
}
