package action

import (
	"log"
	"strings"
)

// Handlers receives resolved actions. A nil field means the host does
// not support that action and matching instructions are dropped with a
// log line.
type Handlers struct {
	Navigate  func(path string)
	Highlight func(selector string, durationMs int)
	ScrollTo  func(selector string, behavior string)
	Click     func(selector string)
	Custom    func(payload map[string]any)
}

// Resolver turns a component query into a CSS selector. It is the same
// lookup the registry exposes; the dispatcher falls back to treating the
// string as a literal selector when resolution fails or the string
// already looks like CSS.
type Resolver func(query string) (selector string, err error)

// Dispatcher fans agent actions out to host handlers.
type Dispatcher struct {
	resolve  Resolver
	handlers Handlers
}

func NewDispatcher(resolve Resolver, handlers Handlers) *Dispatcher {
	return &Dispatcher{resolve: resolve, handlers: handlers}
}

// Dispatch applies each action in order. Unknown kinds and failed
// resolutions are logged and skipped; dispatch never aborts the batch.
func (d *Dispatcher) Dispatch(actions []Action) {
	for _, a := range actions {
		d.dispatchOne(a)
	}
}

func (d *Dispatcher) dispatchOne(a Action) {
	switch a.Kind {
	case KindNavigate:
		if d.handlers.Navigate == nil {
			log.Printf("action: navigate handler not installed, dropping %q", a.Path)
			return
		}
		d.handlers.Navigate(a.Path)

	case KindHighlight:
		if d.handlers.Highlight == nil {
			log.Printf("action: highlight handler not installed")
			return
		}
		for _, raw := range a.Selectors {
			sel, ok := d.toSelector(raw)
			if !ok {
				continue
			}
			d.handlers.Highlight(sel, a.DurationMs)
		}

	case KindScrollTo:
		if d.handlers.ScrollTo == nil {
			log.Printf("action: scrollTo handler not installed")
			return
		}
		if sel, ok := d.toSelector(a.Selector); ok {
			d.handlers.ScrollTo(sel, a.Behavior)
		}

	case KindClick:
		if d.handlers.Click == nil {
			log.Printf("action: click handler not installed")
			return
		}
		if sel, ok := d.toSelector(a.Selector); ok {
			d.handlers.Click(sel)
		}

	case KindCustom:
		if d.handlers.Custom == nil {
			log.Printf("action: custom handler not installed")
			return
		}
		d.handlers.Custom(a.Payload)

	default:
		log.Printf("action: unknown kind %q, skipping", a.Kind)
	}
}

// toSelector resolves a component query to its registered selector.
// Strings that already look like CSS bypass the resolver; otherwise a
// resolver miss falls back to the literal string so hand-written
// selectors from the agent still work.
func (d *Dispatcher) toSelector(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if looksLikeCSS(raw) || d.resolve == nil {
		return raw, true
	}
	sel, err := d.resolve(raw)
	if err != nil {
		return raw, true
	}
	return sel, true
}

func looksLikeCSS(s string) bool {
	if strings.HasPrefix(s, "#") || strings.HasPrefix(s, ".") {
		return true
	}
	return strings.Contains(s, "[")
}
