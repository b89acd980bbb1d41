// Package action models the structured instructions the remote agent
// emits alongside its text, and dispatches them onto host handlers.
package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind tags an action variant.
type Kind string

const (
	KindNavigate  Kind = "navigate"
	KindHighlight Kind = "highlight"
	KindScrollTo  Kind = "scrollTo"
	KindClick     Kind = "click"
	KindCustom    Kind = "custom"
)

// Action is the tagged union of agent-emitted instructions. Only the
// fields belonging to the Kind are meaningful.
type Action struct {
	Kind Kind

	// Navigate
	Path string

	// Highlight
	Selectors  []string
	DurationMs int

	// ScrollTo / Click
	Selector string
	// Behavior is "smooth" or "auto".
	Behavior string

	// Custom
	Payload map[string]any
}

type wireAction struct {
	Type       string         `json:"type"`
	Path       string         `json:"path,omitempty"`
	URL        string         `json:"url,omitempty"`
	Selector   string         `json:"selector,omitempty"`
	Selectors  []string       `json:"selectors,omitempty"`
	DurationMs int            `json:"durationMs,omitempty"`
	Duration   int            `json:"duration,omitempty"`
	Behavior   string         `json:"behavior,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// UnmarshalJSON accepts the wire shape {"type": ..., ...} with the usual
// aliasing the agent side produces (url for path, selector for a
// single-entry selectors list, duration for durationMs, scroll_to for
// scrollTo).
func (a *Action) UnmarshalJSON(data []byte) error {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch normalizeKind(w.Type) {
	case KindNavigate:
		a.Kind = KindNavigate
		a.Path = w.Path
		if a.Path == "" {
			a.Path = w.URL
		}
	case KindHighlight:
		a.Kind = KindHighlight
		a.Selectors = w.Selectors
		if len(a.Selectors) == 0 && w.Selector != "" {
			a.Selectors = []string{w.Selector}
		}
		a.DurationMs = w.DurationMs
		if a.DurationMs == 0 {
			a.DurationMs = w.Duration
		}
	case KindScrollTo:
		a.Kind = KindScrollTo
		a.Selector = w.Selector
		a.Behavior = w.Behavior
		if a.Behavior != "auto" {
			a.Behavior = "smooth"
		}
	case KindClick:
		a.Kind = KindClick
		a.Selector = w.Selector
	case KindCustom:
		a.Kind = KindCustom
		a.Payload = w.Payload
	default:
		// Preserve the unknown tag; the dispatcher logs and drops it.
		a.Kind = Kind(w.Type)
	}
	return nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	w := wireAction{Type: string(a.Kind)}
	switch a.Kind {
	case KindNavigate:
		w.Path = a.Path
	case KindHighlight:
		w.Selectors = a.Selectors
		w.DurationMs = a.DurationMs
	case KindScrollTo:
		w.Selector = a.Selector
		w.Behavior = a.Behavior
	case KindClick:
		w.Selector = a.Selector
	case KindCustom:
		w.Payload = a.Payload
	}
	return json.Marshal(w)
}

func normalizeKind(t string) Kind {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "navigate", "nav", "goto":
		return KindNavigate
	case "highlight":
		return KindHighlight
	case "scrollto", "scroll_to", "scroll-to", "scroll":
		return KindScrollTo
	case "click":
		return KindClick
	case "custom":
		return KindCustom
	default:
		return Kind(t)
	}
}

// Parse decodes an actions blob: a single action object, a JSON array of
// actions, or newline-separated objects (agents produce all three).
func Parse(raw []byte) ([]Action, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	if raw[0] == '[' {
		var list []Action
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("parse action list: %w", err)
		}
		return list, nil
	}

	var out []Action
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var a Action
		if err := dec.Decode(&a); err != nil {
			return out, fmt.Errorf("parse action: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
