// Package dom abstracts the live page. Everything above this layer
// (highlighting, walkthroughs, action dispatch) talks to a Driver;
// the rod/CDP implementation is the only thing that knows a browser
// is involved, which keeps the rest of the engine testable with fakes.
package dom

import (
	"context"
	"time"
)

// Rect is an element's position in viewport coordinates.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PageContext describes where the page currently is.
type PageContext struct {
	Pathname string `json:"pathname"`
	Search   string `json:"search"`
	Hash     string `json:"hash"`
	Title    string `json:"title"`
}

// ElementSnapshot is a compact view of one visible element, shipped to
// the agent as grounding context. Text and value are truncated at
// capture time so payload size stays bounded.
type ElementSnapshot struct {
	ID              string   `json:"id,omitempty"`
	TagName         string   `json:"tagName"`
	TextContent     string   `json:"textContent,omitempty"`
	ClassNames      []string `json:"classNames,omitempty"`
	Role            string   `json:"role,omitempty"`
	AriaLabel       string   `json:"ariaLabel,omitempty"`
	AriaDescribedBy string   `json:"ariaDescribedBy,omitempty"`
	Placeholder     string   `json:"placeholder,omitempty"`
	Value           string   `json:"value,omitempty"`
	Type            string   `json:"type,omitempty"`
	Position        Rect     `json:"position"`
	IsInteractive   bool     `json:"isInteractive"`
}

// ClickEvent is a click on a bound component, reported by the injected
// overlay bridge.
type ClickEvent struct {
	ComponentID string
	Timestamp   time.Time
}

// Driver is the live-page backend. All selector-based operations query
// the page at call time; elements mounted after a call are not
// retroactively affected.
type Driver interface {
	// CurrentPath returns the page's pathname.
	CurrentPath() (string, error)
	// Context returns the full page context (pathname, search, hash, title).
	Context() (PageContext, error)

	// Mark flags every element currently matching selector as highlighted.
	// Returns the number of elements marked.
	Mark(selector string) (int, error)
	// Unmark clears the highlight flag from elements matching selector.
	Unmark(selector string) (int, error)
	// ClearMarks removes the highlight flag everywhere.
	ClearMarks() error

	// ScrollTo scrolls the first match into view. behavior is "smooth" or "auto".
	ScrollTo(selector, behavior string) error
	// Click dispatches a click on the first match.
	Click(selector string) error
	// Navigate drives the page to path. Used only by the host-side
	// navigate handler, never by the walkthrough engine itself.
	Navigate(path string) error

	// Visible reports whether the first match is styled-visible and
	// intersects the viewport.
	Visible(selector string) (bool, error)
	// VisibleElements snapshots up to limit visible elements for agent context.
	VisibleElements(ctx context.Context, limit int) ([]ElementSnapshot, error)

	// Bind tags elements matching selector with a component ID so the
	// overlay bridge can attribute clicks. Unbind removes the tag.
	Bind(selector, componentID string) error
	Unbind(componentID string) error

	// OnNavigated registers a callback invoked with the new pathname on
	// every frame navigation. Must be called before Start.
	OnNavigated(fn func(path string))
	// OnComponentClick registers a callback for clicks on bound components.
	// Must be called before Start.
	OnComponentClick(fn func(ev ClickEvent))

	// Start injects the overlay bridge and begins streaming page events
	// until ctx is cancelled.
	Start(ctx context.Context) error
}
