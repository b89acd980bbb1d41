// Package registry tracks the highlightable components the embedding UI
// has announced to Guidepost. Each entry is metadata plus a non-owning
// lookup capability (a CSS selector); the page owns the elements and the
// UI layer is responsible for unregistering on teardown.
package registry

import (
	"slices"
	"sync"
)

// Descriptor is a registered highlightable component.
type Descriptor struct {
	// ID is unique and stable for the session.
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	// Selector locates the component's element in the live page. It is a
	// lookup capability, never an owned reference; the element may vanish
	// at any time.
	Selector string `json:"selector"`
	// OnActivate runs when the component is clicked through the dispatcher.
	// Never persisted.
	OnActivate func() `json:"-"`
}

// equivalent reports whether two descriptors would register identically.
// OnActivate and Description are excluded: re-rendering UIs recreate
// closures every pass, and treating that as a change would churn
// observers for nothing.
func (d Descriptor) equivalent(other Descriptor) bool {
	return d.ID == other.ID &&
		d.Name == other.Name &&
		d.Selector == other.Selector &&
		slices.Equal(d.Keywords, other.Keywords)
}

// Observer is notified after every effective registry mutation.
type Observer func()

// Registry is the single-writer mapping from component ID to descriptor.
// Readers get immutable snapshots; nothing ever iterates the live map.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]Descriptor
	order     []string // insertion order, the documented tie-break for resolution
	observers []Observer
}

func New() *Registry {
	return &Registry{
		entries: make(map[string]Descriptor),
	}
}

// Register adds or updates a descriptor. Registering a descriptor that is
// already present unchanged is a no-op and does not notify observers.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	existing, ok := r.entries[d.ID]
	if ok && existing.equivalent(d) {
		// Keep the freshest callback even when nothing else changed.
		existing.OnActivate = d.OnActivate
		existing.Description = d.Description
		r.entries[d.ID] = existing
		r.mu.Unlock()
		return
	}
	if !ok {
		r.order = append(r.order, d.ID)
	}
	r.entries[d.ID] = d
	r.mu.Unlock()

	r.notify()
}

// Unregister removes a descriptor. Removing an absent ID is not an error.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	if _, ok := r.entries[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.notify()
}

// Get returns the descriptor for id when present.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[id]
	return d, ok
}

// Snapshot returns a point-in-time copy of all descriptors in insertion
// order. The resolver searches this copy, so a registration arriving
// mid-search cannot be observed.
func (r *Registry) Snapshot() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		if d, ok := r.entries[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Subscribe adds an observer called after every effective mutation.
// Returns an unsubscribe func.
func (r *Registry) Subscribe(obs Observer) func() {
	r.mu.Lock()
	r.observers = append(r.observers, obs)
	idx := len(r.observers) - 1
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < len(r.observers) {
			r.observers[idx] = nil
		}
	}
}

func (r *Registry) notify() {
	r.mu.RLock()
	obs := make([]Observer, len(r.observers))
	copy(obs, r.observers)
	r.mu.RUnlock()

	for _, o := range obs {
		if o != nil {
			o()
		}
	}
}
