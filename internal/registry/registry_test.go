package registry

import (
	"testing"
)

func TestRegisterAndGet(t *testing.T) {
	r := New()
	r.Register(Descriptor{ID: "a", Name: "Alpha", Selector: "#a"})

	d, ok := r.Get("a")
	if !ok {
		t.Fatal("expected descriptor for a")
	}
	if d.Name != "Alpha" || d.Selector != "#a" {
		t.Errorf("unexpected descriptor: %+v", d)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegisterIdempotent(t *testing.T) {
	r := New()
	notifications := 0
	r.Subscribe(func() { notifications++ })

	d := Descriptor{ID: "a", Name: "Alpha", Keywords: []string{"one"}, Selector: "#a"}
	r.Register(d)
	r.Register(d)
	r.Register(d)

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if notifications != 1 {
		t.Errorf("observers notified %d times, want 1", notifications)
	}
}

func TestRegisterUpdateNotifies(t *testing.T) {
	r := New()
	notifications := 0
	r.Subscribe(func() { notifications++ })

	r.Register(Descriptor{ID: "a", Name: "Alpha", Selector: "#a"})
	r.Register(Descriptor{ID: "a", Name: "Alpha", Selector: "#a-v2"})

	if notifications != 2 {
		t.Errorf("observers notified %d times, want 2", notifications)
	}
	d, _ := r.Get("a")
	if d.Selector != "#a-v2" {
		t.Errorf("selector not updated: %q", d.Selector)
	}
}

func TestRegisterRefreshesCallback(t *testing.T) {
	r := New()
	called := false
	r.Register(Descriptor{ID: "a", Name: "Alpha", Selector: "#a"})
	r.Register(Descriptor{ID: "a", Name: "Alpha", Selector: "#a", OnActivate: func() { called = true }})

	d, _ := r.Get("a")
	if d.OnActivate == nil {
		t.Fatal("callback dropped on idempotent register")
	}
	d.OnActivate()
	if !called {
		t.Error("stale callback retained")
	}
}

func TestSnapshotInsertionOrder(t *testing.T) {
	r := New()
	r.Register(Descriptor{ID: "c", Selector: "#c"})
	r.Register(Descriptor{ID: "a", Selector: "#a"})
	r.Register(Descriptor{ID: "b", Selector: "#b"})

	snap := r.Snapshot()
	want := []string{"c", "a", "b"}
	if len(snap) != len(want) {
		t.Fatalf("snapshot has %d entries, want %d", len(snap), len(want))
	}
	for i, id := range want {
		if snap[i].ID != id {
			t.Errorf("snapshot[%d] = %q, want %q", i, snap[i].ID, id)
		}
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	r := New()
	r.Register(Descriptor{ID: "a", Selector: "#a"})

	snap := r.Snapshot()
	snap[0].Selector = "#mutated"

	d, _ := r.Get("a")
	if d.Selector != "#a" {
		t.Error("snapshot mutation leaked into registry")
	}
}

func TestUnregister(t *testing.T) {
	r := New()
	r.Register(Descriptor{ID: "a", Selector: "#a"})
	r.Register(Descriptor{ID: "b", Selector: "#b"})

	r.Unregister("a")
	if _, ok := r.Get("a"); ok {
		t.Error("a still present after unregister")
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].ID != "b" {
		t.Errorf("unexpected snapshot after unregister: %+v", snap)
	}

	// Removing an absent id is a no-op.
	r.Unregister("missing")
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestUnsubscribe(t *testing.T) {
	r := New()
	notifications := 0
	unsubscribe := r.Subscribe(func() { notifications++ })

	r.Register(Descriptor{ID: "a", Selector: "#a"})
	unsubscribe()
	r.Register(Descriptor{ID: "b", Selector: "#b"})

	if notifications != 1 {
		t.Errorf("observers notified %d times after unsubscribe, want 1", notifications)
	}
}
