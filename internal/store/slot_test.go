package store

import (
	"os"
	"path/filepath"
	"testing"
)

type tourBlob struct {
	ID    string   `json:"id"`
	Steps []string `json:"steps"`
	Index int      `json:"index"`
}

func TestSlotRoundTrip(t *testing.T) {
	slot := NewFileSlot(filepath.Join(t.TempDir(), "nested", "tour.json"))

	in := tourBlob{ID: "t-1", Steps: []string{"a", "b"}, Index: 1}
	if err := slot.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var out tourBlob
	found, err := slot.Load(&out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("slot not found after save")
	}
	if out.ID != in.ID || out.Index != in.Index || len(out.Steps) != 2 {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestSlotLoadAbsent(t *testing.T) {
	slot := NewFileSlot(filepath.Join(t.TempDir(), "missing.json"))
	var out tourBlob
	found, err := slot.Load(&out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Error("found = true for absent slot")
	}
}

func TestSlotLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	slot := NewFileSlot(path)
	var out tourBlob
	found, err := slot.Load(&out)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if found {
		t.Error("found = true for corrupt slot")
	}
}

func TestSlotOverwrite(t *testing.T) {
	slot := NewFileSlot(filepath.Join(t.TempDir(), "tour.json"))
	slot.Save(tourBlob{ID: "old"})
	if err := slot.Save(tourBlob{ID: "new"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	var out tourBlob
	if _, err := slot.Load(&out); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.ID != "new" {
		t.Errorf("id = %q", out.ID)
	}
}

func TestSlotDelete(t *testing.T) {
	slot := NewFileSlot(filepath.Join(t.TempDir(), "tour.json"))
	slot.Save(tourBlob{ID: "x"})
	if err := slot.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var out tourBlob
	found, err := slot.Load(&out)
	if err != nil || found {
		t.Errorf("after delete: found=%v err=%v", found, err)
	}
	// Deleting again is fine.
	if err := slot.Delete(); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestSlotNoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	slot := NewFileSlot(filepath.Join(dir, "tour.json"))
	if err := slot.Save(tourBlob{ID: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "tour.json" {
		t.Errorf("directory contents: %v", entries)
	}
}
