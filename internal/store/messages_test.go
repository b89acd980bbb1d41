package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"guidepost-server/internal/normalize"
)

func newTestStore(t *testing.T) *MessageStore {
	t.Helper()
	s, err := NewMessageStore(filepath.Join(t.TempDir(), "messages.db"))
	if err != nil {
		t.Fatalf("NewMessageStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func msg(id, role, content string, at time.Time) normalize.Message {
	return normalize.Message{
		ID:        id,
		Role:      normalize.Role(role),
		Content:   content,
		Timestamp: at,
	}
}

func TestSaveAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.SaveMessage(ctx, "conv-1", msg("m1", "user", "where is billing?", base))
	s.SaveMessage(ctx, "conv-1", msg("m2", "assistant", "right here", base.Add(time.Second)))
	s.SaveMessage(ctx, "conv-2", msg("m3", "user", "other conversation", base))

	history, err := s.History(ctx, "conv-1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].ID != "m1" || history[1].ID != "m2" {
		t.Errorf("order = %s, %s", history[0].ID, history[1].ID)
	}
	if history[1].Role != normalize.RoleAssistant || history[1].Content != "right here" {
		t.Errorf("got %+v", history[1])
	}
	if !history[0].Timestamp.Equal(base) {
		t.Errorf("timestamp = %v", history[0].Timestamp)
	}
}

func TestHistoryLimitKeepsMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"a", "b", "c"} {
		s.SaveMessage(ctx, "conv", msg(id, "user", id, base.Add(time.Duration(i)*time.Second)))
	}

	// The limit trims from the front: the newest messages survive, still
	// in oldest-first order.
	history, err := s.History(ctx, "conv", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("length = %d", len(history))
	}
	if history[0].ID != "b" || history[1].ID != "c" {
		t.Errorf("order = %s, %s, want b, c", history[0].ID, history[1].ID)
	}

	// A limit larger than the conversation returns everything.
	history, err = s.History(ctx, "conv", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 || history[0].ID != "a" {
		t.Errorf("history = %+v", history)
	}
}

func TestSaveMessageUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Second)

	s.SaveMessage(ctx, "conv", msg("m1", "assistant", "...", at))
	final := msg("m1", "assistant", "final text", at)
	final.Highlight = []normalize.HighlightInstruction{{Selector: "#save", DurationMs: 2000}}
	if err := s.SaveMessage(ctx, "conv", final); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	history, err := s.History(ctx, "conv", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("length = %d, want 1 after upsert", len(history))
	}
	if history[0].Content != "final text" {
		t.Errorf("content = %q", history[0].Content)
	}
	if len(history[0].Highlight) != 1 || history[0].Highlight[0].Selector != "#save" {
		t.Errorf("highlight = %+v", history[0].Highlight)
	}
}

func TestDeleteMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.SaveMessage(ctx, "conv", msg("placeholder", "assistant", "", time.Now()))
	if err := s.DeleteMessage(ctx, "placeholder"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	history, _ := s.History(ctx, "conv", 0)
	if len(history) != 0 {
		t.Errorf("history = %v", history)
	}
	// Deleting an absent row is not an error.
	if err := s.DeleteMessage(ctx, "never-existed"); err != nil {
		t.Errorf("DeleteMessage absent: %v", err)
	}
}

func TestSessionContinuity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if id, err := s.SessionID(ctx, "conv"); err != nil || id != "" {
		t.Fatalf("fresh conversation: id=%q err=%v", id, err)
	}

	if err := s.TouchConversation(ctx, "conv", "s1"); err != nil {
		t.Fatalf("TouchConversation: %v", err)
	}
	if id, _ := s.SessionID(ctx, "conv"); id != "s1" {
		t.Errorf("session = %q, want s1", id)
	}

	// A touch without a session id keeps the stored one.
	if err := s.TouchConversation(ctx, "conv", ""); err != nil {
		t.Fatalf("TouchConversation: %v", err)
	}
	if id, _ := s.SessionID(ctx, "conv"); id != "s1" {
		t.Errorf("session after empty touch = %q, want s1", id)
	}

	// A newer session id replaces it.
	s.TouchConversation(ctx, "conv", "s2")
	if id, _ := s.SessionID(ctx, "conv"); id != "s2" {
		t.Errorf("session = %q, want s2", id)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "messages.db")
	ctx := context.Background()

	s, err := NewMessageStore(path)
	if err != nil {
		t.Fatalf("NewMessageStore: %v", err)
	}
	s.SaveMessage(ctx, "conv", msg("m1", "user", "persists", time.Now()))
	s.TouchConversation(ctx, "conv", "s1")
	s.Close()

	s2, err := NewMessageStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	history, err := s2.History(ctx, "conv", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Content != "persists" {
		t.Errorf("history = %+v", history)
	}
	if id, _ := s2.SessionID(ctx, "conv"); id != "s1" {
		t.Errorf("session = %q", id)
	}
}
