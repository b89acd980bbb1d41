// Package normalize converts whatever the remote agent sends (plain
// JSON, nested wrapper objects, OpenAI-style choice arrays, or
// incremental SSE events) into one canonical message shape.
package normalize

import (
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// HighlightInstruction asks the UI to mark a selector for a while.
type HighlightInstruction struct {
	Selector   string `json:"selector"`
	DurationMs int    `json:"durationMs,omitempty"`
}

// Message is the unified representation of a chat turn, regardless of
// the upstream payload shape it was extracted from.
type Message struct {
	ID        string                 `json:"id"`
	Role      Role                   `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Highlight []HighlightInstruction `json:"highlight,omitempty"`
}

// Error reports a payload from which no text could be extracted. It is
// fatal to the single request that produced it, never to the session.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalization failed: %s", e.Reason)
}
