package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one typed SSE frame from the agent stream.
type Event struct {
	Type string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Stream event types.
const (
	EventTextDelta         = "text_delta"
	EventReasoningStart    = "reasoning_start"
	EventReasoningDelta    = "reasoning_delta"
	EventReasoningDone     = "reasoning_done"
	EventToolCallStarted   = "tool_call_started"
	EventToolCallCompleted = "tool_call_completed"
	EventActions           = "actions"
	EventMetadata          = "metadata"
	EventError             = "error"
	EventComplete          = "complete"
	EventHeartbeat         = "heartbeat"
)

const (
	actionsOpen  = "[ACTIONS]"
	actionsClose = "[/ACTIONS]"
)

// StreamCallbacks surfaces stream progress. Every field is optional.
type StreamCallbacks struct {
	// OnText receives the full visible content after each text delta,
	// with control blocks already stripped.
	OnText func(content string)
	// OnActions receives the raw inside of each [ACTIONS] block as it
	// completes, and the payload of explicit "actions" events.
	OnActions           func(raw []byte)
	OnReasoningStart    func()
	OnReasoningDelta    func(text string)
	OnReasoningDone     func()
	OnToolCallStarted   func(name string)
	OnToolCallCompleted func(name string)
	OnMetadata          func(data json.RawMessage)
	// OnComplete receives the finalized message and the session
	// identifier to echo on the next request, if the agent sent one.
	OnComplete func(msg Message, sessionID string)
}

// Accumulator folds streaming events into a canonical assistant message.
// It is not safe for concurrent use; feed it from a single reader loop.
type Accumulator struct {
	cb StreamCallbacks

	raw        strings.Builder
	dispatched int // count of fully-processed action blocks
	done       bool
}

func NewAccumulator(cb StreamCallbacks) *Accumulator {
	return &Accumulator{cb: cb}
}

// Feed applies one event. It returns a terminal error for "error"
// events; the caller must stop reading after a non-nil return. Events
// arriving after completion are ignored.
func (a *Accumulator) Feed(ev Event) error {
	if a.done {
		return nil
	}

	switch ev.Type {
	case EventTextDelta:
		var d struct {
			Text    string `json:"text"`
			Delta   string `json:"delta"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return &Error{Reason: fmt.Sprintf("malformed text_delta payload: %v", err)}
		}
		chunk := d.Text
		if chunk == "" {
			chunk = d.Delta
		}
		if chunk == "" {
			chunk = d.Content
		}
		a.raw.WriteString(chunk)
		a.emitActions()
		if a.cb.OnText != nil {
			a.cb.OnText(a.Content())
		}

	case EventReasoningStart:
		if a.cb.OnReasoningStart != nil {
			a.cb.OnReasoningStart()
		}
	case EventReasoningDelta:
		if a.cb.OnReasoningDelta != nil {
			var d struct {
				Text string `json:"text"`
			}
			_ = json.Unmarshal(ev.Data, &d)
			a.cb.OnReasoningDelta(d.Text)
		}
	case EventReasoningDone:
		if a.cb.OnReasoningDone != nil {
			a.cb.OnReasoningDone()
		}

	case EventToolCallStarted:
		if a.cb.OnToolCallStarted != nil {
			a.cb.OnToolCallStarted(toolName(ev.Data))
		}
	case EventToolCallCompleted:
		if a.cb.OnToolCallCompleted != nil {
			a.cb.OnToolCallCompleted(toolName(ev.Data))
		}

	case EventActions:
		if a.cb.OnActions != nil && len(ev.Data) > 0 {
			a.cb.OnActions(ev.Data)
		}

	case EventMetadata:
		if a.cb.OnMetadata != nil {
			a.cb.OnMetadata(ev.Data)
		}

	case EventError:
		a.done = true
		var d struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(ev.Data, &d)
		reason := d.Error
		if reason == "" {
			reason = d.Message
		}
		if reason == "" {
			reason = "agent reported an unspecified stream error"
		}
		return &Error{Reason: reason}

	case EventComplete:
		a.finalize(ev.Data)

	case EventHeartbeat:
		// Keepalive only.

	default:
		// Unknown event types are forward-compatible noise.
	}
	return nil
}

// Content returns the visible text so far: the raw buffer minus every
// complete [ACTIONS]...[/ACTIONS] block, holding back a trailing
// unterminated block (or a partial opener) so control text never
// flashes on screen mid-stream.
func (a *Accumulator) Content() string {
	return stripActionBlocks(a.raw.String())
}

// Done reports whether the stream reached a terminal event.
func (a *Accumulator) Done() bool { return a.done }

func (a *Accumulator) finalize(data json.RawMessage) {
	a.done = true

	var d struct {
		ID          string `json:"id"`
		SessionID   string `json:"sessionId"`
		SessionSnek string `json:"session_id"`
		Timestamp   string `json:"timestamp"`
	}
	_ = json.Unmarshal(data, &d)

	sessionID := d.SessionID
	if sessionID == "" {
		sessionID = d.SessionSnek
	}

	msg := Message{
		ID:        d.ID,
		Role:      RoleAssistant,
		Content:   a.Content(),
		Timestamp: time.Now().UTC(),
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if d.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, d.Timestamp); err == nil {
			msg.Timestamp = ts
		}
	}

	if a.cb.OnComplete != nil {
		a.cb.OnComplete(msg, sessionID)
	}
}

// emitActions fires OnActions for each newly completed block, keeping a
// count so a block is never dispatched twice as later deltas arrive.
func (a *Accumulator) emitActions() {
	if a.cb.OnActions == nil {
		return
	}
	blocks := completeActionBlocks(a.raw.String())
	for ; a.dispatched < len(blocks); a.dispatched++ {
		a.cb.OnActions([]byte(blocks[a.dispatched]))
	}
}

// ExtractActionBlocks splits text into its visible form and the raw
// contents of any embedded [ACTIONS] blocks. Used on non-streaming
// responses, where the whole body arrives at once.
func ExtractActionBlocks(s string) (visible string, blocks []string) {
	return stripActionBlocks(s), completeActionBlocks(s)
}

func completeActionBlocks(s string) []string {
	var blocks []string
	for {
		start := strings.Index(s, actionsOpen)
		if start < 0 {
			return blocks
		}
		rest := s[start+len(actionsOpen):]
		end := strings.Index(rest, actionsClose)
		if end < 0 {
			return blocks
		}
		blocks = append(blocks, rest[:end])
		s = rest[end+len(actionsClose):]
	}
}

func stripActionBlocks(s string) string {
	var out strings.Builder
	for {
		start := strings.Index(s, actionsOpen)
		if start < 0 {
			// Hold back a partial opener at the tail ("[", "[AC", ...).
			if i := partialOpenerAt(s); i >= 0 {
				out.WriteString(s[:i])
			} else {
				out.WriteString(s)
			}
			return out.String()
		}
		out.WriteString(s[:start])
		rest := s[start+len(actionsOpen):]
		end := strings.Index(rest, actionsClose)
		if end < 0 {
			// Unterminated block: suppress until the close arrives.
			return out.String()
		}
		s = rest[end+len(actionsClose):]
	}
}

// partialOpenerAt returns the index where a trailing prefix of the
// [ACTIONS] marker begins, or -1 if the string does not end in one.
func partialOpenerAt(s string) int {
	max := len(actionsOpen) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, actionsOpen[:n]) {
			return len(s) - n
		}
	}
	return -1
}

func toolName(data json.RawMessage) string {
	var d struct {
		Name string `json:"name"`
		Tool string `json:"tool"`
	}
	_ = json.Unmarshal(data, &d)
	if d.Name != "" {
		return d.Name
	}
	return d.Tool
}
