package normalize

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// nestedKeys are the wrapper property names worth descending into when a
// node does not itself carry content. Order matters: it is the order
// children are enqueued at each level of the breadth-first search.
var nestedKeys = []string{
	"message", "data", "result", "response", "payload",
	"choices", "outputs", "output", "completion", "reply", "answer", "body",
}

// contentKeys are the property names that may hold the message text.
var contentKeys = []string{
	"content", "text", "output_text", "outputText", "response_text", "responseText",
}

// assistantRole reports whether a role string marks a node as the
// assistant's reply. An absent role also qualifies; plenty of backends
// return bare {content: ...} objects.
func assistantRole(role string) bool {
	switch strings.ToLower(role) {
	case "", "assistant", "model", "message":
		return true
	default:
		return false
	}
}

// Payload extracts a canonical assistant message from an arbitrary
// decoded JSON value. The search is breadth-first over each node's
// wrapper keys; the first assistant-tagged content-bearing node wins,
// with the first content-bearing node of any role kept as fallback.
// Returns *Error when no node anywhere yields non-empty text.
func Payload(v any) (Message, error) {
	type node struct{ value any }

	queue := []node{{v}}
	visited := make(map[uintptr]bool)

	var fallback map[string]any
	var fallbackText string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		// Guard against self-referencing payloads assembled in-process.
		rv := reflect.ValueOf(cur.value)
		switch rv.Kind() {
		case reflect.Map, reflect.Slice, reflect.Pointer:
			if rv.Kind() != reflect.Pointer || !rv.IsNil() {
				ptr := rv.Pointer()
				if ptr != 0 {
					if visited[ptr] {
						continue
					}
					visited[ptr] = true
				}
			}
		}

		switch val := cur.value.(type) {
		case string:
			if val != "" {
				return finalize(nil, val), nil
			}

		case []any:
			for _, el := range val {
				queue = append(queue, node{el})
			}

		case map[string]any:
			text := extractContent(val)
			if text != "" {
				role, _ := val["role"].(string)
				if assistantRole(role) {
					return finalize(val, text), nil
				}
				if fallback == nil {
					fallback = val
					fallbackText = text
				}
			}
			for _, key := range nestedKeys {
				if child, ok := val[key]; ok {
					queue = append(queue, node{child})
				}
			}
		}
	}

	if fallback != nil {
		return finalize(fallback, fallbackText), nil
	}
	return Message{}, &Error{Reason: "no extractable text in payload"}
}

// PayloadBytes decodes raw JSON and normalizes it.
func PayloadBytes(raw []byte) (Message, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Message{}, &Error{Reason: "payload is not valid JSON"}
	}
	return Payload(v)
}

// extractContent pulls a flat string out of a node, unwrapping the
// common nested text representations recursively.
func extractContent(m map[string]any) string {
	for _, key := range contentKeys {
		if v, ok := m[key]; ok {
			if s := flattenText(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// flattenText reduces a content value to a string: plain strings pass
// through, wrapper objects are unwrapped (.text, .content, OpenAI-style
// .message), and arrays of parts are concatenated in order.
func flattenText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		var b strings.Builder
		for _, el := range val {
			b.WriteString(flattenText(el))
		}
		return b.String()
	case map[string]any:
		for _, key := range []string{"text", "content", "output_text", "value"} {
			if inner, ok := val[key]; ok {
				if s := flattenText(inner); s != "" {
					return s
				}
			}
		}
		// OpenAI choice entries wrap the message one level down.
		if inner, ok := val["message"]; ok {
			return flattenText(inner)
		}
		return ""
	default:
		return ""
	}
}

// finalize builds the canonical message from the winning node. The node
// may be nil when the payload itself was a bare string.
func finalize(node map[string]any, text string) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
	}
	if node == nil {
		return msg
	}

	if id, ok := node["id"].(string); ok && id != "" {
		msg.ID = id
	}
	if ts, ok := node["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			msg.Timestamp = parsed
		}
	}
	if role, ok := node["role"].(string); ok {
		switch strings.ToLower(role) {
		case "user":
			msg.Role = RoleUser
		case "system":
			msg.Role = RoleSystem
		}
	}
	if hl, ok := node["highlight"]; ok {
		msg.Highlight = parseHighlights(hl)
	}
	return msg
}

func parseHighlights(v any) []HighlightInstruction {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]HighlightInstruction, 0, len(items))
	for _, item := range items {
		switch h := item.(type) {
		case string:
			if h != "" {
				out = append(out, HighlightInstruction{Selector: h})
			}
		case map[string]any:
			sel, _ := h["selector"].(string)
			if sel == "" {
				continue
			}
			inst := HighlightInstruction{Selector: sel}
			if d, ok := h["durationMs"].(float64); ok {
				inst.DurationMs = int(d)
			} else if d, ok := h["duration"].(float64); ok {
				inst.DurationMs = int(d)
			}
			out = append(out, inst)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
