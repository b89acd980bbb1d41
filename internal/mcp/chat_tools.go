package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"guidepost-server/internal/action"
	"guidepost-server/internal/overlay"
)

type SendMessageTool struct {
	svc *overlay.Service
}

func (t *SendMessageTool) Name() string { return "send-message" }
func (t *SendMessageTool) Description() string {
	return `Send a user message through the overlay conversation pipeline.

The message travels with conversation history, a visible-element
snapshot, and page context. The normalized assistant reply is returned;
any highlight instructions or embedded actions it carries are applied
to the page as a side effect.

Returns: {message: {id, role, content, timestamp, highlight}}.`
}
func (t *SendMessageTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message":        map[string]interface{}{"type": "string", "description": "The user's message"},
			"conversationId": map[string]interface{}{"type": "string", "description": "Conversation to continue (default: the server's default conversation)"},
		},
		"required": []string{"message"},
	}
}
func (t *SendMessageTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	text := getStringArg(args, "message")
	if text == "" {
		return nil, fmt.Errorf("message is required")
	}
	msg, err := t.svc.SendMessage(ctx, getStringArg(args, "conversationId"), text)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"message": msg}, nil
}

type GetHistoryTool struct {
	svc *overlay.Service
}

func (t *GetHistoryTool) Name() string { return "get-history" }
func (t *GetHistoryTool) Description() string {
	return `Fetch a conversation's stored messages, oldest first.`
}
func (t *GetHistoryTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"conversationId": map[string]interface{}{"type": "string", "description": "Conversation to read (default: the server's default conversation)"},
			"limit":          map[string]interface{}{"type": "number", "description": "Maximum messages to return (0 = all)"},
		},
	}
}
func (t *GetHistoryTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	history, err := t.svc.History(ctx, getStringArg(args, "conversationId"), getIntArg(args, "limit"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"messages": history}, nil
}

type DispatchActionsTool struct {
	svc *overlay.Service
}

func (t *DispatchActionsTool) Name() string { return "dispatch-actions" }
func (t *DispatchActionsTool) Description() string {
	return `Apply a batch of page actions directly.

Supported kinds: navigate {path}, highlight {selectors, durationMs},
scrollTo {selector, behavior}, click {selector}, custom {payload}.
Highlight selectors resolve as component queries first. Unknown kinds
are logged and skipped; the batch never aborts.`
}
func (t *DispatchActionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"actions": map[string]interface{}{
				"type":        "array",
				"description": "Actions in apply order",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"type": map[string]interface{}{"type": "string", "description": "navigate | highlight | scrollTo | click | custom"},
					},
					"required": []string{"type"},
				},
			},
		},
		"required": []string{"actions"},
	}
}
func (t *DispatchActionsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	raw, err := json.Marshal(args["actions"])
	if err != nil {
		return nil, fmt.Errorf("encode actions: %w", err)
	}
	acts, err := action.Parse(raw)
	if err != nil {
		return nil, err
	}
	t.svc.DispatchActions(acts)
	return map[string]interface{}{"dispatched": len(acts)}, nil
}

type GetElementsTool struct {
	svc *overlay.Service
}

func (t *GetElementsTool) Name() string { return "get-elements" }
func (t *GetElementsTool) Description() string {
	return `Snapshot the visible elements on the page.

Returns the same element summaries the conversation pipeline sends to
the agent: id, tag, trimmed text, classes, ARIA attributes, position,
and whether the element is interactive.`
}
func (t *GetElementsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{"type": "number", "description": "Maximum elements to return (default 40)"},
		},
	}
}
func (t *GetElementsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	limit := getIntArg(args, "limit")
	if limit <= 0 {
		limit = 40
	}
	elements, err := t.svc.VisibleElements(ctx, limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"elements": elements}, nil
}
