package mcp

import (
	"context"
	"fmt"

	"guidepost-server/internal/overlay"
	"guidepost-server/internal/registry"
)

type RegisterComponentTool struct {
	svc *overlay.Service
}

func (t *RegisterComponentTool) Name() string { return "register-component" }
func (t *RegisterComponentTool) Description() string {
	return `Register a highlightable component with the overlay.

The component becomes resolvable by fuzzy queries (id, name, keywords)
and clickable steps in walkthroughs can target it.

Registering the same descriptor again is a no-op; changing its selector
or keywords replaces the entry.

Returns: {id} of the registered component.`
}
func (t *RegisterComponentTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id":          map[string]interface{}{"type": "string", "description": "Unique, stable component id"},
			"name":        map[string]interface{}{"type": "string", "description": "Human-readable name"},
			"description": map[string]interface{}{"type": "string", "description": "What the component does"},
			"keywords": map[string]interface{}{
				"type": "array", "items": map[string]interface{}{"type": "string"},
				"description": "Search keywords, most specific first",
			},
			"selector": map[string]interface{}{"type": "string", "description": "CSS selector locating the element"},
		},
		"required": []string{"id", "selector"},
	}
}
func (t *RegisterComponentTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	d := registry.Descriptor{
		ID:          getStringArg(args, "id"),
		Name:        getStringArg(args, "name"),
		Description: getStringArg(args, "description"),
		Keywords:    getStringListArg(args, "keywords"),
		Selector:    getStringArg(args, "selector"),
	}
	if err := t.svc.Register(d); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": d.ID}, nil
}

type UnregisterComponentTool struct {
	svc *overlay.Service
}

func (t *UnregisterComponentTool) Name() string { return "unregister-component" }
func (t *UnregisterComponentTool) Description() string {
	return `Remove a component from the overlay registry.

Clears any highlight the component carries and unbinds it from the page.
Unregistering an unknown id is a no-op.`
}
func (t *UnregisterComponentTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{"type": "string", "description": "Component id to remove"},
		},
		"required": []string{"id"},
	}
}
func (t *UnregisterComponentTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "id")
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	t.svc.Unregister(id)
	return map[string]interface{}{"removed": id}, nil
}

type ListComponentsTool struct {
	svc *overlay.Service
}

func (t *ListComponentsTool) Name() string { return "list-components" }
func (t *ListComponentsTool) Description() string {
	return `List all registered components in registration order.

USE THIS FIRST to discover what the overlay can highlight before
resolving queries or building walkthrough steps.

Returns: Array of {id, name, description, keywords, selector}.`
}
func (t *ListComponentsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListComponentsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"components": t.svc.Registry.Snapshot()}, nil
}

type ResolveComponentTool struct {
	svc *overlay.Service
}

func (t *ResolveComponentTool) Name() string { return "resolve-component" }
func (t *ResolveComponentTool) Description() string {
	return `Resolve a fuzzy query to a registered component.

Matching runs through tiers from exact id/name matches down to keyword
and description substrings; the first tier with a hit wins, ties break
by registration order.

Returns: The matched descriptor, or an error when nothing matches.`
}
func (t *ResolveComponentTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Component query, e.g. \"billing settings\""},
		},
		"required": []string{"query"},
	}
}
func (t *ResolveComponentTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	q := getStringArg(args, "query")
	if q == "" {
		return nil, fmt.Errorf("query is required")
	}
	d, err := t.svc.Resolve(q)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"component": d}, nil
}

type ApplyHighlightTool struct {
	svc *overlay.Service
}

func (t *ApplyHighlightTool) Name() string { return "apply-highlight" }
func (t *ApplyHighlightTool) Description() string {
	return `Highlight a component or CSS selector on the page.

The target is resolved as a component query first; strings that look
like CSS (#id, .class, [attr]) or that fail resolution are used as
literal selectors. durationMs of 0 keeps the highlight until removed.`
}
func (t *ApplyHighlightTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target":     map[string]interface{}{"type": "string", "description": "Component query or CSS selector"},
			"durationMs": map[string]interface{}{"type": "number", "description": "Auto-expire after this many ms (0 = sticky)"},
		},
		"required": []string{"target"},
	}
}
func (t *ApplyHighlightTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	target := getStringArg(args, "target")
	if target == "" {
		return nil, fmt.Errorf("target is required")
	}
	if err := t.svc.ApplyHighlight(target, getIntArg(args, "durationMs")); err != nil {
		return nil, err
	}
	return map[string]interface{}{"highlighted": target}, nil
}

type RemoveHighlightTool struct {
	svc *overlay.Service
}

func (t *RemoveHighlightTool) Name() string { return "remove-highlight" }
func (t *RemoveHighlightTool) Description() string {
	return `Remove the highlight from a component or CSS selector.`
}
func (t *RemoveHighlightTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target": map[string]interface{}{"type": "string", "description": "Component query or CSS selector"},
		},
		"required": []string{"target"},
	}
}
func (t *RemoveHighlightTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	target := getStringArg(args, "target")
	if target == "" {
		return nil, fmt.Errorf("target is required")
	}
	if err := t.svc.RemoveHighlight(target); err != nil {
		return nil, err
	}
	return map[string]interface{}{"removed": target}, nil
}

type ClearHighlightsTool struct {
	svc *overlay.Service
}

func (t *ClearHighlightsTool) Name() string { return "clear-highlights" }
func (t *ClearHighlightsTool) Description() string {
	return `Remove every highlight on the page and cancel pending expiries.`
}
func (t *ClearHighlightsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ClearHighlightsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := t.svc.ClearHighlights(); err != nil {
		return nil, err
	}
	return map[string]interface{}{"cleared": true}, nil
}
