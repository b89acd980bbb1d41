package mcp

import (
	"context"
	"fmt"
	"time"

	"guidepost-server/internal/facts"
)

type ReadFactsTool struct {
	engine *facts.Engine
}

func (t *ReadFactsTool) Name() string { return "read-facts" }
func (t *ReadFactsTool) Description() string {
	return `Read buffered telemetry facts for one predicate.

Predicates emitted by the overlay: navigation_event,
component_registered, component_unregistered, resolution_hit,
resolution_miss, highlight_applied, step_advanced, walkthrough_started,
walkthrough_completed, click_event, agent_action.

Returns: {facts: [{predicate, args, timestamp}]}.`
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{"type": "string", "description": "Predicate name to read"},
		},
		"required": []string{"predicate"},
	}
}
func (t *ReadFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	pred := getStringArg(args, "predicate")
	if pred == "" {
		return nil, fmt.Errorf("predicate is required")
	}
	return map[string]interface{}{"facts": t.engine.FactsByPredicate(pred)}, nil
}

type QueryFactsTool struct {
	engine *facts.Engine
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Run a Mangle query over the telemetry facts.

Example: resolution_miss(Query, Step) binds every unresolved query and
the step it broke. Variables are capitalized; constants match exactly.

Returns: {results: [{Var: value, ...}]}.`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Mangle query atom, e.g. click_event(Component)"},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	q := getStringArg(args, "query")
	if q == "" {
		return nil, fmt.Errorf("query is required")
	}
	results, err := t.engine.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"results": results}, nil
}

type QueryTemporalTool struct {
	engine *facts.Engine
}

func (t *QueryTemporalTool) Name() string { return "query-temporal" }
func (t *QueryTemporalTool) Description() string {
	return `Read facts for a predicate within a time window.

after/before are RFC3339 timestamps; omit either for an open bound.`
}
func (t *QueryTemporalTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{"type": "string", "description": "Predicate name"},
			"after":     map[string]interface{}{"type": "string", "description": "RFC3339 lower bound"},
			"before":    map[string]interface{}{"type": "string", "description": "RFC3339 upper bound"},
		},
		"required": []string{"predicate"},
	}
}
func (t *QueryTemporalTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	pred := getStringArg(args, "predicate")
	if pred == "" {
		return nil, fmt.Errorf("predicate is required")
	}

	var after, before time.Time
	if raw := getStringArg(args, "after"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid after timestamp: %w", err)
		}
		after = ts
	}
	if raw := getStringArg(args, "before"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid before timestamp: %w", err)
		}
		before = ts
	}

	return map[string]interface{}{"facts": t.engine.QueryTemporal(pred, after, before)}, nil
}

type SubmitRuleTool struct {
	engine *facts.Engine
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Add a Mangle rule for continuous evaluation over telemetry.

Example: broken_tour(Id) :- walkthrough_started(Id, _),
resolution_miss(_, _). Derived predicates become queryable with
query-facts.`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{"type": "string", "description": "Mangle rule source"},
		},
		"required": []string{"rule"},
	}
}
func (t *SubmitRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	rule := getStringArg(args, "rule")
	if rule == "" {
		return nil, fmt.Errorf("rule is required")
	}
	if err := t.engine.AddRule(rule); err != nil {
		return nil, err
	}
	return map[string]interface{}{"accepted": true}, nil
}
