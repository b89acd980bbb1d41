package mcp

import (
	"context"
	"fmt"

	"guidepost-server/internal/overlay"
	"guidepost-server/internal/walkthrough"
)

type StartWalkthroughTool struct {
	svc *overlay.Service
}

func (t *StartWalkthroughTool) Name() string { return "start-walkthrough" }
func (t *StartWalkthroughTool) Description() string {
	return `Start a multi-step product tour.

Each step names a component query, the page it lives on, and how the
step advances: by clicking the highlighted component (default), or
automatically after durationMs when waitForClick is false.

Any running tour is torn down first. The tour survives restarts: state
is persisted on every step transition and resumed when the user is back
on the right page.

WORKFLOW:
1. list-components to see what is targetable
2. start-walkthrough with steps in visit order
3. walkthrough-status to follow progress

Returns: {id} of the started tour.`
}
func (t *StartWalkthroughTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"steps": map[string]interface{}{
				"type":        "array",
				"description": "Tour steps in order",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query":        map[string]interface{}{"type": "string", "description": "Component query for the step target"},
						"page":         map[string]interface{}{"type": "string", "description": "Route path the step lives on (default \"/\")"},
						"durationMs":   map[string]interface{}{"type": "number", "description": "Highlight duration; drives auto-advance when waitForClick is false"},
						"message":      map[string]interface{}{"type": "string", "description": "Text shown with the step"},
						"waitForClick": map[string]interface{}{"type": "boolean", "description": "Advance on component click (default true)"},
					},
					"required": []string{"query"},
				},
			},
		},
		"required": []string{"steps"},
	}
}
func (t *StartWalkthroughTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	rawSteps, ok := args["steps"].([]interface{})
	if !ok || len(rawSteps) == 0 {
		return nil, fmt.Errorf("steps is required and must not be empty")
	}

	steps := make([]walkthrough.Step, 0, len(rawSteps))
	for i, raw := range rawSteps {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("step %d is not an object", i)
		}
		step := walkthrough.Step{
			Query:      getStringArg(m, "query"),
			Page:       getStringArg(m, "page"),
			DurationMs: getIntArg(m, "durationMs"),
			Message:    getStringArg(m, "message"),
		}
		if step.Query == "" {
			return nil, fmt.Errorf("step %d is missing query", i)
		}
		if _, present := m["waitForClick"]; present {
			v := getBoolArg(m, "waitForClick", true)
			step.WaitForClick = &v
		}
		steps = append(steps, step)
	}

	id, err := t.svc.StartWalkthrough(steps, walkthrough.Callbacks{})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": id}, nil
}

type StopWalkthroughTool struct {
	svc *overlay.Service
}

func (t *StopWalkthroughTool) Name() string { return "stop-walkthrough" }
func (t *StopWalkthroughTool) Description() string {
	return `Stop the active tour, clear its highlights, and delete its
persisted state so it will not resume.`
}
func (t *StopWalkthroughTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *StopWalkthroughTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	t.svc.StopWalkthrough()
	return map[string]interface{}{"stopped": true}, nil
}

type AdvanceWalkthroughTool struct {
	svc *overlay.Service
}

func (t *AdvanceWalkthroughTool) Name() string { return "advance-walkthrough" }
func (t *AdvanceWalkthroughTool) Description() string {
	return `Advance the active tour to its next step without waiting for
the user's click. Completes the tour when on the last step.`
}
func (t *AdvanceWalkthroughTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *AdvanceWalkthroughTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	t.svc.Tours.Advance()
	return map[string]interface{}{"walkthrough": t.svc.Tours.Active()}, nil
}

type WalkthroughStatusTool struct {
	svc *overlay.Service
}

func (t *WalkthroughStatusTool) Name() string { return "walkthrough-status" }
func (t *WalkthroughStatusTool) Description() string {
	return `Report the active tour: state, current step, and progress.

States: idle, awaiting_navigation (waiting for the user to reach the
step's page), awaiting_interaction (step highlighted, waiting for click
or timer), completed.`
}
func (t *WalkthroughStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *WalkthroughStatusTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"walkthrough": t.svc.Tours.Active()}, nil
}
