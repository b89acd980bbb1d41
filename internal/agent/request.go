package agent

import (
	"guidepost-server/internal/config"
	"guidepost-server/internal/dom"
	"guidepost-server/internal/normalize"
)

// RequestConfig is the per-request tuning block forwarded to the agent.
type RequestConfig struct {
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
	Instructions string  `json:"instructions,omitempty"`
	Framework    string  `json:"framework,omitempty"`
}

// Request is the plain chat shape: one message plus free-form context.
type Request struct {
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
	Config  RequestConfig  `json:"config"`
}

// OrchestratorRequest is the context-rich shape: the prompt travels with
// conversation history, a visible-element snapshot, and page state, so
// the agent can ground its actions in what the user actually sees.
type OrchestratorRequest struct {
	Prompt             string                `json:"prompt"`
	History            []normalize.Message   `json:"history,omitempty"`
	DOMElements        []dom.ElementSnapshot `json:"domElements,omitempty"`
	PageContext        *dom.PageContext      `json:"pageContext,omitempty"`
	WalkthroughContext any                   `json:"walkthroughContext,omitempty"`
	CustomContext      map[string]any        `json:"customContext,omitempty"`
	SessionID          string                `json:"sessionId,omitempty"`
	Config             RequestConfig         `json:"config"`
}

// ConfigBlock builds the request tuning block from server configuration.
func ConfigBlock(cfg config.AgentConfig) RequestConfig {
	return RequestConfig{
		Model:        cfg.Model,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		Instructions: cfg.Instructions,
		Framework:    cfg.Framework,
	}
}
