package overlay

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"guidepost-server/internal/action"
	"guidepost-server/internal/agent"
	"guidepost-server/internal/dom"
	"guidepost-server/internal/normalize"
)

const (
	historyLimit  = 50
	elementsLimit = 40
)

// SendMessage runs one non-streaming conversation turn: build the
// context-rich request, normalize whatever shape comes back, apply any
// highlight instructions, and persist both sides of the exchange.
func (s *Service) SendMessage(ctx context.Context, conversationID, text string) (normalize.Message, error) {
	convID := s.conversation(conversationID)
	s.saveUserTurn(ctx, convID, text)

	req := s.requestBody(ctx, convID, text)

	// The assistant row is written optimistically so the UI can render a
	// pending bubble; a failed turn rolls it back.
	placeholderID := uuid.NewString()
	s.savePlaceholder(ctx, convID, placeholderID)

	raw, err := s.client.Send(ctx, req)
	if err != nil {
		s.rollback(ctx, placeholderID)
		return normalize.Message{}, err
	}

	msg, err := normalize.PayloadBytes(raw)
	if err != nil {
		s.rollback(ctx, placeholderID)
		return normalize.Message{}, err
	}
	msg.ID = placeholderID

	// Whole bodies can carry the same inline control blocks streams do.
	visible, blocks := normalize.ExtractActionBlocks(msg.Content)
	msg.Content = visible
	for _, block := range blocks {
		acts, perr := action.Parse([]byte(block))
		if perr != nil {
			log.Printf("overlay: parse embedded actions: %v", perr)
		}
		s.dispatcher.Dispatch(acts)
	}

	s.applyHighlights(msg.Highlight)
	s.saveAssistantTurn(ctx, convID, msg, "")
	return msg, nil
}

// StreamMessage runs one streaming turn. onText receives the visible
// content after every delta; actions embedded in the stream dispatch as
// soon as their block completes. A cancelled ctx aborts the turn and
// rolls back the placeholder without finalizing anything.
func (s *Service) StreamMessage(ctx context.Context, conversationID, text string, onText func(string)) (normalize.Message, error) {
	convID := s.conversation(conversationID)
	s.saveUserTurn(ctx, convID, text)

	req := s.requestBody(ctx, convID, text)

	placeholderID := uuid.NewString()
	s.savePlaceholder(ctx, convID, placeholderID)

	body, err := s.client.OpenStream(ctx, req)
	if err != nil {
		s.rollback(ctx, placeholderID)
		return normalize.Message{}, err
	}
	defer body.Close()

	var (
		final     normalize.Message
		gotFinal  bool
		sessionID string
	)
	acc := normalize.NewAccumulator(normalize.StreamCallbacks{
		OnText: onText,
		OnActions: func(raw []byte) {
			acts, perr := action.Parse(raw)
			if perr != nil {
				log.Printf("overlay: parse streamed actions: %v", perr)
			}
			s.dispatcher.Dispatch(acts)
		},
		OnComplete: func(msg normalize.Message, sid string) {
			final = msg
			gotFinal = true
			sessionID = sid
		},
	})

	if err := agent.ReadStream(ctx, body, acc); err != nil {
		s.rollback(ctx, placeholderID)
		return normalize.Message{}, err
	}

	if !gotFinal {
		// Stream closed without a complete event; keep what arrived.
		content := acc.Content()
		if content == "" {
			s.rollback(ctx, placeholderID)
			return normalize.Message{}, &normalize.Error{Reason: "stream ended without content"}
		}
		final = normalize.Message{
			ID:        uuid.NewString(),
			Role:      normalize.RoleAssistant,
			Content:   content,
			Timestamp: time.Now().UTC(),
		}
	}
	final.ID = placeholderID

	s.applyHighlights(final.Highlight)
	s.saveAssistantTurn(ctx, convID, final, sessionID)
	return final, nil
}

// DispatchActions applies a batch of agent actions outside a chat turn,
// e.g. actions supplied directly by a tool call.
func (s *Service) DispatchActions(acts []action.Action) {
	s.dispatcher.Dispatch(acts)
}

// History returns a conversation's stored messages.
func (s *Service) History(ctx context.Context, conversationID string, limit int) ([]normalize.Message, error) {
	if s.messages == nil {
		return nil, nil
	}
	return s.messages.History(ctx, s.conversation(conversationID), limit)
}

// DefaultConversation is the conversation used when callers pass "".
func (s *Service) DefaultConversation() string { return s.defaultConversation }

func (s *Service) conversation(id string) string {
	if id == "" {
		return s.defaultConversation
	}
	return id
}

// requestBody picks the configured request shape for an outgoing turn.
func (s *Service) requestBody(ctx context.Context, convID, text string) any {
	if s.cfg.Agent.SimpleMode() {
		return s.buildSimpleRequest(text)
	}
	return s.buildRequest(ctx, convID, text)
}

// buildSimpleRequest sends just the message and a small free-form
// context block, for agents that keep their own conversation state.
func (s *Service) buildSimpleRequest(text string) agent.Request {
	req := agent.Request{
		Message: text,
		Config:  s.requestConfig(),
	}
	if pc, err := s.Driver.Context(); err == nil {
		req.Context = map[string]any{
			"pathname": pc.Pathname,
			"title":    pc.Title,
		}
	}
	if snap := s.Tours.Active(); snap.ID != "" {
		if req.Context == nil {
			req.Context = map[string]any{}
		}
		req.Context["walkthroughStep"] = snap.StepIndex
	}
	return req
}

func (s *Service) buildRequest(ctx context.Context, convID, text string) agent.OrchestratorRequest {
	req := agent.OrchestratorRequest{
		Prompt: text,
		Config: s.requestConfig(),
	}

	if s.messages != nil {
		if history, err := s.messages.History(ctx, convID, historyLimit); err == nil {
			req.History = history
		} else {
			log.Printf("overlay: load history: %v", err)
		}
		if sid, err := s.messages.SessionID(ctx, convID); err == nil {
			req.SessionID = sid
		}
	}

	if elements, err := s.Driver.VisibleElements(ctx, elementsLimit); err == nil {
		req.DOMElements = elements
	} else {
		log.Printf("overlay: snapshot elements: %v", err)
	}
	if pc, err := s.Driver.Context(); err == nil {
		req.PageContext = &pc
	} else {
		log.Printf("overlay: page context: %v", err)
	}

	if snap := s.Tours.Active(); snap.ID != "" {
		req.WalkthroughContext = snap
	}
	return req
}

func (s *Service) applyHighlights(instructions []normalize.HighlightInstruction) {
	for _, h := range instructions {
		sel := s.resolveOrLiteral(h.Selector)
		if err := s.Highlight.Apply(sel, time.Duration(h.DurationMs)*time.Millisecond); err != nil {
			log.Printf("overlay: apply highlight %q: %v", sel, err)
		}
	}
}

func (s *Service) saveUserTurn(ctx context.Context, convID, text string) {
	if s.messages == nil {
		return
	}
	msg := normalize.Message{
		ID:        uuid.NewString(),
		Role:      normalize.RoleUser,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
	if err := s.messages.SaveMessage(ctx, convID, msg); err != nil {
		log.Printf("overlay: save user message: %v", err)
	}
	if err := s.messages.TouchConversation(ctx, convID, ""); err != nil {
		log.Printf("overlay: touch conversation: %v", err)
	}
}

func (s *Service) savePlaceholder(ctx context.Context, convID, id string) {
	if s.messages == nil {
		return
	}
	msg := normalize.Message{
		ID:        id,
		Role:      normalize.RoleAssistant,
		Timestamp: time.Now().UTC(),
	}
	if err := s.messages.SaveMessage(ctx, convID, msg); err != nil {
		log.Printf("overlay: save placeholder: %v", err)
	}
}

func (s *Service) rollback(ctx context.Context, placeholderID string) {
	if s.messages == nil {
		return
	}
	if err := s.messages.DeleteMessage(ctx, placeholderID); err != nil {
		log.Printf("overlay: rollback placeholder: %v", err)
	}
}

func (s *Service) saveAssistantTurn(ctx context.Context, convID string, msg normalize.Message, sessionID string) {
	if s.messages == nil {
		return
	}
	if err := s.messages.SaveMessage(ctx, convID, msg); err != nil {
		log.Printf("overlay: save assistant message: %v", err)
	}
	if err := s.messages.TouchConversation(ctx, convID, sessionID); err != nil {
		log.Printf("overlay: touch conversation: %v", err)
	}
}

// VisibleElements proxies the driver snapshot for API consumers.
func (s *Service) VisibleElements(ctx context.Context, limit int) ([]dom.ElementSnapshot, error) {
	return s.Driver.VisibleElements(ctx, limit)
}
