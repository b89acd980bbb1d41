// Package api exposes the overlay to the embedding UI over HTTP. Chat
// streaming and walkthrough updates are delivered as SSE.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"guidepost-server/internal/agent"
	"guidepost-server/internal/overlay"
	"guidepost-server/internal/registry"
	"guidepost-server/internal/walkthrough"
)

const maxRequestBodySize = 1 << 20 // 1MB

// NewHandler builds the UI-facing router.
func NewHandler(svc *overlay.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Route("/components", func(r chi.Router) {
		r.Get("/", handleListComponents(svc))
		r.Post("/", handleRegister(svc))
		r.Delete("/{id}", handleUnregister(svc))
	})

	r.Get("/resolve", handleResolve(svc))

	r.Route("/highlights", func(r chi.Router) {
		r.Post("/", handleHighlight(svc))
		r.Delete("/", handleClearHighlights(svc))
		r.Delete("/{target}", handleRemoveHighlight(svc))
	})

	r.Route("/walkthrough", func(r chi.Router) {
		r.Get("/", handleActiveWalkthrough(svc))
		r.Post("/", handleStartWalkthrough(svc))
		r.Delete("/", handleStopWalkthrough(svc))
		r.Post("/advance", handleAdvance(svc))
		r.Get("/events", handleWalkthroughEvents(svc))
	})

	r.Route("/chat", func(r chi.Router) {
		r.Post("/", handleChat(svc))
		r.Post("/stream", handleChatStream(svc))
		r.Get("/history", handleHistory(svc))
	})

	r.Get("/elements", handleElements(svc))
	r.Post("/config", handleConfigure(svc))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListComponents(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Registry.Snapshot())
	}
}

func handleRegister(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var d registry.Descriptor
		if err := decodeBody(w, r, &d); err != nil {
			httpError(w, http.StatusBadRequest, "invalid descriptor: %v", err)
			return
		}
		if err := svc.Register(d); err != nil {
			httpError(w, http.StatusBadRequest, "register: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": d.ID})
	}
}

func handleUnregister(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Unregister(chi.URLParam(r, "id"))
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleResolve(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			httpError(w, http.StatusBadRequest, "missing q parameter")
			return
		}
		d, err := svc.Resolve(q)
		if err != nil {
			httpError(w, http.StatusNotFound, "resolve %q: %v", q, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

type highlightRequest struct {
	Target     string `json:"target"`
	DurationMs int    `json:"durationMs"`
}

func handleHighlight(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req highlightRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Target == "" {
			httpError(w, http.StatusBadRequest, "target is required")
			return
		}
		if err := svc.ApplyHighlight(req.Target, req.DurationMs); err != nil {
			httpError(w, http.StatusInternalServerError, "highlight: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleRemoveHighlight(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RemoveHighlight(chi.URLParam(r, "target")); err != nil {
			httpError(w, http.StatusInternalServerError, "remove highlight: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleClearHighlights(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ClearHighlights(); err != nil {
			httpError(w, http.StatusInternalServerError, "clear highlights: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type startWalkthroughRequest struct {
	Steps []walkthrough.Step `json:"steps"`
}

func handleStartWalkthrough(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startWalkthroughRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		id, err := svc.StartWalkthrough(req.Steps, walkthrough.Callbacks{})
		if err != nil {
			httpError(w, http.StatusBadRequest, "start walkthrough: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func handleStopWalkthrough(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.StopWalkthrough()
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAdvance(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Tours.Advance()
		writeJSON(w, http.StatusOK, svc.Tours.Active())
	}
}

func handleActiveWalkthrough(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Tours.Active())
	}
}

// handleWalkthroughEvents streams tour snapshots as SSE until the client
// disconnects. The current snapshot is sent immediately on connect.
func handleWalkthroughEvents(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}
		sseHeaders(w)

		updates := make(chan walkthrough.Snapshot, 8)
		unsubscribe := svc.SubscribeWalkthrough(func(snap walkthrough.Snapshot) {
			select {
			case updates <- snap:
			default:
			}
		})
		defer unsubscribe()

		writeSSE(w, flusher, svc.Tours.Active())
		for {
			select {
			case <-r.Context().Done():
				return
			case snap := <-updates:
				writeSSE(w, flusher, snap)
			}
		}
	}
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

func handleChat(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "message is required")
			return
		}
		msg, err := svc.SendMessage(r.Context(), req.ConversationID, req.Message)
		if err != nil {
			httpError(w, http.StatusBadGateway, "chat: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

// handleChatStream relays the turn as SSE: text events as deltas land,
// then a final message event. Client disconnects abort the upstream
// stream through the request context.
func handleChatStream(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "message is required")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}
		sseHeaders(w)

		onText := func(content string) {
			writeSSE(w, flusher, map[string]string{"event": "text", "content": content})
		}
		msg, err := svc.StreamMessage(r.Context(), req.ConversationID, req.Message, onText)
		if err != nil {
			writeSSE(w, flusher, map[string]string{"event": "error", "error": err.Error()})
			return
		}
		writeSSE(w, flusher, map[string]any{"event": "message", "message": msg})
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func handleHistory(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				httpError(w, http.StatusBadRequest, "invalid limit %q", raw)
				return
			}
			limit = n
		}
		history, err := svc.History(r.Context(), r.URL.Query().Get("conversation"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}

func handleElements(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 40
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		elements, err := svc.VisibleElements(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "elements: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, elements)
	}
}

func handleConfigure(svc *overlay.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rc agent.RequestConfig
		if err := decodeBody(w, r, &rc); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		svc.Configure(rc)
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("api: marshal sse payload: %v", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func httpError(w http.ResponseWriter, status int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, status, map[string]string{"error": msg})
}
