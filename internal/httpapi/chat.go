package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/docchat/docchat/internal/chat"
	"github.com/docchat/docchat/internal/session"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// Wire shapes of chat events. Token events carry content, the terminal
// sources event carries sources (always present, possibly empty) and the
// session id, error events carry the message.
type tokenEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type sourcesEvent struct {
	Type      string           `json:"type"`
	Sources   []session.Source `json:"sources"`
	SessionID string           `json:"session_id"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// handleChat streams a chat turn as server-sent events: token events in
// order, one sources event, then a [DONE] marker.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	events, err := s.orchestrator.Stream(r.Context(), req.Message, req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			s.writeError(w, http.StatusBadRequest, "message must not be empty")
		case errors.Is(err, session.ErrBusy):
			s.writeError(w, http.StatusConflict, "session busy")
		default:
			s.logger.Error("chat turn failed to start", "error", err)
			s.writeError(w, http.StatusInternalServerError, "chat failed")
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		var wire any
		switch ev.Type {
		case chat.EventToken:
			wire = tokenEvent{Type: "token", Content: ev.Content}
		case chat.EventSources:
			sources := ev.Sources
			if sources == nil {
				sources = []session.Source{}
			}
			wire = sourcesEvent{Type: "sources", Sources: sources, SessionID: ev.SessionID}
		case chat.EventError:
			s.logger.Error("chat turn failed", "error", ev.Err)
			wire = errorEvent{Type: "error", Message: ev.Content}
		}
		if err := writeSSE(w, wire); err != nil {
			// Client gone. The orchestrator notices through the request
			// context and stops producing.
			return
		}
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, ev any) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
