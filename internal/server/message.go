package server

import (
	"net/http"

	"go.uber.org/zap"

	"agentmesh/internal/wire"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":     s.agent,
		"status":    "online",
		"timestamp": s.now().UnixMilli(),
	})
}

// handleMsg accepts a fire-and-forget delivery addressed to this agent.
func (s *Server) handleMsg(w http.ResponseWriter, r *http.Request, m *wire.Message) {
	if m.To != s.agent {
		writeError(w, http.StatusNotFound, "unknown recipient: "+m.To)
		return
	}
	s.queue.Enqueue(wire.Incoming{
		ID:        m.ID,
		From:      m.From,
		Payload:   m.Payload,
		Timestamp: m.Timestamp,
		Type:      m.Type,
	})
	if s.observer != nil {
		s.observer.OnMessage(m.From, m.ID, m.Payload)
	}
	s.log.Info("message accepted", zap.String("id", m.ID), zap.String("from", m.From))
	writeJSON(w, http.StatusOK, map[string]any{"delivered": true, "messageId": m.ID})
}

// handleAsk accepts a question that expects a later /mesh/response on
// the asker's side.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request, m *wire.Message) {
	if m.To != s.agent {
		writeError(w, http.StatusNotFound, "unknown recipient: "+m.To)
		return
	}
	s.queue.Enqueue(wire.Incoming{
		ID:        m.ID,
		From:      m.From,
		Payload:   m.Payload,
		Timestamp: m.Timestamp,
		Type:      wire.TypeAsk,
	})
	if s.observer != nil {
		s.observer.OnAsk(m.From, m.ID, m.Payload)
	}
	s.log.Info("ask accepted", zap.String("id", m.ID), zap.String("from", m.From))
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "messageId": m.ID})
}

// handleResponse routes a reply back to the pending ask it answers.
// A reply with no matching pending ask (already timed out, duplicate,
// or bogus replyTo) is acknowledged but reported unresolved.
func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request, m *wire.Message) {
	if m.To != s.agent {
		writeError(w, http.StatusNotFound, "unknown recipient: "+m.To)
		return
	}
	if m.ReplyTo == "" {
		writeError(w, http.StatusBadRequest, "missing replyTo")
		return
	}
	resolved := s.asks.Resolve(m.ReplyTo, m.Payload)
	if !resolved {
		s.log.Warn("reply without pending ask",
			zap.String("id", m.ID), zap.String("replyTo", m.ReplyTo))
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "resolved": resolved})
}
