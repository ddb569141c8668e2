package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"agentmesh/internal/metrics"
	"agentmesh/internal/wire"
)

// withMessage runs the per-request validation chain for the message
// surface: bearer, size cap, required fields, timestamp window, nonce
// freshness, MAC. Order matters; each step answers with its own status.
func (s *Server) withMessage(next func(http.ResponseWriter, *http.Request, *wire.Message)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.checkBearer(r) {
			metrics.MessagesRejected.WithLabelValues("bearer").Inc()
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		maxSize := s.security.MaxMessageSizeBytes
		if r.ContentLength > maxSize {
			metrics.MessagesRejected.WithLabelValues("size").Inc()
			writeError(w, http.StatusRequestEntityTooLarge, "message too large")
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				metrics.MessagesRejected.WithLabelValues("size").Inc()
				writeError(w, http.StatusRequestEntityTooLarge, "message too large")
				return
			}
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		var m wire.Message
		if err := json.Unmarshal(body, &m); err != nil {
			metrics.MessagesRejected.WithLabelValues("format").Inc()
			writeError(w, http.StatusBadRequest, "malformed message body")
			return
		}
		if err := m.Validate(); err != nil {
			metrics.MessagesRejected.WithLabelValues("format").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		// Timestamp window is inclusive on both edges.
		windowMS := int64(s.security.ReplayWindowSeconds) * 1000
		delta := s.now().UnixMilli() - m.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if delta > windowMS {
			metrics.MessagesRejected.WithLabelValues("timestamp").Inc()
			s.log.Warn("message outside replay window",
				zap.String("id", m.ID), zap.Int64("delta_ms", delta))
			writeError(w, http.StatusBadRequest, "timestamp outside replay window")
			return
		}

		if !s.nonces.Check(m.Nonce, m.Timestamp) {
			metrics.MessagesRejected.WithLabelValues("replay").Inc()
			s.log.Warn("replay detected", zap.String("id", m.ID), zap.String("nonce", m.Nonce))
			writeError(w, http.StatusBadRequest, "replay detected: nonce already seen")
			return
		}

		if !wire.VerifyMAC(s.secret, &m) {
			metrics.MessagesRejected.WithLabelValues("mac").Inc()
			s.log.Warn("mac verification failed", zap.String("id", m.ID), zap.String("from", m.From))
			writeError(w, http.StatusBadRequest, "mac verification failed")
			return
		}

		metrics.MessagesAccepted.Inc()
		next(w, r, &m)
	}
}
