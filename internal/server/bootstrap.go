package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"agentmesh/internal/invite"
	"agentmesh/internal/metrics"
)

// SyncIntervalSeconds is the manifest poll cadence advertised to
// joining hosts.
const SyncIntervalSeconds = 60

type joinRequest struct {
	Token      string `json:"token"`
	NodePubKey string `json:"nodePubKey"`
}

// handleJoin redeems an invite token: verifies it under the pinned root
// key, checks it against this mesh and the presented host key, and hands
// back the current signed manifest plus sync instructions. The endpoint
// is unauthenticated; the token is the credential.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	reject := func(status int, outcome, msg string) {
		metrics.JoinRequests.WithLabelValues(outcome).Inc()
		writeError(w, status, msg)
	}

	if s.rootPub == nil {
		reject(http.StatusServiceUnavailable, "no_root", "bootstrap not available: no root key pinned")
		return
	}
	env, payload, err := s.store.Load()
	if err != nil || env == nil {
		reject(http.StatusServiceUnavailable, "no_manifest", "bootstrap not available: no manifest")
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(http.StatusBadRequest, "malformed", "malformed join request")
		return
	}
	if req.Token == "" || req.NodePubKey == "" {
		reject(http.StatusBadRequest, "malformed", "token and nodePubKey are required")
		return
	}

	inv, err := invite.Decode(s.rootPub, req.Token)
	if err != nil {
		switch {
		case errors.Is(err, invite.ErrSignature):
			reject(http.StatusUnauthorized, "bad_signature", "invite signature verification failed")
		default:
			reject(http.StatusBadRequest, "malformed", err.Error())
		}
		return
	}

	if inv.Mesh != s.mesh {
		reject(http.StatusForbidden, "wrong_mesh", "invite is for a different mesh")
		return
	}
	if inv.NodePubKey != req.NodePubKey {
		reject(http.StatusForbidden, "wrong_host", "invite is bound to a different host key")
		return
	}
	if err := inv.ValidAt(s.now()); err != nil {
		reject(http.StatusForbidden, "expired", err.Error())
		return
	}
	for _, jti := range payload.Revocations.InviteJTI {
		if jti == inv.JTI {
			reject(http.StatusForbidden, "revoked", "invite has been revoked")
			return
		}
	}
	for _, name := range payload.Revocations.Agents {
		if name == inv.Agent {
			reject(http.StatusForbidden, "revoked_agent", "agent has been revoked")
			return
		}
	}
	if inv.MinManifestVersion > 0 && payload.Version < inv.MinManifestVersion {
		reject(http.StatusPreconditionFailed, "stale_manifest",
			"manifest version "+strconv.Itoa(payload.Version)+" below invite minimum")
		return
	}
	if s.invites.Consumed(inv.JTI) {
		reject(http.StatusConflict, "consumed", "invite already used")
		return
	}
	s.invites.Consume(inv.JTI)

	metrics.JoinRequests.WithLabelValues("ok").Inc()
	s.log.Info("join accepted",
		zap.String("agent", inv.Agent), zap.String("jti", inv.JTI),
		zap.Int("manifest_version", payload.Version))

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"mesh":     s.mesh,
		"agent":    inv.Agent,
		"now":      s.now().UnixMilli(),
		"manifest": env,
		"sync": map[string]any{
			"headUrl":             "/mesh/bootstrap/head",
			"manifestUrlTemplate": "/mesh/bootstrap/manifest/{version}",
			"intervalSeconds":     SyncIntervalSeconds,
		},
	})
}

// handleHead reports the stored manifest's version and payload hash so
// peers can poll for changes cheaply.
func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	env, payload, err := s.store.Load()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "manifest unavailable")
		return
	}
	if env == nil {
		writeError(w, http.StatusServiceUnavailable, "no manifest")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mesh":         payload.Mesh,
		"version":      payload.Version,
		"manifestHash": env.PayloadHash(),
		"issuedAt":     payload.IssuedAt,
	})
}

// handleManifest serves the stored envelope. Only the latest version is
// retained, so any other requested version is 404.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	env, payload, err := s.store.Load()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "manifest unavailable")
		return
	}
	if env == nil {
		writeError(w, http.StatusServiceUnavailable, "no manifest")
		return
	}
	want := r.PathValue("version")
	if want != "latest" {
		n, err := strconv.Atoi(want)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid version")
			return
		}
		if n != payload.Version {
			writeError(w, http.StatusNotFound, "version not available")
			return
		}
	}
	writeJSON(w, http.StatusOK, env)
}
