// Package server is the authenticated HTTP surface of one agent: the
// message endpoints (deliver/ask/reply/health) behind the per-request
// auth pipeline, and the bootstrap endpoints (join/head/manifest).
package server

import (
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"agentmesh/internal/askreg"
	"agentmesh/internal/invite"
	"agentmesh/internal/manifest"
	"agentmesh/internal/noncecache"
	"agentmesh/internal/queue"
	"agentmesh/internal/wire"
)

// Observer receives post-acceptance notifications. The surface never
// depends on observer behavior for correctness; either hook may be a
// no-op.
type Observer interface {
	OnMessage(from, id, payload string)
	OnAsk(from, id, payload string)
}

// Options wires one agent's surface.
type Options struct {
	Agent    string
	Mesh     string
	Secret   []byte
	Security wire.Security
	Queue    *queue.Queue
	Asks     *askreg.Registry
	Manifest *manifest.Store
	RootPub  ed25519.PublicKey // nil means the bootstrap surface answers 503
	Invites  invite.ConsumptionStore
	Observer Observer
	Log      *zap.Logger
}

type Server struct {
	agent    string
	mesh     string
	secret   []byte
	bearer   []byte // expected Authorization token bytes
	security wire.Security
	nonces   *noncecache.Cache
	queue    *queue.Queue
	asks     *askreg.Registry
	store    *manifest.Store
	rootPub  ed25519.PublicKey
	invites  invite.ConsumptionStore
	observer Observer
	log      *zap.Logger

	now func() time.Time
}

func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Invites == nil {
		opts.Invites = invite.NopStore{}
	}
	sec := opts.Security.WithDefaults()
	return &Server{
		agent:    opts.Agent,
		mesh:     opts.Mesh,
		secret:   opts.Secret,
		bearer:   []byte(base64.StdEncoding.EncodeToString(opts.Secret)),
		security: sec,
		nonces:   noncecache.New(time.Duration(sec.ReplayWindowSeconds) * time.Second),
		queue:    opts.Queue,
		asks:     opts.Asks,
		store:    opts.Manifest,
		rootPub:  opts.RootPub,
		invites:  opts.Invites,
		observer: opts.Observer,
		log:      opts.Log,
		now:      time.Now,
	}
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /mesh/health", s.handleHealth)
	mux.HandleFunc("POST /mesh/msg", s.withMessage(s.handleMsg))
	mux.HandleFunc("POST /mesh/ask", s.withMessage(s.handleAsk))
	mux.HandleFunc("POST /mesh/response", s.withMessage(s.handleResponse))
	mux.HandleFunc("POST /mesh/bootstrap/join", s.handleJoin)
	mux.HandleFunc("GET /mesh/bootstrap/head", s.withBearer(s.handleHead))
	mux.HandleFunc("GET /mesh/bootstrap/manifest/{version}", s.withBearer(s.handleManifest))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// checkBearer compares the Authorization token against the transport
// secret in constant time.
func (s *Server) checkBearer(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	token := []byte(strings.TrimPrefix(auth, prefix))
	if len(token) != len(s.bearer) {
		return false
	}
	return subtle.ConstantTimeCompare(token, s.bearer) == 1
}

// withBearer gates already-authenticated GET surfaces (bootstrap head
// and manifest fetch); the full message pipeline is not applied.
func (s *Server) withBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.checkBearer(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
