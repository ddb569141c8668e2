// Package agent is the long-running runtime for one named agent: the
// HTTP surface, the queue poll loop, the manifest sync loop, and the
// outbound ask/deliver operations.
package agent

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agentmesh/internal/askreg"
	"agentmesh/internal/client"
	"agentmesh/internal/config"
	"agentmesh/internal/invite"
	"agentmesh/internal/manifest"
	"agentmesh/internal/queue"
	"agentmesh/internal/server"
	"agentmesh/internal/wire"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultSyncInterval = 60 * time.Second
	DefaultAskTimeout   = 30 * time.Second

	shutdownGrace = 5 * time.Second
)

type Options struct {
	Name      string
	Paths     config.Paths
	Config    *config.Config
	Secret    []byte
	RootPub   ed25519.PublicKey // enables the bootstrap surface and sync loop
	Processor BatchProcessor
	Observer  server.Observer

	PollInterval time.Duration
	SyncInterval time.Duration
	Log          *zap.Logger
}

// Agent owns one agent's runtime state. Create with New, run with
// Start; Start blocks until the context is canceled.
type Agent struct {
	name   string
	paths  config.Paths
	secret []byte

	mu  sync.Mutex
	cfg *config.Config

	queue     *queue.Queue
	asks      *askreg.Registry
	client    *client.Client
	store     *manifest.Store
	rootPub   ed25519.PublicKey
	processor BatchProcessor
	srv       *server.Server

	pollInterval time.Duration
	syncInterval time.Duration
	processing   atomic.Bool
	log          *zap.Logger
}

func New(opts Options) (*Agent, error) {
	if opts.Name == "" {
		return nil, errors.New("agent: name is required")
	}
	if opts.Config == nil {
		return nil, errors.New("agent: config is required")
	}
	if _, ok := opts.Config.Agents[opts.Name]; !ok {
		return nil, fmt.Errorf("agent: %q is not in the roster", opts.Name)
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}

	log := opts.Log.With(zap.String("agent", opts.Name))

	// Own copy of the roster: the runtime mutates it on manifest
	// adoption and auto-register.
	cfg := *opts.Config
	cfg.Agents = make(map[string]wire.Peer, len(opts.Config.Agents))
	for k, v := range opts.Config.Agents {
		cfg.Agents[k] = v
	}

	a := &Agent{
		name:         opts.Name,
		paths:        opts.Paths,
		secret:       opts.Secret,
		cfg:          &cfg,
		queue:        queue.New(opts.Paths.QueueFile(opts.Name), log),
		asks:         askreg.New(log),
		client:       client.New(opts.Name, opts.Secret, log),
		store:        manifest.NewStore(opts.Paths.ManifestFile(), log),
		rootPub:      opts.RootPub,
		processor:    opts.Processor,
		pollInterval: opts.PollInterval,
		syncInterval: opts.SyncInterval,
		log:          log,
	}

	var inviteStore invite.ConsumptionStore = invite.NopStore{}
	if opts.Config.Security.StrictInvites {
		inviteStore = invite.NewMemoryStore()
	}
	a.srv = server.New(server.Options{
		Agent:    opts.Name,
		Mesh:     opts.Config.Mesh,
		Secret:   opts.Secret,
		Security: opts.Config.Security,
		Queue:    a.queue,
		Asks:     a.asks,
		Manifest: a.store,
		RootPub:  opts.RootPub,
		Invites:  inviteStore,
		Observer: opts.Observer,
		Log:      log,
	})
	return a, nil
}

// URL is this agent's advertised base URL from the roster.
func (a *Agent) URL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Agents[a.name].URL
}

// PeerURL resolves a roster name to its base URL.
func (a *Agent) PeerURL(name string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.cfg.Agents[name]
	if !ok {
		return "", fmt.Errorf("unknown agent %q", name)
	}
	return p.URL, nil
}

// Peers returns a snapshot of the roster.
func (a *Agent) Peers() map[string]wire.Peer {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]wire.Peer, len(a.cfg.Agents))
	for k, v := range a.cfg.Agents {
		out[k] = v
	}
	return out
}

func (a *Agent) Queue() *queue.Queue    { return a.queue }
func (a *Agent) Client() *client.Client { return a.client }

// listenAddr derives the bind address from this agent's roster URL.
func (a *Agent) listenAddr() (string, error) {
	u, err := url.Parse(a.URL())
	if err != nil {
		return "", fmt.Errorf("agent url: %w", err)
	}
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return ":" + port, nil
}

// Start serves the HTTP surface and runs the poll and sync loops until
// ctx is canceled, then drains: graceful HTTP shutdown followed by
// rejection of every pending ask.
func (a *Agent) Start(ctx context.Context) error {
	addr, err := a.listenAddr()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	a.adoptListenPort(ln.Addr())

	httpSrv := &http.Server{Handler: a.srv.Handler()}
	a.mu.Lock()
	tls := a.cfg.TLS
	a.mu.Unlock()

	a.log.Info("agent starting", zap.String("addr", addr), zap.Bool("tls", tls != nil))
	a.autoRegister()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls != nil {
			err = httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		a.pollLoop(ctx)
		return nil
	})
	if a.rootPub != nil {
		g.Go(func() error {
			a.syncLoop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			a.log.Warn("http shutdown", zap.Error(err))
		}
		a.asks.Destroy()
		return nil
	})
	err = g.Wait()
	a.log.Info("agent stopped")
	return err
}

// adoptListenPort rewrites this agent's roster URL with the port the OS
// actually assigned when the configured port was 0, so the advertised
// address is reachable before auto-register persists it.
func (a *Agent) adoptListenPort(addr net.Addr) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	self := a.cfg.Agents[a.name]
	u, err := url.Parse(self.URL)
	if err != nil || u.Port() != "0" {
		return
	}
	u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(tcp.Port))
	self.URL = u.String()
	a.cfg.Agents[a.name] = self
	a.log.Info("listen port assigned", zap.String("url", self.URL))
}

// autoRegister writes this agent's roster entry back to the on-disk
// config, re-reading the file first so concurrent starts on the same
// host do not clobber each other's entries. The advertised scheme
// follows the TLS setting.
func (a *Agent) autoRegister() {
	a.mu.Lock()
	self := a.cfg.Agents[a.name]
	useTLS := a.cfg.TLS != nil
	a.mu.Unlock()

	if u, err := url.Parse(self.URL); err == nil {
		if useTLS {
			u.Scheme = "https"
		} else {
			u.Scheme = "http"
		}
		self.URL = u.String()
	}

	onDisk, err := config.Load(a.paths.ConfigFile())
	if err != nil {
		a.log.Debug("auto-register skipped", zap.Error(err))
		return
	}
	onDisk.Agents[a.name] = self

	a.mu.Lock()
	for name, peer := range onDisk.Agents {
		a.cfg.Agents[name] = peer
	}
	a.mu.Unlock()

	if err := config.Save(a.paths.ConfigFile(), onDisk); err != nil {
		a.log.Warn("auto-register save", zap.Error(err))
	}
}

// pollLoop drains the queue on a fixed cadence and hands batches to the
// processor. A slow processor never overlaps itself; ticks that land
// mid-batch are skipped.
func (a *Agent) pollLoop(ctx context.Context) {
	if a.processor == nil {
		return
	}
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.processOnce(ctx)
		}
	}
}

func (a *Agent) processOnce(ctx context.Context) {
	if !a.processing.CompareAndSwap(false, true) {
		return
	}
	defer a.processing.Store(false)

	batch := a.queue.Drain()
	if len(batch) == 0 {
		return
	}
	if err := a.processor.Process(ctx, batch); err != nil {
		a.log.Warn("batch processing failed, requeued",
			zap.Int("messages", len(batch)), zap.Error(err))
		a.queue.Requeue(batch)
		return
	}
	a.log.Debug("batch processed", zap.Int("messages", len(batch)))
}

// syncLoop polls peer manifest heads and adopts strictly newer signed
// manifests, folding their roster and security parameters back into the
// local config.
func (a *Agent) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(a.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.syncOnce(ctx)
		}
	}
}

func (a *Agent) syncOnce(ctx context.Context) {
	current := a.store.CurrentVersion()
	for name, peer := range a.Peers() {
		if name == a.name {
			continue
		}
		head, err := a.client.Head(ctx, peer.URL)
		if err != nil {
			a.log.Debug("manifest head unavailable", zap.String("peer", name), zap.Error(err))
			continue
		}
		if head.Version <= current {
			continue
		}
		env, err := a.client.FetchManifest(ctx, peer.URL, "latest")
		if err != nil {
			a.log.Warn("manifest fetch failed", zap.String("peer", name), zap.Error(err))
			continue
		}
		a.mu.Lock()
		mesh := a.cfg.Mesh
		a.mu.Unlock()
		p, err := a.store.Adopt(a.rootPub, mesh, env)
		if err != nil {
			a.log.Warn("manifest rejected", zap.String("peer", name), zap.Error(err))
			continue
		}
		a.applyManifest(p)
		return
	}
}

// applyManifest folds an adopted manifest into the working config. A
// rotated transport secret takes effect on the next start; the running
// process keeps its current secret so in-flight traffic stays valid.
func (a *Agent) applyManifest(p *manifest.Payload) {
	a.mu.Lock()
	a.cfg.Agents = make(map[string]wire.Peer, len(p.Agents))
	for k, v := range p.Agents {
		a.cfg.Agents[k] = v
	}
	for _, revoked := range p.Revocations.Agents {
		delete(a.cfg.Agents, revoked)
	}
	a.cfg.Security = p.Security.WithDefaults()
	cfg := *a.cfg
	a.mu.Unlock()

	if err := config.Save(a.paths.ConfigFile(), &cfg); err != nil {
		a.log.Warn("config save after manifest adoption", zap.Error(err))
	}
	a.log.Info("applied manifest", zap.Int("version", p.Version), zap.Int("agents", len(p.Agents)))
}

// Send fire-and-forgets payload to a named peer.
func (a *Agent) Send(ctx context.Context, peer, payload string) (string, error) {
	base, err := a.PeerURL(peer)
	if err != nil {
		return "", err
	}
	ack, err := a.client.Deliver(ctx, base, peer, payload)
	if err != nil {
		return "", err
	}
	return ack.MessageID, nil
}

// Ask sends a question to a named peer and blocks for the reply. The
// pending entry is registered before the request leaves, so a fast
// reply can never miss its slot.
func (a *Agent) Ask(ctx context.Context, peer, payload string, timeout time.Duration) (string, error) {
	base, err := a.PeerURL(peer)
	if err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = DefaultAskTimeout
	}
	m := a.client.NewMessage(peer, wire.TypeAsk, payload, "")
	pending := a.asks.Register(m.ID, timeout)
	if _, err := a.client.Post(ctx, base, "/mesh/ask", m); err != nil {
		a.asks.Fail(m.ID, err)
		return "", err
	}
	return pending.Await(ctx)
}

// Reply answers a previously received ask.
func (a *Agent) Reply(ctx context.Context, peer, askID, payload string) error {
	base, err := a.PeerURL(peer)
	if err != nil {
		return err
	}
	_, err = a.client.Reply(ctx, base, peer, askID, payload)
	return err
}
