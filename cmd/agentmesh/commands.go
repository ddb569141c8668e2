package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"agentmesh/internal/agent"
	"agentmesh/internal/client"
	"agentmesh/internal/config"
	"agentmesh/internal/invite"
	"agentmesh/internal/manifest"
	"agentmesh/internal/wire"
)

// meshFlags are shared by every command that operates on a mesh dir.
type meshFlags struct {
	root string
	mesh string
}

func (f *meshFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.root, "root", config.DefaultRoot(), "state directory")
	fs.StringVar(&f.mesh, "mesh", "", "mesh name")
}

func (f *meshFlags) paths() (config.Paths, error) {
	if f.mesh == "" {
		return config.Paths{}, fmt.Errorf("--mesh is required")
	}
	return config.Paths{Root: f.root, Mesh: f.mesh}, nil
}

func loadMesh(p config.Paths) (*config.Config, []byte, error) {
	cfg, err := config.Load(p.ConfigFile())
	if err != nil {
		return nil, nil, err
	}
	secret, err := config.LoadMeshKey(p.MeshKeyFile())
	if err != nil {
		return nil, nil, err
	}
	return cfg, secret, nil
}

// nodePubB64 loads the host enrollment public key in its invite form.
func nodePubB64(p config.Paths) (string, error) {
	pub, err := config.LoadPublicKey(p.NodePubFile())
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

// ensureNodeKeypair generates the host enrollment keypair on first use.
func ensureNodeKeypair(p config.Paths) error {
	if _, err := os.Stat(p.NodeKeyFile()); err == nil {
		return nil
	}
	pub, priv, err := config.GenerateKeypair()
	if err != nil {
		return err
	}
	if err := config.SavePrivateKey(p.NodeKeyFile(), priv); err != nil {
		return err
	}
	return config.SavePublicKey(p.NodePubFile(), pub)
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var mf meshFlags
	mf.register(fs)
	agentName := fs.String("agent", "", "first agent name")
	rawURL := fs.String("url", "", "first agent base URL, e.g. http://host:8700")
	adminRoot := fs.String("admin-root", config.DefaultAdminRoot(), "offline root key directory")
	fs.Parse(args)

	paths, err := mf.paths()
	if err != nil {
		return err
	}
	if *agentName == "" || *rawURL == "" {
		return fmt.Errorf("--agent and --url are required")
	}
	agentURL, err := wire.NormalizeURL(*rawURL)
	if err != nil {
		return err
	}
	if _, err := os.Stat(paths.ConfigFile()); err == nil {
		return fmt.Errorf("mesh %q already initialized at %s", mf.mesh, paths.Dir())
	}
	if err := paths.EnsureDir(); err != nil {
		return err
	}
	admin := config.AdminPaths{Root: *adminRoot, Mesh: mf.mesh}
	if err := admin.EnsureDir(); err != nil {
		return err
	}

	secret, err := config.GenerateMeshKey()
	if err != nil {
		return err
	}
	if err := config.SaveMeshKey(paths.MeshKeyFile(), secret); err != nil {
		return err
	}

	rootPub, rootPriv, err := config.GenerateKeypair()
	if err != nil {
		return err
	}
	if err := config.SavePrivateKey(admin.RootKeyFile(), rootPriv); err != nil {
		return err
	}
	if err := config.SavePublicKey(paths.RootPubFile(), rootPub); err != nil {
		return err
	}
	if err := ensureNodeKeypair(paths); err != nil {
		return err
	}

	cfg := &config.Config{
		Mesh:     mf.mesh,
		Agents:   map[string]wire.Peer{*agentName: {Name: *agentName, URL: agentURL}},
		Security: wire.Security{}.WithDefaults(),
	}
	if err := config.Save(paths.ConfigFile(), cfg); err != nil {
		return err
	}

	env, err := manifest.Build(rootPriv, &manifest.Payload{
		Mesh:      mf.mesh,
		Version:   1,
		Security:  cfg.Security,
		Transport: manifest.Transport{MeshKey: base64.StdEncoding.EncodeToString(secret)},
		Agents:    cfg.Agents,
	}, "")
	if err != nil {
		return err
	}
	store := manifest.NewStore(paths.ManifestFile(), nil)
	if err := store.Save(env); err != nil {
		return err
	}

	fmt.Printf("mesh %q initialized at %s\n", mf.mesh, paths.Dir())
	fmt.Printf("agent %q at %s\n", *agentName, agentURL)
	fmt.Printf("root key at %s (keep offline)\n", admin.RootKeyFile())
	fmt.Printf("share %s with joining hosts out of band\n", paths.RootPubFile())
	return nil
}

func cmdKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	var mf meshFlags
	mf.register(fs)
	fs.Parse(args)

	paths, err := mf.paths()
	if err != nil {
		return err
	}
	if err := paths.EnsureDir(); err != nil {
		return err
	}
	if err := ensureNodeKeypair(paths); err != nil {
		return err
	}
	b64, err := nodePubB64(paths)
	if err != nil {
		return err
	}
	fmt.Printf("node public key (give to the mesh admin for an invite):\n%s\n", b64)
	return nil
}

func cmdInvite(args []string) error {
	fs := flag.NewFlagSet("invite", flag.ExitOnError)
	var mf meshFlags
	mf.register(fs)
	agentName := fs.String("agent", "", "agent name the invite is for")
	nodePub := fs.String("node-pub", "", "joining host's node public key (base64)")
	agentURL := fs.String("url", "", "agent base URL to add to the roster")
	ttl := fs.Duration("ttl", invite.DefaultTTL, "invite validity")
	adminRoot := fs.String("admin-root", config.DefaultAdminRoot(), "offline root key directory")
	fs.Parse(args)

	paths, err := mf.paths()
	if err != nil {
		return err
	}
	if *agentName == "" || *nodePub == "" {
		return fmt.Errorf("--agent and --node-pub are required")
	}
	admin := config.AdminPaths{Root: *adminRoot, Mesh: mf.mesh}
	rootPriv, err := config.LoadPrivateKey(admin.RootKeyFile())
	if err != nil {
		return err
	}

	// Adding the invitee to the roster now means every host that syncs
	// the new manifest can reach it as soon as it joins.
	if *agentURL != "" {
		u, err := wire.NormalizeURL(*agentURL)
		if err != nil {
			return err
		}
		store := manifest.NewStore(paths.ManifestFile(), nil)
		env, err := store.Update(rootPriv, func(p *manifest.Payload) {
			p.Agents[*agentName] = wire.Peer{Name: *agentName, URL: u}
		})
		if err != nil {
			return err
		}
		p, _ := manifest.DecodePayload(env)
		cfg, _, err := loadMesh(paths)
		if err != nil {
			return err
		}
		cfg.Agents[*agentName] = wire.Peer{Name: *agentName, URL: u}
		if err := config.Save(paths.ConfigFile(), cfg); err != nil {
			return err
		}
		fmt.Printf("roster updated, manifest version %d\n", p.Version)
	}

	inv := invite.New(mf.mesh, *agentName, *nodePub, *ttl)
	token, err := invite.Encode(rootPriv, inv)
	if err != nil {
		return err
	}
	fmt.Printf("invite for %q (jti %s, expires %s):\n%s\n",
		*agentName, inv.JTI, time.UnixMilli(inv.EXP).UTC().Format(time.RFC3339), token)
	return nil
}

func cmdJoin(args []string) error {
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	var mf meshFlags
	mf.register(fs)
	seed := fs.String("seed", "", "seed node base URL")
	token := fs.String("token", "", "invite token")
	rootPubPath := fs.String("root-pub", "", "root public key file received out of band")
	fs.Parse(args)

	paths, err := mf.paths()
	if err != nil {
		return err
	}
	if *seed == "" || *token == "" || *rootPubPath == "" {
		return fmt.Errorf("--seed, --token and --root-pub are required")
	}
	seedURL, err := wire.NormalizeURL(*seed)
	if err != nil {
		return err
	}
	rootPub, err := config.LoadPublicKey(*rootPubPath)
	if err != nil {
		return err
	}
	if err := paths.EnsureDir(); err != nil {
		return err
	}
	if err := ensureNodeKeypair(paths); err != nil {
		return err
	}
	nodeB64, err := nodePubB64(paths)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := client.New("", nil, nil)
	res, err := c.Join(ctx, seedURL, *token, nodeB64, rootPub, mf.mesh)
	if err != nil {
		return err
	}

	secret, err := base64.StdEncoding.DecodeString(res.Manifest.Transport.MeshKey)
	if err != nil {
		return fmt.Errorf("manifest mesh key: %w", err)
	}
	if err := config.SaveMeshKey(paths.MeshKeyFile(), secret); err != nil {
		return err
	}
	if err := config.SavePublicKey(paths.RootPubFile(), rootPub); err != nil {
		return err
	}
	store := manifest.NewStore(paths.ManifestFile(), nil)
	if err := store.Save(res.Envelope); err != nil {
		return err
	}
	cfg := &config.Config{
		Mesh:     res.Manifest.Mesh,
		Agents:   res.Manifest.Agents,
		Security: res.Manifest.Security.WithDefaults(),
	}
	if err := config.Save(paths.ConfigFile(), cfg); err != nil {
		return err
	}

	fmt.Printf("joined mesh %q as %q (manifest version %d, %d agents)\n",
		res.Mesh, res.Agent, res.Manifest.Version, len(res.Manifest.Agents))
	return nil
}

func cmdStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	var mf meshFlags
	mf.register(fs)
	agentName := fs.String("agent", "", "agent to run")
	processor := fs.String("processor", "", "command receiving drained batches as JSON on stdin")
	poll := fs.Duration("poll", agent.DefaultPollInterval, "queue poll interval")
	fs.Parse(args)

	paths, err := mf.paths()
	if err != nil {
		return err
	}
	if *agentName == "" {
		return fmt.Errorf("--agent is required")
	}
	cfg, secret, err := loadMesh(paths)
	if err != nil {
		return err
	}
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	var rootPub ed25519.PublicKey
	if pub, err := config.LoadPublicKey(paths.RootPubFile()); err == nil {
		rootPub = pub
	} else {
		log.Warn("no root public key, bootstrap surface and sync disabled", zap.Error(err))
	}

	var proc agent.BatchProcessor
	if *processor != "" {
		proc = &agent.ExecProcessor{Command: *processor, Log: log}
	}

	a, err := agent.New(agent.Options{
		Name:         *agentName,
		Paths:        paths,
		Config:       cfg,
		Secret:       secret,
		RootPub:      rootPub,
		Processor:    proc,
		PollInterval: *poll,
		Log:          log,
	})
	if err != nil {
		return err
	}

	if err := agent.WritePIDFile(paths.PIDFile()); err != nil {
		return err
	}
	defer agent.RemovePIDFile(paths.PIDFile())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Start(ctx)
}

func cmdStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	var mf meshFlags
	mf.register(fs)
	grace := fs.Duration("grace", 10*time.Second, "time before SIGKILL")
	fs.Parse(args)

	paths, err := mf.paths()
	if err != nil {
		return err
	}
	if err := agent.StopDaemon(paths.PIDFile(), *grace); err != nil {
		return err
	}
	fmt.Println("daemon stopped")
	return nil
}

func cmdSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	var mf meshFlags
	mf.register(fs)
	from := fs.String("from", "", "sending agent name")
	to := fs.String("to", "", "recipient agent name")
	fs.Parse(args)

	paths, err := mf.paths()
	if err != nil {
		return err
	}
	if *from == "" || *to == "" || fs.NArg() != 1 {
		return fmt.Errorf("--from, --to and exactly one PAYLOAD argument are required")
	}
	cfg, secret, err := loadMesh(paths)
	if err != nil {
		return err
	}
	peer, ok := cfg.Agents[*to]
	if !ok {
		return fmt.Errorf("unknown agent %q", *to)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := client.New(*from, secret, nil)
	ack, err := c.Deliver(ctx, peer.URL, *to, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("delivered %s\n", ack.MessageID)
	return nil
}

func cmdAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	var mf meshFlags
	mf.register(fs)
	from := fs.String("from", "", "asking agent name")
	to := fs.String("to", "", "recipient agent name")
	timeout := fs.Duration("timeout", agent.DefaultAskTimeout, "reply deadline")
	fs.Parse(args)

	paths, err := mf.paths()
	if err != nil {
		return err
	}
	if *from == "" || *to == "" || fs.NArg() != 1 {
		return fmt.Errorf("--from, --to and exactly one PAYLOAD argument are required")
	}
	cfg, secret, err := loadMesh(paths)
	if err != nil {
		return err
	}

	// The reply arrives on our own /mesh/response surface, so ask runs a
	// short-lived runtime bound to the asking agent's port. Stop the
	// daemon first if it holds the port.
	a, err := agent.New(agent.Options{
		Name:   *from,
		Paths:  paths,
		Config: cfg,
		Secret: secret,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- a.Start(ctx) }()
	time.Sleep(200 * time.Millisecond)
	select {
	case err := <-errc:
		return fmt.Errorf("listener failed (daemon running?): %w", err)
	default:
	}

	reply, err := a.Ask(ctx, *to, fs.Arg(0), *timeout)
	cancel()
	<-errc
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

func cmdHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	var mf meshFlags
	mf.register(fs)
	fs.Parse(args)

	paths, err := mf.paths()
	if err != nil {
		return err
	}
	cfg, secret, err := loadMesh(paths)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	c := client.New("health", secret, nil)
	ctx := context.Background()
	for _, name := range names {
		peer := cfg.Agents[name]
		status := "unreachable"
		if c.Health(ctx, peer.URL) {
			status = "online"
		}
		fmt.Printf("%-20s %-30s %s\n", name, peer.URL, status)
	}
	return nil
}
