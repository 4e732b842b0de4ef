package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dissent-net/dissent/client"
	"github.com/dissent-net/dissent/cryptosuite"
	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/logger"
	"github.com/dissent-net/dissent/metrics"
	"github.com/dissent-net/dissent/node"
	"github.com/dissent-net/dissent/server"
	"github.com/dissent-net/dissent/sessionconfig"
)

var (
	serveConfigPath string
	serveRole       string
	serveId         string
	serveKeySeedHex string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "boot one participant against the configured overlay",
	Long: `serve loads a session config, resolves this participant's
long-term identity, and joins the negotiation protocol as either a
server or a client, running until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to the session config file (required)")
	serveCmd.Flags().StringVar(&serveRole, "role", "", "server or client (overrides the config file's role)")
	serveCmd.Flags().StringVar(&serveId, "id", "", "this participant's server id (optional); when --role=server it must match the id derived from the long-term key")
	serveCmd.Flags().StringVar(&serveKeySeedHex, "key-seed", "", "hex-encoded 32-byte Ed25519 seed for this participant's long-term key (env DISSENT_KEY_SEED); a fresh key is generated and printed if omitted")
	serveCmd.MarkFlagRequired("config")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := sessionconfig.LoadFromFile(serveConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveRole != "" {
		cfg.Role = serveRole
	}
	if errs := sessionconfig.ValidateConfiguration(cfg); len(errs) > 0 {
		for _, e := range errs {
			if e.Level == "error" {
				return fmt.Errorf("invalid config: %s: %s", e.Field, e.Message)
			}
		}
	}

	level, _ := logger.ParseLevel(cfg.Logging.Level)
	log := logger.NewLogger(os.Stdout, level)
	log.SetPrettyPrint(cfg.Logging.Pretty)

	suite := cryptosuite.New()
	priv, pub, err := resolveLongTermKey(serveKeySeedHex, suite, log)
	if err != nil {
		return err
	}
	localId := identity.FromPublicKey(pub)

	roster, err := buildRoster(cfg.Servers)
	if err != nil {
		return fmt.Errorf("build server roster: %w", err)
	}

	// A single config file typically lists every server's address, so a
	// server participant listens on its own entry's Address rather than
	// the file's top-level ListenAddr, which is the client's.
	listenAddr := cfg.ListenAddr
	peerAddrs := make(map[identity.Id]string)
	for _, s := range cfg.Servers {
		id, err := identity.ParseHex(s.Id)
		if err != nil {
			return fmt.Errorf("server %q: %w", s.Id, err)
		}
		if id == localId {
			listenAddr = s.Address
			continue
		}
		peerAddrs[id] = s.Address
	}
	if cfg.Role == "server" && serveId != "" {
		idFromFlag, err := identity.ParseHex(serveId)
		if err != nil {
			return fmt.Errorf("--id: %w", err)
		}
		if idFromFlag != localId {
			return fmt.Errorf("--id %s does not match the id derived from this participant's key (%s)", serveId, localId)
		}
	}

	nodeCfg := node.Config{
		LocalId:         localId,
		LongTermPrivate: priv,
		LongTermPublic:  pub,
		ServerRoster:    roster,
		ListenAddr:      listenAddr,
		PeerAddrs:       peerAddrs,
		Log:             log,
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.ListenAddr, log)
	}

	var closeFn func() error
	switch cfg.Role {
	case "server":
		n, err := node.NewServerNode(nodeCfg, server.NewNullRoundFactory(nil))
		if err != nil {
			return fmt.Errorf("build server node: %w", err)
		}
		n.Session.AdmissionWindow = cfg.Session.AdmissionWindow
		if err := n.Start(); err != nil {
			return fmt.Errorf("start server node: %w", err)
		}
		closeFn = n.Close
		log.Info("server node started", logger.String("id", localId.String()), logger.String("listen", listenAddr))
	case "client":
		n, err := node.NewClientNode(nodeCfg, client.NewNullRoundFactory(nil))
		if err != nil {
			return fmt.Errorf("build client node: %w", err)
		}
		n.Session.QueueRetry = cfg.Session.QueueRetry
		if err := n.Start(); err != nil {
			return fmt.Errorf("start client node: %w", err)
		}
		closeFn = n.Close
		log.Info("client node started", logger.String("id", localId.String()), logger.String("listen", listenAddr))
	default:
		return fmt.Errorf("unknown role %q, want server or client", cfg.Role)
	}

	waitForShutdown(log)
	return closeFn()
}

// resolveLongTermKey derives this participant's long-term key pair from
// an explicit seed, falling back to a freshly generated key. A roster
// of servers only agrees if every process supplies the same seed for a
// given id, so the generated-key path is for single-shot demos only.
func resolveLongTermKey(seedHex string, suite cryptosuite.Suite, log logger.Logger) (cryptosuite.PrivateKey, cryptosuite.PublicKey, error) {
	if seedHex == "" {
		seedHex = os.Getenv("DISSENT_KEY_SEED")
	}
	if seedHex != "" {
		seed, err := hex.DecodeString(seedHex)
		if err != nil {
			return nil, nil, fmt.Errorf("decode key seed: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, nil, fmt.Errorf("key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		priv := ed25519.NewKeyFromSeed(seed)
		pub := priv.Public().(ed25519.PublicKey)
		return cryptosuite.PrivateKey(priv), cryptosuite.PublicKey(pub), nil
	}

	priv, pub, err := suite.GenerateLongTerm()
	if err != nil {
		return nil, nil, fmt.Errorf("generate long-term key: %w", err)
	}
	log.Warn("no --key-seed supplied, generated an ephemeral long-term key; "+
		"other processes will not recognize this identity across restarts",
		logger.String("id", identity.FromPublicKey(pub).String()))
	return priv, pub, nil
}

func buildRoster(servers []sessionconfig.ServerConfig) (*identity.Roster, error) {
	entries := make([]identity.Entry, 0, len(servers))
	for _, s := range servers {
		id, err := identity.ParseHex(s.Id)
		if err != nil {
			return nil, fmt.Errorf("server id %q: %w", s.Id, err)
		}
		pub, err := hex.DecodeString(s.PubKey)
		if err != nil {
			return nil, fmt.Errorf("server %q pubkey: %w", s.Id, err)
		}
		if got := identity.FromPublicKey(pub); got != id {
			return nil, fmt.Errorf("server %q: id does not match sha256 of pubkey (got %s)", s.Id, got)
		}
		entries = append(entries, identity.Entry{Id: id, LongTermKey: pub})
	}
	return identity.NewRoster(entries)
}

func serveMetrics(addr string, log logger.Logger) {
	log.Info("metrics listening", logger.String("addr", addr))
	if err := http.ListenAndServe(addr, metrics.Handler()); err != nil {
		log.Error("metrics server stopped", logger.Error(err))
	}
}

func waitForShutdown(log logger.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	log.Info("shutting down", logger.String("signal", s.String()))
}
