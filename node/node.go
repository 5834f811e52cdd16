// Package node wires the coordinator, proposer, validators and the HTTP
// façade into one runnable process.
package node

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sync"

	"github.com/libp2p/go-libp2p/core/host"

	"github.com/quorlabs/quor/api"
	"github.com/quorlabs/quor/backup"
	"github.com/quorlabs/quor/config"
	"github.com/quorlabs/quor/coordinator"
	"github.com/quorlabs/quor/metrics"
	"github.com/quorlabs/quor/networking"
	"github.com/quorlabs/quor/proposer"
	"github.com/quorlabs/quor/storage"
	"github.com/quorlabs/quor/storage/memory"
	"github.com/quorlabs/quor/storage/pebbledb"
	"github.com/quorlabs/quor/types"
	"github.com/quorlabs/quor/validator"
)

// Config assembles a node. Zero values give a self-contained in-memory
// devnet: the genesis validators run in-process with their devnet keys.
type Config struct {
	DataDir   string // empty = in-memory store
	HTTPAddr  string
	Genesis   *config.GenesisConfig
	Consensus types.ConsensusConfig // zero = defaults

	ProposerKey   ed25519.PrivateKey
	ValidatorKeys []ed25519.PrivateKey // in-process validators, devnet keys when empty
	FaucetKey     ed25519.PrivateKey

	// Remote validators reachable over libp2p, as p2p multiaddrs. Used in
	// place of (or in addition to) in-process validators.
	ValidatorAddrs []string
	// ListenAddrs, when set, serves the internal API over libp2p.
	ListenAddrs []string

	// Backup wiring; all three must be set to enable snapshots.
	BackupKey     []byte
	BackupContent backup.ContentStore
	BackupIndex   backup.IndexStore

	EnableMetrics bool
	Logger        *slog.Logger
}

// Node is one running chain process.
type Node struct {
	cfg     Config
	logger  *slog.Logger
	store   storage.Store
	coord   *coordinator.Coordinator
	prop    *proposer.Proposer
	httpSrv *api.Server
	p2pHost host.Host

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a node. The chain is genesis-initialized if the store is
// fresh.
func New(ctx context.Context, cfg Config) (*Node, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Genesis == nil {
		cfg.Genesis = config.Default()
	}

	var store storage.Store
	if cfg.DataDir != "" {
		var err error
		store, err = pebbledb.Open(cfg.DataDir)
		if err != nil {
			return nil, err
		}
	} else {
		store = memory.New()
	}

	var m *metrics.Metrics
	if cfg.EnableMetrics {
		m = metrics.New()
	}

	var snap *backup.Snapshotter
	if len(cfg.BackupKey) > 0 && cfg.BackupContent != nil && cfg.BackupIndex != nil {
		var err error
		snap, err = backup.New(backup.Options{
			Key:     cfg.BackupKey,
			Content: cfg.BackupContent,
			Index:   cfg.BackupIndex,
			Logger:  logger,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	coordOpts := coordinator.Options{
		Store:     store,
		Genesis:   cfg.Genesis,
		Consensus: cfg.Consensus,
		Logger:    logger,
		Metrics:   m,
	}
	if snap != nil {
		coordOpts.Backup = func(ctx context.Context, rec *types.ChainRecord) {
			if _, err := snap.Backup(ctx, rec); err != nil {
				logger.Warn("chain snapshot failed", "error", err)
			}
		}
	}
	coord, err := coordinator.New(coordOpts)
	if err != nil {
		store.Close()
		return nil, err
	}
	// A fresh store needs genesis; a resumed chain already has it.
	world, err := coord.QueryState(ctx)
	if err != nil {
		coord.Close()
		store.Close()
		return nil, err
	}
	if world.GenesisHash.IsZero() {
		if err := coord.InitGenesis(ctx, 0, false); err != nil {
			coord.Close()
			store.Close()
			return nil, fmt.Errorf("init genesis: %w", err)
		}
	}

	node := &Node{cfg: cfg, logger: logger, store: store, coord: coord}

	// In-process validators: explicit keys, or the devnet set matching the
	// default genesis.
	valKeys := cfg.ValidatorKeys
	if len(valKeys) == 0 && len(cfg.ValidatorAddrs) == 0 {
		for i := range cfg.Genesis.Validators {
			valKeys = append(valKeys, config.DevnetValidatorKey(i))
		}
	}
	var validators []*validator.Validator
	var clients []proposer.ValidatorClient
	for i, key := range valKeys {
		id := fmt.Sprintf("validator-%d", i)
		if i < len(cfg.Genesis.Validators) {
			id = cfg.Genesis.Validators[i].ID
		}
		v := validator.New(validator.Options{
			ID:         id,
			PrivateKey: key,
			State:      coord,
			Logger:     logger,
		})
		validators = append(validators, v)
		clients = append(clients, v)
	}

	// libp2p: serve the internal API and reach remote validators.
	if len(cfg.ListenAddrs) > 0 || len(cfg.ValidatorAddrs) > 0 {
		h, err := networking.NewHost(networking.HostConfig{ListenAddrs: cfg.ListenAddrs})
		if err != nil {
			node.Close()
			return nil, err
		}
		node.p2pHost = h
		var served *validator.Validator
		if len(validators) > 0 {
			served = validators[0]
		}
		networking.NewServer(h, coord, served, logger).Register()
		logger.Info("internal api listening", "addrs", networking.HostAddrs(h))

		for i, addr := range cfg.ValidatorAddrs {
			vc, err := networking.NewValidatorClient(h, fmt.Sprintf("remote-validator-%d", i), addr)
			if err != nil {
				node.Close()
				return nil, err
			}
			clients = append(clients, vc)
		}
	}

	propKey := cfg.ProposerKey
	if propKey == nil {
		propKey = config.DevnetValidatorKey(0)
	}
	node.prop = proposer.New(proposer.Options{
		ID:         "proposer-1",
		PrivateKey: propKey,
		API:        coord,
		Validators: clients,
		Logger:     logger,
		Metrics:    m,
	})

	faucetKey := cfg.FaucetKey
	if faucetKey == nil && !cfg.Genesis.IsMainnet() {
		faucetKey = config.DevnetFaucetKey()
	}
	node.httpSrv = api.NewServer(api.Options{
		API:         coord,
		Trigger:     node.prop,
		Genesis:     cfg.Genesis,
		FaucetKey:   faucetKey,
		Snapshotter: snap,
		Admin:       coord,
		Metrics:     m,
		Logger:      logger,
	})

	return node, nil
}

// Coordinator exposes the node's coordinator (used by tests and tooling).
func (n *Node) Coordinator() *coordinator.Coordinator { return n.coord }

// Proposer exposes the node's proposer.
func (n *Node) Proposer() *proposer.Proposer { return n.prop }

// Handler returns the HTTP façade handler.
func (n *Node) Handler() *api.Server { return n.httpSrv }

// Run serves the HTTP façade until the context is cancelled.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	if n.cfg.HTTPAddr == "" {
		<-ctx.Done()
		return nil
	}
	return n.httpSrv.ListenAndServe(ctx, n.cfg.HTTPAddr)
}

// Close releases everything the node owns.
func (n *Node) Close() {
	if n.cancel != nil {
		n.cancel()
	}
	if n.p2pHost != nil {
		_ = n.p2pHost.Close()
	}
	if n.coord != nil {
		_ = n.coord.Close()
	}
	if n.store != nil {
		_ = n.store.Close()
	}
	n.wg.Wait()
}
