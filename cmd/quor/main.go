package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/quorlabs/quor/config"
	"github.com/quorlabs/quor/node"
)

func main() {
	var (
		httpAddr      string
		dataDir       string
		genesisPath   string
		listenAddrs   string
		valAddrs      string
		logLevel      string
		enableMetrics bool
	)

	flag.StringVar(&httpAddr, "http", "127.0.0.1:8080", "HTTP API listen address")
	flag.StringVar(&dataDir, "data-dir", "", "Pebble data directory (empty = in-memory)")
	flag.StringVar(&genesisPath, "genesis", "", "Genesis config YAML (empty = built-in devnet)")
	flag.StringVar(&listenAddrs, "listen", "", "Comma-separated libp2p listen multiaddrs for the internal API")
	flag.StringVar(&valAddrs, "validators", "", "Comma-separated p2p multiaddrs of remote validators")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&enableMetrics, "metrics", true, "Serve Prometheus metrics on /metrics")
	flag.Parse()

	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg := node.Config{
		DataDir:       dataDir,
		HTTPAddr:      httpAddr,
		EnableMetrics: enableMetrics,
		Logger:        logger,
	}

	if genesisPath != "" {
		gen, err := config.Load(genesisPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load genesis config: %v\n", err)
			os.Exit(1)
		}
		cfg.Genesis = gen
	}
	if listenAddrs != "" {
		cfg.ListenAddrs = strings.Split(listenAddrs, ",")
	}
	if valAddrs != "" {
		cfg.ValidatorAddrs = strings.Split(valAddrs, ",")
	}
	if key, err := config.PrivateKeyFromEnv(config.EnvPrivateKey); err == nil {
		cfg.ProposerKey = key
	}
	if key, err := config.PrivateKeyFromEnv(config.EnvFaucetKey); err == nil {
		cfg.FaucetKey = key
	}
	if key, err := config.BackupKeyFromEnv(); err == nil {
		cfg.BackupKey = key
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := node.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create node: %v\n", err)
		os.Exit(1)
	}
	defer n.Close()

	logger.Info("quor node running", "http", httpAddr)
	if err := n.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "node stopped: %v\n", err)
		os.Exit(1)
	}
	logger.Info("shutting down...")
}
