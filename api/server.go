// Package api is the client-facing HTTP façade. It validates submissions
// before they reach the coordinator, wraps every payload in the standard
// JSON envelope and pulls the proposer after each admission so block
// production stays event-driven.
package api

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/quorlabs/quor/backup"
	"github.com/quorlabs/quor/config"
	"github.com/quorlabs/quor/coordinator"
	"github.com/quorlabs/quor/metrics"
	"github.com/quorlabs/quor/proposer"
)

// RoundTrigger pulls the proposer for a new round.
type RoundTrigger interface {
	Trigger(ctx context.Context) (*proposer.Summary, error)
}

// Options configures the façade.
type Options struct {
	API         coordinator.API
	Trigger     RoundTrigger // optional; submissions still enqueue without it
	Genesis     *config.GenesisConfig
	FaucetKey   ed25519.PrivateKey       // optional
	Snapshotter *backup.Snapshotter      // optional, enables /admin/backup + /admin/restore
	Admin       *coordinator.Coordinator // optional, needed by /admin/backup + /admin/restore
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	TimeFunc    func() time.Time
}

// Server serves the client HTTP API.
type Server struct {
	api         coordinator.API
	trigger     RoundTrigger
	genesis     *config.GenesisConfig
	faucetKey   ed25519.PrivateKey
	snapshotter *backup.Snapshotter
	admin       *coordinator.Coordinator
	logger      *slog.Logger
	timeFunc    func() time.Time
	handler     http.Handler
}

// NewServer builds the façade with its route table.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeFunc := opts.TimeFunc
	if timeFunc == nil {
		timeFunc = time.Now
	}
	s := &Server{
		api:         opts.API,
		trigger:     opts.Trigger,
		genesis:     opts.Genesis,
		faucetKey:   opts.FaucetKey,
		snapshotter: opts.Snapshotter,
		admin:       opts.Admin,
		logger:      logger,
		timeFunc:    timeFunc,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/tx/submit", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/tx/{hash}", s.handleTransaction).Methods(http.MethodGet)
	r.HandleFunc("/account/{addr}", s.handleAccount).Methods(http.MethodGet)
	r.HandleFunc("/account/{addr}/txs", s.handleAccountTxs).Methods(http.MethodGet)
	r.HandleFunc("/block/latest", s.handleLatestBlock).Methods(http.MethodGet)
	r.HandleFunc("/block/{height:[0-9]+}", s.handleBlock).Methods(http.MethodGet)
	r.HandleFunc("/faucet", s.handleFaucet).Methods(http.MethodPost)
	r.HandleFunc("/admin/init-genesis", s.handleInitGenesis).Methods(http.MethodPost)
	r.HandleFunc("/admin/backup", s.handleBackup).Methods(http.MethodPost)
	r.HandleFunc("/admin/restore", s.handleRestore).Methods(http.MethodPost)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	s.handler = cors.Default().Handler(r)
	return s
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe runs the façade until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("http api listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// fireTrigger pulls the proposer in a detached goroutine; round failures
// are the proposer's to report.
func (s *Server) fireTrigger() {
	if s.trigger == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.trigger.Trigger(ctx); err != nil {
			s.logger.Debug("trigger failed", "error", err)
		}
	}()
}
