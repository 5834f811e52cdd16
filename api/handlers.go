package api

import (
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/quorlabs/quor/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, map[string]any{
		"status": "ok",
		"time":   s.timeFunc().UnixMilli(),
	})
}

// networkStatus is the /status payload.
type networkStatus struct {
	ChainID            string     `json:"chainId"`
	NetworkID          uint64     `json:"networkId"`
	LatestHeight       uint64     `json:"latestHeight"`
	LatestHash         types.Hash `json:"latestHash"`
	GenesisHash        types.Hash `json:"genesisHash"`
	TotalTx            uint64     `json:"totalTx"`
	PendingTxs         int        `json:"pendingTxs"`
	Validators         int        `json:"validators"`
	RequiredSignatures int        `json:"requiredSignatures"`
	LastUpdated        uint64     `json:"lastUpdated"`
	LastProposerError  string     `json:"lastProposerError,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	world, err := s.api.QueryState(ctx)
	if err != nil {
		respondMapped(w, err)
		return
	}
	cfg, err := s.api.QueryConfig(ctx)
	if err != nil {
		respondMapped(w, err)
		return
	}
	status := networkStatus{
		LatestHeight:       world.LatestHeight,
		LatestHash:         world.LatestHash,
		GenesisHash:        world.GenesisHash,
		TotalTx:            world.TotalTx,
		Validators:         len(cfg.Validators),
		RequiredSignatures: cfg.RequiredSignatures,
		LastUpdated:        world.LastUpdated,
		LastProposerError:  world.LastProposerError,
	}
	if s.genesis != nil {
		status.ChainID = s.genesis.ChainID
		status.NetworkID = s.genesis.NetworkID
	}
	if pending, err := s.api.QueryPending(ctx); err == nil {
		status.PendingTxs = len(pending)
	}
	respond(w, status)
}

// submitRequest is the /tx/submit body.
type submitRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	Sequence  uint64 `json:"sequence"`
	Timestamp uint64 `json:"timestamp"`
	Signature string `json:"signature"`
	PublicKey string `json:"publicKey"`
}

type submitResponse struct {
	TxHash                  types.Hash `json:"txHash"`
	EstimatedConfirmationMs uint64     `json:"estimatedConfirmationMs"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	tx, err := s.buildTransaction(&req)
	if err != nil {
		respondMapped(w, err)
		return
	}

	if err := s.api.AddTransaction(r.Context(), tx); err != nil {
		respondMapped(w, err)
		return
	}
	s.fireTrigger()

	respond(w, submitResponse{
		TxHash:                  tx.Hash,
		EstimatedConfirmationMs: s.estimatedConfirmation(),
	})
}

// buildTransaction assembles and pre-validates a transaction from a
// submission: field shape, address derivation and the client signature are
// all checked here before the coordinator sees it.
func (s *Server) buildTransaction(req *submitRequest) (*types.Transaction, error) {
	if req.From == "" || req.To == "" || req.Amount == "" || req.Signature == "" || req.PublicKey == "" {
		return nil, errMalformed("missing required field")
	}
	from, err := types.AddressFromHex(req.From)
	if err != nil {
		return nil, errMalformed("bad from address")
	}
	to, err := types.AddressFromHex(req.To)
	if err != nil {
		return nil, errMalformed("bad to address")
	}
	amount, err := types.AmountFromString(req.Amount)
	if err != nil {
		return nil, errMalformed("bad amount")
	}
	pub, err := types.HexBytesFromHex(req.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, errMalformed("bad public key")
	}
	sig, err := types.HexBytesFromHex(req.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, errMalformed("bad signature encoding")
	}

	tx := types.NewTransfer(from, to, amount, req.Sequence, req.Timestamp)
	tx.PublicKey = pub
	tx.Signature = sig
	tx.Hash, err = tx.ComputeHash()
	if err != nil {
		return nil, err
	}
	// Address derivation and signature verification; the coordinator
	// re-checks, the façade fails fast.
	if err := tx.Verify(); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Server) estimatedConfirmation() uint64 {
	if s.genesis != nil && s.genesis.BlockTimeMs > 0 {
		return s.genesis.BlockTimeMs
	}
	return 5000
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	hash, err := types.HashFromHex(mux.Vars(r)["hash"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad transaction hash")
		return
	}
	record, err := s.api.QueryTransaction(r.Context(), hash)
	if err != nil {
		respondMapped(w, err)
		return
	}
	respond(w, record)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := types.AddressFromHex(mux.Vars(r)["addr"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad address")
		return
	}
	acct, err := s.api.QueryAccount(r.Context(), addr)
	if err != nil {
		respondMapped(w, err)
		return
	}
	respond(w, acct)
}

func (s *Server) handleAccountTxs(w http.ResponseWriter, r *http.Request) {
	addr, err := types.AddressFromHex(mux.Vars(r)["addr"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad address")
		return
	}
	txs, err := s.api.TransactionsByAddress(r.Context(), addr)
	if err != nil {
		respondMapped(w, err)
		return
	}
	respond(w, txs)
}

// latestBlockView is the lightweight /block/latest payload.
type latestBlockView struct {
	Height    uint64     `json:"height"`
	Hash      types.Hash `json:"hash"`
	PrevHash  types.Hash `json:"prevHash"`
	Timestamp uint64     `json:"timestamp"`
	Proposer  string     `json:"proposer"`
	TxCount   uint64     `json:"txCount"`
}

func (s *Server) handleLatestBlock(w http.ResponseWriter, r *http.Request) {
	block, err := s.api.QueryLatestBlock(r.Context())
	if err != nil {
		respondMapped(w, err)
		return
	}
	respond(w, latestBlockView{
		Height:    block.Header.Height,
		Hash:      block.Hash,
		PrevHash:  block.Header.PrevHash,
		Timestamp: block.Header.Timestamp,
		Proposer:  block.Header.Proposer,
		TxCount:   block.Header.TxCount,
	})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad height")
		return
	}
	block, err := s.api.QueryBlock(r.Context(), height)
	if err != nil {
		respondMapped(w, err)
		return
	}
	respond(w, block)
}

// faucetRequest is the devnet /faucet body.
type faucetRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	if s.genesis != nil && s.genesis.IsMainnet() {
		respondError(w, http.StatusForbidden, "faucet disabled on this network")
		return
	}
	if s.faucetKey == nil {
		respondError(w, http.StatusForbidden, "faucet not configured")
		return
	}

	var req faucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	to, err := types.AddressFromHex(req.Address)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad address")
		return
	}
	amountStr := req.Amount
	if amountStr == "" {
		amountStr = "1000000000"
	}
	amount, err := types.AmountFromString(amountStr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad amount")
		return
	}

	faucetAddr, err := types.AddressFromPublicKey(s.faucetKey.Public().(ed25519.PublicKey))
	if err != nil {
		respondMapped(w, err)
		return
	}
	acct, err := s.api.QueryAccount(r.Context(), faucetAddr)
	if err != nil {
		respondMapped(w, err)
		return
	}

	tx := types.NewTransfer(faucetAddr, to, amount, acct.Sequence, uint64(s.timeFunc().UnixMilli()))
	if err := tx.Sign(s.faucetKey); err != nil {
		respondMapped(w, err)
		return
	}
	if err := s.api.AddTransaction(r.Context(), tx); err != nil {
		respondMapped(w, err)
		return
	}
	s.fireTrigger()

	respond(w, submitResponse{
		TxHash:                  tx.Hash,
		EstimatedConfirmationMs: s.estimatedConfirmation(),
	})
}

// initGenesisRequest is the /admin/init-genesis body.
type initGenesisRequest struct {
	GenesisTime uint64 `json:"genesisTime"`
	Force       bool   `json:"force"`
}

func (s *Server) handleInitGenesis(w http.ResponseWriter, r *http.Request) {
	var req initGenesisRequest
	if r.Body != nil {
		// An empty body means default genesis time, no force.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := s.api.InitGenesis(r.Context(), req.GenesisTime, req.Force); err != nil {
		respondMapped(w, err)
		return
	}
	world, err := s.api.QueryState(r.Context())
	if err != nil {
		respondMapped(w, err)
		return
	}
	respond(w, map[string]any{
		"genesisHash": world.GenesisHash,
	})
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil || s.snapshotter == nil {
		respondError(w, http.StatusForbidden, "backups not configured")
		return
	}
	if err := s.admin.TriggerBackup(r.Context()); err != nil {
		respondMapped(w, err)
		return
	}
	respond(w, map[string]any{"scheduled": true})
}

// restoreRequest is the /admin/restore body.
type restoreRequest struct {
	CID   string `json:"cid"`
	Force bool   `json:"force"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil || s.snapshotter == nil {
		respondError(w, http.StatusForbidden, "backups not configured")
		return
	}
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	// Anti-rollback: only the newest snapshot may be restored.
	if err := s.snapshotter.VerifyLatest(r.Context(), req.CID); err != nil {
		respondMapped(w, err)
		return
	}
	rec, err := s.snapshotter.Fetch(r.Context(), req.CID)
	if err != nil {
		respondMapped(w, err)
		return
	}
	if err := s.admin.Restore(r.Context(), rec, req.Force); err != nil {
		respondMapped(w, err)
		return
	}
	respond(w, map[string]any{
		"restoredHeight": rec.World.LatestHeight,
	})
}

type malformedError struct{ msg string }

func (e *malformedError) Error() string { return e.msg }

func errMalformed(msg string) error { return &malformedError{msg: msg} }
