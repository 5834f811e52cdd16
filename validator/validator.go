// Package validator implements the stateless block verifier. Given a
// candidate block, it re-derives every hash and root against the
// coordinator's current state and, if everything checks out, returns a
// signature over the block hash.
package validator

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quorlabs/quor/types"
)

// MaxClockSkew bounds how far into the future a block or transaction
// timestamp may lie.
const MaxClockSkew = 60 * time.Second

// Rejection reasons surfaced in negative votes.
var (
	ErrBadHash         = errors.New("block hash mismatch")
	ErrTxCountMismatch = errors.New("transaction count mismatch")
	ErrBadTxRoot       = errors.New("transaction root mismatch")
	ErrBadStateRoot    = errors.New("state root mismatch")
	ErrFutureTimestamp = errors.New("timestamp too far in the future")
	ErrWrongHeight     = errors.New("wrong height")
	ErrWrongParent     = errors.New("wrong parent hash")
)

// Result is the verdict returned to the proposer. On success it carries
// the validator's vote; on failure, the rejection reason.
type Result struct {
	Valid bool        `json:"valid"`
	Error string      `json:"error,omitempty"`
	Vote  *types.Vote `json:"vote,omitempty"`
}

// StateReader is the slice of the coordinator API a validator needs.
type StateReader interface {
	QueryState(ctx context.Context) (*types.WorldState, error)
}

// Validator holds a validator's identity and key material. It keeps no
// round state; every Validate call is self-contained.
type Validator struct {
	id       string
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	state    StateReader
	logger   *slog.Logger
	timeFunc func() time.Time
}

// Options configures a Validator.
type Options struct {
	ID         string
	PrivateKey ed25519.PrivateKey
	State      StateReader
	Logger     *slog.Logger
	TimeFunc   func() time.Time
}

// New creates a validator.
func New(opts Options) *Validator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeFunc := opts.TimeFunc
	if timeFunc == nil {
		timeFunc = time.Now
	}
	return &Validator{
		id:       opts.ID,
		priv:     opts.PrivateKey,
		pub:      opts.PrivateKey.Public().(ed25519.PublicKey),
		state:    opts.State,
		logger:   logger.With("validator", opts.ID),
		timeFunc: timeFunc,
	}
}

// ID returns the validator's identifier.
func (v *Validator) ID() string { return v.id }

// PublicKey returns the validator's ed25519 public key.
func (v *Validator) PublicKey() types.HexBytes { return types.HexBytes(v.pub) }

// Validate runs the full check list against the candidate block. Check
// failures, including being unable to read the coordinator's state,
// produce a negative Result, not an error; the returned error is always nil.
func (v *Validator) Validate(ctx context.Context, block *types.Block, proposerID string) (*Result, error) {
	if err := v.check(ctx, block); err != nil {
		v.logger.Warn("rejecting block",
			"height", block.Header.Height, "proposer", proposerID, "reason", err)
		return &Result{Valid: false, Error: err.Error()}, nil
	}

	vote := &types.Vote{
		ValidatorID:     v.id,
		ValidatorPubKey: types.HexBytes(v.pub),
		Signature:       ed25519.Sign(v.priv, types.BlockSignBytes(block.Hash)),
		Timestamp:       uint64(v.timeFunc().UnixMilli()),
	}
	v.logger.Debug("signed block", "height", block.Header.Height, "hash", block.Hash)
	return &Result{Valid: true, Vote: vote}, nil
}

func (v *Validator) check(ctx context.Context, block *types.Block) error {
	// Structural and cryptographic checks need no coordinator state.
	wantHash, err := block.Header.ComputeHash()
	if err != nil {
		return err
	}
	if wantHash != block.Hash {
		return ErrBadHash
	}
	if uint64(len(block.Transactions)) != block.Header.TxCount {
		return fmt.Errorf("%w: %d transactions, header says %d",
			ErrTxCountMismatch, len(block.Transactions), block.Header.TxCount)
	}
	if types.MerkleRoot(block.TxHashes()) != block.Header.TxRoot {
		return ErrBadTxRoot
	}

	now := uint64(v.timeFunc().UnixMilli())
	horizon := now + uint64(MaxClockSkew.Milliseconds())
	if block.Header.Timestamp > horizon {
		return fmt.Errorf("block %w", ErrFutureTimestamp)
	}

	for i := range block.Transactions {
		tx := &block.Transactions[i]
		if tx.Timestamp > horizon {
			return fmt.Errorf("transaction %s %w", tx.Hash, ErrFutureTimestamp)
		}
		// Re-verifies hash integrity, address derivation and the sender
		// signature.
		if err := tx.Verify(); err != nil {
			return fmt.Errorf("transaction %s: %w", tx.Hash, err)
		}
	}

	// State-transition checks against the coordinator's current state.
	world, err := v.state.QueryState(ctx)
	if err != nil {
		return fmt.Errorf("query state: %w", err)
	}
	if block.Header.Height != world.LatestHeight+1 {
		return fmt.Errorf("%w: got %d, want %d",
			ErrWrongHeight, block.Header.Height, world.LatestHeight+1)
	}
	if block.Header.PrevHash != world.LatestHash {
		return ErrWrongParent
	}

	sim := types.ApplyTransactions(world.Balances, world.Sequences, block.Transactions)
	stateRoot, err := types.StateRoot(sim.Balances, sim.Sequences)
	if err != nil {
		return err
	}
	if stateRoot != block.Header.StateRoot {
		return ErrBadStateRoot
	}
	return nil
}
