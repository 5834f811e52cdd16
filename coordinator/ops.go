package coordinator

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/quorlabs/quor/types"
)

// AddTransaction admits a signed transfer to the pending queue.
//
// Admission validates sequence and balance against committed state and
// rejects a transaction whose sender already has one with the same
// sequence queued, so a sender has at most one transaction in flight;
// balance is not checked against earlier queued spends. The commit path re-checks
// every transaction against the running state, which keeps the ledger
// consistent regardless.
func (c *Coordinator) AddTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := tx.Verify(); err != nil {
		c.metrics.TxRejected("signature")
		return err
	}

	err := c.atomically(func(rec *types.ChainRecord) error {
		if !initialized(rec) {
			return ErrNotInitialized
		}
		if rec.Queue.Contains(tx.Hash) {
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, tx.Hash)
		}
		expected := rec.World.Sequences[tx.From]
		if tx.Sequence != expected {
			return &SequenceMismatchError{Expected: expected, Got: tx.Sequence}
		}
		for i := range rec.Queue.Transactions {
			q := &rec.Queue.Transactions[i]
			if q.From == tx.From && q.Sequence == tx.Sequence {
				return &SequenceMismatchError{Expected: expected, Got: tx.Sequence}
			}
		}
		if rec.World.BalanceOf(tx.From).Cmp(tx.Amount) < 0 {
			return fmt.Errorf("%w: account %s", ErrInsufficientBalance, tx.From)
		}
		rec.Queue.Transactions = append(rec.Queue.Transactions, *tx)
		rec.World.LastUpdated = c.nowMs()
		return nil
	})
	if err != nil {
		c.metrics.TxRejected(rejectReason(err))
		return err
	}

	rec := c.snapshot()
	c.metrics.TxAdmitted(len(rec.Queue.Transactions))
	c.logger.Debug("transaction admitted",
		"hash", tx.Hash, "from", tx.From, "sequence", tx.Sequence,
		"queued", len(rec.Queue.Transactions))
	return nil
}

func rejectReason(err error) string {
	switch {
	case isErr(err, ErrDuplicateTransaction):
		return "duplicate"
	case isErr(err, ErrSequenceMismatch):
		return "sequence"
	case isErr(err, ErrInsufficientBalance):
		return "balance"
	case isErr(err, ErrNotInitialized):
		return "uninitialized"
	default:
		return "other"
	}
}

// AcquireProcessingLock begins a round: it marks the queue as processing
// and returns a snapshot of the queued transactions. A lock older than the
// consensus timeout is considered stale and silently taken over.
func (c *Coordinator) AcquireProcessingLock(ctx context.Context) ([]types.Transaction, error) {
	var snapshot []types.Transaction
	err := c.atomically(func(rec *types.ChainRecord) error {
		now := c.nowMs()
		if rec.Queue.Processing {
			age := now - rec.Queue.ProcessingStartedAt
			if age < uint64(rec.Config.ConsensusTimeout.Milliseconds()) {
				return ErrRoundInProgress
			}
			c.logger.Warn("taking over stale processing lock", "ageMs", age)
		}
		if len(rec.Queue.Transactions) == 0 {
			return ErrEmptyQueue
		}
		rec.Queue.Processing = true
		rec.Queue.ProcessingStartedAt = now
		rec.Queue.CurrentBlock = nil
		snapshot = make([]types.Transaction, len(rec.Queue.Transactions))
		copy(snapshot, rec.Queue.Transactions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ReleaseProcessingLock ends a round without a commit. The queue survives
// unless clearQueue is set, so the next trigger retries the same
// transactions.
func (c *Coordinator) ReleaseProcessingLock(ctx context.Context, clearQueue bool) error {
	err := c.atomically(func(rec *types.ChainRecord) error {
		rec.Queue.Processing = false
		rec.Queue.ProcessingStartedAt = 0
		rec.Queue.CurrentBlock = nil
		if clearQueue {
			rec.Queue.Transactions = nil
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.disarmWatchdog()
	return nil
}

// PackBlock assembles an unsigned candidate block from the head of the
// queue and arms the watchdog for the round.
func (c *Coordinator) PackBlock(ctx context.Context, proposerID string) (*types.Block, error) {
	var block *types.Block
	err := c.atomically(func(rec *types.ChainRecord) error {
		if !initialized(rec) {
			return ErrNotInitialized
		}
		if len(rec.Queue.Transactions) == 0 {
			return ErrEmptyQueue
		}

		count := len(rec.Queue.Transactions)
		if rec.Config.BlockMaxTxs > 0 && count > rec.Config.BlockMaxTxs {
			count = rec.Config.BlockMaxTxs
		}
		txs := make([]types.Transaction, count)
		copy(txs, rec.Queue.Transactions[:count])

		// Simulate execution over a snapshot; the commit path re-runs the
		// same rules, so the roots must match bit-for-bit.
		sim := types.ApplyTransactions(rec.World.Balances, rec.World.Sequences, txs)
		stateRoot, err := types.StateRoot(sim.Balances, sim.Sequences)
		if err != nil {
			return err
		}

		hashes := make([]types.Hash, len(txs))
		for i := range txs {
			hashes[i] = txs[i].Hash
		}

		header := types.BlockHeader{
			Height:    rec.World.LatestHeight + 1,
			Timestamp: c.nowMs(),
			PrevHash:  rec.World.LatestHash,
			TxRoot:    types.MerkleRoot(hashes),
			StateRoot: stateRoot,
			Proposer:  proposerID,
			TxCount:   uint64(len(txs)),
		}
		hash, err := header.ComputeHash()
		if err != nil {
			return err
		}

		block = &types.Block{
			Header:       header,
			Transactions: txs,
			Hash:         hash,
		}
		rec.Queue.Processing = true
		if rec.Queue.ProcessingStartedAt == 0 {
			rec.Queue.ProcessingStartedAt = c.nowMs()
		}
		// The caller signs and attaches votes to its copy; keep ours
		// detached so the persisted record never sees those writes.
		current := *block
		rec.Queue.CurrentBlock = &current
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.armWatchdog(c.watchdogTimeout())
	c.logger.Info("packed candidate block",
		"height", block.Header.Height, "txs", block.Header.TxCount, "hash", block.Hash)
	return block, nil
}

// CommitBlock finalizes a quorum-signed block: it re-executes the block's
// transactions over committed state, publishes the new world state, appends
// the block to history, drains executed transactions from the queue and
// releases the round lock, all in one atomic step.
func (c *Coordinator) CommitBlock(ctx context.Context, block *types.Block, votes []types.Vote) error {
	var executed int
	err := c.atomically(func(rec *types.ChainRecord) error {
		if !initialized(rec) {
			return ErrNotInitialized
		}
		if block.Header.Height != rec.World.LatestHeight+1 {
			return fmt.Errorf("%w: got %d, want %d",
				ErrWrongHeight, block.Header.Height, rec.World.LatestHeight+1)
		}
		if block.Header.PrevHash != rec.World.LatestHash {
			return fmt.Errorf("%w: got %s, want %s",
				ErrWrongParent, block.Header.PrevHash, rec.World.LatestHash)
		}

		valid := countValidVotes(&rec.Config, block, votes)
		if valid < rec.Config.RequiredSignatures {
			return fmt.Errorf("%w: %d of %d required",
				ErrInsufficientSignatures, valid, rec.Config.RequiredSignatures)
		}

		if len(rec.Config.ProposerPubKey) == ed25519.PublicKeySize {
			if !ed25519.Verify(ed25519.PublicKey(rec.Config.ProposerPubKey),
				types.BlockSignBytes(block.Hash), block.ProposerSignature) {
				return fmt.Errorf("proposer signature: %w", types.ErrInvalidSignature)
			}
		}

		res := types.ApplyTransactions(rec.World.Balances, rec.World.Sequences, block.Transactions)
		executed = len(res.Executed)

		rec.World.Balances = res.Balances
		rec.World.Sequences = res.Sequences
		rec.World.LatestHeight = block.Header.Height
		rec.World.LatestHash = block.Hash
		rec.World.TotalTx += uint64(executed)
		rec.World.LastUpdated = c.nowMs()
		rec.World.LastProposerError = ""

		rec.History = append(rec.History, block)

		executedHashes := make(map[types.Hash]struct{}, executed)
		for i := range res.Executed {
			executedHashes[res.Executed[i].Hash] = struct{}{}
		}
		remaining := rec.Queue.Transactions[:0:0]
		for i := range rec.Queue.Transactions {
			if _, ok := executedHashes[rec.Queue.Transactions[i].Hash]; !ok {
				remaining = append(remaining, rec.Queue.Transactions[i])
			}
		}
		rec.Queue.Transactions = remaining
		rec.Queue.Processing = false
		rec.Queue.ProcessingStartedAt = 0
		rec.Queue.CurrentBlock = nil
		return nil
	})
	if err != nil {
		return err
	}

	c.disarmWatchdog()

	rec := c.snapshot()
	c.metrics.BlockCommitted(executed, len(rec.Queue.Transactions))
	c.logger.Info("committed block",
		"height", block.Header.Height, "hash", block.Hash,
		"executed", executed, "skipped", len(block.Transactions)-executed,
		"queued", len(rec.Queue.Transactions))

	c.mu.Lock()
	if c.backupDue() {
		c.scheduleBackup(rec)
	}
	c.mu.Unlock()
	return nil
}

// countValidVotes filters votes down to distinct configured validators with
// a verifying signature over the block hash.
func countValidVotes(cfg *types.ConsensusConfig, block *types.Block, votes []types.Vote) int {
	signBytes := types.BlockSignBytes(block.Hash)
	seen := make(map[string]struct{}, len(votes))
	valid := 0
	for i := range votes {
		vote := &votes[i]
		if len(vote.ValidatorPubKey) != ed25519.PublicKeySize {
			continue
		}
		if !cfg.IsValidator(vote.ValidatorPubKey) {
			continue
		}
		key := string(vote.ValidatorPubKey)
		if _, dup := seen[key]; dup {
			continue
		}
		if !ed25519.Verify(ed25519.PublicKey(vote.ValidatorPubKey), signBytes, vote.Signature) {
			continue
		}
		seen[key] = struct{}{}
		valid++
	}
	return valid
}

// ReportError records a proposer-side failure for observability.
func (c *Coordinator) ReportError(ctx context.Context, msg string) error {
	return c.atomically(func(rec *types.ChainRecord) error {
		rec.World.LastProposerError = msg
		rec.World.LastUpdated = c.nowMs()
		return nil
	})
}
