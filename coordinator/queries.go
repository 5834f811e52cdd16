package coordinator

import (
	"context"
	"fmt"

	"github.com/quorlabs/quor/types"
)

// Reads operate on the published record snapshot: a read racing a commit
// sees wholly pre- or wholly post-commit state, never a mix.

func (c *Coordinator) QueryState(ctx context.Context) (*types.WorldState, error) {
	return c.snapshot().World.Copy(), nil
}

func (c *Coordinator) QueryConfig(ctx context.Context) (types.ConsensusConfig, error) {
	return c.snapshot().Config, nil
}

func (c *Coordinator) QueryPending(ctx context.Context) ([]types.Transaction, error) {
	rec := c.snapshot()
	out := make([]types.Transaction, len(rec.Queue.Transactions))
	copy(out, rec.Queue.Transactions)
	return out, nil
}

func (c *Coordinator) QueryAccount(ctx context.Context, addr types.Address) (*Account, error) {
	rec := c.snapshot()
	queued := uint64(0)
	for i := range rec.Queue.Transactions {
		if rec.Queue.Transactions[i].From == addr {
			queued++
		}
	}
	seq := rec.World.Sequences[addr]
	return &Account{
		Address:         addr,
		Balance:         rec.World.BalanceOf(addr),
		Sequence:        seq,
		PendingSequence: seq + queued,
	}, nil
}

func (c *Coordinator) QueryBlock(ctx context.Context, height uint64) (*types.Block, error) {
	rec := c.snapshot()
	if height >= uint64(len(rec.History)) {
		return nil, fmt.Errorf("%w: block %d", ErrNotFound, height)
	}
	return rec.History[height], nil
}

func (c *Coordinator) QueryLatestBlock(ctx context.Context) (*types.Block, error) {
	rec := c.snapshot()
	if len(rec.History) == 0 {
		return nil, fmt.Errorf("%w: chain has no blocks", ErrNotFound)
	}
	return rec.History[len(rec.History)-1], nil
}

func (c *Coordinator) QueryBlocksRange(ctx context.Context, start uint64, limit int) ([]*types.Block, error) {
	rec := c.snapshot()
	if start >= uint64(len(rec.History)) || limit <= 0 {
		return nil, nil
	}
	end := start + uint64(limit)
	if end > uint64(len(rec.History)) {
		end = uint64(len(rec.History))
	}
	out := make([]*types.Block, end-start)
	copy(out, rec.History[start:end])
	return out, nil
}

func (c *Coordinator) QueryTransaction(ctx context.Context, hash types.Hash) (*TransactionRecord, error) {
	rec := c.snapshot()

	for i := range rec.Queue.Transactions {
		if rec.Queue.Transactions[i].Hash == hash {
			return &TransactionRecord{
				Transaction: rec.Queue.Transactions[i],
				Status:      "pending",
			}, nil
		}
	}

	// Newest blocks are the likeliest hits.
	for h := len(rec.History) - 1; h >= 0; h-- {
		block := rec.History[h]
		for i := range block.Transactions {
			if block.Transactions[i].Hash == hash {
				height := block.Header.Height
				blockHash := block.Hash
				return &TransactionRecord{
					Transaction: block.Transactions[i],
					Status:      "confirmed",
					BlockHeight: &height,
					BlockHash:   &blockHash,
				}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, hash)
}

func (c *Coordinator) TransactionsByAddress(ctx context.Context, addr types.Address) (*AddressTransactions, error) {
	rec := c.snapshot()
	out := &AddressTransactions{Address: addr}

	for _, block := range rec.History {
		for i := range block.Transactions {
			tx := &block.Transactions[i]
			if tx.From != addr && tx.To != addr {
				continue
			}
			height := block.Header.Height
			blockHash := block.Hash
			out.Confirmed = append(out.Confirmed, TransactionRecord{
				Transaction: *tx,
				Status:      "confirmed",
				BlockHeight: &height,
				BlockHash:   &blockHash,
			})
		}
	}
	for i := range rec.Queue.Transactions {
		tx := &rec.Queue.Transactions[i]
		if tx.From == addr || tx.To == addr {
			out.Pending = append(out.Pending, *tx)
		}
	}
	return out, nil
}
