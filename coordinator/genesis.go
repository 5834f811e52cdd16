package coordinator

import (
	"context"
	"fmt"

	"github.com/quorlabs/quor/config"
	"github.com/quorlabs/quor/types"
)

// GenesisProposer is the proposer id stamped on block 0.
const GenesisProposer = "genesis"

// InitGenesis manufactures block 0 from the genesis config and replaces the
// whole chain record. Re-initializing a chain that has advanced past
// genesis requires force.
func (c *Coordinator) InitGenesis(ctx context.Context, genesisTime uint64, force bool) error {
	if c.genesis == nil {
		return fmt.Errorf("init genesis: no genesis config")
	}
	return c.atomically(func(rec *types.ChainRecord) error {
		if rec.World.LatestHeight > 0 && !force {
			return ErrAlreadyInitialized
		}

		ts := genesisTime
		if ts == 0 {
			ts = c.genesis.GenesisTime
		}
		block, world, err := BuildGenesisBlock(c.genesis, ts)
		if err != nil {
			return err
		}
		validators, err := c.genesis.ValidatorPubKeys()
		if err != nil {
			return err
		}

		cons := rec.Config
		cons.Validators = validators
		cons.RequiredSignatures = types.QuorumSize(len(validators))

		rec.World = world
		rec.Queue = types.PendingQueue{}
		rec.History = []*types.Block{block}
		rec.Config = cons

		c.logger.Info("genesis initialized",
			"chainId", c.genesis.ChainID,
			"hash", block.Hash,
			"validators", len(validators),
			"requiredSignatures", cons.RequiredSignatures)
		return nil
	})
}

// BuildGenesisBlock deterministically builds block 0: each premine entry
// becomes a pseudo-transaction from the zero address, in config order.
func BuildGenesisBlock(gen *config.GenesisConfig, genesisTime uint64) (*types.Block, *types.WorldState, error) {
	if err := gen.Validate(); err != nil {
		return nil, nil, err
	}

	world := types.NewWorldState()
	txs := make([]types.Transaction, 0, len(gen.Premine))
	for i, entry := range gen.Premine {
		addr, err := types.AddressFromHex(entry.Address)
		if err != nil {
			return nil, nil, fmt.Errorf("premine %d: %w", i, err)
		}
		amount, err := types.AmountFromString(entry.Amount)
		if err != nil {
			return nil, nil, fmt.Errorf("premine %d: %w", i, err)
		}

		tx := types.Transaction{
			From:      types.ZeroAddress,
			To:        addr,
			Amount:    amount,
			Sequence:  uint64(i),
			Timestamp: genesisTime,
			GasPrice:  types.NewAmount(0),
			GasLimit:  types.DefaultGasLimit,
		}
		tx.Hash, err = tx.ComputeHash()
		if err != nil {
			return nil, nil, fmt.Errorf("premine %d: %w", i, err)
		}
		txs = append(txs, tx)

		world.Balances[addr] = world.BalanceOf(addr).Add(amount)
	}

	stateRoot, err := types.StateRoot(world.Balances, world.Sequences)
	if err != nil {
		return nil, nil, err
	}
	hashes := make([]types.Hash, len(txs))
	for i := range txs {
		hashes[i] = txs[i].Hash
	}

	header := types.BlockHeader{
		Height:    0,
		Timestamp: genesisTime,
		PrevHash:  types.Hash{},
		TxRoot:    types.MerkleRoot(hashes),
		StateRoot: stateRoot,
		Proposer:  GenesisProposer,
		TxCount:   uint64(len(txs)),
	}
	hash, err := header.ComputeHash()
	if err != nil {
		return nil, nil, err
	}

	world.GenesisHash = hash
	world.LatestHash = hash
	world.LatestHeight = 0
	world.TotalTx = uint64(len(txs))
	world.LastUpdated = genesisTime

	return &types.Block{
		Header:       header,
		Transactions: txs,
		Hash:         hash,
	}, world, nil
}
