package types

import "time"

// WorldState is the committed ledger: balances and per-account sequence
// numbers, plus chain-tip bookkeeping.
type WorldState struct {
	Balances          map[Address]Amount `json:"balances"`
	Sequences         map[Address]uint64 `json:"sequences"`
	LatestHeight      uint64             `json:"latestHeight"`
	LatestHash        Hash               `json:"latestHash"`
	GenesisHash       Hash               `json:"genesisHash"`
	TotalTx           uint64             `json:"totalTx"`
	LastUpdated       uint64             `json:"lastUpdated"` // unix milliseconds
	LastProposerError string             `json:"lastProposerError,omitempty"`
}

// NewWorldState returns an empty world state with allocated maps.
func NewWorldState() *WorldState {
	return &WorldState{
		Balances:  make(map[Address]Amount),
		Sequences: make(map[Address]uint64),
	}
}

// Copy returns a deep copy. Amounts are immutable values, so map copies
// suffice.
func (w *WorldState) Copy() *WorldState {
	out := *w
	out.Balances = make(map[Address]Amount, len(w.Balances))
	for a, v := range w.Balances {
		out.Balances[a] = v
	}
	out.Sequences = make(map[Address]uint64, len(w.Sequences))
	for a, n := range w.Sequences {
		out.Sequences[a] = n
	}
	return &out
}

// BalanceOf returns the committed balance, zero for unknown accounts.
func (w *WorldState) BalanceOf(a Address) Amount {
	if b, ok := w.Balances[a]; ok {
		return b
	}
	return NewAmount(0)
}

// PendingQueue holds admitted-but-uncommitted transactions in FIFO order,
// plus the single-round processing lock.
type PendingQueue struct {
	Transactions        []Transaction `json:"transactions"`
	Processing          bool          `json:"processing"`
	ProcessingStartedAt uint64        `json:"processingStartedAt,omitempty"` // unix milliseconds
	CurrentBlock        *Block        `json:"currentBlock,omitempty"`
}

// Contains reports whether a transaction with the given hash is queued.
func (q *PendingQueue) Contains(h Hash) bool {
	for i := range q.Transactions {
		if q.Transactions[i].Hash == h {
			return true
		}
	}
	return false
}

// ConsensusConfig fixes the validator set and round parameters.
type ConsensusConfig struct {
	BlockMaxTxs        int           `json:"blockMaxTxs"`
	BlockMinTxs        int           `json:"blockMinTxs"`
	ConsensusTimeout   time.Duration `json:"consensusTimeout"`
	WatchdogTimeout    time.Duration `json:"watchdogTimeout"`
	BackupInterval     time.Duration `json:"backupInterval"`
	Validators         []HexBytes    `json:"validators"` // ed25519 public keys
	RequiredSignatures int           `json:"requiredSignatures"`
	// ProposerPubKey, when set, makes commitBlock verify the proposer
	// signature in addition to the validator quorum.
	ProposerPubKey HexBytes `json:"proposerPubKey,omitempty"`
}

// QuorumSize returns ceil(2N/3) for n validators.
func QuorumSize(n int) int {
	return (2*n + 2) / 3
}

// IsValidator reports whether pub is in the configured validator set.
func (c *ConsensusConfig) IsValidator(pub HexBytes) bool {
	for _, v := range c.Validators {
		if string(v) == string(pub) {
			return true
		}
	}
	return false
}

// ChainRecord is the full persisted chain: the unit the coordinator's
// atomic transaction primitive reads and writes.
type ChainRecord struct {
	World   *WorldState     `json:"world"`
	Queue   PendingQueue    `json:"queue"`
	History []*Block        `json:"history"` // dense, indexed by height
	Config  ConsensusConfig `json:"config"`
}

// Copy returns a deep copy of the record. Blocks are immutable once built,
// so history and queue entries are copied by reference.
func (r *ChainRecord) Copy() *ChainRecord {
	out := &ChainRecord{
		World:  r.World.Copy(),
		Queue:  r.Queue,
		Config: r.Config,
	}
	out.Queue.Transactions = make([]Transaction, len(r.Queue.Transactions))
	copy(out.Queue.Transactions, r.Queue.Transactions)
	out.History = make([]*Block, len(r.History))
	copy(out.History, r.History)
	return out
}

// ExecutionResult is the outcome of applying a transaction list to a state
// snapshot.
type ExecutionResult struct {
	Balances  map[Address]Amount
	Sequences map[Address]uint64
	Executed  []Transaction
}

// ApplyTransactions executes txs in order over a snapshot of the given
// balances and sequences. A transaction whose sequence does not match the
// running sequence, or whose sender balance is insufficient, is skipped;
// execution never aborts. Block packing, validator simulation and the
// commit path all run through here so their state roots agree bit-for-bit.
func ApplyTransactions(balances map[Address]Amount, sequences map[Address]uint64, txs []Transaction) ExecutionResult {
	res := ExecutionResult{
		Balances:  make(map[Address]Amount, len(balances)),
		Sequences: make(map[Address]uint64, len(sequences)),
	}
	for a, v := range balances {
		res.Balances[a] = v
	}
	for a, n := range sequences {
		res.Sequences[a] = n
	}

	for i := range txs {
		tx := txs[i]
		if tx.Sequence != res.Sequences[tx.From] {
			continue
		}
		from := res.Balances[tx.From]
		if from.Cmp(tx.Amount) < 0 {
			continue
		}
		res.Balances[tx.From] = from.Sub(tx.Amount)
		res.Balances[tx.To] = res.Balances[tx.To].Add(tx.Amount)
		res.Sequences[tx.From] = tx.Sequence + 1
		res.Executed = append(res.Executed, tx)
	}
	return res
}
