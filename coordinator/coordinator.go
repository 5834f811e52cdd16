// Package coordinator implements the singleton authoritative state machine
// of the chain. It owns the world state, the pending queue, the block
// history and the round lock; every mutation runs through the atomic
// transaction primitive, which persists the whole chain record before it
// becomes visible to readers.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quorlabs/quor/config"
	"github.com/quorlabs/quor/metrics"
	"github.com/quorlabs/quor/storage"
	"github.com/quorlabs/quor/types"
)

// Account is the external view of one ledger entry. PendingSequence is the
// committed sequence plus queued transactions from the same sender, i.e.
// the sequence a client should use for its next submission once the queue
// drains.
type Account struct {
	Address         types.Address `json:"address"`
	Balance         types.Amount  `json:"balance"`
	Sequence        uint64        `json:"sequence"`
	PendingSequence uint64        `json:"pendingSequence"`
}

// TransactionRecord is a transaction plus its confirmation status.
type TransactionRecord struct {
	Transaction types.Transaction `json:"transaction"`
	Status      string            `json:"status"` // "pending" or "confirmed"
	BlockHeight *uint64           `json:"blockHeight,omitempty"`
	BlockHash   *types.Hash       `json:"blockHash,omitempty"`
}

// AddressTransactions groups an address's committed and queued transfers.
type AddressTransactions struct {
	Address   types.Address       `json:"address"`
	Confirmed []TransactionRecord `json:"confirmed"`
	Pending   []types.Transaction `json:"pending"`
}

// API is the internal capability the proposer, validators and the HTTP
// façade depend on. The Coordinator satisfies it directly for in-process
// wiring; networking.Client satisfies it over libp2p streams.
type API interface {
	AddTransaction(ctx context.Context, tx *types.Transaction) error
	AcquireProcessingLock(ctx context.Context) ([]types.Transaction, error)
	ReleaseProcessingLock(ctx context.Context, clearQueue bool) error
	PackBlock(ctx context.Context, proposerID string) (*types.Block, error)
	CommitBlock(ctx context.Context, block *types.Block, votes []types.Vote) error
	InitGenesis(ctx context.Context, genesisTime uint64, force bool) error
	ReportError(ctx context.Context, msg string) error

	QueryState(ctx context.Context) (*types.WorldState, error)
	QueryConfig(ctx context.Context) (types.ConsensusConfig, error)
	QueryPending(ctx context.Context) ([]types.Transaction, error)
	QueryAccount(ctx context.Context, addr types.Address) (*Account, error)
	QueryBlock(ctx context.Context, height uint64) (*types.Block, error)
	QueryLatestBlock(ctx context.Context) (*types.Block, error)
	QueryBlocksRange(ctx context.Context, start uint64, limit int) ([]*types.Block, error)
	QueryTransaction(ctx context.Context, hash types.Hash) (*TransactionRecord, error)
	TransactionsByAddress(ctx context.Context, addr types.Address) (*AddressTransactions, error)
}

// BackupFunc uploads a snapshot of the chain record. It runs detached,
// never under the coordinator lock.
type BackupFunc func(ctx context.Context, rec *types.ChainRecord)

// Options configures a Coordinator.
type Options struct {
	Store     storage.Store
	Genesis   *config.GenesisConfig
	Consensus types.ConsensusConfig // validator set filled at InitGenesis
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Backup    BackupFunc       // optional
	TimeFunc  func() time.Time // injectable for tests
}

// Coordinator owns the chain record. All writes serialize through
// atomically; reads copy out under the read lock so they observe a wholly
// pre- or wholly post-commit record.
type Coordinator struct {
	mu  sync.RWMutex
	rec *types.ChainRecord

	store    storage.Store
	genesis  *config.GenesisConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	backup   BackupFunc
	timeFunc func() time.Time

	watchdog   *time.Timer // armed at packBlock, disarmed at commit/release
	lastBackup time.Time

	bg     sync.WaitGroup // detached background work (backup uploads)
	closed chan struct{}
}

var _ API = (*Coordinator)(nil)

// New creates a coordinator, resuming from the store when it holds a
// persisted chain record.
func New(opts Options) (*Coordinator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeFunc := opts.TimeFunc
	if timeFunc == nil {
		timeFunc = time.Now
	}

	c := &Coordinator{
		store:    opts.Store,
		genesis:  opts.Genesis,
		logger:   logger,
		metrics:  opts.Metrics,
		backup:   opts.Backup,
		timeFunc: timeFunc,
		closed:   make(chan struct{}),
	}

	rec, found, err := opts.Store.LoadChain()
	if err != nil {
		return nil, err
	}
	if found {
		// A restart resumes at the committed height. A round that was
		// mid-flight when the process died holds a stale lock; the
		// stale-lock takeover in acquireProcessingLock clears it.
		c.rec = rec
		logger.Info("resumed chain from store",
			"height", rec.World.LatestHeight,
			"queued", len(rec.Queue.Transactions))
	} else {
		cons := opts.Consensus
		if cons.BlockMaxTxs == 0 {
			cons = config.ConsensusDefaults()
		}
		c.rec = &types.ChainRecord{
			World:  types.NewWorldState(),
			Config: cons,
		}
	}
	return c, nil
}

// Close stops the watchdog and waits for detached background work.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	c.mu.Unlock()
	c.bg.Wait()
	return nil
}

// nowMs returns the injectable wall clock in unix milliseconds.
func (c *Coordinator) nowMs() uint64 {
	return uint64(c.timeFunc().UnixMilli())
}

// atomically runs fn over a copy of the chain record, persists the result,
// then publishes it. A failed closure or a failed save leaves the visible
// record untouched.
func (c *Coordinator) atomically(fn func(rec *types.ChainRecord) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.rec.Copy()
	if err := fn(next); err != nil {
		return err
	}
	if err := c.store.SaveChain(next); err != nil {
		return err
	}
	c.rec = next
	return nil
}

// snapshot returns the current record pointer for reading. The record is
// never mutated in place (atomically swaps a fresh copy), so readers can
// hold it without the lock.
func (c *Coordinator) snapshot() *types.ChainRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rec
}

// initialized reports whether genesis has been built.
func initialized(rec *types.ChainRecord) bool {
	return len(rec.History) > 0
}

// scheduleBackup dispatches a snapshot upload in a detached goroutine. The
// record passed in is an immutable snapshot.
func (c *Coordinator) scheduleBackup(rec *types.ChainRecord) {
	if c.backup == nil {
		return
	}
	select {
	case <-c.closed:
		return
	default:
	}
	c.lastBackup = c.timeFunc()
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.backup(context.Background(), rec)
	}()
}

// backupDue reports whether the opportunistic backup interval has elapsed.
// Caller holds at least the read lock.
func (c *Coordinator) backupDue() bool {
	interval := c.rec.Config.BackupInterval
	if interval <= 0 {
		return false
	}
	return c.lastBackup.IsZero() || c.timeFunc().Sub(c.lastBackup) >= interval
}
