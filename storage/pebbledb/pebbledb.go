// Package pebbledb is a pebble-backed storage.Store. Committed blocks are
// keyed by height so history loads in order; the mutable remainder of the
// chain record (world state, queue, config) lives under a single key and is
// replaced wholesale on every save, batched with any new blocks so a commit
// is one atomic write.
package pebbledb

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/quorlabs/quor/types"
)

var (
	stateKey    = []byte("s/chain")
	blockPrefix = []byte("b/")
)

// chainState is the non-history portion of the chain record.
type chainState struct {
	World       *types.WorldState     `json:"world"`
	Queue       types.PendingQueue    `json:"queue"`
	Config      types.ConsensusConfig `json:"config"`
	BlockCount  uint64                `json:"blockCount"`
	Initialized bool                  `json:"initialized"`
}

// Store persists the chain record in a pebble database.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func blockKey(height uint64) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], height)
	return key
}

func (s *Store) SaveChain(rec *types.ChainRecord) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	// Blocks are append-only: write only heights beyond what is on disk.
	persisted, err := s.persistedBlockCount()
	if err != nil {
		return err
	}
	for h := persisted; h < uint64(len(rec.History)); h++ {
		data, err := json.Marshal(rec.History[h])
		if err != nil {
			return fmt.Errorf("encode block %d: %w", h, err)
		}
		if err := batch.Set(blockKey(h), data, nil); err != nil {
			return fmt.Errorf("batch block %d: %w", h, err)
		}
	}

	state := chainState{
		World:       rec.World,
		Queue:       rec.Queue,
		Config:      rec.Config,
		BlockCount:  uint64(len(rec.History)),
		Initialized: true,
	}
	data, err := json.Marshal(&state)
	if err != nil {
		return fmt.Errorf("encode chain state: %w", err)
	}
	if err := batch.Set(stateKey, data, nil); err != nil {
		return fmt.Errorf("batch chain state: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit chain batch: %w", err)
	}
	return nil
}

func (s *Store) persistedBlockCount() (uint64, error) {
	data, closer, err := s.db.Get(stateKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read chain state: %w", err)
	}
	defer closer.Close()
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, fmt.Errorf("decode chain state: %w", err)
	}
	return state.BlockCount, nil
}

func (s *Store) LoadChain() (*types.ChainRecord, bool, error) {
	data, closer, err := s.db.Get(stateKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read chain state: %w", err)
	}
	var state chainState
	err = json.Unmarshal(data, &state)
	closer.Close()
	if err != nil {
		return nil, false, fmt.Errorf("decode chain state: %w", err)
	}

	rec := &types.ChainRecord{
		World:   state.World,
		Queue:   state.Queue,
		Config:  state.Config,
		History: make([]*types.Block, 0, state.BlockCount),
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: blockKey(0),
		UpperBound: blockKey(state.BlockCount),
	})
	if err != nil {
		return nil, false, fmt.Errorf("iterate blocks: %w", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		var block types.Block
		if err := json.Unmarshal(iter.Value(), &block); err != nil {
			return nil, false, fmt.Errorf("decode block %x: %w", iter.Key(), err)
		}
		rec.History = append(rec.History, &block)
	}
	if err := iter.Error(); err != nil {
		return nil, false, fmt.Errorf("iterate blocks: %w", err)
	}
	if uint64(len(rec.History)) != state.BlockCount {
		return nil, false, fmt.Errorf("history has %d blocks, expected %d", len(rec.History), state.BlockCount)
	}
	return rec, true, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
