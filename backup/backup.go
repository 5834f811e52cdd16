// Package backup snapshots the chain record into an external
// content-addressed store. Snapshots are snappy-compressed, then encrypted
// with AES-256-GCM; the ciphertext layout is IV (12 bytes) followed by the
// sealed payload with its 16-byte tag. An index of {cid, height,
// timestamp} entries lives in an external key-value store and is pruned to
// a fixed depth, unpinning the oldest snapshots in the background.
package backup

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/snappy"

	"github.com/quorlabs/quor/types"
)

// TTL is how many snapshots the index retains before unpinning.
const TTL = 10

const ivSize = 12

var (
	ErrCidMismatch = errors.New("cid does not match the latest backup")
	ErrNoBackups   = errors.New("no backups in index")
)

// ContentStore is the external content-addressed blob store.
type ContentStore interface {
	Put(ctx context.Context, data []byte) (cid string, err error)
	Get(ctx context.Context, cid string) ([]byte, error)
	Unpin(ctx context.Context, cid string) error
}

// IndexEntry records one uploaded snapshot.
type IndexEntry struct {
	CID       string `json:"cid"`
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"` // unix milliseconds
}

// IndexStore is the external key-value store holding the snapshot index,
// newest entry last.
type IndexStore interface {
	List(ctx context.Context) ([]IndexEntry, error)
	Replace(ctx context.Context, entries []IndexEntry) error
}

// Options configures a Snapshotter.
type Options struct {
	Key      []byte // 32-byte AES key
	Content  ContentStore
	Index    IndexStore
	Logger   *slog.Logger
	TimeFunc func() time.Time
}

// Snapshotter uploads and restores encrypted chain snapshots.
type Snapshotter struct {
	key      []byte
	content  ContentStore
	index    IndexStore
	logger   *slog.Logger
	timeFunc func() time.Time
}

// New creates a Snapshotter.
func New(opts Options) (*Snapshotter, error) {
	if len(opts.Key) != 32 {
		return nil, fmt.Errorf("backup key is %d bytes, want 32", len(opts.Key))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeFunc := opts.TimeFunc
	if timeFunc == nil {
		timeFunc = time.Now
	}
	return &Snapshotter{
		key:      opts.Key,
		content:  opts.Content,
		index:    opts.Index,
		logger:   logger,
		timeFunc: timeFunc,
	}, nil
}

// Seal compresses and encrypts a chain record.
func (s *Snapshotter) Seal(rec *types.ChainRecord) ([]byte, error) {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	compressed := snappy.Encode(nil, plaintext)

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	return gcm.Seal(iv, iv, compressed, nil), nil
}

// Open decrypts and decompresses a sealed snapshot.
func (s *Snapshotter) Open(sealed []byte) (*types.ChainRecord, error) {
	if len(sealed) < ivSize {
		return nil, fmt.Errorf("snapshot too short")
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	compressed, err := gcm.Open(nil, sealed[:ivSize], sealed[ivSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt snapshot: %w", err)
	}
	plaintext, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	var rec types.ChainRecord
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &rec, nil
}

// Backup seals the record, uploads it with retries, appends an index entry
// and prunes the index, unpinning evicted snapshots in the background.
func (s *Snapshotter) Backup(ctx context.Context, rec *types.ChainRecord) (string, error) {
	sealed, err := s.Seal(rec)
	if err != nil {
		return "", err
	}

	var cid string
	upload := func() error {
		var err error
		cid, err = s.content.Put(ctx, sealed)
		return err
	}
	if err := backoff.Retry(upload, backoff.WithContext(uploadBackoff(), ctx)); err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	entries, err := s.index.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list backup index: %w", err)
	}
	entries = append(entries, IndexEntry{
		CID:       cid,
		Height:    rec.World.LatestHeight,
		Timestamp: uint64(s.timeFunc().UnixMilli()),
	})

	var evicted []IndexEntry
	if len(entries) > TTL {
		evicted = append(evicted, entries[:len(entries)-TTL]...)
		entries = entries[len(entries)-TTL:]
	}
	if err := s.index.Replace(ctx, entries); err != nil {
		return "", fmt.Errorf("update backup index: %w", err)
	}

	if len(evicted) > 0 {
		go s.unpin(evicted)
	}

	s.logger.Info("uploaded chain snapshot",
		"cid", cid, "height", rec.World.LatestHeight, "bytes", len(sealed))
	return cid, nil
}

// unpin drops evicted snapshots from the content store, retrying each a
// few times. Failures are logged and abandoned; a dangling pin costs
// storage, not correctness.
func (s *Snapshotter) unpin(evicted []IndexEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, entry := range evicted {
		op := func() error { return s.content.Unpin(ctx, entry.CID) }
		if err := backoff.Retry(op, backoff.WithContext(uploadBackoff(), ctx)); err != nil {
			s.logger.Warn("unpin failed", "cid", entry.CID, "error", err)
		}
	}
}

// Latest returns the newest index entry.
func (s *Snapshotter) Latest(ctx context.Context) (*IndexEntry, error) {
	entries, err := s.index.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list backup index: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNoBackups
	}
	return &entries[len(entries)-1], nil
}

// VerifyLatest enforces anti-rollback: only the most recent snapshot may
// be restored.
func (s *Snapshotter) VerifyLatest(ctx context.Context, cid string) error {
	latest, err := s.Latest(ctx)
	if err != nil {
		return err
	}
	if latest.CID != cid {
		return fmt.Errorf("%w: latest is %s", ErrCidMismatch, latest.CID)
	}
	return nil
}

// Fetch downloads and opens the snapshot with the given cid.
func (s *Snapshotter) Fetch(ctx context.Context, cid string) (*types.ChainRecord, error) {
	sealed, err := s.content.Get(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: %w", cid, err)
	}
	return s.Open(sealed)
}

func uploadBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 15 * time.Second
	return b
}
