// Package storage defines persistence for the chain record.
package storage

import "github.com/quorlabs/quor/types"

// Store persists the full chain record. SaveChain must be atomic: a crash
// mid-save leaves either the old or the new record readable, never a mix.
// The coordinator calls SaveChain under its write lock, so implementations
// need not serialize concurrent saves.
type Store interface {
	SaveChain(rec *types.ChainRecord) (err error)
	LoadChain() (rec *types.ChainRecord, found bool, err error)
	Close() error
}
