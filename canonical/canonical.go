// Package canonical implements the canonical JSON encoding used for every
// consensus-critical preimage: transaction hashes, block hashes, state roots
// and signature payloads.
//
// Canonical JSON here means: object keys sorted ascending, no insignificant
// whitespace, strings UTF-8 without HTML escaping, big integers rendered as
// decimal strings, addresses lower-cased, hashes 0x-prefixed. Proposer,
// validators and the coordinator must all hash through this package; any
// divergence halts consensus.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
)

// Marshal encodes v as canonical JSON. Callers build preimages as
// map[string]any with leaves that are strings, unsigned integers or nested
// maps/slices; encoding/json emits map keys in sorted order, which is the
// property canonical form relies on.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder appends a newline; canonical form has none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sum256 returns the SHA-256 digest of the canonical encoding of v.
func Sum256(v any) ([32]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}
