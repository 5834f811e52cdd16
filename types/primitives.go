// Package types defines the core chain data model: transactions, blocks,
// votes, world state and the hashing/signing preimages shared by the
// coordinator, proposer and validators.
package types

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hash is a 32-byte digest, rendered as 0x-prefixed lower-case hex.
type Hash [32]byte

// Address is the first 20 bytes of an account public key, rendered as
// 0x-prefixed lower-case hex.
type Address [20]byte

// HexBytes is a variable-length byte string (public keys, signatures)
// rendered as 0x-prefixed lower-case hex.
type HexBytes []byte

// ZeroAddress is the premine source address used by genesis pseudo-transactions.
var ZeroAddress = Address{}

func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) String() string { return h.Hex() }

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	b, err := decodeHex(string(text), len(h))
	if err != nil {
		return fmt.Errorf("hash: %w", err)
	}
	copy(h[:], b)
	return nil
}

// HashFromHex parses a 0x-prefixed 64-char hex string.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	err := h.UnmarshalText([]byte(s))
	return h, err
}

func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string { return a.Hex() }

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	b, err := decodeHex(string(text), len(a))
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	copy(a[:], b)
	return nil
}

// AddressFromHex parses a 0x-prefixed 40-char hex string.
func AddressFromHex(s string) (Address, error) {
	var a Address
	err := a.UnmarshalText([]byte(s))
	return a, err
}

// AddressFromPublicKey derives an address as the first 20 bytes of the
// account public key.
func AddressFromPublicKey(pub ed25519.PublicKey) (Address, error) {
	var a Address
	if len(pub) != ed25519.PublicKeySize {
		return a, fmt.Errorf("address: public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	copy(a[:], pub[:20])
	return a, nil
}

func (b HexBytes) Hex() string {
	return "0x" + hex.EncodeToString(b)
}

func (b HexBytes) String() string { return b.Hex() }

func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(b.Hex()), nil
}

func (b *HexBytes) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(strings.ToLower(string(text)), "0x")
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("hex bytes: %w", err)
	}
	*b = decoded
	return nil
}

// HexBytesFromHex parses a 0x-prefixed hex string of any length.
func HexBytesFromHex(s string) (HexBytes, error) {
	var b HexBytes
	err := b.UnmarshalText([]byte(s))
	return b, err
}

func decodeHex(s string, wantLen int) ([]byte, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != wantLen {
		return nil, fmt.Errorf("got %d bytes, want %d", len(b), wantLen)
	}
	return b, nil
}
