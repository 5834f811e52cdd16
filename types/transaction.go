package types

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"

	"github.com/quorlabs/quor/canonical"
)

// Fees are zero on this chain; gas fields exist for wire compatibility only.
const (
	DefaultGasLimit uint64 = 21000
)

var (
	ErrBadTxHash        = errors.New("transaction hash mismatch")
	ErrAddressMismatch  = errors.New("from address does not match public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Transaction is a signed transfer. Hash is SHA-256 over the canonical JSON
// of every other field; Signature covers the canonical JSON of
// {from, to, amount, sequence, timestamp} under the sender's key.
type Transaction struct {
	Hash      Hash     `json:"hash"`
	From      Address  `json:"from"`
	To        Address  `json:"to"`
	Amount    Amount   `json:"amount"`
	Sequence  uint64   `json:"sequence"`
	Timestamp uint64   `json:"timestamp"` // unix milliseconds
	PublicKey HexBytes `json:"publicKey"`
	Signature HexBytes `json:"signature"`
	GasPrice  Amount   `json:"gasPrice"`
	GasLimit  uint64   `json:"gasLimit"`
}

// hashPreimage covers every field except the hash itself. Monetary and gas
// fields are decimal strings, addresses lower-cased hex.
func (tx *Transaction) hashPreimage() map[string]any {
	return map[string]any{
		"from":      tx.From.Hex(),
		"to":        tx.To.Hex(),
		"amount":    tx.Amount.String(),
		"sequence":  tx.Sequence,
		"timestamp": tx.Timestamp,
		"publicKey": tx.PublicKey.Hex(),
		"signature": tx.Signature.Hex(),
		"gasPrice":  tx.GasPrice.String(),
		"gasLimit":  strconv.FormatUint(tx.GasLimit, 10),
	}
}

// ComputeHash returns the transaction hash from its current fields.
func (tx *Transaction) ComputeHash() (Hash, error) {
	sum, err := canonical.Sum256(tx.hashPreimage())
	if err != nil {
		return Hash{}, fmt.Errorf("hash transaction: %w", err)
	}
	return Hash(sum), nil
}

// SigningBytes returns the canonical preimage covered by the sender's
// signature: a strict subset of the hashed fields.
func (tx *Transaction) SigningBytes() ([]byte, error) {
	data, err := canonical.Marshal(map[string]any{
		"from":      tx.From.Hex(),
		"to":        tx.To.Hex(),
		"amount":    tx.Amount.String(),
		"sequence":  tx.Sequence,
		"timestamp": tx.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("transaction signing bytes: %w", err)
	}
	return data, nil
}

// Verify checks hash integrity, the publicKey→from derivation and the
// sender signature.
func (tx *Transaction) Verify() error {
	want, err := tx.ComputeHash()
	if err != nil {
		return err
	}
	if want != tx.Hash {
		return ErrBadTxHash
	}
	if len(tx.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key is %d bytes", ErrInvalidSignature, len(tx.PublicKey))
	}
	addr, err := AddressFromPublicKey(ed25519.PublicKey(tx.PublicKey))
	if err != nil {
		return err
	}
	if addr != tx.From {
		return ErrAddressMismatch
	}
	msg, err := tx.SigningBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(tx.PublicKey), msg, tx.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign fills PublicKey, Signature and Hash from the given private key. The
// From field must already match the key's derived address.
func (tx *Transaction) Sign(priv ed25519.PrivateKey) error {
	pub := priv.Public().(ed25519.PublicKey)
	addr, err := AddressFromPublicKey(pub)
	if err != nil {
		return err
	}
	if tx.From != addr {
		return ErrAddressMismatch
	}
	tx.PublicKey = HexBytes(pub)
	msg, err := tx.SigningBytes()
	if err != nil {
		return err
	}
	tx.Signature = ed25519.Sign(priv, msg)
	tx.Hash, err = tx.ComputeHash()
	return err
}

// NewTransfer builds an unsigned transfer with the default gas envelope.
func NewTransfer(from, to Address, amount Amount, sequence, timestamp uint64) *Transaction {
	return &Transaction{
		From:      from,
		To:        to,
		Amount:    amount,
		Sequence:  sequence,
		Timestamp: timestamp,
		GasPrice:  NewAmount(0),
		GasLimit:  DefaultGasLimit,
	}
}
