package types

import (
	"fmt"
	"sort"

	"github.com/quorlabs/quor/canonical"
)

// BlockHeader summarizes a block. The block hash is SHA-256 over the
// canonical JSON of the header alone.
type BlockHeader struct {
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"` // unix milliseconds
	PrevHash  Hash   `json:"prevHash"`
	TxRoot    Hash   `json:"txRoot"`
	StateRoot Hash   `json:"stateRoot"`
	Proposer  string `json:"proposer"`
	TxCount   uint64 `json:"txCount"`
}

// Vote is one validator's signature over a candidate block hash.
type Vote struct {
	ValidatorID     string   `json:"validatorId"`
	ValidatorPubKey HexBytes `json:"validatorPubKey"`
	Signature       HexBytes `json:"signature"`
	Timestamp       uint64   `json:"timestamp"`
}

// Block is a finalized or candidate block. Votes are empty until the
// proposer's signature-collection round completes.
type Block struct {
	Header            BlockHeader   `json:"header"`
	Transactions      []Transaction `json:"transactions"`
	Hash              Hash          `json:"hash"`
	ProposerSignature HexBytes      `json:"proposerSignature,omitempty"`
	Votes             []Vote        `json:"votes,omitempty"`
}

func (h *BlockHeader) preimage() map[string]any {
	return map[string]any{
		"height":    h.Height,
		"timestamp": h.Timestamp,
		"prevHash":  h.PrevHash.Hex(),
		"txRoot":    h.TxRoot.Hex(),
		"stateRoot": h.StateRoot.Hex(),
		"proposer":  h.Proposer,
		"txCount":   h.TxCount,
	}
}

// ComputeHash returns the block hash from the header.
func (h *BlockHeader) ComputeHash() (Hash, error) {
	sum, err := canonical.Sum256(h.preimage())
	if err != nil {
		return Hash{}, fmt.Errorf("hash block header: %w", err)
	}
	return Hash(sum), nil
}

// BlockSignBytes is the preimage any proposer or validator signs for a
// block: the ASCII string "block:" followed by the hex block hash.
func BlockSignBytes(blockHash Hash) []byte {
	return []byte("block:" + blockHash.Hex())
}

// TxHashes collects the hashes of the block's transactions in order.
func (b *Block) TxHashes() []Hash {
	hashes := make([]Hash, len(b.Transactions))
	for i := range b.Transactions {
		hashes[i] = b.Transactions[i].Hash
	}
	return hashes
}

// StateRoot hashes a post-execution snapshot: balances as sorted
// [address, decimal] pairs and sequences as an object keyed by address.
func StateRoot(balances map[Address]Amount, sequences map[Address]uint64) (Hash, error) {
	addrs := make([]Address, 0, len(balances))
	for a := range balances {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Hex() < addrs[j].Hex() })

	pairs := make([][2]string, 0, len(addrs))
	for _, a := range addrs {
		pairs = append(pairs, [2]string{a.Hex(), balances[a].String()})
	}
	seqs := make(map[string]uint64, len(sequences))
	for a, n := range sequences {
		seqs[a.Hex()] = n
	}

	sum, err := canonical.Sum256(map[string]any{
		"balances":  pairs,
		"sequences": seqs,
	})
	if err != nil {
		return Hash{}, fmt.Errorf("hash state: %w", err)
	}
	return Hash(sum), nil
}
