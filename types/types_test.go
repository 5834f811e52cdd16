package types

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"math/rand"
	"testing"
)

// testKey derives a deterministic ed25519 key pair from a seed byte.
func testKey(t *testing.T, seed byte) (ed25519.PrivateKey, Address) {
	t.Helper()
	var s [ed25519.SeedSize]byte
	for i := range s {
		s[i] = seed
	}
	priv := ed25519.NewKeyFromSeed(s[:])
	addr, err := AddressFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatalf("AddressFromPublicKey: %v", err)
	}
	return priv, addr
}

// signedTransfer builds a signed transfer for tests.
func signedTransfer(t *testing.T, priv ed25519.PrivateKey, from, to Address, amount uint64, seq uint64) *Transaction {
	t.Helper()
	tx := NewTransfer(from, to, NewAmount(amount), seq, 1700000000000)
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return tx
}

func TestHash_HexRoundTrip(t *testing.T) {
	var h Hash
	for i := range h {
		h[i] = byte(i)
	}
	parsed, err := HashFromHex(h.Hex())
	if err != nil {
		t.Fatalf("HashFromHex: %v", err)
	}
	if parsed != h {
		t.Errorf("round trip mismatch: %s != %s", parsed, h)
	}
	if h.Hex()[:2] != "0x" || len(h.Hex()) != 66 {
		t.Errorf("unexpected rendering %q", h.Hex())
	}
}

func TestAddress_RejectsWrongLength(t *testing.T) {
	if _, err := AddressFromHex("0x1234"); err == nil {
		t.Error("expected error for short address")
	}
	if _, err := HashFromHex("0xzz"); err == nil {
		t.Error("expected error for bad hex")
	}
}

func TestAmount_DecimalBoundary(t *testing.T) {
	a, err := AmountFromString("340282366920938463463374607431768211456") // 2^128
	if err != nil {
		t.Fatalf("AmountFromString: %v", err)
	}
	if a.String() != "340282366920938463463374607431768211456" {
		t.Errorf("String = %s", a.String())
	}
	if _, err := AmountFromString("-1"); err == nil {
		t.Error("expected error for negative amount")
	}
	if _, err := AmountFromString("1.5"); err == nil {
		t.Error("expected error for non-integer amount")
	}

	sum := NewAmount(7).Add(NewAmount(5))
	if sum.String() != "12" {
		t.Errorf("Add = %s", sum.String())
	}
	diff := sum.Sub(NewAmount(2))
	if diff.String() != "10" {
		t.Errorf("Sub = %s", diff.String())
	}
	if NewAmount(3).Cmp(NewAmount(4)) >= 0 {
		t.Error("Cmp(3,4) should be negative")
	}
}

func TestAmount_JSONIsDecimalString(t *testing.T) {
	data, err := json.Marshal(NewAmount(1000))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `"1000"` {
		t.Errorf("Marshal = %s, want \"1000\"", data)
	}
	var back Amount
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Cmp(NewAmount(1000)) != 0 {
		t.Errorf("round trip = %s", back.String())
	}
}

func TestTransaction_SignVerifyRoundTrip(t *testing.T) {
	privA, addrA := testKey(t, 1)
	_, addrB := testKey(t, 2)

	tx := signedTransfer(t, privA, addrA, addrB, 100, 0)
	if err := tx.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// Any field mutation must break either the hash or the signature.
	tampered := *tx
	tampered.Amount = NewAmount(101)
	if err := tampered.Verify(); err == nil {
		t.Error("expected verify failure after amount tamper")
	}

	tampered = *tx
	tampered.To = addrA
	if err := tampered.Verify(); err == nil {
		t.Error("expected verify failure after recipient tamper")
	}

	// Wrong signer: from address does not match the signing key.
	privC, _ := testKey(t, 3)
	bad := NewTransfer(addrA, addrB, NewAmount(1), 0, 1)
	if err := bad.Sign(privC); err == nil {
		t.Error("expected sign failure for mismatched from address")
	}
}

func TestTransaction_SerializeRoundTrip(t *testing.T) {
	privA, addrA := testKey(t, 1)
	_, addrB := testKey(t, 2)
	tx := signedTransfer(t, privA, addrA, addrB, 42, 3)

	data, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back Transaction
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Hash != tx.Hash || back.From != tx.From || back.Sequence != tx.Sequence {
		t.Error("round trip lost fields")
	}
	if back.Amount.Cmp(tx.Amount) != 0 {
		t.Errorf("amount round trip = %s", back.Amount.String())
	}
	if err := back.Verify(); err != nil {
		t.Fatalf("Verify after round trip: %v", err)
	}
}

func TestMerkleRoot(t *testing.T) {
	h := func(b byte) Hash {
		var x Hash
		x[0] = b
		return x
	}
	pair := func(l, r Hash) Hash {
		var buf [64]byte
		copy(buf[:32], l[:])
		copy(buf[32:], r[:])
		return Hash(sha256.Sum256(buf[:]))
	}

	t.Run("empty list hashes empty string", func(t *testing.T) {
		want := Hash(sha256.Sum256(nil))
		if got := MerkleRoot(nil); got != want {
			t.Errorf("MerkleRoot(nil) = %s, want %s", got, want)
		}
	})

	t.Run("single element is its own root", func(t *testing.T) {
		if got := MerkleRoot([]Hash{h(1)}); got != h(1) {
			t.Errorf("MerkleRoot = %s, want leaf", got)
		}
	})

	t.Run("two elements", func(t *testing.T) {
		want := pair(h(1), h(2))
		if got := MerkleRoot([]Hash{h(1), h(2)}); got != want {
			t.Errorf("MerkleRoot = %s, want %s", got, want)
		}
	})

	t.Run("odd leaf carried up unchanged", func(t *testing.T) {
		// Level 0: [1 2 3] -> [p(1,2) 3] -> p(p(1,2), 3)
		want := pair(pair(h(1), h(2)), h(3))
		if got := MerkleRoot([]Hash{h(1), h(2), h(3)}); got != want {
			t.Errorf("MerkleRoot = %s, want %s", got, want)
		}
	})

	t.Run("five elements", func(t *testing.T) {
		// [1 2 3 4 5] -> [p12 p34 5] -> [p(p12,p34) 5] -> p(p(p12,p34), 5)
		want := pair(pair(pair(h(1), h(2)), pair(h(3), h(4))), h(5))
		if got := MerkleRoot([]Hash{h(1), h(2), h(3), h(4), h(5)}); got != want {
			t.Errorf("MerkleRoot = %s, want %s", got, want)
		}
	})

	t.Run("input slice not mutated", func(t *testing.T) {
		in := []Hash{h(1), h(2), h(3)}
		MerkleRoot(in)
		if in[0] != h(1) || in[1] != h(2) || in[2] != h(3) {
			t.Error("input mutated")
		}
	})
}

func TestBlockHeader_HashDeterminism(t *testing.T) {
	header := BlockHeader{
		Height:    1,
		Timestamp: 1700000000000,
		PrevHash:  Hash{1},
		TxRoot:    Hash{2},
		StateRoot: Hash{3},
		Proposer:  "proposer-1",
		TxCount:   2,
	}
	first, err := header.ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	for i := 0; i < 16; i++ {
		again, err := header.ComputeHash()
		if err != nil {
			t.Fatalf("ComputeHash: %v", err)
		}
		if again != first {
			t.Fatal("non-deterministic header hash")
		}
	}

	other := header
	other.TxCount = 3
	otherHash, err := other.ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if otherHash == first {
		t.Error("different headers must hash differently")
	}
}

func TestBlockSignBytes(t *testing.T) {
	var h Hash
	h[31] = 0xff
	got := string(BlockSignBytes(h))
	want := "block:" + h.Hex()
	if got != want {
		t.Errorf("BlockSignBytes = %q, want %q", got, want)
	}
}

func TestStateRoot_IndependentOfMapOrder(t *testing.T) {
	_, addrA := testKey(t, 1)
	_, addrB := testKey(t, 2)
	_, addrC := testKey(t, 3)

	balances := map[Address]Amount{addrA: NewAmount(10), addrB: NewAmount(20), addrC: NewAmount(0)}
	sequences := map[Address]uint64{addrA: 1, addrB: 0}

	first, err := StateRoot(balances, sequences)
	if err != nil {
		t.Fatalf("StateRoot: %v", err)
	}

	// Rebuild the maps in a different insertion order.
	balances2 := map[Address]Amount{addrC: NewAmount(0), addrA: NewAmount(10), addrB: NewAmount(20)}
	sequences2 := map[Address]uint64{addrB: 0, addrA: 1}
	second, err := StateRoot(balances2, sequences2)
	if err != nil {
		t.Fatalf("StateRoot: %v", err)
	}
	if first != second {
		t.Error("state root depends on map iteration order")
	}

	balances2[addrA] = NewAmount(11)
	third, err := StateRoot(balances2, sequences2)
	if err != nil {
		t.Fatalf("StateRoot: %v", err)
	}
	if third == first {
		t.Error("state root ignores balance change")
	}
}

func TestApplyTransactions(t *testing.T) {
	privA, addrA := testKey(t, 1)
	_, addrB := testKey(t, 2)

	balances := map[Address]Amount{addrA: NewAmount(1000)}
	sequences := map[Address]uint64{}

	txs := []Transaction{
		*signedTransfer(t, privA, addrA, addrB, 100, 0),
		*signedTransfer(t, privA, addrA, addrB, 50, 1),
		*signedTransfer(t, privA, addrA, addrB, 10, 5),   // wrong sequence, skipped
		*signedTransfer(t, privA, addrA, addrB, 5000, 2), // overspend, skipped
		*signedTransfer(t, privA, addrA, addrB, 25, 2),
	}

	res := ApplyTransactions(balances, sequences, txs)

	if len(res.Executed) != 3 {
		t.Fatalf("executed %d txs, want 3", len(res.Executed))
	}
	if got := res.Balances[addrA].String(); got != "825" {
		t.Errorf("sender balance = %s, want 825", got)
	}
	if got := res.Balances[addrB].String(); got != "175" {
		t.Errorf("recipient balance = %s, want 175", got)
	}
	if res.Sequences[addrA] != 3 {
		t.Errorf("sender sequence = %d, want 3", res.Sequences[addrA])
	}

	// Snapshot semantics: inputs untouched.
	if balances[addrA].String() != "1000" {
		t.Error("input balances mutated")
	}
	if len(sequences) != 0 {
		t.Error("input sequences mutated")
	}
}

func TestExecutionRoots_DeterministicAcrossRecomputation(t *testing.T) {
	// Pack-time simulation and commit-time re-execution must agree
	// byte-for-byte on the resulting roots for arbitrary transaction sets.
	rng := rand.New(rand.NewSource(1))

	for round := 0; round < 20; round++ {
		senders := make([]ed25519.PrivateKey, 4)
		addrs := make([]Address, 4)
		balances := make(map[Address]Amount)
		sequences := make(map[Address]uint64)
		for i := range senders {
			senders[i], addrs[i] = testKey(t, byte(round*4+i+1))
			balances[addrs[i]] = NewAmount(uint64(rng.Intn(500)))
		}

		var txs []Transaction
		for i := 0; i < 12; i++ {
			s := rng.Intn(len(senders))
			tx := NewTransfer(
				addrs[s], addrs[rng.Intn(len(addrs))],
				NewAmount(uint64(rng.Intn(200))),
				uint64(rng.Intn(3)), // some sequences will be invalid
				uint64(1700000000000+i),
			)
			if err := tx.Sign(senders[s]); err != nil {
				t.Fatalf("Sign: %v", err)
			}
			txs = append(txs, *tx)
		}

		first := ApplyTransactions(balances, sequences, txs)
		second := ApplyTransactions(balances, sequences, txs)

		rootA, err := StateRoot(first.Balances, first.Sequences)
		if err != nil {
			t.Fatalf("StateRoot: %v", err)
		}
		rootB, err := StateRoot(second.Balances, second.Sequences)
		if err != nil {
			t.Fatalf("StateRoot: %v", err)
		}
		if rootA != rootB {
			t.Fatalf("round %d: state roots diverged", round)
		}
		if len(first.Executed) != len(second.Executed) {
			t.Fatalf("round %d: executed sets diverged", round)
		}

		hashes := make([]Hash, len(txs))
		for i := range txs {
			hashes[i] = txs[i].Hash
		}
		if MerkleRoot(hashes) != MerkleRoot(hashes) {
			t.Fatalf("round %d: tx roots diverged", round)
		}
	}
}

func TestQuorumSize(t *testing.T) {
	tests := []struct {
		n, want int
	}{
		{1, 1}, {2, 2}, {3, 2}, {4, 3}, {5, 4}, {6, 4}, {7, 5}, {9, 6}, {10, 7},
	}
	for _, tt := range tests {
		if got := QuorumSize(tt.n); got != tt.want {
			t.Errorf("QuorumSize(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}
