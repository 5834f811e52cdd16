package config

import (
	"crypto/ed25519"
	"fmt"

	"github.com/quorlabs/quor/types"
)

// Devnet key seeds. Fixed so a devnet is reproducible across machines.
// Testing and local development only; real networks supply keys via the
// environment.
var devnetSeeds = [][]byte{
	repeatByte(0x11), repeatByte(0x22), repeatByte(0x33),
}

var devnetFaucetSeed = repeatByte(0xfa)

func repeatByte(b byte) []byte {
	s := make([]byte, ed25519.SeedSize)
	for i := range s {
		s[i] = b
	}
	return s
}

// DevnetValidatorKey returns the i-th devnet validator private key.
func DevnetValidatorKey(i int) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(devnetSeeds[i%len(devnetSeeds)])
}

// DevnetFaucetKey returns the devnet faucet private key.
func DevnetFaucetKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(devnetFaucetSeed)
}

// Default returns a three-validator devnet genesis: the faucet account is
// premined with the full initial supply.
func Default() *GenesisConfig {
	faucet := DevnetFaucetKey()
	faucetAddr := mustAddr(faucet.Public().(ed25519.PublicKey))

	cfg := &GenesisConfig{
		ChainID:     "quor-devnet-1",
		NetworkID:   1337,
		GenesisTime: 1700000000000,
		Token: TokenMeta{
			Name:     "Quor",
			Symbol:   "QUOR",
			Decimals: 9,
		},
		Premine: []PremineEntry{
			{
				Address:     faucetAddr.Hex(),
				Amount:      "1000000000000000000",
				Description: "devnet faucet",
			},
		},
		BlockTimeMs: 5000,
		BlockReward: "0",
	}

	for i := range devnetSeeds {
		key := DevnetValidatorKey(i)
		pub := key.Public().(ed25519.PublicKey)
		cfg.Validators = append(cfg.Validators, ValidatorEntry{
			ID:            fmt.Sprintf("validator-%d", i),
			PublicKey:     types.HexBytes(pub).Hex(),
			Address:       mustAddr(pub).Hex(),
			Stake:         "1000000",
			CommissionPct: 0,
		})
	}
	return cfg
}

func mustAddr(pub ed25519.PublicKey) types.Address {
	addr, err := types.AddressFromPublicKey(pub)
	if err != nil {
		panic(err)
	}
	return addr
}
