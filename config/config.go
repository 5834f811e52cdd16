// Package config provides genesis configuration loading and the consensus
// parameter defaults.
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quorlabs/quor/types"
)

// Environment variable names for process key material.
const (
	EnvFaucetKey  = "FAUCET_KEY"
	EnvPrivateKey = "PRIVATE_KEY"
	EnvBackupKey  = "BACKUP_ENCRYPTION_KEY"
)

// PremineEntry credits an address at genesis.
type PremineEntry struct {
	Address     string `yaml:"address" json:"address"`
	Amount      string `yaml:"amount" json:"amount"` // decimal
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// ValidatorEntry describes one member of the fixed validator set.
type ValidatorEntry struct {
	ID            string `yaml:"id" json:"id"`
	PublicKey     string `yaml:"publicKey" json:"publicKey"` // 0x-hex ed25519
	Address       string `yaml:"address" json:"address"`
	Stake         string `yaml:"stake" json:"stake"` // decimal, informational
	CommissionPct int    `yaml:"commissionPct" json:"commissionPct"`
}

// TokenMeta is display metadata for the native token.
type TokenMeta struct {
	Name     string `yaml:"name" json:"name"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals int    `yaml:"decimals" json:"decimals"`
}

// GenesisConfig is everything needed to manufacture block 0.
type GenesisConfig struct {
	ChainID     string           `yaml:"chainId" json:"chainId"`
	NetworkID   uint64           `yaml:"networkId" json:"networkId"`
	GenesisTime uint64           `yaml:"genesisTime" json:"genesisTime"` // unix milliseconds
	Token       TokenMeta        `yaml:"token" json:"token"`
	Premine     []PremineEntry   `yaml:"premine" json:"premine"`
	Validators  []ValidatorEntry `yaml:"validators" json:"validators"`
	BlockTimeMs uint64           `yaml:"blockTimeMs" json:"blockTimeMs"` // informational only
	BlockReward string           `yaml:"blockReward" json:"blockReward"` // always "0"
}

// Load reads a GenesisConfig from a YAML file.
func Load(path string) (*GenesisConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis config: %w", err)
	}
	var cfg GenesisConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse genesis config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural invariants a genesis config must hold.
func (c *GenesisConfig) Validate() error {
	if c.ChainID == "" {
		return fmt.Errorf("genesis config: empty chainId")
	}
	if len(c.Validators) == 0 {
		return fmt.Errorf("genesis config: no validators")
	}
	for i, v := range c.Validators {
		pub, err := types.HexBytesFromHex(v.PublicKey)
		if err != nil {
			return fmt.Errorf("genesis config: validator %d public key: %w", i, err)
		}
		if len(pub) != ed25519.PublicKeySize {
			return fmt.Errorf("genesis config: validator %d public key is %d bytes", i, len(pub))
		}
	}
	for i, p := range c.Premine {
		if _, err := types.AddressFromHex(p.Address); err != nil {
			return fmt.Errorf("genesis config: premine %d address: %w", i, err)
		}
		if _, err := types.AmountFromString(p.Amount); err != nil {
			return fmt.Errorf("genesis config: premine %d amount: %w", i, err)
		}
	}
	return nil
}

// IsMainnet reports whether the chain id is tagged as a main network.
// Faucet drips are refused on mainnet-tagged chains.
func (c *GenesisConfig) IsMainnet() bool {
	return strings.Contains(strings.ToLower(c.ChainID), "main")
}

// ValidatorPubKeys extracts the validator public keys in config order.
func (c *GenesisConfig) ValidatorPubKeys() ([]types.HexBytes, error) {
	keys := make([]types.HexBytes, 0, len(c.Validators))
	for i, v := range c.Validators {
		pub, err := types.HexBytesFromHex(v.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("validator %d public key: %w", i, err)
		}
		keys = append(keys, pub)
	}
	return keys, nil
}

// ConsensusDefaults returns the round parameters used unless overridden.
func ConsensusDefaults() types.ConsensusConfig {
	return types.ConsensusConfig{
		BlockMaxTxs:      100,
		BlockMinTxs:      1,
		ConsensusTimeout: 30 * time.Second,
		WatchdogTimeout:  60 * time.Second,
		BackupInterval:   10 * time.Minute,
	}
}

// PrivateKeyFromEnv parses a hex-encoded ed25519 private key (seed or full
// 64-byte key) from the named environment variable.
func PrivateKeyFromEnv(name string) (ed25519.PrivateKey, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return nil, fmt.Errorf("%s not set", name)
	}
	return ParsePrivateKey(raw)
}

// ParsePrivateKey decodes a hex ed25519 private key. Both 32-byte seeds and
// 64-byte expanded keys are accepted.
func ParsePrivateKey(s string) (ed25519.PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	default:
		return nil, fmt.Errorf("private key: %d bytes, want %d or %d", len(b), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

// BackupKeyFromEnv parses the 32-byte hex AES key for snapshot encryption.
func BackupKeyFromEnv() ([]byte, error) {
	raw := os.Getenv(EnvBackupKey)
	if raw == "" {
		return nil, fmt.Errorf("%s not set", EnvBackupKey)
	}
	b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("backup key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("backup key: %d bytes, want 32", len(b))
	}
	return b, nil
}
