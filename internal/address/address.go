// Package address derives the deterministic account addresses used by the
// settlement engine. All addresses are program-derived: they are off the
// ed25519 curve, so no private key can sign for them.
package address

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// ProgramID is the owner domain every derived address is scoped to.
var ProgramID = solana.MustPublicKeyFromBase58("5JcjxWGKaqmgdeNW1Fit9pmjr3ycqipW3g2myLvEanjD")

var (
	configSeed = []byte("config")
	vaultSeed  = []byte("vault")
	betSeed    = []byte("bet")
)

// Config returns the address and bump of the configuration record.
func Config() (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{configSeed}, ProgramID)
}

// Vault returns the address and bump of the vault owned by config.
func Vault(config solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{vaultSeed, config.Bytes()}, ProgramID)
}

// Bet returns the address and bump of player's bet record for seed.
// The same (config, player, seed) always maps to the same address.
func Bet(config, player solana.PublicKey, seed uint64) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{betSeed, config.Bytes(), player.Bytes(), SeedBytes(seed)}, ProgramID)
}

// SeedBytes is the little-endian encoding of a bet seed.
func SeedBytes(seed uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, seed)
	return b
}
