// Package oracle builds and checks the ed25519 attestation that settles a bet.
//
// The oracle signs a fixed-width message describing one specific bet record.
// The message is always recomputed from stored state by the verifier, so a
// signature produced for one bet can never settle another.
package oracle

import (
	"bytes"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"dicegame/internal/storage"
)

// MessageLength is the size of the canonical bet message
const MessageLength = 32 + 8 + 1 + 8 + 32

// Message returns the canonical bytes the oracle signs for a bet:
// player || seed (u64 LE) || roll || amount (u64 LE) || bet address
func Message(player solana.PublicKey, seed uint64, roll uint8, amount uint64, betAddress solana.PublicKey) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, MessageLength))
	enc := bin.NewBinEncoder(buf)

	// Writes into a bytes.Buffer cannot fail
	_ = enc.WriteBytes(player[:], false)
	_ = enc.WriteUint64(seed, binary.LittleEndian)
	_ = enc.WriteUint8(roll)
	_ = enc.WriteUint64(amount, binary.LittleEndian)
	_ = enc.WriteBytes(betAddress[:], false)
	return buf.Bytes()
}

// BetMessage is Message for a stored bet record
func BetMessage(betAddress solana.PublicKey, bet *storage.Bet) []byte {
	return Message(bet.Player, bet.Seed, bet.Roll, bet.Amount, betAddress)
}
