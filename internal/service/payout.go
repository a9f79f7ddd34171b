package service

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
)

const (
	// MinRoll and MaxRoll bound the target a player may pick
	MinRoll = 1
	MaxRoll = 99

	// rollSides is the size of the outcome space: results are 0..99
	rollSides = 100

	bpsDenominator = 10000
)

// Roll derives the bet result from the oracle signature. The SHA-256 digest is
// read as two little-endian 128-bit halves whose wrapping sum is reduced
// modulo 100. A bet wins when the result is strictly below its roll.
func Roll(signature []byte) uint8 {
	h := sha256.Sum256(signature)

	aLo := binary.LittleEndian.Uint64(h[0:8])
	aHi := binary.LittleEndian.Uint64(h[8:16])
	bLo := binary.LittleEndian.Uint64(h[16:24])
	bHi := binary.LittleEndian.Uint64(h[24:32])

	lo, carry := bits.Add64(aLo, bLo, 0)
	hi, _ := bits.Add64(aHi, bHi, carry)

	return uint8(bits.Rem64(hi, lo, rollSides))
}

// Wins reports whether result beats roll
func Wins(result, roll uint8) bool {
	return result < roll
}

// Payout is the total returned to a winner, stake included:
// floor(amount * 100 * (10000 - edge) / (roll * 10000)).
// The intermediate product is computed in 128 bits.
func Payout(amount uint64, roll uint8, edgeBps uint16) (uint64, error) {
	if roll < MinRoll || roll > MaxRoll {
		return 0, ErrInvalidRoll
	}
	if edgeBps >= bpsDenominator {
		return 0, fmt.Errorf("%w: house edge %d bps", ErrInvalidConfig, edgeBps)
	}

	hi, lo := bits.Mul64(amount, rollSides*uint64(bpsDenominator-edgeBps))
	den := uint64(roll) * bpsDenominator
	if hi >= den {
		return 0, ErrArithmeticOverflow
	}

	quo, _ := bits.Div64(hi, lo, den)
	if quo > math.MaxInt64 {
		return 0, ErrArithmeticOverflow
	}
	return quo, nil
}

// Reserve is the vault liability held for an open bet: the larger of the win
// payout and the refundable stake.
func Reserve(amount uint64, roll uint8, edgeBps uint16) (uint64, error) {
	payout, err := Payout(amount, roll, edgeBps)
	if err != nil {
		return 0, err
	}
	if amount > payout {
		return amount, nil
	}
	return payout, nil
}
