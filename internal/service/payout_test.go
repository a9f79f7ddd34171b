package service

import (
	"errors"
	"math"
	"testing"
)

func TestRoll(t *testing.T) {
	sequential := make([]byte, 64)
	for i := range sequential {
		sequential[i] = byte(i)
	}
	ones := make([]byte, 64)
	for i := range ones {
		ones[i] = 0xff
	}

	tests := []struct {
		name      string
		signature []byte
		expected  uint8
	}{
		{name: "zero signature", signature: make([]byte, 64), expected: 72},
		{name: "sequential bytes", signature: sequential, expected: 9},
		{name: "all ones", signature: ones, expected: 73},
		{name: "empty input", signature: nil, expected: 54},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Roll(tt.signature)
			if result != tt.expected {
				t.Errorf("Roll() = %d, want %d", result, tt.expected)
			}
			if again := Roll(tt.signature); again != result {
				t.Errorf("Roll() is not deterministic: %d then %d", result, again)
			}
		})
	}
}

func TestRollRange(t *testing.T) {
	sig := make([]byte, 64)
	for i := 0; i < 1000; i++ {
		sig[0], sig[1] = byte(i), byte(i>>8)
		if r := Roll(sig); r >= 100 {
			t.Fatalf("Roll() = %d, out of range", r)
		}
	}
}

func TestWins(t *testing.T) {
	if !Wins(49, 50) {
		t.Error("49 should win against roll 50")
	}
	if Wins(50, 50) {
		t.Error("50 should lose against roll 50")
	}
	if Wins(0, 0) {
		t.Error("nothing wins against roll 0")
	}
}

func TestPayout(t *testing.T) {
	tests := []struct {
		name     string
		amount   uint64
		roll     uint8
		edgeBps  uint16
		expected uint64
	}{
		{name: "even odds no edge", amount: 1000, roll: 50, edgeBps: 0, expected: 2000},
		{name: "even odds with edge", amount: 1000, roll: 50, edgeBps: 150, expected: 1970},
		{name: "longest odds", amount: 1000, roll: 1, edgeBps: 0, expected: 100000},
		{name: "shortest odds", amount: 1000, roll: 99, edgeBps: 0, expected: 1010},
		{name: "rounds down", amount: 1, roll: 99, edgeBps: 0, expected: 1},
		{name: "rounds down to zero", amount: 1, roll: 99, edgeBps: 150, expected: 0},
		{name: "full edge minus one", amount: 10000, roll: 50, edgeBps: 9999, expected: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Payout(tt.amount, tt.roll, tt.edgeBps)
			if err != nil {
				t.Fatalf("Payout() error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("Payout(%d, %d, %d) = %d, want %d", tt.amount, tt.roll, tt.edgeBps, result, tt.expected)
			}
		})
	}
}

func TestPayoutErrors(t *testing.T) {
	tests := []struct {
		name    string
		amount  uint64
		roll    uint8
		edgeBps uint16
		wantErr error
	}{
		{name: "roll zero", amount: 1000, roll: 0, wantErr: ErrInvalidRoll},
		{name: "roll 100", amount: 1000, roll: 100, wantErr: ErrInvalidRoll},
		{name: "edge at 100%", amount: 1000, roll: 50, edgeBps: 10000, wantErr: ErrInvalidConfig},
		{name: "product overflows 64 bits", amount: math.MaxUint64, roll: 1, wantErr: ErrArithmeticOverflow},
		{name: "result above int64", amount: math.MaxInt64, roll: 99, wantErr: ErrArithmeticOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Payout(tt.amount, tt.roll, tt.edgeBps)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Payout() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReserve(t *testing.T) {
	// Winning pays more than the stake
	r, err := Reserve(1000, 50, 150)
	if err != nil {
		t.Fatalf("Reserve() error: %v", err)
	}
	if r != 1970 {
		t.Errorf("Reserve() = %d, want 1970", r)
	}

	// A refund can exceed the payout at high rolls
	r, err = Reserve(1000, 99, 150)
	if err != nil {
		t.Fatalf("Reserve() error: %v", err)
	}
	if r != 1000 {
		t.Errorf("Reserve() = %d, want 1000", r)
	}
}
