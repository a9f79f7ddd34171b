package service

import (
	"errors"
	"fmt"
)

// Engine errors. Handlers map these to HTTP statuses with errors.Is.
var (
	ErrNotInitialized     = errors.New("program not initialized")
	ErrAlreadyInitialized = errors.New("program already initialized")
	ErrInvalidConfig      = errors.New("invalid configuration")

	ErrInvalidRoll              = errors.New("roll must be between 1 and 99")
	ErrInvalidAmount            = errors.New("bet amount outside allowed range")
	ErrInsufficientVaultReserve = errors.New("vault cannot cover the worst-case payout")
	ErrDuplicateOpenBet         = errors.New("an open bet already exists for this seed")
	ErrSeedAlreadyUsed          = errors.New("seed was already settled, pick a new one")
	ErrInsufficientFunds        = errors.New("insufficient funds")

	ErrWalletNotFound = errors.New("wallet not found")
	ErrWalletExists   = errors.New("wallet already exists")

	ErrBetNotFound = errors.New("bet not found")
	// ErrAlreadyResolved is returned for a bet address that was settled before.
	// It wraps ErrBetNotFound since the record no longer exists.
	ErrAlreadyResolved = fmt.Errorf("%w: bet already settled", ErrBetNotFound)

	ErrInvalidSignature     = errors.New("invalid oracle signature")
	ErrArithmeticOverflow   = errors.New("arithmetic overflow")
	ErrVaultUnderfunded     = errors.New("vault balance too low to settle")
	ErrRefundNotYetEligible = errors.New("refund timeout has not elapsed")
	ErrUnauthorized         = errors.New("caller is not the bet owner")
)
