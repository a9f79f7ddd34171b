package oracle

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"dicegame/internal/storage"
)

// Signer holds the oracle private key used to attest bets
type Signer struct {
	key solana.PrivateKey
}

// NewSigner validates key and wraps it
func NewSigner(key solana.PrivateKey) (*Signer, error) {
	if len(key) != 64 {
		return nil, errors.New("oracle key must be 64 bytes")
	}
	return &Signer{key: key}, nil
}

// NewSignerFromBase58 parses a base58 encoded private key
func NewSignerFromBase58(encoded string) (*Signer, error) {
	key, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to parse oracle key: %w", err)
	}
	return NewSigner(key)
}

// PublicKey is the key settlements must be verified against
func (s *Signer) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

// Sign signs an arbitrary message
func (s *Signer) Sign(message []byte) (solana.Signature, error) {
	return s.key.Sign(message)
}

// SignBet signs the canonical message for a stored bet
func (s *Signer) SignBet(betAddress solana.PublicKey, bet *storage.Bet) (solana.Signature, error) {
	return s.Sign(BetMessage(betAddress, bet))
}
