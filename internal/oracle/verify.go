package oracle

import (
	"github.com/gagliardetto/solana-go"
)

// Verify reports whether signature is a valid ed25519 signature by signer
// over message. Malformed input is simply invalid.
func Verify(signer solana.PublicKey, message, signature []byte) bool {
	if len(signature) != solana.SignatureLength {
		return false
	}
	if signer.IsZero() {
		return false
	}
	sig := solana.SignatureFromBytes(signature)
	return sig.Verify(signer, message)
}
