package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"dicegame/internal/logger"
	"dicegame/internal/oracle"
)

// ContextKey is the key type for context values
type ContextKey string

const (
	// SignerKey is the context key for the authenticated wallet
	SignerKey ContextKey = "signer"

	HeaderSigner    = "X-Signer"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"

	// MaxRequestAge bounds the clock skew between client and server
	MaxRequestAge = 5 * time.Minute

	maxBodyBytes = 1 << 20
)

var (
	ErrMissingHeaders   = errors.New("missing signature headers")
	ErrExpiredTimestamp = errors.New("request timestamp outside allowed window")
	ErrBadSignature     = errors.New("invalid request signature")
	ErrBodyTooLarge     = errors.New("request body too large")
	ErrReplayedRequest  = errors.New("request signature already used")
)

// SigningMessage is what a client signs for a request:
// METHOD \n PATH \n TIMESTAMP \n BODY
func SigningMessage(method, path string, timestamp int64, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(method)
	buf.WriteByte('\n')
	buf.WriteString(path)
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatInt(timestamp, 10))
	buf.WriteByte('\n')
	buf.Write(body)
	return buf.Bytes()
}

// ValidateRequest checks the ed25519 signature headers of r and returns the
// signing wallet. The body is read and put back so handlers can decode it.
func ValidateRequest(r *http.Request, now time.Time) (solana.PublicKey, error) {
	signerStr := r.Header.Get(HeaderSigner)
	tsStr := r.Header.Get(HeaderTimestamp)
	sigStr := r.Header.Get(HeaderSignature)
	if signerStr == "" || tsStr == "" || sigStr == "" {
		return solana.PublicKey{}, ErrMissingHeaders
	}

	signer, err := solana.PublicKeyFromBase58(signerStr)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", HeaderSigner, err)
	}
	sig, err := solana.SignatureFromBase58(sigStr)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", HeaderSignature, err)
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s format", HeaderTimestamp)
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > MaxRequestAge || age < -MaxRequestAge {
		return solana.PublicKey{}, ErrExpiredTimestamp
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("failed to read body: %w", err)
		}
		if len(body) > maxBodyBytes {
			return solana.PublicKey{}, ErrBodyTooLarge
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	if !oracle.Verify(signer, SigningMessage(r.Method, r.URL.Path, ts, body), sig[:]) {
		return solana.PublicKey{}, ErrBadSignature
	}
	return signer, nil
}

// ReplayCache remembers accepted request signatures until their timestamp
// leaves the allowed window
type ReplayCache struct {
	mu   sync.Mutex
	seen map[solana.Signature]time.Time
}

// NewReplayCache creates an empty cache
func NewReplayCache() *ReplayCache {
	return &ReplayCache{seen: make(map[solana.Signature]time.Time)}
}

// Accept records sig and reports whether it was new. Expired entries are
// dropped on the way.
func (c *ReplayCache) Accept(sig solana.Signature, timestamp int64, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for s, expires := range c.seen {
		if !now.Before(expires) {
			delete(c.seen, s)
		}
	}
	if _, ok := c.seen[sig]; ok {
		return false
	}
	c.seen[sig] = time.Unix(timestamp, 0).Add(MaxRequestAge + time.Second)
	return true
}

var defaultReplays = NewReplayCache()

// Middleware requires a signed request that has not been seen before
func Middleware(next http.Handler) http.Handler {
	return NewMiddleware(defaultReplays)(next)
}

// NewMiddleware returns a signed-request middleware backed by replays
func NewMiddleware(replays *ReplayCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			signer, err := ValidateRequest(r, now)
			if err == nil {
				err = checkReplay(replays, r, now)
			}
			if err != nil {
				logger.Debug(r.Header.Get(HeaderSigner), "auth_failed", err.Error())
				if errors.Is(err, ErrBodyTooLarge) {
					http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
				return
			}

			ctx := contextWithSigner(r.Context(), signer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// checkReplay runs after ValidateRequest, so both headers parse
func checkReplay(replays *ReplayCache, r *http.Request, now time.Time) error {
	sig, err := solana.SignatureFromBase58(r.Header.Get(HeaderSignature))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", HeaderSignature, err)
	}
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s format", HeaderTimestamp)
	}
	if !replays.Accept(sig, ts, now) {
		return ErrReplayedRequest
	}
	return nil
}

// contextWithSigner adds the signer to the context
func contextWithSigner(ctx context.Context, signer solana.PublicKey) context.Context {
	return context.WithValue(ctx, SignerKey, signer)
}

// GetSignerFromContext retrieves the signer from the context
func GetSignerFromContext(ctx context.Context) (solana.PublicKey, bool) {
	signer, ok := ctx.Value(SignerKey).(solana.PublicKey)
	return signer, ok
}
