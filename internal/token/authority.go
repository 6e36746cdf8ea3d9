package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/org/gatekeeper/pkg/models"
	"golang.org/x/crypto/hkdf"
)

// Token rejections, mapped verbatim to client-visible reason codes.
var (
	ErrBadSignature     = errors.New("BAD_SIGNATURE")
	ErrExpired          = errors.New("EXPIRED")
	ErrIdentityMismatch = errors.New("IDENTITY_MISMATCH")
)

// Authority signs and verifies short-lived access tokens under a versioned
// rotating secret. Exactly one secret is active at a time; rotation discards
// the previous one, so stale-version tokens fail verification as if forged.
type Authority struct {
	mu      sync.RWMutex
	macKey  []byte
	version int
	ttl     time.Duration
}

// NewAuthority creates an Authority at secret version 1. A nil seed generates
// a random secret; a non-nil seed makes signing reproducible across restarts.
func NewAuthority(seed []byte, ttl time.Duration) (*Authority, error) {
	a := &Authority{ttl: ttl}
	if seed == nil {
		var err error
		seed, err = randomSecret()
		if err != nil {
			return nil, err
		}
	}
	key, err := deriveMACKey(seed, 1)
	if err != nil {
		return nil, err
	}
	a.macKey = key
	a.version = 1
	return a, nil
}

func randomSecret() ([]byte, error) {
	s := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, s); err != nil {
		return nil, fmt.Errorf("generating signing secret: %w", err)
	}
	return s, nil
}

// deriveMACKey stretches the raw secret into the HMAC key with HKDF-SHA256,
// binding the derivation to the secret version.
func deriveMACKey(secret []byte, version int) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(fmt.Sprintf("gatekeeper-token-sign-v%d", version)))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving MAC key: %w", err)
	}
	return key, nil
}

// Rotate swaps in a fresh random secret and bumps the version. The old key is
// discarded; tokens signed under it become unverifiable. RNG failure is
// returned to the caller, which treats it as fatal.
func (a *Authority) Rotate() error {
	secret, err := randomSecret()
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	key, err := deriveMACKey(secret, a.version+1)
	if err != nil {
		return err
	}
	a.macKey = key
	a.version++
	return nil
}

// Version returns the active secret version.
func (a *Authority) Version() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

// canonical is the byte string the MAC covers. Field order is fixed; any
// change here invalidates all outstanding tokens.
func canonical(p models.TokenPayload) []byte {
	return []byte(fmt.Sprintf("%s|%d|%d|%d", p.Identity, p.IssuedAt, p.ExpiresAt, p.SecretVersion))
}

// Sign computes the detached signature for a payload under the active secret.
func (a *Authority) Sign(p models.TokenPayload) string {
	a.mu.RLock()
	key := a.macKey
	a.mu.RUnlock()
	mac := hmac.New(sha256.New, key)
	mac.Write(canonical(p))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the expected signature with the active secret
// and compares in constant time. The payload's own secretVersion is not
// consulted: a stale version simply fails the comparison, indistinguishable
// from a forgery.
func (a *Authority) VerifySignature(p models.TokenPayload, signature string) bool {
	a.mu.RLock()
	key := a.macKey
	a.mu.RUnlock()
	mac := hmac.New(sha256.New, key)
	mac.Write(canonical(p))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// IssueToken mints a signed token for the identity, expiring after the
// configured TTL. The payload and the signature are produced under a single
// consistent snapshot of the active secret.
func (a *Authority) IssueToken(identity string, now time.Time) models.SignedToken {
	a.mu.RLock()
	key := a.macKey
	version := a.version
	a.mu.RUnlock()

	p := models.TokenPayload{
		Identity:      identity,
		IssuedAt:      now.UnixMilli(),
		ExpiresAt:     now.Add(a.ttl).UnixMilli(),
		SecretVersion: version,
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(canonical(p))
	return models.SignedToken{Payload: p, Signature: hex.EncodeToString(mac.Sum(nil))}
}

// CheckToken validates a presented token: signature first, then expiry, then
// identity binding.
func (a *Authority) CheckToken(p models.TokenPayload, signature, requesterIdentity string, now time.Time) error {
	if !a.VerifySignature(p, signature) {
		return ErrBadSignature
	}
	if now.UnixMilli() >= p.ExpiresAt {
		return ErrExpired
	}
	if p.Identity != requesterIdentity {
		return ErrIdentityMismatch
	}
	return nil
}
