package challenge

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/org/gatekeeper/internal/store"
	"github.com/org/gatekeeper/internal/trust"
	"github.com/org/gatekeeper/pkg/models"
)

const nonceKeyPrefix = "nonce:"

// Protocol rejections carry opaque reason codes as their message. Codes are
// the only detail that ever reaches a client; scores and difficulty
// derivation stay internal.
var (
	ErrInvalidChallenge = errors.New("INVALID_CHALLENGE")
	ErrExpired          = errors.New("EXPIRED")
	ErrInvalidPow       = errors.New("INVALID_POW")
	ErrDifficultyFail   = errors.New("DIFFICULTY_FAIL")
	ErrReplay           = errors.New("REPLAY")
)

// Verifier validates submitted PoW solutions against issued challenges.
type Verifier struct {
	store  store.TTLStore
	ledger *trust.Ledger
	cfg    Config
}

// NewVerifier creates a Verifier.
func NewVerifier(s store.TTLStore, l *trust.Ledger, cfg Config) *Verifier {
	return &Verifier{store: s, ledger: l, cfg: cfg}
}

// Verify checks a solution in protocol order: challenge presence and binding,
// expiry, hash correctness, difficulty, then the atomic nonce claim. On
// success the challenge is consumed and the solver earns a trust discount.
//
// Difficulty is re-derived from the identity's current trust score rather
// than the score at issue time, so a suspicion change between issue and
// verify is honored. Replay rejections never touch trust state.
func (v *Verifier) Verify(req models.VerifyRequest, now time.Time) error {
	// A claimed nonce outlives its challenge record, so this check must come
	// first: resubmitting a consumed solution is REPLAY, not INVALID_CHALLENGE.
	// The authoritative claim is the atomic PutIfAbsent below; this read only
	// makes the rejection deterministic.
	if v.store.Exists(nonceKeyPrefix + req.Nonce) {
		return ErrReplay
	}

	raw, err := v.store.Get(challengeKeyPrefix + req.Nonce)
	if err != nil {
		return ErrInvalidChallenge
	}
	var b binding
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return ErrInvalidChallenge
	}
	if b.Identity != req.Identity {
		return ErrInvalidChallenge
	}

	if now.Sub(b.IssuedAt) > v.cfg.ChallengeTTL {
		v.store.Delete(challengeKeyPrefix + req.Nonce)
		return ErrExpired
	}

	expected := PowHash(req.Nonce, req.Counter)
	provided := strings.ToLower(req.Hash)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return ErrInvalidPow
	}

	difficulty := v.cfg.DifficultyFor(v.ledger.Score(req.Identity, now))
	if !MeetsDifficulty(expected, difficulty) {
		return ErrDifficultyFail
	}

	if !v.store.PutIfAbsent(nonceKeyPrefix+req.Nonce, "used", v.cfg.NonceTTL) {
		return ErrReplay
	}

	v.store.Delete(challengeKeyPrefix + req.Nonce)
	v.ledger.Discount(req.Identity, 0.5)
	return nil
}
