package challenge

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/org/gatekeeper/internal/store"
	"github.com/org/gatekeeper/internal/trust"
	"github.com/org/gatekeeper/pkg/models"
)

const challengeKeyPrefix = "challenge:"

// Config holds the tunables of the challenge protocol.
type Config struct {
	BaseDifficulty int
	DifficultyCap  int
	ChallengeTTL   time.Duration
	NonceTTL       time.Duration
}

// DifficultyFor maps a trust score to a PoW difficulty, clamped to
// [base, base+cap] so cost scales with suspicion but never becomes unsolvable.
func (c Config) DifficultyFor(score float64) int {
	extra := int(math.Floor(score))
	if extra < 0 {
		extra = 0
	}
	if extra > c.DifficultyCap {
		extra = c.DifficultyCap
	}
	return c.BaseDifficulty + extra
}

// VersionSource exposes the active signing-secret version so issued
// challenges can advertise it to clients.
type VersionSource interface {
	Version() int
}

// binding ties an issued challenge to the identity it was minted for.
type binding struct {
	Identity string    `json:"identity"`
	IssuedAt time.Time `json:"issued_at"`
}

// Issuer produces challenges with identity-specific difficulty.
type Issuer struct {
	store    store.TTLStore
	ledger   *trust.Ledger
	versions VersionSource
	cfg      Config
}

// NewIssuer creates an Issuer.
func NewIssuer(s store.TTLStore, l *trust.Ledger, v VersionSource, cfg Config) *Issuer {
	return &Issuer{store: s, ledger: l, versions: v, cfg: cfg}
}

// Issue decays the identity's trust state, derives a difficulty from the
// current score, and records a fresh single-use challenge in the TTL store.
func (i *Issuer) Issue(identity string, now time.Time) (*models.Challenge, error) {
	i.ledger.RecordActivity(identity, now)
	score := i.ledger.Score(identity, now)

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	nonce := hex.EncodeToString(raw)

	b, err := json.Marshal(binding{Identity: identity, IssuedAt: now})
	if err != nil {
		return nil, fmt.Errorf("encoding challenge binding: %w", err)
	}
	i.store.Put(challengeKeyPrefix+nonce, string(b), i.cfg.ChallengeTTL)

	return &models.Challenge{
		Nonce:         nonce,
		Identity:      identity,
		IssuedAt:      now,
		Difficulty:    i.cfg.DifficultyFor(score),
		SecretVersion: i.versions.Version(),
	}, nil
}
