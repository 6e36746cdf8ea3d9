package challenge

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// PowHash computes the hex digest the client must brute-force: the SHA-256 of
// the nonce concatenated with the counter string. Only preimage cost matters
// here, not collision resistance.
func PowHash(nonce, counter string) string {
	h := sha256.Sum256([]byte(nonce + counter))
	return hex.EncodeToString(h[:])
}

// MeetsDifficulty reports whether the hex digest starts with at least
// `difficulty` zero digits.
func MeetsDifficulty(digest string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(digest) < difficulty {
		return false
	}
	return strings.Count(digest[:difficulty], "0") == difficulty
}

// Solve brute-forces a counter whose PowHash meets the difficulty. It is the
// client side of the protocol, used by the CLI and tests; the server never
// loops over candidate counters.
func Solve(nonce string, difficulty int) (counter, digest string) {
	for i := 0; ; i++ {
		c := strconv.Itoa(i)
		d := PowHash(nonce, c)
		if MeetsDifficulty(d, difficulty) {
			return c, d
		}
	}
}
