package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/org/gatekeeper/internal/audit"
	"github.com/org/gatekeeper/internal/token"
	"github.com/org/gatekeeper/pkg/models"
	"github.com/rs/zerolog/log"
)

// requestIDMiddleware attaches a UUID request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := newUUID()
		w.Header().Set("X-Request-ID", id)
		ctx := withRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

// decisionAuditMiddleware records every request plus the protocol outcome the
// handler reported via the decision holder.
func decisionAuditMiddleware(auditor *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			d := &decision{}
			rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rr, r.WithContext(withDecision(r.Context(), d)))

			entry := &models.AuditEntry{
				RequestID:      requestIDFromCtx(r.Context()),
				IdentityHash:   d.IdentityHash,
				Operation:      r.Method,
				Path:           r.URL.Path,
				Outcome:        d.Outcome,
				ResponseCode:   rr.statusCode,
				ResponseTimeMs: time.Since(start).Milliseconds(),
				ClientIP:       clientIP(r),
			}
			auditor.LogDecision(r.Context(), entry)
		})
	}
}

// recordDecision stores the outcome for the audit middleware to pick up.
func recordDecision(r *http.Request, identity, outcome string) {
	if d := decisionFromCtx(r.Context()); d != nil {
		if identity != "" {
			d.IdentityHash = audit.HashIdentity(identity)
		}
		d.Outcome = outcome
	}
}

// tokenAuthMiddleware guards operator routes with a gate-issued access token.
// The token travels as base64url(JSON SignedToken) in the Authorization
// header; the requester's identity comes from X-Gate-Identity.
func tokenAuthMiddleware(authority *token.Authority) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" {
				writeReason(w, http.StatusUnauthorized, "MALFORMED")
				return
			}
			data, err := base64.RawURLEncoding.DecodeString(raw)
			if err != nil {
				writeReason(w, http.StatusUnauthorized, "MALFORMED")
				return
			}
			var tok models.SignedToken
			if err := json.Unmarshal(data, &tok); err != nil {
				writeReason(w, http.StatusUnauthorized, "MALFORMED")
				return
			}
			identity := r.Header.Get("X-Gate-Identity")
			if err := authority.CheckToken(tok.Payload, tok.Signature, identity, time.Now()); err != nil {
				writeReason(w, http.StatusForbidden, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

// rateLimiter is a simple per-IP token bucket rate limiter. It is an outer
// defense, independent of the protocol's risk scoring.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int // requests per second
	burst   int
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

func newRateLimiter(rps, burst int) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rps,
		burst:   burst,
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastCheck: time.Now()}
		rl.buckets[ip] = b
	}
	now := time.Now()
	elapsed := now.Sub(b.lastCheck).Seconds()
	b.tokens += elapsed * float64(rl.rate)
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastCheck = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.allow(ip) {
			log.Warn().Str("ip", ip).Msg("rate limit exceeded")
			writeReason(w, http.StatusTooManyRequests, "RATE_LIMITED")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
