package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/org/gatekeeper/internal/challenge"
	"github.com/org/gatekeeper/internal/token"
	"github.com/org/gatekeeper/pkg/models"
	"github.com/rs/zerolog/log"
)

// ChallengeHandler handles GET and POST /challenge. The identity is taken
// from the query string on GET and the JSON body on POST; challenges are
// bound to it for one-time use.
func (s *Server) ChallengeHandler(w http.ResponseWriter, r *http.Request) {
	var identity string
	if r.Method == http.MethodGet {
		identity = r.URL.Query().Get("identity")
	} else {
		var req struct {
			Identity string `json:"identity"`
		}
		if err := decodeJSON(r, &req); err != nil {
			recordDecision(r, "", "MALFORMED")
			writeReason(w, http.StatusBadRequest, "MALFORMED")
			return
		}
		identity = req.Identity
	}
	if identity == "" {
		recordDecision(r, "", "MALFORMED")
		writeReason(w, http.StatusBadRequest, "MALFORMED")
		return
	}

	ch, err := s.issuer.Issue(identity, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("issuing challenge")
		writeReason(w, http.StatusInternalServerError, "INTERNAL")
		return
	}

	challengesIssued.Inc()
	trackedIdentities.Set(float64(s.ledger.Size()))
	recordDecision(r, identity, "CHALLENGE_ISSUED")
	writeJSON(w, http.StatusOK, ch)
}

// VerifyHandler handles POST /verify: PoW validation, risk scoring, and the
// allow / shadow-throttle / deny decision.
func (s *Server) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		recordDecision(r, "", "MALFORMED")
		writeReason(w, http.StatusBadRequest, "MALFORMED")
		return
	}
	if req.Nonce == "" || req.Counter == "" || req.Hash == "" || req.Identity == "" {
		recordDecision(r, req.Identity, "MALFORMED")
		writeReason(w, http.StatusBadRequest, "MALFORMED")
		return
	}

	now := time.Now()
	if err := s.verifier.Verify(req, now); err != nil {
		var reason string
		switch {
		case errors.Is(err, challenge.ErrInvalidChallenge),
			errors.Is(err, challenge.ErrExpired),
			errors.Is(err, challenge.ErrInvalidPow),
			errors.Is(err, challenge.ErrDifficultyFail),
			errors.Is(err, challenge.ErrReplay):
			reason = err.Error()
		default:
			log.Error().Err(err).Msg("verifying solution")
			writeReason(w, http.StatusInternalServerError, "INTERNAL")
			return
		}
		verificationsTotal.WithLabelValues(reason).Inc()
		recordDecision(r, req.Identity, reason)
		writeReason(w, http.StatusForbidden, reason)
		return
	}

	// The solve checked out; fold the resubmission's telemetry into the
	// identity's suspicion and decide.
	s.ledger.RecordActivity(req.Identity, now)
	score := s.ledger.ComputeRisk(req.Identity, req.Signals, now)

	switch {
	case score >= s.cfg.DenyThreshold:
		verificationsTotal.WithLabelValues("HIGH_RISK").Inc()
		recordDecision(r, req.Identity, "HIGH_RISK")
		writeReason(w, http.StatusForbidden, "HIGH_RISK")
	case score >= s.cfg.ThrottleThreshold:
		// Soft success: a 200 with no token, so scripted adversaries learn
		// nothing from the response shape.
		verificationsTotal.WithLabelValues("SHADOW_THROTTLED").Inc()
		recordDecision(r, req.Identity, "SHADOW_THROTTLED")
		writeJSON(w, http.StatusOK, map[string]string{"status": "shadow_throttled"})
	default:
		tok := s.authority.IssueToken(req.Identity, now)
		verificationsTotal.WithLabelValues("TOKEN_ISSUED").Inc()
		tokensIssued.Inc()
		recordDecision(r, req.Identity, "TOKEN_ISSUED")
		writeJSON(w, http.StatusOK, tok)
	}
}

// ProtectedHandler handles POST /protected, the sample downstream resource.
// Token validation is stateless: signature, expiry, identity binding.
func (s *Server) ProtectedHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payload   models.TokenPayload `json:"payload"`
		Signature string              `json:"signature"`
		Identity  string              `json:"identity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		recordDecision(r, "", "MALFORMED")
		writeReason(w, http.StatusBadRequest, "MALFORMED")
		return
	}
	if req.Signature == "" {
		recordDecision(r, "", "MALFORMED")
		writeReason(w, http.StatusBadRequest, "MALFORMED")
		return
	}
	identity := req.Identity
	if identity == "" {
		identity = req.Payload.Identity
	}

	if err := s.authority.CheckToken(req.Payload, req.Signature, identity, time.Now()); err != nil {
		var reason string
		switch {
		case errors.Is(err, token.ErrBadSignature),
			errors.Is(err, token.ErrExpired),
			errors.Is(err, token.ErrIdentityMismatch):
			reason = err.Error()
		default:
			writeReason(w, http.StatusInternalServerError, "INTERNAL")
			return
		}
		recordDecision(r, identity, reason)
		writeReason(w, http.StatusForbidden, reason)
		return
	}

	recordDecision(r, identity, "VALID")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
