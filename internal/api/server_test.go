package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/org/gatekeeper/internal/audit"
	"github.com/org/gatekeeper/internal/challenge"
	"github.com/org/gatekeeper/internal/storage"
	"github.com/org/gatekeeper/internal/store"
	"github.com/org/gatekeeper/internal/token"
	"github.com/org/gatekeeper/internal/trust"
	"github.com/org/gatekeeper/pkg/models"
)

func honestSignals() models.Signals {
	return models.Signals{
		UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36",
		CanvasHash:          "c2fdd3a1",
		HardwareConcurrency: 8,
		DeviceMemory:        8,
		BehaviorEntropy:     0.42,
		TimingOK:            true,
		WorkerOK:            true,
	}
}

func newTestServer(t *testing.T, chCfg challenge.Config) *Server {
	t.Helper()
	ttl := store.NewMemoryStore()
	t.Cleanup(ttl.Close)

	ledger := trust.NewLedger(10*time.Minute, 10*time.Second, trust.DefaultBurstThreshold)
	return newTestServerWithLedger(t, ttl, ledger, chCfg)
}

func newTestServerWithLedger(t *testing.T, ttl store.TTLStore, ledger *trust.Ledger, chCfg challenge.Config) *Server {
	t.Helper()
	authority, err := token.NewAuthority(nil, 5*time.Minute)
	if err != nil {
		t.Fatalf("creating authority: %v", err)
	}
	issuer := challenge.NewIssuer(ttl, ledger, authority, chCfg)
	verifier := challenge.NewVerifier(ttl, ledger, chCfg)
	auditor := audit.NewLogger(storage.NewMemoryBackend())

	return NewServer(ledger, issuer, verifier, authority, auditor, Config{
		ThrottleThreshold: 2.0,
		DenyThreshold:     6.0,
	})
}

func defaultChallengeConfig() challenge.Config {
	return challenge.Config{
		BaseDifficulty: 3,
		DifficultyCap:  4,
		ChallengeTTL:   time.Minute,
		NonceTTL:       5 * time.Minute,
	}
}

// easyChallengeConfig keeps PoW solving cheap for tests that manipulate the
// trust score and would otherwise raise difficulty beyond what a unit test
// should brute-force.
func easyChallengeConfig() challenge.Config {
	return challenge.Config{
		BaseDifficulty: 1,
		DifficultyCap:  0,
		ChallengeTTL:   time.Minute,
		NonceTTL:       5 * time.Minute,
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

func reasonCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, w)
	code, _ := body["error"].(string)
	return code
}

func requestChallenge(t *testing.T, handler http.Handler, identity string) models.Challenge {
	t.Helper()
	w := postJSON(t, handler, "/challenge", map[string]string{"identity": identity})
	if w.Code != http.StatusOK {
		t.Fatalf("challenge request failed: %d %s", w.Code, w.Body.String())
	}
	var ch models.Challenge
	if err := json.NewDecoder(w.Body).Decode(&ch); err != nil {
		t.Fatalf("decoding challenge: %v", err)
	}
	return ch
}

func solveAndVerify(t *testing.T, handler http.Handler, identity string, ch models.Challenge, sig models.Signals) *httptest.ResponseRecorder {
	t.Helper()
	counter, digest := challenge.Solve(ch.Nonce, ch.Difficulty)
	return postJSON(t, handler, "/verify", models.VerifyRequest{
		Nonce:    ch.Nonce,
		Counter:  counter,
		Hash:     digest,
		Identity: identity,
		Signals:  sig,
	})
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, defaultChallengeConfig())
	handler := srv.BuildRouter()

	w := getJSON(t, handler, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestChallengeRequiresIdentity(t *testing.T) {
	srv := newTestServer(t, defaultChallengeConfig())
	handler := srv.BuildRouter()

	w := postJSON(t, handler, "/challenge", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if code := reasonCode(t, w); code != "MALFORMED" {
		t.Errorf("expected MALFORMED, got %q", code)
	}

	w2 := getJSON(t, handler, "/challenge")
	if w2.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for GET without identity, got %d", w2.Code)
	}
}

func TestChallengeFreshIdentityGetsBaseDifficulty(t *testing.T) {
	srv := newTestServer(t, defaultChallengeConfig())
	handler := srv.BuildRouter()

	ch := requestChallenge(t, handler, "abc")
	if ch.Difficulty != 3 {
		t.Errorf("fresh identity should get difficulty 3, got %d", ch.Difficulty)
	}
	if ch.Nonce == "" || ch.SecretVersion != 1 {
		t.Errorf("unexpected challenge: %+v", ch)
	}
}

func TestFullFlowTokenAndReplay(t *testing.T) {
	srv := newTestServer(t, defaultChallengeConfig())
	handler := srv.BuildRouter()

	ch := requestChallenge(t, handler, "abc")
	counter, digest := challenge.Solve(ch.Nonce, ch.Difficulty)
	req := models.VerifyRequest{
		Nonce: ch.Nonce, Counter: counter, Hash: digest,
		Identity: "abc", Signals: honestSignals(),
	}

	w := postJSON(t, handler, "/verify", req)
	if w.Code != http.StatusOK {
		t.Fatalf("verify failed: %d %s", w.Code, w.Body.String())
	}
	var tok models.SignedToken
	if err := json.NewDecoder(w.Body).Decode(&tok); err != nil {
		t.Fatalf("decoding token: %v", err)
	}
	if tok.Signature == "" || tok.Payload.Identity != "abc" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if tok.Payload.ExpiresAt <= tok.Payload.IssuedAt {
		t.Error("token should expire after issuance")
	}

	// The token opens the protected resource.
	w2 := postJSON(t, handler, "/protected", map[string]any{
		"payload":   tok.Payload,
		"signature": tok.Signature,
		"identity":  "abc",
	})
	if w2.Code != http.StatusOK {
		t.Fatalf("protected access failed: %d %s", w2.Code, w2.Body.String())
	}
	if body := decodeBody(t, w2); body["success"] != true {
		t.Errorf("expected success=true, got %v", body)
	}

	// Resubmitting the identical solution is a replay.
	w3 := postJSON(t, handler, "/verify", req)
	if w3.Code != http.StatusForbidden {
		t.Fatalf("replay should be 403, got %d", w3.Code)
	}
	if code := reasonCode(t, w3); code != "REPLAY" {
		t.Errorf("expected REPLAY, got %q", code)
	}
}

func TestVerifyMalformed(t *testing.T) {
	srv := newTestServer(t, defaultChallengeConfig())
	handler := srv.BuildRouter()

	w := postJSON(t, handler, "/verify", map[string]string{"identity": "abc"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if code := reasonCode(t, w); code != "MALFORMED" {
		t.Errorf("expected MALFORMED, got %q", code)
	}
}

func TestVerifyUnknownChallenge(t *testing.T) {
	srv := newTestServer(t, defaultChallengeConfig())
	handler := srv.BuildRouter()

	w := postJSON(t, handler, "/verify", models.VerifyRequest{
		Nonce: "does-not-exist", Counter: "0", Hash: "00", Identity: "abc",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if code := reasonCode(t, w); code != "INVALID_CHALLENGE" {
		t.Errorf("expected INVALID_CHALLENGE, got %q", code)
	}
}

func TestBurstEscalatesToShadowThrottle(t *testing.T) {
	srv := newTestServer(t, easyChallengeConfig())
	handler := srv.BuildRouter()

	// 31 challenge requests inside the sliding window. The last one is the
	// one we solve.
	var ch models.Challenge
	for i := 0; i < 31; i++ {
		ch = requestChallenge(t, handler, "burster")
	}

	w := solveAndVerify(t, handler, "burster", ch, honestSignals())
	if w.Code != http.StatusOK {
		t.Fatalf("shadow throttle should be a 200, got %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "shadow_throttled" {
		t.Errorf("expected shadow_throttled, got %v", body)
	}
	if _, hasSig := body["signature"]; hasSig {
		t.Error("shadow-throttled response must not contain a token")
	}
}

func TestConfiguredBurstThreshold(t *testing.T) {
	ttl := store.NewMemoryStore()
	t.Cleanup(ttl.Close)
	ledger := trust.NewLedger(10*time.Minute, 10*time.Second, 3)
	srv := newTestServerWithLedger(t, ttl, ledger, easyChallengeConfig())
	handler := srv.BuildRouter()

	// With the threshold lowered to 3, the fourth request in the window
	// already trips the burst penalty.
	var ch models.Challenge
	for i := 0; i < 3; i++ {
		ch = requestChallenge(t, handler, "burster")
	}

	w := solveAndVerify(t, handler, "burster", ch, honestSignals())
	if w.Code != http.StatusOK {
		t.Fatalf("shadow throttle should be a 200, got %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "shadow_throttled" {
		t.Errorf("expected shadow_throttled, got %v", body)
	}
}

func TestHighRiskDenied(t *testing.T) {
	srv := newTestServer(t, easyChallengeConfig())
	handler := srv.BuildRouter()

	// Accumulate suspicion past the deny threshold before the solve lands.
	now := time.Now()
	for srv.ledger.Score("mallory", now) < 2*srv.cfg.DenyThreshold {
		srv.ledger.ComputeRisk("mallory", models.Signals{UserAgent: "HeadlessChrome/120 puppeteer"}, now)
	}

	ch := requestChallenge(t, handler, "mallory")
	w := solveAndVerify(t, handler, "mallory", ch, models.Signals{UserAgent: "HeadlessChrome/120 puppeteer"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", w.Code, w.Body.String())
	}
	if code := reasonCode(t, w); code != "HIGH_RISK" {
		t.Errorf("expected HIGH_RISK, got %q", code)
	}
}

func TestProtectedRejectsTamperedToken(t *testing.T) {
	srv := newTestServer(t, defaultChallengeConfig())
	handler := srv.BuildRouter()

	tok := srv.authority.IssueToken("abc", time.Now())
	sig := []byte(tok.Signature)
	if sig[0] == 'f' {
		sig[0] = '0'
	} else {
		sig[0] = 'f'
	}

	w := postJSON(t, handler, "/protected", map[string]any{
		"payload":   tok.Payload,
		"signature": string(sig),
		"identity":  "abc",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if code := reasonCode(t, w); code != "BAD_SIGNATURE" {
		t.Errorf("expected BAD_SIGNATURE, got %q", code)
	}
}

func TestProtectedIdentityMismatch(t *testing.T) {
	srv := newTestServer(t, defaultChallengeConfig())
	handler := srv.BuildRouter()

	tok := srv.authority.IssueToken("abc", time.Now())
	w := postJSON(t, handler, "/protected", map[string]any{
		"payload":   tok.Payload,
		"signature": tok.Signature,
		"identity":  "mallory",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if code := reasonCode(t, w); code != "IDENTITY_MISMATCH" {
		t.Errorf("expected IDENTITY_MISMATCH, got %q", code)
	}
}

func TestRotationInvalidatesOutstandingTokens(t *testing.T) {
	srv := newTestServer(t, defaultChallengeConfig())
	handler := srv.BuildRouter()

	tok := srv.authority.IssueToken("abc", time.Now())
	if err := srv.authority.Rotate(); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	// Within TTL but signed under the discarded secret: BAD_SIGNATURE, not
	// EXPIRED.
	w := postJSON(t, handler, "/protected", map[string]any{
		"payload":   tok.Payload,
		"signature": tok.Signature,
		"identity":  "abc",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if code := reasonCode(t, w); code != "BAD_SIGNATURE" {
		t.Errorf("expected BAD_SIGNATURE, got %q", code)
	}
}

func TestAuditEndpointRequiresToken(t *testing.T) {
	srv := newTestServer(t, defaultChallengeConfig())
	handler := srv.BuildRouter()

	w := getJSON(t, handler, "/audit")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	// A few decisions to populate the trail.
	requestChallenge(t, handler, "abc")
	requestChallenge(t, handler, "abc")

	tok := srv.authority.IssueToken("operator", time.Now())
	raw, _ := json.Marshal(tok)
	req := httptest.NewRequest("GET", "/audit?identity=abc", nil)
	req.Header.Set("Authorization", "Bearer "+base64.RawURLEncoding.EncodeToString(raw))
	req.Header.Set("X-Gate-Identity", "operator")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK {
		t.Fatalf("audit query failed: %d %s", w2.Code, w2.Body.String())
	}
	body := decodeBody(t, w2)
	entries, _ := body["entries"].([]any)
	if len(entries) != 2 {
		t.Errorf("expected 2 audit entries for abc, got %d", len(entries))
	}
}
