package token

import (
	"errors"
	"testing"
	"time"
)

const tokenTTL = 5 * time.Minute

func TestTokenRoundTrip(t *testing.T) {
	a, err := NewAuthority(nil, tokenTTL)
	if err != nil {
		t.Fatalf("NewAuthority failed: %v", err)
	}
	now := time.Now()

	tok := a.IssueToken("abc", now)
	if tok.Payload.ExpiresAt != now.Add(tokenTTL).UnixMilli() {
		t.Errorf("expected exp = issuedAt + TTL, got %d", tok.Payload.ExpiresAt)
	}
	if err := a.CheckToken(tok.Payload, tok.Signature, "abc", now.Add(time.Second)); err != nil {
		t.Errorf("expected VALID, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	a, _ := NewAuthority(nil, tokenTTL)
	now := time.Now()
	tok := a.IssueToken("abc", now)

	err := a.CheckToken(tok.Payload, tok.Signature, "abc", now.Add(tokenTTL+time.Second))
	if !errors.Is(err, ErrExpired) {
		t.Errorf("expected EXPIRED, got %v", err)
	}
}

func TestTokenTamperedSignature(t *testing.T) {
	a, _ := NewAuthority(nil, tokenTTL)
	now := time.Now()
	tok := a.IssueToken("abc", now)

	sig := []byte(tok.Signature)
	if sig[0] == 'f' {
		sig[0] = '0'
	} else {
		sig[0] = 'f'
	}
	err := a.CheckToken(tok.Payload, string(sig), "abc", now.Add(time.Second))
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected BAD_SIGNATURE, got %v", err)
	}
}

func TestTokenTamperedPayload(t *testing.T) {
	a, _ := NewAuthority(nil, tokenTTL)
	now := time.Now()
	tok := a.IssueToken("abc", now)

	forged := tok.Payload
	forged.Identity = "mallory"
	err := a.CheckToken(forged, tok.Signature, "mallory", now.Add(time.Second))
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected BAD_SIGNATURE for altered payload, got %v", err)
	}
}

func TestTokenIdentityMismatch(t *testing.T) {
	a, _ := NewAuthority(nil, tokenTTL)
	now := time.Now()
	tok := a.IssueToken("abc", now)

	err := a.CheckToken(tok.Payload, tok.Signature, "someone-else", now.Add(time.Second))
	if !errors.Is(err, ErrIdentityMismatch) {
		t.Errorf("expected IDENTITY_MISMATCH, got %v", err)
	}
}

func TestRotationInvalidatesOldTokens(t *testing.T) {
	a, _ := NewAuthority(nil, tokenTTL)
	now := time.Now()
	tok := a.IssueToken("abc", now)
	if tok.Payload.SecretVersion != 1 {
		t.Fatalf("expected secret version 1, got %d", tok.Payload.SecretVersion)
	}

	if err := a.Rotate(); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if a.Version() != 2 {
		t.Errorf("expected version 2 after rotation, got %d", a.Version())
	}

	// Still within TTL, but the signing secret is gone: BAD_SIGNATURE, not
	// EXPIRED.
	err := a.CheckToken(tok.Payload, tok.Signature, "abc", now.Add(time.Second))
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected BAD_SIGNATURE after rotation, got %v", err)
	}

	fresh := a.IssueToken("abc", now)
	if fresh.Payload.SecretVersion != 2 {
		t.Errorf("fresh token should carry version 2, got %d", fresh.Payload.SecretVersion)
	}
	if err := a.CheckToken(fresh.Payload, fresh.Signature, "abc", now.Add(time.Second)); err != nil {
		t.Errorf("fresh token should verify, got %v", err)
	}
}

func TestSeededAuthorityIsDeterministic(t *testing.T) {
	seed := []byte("0123456789abcdef0123456789abcdef")
	a1, _ := NewAuthority(seed, tokenTTL)
	a2, _ := NewAuthority(seed, tokenTTL)

	now := time.Unix(1700000000, 0)
	t1 := a1.IssueToken("abc", now)
	t2 := a2.IssueToken("abc", now)
	if t1.Signature != t2.Signature {
		t.Error("same seed and payload should produce the same signature")
	}
}

func TestSignVerifyDetached(t *testing.T) {
	a, _ := NewAuthority(nil, tokenTTL)
	tok := a.IssueToken("abc", time.Now())

	if sig := a.Sign(tok.Payload); sig != tok.Signature {
		t.Error("Sign should reproduce the issued signature")
	}
	if !a.VerifySignature(tok.Payload, tok.Signature) {
		t.Error("VerifySignature should accept the issued signature")
	}
	if a.VerifySignature(tok.Payload, "00"+tok.Signature[2:]) && tok.Signature[:2] != "00" {
		t.Error("VerifySignature should reject a modified signature")
	}
}
