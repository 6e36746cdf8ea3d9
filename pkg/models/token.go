package models

// TokenPayload is the signed portion of an access token. It is immutable once
// issued; verification is stateless apart from expiry and signature checks.
type TokenPayload struct {
	Identity      string `json:"identity"`
	IssuedAt      int64  `json:"issuedAt"`
	ExpiresAt     int64  `json:"expiresAt"`
	SecretVersion int    `json:"secretVersion"`
}

// SignedToken is a token payload plus its detached signature, as returned by
// POST /verify and presented to protected resources.
type SignedToken struct {
	Payload   TokenPayload `json:"payload"`
	Signature string       `json:"signature"`
}
