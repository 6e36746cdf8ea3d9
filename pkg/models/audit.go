package models

import "time"

// AuditEntry records one protocol decision. Identity values are stored as
// hashes; raw fingerprints never reach the audit trail.
type AuditEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id"`
	IdentityHash   string    `json:"identity_hash"`
	Operation      string    `json:"operation"`
	Path           string    `json:"path"`
	Outcome        string    `json:"outcome"`
	ResponseCode   int       `json:"response_code"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	ClientIP       string    `json:"client_ip"`
}
