package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/org/gatekeeper/internal/storage"
	"github.com/org/gatekeeper/pkg/models"
	"github.com/rs/zerolog/log"
)

// Logger records protocol decisions to the configured backend.
type Logger struct {
	backend storage.AuditBackend
}

// NewLogger creates an audit Logger.
func NewLogger(backend storage.AuditBackend) *Logger {
	return &Logger{backend: backend}
}

// LogDecision records one gate decision. Raw identities never reach the
// trail; only their hash does. Audit failures must not break request flow.
func (l *Logger) LogDecision(ctx context.Context, entry *models.AuditEntry) {
	entry.Timestamp = time.Now().UTC()
	if err := l.backend.WriteAuditEntry(ctx, entry); err != nil {
		log.Error().Err(err).Str("outcome", entry.Outcome).Msg("writing audit entry")
	}
}

// Query retrieves audit log entries matching the filter.
func (l *Logger) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	return l.backend.QueryAuditLog(ctx, filter)
}

// HashIdentity returns the SHA-256 hex hash under which an identity appears
// in the audit trail.
func HashIdentity(identity string) string {
	h := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(h[:])
}
