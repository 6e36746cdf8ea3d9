package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/gatekeeper/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// AuditBackend persists protocol-decision audit entries. The gate works
// without one (memory sink); Postgres is used when db_url is configured.
type AuditBackend interface {
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)
	Close()
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	IdentityHash string
	Outcome      string
	Since        *time.Time
	Limit        int
	Offset       int
}
