package storage

import (
	"context"
	"sync"

	"github.com/org/gatekeeper/pkg/models"
)

const memoryAuditCap = 10000

// MemoryBackend keeps a bounded in-memory audit trail. Used when no database
// is configured and in tests.
type MemoryBackend struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) WriteAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if len(m.entries) > memoryAuditCap {
		m.entries = m.entries[len(m.entries)-memoryAuditCap:]
	}
	return nil
}

func (m *MemoryBackend) QueryAuditLog(ctx context.Context, f AuditFilter) ([]*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*models.AuditEntry
	// Newest first, like the Postgres backend.
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if f.IdentityHash != "" && e.IdentityHash != f.IdentityHash {
			continue
		}
		if f.Outcome != "" && e.Outcome != f.Outcome {
			continue
		}
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		result = append(result, e)
	}
	if f.Offset > 0 {
		if f.Offset >= len(result) {
			return nil, nil
		}
		result = result[f.Offset:]
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *MemoryBackend) Close() {}
