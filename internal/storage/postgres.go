package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/gatekeeper/pkg/models"
)

// PostgresBackend is an AuditBackend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

func (p *PostgresBackend) WriteAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO audit_log (ts, request_id, identity_hash, operation, path, outcome, response_code, response_time_ms, client_ip)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.Timestamp, e.RequestID, e.IdentityHash, e.Operation, e.Path, e.Outcome, e.ResponseCode, e.ResponseTimeMs, e.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (p *PostgresBackend) QueryAuditLog(ctx context.Context, f AuditFilter) ([]*models.AuditEntry, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.IdentityHash != "" {
		conds = append(conds, "identity_hash = "+arg(f.IdentityHash))
	}
	if f.Outcome != "" {
		conds = append(conds, "outcome = "+arg(f.Outcome))
	}
	if f.Since != nil {
		conds = append(conds, "ts >= "+arg(*f.Since))
	}

	query := `SELECT ts, request_id, identity_hash, operation, path, outcome, response_code, response_time_ms, client_ip FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		if err := rows.Scan(&e.Timestamp, &e.RequestID, &e.IdentityHash, &e.Operation, &e.Path, &e.Outcome, &e.ResponseCode, &e.ResponseTimeMs, &e.ClientIP); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
