package repository

import (
	"context"

	"github.com/veritasnet/trustcore/internal/model"
)

// KeyRepository mirrors the in-memory key store for restart recovery and
// carries its append-only audit trail.
type KeyRepository interface {
	// SaveKey inserts a trusted key row.
	SaveKey(ctx context.Context, k model.TrustedKey) error

	// MarkRevoked stamps a key's revocation time.
	MarkRevoked(ctx context.Context, keyID string) error

	// ListKeys returns every stored key, revoked ones included.
	ListKeys(ctx context.Context) ([]model.TrustedKey, error)

	// AppendKeyEvent appends one audit entry. Satisfies keystore.AuditSink.
	AppendKeyEvent(ctx context.Context, ev model.KeyAuditEvent) error

	// ListKeyEvents returns the audit trail, oldest first.
	ListKeyEvents(ctx context.Context) ([]model.KeyAuditEvent, error)
}
