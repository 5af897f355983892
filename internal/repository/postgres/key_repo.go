package postgres

import (
	"context"
	"fmt"

	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/model"
)

// KeyRepo implements KeyRepository using PostgreSQL.
type KeyRepo struct{ db *DB }

// NewKeyRepo constructs a key repository.
func NewKeyRepo(db *DB) *KeyRepo { return &KeyRepo{db: db} }

// SaveKey inserts a trusted key row.
func (r *KeyRepo) SaveKey(ctx context.Context, k model.TrustedKey) error {
	const q = `
INSERT INTO trusted_keys (key_id, public_key, format, added_at, revoked_at)
VALUES ($1,$2,$3,$4,$5)`
	_, err := r.db.Pool.Exec(ctx, q, k.ID, k.PublicKey, string(k.Format), k.AddedAt, k.RevokedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("key %s: %w", k.ID, errs.ErrDuplicateKey)
	}
	return err
}

// MarkRevoked stamps a key's revocation time.
func (r *KeyRepo) MarkRevoked(ctx context.Context, keyID string) error {
	const q = `UPDATE trusted_keys SET revoked_at=now() WHERE key_id=$1 AND revoked_at IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, keyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("key %s: %w", keyID, errs.ErrNotFound)
	}
	return nil
}

// ListKeys returns every stored key, revoked ones included, key_id ascending.
func (r *KeyRepo) ListKeys(ctx context.Context) ([]model.TrustedKey, error) {
	const q = `
SELECT key_id, public_key, format, added_at, revoked_at
FROM trusted_keys ORDER BY key_id ASC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TrustedKey
	for rows.Next() {
		var k model.TrustedKey
		var format string
		if err = rows.Scan(&k.ID, &k.PublicKey, &format, &k.AddedAt, &k.RevokedAt); err != nil {
			return nil, err
		}
		k.Format = model.KeyFormat(format)
		out = append(out, k)
	}
	return out, rows.Err()
}

// AppendKeyEvent appends one audit entry.
func (r *KeyRepo) AppendKeyEvent(ctx context.Context, ev model.KeyAuditEvent) error {
	const q = `INSERT INTO key_audit (key_id, action, at) VALUES ($1,$2,$3)`
	_, err := r.db.Pool.Exec(ctx, q, ev.KeyID, ev.Action, ev.At)
	return err
}

// ListKeyEvents returns the audit trail, oldest first.
func (r *KeyRepo) ListKeyEvents(ctx context.Context) ([]model.KeyAuditEvent, error) {
	const q = `SELECT key_id, action, at FROM key_audit ORDER BY at ASC, id ASC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.KeyAuditEvent
	for rows.Next() {
		var ev model.KeyAuditEvent
		if err = rows.Scan(&ev.KeyID, &ev.Action, &ev.At); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
