// Package keystore maintains the process-wide registry of trusted public keys.
// The store is the single source of truth for verification; readers consume
// immutable point-in-time snapshots so a concurrent add or revoke can never
// produce a half-applied view.
package keystore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	pkgcrypto "github.com/veritasnet/trustcore/internal/crypto"
	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/model"
)

// AuditSink receives the append-only audit trail of key mutations. Revoked
// keys disappear from listings but never from the trail.
type AuditSink interface {
	AppendKeyEvent(ctx context.Context, ev model.KeyAuditEvent) error
}

// Snapshot is an immutable view of the active key set. Version increases on
// every mutation and doubles as the cache epoch for verification outcomes.
type Snapshot struct {
	Version uint64
	Keys    []model.TrustedKey // key_id ascending
}

// Store owns TrustedKey records. All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	keys    map[string]model.TrustedKey
	version uint64

	audit AuditSink
	clk   clock.Clock
}

// New constructs a Store writing mutations to the given audit sink.
func New(audit AuditSink, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{keys: make(map[string]model.TrustedKey), audit: audit, clk: clk}
}

// AddKey registers PEM key material under the given format and returns the
// derived key id. Byte-identical active key material fails with
// errs.ErrDuplicateKey. The audit entry is written before the key is
// published; a failed audit write aborts the mutation.
func (s *Store) AddKey(ctx context.Context, pemBytes []byte, format model.KeyFormat) (string, error) {
	norm, err := pkgcrypto.NormalizePEM(pemBytes)
	if err != nil {
		return "", fmt.Errorf("add key: %w", err)
	}
	if _, err := pkgcrypto.ParsePublicKey(norm, format); err != nil {
		return "", fmt.Errorf("add key: %w", err)
	}
	id, err := pkgcrypto.Fingerprint(norm)
	if err != nil {
		return "", fmt.Errorf("add key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.keys[id]; ok && existing.Active() {
		return "", fmt.Errorf("key %s: %w", id, errs.ErrDuplicateKey)
	}
	now := s.clk.Now().UTC()
	if err := s.audit.AppendKeyEvent(ctx, model.KeyAuditEvent{KeyID: id, Action: "add", At: now}); err != nil {
		return "", fmt.Errorf("audit add: %w", err)
	}
	s.keys[id] = model.TrustedKey{
		ID:        id,
		PublicKey: norm,
		Format:    format,
		AddedAt:   now,
	}
	s.version++
	return id, nil
}

// RevokeKey marks a key revoked. Unknown ids fail with errs.ErrNotFound;
// revoking an already revoked key is a no-op so concurrent revocation
// requests do not race into spurious errors.
func (s *Store) RevokeKey(ctx context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok {
		return fmt.Errorf("revoke key %s: %w", keyID, errs.ErrNotFound)
	}
	if !k.Active() {
		return nil
	}
	now := s.clk.Now().UTC()
	if err := s.audit.AppendKeyEvent(ctx, model.KeyAuditEvent{KeyID: keyID, Action: "revoke", At: now}); err != nil {
		return fmt.Errorf("audit revoke: %w", err)
	}
	k.RevokedAt = &now
	s.keys[keyID] = k
	s.version++
	return nil
}

// Seed installs previously persisted keys without writing audit events.
// Startup restore only: the audit trail already holds these mutations.
func (s *Store) Seed(keys []model.TrustedKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		s.keys[k.ID] = k
	}
	if len(keys) > 0 {
		s.version++
	}
}

// ListActiveKeys returns active keys ordered by key id ascending, in their
// stable PEM encoding for out-of-process re-verification.
func (s *Store) ListActiveKeys() []model.TrustedKey {
	return s.Snapshot().Keys
}

// Snapshot returns an immutable point-in-time copy of the active key set.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]model.TrustedKey, 0, len(s.keys))
	for _, k := range s.keys {
		if k.Active() {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return Snapshot{Version: s.version, Keys: keys}
}
