package keystore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/model"
)

type fakeAudit struct {
	events []model.KeyAuditEvent
	err    error
}

func (f *fakeAudit) AppendKeyEvent(_ context.Context, ev model.KeyAuditEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func genEd25519PEM(t *testing.T) []byte {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestStore_AddListRevoke(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	audit := &fakeAudit{}
	s := New(audit, clock.NewMock())

	pemA := genEd25519PEM(t)
	pemB := genEd25519PEM(t)

	idA, err := s.AddKey(ctx, pemA, model.KeyFormatEd25519)
	if err != nil {
		t.Fatalf("add A: %v", err)
	}
	idB, err := s.AddKey(ctx, pemB, model.KeyFormatEd25519)
	if err != nil {
		t.Fatalf("add B: %v", err)
	}

	keys := s.ListActiveKeys()
	if len(keys) != 2 {
		t.Fatalf("want 2 active keys, got %d", len(keys))
	}
	if keys[0].ID > keys[1].ID {
		t.Fatalf("listing not ordered by key id")
	}

	if err := s.RevokeKey(ctx, idA); err != nil {
		t.Fatalf("revoke A: %v", err)
	}
	keys = s.ListActiveKeys()
	if len(keys) != 1 || keys[0].ID != idB {
		t.Fatalf("want only B active, got %+v", keys)
	}

	// Idempotent against concurrent revocation requests.
	if err := s.RevokeKey(ctx, idA); err != nil {
		t.Fatalf("second revoke must be a no-op, got %v", err)
	}
	if err := s.RevokeKey(ctx, "missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	// Audit trail keeps revoked keys forever.
	if len(audit.events) != 3 {
		t.Fatalf("want 3 audit events, got %d", len(audit.events))
	}
	if audit.events[2].KeyID != idA || audit.events[2].Action != "revoke" {
		t.Fatalf("unexpected audit tail: %+v", audit.events[2])
	}
}

func TestStore_DuplicateKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(&fakeAudit{}, clock.NewMock())

	pemA := genEd25519PEM(t)
	id, err := s.AddKey(ctx, pemA, model.KeyFormatEd25519)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddKey(ctx, pemA, model.KeyFormatEd25519); !errors.Is(err, errs.ErrDuplicateKey) {
		t.Fatalf("want ErrDuplicateKey, got %v", err)
	}

	// Re-adding after revocation is allowed and keeps the same id.
	if err := s.RevokeKey(ctx, id); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	id2, err := s.AddKey(ctx, pemA, model.KeyFormatEd25519)
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if id2 != id {
		t.Fatalf("fingerprint changed across re-add: %s vs %s", id, id2)
	}
}

func TestStore_FormatMismatchRejected(t *testing.T) {
	t.Parallel()
	s := New(&fakeAudit{}, clock.NewMock())
	if _, err := s.AddKey(context.Background(), genEd25519PEM(t), model.KeyFormatRSASHA256); err == nil {
		t.Fatalf("want error for ed25519 material declared rsa-sha256")
	}
}

func TestStore_SnapshotVersionAndIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(&fakeAudit{}, clock.NewMock())

	snap0 := s.Snapshot()
	if snap0.Version != 0 || len(snap0.Keys) != 0 {
		t.Fatalf("empty store snapshot: %+v", snap0)
	}

	id, err := s.AddKey(ctx, genEd25519PEM(t), model.KeyFormatEd25519)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	snap1 := s.Snapshot()
	if snap1.Version != 1 || len(snap1.Keys) != 1 {
		t.Fatalf("snapshot after add: %+v", snap1)
	}

	if err := s.RevokeKey(ctx, id); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if s.Snapshot().Version != 2 {
		t.Fatalf("revoke must bump version")
	}
	// Old snapshot is unaffected by the later revoke.
	if len(snap1.Keys) != 1 || !snap1.Keys[0].Active() {
		t.Fatalf("snapshot mutated by later revoke: %+v", snap1.Keys)
	}
}

func TestStore_AuditFailureAbortsMutation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	audit := &fakeAudit{err: errors.New("sink down")}
	s := New(audit, clock.NewMock())

	if _, err := s.AddKey(ctx, genEd25519PEM(t), model.KeyFormatEd25519); err == nil {
		t.Fatalf("want error when audit sink fails")
	}
	if len(s.ListActiveKeys()) != 0 {
		t.Fatalf("key must not be published when audit write fails")
	}
}
