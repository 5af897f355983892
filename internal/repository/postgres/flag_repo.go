package postgres

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/model"
)

// FlagRepo implements FlagRepository using PostgreSQL.
type FlagRepo struct{ db *DB }

// NewFlagRepo constructs a flag repository.
func NewFlagRepo(db *DB) *FlagRepo { return &FlagRepo{db: db} }

// SaveFlag inserts a flag or updates its mutable metadata by id.
func (r *FlagRepo) SaveFlag(ctx context.Context, f model.Flag) error {
	const q = `
INSERT INTO flags (id, content_id, reason, description, flagger_hash, created_at, status)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET reason=$3, description=$4, status=$7`
	_, err := r.db.Pool.Exec(ctx, q,
		f.ID, f.ContentID, string(f.Reason), f.Description, f.FlaggerHash, f.CreatedAt, string(f.Status))
	return err
}

// UpdateFlagStatus moves a flag through its lifecycle.
func (r *FlagRepo) UpdateFlagStatus(ctx context.Context, id uuid.UUID, status model.FlagStatus) error {
	const q = `UPDATE flags SET status=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("flag %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// SaveAction appends one moderation action.
func (r *FlagRepo) SaveAction(ctx context.Context, a model.ModerationAction) error {
	const q = `
INSERT INTO moderation_actions (id, flag_id, moderator_id, action, reason, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.db.Pool.Exec(ctx, q, a.ID, a.FlagID, a.ModeratorID, string(a.Action), a.Reason, a.At)
	if isUniqueViolation(err) {
		return fmt.Errorf("action %s: %w", a.ID, errs.ErrDuplicateKey)
	}
	return err
}

// ListActions returns the moderation trail for a flag, oldest first.
func (r *FlagRepo) ListActions(ctx context.Context, flagID uuid.UUID) ([]model.ModerationAction, error) {
	const q = `
SELECT id, flag_id, moderator_id, action, reason, created_at
FROM moderation_actions WHERE flag_id=$1 ORDER BY created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, flagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ModerationAction
	for rows.Next() {
		var a model.ModerationAction
		var verb string
		if err = rows.Scan(&a.ID, &a.FlagID, &a.ModeratorID, &verb, &a.Reason, &a.At); err != nil {
			return nil, err
		}
		a.Action = model.ModerationVerb(verb)
		out = append(out, a)
	}
	return out, rows.Err()
}
