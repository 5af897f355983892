package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/veritasnet/trustcore/internal/model"
)

// FlagRepository persists flags and the append-only moderation action trail.
type FlagRepository interface {
	// SaveFlag inserts a flag or updates its mutable metadata by id.
	SaveFlag(ctx context.Context, f model.Flag) error

	// UpdateFlagStatus moves a flag through its lifecycle.
	UpdateFlagStatus(ctx context.Context, id uuid.UUID, status model.FlagStatus) error

	// SaveAction appends one moderation action. Actions are never updated.
	SaveAction(ctx context.Context, a model.ModerationAction) error

	// ListActions returns the moderation trail for a flag, oldest first.
	ListActions(ctx context.Context, flagID uuid.UUID) ([]model.ModerationAction, error)
}
