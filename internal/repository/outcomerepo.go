// Package repository declares the persistence interfaces the trust engine
// writes through. Implementations live in subpackages.
package repository

import (
	"context"

	"github.com/veritasnet/trustcore/internal/model"
)

// OutcomeRepository stores verification outcomes and consensus aggregates.
type OutcomeRepository interface {
	// SaveOutcome appends one verification attempt for a submission.
	SaveOutcome(ctx context.Context, o model.VerificationOutcome) error

	// SaveConsensus upserts the current consensus aggregate for a submission.
	SaveConsensus(ctx context.Context, res model.ConsensusResult) error

	// GetConsensus returns the stored aggregate for a submission.
	GetConsensus(ctx context.Context, contentID string) (model.ConsensusResult, error)

	// ListOutcomes returns a submission's verification attempts, oldest first.
	ListOutcomes(ctx context.Context, contentID string) ([]model.VerificationOutcome, error)
}
