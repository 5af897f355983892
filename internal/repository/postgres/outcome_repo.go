package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/model"
)

// OutcomeRepo implements OutcomeRepository using PostgreSQL.
type OutcomeRepo struct{ db *DB }

// NewOutcomeRepo constructs an outcome repository.
func NewOutcomeRepo(db *DB) *OutcomeRepo { return &OutcomeRepo{db: db} }

// SaveOutcome appends one verification attempt for a submission.
func (r *OutcomeRepo) SaveOutcome(ctx context.Context, o model.VerificationOutcome) error {
	const q = `
INSERT INTO outcomes (content_id, matched_key_id, outcome, verified_at)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, o.ContentID, o.MatchedKeyID, string(o.Outcome), o.VerifiedAt)
	return err
}

// SaveConsensus upserts the current consensus aggregate for a submission.
func (r *OutcomeRepo) SaveConsensus(ctx context.Context, res model.ConsensusResult) error {
	const q = `
INSERT INTO consensus_results
  (content_id, required_votes, received_votes, approve_weight, reject_weight, consensus_reached, final_status, decided_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (content_id) DO UPDATE SET
  required_votes=$2, received_votes=$3, approve_weight=$4, reject_weight=$5,
  consensus_reached=$6, final_status=$7, decided_at=$8`
	_, err := r.db.Pool.Exec(ctx, q,
		res.ContentID, res.RequiredVotes, res.ReceivedVotes,
		res.ApproveWeight, res.RejectWeight, res.ConsensusReached,
		string(res.FinalStatus), res.DecidedAt,
	)
	return err
}

// GetConsensus returns the stored aggregate for a submission.
func (r *OutcomeRepo) GetConsensus(ctx context.Context, contentID string) (model.ConsensusResult, error) {
	const q = `
SELECT content_id, required_votes, received_votes, approve_weight, reject_weight, consensus_reached, final_status, decided_at
FROM consensus_results WHERE content_id=$1`
	row := r.db.Pool.QueryRow(ctx, q, contentID)
	var res model.ConsensusResult
	var status string
	err := row.Scan(&res.ContentID, &res.RequiredVotes, &res.ReceivedVotes,
		&res.ApproveWeight, &res.RejectWeight, &res.ConsensusReached, &status, &res.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ConsensusResult{}, errs.ErrNotFound
		}
		return model.ConsensusResult{}, err
	}
	res.FinalStatus = model.ConsensusStatus(status)
	return res, nil
}

// ListOutcomes returns a submission's verification attempts, oldest first.
func (r *OutcomeRepo) ListOutcomes(ctx context.Context, contentID string) ([]model.VerificationOutcome, error) {
	const q = `
SELECT content_id, matched_key_id, outcome, verified_at
FROM outcomes WHERE content_id=$1 ORDER BY verified_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.VerificationOutcome
	for rows.Next() {
		var o model.VerificationOutcome
		var outcome string
		if err = rows.Scan(&o.ContentID, &o.MatchedKeyID, &outcome, &o.VerifiedAt); err != nil {
			return nil, err
		}
		o.Outcome = model.Outcome(outcome)
		out = append(out, o)
	}
	return out, rows.Err()
}
