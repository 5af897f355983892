package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestOutcomeRepo_SaveOutcome(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOutcomeRepo(db)
	ctx := context.Background()

	o := model.VerificationOutcome{
		ContentID:    "c1",
		MatchedKeyID: "k1",
		Outcome:      model.OutcomeValid,
		VerifiedAt:   time.Now().UTC(),
	}
	mock.ExpectExec(`INSERT INTO outcomes \(content_id, matched_key_id, outcome, verified_at\)`).
		WithArgs(o.ContentID, o.MatchedKeyID, "valid", o.VerifiedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.SaveOutcome(ctx, o))
}

func TestOutcomeRepo_SaveConsensus_Upsert(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOutcomeRepo(db)
	ctx := context.Background()

	decided := time.Now().UTC()
	res := model.ConsensusResult{
		ContentID:        "c1",
		RequiredVotes:    3,
		ReceivedVotes:    3,
		ApproveWeight:    0.85,
		RejectWeight:     0.25,
		ConsensusReached: true,
		FinalStatus:      model.StatusVerified,
		DecidedAt:        &decided,
	}
	mock.ExpectExec(`INSERT INTO consensus_results`).
		WithArgs(res.ContentID, res.RequiredVotes, res.ReceivedVotes,
			res.ApproveWeight, res.RejectWeight, res.ConsensusReached, "verified", res.DecidedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.SaveConsensus(ctx, res))
}

func TestOutcomeRepo_GetConsensus(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOutcomeRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT content_id, required_votes, received_votes, approve_weight, reject_weight, consensus_reached, final_status, decided_at FROM consensus_results WHERE content_id=\$1`).
		WithArgs("c1").
		WillReturnRows(pgxmock.NewRows([]string{
			"content_id", "required_votes", "received_votes",
			"approve_weight", "reject_weight", "consensus_reached", "final_status", "decided_at",
		}).AddRow("c1", 3, 1, 0.4, 0.0, false, "pending", (*time.Time)(nil)))
	res, err := r.GetConsensus(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, res.FinalStatus)
	require.Nil(t, res.DecidedAt)

	mock.ExpectQuery(`SELECT content_id, required_votes`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetConsensus(ctx, "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestOutcomeRepo_ListOutcomes(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOutcomeRepo(db)
	ctx := context.Background()

	t1 := time.Now().UTC().Add(-time.Hour)
	t2 := time.Now().UTC()
	mock.ExpectQuery(`SELECT content_id, matched_key_id, outcome, verified_at FROM outcomes WHERE content_id=\$1 ORDER BY verified_at ASC`).
		WithArgs("c1").
		WillReturnRows(pgxmock.NewRows([]string{"content_id", "matched_key_id", "outcome", "verified_at"}).
			AddRow("c1", "", "no_trusted_key", t1).
			AddRow("c1", "k1", "valid", t2))
	out, err := r.ListOutcomes(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, model.OutcomeNoTrustedKey, out[0].Outcome)
	require.Equal(t, "k1", out[1].MatchedKeyID)
}
