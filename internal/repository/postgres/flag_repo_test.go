package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/model"
)

func TestFlagRepo_SaveFlag(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewFlagRepo(db)
	ctx := context.Background()

	f := model.Flag{
		ID:          uuid.Must(uuid.NewV4()),
		ContentID:   "c1",
		Reason:      model.FlagReasonSpam,
		Description: "looks generated",
		FlaggerHash: []byte("h"),
		CreatedAt:   time.Now().UTC(),
		Status:      model.FlagPending,
	}
	mock.ExpectExec(`INSERT INTO flags`).
		WithArgs(f.ID, f.ContentID, "spam", f.Description, f.FlaggerHash, f.CreatedAt, "pending").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.SaveFlag(ctx, f))
}

func TestFlagRepo_UpdateFlagStatus(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewFlagRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`UPDATE flags SET status=\$2 WHERE id=\$1`).
		WithArgs(id, "resolved").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.UpdateFlagStatus(ctx, id, model.FlagResolved))

	mock.ExpectExec(`UPDATE flags SET status=\$2 WHERE id=\$1`).
		WithArgs(id, "resolved").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := r.UpdateFlagStatus(ctx, id, model.FlagResolved)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestFlagRepo_SaveAction_OK_and_Duplicate(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewFlagRepo(db)
	ctx := context.Background()

	a := model.ModerationAction{
		ID:          uuid.Must(uuid.NewV4()),
		FlagID:      uuid.Must(uuid.NewV4()),
		ModeratorID: "mod-1",
		Action:      model.ActionRemove,
		Reason:      "confirmed spam",
		At:          time.Now().UTC(),
	}
	mock.ExpectExec(`INSERT INTO moderation_actions`).
		WithArgs(a.ID, a.FlagID, a.ModeratorID, "remove", a.Reason, a.At).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.SaveAction(ctx, a))

	mock.ExpectExec(`INSERT INTO moderation_actions`).
		WithArgs(a.ID, a.FlagID, a.ModeratorID, "remove", a.Reason, a.At).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	err := r.SaveAction(ctx, a)
	require.ErrorIs(t, err, errs.ErrDuplicateKey)
}

func TestFlagRepo_ListActions(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewFlagRepo(db)
	ctx := context.Background()
	flagID := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id, flag_id, moderator_id, action, reason, created_at FROM moderation_actions WHERE flag_id=\$1 ORDER BY created_at ASC`).
		WithArgs(flagID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "flag_id", "moderator_id", "action", "reason", "created_at"}).
			AddRow(uuid.Must(uuid.NewV4()), flagID, "mod-1", "approve", "unfounded", time.Now().UTC()))
	actions, err := r.ListActions(ctx, flagID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, model.ActionApprove, actions[0].Action)
}
