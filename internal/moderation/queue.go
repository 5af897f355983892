// Package moderation orders flagged submissions for human re-review and
// applies resolutions. Resolution is the manual escape valve over automated
// consensus: it is deliberate, audited and at-most-once.
package moderation

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/model"
)

// ConsensusOverride is the engine surface a resolution may drive.
type ConsensusOverride interface {
	ForceReject(contentID string) model.ConsensusResult
	Reopen(contentID string) model.ConsensusResult
}

// Log persists flags and the append-only moderation action trail.
type Log interface {
	SaveFlag(ctx context.Context, f model.Flag) error
	UpdateFlagStatus(ctx context.Context, id uuid.UUID, status model.FlagStatus) error
	SaveAction(ctx context.Context, a model.ModerationAction) error
}

// Entry is one submission in the review queue.
type Entry struct {
	ContentID string
	FlagCount int
	Flags     []model.Flag // oldest first
}

// Queue owns flag lifecycle state. Safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	flags map[uuid.UUID]model.Flag
	// byFlagger dedupes per (content_id, flagger hash): one actor cannot
	// inflate a submission's priority by flagging repeatedly.
	byFlagger map[string]uuid.UUID

	override ConsensusOverride
	log      Log
	clk      clock.Clock
	zlog     *zap.Logger
}

// New constructs a Queue writing through the given persistence log.
func New(override ConsensusOverride, log Log, clk clock.Clock, zlog *zap.Logger) *Queue {
	if clk == nil {
		clk = clock.New()
	}
	if zlog == nil {
		zlog = zap.NewNop()
	}
	return &Queue{
		flags:     make(map[uuid.UUID]model.Flag),
		byFlagger: make(map[string]uuid.UUID),
		override:  override,
		log:       log,
		clk:       clk,
		zlog:      zlog,
	}
}

// Enqueue records a flag. A repeat flag from the same flagger on the same
// content updates the existing entry's metadata instead of opening a second
// queue slot, and reports the existing flag.
func (q *Queue) Enqueue(ctx context.Context, contentID string, reason model.FlagReason, description string, flaggerHash []byte) (model.Flag, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	dedupe := contentID + "/" + hex.EncodeToString(flaggerHash)
	if id, ok := q.byFlagger[dedupe]; ok {
		if f, live := q.flags[id]; live && f.Status != model.FlagResolved {
			f.Reason = reason
			f.Description = description
			q.flags[id] = f
			if err := q.log.SaveFlag(ctx, f); err != nil {
				return model.Flag{}, fmt.Errorf("update flag: %w", err)
			}
			return f, nil
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.Flag{}, err
	}
	f := model.Flag{
		ID:          id,
		ContentID:   contentID,
		Reason:      reason,
		Description: description,
		FlaggerHash: flaggerHash,
		CreatedAt:   q.clk.Now().UTC(),
		Status:      model.FlagPending,
	}
	if err := q.log.SaveFlag(ctx, f); err != nil {
		return model.Flag{}, fmt.Errorf("save flag: %w", err)
	}
	q.flags[id] = f
	q.byFlagger[dedupe] = id
	return f, nil
}

// Get returns a flag by id.
func (q *Queue) Get(id uuid.UUID) (model.Flag, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, ok := q.flags[id]
	if !ok {
		return model.Flag{}, fmt.Errorf("flag %s: %w", id, errs.ErrNotFound)
	}
	return f, nil
}

// MarkInReview moves a pending flag into review.
func (q *Queue) MarkInReview(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, ok := q.flags[id]
	if !ok {
		return fmt.Errorf("flag %s: %w", id, errs.ErrNotFound)
	}
	if f.Status == model.FlagResolved {
		return fmt.Errorf("flag %s: %w", id, errs.ErrAlreadyResolved)
	}
	f.Status = model.FlagInReview
	if err := q.log.UpdateFlagStatus(ctx, id, f.Status); err != nil {
		return fmt.Errorf("update flag status: %w", err)
	}
	q.flags[id] = f
	return nil
}

// List returns the review queue: most-flagged first, then the submission
// whose oldest unresolved flag has waited longest.
func (q *Queue) List() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	byContent := make(map[string][]model.Flag)
	for _, f := range q.flags {
		if f.Status == model.FlagResolved {
			continue
		}
		byContent[f.ContentID] = append(byContent[f.ContentID], f)
	}

	entries := make([]Entry, 0, len(byContent))
	for contentID, flags := range byContent {
		sort.Slice(flags, func(i, j int) bool { return flags[i].CreatedAt.Before(flags[j].CreatedAt) })
		entries = append(entries, Entry{ContentID: contentID, FlagCount: len(flags), Flags: flags})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].FlagCount != entries[j].FlagCount {
			return entries[i].FlagCount > entries[j].FlagCount
		}
		return entries[i].Flags[0].CreatedAt.Before(entries[j].Flags[0].CreatedAt)
	})
	return entries
}

// Resolve closes a flag with a moderation action, exactly once. A concurrent
// second attempt fails with errs.ErrAlreadyResolved. Action `remove` forces
// the submission's consensus to rejected; `edit` sends it back to pending for
// re-verification; `approve` leaves the consensus result standing.
func (q *Queue) Resolve(ctx context.Context, flagID uuid.UUID, moderatorID string, verb model.ModerationVerb, reason string) (model.ModerationAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, ok := q.flags[flagID]
	if !ok {
		return model.ModerationAction{}, fmt.Errorf("flag %s: %w", flagID, errs.ErrNotFound)
	}
	if f.Status == model.FlagResolved {
		return model.ModerationAction{}, fmt.Errorf("flag %s: %w", flagID, errs.ErrAlreadyResolved)
	}

	actionID, err := uuid.NewV4()
	if err != nil {
		return model.ModerationAction{}, err
	}
	action := model.ModerationAction{
		ID:          actionID,
		FlagID:      flagID,
		ModeratorID: moderatorID,
		Action:      verb,
		Reason:      reason,
		At:          q.clk.Now().UTC(),
	}
	if err := q.log.SaveAction(ctx, action); err != nil {
		return model.ModerationAction{}, fmt.Errorf("save action: %w", err)
	}
	if err := q.log.UpdateFlagStatus(ctx, flagID, model.FlagResolved); err != nil {
		return model.ModerationAction{}, fmt.Errorf("update flag status: %w", err)
	}
	f.Status = model.FlagResolved
	q.flags[flagID] = f

	switch verb {
	case model.ActionRemove:
		res := q.override.ForceReject(f.ContentID)
		q.zlog.Info("flag resolution forced rejection",
			zap.String("content_id", f.ContentID),
			zap.String("flag_id", flagID.String()),
			zap.String("final_status", string(res.FinalStatus)),
		)
	case model.ActionEdit:
		q.override.Reopen(f.ContentID)
		q.zlog.Info("flag resolution reopened verification",
			zap.String("content_id", f.ContentID),
			zap.String("flag_id", flagID.String()),
		)
	}
	return action, nil
}
