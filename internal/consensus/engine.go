// Package consensus aggregates verifier votes into per-submission decisions
// under a quorum rule with a bounded verification window. The engine owns all
// ConsensusResult transitions; votes and flags are inputs it reads, never
// mutates in place.
package consensus

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/model"
)

// Defaults per the verification protocol.
const (
	DefaultQuorum = 3
	DefaultWindow = 24 * time.Hour
)

// ReputationSource supplies per-verifier weights at evaluation time.
// Implemented by the verifier pool.
type ReputationSource interface {
	Reputation(verifierID string) float64
}

// Engine tracks consensus state per submission. Unrelated submissions are
// fully independent: each entry carries its own lock, so vote recording
// serializes per submission without a global critical section.
type Engine struct {
	mu      sync.RWMutex
	entries map[string]*entry

	required int
	window   time.Duration
	reps     ReputationSource
	clk      clock.Clock
	log      *zap.Logger
}

type entry struct {
	mu          sync.Mutex
	result      model.ConsensusResult
	votes       map[string]model.VerifierVote
	windowStart time.Time
}

// New constructs an Engine. required <= 0 and window <= 0 select the defaults.
func New(required int, window time.Duration, reps ReputationSource, clk clock.Clock, log *zap.Logger) *Engine {
	if required <= 0 {
		required = DefaultQuorum
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		entries:  make(map[string]*entry),
		required: required,
		window:   window,
		reps:     reps,
		clk:      clk,
		log:      log,
	}
}

// Begin opens the verification window for a submission at first assignment.
// Idempotent: a submission already tracked keeps its original window.
func (e *Engine) Begin(contentID string) model.ConsensusResult {
	ent := e.entry(contentID, true)
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.result
}

// RecordVote applies one verifier vote and re-evaluates the quorum rule.
// A repeat vote from the same verifier replaces the prior one while the
// consensus is still pending (last-write rule); votes against a terminal
// consensus fail with errs.ErrFinalized. Unknown submissions fail with
// errs.ErrNotFound.
func (e *Engine) RecordVote(vote model.VerifierVote) (model.ConsensusResult, error) {
	ent := e.entry(vote.ContentID, false)
	if ent == nil {
		return model.ConsensusResult{}, fmt.Errorf("consensus %s: %w", vote.ContentID, errs.ErrNotFound)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	now := e.clk.Now().UTC()
	e.evaluateLocked(ent, now)
	if ent.result.FinalStatus.Terminal() {
		return ent.result, fmt.Errorf("consensus %s: %w", vote.ContentID, errs.ErrFinalized)
	}
	if _, dup := ent.votes[vote.VerifierID]; dup {
		e.log.Debug("vote replaced before finalization",
			zap.String("content_id", vote.ContentID),
			zap.String("verifier_id", vote.VerifierID),
		)
	}
	ent.votes[vote.VerifierID] = vote
	e.recomputeLocked(ent)
	e.decideLocked(ent, now)
	return ent.result, nil
}

// Result returns the current consensus aggregate, lazily applying window
// expiry by timestamp comparison; no caller ever blocks on the window.
func (e *Engine) Result(contentID string) (model.ConsensusResult, error) {
	ent := e.entry(contentID, false)
	if ent == nil {
		return model.ConsensusResult{}, fmt.Errorf("consensus %s: %w", contentID, errs.ErrNotFound)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	e.evaluateLocked(ent, e.clk.Now().UTC())
	return ent.result, nil
}

// Votes returns the recorded choice per verifier, used for reputation settlement.
func (e *Engine) Votes(contentID string) map[string]model.VoteChoice {
	ent := e.entry(contentID, false)
	if ent == nil {
		return nil
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	out := make(map[string]model.VoteChoice, len(ent.votes))
	for id, v := range ent.votes {
		out[id] = v.Choice
	}
	return out
}

// ForceReject is the moderation override: the submission transitions to
// rejected regardless of prior vote weights or current state. Human
// resolution always wins over automated consensus.
func (e *Engine) ForceReject(contentID string) model.ConsensusResult {
	ent := e.entry(contentID, true)
	ent.mu.Lock()
	defer ent.mu.Unlock()

	now := e.clk.Now().UTC()
	ent.result.FinalStatus = model.StatusRejected
	ent.result.ConsensusReached = true
	ent.result.DecidedAt = &now
	e.log.Info("consensus overridden to rejected", zap.String("content_id", contentID))
	return ent.result
}

// Reopen returns a submission to pending with a fresh window and a clean
// vote set, for re-verification after expiry or a moderation decision.
func (e *Engine) Reopen(contentID string) model.ConsensusResult {
	ent := e.entry(contentID, true)
	ent.mu.Lock()
	defer ent.mu.Unlock()

	ent.votes = make(map[string]model.VerifierVote)
	ent.windowStart = e.clk.Now().UTC()
	ent.result = model.ConsensusResult{
		ContentID:     contentID,
		RequiredVotes: e.required,
		FinalStatus:   model.StatusPending,
	}
	return ent.result
}

// SweepExpired applies window expiry across all tracked submissions and
// returns the results that transitioned during this sweep, so the caller can
// settle reputation and schedule re-assignment.
func (e *Engine) SweepExpired() []model.ConsensusResult {
	e.mu.RLock()
	ids := make([]string, 0, len(e.entries))
	for id := range e.entries {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	now := e.clk.Now().UTC()
	var expired []model.ConsensusResult
	for _, id := range ids {
		ent := e.entry(id, false)
		if ent == nil {
			continue
		}
		ent.mu.Lock()
		was := ent.result.FinalStatus
		e.evaluateLocked(ent, now)
		if was == model.StatusPending && ent.result.FinalStatus == model.StatusExpired {
			expired = append(expired, ent.result)
		}
		ent.mu.Unlock()
	}
	return expired
}

func (e *Engine) entry(contentID string, create bool) *entry {
	e.mu.RLock()
	ent, ok := e.entries[contentID]
	e.mu.RUnlock()
	if ok || !create {
		return ent
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok = e.entries[contentID]; ok {
		return ent
	}
	ent = &entry{
		votes:       make(map[string]model.VerifierVote),
		windowStart: e.clk.Now().UTC(),
		result: model.ConsensusResult{
			ContentID:     contentID,
			RequiredVotes: e.required,
			FinalStatus:   model.StatusPending,
		},
	}
	e.entries[contentID] = ent
	return ent
}

// evaluateLocked applies window expiry. Expiry means "not yet verified",
// never "rejected": an expired submission can be reopened for another window.
func (e *Engine) evaluateLocked(ent *entry, now time.Time) {
	if ent.result.FinalStatus != model.StatusPending {
		return
	}
	if now.Before(ent.windowStart.Add(e.window)) {
		return
	}
	ent.result.FinalStatus = model.StatusExpired
	ent.result.DecidedAt = &now
}

func (e *Engine) recomputeLocked(ent *entry) {
	var approve, reject float64
	for _, v := range ent.votes {
		w := v.Confidence * e.reps.Reputation(v.VerifierID)
		if v.Choice == model.VoteApprove {
			approve += w
		} else {
			reject += w
		}
	}
	ent.result.ApproveWeight = approve
	ent.result.RejectWeight = reject
	ent.result.ReceivedVotes = len(ent.votes)
}

// decideLocked applies the quorum rule: enough votes and a strict weighted
// majority. An exact tie stays pending until a tie-breaking vote arrives or
// the window expires.
func (e *Engine) decideLocked(ent *entry, now time.Time) {
	if ent.result.ReceivedVotes < ent.result.RequiredVotes {
		return
	}
	switch {
	case ent.result.ApproveWeight > ent.result.RejectWeight:
		ent.result.FinalStatus = model.StatusVerified
	case ent.result.RejectWeight > ent.result.ApproveWeight:
		ent.result.FinalStatus = model.StatusRejected
	default:
		return
	}
	ent.result.ConsensusReached = true
	ent.result.DecidedAt = &now
}
