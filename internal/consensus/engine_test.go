package consensus

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/model"
)

// flatReps gives every verifier the same reputation.
type flatReps struct{ rep float64 }

func (f flatReps) Reputation(string) float64 { return f.rep }

func vote(content, verifier string, choice model.VoteChoice, confidence float64) model.VerifierVote {
	return model.VerifierVote{
		ContentID:  content,
		VerifierID: verifier,
		Choice:     choice,
		Confidence: confidence,
	}
}

func TestEngine_WeightedMajorityScenario(t *testing.T) {
	t.Parallel()
	// Two approvals (0.9, 0.8) and one rejection (0.5), all reputation 0.5:
	// approve_weight 0.85 vs reject_weight 0.25 at quorum 3.
	e := New(3, DefaultWindow, flatReps{0.5}, clock.NewMock(), nil)
	e.Begin("c1")

	if _, err := e.RecordVote(vote("c1", "v1", model.VoteApprove, 0.9)); err != nil {
		t.Fatalf("vote v1: %v", err)
	}
	res, err := e.RecordVote(vote("c1", "v2", model.VoteApprove, 0.8))
	if err != nil {
		t.Fatalf("vote v2: %v", err)
	}
	if res.FinalStatus != model.StatusPending {
		t.Fatalf("two votes must not decide at quorum 3, got %s", res.FinalStatus)
	}

	res, err = e.RecordVote(vote("c1", "v3", model.VoteReject, 0.5))
	if err != nil {
		t.Fatalf("vote v3: %v", err)
	}
	if res.FinalStatus != model.StatusVerified || !res.ConsensusReached {
		t.Fatalf("want verified, got %+v", res)
	}
	if math.Abs(res.ApproveWeight-0.85) > 1e-9 || math.Abs(res.RejectWeight-0.25) > 1e-9 {
		t.Fatalf("weights: approve=%v reject=%v", res.ApproveWeight, res.RejectWeight)
	}
	if res.DecidedAt == nil {
		t.Fatalf("terminal result must carry decided_at")
	}
}

func TestEngine_RejectMajority(t *testing.T) {
	t.Parallel()
	e := New(3, DefaultWindow, flatReps{0.5}, clock.NewMock(), nil)
	e.Begin("c1")

	_, _ = e.RecordVote(vote("c1", "v1", model.VoteReject, 0.9))
	_, _ = e.RecordVote(vote("c1", "v2", model.VoteReject, 0.9))
	res, err := e.RecordVote(vote("c1", "v3", model.VoteApprove, 0.4))
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if res.FinalStatus != model.StatusRejected {
		t.Fatalf("want rejected, got %s", res.FinalStatus)
	}
}

func TestEngine_TieStaysPendingUntilTieBreak(t *testing.T) {
	t.Parallel()
	e := New(2, DefaultWindow, flatReps{0.5}, clock.NewMock(), nil)
	e.Begin("c1")

	_, _ = e.RecordVote(vote("c1", "v1", model.VoteApprove, 0.6))
	res, err := e.RecordVote(vote("c1", "v2", model.VoteReject, 0.6))
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if res.FinalStatus != model.StatusPending {
		t.Fatalf("exact tie must stay pending, got %s", res.FinalStatus)
	}

	res, err = e.RecordVote(vote("c1", "v3", model.VoteApprove, 0.1))
	if err != nil {
		t.Fatalf("tie-break vote: %v", err)
	}
	if res.FinalStatus != model.StatusVerified {
		t.Fatalf("tie-break must decide, got %s", res.FinalStatus)
	}
}

func TestEngine_DuplicateVoteReplacesBeforeFinalization(t *testing.T) {
	t.Parallel()
	e := New(3, DefaultWindow, flatReps{0.5}, clock.NewMock(), nil)
	e.Begin("c1")

	_, _ = e.RecordVote(vote("c1", "v1", model.VoteApprove, 0.9))
	res, err := e.RecordVote(vote("c1", "v1", model.VoteReject, 0.4))
	if err != nil {
		t.Fatalf("replacement vote: %v", err)
	}
	if res.ReceivedVotes != 1 {
		t.Fatalf("replacement must not add a vote, got %d", res.ReceivedVotes)
	}
	if res.ApproveWeight != 0 {
		t.Fatalf("replaced approval still weighted: %v", res.ApproveWeight)
	}
}

func TestEngine_VoteAfterTerminalFails(t *testing.T) {
	t.Parallel()
	e := New(1, DefaultWindow, flatReps{0.5}, clock.NewMock(), nil)
	e.Begin("c1")

	if _, err := e.RecordVote(vote("c1", "v1", model.VoteApprove, 0.9)); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := e.RecordVote(vote("c1", "v2", model.VoteReject, 0.9)); !errors.Is(err, errs.ErrFinalized) {
		t.Fatalf("want ErrFinalized, got %v", err)
	}
}

func TestEngine_WindowExpiry(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	e := New(3, 24*time.Hour, flatReps{0.5}, mock, nil)
	e.Begin("c1")

	_, _ = e.RecordVote(vote("c1", "v1", model.VoteApprove, 0.9))
	_, _ = e.RecordVote(vote("c1", "v2", model.VoteApprove, 0.8))

	mock.Add(24*time.Hour + time.Minute)
	res, err := e.Result("c1")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.FinalStatus != model.StatusExpired {
		t.Fatalf("2 of 3 votes after the window must expire, got %s", res.FinalStatus)
	}

	// Expired is terminal for the automatic path.
	if _, err := e.RecordVote(vote("c1", "v3", model.VoteApprove, 0.9)); !errors.Is(err, errs.ErrFinalized) {
		t.Fatalf("want ErrFinalized after expiry, got %v", err)
	}
}

func TestEngine_TerminalStatesAreSticky(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	e := New(1, 24*time.Hour, flatReps{0.5}, mock, nil)
	e.Begin("c1")

	res, err := e.RecordVote(vote("c1", "v1", model.VoteApprove, 0.9))
	if err != nil || res.FinalStatus != model.StatusVerified {
		t.Fatalf("setup: %v %+v", err, res)
	}

	// Window passing must not turn a verified submission into expired.
	mock.Add(48 * time.Hour)
	res, err = e.Result("c1")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.FinalStatus != model.StatusVerified {
		t.Fatalf("terminal state changed automatically: %s", res.FinalStatus)
	}
}

func TestEngine_ForceRejectOverridesVerified(t *testing.T) {
	t.Parallel()
	e := New(1, DefaultWindow, flatReps{0.5}, clock.NewMock(), nil)
	e.Begin("c1")

	res, _ := e.RecordVote(vote("c1", "v1", model.VoteApprove, 0.9))
	if res.FinalStatus != model.StatusVerified {
		t.Fatalf("setup: %+v", res)
	}

	res = e.ForceReject("c1")
	if res.FinalStatus != model.StatusRejected {
		t.Fatalf("moderation override must win, got %s", res.FinalStatus)
	}
}

func TestEngine_ReopenResetsWindowAndVotes(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	e := New(3, 24*time.Hour, flatReps{0.5}, mock, nil)
	e.Begin("c1")
	_, _ = e.RecordVote(vote("c1", "v1", model.VoteApprove, 0.9))

	mock.Add(25 * time.Hour)
	if res, _ := e.Result("c1"); res.FinalStatus != model.StatusExpired {
		t.Fatalf("setup: want expired, got %s", res.FinalStatus)
	}

	res := e.Reopen("c1")
	if res.FinalStatus != model.StatusPending || res.ReceivedVotes != 0 {
		t.Fatalf("reopen: %+v", res)
	}

	// Fresh window: votes are accepted again.
	if _, err := e.RecordVote(vote("c1", "v1", model.VoteApprove, 0.9)); err != nil {
		t.Fatalf("vote after reopen: %v", err)
	}
}

func TestEngine_SweepExpired(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	e := New(3, 24*time.Hour, flatReps{0.5}, mock, nil)
	e.Begin("old")
	mock.Add(12 * time.Hour)
	e.Begin("young")
	mock.Add(13 * time.Hour)

	expired := e.SweepExpired()
	if len(expired) != 1 || expired[0].ContentID != "old" {
		t.Fatalf("want only old expired, got %+v", expired)
	}
	// A second sweep reports nothing new.
	if again := e.SweepExpired(); len(again) != 0 {
		t.Fatalf("sweep must be transition-only, got %+v", again)
	}
}

func TestEngine_UnknownSubmission(t *testing.T) {
	t.Parallel()
	e := New(3, DefaultWindow, flatReps{0.5}, clock.NewMock(), nil)
	if _, err := e.RecordVote(vote("nope", "v1", model.VoteApprove, 0.9)); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := e.Result("nope"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestEngine_ConcurrentVotesSingleSubmission(t *testing.T) {
	t.Parallel()
	e := New(50, DefaultWindow, flatReps{0.5}, clock.NewMock(), nil)
	e.Begin("c1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = e.RecordVote(vote("c1", string(rune('A'+n%26))+string(rune('a'+n/26)), model.VoteApprove, 0.5))
		}(i)
	}
	wg.Wait()

	res, err := e.Result("c1")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.ReceivedVotes != 50 {
		t.Fatalf("want 50 recorded votes, got %d", res.ReceivedVotes)
	}
}
