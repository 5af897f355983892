// Package verifiers tracks the voting participant pool: registration,
// liveness, reputation-weighted assignment and post-consensus reputation
// updates. Persistently wrong or absent verifiers lose weight and work over
// time, which is what makes the consensus Byzantine-tolerant.
package verifiers

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/model"
)

// Reputation tuning. Deltas are deliberately asymmetric: being wrong costs
// more than being right earns, and silence costs least.
const (
	DefaultReputation = 0.5
	agreeDelta        = 0.05
	disagreeDelta     = 0.10
	absentDelta       = 0.02

	// baseWeight keeps zero-reputation verifiers selectable with low
	// probability; selection is never guaranteed nor fully denied.
	baseWeight = 0.05

	// DefaultLiveness bounds how stale a verifier's last heartbeat may be
	// before it stops receiving assignments.
	DefaultLiveness = 5 * time.Minute
)

// Pool owns verifier records and per-submission assignments.
type Pool struct {
	mu          sync.Mutex
	verifiers   map[string]model.Verifier
	assignments map[string]map[string]bool // content_id -> set of verifier ids

	liveness time.Duration
	clk      clock.Clock
	rng      *rand.Rand
	log      *zap.Logger
}

// New constructs a Pool. rng may be seeded for deterministic tests.
func New(liveness time.Duration, clk clock.Clock, rng *rand.Rand, log *zap.Logger) *Pool {
	if liveness <= 0 {
		liveness = DefaultLiveness
	}
	if clk == nil {
		clk = clock.New()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		verifiers:   make(map[string]model.Verifier),
		assignments: make(map[string]map[string]bool),
		liveness:    liveness,
		clk:         clk,
		rng:         rng,
		log:         log,
	}
}

// Register adds or refreshes a verifier. A zero reputation is treated as
// unset and replaced with the neutral default; re-registration keeps the
// earned reputation.
func (p *Pool) Register(v model.Verifier) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.verifiers[v.ID]; ok {
		v.Reputation = existing.Reputation
	} else if v.Reputation == 0 {
		v.Reputation = DefaultReputation
	}
	v.LastActive = p.clk.Now()
	p.verifiers[v.ID] = v
}

// Heartbeat refreshes a verifier's liveness.
func (p *Pool) Heartbeat(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.verifiers[id]
	if !ok {
		return fmt.Errorf("verifier %s: %w", id, errs.ErrNotFound)
	}
	v.LastActive = p.clk.Now()
	p.verifiers[id] = v
	return nil
}

// Get returns a verifier by id.
func (p *Pool) Get(id string) (model.Verifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.verifiers[id]
	if !ok {
		return model.Verifier{}, fmt.Errorf("verifier %s: %w", id, errs.ErrNotFound)
	}
	return v, nil
}

// Reputation returns the current reputation for a verifier, or the neutral
// default for an unknown id.
func (p *Pool) Reputation(id string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.verifiers[id]; ok {
		return v.Reputation
	}
	return DefaultReputation
}

// Assign selects up to k live verifiers for a submission, weighted by
// reputation and spread across origin classes: a candidate sharing an origin
// class with an already selected verifier is only considered once no other
// class remains. Returns errs.ErrNoVerifiers when nobody is eligible.
func (p *Pool) Assign(contentID string, k int) ([]model.Verifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	assigned := p.assignments[contentID]
	if assigned == nil {
		assigned = make(map[string]bool)
	}
	candidates := p.eligibleLocked(assigned)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("assign %s: %w", contentID, errs.ErrNoVerifiers)
	}

	selected := make([]model.Verifier, 0, k)
	usedClasses := make(map[string]bool)
	for len(selected) < k && len(candidates) > 0 {
		pick := p.sampleLocked(candidates, usedClasses)
		selected = append(selected, candidates[pick])
		usedClasses[candidates[pick].OriginClass] = true
		assigned[candidates[pick].ID] = true
		candidates = append(candidates[:pick], candidates[pick+1:]...)
	}
	p.assignments[contentID] = assigned
	return selected, nil
}

// Reassign replaces one assigned verifier that became inactive before voting.
// This is an explicit operation, never an automatic retry.
func (p *Pool) Reassign(contentID, verifierID string) (model.Verifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	assigned := p.assignments[contentID]
	if assigned == nil || !assigned[verifierID] {
		return model.Verifier{}, fmt.Errorf("reassign %s on %s: %w", verifierID, contentID, errs.ErrNotFound)
	}
	candidates := p.eligibleLocked(assigned)
	if len(candidates) == 0 {
		return model.Verifier{}, fmt.Errorf("reassign %s: %w", contentID, errs.ErrNoVerifiers)
	}
	pick := p.sampleLocked(candidates, nil)
	replacement := candidates[pick]

	delete(assigned, verifierID)
	assigned[replacement.ID] = true
	return replacement, nil
}

// Assigned returns the verifier ids currently assigned to a submission.
func (p *Pool) Assigned(contentID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.assignments[contentID]))
	for id := range p.assignments[contentID] {
		ids = append(ids, id)
	}
	return ids
}

// ApplyConsensus settles reputation after a submission reached a terminal
// state. Voters who agreed with the final status gain, voters on the losing
// side lose more, and assignees who never voted lose a little for
// non-participation. Expired windows only penalize silence: there is no
// winning side to agree with. The submission's assignment record is cleared.
func (p *Pool) ApplyConsensus(contentID string, final model.ConsensusStatus, votes map[string]model.VoteChoice) {
	p.mu.Lock()
	defer p.mu.Unlock()

	winning := model.VoteChoice("")
	switch final {
	case model.StatusVerified:
		winning = model.VoteApprove
	case model.StatusRejected:
		winning = model.VoteReject
	}

	for id := range p.assignments[contentID] {
		v, ok := p.verifiers[id]
		if !ok {
			continue
		}
		choice, voted := votes[id]
		switch {
		case !voted:
			v.Reputation = clamp(v.Reputation - absentDelta)
		case winning == "":
			// expired: participation is neither rewarded nor punished
		case choice == winning:
			v.Reputation = clamp(v.Reputation + agreeDelta)
		default:
			v.Reputation = clamp(v.Reputation - disagreeDelta)
		}
		p.verifiers[id] = v
	}
	delete(p.assignments, contentID)
}

// List returns all registered verifiers.
func (p *Pool) List() []model.Verifier {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]model.Verifier, 0, len(p.verifiers))
	for _, v := range p.verifiers {
		out = append(out, v)
	}
	return out
}

// eligibleLocked returns live verifiers not yet assigned to the submission.
func (p *Pool) eligibleLocked(assigned map[string]bool) []model.Verifier {
	cutoff := p.clk.Now().Add(-p.liveness)
	out := make([]model.Verifier, 0, len(p.verifiers))
	for _, v := range p.verifiers {
		if assigned[v.ID] || v.LastActive.Before(cutoff) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// sampleLocked draws one index weighted by reputation. When usedClasses is
// non-nil, candidates from fresh origin classes are preferred; candidates
// from already used classes are only drawn when no fresh class remains.
func (p *Pool) sampleLocked(candidates []model.Verifier, usedClasses map[string]bool) int {
	weigh := func(indices []int) int {
		total := 0.0
		for _, i := range indices {
			total += baseWeight + candidates[i].Reputation
		}
		r := p.rng.Float64() * total
		for _, i := range indices {
			r -= baseWeight + candidates[i].Reputation
			if r <= 0 {
				return i
			}
		}
		return indices[len(indices)-1]
	}

	if usedClasses != nil {
		fresh := make([]int, 0, len(candidates))
		for i, c := range candidates {
			if !usedClasses[c.OriginClass] {
				fresh = append(fresh, i)
			}
		}
		if len(fresh) > 0 {
			return weigh(fresh)
		}
	}
	all := make([]int, len(candidates))
	for i := range candidates {
		all[i] = i
	}
	return weigh(all)
}

func clamp(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
