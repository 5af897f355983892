// Package service contains the application service orchestrating
// verification, consensus and moderation.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/veritasnet/trustcore/internal/canonical"
	"github.com/veritasnet/trustcore/internal/consensus"
	pkgcrypto "github.com/veritasnet/trustcore/internal/crypto"
	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/keystore"
	"github.com/veritasnet/trustcore/internal/limiter"
	"github.com/veritasnet/trustcore/internal/metrics"
	"github.com/veritasnet/trustcore/internal/model"
	"github.com/veritasnet/trustcore/internal/moderation"
	"github.com/veritasnet/trustcore/internal/repository"
	"github.com/veritasnet/trustcore/internal/verifiers"
	"github.com/veritasnet/trustcore/internal/verify"
)

// Notifier receives content lifecycle events. ContentUpdate fires only for
// submissions that verified cryptographically and reached verified consensus.
type Notifier interface {
	ContentUpdate(ctx context.Context, contentID string)
}

// Status is the combined submission view served to badge renderers.
type Status struct {
	Outcome   model.VerificationOutcome
	Consensus model.ConsensusResult
	// Display is the badge text: verified, rejected, unverified or
	// awaiting re-verification.
	Display string
}

// TrustService is the engine's application surface.
type TrustService interface {
	// Submit verifies a submission, records the outcome and, when valid,
	// assigns verifiers and opens the consensus window.
	Submit(ctx context.Context, sub model.Submission) (model.VerificationOutcome, model.ConsensusResult, error)
	// Vote records a verifier's signed vote and settles reputation when the
	// vote is decisive.
	Vote(ctx context.Context, v model.VerifierVote) (model.ConsensusResult, error)
	// Status returns the combined outcome + consensus view for a submission.
	Status(ctx context.Context, contentID string) (Status, error)

	// Flag files an anonymous flag against content, rate limited per flagger.
	Flag(ctx context.Context, contentID string, reason model.FlagReason, description, flaggerToken string) (model.Flag, error)
	// ResolveFlag applies a moderator's decision to a flag.
	ResolveFlag(ctx context.Context, flagID uuid.UUID, moderatorID string, verb model.ModerationVerb, reason string) (model.ModerationAction, error)
	// ModerationQueue returns the ordered review queue.
	ModerationQueue(ctx context.Context) []moderation.Entry

	// ActiveKeys lists active trusted keys in PEM for external re-verification.
	ActiveKeys(ctx context.Context) []model.TrustedKey
	// AddKey registers trusted key material and persists it.
	AddKey(ctx context.Context, pemBytes []byte, format model.KeyFormat) (string, error)
	// RevokeKey revokes a trusted key.
	RevokeKey(ctx context.Context, keyID string) error

	// RegisterVerifier adds or refreshes a voting participant.
	RegisterVerifier(ctx context.Context, v model.Verifier) error
	// Reassign replaces an assigned verifier that went inactive before voting.
	Reassign(ctx context.Context, contentID, verifierID string) (model.Verifier, error)

	// SweepExpired expires overdue consensus windows and settles reputation.
	SweepExpired(ctx context.Context) int
}

type TrustServiceImpl struct {
	verifier *verify.Verifier
	keys     *keystore.Store
	pool     *verifiers.Pool
	engine   *consensus.Engine
	queue    *moderation.Queue

	outcomes repository.OutcomeRepository
	keyRepo  repository.KeyRepository
	lim      limiter.Limiter

	met      *metrics.Metrics // optional
	notifier Notifier         // optional
	quorum   int
	log      *zap.Logger

	mu          sync.Mutex
	lastOutcome map[string]model.Outcome
}

// Deps bundles TrustService dependencies.
type Deps struct {
	Verifier *verify.Verifier
	Keys     *keystore.Store
	Pool     *verifiers.Pool
	Engine   *consensus.Engine
	Queue    *moderation.Queue
	Outcomes repository.OutcomeRepository
	KeyRepo  repository.KeyRepository
	Limiter  limiter.Limiter
	Metrics  *metrics.Metrics
	Notifier Notifier
	Quorum   int
	Log      *zap.Logger
}

// NewTrustService constructs the service. Metrics and Notifier may be nil.
func NewTrustService(d Deps) *TrustServiceImpl {
	if d.Quorum <= 0 {
		d.Quorum = consensus.DefaultQuorum
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &TrustServiceImpl{
		verifier:    d.Verifier,
		keys:        d.Keys,
		pool:        d.Pool,
		engine:      d.Engine,
		queue:       d.Queue,
		outcomes:    d.Outcomes,
		keyRepo:     d.KeyRepo,
		lim:         d.Limiter,
		met:         d.Metrics,
		notifier:    d.Notifier,
		quorum:      d.Quorum,
		log:         d.Log,
		lastOutcome: make(map[string]model.Outcome),
	}
}

// Submit verifies the submission and opens consensus for valid ones.
// A submission that fails verification is recorded but never assigned.
func (s *TrustServiceImpl) Submit(ctx context.Context, sub model.Submission) (model.VerificationOutcome, model.ConsensusResult, error) {
	if sub.ContentID == "" {
		return model.VerificationOutcome{}, model.ConsensusResult{}, errors.New("validation: empty content_id")
	}

	out, err := s.verifier.Verify(ctx, sub)
	if err != nil {
		return model.VerificationOutcome{}, model.ConsensusResult{}, err
	}
	if s.met != nil {
		s.met.SubmissionsTotal.WithLabelValues(string(out.Outcome)).Inc()
	}
	if err := s.outcomes.SaveOutcome(ctx, out); err != nil {
		return model.VerificationOutcome{}, model.ConsensusResult{}, fmt.Errorf("save outcome: %w", err)
	}
	s.mu.Lock()
	s.lastOutcome[sub.ContentID] = out.Outcome
	s.mu.Unlock()

	if out.Outcome != model.OutcomeValid {
		return out, model.ConsensusResult{ContentID: sub.ContentID, FinalStatus: model.StatusPending}, nil
	}

	res := s.engine.Begin(sub.ContentID)
	if _, err := s.pool.Assign(sub.ContentID, s.quorum); err != nil {
		if !errors.Is(err, errs.ErrNoVerifiers) {
			return out, res, err
		}
		// The window is open; assignment retries via Reassign or re-submission.
		s.log.Warn("no verifiers available for assignment", zap.String("content_id", sub.ContentID))
	}
	if err := s.outcomes.SaveConsensus(ctx, res); err != nil {
		return out, res, fmt.Errorf("save consensus: %w", err)
	}
	return out, res, nil
}

// Vote checks the vote's signature against the verifier's registered key,
// records it and settles reputation when the submission turns terminal.
func (s *TrustServiceImpl) Vote(ctx context.Context, v model.VerifierVote) (model.ConsensusResult, error) {
	if v.Confidence < 0 || v.Confidence > 1 {
		return model.ConsensusResult{}, errors.New("validation: confidence out of [0,1]")
	}
	if v.Choice != model.VoteApprove && v.Choice != model.VoteReject {
		return model.ConsensusResult{}, errors.New("validation: unknown vote choice")
	}
	voter, err := s.pool.Get(v.VerifierID)
	if err != nil {
		return model.ConsensusResult{}, err
	}
	if len(voter.PublicKey) > 0 {
		if err := s.checkVoteSignature(voter, v); err != nil {
			return model.ConsensusResult{}, err
		}
	}

	res, err := s.engine.RecordVote(v)
	if err != nil {
		return res, err
	}
	if s.met != nil {
		s.met.VotesTotal.WithLabelValues(string(v.Choice)).Inc()
	}
	if res.FinalStatus.Terminal() {
		s.settle(ctx, res)
	} else if err := s.outcomes.SaveConsensus(ctx, res); err != nil {
		return res, fmt.Errorf("save consensus: %w", err)
	}
	return res, nil
}

// Status returns the combined view for badge rendering.
func (s *TrustServiceImpl) Status(ctx context.Context, contentID string) (Status, error) {
	outs, err := s.outcomes.ListOutcomes(ctx, contentID)
	if err != nil {
		return Status{}, err
	}
	if len(outs) == 0 {
		return Status{}, fmt.Errorf("submission %s: %w", contentID, errs.ErrNotFound)
	}
	st := Status{Outcome: outs[len(outs)-1]}
	if res, err := s.engine.Result(contentID); err == nil {
		st.Consensus = res
	} else {
		st.Consensus = model.ConsensusResult{ContentID: contentID, FinalStatus: model.StatusPending}
	}
	st.Display = display(st.Outcome.Outcome, st.Consensus.FinalStatus)
	return st, nil
}

// ActiveKeys lists active trusted keys in their stable PEM encoding.
func (s *TrustServiceImpl) ActiveKeys(ctx context.Context) []model.TrustedKey {
	return s.keys.ListActiveKeys()
}

// AddKey registers key material in the store and mirrors it to Postgres.
func (s *TrustServiceImpl) AddKey(ctx context.Context, pemBytes []byte, format model.KeyFormat) (string, error) {
	id, err := s.keys.AddKey(ctx, pemBytes, format)
	if err != nil {
		return "", err
	}
	for _, k := range s.keys.Snapshot().Keys {
		if k.ID != id {
			continue
		}
		if err := s.keyRepo.SaveKey(ctx, k); err != nil && !errors.Is(err, errs.ErrDuplicateKey) {
			return "", fmt.Errorf("persist key: %w", err)
		}
		break
	}
	return id, nil
}

// RevokeKey revokes in the store and mirrors the revocation to Postgres.
func (s *TrustServiceImpl) RevokeKey(ctx context.Context, keyID string) error {
	if err := s.keys.RevokeKey(ctx, keyID); err != nil {
		return err
	}
	if err := s.keyRepo.MarkRevoked(ctx, keyID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("persist revocation: %w", err)
	}
	return nil
}

// RestoreKeys seeds the in-memory store from Postgres at startup.
func (s *TrustServiceImpl) RestoreKeys(ctx context.Context) error {
	keys, err := s.keyRepo.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("restore keys: %w", err)
	}
	s.keys.Seed(keys)
	s.log.Info("trusted keys restored", zap.Int("count", len(keys)))
	return nil
}

// RegisterVerifier adds or refreshes a voting participant. A provided public
// key must be valid Ed25519 PEM.
func (s *TrustServiceImpl) RegisterVerifier(ctx context.Context, v model.Verifier) error {
	if v.ID == "" {
		return errors.New("validation: empty verifier id")
	}
	if len(v.PublicKey) > 0 {
		if _, err := pkgcrypto.ParsePublicKey(v.PublicKey, model.KeyFormatEd25519); err != nil {
			return fmt.Errorf("verifier key: %w", err)
		}
	}
	s.pool.Register(v)
	return nil
}

// Reassign replaces an assigned verifier that went inactive before voting.
func (s *TrustServiceImpl) Reassign(ctx context.Context, contentID, verifierID string) (model.Verifier, error) {
	return s.pool.Reassign(contentID, verifierID)
}

// SweepExpired expires overdue windows, settles reputation for each and
// returns how many submissions transitioned.
func (s *TrustServiceImpl) SweepExpired(ctx context.Context) int {
	expired := s.engine.SweepExpired()
	for _, res := range expired {
		s.settle(ctx, res)
	}
	return len(expired)
}

// settle finalizes a terminal consensus: reputation, durable record, metrics
// and the content_update notification when cryptographic validity and
// consensus agree.
func (s *TrustServiceImpl) settle(ctx context.Context, res model.ConsensusResult) {
	votes := s.engine.Votes(res.ContentID)
	s.pool.ApplyConsensus(res.ContentID, res.FinalStatus, votes)
	if s.met != nil {
		s.met.ConsensusDecisions.WithLabelValues(string(res.FinalStatus)).Inc()
	}
	if err := s.outcomes.SaveConsensus(ctx, res); err != nil {
		s.log.Error("save terminal consensus", zap.String("content_id", res.ContentID), zap.Error(err))
	}

	s.mu.Lock()
	lastOut := s.lastOutcome[res.ContentID]
	s.mu.Unlock()
	if s.notifier != nil && res.FinalStatus == model.StatusVerified && lastOut == model.OutcomeValid {
		s.notifier.ContentUpdate(ctx, res.ContentID)
	}
}

// checkVoteSignature validates the vote against the verifier's Ed25519 key.
// The signed message is the canonical encoding of the vote fields.
func (s *TrustServiceImpl) checkVoteSignature(voter model.Verifier, v model.VerifierVote) error {
	if len(v.Signature) == 0 {
		return fmt.Errorf("vote by %s: %w", v.VerifierID, errs.ErrMalformedSignature)
	}
	msg, err := canonical.Encode(map[string]any{
		"content_id":  v.ContentID,
		"verifier_id": v.VerifierID,
		"choice":      string(v.Choice),
		"confidence":  v.Confidence,
	})
	if err != nil {
		return err
	}
	pub, err := pkgcrypto.ParsePublicKey(voter.PublicKey, model.KeyFormatEd25519)
	if err != nil {
		return fmt.Errorf("verifier key: %w", err)
	}
	ok, err := pkgcrypto.Verify(model.KeyFormatEd25519, pub, msg, v.Signature)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("vote by %s: %w", v.VerifierID, errs.ErrMalformedSignature)
	}
	return nil
}

func display(out model.Outcome, status model.ConsensusStatus) string {
	switch {
	case out == model.OutcomeValid && status == model.StatusVerified:
		return "verified"
	case status == model.StatusRejected:
		return "rejected"
	case status == model.StatusExpired:
		return "awaiting re-verification"
	default:
		return "unverified"
	}
}
