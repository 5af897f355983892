// Package convert maps between HTTP wire types and domain models.
package convert

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/model"
	"github.com/veritasnet/trustcore/internal/moderation"
	"github.com/veritasnet/trustcore/internal/service"
)

// SubmissionRequest is the ingest payload. Signature travels base64-encoded
// next to the payload, never inside it; a top-level "signature" key in the
// payload is ignored by canonical encoding either way.
type SubmissionRequest struct {
	ContentID   string         `json:"content_id"`
	Payload     map[string]any `json:"payload"`
	Signature   string         `json:"signature"`
	SignerClaim string         `json:"signer_claim,omitempty"`
}

// VoteRequest is a verifier's vote on a submission.
type VoteRequest struct {
	VerifierID string  `json:"verifier_id"`
	Choice     string  `json:"choice"`
	Confidence float64 `json:"confidence"`
	Signature  string  `json:"signature,omitempty"`
}

// FlagRequest is an anonymous flag against content.
type FlagRequest struct {
	ContentID    string `json:"content_id"`
	Reason       string `json:"reason"`
	Description  string `json:"description,omitempty"`
	FlaggerToken string `json:"flagger_token"`
}

// AddKeyRequest registers trusted key material.
type AddKeyRequest struct {
	PublicKey string `json:"public_key"`
	Format    string `json:"format"`
}

// ResolveRequest is a moderator's decision on a flag.
type ResolveRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// VerifierRequest registers a voting participant.
type VerifierRequest struct {
	ID          string `json:"id"`
	PublicKey   string `json:"public_key,omitempty"`
	OriginClass string `json:"origin_class,omitempty"`
}

// ReassignRequest replaces an assigned verifier.
type ReassignRequest struct {
	VerifierID string `json:"verifier_id"`
}

// OutcomeResponse mirrors model.VerificationOutcome.
type OutcomeResponse struct {
	ContentID    string    `json:"content_id"`
	MatchedKeyID string    `json:"matched_key_id,omitempty"`
	Outcome      string    `json:"outcome"`
	VerifiedAt   time.Time `json:"verified_at"`
}

// ConsensusResponse mirrors model.ConsensusResult.
type ConsensusResponse struct {
	ContentID        string     `json:"content_id"`
	RequiredVotes    int        `json:"required_votes"`
	ReceivedVotes    int        `json:"received_votes"`
	ApproveWeight    float64    `json:"approve_weight"`
	RejectWeight     float64    `json:"reject_weight"`
	ConsensusReached bool       `json:"consensus_reached"`
	FinalStatus      string     `json:"final_status"`
	DecidedAt        *time.Time `json:"decided_at,omitempty"`
}

// SubmitResponse pairs the immediate outcome with the opened consensus.
type SubmitResponse struct {
	Outcome   OutcomeResponse   `json:"outcome"`
	Consensus ConsensusResponse `json:"consensus"`
}

// StatusResponse is the combined badge view.
type StatusResponse struct {
	Outcome   OutcomeResponse   `json:"outcome"`
	Consensus ConsensusResponse `json:"consensus"`
	Display   string            `json:"display"`
}

// FlagResponse mirrors model.Flag without the flagger hash.
type FlagResponse struct {
	ID          string    `json:"id"`
	ContentID   string    `json:"content_id"`
	Reason      string    `json:"reason"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// QueueEntryResponse is one moderation queue slot.
type QueueEntryResponse struct {
	ContentID string         `json:"content_id"`
	FlagCount int            `json:"flag_count"`
	Flags     []FlagResponse `json:"flags"`
}

// ActionResponse mirrors model.ModerationAction.
type ActionResponse struct {
	ID          string    `json:"id"`
	FlagID      string    `json:"flag_id"`
	ModeratorID string    `json:"moderator_id"`
	Action      string    `json:"action"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// KeyResponse is one active trusted key in stable PEM.
type KeyResponse struct {
	KeyID     string    `json:"key_id"`
	PublicKey string    `json:"public_key"`
	Format    string    `json:"format"`
	AddedAt   time.Time `json:"added_at"`
}

// ToSubmission validates and decodes an ingest request.
func ToSubmission(req SubmissionRequest, receivedAt time.Time) (model.Submission, error) {
	if req.ContentID == "" {
		return model.Submission{}, fmt.Errorf("content_id: %w", errs.ErrMalformedSubmission)
	}
	if req.Payload == nil {
		return model.Submission{}, fmt.Errorf("payload: %w", errs.ErrMalformedSubmission)
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil || len(sig) == 0 {
		return model.Submission{}, fmt.Errorf("signature: %w", errs.ErrMalformedSignature)
	}
	return model.Submission{
		ContentID:   req.ContentID,
		Payload:     req.Payload,
		Signature:   sig,
		SignerClaim: req.SignerClaim,
		ReceivedAt:  receivedAt,
	}, nil
}

// ToVote validates and decodes a vote request for the given submission.
func ToVote(contentID string, req VoteRequest, castAt time.Time) (model.VerifierVote, error) {
	if req.VerifierID == "" {
		return model.VerifierVote{}, fmt.Errorf("verifier_id: %w", errs.ErrMalformedSubmission)
	}
	var sig []byte
	if req.Signature != "" {
		var err error
		if sig, err = base64.StdEncoding.DecodeString(req.Signature); err != nil {
			return model.VerifierVote{}, fmt.Errorf("signature: %w", errs.ErrMalformedSignature)
		}
	}
	return model.VerifierVote{
		ContentID:  contentID,
		VerifierID: req.VerifierID,
		Choice:     model.VoteChoice(req.Choice),
		Confidence: req.Confidence,
		CastAt:     castAt,
		Signature:  sig,
	}, nil
}

// FromOutcome maps a verification outcome to its wire form.
func FromOutcome(o model.VerificationOutcome) OutcomeResponse {
	return OutcomeResponse{
		ContentID:    o.ContentID,
		MatchedKeyID: o.MatchedKeyID,
		Outcome:      string(o.Outcome),
		VerifiedAt:   o.VerifiedAt,
	}
}

// FromConsensus maps a consensus aggregate to its wire form.
func FromConsensus(res model.ConsensusResult) ConsensusResponse {
	return ConsensusResponse{
		ContentID:        res.ContentID,
		RequiredVotes:    res.RequiredVotes,
		ReceivedVotes:    res.ReceivedVotes,
		ApproveWeight:    res.ApproveWeight,
		RejectWeight:     res.RejectWeight,
		ConsensusReached: res.ConsensusReached,
		FinalStatus:      string(res.FinalStatus),
		DecidedAt:        res.DecidedAt,
	}
}

// FromStatus maps the combined badge view.
func FromStatus(st service.Status) StatusResponse {
	return StatusResponse{
		Outcome:   FromOutcome(st.Outcome),
		Consensus: FromConsensus(st.Consensus),
		Display:   st.Display,
	}
}

// FromFlag maps a flag to its wire form. The flagger hash stays private.
func FromFlag(f model.Flag) FlagResponse {
	return FlagResponse{
		ID:          f.ID.String(),
		ContentID:   f.ContentID,
		Reason:      string(f.Reason),
		Description: f.Description,
		Status:      string(f.Status),
		CreatedAt:   f.CreatedAt,
	}
}

// FromQueue maps the moderation queue.
func FromQueue(entries []moderation.Entry) []QueueEntryResponse {
	out := make([]QueueEntryResponse, 0, len(entries))
	for _, e := range entries {
		flags := make([]FlagResponse, 0, len(e.Flags))
		for _, f := range e.Flags {
			flags = append(flags, FromFlag(f))
		}
		out = append(out, QueueEntryResponse{ContentID: e.ContentID, FlagCount: e.FlagCount, Flags: flags})
	}
	return out
}

// FromAction maps a moderation action.
func FromAction(a model.ModerationAction) ActionResponse {
	return ActionResponse{
		ID:          a.ID.String(),
		FlagID:      a.FlagID.String(),
		ModeratorID: a.ModeratorID,
		Action:      string(a.Action),
		Reason:      a.Reason,
		At:          a.At,
	}
}

// FromKeys maps active trusted keys.
func FromKeys(keys []model.TrustedKey) []KeyResponse {
	out := make([]KeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyResponse{
			KeyID:     k.ID,
			PublicKey: string(k.PublicKey),
			Format:    string(k.Format),
			AddedAt:   k.AddedAt,
		})
	}
	return out
}
