// Package model defines domain entities used by the trust engine and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// KeyFormat identifies the algorithm and encoding of a trusted key.
type KeyFormat string

// Supported key formats. Keys are stored and listed as PEM (PKIX).
const (
	KeyFormatRSASHA256 KeyFormat = "rsa-sha256" // RSA PKCS#1 v1.5 over SHA-256
	KeyFormatEd25519   KeyFormat = "ed25519"
)

// TrustedKey is a registered public key. Immutable once added except for
// revocation, which is a monotonic transition (active -> revoked, never back).
type TrustedKey struct {
	ID        string // hex BLAKE2b-256 fingerprint of the PKIX DER bytes
	PublicKey []byte // PEM-encoded PKIX public key
	Format    KeyFormat
	AddedAt   time.Time
	RevokedAt *time.Time // nil while active
}

// Active reports whether the key participates in verification.
func (k TrustedKey) Active() bool { return k.RevokedAt == nil }

// KeyAuditEvent is one entry of the key store's append-only audit trail.
type KeyAuditEvent struct {
	KeyID  string
	Action string // "add" or "revoke"
	At     time.Time
}

// Submission is an externally produced record awaiting verification.
// Immutable after creation; verification and consensus attach derived
// records rather than mutating it.
type Submission struct {
	ContentID   string         // opaque handle into external storage
	Payload     map[string]any // order-insensitive key set
	Signature   []byte
	SignerClaim string // asserted by the submitter, never authoritative
	ReceivedAt  time.Time
}

// Outcome classifies one verification attempt.
type Outcome string

const (
	OutcomeValid        Outcome = "valid"
	OutcomeInvalid      Outcome = "invalid"
	OutcomeNoTrustedKey Outcome = "no_trusted_key"
)

// VerificationOutcome records one verification attempt for a submission.
// Re-running against the same key set and payload yields the same outcome.
type VerificationOutcome struct {
	ContentID    string
	MatchedKeyID string // empty when no trusted key validated the payload
	Outcome      Outcome
	VerifiedAt   time.Time
}

// VoteChoice is a verifier's verdict on a submission.
type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
)

// VerifierVote is a single verifier's signed verdict. A resubmitted vote from
// the same verifier replaces the prior one while consensus is still pending.
type VerifierVote struct {
	ContentID  string
	VerifierID string
	Choice     VoteChoice
	Confidence float64 // 0.0 - 1.0
	CastAt     time.Time
	Signature  []byte // over the canonical vote message, verifier's Ed25519 key
}

// ConsensusStatus is the state of a submission's consensus.
type ConsensusStatus string

const (
	StatusPending  ConsensusStatus = "pending"
	StatusVerified ConsensusStatus = "verified"
	StatusRejected ConsensusStatus = "rejected"
	StatusExpired  ConsensusStatus = "expired"
)

// Terminal reports whether the status is sticky.
func (s ConsensusStatus) Terminal() bool {
	return s == StatusVerified || s == StatusRejected || s == StatusExpired
}

// ConsensusResult is the aggregate the engine recomputes on each vote.
// Terminal results are immutable apart from the explicit moderation override.
type ConsensusResult struct {
	ContentID        string
	RequiredVotes    int
	ReceivedVotes    int
	ApproveWeight    float64
	RejectWeight     float64
	ConsensusReached bool
	FinalStatus      ConsensusStatus
	DecidedAt        *time.Time // nil while pending
}

// FlagReason is an enumerated flag category.
type FlagReason string

const (
	FlagReasonInaccurate    FlagReason = "inaccurate"
	FlagReasonInappropriate FlagReason = "inappropriate"
	FlagReasonSpam          FlagReason = "spam"
	FlagReasonOther         FlagReason = "other"
)

// FlagStatus is the lifecycle state of a flag.
type FlagStatus string

const (
	FlagPending  FlagStatus = "pending"
	FlagInReview FlagStatus = "in_review"
	FlagResolved FlagStatus = "resolved"
)

// Flag is an anonymous report against content. FlaggerHash is a stable hash
// of the opaque flagger token; raw tokens are never stored.
type Flag struct {
	ID          uuid.UUID
	ContentID   string
	Reason      FlagReason
	Description string
	FlaggerHash []byte
	CreatedAt   time.Time
	Status      FlagStatus
}

// ModerationVerb is the action taken when resolving a flag.
type ModerationVerb string

const (
	ActionApprove ModerationVerb = "approve" // dismiss the flag, content stands
	ActionRemove  ModerationVerb = "remove"  // force consensus to rejected
	ActionEdit    ModerationVerb = "edit"    // send content back for re-verification
)

// ModerationAction is one entry of the append-only moderation audit log.
type ModerationAction struct {
	ID          uuid.UUID
	FlagID      uuid.UUID
	ModeratorID string
	Action      ModerationVerb
	Reason      string
	At          time.Time
}

// Verifier is a registered voting participant. Reputation lives in [0,1]
// and starts at the neutral default for new verifiers.
type Verifier struct {
	ID          string
	PublicKey   []byte // PEM-encoded Ed25519 key used to check vote signatures
	Reputation  float64
	OriginClass string // declared network-origin bucket, used for co-assignment diversity
	LastActive  time.Time
}
