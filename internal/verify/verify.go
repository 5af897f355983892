// Package verify checks submission signatures against the trusted key set.
// A single trusted signer establishes authenticity; independent corroboration
// is the consensus engine's job, not this package's.
package verify

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/veritasnet/trustcore/internal/cache"
	"github.com/veritasnet/trustcore/internal/canonical"
	pkgcrypto "github.com/veritasnet/trustcore/internal/crypto"
	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/keystore"
	"github.com/veritasnet/trustcore/internal/model"
)

// Verifier validates submissions against key store snapshots.
type Verifier struct {
	keys  *keystore.Store
	cache *cache.Outcomes // optional
	clk   clock.Clock
	log   *zap.Logger
}

// New constructs a Verifier. cache may be nil to disable outcome caching.
func New(keys *keystore.Store, outcomes *cache.Outcomes, clk clock.Clock, log *zap.Logger) *Verifier {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{keys: keys, cache: outcomes, clk: clk, log: log}
}

// Verify canonicalizes the submission payload and scans the current key
// snapshot in key-id order, stopping at the first trusted key that validates
// the signature. Outcomes:
//   - valid: a trusted key matched (MatchedKeyID reports the first match)
//   - invalid: the snapshot was non-empty and no key matched
//   - no_trusted_key: the snapshot was empty; callers must not treat this as
//     a rejection
//
// Errors are reserved for submissions that never enter verification:
// errs.ErrMalformedSubmission for unsupported payload types and
// errs.ErrMalformedSignature for empty signature bytes.
func (v *Verifier) Verify(ctx context.Context, sub model.Submission) (model.VerificationOutcome, error) {
	if len(sub.Signature) == 0 {
		return model.VerificationOutcome{}, fmt.Errorf("submission %s: %w", sub.ContentID, errs.ErrMalformedSignature)
	}
	message, err := canonical.Encode(sub.Payload)
	if err != nil {
		return model.VerificationOutcome{}, fmt.Errorf("submission %s: %w", sub.ContentID, err)
	}

	snap := v.keys.Snapshot()
	if v.cache != nil {
		if out, ok := v.cache.Get(sub.ContentID, snap.Version); ok {
			return out, nil
		}
	}

	out := model.VerificationOutcome{
		ContentID:  sub.ContentID,
		Outcome:    model.OutcomeNoTrustedKey,
		VerifiedAt: v.clk.Now().UTC(),
	}
	if len(snap.Keys) > 0 {
		out.Outcome = model.OutcomeInvalid
		for _, k := range snap.Keys {
			if ctx.Err() != nil {
				return model.VerificationOutcome{}, ctx.Err()
			}
			pub, perr := pkgcrypto.ParsePublicKey(k.PublicKey, k.Format)
			if perr != nil {
				// Keys are validated on add; an unparsable stored key is an anomaly.
				v.log.Warn("skipping unparsable trusted key", zap.String("key_id", k.ID), zap.Error(perr))
				continue
			}
			ok, verr := pkgcrypto.Verify(k.Format, pub, message, sub.Signature)
			if verr != nil {
				v.log.Warn("key unusable for verification", zap.String("key_id", k.ID), zap.Error(verr))
				continue
			}
			if ok {
				out.Outcome = model.OutcomeValid
				out.MatchedKeyID = k.ID
				break
			}
		}
	}

	if out.Outcome == model.OutcomeValid && sub.SignerClaim != "" && sub.SignerClaim != out.MatchedKeyID {
		// signer_claim is non-authoritative metadata; a mismatch is logged,
		// never acted on.
		v.log.Info("signer claim disagrees with matched key",
			zap.String("content_id", sub.ContentID),
			zap.String("signer_claim", sub.SignerClaim),
			zap.String("matched_key_id", out.MatchedKeyID),
		)
	}

	if v.cache != nil {
		v.cache.Put(sub.ContentID, snap.Version, out)
	}
	return out, nil
}
