package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/limiter"
	"github.com/veritasnet/trustcore/internal/model"
	"github.com/veritasnet/trustcore/internal/moderation"
)

// Flag files an anonymous flag. The flagger token is hashed before any
// storage or rate accounting; raw tokens never leave this function.
func (s *TrustServiceImpl) Flag(ctx context.Context, contentID string, reason model.FlagReason, description, flaggerToken string) (model.Flag, error) {
	if contentID == "" {
		return model.Flag{}, errors.New("validation: empty content_id")
	}
	if flaggerToken == "" {
		return model.Flag{}, errors.New("validation: empty flagger token")
	}
	switch reason {
	case model.FlagReasonInaccurate, model.FlagReasonInappropriate, model.FlagReasonSpam, model.FlagReasonOther:
	default:
		return model.Flag{}, errors.New("validation: unknown flag reason")
	}

	hash := limiter.HashToken(flaggerToken)
	allowed, retryAfter, err := s.lim.Allow(ctx, hash)
	if err != nil {
		return model.Flag{}, fmt.Errorf("flag limiter: %w", err)
	}
	if !allowed {
		if s.met != nil {
			s.met.FlagsRateLimited.Inc()
		}
		s.log.Info("flag rate limited", zap.Duration("retry_after", retryAfter))
		return model.Flag{}, errs.ErrRateLimited
	}

	f, err := s.queue.Enqueue(ctx, contentID, reason, description, hash)
	if err != nil {
		return model.Flag{}, err
	}
	if s.met != nil {
		s.met.FlagsTotal.WithLabelValues(string(reason)).Inc()
	}
	return f, nil
}

// ResolveFlag applies a moderator's decision, then finalizes any consensus
// transition the resolution forced.
func (s *TrustServiceImpl) ResolveFlag(ctx context.Context, flagID uuid.UUID, moderatorID string, verb model.ModerationVerb, reason string) (model.ModerationAction, error) {
	if moderatorID == "" {
		return model.ModerationAction{}, errors.New("validation: empty moderator id")
	}
	switch verb {
	case model.ActionApprove, model.ActionRemove, model.ActionEdit:
	default:
		return model.ModerationAction{}, errors.New("validation: unknown moderation action")
	}

	f, err := s.queue.Get(flagID)
	if err != nil {
		return model.ModerationAction{}, err
	}
	action, err := s.queue.Resolve(ctx, flagID, moderatorID, verb, reason)
	if err != nil {
		return model.ModerationAction{}, err
	}

	// `remove` forced the consensus to rejected; settle and persist that.
	if verb == model.ActionRemove {
		if res, rerr := s.engine.Result(f.ContentID); rerr == nil && res.FinalStatus.Terminal() {
			s.settle(ctx, res)
		}
	}
	return action, nil
}

// ModerationQueue returns the ordered review queue.
func (s *TrustServiceImpl) ModerationQueue(ctx context.Context) []moderation.Entry {
	return s.queue.List()
}
