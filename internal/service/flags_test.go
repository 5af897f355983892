package service

import (
	"context"
	"errors"
	"testing"

	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/model"
)

func TestFlag_AcceptedAndQueued(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)

	f, err := env.svc.Flag(ctx, "c1", model.FlagReasonSpam, "auto-generated text", "reader-1")
	if err != nil {
		t.Fatalf("flag: %v", err)
	}
	if f.Status != model.FlagPending {
		t.Fatalf("fresh flag must be pending, got %s", f.Status)
	}
	queue := env.svc.ModerationQueue(ctx)
	if len(queue) != 1 || queue[0].ContentID != "c1" {
		t.Fatalf("queue: %+v", queue)
	}
	if env.lim.calls != 1 {
		t.Fatalf("limiter must be consulted once, got %d", env.lim.calls)
	}
}

func TestFlag_RateLimited(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.lim.allowed = false

	if _, err := env.svc.Flag(ctx, "c1", model.FlagReasonSpam, "", "reader-1"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	if queue := env.svc.ModerationQueue(ctx); len(queue) != 0 {
		t.Fatalf("rate-limited flag must not enqueue: %+v", queue)
	}
}

func TestFlag_Validation(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)

	if _, err := env.svc.Flag(ctx, "", model.FlagReasonSpam, "", "reader-1"); err == nil {
		t.Fatalf("empty content_id must fail")
	}
	if _, err := env.svc.Flag(ctx, "c1", model.FlagReasonSpam, "", ""); err == nil {
		t.Fatalf("empty flagger token must fail")
	}
	if _, err := env.svc.Flag(ctx, "c1", model.FlagReason("bogus"), "", "reader-1"); err == nil {
		t.Fatalf("unknown reason must fail")
	}
	if env.lim.calls != 0 {
		t.Fatalf("validation failures must not consume rate budget")
	}
}

func TestResolveFlag_RemoveForcesRejection(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	priv, pub := genKey(t)
	if _, err := env.svc.AddKey(ctx, pub, model.KeyFormatEd25519); err != nil {
		t.Fatalf("add key: %v", err)
	}
	registerVerifiers(t, env, "v1", "v2", "v3")
	if _, _, err := env.svc.Submit(ctx, signedSubmission(t, priv, "c1")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	f, err := env.svc.Flag(ctx, "c1", model.FlagReasonInappropriate, "", "reader-1")
	if err != nil {
		t.Fatalf("flag: %v", err)
	}
	action, err := env.svc.ResolveFlag(ctx, f.ID, "mod-1", model.ActionRemove, "confirmed")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if action.Action != model.ActionRemove {
		t.Fatalf("action: %+v", action)
	}

	st, err := env.svc.Status(ctx, "c1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Display != "rejected" {
		t.Fatalf("removed content must render rejected, got %q", st.Display)
	}
	if saved := env.repo.consensus["c1"]; saved.FinalStatus != model.StatusRejected {
		t.Fatalf("forced rejection must be persisted, got %+v", saved)
	}
	if len(env.notifier.updates) != 0 {
		t.Fatalf("rejection must not notify content_update")
	}
}

func TestResolveFlag_EditReopens(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	priv, pub := genKey(t)
	if _, err := env.svc.AddKey(ctx, pub, model.KeyFormatEd25519); err != nil {
		t.Fatalf("add key: %v", err)
	}
	registerVerifiers(t, env, "v1", "v2", "v3")
	if _, _, err := env.svc.Submit(ctx, signedSubmission(t, priv, "c1")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	f, _ := env.svc.Flag(ctx, "c1", model.FlagReasonInaccurate, "", "reader-1")
	if _, err := env.svc.ResolveFlag(ctx, f.ID, "mod-1", model.ActionEdit, "re-check"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	res, err := env.engine.Result("c1")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.FinalStatus != model.StatusPending || res.ReceivedVotes != 0 {
		t.Fatalf("edit must reopen with a clean slate: %+v", res)
	}
}

func TestResolveFlag_Validation(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	f, _ := env.svc.Flag(ctx, "c1", model.FlagReasonOther, "", "reader-1")

	if _, err := env.svc.ResolveFlag(ctx, f.ID, "", model.ActionApprove, ""); err == nil {
		t.Fatalf("empty moderator must fail")
	}
	if _, err := env.svc.ResolveFlag(ctx, f.ID, "mod-1", model.ModerationVerb("bogus"), ""); err == nil {
		t.Fatalf("unknown verb must fail")
	}
}
