package httpapi

import "context"

type ctxKey string

const moderatorKey ctxKey = "tc.moderatorID"

// WithModerator stores the authenticated moderator id in context.
func WithModerator(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, moderatorKey, id)
}

// ModeratorFromCtx fetches the moderator id from context.
func ModeratorFromCtx(ctx context.Context) (string, bool) {
	v := ctx.Value(moderatorKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
