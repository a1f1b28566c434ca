package grpcserver

import "context"

type ctxKey string

const userIDKey ctxKey = "syncd.userID"

// WithUserID stores an authenticated user ID in context. Handlers trust it
// over the bearer token, so only in-process callers may set it.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromCtx fetches user ID from context.
func UserIDFromCtx(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}
