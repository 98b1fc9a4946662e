package core

import (
	"context"

	"github.com/JonMunkholm/catalogimport/internal/queue"
)

type contextKey string

const (
	ctxKeyUserID contextKey = "user_id"
	ctxKeyInline contextKey = "inline_runner"
)

// ContextWithUserID records the authenticated caller for session ownership.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// UserIDFromContext extracts the caller set by ContextWithUserID.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserID).(string); ok {
		return v
	}
	return ""
}

// withInline marks ctx as running inside a synchronous drain so follow-up
// stages join the same runner instead of nesting a new one.
func withInline(ctx context.Context, q *queue.Inline) context.Context {
	return context.WithValue(ctx, ctxKeyInline, q)
}

func inlineFromContext(ctx context.Context) *queue.Inline {
	q, _ := ctx.Value(ctxKeyInline).(*queue.Inline)
	return q
}
