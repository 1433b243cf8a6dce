// Package requestcontext carries request-scoped values through context
// without importing net/http. Middleware writes them; the entity service
// reads them to stamp timestamps and attribute audit events.
package requestcontext

import (
	"context"
	"time"
)

type key int

const (
	actorKey key = iota
	requestIDKey
	requestTimeKey
)

func value[T any](ctx context.Context, k key) (T, bool) {
	v, ok := ctx.Value(k).(T)
	return v, ok
}

// Actor returns the authenticated API principal, empty for background work.
func Actor(ctx context.Context) string {
	actor, _ := value[string](ctx, actorKey)
	return actor
}

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func RequestID(ctx context.Context) string {
	id, _ := value[string](ctx, requestIDKey)
	return id
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Now returns the time pinned by WithTime, or the wall clock when none was
// pinned (the reconciler and other background callers).
func Now(ctx context.Context) time.Time {
	if t, ok := value[time.Time](ctx, requestTimeKey); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the time every store write in this request is stamped with.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey, t)
}
