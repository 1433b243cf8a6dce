package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, Actor(ctx))
	assert.Empty(t, RequestID(ctx))

	ctx = WithActor(ctx, "svc-intake")
	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "svc-intake", Actor(ctx))
	assert.Equal(t, "req-1", RequestID(ctx))
}

func TestNow(t *testing.T) {
	before := time.Now()
	assert.False(t, Now(context.Background()).Before(before))

	pinned := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, pinned, Now(WithTime(context.Background(), pinned)))
}
