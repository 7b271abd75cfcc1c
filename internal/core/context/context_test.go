package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTrace_Defaults(t *testing.T) {
	tr := NewTrace("", "")
	assert.NotEmpty(t, tr.RequestID)
	assert.Equal(t, tr.RequestID, tr.TraceID)

	tr = NewTrace("req-1", "trace-1")
	assert.Equal(t, "req-1", tr.RequestID)
	assert.Equal(t, "trace-1", tr.TraceID)
}

func TestTraceAndActorRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetTrace(ctx))
	assert.Empty(t, GetActorID(ctx))

	ctx = WithTrace(ctx, NewTraceContext(ctx))
	ctx = WithActor(ctx, &ActorContext{ActorID: "bob", Source: "cli"})

	assert.NotNil(t, GetTrace(ctx))
	assert.Equal(t, "bob", GetActorID(ctx))
}
