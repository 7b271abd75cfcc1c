package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appctx "stockledger/internal/core/context"
)

func observed(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := Default()
	SetDefault(&Logger{zap.New(core).Sugar()})
	t.Cleanup(func() { SetDefault(prev) })
	return logs
}

func TestContextFields(t *testing.T) {
	logs := observed(t)

	ctx := appctx.WithTrace(context.Background(), &appctx.TraceContext{TraceID: "t1", RequestID: "r1"})
	ctx = appctx.WithActor(ctx, &appctx.ActorContext{ActorID: "alice", Source: "http"})
	ctx = ContextWith(ctx, "position", "M1@W1")

	Info(ctx, "admitted", "sequence", 7)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "t1", fields["trace_id"])
	assert.Equal(t, "r1", fields["request_id"])
	assert.Equal(t, "alice", fields["actor_id"])
	assert.Equal(t, "http", fields["actor_source"])
	assert.Equal(t, "M1@W1", fields["position"])
	assert.EqualValues(t, 7, fields["sequence"])
}

func TestContextWith_DoesNotLeakIntoParent(t *testing.T) {
	logs := observed(t)

	parent := ContextWith(context.Background(), "a", 1)
	_ = ContextWith(parent, "b", 2)
	Warn(parent, "parent only")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Contains(t, fields, "a")
	assert.NotContains(t, fields, "b")
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	l, err := New(Config{Level: "chatty", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	assert.False(t, l.Desugar().Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Desugar().Core().Enabled(zapcore.InfoLevel))
}
