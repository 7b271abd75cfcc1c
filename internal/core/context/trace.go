package context

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceContext correlates log lines and error responses of one unit of work.
type TraceContext struct {
	TraceID   string
	RequestID string
}

type traceContextKey struct{}

// NewTrace fills in missing identifiers. A missing request id is generated;
// a missing trace id reuses the request id.
func NewTrace(requestID, traceID string) *TraceContext {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if traceID == "" {
		traceID = requestID
	}
	return &TraceContext{TraceID: traceID, RequestID: requestID}
}

// NewTraceContext starts a trace for work that has no inbound request.
// An active OpenTelemetry span in ctx donates its trace id.
func NewTraceContext(ctx context.Context) *TraceContext {
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	return NewTrace("", traceID)
}

func WithTrace(ctx context.Context, t *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, t)
}

// GetTrace returns nil when ctx carries no trace.
func GetTrace(ctx context.Context) *TraceContext {
	t, _ := ctx.Value(traceContextKey{}).(*TraceContext)
	return t
}
