package logging

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// TraceIDField is the log field carrying the run's trace id.
const TraceIDField = "trace_id"

type traceIDKey struct{}

// FromContext returns the logger stored in ctx with the trace id attached.
// Without a stored logger it returns a disabled logger, so library code can
// log unconditionally.
func FromContext(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	id := TraceIDFromContext(ctx)
	if id == "" || l.GetLevel() == zerolog.Disabled {
		return l
	}
	tagged := l.With().Str(TraceIDField, id).Logger()
	return &tagged
}

// NewTraceID returns a new lexically sortable trace id.
func NewTraceID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// ContextWithTraceID stores a trace id in ctx.
func ContextWithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

// TraceIDFromContext returns the trace id stored in ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// GetOrGenerateTraceID returns the trace id in ctx, generating one if absent.
func GetOrGenerateTraceID(ctx context.Context) string {
	if id := TraceIDFromContext(ctx); id != "" {
		return id
	}
	return NewTraceID()
}
