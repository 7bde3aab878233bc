package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	executionIDKey ctxKey = iota
	agentTypeKey
	actorIDKey
)

// WithExecutionID returns a context with the execution ID set.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// WithAgentType returns a context with the agent type set.
func WithAgentType(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, agentTypeKey, t)
}

// WithActorID returns a context with the actor ID set.
func WithActorID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, actorIDKey, id)
}

// ExecutionID extracts the execution ID from the context, or "" if absent.
func ExecutionID(ctx context.Context) string {
	v, _ := ctx.Value(executionIDKey).(string)
	return v
}

// AgentType extracts the agent type from the context, or "" if absent.
func AgentType(ctx context.Context) string {
	v, _ := ctx.Value(agentTypeKey).(string)
	return v
}

// ActorID extracts the actor ID from the context, or 0 if absent.
func ActorID(ctx context.Context) int64 {
	v, _ := ctx.Value(actorIDKey).(int64)
	return v
}

// WithIDs sets all three correlation IDs on the context at once.
func WithIDs(ctx context.Context, executionID, agentType string, actorID int64) context.Context {
	ctx = WithExecutionID(ctx, executionID)
	ctx = WithAgentType(ctx, agentType)
	ctx = WithActorID(ctx, actorID)
	return ctx
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only present values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := ExecutionID(ctx); id != "" {
		logger = logger.With(slog.String("execution_id", id))
	}
	if t := AgentType(ctx); t != "" {
		logger = logger.With(slog.String("agent_type", t))
	}
	if id := ActorID(ctx); id != 0 {
		logger = logger.With(slog.Int64("actor_id", id))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := ExecutionID(ctx); v != "" {
		r.AddAttrs(slog.String("execution_id", v))
	}
	if v := AgentType(ctx); v != "" {
		r.AddAttrs(slog.String("agent_type", v))
	}
	if v := ActorID(ctx); v != 0 {
		r.AddAttrs(slog.Int64("actor_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
