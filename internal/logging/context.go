package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	tenantCtxKey       struct{}
	conversationCtxKey struct{}
	documentCtxKey     struct{}
	requestCtxKey      struct{}
	loggerCtxKey       struct{}
)

const maxIDLen = 128

// Ids come from request paths and bodies, so anything odd is dropped
// rather than written to logs.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 7)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if id := TenantIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("tenant.id", id))
	}
	if id := ConversationIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("conversation.id", id))
	}
	if id := DocumentIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("document.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

func withID(ctx context.Context, key any, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key any) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// WithTenantID adds a tenant id to ctx. Invalid ids are ignored.
func WithTenantID(ctx context.Context, id string) context.Context {
	return withID(ctx, tenantCtxKey{}, id)
}

// TenantIDFromContext returns the tenant id or "".
func TenantIDFromContext(ctx context.Context) string { return idFrom(ctx, tenantCtxKey{}) }

// WithConversationID adds a conversation id to ctx.
func WithConversationID(ctx context.Context, id string) context.Context {
	return withID(ctx, conversationCtxKey{}, id)
}

// ConversationIDFromContext returns the conversation id or "".
func ConversationIDFromContext(ctx context.Context) string {
	return idFrom(ctx, conversationCtxKey{})
}

// WithDocumentID adds a document id to ctx.
func WithDocumentID(ctx context.Context, id string) context.Context {
	return withID(ctx, documentCtxKey{}, id)
}

// DocumentIDFromContext returns the document id or "".
func DocumentIDFromContext(ctx context.Context) string { return idFrom(ctx, documentCtxKey{}) }

// WithRequestID adds a request id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string { return idFrom(ctx, requestCtxKey{}) }

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
