// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Tracing instruments requests with OpenTelemetry spans via otelhttp,
// which handles span creation and W3C trace-context propagation
// (traceparent/tracestate). Span names are "METHOD /path" so feed routes
// are distinguishable in the trace backend. Place after RequestID in the
// chain so request IDs are available to span events.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}

// GetTraceID extracts the trace ID from the request context, or "" when
// no trace is active.
func GetTraceID(r *http.Request) string {
	if spanCtx := trace.SpanContextFromContext(r.Context()); spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// GetSpanID extracts the span ID from the request context, or "" when no
// span is active.
func GetSpanID(r *http.Request) string {
	if spanCtx := trace.SpanContextFromContext(r.Context()); spanCtx.IsValid() {
		return spanCtx.SpanID().String()
	}
	return ""
}
