package tracing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OxyHQ/mention-feed/internal/middleware"
	"github.com/OxyHQ/mention-feed/internal/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return rec
}

// A request through the tracing middleware into a handler that opens a
// rank span and a DB span must yield three spans on one trace.
func TestFeedRequestTrace(t *testing.T) {
	rec := installRecorder(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ctx, endRank := tracing.StartSpan(ctx, "rank_candidates")
		tracing.SetAttributes(ctx, attribute.String("viewer_id", "viewer-1"))

		ctx, endQuery := tracing.StartDBSpan(ctx, "posts", tracing.DBOperationQuery)
		endQuery(nil)

		tracing.AddEvent(ctx, "cache_miss", attribute.String("tier", "local"))
		endRank(nil)

		w.WriteHeader(http.StatusOK)
	})

	traced := middleware.Tracing("mention-feed-api")(handler)
	rr := httptest.NewRecorder()
	traced.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/feeds/for_you", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	spans := rec.Ended()
	if len(spans) != 3 {
		for i, s := range spans {
			t.Logf("span %d: %s", i, s.Name())
		}
		t.Fatalf("recorded %d spans, want 3", len(spans))
	}

	names := make(map[string]bool)
	traceID := spans[0].SpanContext().TraceID()
	for _, s := range spans {
		names[s.Name()] = true
		if s.SpanContext().TraceID() != traceID {
			t.Errorf("span %s is on a different trace", s.Name())
		}
	}
	for _, want := range []string{"GET /feeds/for_you", "rank_candidates", "query posts"} {
		if !names[want] {
			t.Errorf("missing span %q in %v", want, names)
		}
	}

	for _, s := range spans {
		if s.Name() != "query posts" {
			continue
		}
		attrs := make(map[attribute.Key]string)
		for _, a := range s.Attributes() {
			attrs[a.Key] = a.Value.AsString()
		}
		if attrs["db.system"] != "postgresql" || attrs["db.operation"] != "query" || attrs["db.sql.table"] != "posts" {
			t.Errorf("DB span attributes = %v", attrs)
		}
	}
}

// Helpers must be safe no-ops when no real provider is configured.
func TestHelpersWithTracingDisabled(t *testing.T) {
	provider, err := tracing.NewProvider(tracing.Config{
		ServiceName: "mention-feed-api",
		Enabled:     false,
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if provider.IsEnabled() {
		t.Error("provider reports enabled with Enabled: false")
	}

	ctx, endSpan := tracing.StartSpan(context.Background(), "rank_candidates")
	tracing.SetAttributes(ctx, attribute.String("viewer_id", "viewer-1"))
	tracing.AddEvent(ctx, "cache_hit")
	endSpan(nil)
}

func TestTraceIDVisibleToHandlers(t *testing.T) {
	rec := installRecorder(t)

	var captured string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = middleware.GetTraceID(r)
		w.WriteHeader(http.StatusOK)
	})

	traced := middleware.Tracing("mention-feed-api")(handler)
	traced.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/trending", nil))

	if captured == "" {
		t.Fatal("handler saw an empty trace ID")
	}
	spans := rec.Ended()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	if got := spans[0].SpanContext().TraceID().String(); got != captured {
		t.Errorf("handler trace ID %s != span trace ID %s", captured, got)
	}
}
