package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newSpanRecorder installs a recording tracer provider globally for the
// duration of the test. Helpers resolve the tracer through otel.Tracer, so
// the global provider is the only way to capture their spans.
func newSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return rec
}

func endedSpan(t *testing.T, rec *tracetest.SpanRecorder) sdktrace.ReadOnlySpan {
	t.Helper()
	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	return spans[0]
}

func attrMap(span sdktrace.ReadOnlySpan) map[attribute.Key]string {
	out := make(map[attribute.Key]string)
	for _, a := range span.Attributes() {
		out[a.Key] = a.Value.AsString()
	}
	return out
}

func TestStartDBSpan_NamesAndAttributes(t *testing.T) {
	tests := []struct {
		name      string
		table     string
		operation DBOperation
		wantName  string
	}{
		{"query posts", "posts", DBOperationQuery, "query posts"},
		{"query follows", "follows", DBOperationQuery, "query follows"},
		{"insert profiles", "viewer_profiles", DBOperationInsert, "insert viewer_profiles"},
		{"exec migration", "migrations", DBOperationExec, "exec migrations"},
		{"no table", "", DBOperationQuery, "query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newSpanRecorder(t)

			_, endSpan := StartDBSpan(context.Background(), tt.table, tt.operation)
			endSpan(nil)

			span := endedSpan(t, rec)
			if span.Name() != tt.wantName {
				t.Errorf("span name = %q, want %q", span.Name(), tt.wantName)
			}

			attrs := attrMap(span)
			if attrs["db.system"] != "postgresql" {
				t.Errorf("db.system = %q, want postgresql", attrs["db.system"])
			}
			if attrs["db.operation"] != string(tt.operation) {
				t.Errorf("db.operation = %q, want %q", attrs["db.operation"], tt.operation)
			}
			table, present := attrs["db.sql.table"]
			if tt.table == "" && present {
				t.Error("db.sql.table set for a table-less span")
			}
			if tt.table != "" && table != tt.table {
				t.Errorf("db.sql.table = %q, want %q", table, tt.table)
			}
		})
	}
}

func TestStartDBSpan_ErrorSetsStatus(t *testing.T) {
	rec := newSpanRecorder(t)

	queryErr := errors.New("connection reset")
	_, endSpan := StartDBSpan(context.Background(), "posts", DBOperationQuery)
	endSpan(queryErr)

	span := endedSpan(t, rec)
	if span.Status().Code.String() != "Error" {
		t.Errorf("status = %s, want Error", span.Status().Code)
	}
	if span.Status().Description != queryErr.Error() {
		t.Errorf("description = %q, want %q", span.Status().Description, queryErr.Error())
	}
}

func TestStartSpan(t *testing.T) {
	rec := newSpanRecorder(t)

	_, endSpan := StartSpan(context.Background(), "rank_candidates")
	endSpan(nil)

	span := endedSpan(t, rec)
	if span.Name() != "rank_candidates" {
		t.Errorf("span name = %q, want rank_candidates", span.Name())
	}
	if code := span.Status().Code.String(); code == "Error" {
		t.Errorf("clean end left status %s", code)
	}

	// A second span ending with an error must carry Error status.
	_, endSpan = StartSpan(context.Background(), "rank_candidates")
	endSpan(errors.New("profile store unavailable"))
	spans := rec.Ended()
	if got := spans[len(spans)-1].Status().Code.String(); got != "Error" {
		t.Errorf("status = %s, want Error", got)
	}
}

func TestAddEvent(t *testing.T) {
	rec := newSpanRecorder(t)

	ctx, span := otel.Tracer("test").Start(context.Background(), "get_feed")
	AddEvent(ctx, "cache_hit",
		attribute.String("feed_type", "for_you"),
		attribute.String("tier", "local"),
	)
	span.End()

	events := endedSpan(t, rec).Events()
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	if events[0].Name != "cache_hit" {
		t.Errorf("event name = %q, want cache_hit", events[0].Name)
	}
	if len(events[0].Attributes) != 2 {
		t.Errorf("event attributes = %d, want 2", len(events[0].Attributes))
	}
}

func TestSetAttributes(t *testing.T) {
	rec := newSpanRecorder(t)

	ctx, span := otel.Tracer("test").Start(context.Background(), "get_feed")
	SetAttributes(ctx,
		attribute.String("viewer_id", "viewer-1"),
		attribute.String("feed_type", "for_you"),
	)
	span.End()

	attrs := attrMap(endedSpan(t, rec))
	if attrs["viewer_id"] != "viewer-1" {
		t.Errorf("viewer_id = %q, want viewer-1", attrs["viewer_id"])
	}
	if attrs["feed_type"] != "for_you" {
		t.Errorf("feed_type = %q, want for_you", attrs["feed_type"])
	}
}
