package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestChildSpansInheritTraceID(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "process_job", "")
	if root.TraceID == "" {
		t.Fatal("root span has no trace id")
	}
	_, child := StartChildSpan(ctx, "embed")
	child.End()
	root.End()

	if child.TraceID != root.TraceID {
		t.Errorf("child trace id %q != root %q", child.TraceID, root.TraceID)
	}
	if kids := root.Children(); len(kids) != 1 || kids[0] != child {
		t.Fatalf("root children = %v", kids)
	}
	if SpanFromContext(ctx) != root {
		t.Error("SpanFromContext did not return root")
	}
}

func TestChildSpanWithoutParent(t *testing.T) {
	_, span := StartChildSpan(context.Background(), "orphan")
	if span.TraceID != "" {
		t.Errorf("orphan span trace id = %q, want empty", span.TraceID)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	_, s := StartSpan(context.Background(), "search", "req-1")
	first := s.End()
	time.Sleep(2 * time.Millisecond)
	if again := s.End(); again != first {
		t.Errorf("second End = %s, want %s", again, first)
	}
}

func TestLogToWritesOneRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx, root := StartSpan(context.Background(), "process_job", "req-1")
	root.SetAttr("job_id", "j-1")
	_, fetch := StartChildSpan(ctx, "fetch")
	fetch.End()
	_, tr := StartChildSpan(ctx, "transcribe")
	tr.RecordError(errors.New("whisper down"))
	tr.End()
	root.End()
	root.LogTo(logger)

	out := buf.String()
	if n := strings.Count(out, "\n"); n != 1 {
		t.Fatalf("want one record, got %d:\n%s", n, out)
	}
	for _, want := range []string{`"level":"WARN"`, `"trace_id":"req-1"`, `"job_id":"j-1"`, `"fetch_ms"`, `"transcribe_ms"`, `"error":"whisper down"`} {
		if !strings.Contains(out, want) {
			t.Errorf("record missing %s: %s", want, out)
		}
	}
}
