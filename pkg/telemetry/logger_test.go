package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Service: "issuewatch"})
	log.Info(context.Background(), "hello", map[string]any{"project_id": "p1"})

	var ev Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Msg != "hello" || ev.Level != LevelInfo || ev.Service != "issuewatch" {
		t.Fatalf("ev = %+v", ev)
	}
	if len(ev.Fields) != 1 || ev.Fields[0].K != "project_id" || ev.Fields[0].V != "p1" {
		t.Fatalf("fields = %+v", ev.Fields)
	}
}

func TestLoggerFieldsAreSortedDeterministically(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Service: "issuewatch"})
	log.Info(context.Background(), "hello", map[string]any{"zeta": 1, "alpha": 2})

	var ev Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(ev.Fields) != 2 || ev.Fields[0].K != "alpha" || ev.Fields[1].K != "zeta" {
		t.Fatalf("fields not sorted: %+v", ev.Fields)
	}
}

func TestLoggerRequestIDPropagation(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Service: "issuewatch"})
	ctx := WithRequestID(context.Background(), "req-123")
	log.Info(ctx, "hello", nil)

	var ev Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	found := false
	for _, f := range ev.Fields {
		if f.K == "request_id" && f.V == "req-123" {
			found = true
		}
	}
	if !found {
		t.Fatalf("request_id field missing: %+v", ev.Fields)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Service: "issuewatch", Level: LevelWarn})
	log.Info(context.Background(), "should be filtered", nil)
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered below warn level, got %q", buf.String())
	}
	log.Error(context.Background(), "should pass", nil)
	if buf.Len() == 0 {
		t.Fatalf("error should pass at warn level")
	}
}

func TestLoggerSanitizesMessage(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Service: "issuewatch"})
	log.Info(context.Background(), "has\x00control\x7fchars", nil)

	var ev Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if strings.ContainsAny(ev.Msg, "\x00\x7f") {
		t.Fatalf("message still contains control chars: %q", ev.Msg)
	}
}

func TestNopLoggerDiscardsSafely(t *testing.T) {
	Nop.Info(context.Background(), "ignored", nil) // must not panic
}

func TestNilLoggerIsSafe(t *testing.T) {
	var log *Logger
	log.Info(context.Background(), "ignored", nil) // must not panic on nil receiver
}

func TestNewTruncatesLongServiceName(t *testing.T) {
	long := strings.Repeat("s", MaxServiceLen+10)
	log := New(&bytes.Buffer{}, Options{Service: long})
	if len(log.opt.Service) != MaxServiceLen {
		t.Fatalf("service len = %d, want %d", len(log.opt.Service), MaxServiceLen)
	}
}
