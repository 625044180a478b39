package fingerprint

import "testing"

func TestNormalizeMessagePlaceholders(t *testing.T) {
	cases := map[string]string{
		"user 123456 not found":                        "user <num> not found",
		"request 550e8400-e29b-41d4-a716-446655440000":  "request <uuid>",
		"seen at 2024-01-02T03:04:05Z":                  "seen at <timestamp>",
		"from 192.168.1.10 failed":                      "from <ip> failed",
		"contact admin@example.com for help":            "contact <email> for help",
	}
	for in, want := range cases {
		if got := NormalizeMessage(in); got != want {
			t.Errorf("NormalizeMessage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeMessageCollapsesWhitespace(t *testing.T) {
	if got := NormalizeMessage("a   b\t\nc"); got != "a b c" {
		t.Fatalf("NormalizeMessage whitespace = %q", got)
	}
}

func TestNormalizeMessageTruncates(t *testing.T) {
	long := make([]byte, maxNormalizedLen+50)
	for i := range long {
		long[i] = 'x'
	}
	got := NormalizeMessage(string(long))
	if len(got) != maxNormalizedLen {
		t.Fatalf("len = %d, want %d", len(got), maxNormalizedLen)
	}
}

func TestComputeExplicitFingerprintTakesPriority(t *testing.T) {
	fields := map[string]any{
		"fingerprint": []any{"custom-group"},
		"exception": map[string]any{
			"values": []any{map[string]any{"type": "TypeError", "value": "boom"}},
		},
	}
	r1, err := Compute(fields)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	fields2 := map[string]any{
		"fingerprint": []any{"custom-group"},
		"exception": map[string]any{
			"values": []any{map[string]any{"type": "ValueError", "value": "different"}},
		},
	}
	r2, err := Compute(fields2)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if r1.Fingerprint != r2.Fingerprint {
		t.Fatalf("explicit fingerprint should override exception tuple: %q vs %q", r1.Fingerprint, r2.Fingerprint)
	}
}

func TestComputeDefaultTokenFallsThroughToException(t *testing.T) {
	fields := map[string]any{
		"fingerprint": []any{"{{ default }}"},
		"exception": map[string]any{
			"values": []any{map[string]any{"type": "TypeError", "value": "boom"}},
		},
	}
	r, err := Compute(fields)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if r.Title != "TypeError: boom" {
		t.Fatalf("title = %q, want exception-derived title", r.Title)
	}
}

func TestComputeExceptionTupleGrouping(t *testing.T) {
	frames := []any{
		map[string]any{"filename": "app.py", "function": "handler", "lineno": float64(42), "in_app": true},
	}
	fieldsA := excFields("TypeError", "cannot read id 123456", frames)
	fieldsB := excFields("TypeError", "cannot read id 999999", frames)

	rA, err := Compute(fieldsA)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	rB, err := Compute(fieldsB)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if rA.Fingerprint != rB.Fingerprint {
		t.Fatalf("normalized-equal exception values should group together: %q vs %q", rA.Fingerprint, rB.Fingerprint)
	}
}

func TestComputeDifferentExceptionTypesDoNotGroup(t *testing.T) {
	frames := []any{map[string]any{"filename": "app.py", "function": "handler", "lineno": float64(1), "in_app": true}}
	rA, _ := Compute(excFields("TypeError", "boom", frames))
	rB, _ := Compute(excFields("ValueError", "boom", frames))
	if rA.Fingerprint == rB.Fingerprint {
		t.Fatalf("different exception types should not group together")
	}
}

func TestComputeMessageTupleFallback(t *testing.T) {
	r, err := Compute(map[string]any{"message": "queue depth 1000000 exceeded", "level": "warning"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if r.Title != "queue depth 1000000 exceeded" {
		t.Fatalf("title = %q", r.Title)
	}
	r2, err := Compute(map[string]any{"message": "queue depth 4200000 exceeded", "level": "warning"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if r.Fingerprint != r2.Fingerprint {
		t.Fatalf("normalized-equal messages at the same level should group together")
	}
}

func TestComputeEventIDFallback(t *testing.T) {
	r1, err := Compute(map[string]any{"event_id": "aaa"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	r2, err := Compute(map[string]any{"event_id": "bbb"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if r1.Fingerprint == r2.Fingerprint {
		t.Fatalf("distinct event_ids with no other signal should not group together")
	}
}

func TestComputeCulpritFromTransaction(t *testing.T) {
	r, err := Compute(map[string]any{"message": "hi", "transaction": "GET /orders"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if r.Culprit == nil || *r.Culprit != "GET /orders" {
		t.Fatalf("culprit = %v", r.Culprit)
	}
}

func TestComputeCulpritFromTopFrame(t *testing.T) {
	frames := []any{map[string]any{"filename": "app.py", "function": "handler", "lineno": float64(10), "in_app": true}}
	r, err := Compute(excFields("TypeError", "boom", frames))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if r.Culprit == nil {
		t.Fatalf("want a culprit derived from the top frame")
	}
}

func TestFrameFormat(t *testing.T) {
	f := Frame{Filename: "app.py?cache=1", Function: "handler", Lineno: 42, HasLine: true}
	if got := f.Format(); got != "app.py:handler:42" {
		t.Fatalf("Format() = %q", got)
	}
}

func excFields(excType, value string, frames []any) map[string]any {
	return map[string]any{
		"exception": map[string]any{
			"values": []any{
				map[string]any{"type": excType, "value": value, "stacktrace": map[string]any{"frames": frames}},
			},
		},
	}
}
