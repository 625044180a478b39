package errors

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPStatusForKnownCodes(t *testing.T) {
	cases := map[Code]int{
		MissingAuth:     401,
		ProjectNotFound: 404,
		NoUpdates:       400,
		InternalError:   500,
		Forbidden:       403,
	}
	for code, want := range cases {
		if got := HTTPStatusFor(code); got != want {
			t.Errorf("HTTPStatusFor(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestHTTPStatusForUnknownCodeDefaultsTo500(t *testing.T) {
	if got := HTTPStatusFor(Code("not-a-real-code")); got != 500 {
		t.Fatalf("HTTPStatusFor(unknown) = %d, want 500", got)
	}
}

func TestNewFallsBackToInternalErrorForUnknownCode(t *testing.T) {
	body := New(Code("bogus"), "whatever")
	if body.Error != InternalError {
		t.Fatalf("code = %q, want %q", body.Error, InternalError)
	}
}

func TestNewSanitizesMessage(t *testing.T) {
	body := New(MissingAuth, "  has\x00control\x7fchars  ")
	if strings.ContainsAny(body.Message, "\x00\x7f") {
		t.Fatalf("message still contains control chars: %q", body.Message)
	}
	if body.Message != strings.TrimSpace(body.Message) {
		t.Fatalf("message not trimmed: %q", body.Message)
	}
}

func TestNewTruncatesLongMessage(t *testing.T) {
	long := strings.Repeat("a", MaxMessageLen+100)
	body := New(MissingAuth, long)
	if len(body.Message) != MaxMessageLen {
		t.Fatalf("len(message) = %d, want %d", len(body.Message), MaxMessageLen)
	}
}

func TestWriteHTTPSetsStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, New(IssueNotFound, "no such issue"))

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var got Body
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.Error != IssueNotFound {
		t.Fatalf("error = %q", got.Error)
	}
	ct := rec.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content-type = %q", ct)
	}
}

func TestKnownAndList(t *testing.T) {
	if !Known(MissingAuth) {
		t.Fatalf("MissingAuth should be known")
	}
	if Known(Code("nope")) {
		t.Fatalf("bogus code should not be known")
	}
	all := List()
	if len(all) == 0 {
		t.Fatalf("List() returned no codes")
	}
	for i := 1; i < len(all); i++ {
		if all[i-1] >= all[i] {
			t.Fatalf("List() not sorted at index %d: %v", i, all)
		}
	}
}
