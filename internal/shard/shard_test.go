package shard

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/issuewatch/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "shard.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func eventFields(eventID, message string) map[string]any {
	return map[string]any{
		"event_id": eventID,
		"message":  message,
		"level":    "error",
		"platform": "go",
	}
}

func TestIngestCreatesIssueAndEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Ingest(ctx, eventFields("evt1", "boom"), []byte(`{"event_id":"evt1"}`))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.EventID != "evt1" || res.IssueID == "" {
		t.Fatalf("IngestResult = %+v", res)
	}

	issue, buckets, err := s.GetIssue(ctx, res.IssueID)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if issue.Count != 1 {
		t.Fatalf("issue.Count = %d, want 1", issue.Count)
	}
	if len(buckets) != 1 || buckets[0].Count != 1 {
		t.Fatalf("buckets = %+v", buckets)
	}
}

func TestIngestGroupsByFingerprint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r1, err := s.Ingest(ctx, eventFields("evt1", "boom"), []byte("{}"))
	if err != nil {
		t.Fatalf("Ingest 1: %v", err)
	}
	r2, err := s.Ingest(ctx, eventFields("evt2", "boom"), []byte("{}"))
	if err != nil {
		t.Fatalf("Ingest 2: %v", err)
	}
	if r1.IssueID != r2.IssueID {
		t.Fatalf("same message should group into the same issue: %q vs %q", r1.IssueID, r2.IssueID)
	}

	issue, _, err := s.GetIssue(ctx, r1.IssueID)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if issue.Count != 2 {
		t.Fatalf("issue.Count = %d, want 2", issue.Count)
	}
}

func TestIngestDuplicateEventIDIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r1, err := s.Ingest(ctx, eventFields("dup", "boom"), []byte("{}"))
	if err != nil {
		t.Fatalf("Ingest 1: %v", err)
	}
	r2, err := s.Ingest(ctx, eventFields("dup", "boom"), []byte("{}"))
	if err != nil {
		t.Fatalf("Ingest 2: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("duplicate event_id should return the same result: %+v vs %+v", r1, r2)
	}

	issue, _, err := s.GetIssue(ctx, r1.IssueID)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if issue.Count != 1 {
		t.Fatalf("duplicate ingest must not bump count, got %d", issue.Count)
	}
}

func TestIngestUserCountTracksDistinctUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	withUser := func(eventID, userID string) map[string]any {
		f := eventFields(eventID, "boom")
		f["user"] = map[string]any{"id": userID}
		return f
	}

	r1, err := s.Ingest(ctx, withUser("e1", "user-a"), []byte("{}"))
	if err != nil {
		t.Fatalf("Ingest 1: %v", err)
	}
	if _, err := s.Ingest(ctx, withUser("e2", "user-a"), []byte("{}")); err != nil {
		t.Fatalf("Ingest 2: %v", err)
	}
	if _, err := s.Ingest(ctx, withUser("e3", "user-b"), []byte("{}")); err != nil {
		t.Fatalf("Ingest 3: %v", err)
	}

	issue, _, err := s.GetIssue(ctx, r1.IssueID)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if issue.UserCount != 2 {
		t.Fatalf("UserCount = %d, want 2 distinct users", issue.UserCount)
	}
}

func TestUpdateIssueStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r, err := s.Ingest(ctx, eventFields("e1", "boom"), []byte("{}"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	resolved := model.StatusResolved
	issue, err := s.UpdateIssue(ctx, r.IssueID, &resolved)
	if err != nil {
		t.Fatalf("UpdateIssue: %v", err)
	}
	if issue.Status != model.StatusResolved {
		t.Fatalf("status = %q, want resolved", issue.Status)
	}
}

func TestUpdateIssueNoStatusIsError(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.UpdateIssue(context.Background(), "whatever", nil); err != ErrNoUpdates {
		t.Fatalf("want ErrNoUpdates, got %v", err)
	}
}

func TestUpdateIssueInvalidStatus(t *testing.T) {
	s := openTestStore(t)
	bad := model.Status("deleted-forever")
	if _, err := s.UpdateIssue(context.Background(), "whatever", &bad); err != ErrInvalidStatus {
		t.Fatalf("want ErrInvalidStatus, got %v", err)
	}
}

func TestUpdateIssueNotFound(t *testing.T) {
	s := openTestStore(t)
	resolved := model.StatusResolved
	if _, err := s.UpdateIssue(context.Background(), "missing", &resolved); err != ErrIssueNotFound {
		t.Fatalf("want ErrIssueNotFound, got %v", err)
	}
}

func TestDeleteIssueCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r, err := s.Ingest(ctx, eventFields("e1", "boom"), []byte("{}"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := s.DeleteIssue(ctx, r.IssueID); err != nil {
		t.Fatalf("DeleteIssue: %v", err)
	}
	if _, _, err := s.GetIssue(ctx, r.IssueID); err != ErrIssueNotFound {
		t.Fatalf("issue should be gone, got %v", err)
	}
	if _, err := s.GetEvent(ctx, r.EventID); err != ErrEventNotFound {
		t.Fatalf("event should cascade-delete, got %v", err)
	}
}

func TestDeleteIssueNotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.DeleteIssue(context.Background(), "missing"); err != ErrIssueNotFound {
		t.Fatalf("want ErrIssueNotFound, got %v", err)
	}
}

func TestGetIssuesPaginationIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		msg := "distinct-message-" + string(rune('a'+i))
		if _, err := s.Ingest(ctx, eventFields("e"+string(rune('a'+i)), msg), []byte("{}")); err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
		time.Sleep(time.Millisecond) // ensure distinct last_seen ordering
	}

	page, err := s.GetIssues(ctx, model.IssueFilter{Limit: 2})
	if err != nil {
		t.Fatalf("GetIssues: %v", err)
	}
	if len(page.Issues) != 2 || !page.HasMore {
		t.Fatalf("page = %+v", page)
	}

	seen := map[string]bool{page.Issues[0].ID: true, page.Issues[1].ID: true}
	cursor := page.NextCursor
	for {
		next, err := s.GetIssues(ctx, model.IssueFilter{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("GetIssues cursor: %v", err)
		}
		for _, issue := range next.Issues {
			if seen[issue.ID] {
				t.Fatalf("issue %s repeated across pages", issue.ID)
			}
			seen[issue.ID] = true
		}
		if !next.HasMore {
			break
		}
		cursor = next.NextCursor
	}
	if len(seen) != 5 {
		t.Fatalf("saw %d distinct issues across pages, want 5", len(seen))
	}
}

func TestGetIssueEventsPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r, err := s.Ingest(ctx, eventFields("e0", "boom"), []byte("{}"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	for i := 1; i < 4; i++ {
		if _, err := s.Ingest(ctx, eventFields("e"+string(rune('0'+i)), "boom"), []byte("{}")); err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
	}

	page, err := s.GetIssueEvents(ctx, r.IssueID, "", 2)
	if err != nil {
		t.Fatalf("GetIssueEvents: %v", err)
	}
	if len(page.Events) != 2 || !page.HasMore {
		t.Fatalf("page = %+v", page)
	}
}

func TestGetLatestEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Ingest(ctx, eventFields("e1", "boom"), []byte("{}")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	events, err := s.GetLatestEvents(ctx, 10)
	if err != nil {
		t.Fatalf("GetLatestEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
}

func TestGetStatsAggregatesBuckets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Ingest(ctx, eventFields("e1", "boom"), []byte("{}")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	stats, err := s.GetStats(ctx, "1d", nil, nil)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("stats.Total = %d, want 1", stats.Total)
	}
}

func TestGetEventNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetEvent(context.Background(), "missing"); err != ErrEventNotFound {
		t.Fatalf("want ErrEventNotFound, got %v", err)
	}
}
