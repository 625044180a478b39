// Package shard is the Project Shard: the per-project, SQLite-backed
// storage engine owning one project's issues, events, hourly buckets, and
// user sets. A Store serializes its own writes behind writeMu so that the
// step-sequence of ingest and update_issue is atomic with respect to itself;
// reads do not take writeMu, but the handle holds a single SQLite connection,
// so reads and writes take turns on it.
package shard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ap3pp3rs94/issuewatch/internal/fingerprint"
	"github.com/Ap3pp3rs94/issuewatch/internal/model"
	"github.com/Ap3pp3rs94/issuewatch/pkg/idempotency"
)

var (
	ErrIssueNotFound = errors.New("shard: issue not found")
	ErrEventNotFound = errors.New("shard: event not found")
	ErrNoUpdates     = errors.New("shard: no updates supplied")
	ErrInvalidStatus = errors.New("shard: invalid status")
)

const (
	timestampLayout  = "2006-01-02T15:04:05.000000000Z"
	maxHourlyBuckets = 168 // 7 * 24
	defaultPageLimit = 25
	maxPageLimit     = 100
	userHashLen      = 32
)

// Store is one project's SQLite-backed storage handle.
type Store struct {
	db      *sql.DB
	path    string
	writeMu sync.Mutex
}

// Open opens (creating if absent) the SQLite database at path in WAL mode
// with foreign keys enabled, and ensures the schema exists. The DSN mirrors
// the teacher's per-shard connection string convention.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("shard: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // one connection, shared by reads and writes, keeps WAL contention predictable per shard
	s := &Store{db: db, path: path}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying SQLite handle. Safe to call on an evicted
// shard; reopening later is safe because schema creation is idempotent.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS issues (
			id            TEXT PRIMARY KEY,
			fingerprint   TEXT NOT NULL UNIQUE,
			title         TEXT NOT NULL,
			culprit       TEXT,
			level         TEXT NOT NULL,
			platform      TEXT NOT NULL DEFAULT '',
			first_seen    TEXT NOT NULL,
			last_seen     TEXT NOT NULL,
			count         INTEGER NOT NULL DEFAULT 0,
			user_count    INTEGER NOT NULL DEFAULT 0,
			status        TEXT NOT NULL DEFAULT 'unresolved',
			metadata_json TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_issues_last_seen ON issues(last_seen DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status);`,
		`CREATE TABLE IF NOT EXISTS events (
			id               TEXT PRIMARY KEY,
			issue_id         TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
			timestamp        TEXT NOT NULL,
			received_at      TEXT NOT NULL,
			level            TEXT NOT NULL,
			platform         TEXT NOT NULL DEFAULT '',
			environment      TEXT NOT NULL DEFAULT '',
			release          TEXT NOT NULL DEFAULT '',
			transaction_name TEXT NOT NULL DEFAULT '',
			user_id          TEXT NOT NULL DEFAULT '',
			user_email       TEXT NOT NULL DEFAULT '',
			user_ip          TEXT NOT NULL DEFAULT '',
			tags_json        TEXT NOT NULL DEFAULT '{}',
			data             BLOB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_issue_id ON events(issue_id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_events_environment ON events(environment);`,
		`CREATE INDEX IF NOT EXISTS idx_events_release ON events(release);`,
		`CREATE TABLE IF NOT EXISTS issue_stats (
			issue_id     TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
			bucket_start TEXT NOT NULL,
			count        INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (issue_id, bucket_start)
		);`,
		`CREATE TABLE IF NOT EXISTS issue_users (
			issue_id   TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
			user_hash  TEXT NOT NULL,
			first_seen TEXT NOT NULL,
			last_seen  TEXT NOT NULL,
			PRIMARY KEY (issue_id, user_hash)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("shard: ensure schema: %w", err)
		}
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, bool) {
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func floorHour(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}

// Ingest is the hot path (spec §4.3): it determines identity, groups the
// event into an issue, persists the event, and updates the hourly and
// per-user aggregates, all within one write transaction serialized against
// this shard's other writes.
func (s *Store) Ingest(ctx context.Context, fields map[string]any, raw []byte) (model.IngestResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	eventID, _ := fields["event_id"].(string)
	if strings.TrimSpace(eventID) == "" {
		eventID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	now := time.Now().UTC()
	ts := now
	if tsStr, ok := fields["timestamp"].(string); ok {
		if parsed, ok := parseTimestamp(tsStr); ok {
			ts = parsed
		}
	}

	// Duplicate event_id: idempotent drop, no counters touched.
	var existingIssueID string
	err := s.db.QueryRowContext(ctx, `SELECT issue_id FROM events WHERE id = ?;`, eventID).Scan(&existingIssueID)
	if err == nil {
		return model.IngestResult{EventID: eventID, IssueID: existingIssueID}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.IngestResult{}, fmt.Errorf("shard: check duplicate event: %w", err)
	}

	fp, err := fingerprint.Compute(fields)
	if err != nil {
		return model.IngestResult{}, fmt.Errorf("shard: fingerprint: %w", err)
	}

	level := model.Level(strings.ToLower(strings.TrimSpace(stringField(fields, "level"))))
	if !model.ValidLevel(level) {
		level = model.LevelError
	}
	platform, _ := fields["platform"].(string)
	environment, _ := fields["environment"].(string)
	release, _ := fields["release"].(string)
	transactionName, _ := fields["transaction"].(string)
	userID, userEmail, userIP := extractUser(fields)
	tags := extractTags(fields)
	tagsJSON, err := json.Marshal(tags)
	if err != nil || tags == nil {
		tagsJSON = []byte("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.IngestResult{}, fmt.Errorf("shard: begin tx: %w", err)
	}
	defer tx.Rollback()

	issueID, err := upsertIssue(ctx, tx, fp.Fingerprint, fp.Title, fp.Culprit, level, platform, fp.Metadata, now)
	if err != nil {
		return model.IngestResult{}, fmt.Errorf("shard: upsert issue: %w", err)
	}

	const insertEvent = `
INSERT INTO events (id, issue_id, timestamp, received_at, level, platform, environment, release, transaction_name, user_id, user_email, user_ip, tags_json, data)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	if _, err := tx.ExecContext(ctx, insertEvent,
		eventID, issueID, formatTimestamp(ts), formatTimestamp(now), string(level), platform, environment, release,
		transactionName, userID, userEmail, userIP, string(tagsJSON), raw,
	); err != nil {
		return model.IngestResult{}, fmt.Errorf("shard: insert event: %w", err)
	}

	bucket := formatTimestamp(floorHour(ts))
	const upsertBucket = `
INSERT INTO issue_stats (issue_id, bucket_start, count) VALUES (?, ?, 1)
ON CONFLICT(issue_id, bucket_start) DO UPDATE SET count = count + 1;`
	if _, err := tx.ExecContext(ctx, upsertBucket, issueID, bucket); err != nil {
		return model.IngestResult{}, fmt.Errorf("shard: upsert bucket: %w", err)
	}

	if userHash := userHashOf(userID, userEmail, userIP, stringField(fields, "username")); userHash != "" {
		const insertUser = `
INSERT INTO issue_users (issue_id, user_hash, first_seen, last_seen) VALUES (?, ?, ?, ?)
ON CONFLICT(issue_id, user_hash) DO NOTHING;`
		res, err := tx.ExecContext(ctx, insertUser, issueID, userHash, formatTimestamp(now), formatTimestamp(now))
		if err != nil {
			return model.IngestResult{}, fmt.Errorf("shard: upsert issue_user: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if _, err := tx.ExecContext(ctx, `UPDATE issues SET user_count = user_count + 1 WHERE id = ?;`, issueID); err != nil {
				return model.IngestResult{}, fmt.Errorf("shard: bump user_count: %w", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `UPDATE issue_users SET last_seen = ? WHERE issue_id = ? AND user_hash = ?;`, formatTimestamp(now), issueID, userHash); err != nil {
				return model.IngestResult{}, fmt.Errorf("shard: touch issue_user: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return model.IngestResult{}, fmt.Errorf("shard: commit: %w", err)
	}
	return model.IngestResult{EventID: eventID, IssueID: issueID}, nil
}

func upsertIssue(ctx context.Context, tx *sql.Tx, fp, title string, culprit *string, level model.Level, platform string, md model.Metadata, now time.Time) (string, error) {
	var issueID string
	err := tx.QueryRowContext(ctx, `SELECT id FROM issues WHERE fingerprint = ?;`, fp).Scan(&issueID)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `UPDATE issues SET last_seen = ?, count = count + 1 WHERE id = ?;`, formatTimestamp(now), issueID); err != nil {
			return "", err
		}
		return issueID, nil
	case errors.Is(err, sql.ErrNoRows):
		issueID = uuid.NewString()
		mdJSON, merr := json.Marshal(md)
		if merr != nil {
			mdJSON = []byte("{}")
		}
		const insert = `
INSERT INTO issues (id, fingerprint, title, culprit, level, platform, first_seen, last_seen, count, user_count, status, metadata_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, 'unresolved', ?);`
		if _, err := tx.ExecContext(ctx, insert, issueID, fp, title, culprit, string(level), platform, formatTimestamp(now), formatTimestamp(now), string(mdJSON)); err != nil {
			return "", err
		}
		return issueID, nil
	default:
		return "", err
	}
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func extractUser(fields map[string]any) (id, email, ip string) {
	u, _ := fields["user"].(map[string]any)
	if u == nil {
		return "", "", ""
	}
	id, _ = u["id"].(string)
	email, _ = u["email"].(string)
	ip, _ = u["ip_address"].(string)
	return id, email, ip
}

func extractTags(fields map[string]any) map[string]string {
	raw, ok := fields["tags"]
	if !ok {
		return nil
	}
	out := map[string]string{}
	switch v := raw.(type) {
	case map[string]any:
		for k, val := range v {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
	case []any:
		for _, pairAny := range v {
			pair, ok := pairAny.([]any)
			if !ok || len(pair) != 2 {
				continue
			}
			k, kok := pair[0].(string)
			val, vok := pair[1].(string)
			if kok && vok {
				out[k] = val
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func userHashOf(id, email, ip, username string) string {
	first := firstNonEmpty(id, email, ip, username)
	if first == "" {
		return ""
	}
	return idempotency.SHA256HexPrefix([]byte(first), userHashLen)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// GetIssues implements keyset-paginated issue listing (spec §4.3).
func (s *Store) GetIssues(ctx context.Context, filter model.IssueFilter) (model.IssuesPage, error) {
	sortCol := "last_seen"
	switch filter.Sort {
	case "", "last_seen":
		sortCol = "last_seen"
	case "first_seen":
		sortCol = "first_seen"
	case "count":
		sortCol = "count"
	default:
		sortCol = "last_seen"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	var where []string
	var args []any

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Level != "" {
		where = append(where, "level = ?")
		args = append(args, string(filter.Level))
	}
	if filter.Query != "" {
		where = append(where, "(title LIKE ? ESCAPE '\\' OR culprit LIKE ? ESCAPE '\\')")
		like := "%" + escapeLike(filter.Query) + "%"
		args = append(args, like, like)
	}
	if filter.Environment != "" {
		where = append(where, "id IN (SELECT issue_id FROM events WHERE environment = ?)")
		args = append(args, filter.Environment)
	}
	if filter.Cursor != "" {
		where = append(where, sortCol+" < ?")
		args = append(args, filter.Cursor)
	}

	q := "SELECT id, fingerprint, title, culprit, level, platform, first_seen, last_seen, count, user_count, status, metadata_json FROM issues"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY %s DESC LIMIT ?", sortCol)
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return model.IssuesPage{}, fmt.Errorf("shard: get_issues: %w", err)
	}
	defer rows.Close()

	var issues []model.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return model.IssuesPage{}, fmt.Errorf("shard: scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return model.IssuesPage{}, fmt.Errorf("shard: get_issues: %w", err)
	}

	page := model.IssuesPage{}
	if len(issues) > limit {
		page.HasMore = true
		issues = issues[:limit]
		page.NextCursor = cursorValue(issues[len(issues)-1], sortCol)
	}
	page.Issues = issues
	return page, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}

func cursorValue(issue model.Issue, sortCol string) string {
	switch sortCol {
	case "first_seen":
		return formatTimestamp(issue.FirstSeen)
	case "count":
		return strconv.FormatInt(issue.Count, 10)
	default:
		return formatTimestamp(issue.LastSeen)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(rs rowScanner) (model.Issue, error) {
	var (
		issue       model.Issue
		culprit     sql.NullString
		firstSeen   string
		lastSeen    string
		metadataRaw string
	)
	if err := rs.Scan(&issue.ID, &issue.Fingerprint, &issue.Title, &culprit, &issue.Level, &issue.Platform,
		&firstSeen, &lastSeen, &issue.Count, &issue.UserCount, &issue.Status, &metadataRaw); err != nil {
		return model.Issue{}, err
	}
	if culprit.Valid {
		v := culprit.String
		issue.Culprit = &v
	}
	if t, ok := parseTimestamp(firstSeen); ok {
		issue.FirstSeen = t
	}
	if t, ok := parseTimestamp(lastSeen); ok {
		issue.LastSeen = t
	}
	_ = json.Unmarshal([]byte(metadataRaw), &issue.Metadata)
	return issue, nil
}

// GetIssue returns the issue plus up to its 168 most recent hourly buckets.
func (s *Store) GetIssue(ctx context.Context, id string) (model.Issue, []model.HourlyBucket, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, fingerprint, title, culprit, level, platform, first_seen, last_seen, count, user_count, status, metadata_json
FROM issues WHERE id = ?;`, id)
	issue, err := scanIssue(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Issue{}, nil, ErrIssueNotFound
		}
		return model.Issue{}, nil, fmt.Errorf("shard: get_issue: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT bucket_start, count FROM issue_stats WHERE issue_id = ? ORDER BY bucket_start DESC LIMIT ?;`, id, maxHourlyBuckets)
	if err != nil {
		return model.Issue{}, nil, fmt.Errorf("shard: get_issue buckets: %w", err)
	}
	defer rows.Close()

	var buckets []model.HourlyBucket
	for rows.Next() {
		var bucketStr string
		var b model.HourlyBucket
		if err := rows.Scan(&bucketStr, &b.Count); err != nil {
			return model.Issue{}, nil, fmt.Errorf("shard: scan bucket: %w", err)
		}
		if t, ok := parseTimestamp(bucketStr); ok {
			b.BucketStart = t
		}
		buckets = append(buckets, b)
	}
	// Stored descending; present ascending.
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].BucketStart.Before(buckets[j].BucketStart) })
	return issue, buckets, nil
}

// UpdateIssue applies a status transition. A nil status is a no-update error.
func (s *Store) UpdateIssue(ctx context.Context, id string, status *model.Status) (model.Issue, error) {
	if status == nil {
		return model.Issue{}, ErrNoUpdates
	}
	if !model.ValidStatus(*status) {
		return model.Issue{}, ErrInvalidStatus
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE issues SET status = ? WHERE id = ?;`, string(*status), id)
	if err != nil {
		return model.Issue{}, fmt.Errorf("shard: update_issue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Issue{}, ErrIssueNotFound
	}

	issue, _, err := s.GetIssue(ctx, id)
	return issue, err
}

// DeleteIssue removes the issue and, via ON DELETE CASCADE, its events,
// hourly buckets, and user rows.
func (s *Store) DeleteIssue(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM issues WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("shard: delete_issue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrIssueNotFound
	}
	return nil
}

// GetIssueEvents returns an issue's events, keyset-paginated by timestamp
// descending, with the stored data blob unmodified.
func (s *Store) GetIssueEvents(ctx context.Context, issueID, cursor string, limit int) (model.EventsPage, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	where := []string{"issue_id = ?"}
	args := []any{issueID}
	if cursor != "" {
		where = append(where, "timestamp < ?")
		args = append(args, cursor)
	}
	q := `
SELECT id, issue_id, timestamp, received_at, level, platform, environment, release, transaction_name, user_id, user_email, user_ip, tags_json, data
FROM events WHERE ` + strings.Join(where, " AND ") + ` ORDER BY timestamp DESC LIMIT ?;`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return model.EventsPage{}, fmt.Errorf("shard: get_issue_events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return model.EventsPage{}, fmt.Errorf("shard: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return model.EventsPage{}, fmt.Errorf("shard: get_issue_events: %w", err)
	}

	page := model.EventsPage{}
	if len(events) > limit {
		page.HasMore = true
		events = events[:limit]
		page.NextCursor = formatTimestamp(events[len(events)-1].Timestamp)
	}
	page.Events = events
	return page, nil
}

func scanEvent(rs rowScanner) (model.Event, error) {
	var (
		ev          model.Event
		timestamp   string
		receivedAt  string
		tagsRaw     string
	)
	if err := rs.Scan(&ev.ID, &ev.IssueID, &timestamp, &receivedAt, &ev.Level, &ev.Platform, &ev.Environment,
		&ev.Release, &ev.TransactionName, &ev.UserID, &ev.UserEmail, &ev.UserIP, &tagsRaw, &ev.Data); err != nil {
		return model.Event{}, err
	}
	if t, ok := parseTimestamp(timestamp); ok {
		ev.Timestamp = t
	}
	if t, ok := parseTimestamp(receivedAt); ok {
		ev.ReceivedAt = t
	}
	var tags map[string]string
	if err := json.Unmarshal([]byte(tagsRaw), &tags); err == nil && len(tags) > 0 {
		ev.Tags = tags
	}
	return ev, nil
}

// GetEvent returns one event by id, alongside its owning issue id.
func (s *Store) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, issue_id, timestamp, received_at, level, platform, environment, release, transaction_name, user_id, user_email, user_ip, tags_json, data
FROM events WHERE id = ?;`, eventID)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Event{}, ErrEventNotFound
		}
		return model.Event{}, fmt.Errorf("shard: get_event: %w", err)
	}
	return ev, nil
}

// GetLatestEvents returns up to limit events across all issues in the
// shard, newest first.
func (s *Store) GetLatestEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, issue_id, timestamp, received_at, level, platform, environment, release, transaction_name, user_id, user_email, user_ip, tags_json, data
FROM events ORDER BY timestamp DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("shard: get_latest_events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("shard: scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetStats aggregates hourly bucket counts over a window. interval only
// affects the default window when start/end are omitted: 1h/1d default to a
// 1-day window, 1w defaults to a 7-day window.
func (s *Store) GetStats(ctx context.Context, interval string, start, end *time.Time) (model.StatsResult, error) {
	now := time.Now().UTC()
	endT := now
	if end != nil {
		endT = *end
	}
	startT := endT.Add(-24 * time.Hour)
	if interval == "1w" {
		startT = endT.Add(-7 * 24 * time.Hour)
	}
	if start != nil {
		startT = *start
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT bucket_start, SUM(count) FROM issue_stats
WHERE bucket_start >= ? AND bucket_start <= ?
GROUP BY bucket_start ORDER BY bucket_start ASC;`, formatTimestamp(startT), formatTimestamp(endT))
	if err != nil {
		return model.StatsResult{}, fmt.Errorf("shard: get_stats: %w", err)
	}
	defer rows.Close()

	var result model.StatsResult
	for rows.Next() {
		var bucketStr string
		var b model.HourlyBucket
		if err := rows.Scan(&bucketStr, &b.Count); err != nil {
			return model.StatsResult{}, fmt.Errorf("shard: scan stats: %w", err)
		}
		if t, ok := parseTimestamp(bucketStr); ok {
			b.BucketStart = t
		}
		result.Series = append(result.Series, b)
		result.Total += b.Count
	}
	return result, rows.Err()
}
