// Package registry is the Project Registry: the one process-wide shared
// store, mapping public keys and slugs to projects and answering
// access-control queries on behalf of the ingestion and query paths.
//
// It is backed by PostgreSQL via database/sql; the driver itself
// (github.com/lib/pq) is registered by a blank import in cmd/issuewatch.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ap3pp3rs94/issuewatch/internal/model"
)

var (
	ErrNotFound     = errors.New("registry: not found")
	ErrForbidden    = errors.New("registry: forbidden")
	ErrInvalidInput = errors.New("registry: invalid input")
)

// Registry is the interface the ingestion coordinator and query facade
// depend on (spec §6.4): only these four operations.
type Registry interface {
	GetProjectByKey(ctx context.Context, publicKey string) (model.Project, error)
	GetProjectBySlug(ctx context.Context, slug, userID string) (model.Project, error)
	CreateProject(ctx context.Context, name, platform, userID string) (model.Project, error)
	DeleteProject(ctx context.Context, projectID, userID string) error
}

// PostgresRegistry implements Registry against a Postgres database.
type PostgresRegistry struct {
	db *sql.DB
}

// New wraps an already-opened *sql.DB. Callers are responsible for calling
// EnsureSchema once before use.
func New(db *sql.DB) (*PostgresRegistry, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db is nil", ErrInvalidInput)
	}
	return &PostgresRegistry{db: db}, nil
}

// EnsureSchema creates the projects/project_members tables if absent. It is
// idempotent and safe to call on every startup.
func (r *PostgresRegistry) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id         TEXT PRIMARY KEY,
			public_key TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL,
			slug       TEXT NOT NULL UNIQUE,
			platform   TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS project_members (
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			user_id    TEXT NOT NULL,
			role       TEXT NOT NULL DEFAULT 'member',
			PRIMARY KEY (project_id, user_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_project_members_user ON project_members(user_id);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("registry: ensure schema: %w", err)
		}
	}
	return nil
}

// GetProjectByKey resolves a project by its SDK-facing public key. Used by
// the Ingestion Coordinator's auth resolution (spec §4.4).
func (r *PostgresRegistry) GetProjectByKey(ctx context.Context, publicKey string) (model.Project, error) {
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" {
		return model.Project{}, fmt.Errorf("%w: public key required", ErrInvalidInput)
	}
	const q = `SELECT id, public_key, name, slug, platform, created_at FROM projects WHERE public_key = $1;`
	return r.scanProject(r.db.QueryRowContext(ctx, q, publicKey))
}

// GetProjectBySlug resolves a project by its dashboard-facing slug, scoped
// to a caller's access (spec §4.5). Lack of access and lack of existence are
// both reported as ErrNotFound so callers never learn which is true.
func (r *PostgresRegistry) GetProjectBySlug(ctx context.Context, slug, userID string) (model.Project, error) {
	slug = strings.TrimSpace(slug)
	userID = strings.TrimSpace(userID)
	if slug == "" || userID == "" {
		return model.Project{}, fmt.Errorf("%w: slug/userID required", ErrInvalidInput)
	}
	const q = `
SELECT p.id, p.public_key, p.name, p.slug, p.platform, p.created_at
FROM projects p
JOIN project_members m ON m.project_id = p.id
WHERE p.slug = $1 AND m.user_id = $2;`
	proj, err := r.scanProject(r.db.QueryRowContext(ctx, q, slug, userID))
	if err != nil {
		// Do not distinguish "no such project" from "exists but no access".
		if errors.Is(err, ErrNotFound) {
			return model.Project{}, ErrNotFound
		}
		return model.Project{}, err
	}
	return proj, nil
}

// CreateProject inserts a new project, assigning a unique id and public key,
// and grants the creating user membership.
func (r *PostgresRegistry) CreateProject(ctx context.Context, name, platform, userID string) (model.Project, error) {
	name = strings.TrimSpace(name)
	platform = strings.TrimSpace(platform)
	userID = strings.TrimSpace(userID)
	if name == "" || userID == "" {
		return model.Project{}, fmt.Errorf("%w: name/userID required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Project{}, fmt.Errorf("registry: begin tx: %w", err)
	}
	defer tx.Rollback()

	proj := model.Project{
		ID:        uuid.NewString(),
		PublicKey: strings.ReplaceAll(uuid.NewString(), "-", ""),
		Name:      name,
		Slug:      slugify(name, uuid.NewString()[:8]),
		Platform:  platform,
		CreatedAt: time.Now().UTC(),
	}

	const insertProject = `
INSERT INTO projects (id, public_key, name, slug, platform, created_at)
VALUES ($1, $2, $3, $4, $5, $6);`
	if _, err := tx.ExecContext(ctx, insertProject, proj.ID, proj.PublicKey, proj.Name, proj.Slug, proj.Platform, proj.CreatedAt); err != nil {
		return model.Project{}, fmt.Errorf("registry: create project: %w", err)
	}

	const insertMember = `
INSERT INTO project_members (project_id, user_id, role) VALUES ($1, $2, 'owner');`
	if _, err := tx.ExecContext(ctx, insertMember, proj.ID, userID); err != nil {
		return model.Project{}, fmt.Errorf("registry: create membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Project{}, fmt.Errorf("registry: commit: %w", err)
	}
	return proj, nil
}

// DeleteProject removes a project the caller owns. Per the interface
// contract (spec §6.4), once this returns nil the caller may safely destroy
// the corresponding Project Shard: ON DELETE CASCADE on project_members and
// the row deletion here happen in the same transaction, so no later write
// can reference a project that no longer exists.
func (r *PostgresRegistry) DeleteProject(ctx context.Context, projectID, userID string) error {
	projectID = strings.TrimSpace(projectID)
	userID = strings.TrimSpace(userID)
	if projectID == "" || userID == "" {
		return fmt.Errorf("%w: projectID/userID required", ErrInvalidInput)
	}

	var role string
	const roleQ = `SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2;`
	if err := r.db.QueryRowContext(ctx, roleQ, projectID, userID).Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrForbidden
		}
		return fmt.Errorf("registry: lookup role: %w", err)
	}
	if role != "owner" {
		return ErrForbidden
	}

	const del = `DELETE FROM projects WHERE id = $1;`
	res, err := r.db.ExecContext(ctx, del, projectID)
	if err != nil {
		return fmt.Errorf("registry: delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRegistry) scanProject(row *sql.Row) (model.Project, error) {
	var p model.Project
	if err := row.Scan(&p.ID, &p.PublicKey, &p.Name, &p.Slug, &p.Platform, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Project{}, ErrNotFound
		}
		return model.Project{}, fmt.Errorf("registry: scan project: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func slugify(name, suffix string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	base := strings.Trim(b.String(), "-")
	if base == "" {
		base = "project"
	}
	return base + "-" + suffix
}
