package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"intentgate/internal/config"
	"intentgate/internal/domain"
	"intentgate/internal/events"
	"intentgate/internal/policy"
	"intentgate/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Checker policy.Checker
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
	if cfg != nil {
		e.Checker = policy.New(cfg)
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InitProject initializes a new project with migrations already run.
func (e Engine) InitProject(ctx context.Context, projectID, name, description, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if name == "" {
		name = projectID
	}
	p := domain.Project{
		ID:          projectID,
		Name:        name,
		Status:      "active",
		Description: description,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, p.Status, nullable(p.Description), p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.init", p.ID, "project", p.ID, actorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
