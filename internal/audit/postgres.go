package audit

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"scoring-service/internal/config"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Postgres stores events in the score_job_events table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// RunMigrations executes the embedded SQL migrations in order.
func (p *Postgres) RunMigrations(ctx context.Context) error {
	stmts, err := migrations()
	if err != nil {
		return err
	}
	for _, m := range stmts {
		if _, err := p.pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", m.name, err)
		}
	}
	return nil
}

type migration struct {
	name string
	sql  string
}

func migrations() ([]migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		out = append(out, migration{name: e.Name(), sql: sql})
	}
	return out, nil
}

// Record adds an audit row.
func (p *Postgres) Record(ctx context.Context, jobID string, event EventType, detail string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO score_job_events (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, string(event), detail)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// List returns the events of a job, oldest first.
func (p *Postgres) List(ctx context.Context, jobID string) ([]Event, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT job_id, event, detail, ts
		FROM score_job_events
		WHERE job_id = $1
		ORDER BY ts, id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var event string
		if err := rows.Scan(&e.JobID, &event, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Type = EventType(event)
		out = append(out, e)
	}
	return out, rows.Err()
}

// FromConfig returns a Postgres recorder with migrations applied, or Nop when
// no DSN is configured. The returned close func is always safe to call.
func FromConfig(ctx context.Context, cfg config.Config) (Recorder, func(), error) {
	if cfg.PostgresDSN == "" {
		return Nop{}, func() {}, nil
	}
	pg, err := NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, func() {}, err
	}
	if err := pg.RunMigrations(ctx); err != nil {
		pg.Close()
		return nil, func() {}, fmt.Errorf("migrations: %w", err)
	}
	return pg, pg.Close, nil
}
