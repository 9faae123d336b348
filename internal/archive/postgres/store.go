// Package postgres is the PostgreSQL implementation of archive.Archive.
package postgres

import (
	"context"
	"embed"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ankittk/researcher/internal/archive"
	"github.com/ankittk/researcher/internal/task"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the PostgreSQL implementation of archive.Archive.
type Store struct {
	Pool *pgxpool.Pool
}

const taskColumns = `task_id, query, status, mode, result, error, details, created_at, updated_at`

// Open opens a PostgreSQL connection pool and runs migrations. dsn may be empty to use DATABASE_URL env.
func Open(dsn string) (archive.Archive, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN or DATABASE_URL required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 20
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	s := &Store{Pool: pool}
	if err := s.Migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.Pool == nil {
		return nil
	}
	s.Pool.Close()
	return nil
}

// Migrate runs pending migrations (only those not already in schema_migrations).
func (s *Store) Migrate(ctx context.Context) error {
	applied := make(map[int]bool)
	rows, err := s.Pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err == nil {
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				break
			}
			applied[v] = true
		}
		rows.Close()
	}

	migs, err := archive.LoadMigrations(migrationsFS)
	if err != nil {
		return err
	}
	for _, m := range migs {
		if applied[m.Version] {
			continue
		}
		if _, err := s.Pool.Exec(ctx, m.SQL); err != nil && !strings.Contains(err.Error(), "already exists") {
			return err
		}
		if _, err := s.Pool.Exec(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES($1, $2) ON CONFLICT (version) DO NOTHING`, m.Version, time.Now().Unix()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Save(ctx context.Context, v task.View) error {
	r, err := archive.ToRow(v)
	if err != nil {
		return err
	}
	var details any
	if r.Details != nil {
		details = string(r.Details)
	}
	_, err = s.Pool.Exec(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)
ON CONFLICT (task_id) DO UPDATE SET status=EXCLUDED.status, mode=EXCLUDED.mode, result=EXCLUDED.result,
  error=EXCLUDED.error, details=EXCLUDED.details, updated_at=EXCLUDED.updated_at`,
		r.TaskID, r.Query, r.Status, r.Mode, r.Result, r.Error, details, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (task.View, error) {
	r, err := scanRow(s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return task.View{}, archive.ErrNotFound
	}
	if err != nil {
		return task.View{}, err
	}
	return r.View()
}

func (s *Store) List(ctx context.Context, limit int) ([]task.View, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []task.View{}
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		v, err := r.View()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanRow(row pgx.Row) (archive.Row, error) {
	var (
		r       archive.Row
		details *string
	)
	if err := row.Scan(&r.TaskID, &r.Query, &r.Status, &r.Mode, &r.Result, &r.Error, &details, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return archive.Row{}, err
	}
	if details != nil {
		r.Details = []byte(*details)
	}
	return r, nil
}
