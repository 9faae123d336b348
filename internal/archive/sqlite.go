package archive

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ankittk/researcher/internal/task"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteArchive is the SQLite implementation of Archive.
type sqliteArchive struct {
	DB *sql.DB

	stmtSave *sql.Stmt
	stmtGet  *sql.Stmt
	stmtList *sql.Stmt
}

const taskColumns = `task_id, query, status, mode, result, error, details, created_at, updated_at`

func openSQLite(home string) (*sqliteArchive, error) {
	dbPath := filepath.Join(home, "protected", "archive.sqlite")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	return openSQLiteDSN(dbPath)
}

func openSQLiteDSN(dsn string) (*sqliteArchive, error) {
	if dsn == "" {
		return nil, errors.New("sqlite DSN required")
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	a := &sqliteArchive{DB: db}
	if err := a.initPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := a.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := a.prepareStatements(context.Background()); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *sqliteArchive) prepareStatements(ctx context.Context) error {
	pairs := []struct {
		dest **sql.Stmt
		q    string
	}{
		{&a.stmtSave, `INSERT INTO tasks(` + taskColumns + `) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET status=excluded.status, mode=excluded.mode, result=excluded.result,
  error=excluded.error, details=excluded.details, updated_at=excluded.updated_at`},
		{&a.stmtGet, `SELECT ` + taskColumns + ` FROM tasks WHERE task_id = ?`},
		{&a.stmtList, `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at DESC LIMIT ?`},
	}
	for _, p := range pairs {
		st, err := a.DB.PrepareContext(ctx, p.q)
		if err != nil {
			return err
		}
		*p.dest = st
	}
	return nil
}

func (a *sqliteArchive) Save(ctx context.Context, v task.View) error {
	r, err := ToRow(v)
	if err != nil {
		return err
	}
	var details any
	if r.Details != nil {
		details = string(r.Details)
	}
	_, err = a.stmtSave.ExecContext(ctx, r.TaskID, r.Query, r.Status, r.Mode, r.Result, r.Error, details, r.CreatedAt, r.UpdatedAt)
	return err
}

func (a *sqliteArchive) Get(ctx context.Context, id string) (task.View, error) {
	r, err := scanRow(a.stmtGet.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return task.View{}, ErrNotFound
	}
	if err != nil {
		return task.View{}, err
	}
	return r.View()
}

func (a *sqliteArchive) List(ctx context.Context, limit int) ([]task.View, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := a.stmtList.QueryContext(ctx, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(s rowScanner) (Row, error) {
	var (
		r       Row
		details sql.NullString
	)
	if err := s.Scan(&r.TaskID, &r.Query, &r.Status, &r.Mode, &r.Result, &r.Error, &details, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Row{}, err
	}
	if details.Valid {
		r.Details = []byte(details.String)
	}
	return r, nil
}

func (a *sqliteArchive) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	for _, st := range []*sql.Stmt{a.stmtSave, a.stmtGet, a.stmtList} {
		if st != nil {
			_ = st.Close()
		}
	}
	return a.DB.Close()
}

func (a *sqliteArchive) initPragmas(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, q := range stmts {
		if _, err := a.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Migrate applies embedded migrations not yet recorded in schema_migrations.
func (a *sqliteArchive) Migrate(ctx context.Context) error {
	if a == nil || a.DB == nil {
		return errors.New("archive not initialized")
	}
	if _, err := a.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`); err != nil {
		return err
	}
	applied, err := a.appliedVersions(ctx)
	if err != nil {
		return err
	}
	migs, err := LoadMigrations(migrationsFS)
	if err != nil {
		return err
	}
	for _, m := range migs {
		if applied[m.Version] {
			continue
		}
		if err := a.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

func (a *sqliteArchive) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := a.DB.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func (a *sqliteArchive) applyMigration(ctx context.Context, m Migration) error {
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

// Migration is one embedded schema file.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// LoadMigrations reads NNN_name.sql files from the migrations directory of fsys, sorted by version.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	files, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, err
	}
	var migs []Migration
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		v, err := parseMigrationVersion(f.Name())
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(fsys, "migrations/"+f.Name())
		if err != nil {
			return nil, err
		}
		migs = append(migs, Migration{Version: v, Name: f.Name(), SQL: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	return migs, nil
}

func parseMigrationVersion(filename string) (int, error) {
	base := strings.TrimSuffix(filename, ".sql")
	v, err := strconv.Atoi(strings.SplitN(base, "_", 2)[0])
	if err != nil {
		return 0, fmt.Errorf("invalid migration version in %s", filename)
	}
	return v, nil
}

func unixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
