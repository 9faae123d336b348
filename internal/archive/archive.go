// Package archive persists finished task snapshots so they outlive the in-memory store.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ankittk/researcher/internal/task"
)

// ErrNotFound is returned by Get when no snapshot exists for the id.
var ErrNotFound = errors.New("archive: task not found")

// Archive stores task snapshots keyed by task id. Save overwrites an earlier snapshot.
// Implementations: the SQLite archive in this package and *postgres.Store.
type Archive interface {
	Save(ctx context.Context, v task.View) error
	Get(ctx context.Context, id string) (task.View, error)
	List(ctx context.Context, limit int) ([]task.View, error)
	Close() error
}

// OpenOptions selects the archive backend.
type OpenOptions struct {
	Driver string // "sqlite" (default), "none"; "postgres" is opened via archive/postgres
	Home   string // for sqlite: directory containing protected/archive.sqlite
	DSN    string // for sqlite: explicit database path, overrides Home
}

// Open opens the default SQLite archive under home.
func Open(home string) (Archive, error) {
	return OpenWithOptions(OpenOptions{Driver: "sqlite", Home: home})
}

// OpenWithOptions opens an archive for the given driver.
// For driver "postgres", the caller must use postgres.Open(dsn) from internal/archive/postgres to avoid import cycles.
func OpenWithOptions(opts OpenOptions) (Archive, error) {
	switch opts.Driver {
	case "", "sqlite":
		if opts.Home == "" && opts.DSN != "" {
			return openSQLiteDSN(opts.DSN)
		}
		if opts.Home == "" {
			return nil, errors.New("archive: sqlite needs a home directory or DSN")
		}
		return openSQLite(opts.Home)
	case "none":
		return None{}, nil
	case "postgres":
		return nil, errors.New("for postgres use postgres.Open(dsn) from github.com/ankittk/researcher/internal/archive/postgres")
	default:
		return nil, fmt.Errorf("archive: unknown driver %q", opts.Driver)
	}
}

// None is an archive that keeps nothing.
type None struct{}

func (None) Save(context.Context, task.View) error { return nil }

func (None) Get(context.Context, string) (task.View, error) { return task.View{}, ErrNotFound }

func (None) List(context.Context, int) ([]task.View, error) { return []task.View{}, nil }

func (None) Close() error { return nil }

// Row is the flattened form of a snapshot shared by the SQL backends.
type Row struct {
	TaskID    string
	Query     string
	Status    string
	Mode      *string
	Result    *string
	Error     *string
	Details   []byte // JSON, nil when the task never chose a mode
	CreatedAt int64  // unix nanoseconds
	UpdatedAt int64
}

// ToRow flattens v for storage.
func ToRow(v task.View) (Row, error) {
	r := Row{
		TaskID:    v.TaskID,
		Query:     v.Query,
		Status:    string(v.Status),
		Result:    v.Result,
		Error:     v.Error,
		CreatedAt: v.CreatedAt.UnixNano(),
		UpdatedAt: v.UpdatedAt.UnixNano(),
	}
	if v.Details != nil {
		b, err := json.Marshal(v.Details)
		if err != nil {
			return Row{}, fmt.Errorf("encode details: %w", err)
		}
		r.Details = b
		if v.Details.Mode != nil {
			m := string(*v.Details.Mode)
			r.Mode = &m
		}
	}
	return r, nil
}

// View rebuilds the snapshot stored in r.
func (r Row) View() (task.View, error) {
	v := task.View{
		TaskID:    r.TaskID,
		Query:     r.Query,
		Status:    task.Status(r.Status),
		Result:    r.Result,
		Error:     r.Error,
		CreatedAt: unixNano(r.CreatedAt),
		UpdatedAt: unixNano(r.UpdatedAt),
	}
	if len(r.Details) > 0 {
		var d task.Details
		if err := json.Unmarshal(r.Details, &d); err != nil {
			return task.View{}, fmt.Errorf("decode details for %s: %w", r.TaskID, err)
		}
		v.Details = &d
	}
	return v, nil
}
