package task

import (
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the process-wide task registry. Records are never evicted.
// The registry lock only guards the map; each record has its own lock so work on
// one task never waits on another.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*entry
	now   func() time.Time
}

type entry struct {
	mu  sync.Mutex
	rec Record
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		tasks: make(map[string]*entry),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a pending task for query and returns its id.
func (s *Store) Create(query string) string {
	now := s.now()
	e := &entry{rec: Record{
		Query:     query,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		id := newID()
		if _, taken := s.tasks[id]; taken {
			continue
		}
		e.rec.ID = id
		s.tasks[id] = e
		return id
	}
}

// Get returns a snapshot of the task.
func (s *Store) Get(id string) (View, error) {
	e := s.lookup(id)
	if e == nil {
		return View{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.view(), nil
}

// Update applies fn to the record under its lock. If fn returns an error the record is
// left as fn left it and UpdatedAt is not touched; fn should validate before mutating.
// Updating an id the store never issued returns ErrNotFound.
func (s *Store) Update(id string, fn func(*Record) error) error {
	e := s.lookup(id)
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(&e.rec); err != nil {
		return err
	}
	if now := s.now(); now.After(e.rec.UpdatedAt) {
		e.rec.UpdatedAt = now
	}
	return nil
}

// List returns up to limit snapshots, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) []View {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]View, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec.view())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Counts returns the number of tasks per status.
func (s *Store) Counts() map[Status]int64 {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := map[Status]int64{
		StatusPending:   0,
		StatusRunning:   0,
		StatusSucceeded: 0,
		StatusFailed:    0,
	}
	for _, e := range entries {
		e.mu.Lock()
		out[e.rec.Status]++
		e.mu.Unlock()
	}
	return out
}

func (s *Store) lookup(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[id]
}

func newID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
