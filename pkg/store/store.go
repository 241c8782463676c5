// Package store provides in-memory task result storage with a bounded,
// recency-ordered history. State does not survive process restart; the
// platform treats persistence as out of scope.
package store

import (
	"errors"
	"sync"

	"github.com/chainsentry/chainsentry/pkg/task"
)

// Sentinel errors. Callers should use errors.Is() to check for these.
var (
	// ErrNotFound indicates the task id is unknown or already evicted.
	ErrNotFound = errors.New("store: task not found")

	// ErrTerminal indicates a write against a completed or failed record.
	ErrTerminal = errors.New("store: task is terminal")
)

// DefaultHistoryCap is the reference history size limit.
const DefaultHistoryCap = 50

// Store maps task ids to their current record and keeps a most-recent-first
// history capped at a fixed size. Insertion beyond the cap evicts the oldest
// task entirely; a task is owned by the store from creation until evicted.
// Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	histCap int
	tasks   map[string]*task.Task
	order   []string // ids, most recently created first
}

// New creates a store with the given history cap.
// A cap of 0 or less uses DefaultHistoryCap.
func New(historyCap int) *Store {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Store{
		histCap: historyCap,
		tasks:   make(map[string]*task.Task),
	}
}

// Put writes the current record for a task, last-write-wins. The first
// write for an id enters it into history, evicting the oldest entry beyond
// the cap. Writes against a terminal record return ErrTerminal.
func (s *Store) Put(t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[t.ID]; ok {
		if existing.Status.IsTerminal() {
			return ErrTerminal
		}
	} else {
		s.order = append([]string{t.ID}, s.order...)
		for len(s.order) > s.histCap {
			oldest := s.order[len(s.order)-1]
			s.order = s.order[:len(s.order)-1]
			delete(s.tasks, oldest)
		}
	}

	s.tasks[t.ID] = t.Clone()
	return nil
}

// Get retrieves a copy of the current record for a task id.
func (s *Store) Get(id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// History returns snapshots of the retained tasks, most recently created
// first. A limit of 0 or less returns everything retained.
func (s *Store) History(limit int) []*task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*task.Task, 0, n)
	for _, id := range s.order[:n] {
		if t, ok := s.tasks[id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Len returns the number of retained tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
