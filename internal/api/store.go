package api

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// RunStore keeps completed runs in memory, oldest first.
type RunStore struct {
	mu    sync.Mutex
	runs  map[string]Run
	order []string
	limit int
}

// NewRunStore returns a store that keeps at most limit runs. A limit of zero
// or less keeps every run.
func NewRunStore(limit int) *RunStore {
	return &RunStore{
		runs:  make(map[string]Run),
		limit: limit,
	}
}

func (s *RunStore) Put(run Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = run
	for s.limit > 0 && len(s.order) > s.limit {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *RunStore) Get(id string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	return run, ok
}

func (s *RunStore) List() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runs[id])
	}
	return out
}

func (s *RunStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return false
	}
	delete(s.runs, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	return true
}

func newRunID() string {
	return "run_" + uuid.NewString()
}
