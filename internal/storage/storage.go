package storage

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTrainingInProgress is returned by Start while another run is active.
var ErrTrainingInProgress = errors.New("a training run is already in progress")

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one training run started through the HTTP server.
type Run struct {
	ID           string     `json:"id"`
	Status       Status     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Message      string     `json:"message,omitempty"`
	Error        string     `json:"error,omitempty"`
	TestAccuracy float64    `json:"test_accuracy,omitempty"`

	seq int
}

// RunStore tracks training runs and allows one active run at a time.
type RunStore struct {
	runs   map[string]*Run
	active string
	next   int
	mu     sync.RWMutex
}

func New() *RunStore {
	return &RunStore{
		runs: make(map[string]*Run),
	}
}

// Start registers a new running run, or fails with ErrTrainingInProgress
// while another run is active.
func (s *RunStore) Start() (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != "" {
		return Run{}, ErrTrainingInProgress
	}

	run := &Run{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		StartedAt: time.Now(),
		seq:       s.next,
	}
	s.next++
	s.runs[run.ID] = run
	s.active = run.ID
	return *run, nil
}

// Finish records the outcome of run id and releases the active slot.
func (s *RunStore) Finish(id, message string, testAccuracy float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return
	}
	now := time.Now()
	run.FinishedAt = &now
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
	} else {
		run.Status = StatusSucceeded
		run.Message = message
		run.TestAccuracy = testAccuracy
	}
	if s.active == id {
		s.active = ""
	}
}

func (s *RunStore) Get(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, exists := s.runs[id]
	if !exists {
		return Run{}, false
	}
	return *run, true
}

// Active returns the running run, if any.
func (s *RunStore) Active() (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == "" {
		return Run{}, false
	}
	return *s.runs[s.active], true
}

// GetAll returns every run, oldest first.
func (s *RunStore) GetAll() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		result = append(result, *run)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].seq < result[j].seq
	})
	return result
}
