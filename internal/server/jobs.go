package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brensch/siardsearch/internal/orchestrator"
)

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job tracks the ingestion of one uploaded archive.
type Job struct {
	ID        string               `json:"id"`
	Archive   string               `json:"archive"`
	Root      string               `json:"root"`
	Status    JobStatus            `json:"status"`
	Submitted time.Time            `json:"submitted"`
	Finished  *time.Time           `json:"finished,omitempty"`
	Report    *orchestrator.Report `json:"report,omitempty"`
}

// jobStore keeps jobs in memory for the lifetime of the process.
type jobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func newJobStore() *jobStore {
	return &jobStore{jobs: make(map[string]*Job)}
}

func newJobID() string { return uuid.NewString() }

func (s *jobStore) add(id, archive, root string) Job {
	j := &Job{
		ID:        id,
		Archive:   archive,
		Root:      root,
		Status:    JobQueued,
		Submitted: time.Now().UTC(),
	}
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()
	return *j
}

func (s *jobStore) remove(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

func (s *jobStore) update(id string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		fn(j)
	}
}

// get returns a copy of the job so callers never race with updates.
func (s *jobStore) get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}
