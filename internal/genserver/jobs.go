package genserver

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ConRes/conres.io-sub001/pkg/engine/run"
)

// jobStatus mirrors the Scheduler API's documented job lifecycle (§6):
// queued from creation until the job's goroutine starts (the number of
// concurrent jobs is not limited), running while Generate executes, then
// either done (with a Result) or failed (with an error message).
type jobStatus string

const (
	jobQueued  jobStatus = "queued"
	jobRunning jobStatus = "running"
	jobDone    jobStatus = "done"
	jobFailed  jobStatus = "failed"
)

// jobProgress is one on_progress(stage, percent, message) callback,
// snapshotted so GET /jobs/:id can report the most recent one.
type jobProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

type job struct {
	mu       sync.Mutex
	id       string
	status   jobStatus
	progress jobProgress
	result   *run.Result
	err      string
}

func (j *job) snapshot() jobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := jobView{
		ID:       j.id,
		Status:   string(j.status),
		Progress: j.progress,
		Error:    j.err,
	}
	if j.result != nil {
		v.MetadataJSON = j.result.MetadataJSON
	}
	return v
}

// jobView is the JSON shape GET /jobs/:id returns.
type jobView struct {
	ID           string      `json:"id"`
	Status       string      `json:"status"`
	Progress     jobProgress `json:"progress"`
	Error        string      `json:"error,omitempty"`
	MetadataJSON []byte      `json:"metadataJson,omitempty"`
}

// jobStore keeps every job this server has accepted in memory, keyed by a
// monotonically increasing id. There is no eviction: a long-lived process
// boundary is expected to be restarted by its supervisor periodically,
// matching how the teacher's own spaserver has no request-history store at
// all (it needed none; this one does, for job polling, so the simplest
// correct thing is an in-memory map with no expiry).
type jobStore struct {
	mu      sync.RWMutex
	next    uint64
	entries map[string]*job
}

func newJobStore() *jobStore {
	return &jobStore{entries: make(map[string]*job)}
}

func (s *jobStore) create() *job {
	id := fmt.Sprintf("job-%d", atomic.AddUint64(&s.next, 1))
	j := &job{id: id, status: jobQueued}
	s.mu.Lock()
	s.entries[id] = j
	s.mu.Unlock()
	return j
}

func (s *jobStore) get(id string) (*job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.entries[id]
	return j, ok
}

func (j *job) setRunning() {
	j.mu.Lock()
	j.status = jobRunning
	j.mu.Unlock()
}

func (j *job) setProgress(stage string, percent float64, message string) {
	j.mu.Lock()
	j.progress = jobProgress{Stage: stage, Percent: percent, Message: message}
	j.mu.Unlock()
}

func (j *job) setDone(res *run.Result) {
	j.mu.Lock()
	j.status = jobDone
	j.result = res
	j.progress = jobProgress{Stage: run.StageDone, Percent: 100}
	j.mu.Unlock()
}

func (j *job) setFailed(err error) {
	j.mu.Lock()
	j.status = jobFailed
	j.err = err.Error()
	j.mu.Unlock()
}
