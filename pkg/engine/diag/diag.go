// Package diag implements the engine's diagnostics span tree (§3
// "Diagnostics span"): a hierarchy of measurement spans produced across
// every layer of the engine (scheduler, document, page, worker) and
// aggregated on the main thread. Spans are generalized from the teacher's
// per-document accumulate-as-you-go stats record into a parented tree so
// nested work (a page inside a chain inside a scheduler run) reports
// coherently.
package diag

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is a span's terminal state.
type Status int

const (
	StatusOpen Status = iota
	StatusClosed
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Span is one node of the diagnostics tree (§3 "Diagnostics span").
type Span struct {
	ID       int
	Name     string
	ParentID int // 0 for a root span

	Attributes map[string]string
	Metrics    map[string]float64

	StartedAt time.Time
	EndedAt   time.Time
	Status    Status
}

// Tree collects every span produced during one engine run. It is safe for
// concurrent use: workers and document converters on different goroutines
// open and close their own spans against the same tree.
type Tree struct {
	mu     sync.Mutex
	nextID int
	spans  map[int]*Span
	log    *zap.Logger
}

// NewTree builds an empty span tree. A nil logger is replaced with
// zap.NewNop(), matching the teacher's pattern of a package that always has
// a usable logger even when the caller supplies none (internal/genserver's
// New takes the same stance).
func NewTree(log *zap.Logger) *Tree {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tree{spans: make(map[int]*Span), log: log}
}

// Start opens a new span under parentID (0 for a root span) and returns its
// ID. Callers close it with Close or Abort on every exit path.
func (t *Tree) Start(name string, parentID int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.spans[id] = &Span{
		ID:         id,
		Name:       name,
		ParentID:   parentID,
		Attributes: map[string]string{},
		Metrics:    map[string]float64{},
		StartedAt:  time.Now(),
		Status:     StatusOpen,
	}
	t.log.Debug("span started", zap.Int("span_id", id), zap.String("name", name), zap.Int("parent_id", parentID))
	return id
}

// SetAttribute records a string attribute on an open span.
func (t *Tree) SetAttribute(id int, key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.spans[id]; ok {
		s.Attributes[key] = value
	}
}

// AddMetric accumulates a numeric metric on a span (add, not set — repeated
// calls sum, matching the teacher's accumulate-as-you-go counter style).
func (t *Tree) AddMetric(id int, key string, delta float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.spans[id]; ok {
		s.Metrics[key] += delta
	}
}

// Close ends a span successfully.
func (t *Tree) Close(id int) {
	t.end(id, StatusClosed)
}

// Abort ends a span unsuccessfully, e.g. on a canceled or failed operation.
func (t *Tree) Abort(id int) {
	t.end(id, StatusAborted)
}

func (t *Tree) end(id int, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.spans[id]
	if !ok {
		return
	}
	s.EndedAt = time.Now()
	s.Status = status
	t.log.Debug("span ended", zap.Int("span_id", id), zap.String("name", s.Name), zap.String("status", status.String()), zap.Duration("duration", s.EndedAt.Sub(s.StartedAt)))
}

// Snapshot returns a copy of every span recorded so far, safe to read after
// the run (or concurrently with it) without racing further Start/Close
// calls.
func (t *Tree) Snapshot() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Span, 0, len(t.spans))
	for _, s := range t.spans {
		cp := *s
		cp.Attributes = cloneStringMap(s.Attributes)
		cp.Metrics = cloneFloatMap(s.Metrics)
		out = append(out, cp)
	}
	return out
}

// Children returns the direct children of parentID, in the Snapshot's
// arbitrary order — callers that need a stable traversal sort by ID or
// StartedAt themselves.
func (t *Tree) Children(parentID int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Span
	for _, s := range t.spans {
		if s.ParentID == parentID {
			cp := *s
			cp.Attributes = cloneStringMap(s.Attributes)
			cp.Metrics = cloneFloatMap(s.Metrics)
			out = append(out, cp)
		}
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneFloatMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
