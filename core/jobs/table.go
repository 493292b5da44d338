// Package jobs tracks the process groups the shell has put in the background
// or that were stopped while in the foreground.
package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacity is returned when registering a job in a full table.
	ErrCapacity = errors.New("maximum background processes reached")
	// ErrNotTracked is returned for process groups the shell doesn't own.
	ErrNotTracked = errors.New("job is not a background process of this shell")
	// ErrInvalidPID is returned for pids that can't name a process.
	ErrInvalidPID = errors.New("invalid PID provided")
)

// DefaultCapacity is the number of jobs a table holds unless configured.
const DefaultCapacity = 100

// State is the run state of a job.
type State int

const (
	Running State = iota
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Job is a process group tracked by the shell.
type Job struct {
	// Pgid is the process group, equal to the pid of the pipeline's first
	// process.
	Pgid int
	// Name is the program name of the pipeline's first command.
	Name  string
	State State
}

// Table is a bounded, ordered collection of jobs. It isn't safe for
// concurrent use; only the shell's main loop mutates it.
type Table struct {
	capacity int
	jobs     []Job
}

// NewTable creates a table holding at most capacity jobs.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{capacity: capacity}
}

// Register adds a job, failing with ErrCapacity if the table is full.
func (t *Table) Register(pgid int, name string, state State) error {
	if len(t.jobs) >= t.capacity {
		return fmt.Errorf("%w (%d)", ErrCapacity, t.capacity)
	}
	t.jobs = append(t.jobs, Job{Pgid: pgid, Name: name, State: state})
	return nil
}

// Find returns the index of the job with the given process group.
func (t *Table) Find(pgid int) (int, bool) {
	for i, j := range t.jobs {
		if j.Pgid == pgid {
			return i, true
		}
	}
	return -1, false
}

// Get returns the job with the given process group.
func (t *Table) Get(pgid int) (Job, bool) {
	if i, ok := t.Find(pgid); ok {
		return t.jobs[i], true
	}
	return Job{}, false
}

// Remove deletes the job with the given process group, returning it.
func (t *Table) Remove(pgid int) (Job, bool) {
	i, ok := t.Find(pgid)
	if !ok {
		return Job{}, false
	}
	job := t.jobs[i]
	t.jobs = append(t.jobs[:i], t.jobs[i+1:]...)
	return job, true
}

// RemoveIf deletes every job matching pred, preserving the order of the rest.
// The removed jobs are returned in table order.
func (t *Table) RemoveIf(pred func(Job) bool) []Job {
	var removed []Job
	kept := t.jobs[:0]
	for _, j := range t.jobs {
		if pred(j) {
			removed = append(removed, j)
		} else {
			kept = append(kept, j)
		}
	}
	t.jobs = kept
	return removed
}

// SetState updates the state of a tracked job.
func (t *Table) SetState(pgid int, state State) bool {
	if i, ok := t.Find(pgid); ok {
		t.jobs[i].State = state
		return true
	}
	return false
}

// Jobs returns a copy of the tracked jobs in registration order.
func (t *Table) Jobs() []Job {
	out := make([]Job, len(t.jobs))
	copy(out, t.jobs)
	return out
}

// Len is the number of tracked jobs.
func (t *Table) Len() int {
	return len(t.jobs)
}

// Cap is the maximum number of tracked jobs.
func (t *Table) Cap() int {
	return t.capacity
}
