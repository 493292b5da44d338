package jobs

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// Waiter collects state changes of the shell's children.
type Waiter interface {
	// WaitGroup checks, without blocking, whether any member of the process
	// group has terminated. It returns pid 0 if none has.
	WaitGroup(pgid int) (pid int, status unix.WaitStatus, err error)
}

type systemWaiter struct{}

func (systemWaiter) WaitGroup(pgid int) (int, unix.WaitStatus, error) {
	var status unix.WaitStatus
	for {
		pid, err := unix.Wait4(-pgid, &status, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		return pid, status, err
	}
}

// SystemWaiter waits on real process groups.
var SystemWaiter Waiter = systemWaiter{}

// Finished is a job the reaper dropped because a member terminated.
type Finished struct {
	Job
	Status unix.WaitStatus
}

// Reaper reconciles a Table against the kernel.
type Reaper struct {
	table  *Table
	waiter Waiter
	kill   func(pid int, sig unix.Signal) error
}

// NewReaper creates a reaper for the table. A nil waiter uses SystemWaiter.
func NewReaper(table *Table, waiter Waiter) *Reaper {
	if waiter == nil {
		waiter = SystemWaiter
	}
	return &Reaper{table: table, waiter: waiter, kill: unix.Kill}
}

// Reap polls every tracked group once. The termination of any one member is
// taken as completion of the whole job. Groups the kernel no longer knows
// about are dropped silently; everything else is retained unchanged. A dropped
// job that was stopped gets SIGHUP then SIGCONT so its remaining members
// aren't left stopped with nobody to resume them.
func (r *Reaper) Reap() []Finished {
	var finished []Finished
	r.table.RemoveIf(func(j Job) bool {
		pid, status, err := r.waiter.WaitGroup(j.Pgid)
		switch {
		case err != nil:
			// ECHILD: nothing left in the group to collect.
			return true
		case pid > 0 && (status.Exited() || status.Signaled()):
			finished = append(finished, Finished{Job: j, Status: status})
			if j.State == Stopped {
				r.release(j.Pgid)
			}
			return true
		default:
			return false
		}
	})
	return finished
}

func (r *Reaper) release(pgid int) {
	// Errors mean the group is already gone.
	_ = r.kill(-pgid, unix.SIGHUP)
	_ = r.kill(-pgid, unix.SIGCONT)
}

// Resolve maps a pid to its process group.
func Resolve(pid int) (int, error) {
	if pid <= 0 {
		return 0, ErrInvalidPID
	}
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return 0, fmt.Errorf("could not find process with given PID: %w", err)
	}
	return pgid, nil
}

// ErrNoProcess is returned by the Prober for pids without a /proc entry.
var ErrNoProcess = errors.New("no such process")

// Prober reads process states from a procfs mount.
type Prober struct {
	Fs   afero.Fs
	Root string
}

// NewProber probes the host's /proc.
func NewProber() *Prober {
	return &Prober{Fs: afero.NewOsFs(), Root: "/proc"}
}

// StatField returns the single letter state of the process, e.g. 'R', 'S'
// or 'T'.
func (p *Prober) StatField(pid int) (byte, error) {
	raw, err := afero.ReadFile(p.Fs, path.Join(p.Root, strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, fmt.Errorf("%w: %d", ErrNoProcess, pid)
	}

	// The command name is parenthesized and may itself contain spaces or
	// parens, the state follows the last ')'.
	stat := string(raw)
	end := strings.LastIndexByte(stat, ')')
	if end < 0 {
		return 0, fmt.Errorf("malformed stat for %d", pid)
	}
	fields := strings.Fields(stat[end+1:])
	if len(fields) == 0 || len(fields[0]) != 1 {
		return 0, fmt.Errorf("malformed stat for %d", pid)
	}
	return fields[0][0], nil
}

// State reports whether the group leader is stopped. A leader that can't be
// read is reported as Running, the reaper decides whether it's gone.
func (p *Prober) State(pgid int) State {
	state, err := p.StatField(pgid)
	if err == nil && (state == 'T' || state == 't') {
		return Stopped
	}
	return Running
}
