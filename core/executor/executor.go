// Package executor launches parsed pipelines as process groups and waits on
// the ones that run in the foreground.
package executor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/josephlewis42/shellby/core/jobs"
	"github.com/josephlewis42/shellby/core/logger"
	"github.com/josephlewis42/shellby/core/parser"
	"github.com/josephlewis42/shellby/core/signals"
	"golang.org/x/sys/unix"
)

const (
	// StatusNotFound is the exit status of a stage whose program doesn't exist.
	StatusNotFound = 127
	// StatusFailure is the exit status of a stage that couldn't be set up.
	StatusFailure = 1
)

// ErrNotFound is wrapped by launch errors for programs that couldn't be found.
var ErrNotFound = errors.New("not found")

// LaunchError is reported for a stage that couldn't be started. Only that
// stage fails, the rest of the pipeline still runs.
type LaunchError struct {
	Stage int
	Name  string
	Err   error
}

func (e *LaunchError) Error() string {
	if errors.Is(e.Err, ErrNotFound) {
		return fmt.Sprintf("Command '%s' not found", e.Name)
	}
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Status is the exit status the stage reports.
func (e *LaunchError) Status() int {
	if errors.Is(e.Err, ErrNotFound) {
		return StatusNotFound
	}
	return StatusFailure
}

// Arbiter hands the terminal between the shell and its foreground jobs.
type Arbiter interface {
	Interactive() bool
	Fd() int
	Assign(pgid int) error
	Reclaim() error
}

// Result describes how a pipeline ended.
type Result struct {
	// Pgid is the group the pipeline ran in, zero if nothing started.
	Pgid int
	// Statuses holds each stage's exit status. Signal deaths are reported as
	// 128 plus the signal number.
	Statuses []int
	// Stopped is set if a foreground stage was stopped.
	Stopped bool
	// Background is set if the pipeline was left running.
	Background bool
}

// Executor runs pipelines on behalf of the shell.
type Executor struct {
	Arbiter Arbiter
	Slot    *signals.Slot
	Jobs    *jobs.Table
	Events  *logger.SessionLogger

	// Standard streams given to stages without pipes or redirections.
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	// Out receives job announcements.
	Out io.Writer
	// Report is called for every error the executor recovers from.
	Report func(error)

	lookPath func(string) (string, error)
}

// New creates an executor attached to the process's standard streams.
func New(arbiter Arbiter, slot *signals.Slot, table *jobs.Table, events *logger.SessionLogger) *Executor {
	return &Executor{
		Arbiter: arbiter,
		Slot:    slot,
		Jobs:    table,
		Events:  events,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Out:     os.Stdout,
	}
}

func (e *Executor) report(err error) {
	if e.Report != nil {
		e.Report(err)
		return
	}
	fmt.Fprintf(e.Stderr, "Shell Error: %v\n", err)
}

func (e *Executor) record(le logger.LogEntry) {
	_ = e.Events.Record(le)
}

func (e *Executor) look(name string) (string, error) {
	lookPath := e.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(name)
	if errors.Is(err, exec.ErrDot) {
		err = nil
	}
	if err != nil {
		return "", ErrNotFound
	}
	return path, nil
}

// stage is the parent's view of one process in a pipeline.
type stage struct {
	pid int
	// owned are files the parent opened for the stage and must close once
	// the child has them.
	owned []*os.File
}

func (s *stage) closeOwned() {
	for _, f := range s.owned {
		f.Close()
	}
	s.owned = nil
}

// Execute runs the pipeline. Failures are reported, never returned: a stage
// that couldn't start gets a non-zero status and its pipe ends are closed so
// its neighbours see end of file.
func (e *Executor) Execute(p *parser.Pipeline) Result {
	n := len(p.Commands)
	res := Result{Statuses: make([]int, n), Background: p.Background}
	stages := make([]stage, n)
	foreground := !p.Background && e.Arbiter.Interactive()

	pgid := 0
	var prevRead *os.File
	for i := range p.Commands {
		cmd := &p.Commands[i]
		st := &stages[i]

		stdin, stdout := e.Stdin, e.Stdout
		if prevRead != nil {
			stdin = prevRead
			st.owned = append(st.owned, prevRead)
			prevRead = nil
		}
		if i < n-1 {
			r, w, err := os.Pipe()
			if err != nil {
				e.report(fmt.Errorf("pipe failed: %w", err))
				st.closeOwned()
				for j := i; j < n; j++ {
					res.Statuses[j] = StatusFailure
				}
				break
			}
			stdout = w
			st.owned = append(st.owned, w)
			prevRead = r
		}

		pid, err := e.startStage(cmd, st, stdin, stdout, pgid, foreground)
		st.closeOwned()
		if err != nil {
			launchErr := &LaunchError{Stage: i, Name: cmd.Name(), Err: err}
			e.report(launchErr)
			e.record(logger.LogEntry{Kind: logger.KindLaunchError, Name: cmd.Name(), Command: p.String(), Error: launchErr.Error()})
			res.Statuses[i] = launchErr.Status()
			continue
		}

		if pgid == 0 {
			pgid = pid
		}
		// The child does this too, whichever runs first wins.
		_ = unix.Setpgid(pid, pgid)
		st.pid = pid
	}
	if prevRead != nil {
		prevRead.Close()
	}

	if pgid == 0 {
		if err := e.Arbiter.Reclaim(); err != nil {
			e.report(err)
		}
		return res
	}
	res.Pgid = pgid

	e.record(logger.LogEntry{Kind: logger.KindLaunch, Pgid: pgid, Name: p.Name(), Command: p.String(), Background: p.Background})
	if p.Background {
		e.launchBackground(pgid, p.Name())
		return res
	}

	e.waitForeground(p, stages, &res)
	return res
}

func (e *Executor) startStage(cmd *parser.SimpleCommand, st *stage, stdin, stdout *os.File, pgid int, foreground bool) (int, error) {
	if cmd.InputFile != "" {
		f, err := os.Open(cmd.InputFile)
		if err != nil {
			return 0, err
		}
		st.owned = append(st.owned, f)
		stdin = f
	}
	if cmd.OutputFile != "" {
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if cmd.Append {
			flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		f, err := os.OpenFile(cmd.OutputFile, flags, 0644)
		if err != nil {
			return 0, err
		}
		st.owned = append(st.owned, f)
		stdout = f
	}

	path, err := e.look(cmd.Name())
	if err != nil {
		return 0, err
	}

	proc, err := os.StartProcess(path, cmd.Argv, &os.ProcAttr{
		Files: []*os.File{stdin, stdout, e.Stderr},
		Sys: &syscall.SysProcAttr{
			Setpgid:    true,
			Pgid:       pgid,
			Foreground: foreground,
			Ctty:       e.Arbiter.Fd(),
		},
	})
	if err != nil {
		return 0, err
	}
	pid := proc.Pid
	// The shell collects children with wait4 directly.
	_ = proc.Release()
	return pid, nil
}

func (e *Executor) launchBackground(pgid int, name string) {
	if err := e.Jobs.Register(pgid, name, jobs.Running); err != nil {
		e.report(err)
		e.kill(jobs.Job{Pgid: pgid, Name: name})
		return
	}
	fmt.Fprintf(e.Out, "Started background job [%d] %s (PGID %d)\n", e.Jobs.Len(), name, pgid)
}

func (e *Executor) waitForeground(p *parser.Pipeline, stages []stage, res *Result) {
	if err := e.Arbiter.Assign(res.Pgid); err != nil {
		e.report(err)
	}
	e.Slot.Set(res.Pgid)
	defer func() {
		e.Slot.Clear()
		if err := e.Arbiter.Reclaim(); err != nil {
			e.report(err)
		}
	}()

	for i, st := range stages {
		if st.pid == 0 {
			continue
		}
		status, err := waitUntraced(st.pid)
		if err != nil {
			continue
		}
		if status.Stopped() {
			res.Stopped = true
			e.stopped(jobs.Job{Pgid: res.Pgid, Name: p.Name()})
			return
		}
		res.Statuses[i] = ExitStatus(status)
	}

	e.record(logger.LogEntry{Kind: logger.KindDone, Pgid: res.Pgid, Name: p.Name(), Statuses: res.Statuses})
}

// stopped tracks a job that was stopped while in the foreground. A stopped
// job the table can't hold is killed rather than orphaned.
func (e *Executor) stopped(job jobs.Job) {
	fmt.Fprintf(e.Out, "\nStopped: %s (PGID %d)\n", job.Name, job.Pgid)
	e.record(logger.LogEntry{Kind: logger.KindStop, Pgid: job.Pgid, Name: job.Name})

	if err := e.Jobs.Register(job.Pgid, job.Name, jobs.Stopped); err != nil {
		e.report(err)
		e.kill(job)
	}
}

// kill sends SIGKILL to the group and collects its members.
func (e *Executor) kill(job jobs.Job) {
	_ = unix.Kill(-job.Pgid, unix.SIGKILL)
	for {
		var status unix.WaitStatus
		_, err := unix.Wait4(-job.Pgid, &status, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			break
		}
	}
	e.record(logger.LogEntry{Kind: logger.KindKilled, Pgid: job.Pgid, Name: job.Name})
}

// KillAll kills every tracked job and empties the table.
func (e *Executor) KillAll() {
	for _, job := range e.Jobs.RemoveIf(func(jobs.Job) bool { return true }) {
		e.kill(job)
	}
}

func waitUntraced(pid int) (unix.WaitStatus, error) {
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &status, unix.WUNTRACED, nil)
		if err == unix.EINTR {
			continue
		}
		return status, err
	}
}

// ExitStatus converts a wait status to a shell style exit status.
func ExitStatus(status unix.WaitStatus) int {
	switch {
	case status.Exited():
		return status.ExitStatus()
	case status.Signaled():
		return 128 + int(status.Signal())
	default:
		return 0
	}
}
