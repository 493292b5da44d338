package executor

import (
	"fmt"

	"github.com/josephlewis42/shellby/core/jobs"
	"github.com/josephlewis42/shellby/core/logger"
	"golang.org/x/sys/unix"
)

// Foreground continues a tracked job with the terminal and waits until every
// member has exited or one of them stops again.
func (e *Executor) Foreground(pgid int) error {
	job, ok := e.Jobs.Remove(pgid)
	if !ok {
		return jobs.ErrNotTracked
	}

	if err := e.Arbiter.Assign(job.Pgid); err != nil {
		e.report(err)
	}
	defer func() {
		if err := e.Arbiter.Reclaim(); err != nil {
			e.report(err)
		}
	}()

	if err := unix.Kill(-job.Pgid, unix.SIGCONT); err != nil {
		return fmt.Errorf("failed to send SIGCONT: %w", err)
	}
	e.record(logger.LogEntry{Kind: logger.KindResume, Pgid: job.Pgid, Name: job.Name})

	e.Slot.Set(job.Pgid)
	defer e.Slot.Clear()

	for {
		var status unix.WaitStatus
		_, err := unix.Wait4(-job.Pgid, &status, unix.WUNTRACED, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			// ECHILD: every member is gone.
			break
		}
		if status.Stopped() {
			e.stopped(job)
			return nil
		}
	}

	e.record(logger.LogEntry{Kind: logger.KindDone, Pgid: job.Pgid, Name: job.Name})
	return nil
}

// Background continues a tracked job without giving it the terminal.
func (e *Executor) Background(pgid int) error {
	job, ok := e.Jobs.Get(pgid)
	if !ok {
		return jobs.ErrNotTracked
	}

	if err := unix.Kill(-job.Pgid, unix.SIGCONT); err != nil {
		return fmt.Errorf("failed to send SIGCONT: %w", err)
	}
	e.Jobs.SetState(job.Pgid, jobs.Running)
	e.record(logger.LogEntry{Kind: logger.KindResume, Pgid: job.Pgid, Name: job.Name, Background: true})
	return nil
}
