// Package terminal decides which process group owns the controlling terminal.
package terminal

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Controller reads and writes the foreground process group of a terminal.
type Controller interface {
	Foreground() (int, error)
	SetForeground(pgid int) error
}

type ttyController struct {
	fd int
}

func (c ttyController) Foreground() (int, error) {
	return unix.IoctlGetInt(c.fd, unix.TIOCGPGRP)
}

func (c ttyController) SetForeground(pgid int) error {
	return unix.IoctlSetPointerInt(c.fd, unix.TIOCSPGRP, pgid)
}

// Arbiter hands the terminal to a foreground job and takes it back.
//
// When the shell's input isn't a terminal every operation only updates the
// recorded owner.
type Arbiter struct {
	fd        int
	ctl       Controller
	shellPgid int
	owner     int
}

// Open creates an arbiter for the terminal behind f, usually os.Stdin.
func Open(f *os.File) *Arbiter {
	fd := int(f.Fd())
	var ctl Controller
	if term.IsTerminal(fd) {
		ctl = ttyController{fd: fd}
	}
	return New(fd, unix.Getpgrp(), ctl)
}

// New creates an arbiter using ctl to control the terminal on fd. A nil
// controller makes the arbiter non-interactive.
func New(fd, shellPgid int, ctl Controller) *Arbiter {
	return &Arbiter{
		fd:        fd,
		ctl:       ctl,
		shellPgid: shellPgid,
		owner:     shellPgid,
	}
}

// Interactive is true if the arbiter controls a real terminal.
func (a *Arbiter) Interactive() bool {
	return a.ctl != nil
}

// Fd is the terminal's file descriptor.
func (a *Arbiter) Fd() int {
	return a.fd
}

// ShellPgid is the process group of the shell itself.
func (a *Arbiter) ShellPgid() int {
	return a.shellPgid
}

// Owner is the process group the arbiter last gave the terminal to.
func (a *Arbiter) Owner() int {
	return a.owner
}

// Foreground asks the terminal for its current foreground group.
func (a *Arbiter) Foreground() (int, error) {
	if a.ctl == nil {
		return a.owner, nil
	}
	return a.ctl.Foreground()
}

// Init puts the shell in its own process group and claims the terminal.
// Stops caused by terminal access (SIGTTOU) must already be ignored.
func (a *Arbiter) Init() error {
	if a.ctl == nil {
		return nil
	}

	pid := os.Getpid()
	if unix.Getpgrp() != pid {
		// Fails for session leaders, which already lead their own group.
		if err := unix.Setpgid(0, 0); err == nil {
			a.shellPgid = pid
		}
	}
	return a.Reclaim()
}

// Assign gives the terminal to pgid.
func (a *Arbiter) Assign(pgid int) error {
	if a.ctl != nil {
		if err := a.ctl.SetForeground(pgid); err != nil {
			return fmt.Errorf("couldn't give terminal to group %d: %w", pgid, err)
		}
	}
	a.owner = pgid
	return nil
}

// Reclaim gives the terminal back to the shell.
func (a *Arbiter) Reclaim() error {
	if a.ctl != nil {
		if err := a.ctl.SetForeground(a.shellPgid); err != nil {
			return fmt.Errorf("couldn't reclaim terminal: %w", err)
		}
	}
	a.owner = a.shellPgid
	return nil
}
