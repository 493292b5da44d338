// Package signals forwards keyboard generated job control signals to the
// foreground job.
package signals

import (
	"io"
	"os"
	"os/signal"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Redraw is written when an interrupt arrives while the shell owns the
// terminal.
const Redraw = "\n"

// Slot holds the process group of the job the shell is currently waiting on,
// zero when there is none. It's safe for concurrent use.
type Slot struct {
	pgid atomic.Int64
}

// Set marks pgid as the foreground job.
func (s *Slot) Set(pgid int) {
	s.pgid.Store(int64(pgid))
}

// Clear marks the shell as the foreground.
func (s *Slot) Clear() {
	s.pgid.Store(0)
}

// Get returns the foreground job's group or zero.
func (s *Slot) Get() int {
	return int(s.pgid.Load())
}

// IgnoreTerminalStops keeps the shell from being stopped when it touches the
// terminal from a background group, as it does while reclaiming it.
//
// Ignored dispositions survive exec, so jobs started afterwards also ignore
// SIGTTIN and SIGTTOU. A background job reading the terminal gets EIO instead
// of stopping.
func IgnoreTerminalStops() {
	signal.Ignore(unix.SIGTTIN, unix.SIGTTOU)
}

// Relay delivers SIGINT and SIGTSTP received by the shell to the foreground
// job's process group.
type Relay struct {
	slot *Slot
	out  io.Writer
	kill func(pid int, sig unix.Signal) error

	signals chan os.Signal
	done    chan struct{}
}

// NewRelay creates a relay reading the foreground job from slot and writing
// redraws to out.
func NewRelay(slot *Slot, out io.Writer) *Relay {
	return &Relay{
		slot: slot,
		out:  out,
		kill: unix.Kill,
	}
}

// Start begins relaying signals. Go's runtime restores default dispositions
// for notified signals in spawned children.
func (r *Relay) Start() {
	r.signals = make(chan os.Signal, 8)
	r.done = make(chan struct{})
	signal.Notify(r.signals, unix.SIGINT, unix.SIGTSTP)

	go func() {
		defer close(r.done)
		for sig := range r.signals {
			r.handle(sig)
		}
	}()
}

// Stop restores the default dispositions and waits for the relay to exit.
func (r *Relay) Stop() {
	if r.signals == nil {
		return
	}
	signal.Stop(r.signals)
	close(r.signals)
	<-r.done
	r.signals = nil
}

func (r *Relay) handle(sig os.Signal) {
	pgid := r.slot.Get()

	switch sig {
	case unix.SIGINT:
		if pgid > 0 {
			_ = r.kill(-pgid, unix.SIGINT)
			return
		}
		_, _ = io.WriteString(r.out, Redraw)
	case unix.SIGTSTP:
		// The shell itself is never stopped.
		if pgid > 0 {
			_ = r.kill(-pgid, unix.SIGTSTP)
		}
	}
}
