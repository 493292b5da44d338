package core

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/josephlewis42/shellby/core/jobs"
	"github.com/pborman/getopt/v2"
	"golang.org/x/sys/unix"
)

// AllBuiltins holds a list of all registered shell builtins
var AllBuiltins = make(map[string]ShellBuiltin)

type ShellBuiltin interface {
	Main(s *Shell, args []string) int
}

type ShellBuiltinFunc func(s *Shell, args []string) int

func (f ShellBuiltinFunc) Main(s *Shell, args []string) int {
	return f(s, args)
}

var _ ShellBuiltin = (ShellBuiltinFunc)(nil)

// BuiltinNames lists the registered builtins in sorted order.
func BuiltinNames() []string {
	var names []string
	for k := range AllBuiltins {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Exit quits the shell after the current line.
func Exit(s *Shell, args []string) int {
	s.running = false
	return 0
}

// Warp changes the working directory once per argument, printing each new
// directory. "~" (and no argument) is the home directory, "-" the previous
// one.
func Warp(s *Shell, args []string) int {
	targets := args[1:]
	if len(targets) == 0 {
		targets = []string{"~"}
	}

	status := 0
	for _, target := range targets {
		if err := s.warp(target); err != nil {
			s.PrintError(err)
			status = 1
		}
	}
	return status
}

func (s *Shell) warp(target string) error {
	before, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("warp: getcwd failed: %w", err)
	}

	dir := s.ExpandHome(target)
	if target == "-" {
		if s.prevDir == "" {
			return errors.New("warp: OLDPWD not set")
		}
		dir = s.prevDir
	}

	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf("warp: Failed to change directory to '%s': %w", dir, err)
	}
	s.prevDir = before

	if wd, err := os.Getwd(); err == nil {
		fmt.Fprintln(s.Stdout(), wd)
	}
	return nil
}

// Activities lists the tracked jobs with their current state.
func Activities(s *Shell, args []string) int {
	if len(args) != 1 {
		return s.Errorf("Usage: %s (takes no arguments)", args[0])
	}

	tracked := s.Jobs.Jobs()
	w := s.Stdout()
	if len(tracked) == 0 {
		fmt.Fprintln(w, "No background activities.")
		return 0
	}

	fmt.Fprintln(w, "Background Activities:")
	for _, job := range tracked {
		state := s.Prober.State(job.Pgid)
		s.Jobs.SetState(job.Pgid, state)
		fmt.Fprintf(w, "%d: %s - %s\n", job.Pgid, job.Name, state)
	}
	return 0
}

// PastEvents shows or purges the history. Replaying entries with
// "execute N" happens before a line is parsed.
func PastEvents(s *Shell, args []string) int {
	w := s.Stdout()
	switch {
	case len(args) == 1:
		if s.History.Len() == 0 {
			fmt.Fprintln(w, "History is empty.")
			return 0
		}
		for _, line := range s.History.Entries() {
			fmt.Fprintln(w, line)
		}
		return 0

	case len(args) == 2 && args[1] == "purge":
		s.History.Purge()
		if err := s.SaveHistory(); err != nil {
			return s.Errorf("%s: %v", args[0], err)
		}
		fmt.Fprintln(w, "History purged.")
		return 0

	default:
		return s.Errorf("%s: Invalid arguments.", args[0])
	}
}

func parsePID(name string, args []string) (int, error) {
	if len(args) != 2 {
		return 0, fmt.Errorf("Usage: %s <pid>", name)
	}
	pid, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, jobs.ErrInvalidPID)
	}
	return pid, nil
}

// resolveJob maps a pid argument to the group of a tracked job.
func (s *Shell) resolveJob(args []string) (int, error) {
	pid, err := parsePID(args[0], args)
	if err != nil {
		return 0, err
	}
	pgid, err := jobs.Resolve(pid)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", args[0], err)
	}
	if _, ok := s.Jobs.Find(pgid); !ok {
		return 0, fmt.Errorf("%s: %w", args[0], jobs.ErrNotTracked)
	}
	return pgid, nil
}

// Fg resumes a job in the foreground and waits on it.
func Fg(s *Shell, args []string) int {
	pgid, err := s.resolveJob(args)
	if err != nil {
		s.PrintError(err)
		return 1
	}
	if err := s.Executor.Foreground(pgid); err != nil {
		return s.Errorf("%s: %v", args[0], err)
	}
	return 0
}

// Bg resumes a stopped job without giving it the terminal.
func Bg(s *Shell, args []string) int {
	pgid, err := s.resolveJob(args)
	if err != nil {
		s.PrintError(err)
		return 1
	}
	if err := s.Executor.Background(pgid); err != nil {
		return s.Errorf("%s: %v", args[0], err)
	}
	return 0
}

// Ping sends a signal, taken modulo 32, to a process.
func Ping(s *Shell, args []string) int {
	if len(args) != 3 {
		return s.Errorf("Usage: %s <pid> <signal_number>", args[0])
	}
	pid, pidErr := strconv.Atoi(args[1])
	sig, sigErr := strconv.Atoi(args[2])
	if pidErr != nil || sigErr != nil {
		return s.Errorf("Usage: %s <pid> <signal_number>", args[0])
	}

	sig %= 32
	if sig < 0 {
		sig += 32
	}
	if err := unix.Kill(pid, unix.Signal(sig)); err != nil {
		return s.Errorf("%s: %v", args[0], err)
	}
	return 0
}

// Help lists the builtins.
func Help(s *Shell, args []string) int {
	opts := getopt.New()
	helpOpt := opts.BoolLong("help", 'h', "show help and exit")
	if err := opts.Getopt(args, nil); err != nil || *helpOpt {
		w := s.Stderr()
		if err != nil {
			fmt.Fprintln(w, err)
		}
		fmt.Fprintln(w, "usage: help")
		opts.PrintOptions(w)
		return 1
	}

	w := s.Stdout()
	fmt.Fprintln(w, "These shell commands are defined internally.")
	fmt.Fprintln(w, "Any other command is run as a program, '|' pipes, '<', '>' and '>>' redirect and a trailing '&' runs it in the background.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Builtins:")
	fmt.Fprintln(w)
	for _, name := range BuiltinNames() {
		fmt.Fprintln(w, name)
	}
	return 0
}

func init() {
	for _, name := range []string{"exit", "quit", "q"} {
		AllBuiltins[name] = ShellBuiltinFunc(Exit)
	}
	AllBuiltins["warp"] = ShellBuiltinFunc(Warp)
	AllBuiltins["cd"] = ShellBuiltinFunc(Warp)
	AllBuiltins["peek"] = ShellBuiltinFunc(Peek)
	AllBuiltins["activities"] = ShellBuiltinFunc(Activities)
	AllBuiltins["jobs"] = ShellBuiltinFunc(Activities)
	AllBuiltins["proclore"] = ShellBuiltinFunc(Proclore)
	AllBuiltins["pastevents"] = ShellBuiltinFunc(PastEvents)
	AllBuiltins["history"] = ShellBuiltinFunc(PastEvents)
	AllBuiltins["fg"] = ShellBuiltinFunc(Fg)
	AllBuiltins["bg"] = ShellBuiltinFunc(Bg)
	AllBuiltins["ping"] = ShellBuiltinFunc(Ping)
	AllBuiltins["help"] = ShellBuiltinFunc(Help)
}
