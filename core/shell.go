package core

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/josephlewis42/shellby/core/config"
	"github.com/josephlewis42/shellby/core/executor"
	"github.com/josephlewis42/shellby/core/history"
	"github.com/josephlewis42/shellby/core/input"
	"github.com/josephlewis42/shellby/core/jobs"
	"github.com/josephlewis42/shellby/core/logger"
	"github.com/josephlewis42/shellby/core/parser"
	"github.com/josephlewis42/shellby/core/signals"
	"github.com/josephlewis42/shellby/core/terminal"
	"github.com/spf13/afero"
)

// ErrStartup is wrapped by errors that keep the shell from starting.
var ErrStartup = errors.New("shell failed to start")

var (
	ColorGreen   = color.New(color.FgGreen)
	ColorBlue    = color.New(color.FgBlue)
	ColorMagenta = color.New(color.FgMagenta)
	ColorCyan    = color.New(color.FgCyan)
	ColorYellow  = color.New(color.FgYellow)
	ColorRed     = color.New(color.FgRed)
)

// Options configure a Shell. Zero values are replaced by the process's own
// streams and the host filesystem.
type Options struct {
	Config *config.Configuration
	Logger *log.Logger

	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	// Fs holds the history file, listed directories and procfs.
	Fs afero.Fs
	// Home is the directory '~' refers to, the working directory by default.
	Home string

	// Input overrides the line reader picked for Stdin.
	Input input.Reader
	// Arbiter overrides the terminal arbiter for Stdin.
	Arbiter *terminal.Arbiter
}

// Shell is an interactive job control shell.
type Shell struct {
	config  *config.Configuration
	log     *log.Logger
	fs      afero.Fs
	colored bool

	stdout io.Writer
	stderr io.Writer
	// out is where builtins write, stdout unless redirected.
	out io.Writer

	Input    input.Reader
	Arbiter  *terminal.Arbiter
	Slot     *signals.Slot
	Relay    *signals.Relay
	Jobs     *jobs.Table
	Reaper   *jobs.Reaper
	Prober   *jobs.Prober
	Executor *executor.Executor
	History  *history.History
	Events   *logger.SessionLogger

	home     string
	prevDir  string
	hostname string
	username string

	lastName     string
	lastDuration time.Duration

	running bool
	toClose listCloser
}

// NewShell sets up the shell's process group, signal handling and state.
func NewShell(opts Options) (*Shell, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Home == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to get initial working directory: %v", ErrStartup, err)
		}
		opts.Home = wd
	}

	s := &Shell{
		config:  opts.Config,
		log:     opts.Logger,
		fs:      opts.Fs,
		colored: opts.Config.Prompt.Color,
		stdout:  opts.Stdout,
		stderr:  opts.Stderr,
		out:     opts.Stdout,
		home:    opts.Home,
		running: true,
	}
	s.hostname, s.username = lookupIdentity()

	signals.IgnoreTerminalStops()

	s.Arbiter = opts.Arbiter
	if s.Arbiter == nil {
		s.Arbiter = terminal.Open(opts.Stdin)
	}
	if err := s.Arbiter.Init(); err != nil {
		s.log.Printf("couldn't claim terminal: %v", err)
	}

	s.Slot = &signals.Slot{}
	s.Relay = signals.NewRelay(s.Slot, opts.Stdout)
	s.Relay.Start()
	s.toClose = append(s.toClose, closerFunc(func() error {
		s.Relay.Stop()
		return nil
	}))

	s.Events = logger.NewNopLogger().NewSession()
	if opts.Config.HasEventLog() {
		fd, err := opts.Config.OpenEventLog()
		if err != nil {
			s.log.Printf("couldn't open event log: %v", err)
		} else {
			s.toClose = append(s.toClose, fd)
			s.Events = logger.NewJsonLinesLogRecorder(fd).NewSession()
		}
	}

	s.Jobs = jobs.NewTable(opts.Config.Jobs.MaxJobs)
	s.Reaper = jobs.NewReaper(s.Jobs, nil)
	s.Prober = &jobs.Prober{Fs: opts.Fs, Root: "/proc"}

	s.Executor = executor.New(s.Arbiter, s.Slot, s.Jobs, s.Events)
	s.Executor.Stdin = opts.Stdin
	s.Executor.Stdout = opts.Stdout
	s.Executor.Stderr = opts.Stderr
	s.Executor.Out = opts.Stdout
	s.Executor.Report = s.PrintError

	s.History = history.New(opts.Config.History.Size)
	if err := s.History.Load(s.fs, s.historyPath()); err != nil {
		s.log.Printf("couldn't read history: %v", err)
	}

	s.Input = opts.Input
	if s.Input == nil {
		reader, err := input.Open(opts.Stdin, opts.Stdout, opts.Config.History.Size)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: %v", ErrStartup, err)
		}
		s.Input = reader
	}
	s.toClose = append(s.toClose, s.Input)
	for _, line := range s.History.Entries() {
		s.Input.Remember(line)
	}

	return s, nil
}

func lookupIdentity() (hostname, username string) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	username = "user"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	return hostname, username
}

func (s *Shell) historyPath() string {
	return filepath.Join(s.home, s.config.History.FileName)
}

// Home is the directory '~' expands to.
func (s *Shell) Home() string {
	return s.home
}

// Running is false once the shell was asked to exit.
func (s *Shell) Running() bool {
	return s.running
}

// Stdout is where builtins write their output.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Stderr is where diagnostics go.
func (s *Shell) Stderr() io.Writer {
	return s.stderr
}

// Sprintf formats with color c if colors are enabled.
func (s *Shell) Sprintf(c *color.Color, format string, a ...interface{}) string {
	if s.colored {
		return c.Sprintf(format, a...)
	}
	return fmt.Sprintf(format, a...)
}

// PrintError reports a recoverable error to the user.
func (s *Shell) PrintError(err error) {
	fmt.Fprintf(s.stderr, "%s%v\n", s.Sprintf(ColorRed, "Shell Error: "), err)
}

// Errorf reports a builtin failure and returns its exit status.
func (s *Shell) Errorf(format string, a ...interface{}) int {
	s.PrintError(fmt.Errorf(format, a...))
	return 1
}

// TildePath abbreviates paths under home with '~'.
func (s *Shell) TildePath(path string) string {
	switch {
	case path == s.home:
		return "~"
	case strings.HasPrefix(path, s.home+"/"):
		return "~" + strings.TrimPrefix(path, s.home)
	default:
		return path
	}
}

// ExpandHome replaces a leading '~' with the home directory.
func (s *Shell) ExpandHome(path string) string {
	switch {
	case path == "~":
		return s.home
	case strings.HasPrefix(path, "~/"):
		return s.home + path[1:]
	case strings.HasPrefix(path, "~"):
		return filepath.Join(s.home, path[1:])
	default:
		return path
	}
}

// Prompt renders the prompt. The previous command's name and duration are
// shown once if it ran past the configured threshold.
func (s *Shell) Prompt() string {
	pwd, err := os.Getwd()
	if err != nil {
		pwd = "?"
	}

	var sb strings.Builder
	sb.WriteString(s.Sprintf(ColorGreen, "<"))
	sb.WriteString(s.Sprintf(ColorBlue, "%s", s.username))
	sb.WriteString(s.Sprintf(ColorGreen, "@"))
	sb.WriteString(s.hostname + ":")
	sb.WriteString(s.Sprintf(ColorMagenta, "%s", s.TildePath(pwd)))

	if s.lastName != "" && s.lastDuration > s.config.Prompt.DurationThreshold() {
		fmt.Fprintf(&sb, " %s: %ds", s.lastName, int(s.lastDuration.Seconds()))
	}
	s.lastName = ""
	s.lastDuration = 0

	sb.WriteString(s.Sprintf(ColorGreen, "> "))
	return sb.String()
}

// Run reads and executes lines until the input ends or the user exits.
func (s *Shell) Run() error {
	for s.running {
		line, err := s.Input.ReadLine(s.Prompt())

		switch {
		case err == io.EOF:
			fmt.Fprintln(s.stdout)
			fmt.Fprintln(s.stdout, "Killing all background jobs...")
			s.Executor.KillAll()
			s.running = false
			fmt.Fprintln(s.stdout, "Goodbye!")

		case err != nil:
			return fmt.Errorf("couldn't read input: %w", err)

		case len(line) == 0:
			continue // empty line

		default:
			s.ProcessLine(line)
		}
	}
	return nil
}

// ProcessLine reaps finished jobs then runs each ';' separated command of
// line in order.
func (s *Shell) ProcessLine(line string) {
	s.reap()

	remember := true
	for _, cmd := range parser.SplitSequence(line) {
		fields := strings.Fields(cmd)
		if len(fields) >= 2 && isPastEvents(fields[0]) && fields[1] == "execute" {
			replayed, ok := s.replay(fields)
			if !ok {
				continue
			}
			remember = false
			for _, replayedCmd := range parser.SplitSequence(replayed) {
				s.runCommand(replayedCmd)
			}
			continue
		}

		s.runCommand(cmd)
	}

	if remember {
		s.History.Append(line)
		s.Input.Remember(line)
	}
}

func isPastEvents(name string) bool {
	return name == "pastevents" || name == "history"
}

// replay looks up the entry named by "pastevents execute N".
func (s *Shell) replay(fields []string) (string, bool) {
	if len(fields) < 3 {
		s.Errorf("%s execute: Number not provided.", fields[0])
		return "", false
	}
	k, err := strconv.Atoi(fields[2])
	if err != nil {
		s.Errorf("%s execute: invalid number %q", fields[0], fields[2])
		return "", false
	}
	entry, err := s.History.Get(k)
	if err != nil {
		s.PrintError(err)
		return "", false
	}
	s.History.Append(entry)
	s.Input.Remember(entry)
	return entry, true
}

func (s *Shell) runCommand(cmd string) {
	start := time.Now()

	p, err := parser.Parse(cmd)
	if err != nil {
		s.PrintError(err)
		_ = s.Events.Record(logger.LogEntry{Kind: logger.KindSyntaxError, Command: cmd, Error: err.Error()})
		return
	}

	if builtin, ok := AllBuiltins[p.Name()]; ok && len(p.Commands) == 1 {
		s.runBuiltin(builtin, &p.Commands[0])
	} else {
		s.Executor.Execute(p)
	}

	s.lastName = p.Name()
	s.lastDuration = time.Since(start)
}

// runBuiltin runs a builtin in the shell process. Output redirections apply
// to what the builtin prints.
func (s *Shell) runBuiltin(builtin ShellBuiltin, cmd *parser.SimpleCommand) int {
	if cmd.OutputFile != "" {
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if cmd.Append {
			flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		fd, err := os.OpenFile(cmd.OutputFile, flags, 0644)
		if err != nil {
			s.PrintError(err)
			return 1
		}
		defer fd.Close()

		s.out = fd
		defer func() { s.out = s.stdout }()
	}

	return builtin.Main(s, cmd.Argv)
}

// reap drops finished jobs and announces them.
func (s *Shell) reap() {
	for _, done := range s.Reaper.Reap() {
		fmt.Fprintf(s.stdout, "Background job '%s' (PGID %d) has terminated.\n", done.Name, done.Pgid)
		_ = s.Events.Record(logger.LogEntry{
			Kind:     logger.KindDone,
			Pgid:     done.Pgid,
			Name:     done.Name,
			Statuses: []int{executor.ExitStatus(done.Status)},
		})
	}
}

// SaveHistory writes the history file.
func (s *Shell) SaveHistory() error {
	return s.History.Save(s.fs, s.historyPath())
}

// Close saves history and releases the shell's resources. Tracked jobs are
// left alone.
func (s *Shell) Close() error {
	if err := s.SaveHistory(); err != nil {
		s.log.Printf("couldn't save history: %v", err)
	}
	return s.toClose.Close()
}

type listCloser []io.Closer

// Close closes everything in reverse order.
func (l listCloser) Close() error {
	var firstErr error
	for i := len(l) - 1; i >= 0; i-- {
		if err := l[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
