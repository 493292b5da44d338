package executor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/josephlewis42/shellby/core/jobs"
	"github.com/josephlewis42/shellby/core/parser"
	"github.com/josephlewis42/shellby/core/signals"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeArbiter struct {
	calls []string
	owner int
}

func (f *fakeArbiter) Interactive() bool { return false }
func (f *fakeArbiter) Fd() int           { return 0 }

func (f *fakeArbiter) Assign(pgid int) error {
	f.calls = append(f.calls, fmt.Sprintf("assign %d", pgid))
	f.owner = pgid
	return nil
}

func (f *fakeArbiter) Reclaim() error {
	f.calls = append(f.calls, "reclaim")
	f.owner = 0
	return nil
}

type testExecutor struct {
	*Executor
	arbiter *fakeArbiter
	out     *bytes.Buffer
	errs    []error
	dir     string
}

func newTestExecutor(t *testing.T, capacity int) *testExecutor {
	t.Helper()

	dir := t.TempDir()
	devnull, err := os.Open(os.DevNull)
	require.NoError(t, err)
	stdout, err := os.Create(filepath.Join(dir, "stdout"))
	require.NoError(t, err)
	stderr, err := os.Create(filepath.Join(dir, "stderr"))
	require.NoError(t, err)

	te := &testExecutor{
		arbiter: &fakeArbiter{},
		out:     &bytes.Buffer{},
		dir:     dir,
	}
	te.Executor = New(te.arbiter, &signals.Slot{}, jobs.NewTable(capacity), nil)
	te.Stdin = devnull
	te.Stdout = stdout
	te.Stderr = stderr
	te.Out = te.out
	te.Report = func(err error) {
		te.errs = append(te.errs, err)
	}

	t.Cleanup(func() {
		te.KillAll()
		devnull.Close()
		stdout.Close()
		stderr.Close()
	})
	return te
}

func (te *testExecutor) run(t *testing.T, line string) Result {
	t.Helper()

	p, err := parser.Parse(line)
	require.NoError(t, err)
	return te.Execute(p)
}

func (te *testExecutor) path(name string) string {
	return filepath.Join(te.dir, name)
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}

func command(argv ...string) *parser.Pipeline {
	return &parser.Pipeline{Commands: []parser.SimpleCommand{{Argv: argv}}}
}

func TestExecute_pipeline(t *testing.T) {
	te := newTestExecutor(t, 4)
	out := te.path("out.txt")

	res := te.run(t, "echo hello world | tr a-z A-Z > "+out)

	assert.Empty(t, te.errs)
	assert.Equal(t, []int{0, 0}, res.Statuses)
	assert.False(t, res.Stopped)
	assert.Equal(t, "HELLO WORLD\n", readFile(t, out))

	// The terminal went to the job and came back exactly once.
	assert.Equal(t, []string{fmt.Sprintf("assign %d", res.Pgid), "reclaim"}, te.arbiter.calls)
	assert.Equal(t, 0, te.arbiter.owner)
	assert.Equal(t, 0, te.Slot.Get())
	assert.Equal(t, 0, te.Jobs.Len())
}

func TestExecute_redirection(t *testing.T) {
	te := newTestExecutor(t, 4)
	in, out := te.path("in.txt"), te.path("out.txt")
	require.NoError(t, os.WriteFile(in, []byte("b\na\n"), 0644))

	te.run(t, "sort < "+in+" >> "+out)
	te.run(t, "sort < "+in+" >> "+out)
	assert.Equal(t, "a\nb\na\nb\n", readFile(t, out))

	te.run(t, "cat "+in+" > "+out)
	assert.Equal(t, "b\na\n", readFile(t, out), "> didn't truncate")
	assert.Empty(t, te.errs)
}

func TestExecute_threeStages(t *testing.T) {
	te := newTestExecutor(t, 4)
	in, out := te.path("in.txt"), te.path("out.txt")
	require.NoError(t, os.WriteFile(in, []byte("c\na\nb\na\n"), 0644))

	res := te.run(t, "cat "+in+" | sort | uniq > "+out)

	assert.Equal(t, []int{0, 0, 0}, res.Statuses)
	assert.Equal(t, "a\nb\nc\n", readFile(t, out))
}

func TestExecute_commandNotFound(t *testing.T) {
	te := newTestExecutor(t, 4)
	out := te.path("out.txt")

	res := te.run(t, "definitely-not-a-command-xyz | cat > "+out)

	assert.Equal(t, []int{StatusNotFound, 0}, res.Statuses)
	assert.NotZero(t, res.Pgid, "surviving stage should form the group")
	require.Len(t, te.errs, 1)
	assert.EqualError(t, te.errs[0], "Command 'definitely-not-a-command-xyz' not found")

	var launchErr *LaunchError
	require.True(t, errors.As(te.errs[0], &launchErr))
	assert.Equal(t, 0, launchErr.Stage)
	assert.Equal(t, "", readFile(t, out))
}

func TestExecute_nothingStarted(t *testing.T) {
	te := newTestExecutor(t, 4)

	res := te.run(t, "nope-one-xyz | nope-two-xyz")

	assert.Zero(t, res.Pgid)
	assert.Equal(t, []int{StatusNotFound, StatusNotFound}, res.Statuses)
	assert.Len(t, te.errs, 2)
	assert.Equal(t, []string{"reclaim"}, te.arbiter.calls)
	assert.Equal(t, 0, te.Jobs.Len())
}

func TestExecute_missingInputFile(t *testing.T) {
	te := newTestExecutor(t, 4)

	res := te.run(t, "cat < "+te.path("missing.txt"))

	assert.Equal(t, []int{StatusFailure}, res.Statuses)
	require.Len(t, te.errs, 1)
	assert.True(t, errors.Is(te.errs[0], os.ErrNotExist))
}

func TestExecute_exitStatuses(t *testing.T) {
	te := newTestExecutor(t, 4)

	res := te.Execute(command("sh", "-c", "exit 3"))
	assert.Equal(t, []int{3}, res.Statuses)

	res = te.Execute(command("sh", "-c", "kill -TERM $$"))
	assert.Equal(t, []int{128 + int(unix.SIGTERM)}, res.Statuses)
}

func TestExecute_background(t *testing.T) {
	te := newTestExecutor(t, 4)

	start := time.Now()
	res := te.run(t, "sleep 30 &")

	assert.Less(t, time.Since(start), 10*time.Second, "waited on a background job")
	assert.True(t, res.Background)
	assert.NotZero(t, res.Pgid)
	assert.Empty(t, te.arbiter.calls, "background job touched the terminal")
	assert.Equal(t, []jobs.Job{{Pgid: res.Pgid, Name: "sleep", State: jobs.Running}}, te.Jobs.Jobs())
	assert.Equal(t, fmt.Sprintf("Started background job [1] sleep (PGID %d)\n", res.Pgid), te.out.String())

	pgid, err := unix.Getpgid(res.Pgid)
	require.NoError(t, err)
	assert.Equal(t, res.Pgid, pgid, "leader isn't in its own group")

	te.KillAll()
	assert.Equal(t, 0, te.Jobs.Len())
	assert.Equal(t, unix.ESRCH, unix.Kill(-res.Pgid, 0))
}

func TestExecute_capacity(t *testing.T) {
	te := newTestExecutor(t, 1)

	first := te.run(t, "sleep 30 &")
	second := te.run(t, "sleep 30 &")

	require.Len(t, te.errs, 1)
	assert.True(t, errors.Is(te.errs[0], jobs.ErrCapacity))
	assert.Equal(t, 1, te.Jobs.Len())
	_, ok := te.Jobs.Get(first.Pgid)
	assert.True(t, ok)

	// The untracked group was killed and collected.
	assert.Equal(t, unix.ESRCH, unix.Kill(-second.Pgid, 0))
}

func TestExecute_stopThenResume(t *testing.T) {
	te := newTestExecutor(t, 4)

	res := te.Execute(command("sh", "-c", "kill -STOP $$"))

	require.True(t, res.Stopped)
	assert.Equal(t, []jobs.Job{{Pgid: res.Pgid, Name: "sh", State: jobs.Stopped}}, te.Jobs.Jobs())
	assert.Equal(t, fmt.Sprintf("\nStopped: sh (PGID %d)\n", res.Pgid), te.out.String())
	assert.Equal(t, []string{fmt.Sprintf("assign %d", res.Pgid), "reclaim"}, te.arbiter.calls)
	assert.Equal(t, 0, te.Slot.Get())

	// fg runs it to completion.
	te.arbiter.calls = nil
	require.NoError(t, te.Foreground(res.Pgid))
	assert.Equal(t, 0, te.Jobs.Len())
	assert.Equal(t, []string{fmt.Sprintf("assign %d", res.Pgid), "reclaim"}, te.arbiter.calls)
	assert.Equal(t, 0, te.arbiter.owner)

	assert.ErrorIs(t, te.Foreground(res.Pgid), jobs.ErrNotTracked)
}

func TestExecute_stopWhenFull(t *testing.T) {
	te := newTestExecutor(t, 1)

	first := te.run(t, "sleep 30 &")
	res := te.Execute(command("sh", "-c", "kill -STOP $$"))

	require.True(t, res.Stopped)
	require.Len(t, te.errs, 1)
	assert.True(t, errors.Is(te.errs[0], jobs.ErrCapacity))
	assert.Equal(t, []jobs.Job{{Pgid: first.Pgid, Name: "sleep", State: jobs.Running}}, te.Jobs.Jobs())

	// The stopped group couldn't be tracked, so it was killed and collected.
	assert.Equal(t, unix.ESRCH, unix.Kill(-res.Pgid, 0))
}

func TestForeground_stopsAgain(t *testing.T) {
	te := newTestExecutor(t, 4)

	res := te.Execute(command("sh", "-c", "kill -STOP $$; kill -STOP $$"))
	require.True(t, res.Stopped)

	require.NoError(t, te.Foreground(res.Pgid))
	assert.Equal(t, []jobs.Job{{Pgid: res.Pgid, Name: "sh", State: jobs.Stopped}}, te.Jobs.Jobs())
	assert.Equal(t, 0, te.Slot.Get())
	assert.Equal(t, 2, strings.Count(te.out.String(), "Stopped: sh"))

	require.NoError(t, te.Foreground(res.Pgid))
	assert.Equal(t, 0, te.Jobs.Len())
	assert.Equal(t, 0, te.Slot.Get())
	assert.Empty(t, te.errs)
}

func TestExecute_stopThenBackground(t *testing.T) {
	te := newTestExecutor(t, 4)

	res := te.Execute(command("sh", "-c", "kill -STOP $$"))
	require.True(t, res.Stopped)

	require.NoError(t, te.Background(res.Pgid))
	job, ok := te.Jobs.Get(res.Pgid)
	require.True(t, ok)
	assert.Equal(t, jobs.Running, job.State)

	reaper := jobs.NewReaper(te.Jobs, nil)
	deadline := time.Now().Add(10 * time.Second)
	var finished []jobs.Finished
	for len(finished) == 0 && time.Now().Before(deadline) {
		finished = reaper.Reap()
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, finished, 1)
	assert.Equal(t, res.Pgid, finished[0].Pgid)
	assert.Equal(t, 0, te.Jobs.Len())

	assert.ErrorIs(t, te.Background(res.Pgid), jobs.ErrNotTracked)
}

func TestExitStatus(t *testing.T) {
	assert.Equal(t, 2, ExitStatus(unix.WaitStatus(2<<8)))
	assert.Equal(t, 137, ExitStatus(unix.WaitStatus(9)))
}
