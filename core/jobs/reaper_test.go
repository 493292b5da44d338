package jobs

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeWait struct {
	pid    int
	status unix.WaitStatus
	err    error
}

type fakeWaiter map[int]fakeWait

func (f fakeWaiter) WaitGroup(pgid int) (int, unix.WaitStatus, error) {
	w := f[pgid]
	return w.pid, w.status, w.err
}

func TestReaper_fake(t *testing.T) {
	table := NewTable(10)
	require.NoError(t, table.Register(10, "done", Running))
	require.NoError(t, table.Register(20, "running", Running))
	require.NoError(t, table.Register(30, "gone", Stopped))
	require.NoError(t, table.Register(40, "killed", Running))

	waiter := fakeWaiter{
		// exit status 3
		10: {pid: 11, status: unix.WaitStatus(3 << 8)},
		20: {pid: 0},
		30: {err: unix.ECHILD},
		// SIGKILL
		40: {pid: 40, status: unix.WaitStatus(9)},
	}

	finished := NewReaper(table, waiter).Reap()

	require.Len(t, finished, 2)
	assert.Equal(t, "done", finished[0].Name)
	assert.Equal(t, 3, finished[0].Status.ExitStatus())
	assert.Equal(t, "killed", finished[1].Name)
	assert.True(t, finished[1].Status.Signaled())

	assert.Equal(t, []Job{{Pgid: 20, Name: "running", State: Running}}, table.Jobs())
}

func TestReaper_releasesStopped(t *testing.T) {
	table := NewTable(10)
	require.NoError(t, table.Register(10, "stopped", Stopped))
	require.NoError(t, table.Register(20, "running", Running))

	waiter := fakeWaiter{
		10: {pid: 11, status: unix.WaitStatus(0)},
		20: {pid: 21, status: unix.WaitStatus(0)},
	}
	var sent []string
	reaper := NewReaper(table, waiter)
	reaper.kill = func(pid int, sig unix.Signal) error {
		sent = append(sent, fmt.Sprintf("%d %s", pid, unix.SignalName(sig)))
		return nil
	}

	require.Len(t, reaper.Reap(), 2)
	assert.Equal(t, []string{"-10 SIGHUP", "-10 SIGCONT"}, sent)
	assert.Zero(t, table.Len())
}

func startGroup(t *testing.T, name string, args ...string) int {
	t.Helper()

	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	t.Cleanup(func() {
		_ = unix.Kill(-pid, unix.SIGKILL)
		var ws unix.WaitStatus
		_, _ = unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	})
	return pid
}

func TestReaper_system(t *testing.T) {
	exited := startGroup(t, "true")
	running := startGroup(t, "sleep", "30")

	table := NewTable(10)
	require.NoError(t, table.Register(exited, "true", Running))
	require.NoError(t, table.Register(running, "sleep", Running))

	// Give the short lived process time to exit.
	deadline := time.Now().Add(5 * time.Second)
	var finished []Finished
	reaper := NewReaper(table, nil)
	for len(finished) == 0 && time.Now().Before(deadline) {
		finished = reaper.Reap()
		time.Sleep(10 * time.Millisecond)
	}

	require.Len(t, finished, 1)
	assert.Equal(t, exited, finished[0].Pgid)
	assert.Equal(t, []Job{{Pgid: running, Name: "sleep", State: Running}}, table.Jobs())

	// A second pass leaves the running job alone.
	assert.Empty(t, reaper.Reap())
	assert.Equal(t, 1, table.Len())
}

func TestResolve(t *testing.T) {
	_, err := Resolve(0)
	assert.ErrorIs(t, err, ErrInvalidPID)

	pgid, err := Resolve(os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, unix.Getpgrp(), pgid)

	pid := startGroup(t, "sleep", "30")
	pgid, err = Resolve(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid)
}

func TestProber(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proc/10/stat", []byte("10 (sleep) S 1 10 10 0"), 0444))
	require.NoError(t, afero.WriteFile(fs, "/proc/20/stat", []byte("20 (vim) T 1 20 20 0"), 0444))
	require.NoError(t, afero.WriteFile(fs, "/proc/30/stat", []byte("30 (odd) name) t 1"), 0444))
	require.NoError(t, afero.WriteFile(fs, "/proc/40/stat", []byte("garbage"), 0444))

	prober := &Prober{Fs: fs, Root: "/proc"}

	assert.Equal(t, Running, prober.State(10))
	assert.Equal(t, Stopped, prober.State(20))
	assert.Equal(t, Stopped, prober.State(30))
	assert.Equal(t, Running, prober.State(40))
	assert.Equal(t, Running, prober.State(50))

	state, err := prober.StatField(10)
	require.NoError(t, err)
	assert.Equal(t, byte('S'), state)

	_, err = prober.StatField(50)
	assert.ErrorIs(t, err, ErrNoProcess)
}

func TestReaper_systemReleasesStopped(t *testing.T) {
	leader := startGroup(t, "sleep", "30")

	member := exec.Command("true")
	member.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: leader}
	require.NoError(t, member.Start())

	var ws unix.WaitStatus
	require.NoError(t, unix.Kill(leader, unix.SIGSTOP))
	_, err := unix.Wait4(leader, &ws, unix.WUNTRACED, nil)
	require.NoError(t, err)
	require.True(t, ws.Stopped())

	table := NewTable(10)
	require.NoError(t, table.Register(leader, "sleep", Stopped))

	deadline := time.Now().Add(5 * time.Second)
	var finished []Finished
	reaper := NewReaper(table, nil)
	for len(finished) == 0 && time.Now().Before(deadline) {
		finished = reaper.Reap()
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, finished, 1)
	assert.True(t, finished[0].Status.Exited())
	assert.Zero(t, table.Len())

	// The leader is either hung up or at least running again.
	var pid int
	for pid == 0 && time.Now().Before(deadline) {
		pid, err = unix.Wait4(leader, &ws, unix.WNOHANG|unix.WCONTINUED, nil)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, leader, pid)
	assert.True(t, ws.Continued() || (ws.Signaled() && ws.Signal() == unix.SIGHUP), "status %#x", uint32(ws))
}
