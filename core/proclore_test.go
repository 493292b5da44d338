package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const fakeStatus = `Name:	sleep
Umask:	0022
State:	S (sleeping)
Tgid:	4194301
Pid:	4194301
PPid:	1
VmPeak:	    8300 kB
VmSize:	    8236 kB
VmRSS:	     900 kB
`

func TestProclore_self(t *testing.T) {
	ts := newTestShell(t, "")

	ts.ProcessLine("proclore")
	require.Empty(t, ts.Err(t))

	lines := strings.Split(strings.TrimSuffix(ts.Out(t), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, fmt.Sprintf("pid : %d", os.Getpid()), lines[0])
	// The shell's own group holds the terminal.
	assert.Regexp(t, `^Process State : [A-Z]\+$`, lines[1])
	assert.Equal(t, fmt.Sprintf("Process Group : %d", unix.Getpgrp()), lines[2])
	assert.Regexp(t, `^Virtual Memory : \d+ kB$`, lines[3])
	assert.True(t, strings.HasPrefix(lines[4], "Executable Path : "), lines[4])
	assert.NotContains(t, lines[4], unknownExe)
}

func TestProclore_fakeProcfs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proc/4194301/status", []byte(fakeStatus), 0444))
	ts := newTestShell(t, "", withFs(fs))

	ts.ProcessLine("proclore 4194301")

	require.Empty(t, ts.Err(t))
	assert.Equal(t, `pid : 4194301
Process State : S
Process Group : -1
Virtual Memory : 8236 kB
Executable Path : [Permission Denied or Path Not Found]
`, ts.Out(t))
}

func TestProclore_errors(t *testing.T) {
	cases := []struct {
		line     string
		expected string
	}{
		{"proclore abc", "Shell Error: proclore: invalid PID provided\n"},
		{"proclore 1 2", "Shell Error: Usage: proclore [pid]\n"},
		{"proclore 7", "Shell Error: proclore: Could not open /proc/7/status: "},
	}

	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			ts := newTestShell(t, "", withFs(afero.NewMemMapFs()))

			ts.ProcessLine(tc.line)

			assert.True(t, strings.HasPrefix(ts.Err(t), tc.expected), ts.Err(t))
		})
	}
}

func TestParseProcStatus(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "status", []byte(fakeStatus+"Broken line\n"), 0444))
	fd, err := fs.Open("status")
	require.NoError(t, err)
	defer fd.Close()

	status, err := parseProcStatus(fd)
	require.NoError(t, err)

	assert.Equal(t, "S", status.lookup("State"))
	assert.Equal(t, "8236", status.lookup("VmSize"))
	assert.Equal(t, "sleep", status.lookup("Name"))
	assert.Equal(t, "N/A", status.lookup("Threads"))
}

func TestParseProcStatus_readError(t *testing.T) {
	broken := io.MultiReader(strings.NewReader("State:\tS (sleeping)\n"), iotest.ErrReader(errors.New("read failed")))

	_, err := parseProcStatus(broken)

	assert.EqualError(t, err, "read failed")
}
