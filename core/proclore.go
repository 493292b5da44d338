package core

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

const unknownExe = "[Permission Denied or Path Not Found]"

// Proclore prints information about a process, the shell by default.
func Proclore(s *Shell, args []string) int {
	if len(args) > 2 {
		return s.Errorf("Usage: %s [pid]", args[0])
	}
	pid := os.Getpid()
	if len(args) == 2 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil || parsed <= 0 {
			return s.Errorf("%s: invalid PID provided", args[0])
		}
		pid = parsed
	}

	procDir := path.Join(s.Prober.Root, strconv.Itoa(pid))
	statusPath := path.Join(procDir, "status")
	fd, err := s.Prober.Fs.Open(statusPath)
	if err != nil {
		return s.Errorf("proclore: Could not open %s: %v", statusPath, err)
	}
	fields, err := parseProcStatus(fd)
	fd.Close()
	if err != nil {
		return s.Errorf("proclore: Could not read %s: %v", statusPath, err)
	}

	pgid, err := unix.Getpgid(pid)
	if err != nil {
		pgid = -1
	}
	foreground := ""
	if fg, err := s.Arbiter.Foreground(); err == nil && pgid != -1 && pgid == fg {
		foreground = "+"
	}

	exe := unknownExe
	if lr, ok := s.Prober.Fs.(afero.LinkReader); ok {
		if target, err := lr.ReadlinkIfPossible(path.Join(procDir, "exe")); err == nil {
			exe = s.TildePath(target)
		}
	}

	w := s.Stdout()
	label := func(name string) string {
		return s.Sprintf(ColorBlue, "%s : ", name)
	}
	fmt.Fprintf(w, "%s%d\n", label("pid"), pid)
	fmt.Fprintf(w, "%s%s%s\n", label("Process State"), fields.lookup("State"), foreground)
	fmt.Fprintf(w, "%s%d\n", label("Process Group"), pgid)
	fmt.Fprintf(w, "%s%s kB\n", label("Virtual Memory"), fields.lookup("VmSize"))
	fmt.Fprintf(w, "%s%s\n", label("Executable Path"), exe)
	return 0
}

type procStatus map[string]string

// lookup returns the first word of a status field, "N/A" if it's missing.
func (p procStatus) lookup(key string) string {
	words := strings.Fields(p[key])
	if len(words) == 0 {
		return "N/A"
	}
	return words[0]
}

// parseProcStatus reads the "Key:\tvalue" lines of /proc/<pid>/status.
func parseProcStatus(r io.Reader) (procStatus, error) {
	fields := make(procStatus)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return fields, nil
}
