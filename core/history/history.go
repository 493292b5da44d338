// Package history keeps a bounded record of the lines the user entered.
package history

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/afero"
)

const (
	// DefaultSize is the number of entries kept unless configured.
	DefaultSize = 15
	// DefaultFileName is where history persists in the user's home directory.
	DefaultFileName = ".shellby_history.txt"
)

var (
	// ErrEmpty is returned when looking up entries in an empty history.
	ErrEmpty = errors.New("history is empty")
	// ErrOutOfRange is returned for lookups past the oldest entry.
	ErrOutOfRange = errors.New("invalid history index")
)

// History is a fixed capacity ring of lines, oldest entries are overwritten
// first.
type History struct {
	entries []string
	// latest is the index of the newest entry.
	latest int
	count  int
}

// New creates a history holding size entries.
func New(size int) *History {
	if size <= 0 {
		size = DefaultSize
	}
	return &History{entries: make([]string, size), latest: -1}
}

// Append records line. Empty lines and lines repeating the latest entry are
// skipped.
func (h *History) Append(line string) {
	if line == "" {
		return
	}
	if h.count > 0 && h.entries[h.latest] == line {
		return
	}

	h.latest = (h.latest + 1) % len(h.entries)
	h.entries[h.latest] = line
	if h.count < len(h.entries) {
		h.count++
	}
}

// Get returns the k-th latest entry, k=1 being the newest.
func (h *History) Get(k int) (string, error) {
	if h.count == 0 {
		return "", ErrEmpty
	}
	if k <= 0 || k > h.count {
		return "", fmt.Errorf("%w k=%d (history size is %d)", ErrOutOfRange, k, h.count)
	}
	return h.entries[(h.latest-(k-1)+len(h.entries))%len(h.entries)], nil
}

// Entries returns the recorded lines, oldest first.
func (h *History) Entries() []string {
	out := make([]string, 0, h.count)
	for k := h.count; k >= 1; k-- {
		line, _ := h.Get(k)
		out = append(out, line)
	}
	return out
}

// Len is the number of recorded lines.
func (h *History) Len() int {
	return h.count
}

// Purge forgets every entry.
func (h *History) Purge() {
	for i := range h.entries {
		h.entries[i] = ""
	}
	h.latest = -1
	h.count = 0
}

// Load appends the lines stored in path. A missing file is not an error.
func (h *History) Load(fsys afero.Fs, path string) error {
	fd, err := fsys.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	}
	defer fd.Close()

	scanner := bufio.NewScanner(fd)
	for scanner.Scan() {
		h.Append(strings.TrimRight(scanner.Text(), "\r"))
	}
	return scanner.Err()
}

// Save replaces path with the recorded lines, oldest first.
func (h *History) Save(fsys afero.Fs, path string) error {
	var sb strings.Builder
	for _, line := range h.Entries() {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return afero.WriteFile(fsys, path, []byte(sb.String()), 0600)
}
