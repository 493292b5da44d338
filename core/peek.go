package core

import (
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	getopt "github.com/pborman/getopt/v2"
	"github.com/spf13/afero"
)

// Peek lists a directory, the working directory by default.
func Peek(s *Shell, args []string) int {
	opts := getopt.New()
	listAll := opts.Bool('a', "don't ignore entries starting with .")
	longListing := opts.Bool('l', "use a long listing format")
	helpOpt := opts.BoolLong("help", 'h', "show help and exit")

	if err := opts.Getopt(args, nil); err != nil || *helpOpt {
		w := s.Stderr()
		if err != nil {
			fmt.Fprintln(w, err)
		}
		fmt.Fprintln(w, "Usage: peek [-a] [-l] [DIRECTORY]")
		fmt.Fprintln(w, "List the entries of DIRECTORY (the current directory by default).")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Flags:")
		opts.PrintOptions(w)
		return 1
	}
	rest := opts.Args()
	if len(rest) > 1 {
		return s.Errorf("%s: too many arguments", args[0])
	}

	var dir string
	if len(rest) == 1 {
		dir = rest[0]
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return s.Errorf("peek: getcwd failed: %v", err)
		}
		dir = wd
	}
	dir = s.ExpandHome(dir)

	entries, err := s.listDir(dir, *listAll)
	if err != nil {
		return s.Errorf("peek: Could not scan directory '%s': %v", dir, err)
	}

	w := s.Stdout()
	if !*longListing {
		for _, entry := range entries {
			fmt.Fprintln(w, s.Sprintf(peekColor(entry), "%s", entry.Name()))
		}
		return 0
	}

	var blocks int64
	for _, entry := range entries {
		blocks += statOf(entry).blocks
	}
	fmt.Fprintf(w, "total %d\n", blocks/2)

	for _, entry := range entries {
		st := statOf(entry)
		fmt.Fprintf(w, "%s %2d%s%s %7d %s %s\n",
			s.modeString(entry.Mode()),
			st.nlink,
			s.Sprintf(ColorYellow, " %s", lookupOwner(st.uid)),
			s.Sprintf(ColorYellow, " %s", lookupGroup(st.gid)),
			entry.Size(),
			entry.ModTime().Format("Jan 02 15:04"),
			s.longName(dir, entry))
	}
	return 0
}

// namedInfo renames a FileInfo, used for '.' and '..'.
type namedInfo struct {
	fs.FileInfo
	name string
}

func (n namedInfo) Name() string {
	return n.name
}

func (s *Shell) listDir(dir string, all bool) ([]fs.FileInfo, error) {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, err
	}

	var entries []fs.FileInfo
	if all {
		for _, name := range []string{".", ".."} {
			info, err := s.fs.Stat(filepath.Join(dir, name))
			if err != nil {
				return nil, err
			}
			entries = append(entries, namedInfo{FileInfo: info, name: name})
		}
	}
	for _, info := range infos {
		if !all && strings.HasPrefix(info.Name(), ".") {
			continue
		}
		entries = append(entries, info)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	return entries, nil
}

func peekColor(fi fs.FileInfo) *color.Color {
	switch {
	case fi.IsDir():
		return ColorBlue
	case fi.Mode()&fs.ModeSymlink != 0:
		return ColorCyan
	case fi.Mode().Perm()&0111 != 0:
		return ColorGreen
	default:
		return color.New(color.Reset)
	}
}

func (s *Shell) modeString(mode fs.FileMode) string {
	kind := "-"
	if mode.IsDir() {
		kind = s.Sprintf(ColorCyan, "d")
	}
	// FileMode.String on bare permission bits is "-rwxr-xr-x".
	return kind + mode.Perm().String()[1:]
}

func (s *Shell) longName(dir string, fi fs.FileInfo) string {
	name := s.Sprintf(peekColor(fi), "%s", fi.Name())
	if fi.Mode()&fs.ModeSymlink == 0 {
		return name
	}
	lr, ok := s.fs.(afero.LinkReader)
	if !ok {
		return name
	}
	target, err := lr.ReadlinkIfPossible(filepath.Join(dir, fi.Name()))
	if err != nil {
		return name
	}
	return name + " -> " + target
}

type peekStat struct {
	nlink    int64
	uid, gid int
	blocks   int64
}

// statOf reads link counts and ownership from the underlying stat. Files
// without one, such as in-memory ones, are owned by nobody.
func statOf(fi fs.FileInfo) peekStat {
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		return peekStat{
			nlink:  int64(sys.Nlink),
			uid:    int(sys.Uid),
			gid:    int(sys.Gid),
			blocks: sys.Blocks,
		}
	}

	st := peekStat{nlink: 1, uid: -1, gid: -1, blocks: (fi.Size() + 511) / 512}
	if fi.IsDir() {
		st.nlink = 2
	}
	return st
}

func lookupOwner(uid int) string {
	if uid < 0 {
		return "UNKNOWN"
	}
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return "UNKNOWN"
	}
	return u.Username
}

func lookupGroup(gid int) string {
	if gid < 0 {
		return "UNKNOWN"
	}
	g, err := user.LookupGroupId(strconv.Itoa(gid))
	if err != nil {
		return "UNKNOWN"
	}
	return g.Name
}
