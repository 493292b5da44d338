// Package input reads command lines from the user.
package input

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/abiosoft/readline"
	"golang.org/x/term"
)

// Reader reads one command line at a time.
type Reader interface {
	// ReadLine shows prompt and returns the trimmed line. It returns io.EOF
	// at the end of input and an empty line if the user interrupted editing.
	ReadLine(prompt string) (string, error)
	// Remember makes line available for recall.
	Remember(line string)
	Close() error
}

// Open creates a line editor when stdin is a terminal, otherwise a plain
// buffered reader that prints no prompt.
func Open(stdin *os.File, stdout io.Writer, historySize int) (Reader, error) {
	if !term.IsTerminal(int(stdin.Fd())) {
		return NewPlain(stdin), nil
	}
	return NewEditor(stdin, stdout, historySize)
}

type plainReader struct {
	r *bufio.Reader
}

// NewPlain creates a Reader for non-interactive input.
func NewPlain(r io.Reader) Reader {
	return &plainReader{r: bufio.NewReader(r)}
}

func (p *plainReader) ReadLine(string) (string, error) {
	line, err := p.r.ReadString('\n')
	if errors.Is(err, io.EOF) && line != "" {
		err = nil
	}
	return strings.TrimSpace(line), err
}

func (p *plainReader) Remember(string) {}

func (p *plainReader) Close() error {
	return nil
}

type editor struct {
	gate     *Gate
	readline *readline.Instance
}

// NewEditor creates an interactive line editor with arrow key history recall.
func NewEditor(stdin io.Reader, stdout io.Writer, historySize int) (Reader, error) {
	gate := NewGate(stdin)
	cfg := &readline.Config{
		Stdin:                  gate,
		Stdout:                 stdout,
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
		FuncFilterInputRune: func(r rune) (rune, bool) {
			// Ctrl+Z would suspend the shell itself.
			if r == readline.CharCtrlZ {
				return r, false
			}
			return r, true
		},
	}

	if err := cfg.Init(); err != nil {
		return nil, err
	}

	rl, err := readline.NewEx(cfg)
	if err != nil {
		return nil, err
	}

	return &editor{gate: gate, readline: rl}, nil
}

func (e *editor) ReadLine(prompt string) (string, error) {
	e.readline.SetPrompt(prompt)
	e.gate.Arm()
	line, err := e.readline.Readline()
	e.gate.Disarm()

	switch {
	case err == readline.ErrInterrupt:
		return "", nil
	case err != nil:
		return "", err
	default:
		return strings.TrimSpace(line), nil
	}
}

func (e *editor) Remember(line string) {
	_ = e.readline.SaveHistory(line)
}

func (e *editor) Close() error {
	return e.readline.Close()
}
