// Package parser turns a single command line into a pipeline of simple
// commands.
//
// The grammar is deliberately small: words are separated by whitespace, stages
// by '|', and each stage may carry '<', '>' and '>>' redirections. A trailing
// '&' preceded by whitespace puts the pipeline in the background. There is no
// quoting, expansion or globbing.
package parser

import (
	"errors"
	"fmt"
	"strings"
)

const (
	opPipe   = "|"
	opInput  = "<"
	opOutput = ">"
	opAppend = ">>"
	opSeq    = ";"
	opBg     = '&'
)

// ErrSyntax is wrapped by every error returned from Parse.
var ErrSyntax = errors.New("syntax error")

// SyntaxError describes a malformed pipeline or redirection.
type SyntaxError struct {
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%v: %s", ErrSyntax, e.Msg)
}

func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

func syntaxErrorf(format string, a ...interface{}) error {
	return &SyntaxError{Msg: fmt.Sprintf(format, a...)}
}

// SimpleCommand is one stage of a pipeline.
type SimpleCommand struct {
	// Argv holds the program name followed by its arguments, never empty.
	Argv []string
	// InputFile is read as stdin when non-empty.
	InputFile string
	// OutputFile receives stdout when non-empty.
	OutputFile string
	// Append opens OutputFile for appending rather than truncating it.
	Append bool
}

// Name is the program name of the command.
func (c *SimpleCommand) Name() string {
	return c.Argv[0]
}

func (c *SimpleCommand) String() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(c.Argv, " "))
	if c.InputFile != "" {
		fmt.Fprintf(&sb, " %s %s", opInput, c.InputFile)
	}
	if c.OutputFile != "" {
		op := opOutput
		if c.Append {
			op = opAppend
		}
		fmt.Fprintf(&sb, " %s %s", op, c.OutputFile)
	}
	return sb.String()
}

// Pipeline is a sequence of commands connected by pipes.
type Pipeline struct {
	Commands   []SimpleCommand
	Background bool
}

// Name is the display name of the pipeline, the first command's program.
func (p *Pipeline) Name() string {
	return p.Commands[0].Name()
}

// String renders the pipeline in canonical form.
func (p *Pipeline) String() string {
	stages := make([]string, len(p.Commands))
	for i := range p.Commands {
		stages[i] = p.Commands[i].String()
	}
	out := strings.Join(stages, " | ")
	if p.Background {
		out += " &"
	}
	return out
}

// SplitSequence splits a line on ';' and returns the trimmed, non-empty
// commands in order.
func SplitSequence(line string) []string {
	var out []string
	for _, cmd := range strings.Split(line, opSeq) {
		if cmd = strings.TrimSpace(cmd); cmd != "" {
			out = append(out, cmd)
		}
	}
	return out
}

// Parse parses a single command line. On error the returned pipeline is nil.
func Parse(line string) (*Pipeline, error) {
	line = strings.TrimSpace(line)

	var background bool
	// A '&' only marks the background when whitespace precedes it, "cmd&" is a
	// literal word.
	if n := len(line); n > 1 && line[n-1] == opBg && (line[n-2] == ' ' || line[n-2] == '\t') {
		background = true
		line = line[:n-1]
	}

	segments := strings.Split(line, opPipe)
	commands := make([]SimpleCommand, 0, len(segments))
	for i, segment := range segments {
		cmd, err := parseSimpleCommand(segment)
		if err != nil {
			return nil, err
		}

		if cmd.InputFile != "" && i != 0 {
			return nil, syntaxErrorf("input redirect on a command that reads from a pipe: %q", cmd.Name())
		}
		if cmd.OutputFile != "" && i != len(segments)-1 {
			return nil, syntaxErrorf("output redirect on a command that writes to a pipe: %q", cmd.Name())
		}

		commands = append(commands, *cmd)
	}

	return &Pipeline{Commands: commands, Background: background}, nil
}

func isOperator(tok string) bool {
	switch tok {
	case opInput, opOutput, opAppend:
		return true
	default:
		return false
	}
}

func parseSimpleCommand(segment string) (*SimpleCommand, error) {
	tokens := strings.Fields(segment)
	if len(tokens) == 0 {
		return nil, syntaxErrorf("unexpected null command in pipeline")
	}

	cmd := &SimpleCommand{}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if !isOperator(tok) {
			cmd.Argv = append(cmd.Argv, tok)
			continue
		}

		if i+1 >= len(tokens) || isOperator(tokens[i+1]) {
			if tok == opInput {
				return nil, syntaxErrorf("missing name for input redirect")
			}
			return nil, syntaxErrorf("missing name for output redirect")
		}
		i++
		target := tokens[i]

		switch tok {
		case opInput:
			if cmd.InputFile != "" {
				return nil, syntaxErrorf("ambiguous input redirect")
			}
			cmd.InputFile = target
		case opOutput, opAppend:
			if cmd.OutputFile != "" {
				return nil, syntaxErrorf("ambiguous output redirect")
			}
			cmd.OutputFile = target
			cmd.Append = tok == opAppend
		}
	}

	if len(cmd.Argv) == 0 {
		return nil, syntaxErrorf("missing command")
	}

	return cmd, nil
}
