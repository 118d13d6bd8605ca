package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chazu/atlas/vm"
	"github.com/peterh/liner"
)

const (
	prompt   = "atlas> "
	helpText = `Commands:
  name arg...     call the global name with the given arguments
  :globals        list bound names
  :disasm name    show the segment bound to name
  :quit           exit
`
)

// Execute runs one line of input, writing its output to out. It reports
// whether the line asked to quit.
func (s *Session) Execute(ctx context.Context, line string, out io.Writer) (bool, error) {
	if strings.TrimSpace(line) == "" {
		return false, nil
	}
	if name, arg, ok := splitMeta(line); ok {
		return s.meta(name, arg, out)
	}
	in, err := ParseCommand(line)
	if err != nil {
		return false, err
	}
	res, err := s.Eval(ctx, in)
	if err != nil {
		return false, err
	}
	fmt.Fprintln(out, res.Value)
	return false, nil
}

func (s *Session) meta(name, arg string, out io.Writer) (bool, error) {
	switch name {
	case "quit", "q":
		return true, nil
	case "help":
		fmt.Fprint(out, helpText)
	case "globals":
		for _, g := range s.compiler.Globals() {
			id, _ := s.compiler.Global(g)
			fmt.Fprintf(out, "%s\tseg %d\n", g, id)
		}
	case "disasm":
		id, ok := s.compiler.Global(arg)
		if !ok {
			return false, fmt.Errorf("undefined: %s", arg)
		}
		seg, err := s.program.Segment(id)
		if err != nil {
			return false, err
		}
		fmt.Fprint(out, vm.Disassemble(seg))
	default:
		return false, fmt.Errorf("unknown command :%s (try :help)", name)
	}
	return false, nil
}

// Run reads lines from the terminal until EOF or :quit. History is loaded
// from and saved to historyPath when it is not empty. Ctrl+C aborts the
// current line.
func Run(ctx context.Context, s *Session, historyPath string) error {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(func(line string) []string {
		var out []string
		for _, g := range s.compiler.Globals() {
			if strings.HasPrefix(g, line) {
				out = append(out, g)
			}
		}
		return out
	})

	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			_, _ = ln.ReadHistory(f)
			_ = f.Close()
		}
		defer func() {
			if f, err := os.Create(historyPath); err == nil {
				_, _ = ln.WriteHistory(f)
				_ = f.Close()
			}
		}()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		ln.AppendHistory(line)

		quit, err := s.Execute(ctx, line, os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		if quit {
			return nil
		}
	}
}
