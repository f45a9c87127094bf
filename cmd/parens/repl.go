package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"github.com/chazu/parens/compiler"
	"github.com/chazu/parens/vm"
)

// lineReader is the part of liner.State the REPL needs.
type lineReader interface {
	Prompt(prompt string) (string, error)
}

// repl reads forms line by line and evaluates each complete input.
type repl struct {
	vm     *vm.VM
	in     lineReader
	out    io.Writer
	errOut io.Writer
	prompt string // shown when the buffer is empty
	cont   string // shown while a form is incomplete

	// newlineOnEOF moves a terminal past the abandoned prompt.
	newlineOnEOF bool

	history func(entry string)
	buffer  strings.Builder
}

func newREPL(v *vm.VM, in lineReader, out, errOut io.Writer, prompt string) *repl {
	return &repl{
		vm:      v,
		in:      in,
		out:     out,
		errOut:  errOut,
		prompt:  prompt,
		cont:    "",
		history: func(string) {},

		newlineOnEOF: true,
	}
}

// run loops until quit or end of input.
func (r *repl) run() {
	for {
		p := r.prompt
		if r.buffer.Len() > 0 {
			p = r.cont
		}

		line, err := r.in.Prompt(p)
		if errors.Is(err, liner.ErrPromptAborted) {
			// Ctrl-C drops the pending input.
			r.buffer.Reset()
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintf(r.errOut, "error: %v\n", err)
			}
			if r.newlineOnEOF {
				fmt.Fprintln(r.out)
			}
			return
		}

		if r.buffer.Len() == 0 {
			trimmed := strings.TrimSpace(line)
			if trimmed == "quit" {
				return
			}
			if strings.HasPrefix(trimmed, ":") {
				r.command(trimmed)
				continue
			}
			if trimmed == "" {
				continue
			}
		} else {
			r.buffer.WriteString("\n")
		}
		r.buffer.WriteString(line)

		r.eval()
	}
}

// eval runs the buffered input. An incomplete form keeps the buffer for
// the next line; anything else clears it.
func (r *repl) eval() {
	source := r.buffer.String()

	chunks, err := r.vm.Compile(source)
	if vm.IsEndOfInput(err) {
		return
	}
	r.buffer.Reset()
	r.history(strings.ReplaceAll(source, "\n", " "))
	if err != nil {
		r.report(err)
		return
	}
	if len(chunks) == 0 {
		return
	}

	result, err := r.vm.ExecuteAll(chunks)
	if err != nil {
		r.report(err)
		return
	}
	fmt.Fprintln(r.out, result)
}

func (r *repl) report(err error) {
	fmt.Fprintf(r.errOut, "error: %v\n", err)
}

// command handles REPL meta-commands.
func (r *repl) command(line string) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case ":help", ":h", ":?":
		fmt.Fprintln(r.out, "REPL Commands:")
		fmt.Fprintln(r.out, "  :help, :h, :?     Show this help")
		fmt.Fprintln(r.out, "  :globals          List global names")
		fmt.Fprintln(r.out, "  :disasm <expr>    Show the bytecode for an expression")
		fmt.Fprintln(r.out, "  :load <file>      Evaluate a source file or image")
		fmt.Fprintln(r.out, "  :stack            Show interpreter stack depths")
		fmt.Fprintln(r.out, "  quit              Exit REPL")
	case ":globals":
		names := r.vm.GlobalNames()
		fmt.Fprintln(r.out, strings.Join(names, " "))
	case ":disasm":
		if arg == "" {
			fmt.Fprintln(r.errOut, "usage: :disasm <expr>")
			return
		}
		chunks, err := compiler.Compile(arg)
		if err != nil {
			r.report(err)
			return
		}
		for _, c := range chunks {
			fmt.Fprint(r.out, c.Disassemble())
		}
	case ":load":
		if arg == "" {
			fmt.Fprintln(r.errOut, "usage: :load <file>")
			return
		}
		result, err := loadFile(r.vm, arg)
		if err != nil {
			r.report(err)
			return
		}
		fmt.Fprintln(r.out, result)
	case ":stack":
		in := r.vm.Interpreter()
		fmt.Fprintf(r.out, "frames: %d/%d, stack: %d\n", in.FrameDepth(), in.MaxFrames, in.StackDepth())
	default:
		fmt.Fprintf(r.errOut, "Unknown command: %s (type :help for commands)\n", cmd)
	}
}

// lineScanner feeds the REPL from a pipe or file: no prompts, no editing.
type lineScanner struct {
	scanner *bufio.Scanner
}

func newLineScanner(r io.Reader) *lineScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &lineScanner{scanner: s}
}

func (l *lineScanner) Prompt(string) (string, error) {
	if l.scanner.Scan() {
		return l.scanner.Text(), nil
	}
	if err := l.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// runREPL reads forms from stdin. A terminal gets line editing, history
// and completion; anything else is read line by line without prompts.
func runREPL(v *vm.VM, stdin io.Reader, stdout, stderr io.Writer, prompt, historyPath string) {
	if f, ok := stdin.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) {
		r := newREPL(v, newLineScanner(stdin), stdout, stderr, prompt)
		r.newlineOnEOF = false
		r.run()
		return
	}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

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

	ln.SetCompleter(func(line string) []string {
		start := strings.LastIndexAny(line, " \t\n()'`~") + 1
		prefix := line[start:]
		if prefix == "" {
			return nil
		}
		var out []string
		for _, name := range append(append([]string{}, compiler.SpecialForms...), v.GlobalNames()...) {
			if strings.HasPrefix(name, prefix) {
				out = append(out, line[:start]+name)
			}
		}
		return out
	})

	fmt.Fprintln(stdout, "parens REPL (type 'quit' to exit, ':help' for commands)")

	r := newREPL(v, ln, stdout, stderr, prompt)
	r.history = ln.AppendHistory
	r.run()
}
