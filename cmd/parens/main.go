// parens CLI - runs Lisp source files and images, compiles images, and
// hosts the REPL, evaluation server and language server.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/parens/cache"
	"github.com/chazu/parens/compiler"
	"github.com/chazu/parens/manifest"
	"github.com/chazu/parens/server"
	"github.com/chazu/parens/vm"
)

// ImageExt marks files holding compiled images rather than source.
const ImageExt = ".plc"

var log = commonlog.GetLogger("parens.cli")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// options are the parsed command-line flags.
type options struct {
	verbose     bool
	trace       bool
	interactive bool
	expr        string
	config      string
	noPrelude   bool
	output      string
	disasm      bool
	serve       bool
	port        int
	lsp         bool
	maxFrames   int
	cachePath   string
	files       []string
	set         map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("parens", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{set: make(map[string]bool)}
	fs.BoolVar(&o.verbose, "v", false, "Verbose output")
	fs.BoolVar(&o.trace, "trace", false, "Log every executed instruction (implies -v)")
	fs.BoolVar(&o.interactive, "i", false, "Start the REPL after -e")
	fs.StringVar(&o.expr, "e", "", "Evaluate an expression and print the result")
	fs.StringVar(&o.config, "config", "", "Path to parens.toml (default: search upward from the working directory)")
	fs.BoolVar(&o.noPrelude, "no-prelude", false, "Skip the built-in and configured preludes")
	fs.StringVar(&o.output, "o", "", "Compile the given source files into an image instead of running them")
	fs.BoolVar(&o.disasm, "disasm", false, "Print the bytecode of the given files or -e expression instead of running")
	fs.BoolVar(&o.serve, "serve", false, "Start the evaluation server (Connect HTTP/JSON)")
	fs.IntVar(&o.port, "port", manifest.DefaultPort, "Evaluation server port (used with -serve)")
	fs.BoolVar(&o.lsp, "lsp", false, "Run the language server on stdio")
	fs.IntVar(&o.maxFrames, "max-frames", manifest.DefaultMaxFrames, "Maximum call depth")
	fs.StringVar(&o.cachePath, "cache", "", "Compiled-chunk cache database")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: parens [options] [files...]\n\n")
		fmt.Fprintf(stderr, "Evaluates the given files in order, printing each result, then starts the REPL.\n")
		fmt.Fprintf(stderr, "With -e the expression is evaluated instead of starting the REPL (unless -i).\n")
		fmt.Fprintf(stderr, "Files ending in %s are compiled images; all others are source.\n\n", ImageExt)
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  parens                         # Start REPL\n")
		fmt.Fprintf(stderr, "  parens prog.lisp               # Load a file, then start the REPL\n")
		fmt.Fprintf(stderr, "  parens -e '(+ 1 2)'            # Evaluate an expression\n")
		fmt.Fprintf(stderr, "  parens -o prog.plc prog.lisp   # Compile to an image\n")
		fmt.Fprintf(stderr, "  parens -serve -port 8081       # Start the evaluation server\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	o.files = fs.Args()
	return o, nil
}

// loadConfig finds parens.toml and lets explicitly set flags override it.
func loadConfig(o *options) (*manifest.Manifest, error) {
	var m *manifest.Manifest
	var err error
	if o.config != "" {
		m, err = manifest.LoadFile(o.config)
	} else {
		m, err = manifest.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}

	if o.set["max-frames"] {
		m.VM.MaxFrames = o.maxFrames
	}
	if o.trace {
		m.VM.Trace = true
	}
	if o.set["port"] {
		m.Server.Port = o.port
	}
	if o.set["cache"] {
		m.Cache.Path = o.cachePath
	}
	return m, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	verbosity := 0
	if o.verbose {
		verbosity = 1
	}
	if o.trace {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	m, err := loadConfig(o)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	compile := vm.CompileFunc(compiler.Compile)
	if path := m.CachePath(); path != "" {
		store, err := cache.Open(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer store.Close()
		compile = store.Wrap(compile)
		log.Infof("using compile cache %s", path)
	}

	if o.output != "" {
		return compileImage(o.files, o.output, compile, stderr)
	}
	if o.disasm {
		return disassemble(o, compile, stdout, stderr)
	}

	factory := func() (*vm.VM, error) {
		return newVM(m, compile, !o.noPrelude, stdout)
	}

	if o.lsp {
		v, err := factory()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := server.NewLSP(v).Run(); err != nil {
			fmt.Fprintf(stderr, "LSP error: %v\n", err)
			return 1
		}
		return 0
	}

	if o.serve {
		srv, err := server.New(factory)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer srv.Stop()
		if err := srv.ListenAndServe(fmt.Sprintf(":%d", m.Server.Port)); err != nil {
			fmt.Fprintf(stderr, "Server error: %v\n", err)
			return 1
		}
		return 0
	}

	v, err := factory()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// A session loads the files, shows what each produced, then reads
	// more input. -e is a one-shot run and prints only its own result.
	session := o.interactive || o.expr == ""

	for _, path := range o.files {
		log.Infof("loading %s", path)
		result, err := loadFile(v, path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %s: %v\n", path, err)
			return 1
		}
		if session {
			fmt.Fprintln(stdout, result)
		}
	}

	if o.expr != "" {
		result, err := v.EvalString(o.expr)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, result)
	}

	if session {
		runREPL(v, stdin, stdout, stderr, m.REPL.Prompt, m.HistoryPath())
	}
	return 0
}

// newVM builds a VM configured from m, with the preludes loaded when
// prelude is set.
func newVM(m *manifest.Manifest, compile vm.CompileFunc, prelude bool, out io.Writer) (*vm.VM, error) {
	v := vm.NewVM()
	v.UseCompiler(compile)
	v.SetMaxFrames(m.VM.MaxFrames)
	v.SetTrace(m.VM.Trace)
	v.SetOutput(out)

	if !prelude {
		return v, nil
	}
	if err := v.LoadPrelude(); err != nil {
		return nil, fmt.Errorf("loading prelude: %w", err)
	}
	for _, path := range m.PreludePaths() {
		if _, err := loadFile(v, path); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return v, nil
}

// loadFile evaluates a source file or runs a compiled image, returning the
// value of its last form.
func loadFile(v *vm.VM, path string) (vm.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	if isImagePath(path, data) {
		chunks, err := vm.UnmarshalImage(data)
		if err != nil {
			return nil, err
		}
		return v.ExecuteAll(chunks)
	}
	return v.EvalString(string(data))
}

func isImagePath(path string, data []byte) bool {
	return strings.EqualFold(filepath.Ext(path), ImageExt) || vm.IsImage(data)
}

// compileImage compiles every source file, in order, into one image.
func compileImage(files []string, output string, compile vm.CompileFunc, stderr io.Writer) int {
	if len(files) == 0 {
		fmt.Fprintln(stderr, "Error: -o needs at least one source file")
		return 2
	}

	var chunks []*vm.Chunk
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: cannot read %s: %v\n", path, err)
			return 1
		}
		compiled, err := compile(string(data))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %s: %v\n", path, err)
			return 1
		}
		chunks = append(chunks, compiled...)
	}

	image, err := vm.MarshalImage(chunks)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := os.WriteFile(output, image, 0644); err != nil {
		fmt.Fprintf(stderr, "Error: cannot write %s: %v\n", output, err)
		return 1
	}
	log.Infof("wrote %d chunks (%d bytes) to %s", len(chunks), len(image), output)
	return 0
}

// disassemble prints the bytecode for -e or each file.
func disassemble(o *options, compile vm.CompileFunc, stdout, stderr io.Writer) int {
	var chunks []*vm.Chunk
	if o.expr != "" {
		compiled, err := compile(o.expr)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		chunks = compiled
	}
	for _, path := range o.files {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: cannot read %s: %v\n", path, err)
			return 1
		}
		var compiled []*vm.Chunk
		if isImagePath(path, data) {
			compiled, err = vm.UnmarshalImage(data)
		} else {
			compiled, err = compile(string(data))
		}
		if err != nil {
			fmt.Fprintf(stderr, "Error: %s: %v\n", path, err)
			return 1
		}
		chunks = append(chunks, compiled...)
	}

	for _, c := range chunks {
		fmt.Fprint(stdout, c.Disassemble())
	}
	return 0
}
