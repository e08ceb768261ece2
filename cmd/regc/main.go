// regc compiles SSA graph descriptions to register-VM bytecode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/regc/compiler"
	"github.com/chazu/regc/field"
	"github.com/chazu/regc/manifest"
	"github.com/chazu/regc/ssa"
	"github.com/chazu/regc/ssa/hash"
	"github.com/chazu/regc/store"
	"github.com/chazu/regc/vm"
)

var log = commonlog.GetLogger("regc")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// verbosity counts repeated -v flags.
type verbosity int

func (v *verbosity) String() string   { return strconv.Itoa(int(*v)) }
func (v *verbosity) IsBoolFlag() bool { return true }
func (v *verbosity) Set(s string) error {
	on, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if on {
		*v++
	}
	return nil
}

// argList collects -arg name=v1,v2,... bindings.
type argList map[string][]field.Element

func (a argList) String() string {
	names := make([]string, 0, len(a))
	for n := range a {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func (a argList) Set(s string) error {
	name, vals, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("want name=value, got %q", s)
	}
	var elems []field.Element
	for _, v := range strings.Split(vals, ",") {
		e, err := field.FromDecimal(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		elems = append(elems, e)
	}
	a[name] = elems
	return nil
}

// config is the merged view of flags and regc.toml.
type config struct {
	graph     string
	entry     string
	registers int
	output    string
	format    string
	cache     string
	run       bool
	args      argList
	verbosity int
	logFile   string
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("regc", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var v verbosity
	fs.Var(&v, "v", "Verbose output (repeat for more)")
	output := fs.String("o", "", "Write the artefact to `file` instead of stdout")
	format := fs.String("format", "", "Artefact format: cbor or text")
	entry := fs.String("entry", "", "Entry function `name`")
	cachePath := fs.String("cache", "", "Artefact cache database `path`")
	registers := fs.Int("result-registers", 0, "Number of reserved result registers")
	runProg := fs.Bool("run", false, "Run the program with the reference interpreter")
	args := argList{}
	fs.Var(args, "arg", "Bind entry parameter `name=v1,v2,...` for -run (repeatable)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: regc [options] [graph.toml]\n\n")
		fmt.Fprintf(stderr, "Compiles an SSA graph description to linked register-VM bytecode.\n")
		fmt.Fprintf(stderr, "Settings not given as flags are read from the nearest regc.toml.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  regc -format text graph.toml        # Print disassembly\n")
		fmt.Fprintf(stderr, "  regc -o main.bc graph.toml          # Write CBOR artefact\n")
		fmt.Fprintf(stderr, "  regc -run -arg x=3 -arg ys=1,2 graph.toml\n")
	}
	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return 2
	}

	cfg := config{
		graph:     fs.Arg(0),
		entry:     *entry,
		registers: *registers,
		output:    *output,
		format:    *format,
		cache:     *cachePath,
		run:       *runProg,
		args:      args,
		verbosity: int(v),
	}
	if err := cfg.merge(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var logFile *string
	if cfg.logFile != "" {
		logFile = &cfg.logFile
	}
	commonlog.Configure(cfg.verbosity, logFile)

	if err := execute(ctx, &cfg, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		var trap *vm.TrapError
		if errors.As(err, &trap) {
			return 3
		}
		return 1
	}
	return 0
}

// merge fills unset values from regc.toml, searched for from the graph's
// directory (or the working directory), then from built-in defaults.
func (c *config) merge() error {
	start := "."
	if c.graph != "" {
		start = filepath.Dir(c.graph)
	}
	m, err := manifest.FindAndLoad(start)
	if err != nil {
		return err
	}
	if m != nil {
		if c.graph == "" {
			c.graph = m.GraphPath()
		}
		if c.entry == "" {
			c.entry = m.Compile.Entry
		}
		if c.registers == 0 {
			c.registers = m.Compile.ResultRegisters
		}
		if c.output == "" {
			c.output = m.OutputPath()
		}
		if c.format == "" {
			c.format = m.Output.Format
		}
		if c.cache == "" {
			c.cache = m.CachePath()
		}
		if c.verbosity == 0 {
			c.verbosity = m.Log.Verbosity
		}
		c.logFile = m.Path(m.Log.File)
	}

	if c.graph == "" {
		return errors.New("no graph given and no regc.toml names one")
	}
	if c.registers == 0 {
		c.registers = compiler.DefaultResultRegisters
	}
	if c.format == "" {
		c.format = manifest.FormatCBOR
	}
	if c.format != manifest.FormatCBOR && c.format != manifest.FormatText {
		return fmt.Errorf("unknown format %q", c.format)
	}
	return nil
}

func execute(ctx context.Context, cfg *config, stdout io.Writer) error {
	prog, err := ssa.LoadFile(cfg.graph)
	if err != nil {
		return err
	}
	if cfg.entry == "" {
		cfg.entry = prog.Entry
	}

	p, err := compileCached(prog.Context, cfg)
	if err != nil {
		return err
	}

	if cfg.run {
		if err := runProgram(ctx, p, cfg.args, stdout); err != nil {
			return err
		}
		if cfg.output == "" {
			return nil
		}
	}
	return writeArtefact(p, cfg, stdout)
}

// compileCached compiles cfg.entry, going through the artefact cache when
// one is configured. Cache failures are logged and never fatal.
func compileCached(c *ssa.Context, cfg *config) (*vm.Program, error) {
	opts := compiler.Options{ResultRegisters: cfg.registers}
	if cfg.cache == "" {
		return compiler.CompileProgram(c, cfg.entry, opts)
	}

	s, err := store.Open(cfg.cache)
	if err != nil {
		log.Warningf("cache disabled: %s", err)
		return compiler.CompileProgram(c, cfg.entry, opts)
	}
	defer s.Close()

	key := fmt.Sprintf("%s:r%d", hash.Key(c, cfg.entry), cfg.registers)
	if p, err := s.Get(key); err == nil {
		return p, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Warningf("cache read: %s", err)
	}

	p, err := compiler.CompileProgram(c, cfg.entry, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Put(key, p); err != nil {
		log.Warningf("cache write: %s", err)
	}
	return p, nil
}

func runProgram(ctx context.Context, p *vm.Program, args argList, stdout io.Writer) error {
	m := vm.NewMachine(p, nil)
	if err := m.SetArgs(args); err != nil {
		return err
	}
	if err := m.Run(ctx); err != nil {
		return err
	}
	log.Infof("%s: halted after %d steps", p.Entry, m.Steps())
	for i, r := range m.Results() {
		fmt.Fprintf(stdout, "r%d = %s\n", i, r)
	}
	return nil
}

func writeArtefact(p *vm.Program, cfg *config, stdout io.Writer) error {
	var data []byte
	switch cfg.format {
	case manifest.FormatText:
		data = []byte(vm.Disassemble(p.Code) + "\n")
	default:
		var err error
		if data, err = vm.MarshalProgram(p); err != nil {
			return err
		}
	}

	if cfg.output == "" {
		_, err := stdout.Write(data)
		return err
	}
	if dir := filepath.Dir(cfg.output); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}
	if err := os.WriteFile(cfg.output, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", cfg.output, err)
	}
	log.Infof("wrote %s (%d bytes)", cfg.output, len(data))
	return nil
}
