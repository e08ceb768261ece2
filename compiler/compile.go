// Package compiler lowers SSA functions to register-machine bytecode and
// links the per-function artefacts of a call graph into one program.
package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/regc/field"
	"github.com/chazu/regc/ssa"
	"github.com/chazu/regc/vm"
)

var log = commonlog.GetLogger("regc.compiler")

// DefaultResultRegisters is the number of registers reserved for return
// values when Options leaves it unset.
const DefaultResultRegisters = 16

// Options tunes code generation.
type Options struct {
	// ResultRegisters reserves registers 0..ResultRegisters-1 for
	// function results. SSA values are placed above them.
	ResultRegisters int
}

// DefaultOptions returns the options used by the command line tool.
func DefaultOptions() Options {
	return Options{ResultRegisters: DefaultResultRegisters}
}

func (o Options) normalize() Options {
	if o.ResultRegisters <= 0 {
		o.ResultRegisters = DefaultResultRegisters
	}
	return o
}

// generator holds the state of one function compile.
type generator struct {
	ctx  *ssa.Context
	fn   *ssa.Function
	opts Options
	obj  *Artefact

	nextTemp vm.Register
	call     callState
	visited  map[ssa.BlockID]bool
	block    ssa.BlockID
}

// Compile lowers fn to an unlinked artefact. Oracle functions have no body
// and cannot be compiled.
func Compile(c *ssa.Context, fn *ssa.Function, opts Options) (*Artefact, error) {
	if fn == nil {
		return nil, internalf("compile", "nil function")
	}
	if fn.Kind == ssa.Oracle {
		return nil, unsupportedf("oracle", "%s is provided by the host and has no body", fn.Name)
	}
	opts = opts.normalize()
	g := &generator{
		ctx:      c,
		fn:       fn,
		opts:     opts,
		obj:      newArtefact(fn.Name),
		nextTemp: vm.Register(opts.ResultRegisters + c.NumNodes()),
		visited:  make(map[ssa.BlockID]bool),
	}
	if err := g.processBlocks(fn.Entry); err != nil {
		return nil, g.annotate(err)
	}
	if g.call.collecting {
		return nil, g.annotate(internalf("call", "call %s never received all its results", g.call.ins.ID))
	}
	log.Debugf("compiled %s: %d opcodes, %d fixups, %d callees", fn.Name, len(g.obj.Code), len(g.obj.Fixups), len(g.obj.Callees))
	return g.obj, nil
}

// annotate fills in the function and block a compile error occurred in.
func (g *generator) annotate(err error) error {
	var ce *CompileError
	if errors.As(err, &ce) {
		if ce.Func == "" {
			ce.Func = g.fn.Name
		}
		if ce.Block.IsDummy() {
			ce.Block = g.block
		}
	}
	return err
}

func (g *generator) emit(op vm.Opcode) int { return g.obj.emit(op) }

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

// CompileProgram compiles the function named entry and every function it
// transitively calls, then links them into an executable program.
func CompileProgram(c *ssa.Context, entry string, opts Options) (*vm.Program, error) {
	fn, ok := c.FunctionByName(entry)
	if !ok {
		return nil, fmt.Errorf("compiler: no function %q", entry)
	}
	opts = opts.normalize()

	root, err := Compile(c, fn, opts)
	if err != nil {
		return nil, err
	}
	lib := map[ssa.FuncID]*Artefact{fn.ID: root}
	pending := append([]ssa.FuncID(nil), root.Callees...)
	for len(pending) > 0 {
		id := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, done := lib[id]; done {
			continue
		}
		callee := c.Function(id)
		if callee == nil || callee.Kind == ssa.Oracle {
			continue
		}
		obj, err := Compile(c, callee, opts)
		if err != nil {
			return nil, err
		}
		lib[id] = obj
		pending = append(pending, obj.Callees...)
	}

	if err := checkRecursion(fn.ID, lib); err != nil {
		return nil, err
	}

	linked, err := Link(c, root, lib)
	if err != nil {
		return nil, err
	}
	return newProgram(c, fn, linked, opts)
}

// checkRecursion rejects call graphs with cycles. Every function owns one
// fixed register frame, so a function reentered before it returns would
// overwrite its caller's live values.
func checkRecursion(root ssa.FuncID, lib map[ssa.FuncID]*Artefact) error {
	const (
		onPath = iota + 1
		done
	)
	state := make(map[ssa.FuncID]int, len(lib))
	var visit func(id ssa.FuncID, path []string) error
	visit = func(id ssa.FuncID, path []string) error {
		obj := lib[id]
		if obj == nil {
			return nil
		}
		switch state[id] {
		case onPath:
			return unsupportedf("recursive call", "%s -> %s", strings.Join(path, " -> "), obj.Name)
		case done:
			return nil
		}
		state[id] = onPath
		path = append(path, obj.Name)
		for _, callee := range obj.Callees {
			if err := visit(callee, path); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	return visit(root, nil)
}

func newProgram(c *ssa.Context, fn *ssa.Function, linked *Artefact, opts Options) (*vm.Program, error) {
	prog := &vm.Program{
		Entry:     fn.Name,
		Code:      linked.Code,
		Registers: linked.Registers,
		Results:   len(fn.ResultTypes),
	}
	if prog.Registers < opts.ResultRegisters {
		prog.Registers = opts.ResultRegisters
	}
	for _, a := range c.Arrays() {
		prog.Arrays = append(prog.Arrays, a.Len)
	}
	for _, p := range fn.Params {
		v, ok := c.Node(p).(*ssa.Variable)
		if !ok {
			return nil, internalf("param", "parameter %s of %s is not a variable", p, fn.Name)
		}
		param := vm.Param{Name: v.Name, Register: registerOf(opts, p)}
		if a, ok := c.Deref(p); ok {
			param.IsArray = true
			param.Array = uint32(a)
			param.Typ = vmTyp(c.Array(a).ElementType)
		} else {
			param.Typ = vmTyp(v.ObjType.Numeric)
		}
		if int(param.Register)+1 > prog.Registers {
			prog.Registers = int(param.Register) + 1
		}
		prog.Params = append(prog.Params, param)
	}
	return prog, nil
}

// DirectiveInvert returns the field-inverse directive: r0 = 1/r0, leaving
// a zero r0 untouched.
func DirectiveInvert() []vm.Opcode {
	return []vm.Opcode{
		vm.JmpIfNot(0, 2),
		vm.Binary(0, vm.BinDiv, vm.FieldTyp(), vm.Const(field.One()), vm.Reg(0)),
	}
}
