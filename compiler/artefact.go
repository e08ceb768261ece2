package compiler

import (
	"fmt"

	"github.com/chazu/regc/ssa"
	"github.com/chazu/regc/vm"
)

// ---------------------------------------------------------------------------
// Fixups
// ---------------------------------------------------------------------------

// FixupKind says how the opcode at a fixup position is completed.
type FixupKind uint8

const (
	// FixupJump points a JMP, JMPIF or JMPIFNOT at the start of Block.
	FixupJump FixupKind = iota
	// FixupReturn sets a PUSHSTACK to the offset after the call jump that
	// follows it (Pos+2).
	FixupReturn
	// FixupLocal points a jump at Local, an offset inside the same
	// artefact that moves with it.
	FixupLocal
)

func (k FixupKind) String() string {
	switch k {
	case FixupJump:
		return "jump"
	case FixupReturn:
		return "return"
	case FixupLocal:
		return "local"
	default:
		return fmt.Sprintf("FixupKind(%d)", k)
	}
}

// Fixup is a code position whose target is known only symbolically.
type Fixup struct {
	Pos   int
	Kind  FixupKind
	Block ssa.BlockID // FixupJump
	Local int         // FixupLocal
}

func (f Fixup) String() string {
	switch f.Kind {
	case FixupJump:
		return fmt.Sprintf("%04d -> %s", f.Pos, f.Block)
	case FixupLocal:
		return fmt.Sprintf("%04d -> %04d", f.Pos, f.Local)
	default:
		return fmt.Sprintf("%04d -> ret", f.Pos)
	}
}

// ---------------------------------------------------------------------------
// Artefact
// ---------------------------------------------------------------------------

// Artefact is the bytecode of one function, or of a linked call graph.
// Jump targets recorded in Fixups stay symbolic until Link resolves them.
type Artefact struct {
	Name      string
	Code      []vm.Opcode
	Fixups    []Fixup
	Blocks    map[ssa.BlockID]int // block -> start offset
	Callees   []ssa.FuncID        // functions still to be linked in
	Registers int                 // one more than the highest register used

	linked bool
}

func newArtefact(name string) *Artefact {
	return &Artefact{Name: name, Blocks: make(map[ssa.BlockID]int)}
}

// Linked reports whether a is the output of Link.
func (a *Artefact) Linked() bool { return a.linked }

// Len returns the number of opcodes.
func (a *Artefact) Len() int { return len(a.Code) }

func (a *Artefact) emit(op vm.Opcode) int {
	pos := len(a.Code)
	a.Code = append(a.Code, op)
	if n := op.Registers(); n > a.Registers {
		a.Registers = n
	}
	return pos
}

func (a *Artefact) addCallee(f ssa.FuncID) {
	for _, c := range a.Callees {
		if c == f {
			return
		}
	}
	a.Callees = append(a.Callees, f)
}

// Disassemble renders the code. Unlinked jumps show their placeholder.
func (a *Artefact) Disassemble() string {
	return vm.Disassemble(a.Code)
}
