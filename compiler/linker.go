package compiler

import (
	"github.com/chazu/regc/ssa"
	"github.com/chazu/regc/vm"
)

// prologueLen is the size of the landing pad placed at offset 0 of every
// linked program: JMP over the pad, TRAP at 1, STOP at 2.
const prologueLen = 3

// trapOffset is where failed constraints jump to.
const trapOffset = 1

func prologue() []vm.Opcode {
	return []vm.Opcode{vm.Jmp(prologueLen), vm.Trap(), vm.Stop()}
}

// Link merges root with the artefacts of every function it transitively
// calls and resolves all fixups. lib maps each callee to its compiled
// artefact; inputs are never modified.
//
// Linking an already linked artefact with no pending callees yields the
// same code.
func Link(c *ssa.Context, root *Artefact, lib map[ssa.FuncID]*Artefact) (*Artefact, error) {
	out := newArtefact(root.Name)
	if err := out.append(root); err != nil {
		return nil, err
	}

	queue := append([]ssa.FuncID(nil), root.Callees...)
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		fn := c.Function(id)
		if fn == nil {
			return nil, internalf("link", "unresolved symbol: function #%d", id)
		}
		if fn.Kind == ssa.Oracle {
			continue
		}
		if _, done := out.Blocks[fn.Entry]; done {
			continue
		}
		obj := lib[id]
		if obj == nil {
			return nil, internalf("link", "unresolved symbol: function %s has no artefact", fn.Name)
		}
		if err := out.append(obj); err != nil {
			return nil, err
		}
		queue = append(queue, obj.Callees...)
	}

	if err := out.resolve(); err != nil {
		return nil, err
	}
	out.linked = true
	log.Infof("linked %s: %d opcodes, %d fixups, %d registers", out.Name, len(out.Code), len(out.Fixups), out.Registers)
	return out, nil
}

// append copies obj to the end of a, shifting its blocks and fixups by
// the insertion offset. The first unlinked artefact gets the prologue.
func (a *Artefact) append(obj *Artefact) error {
	if obj.Len() == 0 {
		return internalf("link", "empty artefact for %s", obj.Name)
	}
	if a.Len() == 0 && !obj.linked {
		for _, op := range prologue() {
			a.emit(op)
		}
	}
	offset := len(a.Code)
	log.Debugf("linking %s at %04d (%d opcodes)", obj.Name, offset, len(obj.Code))

	for _, op := range obj.Code {
		a.emit(op)
	}
	if obj.Registers > a.Registers {
		a.Registers = obj.Registers
	}
	for b, pos := range obj.Blocks {
		if _, dup := a.Blocks[b]; dup {
			return internalf("link", "block %s defined twice", b)
		}
		a.Blocks[b] = pos + offset
	}
	for _, f := range obj.Fixups {
		f.Pos += offset
		if f.Kind == FixupLocal {
			f.Local += offset
		}
		a.Fixups = append(a.Fixups, f)
	}
	return nil
}

// resolve completes every fixup in one pass.
func (a *Artefact) resolve() error {
	for _, f := range a.Fixups {
		if f.Pos < 0 || f.Pos >= len(a.Code) {
			return internalf("fixup", "position %d outside code of length %d", f.Pos, len(a.Code))
		}
		op := &a.Code[f.Pos]
		switch f.Kind {
		case FixupJump:
			if !op.IsJump() {
				return internalf("fixup", "%s at %04d is not a jump", op.Kind, f.Pos)
			}
			target, ok := a.Blocks[f.Block]
			if !ok {
				return internalf("fixup", "unresolved symbol: block %s", f.Block)
			}
			op.Target = target
		case FixupReturn:
			if op.Kind != vm.KindPushStack {
				return internalf("fixup", "%s at %04d is not a return-address push", op.Kind, f.Pos)
			}
			op.Src = vm.ConstUint(uint64(f.Pos + 2))
		case FixupLocal:
			if !op.IsJump() {
				return internalf("fixup", "%s at %04d is not a jump", op.Kind, f.Pos)
			}
			op.Target = f.Local
		default:
			return internalf("fixup", "unknown fixup kind %s", f.Kind)
		}
	}
	return nil
}
