package compiler

import (
	"github.com/chazu/regc/ssa"
	"github.com/chazu/regc/vm"
)

// ---------------------------------------------------------------------------
// Block scheduling
// ---------------------------------------------------------------------------

// processBlocks emits every block reachable from entry. Blocks are taken
// from a stack; a join is pushed only by its dominator so it is emitted
// once, after the region it closes has been entered.
func (g *generator) processBlocks(entry ssa.BlockID) error {
	queue := []ssa.BlockID{entry}
	reachable := g.ctx.Reachable(entry)

	for {
		for len(queue) > 0 {
			current := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			if g.visited[current] {
				continue
			}
			children, fall, err := g.processBlock(current)
			if err != nil {
				return err
			}
			for _, id := range children {
				if id.IsDummy() || g.visited[id] || contains(queue, id) {
					continue
				}
				blk := g.ctx.Block(id)
				if blk == nil {
					return internalf("schedule", "unknown block %s", id)
				}
				if !blk.IsJoin() || blk.Dominator == current {
					queue = append(queue, id)
				}
			}
			queue = g.ensureFallthrough(queue, fall)
		}

		// Blocks whose dominator never pushed them, for instance joins
		// dominated by a block that does not branch to them directly.
		for _, id := range reachable {
			if !g.visited[id] {
				queue = append(queue, id)
				break
			}
		}
		if len(queue) == 0 {
			return nil
		}
	}
}

// ensureFallthrough makes sure the block a conditional falls into is
// emitted next, or jumps to it explicitly when that is impossible.
func (g *generator) ensureFallthrough(queue []ssa.BlockID, fall ssa.BlockID) []ssa.BlockID {
	if fall.IsDummy() {
		return queue
	}
	if n := len(queue); n > 0 && queue[n-1] == fall {
		return queue
	}
	if i := index(queue, fall); i >= 0 && !g.visited[fall] {
		queue = append(queue[:i], queue[i+1:]...)
		return append(queue, fall)
	}
	g.jumpTo(vm.Jmp(0), fall)
	return queue
}

// processBlock emits block id and returns the blocks to schedule after it,
// in push order, plus the block its code falls through into, if any.
func (g *generator) processBlock(id ssa.BlockID) ([]ssa.BlockID, ssa.BlockID, error) {
	blk := g.ctx.Block(id)
	if blk == nil {
		return nil, ssa.NoBlock, internalf("schedule", "unknown block %s", id)
	}
	g.block = id
	g.visited[id] = true
	g.obj.Blocks[id] = len(g.obj.Code)
	log.Debugf("%s: block %s at %04d", g.fn.Name, id, len(g.obj.Code))

	var last *ssa.Instruction
	for i, nid := range blk.Instructions {
		ins, ok := g.ctx.Instruction(nid)
		if !ok {
			return nil, ssa.NoBlock, internalf("schedule", "%s in block %s is not an instruction", nid, id)
		}
		if i == len(blk.Instructions)-1 {
			last = ins
			break
		}
		if err := g.lower(ins); err != nil {
			return nil, ssa.NoBlock, err
		}
	}

	fall := ssa.NoBlock
	terminated := false
	if last != nil {
		switch op := last.Op.(type) {
		case ssa.Jmp:
			if err := g.emitPhiMoves(id, op.Target); err != nil {
				return nil, ssa.NoBlock, err
			}
			g.jumpTo(vm.Jmp(0), op.Target)
			terminated = true
		case ssa.Jne:
			if err := g.branch(id, op.Cond, op.Target, false); err != nil {
				return nil, ssa.NoBlock, err
			}
			fall, terminated = blk.Left, true
		case ssa.Jeq:
			if err := g.branch(id, op.Cond, op.Target, true); err != nil {
				return nil, ssa.NoBlock, err
			}
			fall, terminated = blk.Left, true
		default:
			if err := g.lower(last); err != nil {
				return nil, ssa.NoBlock, err
			}
		}
	}

	if !terminated && !blk.Left.IsDummy() {
		if err := g.emitPhiMoves(id, blk.Left); err != nil {
			return nil, ssa.NoBlock, err
		}
		g.jumpTo(vm.Jmp(0), blk.Left)
	}

	var children []ssa.BlockID
	if _, ok := g.ctx.IfCondition(blk); ok {
		if join := g.ctx.FindJoin(id); !join.IsDummy() {
			children = append(children, join)
		}
	}
	if !blk.Right.IsDummy() {
		children = append(children, blk.Right)
	}
	if !blk.Left.IsDummy() {
		children = append(children, blk.Left)
	} else if !endsWithJmp(last) {
		g.emit(vm.CallBack())
	}
	return children, fall, nil
}

// branch emits a conditional terminator. jumpIfSet selects JMPIF (Jeq)
// over JMPIFNOT (Jne). When the taken edge carries phi moves the jump is
// inverted to skip over a trampoline holding the moves and a JMP to the
// target. Moves for the fallthrough edge follow the branch.
func (g *generator) branch(from ssa.BlockID, cond ssa.NodeID, target ssa.BlockID, jumpIfSet bool) error {
	c, err := g.condition(cond)
	if err != nil {
		return err
	}
	jump := func(set bool) vm.Opcode {
		if set {
			return vm.JmpIf(c, 0)
		}
		return vm.JmpIfNot(c, 0)
	}

	if len(g.phis(from, target)) == 0 {
		g.jumpTo(jump(jumpIfSet), target)
	} else {
		skip := g.emit(jump(!jumpIfSet))
		if err := g.emitPhiMoves(from, target); err != nil {
			return err
		}
		g.jumpTo(vm.Jmp(0), target)
		g.obj.Fixups = append(g.obj.Fixups, Fixup{Pos: skip, Kind: FixupLocal, Local: len(g.obj.Code)})
	}

	blk := g.ctx.Block(from)
	if !blk.Left.IsDummy() {
		return g.emitPhiMoves(from, blk.Left)
	}
	return nil
}

// jumpTo emits op with a fixup to the start of target.
func (g *generator) jumpTo(op vm.Opcode, target ssa.BlockID) {
	g.obj.Fixups = append(g.obj.Fixups, Fixup{Pos: len(g.obj.Code), Kind: FixupJump, Block: target})
	g.emit(op)
}

func endsWithJmp(last *ssa.Instruction) bool {
	if last == nil {
		return false
	}
	_, ok := last.Op.(ssa.Jmp)
	return ok
}

func contains(ids []ssa.BlockID, id ssa.BlockID) bool {
	return index(ids, id) >= 0
}

func index(ids []ssa.BlockID, id ssa.BlockID) int {
	for i, x := range ids {
		if x == id {
			return i
		}
	}
	return -1
}
