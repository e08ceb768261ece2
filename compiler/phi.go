package compiler

import (
	"github.com/chazu/regc/ssa"
	"github.com/chazu/regc/vm"
)

// ---------------------------------------------------------------------------
// Phi resolution
// ---------------------------------------------------------------------------

type move struct {
	dst vm.Register
	src ssa.NodeID
}

// phis returns the moves realizing the phis of join for the edge coming
// from pred. Non-join successors carry no phis.
func (g *generator) phis(pred, join ssa.BlockID) []move {
	blk := g.ctx.Block(join)
	if blk == nil || !blk.IsJoin() {
		return nil
	}
	var moves []move
	for _, id := range blk.Instructions {
		ins, ok := g.ctx.Instruction(id)
		if !ok {
			continue
		}
		phi, ok := ins.Op.(ssa.Phi)
		if !ok {
			continue
		}
		for _, arg := range phi.Args {
			if arg.Block == pred {
				moves = append(moves, move{dst: g.register(ins.ID), src: arg.Value})
				break
			}
		}
	}
	return moves
}

// emitPhiMoves writes the phi moves for the edge pred -> join at the
// current position. The moves behave as a parallel copy: when a phi reads
// another phi's destination, every source is staged in a temporary first.
func (g *generator) emitPhiMoves(pred, join ssa.BlockID) error {
	moves := g.phis(pred, join)
	if len(moves) == 0 {
		return nil
	}
	srcs := make([]vm.Operand, len(moves))
	for i, m := range moves {
		src, err := g.operand(m.src)
		if err != nil {
			return err
		}
		srcs[i] = src
	}

	dsts := make(map[vm.Register]bool, len(moves))
	for _, m := range moves {
		dsts[m.dst] = true
	}
	overlap := false
	for i, src := range srcs {
		if src.IsRegister() && src.Reg != moves[i].dst && dsts[src.Reg] {
			overlap = true
			break
		}
	}

	if overlap {
		for i, src := range srcs {
			t := g.temp()
			g.emit(vm.Mov(t, src))
			srcs[i] = vm.Reg(t)
		}
	}
	for i, m := range moves {
		if srcs[i].IsRegister() && srcs[i].Reg == m.dst {
			continue
		}
		g.emit(vm.Mov(m.dst, srcs[i]))
	}
	return nil
}
