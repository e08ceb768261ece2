package compiler

import (
	"github.com/chazu/regc/ssa"
	"github.com/chazu/regc/vm"
)

// ---------------------------------------------------------------------------
// Call protocol
// ---------------------------------------------------------------------------

// callState is Idle (collecting == false) or Collecting a Call instruction
// and the Result instructions that follow it.
type callState struct {
	collecting bool
	ins        *ssa.Instruction
	op         ssa.Call
	callee     *ssa.Function
	expected   int                // Result instructions still part of the call
	results    []*ssa.Instruction // collected so far
}

func (g *generator) startCall(ins *ssa.Instruction, op ssa.Call) error {
	if g.call.collecting {
		return internalf("call", "call %s started while call %s is still collecting results", ins.ID, g.call.ins.ID)
	}
	callee, ok := g.ctx.FunctionOf(op.Func)
	if !ok {
		return internalf("call", "call %s does not target a function", ins.ID)
	}
	expected := len(callee.ResultTypes) - len(op.ReturnedArrays)
	if expected < 0 {
		return internalf("call", "call %s returns %d arrays but %s declares %d results", ins.ID, len(op.ReturnedArrays), callee.Name, len(callee.ResultTypes))
	}
	g.call = callState{collecting: true, ins: ins, op: op, callee: callee, expected: expected}
	return g.tryEmitCall()
}

func (g *generator) addResult(ins *ssa.Instruction, op ssa.Result) error {
	if !g.call.collecting || op.Call != g.call.ins.ID {
		return internalf("result", "result %s does not belong to the call in progress", ins.ID)
	}
	g.call.results = append(g.call.results, ins)
	return g.tryEmitCall()
}

// tryEmitCall emits the collected call once every declared result has
// been seen, and returns to Idle.
func (g *generator) tryEmitCall() error {
	st := g.call
	if len(st.results) != st.expected {
		return nil
	}
	g.call = callState{}
	results := make([]ssa.NodeID, len(st.results))
	for i, r := range st.results {
		results[i] = r.ID
	}
	return g.emitCall(st.callee, st.op.Arguments, results, st.op.ReturnedArrays)
}

func (g *generator) unsafeCall(op ssa.UnsafeCall) error {
	callee, ok := g.ctx.FunctionOf(op.Func)
	if !ok {
		return internalf("unsafe_call", "%s does not denote a function", op.Func)
	}
	return g.emitCall(callee, op.Arguments, op.Returned, nil)
}

// slot is one declared result position of a call.
type slot struct {
	returned *ssa.ReturnedArray // written by the callee in place
	result   ssa.NodeID         // otherwise, the value receiving it
}

// layout assigns results to the positions not taken by returned arrays.
func layout(callee *ssa.Function, results []ssa.NodeID, returned []ssa.ReturnedArray) ([]slot, error) {
	n := len(callee.ResultTypes)
	if len(results)+len(returned) != n {
		return nil, internalf("call", "%s declares %d results, call binds %d values and %d arrays", callee.Name, n, len(results), len(returned))
	}
	slots := make([]slot, n)
	prev := -1
	for i := range returned {
		pos := int(returned[i].Position)
		if pos <= prev || pos >= n {
			return nil, internalf("call", "returned array position %d of %s is out of order or range", pos, callee.Name)
		}
		prev = pos
		slots[pos].returned = &returned[i]
	}
	next := 0
	for i := range slots {
		if slots[i].returned != nil {
			continue
		}
		slots[i].result = results[next]
		next++
	}
	return slots, nil
}

func (g *generator) emitCall(callee *ssa.Function, args, results []ssa.NodeID, returned []ssa.ReturnedArray) error {
	slots, err := layout(callee, results, returned)
	if err != nil {
		return err
	}
	if callee.Kind == ssa.Oracle {
		return g.oracleCall(callee, args, slots)
	}
	return g.inlineCall(callee, args, slots)
}

func (g *generator) oracleCall(callee *ssa.Function, args []ssa.NodeID, slots []slot) error {
	log.Debugf("%s: oracle call %s", g.fn.Name, callee.OracleName)

	inputs := make([]vm.OracleInput, 0, len(args))
	for i, arg := range args {
		a, ok := g.ctx.Deref(arg)
		if !ok && i < len(callee.Params) {
			a, ok = g.ctx.Deref(callee.Params[i])
		}
		if ok {
			inputs = append(inputs, vm.OracleInput{Value: vm.ArrayRef(uint32(a)), Len: g.ctx.Array(a).Len})
			continue
		}
		v, err := g.operand(arg)
		if err != nil {
			return err
		}
		inputs = append(inputs, vm.OracleInput{Value: v})
	}

	outputs := make([]vm.OracleOutput, len(slots))
	for i, s := range slots {
		switch {
		case s.returned != nil:
			outputs[i] = arrayOutput(g.ctx, s.returned.Array)
		default:
			if a, ok := g.ctx.Deref(s.result); ok {
				outputs[i] = arrayOutput(g.ctx, a)
			} else if t := callee.ResultTypes[i]; t.IsArray() {
				outputs[i] = arrayOutput(g.ctx, t.Array)
			} else {
				outputs[i] = vm.OracleOutput{Dst: g.register(s.result)}
			}
		}
	}
	g.emit(vm.OracleCall(callee.OracleName, inputs, outputs))
	return nil
}

func arrayOutput(c *ssa.Context, a ssa.ArrayID) vm.OracleOutput {
	return vm.OracleOutput{IsArr: true, Array: uint32(a), Len: c.Array(a).Len}
}

// inlineCall passes the arguments in the callee's parameter registers,
// pushes the return address, jumps to the callee entry and collects the
// results from the result registers.
func (g *generator) inlineCall(callee *ssa.Function, args []ssa.NodeID, slots []slot) error {
	if len(args) != len(callee.Params) {
		return internalf("call", "%s takes %d arguments, got %d", callee.Name, len(callee.Params), len(args))
	}
	if len(slots) > g.opts.ResultRegisters {
		return unsupportedf("call", "%s returns %d values, more than the %d result registers", callee.Name, len(slots), g.opts.ResultRegisters)
	}
	log.Debugf("%s: call %s", g.fn.Name, callee.Name)

	for i, arg := range args {
		param := callee.Params[i]
		src, err := g.operand(arg)
		if err != nil {
			return err
		}
		g.emit(vm.Mov(g.register(param), src))
		if err := g.copyArgArray(arg, param); err != nil {
			return err
		}
	}

	g.obj.Fixups = append(g.obj.Fixups, Fixup{Pos: len(g.obj.Code), Kind: FixupReturn})
	g.emit(vm.PushStack(vm.ConstUint(0)))
	g.jumpTo(vm.Jmp(0), callee.Entry)
	g.obj.addCallee(callee.ID)

	for i, s := range slots {
		if s.returned != nil {
			continue
		}
		ret := vm.Register(i)
		if a, ok := g.ctx.Deref(s.result); ok {
			g.copyArray(vm.Reg(ret), a, g.ctx.Array(a).Len)
			continue
		}
		g.emit(vm.Mov(g.register(s.result), vm.Reg(ret)))
	}
	return nil
}

// copyArgArray copies an array argument into the region the callee reads
// its parameter from, when the two differ.
func (g *generator) copyArgArray(arg, param ssa.NodeID) error {
	src, ok := g.ctx.Deref(arg)
	if !ok {
		return nil
	}
	dst, ok := g.ctx.Deref(param)
	if !ok {
		return internalf("call", "array %s passed for scalar parameter %s", arg, param)
	}
	if src == dst {
		return nil
	}
	n := g.ctx.Array(src).Len
	if m := g.ctx.Array(dst).Len; m < n {
		n = m
	}
	g.copyArray(vm.ArrayRef(uint32(src)), dst, n)
	return nil
}

// copyArray copies n elements from the region src refers to into dst, one
// load/store pair per element.
func (g *generator) copyArray(src vm.Operand, dst ssa.ArrayID, n uint32) {
	for k := uint32(0); k < n; k++ {
		t := g.temp()
		idx := vm.ConstUint(uint64(k))
		g.emit(vm.Load(t, src, idx))
		g.emit(vm.Store(vm.ArrayRef(uint32(dst)), idx, vm.Reg(t)))
	}
}
