package ssa

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/regc/field"
)

// Program is a loaded graph description.
type Program struct {
	Context *Context
	// Entry names the function to compile when none is requested.
	Entry string
}

// LoadError reports a malformed graph description.
type LoadError struct {
	Path string
	Msg  string
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return "ssa: " + e.Msg
	}
	return fmt.Sprintf("ssa: %s: %s", e.Path, e.Msg)
}

// Graph descriptions are TOML documents:
//
//	entry = "main"
//
//	[[arrays]]
//	name = "buf"
//	length = 4
//	type = "u32"
//
//	[[functions]]
//	name = "main"
//	params = [{ name = "a", type = "u32" }]
//	results = ["u32"]
//	entry = "start"
//
//	  [[functions.blocks]]
//	  name = "start"
//	  instructions = [
//	    { result = "s", op = "add", type = "u32", args = ["a", "1"] },
//	    { op = "return", args = ["s"] },
//	  ]
//
// Operands name a parameter, an instruction result, an array, or are
// decimal literals with an optional ":type" suffix.
type graphDesc struct {
	Entry     string     `toml:"entry"`
	Arrays    []arrDesc  `toml:"arrays"`
	Functions []funcDesc `toml:"functions"`
}

type arrDesc struct {
	Name   string `toml:"name"`
	Length uint32 `toml:"length"`
	Type   string `toml:"type"`
}

type paramDesc struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

type funcDesc struct {
	Name    string      `toml:"name"`
	Kind    string      `toml:"kind"`
	Oracle  string      `toml:"oracle"`
	Entry   string      `toml:"entry"`
	Params  []paramDesc `toml:"params"`
	Results []string    `toml:"results"`
	Blocks  []blockDesc `toml:"blocks"`
}

type blockDesc struct {
	Name         string      `toml:"name"`
	Kind         string      `toml:"kind"`
	Left         string      `toml:"left"`
	Right        string      `toml:"right"`
	Dominator    string      `toml:"dominator"`
	Instructions []instrDesc `toml:"instructions"`
}

type phiDesc struct {
	Value string `toml:"value"`
	Block string `toml:"block"`
}

type retArrDesc struct {
	Array    string `toml:"array"`
	Position uint32 `toml:"position"`
}

type instrDesc struct {
	Result         string       `toml:"result"`
	Op             string       `toml:"op"`
	Type           string       `toml:"type"`
	Args           []string     `toml:"args"`
	Target         string       `toml:"target"`
	Array          string       `toml:"array"`
	Func           string       `toml:"func"`
	Call           string       `toml:"call"`
	Index          uint32       `toml:"index"`
	Bits           uint32       `toml:"bits"`
	Message        string       `toml:"message"`
	Placeholder    bool         `toml:"placeholder"`
	Phi            []phiDesc    `toml:"phi"`
	ReturnedArrays []retArrDesc `toml:"returned-arrays"`
	Returned       []string     `toml:"returned"`
}

// LoadFile reads a graph description from path.
func LoadFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	prog, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.Path = path
		}
		return nil, err
	}
	return prog, nil
}

// Parse builds a Context from a TOML graph description.
func Parse(data []byte) (*Program, error) {
	var desc graphDesc
	if _, err := toml.Decode(string(data), &desc); err != nil {
		return nil, &LoadError{Msg: err.Error()}
	}
	l := &loader{
		ctx:    NewContext(),
		arrays: make(map[string]ArrayID),
		funcs:  make(map[string]FuncID),
	}
	if err := l.load(&desc); err != nil {
		return nil, err
	}
	entry := desc.Entry
	if entry == "" && len(desc.Functions) > 0 {
		entry = desc.Functions[0].Name
	}
	return &Program{Context: l.ctx, Entry: entry}, nil
}

type loader struct {
	ctx    *Context
	arrays map[string]ArrayID
	funcs  map[string]FuncID
}

// funcScope holds the names visible inside one function body.
type funcScope struct {
	values map[string]NodeID
	blocks map[string]BlockID
}

func (l *loader) errorf(format string, args ...any) error {
	return &LoadError{Msg: fmt.Sprintf(format, args...)}
}

func (l *loader) load(desc *graphDesc) error {
	for _, a := range desc.Arrays {
		if _, dup := l.arrays[a.Name]; dup {
			return l.errorf("array %q declared twice", a.Name)
		}
		typ, err := ParseNumericType(orDefault(a.Type, "field"))
		if err != nil {
			return l.errorf("array %q: %v", a.Name, err)
		}
		id, _ := l.ctx.NewArray(a.Name, a.Length, typ)
		l.arrays[a.Name] = id
	}

	scopes := make([]*funcScope, len(desc.Functions))
	for i := range desc.Functions {
		scope, err := l.declareFunction(&desc.Functions[i])
		if err != nil {
			return err
		}
		scopes[i] = scope
	}
	for i := range desc.Functions {
		if err := l.defineBody(&desc.Functions[i], scopes[i]); err != nil {
			return fmt.Errorf("function %s: %w", desc.Functions[i].Name, err)
		}
	}
	return nil
}

func (l *loader) declareFunction(fd *funcDesc) (*funcScope, error) {
	if _, dup := l.funcs[fd.Name]; dup {
		return nil, l.errorf("function %q declared twice", fd.Name)
	}
	kind, err := parseRuntimeKind(fd.Kind)
	if err != nil {
		return nil, l.errorf("function %q: %v", fd.Name, err)
	}
	scope := &funcScope{values: make(map[string]NodeID), blocks: make(map[string]BlockID)}

	for _, bd := range fd.Blocks {
		bk, err := ParseBlockKind(bd.Kind)
		if err != nil {
			return nil, l.errorf("function %q block %q: %v", fd.Name, bd.Name, err)
		}
		if _, dup := scope.blocks[bd.Name]; dup {
			return nil, l.errorf("function %q: block %q declared twice", fd.Name, bd.Name)
		}
		scope.blocks[bd.Name] = l.ctx.NewBlock(bk)
	}

	var params []NodeID
	for _, p := range fd.Params {
		typ, err := l.objectType(p.Type)
		if err != nil {
			return nil, l.errorf("function %q param %q: %v", fd.Name, p.Name, err)
		}
		id := l.ctx.NewVariable(p.Name, typ)
		scope.values[p.Name] = id
		params = append(params, id)
	}
	var results []ObjectType
	for _, r := range fd.Results {
		typ, err := l.objectType(r)
		if err != nil {
			return nil, l.errorf("function %q result: %v", fd.Name, err)
		}
		results = append(results, typ)
	}

	entry := NoBlock
	if kind != Oracle {
		name := fd.Entry
		if name == "" && len(fd.Blocks) > 0 {
			name = fd.Blocks[0].Name
		}
		var ok bool
		if entry, ok = scope.blocks[name]; !ok {
			return nil, l.errorf("function %q: entry block %q not found", fd.Name, name)
		}
	}
	fid := l.ctx.NewFunction(fd.Name, kind, entry, params, results)
	if kind == Oracle && fd.Oracle != "" {
		l.ctx.Function(fid).OracleName = fd.Oracle
	}
	l.funcs[fd.Name] = fid
	return scope, nil
}

func (l *loader) defineBody(fd *funcDesc, scope *funcScope) error {
	// Reserve every instruction first so phis may refer forward.
	ids := make([][]NodeID, len(fd.Blocks))
	for i, bd := range fd.Blocks {
		bid := scope.blocks[bd.Name]
		for _, in := range bd.Instructions {
			typ, err := l.objectType(in.Type)
			if err != nil {
				return l.errorf("block %q: %v", bd.Name, err)
			}
			id := l.ctx.NewInstruction(bid, typ)
			if in.Result != "" {
				if _, dup := scope.values[in.Result]; dup {
					return l.errorf("block %q: value %q defined twice", bd.Name, in.Result)
				}
				scope.values[in.Result] = id
			}
			ids[i] = append(ids[i], id)
		}
	}

	for i, bd := range fd.Blocks {
		bid := scope.blocks[bd.Name]
		for j := range bd.Instructions {
			op, err := l.operation(&bd.Instructions[j], scope)
			if err != nil {
				return l.errorf("block %q instruction %d (%s): %v", bd.Name, j, bd.Instructions[j].Op, err)
			}
			l.ctx.SetOperation(ids[i][j], op)
		}
		if err := l.linkBlock(bid, &bd, scope); err != nil {
			return err
		}
	}

	if fn := l.ctx.Function(l.funcs[fd.Name]); fn.Kind != Oracle {
		l.ctx.FillDominators(fn.Entry)
	}
	return nil
}

func (l *loader) linkBlock(bid BlockID, bd *blockDesc, scope *funcScope) error {
	lookup := func(name string) (BlockID, error) {
		if name == "" {
			return NoBlock, nil
		}
		id, ok := scope.blocks[name]
		if !ok {
			return NoBlock, l.errorf("block %q: unknown block %q", bd.Name, name)
		}
		return id, nil
	}
	left, err := lookup(bd.Left)
	if err != nil {
		return err
	}
	right, err := lookup(bd.Right)
	if err != nil {
		return err
	}
	if last, ok := l.ctx.LastInstruction(l.ctx.Block(bid)); ok {
		switch op := last.Op.(type) {
		case Jmp:
			if left == NoBlock {
				left = op.Target
			}
		case Jne:
			if right == NoBlock {
				right = op.Target
			}
		case Jeq:
			if right == NoBlock {
				right = op.Target
			}
		}
	}
	l.ctx.SetSuccessors(bid, left, right)
	if bd.Dominator != "" {
		dom, err := lookup(bd.Dominator)
		if err != nil {
			return err
		}
		l.ctx.SetDominator(bid, dom)
	}
	return nil
}

func (l *loader) operation(in *instrDesc, scope *funcScope) (Operation, error) {
	defType := FieldType()
	if t, err := l.objectType(in.Type); err == nil && t.Kind == Numeric {
		defType = t.Numeric
	}
	arg := func(i int) (NodeID, error) {
		if i >= len(in.Args) {
			return Dummy, fmt.Errorf("missing operand %d", i)
		}
		return l.operand(in.Args[i], scope, defType)
	}
	args := func() ([]NodeID, error) {
		out := make([]NodeID, 0, len(in.Args))
		for i := range in.Args {
			id, err := arg(i)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, nil
	}
	target := func() (BlockID, error) {
		id, ok := scope.blocks[in.Target]
		if !ok {
			return NoBlock, fmt.Errorf("unknown target block %q", in.Target)
		}
		return id, nil
	}
	array := func() (ArrayID, error) {
		id, ok := l.arrays[in.Array]
		if !ok {
			return 0, fmt.Errorf("unknown array %q", in.Array)
		}
		return id, nil
	}
	callee := func() (NodeID, error) {
		fid, ok := l.funcs[in.Func]
		if !ok {
			return Dummy, fmt.Errorf("unknown function %q", in.Func)
		}
		return l.ctx.Function(fid).Node, nil
	}

	if bop, ok := LookupBinaryOp(in.Op); ok {
		lhs, err := arg(0)
		if err != nil {
			return nil, err
		}
		rhs, err := arg(1)
		if err != nil {
			return nil, err
		}
		return Binary{Op: bop, Lhs: lhs, Rhs: rhs}, nil
	}

	switch in.Op {
	case "nop":
		return Nop{}, nil
	case "cast":
		v, err := arg(0)
		return Cast{Value: v}, err
	case "not":
		v, err := arg(0)
		return Not{Value: v}, err
	case "truncate":
		v, err := arg(0)
		return Truncate{Value: v, BitSize: in.Bits, MaxBitSize: in.Bits}, err
	case "constrain":
		v, err := arg(0)
		return Constrain{Value: v, Message: in.Message}, err
	case "jmp":
		t, err := target()
		return Jmp{Target: t}, err
	case "jne", "jeq":
		c, err := arg(0)
		if err != nil {
			return nil, err
		}
		t, err := target()
		if err != nil {
			return nil, err
		}
		if in.Op == "jne" {
			return Jne{Cond: c, Target: t}, nil
		}
		return Jeq{Cond: c, Target: t}, nil
	case "phi":
		phi := Phi{}
		for _, p := range in.Phi {
			v, err := l.operand(p.Value, scope, defType)
			if err != nil {
				return nil, err
			}
			b, ok := scope.blocks[p.Block]
			if !ok {
				return nil, fmt.Errorf("unknown phi block %q", p.Block)
			}
			phi.Args = append(phi.Args, PhiArg{Value: v, Block: b})
		}
		if len(phi.Args) > 0 {
			phi.Root = phi.Args[0].Value
		}
		return phi, nil
	case "call", "unsafe_call":
		f, err := callee()
		if err != nil {
			return nil, err
		}
		as, err := args()
		if err != nil {
			return nil, err
		}
		if in.Op == "unsafe_call" {
			var ret []NodeID
			for _, r := range in.Returned {
				id, ok := scope.values[r]
				if !ok {
					return nil, fmt.Errorf("unknown returned value %q", r)
				}
				ret = append(ret, id)
			}
			return UnsafeCall{Func: f, Arguments: as, Returned: ret}, nil
		}
		call := Call{Func: f, Arguments: as}
		for _, ra := range in.ReturnedArrays {
			aid, ok := l.arrays[ra.Array]
			if !ok {
				return nil, fmt.Errorf("unknown returned array %q", ra.Array)
			}
			call.ReturnedArrays = append(call.ReturnedArrays, ReturnedArray{Array: aid, Position: ra.Position})
		}
		return call, nil
	case "result":
		c, ok := scope.values[in.Call]
		if !ok {
			return nil, fmt.Errorf("unknown call %q", in.Call)
		}
		return Result{Call: c, Index: in.Index}, nil
	case "return":
		as, err := args()
		return Return{Values: as}, err
	case "cond":
		c, err := arg(0)
		if err != nil {
			return nil, err
		}
		lhs, err := arg(1)
		if err != nil {
			return nil, err
		}
		rhs, err := arg(2)
		return Cond{Condition: c, Lhs: lhs, Rhs: rhs}, err
	case "load":
		a, err := array()
		if err != nil {
			return nil, err
		}
		idx, err := l.operand(first(in.Args), scope, FieldType())
		return Load{Array: a, Index: idx}, err
	case "store":
		a, err := array()
		if err != nil {
			return nil, err
		}
		if in.Placeholder {
			return Store{Array: a, Placeholder: true}, nil
		}
		if len(in.Args) != 2 {
			return nil, fmt.Errorf("store takes index and value")
		}
		idx, err := l.operand(in.Args[0], scope, FieldType())
		if err != nil {
			return nil, err
		}
		v, err := l.operand(in.Args[1], scope, l.ctx.Array(a).ElementType)
		return Store{Array: a, Index: idx, Value: v}, err
	case "intrinsic":
		as, err := args()
		return Intrinsic{Opcode: in.Func, Args: as}, err
	}
	return nil, fmt.Errorf("unknown operation %q", in.Op)
}

func (l *loader) operand(tok string, scope *funcScope, def NumericType) (NodeID, error) {
	if tok == "" {
		return Dummy, fmt.Errorf("empty operand")
	}
	if c := tok[0]; c == '-' || (c >= '0' && c <= '9') {
		lit, typName, _ := strings.Cut(tok, ":")
		typ := def
		if typName != "" {
			t, err := ParseNumericType(typName)
			if err != nil {
				return Dummy, err
			}
			typ = t
		}
		v, err := field.FromDecimal(lit)
		if err != nil {
			return Dummy, err
		}
		return l.ctx.NewConstant(v, typ), nil
	}
	if id, ok := scope.values[tok]; ok {
		return id, nil
	}
	if aid, ok := l.arrays[tok]; ok {
		return l.ctx.Array(aid).Def, nil
	}
	return Dummy, fmt.Errorf("unknown value %q", tok)
}

// objectType parses "" (no value), a numeric type, or "[array]".
func (l *loader) objectType(s string) (ObjectType, error) {
	if s == "" {
		return ObjectType{}, nil
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		name := s[1 : len(s)-1]
		aid, ok := l.arrays[name]
		if !ok {
			return ObjectType{}, fmt.Errorf("unknown array %q", name)
		}
		return ArrayObject(aid), nil
	}
	t, err := ParseNumericType(s)
	if err != nil {
		return ObjectType{}, err
	}
	return NumericObject(t), nil
}

func parseRuntimeKind(s string) (RuntimeKind, error) {
	switch strings.ToLower(s) {
	case "", "unconstrained":
		return Unconstrained, nil
	case "constrained":
		return Constrained, nil
	case "oracle":
		return Oracle, nil
	}
	return Unconstrained, fmt.Errorf("unknown function kind %q", s)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
