package ssa

// Successors returns the non-dummy successors of b, left first.
func (c *Context) Successors(b *Block) []BlockID {
	var out []BlockID
	if !b.Left.IsDummy() {
		out = append(out, b.Left)
	}
	if !b.Right.IsDummy() {
		out = append(out, b.Right)
	}
	return out
}

// IfCondition returns the branch condition of a block that heads an
// if/else region. Loop headers are joins and never head an if region.
func (c *Context) IfCondition(b *Block) (NodeID, bool) {
	if b.IsJoin() {
		return Dummy, false
	}
	last, ok := c.LastInstruction(b)
	if !ok {
		return Dummy, false
	}
	switch op := last.Op.(type) {
	case Jne:
		return op.Cond, true
	case Jeq:
		return op.Cond, true
	}
	return Dummy, false
}

// FindJoin walks forward from b and returns the if-join closing the region
// that b heads. The join dominated by b wins; otherwise the first if-join
// reached is returned. NoBlock means the region has no join.
func (c *Context) FindJoin(b BlockID) BlockID {
	start := c.Block(b)
	if start == nil {
		return NoBlock
	}
	seen := map[BlockID]bool{b: true}
	queue := c.Successors(start)
	first := NoBlock
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		blk := c.Block(id)
		if blk == nil {
			continue
		}
		if blk.Kind == IfJoin {
			if blk.Dominator == b {
				return id
			}
			if first == NoBlock {
				first = id
			}
		}
		queue = append(queue, c.Successors(blk)...)
	}
	return first
}

// Reachable returns the blocks reachable from entry in reverse postorder.
func (c *Context) Reachable(entry BlockID) []BlockID {
	seen := make(map[BlockID]bool)
	var post []BlockID
	var visit func(id BlockID)
	visit = func(id BlockID) {
		blk := c.Block(id)
		if blk == nil || seen[id] {
			return
		}
		seen[id] = true
		for _, s := range c.Successors(blk) {
			visit(s)
		}
		post = append(post, id)
	}
	visit(entry)
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// ComputeDominators returns the immediate dominator of every block
// reachable from entry, using the iterative algorithm of Cooper, Harvey
// and Kennedy. The entry maps to NoBlock.
func (c *Context) ComputeDominators(entry BlockID) map[BlockID]BlockID {
	order := c.Reachable(entry)
	if len(order) == 0 {
		return map[BlockID]BlockID{}
	}
	rpo := make(map[BlockID]int, len(order))
	for i, id := range order {
		rpo[id] = i
	}
	preds := make(map[BlockID][]BlockID)
	for _, id := range order {
		for _, s := range c.Successors(c.Block(id)) {
			preds[s] = append(preds[s], id)
		}
	}

	idom := map[BlockID]BlockID{entry: entry}
	intersect := func(a, b BlockID) BlockID {
		for a != b {
			for rpo[a] > rpo[b] {
				a = idom[a]
			}
			for rpo[b] > rpo[a] {
				b = idom[b]
			}
		}
		return a
	}

	for changed := true; changed; {
		changed = false
		for _, id := range order[1:] {
			var next BlockID
			for _, p := range preds[id] {
				if _, done := idom[p]; !done {
					continue
				}
				if next == NoBlock {
					next = p
				} else {
					next = intersect(p, next)
				}
			}
			if next != NoBlock && idom[id] != next {
				idom[id] = next
				changed = true
			}
		}
	}
	idom[entry] = NoBlock
	return idom
}

// FillDominators sets the dominator of every block reachable from entry
// that does not already have one.
func (c *Context) FillDominators(entry BlockID) {
	for id, dom := range c.ComputeDominators(entry) {
		if blk := c.Block(id); blk.Dominator == NoBlock {
			blk.Dominator = dom
		}
	}
}
