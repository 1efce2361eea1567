package ir

// DominatorTree is a read-only per-function dominance view, built on
// demand with an iterative fixed-point algorithm in the style of Cooper,
// Harvey & Kennedy's "A Simple, Fast Dominance Algorithm" (spec.md §3,
// Dominator tree). The teacher's BasicBlock only carried a single
// DominatedBy/Dominates pair; this generalizes that into a full tree with
// dominance-frontier support; dominator-keyed flatten (§4.4) uses Chain
// to compute each block's unique dominance chain back to the entry.
type DominatorTree struct {
	fn      *Function
	idom    map[*BasicBlock]*BasicBlock
	order   []*BasicBlock // reverse postorder, order[0] is entry
	rpoNum  map[*BasicBlock]int
	frontier map[*BasicBlock][]*BasicBlock
}

// BuildDominatorTree computes the dominator tree for fn. Unreachable
// blocks (no path from the entry) are omitted.
func BuildDominatorTree(fn *Function) *DominatorTree {
	entry := fn.Entry()
	dt := &DominatorTree{fn: fn, idom: make(map[*BasicBlock]*BasicBlock)}
	if entry == nil {
		return dt
	}

	dt.order = reversePostorder(entry)
	dt.rpoNum = make(map[*BasicBlock]int, len(dt.order))
	for i, bb := range dt.order {
		dt.rpoNum[bb] = i
	}

	dt.idom[entry] = entry
	changed := true
	for changed {
		changed = false
		for _, bb := range dt.order[1:] {
			var newIdom *BasicBlock
			for _, pred := range bb.Predecessors {
				if _, ok := dt.idom[pred]; !ok {
					continue
				}
				if newIdom == nil {
					newIdom = pred
					continue
				}
				newIdom = dt.intersect(newIdom, pred)
			}
			if newIdom == nil {
				continue
			}
			if dt.idom[bb] != newIdom {
				dt.idom[bb] = newIdom
				changed = true
			}
		}
	}
	delete(dt.idom, entry) // entry has no strict dominator; keep map querying simple
	dt.idom[entry] = nil
	dt.buildFrontiers()
	return dt
}

func (dt *DominatorTree) intersect(a, b *BasicBlock) *BasicBlock {
	for a != b {
		for dt.rpoNum[a] > dt.rpoNum[b] {
			a = dt.idom[a]
		}
		for dt.rpoNum[b] > dt.rpoNum[a] {
			b = dt.idom[b]
		}
	}
	return a
}

func reversePostorder(entry *BasicBlock) []*BasicBlock {
	visited := make(map[*BasicBlock]bool)
	var post []*BasicBlock
	var visit func(*BasicBlock)
	visit = func(bb *BasicBlock) {
		if visited[bb] {
			return
		}
		visited[bb] = true
		for _, succ := range bb.Successors {
			visit(succ)
		}
		post = append(post, bb)
	}
	visit(entry)
	out := make([]*BasicBlock, len(post))
	for i, bb := range post {
		out[len(post)-1-i] = bb
	}
	return out
}

// IDom returns bb's immediate dominator, or nil for the entry block or an
// unreachable block.
func (dt *DominatorTree) IDom(bb *BasicBlock) *BasicBlock {
	return dt.idom[bb]
}

// Dominates reports whether a dominates b (a == b counts as dominating).
func (dt *DominatorTree) Dominates(a, b *BasicBlock) bool {
	if a == b {
		return true
	}
	cur, ok := dt.idom[b]
	if !ok {
		return false
	}
	for cur != nil {
		if cur == a {
			return true
		}
		next := dt.idom[cur]
		if next == cur {
			break
		}
		cur = next
	}
	return false
}

// StrictlyDominates reports whether a dominates b and a != b.
func (dt *DominatorTree) StrictlyDominates(a, b *BasicBlock) bool {
	return a != b && dt.Dominates(a, b)
}

// Chain returns bb's full dominance chain from the entry block down to
// (and including) bb — the ordered key material dominator-keyed flatten
// XORs together to derive each block's decrypt key (§4.4).
func (dt *DominatorTree) Chain(bb *BasicBlock) []*BasicBlock {
	var rev []*BasicBlock
	cur := bb
	for cur != nil {
		rev = append(rev, cur)
		next := dt.idom[cur]
		if next == cur {
			break
		}
		cur = next
	}
	out := make([]*BasicBlock, len(rev))
	for i, bb := range rev {
		out[len(rev)-1-i] = bb
	}
	return out
}

func (dt *DominatorTree) buildFrontiers() {
	dt.frontier = make(map[*BasicBlock][]*BasicBlock)
	for _, bb := range dt.order {
		if len(bb.Predecessors) < 2 {
			continue
		}
		for _, pred := range bb.Predecessors {
			runner := pred
			for runner != dt.idom[bb] && runner != nil {
				dt.frontier[runner] = append(dt.frontier[runner], bb)
				next := dt.idom[runner]
				if next == runner {
					break
				}
				runner = next
			}
		}
	}
}

// Frontier returns bb's dominance frontier.
func (dt *DominatorTree) Frontier(bb *BasicBlock) []*BasicBlock {
	return dt.frontier[bb]
}
