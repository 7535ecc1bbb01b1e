package ir

import "sort"

// Successors returns the labels the block's terminator may jump to.
func Successors(b *IRBlock) []string {
	t := b.Terminator()
	if t == nil || t.Op == IRRet {
		return nil
	}
	if t.Op == IRCondBr && t.Labels[0] == t.Labels[1] {
		return t.Labels[:1]
	}
	return t.Labels
}

// CFG is a snapshot of a function's control-flow graph with its dominator
// tree. It must be rebuilt after blocks or branches change.
type CFG struct {
	Fn       *IRFunc
	Order    []*IRBlock          // reachable blocks in reverse postorder
	Preds    map[string][]string // every predecessor, in block order
	Succs    map[string][]string
	IDom     map[string]string // immediate dominator; the entry maps to itself
	Children map[string][]string
	rpo      map[string]int
}

// BuildCFG computes predecessors, reverse postorder and dominators for fn.
// Dominators use the Cooper-Harvey-Kennedy iterative algorithm.
func BuildCFG(fn *IRFunc) *CFG {
	c := &CFG{
		Fn:       fn,
		Preds:    make(map[string][]string),
		Succs:    make(map[string][]string),
		IDom:     make(map[string]string),
		Children: make(map[string][]string),
		rpo:      make(map[string]int),
	}
	for _, b := range fn.Blocks {
		succs := Successors(b)
		c.Succs[b.Label] = succs
		for _, s := range succs {
			c.Preds[s] = append(c.Preds[s], b.Label)
		}
	}
	if fn.Empty() {
		return c
	}

	visited := make(map[string]bool)
	var post []*IRBlock
	var walk func(b *IRBlock)
	walk = func(b *IRBlock) {
		visited[b.Label] = true
		for _, s := range c.Succs[b.Label] {
			if !visited[s] {
				if sb := fn.Block(s); sb != nil {
					walk(sb)
				}
			}
		}
		post = append(post, b)
	}
	walk(fn.Entry())
	for i := len(post) - 1; i >= 0; i-- {
		c.rpo[post[i].Label] = len(c.Order)
		c.Order = append(c.Order, post[i])
	}

	entry := fn.Entry().Label
	c.IDom[entry] = entry
	for changed := true; changed; {
		changed = false
		for _, b := range c.Order[1:] {
			newIDom := ""
			for _, p := range c.Preds[b.Label] {
				if _, ok := c.IDom[p]; !ok {
					continue
				}
				if newIDom == "" {
					newIDom = p
				} else {
					newIDom = c.intersect(p, newIDom)
				}
			}
			if newIDom != "" && c.IDom[b.Label] != newIDom {
				c.IDom[b.Label] = newIDom
				changed = true
			}
		}
	}
	for _, b := range c.Order[1:] {
		d := c.IDom[b.Label]
		c.Children[d] = append(c.Children[d], b.Label)
	}
	return c
}

func (c *CFG) intersect(a, b string) string {
	for a != b {
		for c.rpo[a] > c.rpo[b] {
			a = c.IDom[a]
		}
		for c.rpo[b] > c.rpo[a] {
			b = c.IDom[b]
		}
	}
	return a
}

// Reachable reports whether the block can be reached from the entry.
func (c *CFG) Reachable(label string) bool {
	_, ok := c.rpo[label]
	return ok
}

// Dominates reports whether every path from the entry to b passes through a.
func (c *CFG) Dominates(a, b string) bool {
	if !c.Reachable(a) || !c.Reachable(b) {
		return false
	}
	for {
		if a == b {
			return true
		}
		d := c.IDom[b]
		if d == b {
			return false
		}
		b = d
	}
}

// Frontiers computes the dominance frontier of every reachable block.
func (c *CFG) Frontiers() map[string][]string {
	df := make(map[string][]string)
	seen := make(map[[2]string]bool)
	for _, b := range c.Order {
		var preds []string
		for _, p := range c.Preds[b.Label] {
			if c.Reachable(p) {
				preds = append(preds, p)
			}
		}
		if len(preds) < 2 {
			continue
		}
		for _, p := range preds {
			for runner := p; runner != c.IDom[b.Label]; runner = c.IDom[runner] {
				key := [2]string{runner, b.Label}
				if !seen[key] {
					seen[key] = true
					df[runner] = append(df[runner], b.Label)
				}
				if runner == c.IDom[runner] {
					break
				}
			}
		}
	}
	return df
}

// IteratedFrontier returns the blocks in the iterated dominance frontier of
// the given definition blocks, sorted by reverse postorder.
func (c *CFG) IteratedFrontier(defs []string) []string {
	df := c.Frontiers()
	in := make(map[string]bool)
	work := append([]string(nil), defs...)
	queued := make(map[string]bool)
	for _, d := range defs {
		queued[d] = true
	}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		for _, f := range df[b] {
			if in[f] {
				continue
			}
			in[f] = true
			if !queued[f] {
				queued[f] = true
				work = append(work, f)
			}
		}
	}
	out := make([]string, 0, len(in))
	for l := range in {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return c.rpo[out[i]] < c.rpo[out[j]] })
	return out
}
