package opt

import "klang/internal/ir"

// simplifyCFG folds branches on constants, deletes unreachable blocks, skips
// blocks that only jump onwards and merges a block into its predecessor when
// that predecessor is its only one. It repeats until nothing changes.
type simplifyCFG struct{}

func (simplifyCFG) Name() string { return "simplifycfg" }

func (simplifyCFG) Run(fn *ir.IRFunc, ctx *Context) bool {
	changed := false
	for {
		round := foldBranches(fn)
		if removeUnreachable(fn) {
			round = true
		}
		if foldSingleEntryPhis(fn) {
			round = true
		}
		if skipForwardingBlock(fn) {
			round = true
		} else if mergeIntoPredecessor(fn) {
			round = true
		}
		if !round {
			return changed
		}
		changed = true
	}
}

// foldBranches turns conditional branches whose outcome is known into
// unconditional ones.
func foldBranches(fn *ir.IRFunc) bool {
	changed := false
	for _, b := range fn.Blocks {
		t := b.Terminator()
		if t == nil || t.Op != ir.IRCondBr {
			continue
		}
		switch {
		case t.Labels[0] == t.Labels[1]:
			*t = ir.IRInstr{Op: ir.IRBr, Labels: []string{t.Labels[0]}}
		case t.Src1.IsConst():
			taken, dropped := t.Labels[0], t.Labels[1]
			if t.Src1.Imm == 0 {
				taken, dropped = dropped, taken
			}
			if d := fn.Block(dropped); d != nil {
				dropIncomingFrom(d, b.Label)
			}
			*t = ir.IRInstr{Op: ir.IRBr, Labels: []string{taken}}
		default:
			continue
		}
		changed = true
	}
	return changed
}

// foldSingleEntryPhis replaces phis with exactly one incoming value.
func foldSingleEntryPhis(fn *ir.IRFunc) bool {
	repl := make(replacer)
	for _, b := range fn.Blocks {
		for i := 0; i < b.NumPhis(); i++ {
			if phi := &b.Instrs[i]; len(phi.Args) == 1 {
				repl[phi.Dst.Reg] = phi.Args[0]
			}
		}
	}
	return repl.apply(fn)
}

// skipForwardingBlock retargets the predecessors of one block that holds
// nothing but "br T", when T has no phis that would need new entries.
func skipForwardingBlock(fn *ir.IRFunc) bool {
	for _, b := range fn.Blocks[1:] {
		if len(b.Instrs) != 1 || b.Instrs[0].Op != ir.IRBr {
			continue
		}
		target := b.Instrs[0].Labels[0]
		tb := fn.Block(target)
		if target == b.Label || tb == nil || tb.NumPhis() > 0 {
			continue
		}
		for _, p := range fn.Blocks {
			if t := p.Terminator(); t != nil {
				for k, l := range t.Labels {
					if l == b.Label {
						t.Labels[k] = target
					}
				}
			}
		}
		return true
	}
	return false
}

// mergeIntoPredecessor appends a block to its unique predecessor when that
// predecessor jumps to it unconditionally.
func mergeIntoPredecessor(fn *ir.IRFunc) bool {
	cfg := ir.BuildCFG(fn)
	for _, b := range fn.Blocks[1:] {
		preds := cfg.Preds[b.Label]
		if len(preds) != 1 || preds[0] == b.Label {
			continue
		}
		pred := fn.Block(preds[0])
		t := pred.Terminator()
		if t == nil || t.Op != ir.IRBr {
			continue
		}

		repl := make(replacer)
		phis := b.NumPhis()
		for i := 0; i < phis; i++ {
			repl[b.Instrs[i].Dst.Reg] = b.Instrs[i].Args[0]
		}
		pred.Instrs = append(pred.Instrs[:len(pred.Instrs)-1], b.Instrs[phis:]...)

		// Successors of b now see pred as their predecessor.
		for _, s := range ir.Successors(pred) {
			sb := fn.Block(s)
			for i := 0; i < sb.NumPhis(); i++ {
				for k, l := range sb.Instrs[i].Labels {
					if l == b.Label {
						sb.Instrs[i].Labels[k] = pred.Label
					}
				}
			}
		}
		for i, blk := range fn.Blocks {
			if blk == b {
				fn.Blocks = append(fn.Blocks[:i], fn.Blocks[i+1:]...)
				break
			}
		}
		repl.apply(fn)
		return true
	}
	return false
}
