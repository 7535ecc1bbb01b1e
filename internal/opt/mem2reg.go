package opt

import (
	"sort"

	"klang/internal/ir"
)

// mem2reg promotes non-escaping stack slots to SSA registers. Phis are placed
// on the iterated dominance frontier of each slot's stores, pruned to the
// blocks where the slot is live, and values are renamed by a walk of the
// dominator tree. A load that no store reaches reads 0, matching the zeroed
// slots of the engine.
type mem2reg struct{}

func (mem2reg) Name() string { return "mem2reg" }

type phiSite struct {
	slot int
	pos  int // index among the block's inserted phis
}

func (mem2reg) Run(fn *ir.IRFunc, ctx *Context) bool {
	aa := ctx.aliasInfo(fn)
	var slots []int
	for _, instr := range fn.Entry().Instrs {
		if instr.Op == ir.IRAlloca && aa.Promotable(instr.Dst.Reg) {
			slots = append(slots, instr.Dst.Reg)
		}
	}
	if len(slots) == 0 {
		return false
	}
	promoted := make(map[int]bool, len(slots))
	for _, s := range slots {
		promoted[s] = true
	}

	removeUnreachable(fn)
	cfg := ir.BuildCFG(fn)

	// Insert phis: block label -> slots needing a phi there, in slot order.
	phis := make(map[string][]phiSite)
	phiDst := make(map[string][]ir.Operand)
	for _, s := range slots {
		live := liveInBlocks(fn, cfg, s)
		for _, label := range cfg.IteratedFrontier(storeBlocks(fn, s)) {
			if !live[label] {
				continue
			}
			phis[label] = append(phis[label], phiSite{slot: s, pos: len(phis[label])})
		}
	}
	for _, b := range fn.Blocks {
		sites := phis[b.Label]
		if len(sites) == 0 {
			continue
		}
		preds := cfg.Preds[b.Label]
		head := b.NumPhis()
		inserted := make([]ir.IRInstr, len(sites))
		for i, site := range sites {
			dst := fn.NewVReg()
			phiDst[b.Label] = append(phiDst[b.Label], dst)
			inserted[i] = ir.IRInstr{
				Op:     ir.IRPhi,
				Dst:    dst,
				Args:   make([]ir.Operand, len(preds)),
				Labels: append([]string(nil), preds...),
				Name:   slotName(fn, site.slot),
			}
		}
		rest := append([]ir.IRInstr(nil), b.Instrs[head:]...)
		b.Instrs = append(append(b.Instrs[:head], inserted...), rest...)
	}

	// Rename along the dominator tree.
	repl := make(replacer)
	var rename func(label string, vals map[int]ir.Operand)
	rename = func(label string, incoming map[int]ir.Operand) {
		b := fn.Block(label)
		vals := make(map[int]ir.Operand, len(incoming))
		for k, v := range incoming {
			vals[k] = v
		}
		base := b.NumPhis() - len(phis[label])
		for _, site := range phis[label] {
			vals[site.slot] = b.Instrs[base+site.pos].Dst
		}
		for i := range b.Instrs {
			instr := &b.Instrs[i]
			switch instr.Op {
			case ir.IRLoad:
				if instr.Src1.IsReg() && promoted[instr.Src1.Reg] {
					v, ok := vals[instr.Src1.Reg]
					if !ok {
						v = ir.Const(0)
					}
					repl[instr.Dst.Reg] = v
				}
			case ir.IRStore:
				if instr.Src2.IsReg() && promoted[instr.Src2.Reg] {
					vals[instr.Src2.Reg] = instr.Src1
				}
			}
		}
		for _, succ := range cfg.Succs[label] {
			sb := fn.Block(succ)
			sbase := sb.NumPhis() - len(phis[succ])
			for _, site := range phis[succ] {
				phi := &sb.Instrs[sbase+site.pos]
				v, ok := vals[site.slot]
				if !ok {
					v = ir.Const(0)
				}
				for k, l := range phi.Labels {
					if l == label {
						phi.Args[k] = v
					}
				}
			}
		}
		for _, child := range cfg.Children[label] {
			rename(child, vals)
		}
	}
	rename(fn.Entry().Label, map[int]ir.Operand{})

	removeInstrs(fn, func(instr *ir.IRInstr) bool {
		switch instr.Op {
		case ir.IRAlloca:
			return promoted[instr.Dst.Reg]
		case ir.IRStore:
			return instr.Src2.IsReg() && promoted[instr.Src2.Reg]
		}
		return false
	})
	repl.apply(fn)
	return true
}

func slotName(fn *ir.IRFunc, slot int) string {
	for _, instr := range fn.Entry().Instrs {
		if instr.Op == ir.IRAlloca && instr.Dst.Reg == slot {
			return instr.Name
		}
	}
	return ""
}

// storeBlocks lists the blocks containing a store to slot, plus the entry
// block, which holds the implicit zero.
func storeBlocks(fn *ir.IRFunc, slot int) []string {
	seen := map[string]bool{fn.Entry().Label: true}
	out := []string{fn.Entry().Label}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			if instr.Op == ir.IRStore && instr.Src2.IsReg() && instr.Src2.Reg == slot && !seen[b.Label] {
				seen[b.Label] = true
				out = append(out, b.Label)
			}
		}
	}
	sort.Strings(out)
	return out
}

// liveInBlocks computes the blocks on entry to which slot's value may still
// be loaded.
func liveInBlocks(fn *ir.IRFunc, cfg *ir.CFG, slot int) map[string]bool {
	uses := make(map[string]bool) // loaded before any store in the block
	defs := make(map[string]bool) // stored before any load in the block
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			if instr.Op == ir.IRLoad && instr.Src1.IsReg() && instr.Src1.Reg == slot && !defs[b.Label] {
				uses[b.Label] = true
				break
			}
			if instr.Op == ir.IRStore && instr.Src2.IsReg() && instr.Src2.Reg == slot {
				defs[b.Label] = true
				break
			}
		}
	}
	live := make(map[string]bool)
	var work []string
	for l := range uses {
		live[l] = true
		work = append(work, l)
	}
	for len(work) > 0 {
		l := work[len(work)-1]
		work = work[:len(work)-1]
		for _, p := range cfg.Preds[l] {
			if !live[p] && !defs[p] {
				live[p] = true
				work = append(work, p)
			}
		}
	}
	return live
}
