package opt

import "klang/internal/ir"

// replacer maps virtual registers to the operands that supersede them.
type replacer map[int]ir.Operand

func (r replacer) resolve(op ir.Operand) ir.Operand {
	for i := 0; op.Kind == ir.OpVirtReg && i <= len(r); i++ {
		next, ok := r[op.Reg]
		if !ok {
			break
		}
		op = next
	}
	return op
}

// apply rewrites every operand in fn and drops the instructions whose results
// were replaced. It reports whether anything changed.
func (r replacer) apply(fn *ir.IRFunc) bool {
	if len(r) == 0 {
		return false
	}
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			for _, op := range b.Instrs[i].Operands() {
				*op = r.resolve(*op)
			}
		}
	}
	removeInstrs(fn, func(instr *ir.IRInstr) bool {
		if instr.Dst.Kind != ir.OpVirtReg {
			return false
		}
		_, gone := r[instr.Dst.Reg]
		return gone
	})
	return true
}

// removeInstrs deletes every instruction matching drop. It reports whether
// anything was removed.
func removeInstrs(fn *ir.IRFunc, drop func(*ir.IRInstr) bool) bool {
	removed := false
	for _, b := range fn.Blocks {
		kept := b.Instrs[:0]
		for i := range b.Instrs {
			if drop(&b.Instrs[i]) {
				removed = true
				continue
			}
			kept = append(kept, b.Instrs[i])
		}
		b.Instrs = kept
	}
	return removed
}

// useCounts counts the uses of every virtual register.
func useCounts(fn *ir.IRFunc) map[int]int {
	uses := make(map[int]int)
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			for _, op := range b.Instrs[i].Operands() {
				if op.Kind == ir.OpVirtReg {
					uses[op.Reg]++
				}
			}
		}
	}
	return uses
}

// removeUnreachable deletes blocks the entry cannot reach and drops the phi
// entries that referred to them.
func removeUnreachable(fn *ir.IRFunc) bool {
	cfg := ir.BuildCFG(fn)
	if len(cfg.Order) == len(fn.Blocks) {
		return false
	}
	kept := fn.Blocks[:0]
	for _, b := range fn.Blocks {
		if cfg.Reachable(b.Label) {
			kept = append(kept, b)
		}
	}
	fn.Blocks = kept
	for _, b := range fn.Blocks {
		for i := 0; i < b.NumPhis(); i++ {
			phi := &b.Instrs[i]
			for k := 0; k < len(phi.Labels); {
				if !cfg.Reachable(phi.Labels[k]) {
					removeIncoming(phi, k)
					continue
				}
				k++
			}
		}
	}
	return true
}

func removeIncoming(phi *ir.IRInstr, k int) {
	phi.Args = append(phi.Args[:k], phi.Args[k+1:]...)
	phi.Labels = append(phi.Labels[:k], phi.Labels[k+1:]...)
}

// dropIncomingFrom removes the entries for pred from every phi in b.
func dropIncomingFrom(b *ir.IRBlock, pred string) {
	for i := 0; i < b.NumPhis(); i++ {
		phi := &b.Instrs[i]
		for k := 0; k < len(phi.Labels); {
			if phi.Labels[k] == pred {
				removeIncoming(phi, k)
				continue
			}
			k++
		}
	}
}
