package opt

import "klang/internal/ir"

// gvn removes redundant pure computations using a value table scoped to the
// dominator tree, and forwards stored or previously loaded values to later
// loads of the same slot within a block.
type gvn struct{}

func (gvn) Name() string { return "gvn" }

type valueKey struct {
	op         ir.IROp
	src1, src2 ir.Operand
}

func (gvn) Run(fn *ir.IRFunc, ctx *Context) bool {
	aa := ctx.aliasInfo(fn)
	removeUnreachable(fn)
	cfg := ir.BuildCFG(fn)
	repl := make(replacer)

	var walk func(label string, scope map[valueKey]ir.Operand)
	walk = func(label string, outer map[valueKey]ir.Operand) {
		table := make(map[valueKey]ir.Operand, len(outer))
		for k, v := range outer {
			table[k] = v
		}
		known := make(map[int]ir.Operand) // slot -> value it currently holds

		b := fn.Block(label)
		for i := range b.Instrs {
			instr := &b.Instrs[i]
			for _, op := range instr.Operands() {
				*op = repl.resolve(*op)
			}
			switch instr.Op {
			case ir.IRFAdd, ir.IRFSub, ir.IRFMul, ir.IRFCmpULT, ir.IRFCmpONE, ir.IRUIToFP:
				key := valueKey{instr.Op, instr.Src1, instr.Src2}
				if prev, ok := table[key]; ok {
					repl[instr.Dst.Reg] = prev
				} else {
					table[key] = instr.Dst
				}
			case ir.IRLoad:
				if v, ok := known[instr.Src1.Reg]; ok {
					repl[instr.Dst.Reg] = v
				} else {
					known[instr.Src1.Reg] = instr.Dst
				}
			case ir.IRStore:
				for s := range known {
					if aa.MayAlias(ir.VReg(s), instr.Src2) {
						delete(known, s)
					}
				}
				if instr.Src2.IsReg() {
					known[instr.Src2.Reg] = instr.Src1
				}
			case ir.IRCall:
				for s := range known {
					if aa.ClobberedByCall(s) {
						delete(known, s)
					}
				}
			}
		}
		for _, child := range cfg.Children[label] {
			walk(child, table)
		}
	}
	walk(fn.Entry().Label, map[valueKey]ir.Operand{})
	return repl.apply(fn)
}
