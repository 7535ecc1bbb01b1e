package opt

import "klang/internal/ir"

// reassociate puts the operands of commutative instructions in a canonical
// order: parameters first, then registers by number, constants last. Regrouping
// across instructions would change floating-point results, so it stops at
// operand order.
type reassociate struct{}

func (reassociate) Name() string { return "reassociate" }

func (reassociate) Run(fn *ir.IRFunc, ctx *Context) bool {
	changed := false
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			instr := &b.Instrs[i]
			switch instr.Op {
			case ir.IRFAdd, ir.IRFMul, ir.IRFCmpONE:
				if rankLess(instr.Src2, instr.Src1) {
					instr.Src1, instr.Src2 = instr.Src2, instr.Src1
					changed = true
				}
			}
		}
	}
	return changed
}

func rank(op ir.Operand) (int, float64) {
	switch op.Kind {
	case ir.OpParam:
		return 0, float64(op.Index)
	case ir.OpVirtReg:
		return 1, float64(op.Reg)
	case ir.OpConst:
		return 2, op.Imm
	}
	return 3, 0
}

func rankLess(a, b ir.Operand) bool {
	ka, va := rank(a)
	kb, vb := rank(b)
	if ka != kb {
		return ka < kb
	}
	return ka != 2 && va < vb
}
