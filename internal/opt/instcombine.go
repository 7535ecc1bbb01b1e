package opt

import (
	"math"

	"klang/internal/ir"
)

// instCombine folds constants, applies identities that are exact in IEEE
// arithmetic, removes phis that merge a single value and deletes unused pure
// instructions. It repeats until nothing changes.
type instCombine struct{}

func (instCombine) Name() string { return "instcombine" }

func (instCombine) Run(fn *ir.IRFunc, ctx *Context) bool {
	changed := false
	for {
		round := false
		repl := make(replacer)
		for _, b := range fn.Blocks {
			for i := range b.Instrs {
				instr := &b.Instrs[i]
				if instr.Dst.Kind != ir.OpVirtReg {
					continue
				}
				if v, ok := simplify(instr); ok {
					repl[instr.Dst.Reg] = v
				}
			}
		}
		if repl.apply(fn) {
			round = true
		}
		if removeDead(fn) {
			round = true
		}
		if !round {
			return changed
		}
		changed = true
	}
}

// simplify returns the operand an instruction can be replaced with.
func simplify(instr *ir.IRInstr) (ir.Operand, bool) {
	a, b := instr.Src1, instr.Src2
	switch instr.Op {
	case ir.IRUIToFP:
		if a.IsConst() {
			return a, true
		}
	case ir.IRFAdd, ir.IRFSub, ir.IRFMul, ir.IRFCmpULT, ir.IRFCmpONE:
		if a.IsConst() && b.IsConst() {
			v, _ := ir.EvalBinary(instr.Op, a.Imm, b.Imm)
			return ir.Const(v), true
		}
		switch instr.Op {
		case ir.IRFMul:
			if isConst(b, 1) {
				return a, true
			}
			if isConst(a, 1) {
				return b, true
			}
		case ir.IRFSub:
			if isConst(b, 0) && !math.Signbit(b.Imm) {
				return a, true
			}
		case ir.IRFAdd:
			if isNegZero(b) {
				return a, true
			}
			if isNegZero(a) {
				return b, true
			}
		}
	case ir.IRPhi:
		return uniquePhiValue(instr)
	}
	return ir.Operand{}, false
}

// uniquePhiValue returns V when every incoming value is V or the phi itself.
func uniquePhiValue(phi *ir.IRInstr) (ir.Operand, bool) {
	var v ir.Operand
	found := false
	for _, a := range phi.Args {
		if a == phi.Dst {
			continue
		}
		if found && a != v {
			return ir.Operand{}, false
		}
		v, found = a, true
	}
	return v, found
}

func isConst(op ir.Operand, v float64) bool {
	return op.IsConst() && op.Imm == v
}

func isNegZero(op ir.Operand) bool {
	return op.IsConst() && op.Imm == 0 && math.Signbit(op.Imm)
}

// removeDead deletes pure instructions whose results are never used.
func removeDead(fn *ir.IRFunc) bool {
	uses := useCounts(fn)
	return removeInstrs(fn, func(instr *ir.IRInstr) bool {
		return instr.Dst.Kind == ir.OpVirtReg && !instr.HasSideEffects() && uses[instr.Dst.Reg] == 0
	})
}
