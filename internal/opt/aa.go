package opt

import "klang/internal/ir"

// AliasInfo answers alias queries about the stack slots of one function.
// A slot escapes when its address is used as anything but the pointer of a
// load or store.
type AliasInfo struct {
	slots    map[int]bool
	escaping map[int]bool
}

// AnalyzeAliases computes alias facts for fn.
func AnalyzeAliases(fn *ir.IRFunc) *AliasInfo {
	a := &AliasInfo{slots: make(map[int]bool), escaping: make(map[int]bool)}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			if instr.Op == ir.IRAlloca {
				a.slots[instr.Dst.Reg] = true
			}
		}
	}
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			instr := &b.Instrs[i]
			for k, op := range instr.Operands() {
				if op.Kind != ir.OpVirtReg || !a.slots[op.Reg] {
					continue
				}
				pointerUse := (instr.Op == ir.IRLoad && k == 0) || (instr.Op == ir.IRStore && op == &instr.Src2)
				if !pointerUse {
					a.escaping[op.Reg] = true
				}
			}
		}
	}
	return a
}

// IsSlot reports whether reg is the address of an alloca.
func (a *AliasInfo) IsSlot(reg int) bool { return a.slots[reg] }

// Promotable reports whether a slot is only ever loaded from and stored to.
func (a *AliasInfo) Promotable(reg int) bool { return a.slots[reg] && !a.escaping[reg] }

// MayAlias reports whether two pointers may refer to the same memory.
// Distinct allocas never overlap.
func (a *AliasInfo) MayAlias(p, q ir.Operand) bool {
	if p == q {
		return true
	}
	if p.Kind == ir.OpVirtReg && q.Kind == ir.OpVirtReg && a.slots[p.Reg] && a.slots[q.Reg] {
		return false
	}
	return true
}

// ClobberedByCall reports whether a call may write the slot.
func (a *AliasInfo) ClobberedByCall(reg int) bool {
	return !a.slots[reg] || a.escaping[reg]
}

// basicAA computes alias facts for the passes that follow it.
type basicAA struct{}

func (basicAA) Name() string { return "basic-aa" }

func (basicAA) Run(fn *ir.IRFunc, ctx *Context) bool {
	ctx.AA = AnalyzeAliases(fn)
	return false
}
