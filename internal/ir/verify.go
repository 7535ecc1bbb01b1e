package ir

import (
	"fmt"
	"sort"
	"strings"
)

// VerifyError lists every structural problem found in a function.
type VerifyError struct {
	Func     string
	Problems []string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("ir: function %s is malformed: %s", e.Func, strings.Join(e.Problems, "; "))
}

type defSite struct {
	block string
	index int
}

// Verify checks the structural invariants of fn. When mod is non-nil, call
// targets are resolved against it and argument counts are compared.
func Verify(fn *IRFunc, mod *IRModule) error {
	if fn.Empty() {
		return nil
	}
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	labels := make(map[string]bool)
	defs := make(map[int]defSite)
	slots := make(map[int]bool)
	for _, b := range fn.Blocks {
		if labels[b.Label] {
			addf("duplicate block label %s", b.Label)
		}
		labels[b.Label] = true
		for i, instr := range b.Instrs {
			if instr.Dst.Kind == OpVirtReg {
				if prev, dup := defs[instr.Dst.Reg]; dup {
					addf("%s defined in %s and %s", instr.Dst, prev.block, b.Label)
				}
				defs[instr.Dst.Reg] = defSite{b.Label, i}
				if instr.Op == IRAlloca {
					slots[instr.Dst.Reg] = true
				}
			}
		}
	}

	cfg := BuildCFG(fn)
	for bi, b := range fn.Blocks {
		if len(b.Instrs) == 0 {
			addf("block %s is empty", b.Label)
			continue
		}
		if b.Terminator() == nil {
			addf("block %s does not end in a terminator", b.Label)
		}
		phis := b.NumPhis()
		for i := range b.Instrs {
			instr := &b.Instrs[i]
			if i < len(b.Instrs)-1 && instr.IsTerminator() {
				addf("terminator %s in the middle of block %s", instr.Op, b.Label)
			}
			if instr.Op == IRPhi && i >= phis {
				addf("phi %s not at the head of block %s", instr.Dst, b.Label)
			}
			if instr.Op == IRAlloca && bi != 0 {
				addf("alloca %s outside the entry block", instr.Dst)
			}
			for _, l := range instr.Labels {
				if !labels[l] {
					addf("%s in %s refers to unknown block %s", instr.Op, b.Label, l)
				}
			}
			switch instr.Op {
			case IRLoad:
				if !instr.Src1.IsReg() || !slots[instr.Src1.Reg] {
					addf("load in %s from non-slot %s", b.Label, instr.Src1)
				}
			case IRStore:
				if !instr.Src2.IsReg() || !slots[instr.Src2.Reg] {
					addf("store in %s to non-slot %s", b.Label, instr.Src2)
				}
			case IRPhi:
				if len(instr.Args) != len(instr.Labels) {
					addf("phi %s has %d values for %d blocks", instr.Dst, len(instr.Args), len(instr.Labels))
				}
				got := append([]string(nil), instr.Labels...)
				want := append([]string(nil), cfg.Preds[b.Label]...)
				sort.Strings(got)
				sort.Strings(want)
				if strings.Join(got, ",") != strings.Join(want, ",") {
					addf("phi %s in %s has incoming [%s], predecessors are [%s]",
						instr.Dst, b.Label, strings.Join(got, ","), strings.Join(want, ","))
				}
			case IRCall:
				if mod != nil {
					callee := mod.Function(instr.Callee)
					if callee == nil {
						addf("call to unknown function %s", instr.Callee)
					} else if callee.NumParams() != len(instr.Args) {
						addf("call to %s passes %d args, want %d", instr.Callee, len(instr.Args), callee.NumParams())
					}
				}
			}

			for k, op := range instr.Operands() {
				switch op.Kind {
				case OpParam:
					if op.Index < 0 || op.Index >= fn.NumParams() {
						addf("%s uses parameter %d of %d", instr.Op, op.Index, fn.NumParams())
					}
				case OpVirtReg:
					site, ok := defs[op.Reg]
					if !ok {
						addf("%s in %s uses undefined %s", instr.Op, b.Label, op)
						continue
					}
					if !cfg.Reachable(b.Label) {
						continue
					}
					if instr.Op == IRPhi {
						// Phi operands are Args only; Src slots are unused.
						if k < len(instr.Labels) && !cfg.Dominates(site.block, instr.Labels[k]) {
							addf("phi %s operand %s does not dominate edge from %s", instr.Dst, op, instr.Labels[k])
						}
						continue
					}
					if site.block == b.Label {
						if site.index >= i {
							addf("%s used before definition in %s", op, b.Label)
						}
					} else if !cfg.Dominates(site.block, b.Label) {
						addf("definition of %s does not dominate use in %s", op, b.Label)
					}
				}
			}
		}
	}

	if len(problems) > 0 {
		return &VerifyError{Func: fn.Name, Problems: problems}
	}
	return nil
}
