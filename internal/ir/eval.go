package ir

import "math"

// EvalBinary computes a two-operand arithmetic or comparison op. Comparisons
// produce 0 or 1. ok is false for any other opcode.
func EvalBinary(op IROp, a, b float64) (v float64, ok bool) {
	switch op {
	case IRFAdd:
		return a + b, true
	case IRFSub:
		return a - b, true
	case IRFMul:
		return a * b, true
	case IRFCmpULT:
		// Unordered or less than.
		return boolFloat(!(a >= b)), true
	case IRFCmpONE:
		// Ordered and not equal.
		return boolFloat(!math.IsNaN(a) && !math.IsNaN(b) && a != b), true
	}
	return 0, false
}

// IsBinaryArith reports whether op is handled by EvalBinary.
func IsBinaryArith(op IROp) bool {
	switch op {
	case IRFAdd, IRFSub, IRFMul, IRFCmpULT, IRFCmpONE:
		return true
	}
	return false
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
