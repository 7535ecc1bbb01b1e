//go:build llvm

package main

import (
	"klang/internal/ir"
	"klang/internal/llvmjit"
)

func init() {
	emitLLVMIR = func(mod *ir.IRModule, passes []string) (string, error) {
		m, err := llvmjit.Translate(mod)
		if err != nil {
			return "", err
		}
		defer m.Dispose()
		if err := m.Optimize(passes); err != nil {
			return "", err
		}
		return m.String(), nil
	}
}
