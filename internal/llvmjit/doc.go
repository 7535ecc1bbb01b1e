// Package llvmjit translates finished klang IR modules to LLVM IR, optimizes
// them with LLVM's function pass manager and runs them through MCJIT.
//
// The backend needs the LLVM C libraries and is only compiled with
// `-tags llvm`. Natives are provided by the C library: putchard and printd
// are emitted as small LLVM functions calling putchar and printf, and any
// other extern resolves against the process symbols (sin, cos, ...).
package llvmjit
