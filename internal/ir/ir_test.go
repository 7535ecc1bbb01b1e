package ir

import (
	"errors"
	"strings"
	"testing"
)

// buildDiamond builds
//
//	def pick(x) if x then 1 else 2
func buildDiamond() *IRFunc {
	fn := NewFunc("pick", []string{"x"})
	b := NewBuilder()
	b.Start(fn)
	cond := b.FCmpONE(Param(0), Const(0), "ifcond")
	thenB, elseB, merge := b.NewBlock("then"), b.NewBlock("else"), b.NewBlock("ifcont")
	b.CondBr(cond, thenB, elseB)
	b.SetInsertPoint(thenB)
	b.Br(merge)
	b.SetInsertPoint(elseB)
	b.Br(merge)
	b.SetInsertPoint(merge)
	v := b.Phi("iftmp", Incoming{Const(1), thenB}, Incoming{Const(2), elseB})
	b.Ret(v)
	return fn
}

func TestBuilderDiamondVerifies(t *testing.T) {
	fn := buildDiamond()
	if err := Verify(fn, nil); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	want := []string{"entry", "then1", "else2", "ifcont3"}
	if len(fn.Blocks) != len(want) {
		t.Fatalf("got %d blocks, want %d", len(fn.Blocks), len(want))
	}
	for i, l := range want {
		if fn.Blocks[i].Label != l {
			t.Errorf("block %d: got %s, want %s", i, fn.Blocks[i].Label, l)
		}
	}
}

func TestEntryAllocaStaysInEntry(t *testing.T) {
	fn := NewFunc("f", nil)
	b := NewBuilder()
	b.Start(fn)
	body := b.NewBlock("body")
	b.Br(body)
	b.SetInsertPoint(body)
	a := b.EntryAlloca("a")
	b.Store(Const(1), a)
	c := b.EntryAlloca("c")
	b.Store(Const(2), c)
	b.Ret(b.Load(a, "a"))

	entry := fn.Entry()
	if entry.Instrs[0].Op != IRAlloca || entry.Instrs[1].Op != IRAlloca {
		t.Fatalf("entry block should start with two allocas:\n%s", fn)
	}
	if entry.Instrs[0].Name != "a" || entry.Instrs[1].Name != "c" {
		t.Errorf("allocas out of creation order:\n%s", fn)
	}
	if err := Verify(fn, nil); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestDominators(t *testing.T) {
	cfg := BuildCFG(buildDiamond())
	if got := cfg.IDom["ifcont3"]; got != "entry" {
		t.Errorf("idom(ifcont3) = %s, want entry", got)
	}
	if !cfg.Dominates("entry", "then1") {
		t.Error("entry should dominate then1")
	}
	if cfg.Dominates("then1", "ifcont3") {
		t.Error("then1 should not dominate ifcont3")
	}
	df := cfg.Frontiers()
	if len(df["then1"]) != 1 || df["then1"][0] != "ifcont3" {
		t.Errorf("DF(then1) = %v, want [ifcont3]", df["then1"])
	}
	if len(df["entry"]) != 0 {
		t.Errorf("DF(entry) = %v, want []", df["entry"])
	}
}

func TestLoopFrontier(t *testing.T) {
	// entry -> loop -> loop | after
	fn := NewFunc("loop", nil)
	b := NewBuilder()
	b.Start(fn)
	slot := b.EntryAlloca("i")
	b.Store(Const(0), slot)
	loop, after := b.NewBlock("loop"), b.NewBlock("afterloop")
	b.Br(loop)
	b.SetInsertPoint(loop)
	i := b.Load(slot, "i")
	next := b.FAdd(i, Const(1), "nextvar")
	b.Store(next, slot)
	b.CondBr(b.FCmpULT(next, Const(10), "cmptmp"), loop, after)
	b.SetInsertPoint(after)
	b.Ret(Const(0))
	if err := Verify(fn, nil); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	cfg := BuildCFG(fn)
	idf := cfg.IteratedFrontier([]string{"entry", loop.Label})
	if len(idf) != 1 || idf[0] != loop.Label {
		t.Errorf("IDF = %v, want [%s]", idf, loop.Label)
	}
}

func TestVerifyReportsProblems(t *testing.T) {
	tests := []struct {
		name  string
		build func() *IRFunc
		want  string
	}{
		{
			name: "missing terminator",
			build: func() *IRFunc {
				fn := NewFunc("f", nil)
				b := NewBuilder()
				b.Start(fn)
				b.FAdd(Const(1), Const(2), "x")
				return fn
			},
			want: "does not end in a terminator",
		},
		{
			name: "phi incoming mismatch",
			build: func() *IRFunc {
				fn := buildDiamond()
				phi := &fn.Blocks[3].Instrs[0]
				phi.Args = phi.Args[:1]
				phi.Labels = phi.Labels[:1]
				return fn
			},
			want: "predecessors are",
		},
		{
			name: "undefined register",
			build: func() *IRFunc {
				fn := NewFunc("f", nil)
				b := NewBuilder()
				b.Start(fn)
				b.Ret(VReg(42))
				return fn
			},
			want: "uses undefined v42",
		},
		{
			name: "parameter out of range",
			build: func() *IRFunc {
				fn := NewFunc("f", []string{"a"})
				b := NewBuilder()
				b.Start(fn)
				b.Ret(Param(1))
				return fn
			},
			want: "uses parameter 1 of 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.build(), nil)
			var verr *VerifyError
			if !errors.As(err, &verr) {
				t.Fatalf("got %v, want *VerifyError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestVerifyCallArity(t *testing.T) {
	mod := NewModule("test")
	callee := NewFunc("two", []string{"a", "b"})
	if err := mod.AddFunction(callee); err != nil {
		t.Fatal(err)
	}
	fn := NewFunc("caller", nil)
	b := NewBuilder()
	b.Start(fn)
	b.Ret(b.Call("two", []Operand{Const(1)}, "calltmp"))
	if err := Verify(fn, mod); err == nil || !strings.Contains(err.Error(), "passes 1 args, want 2") {
		t.Errorf("got %v, want arity error", err)
	}
}

func TestModuleFunctions(t *testing.T) {
	mod := NewModule("m")
	if err := mod.AddFunction(NewFunc("f", nil)); err != nil {
		t.Fatal(err)
	}
	if err := mod.AddFunction(NewFunc("f", nil)); err == nil {
		t.Error("expected duplicate AddFunction to fail")
	}
	if !mod.RemoveFunction("f") || mod.Function("f") != nil {
		t.Error("RemoveFunction did not remove f")
	}
	if mod.RemoveFunction("f") {
		t.Error("second RemoveFunction should report false")
	}
}

func TestDumpFormat(t *testing.T) {
	got := buildDiamond().String()
	for _, want := range []string{
		"define pick(%0:x) {",
		"v0 = fcmp_one %0, 0.0 ; ifcond",
		"condbr v0, then1, else2",
		"v1 = phi [1.0, then1], [2.0, else2] ; iftmp",
		"ret v1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("dump missing %q:\n%s", want, got)
		}
	}
	if got := NewFunc("sin", []string{"x"}).String(); got != "declare sin(%0:x)\n" {
		t.Errorf("declaration dump = %q", got)
	}
}
