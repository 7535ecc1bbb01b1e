package codegen

import (
	"bytes"
	"errors"
	"testing"

	"klang/internal/ast"
	"klang/internal/ir"
	"klang/internal/jit"
	"klang/internal/lexer"
	"klang/internal/operators"
	"klang/internal/opt"
	"klang/internal/parser"
)

// harness drives the generator and engine the way a session does.
type harness struct {
	t   *testing.T
	g   *Generator
	ops *operators.Registry
	e   *jit.Engine
	out bytes.Buffer
}

func newHarness(t *testing.T, optimize bool) *harness {
	t.Helper()
	h := &harness{t: t, ops: operators.NewRegistry()}
	mod := ir.NewModule("test")
	var o Optimizer
	if optimize {
		o = opt.Default(mod)
	}
	h.g = New(mod, h.ops, o)
	h.e = jit.New(jit.Options{Stdout: &h.out, MaxSteps: 1_000_000})
	return h
}

// eval processes every form in src and returns the value of the last
// top-level expression, stopping at the first error.
func (h *harness) eval(src string) (float64, error) {
	h.t.Helper()
	tokens, lexErrs := lexer.Lex(src)
	if len(lexErrs) > 0 {
		h.t.Fatalf("lex errors: %v", lexErrs)
	}
	p := parser.New(tokens, h.ops)
	var last float64
	for !p.Done() {
		form, err := p.Next()
		if err != nil {
			h.t.Fatalf("parse: %v", err)
		}
		switch f := form.(type) {
		case *ast.Function:
			fn, err := h.g.DefineFunction(f)
			if err != nil {
				return 0, err
			}
			if err := h.e.Add(fn); err != nil {
				return 0, err
			}
		case *ast.Extern:
			if _, err := h.g.Extern(f); err != nil {
				return 0, err
			}
		case *ast.TopLevelExpr:
			fn, err := h.g.TopLevelExpr(f)
			if err != nil {
				return 0, err
			}
			if err := h.e.Add(fn); err != nil {
				return 0, err
			}
			last, err = h.e.Call(AnonExprName)
			h.e.Remove(AnonExprName)
			h.g.Forget(AnonExprName)
			if err != nil {
				return 0, err
			}
		}
	}
	return last, nil
}

func (h *harness) mustEval(src string) float64 {
	h.t.Helper()
	v, err := h.eval(src)
	if err != nil {
		h.t.Fatalf("eval %q: %v", src, err)
	}
	return v
}

func mustParseExpr(t *testing.T, src string) ast.Expr {
	t.Helper()
	tokens, _ := lexer.Lex(src)
	forms, errs := parser.Parse(tokens, operators.NewRegistry())
	if len(errs) > 0 || len(forms) != 1 {
		t.Fatalf("parse %q: %v", src, errs)
	}
	return forms[0].(*ast.TopLevelExpr).Body
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

func TestExpressionValues(t *testing.T) {
	tests := []struct {
		src  string
		want float64
	}{
		{"1 + 2 * 3", 7},
		{"def foo(a b) a*a + b*b; foo(3, 4)", 25},
		{"var a = 1 in (var a = a in a)", 1},
		{"if 0 then 1 else 2", 2},
		{"if 0.5 then 1 else 2", 1},
		{"(1 < 2) + (3 < 1)", 1},
		{"var x = 2 in (x = x * 5) + x", 20},
		{"def unary-(v) 0-v; -5 + 2", -3},
		{"def binary| 5 (a b) if a then 1 else if b then 1 else 0; 0 | 1", 1},
		{"def binary> 10 (a b) b < a; 3 > 2 + 4", 0},
		{"def twice(x) (x = x * 2) + x; twice(3)", 12},
		{"var a, b = 4 in a + b", 4},
	}
	for _, optimize := range []bool{false, true} {
		for _, tt := range tests {
			h := newHarness(t, optimize)
			if got := h.mustEval(tt.src); got != tt.want {
				t.Errorf("%q (optimized=%v) = %v, want %v", tt.src, optimize, got, tt.want)
			}
		}
	}
}

func TestForLoopRunsBodyThreeTimes(t *testing.T) {
	for _, optimize := range []bool{false, true} {
		h := newHarness(t, optimize)
		got := h.mustEval("extern putchard(c); for i = 1, i < 4, 1.0 in putchard(i)")
		if got != 0 {
			t.Errorf("loop value = %v, want 0", got)
		}
		if out := h.out.Bytes(); !bytes.Equal(out, []byte{1, 2, 3}) {
			t.Errorf("putchard received %v, want [1 2 3]", out)
		}
	}
}

func TestLoopReloadsMutatedVariable(t *testing.T) {
	h := newHarness(t, true)
	src := "extern putchard(c); for i = 0, i < 10 in putchard(i = i + 3)"
	if got := h.mustEval(src); got != 0 {
		t.Errorf("loop value = %v, want 0", got)
	}
	if out := h.out.Bytes(); !bytes.Equal(out, []byte{3, 7, 11}) {
		t.Errorf("putchard received %v, want [3 7 11]", out)
	}
}

// ---------------------------------------------------------------------------
// Scope restoration
// ---------------------------------------------------------------------------

func startFunc(t *testing.T, g *Generator, params ...string) *ir.IRFunc {
	t.Helper()
	fn, err := g.DeclareOrDefine(&ast.Prototype{Name: "scratch", Params: params})
	if err != nil {
		t.Fatal(err)
	}
	g.b.Start(fn)
	for i, p := range params {
		slot := g.b.EntryAlloca(p)
		g.b.Store(ir.Param(i), slot)
		g.vars.Define(p, slot)
	}
	return fn
}

func TestScopeRestoredAfterNestedBlocks(t *testing.T) {
	g := New(ir.NewModule("test"), operators.NewRegistry(), nil)
	startFunc(t, g, "x")
	outer, _ := g.vars.Resolve("x")

	src := "var x = 5, y in (for x = 1, x < 3 in var y = x in (var x = y in x)) + x + y"
	if _, err := g.Lower(mustParseExpr(t, src)); err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if got, ok := g.vars.Resolve("x"); !ok || got != outer {
		t.Errorf("x resolves to %v, want the parameter slot %v", got, outer)
	}
	if _, ok := g.vars.Resolve("y"); ok {
		t.Error("y should be unbound again")
	}
	if g.vars.Depth() != 0 {
		t.Errorf("%d shadows left open", g.vars.Depth())
	}
}

func TestScopeRestoredAfterFailure(t *testing.T) {
	for _, src := range []string{
		"var a = 1 in (var b = 2 in nothere)",
		"for i = 1, i < 3 in nothere",
		"var a = 1, b = nothere in a",
	} {
		g := New(ir.NewModule("test"), operators.NewRegistry(), nil)
		startFunc(t, g)
		_, err := g.Lower(mustParseExpr(t, src))
		if !errors.Is(err, ErrUnboundVariable) {
			t.Errorf("%q: got %v, want ErrUnboundVariable", src, err)
		}
		if names := g.vars.Names(); len(names) != 0 || g.vars.Depth() != 0 {
			t.Errorf("%q: scope not restored: %v (depth %d)", src, names, g.vars.Depth())
		}
	}
}

func TestVarInitializerSeesOuterScope(t *testing.T) {
	h := newHarness(t, false)
	if got := h.mustEval("var a = 10 in (var a = a + 1, b = a in b)"); got != 11 {
		t.Errorf("got %v, want 11", got)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestLoweringErrors(t *testing.T) {
	tests := []struct {
		src  string
		want error
	}{
		{"nothere + 1", ErrUnboundVariable},
		{"nothere = 1", ErrUnboundVariable},
		{"!1", ErrUnknownOperator},
		{"1 = 2", ErrAssignmentTarget},
		{"(a + 1) = 2", ErrAssignmentTarget},
		{"nofunc(1)", ErrUnknownCallee},
		{"def f(a) a; f(1, 2)", ErrArityMismatch},
		{"def f(a) a; def f(a) a", ErrRedefinition},
		{"extern f(a); def f(a b) a", ErrArityMismatch},
	}
	for _, tt := range tests {
		h := newHarness(t, false)
		_, err := h.eval(tt.src)
		if !errors.Is(err, tt.want) {
			t.Errorf("%q: got %v, want %v", tt.src, err, tt.want)
		}
		var cgErr *Error
		if !errors.As(err, &cgErr) || cgErr.Pos.Line == 0 {
			t.Errorf("%q: error %v should carry a position", tt.src, err)
		}
	}
}

func TestMissingOperatorFunctionIsInternal(t *testing.T) {
	g := New(ir.NewModule("test"), operators.NewRegistry(), nil)
	startFunc(t, g)
	expr := &ast.BinaryExpr{Op: '|', Left: &ast.NumberExpr{Value: 1}, Right: &ast.NumberExpr{Value: 2}}
	if _, err := g.Lower(expr); !errors.Is(err, ErrInternal) {
		t.Errorf("got %v, want ErrInternal", err)
	}
}

func TestFailedDefinitionIsDiscarded(t *testing.T) {
	h := newHarness(t, false)
	if _, err := h.eval("def bad(x) x + y"); err == nil {
		t.Fatal("expected an error")
	}
	if h.g.Module().Function("bad") != nil {
		t.Error("bad should not be visible after failing")
	}
	// The name is free for a correct definition.
	if got := h.mustEval("def bad(x) x + 1; bad(1)"); got != 2 {
		t.Errorf("bad(1) = %v, want 2", got)
	}
}

func TestRedefinitionKeepsFirstBody(t *testing.T) {
	h := newHarness(t, true)
	h.mustEval("def f(x) x + 1")
	if _, err := h.eval("def f(x) x + 2"); !errors.Is(err, ErrRedefinition) {
		t.Fatalf("got %v, want ErrRedefinition", err)
	}
	if got := h.mustEval("f(1)"); got != 2 {
		t.Errorf("f(1) = %v, want 2", got)
	}
}

func TestExternThenDefinition(t *testing.T) {
	h := newHarness(t, false)
	h.mustEval("extern f(a b)")
	if got := h.mustEval("def f(x y) x - y; f(5, 3)"); got != 2 {
		t.Errorf("f(5, 3) = %v, want 2", got)
	}
	if names := h.g.Module().Function("f").ParamNames; names[0] != "x" || names[1] != "y" {
		t.Errorf("parameters should take the definition's names, got %v", names)
	}
}

// ---------------------------------------------------------------------------
// Operator install and rollback
// ---------------------------------------------------------------------------

func TestFailedOperatorDefinitionIsRetracted(t *testing.T) {
	h := newHarness(t, false)
	if _, err := h.eval("def binary| 5 (a b) nothere"); err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := h.ops.Lookup('|'); ok {
		t.Error("'|' should not stay registered")
	}
	if h.g.Module().Function("binary|") != nil {
		t.Error("binary| should have been removed")
	}
}

func TestFailedOperatorRestoresPriorPrecedence(t *testing.T) {
	h := newHarness(t, false)
	if _, err := h.eval("def binary+ 50 (a b) nothere"); err == nil {
		t.Fatal("expected an error")
	}
	if prec, ok := h.ops.Lookup('+'); !ok || prec != 20 {
		t.Errorf("'+' precedence = %d, %v; want 20", prec, ok)
	}
}

func TestOperatorUsableInItsOwnBody(t *testing.T) {
	h := newHarness(t, true)

	// Reading the recursive use needs '^' in the parser's registry already.
	parseOps := operators.NewRegistry()
	parseOps.Install('^', 50)
	tokens, _ := lexer.Lex("def binary^ 50 (x n) if n < 1 then 1 else x * (x ^ (n - 1))")
	forms, errs := parser.Parse(tokens, parseOps)
	if len(errs) > 0 || len(forms) != 1 {
		t.Fatalf("parse: %v", errs)
	}
	fn, err := h.g.DefineFunction(forms[0].(*ast.Function))
	if err != nil {
		t.Fatalf("DefineFunction: %v", err)
	}
	if err := h.e.Add(fn); err != nil {
		t.Fatal(err)
	}

	if prec, ok := h.ops.Lookup('^'); !ok || prec != 50 {
		t.Errorf("'^' precedence = %d, %v; want 50", prec, ok)
	}
	if got := h.mustEval("2 ^ 10"); got != 1024 {
		t.Errorf("2 ^ 10 = %v, want 1024", got)
	}
}

func TestAnonymousFunctionIsRemoved(t *testing.T) {
	h := newHarness(t, false)
	h.mustEval("1 + 1")
	if h.g.Module().Function(AnonExprName) != nil {
		t.Error("anonymous function should not outlive its evaluation")
	}
}
