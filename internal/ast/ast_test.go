package ast

import (
	"strings"
	"testing"
)

func TestOperatorFuncName(t *testing.T) {
	if got := OperatorFuncName(BinaryOperator, '|'); got != "binary|" {
		t.Errorf("binary: got %q", got)
	}
	if got := OperatorFuncName(UnaryOperator, '!'); got != "unary!" {
		t.Errorf("unary: got %q", got)
	}
}

func TestPrototypeOperatorRole(t *testing.T) {
	bin := &Prototype{Name: "binary|", Params: []string{"a", "b"}, Kind: BinaryOperator, Precedence: 5}
	if !bin.IsBinaryOp() || bin.IsUnaryOp() {
		t.Fatal("expected binary operator prototype")
	}
	if bin.OperatorSymbol() != '|' {
		t.Errorf("symbol: got %q", bin.OperatorSymbol())
	}
	if err := bin.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := &Prototype{Name: "binary|", Params: []string{"a"}, Kind: BinaryOperator}
	if bad.IsBinaryOp() {
		t.Error("one-parameter prototype must not count as a binary operator")
	}
	if err := bad.Validate(); err == nil {
		t.Error("expected arity error for binary operator with one parameter")
	}

	plain := &Prototype{Name: "foo", Params: []string{"x"}}
	if plain.OperatorSymbol() != 0 {
		t.Error("plain function has no operator symbol")
	}
}

func TestExprString(t *testing.T) {
	e := &VarExpr{
		Bindings: []VarBinding{{Name: "a", Init: &NumberExpr{Value: 1}}, {Name: "b"}},
		Body: &ForExpr{
			Var:   "i",
			Start: &NumberExpr{Value: 1},
			End:   &BinaryExpr{Op: '<', Left: &VariableExpr{Name: "i"}, Right: &NumberExpr{Value: 4}},
			Body:  &CallExpr{Callee: "putchard", Args: []Expr{&VariableExpr{Name: "i"}}},
		},
	}
	want := "(var a = 1, b in (for i = 1, (i < 4) in putchard(i)))"
	if got := ExprString(e); got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestDebugString(t *testing.T) {
	fn := &Function{
		Proto: &Prototype{Name: "binary:", Params: []string{"x", "y"}, Kind: BinaryOperator, Precedence: 1},
		Body: &IfExpr{
			Cond: &VariableExpr{Name: "x"},
			Then: &VariableExpr{Name: "y"},
			Else: &UnaryExpr{Op: '-', Operand: &VariableExpr{Name: "y"}},
		},
	}
	out := DebugString(fn)
	for _, want := range []string{"Def binary: 1(x y)", "If x", "    y", "(-y)"} {
		if !strings.Contains(out, want) {
			t.Errorf("debug output missing %q:\n%s", want, out)
		}
	}
}
