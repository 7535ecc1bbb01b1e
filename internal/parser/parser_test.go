package parser_test

import (
	"os"
	"strings"
	"testing"

	"klang/internal/ast"
	"klang/internal/lexer"
	"klang/internal/operators"
	"klang/internal/parser"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func parseInput(t *testing.T, input string) []ast.Form {
	t.Helper()
	tokens, lexErrs := lexer.Lex(input)
	if len(lexErrs) > 0 {
		t.Fatalf("lex errors: %v", lexErrs)
	}
	forms, parseErrs := parser.Parse(tokens, operators.NewRegistry())
	if len(parseErrs) > 0 {
		for _, e := range parseErrs {
			t.Errorf("parse error: %s", e.Error())
		}
		t.FailNow()
	}
	return forms
}

func parseExpr(t *testing.T, input string) ast.Expr {
	t.Helper()
	forms := parseInput(t, input)
	if len(forms) != 1 {
		t.Fatalf("expected 1 form, got %d", len(forms))
	}
	top, ok := forms[0].(*ast.TopLevelExpr)
	if !ok {
		t.Fatalf("expected *ast.TopLevelExpr, got %T", forms[0])
	}
	return top.Body
}

func parseInputExpectErrors(t *testing.T, input string) ([]ast.Form, []parser.ParseError) {
	t.Helper()
	tokens, _ := lexer.Lex(input)
	return parser.Parse(tokens, operators.NewRegistry())
}

// ---------------------------------------------------------------------------
// Top-level forms
// ---------------------------------------------------------------------------

func TestParseDefinition(t *testing.T) {
	forms := parseInput(t, "def foo(a b) a*a + b*b")
	fn, ok := forms[0].(*ast.Function)
	if !ok {
		t.Fatalf("expected *ast.Function, got %T", forms[0])
	}
	if fn.Proto.Name != "foo" {
		t.Errorf("name: got %q, want %q", fn.Proto.Name, "foo")
	}
	if strings.Join(fn.Proto.Params, ",") != "a,b" {
		t.Errorf("params: got %v", fn.Proto.Params)
	}
	if got := ast.ExprString(fn.Body); got != "((a * a) + (b * b))" {
		t.Errorf("body: got %s", got)
	}
}

func TestParseExtern(t *testing.T) {
	forms := parseInput(t, "extern sin(x); extern rand()")
	if len(forms) != 2 {
		t.Fatalf("expected 2 forms, got %d", len(forms))
	}
	ext, ok := forms[1].(*ast.Extern)
	if !ok {
		t.Fatalf("expected *ast.Extern, got %T", forms[1])
	}
	if ext.Proto.Name != "rand" || len(ext.Proto.Params) != 0 {
		t.Errorf("got %s", ast.ProtoString(ext.Proto))
	}
}

func TestParseOperatorPrototypes(t *testing.T) {
	forms := parseInput(t, "def unary!(v) 0; def binary| 5 (a b) 0; def binary% (a b) 0")

	un := forms[0].(*ast.Function).Proto
	if un.Name != "unary!" || !un.IsUnaryOp() {
		t.Errorf("unary: got %s kind %s", un.Name, un.Kind)
	}
	bin := forms[1].(*ast.Function).Proto
	if bin.Name != "binary|" || !bin.IsBinaryOp() || bin.Precedence != 5 {
		t.Errorf("binary: got %s prec %d", bin.Name, bin.Precedence)
	}
	if bin.OperatorSymbol() != '|' {
		t.Errorf("symbol: got %q", bin.OperatorSymbol())
	}
	def := forms[2].(*ast.Function).Proto
	if def.Precedence != ast.DefaultBinaryPrecedence {
		t.Errorf("default precedence: got %d, want %d", def.Precedence, ast.DefaultBinaryPrecedence)
	}
}

func TestParseOperatorPrototypeErrors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"def binary| 0 (a b) a", "invalid precedence"},
		{"def binary| 101 (a b) a", "invalid precedence"},
		{"def binary| (a) a", "invalid number of operands"},
		{"def unary- (a b) a", "invalid number of operands"},
		{"def binary( (a b) a", "expected binary operator symbol"},
		{"def 3(a) a", "expected function name"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, errs := parseInputExpectErrors(t, tt.input)
			if len(errs) == 0 {
				t.Fatal("expected a parse error")
			}
			if !strings.Contains(errs[0].Message, tt.want) {
				t.Errorf("got %q, want it to mention %q", errs[0].Message, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func TestParseExpressions(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"1 * 2 + 3", "((1 * 2) + 3)"},
		{"a - b - c", "((a - b) - c)"},
		{"a < b + 1", "(a < (b + 1))"},
		{"x = y + 1", "(x = (y + 1))"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"foo(1, x, bar())", "foo(1, x, bar())"},
		{"if x < 3 then 1 else 2", "(if (x < 3) then 1 else 2)"},
		{"for i = 1, i < 4 in putchard(i)", "(for i = 1, (i < 4) in putchard(i))"},
		{"for i = 1, i < 4, 2 in i", "(for i = 1, (i < 4), 2 in i)"},
		{"var a = 1, b in a + b", "(var a = 1, b in (a + b))"},
		{"!x", "(!x)"},
		{"-(1 + 2)", "(-(1 + 2))"},
		{"!!x", "(!(!x))"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ast.ExprString(parseExpr(t, tt.input)); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseForWithoutStep(t *testing.T) {
	e := parseExpr(t, "for i = 1, i < 4 in i")
	loop, ok := e.(*ast.ForExpr)
	if !ok {
		t.Fatalf("expected *ast.ForExpr, got %T", e)
	}
	if loop.Step != nil {
		t.Errorf("expected nil step, got %s", ast.ExprString(loop.Step))
	}
}

func TestParseVarDefaults(t *testing.T) {
	e := parseExpr(t, "var a, b = 2 in b")
	v, ok := e.(*ast.VarExpr)
	if !ok {
		t.Fatalf("expected *ast.VarExpr, got %T", e)
	}
	if len(v.Bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(v.Bindings))
	}
	if v.Bindings[0].Init != nil {
		t.Error("a should have no initializer")
	}
	if v.Bindings[1].Init == nil {
		t.Error("b should have an initializer")
	}
}

func TestPositions(t *testing.T) {
	e := parseExpr(t, "\n  a +\n b")
	bin := e.(*ast.BinaryExpr)
	if bin.Pos.Line != 2 || bin.Pos.Column != 5 {
		t.Errorf("operator position: got %s", bin.Pos)
	}
	if pos := bin.Right.GetPos(); pos.Line != 3 || pos.Column != 2 {
		t.Errorf("rhs position: got %s", pos)
	}
}

// ---------------------------------------------------------------------------
// Operator registry interaction
// ---------------------------------------------------------------------------

func TestUnknownOperatorEndsExpression(t *testing.T) {
	// '|' is not registered, so "a" ends and "|b" starts a new form as a
	// unary application.
	forms := parseInput(t, "a | b")
	if len(forms) != 2 {
		t.Fatalf("expected 2 forms, got %d", len(forms))
	}
	un, ok := forms[1].(*ast.TopLevelExpr).Body.(*ast.UnaryExpr)
	if !ok || un.Op != '|' {
		t.Errorf("second form: got %s", ast.DebugString(forms[1]))
	}
}

func TestInstalledOperatorIsParsed(t *testing.T) {
	ops := operators.NewRegistry()
	tokens, _ := lexer.Lex("def binary| 5 (a b) a; 1 < 2 | 3 < 4")
	p := parser.New(tokens, ops)

	form, err := p.Next()
	if err != nil {
		t.Fatalf("definition: %v", err)
	}
	proto := form.(*ast.Function).Proto
	ops.Install(proto.OperatorSymbol(), proto.Precedence)

	if p.Done() {
		t.Fatal("expected a second form")
	}
	form, err = p.Next()
	if err != nil {
		t.Fatalf("expression: %v", err)
	}
	got := ast.ExprString(form.(*ast.TopLevelExpr).Body)
	if got != "((1 < 2) | (3 < 4))" {
		t.Errorf("got %s", got)
	}
	if !p.Done() {
		t.Error("expected end of input")
	}
}

// ---------------------------------------------------------------------------
// Error recovery
// ---------------------------------------------------------------------------

func TestRecoveryContinuesWithNextForm(t *testing.T) {
	forms, errs := parseInputExpectErrors(t, "def (x) x; def ok(x) x; 1 + ; 42")
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
	if len(forms) != 2 {
		t.Fatalf("expected 2 good forms, got %d", len(forms))
	}
	if fn, ok := forms[0].(*ast.Function); !ok || fn.Proto.Name != "ok" {
		t.Errorf("first good form: got %s", ast.DebugString(forms[0]))
	}
}

func TestIncompleteInput(t *testing.T) {
	for _, input := range []string{"def foo(a b", "if x then 1", "var a = 1 in", "(1 + 2"} {
		_, errs := parseInputExpectErrors(t, input)
		if len(errs) == 0 {
			t.Errorf("%q: expected an error", input)
			continue
		}
		if !errs[0].Incomplete {
			t.Errorf("%q: error %q should be marked incomplete", input, errs[0])
		}
	}
	_, errs := parseInputExpectErrors(t, "foo(1 2)")
	if len(errs) == 0 || errs[0].Incomplete {
		t.Errorf("foo(1 2): expected a complete-input error, got %v", errs)
	}
}

func TestExampleMandelFile(t *testing.T) {
	data, err := os.ReadFile("../../examples/mandel.k")
	if err != nil {
		t.Fatalf("read example: %v", err)
	}
	tokens, lexErrs := lexer.Lex(string(data))
	if len(lexErrs) > 0 {
		t.Fatalf("lex errors: %v", lexErrs)
	}

	ops := operators.NewRegistry()
	p := parser.New(tokens, ops)
	count := 0
	for !p.Done() {
		form, err := p.Next()
		if err != nil {
			t.Fatalf("form %d: %v", count, err)
		}
		if fn, ok := form.(*ast.Function); ok && fn.Proto.IsBinaryOp() {
			ops.Install(fn.Proto.OperatorSymbol(), fn.Proto.Precedence)
		}
		count++
	}
	if count < 8 {
		t.Errorf("expected at least 8 forms, got %d", count)
	}
}
