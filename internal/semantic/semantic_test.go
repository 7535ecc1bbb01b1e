package semantic

import (
	"strings"
	"testing"

	"klang/internal/ast"
	"klang/internal/lexer"
	"klang/internal/operators"
	"klang/internal/parser"
)

func analyzeSource(t *testing.T, src string) []Diagnostic {
	t.Helper()
	tokens, lexErrs := lexer.Lex(src)
	if len(lexErrs) > 0 {
		t.Fatalf("lex errors: %v", lexErrs)
	}
	forms, errs := parser.Parse(tokens, operators.NewRegistry())
	if len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	var diags []Diagnostic
	for _, f := range forms {
		diags = append(diags, Analyze(f)...)
	}
	return diags
}

func TestCleanSourceHasNoDiagnostics(t *testing.T) {
	for _, src := range []string{
		"def foo(a b) a*a + b*b",
		"var a = 1 in (var a = a in a)",
		"for i = 1, i < 4, 1.0 in i",
		"def f(x) var y in (y = x) + y",
	} {
		if diags := analyzeSource(t, src); len(diags) != 0 {
			t.Errorf("%q: unexpected diagnostics %v", src, diags)
		}
	}
}

func TestZeroStepWarning(t *testing.T) {
	diags := analyzeSource(t, "for i = 1, i < 4, 0 in i")
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d: %v", len(diags), diags)
	}
	if diags[0].Severity != Warning || !strings.Contains(diags[0].Message, "never advances") {
		t.Errorf("got %v", diags[0])
	}
	if HasErrors(diags) {
		t.Error("a zero step is a warning, not an error")
	}
}

func TestUnusedVarWarning(t *testing.T) {
	diags := analyzeSource(t, "var a = 1, b = 2 in a")
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d: %v", len(diags), diags)
	}
	if !strings.Contains(diags[0].Message, `"b"`) {
		t.Errorf("got %v", diags[0])
	}
	if diags[0].Pos.Column != 12 {
		t.Errorf("position: got %s, want column 12", diags[0].Pos)
	}
}

func TestWriteOnlyVarIsUnused(t *testing.T) {
	diags := analyzeSource(t, "var a in a = 3")
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d: %v", len(diags), diags)
	}
}

func TestInnerShadowDoesNotHideOuterUse(t *testing.T) {
	// The initializer reads the outer a; the inner a is read by the body.
	if diags := analyzeSource(t, "var a = 1 in (var a = a + 1 in a)"); len(diags) != 0 {
		t.Errorf("unexpected diagnostics %v", diags)
	}
}

func TestExternHasNoDiagnostics(t *testing.T) {
	if diags := Analyze(&ast.Extern{Proto: &ast.Prototype{Name: "sin", Params: []string{"x"}}}); len(diags) != 0 {
		t.Errorf("unexpected diagnostics %v", diags)
	}
}
