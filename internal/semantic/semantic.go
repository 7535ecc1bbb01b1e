package semantic

import (
	"fmt"

	"klang/internal/ast"
)

// ---------------------------------------------------------------------------
// Diagnostic severity
// ---------------------------------------------------------------------------

// Severity indicates whether a diagnostic is an error or a warning.
type Severity int

const (
	Error Severity = iota
	Warning
)

func (s Severity) String() string {
	switch s {
	case Error:
		return "error"
	case Warning:
		return "warning"
	default:
		return "unknown"
	}
}

// ---------------------------------------------------------------------------
// Diagnostic
// ---------------------------------------------------------------------------

// Diagnostic represents a single message produced by the analyser.
type Diagnostic struct {
	Message  string
	Pos      ast.Position
	Severity Severity
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("line %d, col %d: %s: %s", d.Pos.Line, d.Pos.Column, d.Severity, d.Message)
}

// HasErrors returns true if any diagnostic in the slice is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Scope: tracks which locally introduced names are read
// ---------------------------------------------------------------------------

type symbol struct {
	name string
	pos  ast.Position
	used bool
	warn bool // report if never read
}

type Scope struct {
	parent  *Scope
	symbols map[string]*symbol
}

func newScope(parent *Scope) *Scope {
	return &Scope{parent: parent, symbols: make(map[string]*symbol)}
}

func (s *Scope) define(sym *symbol) {
	s.symbols[sym.name] = sym
}

func (s *Scope) lookup(name string) *symbol {
	for sc := s; sc != nil; sc = sc.parent {
		if sym, ok := sc.symbols[name]; ok {
			return sym
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Analyzer
//
// Lowering reports everything that makes a form invalid; the analyzer only
// looks for forms that are valid but probably not what was meant.
// ---------------------------------------------------------------------------

type Analyzer struct {
	diagnostics []Diagnostic
	scope       *Scope
}

// Analyze checks one top-level form and returns its warnings.
func Analyze(form ast.Form) []Diagnostic {
	a := &Analyzer{scope: newScope(nil)}
	switch f := form.(type) {
	case *ast.Function:
		for _, p := range f.Proto.Params {
			a.scope.define(&symbol{name: p, pos: f.Proto.Pos})
		}
		a.analyzeExpr(f.Body)
	case *ast.TopLevelExpr:
		a.analyzeExpr(f.Body)
	}
	return a.diagnostics
}

// ---- helpers ----

func (a *Analyzer) warn(pos ast.Position, msg string) {
	a.diagnostics = append(a.diagnostics, Diagnostic{Message: msg, Pos: pos, Severity: Warning})
}

func (a *Analyzer) pushScope() {
	a.scope = newScope(a.scope)
}

func (a *Analyzer) popScope() {
	for _, sym := range a.scope.symbols {
		if sym.warn && !sym.used {
			a.warn(sym.pos, fmt.Sprintf("variable %q is never read", sym.name))
		}
	}
	a.scope = a.scope.parent
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (a *Analyzer) analyzeExpr(expr ast.Expr) {
	switch e := expr.(type) {
	case *ast.VariableExpr:
		if sym := a.scope.lookup(e.Name); sym != nil {
			sym.used = true
		}
	case *ast.UnaryExpr:
		a.analyzeExpr(e.Operand)
	case *ast.BinaryExpr:
		// An assignment target is written, not read.
		if _, isVar := e.Left.(*ast.VariableExpr); !isVar || e.Op != '=' {
			a.analyzeExpr(e.Left)
		}
		a.analyzeExpr(e.Right)
	case *ast.CallExpr:
		for _, arg := range e.Args {
			a.analyzeExpr(arg)
		}
	case *ast.IfExpr:
		a.analyzeExpr(e.Cond)
		a.analyzeExpr(e.Then)
		a.analyzeExpr(e.Else)
	case *ast.ForExpr:
		a.analyzeForExpr(e)
	case *ast.VarExpr:
		a.analyzeVarExpr(e)
	}
}

func (a *Analyzer) analyzeForExpr(e *ast.ForExpr) {
	a.analyzeExpr(e.Start)
	if n, ok := e.Step.(*ast.NumberExpr); ok && n.Value == 0 {
		a.warn(n.Pos, fmt.Sprintf("loop step for %q is 0; the loop variable never advances", e.Var))
	}

	a.pushScope()
	a.scope.define(&symbol{name: e.Var, pos: e.Pos})
	a.analyzeExpr(e.End)
	if e.Step != nil {
		a.analyzeExpr(e.Step)
	}
	a.analyzeExpr(e.Body)
	a.popScope()
}

func (a *Analyzer) analyzeVarExpr(e *ast.VarExpr) {
	// Initializers see the enclosing scope only.
	for _, b := range e.Bindings {
		if b.Init != nil {
			a.analyzeExpr(b.Init)
		}
	}
	a.pushScope()
	for _, b := range e.Bindings {
		a.scope.define(&symbol{name: b.Name, pos: b.Pos, warn: true})
	}
	a.analyzeExpr(e.Body)
	a.popScope()
}
