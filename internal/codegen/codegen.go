package codegen

import (
	"github.com/tliron/commonlog"

	"klang/internal/ast"
	"klang/internal/ir"
	"klang/internal/operators"
	"klang/internal/scope"
)

// AnonExprName is the name of the zero-argument function wrapping a bare
// top-level expression.
const AnonExprName = "__anon_expr"

var log = commonlog.GetLogger("klang.codegen")

// Optimizer runs the fixed pass pipeline over a finished function.
type Optimizer interface {
	Run(fn *ir.IRFunc) error
}

// ---------------------------------------------------------------------------
// Generator: turns top-level forms into IR functions
//
// The generator owns the scope table for the function being built and shares
// the operator registry with the parser. Every form either commits fully or
// leaves the module and registry as they were.
// ---------------------------------------------------------------------------

// Generator lowers AST forms into an IR module.
type Generator struct {
	mod  *ir.IRModule
	b    *ir.Builder
	vars *scope.Table[ir.Operand]
	ops  *operators.Registry
	opt  Optimizer
}

// New creates a generator emitting into mod. opt may be nil.
func New(mod *ir.IRModule, ops *operators.Registry, opt Optimizer) *Generator {
	return &Generator{
		mod:  mod,
		b:    ir.NewBuilder(),
		vars: scope.New[ir.Operand](),
		ops:  ops,
		opt:  opt,
	}
}

// Module returns the module being populated.
func (g *Generator) Module() *ir.IRModule { return g.mod }

// Registry returns the operator registry.
func (g *Generator) Registry() *operators.Registry { return g.ops }

// Scope exposes the variable table, mostly for tests.
func (g *Generator) Scope() *scope.Table[ir.Operand] { return g.vars }

// DeclareOrDefine returns the callable named by proto, creating a declaration
// if none exists. An existing body-less declaration with the same arity is
// reused and takes on proto's parameter names.
func (g *Generator) DeclareOrDefine(proto *ast.Prototype) (*ir.IRFunc, error) {
	if err := proto.Validate(); err != nil {
		return nil, &Error{Kind: ArityMismatch, Name: proto.Name, Pos: proto.Pos, Message: err.Error()}
	}
	if fn := g.mod.Function(proto.Name); fn != nil {
		if !fn.Empty() {
			return nil, errorf(Redefinition, proto.Name, proto.Pos, "redefinition of function %q", proto.Name)
		}
		if fn.NumParams() != len(proto.Params) {
			return nil, errorf(ArityMismatch, proto.Name, proto.Pos,
				"redefinition of function %q with different # args: got %d, want %d",
				proto.Name, len(proto.Params), fn.NumParams())
		}
		fn.ParamNames = append(fn.ParamNames[:0], proto.Params...)
		return fn, nil
	}
	fn := ir.NewFunc(proto.Name, proto.Params)
	if err := g.mod.AddFunction(fn); err != nil {
		return nil, &Error{Kind: Internal, Name: proto.Name, Pos: proto.Pos, Err: err}
	}
	return fn, nil
}

// Extern declares a callable without a body.
func (g *Generator) Extern(ext *ast.Extern) (*ir.IRFunc, error) {
	return g.DeclareOrDefine(ext.Proto)
}

// TopLevelExpr wraps a bare expression in the anonymous zero-argument
// function and defines it.
func (g *Generator) TopLevelExpr(e *ast.TopLevelExpr) (*ir.IRFunc, error) {
	return g.DefineFunction(&ast.Function{
		Proto: &ast.Prototype{Name: AnonExprName, Pos: e.Pos},
		Body:  e.Body,
		Pos:   e.Pos,
	})
}

// DefineFunction builds, verifies and optimizes a function definition. A
// binary operator prototype is installed in the registry before the body is
// lowered so the body may use the operator itself. On failure the half-built
// function is removed from the module and the install is retracted.
func (g *Generator) DefineFunction(def *ast.Function) (fn *ir.IRFunc, err error) {
	g.vars.Reset()
	fn, err = g.DeclareOrDefine(def.Proto)
	if err != nil {
		return nil, err
	}

	var tok *operators.Token
	if def.Proto.IsBinaryOp() {
		t := g.ops.Install(def.Proto.OperatorSymbol(), def.Proto.Precedence)
		tok = &t
	}
	defer func() {
		g.vars.Reset()
		if err == nil {
			return
		}
		g.mod.RemoveFunction(def.Proto.Name)
		if tok != nil {
			if rerr := g.ops.Retract(*tok); rerr != nil {
				log.Errorf("retracting operator %q: %v", tok.Symbol, rerr)
			}
		}
		fn = nil
	}()

	g.b.Start(fn)
	for i, name := range fn.ParamNames {
		slot := g.b.EntryAlloca(name)
		g.b.Store(ir.Param(i), slot)
		g.vars.Define(name, slot)
	}

	val, err := g.Lower(def.Body)
	if err != nil {
		return fn, err
	}
	g.b.Ret(val)

	if verr := ir.Verify(fn, g.mod); verr != nil {
		return fn, &Error{Kind: Internal, Name: fn.Name, Pos: def.Pos, Message: "generated function failed verification", Err: verr}
	}
	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("lowered %s:\n%s", fn.Name, fn)
	}
	if g.opt != nil {
		if oerr := g.opt.Run(fn); oerr != nil {
			return fn, &Error{Kind: Internal, Name: fn.Name, Pos: def.Pos, Message: "optimizer failed", Err: oerr}
		}
	}
	log.Infof("defined %s/%d (%d blocks, %d instructions)", fn.Name, fn.NumParams(), len(fn.Blocks), fn.NumInstrs())
	return fn, nil
}

// Forget removes a defined callable, e.g. the anonymous expression once it
// has run.
func (g *Generator) Forget(name string) {
	g.mod.RemoveFunction(name)
}
