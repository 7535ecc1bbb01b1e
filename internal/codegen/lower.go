package codegen

import (
	"klang/internal/ast"
	"klang/internal/ir"
	"klang/internal/operators"
	"klang/internal/scope"
)

type scopeShadow = scope.Shadow[ir.Operand]

// ---------------------------------------------------------------------------
// Expression lowering
//
// Every variable lives in an entry-block stack slot; loads and stores are
// emitted as written and left for mem2reg to clean up. The first failure in
// any sub-expression stops lowering of the enclosing construct.
// ---------------------------------------------------------------------------

// Lower emits IR for expr at the builder's insertion point and returns the
// operand holding its value.
func (g *Generator) Lower(expr ast.Expr) (ir.Operand, error) {
	switch e := expr.(type) {
	case *ast.NumberExpr:
		return ir.Const(e.Value), nil
	case *ast.VariableExpr:
		return g.lowerVariable(e)
	case *ast.UnaryExpr:
		return g.lowerUnary(e)
	case *ast.BinaryExpr:
		return g.lowerBinary(e)
	case *ast.CallExpr:
		return g.lowerCall(e)
	case *ast.IfExpr:
		return g.lowerIf(e)
	case *ast.ForExpr:
		return g.lowerFor(e)
	case *ast.VarExpr:
		return g.lowerVar(e)
	case nil:
		return ir.None(), &Error{Kind: Internal, Message: "nil expression"}
	default:
		return ir.None(), errorf(Internal, "", expr.GetPos(), "unsupported expression %T", expr)
	}
}

func (g *Generator) lowerVariable(e *ast.VariableExpr) (ir.Operand, error) {
	slot, ok := g.vars.Resolve(e.Name)
	if !ok {
		return ir.None(), errorf(UnboundVariable, e.Name, e.Pos, "unknown variable name %q", e.Name)
	}
	return g.b.Load(slot, e.Name), nil
}

func (g *Generator) lowerUnary(e *ast.UnaryExpr) (ir.Operand, error) {
	operand, err := g.Lower(e.Operand)
	if err != nil {
		return ir.None(), err
	}
	name := ast.OperatorFuncName(ast.UnaryOperator, e.Op)
	if g.mod.Function(name) == nil {
		return ir.None(), errorf(UnknownOperator, name, e.Pos, "unknown unary operator %q", string(e.Op))
	}
	return g.b.Call(name, []ir.Operand{operand}, "unop"), nil
}

func (g *Generator) lowerBinary(e *ast.BinaryExpr) (ir.Operand, error) {
	op := operators.Resolve(e.Op)
	if op.Kind == operators.OpAssign {
		return g.lowerAssign(e)
	}

	l, err := g.Lower(e.Left)
	if err != nil {
		return ir.None(), err
	}
	r, err := g.Lower(e.Right)
	if err != nil {
		return ir.None(), err
	}

	switch op.Kind {
	case operators.OpAdd:
		return g.b.FAdd(l, r, "addtmp"), nil
	case operators.OpSub:
		return g.b.FSub(l, r, "subtmp"), nil
	case operators.OpMul:
		return g.b.FMul(l, r, "multmp"), nil
	case operators.OpLess:
		cmp := g.b.FCmpULT(l, r, "cmptmp")
		return g.b.UIToFP(cmp, "booltmp"), nil
	}

	// The registry only advertises symbols whose "binary" function exists.
	name := op.FuncName()
	if g.mod.Function(name) == nil {
		return ir.None(), errorf(Internal, name, e.Pos, "binary operator %q has no implementation", string(e.Op))
	}
	return g.b.Call(name, []ir.Operand{l, r}, "binop"), nil
}

// lowerAssign handles '='. The left side is a destination, never evaluated.
func (g *Generator) lowerAssign(e *ast.BinaryExpr) (ir.Operand, error) {
	dst, ok := e.Left.(*ast.VariableExpr)
	if !ok {
		return ir.None(), errorf(AssignmentTarget, "", e.Pos, "destination of '=' must be a variable")
	}
	val, err := g.Lower(e.Right)
	if err != nil {
		return ir.None(), err
	}
	slot, ok := g.vars.Resolve(dst.Name)
	if !ok {
		return ir.None(), errorf(UnboundVariable, dst.Name, dst.Pos, "unknown variable name %q", dst.Name)
	}
	g.b.Store(val, slot)
	return val, nil
}

func (g *Generator) lowerCall(e *ast.CallExpr) (ir.Operand, error) {
	callee := g.mod.Function(e.Callee)
	if callee == nil {
		return ir.None(), errorf(UnknownCallee, e.Callee, e.Pos, "unknown function referenced: %q", e.Callee)
	}
	if callee.NumParams() != len(e.Args) {
		return ir.None(), errorf(ArityMismatch, e.Callee, e.Pos,
			"incorrect # arguments passed to %q: got %d, want %d", e.Callee, len(e.Args), callee.NumParams())
	}
	args := make([]ir.Operand, 0, len(e.Args))
	for _, a := range e.Args {
		v, err := g.Lower(a)
		if err != nil {
			return ir.None(), err
		}
		args = append(args, v)
	}
	return g.b.Call(e.Callee, args, "calltmp"), nil
}

// lowerIf emits then/else/ifcont blocks. The phi is keyed by the block each
// branch finishes in, which differs from its first block when the branch
// itself contains control flow.
func (g *Generator) lowerIf(e *ast.IfExpr) (ir.Operand, error) {
	cond, err := g.Lower(e.Cond)
	if err != nil {
		return ir.None(), err
	}
	test := g.b.FCmpONE(cond, ir.Const(0), "ifcond")

	thenBlk := g.b.NewBlock("then")
	elseBlk := g.b.NewBlock("else")
	merge := g.b.NewBlock("ifcont")
	g.b.CondBr(test, thenBlk, elseBlk)

	g.b.SetInsertPoint(thenBlk)
	thenVal, err := g.Lower(e.Then)
	if err != nil {
		return ir.None(), err
	}
	g.b.Br(merge)
	thenExit := g.b.InsertBlock()

	g.b.SetInsertPoint(elseBlk)
	elseVal, err := g.Lower(e.Else)
	if err != nil {
		return ir.None(), err
	}
	g.b.Br(merge)
	elseExit := g.b.InsertBlock()

	g.b.SetInsertPoint(merge)
	return g.b.Phi("iftmp",
		ir.Incoming{Value: thenVal, Block: thenExit},
		ir.Incoming{Value: elseVal, Block: elseExit},
	), nil
}

// lowerFor emits
//
//	entry:     slot = alloca; store start, slot; br loop
//	loop:      body; step; cur = load slot; store cur+step, slot
//	           end; condbr end != 0, loop, afterloop
//	afterloop: ...
//
// The end condition sees the stepped value, so "for i = 1, i < 4" runs the
// body for i = 1, 2 and 3.
func (g *Generator) lowerFor(e *ast.ForExpr) (ir.Operand, error) {
	slot := g.b.EntryAlloca(e.Var)
	start, err := g.Lower(e.Start)
	if err != nil {
		return ir.None(), err
	}
	g.b.Store(start, slot)

	loop := g.b.NewBlock("loop")
	g.b.Br(loop)
	g.b.SetInsertPoint(loop)

	shadow := g.vars.Bind(e.Var, slot)
	val, err := g.lowerLoopTail(e, slot, loop)
	if rerr := g.vars.Restore(shadow); rerr != nil && err == nil {
		err = &Error{Kind: Internal, Name: e.Var, Pos: e.Pos, Err: rerr}
	}
	return val, err
}

func (g *Generator) lowerLoopTail(e *ast.ForExpr, slot ir.Operand, loop *ir.IRBlock) (ir.Operand, error) {
	if _, err := g.Lower(e.Body); err != nil {
		return ir.None(), err
	}

	step := ir.Const(1)
	if e.Step != nil {
		var err error
		if step, err = g.Lower(e.Step); err != nil {
			return ir.None(), err
		}
	}
	cur := g.b.Load(slot, e.Var)
	next := g.b.FAdd(cur, step, "nextvar")
	g.b.Store(next, slot)

	end, err := g.Lower(e.End)
	if err != nil {
		return ir.None(), err
	}
	test := g.b.FCmpONE(end, ir.Const(0), "loopcond")

	after := g.b.NewBlock("afterloop")
	g.b.CondBr(test, loop, after)
	g.b.SetInsertPoint(after)
	return ir.Const(0), nil
}

// lowerVar binds each name after its initializer has been lowered in the
// enclosing scope, then restores the bindings once the body is done.
func (g *Generator) lowerVar(e *ast.VarExpr) (ir.Operand, error) {
	var shadows []scopeShadow
	restore := func() error {
		var first error
		for i := len(shadows) - 1; i >= 0; i-- {
			if err := g.vars.Restore(shadows[i]); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	for _, bind := range e.Bindings {
		init := ir.Const(0)
		if bind.Init != nil {
			v, err := g.Lower(bind.Init)
			if err != nil {
				restore()
				return ir.None(), err
			}
			init = v
		}
		slot := g.b.EntryAlloca(bind.Name)
		g.b.Store(init, slot)
		shadows = append(shadows, g.vars.Bind(bind.Name, slot))
	}

	val, err := g.Lower(e.Body)
	if rerr := restore(); rerr != nil && err == nil {
		err = &Error{Kind: Internal, Pos: e.Pos, Err: rerr}
	}
	if err != nil {
		return ir.None(), err
	}
	return val, nil
}
