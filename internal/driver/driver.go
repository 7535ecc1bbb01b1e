// Package driver runs klang source one top-level form at a time.
//
// A Session owns everything that lives across forms: the IR module, the
// operator registry shared by parser and code generator, the optimizer
// pipeline and the execution engine. A failing form is reported in its
// Result and never ends the session.
package driver

import (
	"fmt"
	"io"
	"strings"

	"github.com/tliron/commonlog"

	"klang/internal/ast"
	"klang/internal/codegen"
	"klang/internal/config"
	"klang/internal/image"
	"klang/internal/ir"
	"klang/internal/jit"
	"klang/internal/lexer"
	"klang/internal/operators"
	"klang/internal/opt"
	"klang/internal/parser"
	"klang/internal/semantic"
)

var log = commonlog.GetLogger("klang.driver")

// ModuleName names the module a session compiles into.
const ModuleName = "klang"

// Kind classifies a Result.
type Kind int

const (
	// KindError is a form that could not be lexed or parsed.
	KindError Kind = iota
	KindDefinition
	KindExtern
	KindExpression
)

var kindNames = [...]string{"error", "definition", "extern", "expression"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Result reports what happened to one top-level form.
type Result struct {
	Kind     Kind
	Name     string  // callable defined or declared
	Value    float64 // value of an expression
	Err      error
	Warnings []semantic.Diagnostic
}

// Session compiles and runs forms against one module.
type Session struct {
	cfg      *config.Config
	mod      *ir.IRModule
	ops      *operators.Registry
	gen      *codegen.Generator
	engine   *jit.Engine
	pipeline *opt.Pipeline
}

// New creates a session configured by cfg. Program output from the builtins
// goes to stdout.
func New(cfg *config.Config, stdout io.Writer) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Session{
		cfg: cfg,
		mod: ir.NewModule(ModuleName),
		ops: operators.NewRegistry(),
		engine: jit.New(jit.Options{
			Stdout:       stdout,
			MaxCallDepth: cfg.Engine.MaxCallDepth,
			MaxSteps:     cfg.Engine.MaxSteps,
		}),
	}

	var optimizer codegen.Optimizer
	if cfg.Optimizer.Enabled {
		p, err := opt.New(cfg.Optimizer.Passes, s.mod)
		if err != nil {
			return nil, fmt.Errorf("optimizer: %w", err)
		}
		s.pipeline = p
		optimizer = p
		log.Debugf("optimizer pipeline: %s", p)
	}
	s.gen = codegen.New(s.mod, s.ops, optimizer)

	for _, name := range s.engine.Builtins() {
		arity, _ := s.engine.NativeArity(name)
		params := make([]string, arity)
		for i := range params {
			params[i] = fmt.Sprintf("x%d", i)
		}
		if _, err := s.gen.Extern(&ast.Extern{Proto: &ast.Prototype{Name: name, Params: params}}); err != nil {
			return nil, fmt.Errorf("declaring builtin %s: %w", name, err)
		}
	}
	return s, nil
}

// Module returns the session's module.
func (s *Session) Module() *ir.IRModule { return s.mod }

// Operators lists the operator table.
func (s *Session) Operators() []operators.Entry { return s.ops.Symbols() }

// Pipeline returns the optimizer, or nil when it is disabled.
func (s *Session) Pipeline() *opt.Pipeline { return s.pipeline }

// Eval lexes src and processes its forms in order. Forms are parsed one at a
// time, so an operator defined by one form is known to the next.
func (s *Session) Eval(src string) []Result {
	tokens, lexErrs := lexer.Lex(src)
	if len(lexErrs) > 0 {
		results := make([]Result, len(lexErrs))
		for i, e := range lexErrs {
			results[i] = Result{Kind: KindError, Err: e}
		}
		return results
	}

	var results []Result
	p := parser.New(tokens, s.ops)
	for !p.Done() {
		form, err := p.Next()
		if err != nil {
			results = append(results, Result{Kind: KindError, Err: err})
			continue
		}
		results = append(results, s.EvalForm(form))
	}
	return results
}

// EvalForm processes one parsed form.
func (s *Session) EvalForm(form ast.Form) Result {
	switch f := form.(type) {
	case *ast.Function:
		r := Result{Kind: KindDefinition, Name: f.Proto.Name, Warnings: semantic.Analyze(f)}
		fn, err := s.gen.DefineFunction(f)
		if err != nil {
			r.Err = err
			return r
		}
		if err := s.engine.Add(fn); err != nil {
			s.gen.Forget(fn.Name)
			r.Err = err
			return r
		}
		log.Infof("Read function definition: %s", fn.Name)
		return r

	case *ast.Extern:
		r := Result{Kind: KindExtern, Name: f.Proto.Name}
		if _, err := s.gen.Extern(f); err != nil {
			r.Err = err
			return r
		}
		log.Infof("Read extern: %s", f.Proto.Name)
		return r

	case *ast.TopLevelExpr:
		r := Result{Kind: KindExpression, Warnings: semantic.Analyze(f)}
		fn, err := s.gen.TopLevelExpr(f)
		if err != nil {
			r.Err = err
			return r
		}
		defer func() {
			s.engine.Remove(fn.Name)
			s.gen.Forget(fn.Name)
		}()
		if err := s.engine.Add(fn); err != nil {
			r.Err = err
			return r
		}
		r.Value, r.Err = s.engine.Call(fn.Name)
		if r.Err == nil {
			log.Infof("Evaluated to %f", r.Value)
		}
		return r
	}
	return Result{Kind: KindError, Err: fmt.Errorf("unexpected form %T", form)}
}

// Incomplete reports whether src ends in the middle of a form, so an
// interactive reader should ask for more input.
func (s *Session) Incomplete(src string) bool {
	if strings.TrimSpace(src) == "" {
		return false
	}
	tokens, lexErrs := lexer.Lex(src)
	if len(lexErrs) > 0 {
		return false
	}
	_, errs := parser.Parse(tokens, s.ops)
	for _, e := range errs {
		if e.Incomplete {
			return true
		}
	}
	return false
}

// Image captures the module and the user operators.
func (s *Session) Image() *image.Image {
	var ops []image.Operator
	for _, e := range s.ops.Symbols() {
		if !e.Builtin {
			ops = append(ops, image.Operator{Symbol: e.Symbol, Precedence: e.Precedence})
		}
	}
	return image.New(s.mod, ops)
}

// Load adds the functions and operators of img to the session. An image
// definition may fill in an existing declaration; any other clash with an
// existing callable aborts the load before anything is changed.
func (s *Session) Load(img *image.Image) error {
	for _, fn := range img.Module.Functions {
		existing := s.mod.Function(fn.Name)
		if existing == nil {
			continue
		}
		if existing.NumParams() != fn.NumParams() {
			return fmt.Errorf("load %s: %w", img.Header.Name, &codegen.Error{
				Kind:    codegen.ArityMismatch,
				Name:    fn.Name,
				Message: fmt.Sprintf("redefinition of function %q with different # args", fn.Name),
			})
		}
		if !existing.Empty() && !fn.Empty() {
			return fmt.Errorf("load %s: %w", img.Header.Name, &codegen.Error{
				Kind:    codegen.Redefinition,
				Name:    fn.Name,
				Message: fmt.Sprintf("redefinition of function %q", fn.Name),
			})
		}
	}

	for _, op := range img.Operators {
		s.ops.Install(op.Symbol, op.Precedence)
	}
	for _, fn := range img.Module.Functions {
		if s.mod.Function(fn.Name) != nil {
			if fn.Empty() {
				continue
			}
			s.mod.RemoveFunction(fn.Name)
		}
		if err := s.mod.AddFunction(fn); err != nil {
			return err
		}
		if fn.Empty() {
			continue
		}
		if err := s.engine.Add(fn); err != nil {
			return err
		}
	}
	log.Infof("loaded image %s (%s, %d functions)", img.Header.Name, img.Header.ID, len(img.Module.Functions))
	return nil
}
