//go:build llvm

package llvmjit

import (
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
	"tinygo.org/x/go-llvm"

	"klang/internal/ir"
	"klang/internal/jit"
)

var log = commonlog.GetLogger("klang.llvmjit")

// passes maps pipeline names to LLVM's legacy function passes.
var passes = map[string]func(llvm.PassManager){
	"basic-aa":    llvm.PassManager.AddBasicAliasAnalysisPass,
	"mem2reg":     llvm.PassManager.AddPromoteMemoryToRegisterPass,
	"instcombine": llvm.PassManager.AddInstructionCombiningPass,
	"reassociate": llvm.PassManager.AddReassociatePass,
	"gvn":         llvm.PassManager.AddGVNPass,
	"simplifycfg": llvm.PassManager.AddCFGSimplificationPass,
}

var initOnce sync.Once
var initErr error

func initTarget() error {
	initOnce.Do(func() {
		llvm.LinkInMCJIT()
		if err := llvm.InitializeNativeTarget(); err != nil {
			initErr = err
			return
		}
		initErr = llvm.InitializeNativeAsmPrinter()
	})
	return initErr
}

// Module is an LLVM translation of an ir.IRModule.
type Module struct {
	ctx    llvm.Context
	mod    llvm.Module
	b      llvm.Builder
	double llvm.Type
	types  map[string]llvm.Type
	ee     llvm.ExecutionEngine
	jitted bool
	calls  int
}

// Translate builds an LLVM module holding every callable of src.
func Translate(src *ir.IRModule) (*Module, error) {
	ctx := llvm.NewContext()
	m := &Module{
		ctx:    ctx,
		mod:    ctx.NewModule(src.Name),
		b:      ctx.NewBuilder(),
		double: ctx.DoubleType(),
		types:  make(map[string]llvm.Type),
	}

	// Declare everything first so calls may refer forward.
	for _, fn := range src.Functions {
		params := make([]llvm.Type, fn.NumParams())
		for i := range params {
			params[i] = m.double
		}
		ft := llvm.FunctionType(m.double, params, false)
		f := llvm.AddFunction(m.mod, fn.Name, ft)
		for i, p := range f.Params() {
			p.SetName(fn.ParamNames[i])
		}
		m.types[fn.Name] = ft
	}

	for _, fn := range src.Functions {
		var err error
		switch {
		case !fn.Empty():
			err = m.defineFunc(fn)
		case fn.Name == "putchard" && fn.NumParams() == 1:
			m.definePutchard()
		case fn.Name == "printd" && fn.NumParams() == 1:
			m.definePrintd()
		}
		if err != nil {
			m.Dispose()
			return nil, err
		}
	}

	if err := llvm.VerifyModule(m.mod, llvm.ReturnStatusAction); err != nil {
		m.Dispose()
		return nil, fmt.Errorf("llvmjit: %w", err)
	}
	log.Debugf("translated %d functions", len(src.Functions))
	return m, nil
}

// String returns the textual LLVM IR.
func (m *Module) String() string { return m.mod.String() }

// Optimize runs the named passes over every function body.
func (m *Module) Optimize(names []string) error {
	fpm := llvm.NewFunctionPassManagerForModule(m.mod)
	defer fpm.Dispose()
	for _, name := range names {
		add, ok := passes[name]
		if !ok {
			return fmt.Errorf("llvmjit: unknown pass %q", name)
		}
		add(fpm)
	}
	fpm.InitializeFunc()
	for f := m.mod.FirstFunction(); !f.IsNil(); f = llvm.NextFunction(f) {
		if f.FirstBasicBlock().IsNil() {
			continue
		}
		fpm.RunFunc(f)
	}
	fpm.FinalizeFunc()
	return nil
}

// Call runs name through MCJIT. The execution engine is created on the first
// call; the module cannot be changed afterwards. Arguments are passed by a
// zero-argument wrapper compiled into its own module, the only signature
// MCJIT can invoke directly.
func (m *Module) Call(name string, args ...float64) (float64, error) {
	if !m.jitted {
		if err := initTarget(); err != nil {
			return 0, fmt.Errorf("llvmjit: %w", err)
		}
		ee, err := llvm.NewMCJITCompiler(m.mod, llvm.NewMCJITCompilerOptions())
		if err != nil {
			return 0, fmt.Errorf("llvmjit: %w", err)
		}
		m.ee, m.jitted = ee, true
	}

	f := m.mod.NamedFunction(name)
	if f.IsNil() || f.FirstBasicBlock().IsNil() {
		return 0, fmt.Errorf("llvmjit: %w: %s", jit.ErrUnresolvedSymbol, name)
	}
	if f.ParamsCount() != len(args) {
		return 0, fmt.Errorf("llvmjit: %w: %s takes %d, got %d", jit.ErrArity, name, f.ParamsCount(), len(args))
	}

	m.calls++
	wrapName := fmt.Sprintf("__call%d", m.calls)
	wrapMod := m.ctx.NewModule(wrapName)
	decl := llvm.AddFunction(wrapMod, name, m.types[name])
	wrapper := llvm.AddFunction(wrapMod, wrapName, llvm.FunctionType(m.double, nil, false))
	m.b.SetInsertPointAtEnd(m.ctx.AddBasicBlock(wrapper, "entry"))
	consts := make([]llvm.Value, len(args))
	for i, a := range args {
		consts[i] = llvm.ConstFloat(m.double, a)
	}
	m.b.CreateRet(m.b.CreateCall(m.types[name], decl, consts, "calltmp"))

	m.ee.AddModule(wrapMod)
	res := m.ee.RunFunction(wrapper, nil)
	v := res.Float(m.double)
	res.Dispose()
	m.ee.RemoveModule(wrapMod)
	wrapMod.Dispose()
	return v, nil
}

// Dispose frees the LLVM objects.
func (m *Module) Dispose() {
	if m.jitted {
		m.ee.Dispose() // owns the module
	} else {
		m.mod.Dispose()
	}
	m.b.Dispose()
	m.ctx.Dispose()
}

// ---------------------------------------------------------------------------
// Natives
// ---------------------------------------------------------------------------

func (m *Module) libc(name string, ft llvm.Type) llvm.Value {
	f := m.mod.NamedFunction(name)
	if f.IsNil() {
		f = llvm.AddFunction(m.mod, name, ft)
	}
	return f
}

func (m *Module) definePutchard() {
	f := m.mod.NamedFunction("putchard")
	m.b.SetInsertPointAtEnd(m.ctx.AddBasicBlock(f, "entry"))
	i32 := m.ctx.Int32Type()
	putcharType := llvm.FunctionType(i32, []llvm.Type{i32}, false)
	c := m.b.CreateFPToSI(f.Param(0), i32, "c")
	m.b.CreateCall(putcharType, m.libc("putchar", putcharType), []llvm.Value{c}, "")
	m.b.CreateRet(llvm.ConstFloat(m.double, 0))
}

func (m *Module) definePrintd() {
	f := m.mod.NamedFunction("printd")
	m.b.SetInsertPointAtEnd(m.ctx.AddBasicBlock(f, "entry"))
	printfType := llvm.FunctionType(
		m.ctx.Int32Type(),
		[]llvm.Type{llvm.PointerType(m.ctx.Int8Type(), 0)},
		true,
	)
	format := m.b.CreateGlobalStringPtr("%f\n", "printd_fmt")
	m.b.CreateCall(printfType, m.libc("printf", printfType), []llvm.Value{format, f.Param(0)}, "")
	m.b.CreateRet(llvm.ConstFloat(m.double, 0))
}

// ---------------------------------------------------------------------------
// Function bodies
// ---------------------------------------------------------------------------

type pendingPhi struct {
	phi   llvm.Value
	instr *ir.IRInstr
}

type funcTranslator struct {
	m      *Module
	src    *ir.IRFunc
	fn     llvm.Value
	blocks map[string]llvm.BasicBlock
	vals   map[int]llvm.Value
	phis   []pendingPhi
}

func (m *Module) defineFunc(src *ir.IRFunc) error {
	t := &funcTranslator{
		m:      m,
		src:    src,
		fn:     m.mod.NamedFunction(src.Name),
		blocks: make(map[string]llvm.BasicBlock),
		vals:   make(map[int]llvm.Value),
	}
	cfg := ir.BuildCFG(src)
	for _, b := range src.Blocks {
		if cfg.Reachable(b.Label) {
			t.blocks[b.Label] = m.ctx.AddBasicBlock(t.fn, b.Label)
		}
	}
	// Reverse post order visits a definition before its non-phi uses.
	for _, label := range cfg.Order {
		if err := t.block(src.Block(label)); err != nil {
			return fmt.Errorf("llvmjit: %s: %w", src.Name, err)
		}
	}
	for _, p := range t.phis {
		if err := t.fillPhi(p); err != nil {
			return fmt.Errorf("llvmjit: %s: %w", src.Name, err)
		}
	}
	if err := llvm.VerifyFunction(t.fn, llvm.ReturnStatusAction); err != nil {
		return fmt.Errorf("llvmjit: %s: %w", src.Name, err)
	}
	return nil
}

func (t *funcTranslator) block(b *ir.IRBlock) error {
	bld := t.m.b
	bld.SetInsertPointAtEnd(t.blocks[b.Label])
	for i := range b.Instrs {
		instr := &b.Instrs[i]
		var v llvm.Value
		var err error
		switch instr.Op {
		case ir.IRAlloca:
			v = bld.CreateAlloca(t.m.double, instr.Name)
		case ir.IRLoad:
			var slot llvm.Value
			if slot, err = t.value(instr.Src1); err == nil {
				v = bld.CreateLoad(t.m.double, slot, instr.Name)
			}
		case ir.IRStore:
			var val, slot llvm.Value
			if val, err = t.float(instr.Src1); err != nil {
				return err
			}
			if slot, err = t.value(instr.Src2); err != nil {
				return err
			}
			bld.CreateStore(val, slot)
		case ir.IRFAdd, ir.IRFSub, ir.IRFMul, ir.IRFCmpULT, ir.IRFCmpONE:
			v, err = t.binary(instr)
		case ir.IRUIToFP:
			v, err = t.float(instr.Src1)
		case ir.IRPhi:
			v = bld.CreatePHI(t.m.double, instr.Name)
			t.phis = append(t.phis, pendingPhi{phi: v, instr: instr})
		case ir.IRCall:
			args := make([]llvm.Value, len(instr.Args))
			for k, a := range instr.Args {
				if args[k], err = t.float(a); err != nil {
					return err
				}
			}
			callee := t.m.mod.NamedFunction(instr.Callee)
			if callee.IsNil() {
				return fmt.Errorf("call to undeclared %s", instr.Callee)
			}
			v = bld.CreateCall(t.m.types[instr.Callee], callee, args, instr.Name)
		case ir.IRBr:
			bld.CreateBr(t.blocks[instr.Labels[0]])
		case ir.IRCondBr:
			var cond llvm.Value
			if cond, err = t.cond(instr.Src1); err == nil {
				bld.CreateCondBr(cond, t.blocks[instr.Labels[0]], t.blocks[instr.Labels[1]])
			}
		case ir.IRRet:
			var ret llvm.Value
			if ret, err = t.float(instr.Src1); err == nil {
				bld.CreateRet(ret)
			}
		default:
			err = fmt.Errorf("unsupported opcode %s", instr.Op)
		}
		if err != nil {
			return err
		}
		if instr.Dst.Kind == ir.OpVirtReg {
			t.vals[instr.Dst.Reg] = v
		}
	}
	return nil
}

func (t *funcTranslator) binary(instr *ir.IRInstr) (llvm.Value, error) {
	l, err := t.float(instr.Src1)
	if err != nil {
		return llvm.Value{}, err
	}
	r, err := t.float(instr.Src2)
	if err != nil {
		return llvm.Value{}, err
	}
	bld := t.m.b
	switch instr.Op {
	case ir.IRFAdd:
		return bld.CreateFAdd(l, r, instr.Name), nil
	case ir.IRFSub:
		return bld.CreateFSub(l, r, instr.Name), nil
	case ir.IRFMul:
		return bld.CreateFMul(l, r, instr.Name), nil
	case ir.IRFCmpULT:
		return bld.CreateFCmp(llvm.FloatULT, l, r, instr.Name), nil
	default:
		return bld.CreateFCmp(llvm.FloatONE, l, r, instr.Name), nil
	}
}

// fillPhi adds the incoming edges once every block has been emitted.
func (t *funcTranslator) fillPhi(p pendingPhi) error {
	for k, label := range p.instr.Labels {
		pred, ok := t.blocks[label]
		if !ok {
			continue // unreachable predecessor
		}
		t.m.b.SetInsertPointBefore(pred.LastInstruction())
		v, err := t.float(p.instr.Args[k])
		if err != nil {
			return err
		}
		p.phi.AddIncoming([]llvm.Value{v}, []llvm.BasicBlock{pred})
	}
	return nil
}

func (t *funcTranslator) value(op ir.Operand) (llvm.Value, error) {
	switch op.Kind {
	case ir.OpConst:
		return llvm.ConstFloat(t.m.double, op.Imm), nil
	case ir.OpParam:
		if op.Index >= t.src.NumParams() {
			return llvm.Value{}, fmt.Errorf("parameter %s out of range", op)
		}
		return t.fn.Param(op.Index), nil
	case ir.OpVirtReg:
		if v, ok := t.vals[op.Reg]; ok {
			return v, nil
		}
		return llvm.Value{}, fmt.Errorf("%s used before its definition", op)
	}
	return llvm.Value{}, fmt.Errorf("missing operand")
}

// Comparisons are i1 in LLVM and 0.0/1.0 in klang IR; float and cond convert
// between the two where a value crosses over.

func isBool(v llvm.Value) bool {
	return v.Type().TypeKind() == llvm.IntegerTypeKind
}

func (t *funcTranslator) float(op ir.Operand) (llvm.Value, error) {
	v, err := t.value(op)
	if err != nil || !isBool(v) {
		return v, err
	}
	return t.m.b.CreateUIToFP(v, t.m.double, "booltmp"), nil
}

func (t *funcTranslator) cond(op ir.Operand) (llvm.Value, error) {
	if op.IsConst() {
		var bit uint64
		if op.Imm != 0 {
			bit = 1
		}
		return llvm.ConstInt(t.m.ctx.Int1Type(), bit, false), nil
	}
	v, err := t.value(op)
	if err != nil || isBool(v) {
		return v, err
	}
	return t.m.b.CreateFCmp(llvm.FloatONE, v, llvm.ConstFloat(t.m.double, 0), "tobool"), nil
}
