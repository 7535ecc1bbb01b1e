package jit

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/tliron/commonlog"

	"klang/internal/ir"
)

var log = commonlog.GetLogger("klang.jit")

var (
	ErrUnresolvedSymbol = errors.New("unresolved symbol")
	ErrCallDepth        = errors.New("maximum call depth exceeded")
	ErrStepLimit        = errors.New("step limit exceeded")
	ErrArity            = errors.New("wrong number of arguments")
)

// Native is a host function callable from compiled code.
type Native func(args []float64) (float64, error)

type native struct {
	arity int
	fn    Native
}

// Options configures an Engine.
type Options struct {
	// Stdout receives the output of the putchard and printd builtins.
	// Defaults to os.Stdout.
	Stdout io.Writer

	// MaxCallDepth bounds recursion; 0 means unlimited.
	MaxCallDepth int

	// MaxSteps bounds the instructions executed by one Call; 0 means
	// unlimited.
	MaxSteps int64
}

// ---------------------------------------------------------------------------
// Engine: executes finished IR functions
//
// Each function handed to Add is prepared once (label and slot tables) and is
// callable immediately. Calls to functions without a body resolve to natives.
// ---------------------------------------------------------------------------

// Engine runs IR functions.
type Engine struct {
	opts    Options
	funcs   map[string]*compiled
	natives map[string]native
	steps   int64
}

type compiled struct {
	fn     *ir.IRFunc
	labels map[string]int // block label -> index
	slots  map[int]int    // alloca register -> cell index
}

// New creates an engine with the putchard and printd builtins registered.
func New(opts Options) *Engine {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	e := &Engine{
		opts:    opts,
		funcs:   make(map[string]*compiled),
		natives: make(map[string]native),
	}
	e.RegisterNative("putchard", 1, func(args []float64) (float64, error) {
		_, err := e.opts.Stdout.Write([]byte{byte(int(args[0]))})
		return 0, err
	})
	e.RegisterNative("printd", 1, func(args []float64) (float64, error) {
		_, err := fmt.Fprintf(e.opts.Stdout, "%f\n", args[0])
		return 0, err
	})
	return e
}

// Builtins lists the names of the registered natives, sorted.
func (e *Engine) Builtins() []string {
	names := make([]string, 0, len(e.natives))
	for name := range e.natives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NativeArity returns the parameter count of a registered native.
func (e *Engine) NativeArity(name string) (int, bool) {
	n, ok := e.natives[name]
	return n.arity, ok
}

// RegisterNative makes fn available to extern declarations named name.
func (e *Engine) RegisterNative(name string, arity int, fn Native) {
	e.natives[name] = native{arity: arity, fn: fn}
}

// Add makes a finished function callable. A function with the same name
// replaces the previous one.
func (e *Engine) Add(fn *ir.IRFunc) error {
	if fn.Empty() {
		return fmt.Errorf("jit: %s has no body", fn.Name)
	}
	c := &compiled{
		fn:     fn,
		labels: make(map[string]int, len(fn.Blocks)),
		slots:  make(map[int]int),
	}
	for i, b := range fn.Blocks {
		c.labels[b.Label] = i
		for _, instr := range b.Instrs {
			if instr.Op == ir.IRAlloca {
				c.slots[instr.Dst.Reg] = len(c.slots)
			}
		}
	}
	e.funcs[fn.Name] = c
	log.Debugf("added %s (%d blocks, %d slots)", fn.Name, len(fn.Blocks), len(c.slots))
	return nil
}

// Remove forgets a function.
func (e *Engine) Remove(name string) bool {
	_, ok := e.funcs[name]
	delete(e.funcs, name)
	return ok
}

// Has reports whether name is callable, either compiled or native.
func (e *Engine) Has(name string) bool {
	if _, ok := e.funcs[name]; ok {
		return true
	}
	_, ok := e.natives[name]
	return ok
}

// Call runs name with args. The step budget applies to the whole call.
func (e *Engine) Call(name string, args ...float64) (float64, error) {
	e.steps = 0
	return e.call(name, args, 0)
}

func (e *Engine) call(name string, args []float64, depth int) (float64, error) {
	if c, ok := e.funcs[name]; ok {
		if len(args) != c.fn.NumParams() {
			return 0, fmt.Errorf("jit: %w: %s takes %d, got %d", ErrArity, name, c.fn.NumParams(), len(args))
		}
		if e.opts.MaxCallDepth > 0 && depth >= e.opts.MaxCallDepth {
			return 0, fmt.Errorf("jit: %w (%d) calling %s", ErrCallDepth, e.opts.MaxCallDepth, name)
		}
		return e.run(c, args, depth)
	}
	if n, ok := e.natives[name]; ok {
		if len(args) != n.arity {
			return 0, fmt.Errorf("jit: %w: %s takes %d, got %d", ErrArity, name, n.arity, len(args))
		}
		return n.fn(args)
	}
	return 0, fmt.Errorf("jit: %w: %s", ErrUnresolvedSymbol, name)
}

type frame struct {
	args  []float64
	regs  []float64
	cells []float64
}

func (f *frame) value(op ir.Operand) float64 {
	switch op.Kind {
	case ir.OpVirtReg:
		return f.regs[op.Reg]
	case ir.OpConst:
		return op.Imm
	case ir.OpParam:
		return f.args[op.Index]
	}
	return math.NaN()
}

func (e *Engine) run(c *compiled, args []float64, depth int) (float64, error) {
	f := &frame{
		args:  args,
		regs:  make([]float64, c.fn.NextVReg),
		cells: make([]float64, len(c.slots)),
	}
	fn := c.fn
	block, prev := fn.Blocks[0], ""

	for {
		// Phis read their inputs before any of them is written.
		nphi := block.NumPhis()
		if nphi > 0 {
			vals := make([]float64, nphi)
			for i := 0; i < nphi; i++ {
				phi := &block.Instrs[i]
				found := false
				for k, l := range phi.Labels {
					if l == prev {
						vals[i] = f.value(phi.Args[k])
						found = true
						break
					}
				}
				if !found {
					return 0, fmt.Errorf("jit: %s: phi %s has no value for edge from %q", fn.Name, phi.Dst, prev)
				}
			}
			for i := 0; i < nphi; i++ {
				f.regs[block.Instrs[i].Dst.Reg] = vals[i]
			}
		}

		next := ""
	instrs:
		for i := nphi; i < len(block.Instrs); i++ {
			if e.opts.MaxSteps > 0 {
				e.steps++
				if e.steps > e.opts.MaxSteps {
					return 0, fmt.Errorf("jit: %w (%d) in %s", ErrStepLimit, e.opts.MaxSteps, fn.Name)
				}
			}
			instr := &block.Instrs[i]
			switch instr.Op {
			case ir.IRAlloca:
				// Cells are allocated with the frame.
			case ir.IRLoad:
				f.regs[instr.Dst.Reg] = f.cells[c.slots[instr.Src1.Reg]]
			case ir.IRStore:
				f.cells[c.slots[instr.Src2.Reg]] = f.value(instr.Src1)
			case ir.IRFAdd, ir.IRFSub, ir.IRFMul, ir.IRFCmpULT, ir.IRFCmpONE:
				f.regs[instr.Dst.Reg], _ = ir.EvalBinary(instr.Op, f.value(instr.Src1), f.value(instr.Src2))
			case ir.IRUIToFP:
				f.regs[instr.Dst.Reg] = f.value(instr.Src1)
			case ir.IRCall:
				callArgs := make([]float64, len(instr.Args))
				for k, a := range instr.Args {
					callArgs[k] = f.value(a)
				}
				v, err := e.call(instr.Callee, callArgs, depth+1)
				if err != nil {
					return 0, err
				}
				f.regs[instr.Dst.Reg] = v
			case ir.IRBr:
				next = instr.Labels[0]
				break instrs
			case ir.IRCondBr:
				if f.value(instr.Src1) != 0 {
					next = instr.Labels[0]
				} else {
					next = instr.Labels[1]
				}
				break instrs
			case ir.IRRet:
				return f.value(instr.Src1), nil
			case ir.IRPhi:
				return 0, fmt.Errorf("jit: %s: phi after non-phi instruction in %s", fn.Name, block.Label)
			default:
				return 0, fmt.Errorf("jit: %s: unsupported opcode %s", fn.Name, instr.Op)
			}
		}

		idx, ok := c.labels[next]
		if next == "" || !ok {
			return 0, fmt.Errorf("jit: %s: block %s falls through to %q", fn.Name, block.Label, next)
		}
		prev = block.Label
		block = fn.Blocks[idx]
	}
}
