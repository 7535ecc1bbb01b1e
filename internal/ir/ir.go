package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// IR: a small SSA-style intermediate representation
//
// Every value is a float64 except for comparison results (i1) and stack
// slots (pointers produced by alloca). Functions are lists of basic blocks;
// each block ends with exactly one terminator. Instruction results are
// numbered virtual registers, each defined exactly once.
// ---------------------------------------------------------------------------

// ---------------------------------------------------------------------------
// Operand kinds
// ---------------------------------------------------------------------------

// OpKind describes what an IR operand represents.
type OpKind int

const (
	OpNone    OpKind = iota // unused operand slot
	OpVirtReg               // result of an instruction
	OpConst                 // floating-point literal
	OpParam                 // incoming function argument, by index
)

// Operand is a single value in an IR instruction.
type Operand struct {
	Kind  OpKind
	Reg   int     // virtual register number (OpVirtReg)
	Imm   float64 // literal value (OpConst)
	Index int     // parameter index (OpParam)
}

func (o Operand) String() string {
	switch o.Kind {
	case OpNone:
		return "<none>"
	case OpVirtReg:
		return fmt.Sprintf("v%d", o.Reg)
	case OpConst:
		s := strconv.FormatFloat(o.Imm, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEIN") {
			s += ".0"
		}
		return s
	case OpParam:
		return fmt.Sprintf("%%%d", o.Index)
	default:
		return "?"
	}
}

// IsConst reports whether the operand is a literal.
func (o Operand) IsConst() bool { return o.Kind == OpConst }

// IsReg reports whether the operand is a virtual register.
func (o Operand) IsReg() bool { return o.Kind == OpVirtReg }

// Convenience constructors for operands.
func VReg(n int) Operand      { return Operand{Kind: OpVirtReg, Reg: n} }
func Const(v float64) Operand { return Operand{Kind: OpConst, Imm: v} }
func Param(index int) Operand { return Operand{Kind: OpParam, Index: index} }
func None() Operand           { return Operand{Kind: OpNone} }

// Bool returns the i1 constant for b.
func Bool(b bool) Operand {
	if b {
		return Const(1)
	}
	return Const(0)
}

// ---------------------------------------------------------------------------
// IR opcodes
// ---------------------------------------------------------------------------

// IROp is an IR instruction opcode.
type IROp int

const (
	// Memory
	IRAlloca IROp = iota // dst = new stack slot (entry block only)
	IRLoad               // dst = *src1
	IRStore              // *src2 = src1

	// Arithmetic
	IRFAdd // dst = src1 + src2
	IRFSub // dst = src1 - src2
	IRFMul // dst = src1 * src2

	// Comparison: dst is 1.0 or 0.0
	IRFCmpULT // dst = src1 < src2, or either operand is NaN
	IRFCmpONE // dst = src1 != src2, and neither operand is NaN

	// Conversion
	IRUIToFP // dst = float(i1 src1): 0.0 or 1.0

	// Control flow
	IRBr     // jump to Labels[0]
	IRCondBr // if src1 jump to Labels[0] else Labels[1]
	IRPhi    // dst = Args[i] when entered from Labels[i]
	IRCall   // dst = Callee(Args...)
	IRRet    // return src1
)

var irOpNames = map[IROp]string{
	IRAlloca: "alloca", IRLoad: "load", IRStore: "store",
	IRFAdd: "fadd", IRFSub: "fsub", IRFMul: "fmul",
	IRFCmpULT: "fcmp_ult", IRFCmpONE: "fcmp_one",
	IRUIToFP: "uitofp",
	IRBr: "br", IRCondBr: "condbr", IRPhi: "phi", IRCall: "call", IRRet: "ret",
}

func (op IROp) String() string {
	if s, ok := irOpNames[op]; ok {
		return s
	}
	return fmt.Sprintf("irop_%d", int(op))
}

// ---------------------------------------------------------------------------
// IR Instruction
// ---------------------------------------------------------------------------

// IRInstr is a single IR instruction.
type IRInstr struct {
	Op     IROp
	Dst    Operand   // result register, OpNone when the op produces no value
	Src1   Operand   // first source
	Src2   Operand   // second source
	Args   []Operand // call arguments, phi incoming values
	Labels []string  // branch targets, phi incoming blocks
	Callee string    // IRCall target
	Name   string    // name hint for dumps: "addtmp", variable names for allocas
}

// IsTerminator reports whether the instruction ends a block.
func (i *IRInstr) IsTerminator() bool {
	return i.Op == IRBr || i.Op == IRCondBr || i.Op == IRRet
}

// HasSideEffects reports whether removing the instruction could change
// program behaviour even when its result is unused.
func (i *IRInstr) HasSideEffects() bool {
	switch i.Op {
	case IRStore, IRCall, IRBr, IRCondBr, IRRet:
		return true
	}
	return false
}

// Operands returns pointers to every source operand so passes can rewrite
// them in place.
func (i *IRInstr) Operands() []*Operand {
	ops := make([]*Operand, 0, 2+len(i.Args))
	if i.Src1.Kind != OpNone {
		ops = append(ops, &i.Src1)
	}
	if i.Src2.Kind != OpNone {
		ops = append(ops, &i.Src2)
	}
	for k := range i.Args {
		ops = append(ops, &i.Args[k])
	}
	return ops
}

func (i IRInstr) String() string {
	var b strings.Builder
	if i.Dst.Kind != OpNone {
		fmt.Fprintf(&b, "%s = ", i.Dst)
	}
	b.WriteString(i.Op.String())
	switch i.Op {
	case IRBr:
		fmt.Fprintf(&b, " %s", i.Labels[0])
	case IRCondBr:
		fmt.Fprintf(&b, " %s, %s, %s", i.Src1, i.Labels[0], i.Labels[1])
	case IRPhi:
		for k, a := range i.Args {
			if k > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, " [%s, %s]", a, i.Labels[k])
		}
	case IRCall:
		args := make([]string, len(i.Args))
		for k, a := range i.Args {
			args[k] = a.String()
		}
		fmt.Fprintf(&b, " %s(%s)", i.Callee, strings.Join(args, ", "))
	default:
		if i.Src1.Kind != OpNone {
			b.WriteString(" " + i.Src1.String())
		}
		if i.Src2.Kind != OpNone {
			b.WriteString(", " + i.Src2.String())
		}
	}
	if i.Name != "" {
		b.WriteString(" ; " + i.Name)
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Blocks, functions, module
// ---------------------------------------------------------------------------

// IRBlock is a basic block: straight-line instructions ending in a terminator.
type IRBlock struct {
	Label  string
	Instrs []IRInstr
}

// Emit appends an instruction to the block.
func (b *IRBlock) Emit(instr IRInstr) {
	b.Instrs = append(b.Instrs, instr)
}

// Terminator returns the block's final instruction if it is a terminator.
func (b *IRBlock) Terminator() *IRInstr {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := &b.Instrs[len(b.Instrs)-1]
	if !last.IsTerminator() {
		return nil
	}
	return last
}

// NumPhis returns the number of leading phi instructions.
func (b *IRBlock) NumPhis() int {
	n := 0
	for n < len(b.Instrs) && b.Instrs[n].Op == IRPhi {
		n++
	}
	return n
}

// IRFunc represents a single function in IR form. A function without blocks
// is a declaration: it has a name and an arity but no body yet.
type IRFunc struct {
	Name       string
	ParamNames []string // parameter names (in order)
	Blocks     []*IRBlock
	NextVReg   int
	NextLabel  int
}

// NewFunc creates a body-less function.
func NewFunc(name string, params []string) *IRFunc {
	return &IRFunc{Name: name, ParamNames: append([]string(nil), params...)}
}

// NumParams returns the function's arity.
func (f *IRFunc) NumParams() int { return len(f.ParamNames) }

// Empty reports whether the function is only declared.
func (f *IRFunc) Empty() bool { return len(f.Blocks) == 0 }

// Entry returns the entry block, or nil for a declaration.
func (f *IRFunc) Entry() *IRBlock {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// NewVReg allocates a fresh virtual register.
func (f *IRFunc) NewVReg() Operand {
	r := f.NextVReg
	f.NextVReg++
	return VReg(r)
}

// NewBlock creates a detached block with a unique label derived from name.
// The first block of a function is labelled exactly "entry".
func (f *IRFunc) NewBlock(name string) *IRBlock {
	if name == "entry" && f.Block("entry") == nil {
		return &IRBlock{Label: name}
	}
	f.NextLabel++
	return &IRBlock{Label: fmt.Sprintf("%s%d", name, f.NextLabel)}
}

// AppendBlock adds a detached block to the end of the function.
func (f *IRFunc) AppendBlock(b *IRBlock) {
	f.Blocks = append(f.Blocks, b)
}

// Block returns the block with the given label.
func (f *IRFunc) Block(label string) *IRBlock {
	for _, b := range f.Blocks {
		if b.Label == label {
			return b
		}
	}
	return nil
}

// ClearBody drops every block, turning the function back into a declaration.
func (f *IRFunc) ClearBody() {
	f.Blocks = nil
	f.NextVReg = 0
	f.NextLabel = 0
}

// NumInstrs counts the instructions across all blocks.
func (f *IRFunc) NumInstrs() int {
	n := 0
	for _, b := range f.Blocks {
		n += len(b.Instrs)
	}
	return n
}

func (f *IRFunc) String() string {
	var s strings.Builder
	params := make([]string, len(f.ParamNames))
	for i, p := range f.ParamNames {
		params[i] = fmt.Sprintf("%%%d:%s", i, p)
	}
	if f.Empty() {
		fmt.Fprintf(&s, "declare %s(%s)\n", f.Name, strings.Join(params, ", "))
		return s.String()
	}
	fmt.Fprintf(&s, "define %s(%s) {\n", f.Name, strings.Join(params, ", "))
	for _, b := range f.Blocks {
		fmt.Fprintf(&s, "%s:\n", b.Label)
		for _, instr := range b.Instrs {
			fmt.Fprintf(&s, "  %s\n", instr.String())
		}
	}
	s.WriteString("}\n")
	return s.String()
}

// IRModule is the top-level IR container: every callable defined or declared
// so far, in creation order.
type IRModule struct {
	Name      string
	Functions []*IRFunc
}

// NewModule creates an empty module.
func NewModule(name string) *IRModule {
	return &IRModule{Name: name}
}

// Function looks a function up by name.
func (m *IRModule) Function(name string) *IRFunc {
	for _, fn := range m.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// AddFunction registers fn. Names are unique within a module.
func (m *IRModule) AddFunction(fn *IRFunc) error {
	if m.Function(fn.Name) != nil {
		return fmt.Errorf("ir: function %q already exists", fn.Name)
	}
	m.Functions = append(m.Functions, fn)
	return nil
}

// RemoveFunction erases a function so it is no longer visible by name.
func (m *IRModule) RemoveFunction(name string) bool {
	for i, fn := range m.Functions {
		if fn.Name == name {
			m.Functions = append(m.Functions[:i], m.Functions[i+1:]...)
			return true
		}
	}
	return false
}

// DebugDump returns a human-readable representation of the entire IR module.
func (m *IRModule) DebugDump() string {
	var s strings.Builder
	fmt.Fprintf(&s, "=== IR Module %s (%d functions) ===\n", m.Name, len(m.Functions))
	for _, fn := range m.Functions {
		s.WriteString("\n")
		s.WriteString(fn.String())
	}
	return s.String()
}
