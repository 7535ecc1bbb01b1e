package ir

// Incoming is one (value, predecessor) pair of a phi.
type Incoming struct {
	Value Operand
	Block *IRBlock
}

// Builder appends instructions at the end of an insertion block.
type Builder struct {
	fn    *IRFunc
	block *IRBlock
}

// NewBuilder creates a builder with no insertion point.
func NewBuilder() *Builder { return &Builder{} }

// Start clears fn's body and positions the builder at a fresh entry block.
func (b *Builder) Start(fn *IRFunc) *IRBlock {
	fn.ClearBody()
	b.fn = fn
	entry := fn.NewBlock("entry")
	fn.AppendBlock(entry)
	b.block = entry
	return entry
}

// Func returns the function being built.
func (b *Builder) Func() *IRFunc { return b.fn }

// InsertBlock returns the current insertion block.
func (b *Builder) InsertBlock() *IRBlock { return b.block }

// SetInsertPoint moves the builder to the end of blk. Detached blocks are
// appended to the function.
func (b *Builder) SetInsertPoint(blk *IRBlock) {
	if b.fn.Block(blk.Label) == nil {
		b.fn.AppendBlock(blk)
	}
	b.block = blk
}

// NewBlock creates a detached block in the current function.
func (b *Builder) NewBlock(name string) *IRBlock { return b.fn.NewBlock(name) }

func (b *Builder) emitValue(instr IRInstr) Operand {
	instr.Dst = b.fn.NewVReg()
	b.block.Emit(instr)
	return instr.Dst
}

// EntryAlloca creates a stack slot in the entry block, after any allocas
// already there, regardless of the current insertion point.
func (b *Builder) EntryAlloca(name string) Operand {
	entry := b.fn.Entry()
	dst := b.fn.NewVReg()
	pos := 0
	for pos < len(entry.Instrs) && entry.Instrs[pos].Op == IRAlloca {
		pos++
	}
	entry.Instrs = append(entry.Instrs, IRInstr{})
	copy(entry.Instrs[pos+1:], entry.Instrs[pos:])
	entry.Instrs[pos] = IRInstr{Op: IRAlloca, Dst: dst, Name: name}
	return dst
}

func (b *Builder) Load(slot Operand, name string) Operand {
	return b.emitValue(IRInstr{Op: IRLoad, Src1: slot, Name: name})
}

func (b *Builder) Store(val, slot Operand) {
	b.block.Emit(IRInstr{Op: IRStore, Src1: val, Src2: slot})
}

func (b *Builder) FAdd(l, r Operand, name string) Operand {
	return b.emitValue(IRInstr{Op: IRFAdd, Src1: l, Src2: r, Name: name})
}

func (b *Builder) FSub(l, r Operand, name string) Operand {
	return b.emitValue(IRInstr{Op: IRFSub, Src1: l, Src2: r, Name: name})
}

func (b *Builder) FMul(l, r Operand, name string) Operand {
	return b.emitValue(IRInstr{Op: IRFMul, Src1: l, Src2: r, Name: name})
}

func (b *Builder) FCmpULT(l, r Operand, name string) Operand {
	return b.emitValue(IRInstr{Op: IRFCmpULT, Src1: l, Src2: r, Name: name})
}

func (b *Builder) FCmpONE(l, r Operand, name string) Operand {
	return b.emitValue(IRInstr{Op: IRFCmpONE, Src1: l, Src2: r, Name: name})
}

func (b *Builder) UIToFP(v Operand, name string) Operand {
	return b.emitValue(IRInstr{Op: IRUIToFP, Src1: v, Name: name})
}

func (b *Builder) Br(target *IRBlock) {
	b.block.Emit(IRInstr{Op: IRBr, Labels: []string{target.Label}})
}

func (b *Builder) CondBr(cond Operand, then, els *IRBlock) {
	b.block.Emit(IRInstr{Op: IRCondBr, Src1: cond, Labels: []string{then.Label, els.Label}})
}

// Phi inserts a phi at the head of the current block.
func (b *Builder) Phi(name string, incoming ...Incoming) Operand {
	instr := IRInstr{Op: IRPhi, Dst: b.fn.NewVReg(), Name: name}
	for _, in := range incoming {
		instr.Args = append(instr.Args, in.Value)
		instr.Labels = append(instr.Labels, in.Block.Label)
	}
	pos := b.block.NumPhis()
	b.block.Instrs = append(b.block.Instrs, IRInstr{})
	copy(b.block.Instrs[pos+1:], b.block.Instrs[pos:])
	b.block.Instrs[pos] = instr
	return instr.Dst
}

func (b *Builder) Call(callee string, args []Operand, name string) Operand {
	return b.emitValue(IRInstr{Op: IRCall, Callee: callee, Args: append([]Operand(nil), args...), Name: name})
}

func (b *Builder) Ret(v Operand) {
	b.block.Emit(IRInstr{Op: IRRet, Src1: v})
}
