package operators

// OpKind tags how a binary operator symbol is lowered.
type OpKind int

const (
	OpUser   OpKind = iota // call to the user-defined "binary<sym>" function
	OpAssign               // '=': store into a variable
	OpAdd                  // '+'
	OpSub                  // '-'
	OpMul                  // '*'
	OpLess                 // '<': comparison converted to 0.0/1.0
)

var opKindNames = map[OpKind]string{
	OpUser: "user", OpAssign: "assign", OpAdd: "add", OpSub: "sub", OpMul: "mul", OpLess: "less",
}

func (k OpKind) String() string {
	if s, ok := opKindNames[k]; ok {
		return s
	}
	return "op?"
}

// BinaryOp is a binary operator symbol resolved once, at lowering time, to
// either a built-in operation or a reference to a user-defined operator.
type BinaryOp struct {
	Kind   OpKind
	Symbol byte
}

// Builtin reports whether the operator is lowered to a primitive instruction
// rather than a call.
func (op BinaryOp) Builtin() bool { return op.Kind != OpUser }

// FuncName is the callable implementing a user-defined operator.
func (op BinaryOp) FuncName() string { return "binary" + string(op.Symbol) }

// Resolve classifies sym. Built-in symbols always resolve to their primitive
// operation, even if a user function with the matching name exists.
func Resolve(sym byte) BinaryOp {
	switch sym {
	case '=':
		return BinaryOp{Kind: OpAssign, Symbol: sym}
	case '+':
		return BinaryOp{Kind: OpAdd, Symbol: sym}
	case '-':
		return BinaryOp{Kind: OpSub, Symbol: sym}
	case '*':
		return BinaryOp{Kind: OpMul, Symbol: sym}
	case '<':
		return BinaryOp{Kind: OpLess, Symbol: sym}
	}
	return BinaryOp{Kind: OpUser, Symbol: sym}
}
