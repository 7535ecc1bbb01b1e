package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Source position
// ---------------------------------------------------------------------------

// Position represents a line/column pair in source code (1-based).
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// Node is implemented by every AST node.
type Node interface {
	GetPos() Position
}

// Expr is implemented by every expression node. The set of implementations
// is closed: NumberExpr, VariableExpr, UnaryExpr, BinaryExpr, CallExpr,
// IfExpr, ForExpr and VarExpr.
type Expr interface {
	Node
	exprNode()
}

// Form is implemented by every top-level form: *Function, *Extern and
// *TopLevelExpr.
type Form interface {
	Node
	formNode()
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// NumberExpr is a numeric literal.
type NumberExpr struct {
	Value float64
	Pos   Position
}

func (n *NumberExpr) GetPos() Position { return n.Pos }
func (n *NumberExpr) exprNode()        {}

// VariableExpr is a reference to a variable by name.
type VariableExpr struct {
	Name string
	Pos  Position
}

func (n *VariableExpr) GetPos() Position { return n.Pos }
func (n *VariableExpr) exprNode()        {}

// UnaryExpr: <op><operand>. Every unary operator is user-defined.
type UnaryExpr struct {
	Op      byte
	Operand Expr
	Pos     Position
}

func (n *UnaryExpr) GetPos() Position { return n.Pos }
func (n *UnaryExpr) exprNode()        {}

// BinaryExpr: <left> <op> <right>. Op '=' is assignment and requires Left to
// be a *VariableExpr.
type BinaryExpr struct {
	Op    byte
	Left  Expr
	Right Expr
	Pos   Position
}

func (n *BinaryExpr) GetPos() Position { return n.Pos }
func (n *BinaryExpr) exprNode()        {}

// CallExpr: <callee>(<args>)
type CallExpr struct {
	Callee string
	Args   []Expr
	Pos    Position
}

func (n *CallExpr) GetPos() Position { return n.Pos }
func (n *CallExpr) exprNode()        {}

// IfExpr: if <cond> then <then> else <else>. Both branches are mandatory;
// the expression yields the value of whichever branch ran.
type IfExpr struct {
	Cond Expr
	Then Expr
	Else Expr
	Pos  Position
}

func (n *IfExpr) GetPos() Position { return n.Pos }
func (n *IfExpr) exprNode()        {}

// ForExpr: for <var> = <start>, <end> [, <step>] in <body>
// Step is nil when omitted (defaults to 1.0). The loop always yields 0.0.
type ForExpr struct {
	Var   string
	Start Expr
	End   Expr
	Step  Expr
	Body  Expr
	Pos   Position
}

func (n *ForExpr) GetPos() Position { return n.Pos }
func (n *ForExpr) exprNode()        {}

// VarBinding is one name introduced by a var/in block. Init is nil when no
// initializer was given (defaults to 0.0).
type VarBinding struct {
	Name string
	Init Expr
	Pos  Position
}

// VarExpr: var <name> [= <init>] (, <name> [= <init>])* in <body>
type VarExpr struct {
	Bindings []VarBinding
	Body     Expr
	Pos      Position
}

func (n *VarExpr) GetPos() Position { return n.Pos }
func (n *VarExpr) exprNode()        {}

// ---------------------------------------------------------------------------
// Prototypes and top-level forms
// ---------------------------------------------------------------------------

// OperatorKind is the operator role carried by a prototype.
type OperatorKind int

const (
	NotOperator OperatorKind = iota
	UnaryOperator
	BinaryOperator
)

func (k OperatorKind) String() string {
	switch k {
	case UnaryOperator:
		return "unary"
	case BinaryOperator:
		return "binary"
	default:
		return "function"
	}
}

// DefaultBinaryPrecedence is used by "def binaryX (a b)" without an explicit
// precedence.
const DefaultBinaryPrecedence = 30

// OperatorFuncName returns the name of the callable that implements the given
// operator symbol: "unary!" or "binary|".
func OperatorFuncName(kind OperatorKind, symbol byte) string {
	return kind.String() + string(symbol)
}

// Prototype is a function name, its ordered parameter names and an optional
// operator role. For operators Name is already the callable name produced by
// OperatorFuncName.
type Prototype struct {
	Name       string
	Params     []string
	Kind       OperatorKind
	Precedence int // binary operators only
	Pos        Position
}

func (p *Prototype) GetPos() Position { return p.Pos }

// IsUnaryOp reports whether the prototype defines a unary operator.
func (p *Prototype) IsUnaryOp() bool { return p.Kind == UnaryOperator && len(p.Params) == 1 }

// IsBinaryOp reports whether the prototype defines a binary operator.
func (p *Prototype) IsBinaryOp() bool { return p.Kind == BinaryOperator && len(p.Params) == 2 }

// OperatorSymbol returns the operator character of an operator prototype.
func (p *Prototype) OperatorSymbol() byte {
	if p.Kind == NotOperator || len(p.Name) == 0 {
		return 0
	}
	return p.Name[len(p.Name)-1]
}

// Validate checks the operator arity invariant: a binary operator takes
// exactly two parameters and a unary operator exactly one.
func (p *Prototype) Validate() error {
	switch p.Kind {
	case UnaryOperator:
		if len(p.Params) != 1 {
			return fmt.Errorf("invalid number of operands for operator %q: got %d, want 1", p.Name, len(p.Params))
		}
	case BinaryOperator:
		if len(p.Params) != 2 {
			return fmt.Errorf("invalid number of operands for operator %q: got %d, want 2", p.Name, len(p.Params))
		}
	}
	return nil
}

// Function is a definition: a prototype plus its body.
type Function struct {
	Proto *Prototype
	Body  Expr
	Pos   Position
}

func (n *Function) GetPos() Position { return n.Pos }
func (n *Function) formNode()        {}

// Extern declares a callable without a body.
type Extern struct {
	Proto *Prototype
	Pos   Position
}

func (n *Extern) GetPos() Position { return n.Pos }
func (n *Extern) formNode()        {}

// TopLevelExpr is a bare expression evaluated on its own.
type TopLevelExpr struct {
	Body Expr
	Pos  Position
}

func (n *TopLevelExpr) GetPos() Position { return n.Pos }
func (n *TopLevelExpr) formNode()        {}

// ---------------------------------------------------------------------------
// Debug printer – produces a human-readable tree representation
// ---------------------------------------------------------------------------

// DebugString returns a readable multi-line representation of a form.
func DebugString(form Form) string {
	var b strings.Builder
	switch f := form.(type) {
	case *Function:
		fmt.Fprintf(&b, "Def %s\n", ProtoString(f.Proto))
		debugExpr(&b, f.Body, 1)
	case *Extern:
		fmt.Fprintf(&b, "Extern %s\n", ProtoString(f.Proto))
	case *TopLevelExpr:
		b.WriteString("Expr\n")
		debugExpr(&b, f.Body, 1)
	default:
		b.WriteString("<unknown form>\n")
	}
	return b.String()
}

func writeIndent(b *strings.Builder, level int) {
	for i := 0; i < level; i++ {
		b.WriteString("  ")
	}
}

func debugExpr(b *strings.Builder, e Expr, level int) {
	writeIndent(b, level)
	switch e := e.(type) {
	case *IfExpr:
		fmt.Fprintf(b, "If %s\n", ExprString(e.Cond))
		debugExpr(b, e.Then, level+1)
		debugExpr(b, e.Else, level+1)
	case *ForExpr:
		step := "1"
		if e.Step != nil {
			step = ExprString(e.Step)
		}
		fmt.Fprintf(b, "For %s = %s, %s, %s\n", e.Var, ExprString(e.Start), ExprString(e.End), step)
		debugExpr(b, e.Body, level+1)
	case *VarExpr:
		names := make([]string, len(e.Bindings))
		for i, v := range e.Bindings {
			names[i] = v.Name
			if v.Init != nil {
				names[i] += " = " + ExprString(v.Init)
			}
		}
		fmt.Fprintf(b, "Var %s\n", strings.Join(names, ", "))
		debugExpr(b, e.Body, level+1)
	default:
		b.WriteString(ExprString(e))
		b.WriteByte('\n')
	}
}

// ProtoString renders a prototype in source form.
func ProtoString(p *Prototype) string {
	if p == nil {
		return "<nil>"
	}
	head := p.Name
	if p.Kind == BinaryOperator {
		head = fmt.Sprintf("%s %d", p.Name, p.Precedence)
	}
	return fmt.Sprintf("%s(%s)", head, strings.Join(p.Params, " "))
}

// ExprString returns a concise one-line representation of an expression.
func ExprString(e Expr) string {
	if e == nil {
		return "<nil>"
	}
	switch e := e.(type) {
	case *NumberExpr:
		return strconv.FormatFloat(e.Value, 'g', -1, 64)
	case *VariableExpr:
		return e.Name
	case *UnaryExpr:
		return fmt.Sprintf("(%c%s)", e.Op, ExprString(e.Operand))
	case *BinaryExpr:
		return fmt.Sprintf("(%s %c %s)", ExprString(e.Left), e.Op, ExprString(e.Right))
	case *CallExpr:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = ExprString(a)
		}
		return fmt.Sprintf("%s(%s)", e.Callee, strings.Join(args, ", "))
	case *IfExpr:
		return fmt.Sprintf("(if %s then %s else %s)", ExprString(e.Cond), ExprString(e.Then), ExprString(e.Else))
	case *ForExpr:
		if e.Step != nil {
			return fmt.Sprintf("(for %s = %s, %s, %s in %s)", e.Var, ExprString(e.Start), ExprString(e.End), ExprString(e.Step), ExprString(e.Body))
		}
		return fmt.Sprintf("(for %s = %s, %s in %s)", e.Var, ExprString(e.Start), ExprString(e.End), ExprString(e.Body))
	case *VarExpr:
		names := make([]string, len(e.Bindings))
		for i, v := range e.Bindings {
			names[i] = v.Name
			if v.Init != nil {
				names[i] += " = " + ExprString(v.Init)
			}
		}
		return fmt.Sprintf("(var %s in %s)", strings.Join(names, ", "), ExprString(e.Body))
	default:
		return "<unknown expr>"
	}
}
