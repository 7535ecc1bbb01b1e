package codegen

import (
	"fmt"

	"klang/internal/ast"
)

// ErrorKind classifies a code generation failure.
type ErrorKind int

const (
	UnboundVariable ErrorKind = iota + 1
	UnknownCallee
	UnknownOperator
	ArityMismatch
	Redefinition
	AssignmentTarget
	Internal // a state the operator registry guarantees cannot happen
)

var errorKindNames = map[ErrorKind]string{
	UnboundVariable:  "unbound variable",
	UnknownCallee:    "unknown callee",
	UnknownOperator:  "unknown operator",
	ArityMismatch:    "arity mismatch",
	Redefinition:     "redefinition",
	AssignmentTarget: "invalid assignment target",
	Internal:         "internal error",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("error_%d", int(k))
}

// Error is a failure local to one top-level form.
type Error struct {
	Kind    ErrorKind
	Name    string // variable, callee or operator involved
	Pos     ast.Position
	Message string
	Err     error // underlying cause, Internal errors only
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Pos.Line == 0 {
		return msg
	}
	return fmt.Sprintf("line %d, col %d: %s", e.Pos.Line, e.Pos.Column, msg)
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// Sentinels for errors.Is.
var (
	ErrUnboundVariable  = &Error{Kind: UnboundVariable}
	ErrUnknownCallee    = &Error{Kind: UnknownCallee}
	ErrUnknownOperator  = &Error{Kind: UnknownOperator}
	ErrArityMismatch    = &Error{Kind: ArityMismatch}
	ErrRedefinition     = &Error{Kind: Redefinition}
	ErrAssignmentTarget = &Error{Kind: AssignmentTarget}
	ErrInternal         = &Error{Kind: Internal}
)

func errorf(kind ErrorKind, name string, pos ast.Position, format string, args ...any) *Error {
	return &Error{Kind: kind, Name: name, Pos: pos, Message: fmt.Sprintf(format, args...)}
}
