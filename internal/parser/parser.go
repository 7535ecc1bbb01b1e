package parser

import (
	"fmt"

	"klang/internal/ast"
	"klang/internal/lexer"
	"klang/internal/operators"
)

const (
	minPrecedence = 1
	maxPrecedence = 100
)

// ---------------------------------------------------------------------------
// ParseError
// ---------------------------------------------------------------------------

// ParseError represents a single error found during parsing.
type ParseError struct {
	Message string
	Line    int
	Column  int

	// Incomplete is set when the error was caused by running out of input,
	// i.e. more text could still complete the form.
	Incomplete bool
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d, col %d: %s", e.Line, e.Column, e.Message)
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

// Parser reads top-level forms one at a time. Binary operator precedence is
// looked up in the registry when an operator is reached, so operators
// defined by earlier forms are recognised by later ones.
type Parser struct {
	tokens []lexer.Token
	pos    int
	ops    *operators.Registry
	errors []ParseError
}

// New creates a parser over tokens produced by lexer.Lex.
func New(tokens []lexer.Token, ops *operators.Registry) *Parser {
	return &Parser{tokens: tokens, ops: ops}
}

// Parse parses every form in tokens without acting on them in between. Any
// operator a form defines is unknown to the forms after it unless the caller
// has installed it beforehand.
func Parse(tokens []lexer.Token, ops *operators.Registry) ([]ast.Form, []ParseError) {
	p := New(tokens, ops)
	var forms []ast.Form
	for !p.Done() {
		form, err := p.Next()
		if err != nil {
			continue
		}
		forms = append(forms, form)
	}
	return forms, p.errors
}

// Errors returns every error recorded so far.
func (p *Parser) Errors() []ParseError { return p.errors }

// Done skips top-level ';' separators and reports whether input is exhausted.
func (p *Parser) Done() bool {
	for p.peek().IsChar(';') {
		p.advance()
	}
	return p.check(lexer.EOF)
}

// Next parses the next top-level form. After an error the parser skips to
// the next form boundary so the following call can continue.
func (p *Parser) Next() (ast.Form, error) {
	n := len(p.errors)
	var form ast.Form
	switch p.peek().Type {
	case lexer.DEF:
		if fn := p.parseDefinition(); fn != nil {
			form = fn
		}
	case lexer.EXTERN:
		if ext := p.parseExtern(); ext != nil {
			form = ext
		}
	default:
		if e := p.parseTopLevelExpr(); e != nil {
			form = e
		}
	}
	if len(p.errors) > n {
		p.synchronize()
		return nil, p.errors[n]
	}
	return form, nil
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

func (p *Parser) peek() lexer.Token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	if n := len(p.tokens); n > 0 && p.tokens[n-1].Type == lexer.EOF {
		return p.tokens[n-1]
	}
	return lexer.Token{Type: lexer.EOF}
}

func (p *Parser) advance() lexer.Token {
	tok := p.peek()
	if tok.Type != lexer.EOF {
		p.pos++
	}
	return tok
}

func (p *Parser) previous() lexer.Token {
	if p.pos > 0 {
		return p.tokens[p.pos-1]
	}
	return lexer.Token{Type: lexer.EOF}
}

func (p *Parser) check(typ string) bool {
	return p.peek().Type == typ
}

// expectChar consumes the operator/punctuation character c or records an
// error.
func (p *Parser) expectChar(c byte, msg string) bool {
	if p.peek().IsChar(c) {
		p.advance()
		return true
	}
	p.errorAt(p.peek(), msg)
	return false
}

func (p *Parser) expect(typ string, msg string) (lexer.Token, bool) {
	if p.check(typ) {
		return p.advance(), true
	}
	p.errorAt(p.peek(), msg)
	return p.peek(), false
}

// errorAt appends a ParseError at the given token's location.
func (p *Parser) errorAt(tok lexer.Token, msg string) {
	if tok.Type != lexer.EOF {
		msg = fmt.Sprintf("%s (got %s %q)", msg, tok.Type, tok.Value)
	} else {
		msg += " (got end of input)"
	}
	p.errors = append(p.errors, ParseError{
		Message:    msg,
		Line:       tok.Line,
		Column:     tok.Column,
		Incomplete: tok.Type == lexer.EOF,
	})
}

// synchronize advances past tokens until it reaches a likely form boundary:
// just after a ';' or at a 'def' or 'extern'.
func (p *Parser) synchronize() {
	p.advance()
	for !p.check(lexer.EOF) {
		if p.previous().IsChar(';') {
			return
		}
		switch p.peek().Type {
		case lexer.DEF, lexer.EXTERN:
			return
		}
		p.advance()
	}
}

func position(tok lexer.Token) ast.Position {
	return ast.Position{Line: tok.Line, Column: tok.Column}
}

// =========================================================================
// Top-level forms
// =========================================================================

// definition ::= 'def' prototype expression
func (p *Parser) parseDefinition() *ast.Function {
	tok := p.advance() // consume DEF
	proto := p.parsePrototype()
	if proto == nil {
		return nil
	}
	body := p.parseExpression()
	if body == nil {
		return nil
	}
	return &ast.Function{Proto: proto, Body: body, Pos: position(tok)}
}

// external ::= 'extern' prototype
func (p *Parser) parseExtern() *ast.Extern {
	tok := p.advance() // consume EXTERN
	proto := p.parsePrototype()
	if proto == nil {
		return nil
	}
	return &ast.Extern{Proto: proto, Pos: position(tok)}
}

func (p *Parser) parseTopLevelExpr() *ast.TopLevelExpr {
	tok := p.peek()
	body := p.parseExpression()
	if body == nil {
		return nil
	}
	return &ast.TopLevelExpr{Body: body, Pos: position(tok)}
}

// prototype
//
//	::= id '(' id* ')'
//	::= 'unary' CHAR '(' id ')'
//	::= 'binary' CHAR number? '(' id id ')'
func (p *Parser) parsePrototype() *ast.Prototype {
	start := p.peek()
	proto := &ast.Prototype{Pos: position(start)}

	switch start.Type {
	case lexer.IDENT:
		p.advance()
		proto.Name = start.Value
	case lexer.UNARY, lexer.BINARY:
		p.advance()
		proto.Kind = ast.UnaryOperator
		if start.Type == lexer.BINARY {
			proto.Kind = ast.BinaryOperator
			proto.Precedence = ast.DefaultBinaryPrecedence
		}
		sym := p.peek()
		if sym.Type != lexer.CHAR || !validOperatorSymbol(sym.Char()) {
			p.errorAt(sym, fmt.Sprintf("expected %s operator symbol", proto.Kind))
			return nil
		}
		p.advance()
		proto.Name = ast.OperatorFuncName(proto.Kind, sym.Char())

		if proto.Kind == ast.BinaryOperator && p.check(lexer.NUMBER) {
			numTok := p.advance()
			prec := numTok.Number()
			if prec < minPrecedence || prec > maxPrecedence || prec != float64(int(prec)) {
				p.errorAt(numTok, fmt.Sprintf("invalid precedence: must be an integer in %d..%d", minPrecedence, maxPrecedence))
				return nil
			}
			proto.Precedence = int(prec)
		}
	default:
		p.errorAt(start, "expected function name in prototype")
		return nil
	}

	if !p.expectChar('(', "expected '(' in prototype") {
		return nil
	}
	for p.check(lexer.IDENT) {
		proto.Params = append(proto.Params, p.advance().Value)
	}
	if !p.expectChar(')', "expected ')' in prototype") {
		return nil
	}

	if err := proto.Validate(); err != nil {
		p.errorAt(p.previous(), err.Error())
		return nil
	}
	return proto
}

// validOperatorSymbol rejects the punctuation the grammar itself uses.
func validOperatorSymbol(c byte) bool {
	switch c {
	case '(', ')', ',', ';':
		return false
	}
	return true
}

// =========================================================================
// Expressions
// =========================================================================

// expression ::= unary binoprhs
func (p *Parser) parseExpression() ast.Expr {
	lhs := p.parseUnary()
	if lhs == nil {
		return nil
	}
	return p.parseBinOpRHS(0, lhs)
}

// binaryPrecedence returns the precedence of the pending binary operator,
// or -1 if the current token is not one.
func (p *Parser) binaryPrecedence() int {
	tok := p.peek()
	if tok.Type != lexer.CHAR {
		return -1
	}
	prec, ok := p.ops.Lookup(tok.Char())
	if !ok || prec <= 0 {
		return -1
	}
	return prec
}

// binoprhs ::= (binop unary)*
func (p *Parser) parseBinOpRHS(exprPrec int, lhs ast.Expr) ast.Expr {
	for {
		prec := p.binaryPrecedence()
		if prec < exprPrec {
			return lhs
		}
		opTok := p.advance()

		rhs := p.parseUnary()
		if rhs == nil {
			return nil
		}
		// Bind tighter operators on the right first.
		if prec < p.binaryPrecedence() {
			if rhs = p.parseBinOpRHS(prec+1, rhs); rhs == nil {
				return nil
			}
		}
		lhs = &ast.BinaryExpr{Op: opTok.Char(), Left: lhs, Right: rhs, Pos: position(opTok)}
	}
}

// unary ::= primary | CHAR unary
func (p *Parser) parseUnary() ast.Expr {
	tok := p.peek()
	if tok.Type != lexer.CHAR || !validOperatorSymbol(tok.Char()) {
		return p.parsePrimary()
	}
	p.advance()
	operand := p.parseUnary()
	if operand == nil {
		return nil
	}
	return &ast.UnaryExpr{Op: tok.Char(), Operand: operand, Pos: position(tok)}
}

func (p *Parser) parsePrimary() ast.Expr {
	tok := p.peek()
	switch {
	case tok.Type == lexer.IDENT:
		return p.parseIdentifierExpr()
	case tok.Type == lexer.NUMBER:
		p.advance()
		return &ast.NumberExpr{Value: tok.Number(), Pos: position(tok)}
	case tok.IsChar('('):
		return p.parseParenExpr()
	case tok.Type == lexer.IF:
		return p.parseIfExpr()
	case tok.Type == lexer.FOR:
		return p.parseForExpr()
	case tok.Type == lexer.VAR:
		return p.parseVarExpr()
	}
	p.errorAt(tok, "unknown token when expecting an expression")
	return nil
}

// parenexpr ::= '(' expression ')'
func (p *Parser) parseParenExpr() ast.Expr {
	p.advance() // consume '('
	e := p.parseExpression()
	if e == nil {
		return nil
	}
	if !p.expectChar(')', "expected ')'") {
		return nil
	}
	return e
}

// identifierexpr ::= id | id '(' (expression (',' expression)*)? ')'
func (p *Parser) parseIdentifierExpr() ast.Expr {
	name := p.advance()
	if !p.peek().IsChar('(') {
		return &ast.VariableExpr{Name: name.Value, Pos: position(name)}
	}
	p.advance() // consume '('

	call := &ast.CallExpr{Callee: name.Value, Pos: position(name)}
	if !p.peek().IsChar(')') {
		for {
			arg := p.parseExpression()
			if arg == nil {
				return nil
			}
			call.Args = append(call.Args, arg)
			if p.peek().IsChar(')') {
				break
			}
			if !p.expectChar(',', "expected ')' or ',' in argument list") {
				return nil
			}
		}
	}
	p.advance() // consume ')'
	return call
}

// ifexpr ::= 'if' expression 'then' expression 'else' expression
func (p *Parser) parseIfExpr() ast.Expr {
	tok := p.advance() // consume IF
	cond := p.parseExpression()
	if cond == nil {
		return nil
	}
	if _, ok := p.expect(lexer.THEN, "expected 'then'"); !ok {
		return nil
	}
	then := p.parseExpression()
	if then == nil {
		return nil
	}
	if _, ok := p.expect(lexer.ELSE, "expected 'else'"); !ok {
		return nil
	}
	els := p.parseExpression()
	if els == nil {
		return nil
	}
	return &ast.IfExpr{Cond: cond, Then: then, Else: els, Pos: position(tok)}
}

// forexpr ::= 'for' id '=' expression ',' expression (',' expression)? 'in' expression
func (p *Parser) parseForExpr() ast.Expr {
	tok := p.advance() // consume FOR
	name, ok := p.expect(lexer.IDENT, "expected identifier after 'for'")
	if !ok {
		return nil
	}
	if !p.expectChar('=', "expected '=' after for variable") {
		return nil
	}
	start := p.parseExpression()
	if start == nil {
		return nil
	}
	if !p.expectChar(',', "expected ',' after for start value") {
		return nil
	}
	end := p.parseExpression()
	if end == nil {
		return nil
	}

	var step ast.Expr
	if p.peek().IsChar(',') {
		p.advance()
		if step = p.parseExpression(); step == nil {
			return nil
		}
	}

	if _, ok := p.expect(lexer.IN, "expected 'in' after for"); !ok {
		return nil
	}
	body := p.parseExpression()
	if body == nil {
		return nil
	}
	return &ast.ForExpr{Var: name.Value, Start: start, End: end, Step: step, Body: body, Pos: position(tok)}
}

// varexpr ::= 'var' id ('=' expression)? (',' id ('=' expression)?)* 'in' expression
func (p *Parser) parseVarExpr() ast.Expr {
	tok := p.advance() // consume VAR
	v := &ast.VarExpr{Pos: position(tok)}

	for {
		name, ok := p.expect(lexer.IDENT, "expected identifier after 'var'")
		if !ok {
			return nil
		}
		bind := ast.VarBinding{Name: name.Value, Pos: position(name)}
		if p.peek().IsChar('=') {
			p.advance()
			if bind.Init = p.parseExpression(); bind.Init == nil {
				return nil
			}
		}
		v.Bindings = append(v.Bindings, bind)

		if !p.peek().IsChar(',') {
			break
		}
		p.advance()
	}

	if _, ok := p.expect(lexer.IN, "expected 'in' keyword after 'var'"); !ok {
		return nil
	}
	if v.Body = p.parseExpression(); v.Body == nil {
		return nil
	}
	return v
}
