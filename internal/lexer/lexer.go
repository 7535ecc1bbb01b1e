package lexer

import (
	"fmt"
	"strconv"
)

const (
	// Special
	EOF = "EOF"

	// Literals
	IDENT  = "IDENT"  // identifiers: foo, putchard, x1, …
	NUMBER = "NUMBER" // numeric literals: 1, 4.5, .25, 1e3, …

	// Keywords
	DEF    = "DEF"
	EXTERN = "EXTERN"
	IF     = "IF"
	THEN   = "THEN"
	ELSE   = "ELSE"
	FOR    = "FOR"
	IN     = "IN"
	BINARY = "BINARY"
	UNARY  = "UNARY"
	VAR    = "VAR"

	// CHAR is any other single printable character: delimiters such as
	// '(' ')' ',' ';' and every operator symbol, built-in or user-defined.
	CHAR = "CHAR"
)

// keywords maps reserved words to their token types.
var keywords = map[string]string{
	"def":    DEF,
	"extern": EXTERN,
	"if":     IF,
	"then":   THEN,
	"else":   ELSE,
	"for":    FOR,
	"in":     IN,
	"binary": BINARY,
	"unary":  UNARY,
	"var":    VAR,
}

// Token represents a single lexical token produced by the lexer.
type Token struct {
	Type   string
	Value  string
	Line   int
	Column int
}

// Char returns the operator/delimiter byte of a CHAR token, or 0 otherwise.
func (t Token) Char() byte {
	if t.Type != CHAR || len(t.Value) != 1 {
		return 0
	}
	return t.Value[0]
}

// Number returns the numeric value of a NUMBER token.
func (t Token) Number() float64 {
	v, _ := strconv.ParseFloat(t.Value, 64)
	return v
}

// IsChar reports whether the token is the single character c.
func (t Token) IsChar(c byte) bool {
	return t.Type == CHAR && t.Char() == c
}

// LexError represents a recoverable error encountered during lexing.
type LexError struct {
	Message string
	Lexeme  string
	Line    int
	Column  int
}

func (e LexError) Error() string {
	return fmt.Sprintf("line %d, col %d: %s (got %q)", e.Line, e.Column, e.Message, e.Lexeme)
}

/**
* Lexes the given input string into a slice of Tokens. Also returns a slice of LexErrors
* for any recoverable errors encountered during lexing (e.g. malformed numbers).
* @param input The source code to lex.
* @return A slice of Tokens and a slice of LexErrors.
 */
func Lex(input string) ([]Token, []LexError) {
	var tokens []Token
	var errors []LexError
	line, col, i := 1, 1, 0

	for i < len(input) {
		ch := input[i]
		if isWhitespace(ch) {
			if ch == '\n' {
				line++
				col = 1
			} else if ch != '\r' {
				col++
			}
			i++
			continue
		}

		// Comments run from '#' to the end of the line.
		if ch == '#' {
			i, col = skipLineComment(input, i, col)
			continue
		}

		// Numbers, including a leading-dot form such as .5
		if isDigit(ch) || (ch == '.' && i+1 < len(input) && isDigit(input[i+1])) {
			tok, err, newI, newCol := lexNumber(input, i, line, col)
			if err != nil {
				errors = append(errors, *err)
			} else {
				tokens = append(tokens, tok)
			}
			i, col = newI, newCol
			continue
		}

		// Keywords and identifiers
		if isLetter(ch) {
			tok, newI, newCol := lexIdentifier(input, i, line, col)
			tokens = append(tokens, tok)
			i, col = newI, newCol
			continue
		}

		if isPrintable(ch) {
			tokens = append(tokens, Token{CHAR, string(ch), line, col})
			i++
			col++
			continue
		}

		// Control bytes and non-ASCII input
		errors = append(errors, LexError{
			Message: "unexpected character",
			Lexeme:  string(ch),
			Line:    line,
			Column:  col,
		})
		i++
		col++
	}

	tokens = append(tokens, Token{EOF, "", line, col})
	return tokens, errors
}

func skipLineComment(input string, i int, col int) (int, int) {
	for i < len(input) && input[i] != '\n' {
		i++
		col++
	}
	return i, col
}

// lexNumber scans a numeric literal: digits with at most one '.', and an
// optional exponent (1.5e10, 2.0E-3). A second '.' makes the literal malformed;
// the whole run of digits and dots is consumed so lexing can continue.
func lexNumber(input string, start int, line int, col int) (Token, *LexError, int, int) {
	i := start
	startCol := col
	dots := 0

	for i < len(input) && (isDigit(input[i]) || input[i] == '.') {
		if input[i] == '.' {
			dots++
		}
		i++
		col++
	}

	// Exponent part: e/E followed by optional +/- and at least one digit.
	if i < len(input) && (input[i] == 'e' || input[i] == 'E') {
		j := i + 1
		if j < len(input) && (input[j] == '+' || input[j] == '-') {
			j++
		}
		if j < len(input) && isDigit(input[j]) {
			for j < len(input) && isDigit(input[j]) {
				j++
			}
			col += j - i
			i = j
		}
	}

	lexeme := input[start:i]
	if dots > 1 {
		return Token{}, &LexError{
			Message: "malformed number",
			Lexeme:  lexeme,
			Line:    line,
			Column:  startCol,
		}, i, col
	}
	if _, err := strconv.ParseFloat(lexeme, 64); err != nil {
		return Token{}, &LexError{
			Message: "number out of range",
			Lexeme:  lexeme,
			Line:    line,
			Column:  startCol,
		}, i, col
	}
	return Token{NUMBER, lexeme, line, startCol}, nil, i, col
}

func lexIdentifier(input string, start int, line int, col int) (Token, int, int) {
	i := start
	startCol := col
	for i < len(input) && isIdentPart(input[i]) {
		i++
		col++
	}
	word := input[start:i]
	tokType := IDENT
	if kw, ok := keywords[word]; ok {
		tokType = kw
	}
	return Token{tokType, word, line, startCol}, i, col
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isLetter(ch) || isDigit(ch)
}

func isPrintable(ch byte) bool {
	return ch > ' ' && ch < 0x7f
}
