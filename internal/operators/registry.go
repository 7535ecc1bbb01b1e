// Package operators holds the binary-operator precedence table. The table
// doubles as the set of infix symbols the parser recognises, so it is seeded
// with the built-in operators and extended while a user-defined operator
// function is live.
package operators

import (
	"fmt"
	"sort"
)

// Built-in operator precedences. 1 is the lowest precedence.
var builtins = map[byte]int{
	'=': 2,
	'<': 10,
	'+': 20,
	'-': 20,
	'*': 40,
}

// Registry maps a single-character operator symbol to its precedence
// (higher binds tighter). It is not safe for concurrent use; top-level forms
// are processed one at a time.
type Registry struct {
	prec map[byte]int
	seq  uint64
	live map[byte]uint64 // symbol → sequence number of the newest install
}

// NewRegistry returns a registry seeded with the built-in operators.
func NewRegistry() *Registry {
	r := &Registry{
		prec: make(map[byte]int, len(builtins)),
		live: make(map[byte]uint64),
	}
	for sym, p := range builtins {
		r.prec[sym] = p
	}
	return r
}

// Lookup returns the precedence of sym, or false when sym is not a known
// binary operator.
func (r *Registry) Lookup(sym byte) (int, bool) {
	p, ok := r.prec[sym]
	return p, ok
}

// Token records what an Install replaced so that Retract can undo exactly
// that install.
type Token struct {
	Symbol  byte
	prev    int
	hadPrev bool
	seq     uint64
}

// Install binds sym to prec, overwriting any existing entry, and returns the
// token needed to undo it.
func (r *Registry) Install(sym byte, prec int) Token {
	prev, had := r.prec[sym]
	r.seq++
	r.prec[sym] = prec
	r.live[sym] = r.seq
	return Token{Symbol: sym, prev: prev, hadPrev: had, seq: r.seq}
}

// Retract undoes the install that produced tok: the previous precedence is
// restored, or the symbol is removed if it was not present before. Retracting
// anything but the newest install of a symbol is an error and leaves the
// registry untouched.
func (r *Registry) Retract(tok Token) error {
	if r.live[tok.Symbol] != tok.seq {
		return fmt.Errorf("operators: stale retract of %q", tok.Symbol)
	}
	delete(r.live, tok.Symbol)
	if tok.hadPrev {
		r.prec[tok.Symbol] = tok.prev
	} else {
		delete(r.prec, tok.Symbol)
	}
	return nil
}

// IsBuiltin reports whether sym is one of the fixed built-in operators.
func IsBuiltin(sym byte) bool {
	_, ok := builtins[sym]
	return ok
}

// Entry is one row of the precedence table.
type Entry struct {
	Symbol     byte
	Precedence int
	Builtin    bool
}

// Symbols lists every known operator ordered by precedence, then symbol.
func (r *Registry) Symbols() []Entry {
	out := make([]Entry, 0, len(r.prec))
	for sym, p := range r.prec {
		out = append(out, Entry{Symbol: sym, Precedence: p, Builtin: IsBuiltin(sym)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Precedence != out[j].Precedence {
			return out[i].Precedence < out[j].Precedence
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
