// Package scope implements the variable table used while lowering a single
// function: a map from name to storage handle with shadow/restore support for
// nested binding constructs.
package scope

import (
	"fmt"
	"sort"
)

// Table maps variable names to storage handles of type H. It is reset at the
// start of every function, so no binding is visible across functions.
type Table[H any] struct {
	vars  map[string]H
	stack []Shadow[H] // outstanding shadows, newest last
	seq   uint64
}

// New returns an empty table.
func New[H any]() *Table[H] {
	return &Table[H]{vars: make(map[string]H)}
}

// Shadow remembers what a name was bound to before a Bind, so the binding can
// be restored exactly, including the "was unbound" case.
type Shadow[H any] struct {
	Name    string
	prev    H
	hadPrev bool
	seq     uint64
}

// WasBound reports whether the name had a binding before the shadowing Bind.
func (s Shadow[H]) WasBound() bool { return s.hadPrev }

// Bind installs name → handle and returns the token that undoes it.
func (t *Table[H]) Bind(name string, handle H) Shadow[H] {
	prev, had := t.vars[name]
	t.seq++
	sh := Shadow[H]{Name: name, prev: prev, hadPrev: had, seq: t.seq}
	t.vars[name] = handle
	t.stack = append(t.stack, sh)
	return sh
}

// Define binds name → handle for the rest of the function without a restore
// token. Function parameters are bound this way.
func (t *Table[H]) Define(name string, handle H) {
	t.vars[name] = handle
}

// Restore undoes the Bind that produced sh. Shadows must be restored newest
// first; restoring any other token, or the same token twice, is an error and
// leaves the table unchanged.
func (t *Table[H]) Restore(sh Shadow[H]) error {
	n := len(t.stack)
	if n == 0 || t.stack[n-1].seq != sh.seq {
		return fmt.Errorf("scope: out-of-order restore of %q", sh.Name)
	}
	t.stack = t.stack[:n-1]
	if sh.hadPrev {
		t.vars[sh.Name] = sh.prev
	} else {
		delete(t.vars, sh.Name)
	}
	return nil
}

// Resolve returns the handle bound to name.
func (t *Table[H]) Resolve(name string) (H, bool) {
	h, ok := t.vars[name]
	return h, ok
}

// Reset clears every binding and outstanding shadow.
func (t *Table[H]) Reset() {
	t.vars = make(map[string]H)
	t.stack = t.stack[:0]
}

// Len returns the number of visible bindings.
func (t *Table[H]) Len() int { return len(t.vars) }

// Depth returns the number of shadows not yet restored.
func (t *Table[H]) Depth() int { return len(t.stack) }

// Names returns the visible names in sorted order.
func (t *Table[H]) Names() []string {
	out := make([]string, 0, len(t.vars))
	for name := range t.vars {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
