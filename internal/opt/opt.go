package opt

import (
	"fmt"
	"strings"

	"github.com/tliron/commonlog"

	"klang/internal/ir"
)

var log = commonlog.GetLogger("klang.opt")

// DefaultPasses is the standard pipeline. The order matters: mem2reg needs the
// alias facts, and the later passes clean up what promotion leaves behind.
var DefaultPasses = []string{"basic-aa", "mem2reg", "instcombine", "reassociate", "gvn", "simplifycfg"}

// Context carries analysis results between passes of one run.
type Context struct {
	AA *AliasInfo
}

// aliasInfo returns the current alias facts, computing them if no basic-aa
// pass has run yet.
func (c *Context) aliasInfo(fn *ir.IRFunc) *AliasInfo {
	if c.AA == nil {
		c.AA = AnalyzeAliases(fn)
	}
	return c.AA
}

// Pass transforms a function in place and reports whether it changed it.
type Pass interface {
	Name() string
	Run(fn *ir.IRFunc, ctx *Context) bool
}

var registry = map[string]func() Pass{
	"basic-aa":    func() Pass { return basicAA{} },
	"mem2reg":     func() Pass { return mem2reg{} },
	"instcombine": func() Pass { return instCombine{} },
	"reassociate": func() Pass { return reassociate{} },
	"gvn":         func() Pass { return gvn{} },
	"simplifycfg": func() Pass { return simplifyCFG{} },
}

// Pipeline runs a fixed sequence of passes over each finished function.
type Pipeline struct {
	passes []Pass
	mod    *ir.IRModule
}

// New builds a pipeline from pass names. mod is used to verify calls after
// the passes have run and may be nil.
func New(names []string, mod *ir.IRModule) (*Pipeline, error) {
	p := &Pipeline{mod: mod}
	for _, name := range names {
		mk, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("opt: unknown pass %q", name)
		}
		p.passes = append(p.passes, mk())
	}
	return p, nil
}

// Default returns the standard pipeline.
func Default(mod *ir.IRModule) *Pipeline {
	p, _ := New(DefaultPasses, mod)
	return p
}

// Names lists the passes in run order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.passes))
	for i, pass := range p.passes {
		names[i] = pass.Name()
	}
	return names
}

func (p *Pipeline) String() string {
	return strings.Join(p.Names(), ",")
}

// Run applies every pass to fn and verifies the result.
func (p *Pipeline) Run(fn *ir.IRFunc) error {
	if fn.Empty() {
		return nil
	}
	ctx := &Context{}
	before := fn.NumInstrs()
	for _, pass := range p.passes {
		if pass.Run(fn, ctx) {
			log.Debugf("%s changed %s (%d instructions)", pass.Name(), fn.Name, fn.NumInstrs())
		}
	}
	if err := ir.Verify(fn, p.mod); err != nil {
		return fmt.Errorf("opt: after %s: %w", p, err)
	}
	log.Debugf("optimized %s: %d -> %d instructions", fn.Name, before, fn.NumInstrs())
	return nil
}
