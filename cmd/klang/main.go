package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/term"

	"klang/internal/config"
	"klang/internal/driver"
	"klang/internal/image"
	"klang/internal/ir"
)

const VERSION = "0.1.0"

const usage = `Usage: klang [flags] [file|-]

Runs the forms in file (or standard input) one at a time. With no file and a
terminal on standard input, starts an interactive session.

Flags:
`

const helpText = `REPL commands:
  :ops     List binary operators and their precedence
  :ir      Print the IR of every callable
  :help    Show this text
  :quit    Exit
`

var (
	outPath    = flag.String("o", "", "write the compiled module image to `file`")
	loadPath   = flag.String("load", "", "load a module image before running")
	configPath = flag.String("config", "", "use this klang.toml instead of searching for one")
	verbosity  = flag.Int("v", -1, "log verbosity (overrides [log] verbosity)")
	dumpIR     = flag.Bool("dump-ir", false, "print the module IR after running")
	noOpt      = flag.Bool("no-opt", false, "disable the optimizer")
	emitLLVM   = flag.Bool("emit-llvm", false, "print the module as optimized LLVM IR (needs -tags llvm)")
)

// emitLLVMIR is set when the LLVM backend is compiled in.
var emitLLVMIR func(mod *ir.IRModule, passes []string) (string, error)

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}
	if *verbosity >= 0 {
		cfg.Log.Verbosity = *verbosity
	}
	if *noOpt {
		cfg.Optimizer.Enabled = false
	}
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogPath())

	sess, err := driver.New(cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}
	if *loadPath != "" {
		img, err := image.ReadFile(*loadPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return 1
		}
		if err := sess.Load(img); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return 1
		}
	}

	input := "-"
	if flag.NArg() > 0 {
		input = flag.Arg(0)
	}

	exitCode := 0
	if input == "-" && term.IsTerminal(int(os.Stdin.Fd())) {
		repl(sess, cfg)
	} else {
		src, err := readInput(input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: could not read %s: %s\n", input, err)
			return 1
		}
		if failed := report(sess.Eval(src)); failed > 0 {
			exitCode = 1
		}
	}

	if *dumpIR {
		fmt.Print(sess.Module().DebugDump())
	}
	if *emitLLVM {
		if emitLLVMIR == nil {
			fmt.Fprintln(os.Stderr, "Error: klang was built without LLVM support (rebuild with -tags llvm)")
			return 1
		}
		text, err := emitLLVMIR(sess.Module(), cfg.Optimizer.Passes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return 1
		}
		fmt.Print(text)
	}
	if *outPath != "" {
		if err := image.WriteFile(*outPath, sess.Image()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return 1
		}
	}
	return exitCode
}

func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		return config.LoadFile(*configPath)
	}
	wd, err := os.Getwd()
	if err != nil {
		return config.Default(), nil
	}
	return config.FindAndLoad(wd)
}

func readInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

// report prints the outcome of each form and returns how many failed.
func report(results []driver.Result) int {
	failed := 0
	for _, r := range results {
		for _, w := range r.Warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", w.Error())
		}
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", r.Err)
			failed++
			continue
		}
		switch r.Kind {
		case driver.KindDefinition:
			fmt.Fprintf(os.Stderr, "Read function definition: %s\n", r.Name)
		case driver.KindExtern:
			fmt.Fprintf(os.Stderr, "Read extern: %s\n", r.Name)
		case driver.KindExpression:
			fmt.Fprintf(os.Stderr, "Evaluated to %f\n", r.Value)
		}
	}
	return failed
}

// ---------------------------------------------------------------------------
// REPL
// ---------------------------------------------------------------------------

func repl(sess *driver.Session, cfg *config.Config) {
	fmt.Printf("klang %s\nCtrl+D exits. Type :help for commands.\n", VERSION)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if cfg.REPL.History != "" {
		if f, err := os.Open(cfg.REPL.History); err == nil {
			_, _ = ln.ReadHistory(f)
			_ = f.Close()
		}
		defer func() {
			if f, err := os.Create(cfg.REPL.History); err == nil {
				_, _ = ln.WriteHistory(f)
				_ = f.Close()
			}
		}()
	}

	for {
		src, ok := readForm(ln, sess, cfg.REPL.Prompt, cfg.REPL.Continuation)
		if !ok {
			fmt.Println()
			return
		}
		trimmed := strings.TrimSpace(src)
		if trimmed == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))

		if strings.HasPrefix(trimmed, ":") {
			if quit := command(sess, trimmed); quit {
				return
			}
			continue
		}
		report(sess.Eval(src))
	}
}

// readForm reads lines until they no longer end in the middle of a form.
func readForm(ln *liner.State, sess *driver.Session, prompt, cont string) (string, bool) {
	var b strings.Builder
	for {
		p := prompt
		if b.Len() > 0 {
			p = cont
		}
		line, err := ln.Prompt(p)
		if errors.Is(err, liner.ErrPromptAborted) {
			b.Reset()
			continue
		}
		if err != nil {
			// io.EOF on Ctrl+D.
			return "", false
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if strings.HasPrefix(strings.TrimSpace(b.String()), ":") || !sess.Incomplete(b.String()) {
			return b.String(), true
		}
	}
}

func command(sess *driver.Session, cmd string) (quit bool) {
	switch strings.ToLower(cmd) {
	case ":quit", ":q":
		return true
	case ":ops":
		for _, e := range sess.Operators() {
			kind := "user"
			if e.Builtin {
				kind = "builtin"
			}
			fmt.Printf("  %c  %3d  %s\n", e.Symbol, e.Precedence, kind)
		}
	case ":ir":
		fmt.Print(sess.Module().DebugDump())
	case ":help":
		fmt.Print(helpText)
	default:
		fmt.Println("unknown command. Type :help for commands.")
	}
	return false
}
