package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	c := Default()
	if !c.Optimizer.Enabled {
		t.Error("optimizer should be enabled by default")
	}
	if got := strings.Join(c.Optimizer.Passes, ","); got != "basic-aa,mem2reg,instcombine,reassociate,gvn,simplifycfg" {
		t.Errorf("passes: got %s", got)
	}
	if c.Engine.MaxSteps != 0 {
		t.Errorf("max-steps: got %d, want 0 (unlimited)", c.Engine.MaxSteps)
	}
	if c.REPL.Prompt != "ready> " {
		t.Errorf("prompt: got %q", c.REPL.Prompt)
	}
	if c.LogPath() != nil {
		t.Error("default log goes to stderr")
	}
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
[optimizer]
enabled = false

[engine]
max-call-depth = 64
max-steps = 1000000

[log]
verbosity = 2
file = "klang.log"
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Optimizer.Enabled {
		t.Error("optimizer should be disabled")
	}
	if len(c.Optimizer.Passes) != 6 {
		t.Errorf("passes should default, got %v", c.Optimizer.Passes)
	}
	if c.Engine.MaxCallDepth != 64 || c.Engine.MaxSteps != 1000000 {
		t.Errorf("engine: got %+v", c.Engine)
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("verbosity: got %d", c.Log.Verbosity)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	if _, err := Parse([]byte("[engine]\nmax-stpes = 5\n")); err == nil {
		t.Fatal("expected an error for a misspelt key")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("[log]\nfile = \"out.log\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	wantDir, _ := filepath.Abs(root)
	if c.Dir != wantDir {
		t.Errorf("Dir: got %s, want %s", c.Dir, wantDir)
	}
	if p := c.LogPath(); p == nil || *p != filepath.Join(wantDir, "out.log") {
		t.Errorf("LogPath: got %v", p)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected an error for a missing klang.toml")
	}
}
