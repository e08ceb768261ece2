package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/regc/store"
	"github.com/chazu/regc/vm"
)

const graphSrc = `
entry = "main"

[[functions]]
name = "main"
params = [{ name = "a", type = "u32" }, { name = "b", type = "u32" }]
results = ["u32"]
  [[functions.blocks]]
  name = "start"
  instructions = [
    { result = "c", op = "lt", type = "u1", args = ["a", "b"] },
    { op = "constrain", args = ["c"], message = "a >= b" },
    { result = "s", op = "add", type = "u32", args = ["a", "b"] },
    { op = "return", args = ["s"] },
  ]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestTextOutput(t *testing.T) {
	graph := writeFile(t, t.TempDir(), "graph.toml", graphSrc)
	code, out, errOut := runCLI(t, "-format", "text", graph)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	want := []string{"0000  JMP -> 0003", "0001  TRAP", "0002  STOP"}
	if len(lines) < len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
}

func TestCBOROutputFile(t *testing.T) {
	dir := t.TempDir()
	graph := writeFile(t, dir, "graph.toml", graphSrc)
	outPath := filepath.Join(dir, "out", "main.bc")
	code, _, errOut := runCLI(t, "-o", outPath, graph)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	p, err := vm.UnmarshalProgram(data)
	if err != nil {
		t.Fatalf("UnmarshalProgram: %v", err)
	}
	if p.Entry != "main" || len(p.Params) != 2 || p.Results != 1 {
		t.Errorf("program = entry %q, %d params, %d results", p.Entry, len(p.Params), p.Results)
	}
}

func TestRun(t *testing.T) {
	graph := writeFile(t, t.TempDir(), "graph.toml", graphSrc)
	code, out, errOut := runCLI(t, "-run", "-arg", "a=2", "-arg", "b=40", graph)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "r0 = 42\n" {
		t.Errorf("output = %q, want %q", out, "r0 = 42\n")
	}
}

func TestRunTrap(t *testing.T) {
	graph := writeFile(t, t.TempDir(), "graph.toml", graphSrc)
	code, _, errOut := runCLI(t, "-run", "-arg", "a=5", "-arg", "b=1", graph)
	if code != 3 {
		t.Errorf("exit %d, want 3 (%s)", code, errOut)
	}
}

func TestManifestSettings(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "graph.toml", graphSrc)
	writeFile(t, dir, "regc.toml", `
[project]
name = "cli"

[compile]
graph = "graph.toml"
entry = "main"

[output]
path = "main.txt"
format = "text"

[cache]
path = "cache.db"
enabled = true
`)
	code, out, errOut := runCLI(t, filepath.Join(dir, "graph.toml"))
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "" {
		t.Errorf("stdout = %q, want output written to file", out)
	}
	text, err := os.ReadFile(filepath.Join(dir, "main.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(text), "0000  JMP -> 0003\n") {
		t.Errorf("main.txt starts %q", string(text)[:min(len(text), 20)])
	}

	s, err := store.Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	keys, err := s.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || !strings.HasSuffix(keys[0], ":main:r16") {
		t.Errorf("cache keys = %v, want one main:r16 entry", keys)
	}
}

func TestCacheHit(t *testing.T) {
	dir := t.TempDir()
	graph := writeFile(t, dir, "graph.toml", graphSrc)
	cache := filepath.Join(dir, "cache.db")

	_, first, _ := runCLI(t, "-cache", cache, "-format", "text", graph)
	code, second, errOut := runCLI(t, "-cache", cache, "-format", "text", graph)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if first != second {
		t.Errorf("cached output differs:\n%s\nwant:\n%s", second, first)
	}
}

func TestUsageErrors(t *testing.T) {
	graph := writeFile(t, t.TempDir(), "graph.toml", graphSrc)
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"bad flag", []string{"-nope", graph}, 2},
		{"two graphs", []string{graph, graph}, 2},
		{"bad format", []string{"-format", "json", graph}, 1},
		{"bad arg", []string{"-arg", "novalue", graph}, 2},
		{"missing graph", []string{filepath.Join(t.TempDir(), "none.toml")}, 1},
		{"unknown entry", []string{"-entry", "nope", graph}, 1},
		{"missing run arg", []string{"-run", "-arg", "a=1", graph}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runCLI(t, tt.args...); code != tt.want {
				t.Errorf("exit %d, want %d", code, tt.want)
			}
		})
	}
}

func TestCacheRenamedParam(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache.db")
	first := writeFile(t, dir, "first.toml", graphSrc)
	renamed := writeFile(t, dir, "renamed.toml", strings.Replace(graphSrc, `"a"`, `"x"`, -1))

	if code, _, errOut := runCLI(t, "-cache", cache, "-run", "-arg", "a=1", "-arg", "b=2", first); code != 0 {
		t.Fatalf("first run: exit %d: %s", code, errOut)
	}
	code, out, errOut := runCLI(t, "-cache", cache, "-run", "-arg", "x=1", "-arg", "b=2", renamed)
	if code != 0 {
		t.Fatalf("renamed run: exit %d: %s", code, errOut)
	}
	if out != "r0 = 3\n" {
		t.Errorf("output = %q, want %q", out, "r0 = 3\n")
	}
}
