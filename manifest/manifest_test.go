package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[vm]
max-frames = 500
trace = true

[repl]
history = "/tmp/hist"
prompt = "λ "

[load]
prelude = ["lib/util.lisp", "/abs/extra.lisp"]

[cache]
path = ".parens/cache.db"

[server]
port = 9000
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.VM.MaxFrames != 500 {
		t.Errorf("max-frames = %d, want 500", m.VM.MaxFrames)
	}
	if !m.VM.Trace {
		t.Error("trace = false, want true")
	}
	if m.REPL.Prompt != "λ " {
		t.Errorf("prompt = %q, want %q", m.REPL.Prompt, "λ ")
	}
	if got := m.HistoryPath(); got != "/tmp/hist" {
		t.Errorf("HistoryPath = %q, want /tmp/hist", got)
	}
	if m.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", m.Server.Port)
	}

	abs, _ := filepath.Abs(dir)
	paths := m.PreludePaths()
	if len(paths) != 2 {
		t.Fatalf("prelude paths = %v, want 2 entries", paths)
	}
	if paths[0] != filepath.Join(abs, "lib", "util.lisp") {
		t.Errorf("paths[0] = %q, want it under %s", paths[0], abs)
	}
	if paths[1] != "/abs/extra.lisp" {
		t.Errorf("paths[1] = %q, want /abs/extra.lisp", paths[1])
	}
	if got, want := m.CachePath(), filepath.Join(abs, ".parens", "cache.db"); got != want {
		t.Errorf("CachePath = %q, want %q", got, want)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[vm]\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.VM.MaxFrames != DefaultMaxFrames {
		t.Errorf("max-frames = %d, want %d", m.VM.MaxFrames, DefaultMaxFrames)
	}
	if m.REPL.Prompt != DefaultPrompt {
		t.Errorf("prompt = %q, want %q", m.REPL.Prompt, DefaultPrompt)
	}
	if m.Server.Port != DefaultPort {
		t.Errorf("port = %d, want %d", m.Server.Port, DefaultPort)
	}
	if m.CachePath() != "" {
		t.Errorf("CachePath = %q, want empty", m.CachePath())
	}
	if len(m.PreludePaths()) != 0 {
		t.Errorf("PreludePaths = %v, want none", m.PreludePaths())
	}
}

func TestDefault(t *testing.T) {
	m := Default()
	if m.VM.MaxFrames != DefaultMaxFrames || m.Server.Port != DefaultPort {
		t.Errorf("Default() = %+v, want default settings", m)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[vm\nmax-frames = 1", "parse error"},
		{"unknown key", "[vm]\nmax-frame = 1", "unknown setting"},
		{"negative frames", "[vm]\nmax-frames = -1", "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load err = %v, want it to mention %q", err, tt.want)
			}
		})
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load of a directory without parens.toml succeeded")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[server]\nport = 7000\n")

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Server.Port != 7000 {
		t.Errorf("port = %d, want 7000", m.Server.Port)
	}
	abs, _ := filepath.Abs(dir)
	if m.Dir != abs {
		t.Errorf("Dir = %q, want %q", m.Dir, abs)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no parens.toml exists")
	}
}
