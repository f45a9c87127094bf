package cache

import (
	"path/filepath"
	"testing"

	"github.com/chazu/parens/compiler"
	"github.com/chazu/parens/vm"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKey(t *testing.T) {
	if Key("(+ 1 2)") != Key("(+ 1 2)") {
		t.Error("Key is not deterministic")
	}
	if Key("(+ 1 2)") == Key("(+ 1 3)") {
		t.Error("different sources share a key")
	}
	if got := len(Key("")); got != 64 {
		t.Errorf("len(Key) = %d, want 64", got)
	}
}

func TestPutGet(t *testing.T) {
	s := openTemp(t)
	src := "(define (sq x) (* x x)) (sq 3)"

	if _, ok, err := s.Get(src); ok || err != nil {
		t.Fatalf("Get on empty cache = %v, %v, want miss", ok, err)
	}

	chunks, err := compiler.Compile(src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if err := s.Put(src, chunks); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(src)
	if err != nil || !ok {
		t.Fatalf("Get after Put = %v, %v, want hit", ok, err)
	}
	if len(got) != len(chunks) {
		t.Fatalf("cached %d chunks, want %d", len(got), len(chunks))
	}
	for i := range got {
		if got[i].Disassemble() != chunks[i].Disassemble() {
			t.Errorf("chunk %d differs after caching:\n%s\nwant:\n%s", i, got[i].Disassemble(), chunks[i].Disassemble())
		}
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 {
		t.Errorf("Stats = %+v, want 1 hit, 1 miss, 1 entry", st)
	}
}

func TestPutReplaces(t *testing.T) {
	s := openTemp(t)
	first, _ := compiler.Compile("1")
	second, _ := compiler.Compile("2")
	if err := s.Put("x", first); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("x", second); err != nil {
		t.Fatal(err)
	}
	got, _, _ := s.Get("x")
	if len(got) != 1 || !vm.Equal(got[0].Constants[0], vm.Integer(2)) {
		t.Errorf("Get after replace = %v, want the second entry", got)
	}
	st, _ := s.Stats()
	if st.Entries != 1 {
		t.Errorf("Entries = %d, want 1", st.Entries)
	}
}

func TestWrap(t *testing.T) {
	s := openTemp(t)
	calls := 0
	compile := s.Wrap(func(source string) ([]*vm.Chunk, error) {
		calls++
		return compiler.Compile(source)
	})

	for i := 0; i < 3; i++ {
		chunks, err := compile("(+ 40 2)")
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		v := vm.NewVM()
		r, err := v.ExecuteAll(chunks)
		if err != nil {
			t.Fatalf("ExecuteAll: %v", err)
		}
		if !vm.Equal(r, vm.Integer(42)) {
			t.Errorf("result = %s, want 42", r)
		}
	}
	if calls != 1 {
		t.Errorf("underlying compiler called %d times, want 1", calls)
	}

	// Failed compiles are not cached.
	for i := 0; i < 2; i++ {
		if _, err := compile("(if)"); err == nil {
			t.Fatal("compile of (if) succeeded")
		}
	}
	if calls != 3 {
		t.Errorf("underlying compiler called %d times, want 3", calls)
	}
}

func TestWrapWithVM(t *testing.T) {
	s := openTemp(t)
	v := vm.NewVM()
	v.UseCompiler(s.Wrap(compiler.Compile))
	if err := v.LoadPrelude(); err != nil {
		t.Fatalf("LoadPrelude: %v", err)
	}
	r, err := v.EvalString("(inc 41)")
	if err != nil {
		t.Fatalf("EvalString: %v", err)
	}
	if !vm.Equal(r, vm.Integer(42)) {
		t.Errorf("result = %s, want 42", r)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	chunks, _ := compiler.Compile("'(a b)")
	if err := s.Put("'(a b)", chunks); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok, err := s.Get("'(a b)"); !ok || err != nil {
		t.Errorf("Get after reopen = %v, %v, want hit", ok, err)
	}
}

func TestCorruptEntryIsMiss(t *testing.T) {
	s := openTemp(t)
	if _, err := s.db.Exec("INSERT INTO chunks (hash, image, created_at) VALUES (?, ?, 0)", Key("bad"), []byte("junk")); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.Get("bad"); ok || err != nil {
		t.Errorf("Get of corrupt entry = %v, %v, want miss", ok, err)
	}
}

func TestPurge(t *testing.T) {
	s := openTemp(t)
	chunks, _ := compiler.Compile("1")
	s.Put("1", chunks)
	if err := s.Purge(); err != nil {
		t.Fatal(err)
	}
	st, _ := s.Stats()
	if st.Entries != 0 {
		t.Errorf("Entries after Purge = %d, want 0", st.Entries)
	}
}

func TestMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	defer s.Close()
	chunks, _ := compiler.Compile("1")
	if err := s.Put("1", chunks); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get("1"); !ok {
		t.Error("in-memory cache missed")
	}
}
