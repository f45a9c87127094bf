package vm

import "sort"

// Scope is one level of the lexical environment. Scopes link to their parent;
// the root of every chain is the VM's global scope.
//
// Closures hold a pointer to the scope they were created in, and that scope
// may hold the closure itself (a recursive define). Such cycles are left to
// the garbage collector.
type Scope struct {
	vars   map[Symbol]Value
	parent *Scope
}

// NewScope creates an empty scope whose lookups fall through to parent.
func NewScope(parent *Scope) *Scope {
	return &Scope{parent: parent}
}

// Parent returns the enclosing scope, or nil for the global scope.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// Define binds name in this scope, overwriting any existing binding here.
// Bindings in enclosing scopes are shadowed, not modified.
func (s *Scope) Define(name Symbol, v Value) {
	if s.vars == nil {
		s.vars = make(map[Symbol]Value, 4)
	}
	s.vars[name] = v
}

// Lookup finds the innermost binding of name.
func (s *Scope) Lookup(name Symbol) (Value, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set replaces the innermost existing binding of name. It returns false when
// no scope in the chain binds name.
func (s *Scope) Set(name Symbol, v Value) bool {
	for sc := s; sc != nil; sc = sc.parent {
		if _, ok := sc.vars[name]; ok {
			sc.vars[name] = v
			return true
		}
	}
	return false
}

// Has reports whether this scope itself binds name.
func (s *Scope) Has(name Symbol) bool {
	_, ok := s.vars[name]
	return ok
}

// Names returns the names bound in this scope, sorted.
func (s *Scope) Names() []Symbol {
	names := make([]Symbol, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Depth returns the number of scopes between s and the root, inclusive.
func (s *Scope) Depth() int {
	n := 0
	for sc := s; sc != nil; sc = sc.parent {
		n++
	}
	return n
}
