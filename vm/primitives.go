package vm

// installPrimitives binds the built-in library into the global scope.
func installPrimitives(g *Scope) {
	g.Define("true", Boolean(true))
	g.Define("false", Boolean(false))
	g.Define("nil", Nil)

	groups := [][]*Native{
		numberPrimitives(),
		comparisonPrimitives(),
		listPrimitives(),
		stringPrimitives(),
		procedurePrimitives(),
		outputPrimitives(),
	}
	for _, group := range groups {
		for _, n := range group {
			g.Define(Symbol(n.Name), n)
		}
	}
}

// fixed declares a native taking exactly arity arguments.
func fixed(name string, arity int, fn NativeFunc) *Native {
	return &Native{Name: name, Arity: arity, Fn: fn}
}

// variadic declares a native taking at least min arguments.
func variadic(name string, min int, fn NativeFunc) *Native {
	return &Native{Name: name, Arity: -1, Min: min, Fn: fn}
}

// ---------------------------------------------------------------------------
// Argument checks
// ---------------------------------------------------------------------------

func typeError(fn, want string, v Value) error {
	return TypeMismatch.New("%s expects %s, got %s %s", fn, want, v.Kind(), v)
}

func expectList(fn string, v Value) (List, error) {
	if l, ok := v.(List); ok {
		return l, nil
	}
	return nil, typeError(fn, "a list", v)
}

func expectString(fn string, v Value) (String, error) {
	if s, ok := v.(String); ok {
		return s, nil
	}
	return "", typeError(fn, "a string", v)
}

func expectInteger(fn string, v Value) (Integer, error) {
	if i, ok := v.(Integer); ok {
		return i, nil
	}
	return 0, typeError(fn, "an integer", v)
}

func expectCallable(fn string, v Value) (Value, error) {
	if IsCallable(v) {
		return v, nil
	}
	return nil, typeError(fn, "a procedure", v)
}
