package vm

// ---------------------------------------------------------------------------
// Comparison, equality and type predicates
// ---------------------------------------------------------------------------

func comparisonPrimitives() []*Native {
	return []*Native{
		variadic("=", 1, func(_ *Interpreter, args []Value) (Value, error) {
			// Numbers of different kinds are never equal: (= 1 1.0) is false.
			result := true
			for i, arg := range args {
				if !IsNumber(arg) {
					return nil, typeError("=", "numbers", arg)
				}
				if i > 0 && !Equal(args[i-1], arg) {
					result = false
				}
			}
			return Boolean(result), nil
		}),
		chain("<", func(c int) bool { return c < 0 }),
		chain(">", func(c int) bool { return c > 0 }),
		chain("<=", func(c int) bool { return c <= 0 }),
		chain(">=", func(c int) bool { return c >= 0 }),

		fixed("eq?", 2, func(_ *Interpreter, args []Value) (Value, error) {
			return Boolean(identical(args[0], args[1])), nil
		}),
		fixed("equal?", 2, func(_ *Interpreter, args []Value) (Value, error) {
			return Boolean(Equal(args[0], args[1])), nil
		}),
		fixed("not", 1, func(_ *Interpreter, args []Value) (Value, error) {
			return Boolean(!Truthy(args[0])), nil
		}),

		predicate("number?", IsNumber),
		predicate("integer?", func(v Value) bool { return v.Kind() == KindInteger }),
		predicate("float?", func(v Value) bool { return v.Kind() == KindFloat }),
		predicate("string?", func(v Value) bool { return v.Kind() == KindString }),
		predicate("symbol?", func(v Value) bool { return v.Kind() == KindSymbol }),
		predicate("list?", func(v Value) bool { return v.Kind() == KindList }),
		predicate("boolean?", func(v Value) bool { return v.Kind() == KindBoolean }),
		predicate("procedure?", IsCallable),
	}
}

// chain builds a numeric comparison that holds when ok holds for every
// adjacent pair of arguments.
func chain(name string, ok func(int) bool) *Native {
	return variadic(name, 1, func(_ *Interpreter, args []Value) (Value, error) {
		if !IsNumber(args[0]) {
			return nil, typeError(name, "numbers", args[0])
		}
		result := true
		for i := 1; i < len(args); i++ {
			c, err := compareNumbers(name, args[i-1], args[i])
			if err != nil {
				return nil, err
			}
			if !ok(c) {
				result = false
			}
		}
		return Boolean(result), nil
	})
}

func predicate(name string, test func(Value) bool) *Native {
	return fixed(name, 1, func(_ *Interpreter, args []Value) (Value, error) {
		return Boolean(test(args[0])), nil
	})
}

// identical is eq?: atoms compare by value, lists by backing storage,
// procedures by pointer. Two empty lists are always identical.
func identical(a, b Value) bool {
	x, ok := a.(List)
	if !ok {
		if _, isList := b.(List); isList {
			return false
		}
		return Equal(a, b)
	}
	y, ok := b.(List)
	if !ok {
		return false
	}
	if len(x) == 0 || len(y) == 0 {
		return len(x) == len(y)
	}
	return len(x) == len(y) && &x[0] == &y[0]
}
