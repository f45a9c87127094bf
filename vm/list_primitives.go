package vm

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

func listPrimitives() []*Native {
	car := func(name string) *Native {
		return fixed(name, 1, func(_ *Interpreter, args []Value) (Value, error) {
			l, err := expectList(name, args[0])
			if err != nil {
				return nil, err
			}
			head, ok := l.First()
			if !ok {
				return nil, TypeMismatch.New("%s of empty list", name)
			}
			return head, nil
		})
	}
	cdr := func(name string) *Native {
		return fixed(name, 1, func(_ *Interpreter, args []Value) (Value, error) {
			l, err := expectList(name, args[0])
			if err != nil {
				return nil, err
			}
			if l.IsEmpty() {
				return nil, TypeMismatch.New("%s of empty list", name)
			}
			return l.Rest(), nil
		})
	}
	isEmpty := func(name string) *Native {
		return fixed(name, 1, func(_ *Interpreter, args []Value) (Value, error) {
			l, ok := args[0].(List)
			return Boolean(ok && l.IsEmpty()), nil
		})
	}

	return []*Native{
		variadic("list", 0, func(_ *Interpreter, args []Value) (Value, error) {
			items := make([]Value, len(args))
			copy(items, args)
			return NewList(items...), nil
		}),
		// cons copies its tail, so a list built by repeated cons costs
		// O(n^2). The list natives below build their results directly.
		fixed("cons", 2, func(_ *Interpreter, args []Value) (Value, error) {
			tail, err := expectList("cons", args[1])
			if err != nil {
				return nil, err
			}
			return tail.Cons(args[0]), nil
		}),
		car("car"),
		cdr("cdr"),
		car("first"),
		cdr("rest"),
		isEmpty("null?"),
		isEmpty("empty?"),
		fixed("length", 1, func(_ *Interpreter, args []Value) (Value, error) {
			switch v := args[0].(type) {
			case List:
				return Integer(v.Len()), nil
			case String:
				return Integer(len([]rune(string(v)))), nil
			}
			return nil, typeError("length", "a list", args[0])
		}),
		variadic("append", 0, func(_ *Interpreter, args []Value) (Value, error) {
			var out List
			for _, arg := range args {
				l, err := expectList("append", arg)
				if err != nil {
					return nil, err
				}
				out = append(out, l...)
			}
			return NewList(out...), nil
		}),
		fixed("reverse", 1, func(_ *Interpreter, args []Value) (Value, error) {
			l, err := expectList("reverse", args[0])
			if err != nil {
				return nil, err
			}
			out := make(List, len(l))
			for i, v := range l {
				out[len(l)-1-i] = v
			}
			return NewList(out...), nil
		}),
		fixed("nth", 2, func(_ *Interpreter, args []Value) (Value, error) {
			l, err := expectList("nth", args[0])
			if err != nil {
				return nil, err
			}
			i, err := expectInteger("nth", args[1])
			if err != nil {
				return nil, err
			}
			if i < 0 || int(i) >= l.Len() {
				return nil, TypeMismatch.New("nth index %d out of range for list of length %d", i, l.Len())
			}
			return l[i], nil
		}),
		fixed("range", 2, func(_ *Interpreter, args []Value) (Value, error) {
			from, err := expectInteger("range", args[0])
			if err != nil {
				return nil, err
			}
			to, err := expectInteger("range", args[1])
			if err != nil {
				return nil, err
			}
			if to <= from {
				return Nil, nil
			}
			n := to - from
			if n < 0 || n > 1<<20 {
				n = 1 << 20
			}
			out := make(List, 0, int(n))
			for i := from; i < to; i++ {
				out = append(out, i)
			}
			return out, nil
		}),
	}
}
