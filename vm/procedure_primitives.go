package vm

// ---------------------------------------------------------------------------
// Higher-order procedures
// ---------------------------------------------------------------------------

// These call back into the interpreter through Apply, so a closure passed to
// map runs on the same stacks and counts against the same frame limit.

func procedurePrimitives() []*Native {
	return []*Native{
		variadic("apply", 2, func(in *Interpreter, args []Value) (Value, error) {
			fn, err := expectCallable("apply", args[0])
			if err != nil {
				return nil, err
			}
			spread, err := expectList("apply", args[len(args)-1])
			if err != nil {
				return nil, err
			}
			callArgs := make([]Value, 0, len(args)-2+len(spread))
			callArgs = append(callArgs, args[1:len(args)-1]...)
			callArgs = append(callArgs, spread...)
			return in.Apply(fn, callArgs)
		}),
		variadic("map", 2, func(in *Interpreter, args []Value) (Value, error) {
			fn, err := expectCallable("map", args[0])
			if err != nil {
				return nil, err
			}
			lists, n, err := listArgs("map", args[1:])
			if err != nil {
				return nil, err
			}
			out := make(List, n)
			for i := 0; i < n; i++ {
				callArgs := make([]Value, len(lists))
				for j, l := range lists {
					callArgs[j] = l[i]
				}
				v, err := in.Apply(fn, callArgs)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return NewList(out...), nil
		}),
		fixed("filter", 2, func(in *Interpreter, args []Value) (Value, error) {
			fn, err := expectCallable("filter", args[0])
			if err != nil {
				return nil, err
			}
			l, err := expectList("filter", args[1])
			if err != nil {
				return nil, err
			}
			var out List
			for _, item := range l {
				keep, err := in.Apply(fn, []Value{item})
				if err != nil {
					return nil, err
				}
				if Truthy(keep) {
					out = append(out, item)
				}
			}
			return NewList(out...), nil
		}),
		fixed("reduce", 3, func(in *Interpreter, args []Value) (Value, error) {
			fn, err := expectCallable("reduce", args[0])
			if err != nil {
				return nil, err
			}
			l, err := expectList("reduce", args[2])
			if err != nil {
				return nil, err
			}
			acc := args[1]
			for _, item := range l {
				acc, err = in.Apply(fn, []Value{acc, item})
				if err != nil {
					return nil, err
				}
			}
			return acc, nil
		}),
		variadic("for-each", 2, func(in *Interpreter, args []Value) (Value, error) {
			fn, err := expectCallable("for-each", args[0])
			if err != nil {
				return nil, err
			}
			lists, n, err := listArgs("for-each", args[1:])
			if err != nil {
				return nil, err
			}
			for i := 0; i < n; i++ {
				callArgs := make([]Value, len(lists))
				for j, l := range lists {
					callArgs[j] = l[i]
				}
				if _, err := in.Apply(fn, callArgs); err != nil {
					return nil, err
				}
			}
			return Nil, nil
		}),
	}
}

// listArgs checks that every argument is a list and returns the length of
// the shortest.
func listArgs(name string, args []Value) ([]List, int, error) {
	lists := make([]List, len(args))
	n := -1
	for i, arg := range args {
		l, err := expectList(name, arg)
		if err != nil {
			return nil, 0, err
		}
		lists[i] = l
		if n < 0 || l.Len() < n {
			n = l.Len()
		}
	}
	return lists, n, nil
}
