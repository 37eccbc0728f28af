package adapter

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

// Unit is one executable form of a function: an interpreter symbol and the
// callable value bound to it.
type Unit struct {
	Name   string // interpreter symbol holding the unit
	Value  reflect.Value
	Source string // declaration the unit was compiled from
}

// Function is a live function of a Runtime. Its identity never changes;
// swapping replaces the unit every holder calls through.
type Function struct {
	name string
	rt   *Runtime
	decl *funcDecl
	unit atomic.Pointer[Unit]
}

// Name returns "F", "T.M" or "(*T).M".
func (f *Function) Name() string {
	return f.name
}

// Runtime returns the runtime the function lives in.
func (f *Function) Runtime() *Runtime {
	return f.rt
}

// Unit returns the unit calls currently go to.
func (f *Function) Unit() *Unit {
	return f.unit.Load()
}

// Source returns the original declaration text, the file holding it and the
// line it starts on.
func (f *Function) Source() (string, string, int) {
	return f.decl.text, f.decl.file, f.decl.line
}

// Swap makes u the unit of f and returns the previous one. Interpreted
// callers are redirected as well unless the function is generic.
func (f *Function) Swap(u *Unit) (*Unit, error) {
	if f.decl.target != "" {
		if err := f.rt.assign(f.decl.target, u.Name); err != nil {
			return nil, err
		}
	}

	return f.unit.Swap(u), nil
}

// Call invokes the current unit. Arguments are converted to the parameter
// types when possible. A panic inside the call is returned as an error.
func (f *Function) Call(args ...any) (out []any, err error) {
	v := f.unit.Load().Value
	typ := v.Type()

	if (typ.IsVariadic() && len(args) < typ.NumIn()-1) || (!typ.IsVariadic() && len(args) != typ.NumIn()) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", f.name, typ.NumIn(), len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		want := paramType(typ, i)

		if arg == nil {
			in[i] = reflect.Zero(want)

			continue
		}

		av := reflect.ValueOf(arg)

		switch {
		case av.Type().AssignableTo(want):
		case av.Type().ConvertibleTo(want):
			av = av.Convert(want)
		default:
			return nil, fmt.Errorf("argument %d of %s: %s is not %s", i, f.name, av.Type(), want)
		}

		in[i] = av
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", f.name, r)
		}
	}()

	results := v.Call(in)

	out = make([]any, len(results))
	for i, r := range results {
		out[i] = r.Interface()
	}

	return out, nil
}

func paramType(typ reflect.Type, i int) reflect.Type {
	if typ.IsVariadic() && i >= typ.NumIn()-1 {
		return typ.In(typ.NumIn() - 1).Elem()
	}

	return typ.In(i)
}

// Bind returns a typed Go function that calls the current unit of f on
// every invocation, so it follows later swaps.
func Bind[F any](f *Function) (F, error) {
	var zero F

	typ := reflect.TypeOf((*F)(nil)).Elem()
	if typ.Kind() != reflect.Func {
		return zero, fmt.Errorf("bind %s: %s is not a function type", f.name, typ)
	}

	if got := f.Unit().Value.Type(); got != typ {
		return zero, fmt.Errorf("bind %s: function has type %s, not %s", f.name, got, typ)
	}

	fn := reflect.MakeFunc(typ, func(args []reflect.Value) []reflect.Value {
		v := f.unit.Load().Value
		if typ.IsVariadic() {
			return v.CallSlice(args)
		}

		return v.Call(args)
	})

	return fn.Interface().(F), nil
}
