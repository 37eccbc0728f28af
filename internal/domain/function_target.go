package domain

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mouse-blink/hotpatch/internal/adapter"
)

// FunctionTarget patches a live interpreted function.
type FunctionTarget struct {
	fn *adapter.Function
}

// Func targets fn. Every holder of fn, and every typed wrapper made with
// adapter.Bind, observes the patched body once the session is active.
func Func(fn *adapter.Function) *FunctionTarget {
	return &FunctionTarget{fn: fn}
}

// Name implements Target.
func (t *FunctionTarget) Name() string {
	if t.fn == nil {
		return "<nil>"
	}

	return t.fn.Name()
}

func (t *FunctionTarget) key() any { return t.fn }

func (t *FunctionTarget) check() error {
	if t.fn == nil {
		return newPatchError(CodeUnpatchableTarget, "nil function")
	}

	switch t.fn.Name() {
	case "", "_":
		return newPatchError(CodeUnpatchableTarget, "anonymous functions cannot be patched")
	}

	if text, _, _ := t.fn.Source(); text == "" {
		return newPatchError(CodeUnpatchableTarget, "source of %s is not available", t.fn.Name())
	}

	return nil
}

func (t *FunctionTarget) prepare(specs []PatchSpec, logger *zap.Logger) (installer, error) {
	out, err := PreviewFunction(t.fn, specs)
	if err != nil {
		return nil, err
	}

	var imports []string
	for _, s := range specs {
		imports = append(imports, s.Imports...)
	}

	unit, err := t.fn.Runtime().CompileFunc(t.fn, out.Text, imports)
	if err != nil {
		return nil, &PatchError{Code: CodeInvalidContent, Message: "compile patched function", Err: err}
	}

	if want, got := t.fn.Unit().Value.Type(), unit.Value.Type(); want != got {
		return nil, newPatchError(CodeSignatureMismatch, "compiled unit has type %s, original has %s", got, want)
	}

	logger.Debug("function prepared", zap.String("function", t.fn.Name()), zap.String("unit", unit.Name))

	return &functionInstall{fn: t.fn, unit: unit}, nil
}

// PreviewFunction resolves, validates and splices specs against the source
// of fn without compiling or installing anything.
func PreviewFunction(fn *adapter.Function, specs []PatchSpec) (*Spliced, error) {
	parser := fn.Runtime().Parser()
	text, file, line := fn.Source()

	tree, err := ParseFunc(parser, file, text, line)
	if err != nil {
		return nil, err
	}

	signature, err := parser.Format(tree.fset, tree.decl.Type)
	if err != nil {
		return nil, fmt.Errorf("print signature of %s: %w", fn.Name(), err)
	}

	out, err := applySpecs(parser, tree, specs)
	if err != nil {
		return nil, err
	}

	patched, err := parser.Format(out.Tree.fset, out.Tree.decl.Type)
	if err != nil {
		return nil, fmt.Errorf("print patched signature of %s: %w", fn.Name(), err)
	}

	if normalize(string(signature)) != normalize(string(patched)) {
		return nil, newPatchError(CodeSignatureMismatch, "signature changed from %s to %s", signature, patched)
	}

	return out, nil
}

// applySpecs runs the matcher, the validator and the splicer over tree.
func applySpecs(parser adapter.GoFileAdapter, tree *Tree, specs []PatchSpec) (*Spliced, error) {
	matches, err := resolveAll(tree, specs)
	if err != nil {
		return nil, err
	}

	if err := validate(matches); err != nil {
		return nil, err
	}

	out, err := splice(parser, tree, matches)
	if err != nil {
		return nil, err
	}

	for _, r := range matches {
		out.Matches = append(out.Matches, r.match)
	}

	return out, nil
}

type functionInstall struct {
	fn   *adapter.Function
	unit *adapter.Unit
}

func (i *functionInstall) install() (UndoToken, error) {
	return Rebind(i.fn, i.unit)
}

// Rebind makes unit the body of fn and returns a token that restores the
// previous unit.
func Rebind(fn *adapter.Function, unit *adapter.Unit) (UndoToken, error) {
	prev, err := fn.Swap(unit)
	if err != nil {
		return nil, err
	}

	return &functionUndo{fn: fn, prev: prev}, nil
}

type functionUndo struct {
	fn   *adapter.Function
	prev *adapter.Unit
}

func (u *functionUndo) Revert() error {
	if _, err := u.fn.Swap(u.prev); err != nil {
		return fmt.Errorf("restore %s: %w", u.fn.Name(), err)
	}

	return nil
}

// asUnpatchable turns a missing-source error from the runtime into
// ErrUnpatchableTarget.
func asUnpatchable(err error, name string) error {
	if errors.Is(err, adapter.ErrNoSource) {
		return &PatchError{Code: CodeUnpatchableTarget, Target: name, Message: "source not available", Err: err}
	}

	return err
}
