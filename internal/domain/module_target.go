package domain

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mouse-blink/hotpatch/internal/adapter"
)

// ModuleState is the interception state of a package target.
type ModuleState int

// Package target states.
const (
	// Pending means no patched source has been produced yet.
	Pending ModuleState = iota
	// Intercepting means the loader hook is rewriting the package.
	Intercepting
	// Installed means the interpreter received the patched package.
	Installed
)

func (s ModuleState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Intercepting:
		return "intercepting"
	case Installed:
		return "installed"
	}

	return fmt.Sprintf("ModuleState(%d)", int(s))
}

// ModuleTarget patches a package of a runtime before its first import.
type ModuleTarget struct {
	rt   *adapter.Runtime
	path string

	mu    sync.Mutex
	state ModuleState
	loads int
}

type moduleKey struct {
	rt   *adapter.Runtime
	path string
}

// Module targets the package importPath of rt. Patches are applied when the
// interpreter first reads the package, so the session must be active before
// anything imports it.
func Module(rt *adapter.Runtime, importPath string) *ModuleTarget {
	return &ModuleTarget{rt: rt, path: importPath}
}

// Name implements Target.
func (t *ModuleTarget) Name() string {
	return t.path
}

// State returns the interception state.
func (t *ModuleTarget) State() ModuleState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// Loads returns how many times the package source was rewritten.
func (t *ModuleTarget) Loads() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.loads
}

func (t *ModuleTarget) key() any { return moduleKey{rt: t.rt, path: t.path} }

func (t *ModuleTarget) check() error {
	if t.rt == nil || t.path == "" {
		return newPatchError(CodeUnpatchableTarget, "package target needs a runtime and an import path")
	}

	return nil
}

func (t *ModuleTarget) prepare(specs []PatchSpec, logger *zap.Logger) (installer, error) {
	if t.rt.Loaded(t.path) {
		return nil, newPatchError(CodeAlreadyLoaded, "package %s was imported before its patches were activated", t.path)
	}

	// Dry run: every pattern and content must resolve against the current
	// source before the hook is registered.
	if _, err := PreviewModule(t.rt, t.path, specs); err != nil {
		return nil, err
	}

	logger.Debug("package prepared", zap.String("package", t.path), zap.Int("patches", len(specs)))

	return &moduleInstall{target: t, specs: specs, logger: logger}, nil
}

// PreviewModule resolves, validates and splices specs against the source of
// the package importPath without registering anything.
func PreviewModule(rt *adapter.Runtime, importPath string, specs []PatchSpec) (*Spliced, error) {
	files, err := rt.PackageSource(importPath)
	if err != nil {
		return nil, asUnpatchable(err, importPath)
	}

	return patchPackage(rt.Parser(), files, specs)
}

func patchPackage(parser adapter.GoFileAdapter, files map[string][]byte, specs []PatchSpec) (*Spliced, error) {
	tree, err := ParsePackage(parser, files)
	if err != nil {
		return nil, err
	}

	return applySpecs(parser, tree, specs)
}

type moduleInstall struct {
	target *ModuleTarget
	specs  []PatchSpec
	logger *zap.Logger
}

func (i *moduleInstall) install() (UndoToken, error) {
	t := i.target

	if err := t.rt.SetLoaderHook(t.path, i.transform); err != nil {
		return nil, &PatchError{Code: CodeAlreadyLoaded, Target: t.path, Message: "register loader hook", Err: err}
	}

	return &moduleUndo{target: t, logger: i.logger}, nil
}

// transform is the loader hook. It runs once, on the first read of the
// package, against the source as it is at that moment.
func (i *moduleInstall) transform(files map[string][]byte) (map[string][]byte, error) {
	t := i.target

	t.mu.Lock()
	t.state = Intercepting
	t.mu.Unlock()

	out, err := patchPackage(t.rt.Parser(), files, i.specs)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.state = Pending

		return nil, withTarget(err, t.path)
	}

	for name, src := range out.Files {
		t.rt.Persist("module", t.path, name, src)
	}

	t.state = Installed
	t.loads++

	i.logger.Debug("package patched", zap.String("package", t.path), zap.Int("files", len(out.Files)))

	return out.Files, nil
}

type moduleUndo struct {
	target *ModuleTarget
	logger *zap.Logger
}

// Revert removes the loader hook. A package the interpreter already
// compiled cannot be unloaded and stays patched in that runtime.
func (u *moduleUndo) Revert() error {
	t := u.target
	t.rt.ClearLoaderHook(t.path)

	if t.State() == Installed {
		u.logger.Warn("package stays patched until the runtime is discarded", zap.String("package", t.path))
	}

	return nil
}
