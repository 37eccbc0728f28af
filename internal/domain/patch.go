package domain

import (
	m "github.com/mouse-blink/hotpatch/internal/model"
)

// Patch modes, re-exported for callers of the engine.
const (
	Before  = m.ModeBefore
	After   = m.ModeAfter
	Replace = m.ModeReplace
)

// PatchSpec is one requested edit of a target.
type PatchSpec struct {
	Target  Pattern
	Content Content
	Mode    m.Mode
	// Imports are added to the patched file (package targets) or to the
	// interpreter scope (function targets) so Content can use them.
	Imports []string
}

// PatchOption adjusts a PatchSpec built by Spec or Session.AddPatch.
type PatchOption func(*PatchSpec)

// WithImports makes the given import paths available to the content.
func WithImports(paths ...string) PatchOption {
	return func(s *PatchSpec) {
		s.Imports = append(s.Imports, paths...)
	}
}

// Spec builds a PatchSpec.
func Spec(target Pattern, content Content, mode m.Mode, opts ...PatchOption) PatchSpec {
	s := PatchSpec{Target: target, Content: content, Mode: mode}
	for _, opt := range opts {
		opt(&s)
	}

	return s
}

func (s PatchSpec) check() error {
	if s.Target == nil {
		return newPatchError(CodeInvalidPath, "patch has no target pattern")
	}

	if s.Content == nil {
		return newPatchError(CodeInvalidContent, "patch has no content")
	}

	if !s.Mode.Valid() {
		return newPatchError(CodeInvalidContent, "unknown mode %q", s.Mode)
	}

	return nil
}

// resolved is a PatchSpec together with the node it matched.
type resolved struct {
	spec  PatchSpec
	order int
	match *MatchResult
}

// resolveAll matches every spec against a tree.
func resolveAll(t *Tree, specs []PatchSpec) ([]resolved, error) {
	out := make([]resolved, 0, len(specs))

	for i, spec := range specs {
		match, err := spec.Target.resolve(t, t.roots)
		if err != nil {
			return nil, err
		}

		out = append(out, resolved{spec: spec, order: i, match: match})
	}

	return out, nil
}
