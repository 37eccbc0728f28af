package domain

import (
	"go/ast"

	m "github.com/mouse-blink/hotpatch/internal/model"
)

// validate checks the resolved patches of one target against each other.
// Patches on the same node may only stack when they all insert before or
// all insert after it. No patch may land inside a node being replaced.
func validate(patches []resolved) error {
	var order []ast.Node

	groups := make(map[ast.Node][]resolved)

	for _, p := range patches {
		if _, ok := groups[p.match.Node]; !ok {
			order = append(order, p.match.Node)
		}

		groups[p.match.Node] = append(groups[p.match.Node], p)
	}

	for _, node := range order {
		group := groups[node]
		if len(group) < 2 {
			continue
		}

		first := group[0]
		for _, p := range group[1:] {
			if p.spec.Mode == m.ModeReplace || first.spec.Mode == m.ModeReplace || p.spec.Mode != first.spec.Mode {
				pe := newPatchError(CodeConflict, "%s and %s patches on the same statement %q", first.spec.Mode, p.spec.Mode, first.match.Text)
				pe.Lines = []int{first.match.Line}

				return pe
			}
		}
	}

	for _, r := range patches {
		if r.spec.Mode != m.ModeReplace {
			continue
		}

		for _, p := range patches {
			if p.match.Node == r.match.Node || p.match.File != r.match.File {
				continue
			}

			if r.match.Node.Pos() <= p.match.Node.Pos() && p.match.Node.End() <= r.match.Node.End() {
				pe := newPatchError(CodeConflict, "%s patch on %q lies inside the statement replaced at line %d", p.spec.Mode, p.match.Text, r.match.Line)
				pe.Lines = []int{r.match.Line, p.match.Line}

				return pe
			}
		}
	}

	return nil
}
