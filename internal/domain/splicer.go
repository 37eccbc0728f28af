package domain

import (
	"go/ast"
	"go/token"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/mouse-blink/hotpatch/internal/adapter"
	m "github.com/mouse-blink/hotpatch/internal/model"
)

// Spliced is the outcome of applying patches to a tree.
type Spliced struct {
	// Tree is the patched tree parsed again from its printed form, so every
	// node carries positions consistent with Text or Files.
	Tree *Tree
	// Text is the printed function declaration (function trees).
	Text string
	// Files holds the printed files that changed (package trees).
	Files map[string][]byte
	// Matches holds, in spec order, where each spec resolved in the
	// unpatched tree.
	Matches []*MatchResult
}

type edit struct {
	before, after []ast.Node
	replace       []ast.Node
	replaced      bool
}

// splice applies validated patches to t, which must be a tree parsed for
// this splice alone. Positions come from the match results, taken before
// any list is rewritten, and every affected list is rebuilt once.
func splice(parser adapter.GoFileAdapter, t *Tree, patches []resolved) (*Spliced, error) {
	var owners []ast.Node

	blocks := make(map[ast.Node]*block)
	edits := make(map[ast.Node]map[int]*edit)
	changed := make(map[*sourceFile]bool)

	for _, p := range patches {
		b := p.match.block

		if _, ok := blocks[b.owner]; !ok {
			owners = append(owners, b.owner)
			blocks[b.owner] = b
			edits[b.owner] = make(map[int]*edit)
		}

		nodes, err := p.spec.Content.build(t, b)
		if err != nil {
			return nil, err
		}

		e := edits[b.owner][p.match.Index]
		if e == nil {
			e = &edit{}
			edits[b.owner][p.match.Index] = e
		}

		switch p.spec.Mode {
		case m.ModeBefore:
			e.before = append(e.before, nodes...)
		case m.ModeAfter:
			e.after = append(e.after, nodes...)
		case m.ModeReplace:
			e.replace = nodes
			e.replaced = true
		}

		if t.decl == nil {
			for _, path := range p.spec.Imports {
				astutil.AddImport(t.fset, b.file.file, path)
			}
		}

		changed[b.file] = true
	}

	for _, owner := range owners {
		b := blocks[owner]
		byIndex := edits[owner]

		out := make([]ast.Node, 0, len(b.nodes))

		for i, n := range b.nodes {
			e := byIndex[i]
			if e == nil {
				out = append(out, n)

				continue
			}

			out = append(out, e.before...)

			if e.replaced {
				out = append(out, e.replace...)
			} else {
				out = append(out, n)
			}

			out = append(out, e.after...)
		}

		if b.kind == kindElse && len(out) != 1 {
			return nil, newPatchError(CodeInvalidContent, "else takes one if statement or block, got %d statements", len(out))
		}

		b.store(out)
	}

	if t.decl != nil {
		return t.spliceFunc(parser)
	}

	return t.splicePackage(parser, changed)
}

func (t *Tree) spliceFunc(parser adapter.GoFileAdapter) (*Spliced, error) {
	out, err := parser.Format(t.fset, t.decl)
	if err != nil {
		return nil, &PatchError{Code: CodeInvalidContent, Message: "print patched function", Err: err}
	}

	text := string(out)

	tree, err := ParseFunc(parser, t.files[0].name, text, t.start)
	if err != nil {
		return nil, &PatchError{Code: CodeInvalidContent, Message: "patched function does not parse", Err: err}
	}

	return &Spliced{Tree: tree, Text: text}, nil
}

func (t *Tree) splicePackage(parser adapter.GoFileAdapter, changed map[*sourceFile]bool) (*Spliced, error) {
	all := make(map[string][]byte, len(t.files))
	out := make(map[string][]byte, len(changed))

	for _, sf := range t.files {
		if !changed[sf] {
			all[sf.name] = sf.src

			continue
		}

		src, err := printFile(parser, t.fset, sf.file)
		if err != nil {
			return nil, &PatchError{Code: CodeInvalidContent, Message: "print patched " + sf.name, Err: err}
		}

		all[sf.name] = src
		out[sf.name] = src
	}

	tree, err := ParsePackage(parser, all)
	if err != nil {
		return nil, &PatchError{Code: CodeInvalidContent, Message: "patched package does not parse", Err: err}
	}

	return &Spliced{Tree: tree, Files: out}, nil
}

// printFile prints a patched file. Only the comments above the package
// clause are kept: they hold build constraints, and the rest would be
// printed next to whichever node follows their old position.
func printFile(parser adapter.GoFileAdapter, fset *token.FileSet, f *ast.File) ([]byte, error) {
	var header []*ast.CommentGroup

	for _, cg := range f.Comments {
		if cg.End() < f.Package {
			header = append(header, cg)
		}
	}

	f.Comments = header

	return parser.Format(fset, f)
}
