package domain

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// Content is the replacement code of a patch: source text parsed for the
// block it lands in, or nodes built by the caller.
type Content interface {
	// build returns the nodes to splice into dst.
	build(t *Tree, dst *block) ([]ast.Node, error)
}

type sourceContent struct{ text string }

type nodeContent struct{ nodes []ast.Node }

// Source returns content parsed from Go source text. Statements, case
// clauses, declarations, specs or fields are accepted depending on where the
// patch lands.
func Source(text string) Content {
	return sourceContent{text: text}
}

// Nodes returns content made of nodes the caller built. Each node must fit
// the block it is spliced into: statements into bodies, *ast.Field into
// field lists and so on.
func Nodes(nodes ...ast.Node) Content {
	return nodeContent{nodes: nodes}
}

func (c sourceContent) build(t *Tree, dst *block) ([]ast.Node, error) {
	var (
		prefix, suffix string
		extract        func(f *ast.File) []ast.Node
	)

	switch dst.kind {
	case kindStmt, kindCase, kindComm, kindElse:
		prefix, suffix = "package p\nfunc _() {\n", "\n}\n"
		extract = func(f *ast.File) []ast.Node {
			return stmtNodes(f.Decls[0].(*ast.FuncDecl).Body.List)
		}
	case kindClauses, kindSelect:
		prefix = "package p\nfunc _() {\nswitch {\n"
		if dst.tswitch {
			prefix = "package p\nfunc _() {\nswitch _x.(type) {\n"
		} else if dst.kind == kindSelect {
			prefix = "package p\nfunc _() {\nselect {\n"
		}

		suffix = "\n}\n}\n"
		extract = func(f *ast.File) []ast.Node {
			body := f.Decls[0].(*ast.FuncDecl).Body.List[0]
			switch s := body.(type) {
			case *ast.SwitchStmt:
				return stmtNodes(s.Body.List)
			case *ast.TypeSwitchStmt:
				return stmtNodes(s.Body.List)
			case *ast.SelectStmt:
				return stmtNodes(s.Body.List)
			}

			return nil
		}
	case kindDecl:
		prefix, suffix = "package p\n", "\n"
		extract = func(f *ast.File) []ast.Node {
			nodes := make([]ast.Node, len(f.Decls))
			for i, d := range f.Decls {
				nodes[i] = d
			}

			return nodes
		}
	case kindSpec:
		prefix, suffix = "package p\n"+dst.tok.String()+" (\n", "\n)\n"
		extract = func(f *ast.File) []ast.Node {
			specs := f.Decls[len(f.Decls)-1].(*ast.GenDecl).Specs
			nodes := make([]ast.Node, len(specs))
			for i, s := range specs {
				nodes[i] = s
			}

			return nodes
		}
	case kindField:
		prefix = "package p\ntype _ struct {\n"
		if dst.iface {
			prefix = "package p\ntype _ interface {\n"
		}

		suffix = "\n}\n"
		extract = func(f *ast.File) []ast.Node {
			typ := f.Decls[0].(*ast.GenDecl).Specs[0].(*ast.TypeSpec).Type
			switch typ := typ.(type) {
			case *ast.StructType:
				return fieldNodes(typ.Fields)
			case *ast.InterfaceType:
				return fieldNodes(typ.Methods)
			}

			return nil
		}
	default:
		return nil, newPatchError(CodeInvalidContent, "cannot splice into %s", dst.kind)
	}

	// Parsed into the tree's file set so positions stay ordered within the
	// content when the tree is printed.
	f, err := parser.ParseFile(t.fset, "<patch>", prefix+c.text+suffix, parser.SkipObjectResolution)
	if err != nil {
		return nil, &PatchError{Code: CodeInvalidContent, Message: fmt.Sprintf("content does not parse as %s", dst.kind), Err: err}
	}

	if dst.kind == kindDecl && len(f.Imports) > 0 {
		return nil, newPatchError(CodeInvalidContent, "imports in content are not allowed, use WithImports")
	}

	nodes := extract(f)
	if len(nodes) == 0 {
		return nil, newPatchError(CodeInvalidContent, "content %q holds no %s", strings.TrimSpace(c.text), dst.kind)
	}

	if dst.kind == kindElse {
		for _, n := range nodes {
			if !fits(n, dst) {
				return nil, newPatchError(CodeInvalidContent, "%T cannot follow else", n)
			}
		}
	}

	if err := checkLabels(nodes); err != nil {
		return nil, err
	}

	return nodes, nil
}

func (c nodeContent) build(_ *Tree, dst *block) ([]ast.Node, error) {
	if len(c.nodes) == 0 {
		return nil, newPatchError(CodeInvalidContent, "no nodes given")
	}

	for _, n := range c.nodes {
		if !fits(n, dst) {
			return nil, newPatchError(CodeInvalidContent, "%T cannot be spliced into %s", n, dst.kind)
		}
	}

	if err := checkLabels(c.nodes); err != nil {
		return nil, err
	}

	return c.nodes, nil
}

func fits(n ast.Node, dst *block) bool {
	switch dst.kind {
	case kindStmt, kindCase, kindComm:
		switch n.(type) {
		case *ast.CaseClause, *ast.CommClause:
			return false
		}

		_, ok := n.(ast.Stmt)

		return ok
	case kindClauses:
		_, ok := n.(*ast.CaseClause)

		return ok
	case kindSelect:
		_, ok := n.(*ast.CommClause)

		return ok
	case kindDecl:
		d, ok := n.(ast.Decl)
		if g, isGen := d.(*ast.GenDecl); isGen && g.Tok == token.IMPORT {
			return false
		}

		return ok
	case kindSpec:
		switch n.(type) {
		case *ast.ImportSpec:
			return dst.tok == token.IMPORT
		case *ast.TypeSpec:
			return dst.tok == token.TYPE
		case *ast.ValueSpec:
			return dst.tok == token.VAR || dst.tok == token.CONST
		}
	case kindField:
		_, ok := n.(*ast.Field)

		return ok
	case kindElse:
		switch n.(type) {
		case *ast.IfStmt, *ast.BlockStmt:
			return true
		}
	}

	return false
}

// checkLabels rejects goto, break and continue statements naming a label
// that the content does not define itself.
func checkLabels(nodes []ast.Node) error {
	defined := make(map[string]struct{})

	var branches []*ast.BranchStmt

	for _, n := range nodes {
		ast.Inspect(n, func(n ast.Node) bool {
			switch n := n.(type) {
			case *ast.FuncLit:
				return false
			case *ast.LabeledStmt:
				defined[n.Label.Name] = struct{}{}
			case *ast.BranchStmt:
				if n.Label != nil {
					branches = append(branches, n)
				}
			}

			return true
		})
	}

	for _, br := range branches {
		if _, ok := defined[br.Label.Name]; !ok {
			return newPatchError(CodeInvalidContent, "%s %s refers to a label outside the content", br.Tok, br.Label.Name)
		}
	}

	return nil
}
