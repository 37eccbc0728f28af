package domain

import (
	"fmt"
	"go/ast"
	"go/scanner"
	"go/token"
	"sort"
	"strings"

	"github.com/mouse-blink/hotpatch/internal/adapter"
)

// blockKind tells which kind of list a block holds, which decides how
// replacement content is parsed for it and how the list is stored back.
type blockKind int

const (
	kindStmt    blockKind = iota // statements of a block statement
	kindClauses                  // case clauses of a switch or type switch
	kindSelect                   // comm clauses of a select
	kindCase                     // statements of a case clause
	kindComm                     // statements of a comm clause
	kindDecl                     // top-level declarations of a file
	kindSpec                     // specs of a grouped declaration
	kindField                    // struct fields or interface methods
	kindElse                     // the else-if statement of an if
)

func (k blockKind) String() string {
	switch k {
	case kindStmt:
		return "statements"
	case kindClauses:
		return "switch clauses"
	case kindSelect:
		return "select clauses"
	case kindCase:
		return "case body"
	case kindComm:
		return "select case body"
	case kindDecl:
		return "declarations"
	case kindSpec:
		return "declaration specs"
	case kindField:
		return "fields"
	case kindElse:
		return "else branch"
	}

	return "unknown"
}

// sourceFile is one parsed file of a Tree.
type sourceFile struct {
	name string
	src  []byte
	file *ast.File
	tf   *token.File
}

// block is a list of sibling nodes the matcher can search and the splicer
// can rewrite.
type block struct {
	kind    blockKind
	owner   ast.Node
	nodes   []ast.Node
	file    *sourceFile
	tok     token.Token // grouped declaration keyword for kindSpec
	iface   bool        // interface methods for kindField
	tswitch bool        // type switch clauses for kindClauses
	path    []int
}

// store writes nodes back into the owner's list.
func (b *block) store(nodes []ast.Node) {
	switch o := b.owner.(type) {
	case *ast.BlockStmt:
		o.List = toStmts(nodes)
	case *ast.CaseClause:
		o.Body = toStmts(nodes)
	case *ast.CommClause:
		o.Body = toStmts(nodes)
	case *ast.File:
		decls := make([]ast.Decl, len(nodes))
		for i, n := range nodes {
			decls[i] = n.(ast.Decl)
		}

		o.Decls = decls
	case *ast.GenDecl:
		specs := make([]ast.Spec, len(nodes))
		for i, n := range nodes {
			specs[i] = n.(ast.Spec)
		}

		o.Specs = specs
	case *ast.FieldList:
		fields := make([]*ast.Field, len(nodes))
		for i, n := range nodes {
			fields[i] = n.(*ast.Field)
		}

		o.List = fields
	case *ast.IfStmt:
		o.Else = nodes[0].(ast.Stmt)
	}

	b.nodes = nodes
}

func toStmts(nodes []ast.Node) []ast.Stmt {
	stmts := make([]ast.Stmt, len(nodes))
	for i, n := range nodes {
		stmts[i] = n.(ast.Stmt)
	}

	return stmts
}

// lines returns the first and last line covered by the block's owner.
func (b *block) lines(fset *token.FileSet) (int, int) {
	if f, ok := b.owner.(*ast.File); ok {
		return 1, fset.Position(f.FileEnd).Line
	}

	return fset.Position(b.owner.Pos()).Line, fset.Position(b.owner.End()).Line
}

// Tree is a parsed target: a single function declaration or every file of a
// package. Roots are the outermost blocks the matcher searches.
type Tree struct {
	fset  *token.FileSet
	files []*sourceFile
	roots []*block

	// function trees only
	decl  *ast.FuncDecl
	start int
}

// ParseFunc parses a function declaration whose text starts at line start of
// file. The tree's root is the function body.
func ParseFunc(parser adapter.GoFileAdapter, file string, text string, start int) (*Tree, error) {
	if start < 1 {
		start = 1
	}

	src := []byte("package p;" + strings.Repeat("\n", start-1) + text)
	fset := token.NewFileSet()

	f, err := parser.Parse(fset, file, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}

	if len(f.Decls) != 1 {
		return nil, newPatchError(CodeUnpatchableTarget, "source of %s holds %d declarations, want one function", file, len(f.Decls))
	}

	decl, ok := f.Decls[0].(*ast.FuncDecl)
	if !ok || decl.Body == nil {
		return nil, newPatchError(CodeUnpatchableTarget, "source of %s is not a function with a body", file)
	}

	sf := &sourceFile{name: file, src: src, file: f, tf: fset.File(f.Pos())}
	t := &Tree{fset: fset, files: []*sourceFile{sf}, decl: decl, start: start}
	t.roots = []*block{{kind: kindStmt, owner: decl.Body, nodes: stmtNodes(decl.Body.List), file: sf}}

	return t, nil
}

// ParsePackage parses the files of a package. Files are ordered by name so
// resolution is deterministic.
func ParsePackage(parser adapter.GoFileAdapter, files map[string][]byte) (*Tree, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	t := &Tree{fset: token.NewFileSet()}

	for i, name := range names {
		src := files[name]

		f, err := parser.Parse(t.fset, name, src)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}

		sf := &sourceFile{name: name, src: src, file: f, tf: t.fset.File(f.Pos())}
		t.files = append(t.files, sf)

		nodes := make([]ast.Node, len(f.Decls))
		for j, d := range f.Decls {
			nodes[j] = d
		}

		t.roots = append(t.roots, &block{kind: kindDecl, owner: f, nodes: nodes, file: sf, path: []int{i}})
	}

	return t, nil
}

func stmtNodes(list []ast.Stmt) []ast.Node {
	nodes := make([]ast.Node, len(list))
	for i, s := range list {
		nodes[i] = s
	}

	return nodes
}

// nested returns the blocks directly owned by n, which sits at index idx of
// parent.
func nested(n ast.Node, parent *block, idx int) []*block {
	path := append(append([]int(nil), parent.path...), idx)
	mk := func(kind blockKind, owner ast.Node, nodes []ast.Node) *block {
		return &block{kind: kind, owner: owner, nodes: nodes, file: parent.file, path: path}
	}

	switch n := n.(type) {
	case *ast.FuncDecl:
		if n.Body != nil {
			return []*block{mk(kindStmt, n.Body, stmtNodes(n.Body.List))}
		}
	case *ast.GenDecl:
		if n.Lparen.IsValid() {
			nodes := make([]ast.Node, len(n.Specs))
			for i, s := range n.Specs {
				nodes[i] = s
			}

			b := mk(kindSpec, n, nodes)
			b.tok = n.Tok

			return []*block{b}
		}

		if len(n.Specs) == 1 {
			return nested(n.Specs[0], parent, idx)
		}
	case *ast.TypeSpec:
		switch typ := n.Type.(type) {
		case *ast.StructType:
			return []*block{mk(kindField, typ.Fields, fieldNodes(typ.Fields))}
		case *ast.InterfaceType:
			b := mk(kindField, typ.Methods, fieldNodes(typ.Methods))
			b.iface = true

			return []*block{b}
		}
	case *ast.BlockStmt:
		return []*block{mk(kindStmt, n, stmtNodes(n.List))}
	case *ast.IfStmt:
		blocks := []*block{mk(kindStmt, n.Body, stmtNodes(n.Body.List))}

		switch e := n.Else.(type) {
		case *ast.BlockStmt:
			blocks = append(blocks, mk(kindStmt, e, stmtNodes(e.List)))
		case *ast.IfStmt:
			blocks = append(blocks, mk(kindElse, n, []ast.Node{e}))
		}

		return blocks
	case *ast.ForStmt:
		return []*block{mk(kindStmt, n.Body, stmtNodes(n.Body.List))}
	case *ast.RangeStmt:
		return []*block{mk(kindStmt, n.Body, stmtNodes(n.Body.List))}
	case *ast.SwitchStmt:
		return []*block{mk(kindClauses, n.Body, stmtNodes(n.Body.List))}
	case *ast.TypeSwitchStmt:
		b := mk(kindClauses, n.Body, stmtNodes(n.Body.List))
		b.tswitch = true

		return []*block{b}
	case *ast.SelectStmt:
		return []*block{mk(kindSelect, n.Body, stmtNodes(n.Body.List))}
	case *ast.CaseClause:
		return []*block{mk(kindCase, n, stmtNodes(n.Body))}
	case *ast.CommClause:
		return []*block{mk(kindComm, n, stmtNodes(n.Body))}
	case *ast.LabeledStmt:
		return nested(n.Stmt, parent, idx)
	}

	return nil
}

func fieldNodes(fl *ast.FieldList) []ast.Node {
	if fl == nil {
		return nil
	}

	nodes := make([]ast.Node, len(fl.List))
	for i, f := range fl.List {
		nodes[i] = f
	}

	return nodes
}

// headerEnd is where the own text of n stops: the opening of its first
// nested block, or its end when it has none.
func headerEnd(n ast.Node) token.Pos {
	switch n := n.(type) {
	case *ast.FuncDecl:
		if n.Body != nil {
			return n.Body.Lbrace
		}
	case *ast.GenDecl:
		if n.Lparen.IsValid() {
			return n.Lparen
		}

		if len(n.Specs) == 1 {
			return headerEnd(n.Specs[0])
		}
	case *ast.TypeSpec:
		switch typ := n.Type.(type) {
		case *ast.StructType:
			return typ.Fields.Opening
		case *ast.InterfaceType:
			return typ.Methods.Opening
		}
	case *ast.IfStmt:
		return n.Body.Lbrace
	case *ast.ForStmt:
		return n.Body.Lbrace
	case *ast.RangeStmt:
		return n.Body.Lbrace
	case *ast.SwitchStmt:
		return n.Body.Lbrace
	case *ast.TypeSwitchStmt:
		return n.Body.Lbrace
	case *ast.SelectStmt:
		return n.Body.Lbrace
	case *ast.CaseClause:
		return n.Colon + 1
	case *ast.CommClause:
		return n.Colon + 1
	case *ast.LabeledStmt:
		return headerEnd(n.Stmt)
	}

	return n.End()
}

// ownText returns the raw source of n up to its first nested block.
func (t *Tree) ownText(sf *sourceFile, n ast.Node) string {
	start := sf.tf.Offset(n.Pos())

	end := headerEnd(n)
	if !end.IsValid() || end < n.Pos() || int(end) > sf.tf.Base()+sf.tf.Size() {
		end = n.End()
	}

	stop := sf.tf.Offset(end)
	if stop > len(sf.src) {
		stop = len(sf.src)
	}

	return strings.TrimSpace(string(sf.src[start:stop]))
}

func (t *Tree) line(p token.Pos) int {
	return t.fset.Position(p).Line
}

// normalize tokenizes Go source and joins the tokens with single spaces, so
// texts differing only in layout compare equal. Comments are dropped.
func normalize(text string) string {
	var (
		s    scanner.Scanner
		toks []string
	)

	fset := token.NewFileSet()
	src := []byte(text)
	s.Init(fset.AddFile("", fset.Base(), len(src)), src, nil, 0)

	for {
		_, tok, lit := s.Scan()
		if tok == token.EOF {
			break
		}

		switch {
		case tok == token.SEMICOLON && lit == "\n":
			continue
		case lit != "":
			toks = append(toks, lit)
		default:
			toks = append(toks, tok.String())
		}
	}

	return strings.Join(toks, " ")
}
