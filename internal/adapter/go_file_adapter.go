package adapter

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
)

// GoFileAdapter encapsulates Go parsing and printing so the domain layer can
// focus on matching and splicing while delegating syntax details to an
// infrastructure component.
type GoFileAdapter interface {
	// Parse builds an AST using the provided file set and source bytes.
	Parse(fileSet *token.FileSet, filename string, src []byte) (*ast.File, error)
	// Format prints a node in gofmt style.
	Format(fileSet *token.FileSet, node any) ([]byte, error)
}

// LocalGoFileAdapter provides a concrete GoFileAdapter backed by go/parser
// and go/format.
type LocalGoFileAdapter struct{}

// NewLocalGoFileAdapter constructs a LocalGoFileAdapter.
func NewLocalGoFileAdapter() *LocalGoFileAdapter {
	return &LocalGoFileAdapter{}
}

// Parse builds an AST for the provided filename/source pair.
func (a *LocalGoFileAdapter) Parse(fileSet *token.FileSet, filename string, src []byte) (*ast.File, error) {
	return parser.ParseFile(fileSet, filename, src, parser.ParseComments)
}

// Format prints node with go/format.
func (a *LocalGoFileAdapter) Format(fileSet *token.FileSet, node any) ([]byte, error) {
	var buf bytes.Buffer
	if err := format.Node(&buf, fileSet, node); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// FindFuncDecl returns the declaration of a function or method in f. name is
// "F" for functions, "T.M" or "(*T).M" for methods.
func FindFuncDecl(f *ast.File, name string) (*ast.FuncDecl, error) {
	recv, fn := splitFuncName(name)

	for _, decl := range f.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Name.Name != fn {
			continue
		}

		if receiverType(fd) == recv {
			return fd, nil
		}
	}

	return nil, fmt.Errorf("function %s not declared in %s", name, f.Name.Name)
}

// splitFuncName splits "(*T).M" or "T.M" into the receiver type name and
// the method name. Plain functions have an empty receiver.
func splitFuncName(name string) (string, string) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] != '.' {
			continue
		}

		recv := name[:i]
		if len(recv) > 3 && recv[0] == '(' && recv[1] == '*' && recv[len(recv)-1] == ')' {
			recv = recv[2 : len(recv)-1]
		}

		return recv, name[i+1:]
	}

	return "", name
}

// receiverType returns the base type name of a method receiver, or "" for
// plain functions.
func receiverType(fd *ast.FuncDecl) string {
	if fd.Recv == nil || len(fd.Recv.List) == 0 {
		return ""
	}

	typ := fd.Recv.List[0].Type
	if star, ok := typ.(*ast.StarExpr); ok {
		typ = star.X
	}

	switch t := typ.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		if id, ok := t.X.(*ast.Ident); ok {
			return id.Name
		}
	case *ast.IndexListExpr:
		if id, ok := t.X.(*ast.Ident); ok {
			return id.Name
		}
	}

	return ""
}
