package adapter

import (
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"
)

const (
	defaultGoPath = "gopath"
	dispatchInit  = "hotpatch0_"
	dispatchVar   = "hotpatchv_"
	forwardRecv   = "hotpatch_recv"
)

// ErrNoSource is returned for functions and packages whose source the
// runtime cannot locate.
var ErrNoSource = errors.New("source not available")

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	// FS holds the program files and the GOPATH tree. Nil means the current
	// directory.
	FS fs.FS
	// GoPath is the GOPATH directory inside FS. Packages are looked up in
	// GoPath/src/<import path>.
	GoPath string
	Stdout io.Writer
	Stderr io.Writer
	// Symbols are binary packages exposed besides the standard library.
	Symbols []interp.Exports
	Logger  *zap.Logger
	// Persister, when set, receives the source of every patched unit.
	Persister *Persister
	Parser    GoFileAdapter
}

// LoaderHook rewrites the files of a package before the interpreter reads
// them. It receives every Go file of the package keyed by its path in the
// runtime's FS and returns the files it changed.
type LoaderHook func(files map[string][]byte) (map[string][]byte, error)

// Runtime is one embedded interpreter together with the source it loads.
// Functions loaded into it can be swapped and its packages intercepted
// before their first import.
type Runtime struct {
	mu sync.Mutex

	interp  *interp.Interpreter
	overlay *overlayFS
	base    fs.FS
	gopath  string
	parser  GoFileAdapter
	logger  *zap.Logger
	persist *Persister

	decls   map[string]*funcDecl
	funcs   map[string]*Function
	imports map[string]bool
	seq     int
}

// funcDecl is the source of a function found in a loaded program.
type funcDecl struct {
	name string // "F", "T.M" or "(*T).M"
	file string
	line int
	text string
	// symbol holds the loaded body and target is the variable every call
	// goes through. Both are empty when the function is not dispatched.
	symbol string
	target string
}

type dispatched struct {
	fd   *ast.FuncDecl
	decl *funcDecl
}

// NewRuntime creates an interpreter with the standard library available.
func NewRuntime(opts RuntimeOptions) (*Runtime, error) {
	base := opts.FS
	if base == nil {
		base = os.DirFS(".")
	}

	gopath := opts.GoPath
	if gopath == "" {
		gopath = defaultGoPath
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	parser := opts.Parser
	if parser == nil {
		parser = NewLocalGoFileAdapter()
	}

	r := &Runtime{
		base:    base,
		gopath:  path.Clean(gopath),
		parser:  parser,
		logger:  logger,
		persist: opts.Persister,
		decls:   make(map[string]*funcDecl),
		funcs:   make(map[string]*Function),
		imports: make(map[string]bool),
	}
	r.overlay = newOverlayFS(base, r.gopath, logger)

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}

	if stderr == nil {
		stderr = os.Stderr
	}

	r.interp = interp.New(interp.Options{
		GoPath:               r.gopath,
		SourcecodeFilesystem: r.overlay,
		Stdout:               stdout,
		Stderr:               stderr,
	})

	if err := r.interp.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}

	for _, exports := range opts.Symbols {
		if err := r.interp.Use(exports); err != nil {
			return nil, fmt.Errorf("load symbols: %w", err)
		}
	}

	return r, nil
}

// Logger returns the runtime's logger.
func (r *Runtime) Logger() *zap.Logger {
	return r.logger
}

// Parser returns the adapter used to parse and print source.
func (r *Runtime) Parser() GoFileAdapter {
	return r.parser
}

// Load evaluates a package main file of the FS. Functions and methods are
// called through package variables inside the interpreter so that swapping
// them reaches interpreted callers too. A method body is loaded as a function
// taking the receiver first and the method forwards to it.
func (r *Runtime) Load(name string) error {
	src, err := fs.ReadFile(r.base, name)
	if err != nil {
		return fmt.Errorf("read program: %w", err)
	}

	fset := token.NewFileSet()

	f, err := r.parser.Parse(fset, name, src)
	if err != nil {
		return fmt.Errorf("parse program: %w", err)
	}

	if f.Name.Name != "main" {
		return fmt.Errorf("program %s declares package %s, want main", name, f.Name.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var dispatch []dispatched

	for _, decl := range f.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Body == nil {
			continue
		}

		fnName := qualifiedName(fd)
		d := &funcDecl{
			name: fnName,
			file: name,
			line: fset.Position(fd.Pos()).Line,
			text: string(src[fset.Position(fd.Pos()).Offset:fset.Position(fd.End()).Offset]),
		}

		switch {
		case fd.Name.Name == "_" || fd.Type.TypeParams != nil:
		case fd.Recv == nil && fd.Name.Name != "main" && fd.Name.Name != "init":
			d.symbol, d.target = dispatchInit+fd.Name.Name, fd.Name.Name
		case fd.Recv != nil && plainReceiver(fd):
			d.symbol, d.target = dispatchInit+sanitize(fnName), dispatchVar+sanitize(fnName)
		}

		if d.symbol != "" {
			dispatch = append(dispatch, dispatched{fd: fd, decl: d})
		}

		r.decls[declKey(fnName)] = d
	}

	prog, err := r.dispatchProgram(fset, f, dispatch)
	if err != nil {
		return err
	}

	if _, err := r.interp.Eval(prog); err != nil {
		return fmt.Errorf("eval program %s: %w", name, err)
	}

	for _, spec := range f.Imports {
		p, _ := strconv.Unquote(spec.Path.Value)
		r.imports[p] = true
	}

	r.logger.Debug("program loaded", zap.String("file", name), zap.Int("functions", len(r.decls)), zap.Int("dispatched", len(dispatch)))

	return nil
}

// dispatchProgram renames each dispatched body to its symbol and declares
// the variable calls go through, assigned in init. Methods are replaced by
// a forwarding method.
func (r *Runtime) dispatchProgram(fset *token.FileSet, f *ast.File, funcs []dispatched) (string, error) {
	var vars, assigns, forwards strings.Builder

	for _, fn := range funcs {
		fd := fn.fd

		if fd.Recv != nil {
			fwd, err := r.forwardMethod(fset, fd, fn.decl.target)
			if err != nil {
				return "", err
			}

			forwards.WriteString(fwd)
			receiverFirst(fd)
		}

		typ, err := r.parser.Format(fset, fd.Type)
		if err != nil {
			return "", fmt.Errorf("print type of %s: %w", fn.decl.name, err)
		}

		fmt.Fprintf(&vars, "\t%s %s\n", fn.decl.target, typ)
		fmt.Fprintf(&assigns, "\t%s = %s\n", fn.decl.target, fn.decl.symbol)
		fd.Name = ast.NewIdent(fn.decl.symbol)
	}

	f.Comments = nil

	out, err := r.parser.Format(fset, f)
	if err != nil {
		return "", fmt.Errorf("print program: %w", err)
	}

	if len(funcs) == 0 {
		return string(out), nil
	}

	return fmt.Sprintf("%s\n%svar (\n%s)\n\nfunc init() {\n%s}\n", out, forwards.String(), vars.String(), assigns.String()), nil
}

// forwardMethod declares the method fd with a body that calls target with
// the receiver and every argument.
func (r *Runtime) forwardMethod(fset *token.FileSet, fd *ast.FuncDecl, target string) (string, error) {
	recv, err := r.parser.Format(fset, fd.Recv.List[0].Type)
	if err != nil {
		return "", fmt.Errorf("print receiver of %s: %w", fd.Name.Name, err)
	}

	params := &ast.FieldList{}
	args := []string{forwardRecv}

	for _, field := range fd.Type.Params.List {
		names := make([]*ast.Ident, max(len(field.Names), 1))
		for i := range names {
			name := fmt.Sprintf("hotpatch_a%d", len(args)-1)
			names[i] = ast.NewIdent(name)
			args = append(args, name)
		}

		if _, ok := field.Type.(*ast.Ellipsis); ok {
			args[len(args)-1] += "..."
		}

		params.List = append(params.List, &ast.Field{Names: names, Type: field.Type})
	}

	sig, err := r.parser.Format(fset, &ast.FuncType{Params: params, Results: fd.Type.Results})
	if err != nil {
		return "", fmt.Errorf("print signature of %s: %w", fd.Name.Name, err)
	}

	call := target + "(" + strings.Join(args, ", ") + ")"
	if fd.Type.Results != nil && len(fd.Type.Results.List) > 0 {
		call = "return " + call
	}

	return fmt.Sprintf("func (%s %s) %s%s {\n\t%s\n}\n\n", forwardRecv, recv, fd.Name.Name, strings.TrimPrefix(string(sig), "func"), call), nil
}

// receiverFirst turns the method fd into a function taking the receiver as
// its first parameter, the signature of the method expression.
func receiverFirst(fd *ast.FuncDecl) {
	params := append([]*ast.Field{fd.Recv.List[0]}, fd.Type.Params.List...)

	named := false
	for _, p := range params {
		named = named || len(p.Names) > 0
	}

	if named {
		for _, p := range params {
			if len(p.Names) == 0 {
				p.Names = []*ast.Ident{ast.NewIdent("_")}
			}
		}
	}

	fd.Type.Params.List = params
	fd.Recv = nil
}

// plainReceiver reports whether fd is a method of a non-generic named type.
func plainReceiver(fd *ast.FuncDecl) bool {
	if fd.Recv == nil || len(fd.Recv.List) == 0 {
		return false
	}

	typ := fd.Recv.List[0].Type
	if star, ok := typ.(*ast.StarExpr); ok {
		typ = star.X
	}

	_, ok := typ.(*ast.Ident)

	return ok
}

// Func returns the live function name of the loaded program. name is "F"
// for functions, "T.M" or "(*T).M" for methods. The same *Function is
// returned for every call with the same name.
func (r *Runtime) Func(name string) (*Function, error) {
	if name == "" || name == "_" {
		return nil, fmt.Errorf("anonymous function: %w", ErrNoSource)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := declKey(name)
	if fn, ok := r.funcs[key]; ok {
		return fn, nil
	}

	d, ok := r.decls[key]
	if !ok {
		if similar := r.similarLocked(name); len(similar) > 0 {
			return nil, fmt.Errorf("function %s: %w (did you mean %s?)", name, ErrNoSource, strings.Join(similar, ", "))
		}

		return nil, fmt.Errorf("function %s: %w", name, ErrNoSource)
	}

	symbol := d.name
	if d.symbol != "" {
		symbol = d.symbol
	}

	v, err := r.interp.Eval(symbol)
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", name, err)
	}

	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is a %s, not a function", name, v.Kind())
	}

	fn := &Function{name: d.name, rt: r, decl: d}
	fn.unit.Store(&Unit{Name: symbol, Value: v, Source: d.text})
	r.funcs[key] = fn

	return fn, nil
}

// CompileFunc evaluates text, a patched declaration of fn, under a fresh
// name. Methods are compiled as functions taking the receiver first, which
// is the signature of their method expression. imports are added to the
// interpreter's main scope first and stay there after the unit is swapped
// out. The unit is persisted only once it compiled.
func (r *Runtime) CompileFunc(fn *Function, text string, imports []string) (*Unit, error) {
	fset := token.NewFileSet()

	f, err := r.parser.Parse(fset, fn.decl.file, []byte("package main\n\n"+text))
	if err != nil {
		return nil, fmt.Errorf("parse patched %s: %w", fn.name, err)
	}

	if len(f.Decls) != 1 {
		return nil, fmt.Errorf("patched %s holds %d declarations", fn.name, len(f.Decls))
	}

	fd, err := FindFuncDecl(f, fn.name)
	if err != nil {
		return nil, fmt.Errorf("patched %s is not a function: %w", fn.name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	symbol := fmt.Sprintf("hotpatch%d_%s", r.seq, sanitize(fn.name))

	if fd.Recv != nil {
		if fd.Type.TypeParams != nil || !plainReceiver(fd) {
			return nil, fmt.Errorf("cannot compile generic method %s", fn.name)
		}

		receiverFirst(fd)
	}

	fd.Name = ast.NewIdent(symbol)

	out, err := r.parser.Format(fset, fd)
	if err != nil {
		return nil, fmt.Errorf("print patched %s: %w", fn.name, err)
	}

	for _, p := range imports {
		if err := r.importLocked(p); err != nil {
			return nil, err
		}
	}

	if _, err := r.interp.Eval(string(out)); err != nil {
		return nil, fmt.Errorf("eval patched %s: %w", fn.name, err)
	}

	v, err := r.interp.Eval(symbol)
	if err != nil {
		return nil, fmt.Errorf("look up patched %s: %w", fn.name, err)
	}

	if r.persist != nil {
		if _, err := r.persist.Save("func", fn.name, fn.decl.file, []byte("package main\n\n"+string(out))); err != nil {
			r.logger.Warn("persist patched function", zap.String("function", fn.name), zap.Error(err))
		}
	}

	r.logger.Debug("function compiled", zap.String("function", fn.name), zap.String("symbol", symbol))

	return &Unit{Name: symbol, Value: v, Source: text}, nil
}

// Import imports pkgPath into the interpreter scope. Importing a package a
// second time is a no-op.
func (r *Runtime) Import(pkgPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.importLocked(pkgPath)
}

func (r *Runtime) importLocked(pkgPath string) error {
	if r.imports[pkgPath] {
		return nil
	}

	if _, err := r.interp.Eval(fmt.Sprintf("import %q", pkgPath)); err != nil {
		return fmt.Errorf("import %s: %w", pkgPath, err)
	}

	r.imports[pkgPath] = true
	r.logger.Debug("package imported", zap.String("package", pkgPath))

	return nil
}

// Eval evaluates src in the interpreter's main scope.
func (r *Runtime) Eval(src string) (reflect.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.interp.Eval(src)
}

// assign points the dispatch variable of a function at another symbol.
func (r *Runtime) assign(name, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.interp.Eval(name + " = " + symbol); err != nil {
		return fmt.Errorf("rebind %s: %w", name, err)
	}

	return nil
}

// Loaded reports whether the interpreter has read the source of pkgPath.
func (r *Runtime) Loaded(pkgPath string) bool {
	return r.overlay.isLoaded(pkgPath)
}

// PackageSource returns the Go files of pkgPath keyed by their path in FS.
// Test files are left out.
func (r *Runtime) PackageSource(pkgPath string) (map[string][]byte, error) {
	return r.overlay.readPackage(pkgPath)
}

// SetLoaderHook registers hook for pkgPath. The hook runs once, the first
// time the interpreter reads a file of the package.
func (r *Runtime) SetLoaderHook(pkgPath string, hook LoaderHook) error {
	if r.Loaded(pkgPath) {
		return fmt.Errorf("package %s already loaded", pkgPath)
	}

	r.overlay.setHook(pkgPath, hook)

	return nil
}

// ClearLoaderHook removes the hook of pkgPath. A package the interpreter has
// already compiled keeps its patched form.
func (r *Runtime) ClearLoaderHook(pkgPath string) {
	r.overlay.clearHook(pkgPath)
}

// Persist writes a patched package file when a persister is configured.
func (r *Runtime) Persist(kind, name, origin string, src []byte) {
	if r.persist == nil {
		return
	}

	if _, err := r.persist.Save(kind, name, origin, src); err != nil {
		r.logger.Warn("persist patched source", zap.String("name", name), zap.Error(err))
	}
}

// Functions lists the names of the functions found in loaded programs.
func (r *Runtime) Functions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.functionsLocked()
}

// similarLocked returns up to three loaded function names close to name.
func (r *Runtime) similarLocked(name string) []string {
	matches := fuzzy.Find(name, r.functionsLocked())

	var out []string
	for i := 0; i < len(matches) && i < 3; i++ {
		out = append(out, matches[i].Str)
	}

	return out
}

func (r *Runtime) functionsLocked() []string {
	names := make([]string, 0, len(r.decls))
	for _, d := range r.decls {
		names = append(names, d.name)
	}

	sort.Strings(names)

	return names
}

// qualifiedName returns "F", "T.M" or "(*T).M" for a declaration.
func qualifiedName(fd *ast.FuncDecl) string {
	recv := receiverType(fd)
	if recv == "" {
		return fd.Name.Name
	}

	if _, ok := fd.Recv.List[0].Type.(*ast.StarExpr); ok {
		return "(*" + recv + ")." + fd.Name.Name
	}

	return recv + "." + fd.Name.Name
}

// declKey maps every spelling of a function name to one key.
func declKey(name string) string {
	recv, fn := splitFuncName(name)
	if recv == "" {
		return fn
	}

	return recv + "." + fn
}
