package adapter

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// overlayFS is the filesystem the interpreter reads sources through. It
// records which packages were read and serves the output of loader hooks in
// place of the original files.
type overlayFS struct {
	base   fs.FS
	src    string // GoPath/src
	logger *zap.Logger

	mu     sync.Mutex
	hooks  map[string]LoaderHook
	served map[string][]byte // fs path -> patched content
	loaded map[string]bool   // import path -> read by the interpreter
}

var (
	_ fs.ReadFileFS = (*overlayFS)(nil)
	_ fs.StatFS     = (*overlayFS)(nil)
	_ fs.ReadDirFS  = (*overlayFS)(nil)
)

func newOverlayFS(base fs.FS, gopath string, logger *zap.Logger) *overlayFS {
	return &overlayFS{
		base:   base,
		src:    path.Join(gopath, "src"),
		logger: logger,
		hooks:  make(map[string]LoaderHook),
		served: make(map[string][]byte),
		loaded: make(map[string]bool),
	}
}

// Open implements fs.FS.
func (o *overlayFS) Open(name string) (fs.File, error) {
	content, ok, err := o.intercept(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	if !ok {
		return o.base.Open(name)
	}

	info, err := fs.Stat(o.base, name)
	if err != nil {
		return nil, err
	}

	return &memFile{Reader: bytes.NewReader(content), info: memInfo{FileInfo: info, size: int64(len(content))}}, nil
}

// ReadFile implements fs.ReadFileFS.
func (o *overlayFS) ReadFile(name string) ([]byte, error) {
	content, ok, err := o.intercept(name)
	if err != nil {
		return nil, &fs.PathError{Op: "read", Path: name, Err: err}
	}

	if !ok {
		return fs.ReadFile(o.base, name)
	}

	return bytes.Clone(content), nil
}

// Stat implements fs.StatFS.
func (o *overlayFS) Stat(name string) (fs.FileInfo, error) {
	return fs.Stat(o.base, name)
}

// ReadDir implements fs.ReadDirFS.
func (o *overlayFS) ReadDir(name string) ([]fs.DirEntry, error) {
	return fs.ReadDir(o.base, name)
}

// intercept marks the package of a Go source file as loaded and, on the
// first read of a package with a hook, runs the hook. It returns the patched
// content when the hook changed the file.
func (o *overlayFS) intercept(name string) ([]byte, bool, error) {
	pkg, ok := o.packageOf(name)
	if !ok {
		return nil, false, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.loaded[pkg] {
		o.loaded[pkg] = true

		if hook, ok := o.hooks[pkg]; ok {
			if err := o.runHook(pkg, hook); err != nil {
				o.loaded[pkg] = false

				return nil, false, err
			}
		}
	}

	content, ok := o.served[name]

	return content, ok, nil
}

func (o *overlayFS) runHook(pkg string, hook LoaderHook) error {
	files, err := o.readPackage(pkg)
	if err != nil {
		return err
	}

	patched, err := hook(files)
	if err != nil {
		return fmt.Errorf("loader hook for %s: %w", pkg, err)
	}

	for name, content := range patched {
		if _, ok := files[name]; !ok {
			return fmt.Errorf("loader hook for %s returned unknown file %s", pkg, name)
		}

		o.served[name] = content
	}

	o.logger.Debug("package intercepted", zap.String("package", pkg), zap.Int("patched_files", len(patched)))

	return nil
}

// packageOf returns the import path of a non-test Go file under GoPath/src.
func (o *overlayFS) packageOf(name string) (string, bool) {
	if path.Ext(name) != ".go" || strings.HasSuffix(name, "_test.go") {
		return "", false
	}

	rel, ok := strings.CutPrefix(path.Clean(name), o.src+"/")
	if !ok {
		return "", false
	}

	dir := path.Dir(rel)
	if dir == "." {
		return "", false
	}

	return dir, true
}

func (o *overlayFS) readPackage(pkg string) (map[string][]byte, error) {
	dir := path.Join(o.src, pkg)

	entries, err := fs.ReadDir(o.base, dir)
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", pkg, ErrNoSource)
	}

	files := make(map[string][]byte)

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ".go" || strings.HasSuffix(name, "_test.go") {
			continue
		}

		full := path.Join(dir, name)

		content, err := fs.ReadFile(o.base, full)
		if err != nil {
			return nil, err
		}

		files[full] = content
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("package %s has no Go files: %w", pkg, ErrNoSource)
	}

	return files, nil
}

func (o *overlayFS) setHook(pkg string, hook LoaderHook) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.hooks[pkg] = hook
}

func (o *overlayFS) clearHook(pkg string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.hooks, pkg)

	prefix := path.Join(o.src, pkg) + "/"
	for name := range o.served {
		if strings.HasPrefix(name, prefix) && !strings.Contains(strings.TrimPrefix(name, prefix), "/") {
			delete(o.served, name)
		}
	}
}

func (o *overlayFS) isLoaded(pkg string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.loaded[pkg]
}

// memFile serves patched content through fs.File.
type memFile struct {
	*bytes.Reader
	info memInfo
}

func (f *memFile) Stat() (fs.FileInfo, error) { return f.info, nil }

func (f *memFile) Close() error { return nil }

// memInfo reports the size of the patched content.
type memInfo struct {
	fs.FileInfo
	size int64
}

func (i memInfo) Size() int64 { return i.size }
