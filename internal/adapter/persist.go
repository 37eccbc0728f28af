package adapter

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
)

// Persister writes patched sources to a cache directory so stack traces and
// humans can see what actually ran.
type Persister struct {
	dir string
}

// NewPersister returns a Persister writing under dir/hotpatch.
func NewPersister(dir string) *Persister {
	return &Persister{dir: filepath.Join(dir, "hotpatch")}
}

// Dir returns the directory files are written to.
func (p *Persister) Dir() string {
	return p.dir
}

// Save writes src as <kind>_<name>_<crc32>.go and returns its path. The
// same content always lands in the same file.
func (p *Persister) Save(kind, name, origin string, src []byte) (string, error) {
	if err := os.MkdirAll(p.dir, 0o750); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	content := fmt.Appendf(nil, "// generated by hotpatch (patched from %s)\n\n%s", origin, src)
	file := filepath.Join(p.dir, fmt.Sprintf("%s_%s_%08x.go", kind, sanitize(name), crc32.ChecksumIEEE(content)))

	tmp, err := os.CreateTemp(p.dir, ".hotpatch-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()

		return "", fmt.Errorf("write %s: %w", file, err)
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", file, err)
	}

	if err := os.Rename(tmp.Name(), file); err != nil {
		return "", fmt.Errorf("rename to %s: %w", file, err)
	}

	return file, nil
}

var nameReplacer = strings.NewReplacer("/", "_", ".", "_", "(", "", ")", "", "*", "", " ", "_", "\\", "_")

func sanitize(name string) string {
	return nameReplacer.Replace(name)
}
