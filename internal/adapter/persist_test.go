package adapter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersister_Save(t *testing.T) {
	p := NewPersister(t.TempDir())

	src := []byte("package main\n\nfunc F() {}\n")

	path, err := p.Save("func", "(*Counter).Add", "calc/calc.go", src)
	require.NoError(t, err)

	assert.Equal(t, p.Dir(), filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "func_Counter_Add_"), path)
	assert.Equal(t, ".go", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "// generated by hotpatch (patched from calc/calc.go)\n\n"+string(src), string(data))

	again, err := p.Save("func", "(*Counter).Add", "calc/calc.go", src)
	require.NoError(t, err)
	assert.Equal(t, path, again)

	other, err := p.Save("func", "(*Counter).Add", "calc/calc.go", []byte("package main\n"))
	require.NoError(t, err)
	assert.NotEqual(t, path, other)

	entries, err := os.ReadDir(p.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temporary files must not be left behind")
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "example_com_shapes", sanitize("example.com/shapes"))
	assert.Equal(t, "Counter_Add", sanitize("(*Counter).Add"))
}
