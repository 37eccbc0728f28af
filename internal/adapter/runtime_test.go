package adapter

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExamplesRuntime(t *testing.T) (*Runtime, *bytes.Buffer) {
	t.Helper()

	var stdout bytes.Buffer

	rt, err := NewRuntime(RuntimeOptions{FS: os.DirFS(examplesDir), Stdout: &stdout})
	require.NoError(t, err)

	return rt, &stdout
}

func loadCalc(t *testing.T) *Runtime {
	t.Helper()

	rt, _ := newExamplesRuntime(t)
	require.NoError(t, rt.Load("calc/calc.go"))

	return rt
}

func TestRuntime_LoadAndCall(t *testing.T) {
	rt := loadCalc(t)

	fn, err := rt.Func("Compute")
	require.NoError(t, err)
	assert.Equal(t, "Compute", fn.Name())
	assert.Same(t, rt, fn.Runtime())

	out, err := fn.Call(5, 10)
	require.NoError(t, err)
	assert.Equal(t, []any{35}, out)

	again, err := rt.Func("Compute")
	require.NoError(t, err)
	assert.Same(t, fn, again)

	_, err = fn.Call(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "takes 2 arguments")

	_, err = fn.Call("a", 1)
	require.Error(t, err)
}

func TestRuntime_Functions(t *testing.T) {
	rt := loadCalc(t)

	assert.Equal(t, []string{
		"(*Counter).Add", "Classify", "Compute", "Describe",
		"Factorial", "LoopWithBreak", "Scale", "Total",
	}, rt.Functions())
}

func TestRuntime_FuncErrors(t *testing.T) {
	rt := loadCalc(t)

	_, err := rt.Func("Missing")
	require.ErrorIs(t, err, ErrNoSource)
	assert.NotContains(t, err.Error(), "did you mean")

	_, err = rt.Func("Compte")
	require.ErrorIs(t, err, ErrNoSource)
	assert.Contains(t, err.Error(), "did you mean Compute?")

	_, err = rt.Func("")
	require.ErrorIs(t, err, ErrNoSource)

	_, err = rt.Func("_")
	require.ErrorIs(t, err, ErrNoSource)
}

func TestRuntime_LoadErrors(t *testing.T) {
	rt, _ := newExamplesRuntime(t)

	err := rt.Load("calc/missing.go")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read program")

	err = rt.Load("gopath/src/example.com/shapes/shapes.go")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want main")
}

func TestFunction_Source(t *testing.T) {
	rt := loadCalc(t)

	fn, err := rt.Func("Compute")
	require.NoError(t, err)

	text, file, line := fn.Source()
	assert.Equal(t, "calc/calc.go", file)
	assert.Equal(t, 5, line)
	assert.True(t, strings.HasPrefix(text, "func Compute(x, y int) int {"), text)
	assert.True(t, strings.HasSuffix(text, "return result\n}"), text)
}

func TestFunction_SwapReachesRecursiveCalls(t *testing.T) {
	rt := loadCalc(t)

	fn, err := rt.Func("Factorial")
	require.NoError(t, err)

	original := fn.Unit()

	unit, err := rt.CompileFunc(fn, "func Factorial(n int) int {\n\tif n <= 1 {\n\t\treturn 2\n\t}\n\treturn n * Factorial(n-1)\n}", nil)
	require.NoError(t, err)
	assert.NotEqual(t, original.Name, unit.Name)

	prev, err := fn.Swap(unit)
	require.NoError(t, err)
	assert.Same(t, original, prev)

	out, err := fn.Call(3)
	require.NoError(t, err)
	assert.Equal(t, []any{12}, out)

	_, err = fn.Swap(original)
	require.NoError(t, err)

	out, err = fn.Call(3)
	require.NoError(t, err)
	assert.Equal(t, []any{6}, out)
}

func TestFunction_SwapReachesInterpretedCallers(t *testing.T) {
	rt := loadCalc(t)

	compute, err := rt.Func("Compute")
	require.NoError(t, err)

	total, err := rt.Func("Total")
	require.NoError(t, err)

	unit, err := rt.CompileFunc(compute, "func Compute(x, y int) int {\n\treturn 1\n}", nil)
	require.NoError(t, err)

	original, err := compute.Swap(unit)
	require.NoError(t, err)

	out, err := total.Call([][2]int{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, []any{2}, out)

	_, err = compute.Swap(original)
	require.NoError(t, err)

	out, err = total.Call([][2]int{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, []any{36}, out)
}

func TestRuntime_CompileFuncErrors(t *testing.T) {
	rt := loadCalc(t)

	fn, err := rt.Func("Compute")
	require.NoError(t, err)

	_, err = rt.CompileFunc(fn, "func Compute(x, y int) int {", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse patched Compute")

	_, err = rt.CompileFunc(fn, "func A() {}\nfunc B() {}", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 declarations")

	_, err = rt.CompileFunc(fn, "var Compute = 1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a function")
}

func TestBind(t *testing.T) {
	rt := loadCalc(t)

	fn, err := rt.Func("Scale")
	require.NoError(t, err)

	scale, err := Bind[func(int) int](fn)
	require.NoError(t, err)
	assert.Equal(t, 19, scale(10))

	unit, err := rt.CompileFunc(fn, "func Scale(x int) int {\n\treturn -x\n}", nil)
	require.NoError(t, err)

	original, err := fn.Swap(unit)
	require.NoError(t, err)
	assert.Equal(t, -10, scale(10))

	_, err = fn.Swap(original)
	require.NoError(t, err)
	assert.Equal(t, 19, scale(10))

	_, err = Bind[func(string) int](fn)
	require.Error(t, err)

	_, err = Bind[int](fn)
	require.Error(t, err)
}

func TestRuntime_LoaderHook(t *testing.T) {
	rt, _ := newExamplesRuntime(t)

	const pkg = "example.com/shapes"

	files, err := rt.PackageSource(pkg)
	require.NoError(t, err)
	require.Contains(t, files, "gopath/src/example.com/shapes/shapes.go")

	calls := 0
	err = rt.SetLoaderHook(pkg, func(files map[string][]byte) (map[string][]byte, error) {
		calls++

		out := make(map[string][]byte, len(files))
		for name, content := range files {
			out[name] = bytes.ReplaceAll(content, []byte(`"hello "`), []byte(`"hi "`))
		}

		return out, nil
	})
	require.NoError(t, err)
	assert.False(t, rt.Loaded(pkg))

	require.NoError(t, rt.Import(pkg))
	require.NoError(t, rt.Import(pkg))
	assert.True(t, rt.Loaded(pkg))

	v, err := rt.Eval(`shapes.Greet(shapes.User{Name: "Ann"})`)
	require.NoError(t, err)
	assert.Equal(t, "hi ann", v.String())
	assert.Equal(t, 1, calls)

	err = rt.SetLoaderHook(pkg, func(files map[string][]byte) (map[string][]byte, error) { return nil, nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already loaded")

	rt.ClearLoaderHook(pkg)
}

func TestRuntime_Persist(t *testing.T) {
	p := NewPersister(t.TempDir())

	rt, err := NewRuntime(RuntimeOptions{FS: os.DirFS(examplesDir), Persister: p})
	require.NoError(t, err)
	require.NoError(t, rt.Load("calc/calc.go"))

	fn, err := rt.Func("Describe")
	require.NoError(t, err)

	_, err = rt.CompileFunc(fn, "func Describe(x int) string {\n\treturn undefined(x)\n}", nil)
	require.Error(t, err)
	assert.NoDirExists(t, p.Dir())

	_, err = rt.CompileFunc(fn, "func Describe(x int) string {\n\treturn strings.Repeat(\"x\", x)\n}", []string{"strings"})
	require.NoError(t, err)

	entries, err := os.ReadDir(p.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "func_Describe_"))

	rt.Persist("package", "example.com/shapes", "shapes.go", []byte("package shapes\n"))

	entries, err = os.ReadDir(p.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRuntime_CompileFuncRenamed(t *testing.T) {
	rt := loadCalc(t)

	fn, err := rt.Func("Compute")
	require.NoError(t, err)

	_, err = rt.CompileFunc(fn, "func Other(x, y int) int {\n\treturn 0\n}", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "function Compute not declared")
}

func TestFunction_SwapMethod(t *testing.T) {
	rt := loadCalc(t)

	fn, err := rt.Func("(*Counter).Add")
	require.NoError(t, err)
	assert.Equal(t, "hotpatch0_Counter_Add", fn.Unit().Name)
	assert.Equal(t, 2, fn.Unit().Value.Type().NumIn())

	unit, err := rt.CompileFunc(fn, "func (c *Counter) Add(d int) int {\n\tc.n -= d\n\treturn c.n\n}", nil)
	require.NoError(t, err)
	assert.Equal(t, fn.Unit().Value.Type(), unit.Value.Type())

	old, err := fn.Swap(unit)
	require.NoError(t, err)

	v, err := rt.Eval("(&Counter{n: 10}).Add(3)")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Int())

	_, err = fn.Swap(old)
	require.NoError(t, err)

	v, err = rt.Eval("(&Counter{n: 10}).Add(3)")
	require.NoError(t, err)
	assert.Equal(t, int64(13), v.Int())
}

func TestRuntime_LoadForwardsMethods(t *testing.T) {
	rt, _ := newExamplesRuntime(t)
	require.NoError(t, rt.Load("methods/methods.go"))

	v, err := rt.Eval(`Point{X: 1, Y: 2}.Sum(3, 4)`)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v.Int())

	v, err = rt.Eval(`func() int { var p Point; p.Set(5); return p.X }()`)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Int())

	v, err = rt.Eval(`func() int { p := Point{X: 4, Y: 4}; p.Reset(1); return p.Y }()`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Int())

	v, err = rt.Eval(`Point{}.Kind()`)
	require.NoError(t, err)
	assert.Equal(t, "point", v.String())

	fn, err := rt.Func("Point.Sum")
	require.NoError(t, err)

	out, err := fn.Call(nil, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []any{3}, out)

	unit, err := rt.CompileFunc(fn, "func (p Point) Sum(extra ...int) int {\n\treturn -1\n}", nil)
	require.NoError(t, err)

	_, err = fn.Swap(unit)
	require.NoError(t, err)

	v, err = rt.Eval(`Point{X: 1, Y: 2}.Sum(3, 4)`)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v.Int())
}
