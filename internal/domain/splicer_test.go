package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/mouse-blink/hotpatch/internal/model"
)

func TestApplySpecs_Function(t *testing.T) {
	tree := parseFuncTree(t, computeSrc)

	out, err := applySpecs(goParser(), tree, []PatchSpec{
		Spec(Literal("x = x + 10"), Source(`println("before")`), m.ModeBefore),
		Spec(Literal("y = y * 2"), Source("y = y * 3"), m.ModeReplace),
		Spec(MustRegex(`^result :=`), Source(`println("after", result)`), m.ModeAfter),
	})
	require.NoError(t, err)

	want := `func Compute(x, y int) int {
	println("before")
	x = x + 10
	y = y * 3
	result := x + y
	println("after", result)
	return result
}`
	assert.Equal(t, normalize(want), normalize(out.Text))

	require.Len(t, out.Matches, 3)
	assert.Equal(t, []int{2, 3, 4}, []int{out.Matches[0].Line, out.Matches[1].Line, out.Matches[2].Line})
	assert.Equal(t, "y = y * 2", out.Matches[1].Text)

	require.NotNil(t, out.Tree)
	again, err := resolveOne(t, out.Tree, Literal("y = y * 3"))
	require.NoError(t, err)
	assert.Positive(t, again.Line)
}

func TestApplySpecs_StackedPatchesKeepOrder(t *testing.T) {
	tree := parseFuncTree(t, computeSrc)

	out, err := applySpecs(goParser(), tree, []PatchSpec{
		Spec(Literal("return result"), Source("result++"), m.ModeBefore),
		Spec(Literal("return result"), Source("result *= 2"), m.ModeBefore),
	})
	require.NoError(t, err)

	text := normalize(out.Text)
	first := strings.Index(text, "result ++")
	second := strings.Index(text, "result *= 2")

	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	assert.Less(t, first, second)
}

func TestApplySpecs_NestedAndClauses(t *testing.T) {
	const classify = `func Classify(n int) string {
	switch {
	case n < 0:
		return "negative"
	case n == 0:
		return "zero"
	default:
		return "positive"
	}
}`

	tree := parseFuncTree(t, classify)

	out, err := applySpecs(goParser(), tree, []PatchSpec{
		Spec(Literal("case n == 0:"), Source("case n > 100:\n\treturn \"huge\""), m.ModeAfter),
		Spec(Literal(`return "negative"`), Source(`return "below zero"`), m.ModeReplace),
	})
	require.NoError(t, err)

	text := normalize(out.Text)
	assert.Contains(t, text, `case n > 100 : return "huge"`)
	assert.Contains(t, text, `return "below zero"`)
	assert.NotContains(t, text, `"negative"`)
}

func TestApplySpecs_ElseIf(t *testing.T) {
	t.Run("replace header", func(t *testing.T) {
		out, err := applySpecs(goParser(), parseFuncTree(t, signSrc), []PatchSpec{
			Spec(Literal("if x > 5"), Source("if x > 6 {\n\treturn 1\n}"), m.ModeReplace),
		})
		require.NoError(t, err)

		text := normalize(out.Text)
		assert.Contains(t, text, "} else if x > 6 { return 1 }")
		assert.NotContains(t, text, "x > 5")
		assert.NotContains(t, text, "return 0")
	})

	t.Run("replace with a block", func(t *testing.T) {
		out, err := applySpecs(goParser(), parseFuncTree(t, signSrc), []PatchSpec{
			Spec(Literal("if x > 5"), Source("{\n\treturn -1\n}"), m.ModeReplace),
		})
		require.NoError(t, err)
		assert.Contains(t, normalize(out.Text), "} else { return - 1 }")
	})

	t.Run("patch inside the branch", func(t *testing.T) {
		out, err := applySpecs(goParser(), parseFuncTree(t, signSrc), []PatchSpec{
			Spec(Path(Literal("if x > 5"), Literal("return 1")), Source("println(x)"), m.ModeBefore),
		})
		require.NoError(t, err)
		assert.Contains(t, normalize(out.Text), "} else if x > 5 { println ( x ) return 1 }")
	})

	t.Run("insert next to header", func(t *testing.T) {
		_, err := applySpecs(goParser(), parseFuncTree(t, signSrc), []PatchSpec{
			Spec(Literal("if x > 5"), Source("println(x)"), m.ModeBefore),
		})
		require.ErrorIs(t, err, ErrInvalidContent)

		_, err = applySpecs(goParser(), parseFuncTree(t, signSrc), []PatchSpec{
			Spec(Literal("if x > 5"), Source("if x > 7 {\n}"), m.ModeAfter),
		})
		require.ErrorIs(t, err, ErrInvalidContent)
	})
}

func TestApplySpecs_ErrorsLeaveNothingBehind(t *testing.T) {
	tree := parseFuncTree(t, computeSrc)

	_, err := applySpecs(goParser(), tree, []PatchSpec{
		Spec(Literal("y = y * 2"), Source("y = y * 3"), m.ModeReplace),
		Spec(Literal("missing()"), Source("y++"), m.ModeBefore),
	})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = applySpecs(goParser(), tree, []PatchSpec{
		Spec(Literal("y = y * 2"), Source("y = "), m.ModeReplace),
	})
	require.ErrorIs(t, err, ErrInvalidContent)

	_, err = resolveOne(t, tree, Literal("y = y * 2"))
	require.NoError(t, err)
}

func TestPatchPackage(t *testing.T) {
	files := shapesFiles(t)

	out, err := patchPackage(goParser(), files, []PatchSpec{
		Spec(Path(Literal("type User struct"), Literal("Age int")), Source("Gender string"), m.ModeAfter),
		Spec(Path(Literal("func Adult(u User) bool"), Literal("if u.Age >= 18"), Literal("return true")),
			Source(`fmt.Println("adult:", u.Name)`), m.ModeBefore, WithImports("fmt")),
	})
	require.NoError(t, err)

	const name = "gopath/src/example.com/shapes/shapes.go"

	require.Contains(t, out.Files, name)

	src := string(out.Files[name])
	assert.Contains(t, src, `"fmt"`)
	assert.Contains(t, src, `"strings"`)
	assert.Contains(t, src, "Gender string")
	assert.Contains(t, src, `fmt.Println("adult:", u.Name)`)
	assert.True(t, strings.HasPrefix(src, "// Package shapes"), src)

	require.Len(t, out.Matches, 2)
	assert.Equal(t, "Age int", out.Matches[0].Text)
	assert.Equal(t, name, out.Matches[0].File)
}
