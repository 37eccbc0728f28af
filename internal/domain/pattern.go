package domain

import (
	"errors"
	"fmt"
	"go/ast"
	"regexp"
	"strconv"
	"strings"

	"github.com/sahilm/fuzzy"
)

const maxSuggestions = 3

// Pattern locates exactly one node inside a Tree. The set of patterns is
// closed: Literal, Regex, Path and Anchored.
type Pattern interface {
	fmt.Stringer
	resolve(t *Tree, scope []*block) (*MatchResult, error)
}

// MatchResult is the unique node a pattern resolved to.
type MatchResult struct {
	Node  ast.Node
	Index int    // index inside the enclosing block
	Path  []int  // indices of the enclosing nodes from the scope root
	Line  int    // start line of Node
	Text  string // normalized own text of Node
	File  string

	block *block
}

type literalPattern struct{ text string }

type regexPattern struct{ re *regexp.Regexp }

type pathPattern struct{ elems []Pattern }

type anchoredPattern struct {
	inner  Pattern
	offset int
}

// Literal matches the statement whose own text equals text once both are
// normalized to single-spaced tokens.
func Literal(text string) Pattern {
	return literalPattern{text: text}
}

// Regex matches the statement whose raw own text matches expr.
func Regex(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", expr, err)
	}

	return regexPattern{re: re}, nil
}

// MustRegex is like Regex but panics on an invalid expression.
func MustRegex(expr string) Pattern {
	p, err := Regex(expr)
	if err != nil {
		panic(err)
	}

	return p
}

// Path resolves each element inside the nested blocks of the previous one.
func Path(elems ...Pattern) Pattern {
	return pathPattern{elems: elems}
}

// Anchored resolves inner and then selects the statement starting offset
// lines below (or above, when negative) the match.
func Anchored(inner Pattern, offset int) Pattern {
	return anchoredPattern{inner: inner, offset: offset}
}

func (p literalPattern) String() string { return strconv.Quote(p.text) }

func (p regexPattern) String() string { return "re:" + p.re.String() }

func (p pathPattern) String() string {
	parts := make([]string, len(p.elems))
	for i, e := range p.elems {
		parts[i] = e.String()
	}

	return "[" + strings.Join(parts, " > ") + "]"
}

func (p anchoredPattern) String() string {
	return fmt.Sprintf("@%+d:%s", p.offset, p.inner)
}

func (p literalPattern) resolve(t *Tree, scope []*block) (*MatchResult, error) {
	want := normalize(p.text)

	m, err := t.search(scope, func(text string) bool { return normalize(text) == want })
	if err != nil {
		var pe *PatchError
		if errors.As(err, &pe) && pe.Code == CodeNotFound {
			pe.Suggestions = t.suggest(scope, want)
		}

		return nil, annotate(err, p)
	}

	return m, nil
}

func (p regexPattern) resolve(t *Tree, scope []*block) (*MatchResult, error) {
	m, err := t.search(scope, p.re.MatchString)
	if err != nil {
		return nil, annotate(err, p)
	}

	return m, nil
}

func (p pathPattern) resolve(t *Tree, scope []*block) (*MatchResult, error) {
	if len(p.elems) == 0 {
		return nil, annotate(newPatchError(CodeInvalidPath, "empty path"), p)
	}

	var m *MatchResult

	for i, elem := range p.elems {
		var err error

		m, err = elem.resolve(t, scope)
		if err != nil {
			return nil, err
		}

		if i == len(p.elems)-1 {
			break
		}

		scope = nested(m.Node, m.block, m.Index)
		if len(scope) == 0 {
			pe := newPatchError(CodeInvalidPath, "%q at line %d owns no nested block", m.Text, m.Line)
			pe.Lines = []int{m.Line}

			return nil, annotate(pe, p)
		}
	}

	return m, nil
}

func (p anchoredPattern) resolve(t *Tree, scope []*block) (*MatchResult, error) {
	m, err := p.inner.resolve(t, scope)
	if err != nil {
		return nil, err
	}

	if p.offset == 0 {
		return m, nil
	}

	want := m.Line + p.offset

	first, last := m.block.lines(t.fset)
	if want < first || want > last {
		pe := newPatchError(CodeInvalidOffset, "line %d is outside the block enclosing line %d (lines %d-%d)", want, m.Line, first, last)

		return nil, annotate(pe, p)
	}

	var found *MatchResult

	walk([]*block{m.block}, func(b *block, idx int, n ast.Node) bool {
		if t.line(n.Pos()) != want {
			return true
		}

		found = t.result(b, idx, n)

		return false
	})

	if found == nil {
		pe := newPatchError(CodeInvalidOffset, "no statement starts at line %d", want)

		return nil, annotate(pe, p)
	}

	return found, nil
}

// walk visits every node of blocks and their nested blocks in pre-order
// until fn returns false. It reports whether the walk ran to completion.
func walk(blocks []*block, fn func(b *block, idx int, n ast.Node) bool) bool {
	for _, b := range blocks {
		for i, n := range b.nodes {
			if !fn(b, i, n) {
				return false
			}

			if !walk(nested(n, b, i), fn) {
				return false
			}
		}
	}

	return true
}

// search returns the single node of scope whose own text satisfies match.
func (t *Tree) search(scope []*block, match func(text string) bool) (*MatchResult, error) {
	var found []*MatchResult

	walk(scope, func(b *block, idx int, n ast.Node) bool {
		if match(t.ownText(b.file, n)) {
			found = append(found, t.result(b, idx, n))
		}

		return true
	})

	switch len(found) {
	case 0:
		return nil, newPatchError(CodeNotFound, "no statement matches")
	case 1:
		return found[0], nil
	}

	pe := newPatchError(CodeAmbiguousMatch, "%d statements match", len(found))
	for _, m := range found {
		pe.Lines = append(pe.Lines, m.Line)
	}

	return nil, pe
}

func (t *Tree) result(b *block, idx int, n ast.Node) *MatchResult {
	return &MatchResult{
		Node:  n,
		Index: idx,
		Path:  append([]int(nil), b.path...),
		Line:  t.line(n.Pos()),
		Text:  normalize(t.ownText(b.file, n)),
		File:  b.file.name,
		block: b,
	}
}

// suggest returns the own texts of scope closest to want.
func (t *Tree) suggest(scope []*block, want string) []string {
	var texts []string

	seen := make(map[string]struct{})

	walk(scope, func(b *block, _ int, n ast.Node) bool {
		text := normalize(t.ownText(b.file, n))
		if _, ok := seen[text]; !ok {
			seen[text] = struct{}{}
			texts = append(texts, text)
		}

		return true
	})

	matches := fuzzy.Find(want, texts)

	var out []string
	for i := 0; i < len(matches) && i < maxSuggestions; i++ {
		out = append(out, matches[i].Str)
	}

	return out
}

func annotate(err error, p Pattern) error {
	var pe *PatchError
	if errors.As(err, &pe) && pe.Pattern == "" {
		pe.Pattern = p.String()
	}

	return err
}

var anchorSyntax = regexp.MustCompile(`^@([+-]\d+):(.*)$`)

// ParsePattern reads the textual form used in plan files: "re:<expr>" is a
// Regex, "@+N:<pattern>" or "@-N:<pattern>" is an Anchored pattern, anything
// else is a Literal.
func ParsePattern(s string) (Pattern, error) {
	if expr, ok := strings.CutPrefix(s, "re:"); ok {
		return Regex(expr)
	}

	if m := anchorSyntax.FindStringSubmatch(s); m != nil {
		offset, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("parse offset of %q: %w", s, err)
		}

		inner, err := ParsePattern(m[2])
		if err != nil {
			return nil, err
		}

		return Anchored(inner, offset), nil
	}

	return Literal(s), nil
}

// ParseTarget turns a plan target into a Pattern. Several elements form a Path.
func ParseTarget(elems []string) (Pattern, error) {
	switch len(elems) {
	case 0:
		return nil, newPatchError(CodeInvalidPath, "empty target")
	case 1:
		return ParsePattern(elems[0])
	}

	parts := make([]Pattern, len(elems))
	for i, e := range elems {
		p, err := ParsePattern(e)
		if err != nil {
			return nil, err
		}

		parts[i] = p
	}

	return Path(parts...), nil
}
