package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a PatchError.
type Code string

// Error codes carried by PatchError.
const (
	CodeNotFound          Code = "not_found"
	CodeAmbiguousMatch    Code = "ambiguous_match"
	CodeInvalidOffset     Code = "invalid_offset"
	CodeInvalidPath       Code = "invalid_path"
	CodeConflict          Code = "conflict"
	CodeInvalidContent    Code = "invalid_content"
	CodeSignatureMismatch Code = "signature_mismatch"
	CodeAlreadyLoaded     Code = "already_loaded"
	CodeUnpatchableTarget Code = "unpatchable_target"
)

// Sentinels for errors.Is. Every PatchError unwraps to the sentinel of its code.
var (
	ErrNotFound          = errors.New("no statement matches the pattern")
	ErrAmbiguousMatch    = errors.New("pattern matches more than one statement")
	ErrInvalidOffset     = errors.New("line offset does not land on a statement of the enclosing block")
	ErrInvalidPath       = errors.New("path element has no nested block")
	ErrConflict          = errors.New("conflicting patches")
	ErrInvalidContent    = errors.New("invalid replacement content")
	ErrSignatureMismatch = errors.New("patched function signature differs from the original")
	ErrAlreadyLoaded     = errors.New("package already loaded")
	ErrUnpatchableTarget = errors.New("target cannot be patched")
)

// Lifecycle errors returned by Session.
var (
	ErrAlreadyActive = errors.New("session already active")
	ErrNotActive     = errors.New("session not active")
	ErrNoPatches     = errors.New("session has no patches")
	ErrSessionActive = errors.New("cannot register patches on an active session")
)

var sentinels = map[Code]error{
	CodeNotFound:          ErrNotFound,
	CodeAmbiguousMatch:    ErrAmbiguousMatch,
	CodeInvalidOffset:     ErrInvalidOffset,
	CodeInvalidPath:       ErrInvalidPath,
	CodeConflict:          ErrConflict,
	CodeInvalidContent:    ErrInvalidContent,
	CodeSignatureMismatch: ErrSignatureMismatch,
	CodeAlreadyLoaded:     ErrAlreadyLoaded,
	CodeUnpatchableTarget: ErrUnpatchableTarget,
}

// PatchError is a structured resolution, validation or compilation failure.
type PatchError struct {
	Code        Code
	Target      string   // function or package the patch belongs to
	Pattern     string   // pattern being resolved, if any
	Message     string
	Suggestions []string // closest statements for not-found errors
	Lines       []int    // candidate lines for ambiguous matches
	Err         error    // underlying cause, if any
}

// Error implements the error interface.
func (e *PatchError) Error() string {
	var b strings.Builder

	if e.Target != "" {
		b.WriteString(e.Target)
		b.WriteString(": ")
	}

	b.WriteString(e.Message)

	if e.Pattern != "" {
		fmt.Fprintf(&b, " (pattern %s)", e.Pattern)
	}

	if len(e.Lines) > 0 {
		lines := make([]string, len(e.Lines))
		for i, l := range e.Lines {
			lines[i] = fmt.Sprint(l)
		}

		fmt.Fprintf(&b, " at lines %s", strings.Join(lines, ", "))
	}

	if len(e.Suggestions) > 0 {
		fmt.Fprintf(&b, " (did you mean: %s?)", strings.Join(e.Suggestions, "; "))
	}

	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}

	return b.String()
}

// Unwrap exposes the code sentinel and the underlying cause.
func (e *PatchError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := sentinels[e.Code]; ok {
		errs = append(errs, s)
	}

	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

func newPatchError(code Code, format string, args ...any) *PatchError {
	return &PatchError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// withTarget fills in the target name on PatchErrors that do not carry one yet.
func withTarget(err error, target string) error {
	var pe *PatchError
	if errors.As(err, &pe) && pe.Target == "" {
		pe.Target = target
	}

	return err
}
