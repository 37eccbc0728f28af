package domain

import (
	"go.uber.org/zap"
)

// Target is something a session can patch: a live function (Func) or a
// package not imported yet (Module).
type Target interface {
	// Name identifies the target in errors and logs.
	Name() string

	key() any
	check() error
	prepare(specs []PatchSpec, logger *zap.Logger) (installer, error)
}

// installer applies a prepared patch set. Preparation did every step that
// can fail on bad input, so install only touches the live target.
type installer interface {
	install() (UndoToken, error)
}

// UndoToken restores a target to the state it had before an install.
type UndoToken interface {
	Revert() error
}
