// Package model defines the data structures shared by the hotpatch engine,
// its adapters and the CLI.
package model

import "fmt"

// Mode says where replacement content goes relative to the matched statement.
type Mode string

const (
	// ModeBefore inserts the content ahead of the matched statement.
	ModeBefore Mode = "before"
	// ModeAfter inserts the content right after the matched statement.
	ModeAfter Mode = "after"
	// ModeReplace removes the matched statement and puts the content in its place.
	ModeReplace Mode = "replace"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeBefore, ModeAfter, ModeReplace:
		return true
	}

	return false
}

// ParseMode converts a plan or flag value into a Mode. The empty string
// defaults to ModeBefore.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeBefore, nil
	}

	mode := Mode(s)
	if !mode.Valid() {
		return "", fmt.Errorf("unknown patch mode %q (want before, after or replace)", s)
	}

	return mode, nil
}
