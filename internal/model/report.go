package model

// MatchReport describes where one patch of a plan resolved.
type MatchReport struct {
	Plan    Path   // plan file the patch came from
	File    string // source file holding the matched statement
	Target  string // function or module name
	Pattern string // pattern as written
	Mode    Mode
	Line    int    // line of the matched statement in File
	Text    string // normalized text of the matched statement
}

// CheckResult holds the outcome of checking a single plan file.
type CheckResult struct {
	Plan    Path
	Reports []MatchReport
	Err     error // resolution or validation failure, nil on success
}

// DiffResult holds the original and patched source of one target.
type DiffResult struct {
	Target   string
	File     string
	Original string
	Patched  string
	Unified  string // unified diff of Original and Patched
}

// RunResult holds the values returned by a function called with a plan
// active.
type RunResult struct {
	Plan     Path
	Function string
	Args     []any
	Values   []any
}
