package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Path represents a file system path.
type Path string

// TargetSpec is the textual form of a pattern as written in plan files.
// A single element is one pattern; several elements form a nested path.
type TargetSpec []string

// UnmarshalYAML accepts either a scalar or a sequence of scalars.
func (t *TargetSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*t = TargetSpec{value.Value}

		return nil
	case yaml.SequenceNode:
		var elems []string
		if err := value.Decode(&elems); err != nil {
			return err
		}

		*t = elems

		return nil
	}

	return fmt.Errorf("line %d: target must be a string or a list of strings", value.Line)
}

// PlanPatch is one patch entry of a plan file. Exactly one of Function and
// Module is set.
type PlanPatch struct {
	Function string     `yaml:"function,omitempty"`
	Module   string     `yaml:"module,omitempty"`
	Target   TargetSpec `yaml:"target"`
	Mode     string     `yaml:"mode,omitempty"`
	Content  string     `yaml:"content"`
	Imports  []string   `yaml:"imports,omitempty"`
}

// Plan is a set of patches loaded from a YAML file.
type Plan struct {
	// Program is a package main file holding the functions named by
	// function patches, relative to the source root.
	Program Path `yaml:"program,omitempty"`
	// GoPath is the GOPATH directory, relative to the source root, that holds
	// packages named by module patches.
	GoPath  Path        `yaml:"gopath,omitempty"`
	Patches []PlanPatch `yaml:"patches"`
}

// Validate checks the structural rules that do not need any source.
func (p Plan) Validate() error {
	if len(p.Patches) == 0 {
		return fmt.Errorf("plan has no patches")
	}

	for i, patch := range p.Patches {
		if (patch.Function == "") == (patch.Module == "") {
			return fmt.Errorf("patch %d: exactly one of function and module must be set", i)
		}

		if patch.Function != "" && p.Program == "" {
			return fmt.Errorf("patch %d: function patches need a program", i)
		}

		if len(patch.Target) == 0 {
			return fmt.Errorf("patch %d: missing target", i)
		}

		if _, err := ParseMode(patch.Mode); err != nil {
			return fmt.Errorf("patch %d: %w", i, err)
		}
	}

	return nil
}

// TargetName returns the function or module the patch applies to.
func (p PlanPatch) TargetName() string {
	if p.Function != "" {
		return p.Function
	}

	return p.Module
}
