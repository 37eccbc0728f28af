package adapter

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	m "github.com/mouse-blink/hotpatch/internal/model"
)

// PlanStore retrieves patch plans.
type PlanStore interface {
	LoadPlan(path m.Path) (m.Plan, error)
}

type planStore struct {
	fs SourceFSAdapter
}

// NewPlanStore constructs a PlanStore reading through fs.
func NewPlanStore(fs SourceFSAdapter) PlanStore {
	return &planStore{fs: fs}
}

// LoadPlan decodes and validates the plan at path. Unknown keys are errors.
func (ps *planStore) LoadPlan(path m.Path) (m.Plan, error) {
	data, err := ps.fs.ReadFile(path)
	if err != nil {
		return m.Plan{}, fmt.Errorf("read plan %s: %w", path, err)
	}

	var plan m.Plan

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&plan); err != nil {
		return m.Plan{}, fmt.Errorf("decode plan %s: %w", path, err)
	}

	if err := plan.Validate(); err != nil {
		return m.Plan{}, fmt.Errorf("plan %s: %w", path, err)
	}

	return plan, nil
}
