package cmd

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/mouse-blink/hotpatch/internal/config"
	"github.com/mouse-blink/hotpatch/internal/domain"
	m "github.com/mouse-blink/hotpatch/internal/model"
)

type mockWorkflow struct {
	mock.Mock
}

func (w *mockWorkflow) Check(args domain.CheckArgs) ([]m.CheckResult, error) {
	ret := w.Called(args)

	results, _ := ret.Get(0).([]m.CheckResult)

	return results, ret.Error(1)
}

func (w *mockWorkflow) Diff(args domain.DiffArgs) ([]m.DiffResult, error) {
	ret := w.Called(args)

	diffs, _ := ret.Get(0).([]m.DiffResult)

	return diffs, ret.Error(1)
}

func (w *mockWorkflow) Run(args domain.RunArgs) (m.RunResult, error) {
	ret := w.Called(args)

	result, _ := ret.Get(0).(m.RunResult)

	return result, ret.Error(1)
}

// useMockWorkflow makes commands run against a mock and restores the real
// workflow factory when the test ends.
func useMockWorkflow(t *testing.T) *mockWorkflow {
	t.Helper()

	for _, key := range []string{"HOTPATCH_DEBUG", "HOTPATCH_CACHE_DIR", "HOTPATCH_GOPATH"} {
		t.Setenv(key, "")
	}

	mw := &mockWorkflow{}

	original := newWorkflow
	newWorkflow = func(*config.Config, *zap.Logger) domain.Workflow { return mw }

	t.Cleanup(func() {
		newWorkflow = original

		mw.AssertExpectations(t)
	})

	return mw
}
