package opscenario

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// RuntimeError is an operational error that leads to exit code 2, such as an invalid
// run plan, a registration error or a failed global teardown. RunID is set when the
// error belongs to a run that started.
type RuntimeError struct {
	RunID string
	Err   error
}

func (e *RuntimeError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("runtime error in run %s: %v", e.RunID, e.Err)
	}
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// NewRunRuntimeError attributes err to the run with the given ID.
func NewRunRuntimeError(runID string, err error) *RuntimeError {
	return &RuntimeError{RunID: runID, Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError reports a run whose status is Failed (exit code 1).
type TestFailureError struct {
	RunID  string
	Status types.ExecutionStatus
	Stats  types.ResultStats
	// Failed lists the failed scenarios in declaration order.
	Failed  []string
	Message string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{Status: types.StatusFailed, Message: message}
}

// NewRunFailureError describes a failed run by its status and failed scenarios.
func NewRunFailureError(result *types.TestRunResult) *TestFailureError {
	var failed []string
	for _, s := range result.Scenarios() {
		if s.Status == types.StatusFailed {
			failed = append(failed, scenarioDisplayName(s.Info))
		}
	}
	stats := result.ScenarioStats
	return &TestFailureError{
		RunID:  result.RunID,
		Status: result.Status(),
		Stats:  stats,
		Failed: failed,
		Message: fmt.Sprintf("run %s %s: %d of %d scenarios failed: %s",
			result.RunID, result.Status(), stats.Failed, stats.Total, strings.Join(failed, ", ")),
	}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}
