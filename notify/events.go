// Package notify defines the lifecycle events emitted while a run executes and the
// notifier collaborators that consume them.
package notify

import (
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// Event is a lifecycle notification. Every event carries the run-relative time it occurred at.
type Event interface {
	Time() types.EventTime
	Kind() string
}

type At struct {
	At types.EventTime
}

func (a At) Time() types.EventTime {
	return a.At
}

type TestRunStarting struct {
	At
	RunID string
}

type TestRunFinished struct {
	At
	Result *types.TestRunResult
}

type FeatureStarting struct {
	At
	Feature types.FeatureInfo
}

type FeatureFinished struct {
	At
	Result *types.FeatureResult
}

type ScenarioStarting struct {
	At
	Scenario types.ScenarioInfo
}

type ScenarioFinished struct {
	At
	Result *types.ScenarioResult
}

type StepStarting struct {
	At
	Step types.StepInfo
}

type StepFinished struct {
	At
	Result *types.StepResult
}

type StepComment struct {
	At
	Step    types.StepInfo
	Comment string
}

func (TestRunStarting) Kind() string  { return "test-run-starting" }
func (TestRunFinished) Kind() string  { return "test-run-finished" }
func (FeatureStarting) Kind() string  { return "feature-starting" }
func (FeatureFinished) Kind() string  { return "feature-finished" }
func (ScenarioStarting) Kind() string { return "scenario-starting" }
func (ScenarioFinished) Kind() string { return "scenario-finished" }
func (StepStarting) Kind() string     { return "step-starting" }
func (StepFinished) Kind() string     { return "step-finished" }
func (StepComment) Kind() string      { return "step-comment" }
