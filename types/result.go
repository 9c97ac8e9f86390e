package types

import (
	"fmt"
	"strings"
	"time"
)

// ExecutionTime is the interval during which a feature, scenario or step executed.
type ExecutionTime struct {
	Start    time.Time
	Duration time.Duration
}

// End returns the instant the interval finished.
func (t ExecutionTime) End() time.Time {
	return t.Start.Add(t.Duration)
}

// IsZero reports whether the interval was never started.
func (t ExecutionTime) IsZero() bool {
	return t.Start.IsZero()
}

// EventTime stamps a lifecycle event. Start is the instant the run started and
// Offset is the monotonic time elapsed since then, so durations between two
// events never depend on wall clock resolution.
type EventTime struct {
	Start  time.Time
	Offset time.Duration
}

// Instant returns the wall clock instant of the event.
func (t EventTime) Instant() time.Time {
	return t.Start.Add(t.Offset)
}

// Sub returns the duration between two events of the same run.
func (t EventTime) Sub(earlier EventTime) time.Duration {
	return t.Offset - earlier.Offset
}

// Clock produces EventTimes relative to a fixed starting instant.
type Clock struct {
	start time.Time
}

// NewClock returns a clock whose offsets are measured from now.
func NewClock() *Clock {
	return &Clock{start: time.Now()}
}

// Start returns the instant the clock was created.
func (c *Clock) Start() time.Time {
	return c.start
}

// Now returns the current EventTime.
func (c *Clock) Now() EventTime {
	return EventTime{Start: c.start, Offset: time.Since(c.start)}
}

// Measure converts two event times into an ExecutionTime.
func Measure(start, end EventTime) ExecutionTime {
	return ExecutionTime{Start: start.Instant(), Duration: end.Sub(start)}
}

// Argument is a named value bound to a scenario or step.
type Argument struct {
	Name  string
	Value interface{}
}

func (a Argument) String() string {
	return fmt.Sprintf("%s=%v", a.Name, a.Value)
}

// FeatureInfo describes a feature (the fixture type of a set of scenarios).
type FeatureInfo struct {
	Name        string
	Description string
	Labels      []string
	Index       int // declaration order among features
}

// ScenarioInfo describes one scenario of a feature.
type ScenarioInfo struct {
	Feature   FeatureInfo
	Name      string
	Labels    []string
	Arguments []Argument
	Index     int // declaration order within the feature
	RunID     string
}

// ID returns a stable identifier "Feature/Scenario".
func (s ScenarioInfo) ID() string {
	return fmt.Sprintf("%s/%s", s.Feature.Name, s.Name)
}

// StepInfo describes a step within a scenario or step group.
type StepInfo struct {
	Name       string
	Number     int    // 1-based ordinal within its parent
	Position   string // dotted position from the scenario root, e.g. "2.1"
	Parameters []Argument
	Scenario   ScenarioInfo
}

// StepResult is the outcome of one executed (or not executed) step.
type StepResult struct {
	Info          StepInfo
	Status        ExecutionStatus
	Detail        string
	Err           error
	Comments      []string
	Composite     bool
	SubSteps      []*StepResult
	ExecutionTime ExecutionTime
}

// DetailLines returns the lines a parent uses to describe this step.
// A composite step is described purely by its own detail, which already carries
// the positions of its children; a leaf step is prefixed by its position and status.
func (r *StepResult) DetailLines() []string {
	if r.Status == StatusPassed || r.Status == StatusNotRun || r.Detail == "" {
		return nil
	}
	if r.Composite {
		return strings.Split(r.Detail, "\n")
	}
	return []string{FormatStepLine(r.Info.Position, r.Status, r.Detail)}
}

// FormatStepLine renders one detail line: "Step <position> <Status>: <detail>".
func FormatStepLine(position string, status ExecutionStatus, detail string) string {
	return fmt.Sprintf("Step %s %s: %s", position, status, detail)
}

// StepDetails concatenates the detail lines of all non-passed steps in order.
func StepDetails(steps []*StepResult) []string {
	var lines []string
	for _, s := range steps {
		lines = append(lines, s.DetailLines()...)
	}
	return lines
}

// StepStatuses returns the statuses of the given steps in order.
func StepStatuses(steps []*StepResult) []ExecutionStatus {
	statuses := make([]ExecutionStatus, len(steps))
	for i, s := range steps {
		statuses[i] = s.Status
	}
	return statuses
}

// ScenarioResult is the outcome of one scenario instance.
type ScenarioResult struct {
	Info          ScenarioInfo
	Status        ExecutionStatus
	Detail        string
	Err           error
	Steps         []*StepResult
	ExecutionTime ExecutionTime
	WorkerID      int64 // dedicated worker the scenario ran on, 0 when none
}

// FeatureResult groups the scenario results of one feature in declaration order.
type FeatureResult struct {
	Info      FeatureInfo
	Scenarios []*ScenarioResult
}

// Status returns the most severe scenario status of the feature.
func (f *FeatureResult) Status() ExecutionStatus {
	statuses := make([]ExecutionStatus, len(f.Scenarios))
	for i, s := range f.Scenarios {
		statuses[i] = s.Status
	}
	return MostSevere(statuses...)
}

// ExecutionTime spans from the earliest scenario start to the latest scenario end.
func (f *FeatureResult) ExecutionTime() ExecutionTime {
	var start, end time.Time
	for _, s := range f.Scenarios {
		if s.ExecutionTime.IsZero() {
			continue
		}
		if start.IsZero() || s.ExecutionTime.Start.Before(start) {
			start = s.ExecutionTime.Start
		}
		if s.ExecutionTime.End().After(end) {
			end = s.ExecutionTime.End()
		}
	}
	if start.IsZero() {
		return ExecutionTime{}
	}
	return ExecutionTime{Start: start, Duration: end.Sub(start)}
}

// ResultStats counts outcomes per status.
type ResultStats struct {
	Total    int
	NotRun   int
	Passed   int
	Bypassed int
	Ignored  int
	Failed   int
}

// Add counts one outcome.
func (s *ResultStats) Add(status ExecutionStatus) {
	s.Total++
	switch status {
	case StatusNotRun:
		s.NotRun++
	case StatusPassed:
		s.Passed++
	case StatusBypassed:
		s.Bypassed++
	case StatusIgnored:
		s.Ignored++
	case StatusFailed:
		s.Failed++
	}
}

// TestRunResult is the aggregate result of a whole run.
type TestRunResult struct {
	RunID         string
	Features      []*FeatureResult
	ExecutionTime ExecutionTime
	ScenarioStats ResultStats
	StepStats     ResultStats
}

// Status returns the most severe scenario status across all features.
func (r *TestRunResult) Status() ExecutionStatus {
	statuses := make([]ExecutionStatus, 0, len(r.Features))
	for _, f := range r.Features {
		if len(f.Scenarios) > 0 {
			statuses = append(statuses, f.Status())
		}
	}
	return MostSevere(statuses...)
}

// Scenarios returns every scenario result in feature then declaration order.
func (r *TestRunResult) Scenarios() []*ScenarioResult {
	var all []*ScenarioResult
	for _, f := range r.Features {
		all = append(all, f.Scenarios...)
	}
	return all
}

// ComputeStats recounts ScenarioStats and StepStats from the tree.
func (r *TestRunResult) ComputeStats() {
	r.ScenarioStats = ResultStats{}
	r.StepStats = ResultStats{}
	for _, s := range r.Scenarios() {
		r.ScenarioStats.Add(s.Status)
		WalkSteps(s.Steps, func(step *StepResult) {
			r.StepStats.Add(step.Status)
		})
	}
}

// WalkSteps visits steps depth first, parents before children.
func WalkSteps(steps []*StepResult, fn func(*StepResult)) {
	for _, s := range steps {
		fn(s)
		WalkSteps(s.SubSteps, fn)
	}
}
