package types

import "fmt"

// ExecutionStatus is the outcome of a step, scenario, feature or run.
// Values are declared in severity order: a higher value is more severe.
type ExecutionStatus int

const (
	StatusNotRun ExecutionStatus = iota
	StatusPassed
	StatusBypassed
	StatusIgnored
	StatusFailed
)

var statusNames = map[ExecutionStatus]string{
	StatusNotRun:   "NotRun",
	StatusPassed:   "Passed",
	StatusBypassed: "Bypassed",
	StatusIgnored:  "Ignored",
	StatusFailed:   "Failed",
}

func (s ExecutionStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ExecutionStatus(%d)", int(s))
}

// MoreSevereThan reports whether s is strictly more severe than other.
func (s ExecutionStatus) MoreSevereThan(other ExecutionStatus) bool {
	return s > other
}

// ParseExecutionStatus converts a status name (as produced by String) back to a status.
func ParseExecutionStatus(name string) (ExecutionStatus, error) {
	for status, n := range statusNames {
		if n == name {
			return status, nil
		}
	}
	return StatusNotRun, fmt.Errorf("unknown execution status %q", name)
}

// MostSevereIndex returns the index of the most severe status in statuses.
// Ties break toward the last occurrence, so the reported detail follows reading order.
// It returns -1 for an empty slice.
func MostSevereIndex(statuses []ExecutionStatus) int {
	idx := -1
	for i, s := range statuses {
		if idx == -1 || s >= statuses[idx] {
			idx = i
		}
	}
	return idx
}

// MostSevere returns the most severe of the given statuses, or StatusNotRun when none are given.
func MostSevere(statuses ...ExecutionStatus) ExecutionStatus {
	idx := MostSevereIndex(statuses)
	if idx < 0 {
		return StatusNotRun
	}
	return statuses[idx]
}

// Priority controls the order in which scenario cases are admitted by the scheduler.
type Priority int

const (
	PriorityLow Priority = iota - 1
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses "low", "normal" or "high". An empty string yields PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNormal, fmt.Errorf("invalid priority %q: must be one of low, normal, high", s)
	}
}

// UnmarshalYAML lets priorities be written by name in run plans.
func (p *Priority) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
