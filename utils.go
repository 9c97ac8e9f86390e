package opscenario

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-scenario/types"
)

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// getResultString returns a short marker plus the status name.
func getResultString(status types.ExecutionStatus) string {
	switch status {
	case types.StatusPassed:
		return "✓ passed"
	case types.StatusBypassed:
		return "~ bypassed"
	case types.StatusIgnored:
		return "- ignored"
	case types.StatusNotRun:
		return "  not run"
	default:
		return "✗ failed"
	}
}

// formatDuration formats to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// firstLine keeps the first line of a multi-line detail, truncated for table display.
func firstLine(detail string, maxLen int) string {
	if idx := strings.Index(detail, "\n"); idx != -1 {
		detail = detail[:idx] + " (...)"
	}
	if runes := []rune(detail); maxLen > 3 && len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return detail
}

// scenarioDisplayName appends example arguments to the scenario name.
func scenarioDisplayName(info types.ScenarioInfo) string {
	if len(info.Arguments) == 0 {
		return info.Name
	}
	args := make([]string, len(info.Arguments))
	for i, a := range info.Arguments {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", info.Name, strings.Join(args, ", "))
}

// summary is the one-line outcome printed below the results table.
func summary(result *types.TestRunResult) string {
	s := result.ScenarioStats
	return fmt.Sprintf("Run %s %s: %d scenarios, %d passed, %d bypassed, %d ignored, %d failed, %d not run (%s)",
		result.RunID, result.Status(), s.Total, s.Passed, s.Bypassed, s.Ignored, s.Failed, s.NotRun,
		formatDuration(result.ExecutionTime.Duration))
}
