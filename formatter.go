package opscenario

import (
	"fmt"
	"io"
	"os"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-scenario/types"
	"github.com/ethereum-optimism/infra/op-scenario/ui"
)

const detailWidth = 80

// ResultFormatter is responsible for formatting and displaying run results.
type ResultFormatter interface {
	FormatResults(result *types.TestRunResult) error
}

// ConsoleResultFormatter renders the result tree as a table.
// Steps are listed only for scenarios that did not pass.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
	plain  bool
}

var _ ResultFormatter = (*ConsoleResultFormatter)(nil)

// NewConsoleResultFormatter creates a formatter writing to out, or stdout when out is nil.
// A plain formatter strips ANSI colors from the output.
func NewConsoleResultFormatter(logger log.Logger, out io.Writer, plain bool) *ConsoleResultFormatter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleResultFormatter{
		logger: logger,
		out:    out,
		plain:  plain,
	}
}

// FormatResults formats and writes the run results.
func (f *ConsoleResultFormatter) FormatResults(result *types.TestRunResult) error {
	f.logger.Info("Printing results...")
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Scenario Results (%s)", formatDuration(result.ExecutionTime.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Scenarios", "Passed", "Failed", "Ignored", "Bypassed", "Status", "Detail",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Scenarios", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Ignored", Align: text.AlignRight},
		{Name: "Bypassed", Align: text.AlignRight},
		{Name: "Detail", WidthMax: detailWidth, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, feature := range result.Features {
		var stats types.ResultStats
		for _, s := range feature.Scenarios {
			stats.Add(s.Status)
		}
		t.AppendRow(table.Row{
			"Feature",
			feature.Info.Name,
			formatDuration(feature.ExecutionTime().Duration),
			stats.Total,
			stats.Passed,
			stats.Failed,
			stats.Ignored,
			stats.Bypassed,
			getResultString(feature.Status()),
			"",
		})

		for i, scenario := range feature.Scenarios {
			isLast := i == len(feature.Scenarios)-1
			t.AppendRow(table.Row{
				"Scenario",
				ui.BuildTreePrefix(1, isLast, nil) + scenarioDisplayName(scenario.Info),
				formatDuration(scenario.ExecutionTime.Duration),
				1,
				boolToInt(scenario.Status == types.StatusPassed),
				boolToInt(scenario.Status == types.StatusFailed),
				boolToInt(scenario.Status == types.StatusIgnored),
				boolToInt(scenario.Status == types.StatusBypassed),
				getResultString(scenario.Status),
				firstLine(scenario.Detail, detailWidth),
			})
			if scenario.Status != types.StatusPassed {
				appendSteps(t, scenario.Steps, 2, []bool{isLast})
			}
		}

		t.AppendSeparator()
	}

	switch result.Status() {
	case types.StatusPassed:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case types.StatusFailed:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	}

	stats := result.ScenarioStats
	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(result.ExecutionTime.Duration),
		stats.Total,
		stats.Passed,
		stats.Failed,
		stats.Ignored,
		stats.Bypassed,
		getResultString(result.Status()),
		"",
	})

	rendered := t.Render() + "\n" + summary(result) + "\n"
	if f.plain {
		rendered = stripansi.Strip(rendered)
	}
	_, err := io.WriteString(f.out, rendered)
	return err
}

func appendSteps(t table.Writer, steps []*types.StepResult, depth int, parentIsLast []bool) {
	for i, s := range steps {
		isLast := i == len(steps)-1
		t.AppendRow(table.Row{
			"Step",
			fmt.Sprintf("%s%s %s", ui.BuildTreePrefix(depth, isLast, parentIsLast), s.Info.Position, s.Info.Name),
			formatDuration(s.ExecutionTime.Duration),
			"", "", "", "", "",
			getResultString(s.Status),
			firstLine(s.Detail, detailWidth),
		})
		if len(s.SubSteps) > 0 {
			appendSteps(t, s.SubSteps, depth+1, append(append([]bool(nil), parentIsLast...), isLast))
		}
	}
}
