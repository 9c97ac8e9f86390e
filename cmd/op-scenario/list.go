package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-scenario/flags"
	"github.com/ethereum-optimism/infra/op-scenario/registry"
	"github.com/ethereum-optimism/infra/op-scenario/runner"
)

// ListCommand defines the "list" command printing the scenarios a profile selects.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the scenarios selected by the run plan profile",
		Description: `Prints every scenario the given profile would run, with the priority,
exclusivity and dedicated-worker settings after plan overrides.

Examples:
  op-scenario list
  op-scenario --plan plan.yaml --profile smoke list`,
		Action: func(ctx *cli.Context) error {
			logger := log.NewLogger(log.DiscardHandler())
			var plan *registry.Plan
			if path := ctx.String(flags.Plan.Name); path != "" {
				var err error
				if plan, err = registry.LoadPlan(path); err != nil {
					return cli.Exit(err.Error(), 2)
				}
			}
			cases, err := newRegistry(ctx, logger).Cases(plan, ctx.String(flags.Profile.Name))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			return printCases(ctx.App.Writer, cases)
		},
	}
}

func printCases(w io.Writer, cases []runner.ScenarioCase) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Scenario", "Labels", "Priority", "Exclusive", "Dedicated"})
	for _, c := range cases {
		id := c.ID()
		if len(c.Arguments) > 0 {
			args := make([]string, len(c.Arguments))
			for i, a := range c.Arguments {
				args[i] = a.String()
			}
			id = fmt.Sprintf("%s(%s)", id, strings.Join(args, ", "))
		}
		labels := append(append([]string(nil), c.Feature.Labels...), c.Labels...)
		t.AppendRow(table.Row{id, strings.Join(labels, ","), c.Priority, c.Exclusive, c.Dedicated})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d scenarios", len(cases))})
	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}
