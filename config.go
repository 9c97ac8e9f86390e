package opscenario

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-scenario/flags"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	PlanFile             string        // Optional YAML run plan
	Profile              string        // Run plan profile to execute
	RunInterval          time.Duration // Interval between runs
	RunOnce              bool          // Indicates if the service should exit after one run
	Serial               bool          // Whether to run scenarios one at a time
	Concurrency          int           // Maximum concurrently running scenarios (0 = auto-determine)
	DetachedDrainTimeout time.Duration // Bound on waiting for a step's detached operations
	ShowProgress         bool          // Whether to log periodic progress updates during a run
	ProgressInterval     time.Duration // Interval between progress updates when ShowProgress is 'true'
	PlainOutput          bool          // Print the results table without ANSI colors
	LogDir               string        // Directory for per-run scenario logs, empty to disable
	Log                  log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	var absPlan string
	if plan := ctx.String(flags.Plan.Name); plan != "" {
		var err error
		absPlan, err = filepath.Abs(plan)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for run plan '%s': %w", plan, err)
		}
	}

	concurrency := ctx.Int(flags.Concurrency.Name)
	if concurrency < 0 {
		return nil, errors.New("concurrency must not be negative")
	}
	runInterval := ctx.Duration(flags.RunInterval.Name)
	if runInterval < 0 {
		return nil, errors.New("run interval must not be negative")
	}

	return &Config{
		PlanFile:             absPlan,
		Profile:              ctx.String(flags.Profile.Name),
		RunInterval:          runInterval,
		RunOnce:              runInterval == 0,
		Serial:               ctx.Bool(flags.Serial.Name),
		Concurrency:          concurrency,
		DetachedDrainTimeout: ctx.Duration(flags.DetachedDrainTimeout.Name),
		ShowProgress:         ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval:     ctx.Duration(flags.ProgressInterval.Name),
		PlainOutput:          ctx.Bool(flags.PlainOutput.Name),
		LogDir:               ctx.String(flags.LogDir.Name),
		Log:                  log,
	}, nil
}

// maxConcurrency is the concurrency handed to the engine. Serial mode wins.
func (c *Config) maxConcurrency() int {
	if c.Serial {
		return 1
	}
	return c.Concurrency
}
