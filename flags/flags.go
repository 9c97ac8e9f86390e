package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_SCENARIO"

var (
	Plan = &cli.StringFlag{
		Name:    "plan",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PLAN"),
		Usage:   "Path to a YAML run plan selecting and adjusting scenarios (eg. 'plan.yaml')",
	}
	Profile = &cli.StringFlag{
		Name:    "profile",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROFILE"),
		Usage:   "Run plan profile to execute. Defaults to the plan's 'default' profile, or every scenario",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	Serial = &cli.BoolFlag{
		Name:    "serial",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERIAL"),
		Usage:   "Run scenarios one at a time",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Maximum number of scenarios running at once (0 = derived from the CPU count)",
	}
	DetachedDrainTimeout = &cli.DurationFlag{
		Name:    "detached-drain-timeout",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DETACHED_DRAIN_TIMEOUT"),
		Usage:   "How long a step waits for its detached operations before failing",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Log periodic progress updates while scenarios run",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
	PlainOutput = &cli.BoolFlag{
		Name:    "plain",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PLAIN"),
		Usage:   "Print the results table without colors",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOGDIR"),
		Usage:   "Directory to write per-run scenario logs to. Disabled when empty",
	}
	SampleCapabilities = &cli.StringSliceFlag{
		Name:    "samples.capabilities",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SAMPLES_CAPABILITIES"),
		Usage:   "Capabilities of the sample devnet (e.g. 'interop,fault-proofs')",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the health check server",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	Plan,
	Profile,
	RunInterval,
	Serial,
	Concurrency,
	DetachedDrainTimeout,
	ShowProgress,
	ProgressInterval,
	PlainOutput,
	LogDir,
	SampleCapabilities,
	HealthzAddr,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
