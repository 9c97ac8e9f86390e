package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	opscenario "github.com/ethereum-optimism/infra/op-scenario"
	"github.com/ethereum-optimism/infra/op-scenario/exitcodes"
	"github.com/ethereum-optimism/infra/op-scenario/flags"
	"github.com/ethereum-optimism/infra/op-scenario/internal/samples"
	"github.com/ethereum-optimism/infra/op-scenario/registry"
	"github.com/ethereum-optimism/infra/op-scenario/service"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-scenario"
	app.Usage = "Optimism Scenario Runner Service"
	app.Description = "op-scenario runs BDD scenarios against networks"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.Commands = []*cli.Command{ListCommand()}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
			return
		}
		cli.HandleExitCoder(cli.Exit(err.Error(), exitCode(err)))
	}
	return app
}

// exitCode maps an application error to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case opscenario.IsRuntimeError(err):
		return exitcodes.RuntimeErr
	default:
		// test failures and unspecified errors
		return exitcodes.TestFailure
	}
}

// newRegistry builds the registry of scenarios the binary runs.
func newRegistry(ctx *cli.Context, logger log.Logger) *registry.Registry {
	reg := registry.New(logger)
	samples.Register(reg, ctx.StringSlice(flags.SampleCapabilities.Name)...)
	return reg
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	logger := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(logger.Handler())
	oplog.SetupDefaults()

	cfg, err := opscenario.NewConfig(ctx, logger)
	if err != nil {
		return nil, opscenario.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg)

	svc, err := opscenario.New(ctx.Context, cfg, newRegistry(ctx, logger), Version, closeApp)
	if err != nil {
		return nil, opscenario.NewRuntimeError(fmt.Errorf("failed to create op-scenario: %w", err))
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	servers := service.New(service.Config{
		HealthzAddr:    ctx.String(flags.HealthzAddr.Name),
		MetricsEnabled: metricsCfg.Enabled,
		MetricsHost:    metricsCfg.ListenAddr,
		MetricsPort:    metricsCfg.ListenPort,
	})
	return &withServers{Lifecycle: svc, servers: servers}, nil
}

// withServers runs the healthz and metrics servers alongside the scenario service.
type withServers struct {
	cliapp.Lifecycle
	servers *service.Service
}

func (w *withServers) Start(ctx context.Context) error {
	w.servers.Start(ctx)
	return w.Lifecycle.Start(ctx)
}

func (w *withServers) Stop(ctx context.Context) error {
	err := w.Lifecycle.Stop(ctx)
	w.servers.Shutdown()
	return err
}
