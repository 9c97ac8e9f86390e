package runner

import (
	"runtime"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-scenario/decorator"
	"github.com/ethereum-optimism/infra/op-scenario/notify"
	"github.com/ethereum-optimism/infra/op-scenario/scope"
)

// Config is the engine configuration consumed by the Coordinator.
type Config struct {
	Log log.Logger
	// MaxConcurrentScenarios limits running scenarios. 0 means the CPU core count.
	MaxConcurrentScenarios int
	// DedicatedWorker selects the scenarios that run on a single OS thread.
	// Defaults to the case's Dedicated flag.
	DedicatedWorker      func(ScenarioCase) bool
	GlobalSetUps         []Activity
	ScenarioDecorators   []decorator.Scenario
	StepDecorators       []decorator.Step
	DetachedDrainTimeout time.Duration
	Notifier             notify.Notifier
	// Container holds the dependency registrations resolved through scopes.
	Container *scope.Container
}

func (c *Config) applyDefaults() {
	if c.Log == nil {
		c.Log = log.Root()
	}
	if c.DedicatedWorker == nil {
		c.DedicatedWorker = func(sc ScenarioCase) bool { return sc.Dedicated }
	}
	if c.DetachedDrainTimeout <= 0 {
		c.DetachedDrainTimeout = DefaultDetachedDrainTimeout
	}
	if c.Notifier == nil {
		c.Notifier = notify.Nop()
	}
	if c.Container == nil {
		c.Container = scope.NewContainer()
	}
}

// determineConcurrency picks the number of scenarios allowed to run at once.
// A configured value is honored as is; otherwise it is the CPU core count.
// The result never exceeds the number of cases and is at least 1.
func determineConcurrency(configured, numCases int, logger log.Logger) int {
	concurrency := configured
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	} else if concurrency > MaxReasonableConcurrency {
		logger.Warn("Very high concurrency requested", "concurrency", concurrency,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}
	if numCases > 0 {
		concurrency = min(concurrency, numCases)
	}
	return max(concurrency, 1)
}
