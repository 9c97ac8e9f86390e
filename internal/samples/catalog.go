// Package samples registers a catalog of scenarios against an in-memory devnet.
// The catalog covers every step outcome the engine distinguishes and is what the
// op-scenario binary runs.
package samples

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-scenario/decorator"
	"github.com/ethereum-optimism/infra/op-scenario/outcome"
	"github.com/ethereum-optimism/infra/op-scenario/registry"
	"github.com/ethereum-optimism/infra/op-scenario/runner"
	"github.com/ethereum-optimism/infra/op-scenario/scope"
	"github.com/ethereum-optimism/infra/op-scenario/step"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

const (
	DevnetDependency = "devnet"
	WalletDependency = "wallet"

	FaucetAddress = "0xfaucet"
	FaucetFunds   = uint64(1_000_000)
	WalletFunds   = uint64(1_000)

	CapabilityFaultProofs = "fault-proofs"
	CapabilityInterop     = "interop"

	// LabelFailing marks scenarios that fail on purpose.
	LabelFailing = "failing"
	// LabelRequires prefixes labels naming a devnet capability a scenario needs.
	LabelRequires = "requires:"
)

// Register adds the sample features, their dependencies and the devnet global set-up to reg.
// The devnet is created with the given capabilities.
func Register(reg *registry.Registry, capabilities ...string) {
	container := reg.Container()
	container.Register(DevnetDependency, scope.SingleInstance, func(context.Context, *scope.Scope) (interface{}, error) {
		return NewDevnet(capabilities...), nil
	})
	container.Register(WalletDependency, scope.PerScope(scope.LevelScenario), newWallet)

	reg.GlobalSetUp(
		runner.DependencyActivity(DevnetDependency),
		runner.Activity{
			Name: "faucet",
			SetUp: func(ctx context.Context, global *scope.Scope) error {
				devnet, err := scope.Get[*Devnet](ctx, global, DevnetDependency)
				if err != nil {
					return err
				}
				return devnet.Fund(FaucetAddress, FaucetFunds)
			},
		},
	)
	reg.DecorateScenarios(requireCapabilities())
	reg.DecorateSteps(stepTiming())

	registerLiveness(reg)
	registerBridge(reg)
	registerFees(reg)
	registerInterop(reg)
}

func newWallet(ctx context.Context, s *scope.Scope) (interface{}, error) {
	devnet, err := scope.Get[*Devnet](ctx, s, DevnetDependency)
	if err != nil {
		return nil, err
	}
	w := &Wallet{Address: "0x" + uuid.NewString(), devnet: devnet}
	if err := devnet.Transfer(FaucetAddress, w.Address, WalletFunds); err != nil {
		return nil, fmt.Errorf("funding wallet: %w", err)
	}
	return w, nil
}

// requireCapabilities ignores scenarios labelled "requires:<capability>" when the devnet
// lacks the capability.
func requireCapabilities() decorator.Scenario {
	return decorator.Func[types.ScenarioInfo](func(ctx context.Context, info types.ScenarioInfo, next decorator.Invocation) error {
		var devnet *Devnet
		for _, label := range info.Labels {
			capability, ok := strings.CutPrefix(label, LabelRequires)
			if !ok || capability == "" {
				continue
			}
			if devnet == nil {
				var err error
				if devnet, err = scope.Get[*Devnet](ctx, runner.ScenarioScope(ctx), DevnetDependency); err != nil {
					return err
				}
			}
			if !devnet.Supports(capability) {
				return outcome.Ignoref("devnet does not support %s", capability)
			}
		}
		return next(ctx)
	})
}

// stepTiming comments every step with its duration.
func stepTiming() decorator.Step {
	return decorator.Func[types.StepInfo](func(ctx context.Context, info types.StepInfo, next decorator.Invocation) error {
		start := time.Now()
		err := next(ctx)
		_ = step.Commentf(ctx, "took %s", time.Since(start).Round(time.Microsecond))
		return err
	})
}

// livenessFixture remembers the height the scenario started at.
type livenessFixture struct {
	devnet      *Devnet
	startHeight uint64
}

func (f *livenessFixture) OnScenarioSetUp(ctx context.Context) error {
	devnet, err := scope.Get[*Devnet](ctx, runner.ScenarioScope(ctx), DevnetDependency)
	if err != nil {
		return err
	}
	f.devnet = devnet
	f.startHeight = devnet.Height()
	return nil
}

func (f *livenessFixture) OnScenarioTearDown(context.Context) error {
	if f.devnet != nil && f.devnet.Height() < f.startHeight {
		return fmt.Errorf("chain reorged below %d", f.startHeight)
	}
	return nil
}

func registerLiveness(reg *registry.Registry) {
	liveness := reg.Feature("Chain liveness", func(context.Context) (interface{}, error) {
		return &livenessFixture{}, nil
	}).Describe("The devnet keeps producing blocks").Labels("smoke")

	liveness.Scenario("blocks advance", func(ctx context.Context, fixture interface{}, steps runner.StepRunner) error {
		f := fixture.(*livenessFixture)
		return steps.Run(ctx,
			step.Do("produce blocks in the background", func(ctx context.Context) error {
				for i := 0; i < 3; i++ {
					if err := step.Detach(ctx, func(context.Context) error {
						_, err := f.devnet.Mine(1)
						return err
					}); err != nil {
						return err
					}
				}
				return nil
			}),
			step.Do("height increased", func(ctx context.Context) error {
				if h := f.devnet.Height(); h < f.startHeight+3 {
					return fmt.Errorf("height %d, expected at least %d", h, f.startHeight+3)
				}
				return step.Commentf(ctx, "started at %d", f.startHeight)
			}),
		)
	}).Priority(types.PriorityHigh)

	liveness.Scenario("sequencer rotation", func(ctx context.Context, fixture interface{}, steps runner.StepRunner) error {
		f := fixture.(*livenessFixture)
		return steps.Run(ctx,
			step.Do("rotate sequencer", func(context.Context) error {
				return outcome.Bypass("single sequencer devnet")
			}),
			step.Do("blocks still advance", func(context.Context) error {
				_, err := f.devnet.Mine(1)
				return err
			}),
		)
	})

	liveness.Scenario("pinned block builder", func(ctx context.Context, fixture interface{}, steps runner.StepRunner) error {
		f := fixture.(*livenessFixture)
		type builderKey struct{}
		return steps.Run(ctx,
			step.Do("start builder", func(ctx context.Context) error {
				w := runner.CurrentWorker(ctx)
				if w == nil {
					return errors.New("builder requires a dedicated worker")
				}
				w.Set(builderKey{}, f.devnet)
				return nil
			}),
			step.Do("build on the same worker", func(ctx context.Context) error {
				v, ok := runner.CurrentWorker(ctx).Get(builderKey{})
				if !ok {
					return errors.New("builder state lost between steps")
				}
				_, err := v.(*Devnet).Mine(1)
				return err
			}),
		)
	}).Dedicated()
}

// transfer is the per-example context of a bridge scenario.
type transfer struct {
	wallet *Wallet
	amount uint64
}

func registerBridge(reg *registry.Registry) {
	bridge := reg.Feature("Bridge", nil).
		Describe("Funds move between accounts").
		Labels("bridge").
		WithContext(func(ctx context.Context, s *scope.Scope) (interface{}, error) {
			wallet, err := scope.Get[*Wallet](ctx, s, WalletDependency)
			if err != nil {
				return nil, err
			}
			return &transfer{wallet: wallet}, nil
		})

	bridge.Scenario("deposit", func(ctx context.Context, _ interface{}, steps runner.StepRunner) error {
		tr := runner.ScenarioContext(ctx).(*transfer)
		info, _ := runner.CurrentScenario(ctx)
		amount := info.Arguments[0].Value.(uint64)
		recipient := "0x" + uuid.NewString()
		return steps.Run(ctx,
			step.Do("send", func(context.Context) error {
				tr.amount = amount
				return tr.wallet.devnet.Transfer(tr.wallet.Address, recipient, amount)
			}).WithParameters(types.Argument{Name: "amount", Value: amount}),
			step.Composite("balances settle",
				step.Do("sender debited", func(context.Context) error {
					return expectBalance(tr.wallet.devnet, tr.wallet.Address, WalletFunds-tr.amount)
				}),
				step.Do("recipient credited", func(context.Context) error {
					return expectBalance(tr.wallet.devnet, recipient, tr.amount)
				}),
			).MultiAssert(),
		)
	}).Examples(
		[]types.Argument{{Name: "amount", Value: uint64(10)}},
		[]types.Argument{{Name: "amount", Value: uint64(250)}},
	)

	bridge.Scenario("overdraw", func(ctx context.Context, _ interface{}, steps runner.StepRunner) error {
		tr := runner.ScenarioContext(ctx).(*transfer)
		return steps.Run(ctx,
			step.Do("send more than the balance", func(context.Context) error {
				return tr.wallet.devnet.Transfer(tr.wallet.Address, FaucetAddress, WalletFunds+1)
			}),
			step.Do("confirm receipt", func(context.Context) error {
				return nil
			}),
		)
	}).Labels(LabelFailing)

	bridge.Scenario("supply is conserved", func(ctx context.Context, _ interface{}, steps runner.StepRunner) error {
		tr := runner.ScenarioContext(ctx).(*transfer)
		return steps.Run(ctx, step.Do("sum all balances", func(ctx context.Context) error {
			supply := tr.wallet.devnet.TotalSupply()
			if supply != FaucetFunds {
				return fmt.Errorf("total supply %d, expected %d", supply, FaucetFunds)
			}
			return step.Commentf(ctx, "%d accounts", tr.wallet.devnet.Accounts())
		}))
	}).Exclusive()
}

func expectBalance(devnet *Devnet, addr string, want uint64) error {
	if got := devnet.Balance(addr); got != want {
		return fmt.Errorf("balance of %s is %d, expected %d", addr, got, want)
	}
	return nil
}

// feeQuote is the group context shared by the fee assertions.
type feeQuote struct {
	baseFee     uint64
	priorityFee uint64
}

func registerFees(reg *registry.Registry) {
	fees := reg.Feature("Fee market", nil).Labels("fees")

	quote := func(context.Context, *scope.Scope) (interface{}, error) {
		return &feeQuote{baseFee: 7, priorityFee: 1}, nil
	}

	fees.Scenario("fee quote", func(ctx context.Context, _ interface{}, steps runner.StepRunner) error {
		return steps.RunGroup(ctx, step.Group{
			Context:     quote,
			MultiAssert: true,
			Steps: []step.Definition{
				step.Do("base fee is positive", func(ctx context.Context) error {
					q, _ := step.GroupContextAs[*feeQuote](ctx)
					if q.baseFee == 0 {
						return errors.New("base fee is zero")
					}
					return nil
				}),
				step.Do("priority fee below base fee", func(ctx context.Context) error {
					q, _ := step.GroupContextAs[*feeQuote](ctx)
					if q.priorityFee >= q.baseFee {
						return fmt.Errorf("priority fee %d not below base fee %d", q.priorityFee, q.baseFee)
					}
					return nil
				}),
			},
		})
	})

	fees.Scenario("blob fees", func(ctx context.Context, _ interface{}, steps runner.StepRunner) error {
		return steps.Run(ctx,
			step.Of("blob fee checks", step.Group{
				Context:     quote,
				MultiAssert: true,
				Steps: []step.Definition{
					step.Do("blobs enabled", func(context.Context) error {
						return outcome.Ignore("blobs are not enabled on this devnet")
					}),
					step.Do("blob base fee", func(context.Context) error {
						return errors.New("unreachable after an ignored step")
					}),
				},
			}),
		)
	}).Priority(types.PriorityLow)
}

func registerInterop(reg *registry.Registry) {
	interop := reg.Feature("Interop", nil).Labels("interop")

	interop.Scenario("cross-chain message", func(ctx context.Context, _ interface{}, steps runner.StepRunner) error {
		return steps.Run(ctx, step.Do("relay message", func(context.Context) error {
			return nil
		}))
	}).Labels(LabelRequires + CapabilityInterop)

	interop.Scenario("dispute game", func(ctx context.Context, _ interface{}, steps runner.StepRunner) error {
		return steps.Run(ctx, step.Do("resolve game", func(context.Context) error {
			return nil
		}))
	}).Labels(LabelRequires + CapabilityFaultProofs)
}
