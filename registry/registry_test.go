package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-scenario/decorator"
	"github.com/ethereum-optimism/infra/op-scenario/runner"
	"github.com/ethereum-optimism/infra/op-scenario/scope"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

func noop(context.Context, interface{}, runner.StepRunner) error { return nil }

func newTestRegistry() *Registry {
	r := New(log.NewLogger(log.DiscardHandler()))
	deposits := r.Feature("Deposits", nil).Labels("bridge")
	deposits.Scenario("eth deposit", noop).Labels("smoke")
	deposits.Scenario("erc20 deposit", noop).Labels("slow").Exclusive()
	r.Feature("Withdrawals", nil).Scenario("prove", noop).Labels("smoke", "nightly").Priority(types.PriorityHigh)
	return r
}

func names(cases []runner.ScenarioCase) []string {
	out := make([]string, len(cases))
	for i, c := range cases {
		out[i] = c.ID()
	}
	return out
}

func TestRegistry_CasesWithoutPlan(t *testing.T) {
	r := newTestRegistry()
	cases, err := r.Cases(nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Deposits/eth deposit", "Deposits/erc20 deposit", "Withdrawals/prove"}, names(cases))

	assert.Equal(t, 0, cases[0].Feature.Index)
	assert.Equal(t, 1, cases[1].Index)
	assert.True(t, cases[1].Exclusive)
	assert.Equal(t, 1, cases[2].Feature.Index)
	assert.Equal(t, types.PriorityHigh, cases[2].Priority)
	assert.Equal(t, []string{"bridge"}, cases[0].Feature.Labels)

	_, err = r.Cases(nil, "smoke")
	assert.Error(t, err)
}

func TestRegistry_Examples(t *testing.T) {
	r := New(log.NewLogger(log.DiscardHandler()))
	r.Feature("Gas", nil).Scenario("estimate", noop).Examples(
		[]types.Argument{{Name: "tx", Value: "transfer"}},
		[]types.Argument{{Name: "tx", Value: "deploy"}},
	)

	cases, err := r.Cases(nil, "")
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, 0, cases[0].Index)
	assert.Equal(t, 1, cases[1].Index)
	assert.Equal(t, "deploy", cases[1].Arguments[0].Value)
}

func TestRegistry_ValidationErrors(t *testing.T) {
	r := New(log.NewLogger(log.DiscardHandler()))
	f := r.Feature("Broken", nil)
	f.Scenario("no body", nil)
	f.Scenario("twice", noop)
	f.Scenario("twice", noop)

	_, err := r.Cases(nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario Broken/no body has no entry point")
	assert.Contains(t, err.Error(), "scenario Broken/twice registered twice")
}

func TestRegistry_ContextInheritance(t *testing.T) {
	r := New(log.NewLogger(log.DiscardHandler()))
	f := r.Feature("F", nil).WithContext(func(ctx context.Context, _ *scope.Scope) (interface{}, error) { return "feature", nil })
	f.Scenario("inherits", noop)
	f.Scenario("own", noop).WithContext(func(ctx context.Context, _ *scope.Scope) (interface{}, error) { return "own", nil })

	cases, err := r.Cases(nil, "")
	require.NoError(t, err)
	v, err := cases[0].Context(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "feature", v)
	v, err = cases[1].Context(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "own", v)
}

func TestRegistry_Configure(t *testing.T) {
	r := newTestRegistry()
	r.GlobalSetUp(runner.Activity{Name: "devnet"})
	r.DecorateScenarios(decorator.Func[types.ScenarioInfo](func(ctx context.Context, _ types.ScenarioInfo, next decorator.Invocation) error {
		return next(ctx)
	}))
	r.DecorateSteps(decorator.Func[types.StepInfo](func(ctx context.Context, _ types.StepInfo, next decorator.Invocation) error {
		return next(ctx)
	}))

	cfg := r.Configure(runner.Config{GlobalSetUps: []runner.Activity{{Name: "extra"}}})
	require.Len(t, cfg.GlobalSetUps, 2)
	assert.Equal(t, "devnet", cfg.GlobalSetUps[0].Name)
	assert.Equal(t, "extra", cfg.GlobalSetUps[1].Name)
	assert.Len(t, cfg.ScenarioDecorators, 1)
	assert.Len(t, cfg.StepDecorators, 1)
	assert.Same(t, r.Container(), cfg.Container)
	assert.Len(t, r.Features(), 2)
}

func TestPlan_ProfilesAndOverrides(t *testing.T) {
	plan, err := ParsePlan([]byte(`
profiles:
  - id: smoke
    include: [smoke]
    overrides:
      - match: "Deposits/*"
        priority: high
        dedicated: true
  - id: nightly
    inherits: [smoke]
    include: [nightly, slow]
    exclude: [bridge]
  - id: default
    exclude: [slow]
    overrides:
      - match: "**/prove"
        exclusive: true
`))
	require.NoError(t, err)
	r := newTestRegistry()

	t.Run("include and overrides", func(t *testing.T) {
		cases, err := r.Cases(plan, "smoke")
		require.NoError(t, err)
		assert.Equal(t, []string{"Deposits/eth deposit", "Withdrawals/prove"}, names(cases))
		assert.Equal(t, types.PriorityHigh, cases[0].Priority)
		assert.True(t, cases[0].Dedicated)
		assert.False(t, cases[1].Dedicated)
	})

	t.Run("inherited profile, exclusion wins", func(t *testing.T) {
		cases, err := r.Cases(plan, "nightly")
		require.NoError(t, err)
		assert.Equal(t, []string{"Withdrawals/prove"}, names(cases))
	})

	t.Run("default profile", func(t *testing.T) {
		cases, err := r.Cases(plan, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"Deposits/eth deposit", "Withdrawals/prove"}, names(cases))
		assert.True(t, cases[1].Exclusive)
	})

	t.Run("unknown profile", func(t *testing.T) {
		_, err := r.Cases(plan, "weekly")
		assert.EqualError(t, err, "unknown profile weekly")
	})
}

func TestLoadPlan(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  - id: smoke
    include: [smoke]
`), 0644))

	plan, err := LoadPlan(path)
	require.NoError(t, err)
	require.Len(t, plan.Profiles, 1)
	assert.Equal(t, []string{"smoke"}, plan.Profiles[0].Include)

	_, err = LoadPlan(filepath.Join(tmpDir, "missing.yaml"))
	assert.Error(t, err)
}

func TestPlanInheritance(t *testing.T) {
	tests := []struct {
		name      string
		config    string
		wantError string
	}{
		{
			name: "valid inheritance",
			config: `
profiles:
  - id: parent
    include: [a]
  - id: child
    inherits: [parent]
`,
		},
		{
			name: "circular inheritance",
			config: `
profiles:
  - id: p1
    inherits: [p2]
  - id: p2
    inherits: [p1]
`,
			wantError: "circular inheritance detected",
		},
		{
			name: "self inheritance",
			config: `
profiles:
  - id: p1
    inherits: [p1]
`,
			wantError: "circular inheritance detected",
		},
		{
			name: "non-existent profile",
			config: `
profiles:
  - id: p1
    inherits: [nonexistent]
`,
			wantError: "inherits from non-existent profile",
		},
		{
			name: "duplicate profile",
			config: `
profiles:
  - id: p1
  - id: p1
`,
			wantError: "duplicate profile p1",
		},
		{
			name: "invalid priority",
			config: `
profiles:
  - id: p1
    overrides:
      - match: "*/*"
        priority: urgent
`,
			wantError: "invalid priority",
		},
		{
			name: "invalid pattern",
			config: `
profiles:
  - id: p1
    overrides:
      - match: "[unterminated"
`,
			wantError: "invalid match pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tt.config))
			if tt.wantError != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantError)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestProfile_Selects(t *testing.T) {
	prof := Profile{Include: []string{"smoke"}, Exclude: []string{"flaky"}}
	assert.True(t, prof.Selects([]string{"smoke"}))
	assert.False(t, prof.Selects([]string{"smoke", "flaky"}))
	assert.False(t, prof.Selects(nil))
	assert.True(t, Profile{}.Selects(nil))
}
