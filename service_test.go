package opscenario

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-scenario/logging"
	"github.com/ethereum-optimism/infra/op-scenario/outcome"
	"github.com/ethereum-optimism/infra/op-scenario/registry"
	"github.com/ethereum-optimism/infra/op-scenario/runner"
	"github.com/ethereum-optimism/infra/op-scenario/step"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// trackedMockExecutor counts runs and signals each of them
type trackedMockExecutor struct {
	mock.Mock
	execCount atomic.Int32
	execCh    chan struct{}
}

func newTrackedMockExecutor() *trackedMockExecutor {
	return &trackedMockExecutor{execCh: make(chan struct{}, 100)}
}

func (m *trackedMockExecutor) Run(ctx context.Context, cases []runner.ScenarioCase) (*types.TestRunResult, error) {
	m.execCount.Add(1)
	args := m.Called(cases)

	select {
	case m.execCh <- struct{}{}:
	default:
	}

	result, _ := args.Get(0).(*types.TestRunResult)
	return result, args.Error(1)
}

func (m *trackedMockExecutor) waitForExecutions(count int32) bool {
	timeout := time.After(time.Second)
	for m.execCount.Load() < count {
		select {
		case <-m.execCh:
		case <-timeout:
			return false
		}
	}
	return true
}

func noopEntry(context.Context, interface{}, runner.StepRunner) error { return nil }

func setupService(t *testing.T, interval time.Duration) (*trackedMockExecutor, *scenarioService, chan error) {
	t.Helper()

	reg := registry.New(testLogger())
	reg.Feature("Smoke", nil).Scenario("chain is alive", noopEntry)

	cfg := &Config{
		Log:         testLogger(),
		RunInterval: interval,
		RunOnce:     interval == 0,
	}
	shutdown := make(chan error, 1)
	svc, err := New(context.Background(), cfg, reg, "test", func(err error) { shutdown <- err })
	require.NoError(t, err)

	exec := newTrackedMockExecutor()
	svc.executor = func(runner.Config) RunExecutor { return exec }
	svc.formatter = NewConsoleResultFormatter(testLogger(), io.Discard, true)
	return exec, svc, shutdown
}

func runResult(status types.ExecutionStatus) *types.TestRunResult {
	result := &types.TestRunResult{
		RunID: "run",
		Features: []*types.FeatureResult{{
			Info: types.FeatureInfo{Name: "Smoke"},
			Scenarios: []*types.ScenarioResult{{
				Info:   types.ScenarioInfo{Feature: types.FeatureInfo{Name: "Smoke"}, Name: "chain is alive"},
				Status: status,
			}},
		}},
	}
	result.ComputeStats()
	return result
}

func TestService_RunOncePassed(t *testing.T) {
	exec, svc, shutdown := setupService(t, 0)
	exec.On("Run", mock.MatchedBy(func(cases []runner.ScenarioCase) bool {
		return len(cases) == 1 && cases[0].ID() == "Smoke/chain is alive"
	})).Return(runResult(types.StatusPassed), nil).Once()

	require.NoError(t, svc.Start(context.Background()))

	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown callback was not invoked")
	}
	require.NotNil(t, svc.Result())
	assert.Equal(t, types.StatusPassed, svc.Result().Status())
	exec.AssertExpectations(t)
}

func TestService_RunOnceFailedScenario(t *testing.T) {
	exec, svc, shutdown := setupService(t, 0)
	exec.On("Run", mock.Anything).Return(runResult(types.StatusFailed), nil)

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.False(t, IsRuntimeError(err))

	var failure *TestFailureError
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "run", failure.RunID)
	assert.Equal(t, types.StatusFailed, failure.Status)
	assert.Equal(t, 1, failure.Stats.Failed)
	assert.Equal(t, []string{"Smoke/chain is alive"}, failure.Failed)
	assert.EqualError(t, err, "test failure: run run Failed: 1 of 1 scenarios failed: Smoke/chain is alive")

	select {
	case <-shutdown:
		t.Fatal("shutdown callback must not be invoked on failure")
	default:
	}
}

func TestService_IgnoredAndBypassedDoNotFail(t *testing.T) {
	for _, status := range []types.ExecutionStatus{types.StatusIgnored, types.StatusBypassed} {
		t.Run(status.String(), func(t *testing.T) {
			exec, svc, _ := setupService(t, 0)
			exec.On("Run", mock.Anything).Return(runResult(status), nil)
			assert.NoError(t, svc.Start(context.Background()))
		})
	}
}

func TestService_ExecutorErrorIsRuntimeError(t *testing.T) {
	exec, svc, _ := setupService(t, 0)
	exec.On("Run", mock.Anything).Return(runResult(types.StatusPassed), errors.New("global tear down failed"))

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.EqualError(t, err, "runtime error in run run: global tear down failed")
	// the result is still recorded
	require.NotNil(t, svc.Result())
}

func TestService_PeriodicRuns(t *testing.T) {
	exec, svc, _ := setupService(t, 25*time.Millisecond)
	exec.On("Run", mock.Anything).Return(runResult(types.StatusPassed), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, svc.Start(ctx))
	assert.True(t, exec.waitForExecutions(3), "Expected at least 3 runs")

	require.NoError(t, svc.Stop(ctx))
	require.NoError(t, svc.WaitForShutdown(ctx))
	assert.True(t, svc.Stopped())

	countAfterStop := exec.execCount.Load()
	time.Sleep(75 * time.Millisecond)
	assert.Equal(t, countAfterStop, exec.execCount.Load(), "No runs expected after stop")
}

func TestService_PeriodicRunErrorsDoNotStopService(t *testing.T) {
	exec, svc, _ := setupService(t, 20*time.Millisecond)
	exec.On("Run", mock.Anything).Return(runResult(types.StatusPassed), nil).Once()
	exec.On("Run", mock.Anything).Return(nil, errors.New("transient"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, svc.Start(ctx))
	assert.True(t, exec.waitForExecutions(3))
	assert.False(t, svc.Stopped())

	require.NoError(t, svc.Stop(ctx))
	require.NoError(t, svc.WaitForShutdown(ctx))
}

func TestNew_Validation(t *testing.T) {
	reg := registry.New(testLogger())

	_, err := New(context.Background(), nil, reg, "test", nil)
	assert.Error(t, err)

	_, err = New(context.Background(), &Config{Log: testLogger()}, nil, "test", nil)
	assert.Error(t, err)

	_, err = New(context.Background(), &Config{Log: testLogger(), Profile: "smoke"}, reg, "test", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile smoke requested without a run plan")

	_, err = New(context.Background(), &Config{Log: testLogger(), PlanFile: "/does/not/exist.yaml"}, reg, "test", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load run plan")
}

func TestService_RunsRegisteredScenarios(t *testing.T) {
	reg := registry.New(testLogger())
	feature := reg.Feature("Bridge", nil)
	feature.Scenario("deposit", func(ctx context.Context, _ interface{}, steps runner.StepRunner) error {
		return steps.Run(ctx,
			step.Do("send", func(context.Context) error { return nil }),
			step.Do("confirm", func(context.Context) error { return nil }),
		)
	})
	feature.Scenario("withdraw", func(ctx context.Context, _ interface{}, steps runner.StepRunner) error {
		return steps.Run(ctx,
			step.Do("prove", func(context.Context) error { return nil }),
			step.Do("finalize", func(context.Context) error { return errors.New("challenge period not over") }),
		)
	})
	feature.Scenario("fast withdraw", func(ctx context.Context, _ interface{}, steps runner.StepRunner) error {
		return steps.Run(ctx, step.Do("check", func(context.Context) error { return outcome.Ignore("not supported") }))
	})

	logDir := t.TempDir()
	cfg := &Config{Log: testLogger(), RunOnce: true, Concurrency: 2, LogDir: logDir}
	svc, err := New(context.Background(), cfg, reg, "test", func(error) {})
	require.NoError(t, err)
	svc.formatter = NewConsoleResultFormatter(testLogger(), io.Discard, true)

	err = svc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))

	result := svc.Result()
	require.NotNil(t, result)
	assert.Equal(t, 3, result.ScenarioStats.Total)
	assert.Equal(t, 1, result.ScenarioStats.Passed)
	assert.Equal(t, 1, result.ScenarioStats.Failed)
	assert.Equal(t, 1, result.ScenarioStats.Ignored)

	scenarios := result.Scenarios()
	require.Len(t, scenarios, 3)
	assert.Equal(t, "withdraw", scenarios[1].Info.Name)
	assert.Equal(t, "Step 2 Failed: challenge period not over", scenarios[1].Detail)

	runDir := filepath.Join(logDir, logging.RunDirectoryPrefix+result.RunID)
	assert.FileExists(t, filepath.Join(runDir, logging.SummaryFilename))
	assert.FileExists(t, filepath.Join(runDir, logging.AllLogsFilename))
	assert.FileExists(t, filepath.Join(runDir, "failed", "Bridge_withdraw.log"))
	assert.FileExists(t, filepath.Join(runDir, "passed", "Bridge_deposit.log"))
	assert.FileExists(t, filepath.Join(runDir, "ignored", "Bridge_fast_withdraw.log"))
	require.NoError(t, svc.Stop(context.Background()))
}
