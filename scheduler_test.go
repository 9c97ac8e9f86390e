package opscenario

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-scenario/types"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func TestIntervalScheduler_RunOnce(t *testing.T) {
	var calls atomic.Int32
	scheduler := NewIntervalScheduler(0, testLogger())
	scheduler.RegisterRun(func(context.Context) (*types.TestRunResult, error) {
		calls.Add(1)
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, scheduler.Start(ctx))
	assert.Equal(t, int32(1), calls.Load(), "Expected callback to be called exactly once")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "Expected callback to be called exactly once")
}

func TestIntervalScheduler_Periodic(t *testing.T) {
	callChan := make(chan struct{}, 10)
	expectedCalls := 4

	scheduler := NewIntervalScheduler(10*time.Millisecond, testLogger())
	scheduler.RegisterRun(func(context.Context) (*types.TestRunResult, error) {
		callChan <- struct{}{}
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, scheduler.Start(ctx))

	for i := 0; i < expectedCalls; i++ {
		select {
		case <-callChan:
		case <-time.After(1 * time.Second):
			t.Fatalf("Timed out waiting for callback execution %d/%d", i+1, expectedCalls)
		}
	}

	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.WaitForShutdown(ctx))
	assert.True(t, scheduler.Stopped())

	// drain a call that may have been in flight when Stop was called
	select {
	case <-callChan:
	default:
	}
	select {
	case <-callChan:
		t.Fatal("Expected no more calls after stopping")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIntervalScheduler_CallbackError(t *testing.T) {
	expectedError := errors.New("test callback error")
	scheduler := NewIntervalScheduler(0, testLogger())
	scheduler.RegisterRun(func(context.Context) (*types.TestRunResult, error) {
		return nil, expectedError
	})

	err := scheduler.Start(context.Background())
	assert.Equal(t, expectedError, err)
}

func TestIntervalScheduler_NoCallback(t *testing.T) {
	scheduler := NewIntervalScheduler(0, testLogger())
	err := scheduler.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run function must be registered")
}

func TestIntervalScheduler_StopIsIdempotent(t *testing.T) {
	scheduler := NewIntervalScheduler(100*time.Millisecond, testLogger())
	scheduler.RegisterRun(func(context.Context) (*types.TestRunResult, error) { return nil, nil })

	assert.NoError(t, scheduler.Stop(), "Stop should be idempotent")
	assert.NoError(t, scheduler.Stop(), "Second stop should also succeed")
}

func TestIntervalScheduler_ContextCancelStopsRuns(t *testing.T) {
	scheduler := NewIntervalScheduler(time.Hour, testLogger())
	scheduler.RegisterRun(func(context.Context) (*types.TestRunResult, error) { return nil, nil })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, scheduler.Start(ctx))
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, scheduler.WaitForShutdown(waitCtx))
	assert.True(t, scheduler.Stopped())
}

func TestIntervalScheduler_History(t *testing.T) {
	var calls atomic.Int32
	callChan := make(chan struct{}, 100)
	scheduler := NewIntervalScheduler(5*time.Millisecond, testLogger())
	scheduler.RegisterRun(func(context.Context) (*types.TestRunResult, error) {
		n := calls.Add(1)
		defer func() { callChan <- struct{}{} }()
		switch n {
		case 1:
			return runResult(types.StatusPassed), nil
		case 2:
			return nil, errors.New("scenario selection failed")
		default:
			return runResult(types.StatusFailed), nil
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, scheduler.Start(ctx))

	for i := 0; i < 4; i++ {
		select {
		case <-callChan:
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for run %d", i+1)
		}
	}
	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.WaitForShutdown(ctx))

	h := scheduler.History()
	require.GreaterOrEqual(t, h.Runs, 4)
	assert.Equal(t, int(calls.Load()), h.Runs)
	assert.Equal(t, h.Runs-1, h.FailedRuns, "every run but the first failed")
	assert.Equal(t, h.Runs-1, h.ConsecutiveFailed)
	assert.Equal(t, "run", h.LastRunID)
	assert.Equal(t, types.StatusFailed, h.LastStatus)
	assert.NoError(t, h.LastErr)
}

func TestIntervalScheduler_HistoryResetsStreak(t *testing.T) {
	scheduler := NewIntervalScheduler(0, testLogger())
	statuses := []types.ExecutionStatus{types.StatusFailed, types.StatusFailed, types.StatusIgnored}
	var i int
	scheduler.RegisterRun(func(context.Context) (*types.TestRunResult, error) {
		res := runResult(statuses[i])
		i++
		return res, nil
	})

	for range statuses {
		require.NoError(t, scheduler.Start(context.Background()))
	}
	h := scheduler.History()
	assert.Equal(t, 3, h.Runs)
	assert.Equal(t, 2, h.FailedRuns)
	assert.Zero(t, h.ConsecutiveFailed)
	assert.Equal(t, types.StatusIgnored, h.LastStatus)
}
