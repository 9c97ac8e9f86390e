package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-scenario/outcome"
	"github.com/ethereum-optimism/infra/op-scenario/scope"
)

func recordingActivity(j *journal, name string, setUpErr, tearDownErr error) Activity {
	return Activity{
		Name: name,
		SetUp: func(context.Context, *scope.Scope) error {
			j.add("setup " + name)
			return setUpErr
		},
		TearDown: func(context.Context, *scope.Scope) error {
			j.add("teardown " + name)
			return tearDownErr
		},
	}
}

func TestGlobalSetUp_StopsAtFirstFailure(t *testing.T) {
	j := &journal{}
	g := NewGlobalSetUp(testLogger())
	g.Install(
		recordingActivity(j, "network", nil, nil),
		recordingActivity(j, "database", errors.New("connection refused"), nil),
		recordingActivity(j, "wallets", nil, nil),
	)
	global := scope.NewGlobal(nil, testLogger())

	err := g.SetUp(context.Background(), global)
	require.EqualError(t, err, "database failed: connection refused")

	require.NoError(t, g.TearDown(context.Background(), global))
	assert.Equal(t, []string{"setup network", "setup database", "teardown network"}, j.get())
}

func TestGlobalSetUp_TearDownReverseOrderCollectsErrors(t *testing.T) {
	j := &journal{}
	g := NewGlobalSetUp(testLogger())
	g.Install(
		recordingActivity(j, "first", nil, errors.New("first broke")),
		Activity{Name: "no hooks"},
		recordingActivity(j, "second", nil, errors.New("second broke")),
	)
	global := scope.NewGlobal(nil, testLogger())

	require.NoError(t, g.SetUp(context.Background(), global))
	err := g.TearDown(context.Background(), global)
	require.Error(t, err)
	assert.Equal(t, []string{"setup first", "setup second", "teardown second", "teardown first"}, j.get())

	causes := outcome.Causes(err)
	require.Len(t, causes, 2)
	assert.EqualError(t, causes[0], "second tear down failed: second broke")
	assert.EqualError(t, causes[1], "first tear down failed: first broke")

	// a second teardown has nothing left to do
	assert.NoError(t, g.TearDown(context.Background(), global))
}

func TestGlobalSetUp_PanicIsFailure(t *testing.T) {
	g := NewGlobalSetUp(testLogger())
	g.Install(Activity{Name: "boom", SetUp: func(context.Context, *scope.Scope) error { panic("no network") }})
	err := g.SetUp(context.Background(), scope.NewGlobal(nil, testLogger()))
	assert.EqualError(t, err, "boom failed: panic: no network")
}

func TestDependencyActivity(t *testing.T) {
	created := 0
	c := scope.NewContainer()
	c.Register("chain", scope.SingleInstance, func(context.Context, *scope.Scope) (interface{}, error) {
		created++
		return "l2", nil
	})
	global := scope.NewGlobal(c, testLogger())
	defer global.Close()

	g := NewGlobalSetUp(testLogger())
	g.Install(DependencyActivity("chain"), DependencyActivity("missing"))
	err := g.SetUp(context.Background(), global)
	require.Error(t, err)
	assert.ErrorIs(t, err, scope.ErrNotRegistered)
	assert.Contains(t, err.Error(), "dependency missing failed")
	assert.Equal(t, 1, created)
}
