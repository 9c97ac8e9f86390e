package runner

import (
	"sort"
	"sync"

	"github.com/ethereum-optimism/infra/op-scenario/notify"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// featureState tracks one feature of the run.
type featureState struct {
	result   *types.FeatureResult
	slots    map[int]int // case seq -> position in result.Scenarios
	expected int
	done     int
	started  bool
}

// resultCollector assembles the result tree and emits feature lifecycle events:
// FeatureStarting on the first admitted scenario of a feature, FeatureFinished once
// its last scenario completed.
type resultCollector struct {
	notifier notify.Notifier
	clock    *types.Clock

	mu       sync.Mutex
	result   *types.TestRunResult
	features map[string]*featureState
}

func newResultCollector(runID string, cases []ScenarioCase, notifier notify.Notifier, clock *types.Clock) *resultCollector {
	c := &resultCollector{
		notifier: notifier,
		clock:    clock,
		result:   &types.TestRunResult{RunID: runID},
		features: make(map[string]*featureState),
	}

	type firstSeen struct {
		info types.FeatureInfo
		seq  int
	}
	var order []firstSeen
	perFeature := make(map[string][]queued)
	for seq, sc := range cases {
		name := sc.Feature.Name
		if _, ok := perFeature[name]; !ok {
			order = append(order, firstSeen{info: sc.Feature, seq: seq})
		}
		perFeature[name] = append(perFeature[name], queued{seq: seq, c: sc})
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].info.Index != order[j].info.Index {
			return order[i].info.Index < order[j].info.Index
		}
		return order[i].seq < order[j].seq
	})

	for _, f := range order {
		scenarios := perFeature[f.info.Name]
		sort.SliceStable(scenarios, func(i, j int) bool {
			return scenarios[i].c.Index < scenarios[j].c.Index
		})
		fs := &featureState{
			result:   &types.FeatureResult{Info: f.info, Scenarios: make([]*types.ScenarioResult, len(scenarios))},
			slots:    make(map[int]int, len(scenarios)),
			expected: len(scenarios),
		}
		for pos, q := range scenarios {
			fs.slots[q.seq] = pos
		}
		c.features[f.info.Name] = fs
		c.result.Features = append(c.result.Features, fs.result)
	}
	return c
}

// start is called when a case is admitted.
func (c *resultCollector) start(sc ScenarioCase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked(c.features[sc.Feature.Name])
}

func (c *resultCollector) startLocked(fs *featureState) {
	if fs == nil || fs.started {
		return
	}
	fs.started = true
	c.notifier.Notify(notify.FeatureStarting{At: notify.At{At: c.clock.Now()}, Feature: fs.result.Info})
}

// add stores a completed case.
func (c *resultCollector) add(done Completed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs := c.features[done.Case.Feature.Name]
	if fs == nil {
		return
	}
	c.startLocked(fs)
	fs.result.Scenarios[fs.slots[done.Seq]] = done.Result
	fs.done++
	if fs.done == fs.expected {
		c.notifier.Notify(notify.FeatureFinished{At: notify.At{At: c.clock.Now()}, Result: fs.result})
	}
}

// finish returns the run result with its statistics computed.
func (c *resultCollector) finish(executionTime types.ExecutionTime) *types.TestRunResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.ExecutionTime = executionTime
	c.result.ComputeStats()
	return c.result
}
