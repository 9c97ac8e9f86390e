package notify

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// ProgressNotifier periodically logs how many scenarios completed and which are still running.
type ProgressNotifier struct {
	logger log.Logger
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once
	mu     sync.RWMutex

	runID              string
	completedScenarios int
	statuses           types.ResultStats
	runStart           time.Time

	// scenario ID -> start time
	runningScenarios map[string]time.Time
	// feature name -> running scenario count
	activeFeatures map[string]int
}

var _ Notifier = (*ProgressNotifier)(nil)

// NewProgressNotifier creates a notifier that reports progress every updateInterval.
// Stop must be called to release the reporting goroutine.
func NewProgressNotifier(logger log.Logger, updateInterval time.Duration) *ProgressNotifier {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second
	}

	p := &ProgressNotifier{
		logger:           logger,
		ticker:           time.NewTicker(updateInterval),
		stopCh:           make(chan struct{}),
		runningScenarios: make(map[string]time.Time),
		activeFeatures:   make(map[string]int),
	}

	go p.progressReporter()

	return p
}

// Notify implements Notifier.
func (p *ProgressNotifier) Notify(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := ev.(type) {
	case TestRunStarting:
		p.runID = e.RunID
		p.runStart = e.Time().Instant()
		p.completedScenarios = 0
		p.statuses = types.ResultStats{}
		p.runningScenarios = make(map[string]time.Time)
		p.activeFeatures = make(map[string]int)
		p.logger.Info("Starting test run", "runID", e.RunID)
	case FeatureStarting:
		p.logger.Info("Starting feature", "feature", e.Feature.Name)
	case ScenarioStarting:
		p.runningScenarios[e.Scenario.ID()] = e.Time().Instant()
		p.activeFeatures[e.Scenario.Feature.Name]++
		p.logger.Debug("Scenario started", "scenario", e.Scenario.ID(), "running", len(p.runningScenarios))
	case ScenarioFinished:
		id := e.Result.Info.ID()
		delete(p.runningScenarios, id)
		feature := e.Result.Info.Feature.Name
		if p.activeFeatures[feature]--; p.activeFeatures[feature] <= 0 {
			delete(p.activeFeatures, feature)
		}
		p.completedScenarios++
		p.statuses.Add(e.Result.Status)
		p.logger.Debug("Scenario finished", "scenario", id, "status", e.Result.Status,
			"completed", p.completedScenarios, "running", len(p.runningScenarios))
	case FeatureFinished:
		duration := e.Result.ExecutionTime().Duration.Truncate(time.Millisecond)
		p.logger.Info("Completed feature", "feature", e.Result.Info.Name, "status", e.Result.Status(),
			"scenarios", len(e.Result.Scenarios), "duration", duration)
	case TestRunFinished:
		p.logger.Info("Completed test run", "runID", e.Result.RunID, "status", e.Result.Status(),
			"scenarios", p.completedScenarios, "duration", e.Result.ExecutionTime.Duration.Truncate(time.Millisecond))
	}
}

// progressReporter runs in a goroutine and periodically reports progress
func (p *ProgressNotifier) progressReporter() {
	for {
		select {
		case <-p.ticker.C:
			p.reportProgress()
		case <-p.stopCh:
			return
		}
	}
}

func (p *ProgressNotifier) reportProgress() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.runID == "" {
		return
	}

	p.logger.Info("Progress update",
		"runID", p.runID,
		"completed", p.completedScenarios,
		"passed", p.statuses.Passed,
		"failed", p.statuses.Failed,
		"elapsed", time.Since(p.runStart).Truncate(time.Second),
		"numRunning", len(p.runningScenarios),
		"activeFeatures", len(p.activeFeatures),
		"longestRunning", formatRunningScenarios(p.runningScenarios, 3),
	)
}

// Stop stops the periodic reporting. It is safe to call more than once.
func (p *ProgressNotifier) Stop() {
	p.once.Do(func() {
		p.ticker.Stop()
		close(p.stopCh)
	})
}

// formatRunningScenarios lists the longest running scenarios first, at most maxShow of them.
func formatRunningScenarios(running map[string]time.Time, maxShow int) string {
	if len(running) == 0 {
		return ""
	}

	type runningScenario struct {
		name     string
		duration time.Duration
	}

	var list []runningScenario
	now := time.Now()
	for name, start := range running {
		list = append(list, runningScenario{name: name, duration: now.Sub(start)})
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].duration == list[j].duration {
			return list[i].name < list[j].name
		}
		return list[i].duration > list[j].duration
	})

	var parts []string
	for i, s := range list {
		if i >= maxShow {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%v)", s.name, s.duration.Truncate(time.Second)))
	}
	if len(list) > maxShow {
		parts = append(parts, fmt.Sprintf("+%d more", len(list)-maxShow))
	}
	return strings.Join(parts, ", ")
}
