// Package runner executes scenario cases and assembles the test run result.
//
// The main components are:
//   - Coordinator: runs global set-ups, schedules every case and collects the results
//   - Scheduler: admits cases by priority, concurrency limit and exclusivity
//   - WorkerPool: pooled goroutines locked to an OS thread for dedicated-worker scenarios
//   - GlobalSetUp: ordered process-wide set-up activities and their reverse teardown
//   - scenario execution: the per-scenario state machine from fixture creation to disposal
//
// Scenario and step lifecycle events are delivered to a notify.Notifier while the run progresses.
package runner
