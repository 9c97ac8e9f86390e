package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-scenario/notify"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

const (
	RunDirectoryPrefix = "scenariorun-" // Standardized prefix for run directories
	SummaryFilename    = "summary.log"
	AllLogsFilename    = "all.log"
)

// FileLogger is a notifier writing the events of each run into its own directory:
//
//	<baseDir>/scenariorun-<runID>/all.log          every event, in arrival order
//	<baseDir>/scenariorun-<runID>/<status>/*.log   one file per finished scenario
//	<baseDir>/scenariorun-<runID>/summary.log      written when the run finishes
type FileLogger struct {
	baseDir      string
	log          log.Logger
	mu           sync.Mutex            // Protects asyncWriters
	asyncWriters map[string]*AsyncFile // Open writers keyed by path
}

var _ notify.Notifier = (*FileLogger)(nil)

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile opens path for appending and starts its background writer.
func NewAsyncFile(path string) (*AsyncFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100),
	}
	af.wg.Add(1)
	go af.processQueue()
	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	af.queue <- dataCopy
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close flushes pending writes and closes the file. Closing twice is a no-op
// for the queue but reports the file close error.
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	return af.file.Close()
}

// NewFileLogger creates a FileLogger rooted at baseDir, creating the directory if needed.
func NewFileLogger(baseDir string, logger log.Logger) (*FileLogger, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", baseDir, err)
	}
	if logger == nil {
		logger = log.Root()
	}
	return &FileLogger{
		baseDir:      baseDir,
		log:          logger,
		asyncWriters: make(map[string]*AsyncFile),
	}, nil
}

// GetDirectoryForRunID returns the directory holding the logs of runID.
func (l *FileLogger) GetDirectoryForRunID(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("runID cannot be empty")
	}
	return filepath.Join(l.baseDir, RunDirectoryPrefix+runID), nil
}

// GetSummaryFileForRunID returns the summary file of runID.
func (l *FileLogger) GetSummaryFileForRunID(runID string) (string, error) {
	dir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SummaryFilename), nil
}

// GetAllLogsFileForRunID returns the combined event log of runID.
func (l *FileLogger) GetAllLogsFileForRunID(runID string) (string, error) {
	dir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AllLogsFilename), nil
}

// GetScenarioFileForRunID returns the per-scenario log of a finished scenario.
func (l *FileLogger) GetScenarioFileForRunID(runID string, info types.ScenarioInfo, status types.ExecutionStatus) (string, error) {
	dir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, strings.ToLower(status.String()), scenarioFilename(info)), nil
}

func (l *FileLogger) Notify(ev notify.Event) {
	var err error
	switch e := ev.(type) {
	case notify.TestRunStarting:
		err = l.startRun(e)
	case notify.ScenarioStarting:
		err = l.appendAll(e.Scenario.RunID, ev, fmt.Sprintf("scenario %s starting", displayName(e.Scenario)))
	case notify.StepFinished:
		err = l.appendAll(e.Result.Info.Scenario.RunID, ev, fmt.Sprintf("%s step %s %s %s%s",
			displayName(e.Result.Info.Scenario), e.Result.Info.Position, e.Result.Info.Name,
			e.Result.Status, detailSuffix(e.Result.Detail)))
	case notify.StepComment:
		err = l.appendAll(e.Step.Scenario.RunID, ev, fmt.Sprintf("%s step %s comment: %s",
			displayName(e.Step.Scenario), e.Step.Position, e.Comment))
	case notify.ScenarioFinished:
		err = l.finishScenario(ev, e.Result)
	case notify.TestRunFinished:
		err = l.finishRun(ev, e.Result)
	}
	if err != nil {
		l.log.Warn("Failed to write scenario run log", "event", ev.Kind(), "err", err)
	}
}

func (l *FileLogger) startRun(e notify.TestRunStarting) error {
	dir, err := l.GetDirectoryForRunID(e.RunID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	l.log.Info("Writing scenario run logs", "dir", dir)
	return l.appendAll(e.RunID, e, "run starting")
}

func (l *FileLogger) finishScenario(ev notify.Event, result *types.ScenarioResult) error {
	runID := result.Info.RunID
	line := fmt.Sprintf("scenario %s finished %s%s", displayName(result.Info), result.Status, detailSuffix(result.Detail))
	if err := l.appendAll(runID, ev, line); err != nil {
		return err
	}

	path, err := l.GetScenarioFileForRunID(runID, result.Info, result.Status)
	if err != nil {
		return err
	}
	return l.write(path, FormatScenario(result))
}

func (l *FileLogger) finishRun(ev notify.Event, result *types.TestRunResult) error {
	defer l.closeAllWriters()

	if err := l.appendAll(result.RunID, ev, fmt.Sprintf("run finished %s", result.Status())); err != nil {
		return err
	}
	path, err := l.GetSummaryFileForRunID(result.RunID)
	if err != nil {
		return err
	}
	return l.write(path, FormatSummary(result))
}

func (l *FileLogger) appendAll(runID string, ev notify.Event, line string) error {
	path, err := l.GetAllLogsFileForRunID(runID)
	if err != nil {
		return err
	}
	return l.write(path, fmt.Sprintf("[+%s] %s\n", ev.Time().Offset, line))
}

func (l *FileLogger) write(path, content string) error {
	writer, err := l.getAsyncWriter(path)
	if err != nil {
		return err
	}
	return writer.Write([]byte(content))
}

func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

// Close flushes and closes every open writer.
func (l *FileLogger) Close() error {
	l.closeAllWriters()
	return nil
}

func (l *FileLogger) closeAllWriters() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, writer := range l.asyncWriters {
		_ = writer.Close()
	}
	l.asyncWriters = make(map[string]*AsyncFile)
}

// FormatScenario renders a scenario result with its step tree, comments and errors.
func FormatScenario(result *types.ScenarioResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scenario: %s\n", displayName(result.Info))
	fmt.Fprintf(&b, "Status:   %s\n", result.Status)
	fmt.Fprintf(&b, "Duration: %s\n", result.ExecutionTime.Duration)
	if result.WorkerID != 0 {
		fmt.Fprintf(&b, "Worker:   %d\n", result.WorkerID)
	}
	if result.Detail != "" {
		fmt.Fprintf(&b, "Detail:\n%s\n", indent(result.Detail, "  "))
	}
	if len(result.Steps) > 0 {
		b.WriteString("Steps:\n")
		writeSteps(&b, result.Steps, 1)
	}
	if result.Err != nil {
		fmt.Fprintf(&b, "Error: %v\n", result.Err)
	}
	return b.String()
}

func writeSteps(b *strings.Builder, steps []*types.StepResult, depth int) {
	pad := strings.Repeat("  ", depth)
	for _, s := range steps {
		fmt.Fprintf(b, "%s%s %s [%s]%s\n", pad, s.Info.Position, s.Info.Name, s.Status, detailSuffix(s.Detail))
		for _, c := range s.Comments {
			fmt.Fprintf(b, "%s  # %s\n", pad, c)
		}
		writeSteps(b, s.SubSteps, depth+1)
	}
}

// FormatSummary renders the run totals and the detail of every failed scenario.
func FormatSummary(result *types.TestRunResult) string {
	stats := result.ScenarioStats
	var b strings.Builder
	fmt.Fprintf(&b, "Run:       %s\n", result.RunID)
	fmt.Fprintf(&b, "Status:    %s\n", result.Status())
	fmt.Fprintf(&b, "Duration:  %s\n", result.ExecutionTime.Duration)
	fmt.Fprintf(&b, "Scenarios: %d (passed %d, bypassed %d, ignored %d, failed %d, not run %d)\n",
		stats.Total, stats.Passed, stats.Bypassed, stats.Ignored, stats.Failed, stats.NotRun)
	fmt.Fprintf(&b, "Steps:     %d (passed %d, bypassed %d, ignored %d, failed %d, not run %d)\n",
		result.StepStats.Total, result.StepStats.Passed, result.StepStats.Bypassed,
		result.StepStats.Ignored, result.StepStats.Failed, result.StepStats.NotRun)

	var failed []*types.ScenarioResult
	for _, s := range result.Scenarios() {
		if s.Status == types.StatusFailed {
			failed = append(failed, s)
		}
	}
	if len(failed) > 0 {
		b.WriteString("\nFailed scenarios:\n")
		for _, s := range failed {
			fmt.Fprintf(&b, "  %s\n%s\n", displayName(s.Info), indent(s.Detail, "    "))
		}
	}
	return b.String()
}

func displayName(info types.ScenarioInfo) string {
	if len(info.Arguments) == 0 {
		return info.ID()
	}
	args := make([]string, len(info.Arguments))
	for i, a := range info.Arguments {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", info.ID(), strings.Join(args, ", "))
}

func detailSuffix(detail string) string {
	if detail == "" {
		return ""
	}
	return ": " + strings.ReplaceAll(detail, "\n", "; ")
}

func indent(s, pad string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = pad + line
	}
	return strings.Join(lines, "\n")
}

// scenarioFilename converts a scenario into a filename unique within its run.
func scenarioFilename(info types.ScenarioInfo) string {
	return safeFilename(displayName(info)) + ".log"
}

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
		"(", "_", ")", "", ",", "",
	)
	return replacer.Replace(s)
}
