package metrics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-scenario/notify"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

const (
	MetricsNamespace = "op_scenario"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	scenariosTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "scenarios_total",
		Help:      "Count of finished scenarios by feature and status",
	}, []string{
		"feature",
		"status",
	})

	scenarioDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "scenario_duration_seconds",
		Help:      "Duration of scenarios",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{
		"feature",
	})

	scenariosRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "scenarios_running",
		Help:      "Number of scenarios currently running",
	})

	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "steps_total",
		Help:      "Count of finished steps by status",
	}, []string{
		"status",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of test runs by status",
	}, []string{
		"status",
	})

	lastRunScenarios = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "last_run_scenarios",
		Help:      "Scenarios of the last test run by status",
	}, []string{
		"status",
	})

	lastRunDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "last_run_duration_seconds",
		Help:      "Duration of the last test run",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordScenarioStarted() {
	scenariosRunning.Inc()
}

func RecordScenario(result *types.ScenarioResult) {
	if Debug {
		log.Debug("metric inc",
			"m", "scenarios_total",
			"feature", result.Info.Feature.Name,
			"scenario", result.Info.Name,
			"status", result.Status)
	}
	scenariosRunning.Dec()
	scenariosTotal.WithLabelValues(result.Info.Feature.Name, result.Status.String()).Inc()
	scenarioDuration.WithLabelValues(result.Info.Feature.Name).Observe(result.ExecutionTime.Duration.Seconds())
}

func RecordStep(status types.ExecutionStatus) {
	stepsTotal.WithLabelValues(status.String()).Inc()
}

func RecordRun(result *types.TestRunResult) {
	runsTotal.WithLabelValues(result.Status().String()).Inc()
	stats := result.ScenarioStats
	for status, count := range map[types.ExecutionStatus]int{
		types.StatusNotRun:   stats.NotRun,
		types.StatusPassed:   stats.Passed,
		types.StatusBypassed: stats.Bypassed,
		types.StatusIgnored:  stats.Ignored,
		types.StatusFailed:   stats.Failed,
	} {
		lastRunScenarios.WithLabelValues(status.String()).Set(float64(count))
	}
	lastRunDuration.Set(result.ExecutionTime.Duration.Seconds())
}

// Notifier records lifecycle events as metrics.
type Notifier struct{}

func NewNotifier() *Notifier {
	return &Notifier{}
}

func (*Notifier) Notify(ev notify.Event) {
	switch e := ev.(type) {
	case notify.ScenarioStarting:
		RecordScenarioStarted()
	case notify.ScenarioFinished:
		RecordScenario(e.Result)
		if e.Result.Status == types.StatusFailed {
			RecordErrorDetails("scenario", e.Result.Err)
		}
	case notify.StepFinished:
		RecordStep(e.Result.Status)
	case notify.TestRunFinished:
		RecordRun(e.Result)
	}
}
