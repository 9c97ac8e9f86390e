package notify

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Notifier consumes lifecycle events. Implementations must be safe for concurrent use:
// scenarios running in parallel notify from their own goroutines.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(ev Event)

func (f NotifierFunc) Notify(ev Event) {
	f(ev)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// Nop returns a notifier that drops every event.
func Nop() Notifier {
	return nopNotifier{}
}

type fanout []Notifier

func (f fanout) Notify(ev Event) {
	for _, n := range f {
		n.Notify(ev)
	}
}

// Fanout delivers every event to each notifier in order. Nil notifiers are skipped.
func Fanout(notifiers ...Notifier) Notifier {
	var out fanout
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	switch len(out) {
	case 0:
		return Nop()
	case 1:
		return out[0]
	default:
		return out
	}
}

// LogNotifier writes each event to a structured logger. Step level events are logged at debug.
type LogNotifier struct {
	log log.Logger
}

// NewLogNotifier creates a notifier logging through logger.
func NewLogNotifier(logger log.Logger) *LogNotifier {
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) Notify(ev Event) {
	offset := ev.Time().Offset
	switch e := ev.(type) {
	case FeatureStarting:
		n.log.Info("Feature starting", "feature", e.Feature.Name, "offset", offset)
	case FeatureFinished:
		n.log.Info("Feature finished", "feature", e.Result.Info.Name, "status", e.Result.Status(), "offset", offset)
	case ScenarioStarting:
		n.log.Info("Scenario starting", "scenario", e.Scenario.ID(), "offset", offset)
	case ScenarioFinished:
		r := e.Result
		if r.Detail != "" {
			n.log.Info("Scenario finished", "scenario", r.Info.ID(), "status", r.Status,
				"duration", r.ExecutionTime.Duration, "detail", r.Detail)
		} else {
			n.log.Info("Scenario finished", "scenario", r.Info.ID(), "status", r.Status,
				"duration", r.ExecutionTime.Duration)
		}
	case StepStarting:
		n.log.Debug("Step starting", "scenario", e.Step.Scenario.ID(), "step", e.Step.Position, "name", e.Step.Name)
	case StepFinished:
		n.log.Debug("Step finished", "scenario", e.Result.Info.Scenario.ID(), "step", e.Result.Info.Position,
			"status", e.Result.Status, "duration", e.Result.ExecutionTime.Duration)
	case StepComment:
		n.log.Info("Step comment", "scenario", e.Step.Scenario.ID(), "step", e.Step.Position, "comment", e.Comment)
	}
}

// Recorder keeps every event it receives. It is meant for tests and for collaborators that
// replay the event sequence after a run.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events in arrival order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of the recorded events in arrival order.
func (r *Recorder) Kinds() []string {
	events := r.Events()
	kinds := make([]string, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind()
	}
	return kinds
}
