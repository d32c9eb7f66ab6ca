package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var warnTypes = map[Type]bool{
	SensorLost:       true,
	MonitorStartMiss: true,
	BetFailed:        true,
	CashoutSkipped:   true,
	SignalRejected:   true,
	PhaseFailed:      true,
	BalanceMismatch:  true,
	SessionStopped:   true,
}

var debugTypes = map[Type]bool{
	MultiplierIncrease: true,
}

// LogSubscriber writes every event as a logrus entry.
type LogSubscriber struct {
	Logger *logrus.Logger
}

func (l LogSubscriber) Handle(e Event) {
	logger := l.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithField("source", e.Source).WithField("event", string(e.Type))
	if len(e.Fields) > 0 {
		entry = entry.WithFields(logrus.Fields(e.Fields))
	}
	switch {
	case warnTypes[e.Type]:
		entry.Warn("⚠️  " + string(e.Type))
	case debugTypes[e.Type]:
		entry.Debug(string(e.Type))
	default:
		entry.Info(string(e.Type))
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *Recorder) Count(t Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
