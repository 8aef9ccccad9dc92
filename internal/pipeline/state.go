package pipeline

import (
	"time"
)

// State is a step of one orchestration run.
type State int

const (
	Idle State = iota
	Transcribing
	Routing
	Translating
	Synthesizing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Transcribing:
		return "transcribing"
	case Routing:
		return "routing"
	case Translating:
		return "translating"
	case Synthesizing:
		return "synthesizing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transition is emitted each time a run changes state. Err is set only when
// To is Failed.
type Transition struct {
	RequestID string
	From      State
	To        State
	Err       error
	At        time.Time
}

// Observer receives transitions synchronously, in order, on the goroutine
// running the request.
type Observer interface {
	OnTransition(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

func (f ObserverFunc) OnTransition(t Transition) { f(t) }
