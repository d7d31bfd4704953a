package orchestrator

import "fmt"

// State is the lifecycle state of the capture pipeline.
type State int

const (
	// StateIdle means no session exists.
	StateIdle State = iota
	// StateStarting means a session was requested but capture has not
	// confirmed yet.
	StateStarting
	// StateListening means the capture pipeline is up and chunks flow.
	StateListening
	// StateError means the session failed. It is transient: the
	// orchestrator forces a stop immediately, landing back in Idle.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateEvent is an input to the session state machine.
type StateEvent int

const (
	// EventStartRequested begins a new session.
	EventStartRequested StateEvent = iota
	// EventCaptureStarted confirms the capture pipeline came up.
	EventCaptureStarted
	// EventCaptureFailed reports a fatal session failure.
	EventCaptureFailed
	// EventStopRequested tears the session down.
	EventStopRequested
)

func (e StateEvent) String() string {
	switch e {
	case EventStartRequested:
		return "start_requested"
	case EventCaptureStarted:
		return "capture_started"
	case EventCaptureFailed:
		return "capture_failed"
	case EventStopRequested:
		return "stop_requested"
	default:
		return fmt.Sprintf("StateEvent(%d)", int(e))
	}
}

// Transition returns the state that follows s when ev arrives. Invalid
// combinations return an error and the input state unchanged, so a
// confused caller can never corrupt the session lifecycle.
func Transition(s State, ev StateEvent) (State, error) {
	switch s {
	case StateIdle:
		if ev == EventStartRequested {
			return StateStarting, nil
		}
	case StateStarting:
		switch ev {
		case EventCaptureStarted:
			return StateListening, nil
		case EventCaptureFailed:
			return StateError, nil
		case EventStopRequested:
			return StateIdle, nil
		}
	case StateListening:
		switch ev {
		case EventCaptureFailed:
			return StateError, nil
		case EventStopRequested:
			return StateIdle, nil
		}
	case StateError:
		if ev == EventStopRequested {
			return StateIdle, nil
		}
	}
	return s, fmt.Errorf("orchestrator: invalid transition: %s on %s", ev, s)
}

// Indicator is the coarse pipeline status surfaced to user interfaces.
type Indicator string

const (
	IndicatorIdle    Indicator = "idle"
	IndicatorWorking Indicator = "working"
	IndicatorActive  Indicator = "active"
	IndicatorError   Indicator = "error"
)
