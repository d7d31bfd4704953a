package orchestrator

import "testing"

func TestTransitionValid(t *testing.T) {
	tests := []struct {
		name string
		from State
		ev   StateEvent
		want State
	}{
		{"start from idle", StateIdle, EventStartRequested, StateStarting},
		{"capture confirms start", StateStarting, EventCaptureStarted, StateListening},
		{"failure while starting", StateStarting, EventCaptureFailed, StateError},
		{"stop while starting", StateStarting, EventStopRequested, StateIdle},
		{"failure while listening", StateListening, EventCaptureFailed, StateError},
		{"stop while listening", StateListening, EventStopRequested, StateIdle},
		{"forced stop after error", StateError, EventStopRequested, StateIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.from, tt.ev)
			if err != nil {
				t.Fatalf("Transition(%s, %s): %v", tt.from, tt.ev, err)
			}
			if got != tt.want {
				t.Errorf("Transition(%s, %s) = %s, want %s", tt.from, tt.ev, got, tt.want)
			}
		})
	}
}

func TestTransitionInvalid(t *testing.T) {
	states := []State{StateIdle, StateStarting, StateListening, StateError}
	events := []StateEvent{EventStartRequested, EventCaptureStarted, EventCaptureFailed, EventStopRequested}

	allowed := map[State]map[StateEvent]bool{
		StateIdle:      {EventStartRequested: true},
		StateStarting:  {EventCaptureStarted: true, EventCaptureFailed: true, EventStopRequested: true},
		StateListening: {EventCaptureFailed: true, EventStopRequested: true},
		StateError:     {EventStopRequested: true},
	}

	for _, s := range states {
		for _, ev := range events {
			if allowed[s][ev] {
				continue
			}
			got, err := Transition(s, ev)
			if err == nil {
				t.Errorf("Transition(%s, %s): expected rejection", s, ev)
			}
			if got != s {
				t.Errorf("Transition(%s, %s) changed state to %s", s, ev, got)
			}
		}
	}
}
